// Package tools provides the tool framework and domain tools for the agent.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Result is the structured outcome of a tool execution. Expected business
// failures set Success=false with an ErrorCode; only infrastructure
// failures surface as Go errors.
type Result struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	// Cached is set by the idempotent executor when a prior result was
	// returned instead of re-running the handler.
	Cached bool `json:"already_applied,omitempty"`
}

// JSON renders the result for feeding back to the model as a tool message.
func (r *Result) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(b)
}

// Meta carries per-tool execution metadata consulted by the policy gate
// and the idempotent executor.
type Meta struct {
	Domain    string
	Timeout   time.Duration
	Retryable bool
	// Write marks tools with side effects; plan/ask modes gate these.
	Write bool
	// Dangerous marks irreversible or money-moving tools; always gated.
	Dangerous bool
}

// Tool is the interface that all agent tools implement.
type Tool interface {
	// Name returns the tool identifier used in function calls.
	Name() string
	// Description returns a human-readable description for the LLM.
	Description() string
	// Parameters returns the JSON Schema for tool parameters.
	Parameters() map[string]any
	// Meta returns the execution metadata for this tool.
	Meta() Meta
	// Execute runs the tool with validated parameters.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// dangerousKeywords is the fallback classification for tools registered
// without explicit Meta. Substring match against the tool name only.
var dangerousKeywords = []string{"pause", "delete", "budget", "bulk", "mass"}

// NameLooksDangerous reports whether a tool name matches the fallback
// dangerous keyword list.
func NameLooksDangerous(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range dangerousKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ValidationError reports that tool arguments failed their schema check.
// It is fed back to the model as a tool-result error so it can retry.
type ValidationError struct {
	Tool   string
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Issues, "; "))
}

// Registry manages tool registration, validation, and lookup.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	if _, exists := r.tools[tool.Name()]; !exists {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// MetaFor returns the metadata for a named tool. Unregistered names get a
// zero Meta with Dangerous derived from the keyword fallback.
func (r *Registry) MetaFor(name string) Meta {
	if tool, ok := r.tools[name]; ok {
		return tool.Meta()
	}
	return Meta{Dangerous: NameLooksDangerous(name)}
}

// List returns all registered tools in registration order.
func (r *Registry) List() []Tool {
	result := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tools[name])
	}
	return result
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string{}, r.order...)
}

// Validate checks params against the tool's JSON schema.
func (r *Registry) Validate(name string, params map[string]any) error {
	tool, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("tool not found: %s", name)
	}

	schemaLoader := gojsonschema.NewGoLoader(tool.Parameters())
	docLoader := gojsonschema.NewGoLoader(params)
	res, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("validate %s: %w", name, err)
	}
	if !res.Valid() {
		verr := &ValidationError{Tool: name}
		for _, issue := range res.Errors() {
			verr.Issues = append(verr.Issues, issue.String())
		}
		return verr
	}
	return nil
}

// Definitions returns tool definitions in OpenAI format, restricted to the
// allowed set. A nil allowed slice means no restriction.
func (r *Registry) Definitions(allowed []string) []map[string]any {
	var allowSet map[string]bool
	if allowed != nil {
		allowSet = make(map[string]bool, len(allowed))
		for _, name := range allowed {
			allowSet[name] = true
		}
	}

	result := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		if allowSet != nil && !allowSet[name] {
			continue
		}
		tool := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Name(),
				"description": tool.Description(),
				"parameters":  tool.Parameters(),
			},
		})
	}
	return result
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetFloat extracts a numeric parameter with a default value.
func GetFloat(params map[string]any, key string, defaultVal float64) float64 {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return defaultVal
}
