package agent

// EventType labels one streaming event.
type EventType string

const (
	// EventClassification reports the resolved intent before any tool runs.
	EventClassification EventType = "classification"
	// EventText carries an incremental chunk of assistant text.
	EventText EventType = "text"
	// EventToolStart announces a tool call about to execute.
	EventToolStart EventType = "tool_start"
	// EventToolResult carries the outcome of a finished tool call.
	EventToolResult EventType = "tool_result"
	// EventApprovalRequired announces a plan awaiting user approval.
	EventApprovalRequired EventType = "approval_required"
	// EventDone is the successful terminal event with the full response.
	EventDone EventType = "done"
	// EventError is the failure terminal event.
	EventError EventType = "error"
)

// Event is one element of a streaming response. Consumers receive exactly
// one terminal event (done or error) per request, always last.
type Event struct {
	Type    EventType      `json:"type"`
	Content string         `json:"content,omitempty"`
	Tool    string         `json:"tool,omitempty"`
	PlanID  string         `json:"plan_id,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Err     string         `json:"error,omitempty"`
}

// IsTerminal reports whether the event ends the stream.
func (e Event) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
