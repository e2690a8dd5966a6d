// Package agent implements the request-to-action pipeline: classify the
// message, resolve a policy, gather required inputs, run the bounded tool
// loop, and gate risky actions behind approval plans.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adpilot-ai/adpilot/internal/approval"
	"github.com/adpilot-ai/adpilot/internal/bus"
	"github.com/adpilot-ai/adpilot/internal/clarify"
	"github.com/adpilot-ai/adpilot/internal/executor"
	"github.com/adpilot-ai/adpilot/internal/intent"
	"github.com/adpilot-ai/adpilot/internal/policy"
	"github.com/adpilot-ai/adpilot/internal/provider"
	"github.com/adpilot-ai/adpilot/internal/store"
	"github.com/adpilot-ai/adpilot/internal/tier"
	"github.com/adpilot-ai/adpilot/internal/tools"
	"github.com/adpilot-ai/adpilot/internal/trace"
)

// Execution modes.
const (
	// ModeAuto executes read and write tools directly; only dangerous
	// tools require approval.
	ModeAuto = "auto"
	// ModePlan queues every write tool as a pending plan.
	ModePlan = "plan"
	// ModeAsk queues every tool call, reads included, as a pending plan.
	ModeAsk = "ask"
)

const busyMessage = "I'm still working on your previous request. Give me a moment and try again."

const exhaustedFallback = "I hit the limit of tool calls for this request before finishing. Here is what I have so far; ask me to continue for the rest."

// Options configures the agent loop.
type Options struct {
	Provider            provider.LLMProvider
	Model               string
	MaxIterations       int
	MaxStreamIterations int
	StreamTimeout       time.Duration

	Registry   *tools.Registry
	Classifier *intent.Classifier
	Policies   *policy.Engine
	Tiers      *tier.Manager
	Executor   *executor.Executor
	Plans      *approval.Manager
	Store      *store.Store
	Recorder   trace.Recorder
	Bus        *bus.MessageBus

	DefaultMode  string
	LockStale    time.Duration
	Integrations intent.Integrations
	AccountIDs   []string
	Logger       *slog.Logger
}

// Loop is the agent core. One Loop serves all conversations; per
// conversation handling is serialized through the lock table.
type Loop struct {
	provider            provider.LLMProvider
	model               string
	maxIterations       int
	maxStreamIterations int
	streamTimeout       time.Duration

	registry   *tools.Registry
	classifier *intent.Classifier
	policies   *policy.Engine
	tiers      *tier.Manager
	exec       *executor.Executor
	plans      *approval.Manager
	store      *store.Store
	recorder   trace.Recorder
	bus        *bus.MessageBus

	defaultMode  string
	integrations intent.Integrations
	accountIDs   []string
	locks        *lockTable
	logger       *slog.Logger
}

// NewLoop creates the agent loop from options, applying defaults for
// anything unset.
func NewLoop(opts Options) *Loop {
	model := opts.Model
	if model == "" && opts.Provider != nil {
		model = opts.Provider.DefaultModel()
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = 6
	}
	maxStreamIter := opts.MaxStreamIterations
	if maxStreamIter <= 0 {
		maxStreamIter = maxIter
	}
	streamTimeout := opts.StreamTimeout
	if streamTimeout <= 0 {
		streamTimeout = 120 * time.Second
	}
	mode := opts.DefaultMode
	if mode == "" {
		mode = ModeAuto
	}
	rec := opts.Recorder
	if rec == nil {
		rec = trace.NopRecorder{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		provider:            opts.Provider,
		model:               model,
		maxIterations:       maxIter,
		maxStreamIterations: maxStreamIter,
		streamTimeout:       streamTimeout,
		registry:            opts.Registry,
		classifier:          opts.Classifier,
		policies:            opts.Policies,
		tiers:               opts.Tiers,
		exec:                opts.Executor,
		plans:               opts.Plans,
		store:               opts.Store,
		recorder:            rec,
		bus:                 opts.Bus,
		defaultMode:         mode,
		integrations:        opts.Integrations,
		accountIDs:          opts.AccountIDs,
		locks:               newLockTable(opts.LockStale),
		logger:              logger,
	}
}

// Request is one user message to process.
type Request struct {
	ConversationID string
	Channel        string
	BusinessID     string
	UserID         string
	Mode           string
	Content        string
	TraceID        string
}

// Response is the synchronous result of a processed request.
type Response struct {
	Content        string
	TraceID        string
	Classification intent.Classification
	Plans          []*store.Plan
	Executed       []ExecutedAction
	NextSteps      []string
}

// ExecutedAction is the caller-visible record of one tool call that ran
// during the request, gated plans excluded.
type ExecutedAction struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Success   bool           `json:"success"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	LatencyMS int64          `json:"latency_ms"`
	Cached    bool           `json:"cached,omitempty"`
}

// loopResult carries everything the tool loop produced. It is non-nil even
// when the loop errors, so actions executed before the failure survive.
type loopResult struct {
	content string
	plans   []*store.Plan
	actions []ExecutedAction
	signals tier.Signals
}

// Run consumes inbound messages from the bus until the context ends.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("agent loop started", "mode", l.defaultMode, "model", l.model)
	for {
		msg, err := l.bus.ConsumeInbound(ctx)
		if err != nil {
			return err
		}
		go l.handleInbound(ctx, msg)
	}
}

func (l *Loop) handleInbound(ctx context.Context, msg *bus.InboundMessage) {
	resp, err := l.Process(ctx, Request{
		ConversationID: msg.ConversationID,
		Channel:        msg.Channel,
		BusinessID:     msg.BusinessID,
		UserID:         msg.SenderID,
		Mode:           msg.Mode,
		Content:        msg.Content,
		TraceID:        msg.TraceID,
	})
	out := &bus.OutboundMessage{
		Channel:        msg.Channel,
		ConversationID: msg.ConversationID,
		TraceID:        msg.TraceID,
	}
	if err != nil {
		l.logger.Error("request failed", "conversation", msg.ConversationID, "error", err)
		out.Content = "Something went wrong handling that request. Please try again."
	} else {
		out.Content = resp.Content
		if len(resp.Plans) > 0 {
			out.PlanID = resp.Plans[0].PlanID
		}
	}
	l.bus.PublishOutbound(out)
}

// Process handles one request synchronously and returns the final answer.
// When the loop fails mid-flight the returned response is still non-nil
// and carries the actions executed before the failure, alongside the error.
func (l *Loop) Process(ctx context.Context, req Request) (*Response, error) {
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}
	token, ok := l.locks.Acquire(req.ConversationID)
	if !ok {
		return &Response{Content: busyMessage, TraceID: req.TraceID}, nil
	}
	defer l.locks.Release(req.ConversationID, token)

	t, err := l.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if t.early != "" {
		return l.finish(ctx, t, &loopResult{content: t.early}, false)
	}

	res, err := l.runToolLoop(ctx, t, nil)
	if err != nil {
		return &Response{
			TraceID:        req.TraceID,
			Classification: t.cls,
			Plans:          res.plans,
			Executed:       res.actions,
		}, err
	}
	return l.finish(ctx, t, res, true)
}

// turn carries the per-request state assembled before the tool loop.
type turn struct {
	req       Request
	conv      *store.Conversation
	biz       intent.BusinessContext
	mode      string
	cls       intent.Classification
	pol       policy.Policy
	answers   map[string]string
	tierState *tier.State
	// userContent is the message driving the request: the original one
	// when this turn only supplied clarifying answers.
	userContent string
	// early short-circuits the tool loop with a direct reply.
	early string
}

func (l *Loop) prepare(ctx context.Context, req Request) (*turn, error) {
	conv, err := l.store.UpsertConversation(req.ConversationID, req.Channel, req.BusinessID, req.UserID, l.defaultMode)
	if err != nil {
		return nil, err
	}
	mode := firstNonEmpty(req.Mode, conv.Mode, l.defaultMode)
	biz := l.businessContext(req)

	if err := l.store.AppendMessage(conv.ID, "user", req.Content, req.TraceID); err != nil {
		l.logger.Warn("user message not persisted", "conversation", conv.ID, "error", err)
	}

	t := &turn{req: req, conv: conv, biz: biz, mode: mode, userContent: req.Content}

	// Resume a pending clarifying exchange: classify against the original
	// request so a short answer like "last 7 days" keeps its intent.
	var clarState clarify.State
	if len(conv.ClarifyState) > 0 {
		if err := json.Unmarshal(conv.ClarifyState, &clarState); err != nil {
			l.logger.Warn("clarify state unreadable, resetting", "conversation", conv.ID, "error", err)
			clarState = clarify.State{}
		}
	}
	classifyInput := req.Content
	if clarState.Required && !clarState.Complete && clarState.OriginalMessage != "" {
		classifyInput = clarState.OriginalMessage
		t.userContent = clarState.OriginalMessage
	}

	t.cls = l.classifier.Classify(ctx, classifyInput, biz)
	l.record(ctx, t, trace.KindClassification, string(t.cls.Intent), map[string]any{
		"domains":    t.cls.Domains,
		"confidence": t.cls.Confidence,
		"source":     t.cls.Source,
	})

	t.pol = l.policies.Resolve(t.cls.Intent, t.cls.Domains, biz)
	if t.pol.PreflightFailed {
		l.record(ctx, t, trace.KindPolicy, "preflight_failed", map[string]any{"reason": t.pol.PreflightError})
		t.early = t.pol.PreflightError
		return t, nil
	}

	res := clarify.Evaluate(req.Content, t.pol, biz, clarState.Answers)
	if res.NeedsClarifying {
		// The unknown-intent question is rhetorical: the follow-up message
		// is a fresh request, so no state is persisted for it.
		if t.cls.Intent != intent.IntentUnknown {
			next := clarify.State{
				Required:        true,
				Questions:       res.Questions,
				Answers:         res.Answers,
				OriginalMessage: t.userContent,
			}
			raw, _ := json.Marshal(next)
			if err := l.store.SaveClarifyState(conv.ID, raw); err != nil {
				l.logger.Warn("clarify state not persisted", "conversation", conv.ID, "error", err)
			}
		}
		t.early = res.Prompt
		return t, nil
	}
	t.answers = res.Answers
	if clarState.Required {
		if err := l.store.SaveClarifyState(conv.ID, nil); err != nil {
			l.logger.Warn("clarify state not cleared", "conversation", conv.ID, "error", err)
		}
	}

	// Playbook intents run under the conversation's current tier, which
	// narrows the allowed tools and budget.
	if t.pol.PlaybookID != "" {
		t.tierState = l.loadTierState(conv, t.pol.PlaybookID)
		if tpol, err := l.policies.ResolveTier(t.pol.PlaybookID, t.tierState.Current, biz); err == nil {
			t.pol.AllowedTools = tpol.AllowedTools
			t.pol.MaxToolCalls = tpol.MaxToolCalls
			t.pol.DangerousPolicy = tpol.DangerousPolicy
		} else {
			l.logger.Warn("tier policy unavailable", "playbook", t.pol.PlaybookID, "tier", t.tierState.Current, "error", err)
		}
	}
	return t, nil
}

func (l *Loop) loadTierState(conv *store.Conversation, playbookID string) *tier.State {
	if len(conv.TierState) > 0 {
		var s tier.State
		if err := json.Unmarshal(conv.TierState, &s); err == nil && s.PlaybookID == playbookID {
			return &s
		}
	}
	return l.tiers.CreateInitialState(playbookID)
}

// finish advances tier state, persists the assistant turn, and assembles
// the response.
func (l *Loop) finish(ctx context.Context, t *turn, res *loopResult, toolsRan bool) (*Response, error) {
	content, signals := res.content, res.signals
	var nextSteps []string
	if t.tierState != nil && toolsRan {
		if esc := l.tiers.CheckAutoEscalation(t.tierState, signals); esc.Allowed {
			if err := l.tiers.TransitionEscalated(t.tierState, tier.TierActions, signals.Meta()); err == nil {
				l.record(ctx, t, trace.KindPolicy, "tier_escalated", map[string]any{"reason": esc.Reason})
				content += "\n\nThis needs attention now: " + esc.Reason + ". Corrective actions are available."
			}
		} else if next, ok := nextTier(t.tierState.Current); ok {
			if err := l.tiers.TransitionTo(t.tierState, next, signals.Meta()); err != nil {
				l.logger.Warn("tier transition failed", "from", t.tierState.Current, "to", next, "error", err)
			}
		}
		nextSteps = l.tiers.AvailableNextSteps(t.tierState, t.biz)
		raw, _ := json.Marshal(t.tierState)
		if err := l.store.SaveTierState(t.conv.ID, raw); err != nil {
			l.logger.Warn("tier state not persisted", "conversation", t.conv.ID, "error", err)
		}
	}

	if content == "" {
		content = exhaustedFallback
	}
	if err := l.store.AppendMessage(t.conv.ID, "assistant", content, t.req.TraceID); err != nil {
		l.logger.Warn("assistant message not persisted", "conversation", t.conv.ID, "error", err)
	}
	l.record(ctx, t, trace.KindResponse, "response", map[string]any{
		"length":  len(content),
		"plans":   len(res.plans),
		"actions": len(res.actions),
	})

	return &Response{
		Content:        content,
		TraceID:        t.req.TraceID,
		Classification: t.cls,
		Plans:          res.plans,
		Executed:       res.actions,
		NextSteps:      nextSteps,
	}, nil
}

func nextTier(current tier.Tier) (tier.Tier, bool) {
	switch current {
	case tier.TierSnapshot:
		return tier.TierDrilldown, true
	case tier.TierDrilldown:
		return tier.TierActions, true
	}
	return "", false
}

// runToolLoop drives the LLM conversation with bounded tool execution.
// emit is optional; when set, streaming events are delivered through it.
// The returned loopResult is non-nil on every path, including errors.
func (l *Loop) runToolLoop(ctx context.Context, t *turn, emit func(Event) bool) (*loopResult, error) {
	messages := l.buildMessages(t)
	budget := t.pol.MaxToolCalls
	used := 0
	res := &loopResult{}

	toolDefs := l.buildToolDefinitions(t.pol.AllowedTools)
	if budget <= 0 {
		toolDefs = nil
	}

	for i := 0; i < l.maxIterations; i++ {
		resp, err := l.chat(ctx, messages, toolDefs, emit)
		if err != nil {
			return res, fmt.Errorf("LLM call failed: %w", err)
		}
		if len(resp.ToolCalls) == 0 {
			res.content = resp.Content
			return res, nil
		}

		messages = append(messages, provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		results := l.executeBatch(ctx, t, resp.ToolCalls, budget, &used, res, emit)
		messages = append(messages, results...)

		if used >= budget {
			// Budget spent: the next call gets no tools, which forces a
			// final textual answer.
			toolDefs = nil
		}
	}

	final, err := l.chat(ctx, append(messages, provider.Message{
		Role:    "user",
		Content: "Summarize what you found and what remains to be done. Do not call any tools.",
	}), nil, emit)
	if err != nil || final.Content == "" {
		res.content = exhaustedFallback
		return res, nil
	}
	res.content = final.Content
	return res, nil
}

// chat performs one model call, streaming deltas through emit when set.
func (l *Loop) chat(ctx context.Context, messages []provider.Message, toolDefs []provider.ToolDefinition, emit func(Event) bool) (*provider.ChatResponse, error) {
	req := &provider.ChatRequest{
		Messages:    messages,
		Tools:       toolDefs,
		Model:       l.model,
		MaxTokens:   2048,
		Temperature: 0.4,
	}
	if emit == nil {
		return l.provider.Chat(ctx, req)
	}

	stream, err := l.provider.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := &provider.ChatResponse{}
	var content strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		if chunk.ContentDelta != "" {
			content.WriteString(chunk.ContentDelta)
			if !emit(Event{Type: EventText, Content: chunk.ContentDelta}) {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return nil, context.Canceled
			}
		}
		if chunk.Done {
			resp.ToolCalls = chunk.ToolCalls
			resp.FinishReason = chunk.FinishReason
			if chunk.Usage != nil {
				resp.Usage = *chunk.Usage
			}
		}
	}
	resp.Content = content.String()
	return resp, nil
}

// executeBatch runs one round of tool calls. Read-only calls fan out
// concurrently; writes stay sequential in call order. Gated calls from the
// round are collected into a single pending plan, one step per call.
func (l *Loop) executeBatch(ctx context.Context, t *turn, calls []provider.ToolCall, budget int, used *int, res *loopResult, emit func(Event) bool) []provider.Message {
	type outcome struct {
		content string
		data    map[string]any
		action  *ExecutedAction
	}
	outcomes := make([]outcome, len(calls))
	async := make([]bool, len(calls))
	var gated []int
	var steps []approval.StepSpec
	var wg sync.WaitGroup

	for idx, tc := range calls {
		if *used >= budget {
			outcomes[idx] = outcome{content: `{"success":false,"error":"tool budget exhausted for this request"}`}
			continue
		}
		*used++

		if !t.pol.Allows(tc.Name) {
			l.record(ctx, t, trace.KindPolicy, "tool_denied", map[string]any{"tool": tc.Name})
			outcomes[idx] = outcome{content: fmt.Sprintf(`{"success":false,"error":"tool %s is not permitted for this request"}`, tc.Name)}
			continue
		}

		meta := l.registry.MetaFor(tc.Name)
		if l.needsApproval(meta, t.pol, t.mode) {
			gated = append(gated, idx)
			steps = append(steps, approval.StepSpec{Tool: tc.Name, Arguments: tc.Arguments, Summary: planSummary(tc)})
			continue
		}

		if emit != nil {
			emit(Event{Type: EventToolStart, Tool: tc.Name})
		}
		if meta.Write {
			content, data, action := l.executeTool(ctx, t, tc)
			outcomes[idx] = outcome{content: content, data: data, action: &action}
			if emit != nil {
				emit(Event{Type: EventToolResult, Tool: tc.Name, Content: content})
			}
			continue
		}
		async[idx] = true
		wg.Add(1)
		go func(idx int, tc provider.ToolCall) {
			defer wg.Done()
			content, data, action := l.executeTool(ctx, t, tc)
			outcomes[idx] = outcome{content: content, data: data, action: &action}
		}(idx, tc)
	}
	wg.Wait()

	if len(gated) > 0 {
		plan, err := l.plans.CreateMulti(t.conv.ID, t.req.TraceID, steps)
		if err != nil {
			for _, idx := range gated {
				outcomes[idx] = outcome{content: fmt.Sprintf(`{"success":false,"error":"could not queue approval: %s"}`, err)}
			}
		} else {
			res.plans = append(res.plans, plan)
			l.record(ctx, t, trace.KindApproval, "plan_created", map[string]any{"plan_id": plan.PlanID, "steps": len(steps)})
			for i, idx := range gated {
				tc := calls[idx]
				if emit != nil {
					emit(Event{Type: EventApprovalRequired, Tool: tc.Name, PlanID: plan.PlanID, Content: steps[i].Summary})
				}
				outcomes[idx] = outcome{content: fmt.Sprintf(
					`{"success":false,"pending_approval":true,"plan_id":%q,"step":%d,"message":"queued for user approval, do not retry"}`, plan.PlanID, i)}
			}
		}
	}

	results := make([]provider.Message, 0, len(calls))
	for idx, tc := range calls {
		if emit != nil && async[idx] {
			emit(Event{Type: EventToolResult, Tool: tc.Name, Content: outcomes[idx].content})
		}
		mergeSignals(&res.signals, outcomes[idx].data)
		if outcomes[idx].action != nil {
			res.actions = append(res.actions, *outcomes[idx].action)
		}
		results = append(results, provider.Message{
			Role:       "tool",
			Content:    outcomes[idx].content,
			ToolCallID: tc.ID,
		})
	}
	return results
}

// executeTool runs one call through the idempotent executor and renders
// the result for the model and the caller-facing action record.
func (l *Loop) executeTool(ctx context.Context, t *turn, tc provider.ToolCall) (string, map[string]any, ExecutedAction) {
	start := time.Now()
	result, err := l.exec.Execute(ctx, t.conv.ID, tc.Name, tc.Arguments)
	elapsed := time.Since(start)

	action := ExecutedAction{Tool: tc.Name, Arguments: tc.Arguments, LatencyMS: elapsed.Milliseconds()}
	detail := map[string]any{
		"duration_ms": elapsed.Milliseconds(),
		"error":       err != nil,
	}
	var content string
	var data map[string]any
	switch {
	case err == nil:
		content = result.JSON()
		data = result.Data
		action.Success = result.Success
		action.Message = result.Message
		action.Error = result.Error
		action.Cached = result.Cached
		if note := tools.ResultNote(l.registry.MetaFor(tc.Name).Domain, tc.Name, result); note != "" {
			detail["note"] = note
		}
	default:
		action.Error = err.Error()
		var verr *tools.ValidationError
		var terr *executor.TimeoutError
		switch {
		case errors.As(err, &verr):
			content = fmt.Sprintf(`{"success":false,"error":%q,"error_code":"invalid_arguments"}`, verr.Error())
		case errors.As(err, &terr):
			content = fmt.Sprintf(`{"success":false,"error":%q,"error_code":"timeout"}`, terr.Error())
		default:
			content = fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
		}
	}

	l.record(ctx, t, trace.KindTool, tc.Name, detail)
	l.logger.Debug("tool finished", "tool", tc.Name, "duration_ms", elapsed.Milliseconds(), "error", err != nil)
	return content, data, action
}

func (l *Loop) needsApproval(meta tools.Meta, pol policy.Policy, mode string) bool {
	if mode == ModeAsk {
		return true
	}
	if meta.Dangerous && pol.DangerousPolicy != policy.DangerousAllow {
		return true
	}
	return meta.Write && mode != ModeAuto
}

func mergeSignals(s *tier.Signals, data map[string]any) {
	if data == nil {
		return
	}
	if v, ok := data["health_score"].(float64); ok {
		s.HealthScore = v
	}
	if v, ok := data["spend_delta_pct"].(float64); ok {
		s.SpendDeltaPct = v
	}
	if v, ok := data["anomaly"].(bool); ok && v {
		s.HasAnomaly = true
	}
}

// buildMessages assembles the system prompt, recent history, and the
// current user message.
func (l *Loop) buildMessages(t *turn) []provider.Message {
	messages := []provider.Message{{Role: "system", Content: l.systemPrompt(t)}}

	history, err := l.store.RecentMessages(t.conv.ID, 12)
	if err != nil {
		l.logger.Warn("history unavailable", "conversation", t.conv.ID, "error", err)
	}
	for _, m := range history {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		// The current user message was already persisted; it is appended
		// explicitly below.
		if m.Role == "user" && m.Content == t.req.Content {
			continue
		}
		messages = append(messages, provider.Message{Role: m.Role, Content: m.Content})
	}

	content := t.userContent
	if t.userContent != t.req.Content {
		content = fmt.Sprintf("%s\n(follow-up detail: %s)", t.userContent, t.req.Content)
	}
	return append(messages, provider.Message{Role: "user", Content: content})
}

func (l *Loop) systemPrompt(t *turn) string {
	var sb strings.Builder
	sb.WriteString("You are AdPilot, a business assistant for advertising, CRM, and customer messaging.\n")
	sb.WriteString("Use the provided tools to answer with real data. Never invent metrics.\n")
	fmt.Fprintf(&sb, "Execution mode: %s. Actions with side effects may be queued for user approval; when a tool reports pending_approval, tell the user a plan awaits their confirmation and stop retrying it.\n", t.mode)
	if t.biz.BusinessID != "" {
		fmt.Fprintf(&sb, "Business: %s.", t.biz.BusinessID)
		if len(t.biz.AccountIDs) > 0 {
			fmt.Fprintf(&sb, " Ad accounts: %s.", strings.Join(t.biz.AccountIDs, ", "))
		}
		sb.WriteString("\n")
	}
	if len(t.answers) > 0 {
		sb.WriteString("Confirmed request parameters:\n")
		for field, value := range t.answers {
			fmt.Fprintf(&sb, "- %s: %s\n", field, value)
		}
	}
	if t.tierState != nil {
		fmt.Fprintf(&sb, "Analysis stage: %s. Stay within this stage; deeper analysis unlocks as the conversation progresses.\n", t.tierState.Current)
		if len(t.tierState.SnapshotData) > 0 {
			if snapshot, err := json.Marshal(t.tierState.SnapshotData); err == nil {
				fmt.Fprintf(&sb, "Earlier snapshot findings: %s\n", snapshot)
			}
		}
	}
	return sb.String()
}

func (l *Loop) buildToolDefinitions(allowed []string) []provider.ToolDefinition {
	var allowSet map[string]bool
	if allowed != nil {
		allowSet = make(map[string]bool, len(allowed))
		for _, name := range allowed {
			allowSet[name] = true
		}
	}
	var defs []provider.ToolDefinition
	for _, tool := range l.registry.List() {
		if allowSet != nil && !allowSet[tool.Name()] {
			continue
		}
		defs = append(defs, provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return defs
}

func (l *Loop) businessContext(req Request) intent.BusinessContext {
	return intent.BusinessContext{
		BusinessID:   req.BusinessID,
		UserID:       req.UserID,
		AccountIDs:   l.accountIDs,
		MultiAccount: len(l.accountIDs) > 1,
		Integrations: l.integrations,
	}
}

func (l *Loop) record(ctx context.Context, t *turn, kind, title string, detail map[string]any) {
	var detailJSON string
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			detailJSON = string(b)
		}
	}
	l.recorder.Record(ctx, store.TraceEvent{
		TraceID:        t.req.TraceID,
		ConversationID: t.conv.ID,
		Kind:           kind,
		Title:          title,
		Detail:         detailJSON,
	})
}

func planSummary(tc provider.ToolCall) string {
	if len(tc.Arguments) == 0 {
		return tc.Name
	}
	keys := make([]string, 0, len(tc.Arguments))
	for k := range tc.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, tc.Arguments[k]))
	}
	return fmt.Sprintf("%s (%s)", tc.Name, strings.Join(parts, ", "))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
