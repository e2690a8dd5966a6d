package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adpilot-ai/adpilot/internal/approval"
	"github.com/adpilot-ai/adpilot/internal/executor"
	"github.com/adpilot-ai/adpilot/internal/intent"
	"github.com/adpilot-ai/adpilot/internal/policy"
	"github.com/adpilot-ai/adpilot/internal/provider"
	"github.com/adpilot-ai/adpilot/internal/store"
	"github.com/adpilot-ai/adpilot/internal/tier"
	"github.com/adpilot-ai/adpilot/internal/tools"
	"github.com/adpilot-ai/adpilot/internal/trace"
)

// scriptedProvider returns canned responses in order. ChatStream delivers
// the same response as one text chunk plus a final done chunk. Entries in
// errs force the numbered call (1-based) to fail instead.
type scriptedProvider struct {
	mu       sync.Mutex
	script   []*provider.ChatResponse
	errs     map[int]error
	requests []*provider.ChatRequest
}

func (p *scriptedProvider) next(req *provider.ChatRequest) (*provider.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if err, ok := p.errs[len(p.requests)]; ok {
		return nil, err
	}
	if len(p.requests) > len(p.script) {
		return &provider.ChatResponse{Content: "All done."}, nil
	}
	return p.script[len(p.requests)-1], nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	return p.next(req)
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req *provider.ChatRequest) (<-chan provider.StreamChunk, error) {
	resp, err := p.next(req)
	if err != nil {
		return nil, err
	}
	ch := make(chan provider.StreamChunk, 2)
	if resp.Content != "" {
		ch <- provider.StreamChunk{ContentDelta: resp.Content}
	}
	ch <- provider.StreamChunk{Done: true, ToolCalls: resp.ToolCalls, FinishReason: resp.FinishReason}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) DefaultModel() string { return "scripted" }

type loopFixture struct {
	loop      *Loop
	provider  *scriptedProvider
	store     *store.Store
	ads       *tools.DemoAdsClient
	messaging *tools.DemoMessagingClient
	plans     *approval.Manager
}

func newLoopFixture(t *testing.T, mode string, script ...*provider.ChatResponse) *loopFixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ads := tools.NewDemoAdsClient()
	messaging := tools.NewDemoMessagingClient()
	reg := tools.NewRegistry()
	tools.RegisterDomainTools(reg, ads, tools.NewDemoCRMClient(), messaging)

	exec := executor.New(reg, st, 10*time.Minute, nil)
	plans := approval.NewManager(st, exec, time.Hour, nil)
	sp := &scriptedProvider{script: script}

	loop := NewLoop(Options{
		Provider:    sp,
		Registry:    reg,
		Classifier:  intent.NewClassifier(nil, ""),
		Policies:    policy.NewEngine(),
		Tiers:       tier.NewManager(),
		Executor:    exec,
		Plans:       plans,
		Store:       st,
		Recorder:    trace.NewStoreRecorder(st, nil),
		DefaultMode: mode,
		Integrations: intent.Integrations{
			Ads: true, CRM: true, Messaging: true,
		},
	})
	return &loopFixture{loop: loop, provider: sp, store: st, ads: ads, messaging: messaging, plans: plans}
}

func toolCall(id, name string, args map[string]any) provider.ToolCall {
	return provider.ToolCall{ID: id, Name: name, Arguments: args}
}

func TestReadFlowExecutesDirectly(t *testing.T) {
	f := newLoopFixture(t, ModeAuto,
		&provider.ChatResponse{ToolCalls: []provider.ToolCall{
			toolCall("1", "ads_spend_report", map[string]any{"account_id": "a-1", "period": "last_7d"}),
		}},
		&provider.ChatResponse{Content: "You spent $412.37 over the last 7 days."},
	)

	resp, err := f.loop.Process(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: "how much did we spend on ads in the last 7 days?",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.Classification.Intent != intent.IntentSpendReport {
		t.Fatalf("intent = %s", resp.Classification.Intent)
	}
	if !strings.Contains(resp.Content, "412.37") {
		t.Fatalf("content = %q", resp.Content)
	}
	if len(resp.Plans) != 0 {
		t.Fatalf("read flow created plans: %v", resp.Plans)
	}

	events, _ := f.store.TraceEvents(resp.TraceID)
	kinds := make(map[string]bool)
	for _, e := range events {
		kinds[e.Kind] = true
	}
	if !kinds[trace.KindClassification] || !kinds[trace.KindTool] || !kinds[trace.KindResponse] {
		t.Fatalf("trace kinds = %v", kinds)
	}
}

func TestDangerousToolGatedEvenInAutoMode(t *testing.T) {
	f := newLoopFixture(t, ModeAuto,
		&provider.ChatResponse{ToolCalls: []provider.ToolCall{
			toolCall("1", "ads_update_budget", map[string]any{
				"account_id": "a-1", "campaign_id": "c-1001", "daily_budget": 80.0,
			}),
		}},
		&provider.ChatResponse{Content: "I queued the budget change for your approval."},
	)

	resp, err := f.loop.Process(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: `set the budget for campaign "Summer Sale" to $80 per day`,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(resp.Plans) != 1 {
		t.Fatalf("plans = %v", resp.Plans)
	}
	plan := resp.Plans[0]
	if plan.Status != store.PlanPending || plan.Tool != "ads_update_budget" {
		t.Fatalf("plan = %+v", plan)
	}
	if f.ads.Campaigns["c-1001"].DailyBudget != 50 {
		t.Fatal("budget changed before approval")
	}

	// Approving the plan applies the change through the executor.
	result, err := f.plans.ApproveAndExecute(context.Background(), plan.PlanID)
	if err != nil || !result.Success {
		t.Fatalf("approve: %v %+v", err, result)
	}
	if f.ads.Campaigns["c-1001"].DailyBudget != 80 {
		t.Fatalf("budget = %.0f after approval", f.ads.Campaigns["c-1001"].DailyBudget)
	}
}

func TestWriteToolQueuedInPlanMode(t *testing.T) {
	f := newLoopFixture(t, ModePlan,
		&provider.ChatResponse{ToolCalls: []provider.ToolCall{
			toolCall("1", "crm_create_note", map[string]any{"contact_id": "p-1", "body": "call back Monday"}),
		}},
		&provider.ChatResponse{Content: "Note queued for approval."},
	)

	resp, err := f.loop.Process(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: "add a note to contact p-1: call back Monday",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(resp.Plans) != 1 || resp.Plans[0].Tool != "crm_create_note" {
		t.Fatalf("plans = %v", resp.Plans)
	}
}

func TestWriteToolRunsDirectlyInAutoMode(t *testing.T) {
	f := newLoopFixture(t, ModeAuto,
		&provider.ChatResponse{ToolCalls: []provider.ToolCall{
			toolCall("1", "crm_create_note", map[string]any{"contact_id": "p-1", "body": "call back Monday"}),
		}},
		&provider.ChatResponse{Content: "Noted."},
	)

	resp, err := f.loop.Process(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: "add a note to contact p-1: call back Monday",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(resp.Plans) != 0 {
		t.Fatalf("auto mode queued a non-dangerous write: %v", resp.Plans)
	}
}

func TestClarifyingQuestionShortCircuits(t *testing.T) {
	f := newLoopFixture(t, ModeAuto)

	resp, err := f.loop.Process(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: "pause something for me",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(resp.Content, "Which campaign should I pause?") {
		t.Fatalf("content = %q", resp.Content)
	}
	if f.provider.callCount() != 0 {
		t.Fatal("clarifying gate must not reach the model")
	}

	conv, _ := f.store.GetConversation("conv-1")
	if len(conv.ClarifyState) == 0 {
		t.Fatal("clarify state not persisted for a known intent")
	}
}

func TestClarifyResumeKeepsOriginalIntent(t *testing.T) {
	f := newLoopFixture(t, ModeAuto,
		&provider.ChatResponse{Content: "Pausing is ready once you approve the plan."},
	)

	if _, err := f.loop.Process(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: "pause something for me",
	}); err != nil {
		t.Fatal(err)
	}

	// The follow-up alone would not classify as pause_entity; the stored
	// original message keeps the intent.
	resp, err := f.loop.Process(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: `the campaign "Brand Awareness"`,
	})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resp.Classification.Intent != intent.IntentPauseEntity {
		t.Fatalf("intent = %s, want pause_entity", resp.Classification.Intent)
	}
	conv, _ := f.store.GetConversation("conv-1")
	if len(conv.ClarifyState) != 0 {
		t.Fatal("clarify state not cleared after completion")
	}
}

func TestUnknownIntentAsksWithoutPersisting(t *testing.T) {
	f := newLoopFixture(t, ModeAuto)

	resp, err := f.loop.Process(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: "hello there",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.Content, "ads, CRM, or messaging") {
		t.Fatalf("content = %q", resp.Content)
	}
	conv, _ := f.store.GetConversation("conv-1")
	if len(conv.ClarifyState) != 0 {
		t.Fatal("unknown intent must not persist clarify state")
	}
}

func TestPreflightFailureShortCircuits(t *testing.T) {
	f := newLoopFixture(t, ModeAuto)
	f.loop.integrations = intent.Integrations{Ads: true} // crm disconnected

	resp, err := f.loop.Process(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: "find the customer record for Acme",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.Content, "crm integration is not connected") {
		t.Fatalf("content = %q", resp.Content)
	}
	if f.provider.callCount() != 0 {
		t.Fatal("preflight failure must not reach the model")
	}
}

func TestDisallowedToolDenied(t *testing.T) {
	// The model tries a write tool under a read-only policy.
	f := newLoopFixture(t, ModeAuto,
		&provider.ChatResponse{ToolCalls: []provider.ToolCall{
			toolCall("1", "ads_pause_campaign", map[string]any{"account_id": "a-1", "campaign_id": "c-1001"}),
		}},
		&provider.ChatResponse{Content: "I can only report spend under this request."},
	)

	resp, err := f.loop.Process(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: "how much did we spend on ads in the last 7 days?",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Plans) != 0 {
		t.Fatal("denied call must not create a plan")
	}
	if f.ads.Campaigns["c-1001"].Status != "active" {
		t.Fatal("denied call must not execute")
	}
}

func TestExhaustedLoopStillAnswers(t *testing.T) {
	// The model calls tools on every iteration; the loop forces a final
	// text-only answer after the iteration cap.
	call := &provider.ChatResponse{ToolCalls: []provider.ToolCall{
		toolCall("1", "ads_spend_report", map[string]any{"account_id": "a-1", "period": "last_7d"}),
	}}
	f := newLoopFixture(t, ModeAuto, call, call, &provider.ChatResponse{Content: "Summary of findings."})
	f.loop.maxIterations = 2

	resp, err := f.loop.Process(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: "how much did we spend on ads in the last 7 days?",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Summary of findings." {
		t.Fatalf("content = %q", resp.Content)
	}

	// The forced final call must carry no tool definitions.
	last := f.provider.requests[len(f.provider.requests)-1]
	if last.Tools != nil {
		t.Fatal("final forced call must not offer tools")
	}
}

func TestResponseNeverEmpty(t *testing.T) {
	call := &provider.ChatResponse{ToolCalls: []provider.ToolCall{
		toolCall("1", "ads_spend_report", map[string]any{"account_id": "a-1", "period": "last_7d"}),
	}}
	// Even the forced final answer comes back empty.
	f := newLoopFixture(t, ModeAuto, call, call, &provider.ChatResponse{})
	f.loop.maxIterations = 2

	resp, err := f.loop.Process(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: "how much did we spend on ads in the last 7 days?",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content == "" {
		t.Fatal("response content must never be empty")
	}
}

func TestBusyConversationRefused(t *testing.T) {
	f := newLoopFixture(t, ModeAuto)
	token, ok := f.loop.locks.Acquire("conv-1")
	if !ok {
		t.Fatal("setup: lock")
	}
	defer f.loop.locks.Release("conv-1", token)

	resp, err := f.loop.Process(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: "how much did we spend on ads in the last 7 days?",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != busyMessage {
		t.Fatalf("content = %q", resp.Content)
	}
	if f.provider.callCount() != 0 {
		t.Fatal("busy conversation must not process")
	}
}

func TestSnapshotPlaybookAdvancesTier(t *testing.T) {
	f := newLoopFixture(t, ModeAuto,
		&provider.ChatResponse{ToolCalls: []provider.ToolCall{
			toolCall("1", "ads_account_snapshot", map[string]any{"account_id": "a-1"}),
		}},
		&provider.ChatResponse{Content: "The account looks healthy."},
	)

	resp, err := f.loop.Process(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: "give me an account health overview",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.NextSteps) == 0 {
		t.Fatal("playbook flows should offer next steps")
	}

	conv, _ := f.store.GetConversation("conv-1")
	if !strings.Contains(string(conv.TierState), `"current_tier":"drilldown"`) {
		t.Fatalf("tier state = %s", conv.TierState)
	}
}

func TestProcessStreamTerminalEventLast(t *testing.T) {
	f := newLoopFixture(t, ModeAuto,
		&provider.ChatResponse{ToolCalls: []provider.ToolCall{
			toolCall("1", "ads_spend_report", map[string]any{"account_id": "a-1", "period": "last_7d"}),
		}},
		&provider.ChatResponse{Content: "You spent $412.37."},
	)

	var events []Event
	for evt := range f.loop.ProcessStream(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: "how much did we spend on ads in the last 7 days?",
	}) {
		events = append(events, evt)
	}
	if len(events) == 0 {
		t.Fatal("no events")
	}

	terminals := 0
	for i, evt := range events {
		if evt.IsTerminal() {
			terminals++
			if i != len(events)-1 {
				t.Fatal("terminal event must be last")
			}
		}
	}
	if terminals != 1 {
		t.Fatalf("terminal events = %d, want exactly 1", terminals)
	}
	if events[0].Type != EventClassification {
		t.Fatalf("first event = %s, want classification", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != EventDone || last.Content == "" {
		t.Fatalf("last event = %+v", last)
	}

	var sawStart, sawResult bool
	for _, evt := range events {
		if evt.Type == EventToolStart && evt.Tool == "ads_spend_report" {
			sawStart = true
		}
		if evt.Type == EventToolResult && evt.Tool == "ads_spend_report" {
			sawResult = true
		}
	}
	if !sawStart || !sawResult {
		t.Fatalf("tool events missing: start=%v result=%v", sawStart, sawResult)
	}
}

func TestProcessStreamBusy(t *testing.T) {
	f := newLoopFixture(t, ModeAuto)
	token, ok := f.loop.locks.Acquire("conv-1")
	if !ok {
		t.Fatal("setup: lock")
	}
	defer f.loop.locks.Release("conv-1", token)

	var events []Event
	for evt := range f.loop.ProcessStream(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: "anything",
	}) {
		events = append(events, evt)
	}
	if len(events) != 1 || events[0].Type != EventDone || events[0].Content != busyMessage {
		t.Fatalf("events = %+v", events)
	}
}

func TestLockStaleTakeover(t *testing.T) {
	lt := newLockTable(50 * time.Millisecond)
	first, ok := lt.Acquire("conv-1")
	if !ok {
		t.Fatal("first acquire")
	}
	if _, ok := lt.Acquire("conv-1"); ok {
		t.Fatal("fresh lock must be held")
	}
	time.Sleep(80 * time.Millisecond)
	second, ok := lt.Acquire("conv-1")
	if !ok {
		t.Fatal("stale lock must be taken over")
	}

	// The superseded holder releasing its old token must not evict the
	// new holder.
	lt.Release("conv-1", first)
	if _, ok := lt.Acquire("conv-1"); ok {
		t.Fatal("release with a stale token freed the lock")
	}
	lt.Release("conv-1", second)
	if _, ok := lt.Acquire("conv-1"); !ok {
		t.Fatal("lock must be free after the holder releases")
	}
}

func TestExecutedActionsReturnedOnSuccess(t *testing.T) {
	f := newLoopFixture(t, ModeAuto,
		&provider.ChatResponse{ToolCalls: []provider.ToolCall{
			toolCall("1", "ads_spend_report", map[string]any{"account_id": "a-1", "period": "last_7d"}),
		}},
		&provider.ChatResponse{Content: "You spent $412.37."},
	)

	resp, err := f.loop.Process(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: "how much did we spend on ads in the last 7 days?",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(resp.Executed) != 1 {
		t.Fatalf("executed = %+v", resp.Executed)
	}
	a := resp.Executed[0]
	if a.Tool != "ads_spend_report" || !a.Success || a.Error != "" {
		t.Fatalf("action = %+v", a)
	}
	if a.Arguments["period"] != "last_7d" {
		t.Fatalf("arguments = %v", a.Arguments)
	}
}

func TestFailedRequestKeepsExecutedActions(t *testing.T) {
	// The first round runs a tool; the follow-up model call fails. The
	// work done before the failure must still reach the caller.
	f := newLoopFixture(t, ModeAuto,
		&provider.ChatResponse{ToolCalls: []provider.ToolCall{
			toolCall("1", "ads_spend_report", map[string]any{"account_id": "a-1", "period": "last_7d"}),
		}},
	)
	f.provider.errs = map[int]error{2: errors.New("model unavailable")}

	resp, err := f.loop.Process(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: "how much did we spend on ads in the last 7 days?",
	})
	if err == nil {
		t.Fatal("expected the model failure to surface")
	}
	if resp == nil {
		t.Fatal("failed request must still return the partial response")
	}
	if len(resp.Executed) != 1 || resp.Executed[0].Tool != "ads_spend_report" {
		t.Fatalf("executed = %+v", resp.Executed)
	}
	if !resp.Executed[0].Success {
		t.Fatalf("action = %+v", resp.Executed[0])
	}
}

func TestAskModeGatesReadTools(t *testing.T) {
	f := newLoopFixture(t, ModeAsk,
		&provider.ChatResponse{ToolCalls: []provider.ToolCall{
			toolCall("1", "ads_spend_report", map[string]any{"account_id": "a-1", "period": "last_7d"}),
		}},
		&provider.ChatResponse{Content: "The spend report is queued for your approval."},
	)

	resp, err := f.loop.Process(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: "how much did we spend on ads in the last 7 days?",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(resp.Plans) != 1 || resp.Plans[0].Tool != "ads_spend_report" {
		t.Fatalf("plans = %+v", resp.Plans)
	}
	if resp.Plans[0].Status != store.PlanPending {
		t.Fatalf("status = %s", resp.Plans[0].Status)
	}
	if len(resp.Executed) != 0 {
		t.Fatalf("ask mode executed tools directly: %+v", resp.Executed)
	}
}

func TestGatedRoundBecomesOneMultiStepPlan(t *testing.T) {
	f := newLoopFixture(t, ModePlan,
		&provider.ChatResponse{ToolCalls: []provider.ToolCall{
			toolCall("1", "messaging_send", map[string]any{"recipient": "p-1", "body": "Thanks for your order!"}),
			toolCall("2", "messaging_broadcast", map[string]any{"segment": "recent_leads", "body": "New offer this week."}),
		}},
		&provider.ChatResponse{Content: "Both messages are queued for your approval."},
	)

	resp, err := f.loop.Process(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: `send a message to customer "Dana Reyes" thanking them for the order`,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(resp.Plans) != 1 {
		t.Fatalf("gated round must share one plan, got %d", len(resp.Plans))
	}
	plan := resp.Plans[0]
	if plan.TotalSteps != 2 {
		t.Fatalf("total steps = %d", plan.TotalSteps)
	}
	steps, err := plan.StepList()
	if err != nil || len(steps) != 2 {
		t.Fatalf("steps = %+v (%v)", steps, err)
	}
	if steps[0].Tool != "messaging_send" || steps[1].Tool != "messaging_broadcast" {
		t.Fatalf("step tools = %s, %s", steps[0].Tool, steps[1].Tool)
	}
	if len(f.messaging.Sent) != 0 {
		t.Fatal("gated round must not send before approval")
	}

	result, err := f.plans.ApproveAndExecute(context.Background(), plan.PlanID)
	if err != nil || !result.Success {
		t.Fatalf("approve: %v %+v", err, result)
	}
	if len(f.messaging.Sent) != 2 {
		t.Fatalf("sent = %+v", f.messaging.Sent)
	}

	stored, err := f.store.GetPlan(plan.PlanID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != store.PlanCompleted || stored.ExecutedSteps != 2 {
		t.Fatalf("stored plan = %+v", stored)
	}
}

func TestStreamDoneCarriesExecutedActions(t *testing.T) {
	f := newLoopFixture(t, ModeAuto,
		&provider.ChatResponse{ToolCalls: []provider.ToolCall{
			toolCall("1", "ads_spend_report", map[string]any{"account_id": "a-1", "period": "last_7d"}),
		}},
		&provider.ChatResponse{Content: "You spent $412.37."},
	)

	var done *Event
	for evt := range f.loop.ProcessStream(context.Background(), Request{
		ConversationID: "conv-1", Channel: "cli", BusinessID: "biz", UserID: "u",
		Content: "how much did we spend on ads in the last 7 days?",
	}) {
		if evt.Type == EventDone {
			e := evt
			done = &e
		}
	}
	if done == nil {
		t.Fatal("no done event")
	}
	actions, ok := done.Data["executed_actions"].([]ExecutedAction)
	if !ok || len(actions) != 1 || actions[0].Tool != "ads_spend_report" {
		t.Fatalf("executed_actions = %+v", done.Data)
	}
}
