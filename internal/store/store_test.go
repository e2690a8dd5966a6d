package store

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertConversation(t *testing.T) {
	s := openTestStore(t)

	c, err := s.UpsertConversation("conv-1", "cli", "biz-1", "u-1", "auto")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if c.ID != "conv-1" || c.Mode != "auto" || c.Channel != "cli" {
		t.Fatalf("conversation = %+v", c)
	}

	// Second upsert keeps the original mode.
	if err := s.SetConversationMode("conv-1", "plan"); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	c, err = s.UpsertConversation("conv-1", "cli", "biz-1", "u-1", "auto")
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if c.Mode != "plan" {
		t.Fatalf("mode = %q, want plan preserved across upserts", c.Mode)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetConversation("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestTierAndClarifyStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.UpsertConversation("conv-1", "cli", "b", "u", "auto"); err != nil {
		t.Fatal(err)
	}

	tierState := json.RawMessage(`{"playbook_id":"ads_health","current_tier":"snapshot"}`)
	if err := s.SaveTierState("conv-1", tierState); err != nil {
		t.Fatalf("save tier state: %v", err)
	}
	c, err := s.GetConversation("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if string(c.TierState) != string(tierState) {
		t.Fatalf("tier state = %s", c.TierState)
	}

	if err := s.SaveClarifyState("conv-1", nil); err != nil {
		t.Fatalf("clear clarify state: %v", err)
	}
	c, _ = s.GetConversation("conv-1")
	if c.ClarifyState != nil {
		t.Fatal("nil should clear clarify state")
	}
}

func TestRecentMessagesChronological(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.UpsertConversation("conv-1", "cli", "b", "u", "auto"); err != nil {
		t.Fatal(err)
	}
	for _, content := range []string{"first", "second", "third"} {
		if err := s.AppendMessage("conv-1", "user", content, "t-1"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := s.RecentMessages("conv-1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "second" || msgs[1].Content != "third" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestPlanLifecycle(t *testing.T) {
	s := openTestStore(t)

	p := &Plan{
		PlanID:         "plan-abc",
		ConversationID: "conv-1",
		TraceID:        "t-1",
		Tool:           "ads_pause_campaign",
		Arguments:      `{"campaign_id":"c-1001"}`,
		Summary:        "Pause campaign c-1001",
	}
	if err := s.CreatePlan(p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Status != PlanPending {
		t.Fatalf("status = %s, want pending", p.Status)
	}

	if err := s.TransitionPlan("plan-abc", PlanPending, PlanApproved, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	got, err := s.GetPlan("plan-abc")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != PlanApproved || got.RespondedAt == nil {
		t.Fatalf("plan = %+v", got)
	}

	if err := s.TransitionPlan("plan-abc", PlanApproved, PlanExecuting, ""); err != nil {
		t.Fatalf("executing: %v", err)
	}
	if err := s.TransitionPlan("plan-abc", PlanExecuting, PlanCompleted, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ = s.GetPlan("plan-abc")
	if got.ExecutedAt == nil {
		t.Fatal("executed_at not set on completion")
	}
}

func TestTransitionPlanRejectsWrongFromStatus(t *testing.T) {
	s := openTestStore(t)
	p := &Plan{PlanID: "plan-x", ConversationID: "c", Tool: "t", Arguments: "{}"}
	if err := s.CreatePlan(p); err != nil {
		t.Fatal(err)
	}
	if err := s.TransitionPlan("plan-x", PlanPending, PlanRejected, "no"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	// A rejected plan can never be approved.
	if err := s.TransitionPlan("plan-x", PlanPending, PlanApproved, ""); err == nil {
		t.Fatal("transition from wrong status must fail")
	}
	got, _ := s.GetPlan("plan-x")
	if got.Status != PlanRejected || got.Reason != "no" {
		t.Fatalf("plan = %+v", got)
	}
}

func TestListPlansFilter(t *testing.T) {
	s := openTestStore(t)
	for i, status := range []string{PlanPending, PlanPending, PlanCompleted} {
		p := &Plan{PlanID: planID(i), ConversationID: "c", Tool: "t", Arguments: "{}", Status: status}
		if err := s.CreatePlan(p); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := s.ListPlans(PlanPending, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	all, err := s.ListPlans("", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d, want 3", len(all))
	}
	// Newest first.
	if all[0].PlanID != planID(2) {
		t.Fatalf("order = %s first", all[0].PlanID)
	}
}

func planID(i int) string {
	return "plan-" + string(rune('a'+i))
}

func TestIdempotencyClaim(t *testing.T) {
	s := openTestStore(t)

	rec, started, err := s.BeginIdempotent("key-1", "conv-1", "ads_pause_campaign")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if !started || rec.Status != IdempotencyRunning {
		t.Fatalf("first claim: started=%v status=%s", started, rec.Status)
	}

	// Second claim loses and sees the existing record.
	rec, started, err = s.BeginIdempotent("key-1", "conv-1", "ads_pause_campaign")
	if err != nil {
		t.Fatalf("second begin: %v", err)
	}
	if started {
		t.Fatal("second claim must not start")
	}

	if err := s.CompleteIdempotent("key-1", IdempotencyCompleted, `{"success":true}`); err != nil {
		t.Fatalf("complete: %v", err)
	}
	rec, err = s.GetIdempotent("key-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != IdempotencyCompleted || rec.Result != `{"success":true}` || rec.CompletedAt == nil {
		t.Fatalf("record = %+v", rec)
	}

	if err := s.ReleaseIdempotent("key-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := s.GetIdempotent("key-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound after release, got %v", err)
	}
}

func TestPruneIdempotentBefore(t *testing.T) {
	s := openTestStore(t)
	if _, _, err := s.BeginIdempotent("key-old", "c", "t"); err != nil {
		t.Fatal(err)
	}

	n, err := s.PruneIdempotentBefore(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("pruned %d fresh records", n)
	}
	n, err = s.PruneIdempotentBefore(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
}

func TestTraceEvents(t *testing.T) {
	s := openTestStore(t)
	for _, kind := range []string{"classification", "policy", "response"} {
		e := &TraceEvent{TraceID: "t-1", ConversationID: "conv-1", Kind: kind, Title: kind}
		if err := s.AppendTraceEvent(e); err != nil {
			t.Fatalf("append %s: %v", kind, err)
		}
		if e.ID == 0 {
			t.Fatal("id not backfilled")
		}
	}

	events, err := s.TraceEvents("t-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 || events[0].Kind != "classification" || events[2].Kind != "response" {
		t.Fatalf("events = %+v", events)
	}
}

func TestSettings(t *testing.T) {
	s := openTestStore(t)
	if v, err := s.GetSetting("missing"); err != nil || v != "" {
		t.Fatalf("missing setting: %q %v", v, err)
	}
	if err := s.SetSetting("mode", "plan"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting("mode", "ask"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.GetSetting("mode"); v != "ask" {
		t.Fatalf("setting = %q, want ask", v)
	}
}

func TestPlanStepsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	steps := `[{"index":0,"tool":"messaging_send","arguments":"{\"recipient\":\"p-1\"}","status":"pending"},` +
		`{"index":1,"tool":"messaging_broadcast","arguments":"{\"segment\":\"all\"}","status":"pending"}]`
	p := &Plan{
		PlanID:         "plan-steps",
		ConversationID: "conv-1",
		Tool:           "messaging_send",
		Arguments:      `{"recipient":"p-1"}`,
		Steps:          steps,
		TotalSteps:     2,
	}
	if err := s.CreatePlan(p); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetPlan("plan-steps")
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalSteps != 2 || got.ExecutedSteps != 0 {
		t.Fatalf("plan = %+v", got)
	}
	list, err := got.StepList()
	if err != nil {
		t.Fatalf("step list: %v", err)
	}
	if len(list) != 2 || list[0].Tool != "messaging_send" || list[1].Tool != "messaging_broadcast" {
		t.Fatalf("steps = %+v", list)
	}

	list[0].Status = StepCompleted
	raw, _ := json.Marshal(list)
	if err := s.SetPlanSteps("plan-steps", string(raw), 1); err != nil {
		t.Fatalf("set steps: %v", err)
	}
	got, _ = s.GetPlan("plan-steps")
	if got.ExecutedSteps != 1 {
		t.Fatalf("executed steps = %d", got.ExecutedSteps)
	}
	list, _ = got.StepList()
	if list[0].Status != StepCompleted || list[1].Status != StepPending {
		t.Fatalf("steps = %+v", list)
	}
}

func TestStepListSynthesizesSingleStep(t *testing.T) {
	s := openTestStore(t)

	// Plans written before steps existed have no steps column content.
	p := &Plan{
		PlanID:         "plan-legacy",
		ConversationID: "conv-1",
		Tool:           "ads_pause_campaign",
		Arguments:      `{"campaign_id":"c-1001"}`,
		Summary:        "Pause c-1001",
	}
	if err := s.CreatePlan(p); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetPlan("plan-legacy")
	list, err := got.StepList()
	if err != nil {
		t.Fatalf("step list: %v", err)
	}
	if len(list) != 1 || list[0].Tool != "ads_pause_campaign" || list[0].Arguments != got.Arguments {
		t.Fatalf("steps = %+v", list)
	}
}

func TestSettingDuration(t *testing.T) {
	s := openTestStore(t)

	if d := s.SettingDuration("approval_ttl_seconds", 24*time.Hour); d != 24*time.Hour {
		t.Fatalf("unset = %v", d)
	}
	if err := s.SetSetting("approval_ttl_seconds", "90"); err != nil {
		t.Fatal(err)
	}
	if d := s.SettingDuration("approval_ttl_seconds", 24*time.Hour); d != 90*time.Second {
		t.Fatalf("set = %v", d)
	}
	if err := s.SetSetting("approval_ttl_seconds", "soon"); err != nil {
		t.Fatal(err)
	}
	if d := s.SettingDuration("approval_ttl_seconds", 24*time.Hour); d != 24*time.Hour {
		t.Fatalf("unparsable = %v", d)
	}
}
