package channels

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adpilot-ai/adpilot/internal/approval"
	"github.com/adpilot-ai/adpilot/internal/executor"
	"github.com/adpilot-ai/adpilot/internal/store"
	"github.com/adpilot-ai/adpilot/internal/tools"
)

type noteTool struct {
	calls int
}

func (n *noteTool) Name() string        { return "crm_create_note" }
func (n *noteTool) Description() string { return "add a note" }
func (n *noteTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{
		"contact_id": map[string]any{"type": "string"},
	}}
}
func (n *noteTool) Meta() tools.Meta { return tools.Meta{Write: true} }
func (n *noteTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	n.calls++
	return &tools.Result{Success: true, Message: "note added"}, nil
}

func newRouter(t *testing.T) (*ApprovalRouter, *approval.Manager, *noteTool) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "router.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	nt := &noteTool{}
	reg := tools.NewRegistry()
	reg.Register(nt)
	exec := executor.New(reg, st, 10*time.Minute, nil)
	plans := approval.NewManager(st, exec, time.Hour, nil)
	return &ApprovalRouter{Plans: plans}, plans, nt
}

func TestRouterIgnoresNormalMessages(t *testing.T) {
	r, _, _ := newRouter(t)
	for _, text := range []string{
		"how much did we spend?",
		"approve my vacation",
		"approve",
		"",
	} {
		if reply, handled := r.Handle(context.Background(), text); handled {
			t.Errorf("%q handled as plan command: %q", text, reply)
		}
	}
}

func TestRouterApprovesPlan(t *testing.T) {
	r, plans, nt := newRouter(t)
	p, err := plans.Create("conv-1", "t-1", "crm_create_note", map[string]any{"contact_id": "p-1"}, "")
	if err != nil {
		t.Fatal(err)
	}

	reply, handled := r.Handle(context.Background(), "approve "+p.PlanID)
	if !handled {
		t.Fatal("approve command not handled")
	}
	if !strings.Contains(reply, "note added") {
		t.Fatalf("reply = %q", reply)
	}
	if nt.calls != 1 {
		t.Fatalf("tool ran %d times", nt.calls)
	}

	got, _ := plans.Get(p.PlanID)
	if got.Status != store.PlanCompleted {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestRouterRejectsPlanWithReason(t *testing.T) {
	r, plans, nt := newRouter(t)
	p, _ := plans.Create("conv-1", "t-1", "crm_create_note", map[string]any{"contact_id": "p-1"}, "")

	reply, handled := r.Handle(context.Background(), "reject "+p.PlanID+" wrong contact")
	if !handled || !strings.Contains(reply, "rejected") {
		t.Fatalf("handled=%v reply=%q", handled, reply)
	}
	if nt.calls != 0 {
		t.Fatal("rejected plan must not run")
	}
	got, _ := plans.Get(p.PlanID)
	if got.Status != store.PlanRejected || got.Reason != "wrong contact" {
		t.Fatalf("plan = %+v", got)
	}
}

func TestRouterUnknownPlan(t *testing.T) {
	r, _, _ := newRouter(t)
	reply, handled := r.Handle(context.Background(), "approve plan-missing")
	if !handled {
		t.Fatal("plan-prefixed command must be handled")
	}
	if !strings.Contains(reply, "Could not execute") {
		t.Fatalf("reply = %q", reply)
	}
}

func TestRouterSynonyms(t *testing.T) {
	r, plans, _ := newRouter(t)
	p, _ := plans.Create("conv-1", "t-1", "crm_create_note", map[string]any{"contact_id": "p-1"}, "")

	if _, handled := r.Handle(context.Background(), "YES "+p.PlanID); !handled {
		t.Fatal("yes must approve")
	}
	got, _ := plans.Get(p.PlanID)
	if got.Status != store.PlanCompleted {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestFormatPlanPrompt(t *testing.T) {
	prompt := FormatPlanPrompt("plan-ab12")
	if !strings.Contains(prompt, "approve plan-ab12") || !strings.Contains(prompt, "reject plan-ab12") {
		t.Fatalf("prompt = %q", prompt)
	}
}

func TestNilRouterPassesThrough(t *testing.T) {
	var r *ApprovalRouter
	if _, handled := r.Handle(context.Background(), "approve plan-x"); handled {
		t.Fatal("nil router must pass messages through")
	}
}
