// Package approval manages pending plans: gated tool calls that wait for
// an explicit user decision before execution.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/adpilot-ai/adpilot/internal/executor"
	"github.com/adpilot-ai/adpilot/internal/store"
	"github.com/adpilot-ai/adpilot/internal/tools"
)

// PlanStore is the persistence surface the manager needs. *store.Store
// satisfies it.
type PlanStore interface {
	CreatePlan(p *store.Plan) error
	GetPlan(planID string) (*store.Plan, error)
	ListPlans(status string, limit int) ([]store.Plan, error)
	TransitionPlan(planID, from, to, reason string) error
	SetPlanResult(planID, result string) error
	SetPlanSteps(planID, steps string, executedSteps int) error
}

// StepSpec describes one gated tool call when creating a plan.
type StepSpec struct {
	Tool      string
	Arguments map[string]any
	Summary   string
}

// Manager owns the plan lifecycle. Status moves one way:
// pending -> approved|rejected|expired, approved -> executing ->
// completed|failed. A multi-step plan returns from executing to approved
// between single-step runs while steps remain.
type Manager struct {
	plans  PlanStore
	exec   *executor.Executor
	ttl    time.Duration
	logger *slog.Logger
}

func NewManager(plans PlanStore, exec *executor.Executor, ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{plans: plans, exec: exec, ttl: ttl, logger: logger}
}

// Create records a single gated tool call as a pending plan.
func (m *Manager) Create(conversationID, traceID, tool string, args map[string]any, summary string) (*store.Plan, error) {
	return m.CreateMulti(conversationID, traceID, []StepSpec{{Tool: tool, Arguments: args, Summary: summary}})
}

// CreateMulti records a batch of gated tool calls as one pending plan,
// one step per call. The plan's Tool/Arguments/Summary mirror the first
// step for display and single-step compatibility.
func (m *Manager) CreateMulti(conversationID, traceID string, specs []StepSpec) (*store.Plan, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("plan needs at least one step")
	}
	steps := make([]store.PlanStep, len(specs))
	for i, spec := range specs {
		argsJSON, err := json.Marshal(spec.Arguments)
		if err != nil {
			return nil, fmt.Errorf("marshal plan arguments: %w", err)
		}
		steps[i] = store.PlanStep{
			Index:     i,
			Tool:      spec.Tool,
			Arguments: string(argsJSON),
			Summary:   spec.Summary,
			Status:    store.StepPending,
		}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("marshal plan steps: %w", err)
	}

	p := &store.Plan{
		PlanID:         "plan-" + uuid.NewString()[:8],
		ConversationID: conversationID,
		TraceID:        traceID,
		Tool:           steps[0].Tool,
		Arguments:      steps[0].Arguments,
		Summary:        steps[0].Summary,
		Steps:          string(stepsJSON),
		TotalSteps:     len(steps),
		Status:         store.PlanPending,
	}
	if err := m.plans.CreatePlan(p); err != nil {
		return nil, err
	}
	m.logger.Info("plan created", "plan_id", p.PlanID, "steps", len(steps), "conversation", conversationID)
	return p, nil
}

// Get returns a plan by ID.
func (m *Manager) Get(planID string) (*store.Plan, error) {
	return m.plans.GetPlan(planID)
}

// List returns plans filtered by status; empty status lists all.
func (m *Manager) List(status string, limit int) ([]store.Plan, error) {
	return m.plans.ListPlans(status, limit)
}

// Approve marks a pending plan approved. Approving an already approved
// plan is a no-op, so repeated clicks cannot double-execute.
func (m *Manager) Approve(planID string) (*store.Plan, error) {
	p, err := m.plans.GetPlan(planID)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case store.PlanPending:
		if m.expireIfStale(p) {
			return nil, fmt.Errorf("plan %s has expired", planID)
		}
		if err := m.plans.TransitionPlan(planID, store.PlanPending, store.PlanApproved, ""); err != nil {
			return nil, err
		}
		return m.plans.GetPlan(planID)
	case store.PlanApproved, store.PlanExecuting, store.PlanCompleted:
		return p, nil
	default:
		return nil, fmt.Errorf("plan %s is %s and cannot be approved", planID, p.Status)
	}
}

// Reject marks a pending plan rejected with a reason.
func (m *Manager) Reject(planID, reason string) (*store.Plan, error) {
	p, err := m.plans.GetPlan(planID)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case store.PlanPending:
		if err := m.plans.TransitionPlan(planID, store.PlanPending, store.PlanRejected, reason); err != nil {
			return nil, err
		}
		return m.plans.GetPlan(planID)
	case store.PlanRejected:
		return p, nil
	default:
		return nil, fmt.Errorf("plan %s is %s and cannot be rejected", planID, p.Status)
	}
}

// Execute runs every remaining step of an approved plan, in order, through
// the idempotent executor. The executing transition claims the plan, so
// concurrent Execute calls run each step at most once. Execution stops at
// the first failed step; steps after it stay pending.
func (m *Manager) Execute(ctx context.Context, planID string) (*tools.Result, error) {
	p, err := m.plans.GetPlan(planID)
	if err != nil {
		return nil, err
	}
	if p.Status == store.PlanCompleted && p.Result != "" {
		var result tools.Result
		if err := json.Unmarshal([]byte(p.Result), &result); err == nil {
			result.Cached = true
			return &result, nil
		}
	}
	if p.Status != store.PlanApproved {
		return nil, fmt.Errorf("plan %s is %s, only approved plans execute", planID, p.Status)
	}
	if err := m.plans.TransitionPlan(planID, store.PlanApproved, store.PlanExecuting, ""); err != nil {
		return nil, err
	}

	steps, err := p.StepList()
	if err != nil {
		_ = m.plans.TransitionPlan(planID, store.PlanExecuting, store.PlanFailed, "invalid stored steps")
		return nil, fmt.Errorf("plan %s has invalid steps: %w", planID, err)
	}

	var last *tools.Result
	for i := range steps {
		if steps[i].Status == store.StepCompleted {
			continue
		}
		result, err := m.runStep(ctx, p, steps, i)
		if err != nil {
			_ = m.plans.TransitionPlan(planID, store.PlanExecuting, store.PlanFailed, err.Error())
			return nil, err
		}
		last = result
		if !result.Success {
			_ = m.plans.SetPlanResult(planID, result.JSON())
			if err := m.plans.TransitionPlan(planID, store.PlanExecuting, store.PlanFailed, result.Error); err != nil {
				m.logger.Warn("plan finalize failed", "plan_id", planID, "error", err)
			}
			return result, nil
		}
	}

	final := m.aggregateResult(steps, last)
	_ = m.plans.SetPlanResult(planID, final.JSON())
	if err := m.plans.TransitionPlan(planID, store.PlanExecuting, store.PlanCompleted, ""); err != nil {
		m.logger.Warn("plan finalize failed", "plan_id", planID, "error", err)
	}
	m.logger.Info("plan executed", "plan_id", planID, "steps", len(steps))
	return final, nil
}

// ExecuteStep runs exactly one step of an approved plan. The plan returns
// to approved while steps remain and completes when the last step finishes.
// Re-running a completed step replays its stored result.
func (m *Manager) ExecuteStep(ctx context.Context, planID string, index int) (*tools.Result, error) {
	p, err := m.plans.GetPlan(planID)
	if err != nil {
		return nil, err
	}
	steps, err := p.StepList()
	if err != nil {
		return nil, fmt.Errorf("plan %s has invalid steps: %w", planID, err)
	}
	if index < 0 || index >= len(steps) {
		return nil, fmt.Errorf("plan %s has no step %d", planID, index)
	}
	if steps[index].Status == store.StepCompleted && steps[index].Result != "" {
		var result tools.Result
		if err := json.Unmarshal([]byte(steps[index].Result), &result); err == nil {
			result.Cached = true
			return &result, nil
		}
	}
	if p.Status != store.PlanApproved {
		return nil, fmt.Errorf("plan %s is %s, only approved plans execute", planID, p.Status)
	}
	if err := m.plans.TransitionPlan(planID, store.PlanApproved, store.PlanExecuting, ""); err != nil {
		return nil, err
	}

	result, err := m.runStep(ctx, p, steps, index)
	if err != nil {
		_ = m.plans.TransitionPlan(planID, store.PlanExecuting, store.PlanFailed, err.Error())
		return nil, err
	}
	if !result.Success {
		_ = m.plans.SetPlanResult(planID, result.JSON())
		_ = m.plans.TransitionPlan(planID, store.PlanExecuting, store.PlanFailed, result.Error)
		return result, nil
	}

	if remaining(steps) == 0 {
		final := m.aggregateResult(steps, result)
		_ = m.plans.SetPlanResult(planID, final.JSON())
		if err := m.plans.TransitionPlan(planID, store.PlanExecuting, store.PlanCompleted, ""); err != nil {
			m.logger.Warn("plan finalize failed", "plan_id", planID, "error", err)
		}
		return result, nil
	}
	if err := m.plans.TransitionPlan(planID, store.PlanExecuting, store.PlanApproved, ""); err != nil {
		m.logger.Warn("plan step release failed", "plan_id", planID, "error", err)
	}
	return result, nil
}

// runStep executes one step, records its outcome in the steps slice, and
// persists the progress.
func (m *Manager) runStep(ctx context.Context, p *store.Plan, steps []store.PlanStep, i int) (*tools.Result, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(steps[i].Arguments), &args); err != nil {
		return nil, fmt.Errorf("step %d of %s has invalid arguments: %w", i, p.PlanID, err)
	}
	result, err := m.exec.Execute(ctx, p.ConversationID, steps[i].Tool, args)
	if err != nil {
		steps[i].Status = store.StepFailed
		steps[i].Result = fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
		m.persistSteps(p.PlanID, steps)
		return nil, err
	}

	if result.Success {
		steps[i].Status = store.StepCompleted
	} else {
		steps[i].Status = store.StepFailed
	}
	steps[i].Result = result.JSON()
	m.persistSteps(p.PlanID, steps)
	m.logger.Info("plan step executed", "plan_id", p.PlanID, "step", i, "tool", steps[i].Tool, "success", result.Success)
	return result, nil
}

func (m *Manager) persistSteps(planID string, steps []store.PlanStep) {
	executed := len(steps) - remaining(steps)
	raw, err := json.Marshal(steps)
	if err != nil {
		m.logger.Warn("plan steps not persisted", "plan_id", planID, "error", err)
		return
	}
	if err := m.plans.SetPlanSteps(planID, string(raw), executed); err != nil {
		m.logger.Warn("plan steps not persisted", "plan_id", planID, "error", err)
	}
}

func remaining(steps []store.PlanStep) int {
	n := 0
	for _, s := range steps {
		if s.Status != store.StepCompleted {
			n++
		}
	}
	return n
}

// aggregateResult is the plan-level result: a single-step plan keeps its
// step result so replays look identical to a direct execution.
func (m *Manager) aggregateResult(steps []store.PlanStep, last *tools.Result) *tools.Result {
	if len(steps) == 1 && last != nil {
		return last
	}
	if last == nil {
		// Every step had already completed; nothing ran this call.
		last = &tools.Result{Success: true, Cached: true}
	}
	results := make([]any, len(steps))
	for i, s := range steps {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(s.Result), &decoded); err == nil {
			results[i] = decoded
		} else {
			results[i] = s.Result
		}
	}
	return &tools.Result{
		Success: true,
		Message: fmt.Sprintf("%d steps executed", len(steps)),
		Data:    map[string]any{"steps": results},
		Cached:  last.Cached,
	}
}

// ApproveAndExecute is the common one-step path for channel buttons.
func (m *Manager) ApproveAndExecute(ctx context.Context, planID string) (*tools.Result, error) {
	if _, err := m.Approve(planID); err != nil {
		return nil, err
	}
	return m.Execute(ctx, planID)
}

// ExpireStale sweeps pending plans older than the TTL.
func (m *Manager) ExpireStale() int {
	pending, err := m.plans.ListPlans(store.PlanPending, 500)
	if err != nil {
		m.logger.Warn("expire sweep failed", "error", err)
		return 0
	}
	n := 0
	for i := range pending {
		if m.expireIfStale(&pending[i]) {
			n++
		}
	}
	return n
}

func (m *Manager) expireIfStale(p *store.Plan) bool {
	if p.Status != store.PlanPending || time.Since(p.CreatedAt) < m.ttl {
		return false
	}
	if err := m.plans.TransitionPlan(p.PlanID, store.PlanPending, store.PlanExpired, "approval window elapsed"); err != nil {
		return false
	}
	m.logger.Info("plan expired", "plan_id", p.PlanID, "tool", p.Tool)
	return true
}
