// Package tier tracks progressive-disclosure state per conversation.
package tier

import (
	"fmt"
	"time"

	"github.com/adpilot-ai/adpilot/internal/intent"
)

// Tier is a progressive-disclosure stage.
type Tier string

const (
	TierSnapshot  Tier = "snapshot"
	TierDrilldown Tier = "drilldown"
	TierActions   Tier = "actions"
)

var tierRank = map[Tier]int{
	TierSnapshot:  0,
	TierDrilldown: 1,
	TierActions:   2,
}

// State is the per-conversation tier state. Created on first matched
// playbook and persisted across turns.
type State struct {
	PlaybookID   string         `json:"playbook_id"`
	Current      Tier           `json:"current_tier"`
	Completed    map[Tier]bool  `json:"completed_tiers"`
	SnapshotData map[string]any `json:"snapshot_data,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Signals are observed facts that can trigger automatic escalation.
type Signals struct {
	HealthScore   float64
	SpendDeltaPct float64
	HasAnomaly    bool
}

// Meta renders the signals as snapshot metadata carried across tiers.
func (s Signals) Meta() map[string]any {
	m := make(map[string]any)
	if s.HealthScore != 0 {
		m["health_score"] = s.HealthScore
	}
	if s.SpendDeltaPct != 0 {
		m["spend_delta_pct"] = s.SpendDeltaPct
	}
	if s.HasAnomaly {
		m["anomaly"] = true
	}
	return m
}

// Decision is the result of a transition or escalation check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Manager owns tier-state transitions and escalation rules.
type Manager struct {
	// EscalationHealthBelow promotes snapshot directly to actions when the
	// observed health score drops under this threshold.
	EscalationHealthBelow float64
	// EscalationSpendDeltaPct promotes when spend swings beyond this
	// percentage in either direction.
	EscalationSpendDeltaPct float64
}

// NewManager creates a tier manager with default escalation thresholds.
func NewManager() *Manager {
	return &Manager{
		EscalationHealthBelow:   40,
		EscalationSpendDeltaPct: 50,
	}
}

// CreateInitialState starts a conversation at the snapshot tier.
func (m *Manager) CreateInitialState(playbookID string) *State {
	return &State{
		PlaybookID: playbookID,
		Current:    TierSnapshot,
		Completed:  make(map[Tier]bool),
		UpdatedAt:  time.Now(),
	}
}

// CanTransitionTo checks whether the state may move to the target tier.
// Transitions are monotonic and single-step: snapshot→drilldown→actions.
// Skipping drilldown is only permitted via auto-escalation.
func (m *Manager) CanTransitionTo(s *State, target Tier, escalated bool) Decision {
	currentRank, ok := tierRank[s.Current]
	if !ok {
		return Decision{Allowed: false, Reason: fmt.Sprintf("unknown current tier %q", s.Current)}
	}
	targetRank, ok := tierRank[target]
	if !ok {
		return Decision{Allowed: false, Reason: fmt.Sprintf("unknown target tier %q", target)}
	}

	if targetRank <= currentRank {
		return Decision{Allowed: false, Reason: "tier transitions are monotonic"}
	}
	if targetRank-currentRank > 1 && !escalated {
		return Decision{Allowed: false, Reason: "cannot skip a tier without auto-escalation"}
	}
	return Decision{Allowed: true, Reason: "ok"}
}

// TransitionTo moves the state to the target tier, marking the current
// tier completed. Meta is merged into SnapshotData when leaving snapshot.
func (m *Manager) TransitionTo(s *State, target Tier, meta map[string]any) error {
	d := m.CanTransitionTo(s, target, false)
	if !d.Allowed {
		// Escalated skips come through TransitionEscalated.
		return fmt.Errorf("transition %s -> %s: %s", s.Current, target, d.Reason)
	}
	m.apply(s, target, meta)
	return nil
}

// TransitionEscalated moves the state to the target tier under an
// auto-escalation decision, allowing a tier skip.
func (m *Manager) TransitionEscalated(s *State, target Tier, meta map[string]any) error {
	d := m.CanTransitionTo(s, target, true)
	if !d.Allowed {
		return fmt.Errorf("escalated transition %s -> %s: %s", s.Current, target, d.Reason)
	}
	m.apply(s, target, meta)
	return nil
}

func (m *Manager) apply(s *State, target Tier, meta map[string]any) {
	if s.Completed == nil {
		s.Completed = make(map[Tier]bool)
	}
	s.Completed[s.Current] = true
	if s.Current == TierSnapshot && len(meta) > 0 {
		if s.SnapshotData == nil {
			s.SnapshotData = make(map[string]any, len(meta))
		}
		for k, v := range meta {
			s.SnapshotData[k] = v
		}
	}
	s.Current = target
	s.UpdatedAt = time.Now()
}

// CheckAutoEscalation decides whether observed signals warrant promoting
// the tier without an explicit user choice.
func (m *Manager) CheckAutoEscalation(s *State, sig Signals) Decision {
	if s.Current == TierActions {
		return Decision{Allowed: false, Reason: "already at actions tier"}
	}
	if sig.HasAnomaly {
		return Decision{Allowed: true, Reason: "anomaly detected in snapshot data"}
	}
	if sig.HealthScore > 0 && sig.HealthScore < m.EscalationHealthBelow {
		return Decision{Allowed: true, Reason: fmt.Sprintf("health score %.0f below threshold %.0f", sig.HealthScore, m.EscalationHealthBelow)}
	}
	if sig.SpendDeltaPct > m.EscalationSpendDeltaPct || sig.SpendDeltaPct < -m.EscalationSpendDeltaPct {
		return Decision{Allowed: true, Reason: fmt.Sprintf("spend delta %.0f%% beyond threshold", sig.SpendDeltaPct)}
	}
	return Decision{Allowed: false, Reason: "no escalation trigger"}
}

// AvailableNextSteps lists user-facing follow-ups from the current tier.
func (m *Manager) AvailableNextSteps(s *State, biz intent.BusinessContext) []string {
	switch s.Current {
	case TierSnapshot:
		steps := []string{"Drill into campaign performance", "Review spend by period"}
		if biz.MultiAccount {
			steps = append(steps, "Compare accounts")
		}
		return steps
	case TierDrilldown:
		return []string{"Pause an underperforming campaign", "Adjust a campaign budget"}
	case TierActions:
		return []string{"Review pending plans", "Return to account overview"}
	}
	return nil
}
