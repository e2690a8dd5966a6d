package store

import (
	"encoding/json"
	"time"
)

// Conversation is the persisted per-conversation state.
type Conversation struct {
	ID           string          `json:"id"`
	Channel      string          `json:"channel"`
	BusinessID   string          `json:"business_id"`
	UserID       string          `json:"user_id"`
	Mode         string          `json:"mode"`
	TierState    json.RawMessage `json:"tier_state,omitempty"`
	ClarifyState json.RawMessage `json:"clarify_state,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Message is one turn of conversation history.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // user, assistant, tool
	Content        string    `json:"content"`
	TraceID        string    `json:"trace_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Plan is a pending action awaiting explicit approval. A plan carries one
// or more steps; Tool/Arguments/Summary mirror the first step for display.
type Plan struct {
	ID             int64      `json:"id"`
	PlanID         string     `json:"plan_id"`
	ConversationID string     `json:"conversation_id"`
	TraceID        string     `json:"trace_id,omitempty"`
	Tool           string     `json:"tool"`
	Arguments      string     `json:"arguments"` // JSON object
	Summary        string     `json:"summary"`
	Steps          string     `json:"steps,omitempty"` // JSON array of PlanStep
	TotalSteps     int        `json:"total_steps"`
	ExecutedSteps  int        `json:"executed_steps"`
	Status         string     `json:"status"`
	Reason         string     `json:"reason,omitempty"`
	Result         string     `json:"result,omitempty"` // JSON tool result
	CreatedAt      time.Time  `json:"created_at"`
	RespondedAt    *time.Time `json:"responded_at,omitempty"`
	ExecutedAt     *time.Time `json:"executed_at,omitempty"`
}

// PlanStep is one gated tool call inside a plan.
type PlanStep struct {
	Index     int    `json:"index"`
	Tool      string `json:"tool"`
	Arguments string `json:"arguments"` // JSON object
	Summary   string `json:"summary,omitempty"`
	Status    string `json:"status"`
	Result    string `json:"result,omitempty"`
}

// Step statuses.
const (
	StepPending   = "pending"
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// StepList decodes the plan's step array. A plan persisted without steps
// decodes as a single step built from the plan's own tool and arguments.
func (p *Plan) StepList() ([]PlanStep, error) {
	if p.Steps == "" {
		return []PlanStep{{Tool: p.Tool, Arguments: p.Arguments, Summary: p.Summary, Status: StepPending}}, nil
	}
	var steps []PlanStep
	if err := json.Unmarshal([]byte(p.Steps), &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

// Plan statuses. Transitions are one-directional:
// pending -> approved|rejected|expired, approved -> executing -> completed|failed.
const (
	PlanPending   = "pending"
	PlanApproved  = "approved"
	PlanRejected  = "rejected"
	PlanExpired   = "expired"
	PlanExecuting = "executing"
	PlanCompleted = "completed"
	PlanFailed    = "failed"
)

// IdempotencyRecord tracks one keyed execution attempt.
type IdempotencyRecord struct {
	Key            string     `json:"key"`
	ConversationID string     `json:"conversation_id"`
	Tool           string     `json:"tool"`
	Status         string     `json:"status"` // running, completed, failed
	Result         string     `json:"result,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

const (
	IdempotencyRunning   = "running"
	IdempotencyCompleted = "completed"
	IdempotencyFailed    = "failed"
)

// TraceEvent is one audit entry tied to a trace.
type TraceEvent struct {
	ID             int64     `json:"id"`
	TraceID        string    `json:"trace_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Kind           string    `json:"kind"` // classification, policy, tool, approval, response
	Title          string    `json:"title"`
	Detail         string    `json:"detail,omitempty"` // JSON blob
	CreatedAt      time.Time `json:"created_at"`
}

const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	channel TEXT NOT NULL DEFAULT '',
	business_id TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL DEFAULT 'auto',
	tier_state TEXT,
	clarify_state TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	trace_id TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);

CREATE TABLE IF NOT EXISTS plans (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	plan_id TEXT UNIQUE NOT NULL,
	conversation_id TEXT NOT NULL,
	trace_id TEXT,
	tool TEXT NOT NULL,
	arguments TEXT NOT NULL DEFAULT '{}',
	summary TEXT NOT NULL DEFAULT '',
	steps TEXT,
	total_steps INTEGER NOT NULL DEFAULT 1,
	executed_steps INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	reason TEXT,
	result TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	responded_at DATETIME,
	executed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status);
CREATE INDEX IF NOT EXISTS idx_plans_conversation ON plans(conversation_id);

CREATE TABLE IF NOT EXISTS idempotency_records (
	key TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	tool TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'running',
	result TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_idempotency_created ON idempotency_records(created_at);

CREATE TABLE IF NOT EXISTS trace_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT NOT NULL,
	conversation_id TEXT,
	kind TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	detail TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_trace_events_trace ON trace_events(trace_id);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT,
	updated_at DATETIME
);
`
