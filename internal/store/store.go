// Package store persists conversations, plans, idempotency records, and
// trace events in a local sqlite database.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open store db: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	// Best-effort migrations for existing dbs (no-op when the column exists).
	_, _ = db.Exec(`ALTER TABLE conversations ADD COLUMN clarify_state TEXT`)
	_, _ = db.Exec(`ALTER TABLE plans ADD COLUMN trace_id TEXT`)
	_, _ = db.Exec(`ALTER TABLE plans ADD COLUMN executed_at DATETIME`)
	_, _ = db.Exec(`ALTER TABLE plans ADD COLUMN steps TEXT`)
	_, _ = db.Exec(`ALTER TABLE plans ADD COLUMN total_steps INTEGER NOT NULL DEFAULT 1`)
	_, _ = db.Exec(`ALTER TABLE plans ADD COLUMN executed_steps INTEGER NOT NULL DEFAULT 0`)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- Conversations ---

// UpsertConversation creates the conversation row if missing and returns
// the stored state.
func (s *Store) UpsertConversation(id, channel, businessID, userID, defaultMode string) (*Conversation, error) {
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, channel, business_id, user_id, mode)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = CURRENT_TIMESTAMP`,
		id, channel, businessID, userID, defaultMode)
	if err != nil {
		return nil, fmt.Errorf("upsert conversation: %w", err)
	}
	return s.GetConversation(id)
}

func (s *Store) GetConversation(id string) (*Conversation, error) {
	row := s.db.QueryRow(`
		SELECT id, channel, business_id, user_id, mode, tier_state, clarify_state, created_at, updated_at
		FROM conversations WHERE id = ?`, id)

	var c Conversation
	var tierState, clarifyState sql.NullString
	err := row.Scan(&c.ID, &c.Channel, &c.BusinessID, &c.UserID, &c.Mode,
		&tierState, &clarifyState, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if tierState.Valid && tierState.String != "" {
		c.TierState = json.RawMessage(tierState.String)
	}
	if clarifyState.Valid && clarifyState.String != "" {
		c.ClarifyState = json.RawMessage(clarifyState.String)
	}
	return &c, nil
}

// SetConversationMode changes the operating mode for one conversation.
func (s *Store) SetConversationMode(id, mode string) error {
	_, err := s.db.Exec(`UPDATE conversations SET mode = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, mode, id)
	if err != nil {
		return fmt.Errorf("set conversation mode: %w", err)
	}
	return nil
}

// SaveTierState stores the serialized tier state; nil clears it.
func (s *Store) SaveTierState(id string, state json.RawMessage) error {
	_, err := s.db.Exec(`UPDATE conversations SET tier_state = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		nullableJSON(state), id)
	if err != nil {
		return fmt.Errorf("save tier state: %w", err)
	}
	return nil
}

// SaveClarifyState stores the serialized clarifying state; nil clears it.
func (s *Store) SaveClarifyState(id string, state json.RawMessage) error {
	_, err := s.db.Exec(`UPDATE conversations SET clarify_state = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		nullableJSON(state), id)
	if err != nil {
		return fmt.Errorf("save clarify state: %w", err)
	}
	return nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// --- Messages ---

func (s *Store) AppendMessage(conversationID, role, content, traceID string) error {
	_, err := s.db.Exec(`INSERT INTO messages (conversation_id, role, content, trace_id) VALUES (?, ?, ?, ?)`,
		conversationID, role, content, traceID)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit messages in chronological order.
func (s *Store) RecentMessages(conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, COALESCE(trace_id, ''), created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY id DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.TraceID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// --- Plans ---

func (s *Store) CreatePlan(p *Plan) error {
	if p.Status == "" {
		p.Status = PlanPending
	}
	if p.TotalSteps <= 0 {
		p.TotalSteps = 1
	}
	res, err := s.db.Exec(`
		INSERT INTO plans (plan_id, conversation_id, trace_id, tool, arguments, summary, steps, total_steps, executed_steps, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.PlanID, p.ConversationID, p.TraceID, p.Tool, p.Arguments, p.Summary,
		p.Steps, p.TotalSteps, p.ExecutedSteps, p.Status)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	p.ID, _ = res.LastInsertId()
	return nil
}

func (s *Store) GetPlan(planID string) (*Plan, error) {
	row := s.db.QueryRow(`
		SELECT id, plan_id, conversation_id, COALESCE(trace_id, ''), tool, arguments, summary,
		       COALESCE(steps, ''), total_steps, executed_steps,
		       status, COALESCE(reason, ''), COALESCE(result, ''), created_at, responded_at, executed_at
		FROM plans WHERE plan_id = ?`, planID)
	return scanPlan(row)
}

func scanPlan(row *sql.Row) (*Plan, error) {
	var p Plan
	var respondedAt, executedAt sql.NullTime
	err := row.Scan(&p.ID, &p.PlanID, &p.ConversationID, &p.TraceID, &p.Tool, &p.Arguments,
		&p.Summary, &p.Steps, &p.TotalSteps, &p.ExecutedSteps,
		&p.Status, &p.Reason, &p.Result, &p.CreatedAt, &respondedAt, &executedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	if respondedAt.Valid {
		p.RespondedAt = &respondedAt.Time
	}
	if executedAt.Valid {
		p.ExecutedAt = &executedAt.Time
	}
	return &p, nil
}

// ListPlans returns plans with the given status, newest first. An empty
// status lists all.
func (s *Store) ListPlans(status string, limit int) ([]Plan, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, plan_id, conversation_id, COALESCE(trace_id, ''), tool, arguments, summary,
		       COALESCE(steps, ''), total_steps, executed_steps,
		       status, COALESCE(reason, ''), COALESCE(result, ''), created_at, responded_at, executed_at
		FROM plans`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var out []Plan
	for rows.Next() {
		var p Plan
		var respondedAt, executedAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.PlanID, &p.ConversationID, &p.TraceID, &p.Tool, &p.Arguments,
			&p.Summary, &p.Steps, &p.TotalSteps, &p.ExecutedSteps,
			&p.Status, &p.Reason, &p.Result, &p.CreatedAt, &respondedAt, &executedAt); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		if respondedAt.Valid {
			p.RespondedAt = &respondedAt.Time
		}
		if executedAt.Valid {
			p.ExecutedAt = &executedAt.Time
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TransitionPlan moves a plan from one status to another. It fails when
// the plan is not currently in the expected status, which makes every
// transition one-directional and race-safe.
func (s *Store) TransitionPlan(planID, from, to, reason string) error {
	res, err := s.db.Exec(`
		UPDATE plans SET status = ?, reason = ?,
			responded_at = CASE WHEN ? IN ('approved','rejected','expired') THEN CURRENT_TIMESTAMP ELSE responded_at END,
			executed_at = CASE WHEN ? IN ('completed','failed') THEN CURRENT_TIMESTAMP ELSE executed_at END
		WHERE plan_id = ? AND status = ?`,
		to, reason, to, to, planID, from)
	if err != nil {
		return fmt.Errorf("transition plan: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		cur, err := s.GetPlan(planID)
		if err != nil {
			return err
		}
		return fmt.Errorf("plan %s is %s, expected %s", planID, cur.Status, from)
	}
	return nil
}

// SetPlanResult stores the execution result JSON for a plan.
func (s *Store) SetPlanResult(planID, result string) error {
	_, err := s.db.Exec(`UPDATE plans SET result = ? WHERE plan_id = ?`, result, planID)
	if err != nil {
		return fmt.Errorf("set plan result: %w", err)
	}
	return nil
}

// SetPlanSteps persists step progress for a plan.
func (s *Store) SetPlanSteps(planID, steps string, executedSteps int) error {
	_, err := s.db.Exec(`UPDATE plans SET steps = ?, executed_steps = ? WHERE plan_id = ?`,
		steps, executedSteps, planID)
	if err != nil {
		return fmt.Errorf("set plan steps: %w", err)
	}
	return nil
}

// --- Idempotency ---

// BeginIdempotent claims the key for a new execution. When the key already
// exists the stored record is returned with started=false, so callers can
// replay a completed result or wait out a concurrent run.
func (s *Store) BeginIdempotent(key, conversationID, tool string) (*IdempotencyRecord, bool, error) {
	_, err := s.db.Exec(`
		INSERT INTO idempotency_records (key, conversation_id, tool, status)
		VALUES (?, ?, ?, ?)`, key, conversationID, tool, IdempotencyRunning)
	if err == nil {
		rec, gerr := s.GetIdempotent(key)
		return rec, true, gerr
	}
	rec, gerr := s.GetIdempotent(key)
	if gerr != nil {
		return nil, false, fmt.Errorf("begin idempotent: %w", err)
	}
	return rec, false, nil
}

func (s *Store) GetIdempotent(key string) (*IdempotencyRecord, error) {
	row := s.db.QueryRow(`
		SELECT key, conversation_id, tool, status, COALESCE(result, ''), created_at, completed_at
		FROM idempotency_records WHERE key = ?`, key)

	var r IdempotencyRecord
	var completedAt sql.NullTime
	err := row.Scan(&r.Key, &r.ConversationID, &r.Tool, &r.Status, &r.Result, &r.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotent: %w", err)
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return &r, nil
}

// CompleteIdempotent records the terminal outcome for a claimed key.
func (s *Store) CompleteIdempotent(key, status, result string) error {
	_, err := s.db.Exec(`
		UPDATE idempotency_records SET status = ?, result = ?, completed_at = CURRENT_TIMESTAMP
		WHERE key = ?`, status, result, key)
	if err != nil {
		return fmt.Errorf("complete idempotent: %w", err)
	}
	return nil
}

// ReleaseIdempotent removes a claim so the operation may be retried. Used
// when an attempt fails in a way that should not be replayed.
func (s *Store) ReleaseIdempotent(key string) error {
	_, err := s.db.Exec(`DELETE FROM idempotency_records WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("release idempotent: %w", err)
	}
	return nil
}

// PruneIdempotentBefore drops records older than the cutoff.
func (s *Store) PruneIdempotentBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM idempotency_records WHERE created_at < ?`,
		cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("prune idempotent: %w", err)
	}
	return res.RowsAffected()
}

// --- Trace events ---

func (s *Store) AppendTraceEvent(e *TraceEvent) error {
	res, err := s.db.Exec(`
		INSERT INTO trace_events (trace_id, conversation_id, kind, title, detail)
		VALUES (?, ?, ?, ?, ?)`,
		e.TraceID, e.ConversationID, e.Kind, e.Title, e.Detail)
	if err != nil {
		return fmt.Errorf("append trace event: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

func (s *Store) TraceEvents(traceID string) ([]TraceEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, trace_id, COALESCE(conversation_id, ''), kind, title, COALESCE(detail, ''), created_at
		FROM trace_events WHERE trace_id = ? ORDER BY id`, traceID)
	if err != nil {
		return nil, fmt.Errorf("trace events: %w", err)
	}
	defer rows.Close()

	var out []TraceEvent
	for rows.Next() {
		var e TraceEvent
		if err := rows.Scan(&e.ID, &e.TraceID, &e.ConversationID, &e.Kind, &e.Title, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trace event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Settings ---

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SettingDuration reads a setting holding a number of seconds. Unset or
// unparsable values return the fallback.
func (s *Store) SettingDuration(key string, fallback time.Duration) time.Duration {
	v, err := s.GetSetting(key)
	if err != nil || strings.TrimSpace(v) == "" {
		return fallback
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
