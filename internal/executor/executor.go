// Package executor runs tools with validation, timeouts, and idempotent
// replay of recent identical calls.
package executor

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/adpilot-ai/adpilot/internal/store"
	"github.com/adpilot-ai/adpilot/internal/tools"
)

// RecordStore persists idempotency claims across turns and restarts.
// *store.Store satisfies it.
type RecordStore interface {
	BeginIdempotent(key, conversationID, tool string) (*store.IdempotencyRecord, bool, error)
	GetIdempotent(key string) (*store.IdempotencyRecord, error)
	CompleteIdempotent(key, status, result string) error
	ReleaseIdempotent(key string) error
}

// TimeoutError reports a tool call that exceeded its per-tool deadline.
type TimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %s timed out after %s", e.Tool, e.Timeout)
}

// Executor owns the idempotent tool-execution path. Calls with the same
// canonical key inside the freshness window replay the recorded result
// instead of re-running the side effect.
type Executor struct {
	registry *tools.Registry
	records  RecordStore
	window   time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

func New(registry *tools.Registry, records RecordStore, window time.Duration, logger *slog.Logger) *Executor {
	if window <= 0 {
		window = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		records:  records,
		window:   window,
		logger:   logger,
		inflight: make(map[string]chan struct{}),
	}
}

// Key derives the canonical idempotency key for one tool call. The key is
// scoped to the conversation so identical calls in different conversations
// never collide.
func Key(conversationID, tool string, params map[string]any) string {
	h := sha1.New()
	h.Write([]byte(conversationID))
	h.Write([]byte{0})
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(canonicalJSON(params))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON renders a value with object keys sorted, so two
// semantically identical parameter maps always produce the same bytes.
func canonicalJSON(v any) []byte {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, _ := json.Marshal(k)
			out = append(out, kb...)
			out = append(out, ':')
			out = append(out, canonicalJSON(t[k])...)
		}
		return append(out, '}')
	case []any:
		out := []byte{'['}
		for i, e := range t {
			if i > 0 {
				out = append(out, ',')
			}
			out = append(out, canonicalJSON(e)...)
		}
		return append(out, ']')
	case float64:
		// Render integral floats without the decimal point so 5 and 5.0
		// produce the same key.
		if t == float64(int64(t)) {
			return []byte(strconv.FormatInt(int64(t), 10))
		}
		b, _ := json.Marshal(t)
		return b
	default:
		b, _ := json.Marshal(t)
		return b
	}
}

// Execute validates and runs the named tool. Write tools go through the
// idempotency path; read tools run directly.
func (e *Executor) Execute(ctx context.Context, conversationID, name string, params map[string]any) (*tools.Result, error) {
	tool, ok := e.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	if err := e.registry.Validate(name, params); err != nil {
		return nil, err
	}

	meta := tool.Meta()
	if !meta.Write {
		return e.run(ctx, tool, params)
	}
	return e.executeIdempotent(ctx, conversationID, tool, params)
}

func (e *Executor) executeIdempotent(ctx context.Context, conversationID string, tool tools.Tool, params map[string]any) (*tools.Result, error) {
	key := Key(conversationID, tool.Name(), params)

	for {
		rec, started, err := e.records.BeginIdempotent(key, conversationID, tool.Name())
		if err != nil {
			return nil, fmt.Errorf("idempotency claim: %w", err)
		}
		if started {
			return e.runClaimed(ctx, key, tool, params)
		}

		switch rec.Status {
		case store.IdempotencyRunning:
			// Same-process duplicates wait for the first caller; a stale
			// claim (crashed run) is released after the window.
			if time.Since(rec.CreatedAt) > e.window {
				if err := e.records.ReleaseIdempotent(key); err != nil {
					return nil, err
				}
				continue
			}
			if err := e.waitForResult(ctx, key); err != nil {
				return nil, err
			}
			continue
		case store.IdempotencyCompleted, store.IdempotencyFailed:
			if time.Since(rec.CreatedAt) <= e.window {
				return replayResult(rec)
			}
			// Stale result: the window has passed, run it again.
			if err := e.records.ReleaseIdempotent(key); err != nil {
				return nil, err
			}
			continue
		default:
			return nil, fmt.Errorf("idempotency record %s has unknown status %q", key, rec.Status)
		}
	}
}

func (e *Executor) runClaimed(ctx context.Context, key string, tool tools.Tool, params map[string]any) (*tools.Result, error) {
	done := make(chan struct{})
	e.mu.Lock()
	e.inflight[key] = done
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, key)
		e.mu.Unlock()
		close(done)
	}()

	result, err := e.run(ctx, tool, params)
	if err != nil {
		// Transport errors and timeouts release the claim so a retry can
		// run the call for real.
		if rerr := e.records.ReleaseIdempotent(key); rerr != nil {
			e.logger.Warn("failed to release idempotency claim", "key", key, "error", rerr)
		}
		return nil, err
	}

	status := store.IdempotencyCompleted
	if !result.Success {
		status = store.IdempotencyFailed
	}
	payload, merr := json.Marshal(result)
	if merr != nil {
		payload = []byte(`{}`)
	}
	if cerr := e.records.CompleteIdempotent(key, status, string(payload)); cerr != nil {
		e.logger.Warn("failed to record idempotent result", "key", key, "error", cerr)
	}
	return result, nil
}

func (e *Executor) waitForResult(ctx context.Context, key string) error {
	e.mu.Lock()
	done, ok := e.inflight[key]
	e.mu.Unlock()

	if ok {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	// Claim held by another process: poll until it resolves.
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rec, err := e.records.GetIdempotent(key)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if rec.Status != store.IdempotencyRunning {
				return nil
			}
		}
	}
}

func replayResult(rec *store.IdempotencyRecord) (*tools.Result, error) {
	var result tools.Result
	if err := json.Unmarshal([]byte(rec.Result), &result); err != nil {
		return nil, fmt.Errorf("replay idempotent result: %w", err)
	}
	result.Cached = true
	return &result, nil
}

// run executes one tool call under its per-tool timeout.
func (e *Executor) run(ctx context.Context, tool tools.Tool, params map[string]any) (*tools.Result, error) {
	meta := tool.Meta()
	timeout := meta.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := tool.Execute(ctx, params)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.logger.Warn("tool timed out", "tool", tool.Name(), "timeout", timeout)
			return nil, &TimeoutError{Tool: tool.Name(), Timeout: timeout}
		}
		return nil, err
	}
	e.logger.Debug("tool executed", "tool", tool.Name(), "duration_ms", elapsed.Milliseconds(), "success", result.Success)
	return result, nil
}
