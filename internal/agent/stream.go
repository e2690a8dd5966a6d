package agent

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProcessStream handles one request and delivers progress as events on the
// returned channel. The channel is bounded; a slow consumer backpressures
// the pipeline rather than growing memory. Exactly one terminal event
// (done or error) is delivered, always last, and then the channel closes.
func (l *Loop) ProcessStream(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 64)
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}

	go func() {
		defer close(events)

		ctx, cancel := context.WithTimeout(ctx, l.streamTimeout)
		defer cancel()

		terminal := func(e Event) {
			select {
			case events <- e:
			case <-time.After(l.streamTimeout):
			}
		}
		emit := func(e Event) bool {
			select {
			case events <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}

		token, ok := l.locks.Acquire(req.ConversationID)
		if !ok {
			terminal(Event{Type: EventDone, Content: busyMessage})
			return
		}
		defer l.locks.Release(req.ConversationID, token)

		t, err := l.prepare(ctx, req)
		if err != nil {
			terminal(Event{Type: EventError, Err: err.Error()})
			return
		}
		emit(Event{Type: EventClassification, Content: string(t.cls.Intent), Data: map[string]any{
			"domains":    t.cls.Domains,
			"confidence": t.cls.Confidence,
		}})

		if t.early != "" {
			if _, err := l.finish(ctx, t, &loopResult{content: t.early}, false); err != nil {
				terminal(Event{Type: EventError, Err: err.Error()})
				return
			}
			terminal(Event{Type: EventDone, Content: t.early})
			return
		}

		res, err := l.runStreamToolLoop(ctx, t, emit)
		if err != nil {
			// Actions that executed before the failure still reach the
			// consumer for partial-result assembly.
			fail := Event{Type: EventError, Err: err.Error()}
			if len(res.actions) > 0 {
				fail.Data = map[string]any{"executed_actions": res.actions}
			}
			terminal(fail)
			return
		}
		resp, err := l.finish(ctx, t, res, true)
		if err != nil {
			terminal(Event{Type: EventError, Err: err.Error()})
			return
		}

		done := Event{Type: EventDone, Content: resp.Content}
		if len(resp.Plans) > 0 {
			done.PlanID = resp.Plans[0].PlanID
		}
		done.Data = map[string]any{}
		if len(resp.Executed) > 0 {
			done.Data["executed_actions"] = resp.Executed
		}
		if len(resp.NextSteps) > 0 {
			done.Data["next_steps"] = resp.NextSteps
		}
		if len(done.Data) == 0 {
			done.Data = nil
		}
		terminal(done)
	}()

	return events
}

// runStreamToolLoop is runToolLoop under the streaming iteration cap.
func (l *Loop) runStreamToolLoop(ctx context.Context, t *turn, emit func(Event) bool) (*loopResult, error) {
	if l.maxStreamIterations < l.maxIterations {
		capped := *l
		capped.maxIterations = l.maxStreamIterations
		return capped.runToolLoop(ctx, t, emit)
	}
	return l.runToolLoop(ctx, t, emit)
}
