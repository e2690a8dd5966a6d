package agent

import (
	"sync"
	"time"
)

// lockTable serializes request handling per conversation. A lock held past
// the stale threshold is treated as abandoned and taken over, so a crashed
// or wedged request cannot block a conversation forever.
type lockTable struct {
	mu    sync.Mutex
	held  map[string]lockEntry
	next  uint64
	stale time.Duration
}

type lockEntry struct {
	token uint64
	since time.Time
}

func newLockTable(stale time.Duration) *lockTable {
	if stale <= 0 {
		stale = 2 * time.Minute
	}
	return &lockTable{held: make(map[string]lockEntry), stale: stale}
}

// Acquire claims the conversation and returns a release token. Returns
// false when another request holds a fresh lock.
func (t *lockTable) Acquire(conversationID string) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.held[conversationID]; ok && time.Since(e.since) < t.stale {
		return 0, false
	}
	t.next++
	t.held[conversationID] = lockEntry{token: t.next, since: time.Now()}
	return t.next, true
}

// Release frees the conversation only when token still owns the lock. A
// request whose lock was taken over as stale must not evict the new holder.
func (t *lockTable) Release(conversationID string, token uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.held[conversationID]; ok && e.token == token {
		delete(t.held, conversationID)
	}
}
