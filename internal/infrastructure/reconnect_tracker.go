package infrastructure

import (
	"sync"
	"time"
)

const DefaultReconnectLimit = 5

// ReconnectTracker counts consecutive disconnects per instance.
type ReconnectTracker struct {
	mu       sync.Mutex
	attempts map[string]*reconnectState
	limit    int
	now      func() time.Time
}

type reconnectState struct {
	count    int
	lastSeen time.Time
}

func NewReconnectTracker(limit int) *ReconnectTracker {
	if limit <= 0 {
		limit = DefaultReconnectLimit
	}
	return &ReconnectTracker{
		attempts: make(map[string]*reconnectState),
		limit:    limit,
		now:      time.Now,
	}
}

// Failed records one disconnect and reports whether the instance has now
// used up its reconnect attempts.
func (t *ReconnectTracker) Failed(instanceID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.attempts[instanceID]
	if !ok {
		state = &reconnectState{}
		t.attempts[instanceID] = state
	}
	state.count++
	state.lastSeen = t.now()
	return state.count >= t.limit
}

func (t *ReconnectTracker) Attempts(instanceID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state, ok := t.attempts[instanceID]; ok {
		return state.count
	}
	return 0
}

// Reset clears the counter, called once the instance is connected again.
func (t *ReconnectTracker) Reset(instanceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, instanceID)
}

// Prune drops counters that have not moved for longer than maxAge.
func (t *ReconnectTracker) Prune(maxAge time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for id, state := range t.attempts {
		if now.Sub(state.lastSeen) > maxAge {
			delete(t.attempts, id)
		}
	}
}
