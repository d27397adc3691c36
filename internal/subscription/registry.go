// Package subscription tracks the match topics the client wants live updates
// for. The connection manager replays every tracked topic after a reconnect.
package subscription

import (
	"sync"
	"time"
)

// Entry is the metadata kept for one subscribed topic.
type Entry struct {
	MatchID      int64
	SubscribedAt time.Time
}

// Registry is an insertion-ordered set of subscribed match IDs. Add and
// Remove are idempotent. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]Entry
	order   []int64
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[int64]Entry),
		now:     time.Now,
	}
}

// Add records matchID. Returns false if it was already tracked.
func (r *Registry) Add(matchID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[matchID]; ok {
		return false
	}
	r.entries[matchID] = Entry{MatchID: matchID, SubscribedAt: r.now()}
	r.order = append(r.order, matchID)
	return true
}

// Remove forgets matchID. Returns false if it was not tracked.
func (r *Registry) Remove(matchID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[matchID]; !ok {
		return false
	}
	delete(r.entries, matchID)
	for i, id := range r.order {
		if id == matchID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Has reports whether matchID is tracked.
func (r *Registry) Has(matchID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[matchID]
	return ok
}

// Get returns the entry for matchID.
func (r *Registry) Get(matchID int64) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[matchID]
	return e, ok
}

// IDs returns tracked match IDs in the order they were first added.
func (r *Registry) IDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]int64, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of tracked topics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Clear forgets every topic.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[int64]Entry)
	r.order = nil
}
