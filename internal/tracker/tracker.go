// Package tracker keeps the set of call tasks with a redial in flight.
package tracker

import (
	"sort"
	"sync"
	"time"
)

// Tracker is a mutex-guarded reservation set keyed by call id. A refused
// reservation is final; nothing is queued.
type Tracker struct {
	mu       sync.Mutex
	reserved map[string]time.Time
	now      func() time.Time
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{
		reserved: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Reserve marks id as in flight. It returns false if id is already reserved.
func (t *Tracker) Reserve(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.reserved[id]; ok {
		return false
	}
	t.reserved[id] = t.now()
	return true
}

// Release clears the reservation for id. Releasing an unknown id is a no-op.
func (t *Tracker) Release(id string) {
	t.mu.Lock()
	delete(t.reserved, id)
	t.mu.Unlock()
}

// IsReserved reports whether id currently has a redial in flight.
func (t *Tracker) IsReserved(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.reserved[id]
	return ok
}

// ReservedAt returns when id was reserved.
func (t *Tracker) ReservedAt(id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.reserved[id]
	return at, ok
}

// Reserved returns the reserved ids in sorted order.
func (t *Tracker) Reserved() []string {
	t.mu.Lock()
	ids := make([]string, 0, len(t.reserved))
	for id := range t.reserved {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	sort.Strings(ids)
	return ids
}
