package audit

import (
	"context"
	"sync"
)

// memoryLimit caps the in-process history; the oldest events go first.
const memoryLimit = 10000

// MemoryRepo keeps audit events in process, used when no database is
// configured and in tests. History is lost on restart; the call record in
// the persistence gateway remains the source of truth.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
	limit  int
	byCall map[string]int // call id -> events currently held
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{limit: memoryLimit, byCall: map[string]int{}}
}

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) >= r.limit {
		old := r.events[0]
		r.events = r.events[1:]
		if r.byCall[old.CallID]--; r.byCall[old.CallID] <= 0 {
			delete(r.byCall, old.CallID)
		}
	}
	r.events = append(r.events, e)
	r.byCall[e.CallID]++
	return nil
}

// Events returns a copy of every held event in append order.
func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// ForCall returns the events of one call in append order.
func (r *MemoryRepo) ForCall(ctx context.Context, callID string) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, r.byCall[callID])
	for _, e := range r.events {
		if e.CallID == callID {
			out = append(out, e)
		}
	}
	return out, nil
}
