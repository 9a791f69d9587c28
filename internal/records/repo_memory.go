package records

import (
	"context"
	"sort"
	"sync"
	"time"

	"call-lead-pipeline/internal/calls"
)

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]calls.Record

	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]calls.Record{}, clock: time.Now}
}

func (s *MemoryStore) Upsert(ctx context.Context, callID string, p calls.Patch) (calls.Record, error) {
	if callID == "" {
		return calls.Record{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rows[callID]
	r.CallID = callID
	r.Apply(p, s.clock().UTC())
	s.rows[callID] = r
	return r, nil
}

func (s *MemoryStore) Get(ctx context.Context, callID string) (calls.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[callID]
	if !ok {
		return calls.Record{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]calls.Record, error) {
	s.mu.Lock()
	out := make([]calls.Record, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	s.mu.Unlock()
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(rs []calls.Record) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CallID < rs[j].CallID
		}
		return rs[i].CreatedAt.After(rs[j].CreatedAt)
	})
}
