package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"call-lead-pipeline/internal/calls"
)

// FileStore keeps call records in a single JSON document keyed by call id.
// Every write is read-merge-write of the whole document so concurrent
// writers for different calls never clobber each other.
type FileStore struct {
	path string

	mu    sync.Mutex
	clock func() time.Time
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, clock: time.Now}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Upsert(ctx context.Context, callID string, p calls.Patch) (calls.Record, error) {
	if callID == "" {
		return calls.Record{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return calls.Record{}, err
	}
	r := doc[callID]
	r.CallID = callID
	r.Apply(p, s.clock().UTC())
	doc[callID] = r
	if err := s.save(doc); err != nil {
		return calls.Record{}, err
	}
	return r, nil
}

func (s *FileStore) Get(ctx context.Context, callID string) (calls.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return calls.Record{}, err
	}
	r, ok := doc[callID]
	if !ok {
		return calls.Record{}, ErrNotFound
	}
	return r, nil
}

func (s *FileStore) List(ctx context.Context) ([]calls.Record, error) {
	s.mu.Lock()
	doc, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]calls.Record, 0, len(doc))
	for _, r := range doc {
		out = append(out, r)
	}
	sortNewestFirst(out)
	return out, nil
}

// RemoveUnchanged drops each id in seen whose stored UpdatedAt still equals
// the given time. Ids written since the snapshot are kept and returned.
func (s *FileStore) RemoveUnchanged(ctx context.Context, seen map[string]time.Time) ([]string, error) {
	if len(seen) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	var kept []string
	for id, at := range seen {
		r, ok := doc[id]
		if !ok {
			continue
		}
		if !r.UpdatedAt.Equal(at) {
			kept = append(kept, id)
			continue
		}
		delete(doc, id)
	}
	if err := s.save(doc); err != nil {
		return nil, err
	}
	return kept, nil
}

func (s *FileStore) load() (map[string]calls.Record, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]calls.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("records: read fallback: %w", err)
	}
	doc := map[string]calls.Record{}
	if len(b) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("records: decode fallback: %w", err)
	}
	return doc, nil
}

// save writes to a temp file in the same directory and renames it over the
// document, so a crash mid-write leaves the previous version intact.
func (s *FileStore) save(doc map[string]calls.Record) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("records: encode fallback: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("records: fallback dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".records-*.json")
	if err != nil {
		return fmt.Errorf("records: fallback temp: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("records: write fallback: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("records: close fallback: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("records: replace fallback: %w", err)
	}
	return nil
}
