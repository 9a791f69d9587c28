package records

import (
	"context"
	"errors"

	"call-lead-pipeline/internal/calls"
)

var (
	ErrNotFound     = errors.New("records: not found")
	ErrInvalidInput = errors.New("records: invalid input")

	// ErrPersistenceUnavailable is returned only when both the primary and
	// the fallback store rejected an operation.
	ErrPersistenceUnavailable = errors.New("records: persistence unavailable")
)

// Store is the persistence contract for call records.
//
// Upsert applies the set fields of a patch to the record keyed by callID,
// creating it when missing. List returns records newest first.
type Store interface {
	Upsert(ctx context.Context, callID string, p calls.Patch) (calls.Record, error)
	Get(ctx context.Context, callID string) (calls.Record, error)
	List(ctx context.Context) ([]calls.Record, error)
}
