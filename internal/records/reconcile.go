package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"call-lead-pipeline/internal/calls"
)

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Pending  int      `json:"pending"`
	Migrated int      `json:"migrated"`
	Changed  []string `json:"changed,omitempty"`
	Failed   []string `json:"failed,omitempty"`
}

type batchUpserter interface {
	UpsertBatch(ctx context.Context, patches map[string]calls.Patch) error
}

var ErrNoPrimary = errors.New("records: no primary store configured")

// Reconcile moves fallback entries into the primary store and drops the ones
// that landed. Fallback fields are applied over whatever the primary holds.
func (g *Gateway) Reconcile(ctx context.Context) (ReconcileResult, error) {
	if g.primary == nil {
		return ReconcileResult{}, ErrNoPrimary
	}
	entries, err := g.fallback.List(ctx)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("records: list fallback: %w", err)
	}
	res := ReconcileResult{Pending: len(entries)}
	if len(entries) == 0 {
		return res, nil
	}

	updated := make(map[string]time.Time, len(entries))
	for _, r := range entries {
		updated[r.CallID] = r.UpdatedAt
	}

	var migrated []string
	if b, ok := g.primary.(batchUpserter); ok {
		patches := make(map[string]calls.Patch, len(entries))
		for _, r := range entries {
			patches[r.CallID] = calls.PatchFrom(r)
		}
		if err := b.UpsertBatch(ctx, patches); err != nil {
			return res, fmt.Errorf("records: reconcile batch: %w", err)
		}
		for _, r := range entries {
			migrated = append(migrated, r.CallID)
		}
	} else {
		for _, r := range entries {
			if _, err := g.primary.Upsert(ctx, r.CallID, calls.PatchFrom(r)); err != nil {
				g.log.Warn("reconcile upsert failed", "call_id", r.CallID, "err", err)
				res.Failed = append(res.Failed, r.CallID)
				continue
			}
			migrated = append(migrated, r.CallID)
		}
	}

	// Entries written to the fallback after the snapshot stay for the next pass.
	seen := make(map[string]time.Time, len(migrated))
	for _, id := range migrated {
		seen[id] = updated[id]
	}
	changed, err := g.fallback.RemoveUnchanged(ctx, seen)
	if err != nil {
		return res, fmt.Errorf("records: prune fallback: %w", err)
	}
	res.Changed = changed
	res.Migrated = len(migrated) - len(changed)
	g.log.Info("fallback reconciled", "pending", res.Pending, "migrated", res.Migrated, "changed", len(changed), "failed", len(res.Failed))
	return res, nil
}
