package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"call-lead-pipeline/internal/calls"
	"call-lead-pipeline/internal/metrics"
)

// Fallback is a local durable store that can also hand back and drop its
// entries for reconciliation.
type Fallback interface {
	Store
	RemoveUnchanged(ctx context.Context, seen map[string]time.Time) ([]string, error)
}

// Gateway routes record operations to the primary store and, on any primary
// error, to the local fallback. Writes are never retried against the
// primary; the fallback absorbs them until Reconcile moves them over.
//
// A nil primary means every operation is served by the fallback.
type Gateway struct {
	primary  Store
	fallback Fallback

	log     *slog.Logger
	metrics *metrics.Registry
}

func NewGateway(primary Store, fallback Fallback, log *slog.Logger, m *metrics.Registry) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{primary: primary, fallback: fallback, log: log, metrics: m}
}

func (g *Gateway) Upsert(ctx context.Context, callID string, p calls.Patch) (calls.Record, error) {
	if callID == "" {
		return calls.Record{}, ErrInvalidInput
	}
	if g.primary != nil {
		r, err := g.primary.Upsert(ctx, callID, p)
		if err == nil {
			return r, nil
		}
		g.log.Warn("primary upsert failed, writing fallback", "call_id", callID, "err", err)
		g.metrics.Fallback("upsert")
	}
	r, err := g.fallback.Upsert(ctx, callID, p)
	if err != nil {
		return calls.Record{}, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return r, nil
}

// Get prefers the primary. Records the primary does not know yet may still
// sit in the fallback, so ErrNotFound also falls through.
func (g *Gateway) Get(ctx context.Context, callID string) (calls.Record, error) {
	if g.primary != nil {
		r, err := g.primary.Get(ctx, callID)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ErrNotFound) {
			g.log.Warn("primary get failed, reading fallback", "call_id", callID, "err", err)
			g.metrics.Fallback("get")
		}
	}
	r, err := g.fallback.Get(ctx, callID)
	if errors.Is(err, ErrNotFound) {
		return calls.Record{}, ErrNotFound
	}
	if err != nil {
		return calls.Record{}, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return r, nil
}

// List returns primary records plus fallback entries the primary does not
// have, newest first. When the primary is down only fallback entries are
// returned.
func (g *Gateway) List(ctx context.Context) ([]calls.Record, error) {
	var out []calls.Record
	seen := map[string]struct{}{}
	if g.primary != nil {
		rs, err := g.primary.List(ctx)
		if err != nil {
			g.log.Warn("primary list failed, reading fallback", "err", err)
			g.metrics.Fallback("list")
		}
		for _, r := range rs {
			seen[r.CallID] = struct{}{}
			out = append(out, r)
		}
	}
	fb, err := g.fallback.List(ctx)
	if err != nil {
		if out == nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
		}
		g.log.Warn("fallback list failed", "err", err)
	}
	for _, r := range fb {
		if _, ok := seen[r.CallID]; ok {
			continue
		}
		out = append(out, r)
	}
	if out == nil {
		out = []calls.Record{}
	}
	sortNewestFirst(out)
	return out, nil
}
