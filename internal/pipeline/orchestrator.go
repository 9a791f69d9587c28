// Package pipeline sequences a finished call recording through
// transcription, extraction and notification.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"call-lead-pipeline/internal/agents"
	"call-lead-pipeline/internal/audit"
	"call-lead-pipeline/internal/broadcast"
	"call-lead-pipeline/internal/calls"
	"call-lead-pipeline/internal/extraction"
	"call-lead-pipeline/internal/metrics"
	"call-lead-pipeline/internal/notify"
	"call-lead-pipeline/internal/records"
	"call-lead-pipeline/internal/transcription"
	"call-lead-pipeline/pkg/logger"
)

var ErrInvalidEvent = errors.New("pipeline: invalid recording event")

// RecordingStatusCompleted is the only recording status that starts a run.
const RecordingStatusCompleted = "completed"

// RecordingEvent is the recording lifecycle webhook payload.
type RecordingEvent struct {
	RecordingID     string
	RecordingStatus string
	RecordingURL    string
	CallID          string
	DurationSeconds int
}

// Trigger reports whether ev should start the batch pipeline.
func (ev RecordingEvent) Trigger() bool {
	return ev.RecordingStatus == RecordingStatusCompleted && ev.RecordingURL != ""
}

type Transcriber interface {
	Submit(ctx context.Context, loc transcription.RecordingLocator) (transcription.JobHandle, error)
	AwaitCompletion(ctx context.Context, h transcription.JobHandle, maxWait, pollInterval time.Duration) (transcription.Result, error)
}

type Extractor interface {
	Extract(ctx context.Context, t calls.Transcript) (extraction.Record, error)
}

type Notifier interface {
	Dispatch(ctx context.Context, l notify.Lead) notify.Outcome
}

type Config struct {
	PollInterval time.Duration
	MaxAttempts  int
}

func (c Config) maxWait() time.Duration { return c.PollInterval * time.Duration(c.MaxAttempts) }

// DefaultConfig polls every 5s for up to 60 attempts.
func DefaultConfig() Config { return Config{PollInterval: 5 * time.Second, MaxAttempts: 60} }

type Deps struct {
	Store       records.Store
	Registry    transcription.Registry
	Transcriber Transcriber
	Extractor   Extractor
	Notifier    Notifier
	Publisher   broadcast.Publisher
	Agents      *agents.Directory
	Audit       *audit.Service
	Metrics     *metrics.Registry
	Log         *slog.Logger
}

// Orchestrator owns the per-call pipeline state. All writes for a run go
// through the Store; every transition is persisted, broadcast and counted.
type Orchestrator struct {
	d     Deps
	cfg   Config
	clock func() time.Time
	wg    sync.WaitGroup
}

func NewOrchestrator(d Deps, cfg Config) *Orchestrator {
	if cfg.PollInterval <= 0 || cfg.MaxAttempts <= 0 {
		def := DefaultConfig()
		if cfg.PollInterval <= 0 {
			cfg.PollInterval = def.PollInterval
		}
		if cfg.MaxAttempts <= 0 {
			cfg.MaxAttempts = def.MaxAttempts
		}
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Orchestrator{d: d, cfg: cfg, clock: time.Now}
}

// HandleRecordingCompleted starts a run for ev and returns without waiting
// for it. It returns false when ev is not a trigger or the recording already
// has a run in flight or completed.
func (o *Orchestrator) HandleRecordingCompleted(ctx context.Context, ev RecordingEvent) (bool, error) {
	if !ev.Trigger() {
		return false, nil
	}
	if ev.CallID == "" || ev.RecordingID == "" {
		return false, fmt.Errorf("%w: missing call or recording id", ErrInvalidEvent)
	}
	log := o.d.Log.With("call_id", ev.CallID, "recording_id", ev.RecordingID)

	existing, err := o.d.Store.Get(ctx, ev.CallID)
	switch {
	case err == nil:
		if existing.RecordingID == ev.RecordingID && (existing.Stage.InFlight() || existing.Stage == calls.StageDone) {
			log.Info("duplicate recording event ignored", "stage", existing.Stage)
			return false, nil
		}
	case !errors.Is(err, records.ErrNotFound):
		log.Warn("existing record lookup failed", "err", err)
	}

	claimed, err := o.d.Registry.Claim(ctx, ev.RecordingID)
	if err != nil {
		return false, fmt.Errorf("claim recording %s: %w", ev.RecordingID, err)
	}
	if !claimed {
		log.Info("duplicate recording event ignored")
		return false, nil
	}

	now := o.clock().UTC()
	err = o.transition(logger.With(ctx, log), ev, calls.StageRecordingPending, "", calls.Patch{
		RecordingID:      calls.Ptr(ev.RecordingID),
		RecordingURL:     calls.Ptr(ev.RecordingURL),
		DurationSeconds:  calls.Ptr(ev.DurationSeconds),
		TranscriptStatus: calls.Ptr(calls.TranscriptStatusPending),
		FailedStage:      calls.Ptr(calls.Stage("")),
		FailureReason:    calls.Ptr(""),
		CreatedAt:        &now,
	})
	if err != nil {
		if ferr := o.d.Registry.Finish(ctx, ev.RecordingID, transcription.JobFailed); ferr != nil {
			log.Warn("registry finish failed", "err", ferr)
		}
		return false, err
	}

	runCtx := logger.With(context.WithoutCancel(ctx), log)
	o.wg.Add(1)
	go o.run(runCtx, ev)
	return true, nil
}

// Wait blocks until every started run has finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) run(ctx context.Context, ev RecordingEvent) {
	defer o.wg.Done()
	log := logger.From(ctx)

	stage := calls.StageRecordingPending
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic", "stage", stage, "panic", r, "stack", string(debug.Stack()))
			o.fail(ctx, ev, stage, calls.ReasonInternal, fmt.Errorf("panic: %v", r))
		}
	}()

	stage = calls.StageTranscribing
	_ = o.transition(ctx, ev, stage, "", calls.Patch{TranscriptStatus: calls.Ptr(calls.TranscriptStatusProcessing)})

	h, err := o.d.Transcriber.Submit(ctx, transcription.RecordingLocator{
		CallID:      ev.CallID,
		RecordingID: ev.RecordingID,
		URL:         ev.RecordingURL,
	})
	if err != nil {
		o.fail(ctx, ev, stage, failureReason(err), err)
		return
	}
	o.write(ctx, ev.CallID, calls.Patch{TranscriptID: calls.Ptr(h.ProviderJobID)})

	res, err := o.d.Transcriber.AwaitCompletion(ctx, h, o.cfg.maxWait(), o.cfg.PollInterval)
	if err != nil {
		o.fail(ctx, ev, stage, failureReason(err), err)
		return
	}
	if err := o.d.Registry.Finish(ctx, ev.RecordingID, transcription.JobCompleted); err != nil {
		log.Warn("registry finish failed", "err", err)
	}
	o.write(ctx, ev.CallID, calls.Patch{
		TranscriptText:   calls.Ptr(res.Text),
		TranscriptStatus: calls.Ptr(calls.TranscriptStatusCompleted),
	})
	o.publish(broadcast.Event{
		Kind:          broadcast.KindTranscriptionReady,
		CallID:        ev.CallID,
		RecordingID:   ev.RecordingID,
		Transcription: res.Text,
	})
	log.Info("transcription completed", "attempts", res.Attempts, "chars", len(res.Text))

	stage = calls.StageExtracting
	_ = o.transition(ctx, ev, stage, "", calls.Patch{})

	var extracted *extraction.Record
	patch := calls.Patch{Extraction: json.RawMessage("null"), NeedsReview: calls.Ptr(true)}
	rec, err := o.d.Extractor.Extract(ctx, res.Transcript)
	if err != nil {
		log.Warn("extraction unavailable, flagging for review", "err", err)
	} else {
		extracted = &rec
		if b, err := json.Marshal(rec); err == nil {
			patch.Extraction = b
		}
		patch.NeedsReview = calls.Ptr(rec.NeedsReview())
		b := rec.Fields.Borrower
		if b.FullName.Present() {
			patch.CustomerName = calls.Ptr(string(b.FullName))
		}
		if b.EmailAddress.Present() {
			patch.CustomerEmail = calls.Ptr(string(b.EmailAddress))
		}
		if b.PhoneNumber.Present() {
			patch.CustomerPhone = calls.Ptr(string(b.PhoneNumber))
		}
	}

	stage = calls.StageNotifying
	_ = o.transition(ctx, ev, stage, "", patch)

	out := o.d.Notifier.Dispatch(ctx, o.lead(ctx, ev, extracted, res.Text))
	if err := out.Err(); err != nil {
		log.Warn("notification incomplete", "err", err)
	}

	done := calls.Patch{LeadAlert: &out.LeadAlert, CustomerFollowUp: out.CustomerFollowUp}
	stage = calls.StageDone
	_ = o.transition(ctx, ev, stage, "", done)
	log.Info("pipeline done")
}

// transition persists stage with p, then emits the broadcast, metric and
// audit entry. The broadcast is emitted even when persistence failed.
func (o *Orchestrator) transition(ctx context.Context, ev RecordingEvent, stage calls.Stage, reason string, p calls.Patch) error {
	p.Stage = calls.Ptr(stage)
	_, err := o.d.Store.Upsert(ctx, ev.CallID, p)
	if err != nil {
		logger.From(ctx).Error("persist stage failed", "stage", stage, "err", err)
	}
	o.publish(broadcast.Event{
		Kind:          broadcast.KindPipelineStage,
		CallID:        ev.CallID,
		RecordingID:   ev.RecordingID,
		Stage:         string(stage),
		FailureReason: reason,
	})
	o.d.Metrics.Transition(string(stage))
	if o.d.Audit != nil {
		if aerr := o.d.Audit.LogTransition(ctx, ev.CallID, ev.RecordingID, string(stage), reason); aerr != nil {
			logger.From(ctx).Debug("audit transition failed", "err", aerr)
		}
	}
	return err
}

func (o *Orchestrator) fail(ctx context.Context, ev RecordingEvent, at calls.Stage, reason string, cause error) {
	logger.From(ctx).Error("pipeline failed", "stage", at, "reason", reason, "err", cause)
	p := calls.Patch{
		FailedStage:   calls.Ptr(at),
		FailureReason: calls.Ptr(reason),
	}
	if at == calls.StageTranscribing || at == calls.StageRecordingPending {
		p.TranscriptStatus = calls.Ptr(calls.TranscriptStatusFailed)
	}
	_ = o.transition(ctx, ev, calls.StageFailed, reason, p)
	if err := o.d.Registry.Finish(ctx, ev.RecordingID, transcription.JobFailed); err != nil {
		logger.From(ctx).Warn("registry finish failed", "err", err)
	}
}

func (o *Orchestrator) write(ctx context.Context, callID string, p calls.Patch) {
	if _, err := o.d.Store.Upsert(ctx, callID, p); err != nil {
		logger.From(ctx).Error("persist failed", "err", err)
	}
}

func (o *Orchestrator) publish(ev broadcast.Event) {
	if o.d.Publisher == nil {
		return
	}
	ev.Timestamp = o.clock().UTC()
	o.d.Publisher.Publish(ev)
}

// lead assembles the notification input. The agent recorded on the call
// wins; otherwise the directory default is used.
func (o *Orchestrator) lead(ctx context.Context, ev RecordingEvent, rec *extraction.Record, transcript string) notify.Lead {
	l := notify.Lead{
		CallID:          ev.CallID,
		CallDate:        o.clock(),
		DurationSeconds: ev.DurationSeconds,
		Extraction:      rec,
		Transcript:      transcript,
	}
	r, err := o.d.Store.Get(ctx, ev.CallID)
	if err == nil && !r.CreatedAt.IsZero() {
		l.CallDate = r.CreatedAt
	}
	if err == nil && r.AgentID != "" {
		if a, aerr := o.d.Agents.Get(r.AgentID); aerr == nil {
			l.Agent = a
			return l
		}
	}
	l.Agent, _ = o.d.Agents.Default()
	return l
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, transcription.ErrUploadFailed):
		return calls.ReasonUploadFailed
	case errors.Is(err, transcription.ErrTranscriptionFailed):
		return calls.ReasonTranscriptionFailed
	case errors.Is(err, transcription.ErrTimeout):
		return calls.ReasonTimeout
	default:
		return calls.ReasonInternal
	}
}
