package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"call-lead-pipeline/internal/calls"
	"call-lead-pipeline/internal/metrics"
	"call-lead-pipeline/pkg/logger"

	"github.com/google/uuid"
)

// Manager drives one recording through upload, job creation and polling.
// It performs no persistence; callers record progress themselves.
type Manager struct {
	provider Provider
	fetcher  RecordingFetcher
	cfg      JobConfig
	metrics  *metrics.Registry

	clock func() time.Time
}

func NewManager(p Provider, f RecordingFetcher, cfg JobConfig, m *metrics.Registry) *Manager {
	return &Manager{provider: p, fetcher: f, cfg: cfg, metrics: m, clock: time.Now}
}

// Submit fetches the recording, re-uploads it to the provider and creates
// the job. Fetch or upload errors are wrapped in ErrUploadFailed and are
// not retried here.
func (m *Manager) Submit(ctx context.Context, loc RecordingLocator) (JobHandle, error) {
	h := JobHandle{
		ID:          uuid.NewString(),
		CallID:      loc.CallID,
		RecordingID: loc.RecordingID,
		State:       JobUploading,
	}
	log := logger.From(ctx).With("recording_id", loc.RecordingID, "job_id", h.ID)

	if strings.TrimSpace(loc.URL) == "" {
		h.State = JobFailed
		return h, fmt.Errorf("%w: empty recording url", ErrUploadFailed)
	}

	audio, err := m.fetcher.FetchRecording(ctx, loc.URL)
	if err != nil {
		h.State = JobFailed
		return h, fmt.Errorf("%w: fetch recording: %v", ErrUploadFailed, err)
	}
	defer audio.Close()

	uploadURL, err := m.provider.Upload(ctx, audio)
	if err != nil {
		h.State = JobFailed
		return h, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	log.Debug("recording uploaded")

	jobID, err := m.provider.CreateJob(ctx, uploadURL, m.cfg)
	if err != nil {
		h.State = JobFailed
		return h, fmt.Errorf("%w: create job: %v", ErrTranscriptionFailed, err)
	}
	h.ProviderJobID = jobID
	h.State = JobSubmitted
	h.SubmittedAt = m.clock().UTC()
	log.Info("transcription job submitted", "provider_job_id", jobID)
	return h, nil
}

// AwaitCompletion polls the job every pollInterval until it is terminal.
// The attempt ceiling is maxWait/pollInterval; reaching it yields
// ErrTimeout. A status read error counts as an attempt and polling goes on.
func (m *Manager) AwaitCompletion(ctx context.Context, h JobHandle, maxWait, pollInterval time.Duration) (Result, error) {
	if h.ProviderJobID == "" {
		return Result{Handle: h}, ErrInvalidHandle
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	maxAttempts := int(maxWait / pollInterval)
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	log := logger.From(ctx).With("recording_id", h.RecordingID, "provider_job_id", h.ProviderJobID)

	h.State = JobPolling
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			h.State = JobFailed
			return Result{Handle: h, Attempts: attempt - 1}, ctx.Err()
		case <-timer.C:
		}

		m.metrics.Poll()
		st, err := m.provider.GetJob(ctx, h.ProviderJobID)
		if err != nil {
			log.Warn("transcription status read failed", "attempt", attempt, "err", err)
			timer.Reset(pollInterval)
			continue
		}

		switch st.Status {
		case StatusCompleted:
			res := completedResult(h, st, attempt)
			if strings.TrimSpace(res.Text) == "" {
				res.Handle.State = JobFailed
				return res, fmt.Errorf("%w: completed with empty transcript", ErrTranscriptionFailed)
			}
			log.Info("transcription completed", "attempts", attempt, "chars", len(res.Text))
			return res, nil
		case StatusError:
			h.State = JobFailed
			return Result{Handle: h, Attempts: attempt}, fmt.Errorf("%w: %s", ErrTranscriptionFailed, st.Error)
		default:
			log.Debug("transcription pending", "attempt", attempt, "status", st.Status)
		}
		timer.Reset(pollInterval)
	}

	h.State = JobFailed
	return Result{Handle: h, Attempts: maxAttempts}, fmt.Errorf("%w after %d attempts", ErrTimeout, maxAttempts)
}

func completedResult(h JobHandle, st JobStatus, attempts int) Result {
	h.State = JobCompleted
	res := Result{Handle: h, Attempts: attempts}
	if len(st.Turns) > 0 {
		res.Transcript = calls.DiarizedTurns(st.Turns)
	} else {
		res.Transcript = calls.PlainText(st.Text)
	}
	res.Text = st.Text
	if res.Text == "" {
		res.Text = res.Transcript.Flatten()
	}
	return res
}

// LogValue renders the handle as a log group.
func (h JobHandle) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("job_id", h.ID),
		slog.String("recording_id", h.RecordingID),
		slog.String("provider_job_id", h.ProviderJobID),
		slog.String("state", string(h.State)),
	)
}
