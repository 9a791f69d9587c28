package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"call-lead-pipeline/internal/agents"
	"call-lead-pipeline/internal/audit"
	"call-lead-pipeline/internal/broadcast"
	"call-lead-pipeline/internal/calls"
	"call-lead-pipeline/internal/extraction"
	"call-lead-pipeline/internal/notify"
	"call-lead-pipeline/internal/records"
	"call-lead-pipeline/internal/transcription"
)

type fakeTranscriber struct {
	mu        sync.Mutex
	submits   int
	submitErr error
	awaitErr  error
	text      string
	maxWait   time.Duration
}

func (f *fakeTranscriber) Submit(_ context.Context, loc transcription.RecordingLocator) (transcription.JobHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		return transcription.JobHandle{}, f.submitErr
	}
	return transcription.JobHandle{ID: "job-1", CallID: loc.CallID, RecordingID: loc.RecordingID, ProviderJobID: "aai-1", State: transcription.JobPolling}, nil
}

func (f *fakeTranscriber) AwaitCompletion(_ context.Context, h transcription.JobHandle, maxWait, _ time.Duration) (transcription.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxWait = maxWait
	if f.awaitErr != nil {
		return transcription.Result{}, f.awaitErr
	}
	return transcription.Result{Handle: h, Transcript: calls.PlainText(f.text), Text: f.text, Attempts: 3}, nil
}

func (f *fakeTranscriber) Submits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

type fakeExtractor struct {
	rec   extraction.Record
	err   error
	panic bool
}

func (f *fakeExtractor) Extract(context.Context, calls.Transcript) (extraction.Record, error) {
	if f.panic {
		panic("extractor exploded")
	}
	return f.rec, f.err
}

type fakeNotifier struct {
	mu    sync.Mutex
	leads []notify.Lead
}

func (f *fakeNotifier) Dispatch(_ context.Context, l notify.Lead) notify.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leads = append(f.leads, l)
	now := time.Now().UTC()
	return notify.Outcome{LeadAlert: calls.Delivery{Sent: true, SentAt: &now, MessageID: "<m1>", Recipient: l.Agent.Email}}
}

type harness struct {
	o     *Orchestrator
	store *records.MemoryStore
	tr    *fakeTranscriber
	ex    *fakeExtractor
	nt    *fakeNotifier
	hub   *broadcast.Hub
	audit *audit.MemoryRepo
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir, err := agents.NewDirectory(agents.Agent{ID: "tony", Name: "Tony Nasim", Phone: "+13105550100", Email: "tony@example.com"})
	if err != nil {
		t.Fatalf("agents: %v", err)
	}
	h := &harness{
		store: records.NewMemoryStore(),
		tr:    &fakeTranscriber{text: "Speaker A: I want to refinance"},
		ex: &fakeExtractor{rec: extraction.Record{
			Fields:          extraction.Fields{Borrower: extraction.BorrowerInformation{FullName: "Ana Diaz", EmailAddress: "ana@example.com"}},
			ConfidenceScore: 90,
		}},
		nt:    &fakeNotifier{},
		hub:   broadcast.NewHub(64, nil),
		audit: audit.NewMemoryRepo(),
	}
	h.o = NewOrchestrator(Deps{
		Store:       h.store,
		Registry:    transcription.NewCacheRegistry(time.Hour),
		Transcriber: h.tr,
		Extractor:   h.ex,
		Notifier:    h.nt,
		Publisher:   h.hub,
		Agents:      dir,
		Audit:       audit.NewService(h.audit),
	}, Config{PollInterval: 5 * time.Second, MaxAttempts: 60})
	return h
}

func completed(callID, recordingID string) RecordingEvent {
	return RecordingEvent{
		RecordingID:     recordingID,
		RecordingStatus: "completed",
		RecordingURL:    "https://api.twilio.com/recordings/" + recordingID,
		CallID:          callID,
		DurationSeconds: 95,
	}
}

func drain(sub *broadcast.Subscription) []broadcast.Event {
	var out []broadcast.Event
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func stages(evs []broadcast.Event) []string {
	var out []string
	for _, ev := range evs {
		if ev.Kind == broadcast.KindPipelineStage {
			out = append(out, ev.Stage)
		} else {
			out = append(out, string(ev.Kind))
		}
	}
	return out
}

func TestPipelineCompletesInOrder(t *testing.T) {
	h := newHarness(t)
	sub := h.hub.Subscribe("CA1")
	defer sub.Close()

	started, err := h.o.HandleRecordingCompleted(context.Background(), completed("CA1", "RE1"))
	if err != nil || !started {
		t.Fatalf("expected run to start, got %v %v", started, err)
	}
	h.o.Wait()

	got := fmt.Sprint(stages(drain(sub)))
	want := "[recording_pending transcribing transcription-ready extracting notifying done]"
	if got != want {
		t.Fatalf("unexpected event order:\n got %s\nwant %s", got, want)
	}

	rec, err := h.store.Get(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Stage != calls.StageDone || rec.TranscriptStatus != calls.TranscriptStatusCompleted {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.TranscriptID != "aai-1" || rec.RecordingID != "RE1" || rec.DurationSeconds != 95 {
		t.Fatalf("missing run metadata: %+v", rec)
	}
	if rec.NeedsReview || rec.CustomerEmail != "ana@example.com" {
		t.Fatalf("unexpected extraction fields on record: %+v", rec)
	}
	var ex extraction.Record
	if err := json.Unmarshal(rec.Extraction, &ex); err != nil || ex.ConfidenceScore != 90 {
		t.Fatalf("extraction not persisted: %s", rec.Extraction)
	}
	if !rec.Notifications.LeadAlert.Sent || rec.Notifications.LeadAlert.Recipient != "tony@example.com" {
		t.Fatalf("lead alert not recorded: %+v", rec.Notifications)
	}
	if h.tr.maxWait != 300*time.Second {
		t.Fatalf("expected 5m max wait, got %s", h.tr.maxWait)
	}

	hist, _ := audit.NewService(h.audit).History(context.Background(), "CA1")
	if len(hist) != 5 {
		t.Fatalf("expected 5 audited transitions, got %d", len(hist))
	}
}

func TestDuplicateWebhookStartsOneRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, _ := h.o.HandleRecordingCompleted(ctx, completed("CA1", "RE1"))
	second, _ := h.o.HandleRecordingCompleted(ctx, completed("CA1", "RE1"))
	h.o.Wait()
	third, _ := h.o.HandleRecordingCompleted(ctx, completed("CA1", "RE1"))
	h.o.Wait()

	if !first || second || third {
		t.Fatalf("expected only the first delivery to start, got %v %v %v", first, second, third)
	}
	if h.tr.Submits() != 1 {
		t.Fatalf("expected one transcription job, got %d", h.tr.Submits())
	}
	list, _ := h.store.List(ctx)
	if len(list) != 1 {
		t.Fatalf("expected one call record, got %d", len(list))
	}
}

func TestNonTriggerEventsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, ev := range []RecordingEvent{
		{RecordingID: "RE1", RecordingStatus: "in-progress", RecordingURL: "u", CallID: "CA1"},
		{RecordingID: "RE1", RecordingStatus: "completed", CallID: "CA1"},
	} {
		started, err := h.o.HandleRecordingCompleted(ctx, ev)
		if started || err != nil {
			t.Fatalf("expected ignore for %+v, got %v %v", ev, started, err)
		}
	}
	if _, err := h.store.Get(ctx, "CA1"); !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("no record should be written, got %v", err)
	}
	if _, err := h.o.HandleRecordingCompleted(ctx, RecordingEvent{RecordingStatus: "completed", RecordingURL: "u"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestTranscriptionTimeoutFailsAndAllowsRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.tr.awaitErr = fmt.Errorf("job aai-1: %w", transcription.ErrTimeout)

	if ok, _ := h.o.HandleRecordingCompleted(ctx, completed("CA1", "RE1")); !ok {
		t.Fatal("expected run to start")
	}
	h.o.Wait()

	rec, _ := h.store.Get(ctx, "CA1")
	if rec.Stage != calls.StageFailed || rec.FailedStage != calls.StageTranscribing || rec.FailureReason != calls.ReasonTimeout {
		t.Fatalf("unexpected failure record: stage=%s failed=%s reason=%s", rec.Stage, rec.FailedStage, rec.FailureReason)
	}
	if rec.TranscriptStatus != calls.TranscriptStatusFailed {
		t.Fatalf("expected failed transcript status, got %s", rec.TranscriptStatus)
	}
	if len(h.nt.leads) != 0 {
		t.Fatal("no notification after a terminal failure")
	}

	h.tr.awaitErr = nil
	if ok, _ := h.o.HandleRecordingCompleted(ctx, completed("CA1", "RE1")); !ok {
		t.Fatal("failed recording should be re-triggerable")
	}
	h.o.Wait()
	rec, _ = h.store.Get(ctx, "CA1")
	if rec.Stage != calls.StageDone || rec.FailureReason != "" || rec.FailedStage != "" {
		t.Fatalf("retry should clear failure: %+v", rec)
	}
}

func TestUploadFailureReason(t *testing.T) {
	h := newHarness(t)
	h.tr.submitErr = fmt.Errorf("fetch recording: %w", transcription.ErrUploadFailed)
	_, _ = h.o.HandleRecordingCompleted(context.Background(), completed("CA1", "RE1"))
	h.o.Wait()
	rec, _ := h.store.Get(context.Background(), "CA1")
	if rec.FailureReason != calls.ReasonUploadFailed || rec.FailedStage != calls.StageTranscribing {
		t.Fatalf("unexpected failure: %+v", rec)
	}
}

func TestExtractionUnavailableFlagsReview(t *testing.T) {
	h := newHarness(t)
	h.ex.err = fmt.Errorf("%w: provider down", extraction.ErrExtractionUnavailable)
	_, _ = h.o.HandleRecordingCompleted(context.Background(), completed("CA1", "RE1"))
	h.o.Wait()

	rec, _ := h.store.Get(context.Background(), "CA1")
	if rec.Stage != calls.StageDone || !rec.NeedsReview {
		t.Fatalf("expected done with review flag, got stage=%s review=%v", rec.Stage, rec.NeedsReview)
	}
	if string(rec.Extraction) != "null" {
		t.Fatalf("expected null extraction, got %s", rec.Extraction)
	}
	if len(h.nt.leads) != 1 || h.nt.leads[0].Extraction != nil {
		t.Fatalf("internal alert must still be attempted without extraction")
	}
}

func TestLowConfidenceFlagsReview(t *testing.T) {
	h := newHarness(t)
	h.ex.rec.ConfidenceScore = 40
	_, _ = h.o.HandleRecordingCompleted(context.Background(), completed("CA1", "RE1"))
	h.o.Wait()
	rec, _ := h.store.Get(context.Background(), "CA1")
	if !rec.NeedsReview {
		t.Fatal("confidence below threshold should flag review")
	}
}

func TestPanicIsRecordedAsFailure(t *testing.T) {
	h := newHarness(t)
	h.ex.panic = true
	_, _ = h.o.HandleRecordingCompleted(context.Background(), completed("CA1", "RE1"))
	h.o.Wait()
	rec, _ := h.store.Get(context.Background(), "CA1")
	if rec.Stage != calls.StageFailed || rec.FailedStage != calls.StageExtracting || rec.FailureReason != calls.ReasonInternal {
		t.Fatalf("unexpected record after panic: %+v", rec)
	}
}

type writeFailStore struct{ *records.MemoryStore }

func (writeFailStore) Upsert(context.Context, string, calls.Patch) (calls.Record, error) {
	return calls.Record{}, errors.New("primary down")
}

type stuckRegistry struct{ claims int }

func (r *stuckRegistry) Claim(context.Context, string) (bool, error) {
	r.claims++
	return true, nil
}

func (r *stuckRegistry) Finish(context.Context, string, transcription.JobState) error {
	return errors.New("registry unreachable")
}

func TestClaimReleaseFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	reg := &stuckRegistry{}
	o := NewOrchestrator(Deps{
		Store:       writeFailStore{records.NewMemoryStore()},
		Registry:    reg,
		Transcriber: &fakeTranscriber{},
		Extractor:   &fakeExtractor{},
		Notifier:    &fakeNotifier{},
		Log:         slog.New(slog.NewJSONHandler(&buf, nil)),
	}, DefaultConfig())

	started, err := o.HandleRecordingCompleted(context.Background(), completed("CA1", "RE1"))
	if err == nil || started {
		t.Fatalf("expected initial write failure, started=%v err=%v", started, err)
	}
	if reg.claims != 1 {
		t.Fatalf("expected one claim, got %d", reg.claims)
	}
	out := buf.String()
	if !strings.Contains(out, "registry finish failed") || !strings.Contains(out, "registry unreachable") {
		t.Fatalf("expected release failure in log, got:\n%s", out)
	}
}
