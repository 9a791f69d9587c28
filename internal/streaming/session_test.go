package streaming

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"call-lead-pipeline/internal/broadcast"
	"call-lead-pipeline/internal/calls"
	"call-lead-pipeline/internal/records"
)

// fakeStream replays scripted finals, one per received audio frame.
type fakeStream struct {
	mu     sync.Mutex
	script []Final
	frames int
	full   bool
	finals chan Final
	closed bool
}

func (f *fakeStream) SendAudio(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrStreamClosed
	}
	if f.full {
		return ErrFrameDropped
	}
	if f.frames < len(f.script) {
		f.finals <- f.script[f.frames]
	}
	f.frames++
	return nil
}

func (f *fakeStream) Finals() <-chan Final { return f.finals }

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.finals)
	}
	return nil
}

type fakeProvider struct {
	stream *fakeStream
	starts int
}

func (p *fakeProvider) StartStream(context.Context, StreamConfig) (StreamHandle, error) {
	p.starts++
	return p.stream, nil
}

func media(payload string) Message {
	return Message{Event: EventMedia, Media: &MediaInfo{Payload: base64.StdEncoding.EncodeToString([]byte(payload))}}
}

func startMsg(callID string) Message {
	return Message{Event: EventStart, Start: &StartInfo{CallSID: callID, StreamSID: "MZ1"}}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	stream := &fakeStream{
		finals: make(chan Final, 8),
		script: []Final{
			{Speaker: "Speaker 0", Text: "thanks for calling", Start: 0, End: time.Second},
			{Speaker: "Speaker 1", Text: "i want to refinance", Start: 2 * time.Second, End: 3 * time.Second},
			{Speaker: "Speaker 0", Text: "sure", Start: 1500 * time.Millisecond, End: 4 * time.Second},
		},
	}
	prov := &fakeProvider{stream: stream}
	store := records.NewMemoryStore()
	hub := broadcast.NewHub(16, nil)
	sub := hub.Subscribe("CA1")
	defer sub.Close()

	s := NewSession(prov, store, hub, nil)

	// Audio before start is dropped.
	_ = s.Handle(ctx, media("early"))
	if s.State() != StateIdle || s.Dropped() != 1 {
		t.Fatalf("expected idle with 1 drop, got %s/%d", s.State(), s.Dropped())
	}

	if err := s.Handle(ctx, startMsg("CA1")); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = s.Handle(ctx, startMsg("CA2"))
	if prov.starts != 1 || s.CallID() != "CA1" {
		t.Fatalf("second start must be ignored, starts=%d call=%s", prov.starts, s.CallID())
	}

	for i := 0; i < 3; i++ {
		_ = s.Handle(ctx, media("frame"))
	}
	_ = s.Handle(ctx, Message{Event: EventMark})
	if err := s.Handle(ctx, Message{Event: EventStop}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected closed, got %s", s.State())
	}

	// Audio after stop is dropped and Finalize is a no-op.
	_ = s.Handle(ctx, media("late"))
	if s.Dropped() != 2 {
		t.Fatalf("expected 2 drops, got %d", s.Dropped())
	}
	if err := s.Finalize(ctx); err != nil {
		t.Fatalf("second finalize: %v", err)
	}

	us := s.Utterances()
	if len(us) != 3 {
		t.Fatalf("expected 3 utterances, got %d", len(us))
	}
	var last time.Duration = -1
	for i := 0; i < 3; i++ {
		ev := <-sub.Events()
		if ev.Kind != broadcast.KindLiveTranscript || ev.Text != us[i].Text {
			t.Fatalf("event %d out of emission order: %+v", i, ev)
		}
		if start := time.Duration(ev.StartMS) * time.Millisecond; start < last {
			t.Fatalf("start offsets decreased: %s after %s", start, last)
		} else {
			last = start
		}
	}

	rec, err := store.Get(ctx, "CA1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.TranscriptStatus != calls.TranscriptStatusLiveCompleted || len(rec.Utterances) != 3 {
		t.Fatalf("unexpected persisted record: %+v", rec)
	}
	if got := rec.Utterances[2]; got.Start != 1500*time.Millisecond || got.End != 4*time.Second {
		t.Fatalf("persisted offsets rewritten: %+v", got)
	}
	want := "Speaker 0: thanks for calling\nSpeaker 1: i want to refinance\nSpeaker 0: sure"
	if rec.TranscriptText != want {
		t.Fatalf("unexpected transcript:\n%s", rec.TranscriptText)
	}
}

func TestSessionKeepsBatchTranscript(t *testing.T) {
	ctx := context.Background()
	store := records.NewMemoryStore()
	_, _ = store.Upsert(ctx, "CA1", calls.Patch{
		TranscriptText:   calls.Ptr("batch text"),
		TranscriptStatus: calls.Ptr(calls.TranscriptStatusCompleted),
	})
	stream := &fakeStream{finals: make(chan Final, 1), script: []Final{{Speaker: "Unknown", Text: "hello"}}}
	s := NewSession(&fakeProvider{stream: stream}, store, nil, nil)

	_ = s.Handle(ctx, startMsg("CA1"))
	_ = s.Handle(ctx, media("frame"))
	if err := s.Finalize(ctx); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	rec, _ := store.Get(ctx, "CA1")
	if rec.TranscriptText != "batch text" || rec.TranscriptStatus != calls.TranscriptStatusCompleted {
		t.Fatalf("batch transcript overwritten: %+v", rec)
	}
	if len(rec.Utterances) != 1 {
		t.Fatalf("expected utterances to be stored, got %d", len(rec.Utterances))
	}
}

func TestSessionCountsProviderBackpressure(t *testing.T) {
	ctx := context.Background()
	stream := &fakeStream{finals: make(chan Final), full: true}
	s := NewSession(&fakeProvider{stream: stream}, records.NewMemoryStore(), nil, nil)
	_ = s.Handle(ctx, startMsg("CA1"))
	for i := 0; i < 4; i++ {
		_ = s.Handle(ctx, media("frame"))
	}
	if s.Dropped() != 4 {
		t.Fatalf("expected 4 drops, got %d", s.Dropped())
	}
	_ = s.Finalize(ctx)
}
