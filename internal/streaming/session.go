package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"call-lead-pipeline/internal/broadcast"
	"call-lead-pipeline/internal/calls"
	"call-lead-pipeline/internal/metrics"
	"call-lead-pipeline/internal/records"
	"call-lead-pipeline/pkg/logger"
)

type State int

const (
	StateIdle State = iota
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Recorder is the slice of the persistence gateway a session writes to.
type Recorder interface {
	Get(ctx context.Context, callID string) (calls.Record, error)
	Upsert(ctx context.Context, callID string, p calls.Patch) (calls.Record, error)
}

// Session transcribes one media stream: Idle until start, Streaming until
// stop or socket close, then Closed. Audio outside Streaming is dropped.
type Session struct {
	provider Provider
	store    Recorder
	pub      broadcast.Publisher
	metrics  *metrics.Registry
	clock    func() time.Time

	mu         sync.Mutex
	state      State
	callID     string
	streamSID  string
	handle     StreamHandle
	utterances []calls.Utterance
	liveStart  time.Duration
	dropped    int
	consumed   chan struct{}

	finalize    sync.Once
	finalizeErr error
}

func NewSession(p Provider, store Recorder, pub broadcast.Publisher, m *metrics.Registry) *Session {
	return &Session{provider: p, store: store, pub: pub, metrics: m, clock: time.Now}
}

// Handle applies one socket message. Malformed or out-of-state messages
// are ignored; only a failure to open the provider stream is returned.
func (s *Session) Handle(ctx context.Context, msg Message) error {
	switch msg.Event {
	case EventStart:
		return s.start(ctx, msg.Start)
	case EventMedia:
		s.media(msg)
		return nil
	case EventStop:
		return s.Finalize(ctx)
	default:
		return nil
	}
}

func (s *Session) start(ctx context.Context, info *StartInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return nil
	}
	s.callID = info.CallSID
	s.streamSID = info.StreamSID

	h, err := s.provider.StartStream(ctx, StreamConfig{
		CallID:     info.CallSID,
		Encoding:   "mulaw",
		SampleRate: 8000,
	})
	if err != nil {
		s.state = StateClosed
		return fmt.Errorf("start live stream for %s: %w", info.CallSID, err)
	}
	s.handle = h
	s.state = StateStreaming
	s.consumed = make(chan struct{})
	go s.consume(logger.From(ctx), h, s.consumed)
	logger.From(ctx).Info("live stream started", "call_id", s.callID, "stream_id", s.streamSID)
	return nil
}

func (s *Session) media(msg Message) {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.dropLocked()
		s.mu.Unlock()
		return
	}
	h := s.handle
	s.mu.Unlock()

	frame, err := msg.Audio()
	if err != nil {
		return
	}
	if err := h.SendAudio(frame); err != nil {
		s.mu.Lock()
		s.dropLocked()
		s.mu.Unlock()
	}
}

func (s *Session) dropLocked() {
	s.dropped++
	s.metrics.FrameDropped()
}

// consume appends finals in arrival order with the provider's offsets.
// Broadcast offsets never go backwards for a call.
func (s *Session) consume(log *slog.Logger, h StreamHandle, done chan<- struct{}) {
	defer close(done)
	for f := range h.Finals() {
		u := calls.Utterance{Speaker: f.Speaker, Text: f.Text, Start: f.Start, End: f.End}
		s.mu.Lock()
		s.utterances = append(s.utterances, u)
		callID := s.callID
		live := u.Start
		if live < s.liveStart {
			log.Debug("live offset behind previous utterance", "call_id", callID, "start", u.Start, "previous", s.liveStart)
			live = s.liveStart
		}
		s.liveStart = live
		s.mu.Unlock()

		if s.pub != nil {
			s.pub.Publish(broadcast.Event{
				Kind:      broadcast.KindLiveTranscript,
				CallID:    callID,
				Speaker:   u.Speaker,
				Text:      u.Text,
				StartMS:   live.Milliseconds(),
				Timestamp: s.clock().UTC(),
			})
		}
	}
}

// Finalize closes the provider stream and persists the collected
// utterances. Only the first call has any effect.
func (s *Session) Finalize(ctx context.Context) error {
	s.finalize.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		h, consumed := s.handle, s.consumed
		s.mu.Unlock()

		if h != nil {
			_ = h.Close()
			<-consumed
		}
		s.finalizeErr = s.persist(ctx)
	})
	return s.finalizeErr
}

func (s *Session) persist(ctx context.Context) error {
	s.mu.Lock()
	callID := s.callID
	us := append([]calls.Utterance(nil), s.utterances...)
	s.mu.Unlock()
	if callID == "" || len(us) == 0 {
		return nil
	}

	p := calls.Patch{Utterances: us}
	existing, err := s.store.Get(ctx, callID)
	if err != nil && !errors.Is(err, records.ErrNotFound) {
		return fmt.Errorf("load %s: %w", callID, err)
	}
	// A batch transcript, once present, is authoritative.
	if existing.TranscriptStatus != calls.TranscriptStatusCompleted {
		text := calls.DiarizedTurns(calls.TurnsFromUtterances(us)).Flatten()
		p.TranscriptText = &text
		p.TranscriptStatus = calls.Ptr(calls.TranscriptStatusLiveCompleted)
	}
	if _, err := s.store.Upsert(ctx, callID, p); err != nil {
		return fmt.Errorf("persist live transcript for %s: %w", callID, err)
	}
	logger.From(ctx).Info("live transcript persisted", "call_id", callID, "utterances", len(us))
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) CallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

// Dropped counts frames discarded because the session was not streaming or
// the provider queue was full.
func (s *Session) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Session) Utterances() []calls.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]calls.Utterance(nil), s.utterances...)
}
