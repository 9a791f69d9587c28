package streaming

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrFrameDropped is returned by SendAudio when the provider is not
	// keeping up. The frame is discarded.
	ErrFrameDropped = errors.New("streaming: audio frame dropped")
	ErrStreamClosed = errors.New("streaming: stream closed")
)

type StreamConfig struct {
	CallID     string
	Encoding   string
	SampleRate int
	Language   string
}

// Final is one finalized recognition result.
type Final struct {
	Speaker string
	Text    string
	Start   time.Duration
	End     time.Duration
}

// StreamHandle is an open recognition stream.
type StreamHandle interface {
	// SendAudio queues a frame without blocking.
	SendAudio(frame []byte) error
	// Finals is closed after Close once pending results are flushed.
	Finals() <-chan Final
	Close() error
}

type Provider interface {
	StartStream(ctx context.Context, cfg StreamConfig) (StreamHandle, error)
}
