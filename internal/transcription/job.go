package transcription

import (
	"context"
	"errors"
	"io"
	"time"

	"call-lead-pipeline/internal/calls"
)

var (
	ErrUploadFailed        = errors.New("transcription: upload failed")
	ErrTranscriptionFailed = errors.New("transcription: provider reported failure")
	ErrTimeout             = errors.New("transcription: polling attempts exhausted")
	ErrInvalidHandle       = errors.New("transcription: handle has no provider job id")
)

// JobState is the lifecycle of one transcription job.
type JobState string

const (
	JobUploading JobState = "uploading"
	JobSubmitted JobState = "submitted"
	JobPolling   JobState = "polling"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// RecordingLocator points at a finished call recording.
type RecordingLocator struct {
	CallID      string
	RecordingID string
	URL         string
}

// JobHandle identifies a submitted job. A handle in JobPolling or later
// always carries ProviderJobID.
type JobHandle struct {
	ID            string
	CallID        string
	RecordingID   string
	ProviderJobID string
	State         JobState
	SubmittedAt   time.Time
}

// JobConfig is passed to the provider when a job is created.
type JobConfig struct {
	SpeakerLabels     bool
	EntityDetection   bool
	SentimentAnalysis bool
	AutoHighlights    bool
	LanguageDetection bool
}

// DefaultJobConfig asks for diarization, entities and sentiment.
func DefaultJobConfig() JobConfig {
	return JobConfig{
		SpeakerLabels:     true,
		EntityDetection:   true,
		SentimentAnalysis: true,
		AutoHighlights:    true,
		LanguageDetection: true,
	}
}

// Provider status values.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// JobStatus is one poll result.
type JobStatus struct {
	Status string
	Text   string
	Turns  []calls.Turn
	Error  string
}

// Result is a completed transcription.
type Result struct {
	Handle     JobHandle
	Transcript calls.Transcript
	Text       string
	Attempts   int
}

// Provider is a batch transcription service.
type Provider interface {
	Upload(ctx context.Context, audio io.Reader) (uploadURL string, err error)
	CreateJob(ctx context.Context, audioURL string, cfg JobConfig) (providerJobID string, err error)
	GetJob(ctx context.Context, providerJobID string) (JobStatus, error)
}

// RecordingFetcher downloads recording audio from the call provider.
type RecordingFetcher interface {
	FetchRecording(ctx context.Context, url string) (io.ReadCloser, error)
}
