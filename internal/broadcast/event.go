package broadcast

import "time"

type Kind string

const (
	KindTranscriptionReady Kind = "transcription-ready"
	KindLiveTranscript     Kind = "live-transcript"
	KindPipelineStage      Kind = "pipeline-stage"
)

// Event is what live viewers receive. Fields not relevant to Kind are empty.
type Event struct {
	Kind        Kind   `json:"type"`
	CallID      string `json:"callId"`
	RecordingID string `json:"recordingId,omitempty"`

	// pipeline-stage
	Stage         string `json:"stage,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`

	// transcription-ready
	Transcription string `json:"transcription,omitempty"`

	// live-transcript
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text,omitempty"`
	StartMS int64  `json:"startMs,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Publisher accepts events for fan-out.
type Publisher interface {
	Publish(ev Event)
}
