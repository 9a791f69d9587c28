package calls

import (
	"encoding/json"
	"time"
)

// Record is the persisted state of one telephone call and the lead pipeline
// run attached to its recording.
//
// Idempotency invariant: CallID is the conflict key for every write and
// (CallID, RecordingID) identifies one pipeline run. Records are archived,
// never deleted.
type Record struct {
	CallID      string `json:"call_id" db:"call_id"`
	RecordingID string `json:"recording_id,omitempty" db:"recording_id"`

	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`

	From string `json:"from_number,omitempty" db:"from_number"`
	To   string `json:"to_number,omitempty" db:"to_number"`

	CustomerName  string `json:"customer_name,omitempty" db:"customer_name"`
	CustomerEmail string `json:"customer_email,omitempty" db:"customer_email"`
	CustomerPhone string `json:"customer_phone,omitempty" db:"customer_phone"`

	// DurationSeconds is the call duration in seconds.
	DurationSeconds int        `json:"duration" db:"duration"`
	Direction       string     `json:"direction,omitempty" db:"direction"`
	Status          CallStatus `json:"status,omitempty" db:"status"`
	AgentID         string     `json:"agent_id,omitempty" db:"agent_id"`

	TranscriptID     string           `json:"transcript_id,omitempty" db:"transcript_id"`
	TranscriptText   string           `json:"transcript_text,omitempty" db:"transcript_text"`
	TranscriptStatus TranscriptStatus `json:"transcript_status,omitempty" db:"transcript_status"`
	Utterances       []Utterance      `json:"utterances,omitempty" db:"utterances"`

	Stage         Stage  `json:"stage,omitempty" db:"stage"`
	FailedStage   Stage  `json:"failed_stage,omitempty" db:"failed_stage"`
	FailureReason string `json:"failure_reason,omitempty" db:"failure_reason"`
	NeedsReview   bool   `json:"needs_review" db:"needs_review"`
	Archived      bool   `json:"archived" db:"archived"`

	// Extraction holds the serialized extraction result. Null when
	// extraction was unavailable.
	Extraction json.RawMessage `json:"extraction,omitempty" db:"extraction"`

	Notifications Notifications `json:"notifications" db:"notifications"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Notifications records the outcome of the two outbound messages.
type Notifications struct {
	LeadAlert        Delivery `json:"lead_alert"`
	CustomerFollowUp Delivery `json:"customer_follow_up"`
}

type Delivery struct {
	Sent      bool       `json:"sent"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	MessageID string     `json:"message_id,omitempty"`
	Recipient string     `json:"recipient,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusBusy       CallStatus = "busy"
	CallStatusCanceled   CallStatus = "canceled"
)

// NormalizeCallStatus maps provider spellings ("in-progress", "no-answer")
// onto CallStatus values. Unknown values pass through unchanged.
func NormalizeCallStatus(s string) CallStatus {
	switch s {
	case "in-progress":
		return CallStatusInProgress
	case "no-answer":
		return CallStatusNoAnswer
	}
	return CallStatus(s)
}

type TranscriptStatus string

const (
	TranscriptStatusPending       TranscriptStatus = "pending"
	TranscriptStatusProcessing    TranscriptStatus = "processing"
	TranscriptStatusCompleted     TranscriptStatus = "completed"
	TranscriptStatusFailed        TranscriptStatus = "failed"
	TranscriptStatusLiveCompleted TranscriptStatus = "live_completed"
)

// Stage is a pipeline state for one recording.
type Stage string

const (
	StageRecordingPending Stage = "recording_pending"
	StageTranscribing     Stage = "transcribing"
	StageExtracting       Stage = "extracting"
	StageNotifying        Stage = "notifying"
	StageDone             Stage = "done"
	StageFailed           Stage = "failed"
)

// InFlight reports whether a run in this stage is still progressing.
func (s Stage) InFlight() bool {
	switch s {
	case StageRecordingPending, StageTranscribing, StageExtracting, StageNotifying:
		return true
	}
	return false
}

// Failure reasons persisted with StageFailed.
const (
	ReasonUploadFailed        = "upload_failed"
	ReasonTranscriptionFailed = "transcription_failed"
	ReasonTimeout             = "timeout"
	ReasonInternal            = "internal"
)
