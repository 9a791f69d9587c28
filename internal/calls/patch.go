package calls

import (
	"encoding/json"
	"time"
)

// Patch is a partial write to a Record. Nil fields are left untouched.
type Patch struct {
	RecordingID  *string `json:"recording_id,omitempty"`
	RecordingURL *string `json:"recording_url,omitempty"`

	From *string `json:"from_number,omitempty"`
	To   *string `json:"to_number,omitempty"`

	CustomerName  *string `json:"customer_name,omitempty"`
	CustomerEmail *string `json:"customer_email,omitempty"`
	CustomerPhone *string `json:"customer_phone,omitempty"`

	DurationSeconds *int        `json:"duration,omitempty"`
	Direction       *string     `json:"direction,omitempty"`
	Status          *CallStatus `json:"status,omitempty"`
	AgentID         *string     `json:"agent_id,omitempty"`

	TranscriptID     *string           `json:"transcript_id,omitempty"`
	TranscriptText   *string           `json:"transcript_text,omitempty"`
	TranscriptStatus *TranscriptStatus `json:"transcript_status,omitempty"`
	Utterances       []Utterance       `json:"utterances,omitempty"`

	Stage         *Stage  `json:"stage,omitempty"`
	FailedStage   *Stage  `json:"failed_stage,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
	NeedsReview   *bool   `json:"needs_review,omitempty"`
	Archived      *bool   `json:"archived,omitempty"`

	Extraction json.RawMessage `json:"extraction,omitempty"`

	LeadAlert        *Delivery `json:"lead_alert,omitempty"`
	CustomerFollowUp *Delivery `json:"customer_follow_up,omitempty"`

	// CreatedAt only takes effect on the first write for a call.
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T { return &v }

// Apply overwrites the fields set in p and stamps UpdatedAt. CreatedAt is
// set on the first write only.
func (r *Record) Apply(p Patch, now time.Time) {
	setString(&r.RecordingID, p.RecordingID)
	setString(&r.RecordingURL, p.RecordingURL)
	setString(&r.From, p.From)
	setString(&r.To, p.To)
	setString(&r.CustomerName, p.CustomerName)
	setString(&r.CustomerEmail, p.CustomerEmail)
	setString(&r.CustomerPhone, p.CustomerPhone)
	if p.DurationSeconds != nil {
		r.DurationSeconds = *p.DurationSeconds
	}
	setString(&r.Direction, p.Direction)
	if p.Status != nil {
		r.Status = *p.Status
	}
	setString(&r.AgentID, p.AgentID)
	setString(&r.TranscriptID, p.TranscriptID)
	setString(&r.TranscriptText, p.TranscriptText)
	if p.TranscriptStatus != nil {
		r.TranscriptStatus = *p.TranscriptStatus
	}
	if p.Utterances != nil {
		r.Utterances = p.Utterances
	}
	if p.Stage != nil {
		r.Stage = *p.Stage
	}
	if p.FailedStage != nil {
		r.FailedStage = *p.FailedStage
	}
	setString(&r.FailureReason, p.FailureReason)
	if p.NeedsReview != nil {
		r.NeedsReview = *p.NeedsReview
	}
	if p.Archived != nil {
		r.Archived = *p.Archived
	}
	if p.Extraction != nil {
		r.Extraction = p.Extraction
	}
	if p.LeadAlert != nil {
		r.Notifications.LeadAlert = *p.LeadAlert
	}
	if p.CustomerFollowUp != nil {
		r.Notifications.CustomerFollowUp = *p.CustomerFollowUp
	}

	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
		if p.CreatedAt != nil && !p.CreatedAt.IsZero() {
			r.CreatedAt = *p.CreatedAt
		}
	}
	r.UpdatedAt = now
}

// PatchFrom returns a patch that reproduces every non-zero field of r.
// Reconciliation uses it to migrate fallback entries into the primary store.
func PatchFrom(r Record) Patch {
	var p Patch
	p.RecordingID = nonEmpty(r.RecordingID)
	p.RecordingURL = nonEmpty(r.RecordingURL)
	p.From = nonEmpty(r.From)
	p.To = nonEmpty(r.To)
	p.CustomerName = nonEmpty(r.CustomerName)
	p.CustomerEmail = nonEmpty(r.CustomerEmail)
	p.CustomerPhone = nonEmpty(r.CustomerPhone)
	if r.DurationSeconds != 0 {
		p.DurationSeconds = Ptr(r.DurationSeconds)
	}
	p.Direction = nonEmpty(r.Direction)
	if r.Status != "" {
		p.Status = Ptr(r.Status)
	}
	p.AgentID = nonEmpty(r.AgentID)
	p.TranscriptID = nonEmpty(r.TranscriptID)
	p.TranscriptText = nonEmpty(r.TranscriptText)
	if r.TranscriptStatus != "" {
		p.TranscriptStatus = Ptr(r.TranscriptStatus)
	}
	p.Utterances = r.Utterances
	if r.Stage != "" {
		p.Stage = Ptr(r.Stage)
	}
	if r.FailedStage != "" {
		p.FailedStage = Ptr(r.FailedStage)
	}
	p.FailureReason = nonEmpty(r.FailureReason)
	if r.NeedsReview {
		p.NeedsReview = Ptr(true)
	}
	if r.Archived {
		p.Archived = Ptr(true)
	}
	p.Extraction = r.Extraction
	if r.Notifications.LeadAlert != (Delivery{}) {
		p.LeadAlert = Ptr(r.Notifications.LeadAlert)
	}
	if r.Notifications.CustomerFollowUp != (Delivery{}) {
		p.CustomerFollowUp = Ptr(r.Notifications.CustomerFollowUp)
	}
	if !r.CreatedAt.IsZero() {
		p.CreatedAt = Ptr(r.CreatedAt)
	}
	return p
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
