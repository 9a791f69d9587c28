package reporting

import (
	"time"

	"call-lead-pipeline/internal/calls"
)

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Filter selects call records. A zero Range selects every record; a set
// Range is half-open on CreatedAt.
type Filter struct {
	Range           TimeRange   `json:"range"`
	AgentID         string      `json:"agent_id,omitempty"`
	Stage           calls.Stage `json:"stage,omitempty"`
	NeedsReview     *bool       `json:"needs_review,omitempty"`
	IncludeArchived bool        `json:"include_archived,omitempty"`
}

func (f Filter) valid() bool {
	if f.Range.From.IsZero() || f.Range.To.IsZero() {
		return true
	}
	return f.Range.To.After(f.Range.From)
}

// Match reports whether r passes the filter.
func (f Filter) Match(r calls.Record) bool {
	if r.Archived && !f.IncludeArchived {
		return false
	}
	if f.AgentID != "" && r.AgentID != f.AgentID {
		return false
	}
	if f.Stage != "" && r.Stage != f.Stage {
		return false
	}
	if f.NeedsReview != nil && r.NeedsReview != *f.NeedsReview {
		return false
	}
	if !f.Range.From.IsZero() && r.CreatedAt.Before(f.Range.From) {
		return false
	}
	if !f.Range.To.IsZero() && !r.CreatedAt.Before(f.Range.To) {
		return false
	}
	return true
}

type CallsSummary struct {
	AgentID string `json:"agent_id,omitempty"`

	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	CanceledCalls   int `json:"canceled_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls int `json:"recorded_calls"`

	// Pipeline outcomes.
	ByStage        map[calls.Stage]int `json:"by_stage"`
	LeadsCompleted int                 `json:"leads_completed"`
	LeadsFailed    int                 `json:"leads_failed"`
	NeedsReview    int                 `json:"needs_review"`

	ExtractedCalls    int     `json:"extracted_calls"`
	AverageConfidence float64 `json:"average_confidence"`

	LeadAlertsSent int `json:"lead_alerts_sent"`
	FollowUpsSent  int `json:"follow_ups_sent"`
}

// AgentSummary is the per-loan-officer slice of a summary.
type AgentSummary struct {
	AgentID           string  `json:"agent_id"`
	Calls             int     `json:"calls"`
	LeadsCompleted    int     `json:"leads_completed"`
	NeedsReview       int     `json:"needs_review"`
	AverageConfidence float64 `json:"average_confidence"`
}
