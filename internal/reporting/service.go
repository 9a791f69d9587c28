package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"

	"call-lead-pipeline/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting. records.Store satisfies it.
type Repository interface {
	List(ctx context.Context) ([]calls.Record, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// Select returns the records matching f, newest first.
func (s *Service) Select(ctx context.Context, f Filter) ([]calls.Record, error) {
	if !f.valid() {
		return nil, ErrInvalidRequest
	}
	if s.repo == nil {
		return nil, errors.New("reporting: repository not configured")
	}
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]calls.Record, 0, len(rows))
	for _, r := range rows {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Service) CallsSummary(ctx context.Context, f Filter) (CallsSummary, error) {
	rows, err := s.Select(ctx, f)
	if err != nil {
		return CallsSummary{}, err
	}
	out := Summarize(rows)
	out.AgentID = f.AgentID
	return out, nil
}

// Summarize aggregates rows without filtering.
func Summarize(rows []calls.Record) CallsSummary {
	out := CallsSummary{ByStage: map[calls.Stage]int{}}
	var confSum, confN int
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		if c.RecordingURL != "" {
			out.RecordedCalls++
		}
		switch c.Status {
		case calls.CallStatusCompleted:
			out.CompletedCalls++
		case calls.CallStatusFailed:
			out.FailedCalls++
		case calls.CallStatusNoAnswer:
			out.NoAnswerCalls++
		case calls.CallStatusBusy:
			out.BusyCalls++
		case calls.CallStatusCanceled:
			out.CanceledCalls++
		case calls.CallStatusInProgress:
			out.InProgressCalls++
		case calls.CallStatusRinging, calls.CallStatusQueued:
			// not counted separately
		}

		if c.Stage != "" {
			out.ByStage[c.Stage]++
		}
		switch c.Stage {
		case calls.StageDone:
			out.LeadsCompleted++
		case calls.StageFailed:
			out.LeadsFailed++
		}
		if c.NeedsReview {
			out.NeedsReview++
		}
		if score, ok := Confidence(c); ok {
			out.ExtractedCalls++
			confSum += score
			confN++
		}
		if c.Notifications.LeadAlert.Sent {
			out.LeadAlertsSent++
		}
		if c.Notifications.CustomerFollowUp.Sent {
			out.FollowUpsSent++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	out.AverageConfidence = average(confSum, confN)
	return out
}

// ByAgent breaks the selection down per agent, ordered by agent id.
// Calls without an agent are grouped under "".
func (s *Service) ByAgent(ctx context.Context, f Filter) ([]AgentSummary, error) {
	rows, err := s.Select(ctx, f)
	if err != nil {
		return nil, err
	}
	type acc struct {
		AgentSummary
		confSum, confN int
	}
	byID := map[string]*acc{}
	for _, c := range rows {
		a := byID[c.AgentID]
		if a == nil {
			a = &acc{AgentSummary: AgentSummary{AgentID: c.AgentID}}
			byID[c.AgentID] = a
		}
		a.Calls++
		if c.Stage == calls.StageDone {
			a.LeadsCompleted++
		}
		if c.NeedsReview {
			a.NeedsReview++
		}
		if score, ok := Confidence(c); ok {
			a.confSum += score
			a.confN++
		}
	}
	out := make([]AgentSummary, 0, len(byID))
	for _, a := range byID {
		a.AverageConfidence = average(a.confSum, a.confN)
		out = append(out, a.AgentSummary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

// Confidence reads the confidence score from a record's stored extraction.
func Confidence(r calls.Record) (int, bool) {
	if len(r.Extraction) == 0 || string(r.Extraction) == "null" {
		return 0, false
	}
	var v struct {
		ConfidenceScore *int `json:"confidence_score"`
	}
	if err := json.Unmarshal(r.Extraction, &v); err != nil || v.ConfidenceScore == nil {
		return 0, false
	}
	return *v.ConfidenceScore, true
}

func average(sum, n int) float64 {
	if n == 0 {
		return 0
	}
	return math.Round(float64(sum)/float64(n)*10) / 10
}
