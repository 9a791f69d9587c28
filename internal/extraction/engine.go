package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"call-lead-pipeline/internal/calls"
	"call-lead-pipeline/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// ErrExtractionUnavailable means the provider failed or returned output that
// could not be parsed. Callers degrade instead of aborting.
var ErrExtractionUnavailable = errors.New("extraction: unavailable")

// CompletionRequest is one text-understanding call.
type CompletionRequest struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float32
}

// Completer returns a JSON object as text.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Budgets for the two provider calls.
const (
	FieldsMaxTokens    = 2000
	SentimentMaxTokens = 500
	Temperature        = 0.3
)

const fieldsPrompt = `You are a mortgage loan processor analyzing a call transcript.
Extract the information below and return a single JSON object with exactly these keys:

{
  "borrower_information": {"full_name", "phone_number", "email_address", "current_address"},
  "loan_details": {"loan_purpose" (purchase/refinance/cash-out/HELOC), "requested_loan_amount", "property_address", "property_type" (single family/condo/multi-family), "occupancy" (primary/investment/second home)},
  "financial_information": {"credit_score", "annual_income", "employment_status", "down_payment_amount", "current_mortgage_rate", "current_mortgage_payment"},
  "timeline": {"urgency_level" (high/medium/low), "target_closing_date", "pre_approval_needed_by"},
  "action_items": [specific follow-up tasks, documents needed, next steps],
  "summary": "2-3 sentence overview including key borrower concerns"
}

Use null for any field not mentioned in the transcript.`

const sentimentPrompt = `Analyze the sentiment and urgency of this mortgage inquiry. Return JSON with: sentiment (positive/neutral/negative), urgency (high/medium/low), concerns (array of concerns), and opportunities (array of opportunities).`

// Engine turns a transcript into an extraction Record.
type Engine struct {
	completer Completer
	clock     func() time.Time
}

func NewEngine(c Completer) *Engine {
	return &Engine{completer: c, clock: time.Now}
}

// Extract runs the field and sentiment calls concurrently. A failed
// sentiment call falls back to NeutralSentiment; a failed or unparseable
// field call returns ErrExtractionUnavailable.
func (e *Engine) Extract(ctx context.Context, t calls.Transcript) (Record, error) {
	text := t.Flatten()
	if strings.TrimSpace(text) == "" {
		return Record{}, fmt.Errorf("%w: empty transcript", ErrExtractionUnavailable)
	}
	log := logger.From(ctx)

	var (
		raw       map[string]any
		fields    Fields
		sentiment Sentiment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := e.completer.Complete(gctx, CompletionRequest{
			System:      fieldsPrompt,
			User:        "Analyze this mortgage call transcript and extract the relevant information:\n\n" + text,
			MaxTokens:   FieldsMaxTokens,
			Temperature: Temperature,
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrExtractionUnavailable, err)
		}
		raw, fields, err = parseFields(out)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrExtractionUnavailable, err)
		}
		return nil
	})
	g.Go(func() error {
		s, err := e.sentiment(gctx, text)
		if err != nil {
			log.Warn("sentiment analysis failed, using neutral defaults", "err", err)
			s = NeutralSentiment()
		}
		sentiment = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return Record{}, err
	}

	now := e.clock()
	return Record{
		Fields:          fields,
		ConfidenceScore: ConfidenceScore(raw),
		ActionItems:     ActionItems(fields, now),
		Sentiment:       sentiment,
		Raw:             raw,
		ExtractedAt:     now.UTC(),
	}, nil
}

func (e *Engine) sentiment(ctx context.Context, text string) (Sentiment, error) {
	out, err := e.completer.Complete(ctx, CompletionRequest{
		System:      sentimentPrompt,
		User:        text,
		MaxTokens:   SentimentMaxTokens,
		Temperature: Temperature,
	})
	if err != nil {
		return Sentiment{}, err
	}
	var s Sentiment
	if err := json.Unmarshal([]byte(extractJSON(out)), &s); err != nil {
		return Sentiment{}, err
	}
	if s.Overall == "" {
		s.Overall = "neutral"
	}
	if s.Urgency == "" {
		s.Urgency = "medium"
	}
	if s.Concerns == nil {
		s.Concerns = []string{}
	}
	if s.Opportunities == nil {
		s.Opportunities = []string{}
	}
	return s, nil
}

func parseFields(out string) (map[string]any, Fields, error) {
	body := []byte(extractJSON(out))
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, Fields{}, fmt.Errorf("decode provider output: %w", err)
	}
	var f Fields
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, Fields{}, fmt.Errorf("decode fields: %w", err)
	}
	return raw, f, nil
}

// extractJSON strips a markdown code fence if the provider wrapped its
// answer in one.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
