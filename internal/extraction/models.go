package extraction

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Text is an extracted scalar. Providers return numbers, strings or null
// for the same field; all of them decode into Text, and null or "" mean
// absent.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return err
	}
	*t = Text(buf.String())
	return nil
}

func (t Text) MarshalJSON() ([]byte, error) {
	if t == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(t))
}

func (t Text) Present() bool { return strings.TrimSpace(string(t)) != "" }

type BorrowerInformation struct {
	FullName       Text `json:"full_name"`
	PhoneNumber    Text `json:"phone_number"`
	EmailAddress   Text `json:"email_address"`
	CurrentAddress Text `json:"current_address"`
}

type LoanDetails struct {
	LoanPurpose         Text `json:"loan_purpose"`
	RequestedLoanAmount Text `json:"requested_loan_amount"`
	PropertyAddress     Text `json:"property_address"`
	PropertyType        Text `json:"property_type"`
	Occupancy           Text `json:"occupancy"`
}

type FinancialInformation struct {
	CreditScore            Text `json:"credit_score"`
	AnnualIncome           Text `json:"annual_income"`
	EmploymentStatus       Text `json:"employment_status"`
	DownPaymentAmount      Text `json:"down_payment_amount"`
	CurrentMortgageRate    Text `json:"current_mortgage_rate"`
	CurrentMortgagePayment Text `json:"current_mortgage_payment"`
}

type Timeline struct {
	UrgencyLevel        Text `json:"urgency_level"`
	TargetClosingDate   Text `json:"target_closing_date"`
	PreApprovalNeededBy Text `json:"pre_approval_needed_by"`
}

// Fields is the typed view of the provider's extraction output.
type Fields struct {
	Borrower  BorrowerInformation  `json:"borrower_information"`
	Loan      LoanDetails          `json:"loan_details"`
	Financial FinancialInformation `json:"financial_information"`
	Timeline  Timeline             `json:"timeline"`

	// SuggestedActions are the provider's follow-up tasks, before rules.
	SuggestedActions Suggestions `json:"action_items"`
	Summary          Text        `json:"summary"`
}

// Suggestions decodes a list whose entries are plain strings or objects
// carrying a "task" key. Other entries are skipped.
type Suggestions []string

func (s *Suggestions) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		// A lone string or null is tolerated.
		var one Text
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		if one.Present() {
			*s = Suggestions{string(one)}
		}
		return nil
	}
	out := make(Suggestions, 0, len(raw))
	for _, r := range raw {
		var task string
		if err := json.Unmarshal(r, &task); err == nil {
			out = append(out, strings.TrimSpace(task))
			continue
		}
		var obj struct {
			Task Text `json:"task"`
		}
		if err := json.Unmarshal(r, &obj); err == nil && obj.Task.Present() {
			out = append(out, string(obj.Task))
		}
	}
	*s = out
	return nil
}

// Loan purposes the action-item rules care about.
const (
	PurposePurchase  = "purchase"
	PurposeRefinance = "refinance"
)

// Purpose returns the normalized loan purpose.
func (f Fields) Purpose() string {
	return strings.ToLower(strings.TrimSpace(string(f.Loan.LoanPurpose)))
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

type ActionItem struct {
	Task     string     `json:"task"`
	Priority Priority   `json:"priority"`
	DueDate  *time.Time `json:"due_date"`
}

type Sentiment struct {
	Overall       string   `json:"sentiment"`
	Urgency       string   `json:"urgency"`
	Concerns      []string `json:"concerns"`
	Opportunities []string `json:"opportunities"`
}

// NeutralSentiment is used when the sentiment call fails.
func NeutralSentiment() Sentiment {
	return Sentiment{Overall: "neutral", Urgency: "medium", Concerns: []string{}, Opportunities: []string{}}
}

// Record is the derived, immutable result of one extraction. A new
// extraction replaces it wholesale.
type Record struct {
	Fields          Fields         `json:"fields"`
	ConfidenceScore int            `json:"confidence_score"`
	ActionItems     []ActionItem   `json:"action_items"`
	Sentiment       Sentiment      `json:"sentiment"`
	Raw             map[string]any `json:"raw,omitempty"`
	ExtractedAt     time.Time      `json:"extracted_at"`
}

// BorrowerEmail returns the extracted borrower email, if any.
func (r Record) BorrowerEmail() string {
	return strings.TrimSpace(string(r.Fields.Borrower.EmailAddress))
}
