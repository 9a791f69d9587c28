package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"call-lead-pipeline/internal/agents"
	"call-lead-pipeline/internal/calls"
	"call-lead-pipeline/internal/extraction"
	"call-lead-pipeline/internal/metrics"
	"call-lead-pipeline/pkg/logger"
)

var ErrNotificationFailed = errors.New("notify: notification failed")

// Notification kinds, also used as metric labels.
const (
	KindLeadAlert        = "lead_alert"
	KindCustomerFollowUp = "customer_follow_up"
)

type Config struct {
	From           string
	FromName       string
	AlertRecipient string // used when the call has no agent email
	Company        string
	DashboardURL   string
}

// Lead is everything the two messages are rendered from.
type Lead struct {
	CallID          string
	CallDate        time.Time
	DurationSeconds int
	Agent           agents.Agent
	// Extraction is nil when extraction was unavailable.
	Extraction *extraction.Record
	Transcript string
}

// Outcome reports both sends. CustomerFollowUp is nil when it was not
// attempted.
type Outcome struct {
	LeadAlert        calls.Delivery
	CustomerFollowUp *calls.Delivery
}

// Err joins the failures of attempted sends.
func (o Outcome) Err() error {
	var errs []error
	if o.LeadAlert.Error != "" {
		errs = append(errs, fmt.Errorf("%w: %s: %s", ErrNotificationFailed, KindLeadAlert, o.LeadAlert.Error))
	}
	if o.CustomerFollowUp != nil && o.CustomerFollowUp.Error != "" {
		errs = append(errs, fmt.Errorf("%w: %s: %s", ErrNotificationFailed, KindCustomerFollowUp, o.CustomerFollowUp.Error))
	}
	return errors.Join(errs...)
}

type Dispatcher struct {
	mailer  Mailer
	cfg     Config
	metrics *metrics.Registry
	clock   func() time.Time
}

func NewDispatcher(m Mailer, cfg Config, reg *metrics.Registry) *Dispatcher {
	if cfg.Company == "" {
		cfg.Company = "LendWise Mortgage"
	}
	return &Dispatcher{mailer: m, cfg: cfg, metrics: reg, clock: time.Now}
}

// Dispatch always attempts the internal lead alert. The customer follow-up
// is attempted only when a borrower email was extracted. Failures are
// reported in the Outcome; Dispatch itself never fails.
func (d *Dispatcher) Dispatch(ctx context.Context, l Lead) Outcome {
	var out Outcome
	out.LeadAlert = d.sendAlert(ctx, l)
	if l.Extraction != nil && l.Extraction.BorrowerEmail() != "" {
		fu := d.sendFollowUp(ctx, l)
		out.CustomerFollowUp = &fu
	}
	return out
}

func (d *Dispatcher) sendAlert(ctx context.Context, l Lead) calls.Delivery {
	to := l.Agent.Email
	if to == "" {
		to = d.cfg.AlertRecipient
	}
	if to == "" {
		return d.record(ctx, KindLeadAlert, l.CallID, calls.Delivery{Error: "no recipient configured"})
	}

	html, text, err := renderAlert(newAlertView(l, d.cfg))
	if err != nil {
		return d.record(ctx, KindLeadAlert, l.CallID, calls.Delivery{Recipient: to, Error: "render: " + err.Error()})
	}

	name, purpose := "Unknown", "Mortgage Inquiry"
	var attachments []Attachment
	if l.Transcript != "" {
		attachments = append(attachments, Attachment{
			Filename:    "transcript_" + l.CallID + ".txt",
			ContentType: "text/plain; charset=utf-8",
			Content:     []byte(l.Transcript),
		})
	}
	if rec := l.Extraction; rec != nil {
		name = orDefault(rec.Fields.Borrower.FullName, name)
		purpose = orDefault(rec.Fields.Loan.LoanPurpose, purpose)
		if b, err := json.MarshalIndent(rec, "", "  "); err == nil {
			attachments = append(attachments, Attachment{
				Filename:    "call_data_" + l.CallID + ".json",
				ContentType: "application/json",
				Content:     b,
			})
		}
	}

	id, err := d.mailer.Send(ctx, Message{
		From:        d.cfg.From,
		FromName:    d.cfg.FromName,
		To:          to,
		Subject:     fmt.Sprintf("New Lead: %s - %s", name, purpose),
		Text:        text,
		HTML:        html,
		Attachments: attachments,
	})
	return d.record(ctx, KindLeadAlert, l.CallID, d.delivery(to, id, err))
}

func (d *Dispatcher) sendFollowUp(ctx context.Context, l Lead) calls.Delivery {
	to := l.Extraction.BorrowerEmail()
	agentName := orDefault(extraction.Text(l.Agent.Name), "Your Loan Officer")
	html, err := renderFollowUp(followUpView{
		Company:      d.cfg.Company,
		BorrowerName: orDefault(l.Extraction.Fields.Borrower.FullName, "Valued Customer"),
		AgentName:    agentName,
		AgentPhone:   l.Agent.Phone,
		AgentEmail:   l.Agent.Email,
	})
	if err != nil {
		return d.record(ctx, KindCustomerFollowUp, l.CallID, calls.Delivery{Recipient: to, Error: "render: " + err.Error()})
	}
	id, err := d.mailer.Send(ctx, Message{
		From:     d.cfg.From,
		FromName: agentName + " - " + d.cfg.Company,
		To:       to,
		Subject:  "Thank you for contacting " + d.cfg.Company,
		HTML:     html,
	})
	return d.record(ctx, KindCustomerFollowUp, l.CallID, d.delivery(to, id, err))
}

func (d *Dispatcher) delivery(to, id string, err error) calls.Delivery {
	if err != nil {
		return calls.Delivery{Recipient: to, Error: err.Error()}
	}
	now := d.clock().UTC()
	return calls.Delivery{Sent: true, SentAt: &now, MessageID: id, Recipient: to}
}

func (d *Dispatcher) record(ctx context.Context, kind, callID string, dl calls.Delivery) calls.Delivery {
	result := "sent"
	if !dl.Sent {
		result = "failed"
		logger.From(ctx).Warn("notification failed", "kind", kind, "call_id", callID, "recipient", dl.Recipient, "err", dl.Error)
	}
	d.metrics.Notification(kind, result)
	return dl
}
