package notify

import (
	"bytes"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"call-lead-pipeline/internal/extraction"
)

type row struct{ Label, Value string }

type section struct {
	Title string
	Rows  []row
}

type actionView struct {
	Task     string
	Priority string
	Due      string
}

type alertView struct {
	Company       string
	CallID        string
	CallDate      string
	Duration      int
	AgentName     string
	Summary       string
	Sentiment     string
	Urgency       string
	Sections      []section
	ActionItems   []actionView
	Concerns      []string
	Opportunities []string
	Confidence    int
	NeedsReview   bool
	DashboardURL  string
	BorrowerEmail string
}

type followUpView struct {
	Company      string
	BorrowerName string
	AgentName    string
	AgentPhone   string
	AgentEmail   string
}

func orDefault(t extraction.Text, def string) string {
	if t.Present() {
		return string(t)
	}
	return def
}

func newAlertView(l Lead, cfg Config) alertView {
	v := alertView{
		Company:      cfg.Company,
		CallID:       l.CallID,
		CallDate:     l.CallDate.Format("Jan 2, 2006 3:04 PM MST"),
		Duration:     l.DurationSeconds,
		AgentName:    orDefault(extraction.Text(l.Agent.Name), "Unassigned"),
		Summary:      "Mortgage inquiry call - details extracted below.",
		Sentiment:    "neutral",
		Urgency:      "medium",
		DashboardURL: cfg.DashboardURL,
	}
	rec := l.Extraction
	if rec == nil {
		v.NeedsReview = true
		v.Summary = "Automatic extraction was unavailable for this call. Manual review required."
		return v
	}
	f := rec.Fields
	if f.Summary.Present() {
		v.Summary = string(f.Summary)
	}
	v.Sentiment = orDefault(extraction.Text(rec.Sentiment.Overall), "neutral")
	v.Urgency = orDefault(extraction.Text(rec.Sentiment.Urgency), "medium")
	v.Concerns = rec.Sentiment.Concerns
	v.Opportunities = rec.Sentiment.Opportunities
	v.Confidence = rec.ConfidenceScore
	v.NeedsReview = rec.NeedsReview()
	v.BorrowerEmail = rec.BorrowerEmail()

	const np, ns = "Not provided", "Not specified"
	v.Sections = []section{
		{Title: "Borrower Information", Rows: []row{
			{"Name", orDefault(f.Borrower.FullName, np)},
			{"Phone", orDefault(f.Borrower.PhoneNumber, np)},
			{"Email", orDefault(f.Borrower.EmailAddress, np)},
			{"Address", orDefault(f.Borrower.CurrentAddress, np)},
		}},
		{Title: "Loan Details", Rows: []row{
			{"Purpose", orDefault(f.Loan.LoanPurpose, ns)},
			{"Amount", orDefault(f.Loan.RequestedLoanAmount, ns)},
			{"Property", orDefault(f.Loan.PropertyAddress, ns)},
			{"Property Type", orDefault(f.Loan.PropertyType, ns)},
			{"Occupancy", orDefault(f.Loan.Occupancy, ns)},
		}},
		{Title: "Financial Information", Rows: []row{
			{"Credit Score", orDefault(f.Financial.CreditScore, np)},
			{"Annual Income", orDefault(f.Financial.AnnualIncome, np)},
			{"Employment", orDefault(f.Financial.EmploymentStatus, np)},
			{"Down Payment", orDefault(f.Financial.DownPaymentAmount, np)},
		}},
	}
	for _, a := range rec.ActionItems {
		due := "No specific deadline"
		if a.DueDate != nil {
			due = "Due " + a.DueDate.Format(time.DateOnly)
		}
		v.ActionItems = append(v.ActionItems, actionView{Task: a.Task, Priority: string(a.Priority), Due: due})
	}
	return v
}

var funcs = map[string]any{"upper": strings.ToUpper}

var alertHTML = htmltemplate.Must(htmltemplate.New("alert").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
<h2>{{.Company}} - Call Summary</h2>
<p>Call Date: {{.CallDate}}<br>Duration: {{.Duration}} seconds<br>Loan Officer: {{.AgentName}}</p>
{{if .NeedsReview}}<p><strong>Flagged for manual review.</strong></p>{{end}}
<p><strong>Call Summary:</strong><br>{{.Summary}}</p>
<p>Sentiment: {{upper .Sentiment}} | Urgency: {{upper .Urgency}}</p>
{{range .Sections}}<h3>{{.Title}}</h3>
<table>{{range .Rows}}<tr><td><strong>{{.Label}}:</strong></td><td>{{.Value}}</td></tr>{{end}}</table>
{{end}}{{if .ActionItems}}<h3>Action Items</h3>
{{range .ActionItems}}<div class="priority-{{.Priority}}"><strong>{{.Task}}</strong><br>Priority: {{upper .Priority}}<br>{{.Due}}</div>
{{end}}{{end}}{{if .Concerns}}<h3>Concerns</h3><ul>{{range .Concerns}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .Opportunities}}<h3>Opportunities</h3><ul>{{range .Opportunities}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .DashboardURL}}<p><a href="{{.DashboardURL}}">View Full Transcript</a>{{if .BorrowerEmail}} | <a href="mailto:{{.BorrowerEmail}}">Email Borrower</a>{{end}}</p>{{end}}
<p style="font-size: 12px; color: #666;">Confidence Score: {{.Confidence}}%</p>
</body>
</html>
`))

var alertText = texttemplate.Must(texttemplate.New("alert").Funcs(funcs).Parse(`{{upper .Company}} - CALL SUMMARY
Date: {{.CallDate}}
Duration: {{.Duration}} seconds
Loan Officer: {{.AgentName}}
{{if .NeedsReview}}
FLAGGED FOR MANUAL REVIEW
{{end}}
SUMMARY
{{.Summary}}
{{range .Sections}}
{{upper .Title}}
{{range .Rows}}{{.Label}}: {{.Value}}
{{end}}{{end}}{{if .ActionItems}}
ACTION ITEMS
{{range .ActionItems}}- {{.Task}} (Priority: {{.Priority}}) {{.Due}}
{{end}}{{end}}
Confidence Score: {{.Confidence}}%
`))

var followUpHTML = htmltemplate.Must(htmltemplate.New("followup").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px;">
<h2>Thank you for your interest in {{.Company}}!</h2>
<p>Dear {{.BorrowerName}},</p>
<p>Thank you for taking the time to speak with us today about your mortgage needs.
I've reviewed our conversation and will be preparing a personalized loan proposal for you.</p>
<h3>Next Steps:</h3>
<ol>
<li>I'll analyze your financial situation and find the best loan options</li>
<li>You'll receive a detailed rate quote within 24 hours</li>
<li>We'll schedule a follow-up call to discuss your options</li>
</ol>
<p>In the meantime, please gather the following documents:</p>
<ul>
<li>Last 2 years of tax returns</li>
<li>Last 2 months of bank statements</li>
<li>Most recent pay stubs (last 30 days)</li>
<li>Photo ID and Social Security card</li>
</ul>
<p>Best regards,<br>{{.AgentName}}<br>{{.Company}}{{if .AgentPhone}}<br>{{.AgentPhone}}{{end}}{{if .AgentEmail}}<br>{{.AgentEmail}}{{end}}</p>
</div>
`))

func renderAlert(v alertView) (html, text string, err error) {
	var hb, tb bytes.Buffer
	if err := alertHTML.Execute(&hb, v); err != nil {
		return "", "", err
	}
	if err := alertText.Execute(&tb, v); err != nil {
		return "", "", err
	}
	return hb.String(), tb.String(), nil
}

func renderFollowUp(v followUpView) (string, error) {
	var b bytes.Buffer
	if err := followUpHTML.Execute(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}
