// Package export renders call records as an XLSX workbook.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"call-lead-pipeline/internal/calls"
	"call-lead-pipeline/internal/extraction"
	"call-lead-pipeline/internal/reporting"

	"github.com/xuri/excelize/v2"
)

const (
	SheetCalls   = "Calls"
	SheetSummary = "Summary"
)

// ContentType is the XLSX media type.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var callColumns = []string{
	"Call ID", "Created At", "Agent", "From", "To", "Duration (s)", "Call Status",
	"Stage", "Failed Stage", "Failure Reason", "Needs Review", "Confidence",
	"Borrower", "Borrower Email", "Borrower Phone", "Loan Purpose", "Loan Amount",
	"Urgency", "Summary", "Lead Alert Sent", "Follow-up Sent", "Transcript Status",
}

// WriteCalls writes rows to w as a workbook with a Calls sheet and a
// Summary sheet.
func WriteCalls(w io.Writer, rows []calls.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetCalls); err != nil {
		return err
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	if err := setRow(f, SheetCalls, 1, toCells(callColumns)); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(callColumns), 1)
	if err := f.SetCellStyle(SheetCalls, "A1", last, header); err != nil {
		return err
	}
	for i, r := range rows {
		if err := setRow(f, SheetCalls, i+2, callRow(r)); err != nil {
			return fmt.Errorf("export: row %s: %w", r.CallID, err)
		}
	}
	if err := f.SetColWidth(SheetCalls, "A", "A", 38); err != nil {
		return err
	}
	if err := f.SetPanes(SheetCalls, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}

	if _, err := f.NewSheet(SheetSummary); err != nil {
		return err
	}
	summary := summaryRows(reporting.Summarize(rows))
	for i, kv := range summary {
		if err := setRow(f, SheetSummary, i+1, kv); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(SheetSummary, "A1", fmt.Sprintf("A%d", len(summary)), header); err != nil {
		return err
	}

	_, err = f.WriteTo(w)
	return err
}

func setRow(f *excelize.File, sheet string, row int, cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &cells)
}

func toCells(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func callRow(r calls.Record) []any {
	var ex extraction.Record
	var confidence any = ""
	if score, ok := reporting.Confidence(r); ok {
		confidence = score
		_ = json.Unmarshal(r.Extraction, &ex)
	}
	b, l := ex.Fields.Borrower, ex.Fields.Loan
	return []any{
		r.CallID,
		formatTime(r.CreatedAt),
		r.AgentID,
		r.From,
		r.To,
		r.DurationSeconds,
		string(r.Status),
		string(r.Stage),
		string(r.FailedStage),
		r.FailureReason,
		yesNo(r.NeedsReview),
		confidence,
		string(b.FullName),
		string(b.EmailAddress),
		string(b.PhoneNumber),
		string(l.LoanPurpose),
		string(l.RequestedLoanAmount),
		string(ex.Fields.Timeline.UrgencyLevel),
		string(ex.Fields.Summary),
		yesNo(r.Notifications.LeadAlert.Sent),
		yesNo(r.Notifications.CustomerFollowUp.Sent),
		string(r.TranscriptStatus),
	}
}

func summaryRows(s reporting.CallsSummary) [][]any {
	return [][]any{
		{"Total calls", s.TotalCalls},
		{"Leads completed", s.LeadsCompleted},
		{"Leads failed", s.LeadsFailed},
		{"Needs review", s.NeedsReview},
		{"Total duration (s)", s.TotalDurationSeconds},
		{"Average duration (s)", s.AverageDurationSeconds},
		{"Average confidence", s.AverageConfidence},
		{"Lead alerts sent", s.LeadAlertsSent},
		{"Follow-ups sent", s.FollowUpsSent},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
