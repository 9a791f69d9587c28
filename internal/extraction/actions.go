package extraction

import "time"

// BusinessDaysFrom returns the date n weekdays after t, skipping Saturday
// and Sunday. The time of day is kept.
func BusinessDaysFrom(t time.Time, n int) time.Time {
	d := t
	for counted := 0; counted < n; {
		d = d.AddDate(0, 0, 1)
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			counted++
		}
	}
	return d
}

// standingTasks are requested on every lead.
var standingTasks = []string{
	"Collect last 2 years tax returns",
	"Collect last 2 months bank statements",
	"Collect last 30 days pay stubs",
}

// ActionItems derives follow-up tasks from the extracted fields. The rules
// are fixed; provider suggestions are appended last as medium priority.
func ActionItems(f Fields, now time.Time) []ActionItem {
	due := func(n int) *time.Time {
		d := BusinessDaysFrom(now, n)
		return &d
	}

	var out []ActionItem
	if !f.Financial.CreditScore.Present() {
		out = append(out, ActionItem{Task: "Obtain credit authorization and pull credit report", Priority: PriorityHigh, DueDate: due(1)})
	}

	switch f.Purpose() {
	case PurposePurchase:
		if !f.Loan.PropertyAddress.Present() {
			out = append(out, ActionItem{Task: "Get property address once borrower finds a home", Priority: PriorityMedium})
		}
	case PurposeRefinance:
		out = append(out,
			ActionItem{Task: "Order property appraisal", Priority: PriorityHigh, DueDate: due(3)},
			ActionItem{Task: "Request current mortgage statement", Priority: PriorityHigh, DueDate: due(2)},
		)
	}

	for _, task := range standingTasks {
		out = append(out, ActionItem{Task: task, Priority: PriorityHigh, DueDate: due(3)})
	}

	for _, s := range f.SuggestedActions {
		if s == "" {
			continue
		}
		out = append(out, ActionItem{Task: s, Priority: PriorityMedium, DueDate: due(5)})
	}
	return out
}
