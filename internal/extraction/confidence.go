package extraction

// ConfidenceScore measures completeness of an extraction: every key of v is
// counted, nested objects are walked, array elements are not. A key is
// filled unless its value is null or the empty string. The result is
// round(100*filled/total), or 0 for an empty structure.
func ConfidenceScore(v map[string]any) int {
	var filled, total int
	countFields(v, &filled, &total)
	if total == 0 {
		return 0
	}
	// Integer form of round-half-up for non-negative ratios.
	return (200*filled + total) / (2 * total)
}

func countFields(obj map[string]any, filled, total *int) {
	for _, v := range obj {
		*total++
		if isFilled(v) {
			*filled++
		}
		if child, ok := v.(map[string]any); ok {
			countFields(child, filled, total)
		}
	}
}

func isFilled(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	default:
		return true
	}
}

// ReviewThreshold is the confidence below which a lead is flagged for
// manual review.
const ReviewThreshold = 70

func (r Record) NeedsReview() bool { return r.ConfidenceScore < ReviewThreshold }
