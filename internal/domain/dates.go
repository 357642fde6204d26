package domain

import (
	"fmt"
	"time"
)

// CompactDate returns the archive's compact date form for a granularity:
// 8 digits (YYYYMMDD) for daily, 6 digits (YYYYMM) for monthly.
func CompactDate(t time.Time, g Granularity) string {
	if g == GranularityMonthly {
		return t.Format("200601")
	}
	return t.Format("20060102")
}

// DateSequence expands an inclusive date range into the sequence of steps
// at the given granularity. Monthly sequences step on the first of each
// month containing the range endpoints.
func DateSequence(start, end time.Time, g Granularity) ([]time.Time, error) {
	start = truncateDay(start)
	end = truncateDay(end)
	if end.Before(start) {
		return nil, &ValidationError{
			Field:      "end_date",
			Value:      end.Format("2006-01-02"),
			Constraint: ">= start_date",
			Message:    fmt.Sprintf("end date precedes start date %s", start.Format("2006-01-02")),
		}
	}

	var out []time.Time
	switch g {
	case GranularityMonthly:
		cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
		last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
		for !cur.After(last) {
			out = append(out, cur)
			cur = cur.AddDate(0, 1, 0)
		}
	case GranularityDaily:
		for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, 1) {
			out = append(out, cur)
		}
	default:
		return nil, &ValidationError{
			Field:      "granularity",
			Value:      string(g),
			Constraint: "daily|monthly",
			Message:    "unknown temporal granularity",
		}
	}
	return out, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
