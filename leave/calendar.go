package leave

import "time"

// =============================================================================
// WORKING DAYS - Single source of truth for duration calculations
// =============================================================================

// DateOf truncates a time to its calendar date in UTC. All request dates are
// normalized through this before comparison or storage.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// IsWorkday reports whether a date is a weekday (Mon-Fri).
func IsWorkday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// WorkingDays counts weekdays in the inclusive span [start, end]. Weekends
// are excluded. This count is used both for limit calculations and for
// cross-checking a declared total against the span.
func WorkingDays(start, end time.Time) int {
	start, end = DateOf(start), DateOf(end)
	if end.Before(start) {
		return 0
	}
	days := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if IsWorkday(d) {
			days++
		}
	}
	return days
}

// =============================================================================
// CALENDAR PERIODS - Boundaries for periodic limits
// =============================================================================

// MonthSpan returns the first and last day of the calendar month containing t.
func MonthSpan(t time.Time) (time.Time, time.Time) {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first, first.AddDate(0, 1, -1)
}

// QuarterSpan returns the first and last day of the calendar quarter
// containing t.
func QuarterSpan(t time.Time) (time.Time, time.Time) {
	q := (int(t.Month()) - 1) / 3
	first := time.Date(t.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, time.UTC)
	return first, first.AddDate(0, 3, -1)
}

// YearSpan returns the first and last day of the calendar year containing t.
func YearSpan(t time.Time) (time.Time, time.Time) {
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(t.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
}
