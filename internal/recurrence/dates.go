package recurrence

import (
	"fmt"
	"time"
)

// DateLayout is the storage and wire format for calendar dates.
const DateLayout = "2006-01-02"

// Day truncates t to its calendar date, expressed as midnight UTC. The
// year/month/day are taken from t's own location, so convert to the
// relevant timezone first.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the current calendar date in loc.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return Day(now.In(loc))
}

// ParseDate parses a YYYY-MM-DD string into a calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

// FormatDate renders a calendar date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DaysBetween returns the number of whole days from a to b (negative when b
// is before a). Both arguments are truncated with Day first.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// AddDays shifts a calendar date by n days.
func AddDays(t time.Time, n int) time.Time {
	return Day(t).AddDate(0, 0, n)
}

// MaxDate returns the later of two dates.
func MaxDate(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// MinDate returns the earlier of two dates.
func MinDate(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
