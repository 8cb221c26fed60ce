package recurrence

import (
	"fmt"
	"slices"
	"time"
)

// Schedule anchors a Rule to a first day and an optional last day. It is
// the value a task series stores alongside its RRULE text.
type Schedule struct {
	Rule  Rule
	Start time.Time
	Until *time.Time // inclusive; nil = unbounded
}

// Validate checks that the schedule's bounds are ordered.
func (s Schedule) Validate() error {
	if s.Start.IsZero() {
		return fmt.Errorf("start date is required")
	}
	if s.Until != nil && Day(*s.Until).Before(Day(s.Start)) {
		return fmt.Errorf("until date %s is before start date %s", FormatDate(*s.Until), FormatDate(s.Start))
	}
	return nil
}

// lastDay is the earliest of the schedule's Until and the rule's UNTIL.
func (s Schedule) lastDay() *time.Time {
	var last *time.Time
	for _, u := range []*time.Time{s.Until, s.Rule.Until} {
		if u == nil {
			continue
		}
		d := Day(*u)
		if last == nil || d.Before(*last) {
			last = &d
		}
	}
	return last
}

// Expand returns every calendar day in [windowStart, windowEnd] (inclusive)
// on which the schedule fires, in ascending order. It depends only on its
// arguments. A schedule that starts after the window or ends before it
// yields nil.
func (s Schedule) Expand(windowStart, windowEnd time.Time) []time.Time {
	from, to := Day(windowStart), Day(windowEnd)
	start := Day(s.Start)

	last := to
	if u := s.lastDay(); u != nil && u.Before(last) {
		last = *u
	}
	if from.After(last) || start.After(last) {
		return nil
	}

	// COUNT is relative to the series start, so counting must begin there
	// even when the window opens later.
	cursor := MaxDate(from, start)
	if s.Rule.Count > 0 {
		cursor = start
	}

	var out []time.Time
	seen := 0
	for d := cursor; !d.After(last); d = d.AddDate(0, 0, 1) {
		if !s.Rule.matches(start, d) {
			continue
		}
		seen++
		if s.Rule.Count > 0 && seen > s.Rule.Count {
			break
		}
		if !d.Before(from) {
			out = append(out, d)
		}
	}
	return out
}

// Occurs reports whether the schedule fires on day.
func (s Schedule) Occurs(day time.Time) bool {
	return len(s.Expand(day, day)) == 1
}

// matches reports whether d is generated by the rule for a series starting
// on start. Both are calendar days and d is never before start.
func (r Rule) matches(start, d time.Time) bool {
	interval := r.Interval
	if interval < 1 {
		interval = 1
	}

	switch r.Freq {
	case Daily:
		return DaysBetween(start, d)%interval == 0

	case Weekly:
		days := r.ByDay
		if len(days) == 0 {
			days = []time.Weekday{start.Weekday()}
		}
		if !slices.Contains(days, d.Weekday()) {
			return false
		}
		weeks := DaysBetween(weekStart(start), weekStart(d)) / 7
		return weeks%interval == 0

	case Monthly:
		day := r.ByMonthDay
		if day == 0 {
			day = start.Day()
		}
		if d.Day() != day {
			return false
		}
		months := (d.Year()-start.Year())*12 + int(d.Month()) - int(start.Month())
		return months%interval == 0

	case Yearly:
		if d.Month() != start.Month() || d.Day() != start.Day() {
			return false
		}
		return (d.Year()-start.Year())%interval == 0
	}
	return false
}

// weekStart returns the Monday on or before t.
func weekStart(t time.Time) time.Time {
	return AddDays(t, -(ISOWeekday(t.Weekday()) - 1))
}
