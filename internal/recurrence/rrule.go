package recurrence

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Freq int

const (
	Daily Freq = iota
	Weekly
	Monthly
	Yearly
)

var freqNames = map[Freq]string{
	Daily:   "DAILY",
	Weekly:  "WEEKLY",
	Monthly: "MONTHLY",
	Yearly:  "YEARLY",
}

var freqFromName = map[string]Freq{
	"DAILY":   Daily,
	"WEEKLY":  Weekly,
	"MONTHLY": Monthly,
	"YEARLY":  Yearly,
}

var dayNames = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

var dayAbbrev = map[time.Weekday]string{
	time.Sunday:    "SU",
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
}

const untilLayout = "20060102"

// Rule is the subset of an RFC 5545 RRULE that task series use.
type Rule struct {
	Freq       Freq
	Interval   int            // default 1; 2 = biweekly when Freq=Weekly
	ByDay      []time.Weekday // for WEEKLY: which days (empty = same weekday as start)
	ByMonthDay int            // for MONTHLY: day of month (0 = same as start)
	Count      int            // max occurrences counted from the series start (0 = unlimited)
	Until      *time.Time     // last included calendar day (nil = no limit)
}

// Parse parses an RRULE string like "FREQ=WEEKLY;BYDAY=MO,WE;UNTIL=20240131".
// A leading "RRULE:" prefix is accepted.
func Parse(rule string) (Rule, error) {
	rule = strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:")
	if rule == "" {
		return Rule{}, fmt.Errorf("empty rule")
	}

	r := Rule{Interval: 1}
	var hasFreq bool

	for _, part := range strings.Split(rule, ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return Rule{}, fmt.Errorf("invalid rule part: %q", part)
		}
		key, val := strings.ToUpper(kv[0]), kv[1]

		switch key {
		case "FREQ":
			f, ok := freqFromName[strings.ToUpper(val)]
			if !ok {
				return Rule{}, fmt.Errorf("unknown frequency: %q", val)
			}
			r.Freq = f
			hasFreq = true

		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return Rule{}, fmt.Errorf("invalid interval: %q", val)
			}
			r.Interval = n

		case "BYDAY":
			for _, d := range strings.Split(val, ",") {
				wd, ok := dayNames[strings.ToUpper(strings.TrimSpace(d))]
				if !ok {
					return Rule{}, fmt.Errorf("unknown day: %q", d)
				}
				if !slices.Contains(r.ByDay, wd) {
					r.ByDay = append(r.ByDay, wd)
				}
			}
			sortWeekdays(r.ByDay)

		case "BYMONTHDAY":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 || n > 31 {
				return Rule{}, fmt.Errorf("invalid BYMONTHDAY: %q", val)
			}
			r.ByMonthDay = n

		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return Rule{}, fmt.Errorf("invalid count: %q", val)
			}
			r.Count = n

		case "UNTIL":
			t, err := time.Parse("20060102T150405Z", val)
			if err != nil {
				t, err = time.Parse(untilLayout, val)
				if err != nil {
					return Rule{}, fmt.Errorf("invalid UNTIL: %q", val)
				}
			}
			day := Day(t)
			r.Until = &day

		default:
			return Rule{}, fmt.Errorf("unsupported rule key: %q", key)
		}
	}

	if !hasFreq {
		return Rule{}, fmt.Errorf("FREQ is required")
	}
	if r.Count > 0 && r.Until != nil {
		return Rule{}, fmt.Errorf("COUNT and UNTIL are mutually exclusive")
	}

	return r, nil
}

// WeeklyOn builds a weekly rule from ISO weekday numbers (Monday=1 ... Sunday=7).
// Duplicates are dropped and days are ordered Monday first.
func WeeklyOn(isoWeekdays []int) (Rule, error) {
	if len(isoWeekdays) == 0 {
		return Rule{}, fmt.Errorf("at least one weekday is required")
	}
	r := Rule{Freq: Weekly, Interval: 1}
	for _, n := range isoWeekdays {
		wd, err := FromISOWeekday(n)
		if err != nil {
			return Rule{}, err
		}
		if !slices.Contains(r.ByDay, wd) {
			r.ByDay = append(r.ByDay, wd)
		}
	}
	sortWeekdays(r.ByDay)
	return r, nil
}

// FromISOWeekday converts Monday=1 ... Sunday=7 to a time.Weekday.
func FromISOWeekday(n int) (time.Weekday, error) {
	if n < 1 || n > 7 {
		return 0, fmt.Errorf("weekday %d out of range 1..7", n)
	}
	return time.Weekday(n % 7), nil
}

// ISOWeekday converts a time.Weekday to Monday=1 ... Sunday=7.
func ISOWeekday(wd time.Weekday) int {
	if wd == time.Sunday {
		return 7
	}
	return int(wd)
}

// ISOWeekdays returns the rule's BYDAY set in ISO numbering.
func (r Rule) ISOWeekdays() []int {
	out := make([]int, 0, len(r.ByDay))
	for _, wd := range r.ByDay {
		out = append(out, ISOWeekday(wd))
	}
	return out
}

func sortWeekdays(days []time.Weekday) {
	slices.SortFunc(days, func(a, b time.Weekday) int {
		return ISOWeekday(a) - ISOWeekday(b)
	})
}

// String serializes the rule back to an RRULE string.
func (r Rule) String() string {
	var parts []string
	parts = append(parts, "FREQ="+freqNames[r.Freq])

	if r.Interval > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", r.Interval))
	}

	if len(r.ByDay) > 0 {
		var days []string
		for _, d := range r.ByDay {
			days = append(days, dayAbbrev[d])
		}
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}

	if r.ByMonthDay > 0 {
		parts = append(parts, fmt.Sprintf("BYMONTHDAY=%d", r.ByMonthDay))
	}

	if r.Count > 0 {
		parts = append(parts, fmt.Sprintf("COUNT=%d", r.Count))
	}

	if r.Until != nil {
		parts = append(parts, "UNTIL="+r.Until.Format(untilLayout))
	}

	return strings.Join(parts, ";")
}

// Describe returns a human-readable description of the rule.
func (r Rule) Describe() string {
	switch r.Freq {
	case Daily:
		if r.Interval > 1 {
			return fmt.Sprintf("Repeats every %d days", r.Interval)
		}
		return "Repeats daily"
	case Weekly:
		prefix := "Repeats weekly"
		if r.Interval > 1 {
			prefix = fmt.Sprintf("Repeats every %d weeks", r.Interval)
		}
		if len(r.ByDay) > 0 {
			var names []string
			for _, d := range r.ByDay {
				names = append(names, d.String()[:3])
			}
			return prefix + " on " + strings.Join(names, ", ")
		}
		return prefix
	case Monthly:
		if r.Interval > 1 {
			return fmt.Sprintf("Repeats every %d months", r.Interval)
		}
		return "Repeats monthly"
	case Yearly:
		if r.Interval > 1 {
			return fmt.Sprintf("Repeats every %d years", r.Interval)
		}
		return "Repeats yearly"
	}
	return ""
}
