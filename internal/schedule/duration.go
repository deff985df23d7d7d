// Package schedule resolves the loosely typed duration values the upstream
// PM store serves for projects (numbers, numeric strings, interval phrases
// like "18 months") into day counts, and derives execution end dates and
// month spans from them.
package schedule

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the wire format the upstream store uses for schedule dates.
const DateLayout = "2006-01-02"

// daysPerMonth is the Gregorian average, used for fractional month spans.
const daysPerMonth = 30.436875

var intervalRe = regexp.MustCompile(`^(\d+)\s*(day|week|month|year)s?$`)

var unitDays = map[string]int{
	"day":   1,
	"week":  7,
	"month": 30,
	"year":  365,
}

// ParseDurationDays resolves a duration of unknown wire type to whole days.
// Numeric values pass through truncated; strings are tried first as interval
// phrases ("6 months", "2 weeks"), then as bare integers. Returns not-ok for
// nil, unknown types and unparseable strings.
func ParseDurationDays(v any) (int, bool) {
	switch d := v.(type) {
	case nil:
		return 0, false
	case int:
		return d, true
	case int64:
		return int(d), true
	case float64:
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return 0, false
		}
		return int(d), true
	case string:
		s := strings.ToLower(strings.TrimSpace(d))
		if s == "" {
			return 0, false
		}
		if m := intervalRe.FindStringSubmatch(s); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return 0, false
			}
			return n * unitDays[m[2]], true
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// EndDate adds a resolved duration to a start date. Not-ok when the duration
// cannot be resolved.
func EndDate(start time.Time, duration any) (time.Time, bool) {
	days, ok := ParseDurationDays(duration)
	if !ok {
		return time.Time{}, false
	}
	return start.AddDate(0, 0, days), true
}

// ParseDate parses a wire-format date string.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}

// EndDateString is EndDate over wire-format date strings. Malformed start
// dates and unresolvable durations yield not-ok, never a panic.
func EndDateString(start string, duration any) (string, bool) {
	t, err := ParseDate(start)
	if err != nil {
		return "", false
	}
	end, ok := EndDate(t, duration)
	if !ok {
		return "", false
	}
	return end.Format(DateLayout), true
}

// CalendarMonthSpan counts calendar months touched by the range, inclusive
// of both endpoints' months. January 15 to March 2 spans 3 months. Not-ok
// when start is after end.
func CalendarMonthSpan(start, end time.Time) (int, bool) {
	if start.After(end) {
		return 0, false
	}
	return (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month()) + 1, true
}

// PreciseMonths converts the inclusive day count of the range into fractional
// months using the Gregorian average month length, rounded to one decimal.
func PreciseMonths(start, end time.Time) float64 {
	days := InclusiveDays(start, end)
	return math.Round(float64(days)/daysPerMonth*10) / 10
}

// InclusiveDays counts days in the range counting both endpoints. A range
// from a date to itself is 1 day.
func InclusiveDays(start, end time.Time) int {
	return int(math.Floor(end.Sub(start).Hours()/24)) + 1
}
