// Package hourclock provides hour-marker arithmetic.
//
// An hour marker is a time truncated to the top of its hour in local
// time; it is the only scheduling granularity hourkeep works with.
package hourclock

import (
	"strings"
	"time"
)

// Truncate returns t with minutes, seconds and sub-second zeroed,
// keeping t's location.
func Truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

// DayStart returns midnight of t's calendar day.
func DayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DayEnd returns 23:59:59 of t's calendar day.
func DayEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

// Next returns the hour marker following t's hour.
func Next(t time.Time) time.Time {
	return Truncate(t).Add(time.Hour)
}

// Hours returns every hour marker from from through to, inclusive.
// Both bounds are truncated first. Returns nil when to precedes from.
func Hours(from, to time.Time) []time.Time {
	start := Truncate(from)
	end := Truncate(to)
	if end.Before(start) {
		return nil
	}
	out := make([]time.Time, 0, int(end.Sub(start)/time.Hour)+1)
	for h := start; !h.After(end); h = h.Add(time.Hour) {
		out = append(out, h)
	}
	return out
}

// FormatRange renders an hour marker as a human-readable span,
// e.g. "9:00 AM - 10:00 AM".
func FormatRange(hour time.Time) string {
	h := Truncate(hour)
	return clockLabel(h) + " - " + clockLabel(h.Add(time.Hour))
}

func clockLabel(t time.Time) string {
	return strings.TrimPrefix(t.Format("03:04 PM"), "0")
}
