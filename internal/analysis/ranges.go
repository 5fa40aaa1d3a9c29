package analysis

import (
	"fmt"
	"time"

	"hourkeep/internal/hourclock"
)

// Range names accepted by Analyze.
const (
	RangeToday     = "today"
	RangeYesterday = "yesterday"
	Range3Days     = "3days"
	RangeWeek      = "week"
	RangeMonth     = "month"
)

// rangeBounds resolves a range name to a human label and the query
// window. Past ranges ("yesterday") are closed; rolling ranges end now.
func rangeBounds(name string, now time.Time) (label string, from, to time.Time, err error) {
	switch name {
	case RangeToday:
		return "Today", hourclock.DayStart(now), now, nil
	case RangeYesterday:
		y := now.AddDate(0, 0, -1)
		return "Yesterday", hourclock.DayStart(y), hourclock.DayEnd(y), nil
	case Range3Days:
		return "Last 3 Days", hourclock.DayStart(now.AddDate(0, 0, -3)), now, nil
	case RangeWeek:
		return "Last Week", hourclock.DayStart(now.AddDate(0, 0, -7)), now, nil
	case RangeMonth:
		return "Last Month", hourclock.DayStart(now.AddDate(0, 0, -30)), now, nil
	default:
		return "", time.Time{}, time.Time{}, fmt.Errorf(
			"unknown analysis range %q (want today, yesterday, 3days, week, or month)", name)
	}
}
