package srs

import (
	"fmt"
	"math"
	"time"
)

// IntervalString renders a millisecond interval the way the answer buttons
// show it: "< 1m", "10m", "5h", "3d", "1.2y".
func IntervalString(ms float64) string {
	if ms < 0 {
		ms = 0
	}
	switch {
	case ms < Minute:
		return "< 1m"
	case ms < Hour:
		return fmt.Sprintf("%.0fm", math.Round(ms/Minute))
	case ms < Day:
		return fmt.Sprintf("%.0fh", math.Round(ms/Hour))
	case ms < 365*Day:
		return fmt.Sprintf("%.0fd", math.Round(ms/Day))
	}
	return fmt.Sprintf("%.1fy", ms/(365*Day))
}

// DueString renders a due date relative to now.
func DueString(due int64, now time.Time) string {
	diff := due - now.UnixMilli()
	if diff <= 0 {
		return "now"
	}
	return IntervalString(float64(diff))
}
