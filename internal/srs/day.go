package srs

import "time"

// Unit lengths in milliseconds. They are fixed lengths, not calendar aware.
const (
	Minute = float64(time.Minute / time.Millisecond)
	Hour   = 60 * Minute
	Day    = 24 * Hour
)

// DefaultNewDayHour is the local hour at which a new study day begins.
const DefaultNewDayHour = 4

// EffectiveDate shifts t back by the day-boundary hour so that times before
// the boundary still belong to the previous study day.
func EffectiveDate(t time.Time, newDayHour int) time.Time {
	return t.Add(-time.Duration(newDayHour) * time.Hour)
}

// TodayString returns the study day of now as YYYY-MM-DD.
func TodayString(now time.Time, newDayHour int) string {
	return EffectiveDate(now, newDayHour).Format(time.DateOnly)
}

// IsToday reports whether the Unix-millisecond timestamp ts falls on the same
// study day as now.
func IsToday(ts int64, now time.Time, newDayHour int) bool {
	t := time.UnixMilli(ts).In(now.Location())
	return TodayString(t, newDayHour) == TodayString(now, newDayHour)
}

// EndOfDay returns, in Unix milliseconds, the next day boundary: today's
// boundary if now is before it, otherwise tomorrow's.
func EndOfDay(now time.Time, newDayHour int) int64 {
	y, m, d := now.Date()
	boundary := time.Date(y, m, d, newDayHour, 0, 0, 0, now.Location())
	if !now.Before(boundary) {
		boundary = boundary.AddDate(0, 0, 1)
	}
	return boundary.UnixMilli()
}
