// Package clock provides an injectable notion of wall-clock time so that
// window alignment, breaker timers, and supervisor scheduling can be
// tested deterministically.
package clock

import "time"

// Clock abstracts time so tests can control window boundaries and timers
// without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
}

// Real is the production Clock backed by the standard library.
type Real struct{}

func (Real) Now() time.Time                  { return time.Now().UTC() }
func (Real) Sleep(d time.Duration)           { time.Sleep(d) }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// AlignToMinute floors t to the previous 60-second wall-clock boundary.
func AlignToMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

// DayStart returns 00:00 UTC of t's calendar day.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthStart returns the 1st of t's calendar month at 00:00 UTC.
func MonthStart(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// SecondsUntilMidnight returns the whole seconds remaining until the next
// UTC day boundary after t.
func SecondsUntilMidnight(t time.Time) int64 {
	next := DayStart(t).Add(24 * time.Hour)
	return int64(next.Sub(t).Seconds())
}

// SecondsUntilNextMonth returns the whole seconds remaining until the next
// UTC month boundary after t.
func SecondsUntilNextMonth(t time.Time) int64 {
	y, m, _ := t.UTC().Date()
	next := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return int64(next.Sub(t).Seconds())
}
