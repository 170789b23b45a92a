package market

import (
	"fmt"
	"time"
)

// dayFormat is the canonical day rendering used in registry keys and
// download URLs.
const dayFormat = "2006-01-02"

// Interval is a closed time range [Start, End].
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval builds an interval over [start, end].
func NewInterval(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

// Validate rejects intervals that start after they end.
func (iv Interval) Validate() error {
	if iv.Start.After(iv.End) {
		return fmt.Errorf("%w: %s > %s", ErrInvalidInterval, iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
	}
	return nil
}

// Clamp bounds the interval to [epoch, now]. Requests reaching into the
// future are truncated rather than rejected.
func (iv Interval) Clamp(now time.Time) Interval {
	epoch := time.Unix(0, 0).UTC()
	out := iv
	if out.Start.Before(epoch) {
		out.Start = epoch
	}
	if out.End.After(now) {
		out.End = now
	}
	return out
}

// Days enumerates the UTC days the interval touches, inclusive on both ends,
// as UTC-midnight times.
func (iv Interval) Days() []time.Time {
	day := DayOf(iv.Start)
	last := DayOf(iv.End)

	var days []time.Time
	for !day.After(last) {
		days = append(days, day)
		day = day.AddDate(0, 0, 1)
	}
	return days
}

// StartMillis returns the interval start in epoch milliseconds.
func (iv Interval) StartMillis() float64 { return Millis(iv.Start) }

// EndMillis returns the interval end in epoch milliseconds.
func (iv Interval) EndMillis() float64 { return Millis(iv.End) }

// Millis converts a time to epoch milliseconds.
func Millis(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// FromMillis converts epoch milliseconds to a UTC time.
func FromMillis(ms float64) time.Time {
	return time.UnixMilli(int64(ms)).UTC()
}

// DayOf truncates a time to its UTC midnight.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DayBounds returns the first and last millisecond of the UTC day.
func DayBounds(day time.Time) (startMs, endMs float64) {
	start := DayOf(day)
	end := start.AddDate(0, 0, 1)
	return Millis(start), Millis(end) - 1
}

// FormatDay renders a day as YYYY-MM-DD.
func FormatDay(day time.Time) string {
	return day.UTC().Format(dayFormat)
}
