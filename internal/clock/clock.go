// Package clock provides the wall-clock time source used by the debouncer,
// the stores and the schedulers.
//
// Debounce records are compared against "now" on every admission check, so
// every component that reads the time does it through a Clock. Production
// code uses System; tests inject testutil.FakeClock.
package clock

import (
	"math"
	"strconv"
	"time"
)

// Clock reports the current wall-clock time.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time {
	return time.Now()
}

// Func adapts a plain function to the Clock interface.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time {
	return f()
}

// OrSystem returns c, or System when c is nil.
func OrSystem(c Clock) Clock {
	if c == nil {
		return System{}
	}
	return c
}

// Seconds returns t as fractional seconds since the Unix epoch, with
// microsecond precision.
func Seconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// FromSeconds converts fractional epoch seconds back to a time.Time,
// rounding to the nearest microsecond.
func FromSeconds(s float64) time.Time {
	return time.UnixMicro(int64(math.Round(s * 1e6)))
}

// FormatSeconds encodes t the way debounce records are stored:
// the shortest decimal form of its epoch seconds ("160", "161.01").
func FormatSeconds(t time.Time) string {
	return strconv.FormatFloat(Seconds(t), 'f', -1, 64)
}

// ParseSeconds decodes a stored epoch-seconds value. It accepts integer and
// fractional forms and rejects NaN and infinities.
func ParseSeconds(s string) (time.Time, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	return FromSeconds(f), true
}
