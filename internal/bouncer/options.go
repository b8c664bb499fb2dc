package bouncer

import (
	"log/slog"
	"time"

	"github.com/roach88/bouncer/internal/clock"
)

const (
	// DefaultDelay is the debounce window used by Request.
	DefaultDelay = 60 * time.Second

	// DefaultBuffer is added to the record timestamp to get the job run time.
	// It must cover the store write latency plus clock skew between hosts.
	DefaultBuffer = 10 * time.Millisecond

	// DefaultSkipBuffer is the margin used by the skip pre-check.
	DefaultSkipBuffer = 2 * time.Second

	// DefaultRecordGrace is how long a debounce record outlives its
	// scheduled run time before the store may expire it.
	DefaultRecordGrace = time.Hour
)

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithDelay sets the default debounce window used by Request.
func WithDelay(d time.Duration) Option {
	return func(db *Debouncer) {
		db.delay = d
	}
}

// WithBuffer sets the safety margin added to every scheduled run time.
func WithBuffer(d time.Duration) Option {
	return func(db *Debouncer) {
		db.buffer = d
	}
}

// WithSkipBuffer sets the margin used by the skip pre-check.
func WithSkipBuffer(d time.Duration) Option {
	return func(db *Debouncer) {
		db.skipBuffer = d
	}
}

// WithSkipCheck enables or disables the skip pre-check in Request.
// Disabling it never changes which firing is admitted, only how many
// redundant jobs get scheduled.
func WithSkipCheck(enabled bool) Option {
	return func(db *Debouncer) {
		db.skipCheck = enabled
	}
}

// WithFirstRun enables first-run passthrough.
func WithFirstRun(enabled bool) Option {
	return func(db *Debouncer) {
		db.firstRun = enabled
	}
}

// WithResetFirstRun makes a successful admission also delete the first-run
// marker, so the identity's next trigger is dispatched immediately again.
func WithResetFirstRun(enabled bool) Option {
	return func(db *Debouncer) {
		db.resetFirstRun = enabled
	}
}

// WithRecordGrace sets how long records outlive their run time.
// Zero stores records without a TTL.
func WithRecordGrace(d time.Duration) Option {
	return func(db *Debouncer) {
		db.recordGrace = d
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(db *Debouncer) {
		db.clock = clock.OrSystem(c)
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(db *Debouncer) {
		if l != nil {
			db.logger = l
		}
	}
}
