package testutil

import (
	"math"
	"sync"
	"time"
)

// FakeClock is a settable wall clock for tests.
//
// Unlike the system clock, FakeClock only moves when told to, so boundary
// conditions ("record equals now", "one microsecond later") can be hit exactly.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// NewFakeClockAt creates a clock frozen at the given epoch seconds.
func NewFakeClockAt(seconds float64) *FakeClock {
	return NewFakeClock(time.UnixMicro(int64(math.Round(seconds * 1e6))))
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t. Moving backwards is allowed; it is how tests
// model skew between hosts.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d and returns the new time.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
