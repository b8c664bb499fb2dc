package bouncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/bouncer/internal/clock"
	"github.com/roach88/bouncer/internal/metrics"
	"github.com/roach88/bouncer/internal/store"
)

// firstRunMarker is the value stored under an identity's first-run key.
const firstRunMarker = "1"

// Decision describes what a request did.
type Decision int

const (
	// Scheduled means the record was written and a job scheduled.
	Scheduled Decision = iota + 1
	// Skipped means an equivalent or later job was already pending.
	Skipped
	// Dispatched means the first run of an identity was dispatched immediately.
	Dispatched
)

// String returns the lower-case decision name.
func (d Decision) String() string {
	switch d {
	case Scheduled:
		return "scheduled"
	case Skipped:
		return "skipped"
	case Dispatched:
		return "dispatched"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Outcome is the result of Request, RequestAfter or FirstRunOrDebounce.
type Outcome struct {
	Decision Decision

	// FireAt is the debounce record timestamp: the newly written one for
	// Scheduled, the already stored one for Skipped, zero for Dispatched.
	FireAt time.Time

	// RunAt is when the scheduled job will fire. Zero for Skipped.
	RunAt time.Time
}

// State is a read-only view of an identity's stored records.
type State struct {
	Key         string
	Raw         string
	Present     bool
	Valid       bool
	FireAt      time.Time
	Pending     bool
	FirstRunKey string
	FirstRun    bool
	Now         time.Time
}

// Debouncer is the request/admit state machine. It keeps no state between
// calls; every decision is made from what the store holds.
//
// Thread-safety: Debouncer is safe for concurrent use.
type Debouncer struct {
	store     store.TimestampStore
	scheduler Scheduler
	clock     clock.Clock
	logger    *slog.Logger

	delay         time.Duration
	buffer        time.Duration
	skipBuffer    time.Duration
	skipCheck     bool
	firstRun      bool
	resetFirstRun bool
	recordGrace   time.Duration
}

// New creates a Debouncer over st that schedules jobs through sched.
//
// Defaults: 60s delay, 10ms buffer, skip pre-check on with a 2s margin,
// first-run off, records expire one hour after their run time.
func New(st store.TimestampStore, sched Scheduler, opts ...Option) *Debouncer {
	d := &Debouncer{
		store:       st,
		scheduler:   sched,
		clock:       clock.System{},
		logger:      slog.Default(),
		delay:       DefaultDelay,
		buffer:      DefaultBuffer,
		skipBuffer:  DefaultSkipBuffer,
		skipCheck:   true,
		recordGrace: DefaultRecordGrace,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Delay returns the default debounce window.
func (d *Debouncer) Delay() time.Duration {
	return d.delay
}

// Buffer returns the scheduling safety margin.
func (d *Debouncer) Buffer() time.Duration {
	return d.buffer
}

// Request records a trigger for id using the default delay.
func (d *Debouncer) Request(ctx context.Context, id Identity) (Outcome, error) {
	return d.RequestAfter(ctx, id, d.delay)
}

// RequestAfter records a trigger for id: it overwrites the identity's
// debounce record with now+delay and schedules the job at
// now+delay+buffer. With the skip pre-check enabled the call is absorbed
// when an equivalent or later job is already pending.
func (d *Debouncer) RequestAfter(ctx context.Context, id Identity, delay time.Duration) (Outcome, error) {
	if err := id.Validate(); err != nil {
		return Outcome{}, err
	}
	if delay < 0 {
		return Outcome{}, ErrNegativeDelay
	}

	key := id.Key()
	fireAt := d.clock.Now().Add(delay)

	if d.skipCheck {
		existing, skip, err := d.shouldSkip(ctx, key, fireAt)
		if err != nil {
			return Outcome{}, err
		}
		if skip {
			metrics.RequestSkipped()
			d.logger.Debug("request skipped", "key", key, "pending_fire_at", clock.Seconds(existing))
			return Outcome{Decision: Skipped, FireAt: existing}, nil
		}
	}

	if err := d.store.Set(ctx, key, clock.FormatSeconds(fireAt), d.recordTTL(delay)); err != nil {
		return Outcome{}, storeErr("set", key, err)
	}

	// The run time trails the record by the buffer so the firing job never
	// observes a record that this write has not yet replaced.
	runAt := fireAt.Add(d.buffer)
	if err := d.scheduler.ScheduleAt(ctx, runAt, Job{Identity: id, RunAt: runAt}); err != nil {
		return Outcome{}, &ScheduleError{Key: key, Err: err}
	}

	metrics.RequestScheduled()
	d.logger.Debug("request scheduled", "key", key, "fire_at", clock.Seconds(fireAt), "run_at", clock.Seconds(runAt))
	return Outcome{Decision: Scheduled, FireAt: fireAt, RunAt: runAt}, nil
}

// ShouldSkip reports whether a request for id with the given delay would be
// absorbed by the skip pre-check.
func (d *Debouncer) ShouldSkip(ctx context.Context, id Identity, delay time.Duration) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, err
	}
	_, skip, err := d.shouldSkip(ctx, id.Key(), d.clock.Now().Add(delay))
	return skip, err
}

// shouldSkip skips when stored + skipBuffer > fireAt.
func (d *Debouncer) shouldSkip(ctx context.Context, key string, fireAt time.Time) (time.Time, bool, error) {
	raw, ok, err := d.store.Get(ctx, key)
	if err != nil {
		return time.Time{}, false, storeErr("get", key, err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	existing, valid := clock.ParseSeconds(raw)
	if !valid {
		return time.Time{}, false, nil
	}
	return existing, existing.Add(d.skipBuffer).After(fireAt), nil
}

// FirstRun reports whether id has never had its immediate first execution.
func (d *Debouncer) FirstRun(ctx context.Context, id Identity) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, err
	}
	key := id.FirstRunKey()
	_, ok, err := d.store.Get(ctx, key)
	if err != nil {
		return false, storeErr("get", key, err)
	}
	return !ok, nil
}

// FirstRunOrDebounce dispatches the first trigger of id immediately and
// marks the identity; every later trigger goes through Request. Without
// first-run enabled it is the same as Request.
func (d *Debouncer) FirstRunOrDebounce(ctx context.Context, id Identity) (Outcome, error) {
	if !d.firstRun {
		return d.Request(ctx, id)
	}

	first, err := d.FirstRun(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if !first {
		return d.Request(ctx, id)
	}

	frKey := id.FirstRunKey()
	if err := d.store.Set(ctx, frKey, firstRunMarker, 0); err != nil {
		return Outcome{}, storeErr("set", frKey, err)
	}

	now := d.clock.Now()
	if err := d.scheduler.ScheduleAt(ctx, now, Job{Identity: id, RunAt: now}); err != nil {
		return Outcome{}, &ScheduleError{Key: id.Key(), Err: err}
	}

	metrics.FirstRunDispatched()
	d.logger.Debug("first run dispatched", "key", id.Key())
	return Outcome{Decision: Dispatched, RunAt: now}, nil
}

// Admit decides whether a firing job for id may do its work.
//
// It rejects while the stored record is in the future. Otherwise it clears
// the record and admits. With first-run enabled, an identity that has a
// first-run marker but no record is admitted without touching the marker.
// A record that cannot be parsed is cleared and otherwise treated as absent.
func (d *Debouncer) Admit(ctx context.Context, id Identity) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, err
	}
	key := id.Key()

	var hasMarker bool
	if d.firstRun {
		frKey := id.FirstRunKey()
		_, ok, err := d.store.Get(ctx, frKey)
		if err != nil {
			return false, storeErr("get", frKey, err)
		}
		hasMarker = ok
	}

	raw, present, err := d.store.Get(ctx, key)
	if err != nil {
		return false, storeErr("get", key, err)
	}

	if !present && hasMarker {
		return d.admitted(key, "first_run"), nil
	}

	now := d.clock.Now()
	if present {
		fireAt, valid := clock.ParseSeconds(raw)
		if !valid {
			d.logger.Warn("unparseable debounce record", "key", key, "value", raw)
		} else if fireAt.After(now) {
			return d.rejected(key, "pending", fireAt), nil
		}

		won, err := d.clear(ctx, key, raw)
		if err != nil {
			return false, err
		}
		if !won {
			return d.rejected(key, "claimed", fireAt), nil
		}

		// An unparseable record counts as no record at all, so the marker
		// path applies and the marker is kept.
		if !valid && hasMarker {
			return d.admitted(key, "first_run"), nil
		}
	}

	if hasMarker && d.resetFirstRun {
		frKey := id.FirstRunKey()
		if err := d.store.Delete(ctx, frKey); err != nil {
			return false, storeErr("delete", frKey, err)
		}
	}

	return d.admitted(key, "expired"), nil
}

// clear removes the record that admission read. Stores that support it get
// a compare-and-delete, which fails when another firing already cleared the
// record or a newer request replaced it.
func (d *Debouncer) clear(ctx context.Context, key, raw string) (bool, error) {
	if c, ok := d.store.(store.Claimer); ok {
		won, err := c.CompareAndDelete(ctx, key, raw)
		if err != nil {
			return false, storeErr("compare-and-delete", key, err)
		}
		return won, nil
	}
	if err := d.store.Delete(ctx, key); err != nil {
		return false, storeErr("delete", key, err)
	}
	return true, nil
}

func (d *Debouncer) admitted(key, reason string) bool {
	metrics.Admitted()
	d.logger.Debug("admitted", "key", key, "reason", reason)
	return true
}

func (d *Debouncer) rejected(key, reason string, fireAt time.Time) bool {
	metrics.Rejected()
	d.logger.Debug("rejected", "key", key, "reason", reason, "fire_at", clock.Seconds(fireAt))
	return false
}

// Perform is the admission-gated job entry point: it runs fn only when
// Admit lets the job in, and reports whether fn ran.
func (d *Debouncer) Perform(ctx context.Context, job Job, fn JobFunc) (bool, error) {
	ok, err := d.Admit(ctx, job.Identity)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if fn == nil {
		return true, nil
	}
	if err := fn(ctx, job); err != nil {
		return true, fmt.Errorf("job %s: %w", job.Identity.Key(), err)
	}
	return true, nil
}

// Inspect reads the stored records for id without modifying them.
func (d *Debouncer) Inspect(ctx context.Context, id Identity) (State, error) {
	if err := id.Validate(); err != nil {
		return State{}, err
	}

	st := State{
		Key:         id.Key(),
		FirstRunKey: id.FirstRunKey(),
		Now:         d.clock.Now(),
	}

	raw, ok, err := d.store.Get(ctx, st.Key)
	if err != nil {
		return State{}, storeErr("get", st.Key, err)
	}
	st.Raw, st.Present = raw, ok
	if ok {
		st.FireAt, st.Valid = clock.ParseSeconds(raw)
		st.Pending = st.Valid && st.FireAt.After(st.Now)
	}

	_, st.FirstRun, err = d.store.Get(ctx, st.FirstRunKey)
	if err != nil {
		return State{}, storeErr("get", st.FirstRunKey, err)
	}

	return st, nil
}

// recordTTL keeps records alive past their run time by the grace period.
func (d *Debouncer) recordTTL(delay time.Duration) time.Duration {
	if d.recordGrace <= 0 {
		return 0
	}
	return delay + d.buffer + d.recordGrace
}
