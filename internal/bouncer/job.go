package bouncer

import (
	"context"
	"time"
)

// Job is one scheduled, admission-gated invocation for an identity.
type Job struct {
	// ID is assigned by the scheduler.
	ID string

	// Identity carries the original trigger parameters.
	Identity Identity

	// RunAt is the wall-clock instant the job was scheduled for.
	RunAt time.Time
}

// JobFunc is the real work of a job. It only runs once admission passes.
type JobFunc func(ctx context.Context, job Job) error

// Scheduler runs jobs at a future wall-clock time. Implementations must
// eventually hand the job to an entry point that calls Debouncer.Perform
// (or Admit) before doing any work.
type Scheduler interface {
	ScheduleAt(ctx context.Context, at time.Time, job Job) error
}

// SchedulerFunc adapts a function to the Scheduler interface.
type SchedulerFunc func(ctx context.Context, at time.Time, job Job) error

// ScheduleAt calls f.
func (f SchedulerFunc) ScheduleAt(ctx context.Context, at time.Time, job Job) error {
	return f(ctx, at, job)
}
