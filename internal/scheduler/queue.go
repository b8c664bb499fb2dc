package scheduler

import (
	"context"
	"time"

	"github.com/roach88/bouncer/internal/bouncer"
	"github.com/roach88/bouncer/internal/store"
)

// JobWriter persists pending jobs. Implemented by *store.Store.
type JobWriter interface {
	EnqueueJob(ctx context.Context, job store.JobRecord) error
}

// Queue is a durable bouncer.Scheduler backed by the jobs table.
type Queue struct {
	jobs JobWriter
	ids  IDGenerator
}

var _ bouncer.Scheduler = (*Queue)(nil)

// NewQueue creates a Queue that writes to jobs. A nil ids uses UUIDv7Generator.
func NewQueue(jobs JobWriter, ids IDGenerator) *Queue {
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	return &Queue{jobs: jobs, ids: ids}
}

// ScheduleAt inserts a pending job that becomes due at at.
// The job's ID is assigned here when the caller left it empty.
func (q *Queue) ScheduleAt(ctx context.Context, at time.Time, job bouncer.Job) error {
	id := job.ID
	if id == "" {
		id = q.ids.Generate()
	}
	return q.jobs.EnqueueJob(ctx, store.JobRecord{
		ID:     id,
		Topic:  job.Identity.Topic,
		Params: job.Identity.Params,
		Key:    job.Identity.Key(),
		RunAt:  at,
	})
}
