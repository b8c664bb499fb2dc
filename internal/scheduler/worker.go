package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/bouncer/internal/bouncer"
	"github.com/roach88/bouncer/internal/clock"
	"github.com/roach88/bouncer/internal/metrics"
	"github.com/roach88/bouncer/internal/store"
)

const (
	// DefaultPollInterval is how often Run looks for due jobs.
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultBatchSize caps the jobs claimed per RunDue call.
	DefaultBatchSize = 100
)

// ErrNoHandler is recorded for jobs whose topic has no handler.
var ErrNoHandler = errors.New("no handler registered for topic")

// JobSource hands out due jobs and records their results.
// Implemented by *store.Store.
type JobSource interface {
	ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]store.JobRecord, error)
	FinishJob(ctx context.Context, id string, status store.JobStatus, lastErr string) error
}

// Report summarizes one RunDue pass.
type Report struct {
	Claimed    int `json:"claimed"`
	Done       int `json:"done"`
	Superseded int `json:"superseded"`
	Failed     int `json:"failed"`
}

// Add accumulates other into r.
func (r *Report) Add(other Report) {
	r.Claimed += other.Claimed
	r.Done += other.Done
	r.Superseded += other.Superseded
	r.Failed += other.Failed
}

// Worker executes due jobs through a Debouncer's admission gate.
type Worker struct {
	jobs      JobSource
	debouncer *bouncer.Debouncer
	registry  *Registry
	clock     clock.Clock
	logger    *slog.Logger

	pollInterval time.Duration
	batchSize    int
	onFinish     FinishFunc
}

// FinishFunc observes each job after its final status is recorded.
type FinishFunc func(rec store.JobRecord, status store.JobStatus, err error)

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithPollInterval sets how often Run polls for due jobs.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithBatchSize sets the maximum jobs claimed per pass.
func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithWorkerClock sets the time source used to decide which jobs are due.
func WithWorkerClock(c clock.Clock) WorkerOption {
	return func(w *Worker) {
		w.clock = clock.OrSystem(c)
	}
}

// WithWorkerLogger sets the logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithOnFinish registers fn to be called after every finished job.
func WithOnFinish(fn FinishFunc) WorkerOption {
	return func(w *Worker) {
		w.onFinish = fn
	}
}

// NewWorker creates a Worker.
func NewWorker(jobs JobSource, d *bouncer.Debouncer, reg *Registry, opts ...WorkerOption) *Worker {
	w := &Worker{
		jobs:         jobs,
		debouncer:    d,
		registry:     reg,
		clock:        clock.System{},
		logger:       slog.Default(),
		pollInterval: DefaultPollInterval,
		batchSize:    DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RunDue claims every job due now and performs it.
//
// Claimed jobs sharing an identity are coalesced: only the latest one goes
// through admission and the rest are recorded as superseded, so a worker
// draining a backlog still admits each identity once.
//
// A failing handler or admission check marks that job failed and the batch
// continues. Only claim and bookkeeping errors end the pass early.
func (w *Worker) RunDue(ctx context.Context) (Report, error) {
	var report Report

	for {
		claimed, err := w.jobs.ClaimDueJobs(ctx, w.clock.Now(), w.batchSize)
		if err != nil {
			return report, fmt.Errorf("claim due jobs: %w", err)
		}
		report.Claimed += len(claimed)

		latest := make(map[string]int, len(claimed))
		for i, rec := range claimed {
			latest[rec.Key] = i
		}

		for i, rec := range claimed {
			var (
				status store.JobStatus
				runErr error
			)
			if latest[rec.Key] != i {
				// A later job for the same identity is in this batch.
				w.logger.Debug("job superseded", "id", rec.ID, "key", rec.Key, "reason", "coalesced")
				status = store.JobSuperseded
			} else {
				status, runErr = w.perform(ctx, rec)
			}

			lastErr := ""
			if runErr != nil {
				lastErr = runErr.Error()
			}
			if err := w.jobs.FinishJob(ctx, rec.ID, status, lastErr); err != nil {
				return report, err
			}
			if w.onFinish != nil {
				w.onFinish(rec, status, runErr)
			}

			switch status {
			case store.JobDone:
				report.Done++
			case store.JobSuperseded:
				report.Superseded++
			default:
				report.Failed++
			}
		}

		if len(claimed) < w.batchSize {
			return report, nil
		}
	}
}

func (w *Worker) perform(ctx context.Context, rec store.JobRecord) (store.JobStatus, error) {
	job := bouncer.Job{
		ID:       rec.ID,
		Identity: bouncer.Identity{Topic: rec.Topic, Params: rec.Params},
		RunAt:    rec.RunAt,
	}

	fn, ok := w.registry.Lookup(rec.Topic)
	if !ok {
		metrics.JobFailed()
		w.logger.Error("job failed", "id", rec.ID, "topic", rec.Topic, "error", ErrNoHandler)
		return store.JobFailed, fmt.Errorf("%w: %s", ErrNoHandler, rec.Topic)
	}

	ran, err := w.debouncer.Perform(ctx, job, fn)
	switch {
	case err != nil:
		metrics.JobFailed()
		w.logger.Error("job failed",
			"id", rec.ID,
			"key", rec.Key,
			"admitted", ran,
			"error", err,
		)
		return store.JobFailed, err
	case !ran:
		w.logger.Debug("job superseded", "id", rec.ID, "key", rec.Key)
		return store.JobSuperseded, nil
	default:
		metrics.JobRun()
		w.logger.Info("job done", "id", rec.ID, "key", rec.Key)
		return store.JobDone, nil
	}
}

// Run polls for due jobs until ctx is cancelled.
// Errors from a pass are logged and the loop keeps polling.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker starting", "poll_interval", w.pollInterval, "batch_size", w.batchSize)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		report, err := w.RunDue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopping: context cancelled")
				return ctx.Err()
			}
			w.logger.Error("run due jobs", "error", err)
		} else if report.Claimed > 0 {
			w.logger.Debug("pass complete",
				"claimed", report.Claimed,
				"done", report.Done,
				"superseded", report.Superseded,
				"failed", report.Failed,
			)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping: context cancelled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
