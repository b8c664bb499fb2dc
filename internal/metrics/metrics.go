package metrics

import (
	"sync/atomic"
)

// Metrics tracks operational metrics for this process.
type Metrics struct {
	RequestsScheduled  uint64 `json:"requests_scheduled"`
	RequestsSkipped    uint64 `json:"requests_skipped"`
	FirstRunDispatches uint64 `json:"first_run_dispatches"`
	Admissions         uint64 `json:"admissions"`
	Rejections         uint64 `json:"rejections"`
	JobsRun            uint64 `json:"jobs_run"`
	JobsFailed         uint64 `json:"jobs_failed"`
}

var global = &Metrics{}

// RequestScheduled increments the count of requests that wrote a record and scheduled a job.
func RequestScheduled() { atomic.AddUint64(&global.RequestsScheduled, 1) }

// RequestSkipped increments the count of requests absorbed by the skip pre-check.
func RequestSkipped() { atomic.AddUint64(&global.RequestsSkipped, 1) }

// FirstRunDispatched increments the count of immediate first-run dispatches.
func FirstRunDispatched() { atomic.AddUint64(&global.FirstRunDispatches, 1) }

// Admitted increments the count of admission checks that passed.
func Admitted() { atomic.AddUint64(&global.Admissions, 1) }

// Rejected increments the count of admission checks that were turned away.
func Rejected() { atomic.AddUint64(&global.Rejections, 1) }

// JobRun increments the count of job bodies that completed successfully.
func JobRun() { atomic.AddUint64(&global.JobsRun, 1) }

// JobFailed increments the count of jobs whose admission or body failed.
func JobFailed() { atomic.AddUint64(&global.JobsFailed, 1) }

// Get returns a snapshot of the current metrics.
func Get() Metrics {
	return Metrics{
		RequestsScheduled:  atomic.LoadUint64(&global.RequestsScheduled),
		RequestsSkipped:    atomic.LoadUint64(&global.RequestsSkipped),
		FirstRunDispatches: atomic.LoadUint64(&global.FirstRunDispatches),
		Admissions:         atomic.LoadUint64(&global.Admissions),
		Rejections:         atomic.LoadUint64(&global.Rejections),
		JobsRun:            atomic.LoadUint64(&global.JobsRun),
		JobsFailed:         atomic.LoadUint64(&global.JobsFailed),
	}
}

// Reset resets all metrics to zero (useful for testing).
func Reset() {
	atomic.StoreUint64(&global.RequestsScheduled, 0)
	atomic.StoreUint64(&global.RequestsSkipped, 0)
	atomic.StoreUint64(&global.FirstRunDispatches, 0)
	atomic.StoreUint64(&global.Admissions, 0)
	atomic.StoreUint64(&global.Rejections, 0)
	atomic.StoreUint64(&global.JobsRun, 0)
	atomic.StoreUint64(&global.JobsFailed, 0)
}
