// Package scheduler runs debounced jobs from the SQLite jobs table.
//
// Queue is the bouncer.Scheduler used by the CLI: ScheduleAt inserts a
// pending row. Worker claims rows whose run_at has passed and pushes each
// one through Debouncer.Perform, so a job only reaches its registered
// handler when admission lets it in. Superseded firings are recorded, not
// retried.
//
// Any number of workers may poll the same database; ClaimDueJobs hands each
// row to exactly one of them.
package scheduler
