// Package temporalsched schedules debounced jobs as Temporal workflows.
//
// Each ScheduleAt call starts one DebouncedJob workflow. The workflow
// sleeps on a durable timer until the job's run time and then executes the
// Perform activity, which asks the Debouncer for admission before calling
// the registered handler. Superseded workflows complete with a false
// result.
package temporalsched
