package temporalsched

import (
	"context"
	"log/slog"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/roach88/bouncer/internal/bouncer"
	"github.com/roach88/bouncer/internal/scheduler"
	"github.com/roach88/bouncer/internal/store"
)

// JobParams is the workflow and activity input for one debounced job.
type JobParams struct {
	ID     string    `json:"id"`
	Topic  string    `json:"topic"`
	Params []string  `json:"params"`
	RunAt  time.Time `json:"run_at"`
}

func (p JobParams) job() bouncer.Job {
	return bouncer.Job{
		ID:       p.ID,
		Identity: bouncer.Identity{Topic: p.Topic, Params: p.Params},
		RunAt:    p.RunAt,
	}
}

// DebouncedJob waits until params.RunAt, then runs the Perform activity.
// The result reports whether the job passed admission.
func DebouncedJob(ctx workflow.Context, params JobParams) (bool, error) {
	logger := workflow.GetLogger(ctx)

	if wait := params.RunAt.Sub(workflow.Now(ctx)); wait > 0 {
		logger.Debug("Waiting for run time", "id", params.ID, "wait", wait)
		if err := workflow.Sleep(ctx, wait); err != nil {
			return false, err
		}
	}

	activityCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{NoHandlerErrorType, StoreErrorType},
		},
	})

	var a *Activities
	var ran bool
	if err := workflow.ExecuteActivity(activityCtx, a.Perform, params).Get(ctx, &ran); err != nil {
		logger.Error("Debounced job failed", "id", params.ID, "error", err)
		return false, err
	}

	logger.Info("Debounced job finished", "id", params.ID, "admitted", ran)
	return ran, nil
}

// Application error types that the retry policy never retries.
const (
	// NoHandlerErrorType marks jobs whose topic has no handler.
	NoHandlerErrorType = "NoHandler"

	// StoreErrorType marks store failures that a retry cannot fix.
	StoreErrorType = "PermanentStoreError"
)

// Activities holds the dependencies of the Perform activity.
type Activities struct {
	Debouncer *bouncer.Debouncer
	Registry  *scheduler.Registry
	Logger    *slog.Logger
}

// Perform runs the job handler if the Debouncer admits the job.
func (a *Activities) Perform(ctx context.Context, params JobParams) (bool, error) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fn, ok := a.Registry.Lookup(params.Topic)
	if !ok {
		return false, temporal.NewNonRetryableApplicationError("no handler for topic "+params.Topic, NoHandlerErrorType, scheduler.ErrNoHandler)
	}

	ran, err := a.Debouncer.Perform(ctx, params.job(), fn)
	if err != nil {
		logger.Error("perform job", "id", params.ID, "topic", params.Topic, "error", err)
		if bouncer.IsStoreError(err) && store.IsPermanent(err) {
			return ran, temporal.NewNonRetryableApplicationError(err.Error(), StoreErrorType, err)
		}
		return ran, err
	}
	if !ran {
		logger.Debug("job superseded", "id", params.ID, "topic", params.Topic)
	}
	return ran, nil
}

// Register adds the DebouncedJob workflow and the Perform activity to r.
func Register(r worker.Registry, acts *Activities) {
	r.RegisterWorkflow(DebouncedJob)
	r.RegisterActivity(acts)
}
