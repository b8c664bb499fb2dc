package temporalsched

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"github.com/roach88/bouncer/internal/bouncer"
	"github.com/roach88/bouncer/internal/scheduler"
)

// DefaultTaskQueue is the task queue workflows are started on.
const DefaultTaskQueue = "bouncer"

// WorkflowStarter starts workflow executions. Implemented by client.Client.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Scheduler is a bouncer.Scheduler that starts one workflow per job.
type Scheduler struct {
	client    WorkflowStarter
	taskQueue string
	ids       scheduler.IDGenerator
}

var _ bouncer.Scheduler = (*Scheduler)(nil)

// NewScheduler creates a Scheduler. Empty taskQueue means DefaultTaskQueue,
// nil ids means UUIDv7.
func NewScheduler(c WorkflowStarter, taskQueue string, ids scheduler.IDGenerator) *Scheduler {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	if ids == nil {
		ids = scheduler.UUIDv7Generator{}
	}
	return &Scheduler{client: c, taskQueue: taskQueue, ids: ids}
}

// WorkflowID returns the workflow ID for one job of key.
func WorkflowID(key, unique string) string {
	return fmt.Sprintf("bouncer/%s/%s", key, unique)
}

// ScheduleAt starts a DebouncedJob workflow that fires at at.
func (s *Scheduler) ScheduleAt(ctx context.Context, at time.Time, job bouncer.Job) error {
	id := job.ID
	if id == "" {
		id = WorkflowID(job.Identity.Key(), s.ids.Generate())
	}

	options := client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: s.taskQueue,
	}
	params := JobParams{
		ID:     id,
		Topic:  job.Identity.Topic,
		Params: job.Identity.Params,
		RunAt:  at,
	}

	if _, err := s.client.ExecuteWorkflow(ctx, options, DebouncedJob, params); err != nil {
		return fmt.Errorf("start workflow %s: %w", id, err)
	}
	return nil
}

// Dial connects to the Temporal frontend at hostPort, logging through logger.
func Dial(hostPort, namespace string, logger *slog.Logger) (client.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
		Logger:    tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", hostPort, err)
	}
	return c, nil
}
