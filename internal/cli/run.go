package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"

	"github.com/roach88/bouncer/internal/bouncer"
	"github.com/roach88/bouncer/internal/metrics"
	"github.com/roach88/bouncer/internal/scheduler"
	"github.com/roach88/bouncer/internal/temporalsched"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Once bool
	Exec string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the job worker",
		Long: `Start a worker that fires scheduled jobs through the admission check.

With the sqlite scheduler backend the worker polls the local job table.
With the temporal backend it serves the bouncer task queue instead.

A job that is admitted runs --exec with the job parameters appended as
arguments and BOUNCER_TOPIC, BOUNCER_KEY and BOUNCER_JOB_ID set in its
environment. Without --exec admitted jobs are only logged.

Example:
  bouncer run --db ./bouncer.db --exec ./sync.sh
  bouncer run --once --format json
  bouncer run --config bouncer.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "run due jobs once and exit")
	cmd.Flags().StringVar(&opts.Exec, "exec", "", "command to run for each admitted job")

	return cmd
}

func runWorker(opts *RunOptions, cmd *cobra.Command) error {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	rt, err := openRuntime(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()
	slog.SetDefault(rt.logger)

	reg := scheduler.NewRegistry()
	reg.Fallback(jobHandler(opts.Exec, rt.logger, cmd.OutOrStdout(), cmd.ErrOrStderr()))

	if opts.Once {
		return runOnce(ctx, opts, rt, reg, cmd)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			rt.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	fmt.Fprintln(cmd.OutOrStdout(), "Worker started. Waiting for due jobs...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if rt.cfg.Scheduler.Backend == "temporal" {
		err = serveTemporal(ctx, rt, reg)
	} else {
		w := newWorker(rt, reg)
		err = w.Run(ctx)
	}
	if err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		return WrapExitError(ExitFailure, "worker error", err)
	}

	m := metrics.Get()
	rt.logger.Info("worker stopped gracefully",
		"admissions", m.Admissions,
		"rejections", m.Rejections,
		"jobs_run", m.JobsRun,
		"jobs_failed", m.JobsFailed,
	)
	return nil
}

func runOnce(ctx context.Context, opts *RunOptions, rt *runtime, reg *scheduler.Registry, cmd *cobra.Command) error {
	if err := rt.requireJobs("run --once"); err != nil {
		return err
	}

	report, err := newWorker(rt, reg).RunDue(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "run due jobs", err)
	}

	err = opts.formatter(cmd).Emit(report, func(w io.Writer) {
		fmt.Fprintf(w, "Claimed %d: %d done, %d superseded, %d failed\n",
			report.Claimed, report.Done, report.Superseded, report.Failed)
	})
	if err != nil {
		return err
	}

	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d job(s) failed", report.Failed))
	}
	return nil
}

func newWorker(rt *runtime, reg *scheduler.Registry) *scheduler.Worker {
	return scheduler.NewWorker(rt.jobs, rt.debouncer, reg,
		scheduler.WithPollInterval(rt.cfg.Worker.PollInterval),
		scheduler.WithBatchSize(rt.cfg.Worker.BatchSize),
		scheduler.WithWorkerClock(rt.clock),
		scheduler.WithWorkerLogger(rt.logger),
	)
}

// serveTemporal runs a Temporal worker on the configured task queue until
// ctx is cancelled.
func serveTemporal(ctx context.Context, rt *runtime, reg *scheduler.Registry) error {
	w := worker.New(rt.temporal, rt.cfg.Scheduler.Temporal.TaskQueue, worker.Options{})
	temporalsched.Register(w, &temporalsched.Activities{
		Debouncer: rt.debouncer,
		Registry:  reg,
		Logger:    rt.logger,
	})

	if err := w.Start(); err != nil {
		return fmt.Errorf("start temporal worker: %w", err)
	}
	rt.logger.Info("temporal worker started", "task_queue", rt.cfg.Scheduler.Temporal.TaskQueue)

	<-ctx.Done()
	w.Stop()
	return ctx.Err()
}

// jobHandler returns the handler for admitted jobs. An empty command only
// logs the job.
func jobHandler(command string, logger *slog.Logger, stdout, stderr io.Writer) bouncer.JobFunc {
	fields := strings.Fields(command)

	return func(ctx context.Context, job bouncer.Job) error {
		if len(fields) == 0 {
			logger.Info("job performed", "id", job.ID, "key", job.Identity.Key())
			return nil
		}

		args := append(append([]string{}, fields[1:]...), job.Identity.Params...)
		c := exec.CommandContext(ctx, fields[0], args...)
		c.Env = append(os.Environ(),
			"BOUNCER_TOPIC="+job.Identity.Topic,
			"BOUNCER_KEY="+job.Identity.Key(),
			"BOUNCER_JOB_ID="+job.ID,
		)
		c.Stdout = stdout
		c.Stderr = stderr

		logger.Debug("exec job", "id", job.ID, "command", fields[0], "args", args)
		if err := c.Run(); err != nil {
			return fmt.Errorf("exec %s: %w", fields[0], err)
		}
		return nil
	}
}
