package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/bouncer/internal/bouncer"
	"github.com/roach88/bouncer/internal/clock"
)

// RequestOptions holds flags for the request command.
type RequestOptions struct {
	*RootOptions
	Delay    time.Duration
	FirstRun bool
}

// RequestResult is the JSON payload of the request command.
type RequestResult struct {
	Key      string `json:"key"`
	Decision string `json:"decision"`
	FireAt   string `json:"fire_at,omitempty"`
	RunAt    string `json:"run_at,omitempty"`
}

// NewRequestCommand creates the request command.
func NewRequestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RequestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "request <topic> [params...]",
		Short: "Request a debounced job",
		Long: `Record a trigger for a topic and its parameters and schedule the job.

The debounce record is set to now+delay and a job is scheduled slightly
after it. Earlier jobs for the same topic and parameters will find the
newer record when they fire and do nothing.

With --first-run the first trigger ever seen for the identity is
dispatched immediately instead.

Examples:
  bouncer request SyncAccount 42
  bouncer request Reindex --delay 5m
  bouncer request SyncAccount 42 --first-run --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(opts, args, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Delay, "delay", 0, "debounce delay (default: debounce.delay from config)")
	cmd.Flags().BoolVar(&opts.FirstRun, "first-run", false, "dispatch immediately if the identity has never run")

	return cmd
}

func runRequest(opts *RequestOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	id := identityArgs(args)

	var extra []bouncer.Option
	if opts.FirstRun {
		extra = append(extra, bouncer.WithFirstRun(true))
	}
	rt, err := openRuntime(ctx, opts.RootOptions, cmd.ErrOrStderr(), extra...)
	if err != nil {
		return err
	}
	defer rt.Close()

	var out bouncer.Outcome
	switch {
	case opts.FirstRun:
		out, err = rt.debouncer.FirstRunOrDebounce(ctx, id)
	case cmd.Flags().Changed("delay"):
		out, err = rt.debouncer.RequestAfter(ctx, id, opts.Delay)
	default:
		out, err = rt.debouncer.Request(ctx, id)
	}
	if err != nil {
		if errors.Is(err, bouncer.ErrNegativeDelay) || errors.Is(err, bouncer.ErrEmptyTopic) {
			return WrapExitError(ExitCommandError, "invalid request", err)
		}
		return WrapExitError(ExitFailure, "request failed", err)
	}

	result := RequestResult{Key: id.Key(), Decision: out.Decision.String()}
	if !out.FireAt.IsZero() {
		result.FireAt = clock.FormatSeconds(out.FireAt)
	}
	if !out.RunAt.IsZero() {
		result.RunAt = clock.FormatSeconds(out.RunAt)
	}

	return opts.formatter(cmd).Emit(result, func(w io.Writer) {
		switch out.Decision {
		case bouncer.Scheduled:
			fmt.Fprintf(w, "scheduled %s: fires at %s, job runs at %s\n", result.Key, result.FireAt, result.RunAt)
		case bouncer.Skipped:
			fmt.Fprintf(w, "skipped %s: job already pending for %s\n", result.Key, result.FireAt)
		case bouncer.Dispatched:
			fmt.Fprintf(w, "dispatched %s: first run at %s\n", result.Key, result.RunAt)
		}
	})
}
