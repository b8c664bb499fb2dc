package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/bouncer/internal/clock"
	"github.com/roach88/bouncer/internal/metrics"
	"github.com/roach88/bouncer/internal/store"
)

// InspectResult is the JSON payload of the inspect command.
type InspectResult struct {
	Key      string          `json:"key"`
	Now      string          `json:"now"`
	Record   *RecordView     `json:"record,omitempty"`
	FirstRun bool            `json:"first_run_marker"`
	Jobs     []JobView       `json:"jobs"`
	Metrics  metrics.Metrics `json:"metrics"`
}

// RecordView describes a stored debounce record.
type RecordView struct {
	Raw     string `json:"raw"`
	Valid   bool   `json:"valid"`
	FireAt  string `json:"fire_at,omitempty"`
	Pending bool   `json:"pending"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <topic> [params...]",
		Short: "Show the debounce state of an identity",
		Long: `Show the stored debounce record, the first-run marker and the
queued jobs for a topic and its parameters. Nothing is modified.

Examples:
  bouncer inspect SyncAccount 42
  bouncer inspect SyncAccount 42 --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runInspect(opts *RootOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	id := identityArgs(args)

	rt, err := openRuntime(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	st, err := rt.debouncer.Inspect(ctx, id)
	if err != nil {
		return WrapExitError(ExitCommandError, "inspect failed", err)
	}

	result := InspectResult{
		Key:      st.Key,
		Now:      clock.FormatSeconds(st.Now),
		FirstRun: st.FirstRun,
		Jobs:     []JobView{},
		Metrics:  metrics.Get(),
	}
	if st.Present {
		result.Record = &RecordView{Raw: st.Raw, Valid: st.Valid, Pending: st.Pending}
		if st.Valid {
			result.Record.FireAt = clock.FormatSeconds(st.FireAt)
		}
	}

	if rt.jobs != nil {
		jobs, err := rt.jobs.ListJobs(ctx, store.JobFilter{Key: st.Key})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list jobs", err)
		}
		result.Jobs = jobViews(jobs)
	}

	return opts.formatter(cmd).Emit(result, func(w io.Writer) { writeInspect(w, result) })
}

func writeInspect(w io.Writer, result InspectResult) {
	fmt.Fprintf(w, "Key:      %s\n", result.Key)
	fmt.Fprintf(w, "Now:      %s\n", result.Now)
	switch {
	case result.Record == nil:
		fmt.Fprintln(w, "Record:   none")
	case !result.Record.Valid:
		fmt.Fprintf(w, "Record:   %q (unparseable, treated as expired)\n", result.Record.Raw)
	case result.Record.Pending:
		fmt.Fprintf(w, "Record:   %s (pending)\n", result.Record.FireAt)
	default:
		fmt.Fprintf(w, "Record:   %s (expired)\n", result.Record.FireAt)
	}
	fmt.Fprintf(w, "FirstRun: %t\n", result.FirstRun)

	if len(result.Jobs) > 0 {
		fmt.Fprintln(w)
		writeJobTable(w, result.Jobs)
	}
}
