package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/bouncer/internal/clock"
	"github.com/roach88/bouncer/internal/store"
)

// JobsOptions holds flags for the jobs command.
type JobsOptions struct {
	*RootOptions
	Status string
	Limit  int
}

// JobView is one job row as shown by the CLI.
type JobView struct {
	Seq       int64    `json:"seq"`
	ID        string   `json:"id"`
	Topic     string   `json:"topic"`
	Params    []string `json:"params"`
	Key       string   `json:"key"`
	RunAt     string   `json:"run_at"`
	Status    string   `json:"status"`
	Attempts  int      `json:"attempts"`
	LastError string   `json:"last_error,omitempty"`
}

// JobsResult is the JSON payload of the jobs command.
type JobsResult struct {
	Jobs  []JobView `json:"jobs"`
	Total int       `json:"total"`
}

// NewJobsCommand creates the jobs command.
func NewJobsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JobsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "jobs [topic [params...]]",
		Short: "List queued jobs",
		Long: `List jobs in the local job table, oldest first.

With a topic (and parameters) only that identity's jobs are shown.
Statuses: pending, running, done, superseded, failed.

Examples:
  bouncer jobs
  bouncer jobs --status pending
  bouncer jobs SyncAccount 42 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of jobs (0 = all)")

	return cmd
}

func runJobs(opts *JobsOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()

	filter := store.JobFilter{Status: store.JobStatus(opts.Status), Limit: opts.Limit}
	switch filter.Status {
	case "", store.JobPending, store.JobRunning, store.JobDone, store.JobSuperseded, store.JobFailed:
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid status %q", opts.Status))
	}
	if len(args) > 0 {
		filter.Key = identityArgs(args).Key()
	}

	rt, err := openRuntime(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.requireJobs("jobs"); err != nil {
		return err
	}

	jobs, err := rt.jobs.ListJobs(ctx, filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list jobs", err)
	}
	result := JobsResult{Jobs: jobViews(jobs), Total: len(jobs)}

	return opts.formatter(cmd).Emit(result, func(w io.Writer) {
		if result.Total == 0 {
			fmt.Fprintln(w, "No jobs found.")
			return
		}
		writeJobTable(w, result.Jobs)
		if opts.Verbose {
			for _, j := range result.Jobs {
				if j.LastError != "" {
					fmt.Fprintf(w, "\n%s: %s", j.ID, j.LastError)
				}
			}
			fmt.Fprintln(w)
		}
	})
}

func jobViews(jobs []store.JobRecord) []JobView {
	views := make([]JobView, len(jobs))
	for i, j := range jobs {
		views[i] = JobView{
			Seq:       j.Seq,
			ID:        j.ID,
			Topic:     j.Topic,
			Params:    j.Params,
			Key:       j.Key,
			RunAt:     clock.FormatSeconds(j.RunAt),
			Status:    string(j.Status),
			Attempts:  j.Attempts,
			LastError: j.LastError,
		}
	}
	return views
}

func writeJobTable(w io.Writer, jobs []JobView) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tID\tKEY\tRUN AT\tSTATUS\tATTEMPTS")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n", j.Seq, j.ID, j.Key, j.RunAt, strings.ToUpper(j.Status), j.Attempts)
	}
	tw.Flush()
}
