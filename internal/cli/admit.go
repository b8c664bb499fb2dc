package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// AdmitResult is the JSON payload of the admit command.
type AdmitResult struct {
	Key      string `json:"key"`
	Admitted bool   `json:"admitted"`
}

// NewAdmitCommand creates the admit command.
func NewAdmitCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admit <topic> [params...]",
		Short: "Decide whether a firing job may run",
		Long: `Run the admission check for a topic and its parameters.

Admission is refused while the debounce record lies in the future. When
the record has expired it is cleared and the job is admitted.

Exit codes:
  0 - Admitted
  1 - Rejected (a newer request is pending)
  2 - Command error

Examples:
  bouncer admit SyncAccount 42 && ./sync-account 42`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdmit(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runAdmit(opts *RootOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	id := identityArgs(args)

	rt, err := openRuntime(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	ok, err := rt.debouncer.Admit(ctx, id)
	if err != nil {
		return WrapExitError(ExitCommandError, "admit failed", err)
	}

	result := AdmitResult{Key: id.Key(), Admitted: ok}
	f := opts.formatter(cmd)
	if ok {
		return f.Emit(result, func(w io.Writer) { fmt.Fprintf(w, "admitted %s\n", result.Key) })
	}

	if f.Format == "json" {
		err = f.Error(CodeRejected, "admission rejected", result)
	} else {
		fmt.Fprintf(f.Writer, "rejected %s\n", result.Key)
	}
	if err != nil {
		return err
	}
	return NewExitError(ExitFailure, fmt.Sprintf("rejected %s", result.Key))
}
