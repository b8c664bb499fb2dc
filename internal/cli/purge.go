package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// PurgeResult is the JSON payload of the purge command.
type PurgeResult struct {
	Removed int64 `json:"removed"`
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove expired debounce records",
		Long: `Physically delete debounce records whose TTL has passed.

Expired records are already invisible to request and admit; purge only
reclaims space. Records are given a TTL of delay + buffer + store.record_grace.

Example:
  bouncer purge --db ./bouncer.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(rootOpts, cmd)
		},
	}

	return cmd
}

func runPurge(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	rt, err := openRuntime(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	p, ok := rt.kv.(purger)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("store driver %q does not support purge", rt.cfg.Store.Driver))
	}

	n, err := p.PurgeExpired(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "purge failed", err)
	}
	rt.logger.Debug("purged expired records", "removed", n)

	return opts.formatter(cmd).Emit(PurgeResult{Removed: n}, func(w io.Writer) {
		fmt.Fprintf(w, "Removed %d expired record(s)\n", n)
	})
}
