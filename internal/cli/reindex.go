package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/roomdag/internal/indexer"
)

// NewReindexCommand creates the reindex command.
func NewReindexCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex <event-id>",
		Short: "Re-run reference indexing for an admitted event",
		Long: `Re-run the indexer for an event already in the store and print what each
reference rule did. Edges that already exist are rewritten unchanged.

Examples:
  roomdag reindex --db ./graph '$abc:a.org'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runReindex(opts *RootOptions, id string, cmd *cobra.Command) error {
	sess, err := opts.openSession(cmd.Context(), cmd, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	if _, ok, err := sess.store.EventIdx(id); err != nil {
		return WrapExitError(ExitCommandError, "failed to look up event", err).WithCode(ErrCodeStore)
	} else if !ok {
		return NewExitError(ExitFailure, fmt.Sprintf("event not found: %s", id)).WithCode(ErrCodeNotFound)
	}

	report, err := sess.engine.Reindex(cmd.Context(), id)
	if err != nil {
		return WrapExitError(ExitCommandError, "reindex failed", err).WithCode(ErrCodeStore)
	}
	return opts.formatter(cmd).Render(report, func(w io.Writer) { writeReportText(w, report) })
}

func writeReportText(w io.Writer, r *indexer.Report) {
	fmt.Fprintf(w, "%s (idx %d)\n", r.EventID, r.Idx)
	if len(r.Outcomes) == 0 {
		fmt.Fprintln(w, "  (no references)")
		return
	}
	for _, o := range r.Outcomes {
		line := fmt.Sprintf("  %-11s %s", o.Kind, o.Status)
		if o.Ref != "" {
			line += " " + o.Ref
		}
		if o.Reason != "" {
			line += ": " + o.Reason
		}
		fmt.Fprintln(w, line)
	}
}
