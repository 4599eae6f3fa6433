package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/roomdag/internal/export"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	SQLite string
}

// ExportResult reports what an export wrote.
type ExportResult struct {
	Path string `json:"path"`
	export.Summary
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy the reference graph into a SQLite database",
		Long: `Write every event, edge and pending horizon marker from a consistent
snapshot of the store into a SQLite database for ad-hoc SQL.

Exporting into an existing file adds rows it does not yet hold.

Examples:
  roomdag export --db ./graph --sqlite graph.sqlite
  sqlite3 graph.sqlite "SELECT kind, count(*) FROM edges GROUP BY kind"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SQLite, "sqlite", "", "SQLite database to write (required)")
	_ = cmd.MarkFlagRequired("sqlite")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	sess, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	db, err := export.Open(opts.SQLite)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open sqlite database", err).WithCode(ErrCodeWriteFail)
	}
	defer db.Close()

	snap := sess.store.Snapshot()
	defer snap.Close()

	sum, err := db.Write(cmd.Context(), snap)
	if err != nil {
		return WrapExitError(ExitCommandError, "export failed", err).WithCode(ErrCodeWriteFail)
	}

	result := ExportResult{Path: opts.SQLite, Summary: sum}
	return opts.formatter(cmd).Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "exported %d events, %d edges, %d horizon markers to %s\n",
			sum.Events, sum.Edges, sum.Markers, opts.SQLite)
	})
}
