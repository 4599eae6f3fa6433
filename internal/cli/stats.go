package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/roomdag/internal/refs"
	"github.com/roach88/roomdag/internal/store"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the store's contents",
		Long: `Count events, edges per kind, room-state entries and pending horizon
markers, and report the store's size on disk.

Examples:
  roomdag stats --db ./graph`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, cmd)
		},
	}
	return cmd
}

func runStats(opts *RootOptions, cmd *cobra.Command) error {
	sess, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	st, err := sess.store.Stats()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read stats", err).WithCode(ErrCodeStore)
	}
	return opts.formatter(cmd).Render(st, func(w io.Writer) { writeStatsText(w, st) })
}

func writeStatsText(w io.Writer, st store.Stats) {
	fmt.Fprintf(w, "events:          %s\n", humanize.Comma(int64(st.Events)))
	fmt.Fprintf(w, "last idx:        %d\n", st.LastIdx)
	fmt.Fprintf(w, "edges:           %s\n", humanize.Comma(int64(st.Edges)))
	for _, k := range refs.AllKinds() {
		fmt.Fprintf(w, "  %-12s   %s\n", k, humanize.Comma(int64(st.EdgesByKind[k.String()])))
	}
	fmt.Fprintf(w, "state entries:   %s\n", humanize.Comma(int64(st.StateEntries)))
	fmt.Fprintf(w, "horizon markers: %s\n", humanize.Comma(int64(st.HorizonMarkers)))
	fmt.Fprintf(w, "disk:            %s\n", humanize.IBytes(st.DiskBytes))
}
