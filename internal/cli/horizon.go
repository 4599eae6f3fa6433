package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/roomdag/internal/horizon"
)

// HorizonResult lists pending horizon markers.
type HorizonResult struct {
	Pending []horizon.Marker `json:"pending"`
	Missing []string         `json:"missing_ids"`
}

// NewHorizonCommand creates the horizon command.
func NewHorizonCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "horizon",
		Short: "List references waiting on events not yet admitted",
		Long: `List every pending horizon marker: an admitted event that cites an id the
store has not seen. Each marker resolves into an edge once that id is admitted.

Examples:
  roomdag horizon --db ./graph
  roomdag horizon --db ./graph --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHorizon(rootOpts, cmd)
		},
	}
	return cmd
}

func runHorizon(opts *RootOptions, cmd *cobra.Command) error {
	sess, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	snap := sess.store.Snapshot()
	defer snap.Close()

	res := horizon.New(horizon.Deps{Logger: sess.logger})
	if _, err := res.Load(snap); err != nil {
		return WrapExitError(ExitCommandError, "failed to read horizon", err).WithCode(ErrCodeStore)
	}
	result := HorizonResult{Pending: res.Pending(), Missing: res.MissingIDs()}
	if result.Pending == nil {
		result.Pending = []horizon.Marker{}
	}

	return opts.formatter(cmd).Render(result, func(w io.Writer) {
		if len(result.Pending) == 0 {
			fmt.Fprintln(w, "no pending references")
			return
		}
		for _, m := range result.Pending {
			fmt.Fprintf(w, "%s <-%s- %s (idx %d)\n", m.MissingID, m.Kind, m.EventID, m.Idx)
		}
		fmt.Fprintf(w, "%d pending, %d missing id(s)\n", len(result.Pending), len(result.Missing))
	})
}
