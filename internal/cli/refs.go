package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/roomdag/internal/event"
	"github.com/roach88/roomdag/internal/refs"
)

// RefsOptions holds flags for the refs command.
type RefsOptions struct {
	*RootOptions
	Kind  string
	After uint64
}

// Referrer is one event referring to the queried event.
type Referrer struct {
	Kind    string `json:"kind"`
	EventID string `json:"event_id"`
	Idx     uint64 `json:"idx"`
}

// RefsResult holds the refs command output.
type RefsResult struct {
	EventID   string     `json:"event_id"`
	Idx       uint64     `json:"idx"`
	Referrers []Referrer `json:"referrers"`
}

// NewRefsCommand creates the refs command.
func NewRefsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RefsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "refs <event-id>",
		Short: "List events referring to an event",
		Long: `List every event with an edge into the given event, grouped by edge kind.

Edge kinds: NEXT, NEXT_AUTH, NEXT_STATE, PREV_STATE, RECEIPT_READ,
RELATES, ROOM_REDACTION.

Examples:
  roomdag refs --db ./graph '$create:a.org'
  roomdag refs --db ./graph '$msg:a.org' --kind RELATES
  roomdag refs --db ./graph '$create:a.org' --kind NEXT --after 120`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefs(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only edges of this kind")
	cmd.Flags().Uint64Var(&opts.After, "after", 0, "resume after this source idx (requires --kind)")

	return cmd
}

func runRefs(opts *RefsOptions, id string, cmd *cobra.Command) error {
	var kind *refs.Kind
	if opts.Kind != "" {
		k, err := refs.ParseKind(opts.Kind)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --kind", err)
		}
		kind = &k
	}
	after := cmd.Flags().Changed("after")
	if after && kind == nil {
		return NewExitError(ExitCommandError, "--after requires --kind")
	}

	sess, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	snap := sess.store.Snapshot()
	defer snap.Close()

	idx, ok, err := snap.EventIdx(id)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read store", err).WithCode(ErrCodeStore)
	}
	if !ok {
		return NewExitError(ExitFailure, fmt.Sprintf("event not found: %s", id)).WithCode(ErrCodeNotFound)
	}

	result := RefsResult{EventID: id, Idx: uint64(idx), Referrers: []Referrer{}}
	seq := snap.Referrers(idx, kind)
	if after {
		seq = snap.ReferrersAfter(idx, *kind, event.Idx(opts.After))
	}
	for e, err := range seq {
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read edges", err).WithCode(ErrCodeStore)
		}
		src, ok, err := snap.Event(e.Source)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read event", err).WithCode(ErrCodeStore)
		}
		r := Referrer{Kind: e.Kind.String(), Idx: uint64(e.Source)}
		if ok {
			r.EventID = src.ID
		}
		result.Referrers = append(result.Referrers, r)
	}

	return opts.formatter(cmd).Render(result, func(w io.Writer) { writeRefsText(w, result) })
}

func writeRefsText(w io.Writer, r RefsResult) {
	fmt.Fprintf(w, "%s (idx %d)\n", r.EventID, r.Idx)
	if len(r.Referrers) == 0 {
		fmt.Fprintln(w, "  (no referrers)")
		return
	}
	last := ""
	for _, ref := range r.Referrers {
		if ref.Kind != last {
			fmt.Fprintf(w, "  %s\n", ref.Kind)
			last = ref.Kind
		}
		fmt.Fprintf(w, "    %s (idx %d)\n", ref.EventID, ref.Idx)
	}
}
