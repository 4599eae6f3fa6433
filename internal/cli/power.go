package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/roomdag/internal/engine"
	"github.com/roach88/roomdag/internal/power"
)

// PowerOptions holds flags for the power command.
type PowerOptions struct {
	*RootOptions
	Prop     string
	Type     string
	StateKey string
}

// PowerResult holds the power command output.
type PowerResult struct {
	RoomID     string `json:"room_id"`
	UserID     string `json:"user_id"`
	Creator    string `json:"creator"`
	Present    bool   `json:"power_levels_present"`
	Level      int64  `json:"level"`
	Action     string `json:"action,omitempty"`
	Required   *int64 `json:"required,omitempty"`
	Authorized *bool  `json:"authorized,omitempty"`
}

// NewPowerCommand creates the power command.
func NewPowerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PowerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "power <room-id> <user-id>",
		Short: "Show a user's power level in a room",
		Long: `Resolve a user's power level from the room's current power-levels state,
falling back to creator defaults when the room has none.

With --prop or --type, also report the level that action requires and
whether the user holds it.

Examples:
  roomdag power --db ./graph '!r:a.org' '@bob:a.org'
  roomdag power --db ./graph '!r:a.org' '@bob:a.org' --prop ban
  roomdag power --db ./graph '!r:a.org' '@bob:a.org' --type m.room.topic --state-key ''`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPower(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Prop, "prop", "", "level property (ban, kick, redact, invite, ...)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "event type to authorize")
	cmd.Flags().StringVar(&opts.StateKey, "state-key", "", "state key, making --type a state event")

	return cmd
}

func runPower(opts *PowerOptions, roomID, userID string, cmd *cobra.Command) error {
	sess, err := opts.openStore(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	snap := sess.store.Snapshot()
	defer snap.Close()

	view, err := engine.LoadPowerView(snap, roomID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load power levels", err).WithCode(ErrCodeStore)
	}
	if view == nil {
		return NewExitError(ExitFailure, fmt.Sprintf("room has no create event: %s", roomID)).WithCode(ErrCodeNotFound)
	}

	result := PowerResult{
		RoomID:  roomID,
		UserID:  userID,
		Creator: view.Creator(),
		Present: view.Present(),
		Level:   view.LevelUser(userID),
	}

	if opts.Prop != "" || opts.Type != "" {
		var stateKey *string
		if cmd.Flags().Changed("state-key") {
			stateKey = &opts.StateKey
		}
		var required int64
		switch {
		case opts.Prop != "" && opts.Prop != power.PropEvents:
			result.Action = opts.Prop
			required = view.Level(opts.Prop)
		default:
			result.Action = opts.Type
			required = view.LevelEventState(opts.Type, stateKey)
		}
		authorized := view.Authorize(userID, opts.Prop, opts.Type, stateKey)
		result.Required = &required
		result.Authorized = &authorized
	}

	return opts.formatter(cmd).Render(result, func(w io.Writer) { writePowerText(w, result) })
}

func writePowerText(w io.Writer, r PowerResult) {
	source := "power levels"
	if !r.Present {
		source = "creator defaults"
	}
	fmt.Fprintf(w, "%s in %s: level %d (%s)\n", r.UserID, r.RoomID, r.Level, source)
	if r.Required != nil {
		verdict := "authorized"
		if !*r.Authorized {
			verdict = "not authorized"
		}
		fmt.Fprintf(w, "%s requires %d: %s\n", r.Action, *r.Required, verdict)
	}
}

// NewComposePowerCommand creates the compose-power command.
func NewComposePowerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compose-power <creator>",
		Short: "Print default power-levels content for a new room",
		Long: `Print the power-levels content a room created by <creator> starts with:
every default level spelled out and the creator at level 100.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := power.DefaultContent(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to compose power levels", err)
			}
			return rootOpts.formatter(cmd).Render(json.RawMessage(content), func(w io.Writer) {
				fmt.Fprintln(w, string(content))
			})
		},
	}
	return cmd
}
