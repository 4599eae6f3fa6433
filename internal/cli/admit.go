package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/roomdag/internal/engine"
	"github.com/roach88/roomdag/internal/indexer"
)

// AdmitOptions holds flags for the admit command.
type AdmitOptions struct {
	*RootOptions
	Metrics bool
}

// AdmittedEvent is one successful admission in command output.
type AdmittedEvent struct {
	EventID  string `json:"event_id"`
	Idx      uint64 `json:"idx"`
	Trace    string `json:"trace"`
	Edges    int    `json:"edges"`
	Deferred int    `json:"deferred"`
	Resumed  int    `json:"resumed"`
}

// RejectedEvent is one rejected admission in command output.
type RejectedEvent struct {
	EventID string `json:"event_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AdmitResult holds the admit command output.
type AdmitResult struct {
	Admitted []AdmittedEvent   `json:"admitted"`
	Rejected []RejectedEvent   `json:"rejected"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

// NewAdmitCommand creates the admit command.
func NewAdmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AdmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "admit <events-file>",
		Short: "Admit events from a file",
		Long: `Admit events in file order and index their references.

The file is a YAML list (.yaml, .yml) or JSON Lines (anything else).
Events without an event_id are given their reference hash.

Exit codes:
  0 - Every event admitted
  1 - One or more events rejected
  2 - Command error (unreadable file, store errors, etc.)

Examples:
  roomdag admit --db ./graph events.jsonl
  roomdag admit --db ./graph room.yaml --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdmit(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print admission metrics after the run")

	return cmd
}

func runAdmit(ctx context.Context, opts *AdmitOptions, path string, cmd *cobra.Command) error {
	events, err := LoadEvents(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load events", err).WithCode(ErrCodeNotFound)
	}

	reg := prometheus.NewRegistry()
	sess, err := opts.openSession(ctx, cmd, reg)
	if err != nil {
		return err
	}
	defer sess.Close()

	result := AdmitResult{Admitted: []AdmittedEvent{}, Rejected: []RejectedEvent{}}
	for _, ev := range events {
		adm, err := sess.engine.Admit(ctx, ev)
		var admErr *engine.AdmissionError
		switch {
		case err == nil:
			result.Admitted = append(result.Admitted, AdmittedEvent{
				EventID:  adm.Event.ID,
				Idx:      uint64(adm.Idx),
				Trace:    adm.Trace,
				Edges:    adm.Report.Count(indexer.StatusAppended),
				Deferred: adm.Report.Count(indexer.StatusDeferred),
				Resumed:  adm.Resumed,
			})
		case errors.As(err, &admErr) && !engine.IsStorage(err):
			result.Rejected = append(result.Rejected, RejectedEvent{
				EventID: ev.ID,
				Code:    string(admErr.Code),
				Message: admErr.Error(),
			})
		default:
			return WrapExitError(ExitCommandError, "admission failed", err).WithCode(ErrCodeStore)
		}
	}

	if opts.Metrics {
		result.Metrics, err = gatherMetrics(reg)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to gather metrics", err)
		}
	}

	out := opts.formatter(cmd)
	if err := out.Render(result, func(w io.Writer) { writeAdmitText(w, result) }); err != nil {
		return err
	}
	if n := len(result.Rejected); n > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d event(s) rejected", n)).WithCode(ErrCodeRejected)
	}
	return nil
}

func writeAdmitText(w io.Writer, r AdmitResult) {
	for _, a := range r.Admitted {
		fmt.Fprintf(w, "admitted %s idx=%d edges=%d deferred=%d resumed=%d trace=%s\n",
			a.EventID, a.Idx, a.Edges, a.Deferred, a.Resumed, a.Trace)
	}
	for _, rej := range r.Rejected {
		fmt.Fprintf(w, "rejected %s\n", rej.Message)
	}
	fmt.Fprintf(w, "%d admitted, %d rejected\n", len(r.Admitted), len(r.Rejected))

	if len(r.Metrics) > 0 {
		fmt.Fprintln(w)
		names := make([]string, 0, len(r.Metrics))
		for name := range r.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "%s %g\n", name, r.Metrics[name])
		}
	}
}

// gatherMetrics flattens counters and gauges to "name{k=v,...}" keys.
func gatherMetrics(g prometheus.Gatherer) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			key := mf.GetName()
			if len(labels) > 0 {
				key += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			}
		}
	}
	return out, nil
}
