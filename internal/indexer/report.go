package indexer

import (
	"fmt"

	"github.com/roach88/roomdag/internal/event"
	"github.com/roach88/roomdag/internal/refs"
)

// Status is what happened to one candidate reference.
type Status int

const (
	// StatusAppended means the edge was appended to the transaction.
	StatusAppended Status = iota
	// StatusDeferred means the target is unknown and a horizon marker was
	// registered.
	StatusDeferred
	// StatusMissing means the target is unknown and horizon tracking is off.
	StatusMissing
	// StatusMalformed means the referencing field is structurally invalid.
	StatusMalformed
	// StatusReplayGuard means the state predecessor is not older than the
	// event, so no state edge was written.
	StatusReplayGuard
	// StatusSelfReference means the reference resolves to the event itself.
	StatusSelfReference
	// StatusNoPredecessor means a state event has no earlier state for its
	// (type, state_key).
	StatusNoPredecessor
)

func (s Status) String() string {
	switch s {
	case StatusAppended:
		return "appended"
	case StatusDeferred:
		return "deferred"
	case StatusMissing:
		return "missing"
	case StatusMalformed:
		return "malformed"
	case StatusReplayGuard:
		return "replay_guard"
	case StatusSelfReference:
		return "self_reference"
	case StatusNoPredecessor:
		return "no_predecessor"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome records one reference the indexer considered. Ref is the
// referenced event id when there is one; Target is set once it resolved.
type Outcome struct {
	Kind   refs.Kind `json:"kind"`
	Ref    string    `json:"ref,omitempty"`
	Target event.Idx `json:"target,omitempty"`
	Status Status    `json:"status"`
	Reason string    `json:"reason,omitempty"`
}

// Report lists the outcomes of indexing one event, in rule order.
type Report struct {
	EventID  string    `json:"event_id"`
	Idx      event.Idx `json:"idx"`
	Outcomes []Outcome `json:"outcomes"`
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Count returns the number of outcomes with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Edges returns the edges that were appended.
func (r *Report) Edges() []refs.Edge {
	var out []refs.Edge
	for _, o := range r.Outcomes {
		if o.Status == StatusAppended {
			out = append(out, o.edge(r.Idx))
		}
	}
	return out
}

// Deferred returns the ids that were registered with the horizon.
func (r *Report) Deferred() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.Status == StatusDeferred {
			out = append(out, o.Ref)
		}
	}
	return out
}

// edge rebuilds the appended edge. PREV_STATE points from the event to its
// predecessor, every other kind from the referenced target to the event.
func (o Outcome) edge(source event.Idx) refs.Edge {
	if o.Kind == refs.PrevState {
		return refs.Edge{Target: source, Kind: o.Kind, Source: o.Target}
	}
	return refs.Edge{Target: o.Target, Kind: o.Kind, Source: source}
}
