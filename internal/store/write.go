package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/roomdag/internal/event"
	"github.com/roach88/roomdag/internal/refs"
)

// PutEvent appends the admission record of ev: the event itself, its id
// mapping and, for state events, its room-state entry. ev.Idx must already
// be assigned.
func PutEvent(txn Sink, ev *event.Event) error {
	if ev.Idx == event.NoIdx {
		return fmt.Errorf("put event %s: idx not assigned", ev.ID)
	}
	if ev.Idx > refs.MaxIdx {
		return fmt.Errorf("put event %s: idx %d exceeds %d", ev.ID, ev.Idx, refs.MaxIdx)
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("put event %s: %w", ev.ID, err)
	}

	if err := txn.Append(ColEvents, OpPut, EventKey(ev.Idx), raw); err != nil {
		return err
	}
	if err := txn.Append(ColEventIdx, OpPut, []byte(ev.ID), EventKey(ev.Idx)); err != nil {
		return err
	}
	if sk, ok := ev.StateKeyValue(); ok {
		if err := txn.Append(ColRoomState, OpPut, StateKey(ev.RoomID, ev.Type, sk, ev.Idx), nil); err != nil {
			return err
		}
	}
	return nil
}

// PutEdge appends one reference edge.
func PutEdge(txn Sink, e refs.Edge) error {
	return txn.Append(ColRefs, OpPut, refs.EncodeEdge(e), nil)
}
