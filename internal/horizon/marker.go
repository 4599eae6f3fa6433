package horizon

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/roomdag/internal/event"
	"github.com/roach88/roomdag/internal/refs"
	"github.com/roach88/roomdag/internal/store"
)

// Marker records one reference that could not be resolved: the event Idx
// (EventID) wants a Kind edge to MissingID once it is admitted.
type Marker struct {
	MissingID string    `json:"missing_id"`
	EventID   string    `json:"event_id"`
	Idx       event.Idx `json:"idx"`
	Kind      refs.Kind `json:"kind"`
}

func (m Marker) String() string {
	return fmt.Sprintf("%s -%s-> %s", m.EventID, m.Kind, m.MissingID)
}

// Key is the marker's key in the horizon column. Markers for one missing id
// share the prefix MissingPrefix(id).
func (m Marker) Key() []byte {
	return append(store.AppendIdx(MissingPrefix(m.MissingID), m.Idx), byte(m.Kind))
}

// MissingPrefix is the horizon column prefix of every marker waiting on id.
func MissingPrefix(id string) []byte {
	return store.AppendString(make([]byte, 0, len(id)+2), id)
}

// DecodeMarker rebuilds a marker from a horizon column entry. The key is
// authoritative; the value carries the dependent event id.
func DecodeMarker(key, value []byte) (Marker, error) {
	missing, rest, err := store.ReadString(key)
	if err != nil {
		return Marker{}, fmt.Errorf("decode marker: %w", err)
	}
	idx, rest, err := store.ReadIdx(rest)
	if err != nil {
		return Marker{}, fmt.Errorf("decode marker: %w", err)
	}
	if len(rest) != 1 {
		return Marker{}, fmt.Errorf("decode marker: %w", store.ErrCorruptKey)
	}
	var m Marker
	if err := json.Unmarshal(value, &m); err != nil {
		return Marker{}, fmt.Errorf("decode marker %s: %w", missing, err)
	}
	m.MissingID = missing
	m.Idx = idx
	m.Kind = refs.Kind(rest[0])
	return m, nil
}

func encodeMarker(m Marker) ([]byte, error) {
	return json.Marshal(m)
}
