package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"github.com/cockroachdb/pebble"

	"github.com/roach88/roomdag/internal/event"
	"github.com/roach88/roomdag/internal/refs"
)

// source is the read surface shared by *pebble.DB and *pebble.Snapshot.
type source interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

// reader implements every read operation over a source. Store and
// Snapshot embed it.
type reader struct {
	src source
}

// Get returns a copy of the value at key.
func (r reader) Get(col Column, key []byte) ([]byte, bool, error) {
	v, closer, err := r.src.Get(columnKey(col, key))
	if IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", col, err)
	}
	out := bytes.Clone(v)
	if out == nil {
		out = []byte{}
	}
	if err := closer.Close(); err != nil {
		return nil, false, fmt.Errorf("get %s: %w", col, err)
	}
	return out, true, nil
}

// Iterate yields every key in col that starts with prefix, in key order.
func (r reader) Iterate(col Column, prefix []byte) iter.Seq2[KV, error] {
	return r.IterateFrom(col, prefix, nil)
}

// IterateFrom is Iterate resumed at from: keys ordering before from are
// skipped. A from before the prefix range starts at the prefix.
func (r reader) IterateFrom(col Column, prefix, from []byte) iter.Seq2[KV, error] {
	lower := columnKey(col, prefix)
	upper := prefixUpperBound(lower)
	if from != nil {
		if start := columnKey(col, from); compareKeys(start, lower) > 0 {
			lower = start
		}
	}
	if upper != nil && compareKeys(lower, upper) >= 0 {
		return func(func(KV, error) bool) {}
	}
	return func(yield func(KV, error) bool) {
		for kv, err := range r.scan(lower, upper) {
			if err != nil {
				yield(KV{}, err)
				return
			}
			kv.Key = kv.Key[1:]
			if !yield(kv, nil) {
				return
			}
		}
	}
}

// scan yields full keys in [lower, upper).
func (r reader) scan(lower, upper []byte) iter.Seq2[KV, error] {
	return func(yield func(KV, error) bool) {
		it, err := r.src.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
		if err != nil {
			yield(KV{}, fmt.Errorf("new iterator: %w", err))
			return
		}
		defer it.Close()
		for it.First(); it.Valid(); it.Next() {
			kv := KV{Key: bytes.Clone(it.Key()), Value: bytes.Clone(it.Value())}
			if !yield(kv, nil) {
				return
			}
		}
		if err := it.Error(); err != nil {
			yield(KV{}, fmt.Errorf("iterate: %w", err))
		}
	}
}

// EventIdx resolves an event id. Unknown ids are not an error.
func (r reader) EventIdx(id string) (event.Idx, bool, error) {
	v, ok, err := r.Get(ColEventIdx, []byte(id))
	if err != nil || !ok {
		return event.NoIdx, false, err
	}
	idx, _, err := ReadIdx(v)
	if err != nil {
		return event.NoIdx, false, fmt.Errorf("event idx %s: %w", id, err)
	}
	return idx, true, nil
}

// Event loads the event admitted as idx.
func (r reader) Event(idx event.Idx) (*event.Event, bool, error) {
	v, ok, err := r.Get(ColEvents, EventKey(idx))
	if err != nil || !ok {
		return nil, false, err
	}
	ev, err := decodeEvent(idx, v)
	if err != nil {
		return nil, false, err
	}
	return ev, true, nil
}

// EventByID loads an event by its id.
func (r reader) EventByID(id string) (*event.Event, bool, error) {
	idx, ok, err := r.EventIdx(id)
	if err != nil || !ok {
		return nil, false, err
	}
	return r.Event(idx)
}

// LastIdx returns the highest admitted idx, or NoIdx for an empty store.
func (r reader) LastIdx() (event.Idx, error) {
	lower := []byte{byte(ColEvents)}
	it, err := r.src.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: prefixUpperBound(lower)})
	if err != nil {
		return event.NoIdx, fmt.Errorf("last idx: %w", err)
	}
	defer it.Close()
	if !it.Last() {
		return event.NoIdx, it.Error()
	}
	idx, _, err := ReadIdx(it.Key()[1:])
	if err != nil {
		return event.NoIdx, fmt.Errorf("last idx: %w", err)
	}
	return idx, nil
}

// StatePredecessor returns the most recent state event for (roomID, typ,
// stateKey) other than before itself. The result is newer than before when
// before is re-indexed after later state was admitted; callers decide what
// that means.
func (r reader) StatePredecessor(roomID, typ, stateKey string, before event.Idx) (event.Idx, bool, error) {
	lower := columnKey(ColRoomState, StatePrefix(roomID, typ, stateKey))
	it, err := r.src.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: prefixUpperBound(lower)})
	if err != nil {
		return event.NoIdx, false, fmt.Errorf("state predecessor: %w", err)
	}
	defer it.Close()
	for valid := it.Last(); valid; valid = it.Prev() {
		key := it.Key()
		idx, _, err := ReadIdx(key[len(lower):])
		if err != nil {
			return event.NoIdx, false, fmt.Errorf("state predecessor: %w", err)
		}
		if idx == before {
			continue
		}
		return idx, true, nil
	}
	return event.NoIdx, false, it.Error()
}

// CurrentState returns the latest state event for (roomID, typ, stateKey).
func (r reader) CurrentState(roomID, typ, stateKey string) (*event.Event, bool, error) {
	idx, ok, err := r.StatePredecessor(roomID, typ, stateKey, event.NoIdx)
	if err != nil || !ok {
		return nil, false, err
	}
	return r.Event(idx)
}

// Referrers yields the edges into target in key order: every kind when kind
// is nil, otherwise only that kind.
func (r reader) Referrers(target event.Idx, kind *refs.Kind) iter.Seq2[refs.Edge, error] {
	var lower, upper []byte
	if kind != nil {
		lower, upper = refs.KindBounds(target, *kind)
	} else {
		lower, upper = refs.EncodePrefix(target), refs.TargetUpperBound(target)
	}
	return r.refsRange(lower, upper)
}

// ReferrersAfter yields the edges of kind into target whose source is
// greater than after. Passing the last source seen resumes a Referrers scan.
func (r reader) ReferrersAfter(target event.Idx, kind refs.Kind, after event.Idx) iter.Seq2[refs.Edge, error] {
	if after >= refs.MaxIdx {
		return func(func(refs.Edge, error) bool) {}
	}
	_, upper := refs.KindBounds(target, kind)
	return r.refsRange(refs.Encode(target, kind, after+1), upper)
}

// refsRange yields the edges in [lower, upper) of the refs column. A nil
// upper runs to the end of the column.
func (r reader) refsRange(lower, upper []byte) iter.Seq2[refs.Edge, error] {
	lower = columnKey(ColRefs, lower)
	if upper != nil {
		upper = columnKey(ColRefs, upper)
	} else {
		upper = prefixUpperBound([]byte{byte(ColRefs)})
	}
	return edges(r.scan(lower, upper))
}

// ReferrersByKind groups the sources of every edge into target by kind.
func (r reader) ReferrersByKind(target event.Idx) (map[refs.Kind][]event.Idx, error) {
	out := make(map[refs.Kind][]event.Idx)
	for e, err := range r.Referrers(target, nil) {
		if err != nil {
			return nil, err
		}
		out[e.Kind] = append(out[e.Kind], e.Source)
	}
	return out, nil
}

// Edges yields every edge in the store.
func (r reader) Edges() iter.Seq2[refs.Edge, error] {
	lower := []byte{byte(ColRefs)}
	return edges(r.scan(lower, prefixUpperBound(lower)))
}

// Events yields every admitted event in idx order.
func (r reader) Events() iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		for kv, err := range r.Iterate(ColEvents, nil) {
			if err != nil {
				yield(nil, err)
				return
			}
			idx, _, err := ReadIdx(kv.Key)
			if err != nil {
				yield(nil, err)
				return
			}
			ev, err := decodeEvent(idx, kv.Value)
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

func edges(seq iter.Seq2[KV, error]) iter.Seq2[refs.Edge, error] {
	return func(yield func(refs.Edge, error) bool) {
		for kv, err := range seq {
			if err != nil {
				yield(refs.Edge{}, err)
				return
			}
			e, err := refs.DecodeEdge(kv.Key[1:])
			if err != nil {
				yield(refs.Edge{}, fmt.Errorf("decode edge %x: %w", kv.Key, err))
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func decodeEvent(idx event.Idx, raw []byte) (*event.Event, error) {
	var ev event.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode event %d: %w", idx, err)
	}
	ev.Idx = idx
	return &ev, nil
}
