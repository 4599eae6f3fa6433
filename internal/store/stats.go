package store

import (
	"github.com/roach88/roomdag/internal/event"
	"github.com/roach88/roomdag/internal/refs"
)

// Stats summarizes the store's contents.
type Stats struct {
	Events         int            `json:"events"`
	Edges          int            `json:"edges"`
	EdgesByKind    map[string]int `json:"edges_by_kind"`
	StateEntries   int            `json:"state_entries"`
	HorizonMarkers int            `json:"horizon_markers"`
	LastIdx        event.Idx      `json:"last_idx"`
	DiskBytes      uint64         `json:"disk_bytes"`
}

// Stats counts every column. It scans the whole database and is meant for
// operators, not hot paths.
func (s *Store) Stats() (Stats, error) {
	snap := s.Snapshot()
	defer snap.Close()

	st := Stats{EdgesByKind: make(map[string]int)}
	for _, k := range refs.AllKinds() {
		st.EdgesByKind[k.String()] = 0
	}

	count := func(col Column) (int, error) {
		n := 0
		for _, err := range snap.Iterate(col, nil) {
			if err != nil {
				return 0, err
			}
			n++
		}
		return n, nil
	}

	var err error
	if st.Events, err = count(ColEvents); err != nil {
		return Stats{}, err
	}
	if st.StateEntries, err = count(ColRoomState); err != nil {
		return Stats{}, err
	}
	if st.HorizonMarkers, err = count(ColHorizon); err != nil {
		return Stats{}, err
	}
	for e, err := range snap.Edges() {
		if err != nil {
			return Stats{}, err
		}
		st.Edges++
		st.EdgesByKind[e.Kind.String()]++
	}
	if st.LastIdx, err = snap.LastIdx(); err != nil {
		return Stats{}, err
	}
	st.DiskBytes = s.db.Metrics().DiskSpaceUsage()
	return st, nil
}
