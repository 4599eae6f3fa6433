// Package harness runs conformance scenarios against the admission engine.
//
// A scenario admits a list of room events into a fresh in-memory store and
// checks the reference graph that results.
//
// # Scenario Format
//
//	name: horizon_backfill
//	description: "A message citing an unseen event gains its NEXT edge later"
//	server_name: a.org
//	authorize: true
//	events:
//	  - name: create
//	    room: "!r:a.org"
//	    type: m.room.create
//	    sender: "@alice:a.org"
//	    state_key: ""
//	    content: {creator: "@alice:a.org"}
//	  - name: early
//	    room: "!r:a.org"
//	    type: m.room.message
//	    sender: "@alice:a.org"
//	    prev: [late]
//	  - name: late
//	    room: "!r:a.org"
//	    type: m.room.message
//	    sender: "@alice:a.org"
//	    prev: [create]
//	assertions:
//	  - type: edge
//	    target: late
//	    kind: NEXT
//	    source: early
//
// Steps refer to each other by name. An unnamed prev_events list chains to
// the room's last admitted event, and auth_events defaults to the room's
// admitted create and power-levels events.
//
// # Assertion Types
//
//   - edge / no_edge: an edge target <-kind- source exists or not
//   - edge_count: the number of referrers of target, optionally by kind
//   - horizon_pending: the number of markers waiting on an id
//   - power_level: a user's level in a room
//
// # Deterministic Testing
//
// Timestamps come from testutil.DeterministicClock and the admission trace
// is the scenario name, so a rendered result is stable across runs and can
// be compared with a golden file (RunWithGolden).
package harness
