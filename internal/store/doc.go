// Package store provides pebble-backed durable storage for admitted room
// events and their reference graph.
//
// All data lives in one pebble database. Every key starts with a one-byte
// column tag:
//
//	'e' events       be64(idx)                          -> event JSON
//	'i' event ids    event_id                           -> be64(idx)
//	'r' refs         be64(target) ‖ be64(kind<<56|src)  -> empty
//	's' room state   str(room) str(type) str(key) be64(idx) -> empty
//	'h' horizon      str(missing_id) be64(idx) kind     -> marker JSON
//
// str(x) is uvarint(len(x)) followed by x, so no component can run into the
// next one.
//
// # Critical Patterns
//
// Single transaction per admission:
//   - The event record, its id mapping, its room-state entry, every edge and
//     every horizon marker go into one Txn (a pebble batch)
//   - A failed commit makes none of them visible
//
// Dense idx:
//   - Keys in the events column are big-endian, so the last key is the
//     highest idx ever admitted (LastIdx)
//
// Snapshot reads:
//   - Snapshot returns a point-in-time Reader; iterators opened from it are
//     repeatable and never block writers
//
// The database is opened with a named comparer ("roomdag.refs.v1") that
// orders the refs column with refs.Compare. pebble refuses to open a
// database written with a different comparer name.
package store
