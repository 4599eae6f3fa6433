// Package refs encodes the inverse reference graph of room events.
//
// Each edge records that a source event refers to a target event, and why.
// Edges are stored as fixed-width keys in the refs column:
//
//	be64(target) ‖ be64(kind<<56 | source)
//
// The first word is the event being referenced. The second word is the
// referring event with the edge kind packed into its highest-order byte, so
// one (target, source) pair may be linked by several kinds. The value is
// empty and reserved for future per-edge metadata.
//
// # Ordering
//
// Keys order by target, then by length (an 8-byte target prefix sorts before
// every full key of that target), then by the second word. All edges into a
// target form one contiguous range, and all edges of one kind into a target
// form a sub-range starting at Encode(target, kind, 0).
//
// Because both words are big-endian, Compare agrees with bytes.Compare on
// every key this package produces. The store relies on that to reuse
// pebble's default key abbreviation and separator logic.
package refs
