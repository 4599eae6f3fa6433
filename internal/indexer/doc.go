// Package indexer turns an admitted event into typed reference edges.
//
// Index evaluates one rule per edge kind, each gated by Options.Kinds, and
// appends every edge into the caller's transaction so the edges commit
// atomically with the event itself. References to events that are not yet
// admitted are handed to a Registrar (the horizon) or logged; they never
// fail admission. The only error Index returns is a storage failure.
//
// The indexer holds no locks. Callers serialize events of one room.
package indexer
