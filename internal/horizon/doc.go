// Package horizon defers references to events that have not been admitted
// yet.
//
// Events arrive over federation out of causal order, so an event may cite a
// predecessor, an auth event or a relation target this server does not know
// about. Instead of dropping the edge, the indexer registers a Marker keyed
// by the missing id. When that id is later admitted, the commit path calls
// Resolve, which hands each waiting marker back to the indexer to append
// exactly the one edge that was missing.
//
// Markers live in memory for lookup and in the store's horizon column for
// durability; Load rebuilds the memory side at startup.
package horizon
