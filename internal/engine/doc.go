// Package engine admits room events into the store.
//
// ARCHITECTURE:
//
// Sharded admission:
// Rooms are routed to a fixed number of shards by an FNV-64a hash of the
// room id. Each shard admits one event at a time, either through Admit
// (caller's goroutine, shard mutex) or through its queue drained by Run.
// This gives the indexer the per-room serialized stream it requires while
// unrelated rooms proceed in parallel.
//
// Admission Flow:
// 1. Validate the event and reject duplicates
// 2. Gate on the room's power levels (create and membership exempt)
// 3. Assign idx from the Clock
// 4. Write the event, its id mapping, its room-state entry, every edge and
// every horizon marker into one store transaction and commit
// 5. Resolve horizon markers waiting on the new id, then re-check the ids
// the event itself deferred
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// idx comes from an atomic counter resumed from the store's LastIdx. Rejected
// events never consume one.
//
// Horizon ordering:
// A deferred marker becomes visible to Resolve only after its dependent
// event commits. The post-commit re-check closes the window where the missing
// event commits on another shard between indexing and that commit.
package engine
