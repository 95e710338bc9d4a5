// Package storage holds the per-generation record maps of the nonce history
// and the persistence layer used to checkpoint them.
//
// # Overview
//
// A Generation is the unit of garbage collection. It maps every recorded
// (sender, nonce) pair to the expiration the transaction declared, plus the
// wall-clock second of its most recent novel insert. Two generations make up a
// bucket (see package shard); records alternate between them by expiration
// epoch, so a whole generation can be dropped at once when it goes stale.
//
// # Architecture
//
//	┌──────────────────────────────────────┐
//	│            shard.Bucket              │
//	│   mu ─ serializes GC/check/insert    │
//	├──────────────────┬───────────────────┤
//	│  Generation 0    │  Generation 1     │
//	│  key → exp       │  key → exp        │
//	│  lastStoredTime  │  lastStoredTime   │
//	└──────────────────┴───────────────────┘
//	            │ Snapshot()
//	            ▼
//	┌──────────────────────────────────────┐
//	│  Checkpoint (SQLiteCheckpoint)       │
//	└──────────────────────────────────────┘
//
// # Garbage Collection
//
// Wipe replaces the generation's map with a fresh one. Cost does not depend on
// how many keys were recorded; the old map is reclaimed by the Go runtime.
//
// # Concurrency and Thread Safety
//
// Generation has no lock of its own. Every access goes through the owning
// bucket, which holds its mutex across the whole read-modify-write sequence.
// SQLiteCheckpoint is safe for concurrent use; it pins the pool to a single
// connection so saves never interleave.
//
// # Snapshots
//
// Snapshots are deep copies in canonical order: buckets by index, entries by
// txn.Compare. Two snapshots of identical state compare equal, which tests use
// to prove read-only operations do not mutate anything.
//
// # Error Handling
//
//   - Checkpoint errors wrap the underlying database/sql error with context
package storage
