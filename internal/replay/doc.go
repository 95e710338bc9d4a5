// Package replay protects a chain against replay of orderless transactions,
// transactions identified by a sender-chosen nonce instead of a strictly
// increasing sequence number.
//
// # Overview
//
// For every (sender, nonce) pair submitted while its declared expiration is
// still valid, NonceHistory admits the pair at most once. Memory stays bounded
// despite an unbounded stream of distinct nonces, and each decision costs O(1)
// amortized; history is never scanned.
//
// The validation pipeline consumes exactly two decisions:
//
//   - CheckAndInsertNonce: authoritative test-and-set; false means replay
//   - CheckNonce: read-only pre-filter for mempool gating; false means
//     "already seen, skip expensive validation"
//
// Signature checks, expiration checks against now and envelope parsing all
// happen upstream.
//
// # Architecture
//
//	  envelope (sender, nonce, expiration)
//	                 │
//	                 ▼
//	  SipHash(sender‖nonce) mod NumBuckets ──► shard.Bucket (lazy)
//	                 │                               │
//	  (expiration / Window) mod 2 ──► generation g   │
//	                                                 ▼
//	           wipe stale generations ─► check 1-g ─► upsert g
//	                                                 │
//	                                                 ▼
//	                                               bool
//
// # Generations and Garbage Collection
//
// Each bucket has two generations. A record's generation comes from its own
// expiration epoch, so two submissions of the same key with expirations in
// neighbouring epochs land in different generations; the cross-generation
// lookup catches that case.
//
// A generation that is non-empty and has not had a novel insert for more than
// MaxStale seconds is wiped, in O(1), by the next write to its bucket. There is
// no background sweeper. MaxStale must not exceed Window.
//
// Wiping is a deliberate trade-off: once a generation is wiped its keys become
// admissible again. Upstream expiration checks are expected to reject those
// transactions.
//
// # Concurrency
//
// Buckets are independent. The registry RWMutex is held only to find or create
// a bucket; the bucket mutex covers wipe, lookup and insert together. A burst
// of inserts into one bucket and epoch before GC triggers can grow one map
// without bound; rate limiting belongs to the network layer.
//
// # Clock
//
// "now" comes from a Clock. NewSystemClock wraps time.Now in a MonotonicClock
// so wall-clock steps backwards are never observed. ManualClock drives tests.
//
// # Provisioning
//
// Initialize and AddNonceBucket pre-create buckets so steady-state inserts
// skip first-touch allocation. Neither ever overwrites an existing bucket.
//
// # Persistence
//
// Snapshot and Restore give deterministic deep copies of the history.
// Checkpointer saves snapshots periodically to a storage.Checkpoint and
// LoadCheckpoint restores one at start-up.
package replay
