// Package shard implements the bucket, the unit of partitioning of the
// nonce history.
//
// # Overview
//
// Every (sender, nonce) key hashes to exactly one bucket index. A bucket holds
// two storage.Generation buffers and a mutex. Operations on different buckets
// never contend; operations on the same bucket are serialized so the
// wipe/check/insert sequence in CheckAndInsert is atomic.
//
// # Generation Selection
//
// A record's generation is chosen from its own declared expiration:
//
//	g = (expiration / Window) mod 2
//
// With Window = 75s, expirations 0..74 go to generation 0, 75..149 to
// generation 1, 150..224 back to generation 0, and so on. No clock read or
// coordination is needed to decide where a record lives.
//
// # Write Path
//
//	CheckAndInsert(key, exp, now)
//	    │
//	    ├─ wipe each generation with len > 0 and now > lastStored + MaxStale
//	    ├─ key in generation 1-g?  → reject
//	    ├─ upsert into generation g; existed? → reject
//	    └─ lastStored[g] = now      → accept
//
// # Statistics
//
// Counters are updated with sync/atomic so GetStats never takes the bucket
// lock:
//   - Accepted: novel keys recorded
//   - Duplicates: rejected by the target generation
//   - CrossHits: rejected by the other generation
//   - Wipes: stale generations dropped
package shard
