package shard

import (
	"sync"
	"sync/atomic"

	"github.com/dreamware/orderless/internal/storage"
	"github.com/dreamware/orderless/internal/txn"
)

// Policy holds the time constants a bucket applies on every write
type Policy struct {
	Window   uint64 // expiration epoch width in seconds
	MaxStale uint64 // seconds without a write before a generation is wiped
}

// DefaultPolicy returns the production window and staleness bound
func DefaultPolicy() Policy {
	return Policy{
		Window:   txn.DefaultWindow,
		MaxStale: txn.DefaultMaxStale,
	}
}

// Bucket is one shard of the nonce history: a fixed pair of generations
// guarded by a mutex so that GC, duplicate detection and insert are atomic
// with respect to other writers on the same shard.
type Bucket struct {
	ID    uint32                 // Shard index this bucket serves
	Stats *BucketStats           // Operation statistics
	gens  [2]*storage.Generation // Rotating generations
	mu    sync.Mutex             // Serializes every read-modify-write
}

// BucketStats tracks operation counts for a bucket
type BucketStats struct {
	Accepted   uint64 // Novel keys recorded
	Duplicates uint64 // Rejected: key already in the target generation
	CrossHits  uint64 // Rejected: key found in the other generation
	Wipes      uint64 // Stale generations dropped
}

// BucketInfo contains metadata about a bucket
type BucketInfo struct {
	ID             uint32    `json:"id"`
	Keys           [2]int    `json:"keys"`
	LastStoredTime [2]uint64 `json:"last_stored_time"`
}

// NewBucket creates a bucket with both generations empty and never written
func NewBucket(id uint32) *Bucket {
	return &Bucket{
		ID:    id,
		Stats: &BucketStats{},
		gens:  [2]*storage.Generation{storage.NewGeneration(), storage.NewGeneration()},
	}
}

// RestoreBucket rebuilds a bucket from a snapshot
func RestoreBucket(snap storage.BucketSnapshot) *Bucket {
	return &Bucket{
		ID:    snap.Index,
		Stats: &BucketStats{},
		gens: [2]*storage.Generation{
			storage.RestoreGeneration(snap.Generations[0]),
			storage.RestoreGeneration(snap.Generations[1]),
		},
	}
}

// CheckAndInsert records key if it is not present in either generation.
// Before looking, every generation that has gone stale as of now is wiped.
// It returns whether the key was accepted and how many generations were wiped.
func (b *Bucket) CheckAndInsert(key txn.NonceKey, expiration, now uint64, p Policy) (accepted bool, wiped int) {
	g := txn.GenerationIndex(expiration, p.Window)

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, gen := range b.gens {
		if gen.IsStale(now, p.MaxStale) {
			gen.Wipe()
			wiped++
		}
	}
	if wiped > 0 {
		atomic.AddUint64(&b.Stats.Wipes, uint64(wiped))
	}

	// A resubmission whose expiration falls in the neighbouring epoch lands
	// in the other generation.
	if b.gens[1-g].Contains(key) {
		atomic.AddUint64(&b.Stats.CrossHits, 1)
		return false, wiped
	}

	if _, existed := b.gens[g].Upsert(key, expiration); existed {
		atomic.AddUint64(&b.Stats.Duplicates, 1)
		return false, wiped
	}

	b.gens[g].Touch(now)
	atomic.AddUint64(&b.Stats.Accepted, 1)
	return true, wiped
}

// Contains reports whether key is recorded in either generation.
// It never wipes.
func (b *Bucket) Contains(key txn.NonceKey) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gens[0].Contains(key) || b.gens[1].Contains(key)
}

// Len returns the number of keys across both generations
func (b *Bucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gens[0].Len() + b.gens[1].Len()
}

// OwnsKey determines if this bucket is the shard for key
func (b *Bucket) OwnsKey(key txn.NonceKey, numBuckets uint32) bool {
	if numBuckets == 0 {
		return false
	}
	return txn.ShardIndex(key, numBuckets) == b.ID
}

// Snapshot returns a deep copy of both generations
func (b *Bucket) Snapshot() storage.BucketSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return storage.BucketSnapshot{
		Index:       b.ID,
		Generations: [2]storage.GenerationSnapshot{b.gens[0].Snapshot(), b.gens[1].Snapshot()},
	}
}

// GetStats returns current bucket statistics
func (b *Bucket) GetStats() BucketStats {
	return BucketStats{
		Accepted:   atomic.LoadUint64(&b.Stats.Accepted),
		Duplicates: atomic.LoadUint64(&b.Stats.Duplicates),
		CrossHits:  atomic.LoadUint64(&b.Stats.CrossHits),
		Wipes:      atomic.LoadUint64(&b.Stats.Wipes),
	}
}

// Info returns metadata about the bucket
func (b *Bucket) Info() BucketInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BucketInfo{
		ID:             b.ID,
		Keys:           [2]int{b.gens[0].Len(), b.gens[1].Len()},
		LastStoredTime: [2]uint64{b.gens[0].LastStoredTime(), b.gens[1].LastStoredTime()},
	}
}
