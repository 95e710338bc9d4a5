// Package replay implements the orderless-transaction replay protection store.
// See doc.go for complete package documentation.
package replay

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dreamware/orderless/internal/shard"
	"github.com/dreamware/orderless/internal/storage"
	"github.com/dreamware/orderless/internal/txn"
)

var (
	// ErrInvalidConfig is returned by NewNonceHistory for unusable constants
	ErrInvalidConfig = errors.New("invalid nonce history config")

	// ErrNotEmpty is returned by Restore when the history already holds buckets
	ErrNotEmpty = errors.New("nonce history is not empty")
)

// Config holds the constants and collaborators of a NonceHistory.
type Config struct {
	// Clock supplies "now" in seconds. Defaults to a monotonic wall clock.
	Clock Clock

	// Logger receives lifecycle and GC events. Defaults to a no-op logger.
	Logger *zap.Logger

	// NumBuckets is the size of the shard space. Fixed for the lifetime of
	// the history; changing it remaps every key.
	NumBuckets uint32

	// PreallocateBuckets is how many buckets Initialize creates up front.
	PreallocateBuckets uint32

	// Window is the expiration epoch width in seconds.
	Window uint64

	// MaxStale is how long a generation may go without a write before the
	// next write to its bucket wipes it. Must not exceed Window.
	MaxStale uint64
}

// DefaultConfig returns the production constants
func DefaultConfig() Config {
	return Config{
		NumBuckets: txn.DefaultNumBuckets,
		Window:     txn.DefaultWindow,
		MaxStale:   txn.DefaultMaxStale,
	}
}

// Validate checks the constants are usable
func (c Config) Validate() error {
	switch {
	case c.NumBuckets == 0:
		return fmt.Errorf("%w: num buckets must be > 0", ErrInvalidConfig)
	case c.Window == 0:
		return fmt.Errorf("%w: window must be > 0", ErrInvalidConfig)
	case c.MaxStale > c.Window:
		return fmt.Errorf("%w: max stale %d exceeds window %d", ErrInvalidConfig, c.MaxStale, c.Window)
	case c.PreallocateBuckets > c.NumBuckets:
		return fmt.Errorf("%w: cannot preallocate %d of %d buckets", ErrInvalidConfig, c.PreallocateBuckets, c.NumBuckets)
	}
	return nil
}

// NonceHistory is the process-wide registry of buckets and the entry point
// of the two admission decisions.
//
// The registry maps shard index to bucket. Buckets appear on first write to
// their shard or through provisioning, and live as long as the history; only
// their generations are ever wiped.
//
// Architecture:
//
//	┌──────────────────────────────────────────────┐
//	│                NonceHistory                  │
//	├──────────────────────────────────────────────┤
//	│  buckets: map[shardIndex] → *shard.Bucket    │
//	│  nextKey: next index for AddNonceBucket      │
//	│  mu: RWMutex over the map only               │
//	├──────────────────────────────────────────────┤
//	│  (sender, nonce) → SipHash → shard → Bucket  │
//	│  expiration → (exp / Window) mod 2 → gen     │
//	└──────────────────────────────────────────────┘
//
// Concurrency Model:
//   - The registry lock is held only to find or create a bucket
//   - Each bucket serializes its own wipe/check/insert sequence
//   - Operations on different shards proceed in parallel
//
// Performance Characteristics:
//   - CheckAndInsertNonce: O(1) amortized
//   - CheckNonce: O(1), never allocates a bucket
//   - Snapshot: O(n) in recorded keys
type NonceHistory struct {
	clock  Clock
	logger *zap.Logger

	// buckets maps shard indices to their buckets.
	// A shard with no bucket has never been written or provisioned.
	buckets map[uint32]*shard.Bucket

	policy shard.Policy

	// mu protects buckets and nextKey.
	mu sync.RWMutex

	numBuckets  uint32
	prealloc    uint32
	nextKey     uint32
	initialized atomic.Bool
}

// NewNonceHistory creates an empty history.
//
// Example:
//
//	h, err := NewNonceHistory(DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	h.Initialize()
//	ok := h.CheckAndInsertNonce(sender, nonce, expiration)
func NewNonceHistory(cfg Config) (*NonceHistory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = NewSystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &NonceHistory{
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		buckets:    make(map[uint32]*shard.Bucket),
		policy:     shard.Policy{Window: cfg.Window, MaxStale: cfg.MaxStale},
		numBuckets: cfg.NumBuckets,
		prealloc:   cfg.PreallocateBuckets,
	}, nil
}

// Initialize provisions buckets until the first PreallocateBuckets indices
// have been visited. Only the first call does anything. A history restored
// from a checkpoint resumes from its restored next key, so restarts never
// provision past the configured target.
func (h *NonceHistory) Initialize() {
	if !h.initialized.CompareAndSwap(false, true) {
		return
	}

	created := 0
	for h.provisioned() < h.prealloc {
		if _, ok := h.AddNonceBucket(); ok {
			created++
		}
	}

	h.logger.Info("nonce history initialized",
		zap.Uint32("num_buckets", h.numBuckets),
		zap.Int("preallocated", created),
		zap.Uint64("window", h.policy.Window),
		zap.Uint64("max_stale", h.policy.MaxStale))
}

// provisioned returns the next sequential index AddNonceBucket would visit
func (h *NonceHistory) provisioned() uint32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.nextKey
}

// AddNonceBucket provisions the bucket at the next sequential index.
//
// An existing bucket at that index is left untouched. Once every index has
// been visited it returns (NumBuckets, false).
func (h *NonceHistory) AddNonceBucket() (index uint32, created bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.nextKey >= h.numBuckets {
		return h.numBuckets, false
	}

	index = h.nextKey
	h.nextKey++
	if _, exists := h.buckets[index]; exists {
		return index, false
	}

	h.buckets[index] = shard.NewBucket(index)
	return index, true
}

// CheckAndInsertNonce is the authoritative admission decision.
//
// It returns true and records (sender, nonce) if the pair is not present in
// either live generation of its bucket; otherwise it returns false, meaning
// the transaction is a replay. Stale generations in the bucket are wiped
// before the lookup.
func (h *NonceHistory) CheckAndInsertNonce(sender txn.Address, nonce, expiration uint64) bool {
	key := txn.NewNonceKey(sender, nonce)
	idx := txn.ShardIndex(key, h.numBuckets)
	b := h.getOrCreateBucket(idx)

	accepted, wiped := b.CheckAndInsert(key, expiration, h.clock.Now(), h.policy)
	if wiped > 0 {
		h.logger.Debug("wiped stale generations",
			zap.Uint32("bucket", idx),
			zap.Int("generations", wiped))
	}
	return accepted
}

// CheckNonce is the read-only pre-filter.
//
// It returns false if (sender, nonce) is present in either generation of its
// bucket and true otherwise. It never wipes and never creates a bucket.
// The expiration is accepted for symmetry with CheckAndInsertNonce; presence
// is checked in both generations regardless of it.
func (h *NonceHistory) CheckNonce(sender txn.Address, nonce, expiration uint64) bool {
	key := txn.NewNonceKey(sender, nonce)

	h.mu.RLock()
	b := h.buckets[txn.ShardIndex(key, h.numBuckets)]
	h.mu.RUnlock()

	if b == nil {
		return true
	}
	return !b.Contains(key)
}

// Admit runs CheckAndInsertNonce on an envelope
func (h *NonceHistory) Admit(env txn.Envelope) bool {
	return h.CheckAndInsertNonce(env.Sender, env.Nonce, env.Expiration)
}

// Check runs CheckNonce on an envelope
func (h *NonceHistory) Check(env txn.Envelope) bool {
	return h.CheckNonce(env.Sender, env.Nonce, env.Expiration)
}

// getOrCreateBucket returns the bucket for idx, creating it on first touch
func (h *NonceHistory) getOrCreateBucket(idx uint32) *shard.Bucket {
	h.mu.RLock()
	b := h.buckets[idx]
	h.mu.RUnlock()
	if b != nil {
		return b
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	// Another writer may have created it between the two locks.
	if b = h.buckets[idx]; b == nil {
		b = shard.NewBucket(idx)
		h.buckets[idx] = b
	}
	return b
}

// NumBuckets returns the size of the shard space
func (h *NonceHistory) NumBuckets() uint32 {
	return h.numBuckets
}

// BucketInfo returns metadata about the bucket at idx, or nil if it does
// not exist.
func (h *NonceHistory) BucketInfo(idx uint32) *shard.BucketInfo {
	h.mu.RLock()
	b := h.buckets[idx]
	h.mu.RUnlock()
	if b == nil {
		return nil
	}
	info := b.Info()
	return &info
}

// Snapshot returns a deep copy of the whole history in canonical order.
//
// Each bucket is copied under its own lock, so a snapshot taken while
// writers are active is consistent per bucket but not across buckets.
func (h *NonceHistory) Snapshot() storage.Snapshot {
	h.mu.RLock()
	nextKey := h.nextKey
	buckets := make([]*shard.Bucket, 0, len(h.buckets))
	for _, b := range h.buckets {
		buckets = append(buckets, b)
	}
	h.mu.RUnlock()

	snap := storage.Snapshot{
		NextKey: nextKey,
		Buckets: make([]storage.BucketSnapshot, 0, len(buckets)),
	}
	for _, b := range buckets {
		snap.Buckets = append(snap.Buckets, b.Snapshot())
	}
	snap.SortBuckets()
	return snap
}

// Restore loads a snapshot into an empty history. It is meant to run once
// at start-up, before the history serves any decision.
func (h *NonceHistory) Restore(snap storage.Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.buckets) > 0 {
		return ErrNotEmpty
	}

	restored := make(map[uint32]*shard.Bucket, len(snap.Buckets))
	for _, bs := range snap.Buckets {
		if bs.Index >= h.numBuckets {
			return fmt.Errorf("restore: bucket %d outside shard space of %d", bs.Index, h.numBuckets)
		}
		if _, dup := restored[bs.Index]; dup {
			return fmt.Errorf("restore: bucket %d appears twice", bs.Index)
		}
		b := shard.RestoreBucket(bs)
		for g, gen := range bs.Generations {
			for _, e := range gen.Entries {
				if !b.OwnsKey(e.Key, h.numBuckets) {
					return fmt.Errorf("restore: key %s/%d in generation %d does not hash to bucket %d",
						e.Key.Sender.Hex(), e.Key.Nonce, g, bs.Index)
				}
			}
		}
		restored[bs.Index] = b
	}

	for idx, b := range restored {
		h.buckets[idx] = b
	}
	h.nextKey = min(snap.NextKey, h.numBuckets)

	h.logger.Info("nonce history restored",
		zap.Int("buckets", len(snap.Buckets)),
		zap.Int("keys", snap.Keys()),
		zap.Uint32("next_key", h.nextKey))
	return nil
}

// Stats summarizes the history
type Stats struct {
	Buckets    int    `json:"buckets"`
	Keys       int    `json:"keys"`
	NextKey    uint32 `json:"next_key"`
	NumBuckets uint32 `json:"num_buckets"`
	Accepted   uint64 `json:"accepted"`
	Duplicates uint64 `json:"duplicates"`
	CrossHits  uint64 `json:"cross_hits"`
	Wipes      uint64 `json:"wipes"`
}

// Stats aggregates bucket statistics. O(n) in the number of buckets.
func (h *NonceHistory) Stats() Stats {
	h.mu.RLock()
	buckets := make([]*shard.Bucket, 0, len(h.buckets))
	for _, b := range h.buckets {
		buckets = append(buckets, b)
	}
	out := Stats{
		Buckets:    len(h.buckets),
		NextKey:    h.nextKey,
		NumBuckets: h.numBuckets,
	}
	h.mu.RUnlock()

	for _, b := range buckets {
		s := b.GetStats()
		out.Keys += b.Len()
		out.Accepted += s.Accepted
		out.Duplicates += s.Duplicates
		out.CrossHits += s.CrossHits
		out.Wipes += s.Wipes
	}
	return out
}
