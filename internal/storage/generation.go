package storage

import (
	"golang.org/x/exp/slices"

	"github.com/dreamware/orderless/internal/txn"
)

// Generation is one of the two rotating buffers of a bucket.
// It maps each recorded NonceKey to the expiration it was submitted with
// and remembers when it was last written.
//
// Generation is not safe for concurrent use. The owning bucket serializes
// every access under its own mutex so that GC, duplicate check and insert
// happen as one step.
type Generation struct {
	entries        map[txn.NonceKey]uint64 // key -> declared expiration
	lastStoredTime uint64                  // wall clock (s) of the last novel insert, 0 if never written
}

// NewGeneration creates an empty generation that has never been written
func NewGeneration() *Generation {
	return &Generation{
		entries: make(map[txn.NonceKey]uint64),
	}
}

// Contains reports whether key is recorded in this generation
func (g *Generation) Contains(key txn.NonceKey) bool {
	_, ok := g.entries[key]
	return ok
}

// Upsert records key with the given expiration.
// If the key was already present its previous expiration is returned with
// existed set, and the stored value is replaced.
func (g *Generation) Upsert(key txn.NonceKey, expiration uint64) (prev uint64, existed bool) {
	prev, existed = g.entries[key]
	g.entries[key] = expiration
	return prev, existed
}

// Len returns the number of recorded keys
func (g *Generation) Len() int {
	return len(g.entries)
}

// LastStoredTime returns the time of the most recent novel insert
func (g *Generation) LastStoredTime() uint64 {
	return g.lastStoredTime
}

// Touch sets the last stored time
func (g *Generation) Touch(now uint64) {
	g.lastStoredTime = now
}

// IsStale reports whether a non-empty generation has gone more than
// maxStale seconds without a write as of now.
func (g *Generation) IsStale(now, maxStale uint64) bool {
	return len(g.entries) > 0 && now > g.lastStoredTime+maxStale
}

// Wipe drops every entry by swapping in a fresh map.
// The old map is left to the garbage collector; no per-key deletion happens.
func (g *Generation) Wipe() {
	g.entries = make(map[txn.NonceKey]uint64)
}

// Snapshot returns a deep copy of the generation with entries sorted by key
func (g *Generation) Snapshot() GenerationSnapshot {
	entries := make([]Entry, 0, len(g.entries))
	for key, exp := range g.entries {
		entries = append(entries, Entry{Key: key, Expiration: exp})
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return txn.Compare(a.Key, b.Key)
	})

	return GenerationSnapshot{
		LastStoredTime: g.lastStoredTime,
		Entries:        entries,
	}
}

// RestoreGeneration rebuilds a generation from a snapshot
func RestoreGeneration(snap GenerationSnapshot) *Generation {
	g := &Generation{
		entries:        make(map[txn.NonceKey]uint64, len(snap.Entries)),
		lastStoredTime: snap.LastStoredTime,
	}
	for _, e := range snap.Entries {
		g.entries[e.Key] = e.Expiration
	}
	return g
}
