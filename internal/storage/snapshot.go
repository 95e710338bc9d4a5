package storage

import (
	"cmp"

	"golang.org/x/exp/slices"

	"github.com/dreamware/orderless/internal/txn"
)

// Entry is one recorded (key, expiration) pair
type Entry struct {
	Key        txn.NonceKey `json:"key"`
	Expiration uint64       `json:"expiration"`
}

// GenerationSnapshot is a point-in-time copy of a Generation.
// Entries are sorted by txn.Compare.
type GenerationSnapshot struct {
	LastStoredTime uint64  `json:"last_stored_time"`
	Entries        []Entry `json:"entries"`
}

// BucketSnapshot is a point-in-time copy of one bucket
type BucketSnapshot struct {
	Index       uint32                `json:"index"`
	Generations [2]GenerationSnapshot `json:"generations"`
}

// Snapshot is a point-in-time copy of the whole nonce history.
// Buckets are sorted by index.
type Snapshot struct {
	NextKey uint32           `json:"next_key"`
	Buckets []BucketSnapshot `json:"buckets"`
}

// Keys returns the number of recorded keys across all buckets
func (s Snapshot) Keys() int {
	n := 0
	for _, b := range s.Buckets {
		n += len(b.Generations[0].Entries) + len(b.Generations[1].Entries)
	}
	return n
}

// SortBuckets orders buckets by index
func (s *Snapshot) SortBuckets() {
	slices.SortFunc(s.Buckets, func(a, b BucketSnapshot) int {
		return cmp.Compare(a.Index, b.Index)
	})
}

// normalize sorts buckets and entries into canonical order
func (s *Snapshot) normalize() {
	s.SortBuckets()
	for i := range s.Buckets {
		for g := range s.Buckets[i].Generations {
			slices.SortFunc(s.Buckets[i].Generations[g].Entries, func(a, b Entry) int {
				return txn.Compare(a.Key, b.Key)
			})
		}
	}
}
