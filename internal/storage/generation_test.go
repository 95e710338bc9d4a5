package storage

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/orderless/internal/txn"
)

var sender = common.HexToAddress("0x1111111111111111111111111111111111111111")

func key(nonce uint64) txn.NonceKey {
	return txn.NewNonceKey(sender, nonce)
}

// TestGeneration tests the generation record map
func TestGeneration(t *testing.T) {
	t.Run("new generation is empty", func(t *testing.T) {
		g := NewGeneration()

		assert.Equal(t, 0, g.Len())
		assert.Equal(t, uint64(0), g.LastStoredTime())
		assert.False(t, g.Contains(key(1)))
		assert.Empty(t, g.Snapshot().Entries)
	})

	t.Run("upsert reports previous value", func(t *testing.T) {
		g := NewGeneration()

		_, existed := g.Upsert(key(1), 100)
		assert.False(t, existed)

		prev, existed := g.Upsert(key(1), 175)
		assert.True(t, existed)
		assert.Equal(t, uint64(100), prev)

		entries := g.Snapshot().Entries
		require.Len(t, entries, 1)
		assert.Equal(t, uint64(175), entries[0].Expiration)
		assert.Equal(t, 1, g.Len())
	})

	t.Run("upsert does not touch last stored time", func(t *testing.T) {
		g := NewGeneration()
		g.Upsert(key(1), 100)
		assert.Equal(t, uint64(0), g.LastStoredTime())

		g.Touch(900)
		assert.Equal(t, uint64(900), g.LastStoredTime())
	})

	t.Run("wipe drops all keys", func(t *testing.T) {
		g := NewGeneration()
		for i := uint64(0); i < 100; i++ {
			g.Upsert(key(i), 1000)
		}
		g.Touch(900)

		g.Wipe()

		assert.Equal(t, 0, g.Len())
		assert.False(t, g.Contains(key(5)))
		// last stored time is left as is
		assert.Equal(t, uint64(900), g.LastStoredTime())
	})
}

// TestGenerationIsStale checks the GC trigger
func TestGenerationIsStale(t *testing.T) {
	tests := []struct {
		name     string
		entries  int
		last     uint64
		now      uint64
		maxStale uint64
		want     bool
	}{
		{name: "empty is never stale", entries: 0, last: 0, now: 10_000, maxStale: 65, want: false},
		{name: "fresh", entries: 1, last: 900, now: 920, maxStale: 65, want: false},
		{name: "exactly at bound", entries: 1, last: 900, now: 965, maxStale: 65, want: false},
		{name: "past bound", entries: 1, last: 900, now: 966, maxStale: 65, want: true},
		{name: "never touched", entries: 3, last: 0, now: 66, maxStale: 65, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGeneration()
			for i := 0; i < tt.entries; i++ {
				g.Upsert(key(uint64(i)), 1000)
			}
			g.Touch(tt.last)
			assert.Equal(t, tt.want, g.IsStale(tt.now, tt.maxStale))
		})
	}
}

// TestGenerationSnapshot verifies snapshots are sorted deep copies
func TestGenerationSnapshot(t *testing.T) {
	g := NewGeneration()
	for _, n := range []uint64{9, 3, 7, 1} {
		g.Upsert(key(n), 1000+n)
	}
	g.Touch(42)

	snap := g.Snapshot()
	require.Len(t, snap.Entries, 4)
	assert.Equal(t, uint64(42), snap.LastStoredTime)
	for i, n := range []uint64{1, 3, 7, 9} {
		assert.Equal(t, key(n), snap.Entries[i].Key)
		assert.Equal(t, 1000+n, snap.Entries[i].Expiration)
	}

	// mutating the generation leaves the snapshot alone
	g.Wipe()
	assert.Len(t, snap.Entries, 4)

	restored := RestoreGeneration(snap)
	assert.Equal(t, 4, restored.Len())
	assert.Equal(t, uint64(42), restored.LastStoredTime())
	assert.Equal(t, snap, restored.Snapshot())
}
