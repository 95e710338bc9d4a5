package storage

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/orderless/internal/txn"
)

func openTestCheckpoint(t *testing.T) *SQLiteCheckpoint {
	t.Helper()
	cp, err := OpenSQLite(filepath.Join(t.TempDir(), "nonces.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cp.Close() })
	return cp
}

// TestSQLiteCheckpoint tests saving and loading snapshots
func TestSQLiteCheckpoint(t *testing.T) {
	ctx := context.Background()
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")

	t.Run("empty database loads empty snapshot", func(t *testing.T) {
		cp := openTestCheckpoint(t)

		snap, err := cp.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint32(0), snap.NextKey)
		assert.Empty(t, snap.Buckets)
	})

	t.Run("round trip", func(t *testing.T) {
		cp := openTestCheckpoint(t)

		want := Snapshot{
			NextKey: 3,
			Buckets: []BucketSnapshot{
				{
					Index: 1,
					Generations: [2]GenerationSnapshot{
						{LastStoredTime: 900, Entries: []Entry{
							{Key: key(1), Expiration: 1050},
						}},
						{LastStoredTime: 905, Entries: []Entry{
							{Key: key(7), Expiration: 1000},
							{Key: txn.NewNonceKey(other, 2), Expiration: 1010},
						}},
					},
				},
				{
					Index: 2,
					Generations: [2]GenerationSnapshot{
						{Entries: []Entry{}},
						{Entries: []Entry{}},
					},
				},
			},
		}

		require.NoError(t, cp.Save(ctx, want))
		got, err := cp.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, 3, got.Keys())
	})

	t.Run("save replaces previous snapshot", func(t *testing.T) {
		cp := openTestCheckpoint(t)

		first := Snapshot{NextKey: 1, Buckets: []BucketSnapshot{{
			Index: 0,
			Generations: [2]GenerationSnapshot{
				{LastStoredTime: 1, Entries: []Entry{{Key: key(1), Expiration: 10}}},
				{Entries: []Entry{}},
			},
		}}}
		second := Snapshot{NextKey: 2, Buckets: []BucketSnapshot{}}

		require.NoError(t, cp.Save(ctx, first))
		require.NoError(t, cp.Save(ctx, second))

		got, err := cp.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, second, got)
	})

	t.Run("full range uint64 values survive", func(t *testing.T) {
		cp := openTestCheckpoint(t)

		want := Snapshot{NextKey: 1, Buckets: []BucketSnapshot{{
			Index: 0,
			Generations: [2]GenerationSnapshot{
				{Entries: []Entry{}},
				{LastStoredTime: math.MaxUint64, Entries: []Entry{
					{Key: key(math.MaxUint64), Expiration: math.MaxUint64 - 1},
				}},
			},
		}}}

		require.NoError(t, cp.Save(ctx, want))
		got, err := cp.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}
