package txn

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

// TestGenerationIndex checks the expiration epoch quantization.
func TestGenerationIndex(t *testing.T) {
	tests := []struct {
		name       string
		expiration uint64
		window     uint64
		want       int
	}{
		{name: "zero", expiration: 0, window: DefaultWindow, want: 0},
		{name: "end of first epoch", expiration: 74, window: DefaultWindow, want: 0},
		{name: "start of second epoch", expiration: 75, window: DefaultWindow, want: 1},
		{name: "100 is odd epoch", expiration: 100, window: DefaultWindow, want: 1},
		{name: "175 is even epoch", expiration: 175, window: DefaultWindow, want: 0},
		{name: "1000 is odd epoch", expiration: 1000, window: DefaultWindow, want: 1},
		{name: "1075 is even epoch", expiration: 1075, window: DefaultWindow, want: 0},
		{name: "zero window", expiration: 1000, window: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GenerationIndex(tt.expiration, tt.window))
		})
	}
}

// TestShardIndex verifies the sharding function is deterministic and bounded.
func TestShardIndex(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		k := NewNonceKey(alice, 7)
		assert.Equal(t, ShardIndex(k, DefaultNumBuckets), ShardIndex(k, DefaultNumBuckets))
	})

	t.Run("within range", func(t *testing.T) {
		for nonce := uint64(0); nonce < 1000; nonce++ {
			idx := ShardIndex(NewNonceKey(bob, nonce), 16)
			assert.Less(t, idx, uint32(16))
		}
	})

	t.Run("spreads keys", func(t *testing.T) {
		seen := make(map[uint32]bool)
		for nonce := uint64(0); nonce < 1000; nonce++ {
			seen[ShardIndex(NewNonceKey(alice, nonce), 64)] = true
		}
		// 1000 keys over 64 shards should touch nearly all of them
		assert.Greater(t, len(seen), 48)
	})

	t.Run("zero buckets", func(t *testing.T) {
		assert.Equal(t, uint32(0), ShardIndex(NewNonceKey(alice, 1), 0))
	})
}

// TestCompare checks lexicographic ordering on (sender, nonce).
func TestCompare(t *testing.T) {
	assert.Equal(t, 0, Compare(NewNonceKey(alice, 1), NewNonceKey(alice, 1)))
	assert.Equal(t, -1, Compare(NewNonceKey(alice, 1), NewNonceKey(alice, 2)))
	assert.Equal(t, 1, Compare(NewNonceKey(alice, 2), NewNonceKey(alice, 1)))
	// sender dominates nonce
	assert.Equal(t, -1, Compare(NewNonceKey(alice, 99), NewNonceKey(bob, 0)))
	assert.Equal(t, 1, Compare(NewNonceKey(bob, 0), NewNonceKey(alice, 99)))
}

func TestParseSender(t *testing.T) {
	addr, err := ParseSender("0x00000000000000000000000000000000000000a1")
	require.NoError(t, err)
	assert.Equal(t, alice, addr)

	_, err = ParseSender("not-an-address")
	assert.ErrorIs(t, err, ErrInvalidSender)

	_, err = ParseSender("0x1234")
	assert.ErrorIs(t, err, ErrInvalidSender)
}

func TestEnvelopeKey(t *testing.T) {
	env := Envelope{Sender: bob, Nonce: 42, Expiration: 1000}
	assert.Equal(t, NonceKey{Sender: bob, Nonce: 42}, env.Key())
	assert.Contains(t, env.String(), "/42@1000")
}
