package txn

import (
	"cmp"
	"encoding/binary"

	"github.com/dchest/siphash"
	"github.com/ethereum/go-ethereum/common"
)

// Address identifies the sender of an orderless transaction.
type Address = common.Address

const (
	// DefaultNumBuckets is the size of the shard space keys are hashed into.
	DefaultNumBuckets = 50_000

	// DefaultWindow is the width, in seconds, of one expiration epoch.
	// Consecutive epochs alternate between the two generations of a bucket.
	DefaultWindow = 75

	// DefaultMaxStale is how long, in seconds, a generation may go without a
	// write before the next write to its bucket wipes it. Never above DefaultWindow.
	DefaultMaxStale = 65
)

// SipHash keys are fixed so shard placement is stable across restarts and
// checkpoints taken by one process can be restored by another.
const (
	sipKey0 uint64 = 0x6f726465726c6573
	sipKey1 uint64 = 0x6e6f6e63655f6b65
)

// NonceKey is the (sender, nonce) pair replay protection is keyed on.
// It is a plain comparable value and is used directly as a map key.
type NonceKey struct {
	Sender Address `json:"sender"`
	Nonce  uint64  `json:"nonce"`
}

// NewNonceKey builds the key for a sender and nonce.
func NewNonceKey(sender Address, nonce uint64) NonceKey {
	return NonceKey{Sender: sender, Nonce: nonce}
}

// Compare orders keys lexicographically on (sender bytes, nonce).
func Compare(a, b NonceKey) int {
	if c := a.Sender.Cmp(b.Sender); c != 0 {
		return c
	}
	return cmp.Compare(a.Nonce, b.Nonce)
}

// bytes returns the canonical 28-byte encoding hashed by ShardIndex.
func (k NonceKey) bytes() []byte {
	var buf [common.AddressLength + 8]byte
	copy(buf[:common.AddressLength], k.Sender[:])
	binary.BigEndian.PutUint64(buf[common.AddressLength:], k.Nonce)
	return buf[:]
}

// ShardIndex maps a key into [0, numBuckets) with keyed SipHash-2-4.
// Distinct keys may share an index; they still occupy distinct map entries.
func ShardIndex(key NonceKey, numBuckets uint32) uint32 {
	if numBuckets == 0 {
		return 0
	}
	return uint32(siphash.Hash(sipKey0, sipKey1, key.bytes()) % uint64(numBuckets))
}

// GenerationIndex selects which of the two generations a record with the
// given expiration belongs to: (expiration / window) mod 2.
func GenerationIndex(expiration, window uint64) int {
	if window == 0 {
		return 0
	}
	return int((expiration / window) % 2)
}
