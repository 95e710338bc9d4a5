package txn

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidSender is returned when a sender string is not a 20-byte hex address.
var ErrInvalidSender = errors.New("invalid sender address")

// Envelope carries the replay-relevant fields of an already parsed and
// signature-checked orderless transaction.
type Envelope struct {
	Sender     Address
	Nonce      uint64
	Expiration uint64 // seconds since epoch
}

// Key returns the (sender, nonce) pair of the envelope.
func (e Envelope) Key() NonceKey {
	return NonceKey{Sender: e.Sender, Nonce: e.Nonce}
}

func (e Envelope) String() string {
	return fmt.Sprintf("%s/%d@%d", e.Sender.Hex(), e.Nonce, e.Expiration)
}

// ParseSender decodes a 0x-prefixed (or bare) hex address.
func ParseSender(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidSender, s)
	}
	return common.HexToAddress(s), nil
}
