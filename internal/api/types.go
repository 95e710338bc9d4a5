// Package api defines the JSON wire types of the nonce guard service and a
// typed client for it.
package api

import (
	"errors"
	"fmt"

	"github.com/dreamware/orderless/internal/txn"
)

// ErrMissingSender is returned for requests without a sender
var ErrMissingSender = errors.New("sender is required")

// NonceRequest carries the replay-relevant fields of one transaction.
// Sender is a hex address.
type NonceRequest struct {
	Sender     string `json:"sender"`
	Nonce      uint64 `json:"nonce"`
	Expiration uint64 `json:"expiration"`
}

// NewNonceRequest builds a request from an envelope
func NewNonceRequest(env txn.Envelope) NonceRequest {
	return NonceRequest{
		Sender:     env.Sender.Hex(),
		Nonce:      env.Nonce,
		Expiration: env.Expiration,
	}
}

// Envelope validates the request and converts it
func (r NonceRequest) Envelope() (txn.Envelope, error) {
	if r.Sender == "" {
		return txn.Envelope{}, ErrMissingSender
	}
	sender, err := txn.ParseSender(r.Sender)
	if err != nil {
		return txn.Envelope{}, err
	}
	return txn.Envelope{Sender: sender, Nonce: r.Nonce, Expiration: r.Expiration}, nil
}

// DecisionResponse is the answer to /admit and /check.
// Accepted false means replay (admit) or already seen (check).
type DecisionResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Accepted  bool   `json:"accepted"`
}

// ProvisionResponse is the answer to /buckets
type ProvisionResponse struct {
	Index   uint32 `json:"index"`
	Created bool   `json:"created"`
}

// StatsResponse is the answer to /stats
type StatsResponse struct {
	Buckets    int    `json:"buckets"`
	Keys       int    `json:"keys"`
	NextKey    uint32 `json:"next_key"`
	NumBuckets uint32 `json:"num_buckets"`
	Accepted   uint64 `json:"accepted"`
	Duplicates uint64 `json:"duplicates"`
	CrossHits  uint64 `json:"cross_hits"`
	Wipes      uint64 `json:"wipes"`
}

// StatusError is returned by the client for non-2xx responses
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %s: %d", e.URL, e.Code)
}
