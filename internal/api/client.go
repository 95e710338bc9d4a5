package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/dreamware/orderless/internal/txn"
)

// Client talks to a nonce guard service
type Client struct {
	httpClient *http.Client
	base       string
}

// NewClient creates a client for the service at base, e.g. "http://127.0.0.1:8090"
func NewClient(base string, timeout time.Duration) *Client {
	return &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Admit asks the service to record the envelope. False means replay.
func (c *Client) Admit(ctx context.Context, env txn.Envelope) (bool, error) {
	var out DecisionResponse
	if err := c.PostJSON(ctx, "/admit", NewNonceRequest(env), &out); err != nil {
		return false, err
	}
	return out.Accepted, nil
}

// Check asks whether the envelope is unseen, without recording it
func (c *Client) Check(ctx context.Context, env txn.Envelope) (bool, error) {
	var out DecisionResponse
	if err := c.PostJSON(ctx, "/check", NewNonceRequest(env), &out); err != nil {
		return false, err
	}
	return out.Accepted, nil
}

// Provision pre-creates the next sequential bucket
func (c *Client) Provision(ctx context.Context) (ProvisionResponse, error) {
	var out ProvisionResponse
	err := c.PostJSON(ctx, "/buckets", struct{}{}, &out)
	return out, err
}

// Stats fetches service statistics
func (c *Client) Stats(ctx context.Context) (StatsResponse, error) {
	var out StatsResponse
	err := c.GetJSON(ctx, "/stats", &out)
	return out, err
}

// PostJSON posts body to path and decodes the response into out, if non-nil
func (c *Client) PostJSON(ctx context.Context, path string, body any, out any) error {
	reqBody, err := sonnet.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// GetJSON fetches path and decodes the response into out
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &StatusError{URL: req.URL.String(), Code: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	return Decode(resp.Body, out)
}

// Decode reads a JSON document from r into v
func Decode(r io.Reader, v any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return sonnet.Unmarshal(data, v)
}

// Encode writes v to w as JSON
func Encode(w io.Writer, v any) error {
	data, err := sonnet.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
