// Package entropy draws run seeds from random.org, falling back to
// crypto/rand when the API is unavailable or unconfigured.
package entropy

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const defaultEndpoint = "https://api.random.org/json-rpc/4/invoke"

// Client requests random integers from random.org.
type Client struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the JSON-RPC endpoint.
func WithEndpoint(u string) Option { return func(c *Client) { c.endpoint = u } }

// NewClient creates a random.org client. Returns nil if apiKey is empty.
func NewClient(apiKey string, opts ...Option) *Client {
	if apiKey == "" {
		return nil
	}
	c := &Client{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Enabled reports whether the client will call the API.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Seed returns a nonzero seed. A nil client or a failed request falls back
// to crypto/rand.
func (c *Client) Seed(ctx context.Context) int64 {
	if c.Enabled() {
		seed, err := c.fetch(ctx)
		if err == nil && seed != 0 {
			return seed
		}
		slog.Warn("random.org seed unavailable, using crypto/rand", "error", err)
	}
	return CryptoSeed()
}

// fetch combines two 31-bit integers into one 62-bit seed.
func (c *Client) fetch(ctx context.Context) (int64, error) {
	req := map[string]any{
		"jsonrpc": "2.0",
		"method":  "generateIntegers",
		"params": map[string]any{
			"apiKey": c.apiKey,
			"n":      2,
			"min":    0,
			"max":    1<<31 - 1,
		},
		"id": 1,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("random.org request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("random.org returned %d", resp.StatusCode)
	}

	var result struct {
		Result struct {
			Random struct {
				Data []int64 `json:"data"`
			} `json:"random"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("random.org decode: %w", err)
	}
	if result.Error != nil {
		return 0, fmt.Errorf("random.org: %s", result.Error.Message)
	}
	data := result.Result.Random.Data
	if len(data) < 2 {
		return 0, fmt.Errorf("random.org returned %d integers", len(data))
	}
	return data[0]<<31 | data[1], nil
}

// CryptoSeed returns a nonzero positive seed from crypto/rand.
func CryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return time.Now().UnixNano() | 1
	}
	seed := int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
	if seed == 0 {
		return 1
	}
	return seed
}
