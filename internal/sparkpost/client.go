// Package sparkpost is a minimal transmissions client for a
// SparkPost-compatible email provider: batched sends with per-recipient
// substitution data, plus the webhook event payload types.
package sparkpost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/meridian/voter-gateway/internal/pkg/httpretry"
)

// Client talks to the transmissions API.
type Client struct {
	baseURL    string
	apiKey     func(ctx context.Context) (string, error)
	httpClient httpretry.HTTPDoer
}

// NewClient builds a client. apiKey is resolved per call so rotated
// secrets take effect without a restart.
func NewClient(baseURL string, apiKey func(ctx context.Context) (string, error), doer httpretry.HTTPDoer) *Client {
	if doer == nil {
		doer = httpretry.NewRetryClient(http.DefaultClient, 3)
	}
	return &Client{baseURL: baseURL, apiKey: apiKey, httpClient: doer}
}

// Send submits one transmission and returns the provider's accounting.
func (c *Client) Send(ctx context.Context, tx Transmission) (*TransmissionResult, error) {
	payload, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("encoding transmission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/transmissions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	key, err := c.apiKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving api key: %w", err)
	}
	req.Header.Set("Authorization", key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result TransmissionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &result, nil
}
