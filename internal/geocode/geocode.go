// Package geocode resolves street addresses to coordinates for radius
// queries. Provider failures degrade to the New Jersey centroid rather
// than failing the turn; callers see Approximate=true and say so.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/meridian/voter-gateway/internal/pkg/httpretry"
	"github.com/meridian/voter-gateway/internal/pkg/logger"
	"github.com/meridian/voter-gateway/internal/pkg/ratelimit"
)

// njCentroid is the fallback point when the provider cannot resolve an
// address.
var njCentroid = Point{Latitude: 40.0583, Longitude: -74.4057}

const providerName = "geocode"

// Point is a resolved coordinate. Approximate marks centroid fallbacks.
type Point struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Approximate bool    `json:"approximate"`
	MatchedText string  `json:"matched_text,omitempty"`
}

// Client geocodes through an HTTP provider.
type Client struct {
	baseURL string
	apiKey  func(ctx context.Context) (string, error)
	http    httpretry.HTTPDoer
	limits  *ratelimit.Registry
	timeout time.Duration
}

// NewClient wires a geocoding client.
func NewClient(baseURL string, apiKey func(ctx context.Context) (string, error), doer httpretry.HTTPDoer, limits *ratelimit.Registry, timeout time.Duration) *Client {
	if doer == nil {
		doer = httpretry.NewRetryClient(nil, 3)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, apiKey: apiKey, http: doer, limits: limits, timeout: timeout}
}

type geocodeResponse struct {
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
	Status string `json:"status"`
}

// Geocode resolves one address. It never returns a resolution failure:
// unresolvable addresses come back as the NJ centroid with Approximate set,
// and only transport-level problems surface as errors.
func (c *Client) Geocode(ctx context.Context, address string) (Point, error) {
	if c.limits != nil {
		if err := c.limits.Wait(ctx, providerName); err != nil {
			return Point{}, err
		}
	}

	key, err := c.apiKey(ctx)
	if err != nil {
		return Point{}, fmt.Errorf("resolving geocode key: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("address", address)
	q.Set("key", key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/maps/api/geocode/json?"+q.Encode(), nil)
	if err != nil {
		return Point{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Point{}, fmt.Errorf("calling geocode provider: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Point{}, fmt.Errorf("reading geocode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		logger.Warn("geocode provider degraded", "status", resp.StatusCode)
		return fallback(address), nil
	}

	var parsed geocodeResponse
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Results) == 0 {
		return fallback(address), nil
	}

	r := parsed.Results[0]
	return Point{
		Latitude:    r.Geometry.Location.Lat,
		Longitude:   r.Geometry.Location.Lng,
		MatchedText: r.FormattedAddress,
	}, nil
}

func fallback(address string) Point {
	logger.Info("geocode fallback to state centroid", "address", address)
	p := njCentroid
	p.Approximate = true
	return p
}
