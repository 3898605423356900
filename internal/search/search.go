// Package search gives the agent a web lookup tool biased toward New
// Jersey civic and election sources.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/meridian/voter-gateway/internal/pkg/httpretry"
	"github.com/meridian/voter-gateway/internal/pkg/ratelimit"
)

const providerName = "websearch"

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Client queries an HTTP search API.
type Client struct {
	baseURL     string
	apiKey      func(ctx context.Context) (string, error)
	http        httpretry.HTTPDoer
	limits      *ratelimit.Registry
	biasDomains []string
	timeout     time.Duration
}

// NewClient wires a search client. biasDomains are appended as site hints
// so civic queries prefer official sources.
func NewClient(baseURL string, apiKey func(ctx context.Context) (string, error), doer httpretry.HTTPDoer, limits *ratelimit.Registry, biasDomains []string, timeout time.Duration) *Client {
	if doer == nil {
		doer = httpretry.NewRetryClient(nil, 3)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		http:        doer,
		limits:      limits,
		biasDomains: biasDomains,
		timeout:     timeout,
	}
}

type searchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search runs one query and returns up to count results.
func (c *Client) Search(ctx context.Context, query string, count int) ([]Result, error) {
	if count <= 0 || count > 20 {
		count = 5
	}
	if c.limits != nil {
		if err := c.limits.Wait(ctx, providerName); err != nil {
			return nil, err
		}
	}

	key, err := c.apiKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving search key: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("q", c.biased(query))
	q.Set("count", fmt.Sprintf("%d", count))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/res/v1/web/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Subscription-Token", key)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling search provider: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search provider status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
		if len(results) == count {
			break
		}
	}
	return results, nil
}

// biased appends preferred-site hints unless the query already pins a site.
func (c *Client) biased(query string) string {
	if len(c.biasDomains) == 0 || strings.Contains(query, "site:") {
		return query
	}
	hints := make([]string, 0, len(c.biasDomains))
	for _, d := range c.biasDomains {
		hints = append(hints, "site:"+d)
	}
	return query + " (" + strings.Join(hints, " OR ") + ")"
}
