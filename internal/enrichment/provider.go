package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meridian/voter-gateway/internal/domain"
	"github.com/meridian/voter-gateway/internal/pkg/httpretry"
	"github.com/meridian/voter-gateway/internal/pkg/logger"
	"github.com/meridian/voter-gateway/internal/pkg/ratelimit"
)

// bulkMax is the provider's per-request ceiling on bulk enrichment.
const bulkMax = 100

// providerName keys the shared rate limiter.
const providerName = "enrichment"

// PersonQuery carries the identity fields sent to the provider for
// matching. PersonID is ours and is echoed back through request metadata.
type PersonQuery struct {
	PersonID      string  `json:"-"`
	FirstName     string  `json:"first_name,omitempty"`
	LastName      string  `json:"last_name,omitempty"`
	City          string  `json:"locality,omitempty"`
	State         string  `json:"region,omitempty"`
	ZipCode       string  `json:"postal_code,omitempty"`
	Email         string  `json:"email,omitempty"`
	MinLikelihood float64 `json:"min_likelihood,omitempty"`
}

// Client talks to the enrichment provider over its v5 HTTP API.
type Client struct {
	baseURL string
	apiKey  func(ctx context.Context) (string, error)
	http    httpretry.HTTPDoer
	limits  *ratelimit.Registry
	timeout time.Duration
}

// NewClient wires a provider client. apiKey is resolved per call so secret
// rotation takes effect without a restart.
func NewClient(baseURL string, apiKey func(ctx context.Context) (string, error), doer httpretry.HTTPDoer, limits *ratelimit.Registry, timeout time.Duration) *Client {
	if doer == nil {
		doer = httpretry.NewRetryClient(nil, 3)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{baseURL: baseURL, apiKey: apiKey, http: doer, limits: limits, timeout: timeout}
}

type providerPayload struct {
	Likelihood float64         `json:"likelihood"`
	Data       json.RawMessage `json:"data"`
}

type providerData struct {
	ID          string `json:"id"`
	LinkedInURL string `json:"linkedin_url"`
	JobTitle    string `json:"job_title"`
	JobCompany  string `json:"job_company_name"`
	Emails      []struct {
		Address string `json:"address"`
	} `json:"emails"`
	PhoneNumbers []string `json:"phone_numbers"`
	Education    []struct {
		SchoolName string `json:"school_name"`
	} `json:"education"`
}

// Enrich looks up one person. A provider miss returns (nil, nil): no match
// is a normal outcome, not an error.
func (c *Client) Enrich(ctx context.Context, q PersonQuery) (*domain.EnrichmentRecord, error) {
	if c.limits != nil {
		if err := c.limits.Wait(ctx, providerName); err != nil {
			return nil, err
		}
	}

	status, body, err := c.post(ctx, "/v5/person/enrich", q)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, ErrProviderAuth
	case status != http.StatusOK:
		return nil, fmt.Errorf("enrichment provider status %d: %s", status, truncateBody(body))
	}

	var payload providerPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding provider response: %w", err)
	}
	return recordFromPayload(q.PersonID, payload, time.Now().UTC()), nil
}

type bulkRequest struct {
	Requests []bulkEntry `json:"requests"`
}

type bulkEntry struct {
	Metadata map[string]string `json:"metadata"`
	Params   PersonQuery       `json:"params"`
}

type bulkResponseEntry struct {
	Status     int               `json:"status"`
	Likelihood float64           `json:"likelihood"`
	Data       json.RawMessage   `json:"data"`
	Metadata   map[string]string `json:"metadata"`
}

// EnrichBulk looks up at most 100 persons in one call. The returned map is
// keyed by person id; persons without a match are absent from the map.
func (c *Client) EnrichBulk(ctx context.Context, qs []PersonQuery) (map[string]*domain.EnrichmentRecord, error) {
	if len(qs) > bulkMax {
		return nil, ErrBulkTooLarge
	}
	if len(qs) == 0 {
		return map[string]*domain.EnrichmentRecord{}, nil
	}
	if c.limits != nil {
		if err := c.limits.Wait(ctx, providerName); err != nil {
			return nil, err
		}
	}

	req := bulkRequest{Requests: make([]bulkEntry, 0, len(qs))}
	for _, q := range qs {
		req.Requests = append(req.Requests, bulkEntry{
			Metadata: map[string]string{"person_id": q.PersonID},
			Params:   q,
		})
	}

	status, body, err := c.post(ctx, "/v5/person/bulk", req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, ErrProviderAuth
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("enrichment provider status %d: %s", status, truncateBody(body))
	}

	var entries []bulkResponseEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decoding bulk response: %w", err)
	}

	now := time.Now().UTC()
	out := make(map[string]*domain.EnrichmentRecord, len(entries))
	for _, e := range entries {
		personID := e.Metadata["person_id"]
		if personID == "" || e.Status != http.StatusOK {
			continue
		}
		rec := recordFromPayload(personID, providerPayload{Likelihood: e.Likelihood, Data: e.Data}, now)
		if rec != nil {
			out[personID] = rec
		}
	}
	logger.Debug("bulk enrichment complete", "requested", len(qs), "matched", len(out))
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (int, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("encoding provider request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	key, err := c.apiKey(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("resolving provider key: %w", err)
	}
	req.Header.Set("X-Api-Key", key)
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("calling enrichment provider: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading provider response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// recordFromPayload maps a provider payload to a domain record. A zero
// likelihood is a miss and returns nil.
func recordFromPayload(personID string, payload providerPayload, now time.Time) *domain.EnrichmentRecord {
	if payload.Likelihood <= 0 {
		return nil
	}
	rec := &domain.EnrichmentRecord{
		PersonID:        personID,
		MatchLikelihood: payload.Likelihood,
		Payload:         payload.Data,
		EnrichedAt:      now,
	}

	var data providerData
	if err := json.Unmarshal(payload.Data, &data); err != nil {
		// Keep the opaque payload even if the shape drifted.
		return rec
	}
	rec.ProviderRecordID = data.ID
	if len(data.Emails) > 0 {
		rec.Email = data.Emails[0].Address
		rec.HasEmail = true
	}
	if len(data.PhoneNumbers) > 0 {
		rec.Phone = data.PhoneNumbers[0]
		rec.HasPhone = true
	}
	if data.LinkedInURL != "" {
		rec.LinkedIn = data.LinkedInURL
		rec.HasLinkedIn = true
	}
	if data.JobTitle != "" || data.JobCompany != "" {
		rec.JobTitle = data.JobTitle
		rec.JobCompany = data.JobCompany
		rec.HasJob = true
	}
	rec.HasEducation = len(data.Education) > 0
	return rec
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
