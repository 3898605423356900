package enrichment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/meridian/voter-gateway/internal/domain"
	"github.com/meridian/voter-gateway/internal/pkg/logger"
)

// defaultMinLikelihood is the provider match threshold when the caller
// doesn't set one. Range is [1,10].
const defaultMinLikelihood = 5

// OutcomeStatus classifies what happened to one person in an enrichment
// request. Everything here is a result, never an error: the agent relays
// budget and match outcomes to the user as ordinary content.
type OutcomeStatus string

const (
	StatusEnriched             OutcomeStatus = "enriched"
	StatusAlreadyEnriched      OutcomeStatus = "already_enriched"
	StatusNoMatch              OutcomeStatus = "no_match"
	StatusBudgetExceeded       OutcomeStatus = "budget_exceeded"
	StatusConfirmationRequired OutcomeStatus = "confirmation_required"
	StatusFailed               OutcomeStatus = "failed"
)

// Outcome is the per-person result of an enrichment request.
type Outcome struct {
	PersonID string                   `json:"person_id"`
	Status   OutcomeStatus            `json:"status"`
	Record   *domain.EnrichmentRecord `json:"record,omitempty"`
	Cost     float64                  `json:"cost"`
	Detail   string                   `json:"detail,omitempty"`
}

// Summary aggregates a batch result.
type Summary struct {
	Requested            int     `json:"requested"`
	Enriched             int     `json:"enriched"`
	AlreadyEnriched      int     `json:"already_enriched"`
	NoMatch              int     `json:"no_match"`
	BudgetExceeded       int     `json:"budget_exceeded"`
	ConfirmationRequired int     `json:"confirmation_required"`
	Failed               int     `json:"failed"`
	Cost                 float64 `json:"cost"`
	EstimatedCost        float64 `json:"estimated_cost,omitempty"`
}

// Options tunes one enrichment request.
type Options struct {
	// Force re-enriches even when a fresh record exists, and doubles as
	// spend confirmation above the session threshold.
	Force bool
	// SkipExisting treats fresh records as satisfied (the default path).
	SkipExisting bool
	// MinLikelihood is the provider match threshold in [1,10]; zero means
	// the default of 5.
	MinLikelihood float64
}

// DefaultOptions returns the standard request behavior.
func DefaultOptions() Options {
	return Options{SkipExisting: true}
}

// Provider is the external enrichment API surface the coordinator needs.
type Provider interface {
	Enrich(ctx context.Context, q PersonQuery) (*domain.EnrichmentRecord, error)
	EnrichBulk(ctx context.Context, qs []PersonQuery) (map[string]*domain.EnrichmentRecord, error)
}

// PersonFetcher resolves warehouse identity fields for person ids.
type PersonFetcher interface {
	Fetch(ctx context.Context, personIDs []string) ([]PersonQuery, error)
}

// Coordinator governs enrichment spend and staleness.
type Coordinator struct {
	provider  Provider
	repo      Repository
	ledger    *Ledger
	fetcher   PersonFetcher
	price     float64
	threshold float64
	staleness time.Duration
	now       func() time.Time

	mu           sync.Mutex
	sessionSpend map[string]float64
}

// NewCoordinator wires the coordinator. price is the provider's
// per-matched-record cost; threshold is the per-session spend above which
// the caller must retry with force; staleness is the freshness window.
func NewCoordinator(provider Provider, repo Repository, ledger *Ledger, fetcher PersonFetcher, price, threshold float64, staleness time.Duration) *Coordinator {
	if staleness <= 0 {
		staleness = 180 * 24 * time.Hour
	}
	return &Coordinator{
		provider:     provider,
		repo:         repo,
		ledger:       ledger,
		fetcher:      fetcher,
		price:        price,
		threshold:    threshold,
		staleness:    staleness,
		now:          time.Now,
		sessionSpend: make(map[string]float64),
	}
}

// Get returns the latest stored record for a person.
func (c *Coordinator) Get(ctx context.Context, personID string) (*domain.EnrichmentRecord, error) {
	return c.repo.Latest(ctx, personID)
}

// SessionSpent returns the cumulative spend recorded for a session.
func (c *Coordinator) SessionSpent(sessionID string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionSpend[sessionID]
}

// EnrichOne enriches a single person. See EnrichBatch for semantics.
func (c *Coordinator) EnrichOne(ctx context.Context, sessionID, personID string, opts Options) (Outcome, error) {
	outcomes, _, err := c.EnrichBatch(ctx, sessionID, []string{personID}, opts)
	if err != nil {
		return Outcome{}, err
	}
	if len(outcomes) == 0 {
		return Outcome{PersonID: personID, Status: StatusFailed, Detail: "empty person id"}, nil
	}
	return outcomes[0], nil
}

// EnrichBatch enriches a set of persons. Inputs over the 100-person
// provider ceiling are rejected outright with ErrBulkTooLarge: the caller
// splits. Fresh records short-circuit as already_enriched unless Force; a
// projected spend over the session threshold returns confirmation_required
// without touching the provider; a request that would blow the shared
// daily budget is refused whole, with no provider call.
func (c *Coordinator) EnrichBatch(ctx context.Context, sessionID string, personIDs []string, opts Options) ([]Outcome, Summary, error) {
	ids := dedupe(personIDs)
	summary := Summary{Requested: len(ids)}
	if len(ids) > bulkMax {
		return nil, summary, ErrBulkTooLarge
	}
	if opts.MinLikelihood <= 0 {
		opts.MinLikelihood = defaultMinLikelihood
	}

	outcomes := make([]Outcome, 0, len(ids))
	needed := ids
	if opts.SkipExisting && !opts.Force {
		existing, err := c.repo.LatestBatch(ctx, ids)
		if err != nil {
			return nil, summary, err
		}
		needed = needed[:0:0]
		for _, id := range ids {
			if rec, ok := existing[id]; ok && rec.Fresh(c.staleness, c.now()) {
				outcomes = append(outcomes, Outcome{PersonID: id, Status: StatusAlreadyEnriched, Record: rec})
				summary.AlreadyEnriched++
				continue
			}
			needed = append(needed, id)
		}
	}
	if len(needed) == 0 {
		return outcomes, summary, nil
	}

	projected := c.price * float64(len(needed))

	if c.threshold > 0 && !opts.Force {
		c.mu.Lock()
		over := c.sessionSpend[sessionID]+projected > c.threshold
		c.mu.Unlock()
		if over {
			summary.EstimatedCost = projected
			detail := fmt.Sprintf("projected spend $%.2f exceeds the session threshold; retry with force=true to proceed", projected)
			for _, id := range needed {
				outcomes = append(outcomes, Outcome{PersonID: id, Status: StatusConfirmationRequired, Detail: detail})
				summary.ConfirmationRequired++
			}
			return outcomes, summary, nil
		}
	}

	// Daily ceiling: an over-budget request is refused whole.
	remaining, err := c.ledger.Remaining(ctx)
	if err != nil {
		return nil, summary, err
	}
	if projected > remaining {
		for _, id := range needed {
			outcomes = append(outcomes, Outcome{
				PersonID: id,
				Status:   StatusBudgetExceeded,
				Detail:   "daily enrichment budget exhausted",
			})
			summary.BudgetExceeded++
		}
		return outcomes, summary, nil
	}
	ok, err := c.ledger.Reserve(ctx, projected)
	if err != nil {
		return nil, summary, err
	}
	if !ok {
		// Raced another process past the budget.
		for _, id := range needed {
			outcomes = append(outcomes, Outcome{
				PersonID: id,
				Status:   StatusBudgetExceeded,
				Detail:   "daily enrichment budget exhausted",
			})
			summary.BudgetExceeded++
		}
		return outcomes, summary, nil
	}

	chunkOutcomes, spent := c.enrichChunk(ctx, needed, opts.MinLikelihood)
	outcomes = append(outcomes, chunkOutcomes...)
	for _, o := range chunkOutcomes {
		switch o.Status {
		case StatusEnriched:
			summary.Enriched++
		case StatusNoMatch:
			summary.NoMatch++
		case StatusFailed:
			summary.Failed++
		}
	}
	summary.Cost = spent

	// Only matches bill; refund the rest of the reservation.
	if refund := projected - spent; refund > 0 {
		if err := c.ledger.Release(ctx, refund); err != nil {
			logger.Warn("budget refund failed", "amount", refund, "error", err.Error())
		}
	}

	if spent > 0 {
		c.mu.Lock()
		c.sessionSpend[sessionID] += spent
		c.mu.Unlock()
	}
	logger.Info("enrichment batch complete",
		"session_id", sessionID,
		"requested", summary.Requested,
		"enriched", summary.Enriched,
		"already_enriched", summary.AlreadyEnriched,
		"no_match", summary.NoMatch,
		"cost", summary.Cost)
	return outcomes, summary, nil
}

// enrichChunk calls the provider for one reserved set and returns the
// outcomes plus the billable spend.
func (c *Coordinator) enrichChunk(ctx context.Context, ids []string, minLikelihood float64) ([]Outcome, float64) {
	queries, err := c.fetcher.Fetch(ctx, ids)
	if err != nil {
		out := make([]Outcome, 0, len(ids))
		for _, id := range ids {
			out = append(out, Outcome{PersonID: id, Status: StatusFailed, Detail: err.Error()})
		}
		return out, 0
	}
	byID := make(map[string]PersonQuery, len(queries))
	for _, q := range queries {
		byID[q.PersonID] = q
	}

	toSend := make([]PersonQuery, 0, len(ids))
	var outcomes []Outcome
	for _, id := range ids {
		q, ok := byID[id]
		if !ok {
			outcomes = append(outcomes, Outcome{PersonID: id, Status: StatusFailed, Detail: "person not found in warehouse"})
			continue
		}
		q.MinLikelihood = minLikelihood
		toSend = append(toSend, q)
	}

	matched, err := c.dispatch(ctx, toSend)
	if err != nil {
		for _, q := range toSend {
			outcomes = append(outcomes, Outcome{PersonID: q.PersonID, Status: StatusFailed, Detail: err.Error()})
		}
		return outcomes, 0
	}

	var spent float64
	for _, q := range toSend {
		rec, ok := matched[q.PersonID]
		if !ok {
			outcomes = append(outcomes, Outcome{
				PersonID: q.PersonID,
				Status:   StatusNoMatch,
				Detail:   fmt.Sprintf("no match at likelihood >= %.0f; a lower min_likelihood may match", minLikelihood),
			})
			continue
		}
		if err := c.repo.Save(ctx, rec); err != nil {
			outcomes = append(outcomes, Outcome{PersonID: q.PersonID, Status: StatusFailed, Detail: err.Error()})
			continue
		}
		outcomes = append(outcomes, Outcome{PersonID: q.PersonID, Status: StatusEnriched, Record: rec, Cost: c.price})
		spent += c.price
	}
	return outcomes, spent
}

// dispatch routes a single person through the per-person endpoint and
// everything else through the bulk endpoint; the provider prices and
// rate-limits the two differently.
func (c *Coordinator) dispatch(ctx context.Context, toSend []PersonQuery) (map[string]*domain.EnrichmentRecord, error) {
	if len(toSend) == 1 {
		rec, err := c.provider.Enrich(ctx, toSend[0])
		if err != nil {
			return nil, err
		}
		matched := make(map[string]*domain.EnrichmentRecord, 1)
		if rec != nil {
			matched[toSend[0].PersonID] = rec
		}
		return matched, nil
	}
	return c.provider.EnrichBulk(ctx, toSend)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
