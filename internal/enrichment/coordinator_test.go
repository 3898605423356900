package enrichment

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/voter-gateway/internal/domain"
)

type fakeProvider struct {
	mu          sync.Mutex
	calls       int
	singleCalls int
	bulkCalls   int
	records     map[string]*domain.EnrichmentRecord // nil value = no match
}

func (f *fakeProvider) Enrich(_ context.Context, q PersonQuery) (*domain.EnrichmentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.singleCalls++
	return f.records[q.PersonID], nil
}

func (f *fakeProvider) EnrichBulk(_ context.Context, qs []PersonQuery) (map[string]*domain.EnrichmentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.bulkCalls++
	out := make(map[string]*domain.EnrichmentRecord)
	for _, q := range qs {
		if rec := f.records[q.PersonID]; rec != nil {
			out[q.PersonID] = rec
		}
	}
	return out, nil
}

type fakeRecordRepo struct {
	mu    sync.Mutex
	saved map[string]*domain.EnrichmentRecord
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{saved: make(map[string]*domain.EnrichmentRecord)}
}

func (f *fakeRecordRepo) Save(_ context.Context, rec *domain.EnrichmentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.saved[rec.PersonID] = &cp
	return nil
}

func (f *fakeRecordRepo) Latest(_ context.Context, personID string) (*domain.EnrichmentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.saved[personID]
	if !ok {
		return nil, ErrNoRecord
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeRecordRepo) LatestBatch(ctx context.Context, personIDs []string) (map[string]*domain.EnrichmentRecord, error) {
	out := make(map[string]*domain.EnrichmentRecord)
	for _, id := range personIDs {
		if rec, err := f.Latest(ctx, id); err == nil {
			out[id] = rec
		}
	}
	return out, nil
}

type fakeFetcher struct{}

func (fakeFetcher) Fetch(_ context.Context, personIDs []string) ([]PersonQuery, error) {
	out := make([]PersonQuery, 0, len(personIDs))
	for _, id := range personIDs {
		out = append(out, PersonQuery{PersonID: id, FirstName: "Test", LastName: id})
	}
	return out, nil
}

func matched(personID string) *domain.EnrichmentRecord {
	return &domain.EnrichmentRecord{
		PersonID:        personID,
		MatchLikelihood: 8,
		EnrichedAt:      time.Now().UTC(),
		HasEmail:        true,
		Email:           personID + "@example.com",
	}
}

func newTestCoordinator(t *testing.T, provider *fakeProvider, budget, price, threshold float64) (*Coordinator, *fakeRecordRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	repo := newFakeRecordRepo()
	ledger := NewLedger(rdb, budget)
	c := NewCoordinator(provider, repo, ledger, fakeFetcher{}, price, threshold, 0)
	return c, repo
}

func TestEnrichOneSuccess(t *testing.T) {
	provider := &fakeProvider{records: map[string]*domain.EnrichmentRecord{"p1": matched("p1")}}
	c, repo := newTestCoordinator(t, provider, 100, 0.25, 0)

	out, err := c.EnrichOne(context.Background(), "s1", "p1", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusEnriched, out.Status)
	assert.Equal(t, 0.25, out.Cost)
	require.NotNil(t, out.Record)
	assert.Equal(t, "p1@example.com", out.Record.Email)

	saved, err := repo.Latest(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", saved.PersonID)
	assert.InDelta(t, 0.25, c.SessionSpent("s1"), 1e-9)
}

func TestEnrichDispatchByRequestSize(t *testing.T) {
	provider := &fakeProvider{records: map[string]*domain.EnrichmentRecord{
		"p1": matched("p1"), "p2": matched("p2"),
	}}
	c, _ := newTestCoordinator(t, provider, 100, 0.25, 0)
	ctx := context.Background()

	// One person goes through the per-person endpoint.
	out, err := c.EnrichOne(ctx, "s1", "p1", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusEnriched, out.Status)
	assert.Equal(t, 1, provider.singleCalls)
	assert.Zero(t, provider.bulkCalls)

	// Two or more go through the bulk endpoint.
	opts := DefaultOptions()
	opts.SkipExisting = false
	_, summary, err := c.EnrichBatch(ctx, "s1", []string{"p1", "p2"}, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Enriched)
	assert.Equal(t, 1, provider.singleCalls)
	assert.Equal(t, 1, provider.bulkCalls)
}

func TestEnrichSkipsFreshRecords(t *testing.T) {
	provider := &fakeProvider{records: map[string]*domain.EnrichmentRecord{"p1": matched("p1")}}
	c, repo := newTestCoordinator(t, provider, 100, 0.25, 0)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, matched("p1")))

	out, err := c.EnrichOne(ctx, "s1", "p1", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyEnriched, out.Status)
	assert.Zero(t, out.Cost)
	assert.Zero(t, provider.calls)
}

func TestEnrichForceBypassesFreshness(t *testing.T) {
	provider := &fakeProvider{records: map[string]*domain.EnrichmentRecord{"p1": matched("p1")}}
	c, repo := newTestCoordinator(t, provider, 100, 0.25, 0)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, matched("p1")))

	opts := DefaultOptions()
	opts.Force = true
	out, err := c.EnrichOne(ctx, "s1", "p1", opts)
	require.NoError(t, err)
	assert.Equal(t, StatusEnriched, out.Status)
	assert.Equal(t, 1, provider.calls)
}

func TestEnrichStaleRecordReEnriched(t *testing.T) {
	provider := &fakeProvider{records: map[string]*domain.EnrichmentRecord{"p1": matched("p1")}}
	c, repo := newTestCoordinator(t, provider, 100, 0.25, 0)
	ctx := context.Background()

	stale := matched("p1")
	stale.EnrichedAt = time.Now().Add(-200 * 24 * time.Hour)
	require.NoError(t, repo.Save(ctx, stale))

	out, err := c.EnrichOne(ctx, "s1", "p1", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusEnriched, out.Status)
}

func TestEnrichNoMatchRefundsBudget(t *testing.T) {
	provider := &fakeProvider{records: map[string]*domain.EnrichmentRecord{}}
	c, _ := newTestCoordinator(t, provider, 1.0, 0.25, 0)
	ctx := context.Background()

	out, err := c.EnrichOne(ctx, "s1", "p1", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusNoMatch, out.Status)

	spent, err := c.ledger.Spent(ctx)
	require.NoError(t, err)
	assert.Zero(t, spent)
	assert.Zero(t, c.SessionSpent("s1"))
}

func TestEnrichOverBudgetRefusedWhole(t *testing.T) {
	provider := &fakeProvider{records: map[string]*domain.EnrichmentRecord{
		"p1": matched("p1"), "p2": matched("p2"), "p3": matched("p3"),
	}}
	// Budget affords only two records; the three-person request is refused
	// outright with no provider call.
	c, _ := newTestCoordinator(t, provider, 0.50, 0.25, 0)

	outcomes, summary, err := c.EnrichBatch(context.Background(), "s1", []string{"p1", "p2", "p3"}, DefaultOptions())
	require.NoError(t, err)
	assert.Zero(t, summary.Enriched)
	assert.Equal(t, 3, summary.BudgetExceeded)
	assert.Zero(t, summary.Cost)
	assert.Zero(t, provider.calls)
	for _, o := range outcomes {
		assert.Equal(t, StatusBudgetExceeded, o.Status)
	}

	// A request that fits still goes through.
	_, summary, err = c.EnrichBatch(context.Background(), "s1", []string{"p1", "p2"}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Enriched)
	assert.InDelta(t, 0.50, summary.Cost, 1e-9)
}

func TestEnrichBatchOverCeilingRejected(t *testing.T) {
	provider := &fakeProvider{records: map[string]*domain.EnrichmentRecord{}}
	c, _ := newTestCoordinator(t, provider, 1000, 0.25, 0)

	ids := make([]string, 101)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%d", i)
	}
	_, _, err := c.EnrichBatch(context.Background(), "s1", ids, DefaultOptions())
	assert.ErrorIs(t, err, ErrBulkTooLarge)
	assert.Zero(t, provider.calls)
}

func TestEnrichConfirmationThreshold(t *testing.T) {
	provider := &fakeProvider{records: map[string]*domain.EnrichmentRecord{
		"p1": matched("p1"), "p2": matched("p2"),
	}}
	c, _ := newTestCoordinator(t, provider, 100, 1.0, 1.5)
	ctx := context.Background()

	// Projected $2.00 over the $1.50 threshold: nothing is called.
	outcomes, summary, err := c.EnrichBatch(ctx, "s1", []string{"p1", "p2"}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ConfirmationRequired)
	assert.Zero(t, provider.calls)
	assert.InDelta(t, 2.0, summary.EstimatedCost, 1e-9)
	for _, o := range outcomes {
		assert.Equal(t, StatusConfirmationRequired, o.Status)
	}

	// force=true doubles as confirmation and proceeds.
	opts := DefaultOptions()
	opts.Force = true
	_, summary, err = c.EnrichBatch(ctx, "s1", []string{"p1", "p2"}, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Enriched)
	assert.InDelta(t, 2.0, c.SessionSpent("s1"), 1e-9)
}

func TestEnrichBatchMixedOutcomes(t *testing.T) {
	provider := &fakeProvider{records: map[string]*domain.EnrichmentRecord{
		"p1": matched("p1"),
		// p2 has no provider match.
	}}
	c, repo := newTestCoordinator(t, provider, 100, 0.25, 0)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, matched("p3"))) // p3 fresh

	outcomes, summary, err := c.EnrichBatch(ctx, "s1", []string{"p1", "p2", "p3", "p1"}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Requested) // duplicate p1 collapsed
	assert.Equal(t, 1, summary.Enriched)
	assert.Equal(t, 1, summary.NoMatch)
	assert.Equal(t, 1, summary.AlreadyEnriched)
	assert.InDelta(t, 0.25, summary.Cost, 1e-9)
	assert.Len(t, outcomes, 3)
}

func TestLedgerSharedAcrossCoordinators(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ledger := NewLedger(rdb, 1.0)
	ctx := context.Background()

	ok, err := ledger.Reserve(ctx, 0.75)
	require.NoError(t, err)
	assert.True(t, ok)

	other := NewLedger(rdb, 1.0)
	ok, err = other.Reserve(ctx, 0.50)
	require.NoError(t, err)
	assert.False(t, ok, "second process must see the shared spend")

	spent, err := other.Spent(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, spent, 1e-9)
}
