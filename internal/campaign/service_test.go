package campaign

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/voter-gateway/internal/domain"
)

// memRepo is an in-memory Repository.
type memRepo struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
	events    map[string]domain.CampaignEvent // by provider event id per campaign
}

func newMemRepo() *memRepo {
	return &memRepo{
		campaigns: map[string]*domain.Campaign{},
		events:    map[string]domain.CampaignEvent{},
	}
}

func (m *memRepo) Create(_ context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) Get(ctx context.Context, userID, id string) (*domain.Campaign, error) {
	c, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.OwnerUserID != userID {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *memRepo) List(_ context.Context, userID string) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if c.OwnerUserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memRepo) Update(_ context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.campaigns[c.ID]
	if !ok {
		return ErrNotFound
	}
	// Stats counters are owned by IncrementStat; keep the stored ones.
	stats := stored.Stats
	cp := *c
	cp.Stats.Delivered = stats.Delivered
	cp.Stats.Opened = stats.Opened
	cp.Stats.Clicked = stats.Clicked
	cp.Stats.Bounced = stats.Bounced
	cp.Stats.Unsubscribed = stats.Unsubscribed
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *memRepo) Delete(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.OwnerUserID != userID {
		return ErrNotFound
	}
	delete(m.campaigns, id)
	return nil
}

func (m *memRepo) AppendEvent(_ context.Context, ev domain.CampaignEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ev.CampaignID + "/" + ev.ProviderEventID
	if _, dup := m.events[key]; dup {
		return false, nil
	}
	m.events[key] = ev
	return true, nil
}

func (m *memRepo) IncrementStat(_ context.Context, id string, field StatField, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	switch field {
	case StatSent:
		c.Stats.Sent += delta
	case StatDelivered:
		c.Stats.Delivered += delta
	case StatOpened:
		c.Stats.Opened += delta
	case StatClicked:
		c.Stats.Clicked += delta
	case StatBounced:
		c.Stats.Bounced += delta
	case StatUnsubscribed:
		c.Stats.Unsubscribed += delta
	}
	c.Stats.LastUpdated = time.Now()
	return nil
}

func (m *memRepo) Events(_ context.Context, id string) ([]domain.CampaignEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CampaignEvent
	for _, ev := range m.events {
		if ev.CampaignID == id {
			out = append(out, ev)
		}
	}
	return out, nil
}

// scriptedSender fails the batches whose 1-based index appears in fail.
type scriptedSender struct {
	mu      sync.Mutex
	fail    map[int]bool
	batches [][]domain.Recipient
}

func (s *scriptedSender) SendBatch(_ context.Context, _, _ string, _, _ string, recipients []domain.Recipient) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, recipients)
	if s.fail[len(s.batches)] {
		return 0, errors.New("provider rejected batch")
	}
	return len(recipients), nil
}

type fakeLists struct {
	list *domain.SavedQuery
}

func (f *fakeLists) Get(_ context.Context, userID, listID string) (*domain.SavedQuery, error) {
	if f.list == nil || f.list.ID != listID || f.list.OwnerUserID != userID {
		return nil, errors.New("list not found")
	}
	return f.list, nil
}

// fakeRunner returns canned results per query index and records SQL.
type fakeRunner struct {
	results []*domain.QueryResult
	queries []string
}

func (f *fakeRunner) Execute(_ context.Context, sql string) (*domain.QueryResult, error) {
	f.queries = append(f.queries, sql)
	if len(f.queries) > len(f.results) {
		return nil, errors.New("unexpected query")
	}
	return f.results[len(f.queries)-1], nil
}

type fakeDocs struct{ text string }

func (f *fakeDocs) Read(context.Context, string) (string, error) { return f.text, nil }

func recipientRows(n int) *domain.QueryResult {
	res := &domain.QueryResult{Columns: []string{"person_id", "email", "name_first", "name_last", "city"}}
	for i := 0; i < n; i++ {
		id := string(rune('a' + i%26))
		res.Rows = append(res.Rows, []interface{}{
			"p" + id, "p" + id + "@example.com", "First" + id, "Last" + id, "Trenton",
		})
	}
	return res
}

func idRows(ids ...string) *domain.QueryResult {
	res := &domain.QueryResult{Columns: []string{"person_id"}}
	for _, id := range ids {
		res.Rows = append(res.Rows, []interface{}{id})
	}
	return res
}

func newTestService(repo *memRepo, sender Sender, runner *fakeRunner, list *domain.SavedQuery, batchSize int) *Service {
	resolver := NewResolver(&fakeLists{list: list}, runner, "proj-voter.nj.voters", 0)
	dispatcher := NewDispatcher(sender, nil, repo, batchSize)
	return NewService(repo, resolver, NewRenderer(), dispatcher, &fakeDocs{text: "Hello **voters** of Trenton"})
}

func draftList() *domain.SavedQuery {
	return &domain.SavedQuery{
		ID:          "l1",
		OwnerUserID: "u1",
		SQLText:     "SELECT id FROM `proj-voter.nj.voters` WHERE demo_party = 'DEMOCRAT'",
		IsActive:    true,
	}
}

func TestSendFullLifecycle(t *testing.T) {
	repo := newMemRepo()
	sender := &scriptedSender{}
	runner := &fakeRunner{results: []*domain.QueryResult{idRows("p1", "p2"), recipientRows(2)}}
	svc := newTestService(repo, sender, runner, draftList(), 0)

	c, err := svc.Create(context.Background(), "u1", CreateInput{ListID: "l1", Subject: "GOTV", DocumentRef: "doc1"})
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignDraft, c.Status)

	sent, err := svc.Send(context.Background(), "u1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignSent, sent.Status)
	assert.Equal(t, 2, sent.Stats.TotalRecipients)
	assert.Equal(t, 2, sent.Stats.Sent)
	assert.NotEmpty(t, sent.BatchID)
	require.NotNil(t, sent.SentAt)

	// One email_sent event per recipient, tagged with the batch id.
	events, err := repo.Events(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, domain.EventSent, ev.EventType)
		assert.Equal(t, sent.BatchID, ev.BatchID)
	}
}

func TestSendPartialFailure(t *testing.T) {
	repo := newMemRepo()
	sender := &scriptedSender{fail: map[int]bool{2: true}}
	// 5 recipients with batch size 2 gives 3 batches; the middle one dies.
	runner := &fakeRunner{results: []*domain.QueryResult{idRows("p1", "p2", "p3", "p4", "p5"), recipientRows(5)}}
	svc := newTestService(repo, sender, runner, draftList(), 2)

	c, err := svc.Create(context.Background(), "u1", CreateInput{ListID: "l1", Subject: "GOTV", DocumentRef: "doc1"})
	require.NoError(t, err)

	sent, err := svc.Send(context.Background(), "u1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignPartial, sent.Status)
	assert.Equal(t, 3, sent.Stats.Sent) // batches of 2, 2(failed), 1
	assert.Len(t, sender.batches, 3)
}

func TestSendAllBatchesFail(t *testing.T) {
	repo := newMemRepo()
	sender := &scriptedSender{fail: map[int]bool{1: true, 2: true}}
	runner := &fakeRunner{results: []*domain.QueryResult{idRows("p1", "p2", "p3"), recipientRows(3)}}
	svc := newTestService(repo, sender, runner, draftList(), 2)

	c, err := svc.Create(context.Background(), "u1", CreateInput{ListID: "l1", Subject: "GOTV", DocumentRef: "doc1"})
	require.NoError(t, err)

	sent, err := svc.Send(context.Background(), "u1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignFailed, sent.Status)
	assert.Zero(t, sent.Stats.Sent)
}

func TestSendRequiresListSubjectAndBody(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &scriptedSender{}, &fakeRunner{}, draftList(), 0)

	c, err := svc.Create(context.Background(), "u1", CreateInput{ListID: "l1", Subject: "  ", DocumentRef: "doc1"})
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), "u1", c.ID)
	assert.ErrorIs(t, err, ErrMissingContent)
}

func TestSentCampaignIsNotEditable(t *testing.T) {
	repo := newMemRepo()
	sender := &scriptedSender{}
	runner := &fakeRunner{results: []*domain.QueryResult{idRows("p1"), recipientRows(1)}}
	svc := newTestService(repo, sender, runner, draftList(), 0)

	c, err := svc.Create(context.Background(), "u1", CreateInput{ListID: "l1", Subject: "GOTV", DocumentRef: "doc1"})
	require.NoError(t, err)
	_, err = svc.Send(context.Background(), "u1", c.ID)
	require.NoError(t, err)

	subject := "Updated"
	_, err = svc.Update(context.Background(), "u1", c.ID, UpdateInput{Subject: &subject})
	assert.ErrorIs(t, err, ErrNotEditable)
}

func TestSendTestGoesOnlyToCaller(t *testing.T) {
	repo := newMemRepo()
	sender := &scriptedSender{}
	svc := newTestService(repo, sender, &fakeRunner{}, draftList(), 0)

	c, err := svc.Create(context.Background(), "u1", CreateInput{ListID: "l1", Subject: "GOTV", DocumentRef: "doc1"})
	require.NoError(t, err)

	require.NoError(t, svc.SendTest(context.Background(), "u1", c.ID, "me@example.org"))
	require.Len(t, sender.batches, 1)
	require.Len(t, sender.batches[0], 1)
	assert.Equal(t, "me@example.org", sender.batches[0][0].Email)

	// Status untouched, nothing resolved.
	got, err := svc.Get(context.Background(), "u1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignDraft, got.Status)
}

func TestOwnershipIsolation(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &scriptedSender{}, &fakeRunner{}, draftList(), 0)

	c, err := svc.Create(context.Background(), "u1", CreateInput{ListID: "l1", Subject: "GOTV", DocumentRef: "doc1"})
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), "u2", c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Send(context.Background(), "u2", c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRenderedBodyReachesSender(t *testing.T) {
	repo := newMemRepo()
	sender := &capturingSender{}
	runner := &fakeRunner{results: []*domain.QueryResult{idRows("p1"), recipientRows(1)}}
	resolver := NewResolver(&fakeLists{list: draftList()}, runner, "proj-voter.nj.voters", 0)
	dispatcher := NewDispatcher(sender, nil, repo, 0)
	svc := NewService(repo, resolver, NewRenderer(), dispatcher, &fakeDocs{text: "# Big News\n\nHello **everyone**"})

	c, err := svc.Create(context.Background(), "u1", CreateInput{ListID: "l1", Subject: "News", DocumentRef: "doc1"})
	require.NoError(t, err)
	_, err = svc.Send(context.Background(), "u1", c.ID)
	require.NoError(t, err)

	assert.True(t, strings.Contains(sender.html, "<h1>Big News</h1>"))
	assert.True(t, strings.Contains(sender.html, "<b>everyone</b>"))
	assert.True(t, strings.Contains(sender.html, "{{unsubscribe_url}}"))
}

func TestDeleteDraftCampaign(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &scriptedSender{}, &fakeRunner{}, draftList(), 0)

	c, err := svc.Create(context.Background(), "u1", CreateInput{ListID: "l1", Subject: "GOTV", DocumentRef: "doc1"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), "u1", c.ID))
	_, err = svc.Get(context.Background(), "u1", c.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting someone else's campaign is indistinguishable from a miss.
	assert.ErrorIs(t, svc.Delete(context.Background(), "u2", c.ID), ErrNotFound)
}

func TestEventsRequireOwnership(t *testing.T) {
	repo := newMemRepo()
	sender := &scriptedSender{}
	runner := &fakeRunner{results: []*domain.QueryResult{idRows("p1"), recipientRows(1)}}
	svc := newTestService(repo, sender, runner, draftList(), 0)

	c, err := svc.Create(context.Background(), "u1", CreateInput{ListID: "l1", Subject: "GOTV", DocumentRef: "doc1"})
	require.NoError(t, err)
	_, err = svc.Send(context.Background(), "u1", c.ID)
	require.NoError(t, err)

	events, err := svc.Events(context.Background(), "u1", c.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, err = svc.Events(context.Background(), "u2", c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

type capturingSender struct {
	html string
}

func (s *capturingSender) SendBatch(_ context.Context, _, _ string, _, html string, recipients []domain.Recipient) (int, error) {
	s.html = html
	return len(recipients), nil
}
