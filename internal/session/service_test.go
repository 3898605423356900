package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/voter-gateway/internal/domain"
)

type memRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	lastSeq  map[string]int
	messages map[string][]domain.Message
}

func newMemRepo() *memRepo {
	return &memRepo{
		sessions: make(map[string]*domain.Session),
		lastSeq:  make(map[string]int),
		messages: make(map[string][]domain.Message),
	}
}

func (r *memRepo) CreateSession(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *memRepo) GetSession(_ context.Context, userID, sessionID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.UserID != userID {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memRepo) ListSessions(_ context.Context, userID string) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *memRepo) UpdateSession(_ context.Context, userID, sessionID string, u SessionUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.UserID != userID {
		return ErrNotFound
	}
	if u.Name != nil {
		s.Name = *u.Name
	}
	if u.ModelID != nil {
		s.ModelID = *u.ModelID
	}
	if u.IsActive != nil {
		s.IsActive = *u.IsActive
	}
	s.UpdatedAt = time.Now()
	return nil
}

func (r *memRepo) AppendMessage(_ context.Context, userID string, m *domain.Message) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[m.SessionID]
	if !ok || s.UserID != userID {
		return 0, ErrNotFound
	}
	r.lastSeq[m.SessionID]++
	seq := r.lastSeq[m.SessionID]
	cp := *m
	cp.SequenceNumber = seq
	r.messages[m.SessionID] = append(r.messages[m.SessionID], cp)
	return seq, nil
}

func (r *memRepo) MessagesAfter(_ context.Context, sessionID string, afterSeq, limit int) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Message
	for _, m := range r.messages[sessionID] {
		if m.SequenceNumber > afterSeq {
			out = append(out, m)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].SequenceNumber < out[i].SequenceNumber {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for id, msgs := range r.messages {
		var kept []domain.Message
		for _, m := range msgs {
			if m.Timestamp.Before(cutoff) {
				deleted++
			} else {
				kept = append(kept, m)
			}
		}
		r.messages[id] = kept
	}
	return deleted, nil
}

func TestCreateDerivesNameFromFirstMessage(t *testing.T) {
	svc := NewService(newMemRepo(), 20, 0)
	ctx := context.Background()

	s, err := svc.Create(ctx, "u1", "", "show me every democrat in Mercer County under 40", "model-a")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s.Name, "show me every democr"), "got %q", s.Name)
	assert.True(t, strings.HasSuffix(s.Name, "…"))
	assert.LessOrEqual(t, len([]rune(s.Name)), 21)
}

func TestCreateExplicitNameWins(t *testing.T) {
	svc := NewService(newMemRepo(), 20, 0)

	s, err := svc.Create(context.Background(), "u1", "Mercer Dems", "whatever long first message", "model-a")
	require.NoError(t, err)
	assert.Equal(t, "Mercer Dems", s.Name)
}

func TestCreateEmptyFirstMessage(t *testing.T) {
	svc := NewService(newMemRepo(), 20, 0)

	s, err := svc.Create(context.Background(), "u1", "", "   ", "model-a")
	require.NoError(t, err)
	assert.Equal(t, "New conversation", s.Name)
}

func TestAppendSequencesAreDenseAndMonotonic(t *testing.T) {
	svc := NewService(newMemRepo(), 48, 0)
	ctx := context.Background()

	s, err := svc.Create(ctx, "u1", "n", "", "model-a")
	require.NoError(t, err)

	var wg sync.WaitGroup
	const writers = 20
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Append(ctx, "u1", s.ID, domain.RoleUser, "hello")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	msgs, err := svc.History(ctx, "u1", s.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, writers)
	for i, m := range msgs {
		assert.Equal(t, i+1, m.SequenceNumber)
	}
}

func TestHistoryAfterSequence(t *testing.T) {
	svc := NewService(newMemRepo(), 48, 0)
	ctx := context.Background()

	s, err := svc.Create(ctx, "u1", "n", "", "model-a")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := svc.Append(ctx, "u1", s.ID, domain.RoleAssistant, "chunk")
		require.NoError(t, err)
	}

	tail, err := svc.History(ctx, "u1", s.ID, 3)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, 4, tail[0].SequenceNumber)
	assert.Equal(t, 5, tail[1].SequenceNumber)
}

func TestHistoryRequiresOwnership(t *testing.T) {
	svc := NewService(newMemRepo(), 48, 0)
	ctx := context.Background()

	s, err := svc.Create(ctx, "u1", "n", "", "model-a")
	require.NoError(t, err)

	_, err = svc.History(ctx, "intruder", s.ID, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCleanupRemovesOldMessages(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, 48, time.Hour)
	ctx := context.Background()

	s, err := svc.Create(ctx, "u1", "n", "", "model-a")
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	repo.mu.Lock()
	repo.messages[s.ID] = append(repo.messages[s.ID], domain.Message{
		ID: "m-old", SessionID: s.ID, Role: domain.RoleUser, Timestamp: old, SequenceNumber: 1,
	})
	repo.lastSeq[s.ID] = 1
	repo.mu.Unlock()

	n, err := repo.DeleteExpired(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs, err := svc.History(ctx, "u1", s.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
