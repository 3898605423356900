package session

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridian/voter-gateway/internal/domain"
	"github.com/meridian/voter-gateway/internal/pkg/logger"
)

// Service implements session operations on top of a Repository.
type Service struct {
	repo      Repository
	nameWidth int
	retention time.Duration
	now       func() time.Time
}

// NewService wires a session service. nameWidth caps auto-generated session
// names; retention is how long messages are kept.
func NewService(repo Repository, nameWidth int, retention time.Duration) *Service {
	if nameWidth <= 0 {
		nameWidth = 48
	}
	return &Service{
		repo:      repo,
		nameWidth: nameWidth,
		retention: retention,
		now:       time.Now,
	}
}

// Create starts a new session. If name is empty it is derived from
// firstMessage, truncated to the configured width on a rune boundary.
func (s *Service) Create(ctx context.Context, userID, name, firstMessage, modelID string) (*domain.Session, error) {
	if strings.TrimSpace(name) == "" {
		name = s.deriveName(firstMessage)
	}
	now := s.now().UTC()
	sess := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		ModelID:   modelID,
		CreatedAt: now,
		UpdatedAt: now,
		IsActive:  true,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	logger.Info("session created", "session_id", sess.ID, "user_id", userID)
	return sess, nil
}

// Get returns one session.
func (s *Service) Get(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	return s.repo.GetSession(ctx, userID, sessionID)
}

// List returns the user's sessions, most recently updated first.
func (s *Service) List(ctx context.Context, userID string) ([]domain.Session, error) {
	return s.repo.ListSessions(ctx, userID)
}

// Rename changes the session's display name.
func (s *Service) Rename(ctx context.Context, userID, sessionID, name string) error {
	return s.repo.UpdateSession(ctx, userID, sessionID, SessionUpdate{Name: &name})
}

// SetModel switches the session's model. The agent cache keys on model id,
// so the caller must also drop any cached agent for this session.
func (s *Service) SetModel(ctx context.Context, userID, sessionID, modelID string) error {
	return s.repo.UpdateSession(ctx, userID, sessionID, SessionUpdate{ModelID: &modelID})
}

// Archive marks a session inactive. Its transcript stays readable until
// retention expires it.
func (s *Service) Archive(ctx context.Context, userID, sessionID string) error {
	inactive := false
	return s.repo.UpdateSession(ctx, userID, sessionID, SessionUpdate{IsActive: &inactive})
}

// Append persists a message with an atomically allocated sequence number
// and returns the stored message.
func (s *Service) Append(ctx context.Context, userID, sessionID string, role domain.MessageRole, text string) (*domain.Message, error) {
	m := &domain.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		Timestamp: s.now().UTC(),
	}
	seq, err := s.repo.AppendMessage(ctx, userID, m)
	if err != nil {
		return nil, err
	}
	m.SequenceNumber = seq
	return m, nil
}

// History returns messages after the given sequence, oldest first.
// afterSeq 0 returns the full transcript.
func (s *Service) History(ctx context.Context, userID, sessionID string, afterSeq int) ([]domain.Message, error) {
	// Ownership check before reading the transcript partition.
	if _, err := s.repo.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.repo.MessagesAfter(ctx, sessionID, afterSeq, 0)
}

// StartCleanup runs message expiry on the given interval until ctx is
// canceled. Backends that expire natively report zero deletions.
func (s *Service) StartCleanup(ctx context.Context, interval time.Duration) {
	if s.retention <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := s.now().Add(-s.retention)
				n, err := s.repo.DeleteExpired(ctx, cutoff)
				if err != nil {
					logger.Error("message cleanup failed", "error", err.Error())
					continue
				}
				if n > 0 {
					logger.Info("expired messages removed", "count", n)
				}
			}
		}
	}()
}

func (s *Service) deriveName(firstMessage string) string {
	name := strings.Join(strings.Fields(firstMessage), " ")
	if name == "" {
		return "New conversation"
	}
	runes := []rune(name)
	if len(runes) > s.nameWidth {
		name = strings.TrimSpace(string(runes[:s.nameWidth])) + "…"
	}
	return name
}
