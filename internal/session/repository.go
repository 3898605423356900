package session

import (
	"context"
	"time"

	"github.com/meridian/voter-gateway/internal/domain"
)

// Repository defines the persistence contract for sessions and messages.
// Implementations must be safe for concurrent use.
type Repository interface {
	// CreateSession inserts a new session with last sequence zero.
	CreateSession(ctx context.Context, s *domain.Session) error

	// GetSession returns a session. Returns ErrNotFound if it doesn't exist.
	GetSession(ctx context.Context, userID, sessionID string) (*domain.Session, error)

	// ListSessions returns the user's sessions, most recently updated first.
	ListSessions(ctx context.Context, userID string) ([]domain.Session, error)

	// UpdateSession applies the non-nil fields and bumps updated_at.
	UpdateSession(ctx context.Context, userID, sessionID string, u SessionUpdate) error

	// AppendMessage atomically allocates the next sequence number and
	// persists the message. The stored sequence is returned. Sequences are
	// dense and monotonic per session.
	AppendMessage(ctx context.Context, userID string, m *domain.Message) (int, error)

	// MessagesAfter returns messages with sequence strictly greater than
	// afterSeq, in ascending sequence order. afterSeq of 0 returns the
	// whole transcript. limit of 0 means no limit.
	MessagesAfter(ctx context.Context, sessionID string, afterSeq, limit int) ([]domain.Message, error)

	// DeleteExpired removes messages older than the cutoff and returns the
	// number deleted. Sessions themselves are kept.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// SessionUpdate holds mutable session fields; nil means leave unchanged.
type SessionUpdate struct {
	Name     *string
	ModelID  *string
	IsActive *bool
}
