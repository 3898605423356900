package lists

import (
	"context"

	"github.com/meridian/voter-gateway/internal/domain"
)

// Repository defines the data access contract for saved lists.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single list regardless of active flag. Returns
	// ErrNotFound if it doesn't exist.
	Get(ctx context.Context, userID, listID string) (*domain.SavedQuery, error)

	// ListActive returns the user's active lists, newest first.
	ListActive(ctx context.Context, userID string) ([]domain.SavedQuery, error)

	// Create inserts a new list.
	Create(ctx context.Context, l *domain.SavedQuery) error

	// Update applies the non-nil fields and bumps updated_at.
	Update(ctx context.Context, userID, listID string, u UpdateFields) error

	// RecordAccess increments access_count and stamps last_accessed_at.
	RecordAccess(ctx context.Context, userID, listID string) error
}

// UpdateFields holds the mutable fields for a list update.
// Nil fields are not applied.
type UpdateFields struct {
	Name        *string
	Description *string
	SQLText     *string
	Prompt      *string
	RowCount    *int
	IsActive    *bool
}
