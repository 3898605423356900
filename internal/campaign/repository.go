package campaign

import (
	"context"

	"github.com/meridian/voter-gateway/internal/domain"
)

// StatField names a reconcilable counter.
type StatField string

const (
	StatSent         StatField = "sent"
	StatDelivered    StatField = "delivered"
	StatOpened       StatField = "opened"
	StatClicked      StatField = "clicked"
	StatBounced      StatField = "bounced"
	StatUnsubscribed StatField = "unsubscribed"
)

// Repository persists campaigns and their event streams.
type Repository interface {
	Create(ctx context.Context, c *domain.Campaign) error
	Get(ctx context.Context, ownerUserID, campaignID string) (*domain.Campaign, error)
	// GetByID looks a campaign up without an owner, used by webhook
	// reconciliation where only the campaign id is known.
	GetByID(ctx context.Context, campaignID string) (*domain.Campaign, error)
	List(ctx context.Context, ownerUserID string) ([]domain.Campaign, error)
	Update(ctx context.Context, c *domain.Campaign) error
	Delete(ctx context.Context, ownerUserID, campaignID string) error

	// AppendEvent stores one provider event. It reports false without
	// error when an event with the same ProviderEventID already exists.
	AppendEvent(ctx context.Context, ev domain.CampaignEvent) (bool, error)
	// IncrementStat atomically bumps one counter and last_updated.
	IncrementStat(ctx context.Context, campaignID string, field StatField, delta int) error
	Events(ctx context.Context, campaignID string) ([]domain.CampaignEvent, error)
}
