package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridian/voter-gateway/internal/domain"
	"github.com/meridian/voter-gateway/internal/pkg/logger"
)

// DocReader fetches the campaign body document with the owner's
// credentials.
type DocReader interface {
	Read(ctx context.Context, documentRef string) (string, error)
}

// Service drives the campaign lifecycle around the resolver, renderer,
// and dispatcher.
type Service struct {
	repo       Repository
	resolver   *Resolver
	renderer   *Renderer
	dispatcher *Dispatcher
	docs       DocReader
	now        func() time.Time
}

// NewService wires the campaign service.
func NewService(repo Repository, resolver *Resolver, renderer *Renderer, dispatcher *Dispatcher, docs DocReader) *Service {
	return &Service{
		repo:       repo,
		resolver:   resolver,
		renderer:   renderer,
		dispatcher: dispatcher,
		docs:       docs,
		now:        time.Now,
	}
}

// CreateInput carries new-campaign fields.
type CreateInput struct {
	ListID      string
	Subject     string
	DocumentRef string
}

// Create stores a draft campaign.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*domain.Campaign, error) {
	c := &domain.Campaign{
		ID:          uuid.NewString(),
		OwnerUserID: userID,
		ListID:      in.ListID,
		Subject:     in.Subject,
		DocumentRef: in.DocumentRef,
		Status:      domain.CampaignDraft,
		CreatedAt:   s.now(),
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns one campaign for its owner.
func (s *Service) Get(ctx context.Context, userID, campaignID string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, userID, campaignID)
}

// List returns the owner's campaigns.
func (s *Service) List(ctx context.Context, userID string) ([]domain.Campaign, error) {
	return s.repo.List(ctx, userID)
}

// UpdateInput carries editable campaign fields; nil leaves a field
// unchanged.
type UpdateInput struct {
	ListID      *string
	Subject     *string
	DocumentRef *string
}

// Update edits a draft (or failed) campaign.
func (s *Service) Update(ctx context.Context, userID, campaignID string, in UpdateInput) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, userID, campaignID)
	if err != nil {
		return nil, err
	}
	if !c.Editable() {
		return nil, ErrNotEditable
	}
	if in.ListID != nil {
		c.ListID = *in.ListID
	}
	if in.Subject != nil {
		c.Subject = *in.Subject
	}
	if in.DocumentRef != nil {
		c.DocumentRef = *in.DocumentRef
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes a campaign. A campaign mid-dispatch cannot be removed.
func (s *Service) Delete(ctx context.Context, userID, campaignID string) error {
	c, err := s.repo.Get(ctx, userID, campaignID)
	if err != nil {
		return err
	}
	if c.Status == domain.CampaignSending {
		return fmt.Errorf("campaign is sending and cannot be deleted")
	}
	return s.repo.Delete(ctx, userID, campaignID)
}

// Events returns the provider event stream for an owned campaign.
func (s *Service) Events(ctx context.Context, userID, campaignID string) ([]domain.CampaignEvent, error) {
	if _, err := s.repo.Get(ctx, userID, campaignID); err != nil {
		return nil, err
	}
	return s.repo.Events(ctx, campaignID)
}

// SendTest renders the campaign and dispatches it to the caller's own
// address only. Status is untouched.
func (s *Service) SendTest(ctx context.Context, userID, campaignID, callerEmail string) error {
	c, err := s.repo.Get(ctx, userID, campaignID)
	if err != nil {
		return err
	}
	if err := s.sendable(c); err != nil {
		return err
	}
	html, err := s.renderBody(ctx, c)
	if err != nil {
		return err
	}
	_, err = s.dispatcher.sender.SendBatch(ctx, c.ID, "test", c.Subject, html, []domain.Recipient{
		{PersonID: "test", Email: callerEmail, FirstName: "Test"},
	})
	return err
}

// Send runs the live dispatch: resolve, render, batch out, and record
// the outcome on the campaign.
func (s *Service) Send(ctx context.Context, userID, campaignID string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, userID, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignFailed {
		return nil, fmt.Errorf("campaign is %s, only draft or failed campaigns can send", c.Status)
	}
	if err := s.sendable(c); err != nil {
		return nil, err
	}

	recipients, err := s.resolver.Resolve(ctx, userID, c.ListID)
	if err != nil {
		return nil, err
	}
	html, err := s.renderBody(ctx, c)
	if err != nil {
		return nil, err
	}

	c.Status = domain.CampaignSending
	c.Stats.TotalRecipients = len(recipients)
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}

	out, err := s.dispatcher.Dispatch(ctx, c, recipients, c.Subject, html)
	if err != nil {
		c.Status = domain.CampaignFailed
		_ = s.repo.Update(ctx, c)
		return nil, err
	}

	c.Status = out.Status
	c.BatchID = out.BatchID
	c.Stats.Sent += out.Sent
	c.Stats.LastUpdated = out.SentAt
	sentAt := out.SentAt
	c.SentAt = &sentAt
	if err := s.repo.Update(ctx, c); err != nil {
		logger.Error("recording dispatch outcome failed", "campaign_id", c.ID, "error", err.Error())
	}
	return c, nil
}

// Stats returns the campaign with its current counters.
func (s *Service) Stats(ctx context.Context, userID, campaignID string) (*domain.CampaignStats, error) {
	c, err := s.repo.Get(ctx, userID, campaignID)
	if err != nil {
		return nil, err
	}
	return &c.Stats, nil
}

func (s *Service) sendable(c *domain.Campaign) error {
	if c.ListID == "" || strings.TrimSpace(c.Subject) == "" || c.DocumentRef == "" {
		return ErrMissingContent
	}
	return nil
}

func (s *Service) renderBody(ctx context.Context, c *domain.Campaign) (string, error) {
	text, err := s.docs.Read(ctx, c.DocumentRef)
	if err != nil {
		return "", fmt.Errorf("fetching campaign document: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrMissingContent
	}
	return s.renderer.Render(text, nil)
}
