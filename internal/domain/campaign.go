package domain

import "time"

// CampaignStatus enumerates the lifecycle states of a campaign.
// draft → sending → (sent | partial | failed). Once a campaign leaves
// draft it is immutable except for status and stats.
type CampaignStatus string

const (
	CampaignDraft   CampaignStatus = "draft"
	CampaignSending CampaignStatus = "sending"
	CampaignSent    CampaignStatus = "sent"
	CampaignPartial CampaignStatus = "partial"
	CampaignFailed  CampaignStatus = "failed"
)

// Campaign is an email send unit referencing a saved list by id (never by
// snapshot: users expect re-run semantics).
type Campaign struct {
	ID          string         `json:"campaign_id"`
	OwnerUserID string         `json:"owner_user_id"`
	ListID      string         `json:"list_id"`
	Subject     string         `json:"subject"`
	DocumentRef string         `json:"document_ref"`
	Status      CampaignStatus `json:"status"`
	BatchID     string         `json:"batch_id,omitempty"` // set when dispatch begins
	CreatedAt   time.Time      `json:"created_at"`
	SentAt      *time.Time     `json:"sent_at,omitempty"`
	Stats       CampaignStats  `json:"stats"`
}

// CampaignStats holds provider-reconciled delivery counters. Increments
// are commutative; final counts are eventually consistent with the event
// stream.
type CampaignStats struct {
	TotalRecipients int       `json:"total_recipients"`
	Sent            int       `json:"sent"`
	Delivered       int       `json:"delivered"`
	Opened          int       `json:"opened"`
	Clicked         int       `json:"clicked"`
	Bounced         int       `json:"bounced"`
	Unsubscribed    int       `json:"unsubscribed"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Editable reports whether campaign content may still be modified.
func (c *Campaign) Editable() bool {
	return c.Status == CampaignDraft || c.Status == CampaignFailed
}

// CampaignEventType enumerates provider-reported interaction kinds.
type CampaignEventType string

const (
	EventSent        CampaignEventType = "email_sent"
	EventDelivered   CampaignEventType = "delivered"
	EventOpen        CampaignEventType = "open"
	EventClick       CampaignEventType = "click"
	EventBounce      CampaignEventType = "bounce"
	EventDropped     CampaignEventType = "dropped"
	EventUnsubscribe CampaignEventType = "unsubscribe"
	EventSpamReport  CampaignEventType = "spamreport"
)

// CampaignEvent is an append-only provider interaction record. Duplicate
// deliveries of the same ProviderEventID are idempotently ignored.
type CampaignEvent struct {
	CampaignID      string            `json:"campaign_id"`
	PersonID        string            `json:"person_id"`
	EventType       CampaignEventType `json:"event_type"`
	ProviderEventID string            `json:"provider_event_id"`
	BatchID         string            `json:"batch_id,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}

// Recipient is one resolved campaign recipient with personalization fields.
type Recipient struct {
	PersonID  string `json:"person_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	City      string `json:"city"`
}
