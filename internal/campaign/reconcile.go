package campaign

import (
	"context"
	"time"

	"github.com/meridian/voter-gateway/internal/domain"
	"github.com/meridian/voter-gateway/internal/pkg/logger"
	"github.com/meridian/voter-gateway/internal/sparkpost"
)

// statForEvent maps provider event kinds onto stat counters. Dropped
// messages count as bounces; spam reports count as unsubscribes since
// both remove the recipient from future sends.
func statForEvent(t string) (StatField, bool) {
	switch t {
	case "delivered":
		return StatDelivered, true
	case "open":
		return StatOpened, true
	case "click":
		return StatClicked, true
	case "bounce", "dropped":
		return StatBounced, true
	case "unsubscribe", "spamreport":
		return StatUnsubscribed, true
	}
	return "", false
}

// Reconciler folds provider webhook events into campaign stats.
type Reconciler struct {
	repo Repository
	now  func() time.Time
}

// NewReconciler wires a reconciler.
func NewReconciler(repo Repository) *Reconciler {
	return &Reconciler{repo: repo, now: time.Now}
}

// Ingest processes one webhook batch. It returns (received, processed);
// the endpoint always answers 200 so the provider does not retry on our
// errors, and idempotency on provider_event_id makes its retries safe
// anyway.
func (r *Reconciler) Ingest(ctx context.Context, events []sparkpost.WebhookEvent) (int, int) {
	received := len(events)
	processed := 0

	for _, we := range events {
		p := we.Payload()
		if p == nil {
			continue
		}
		field, known := statForEvent(p.Type)
		if !known {
			continue
		}
		campaignID := p.Metadata["campaign_id"]
		personID := p.Metadata["person_id"]
		if campaignID == "" || p.EventID == "" {
			continue
		}

		ts := r.now()
		if p.Timestamp != "" {
			if parsed, err := time.Parse(time.RFC3339, p.Timestamp); err == nil {
				ts = parsed
			}
		}

		inserted, err := r.repo.AppendEvent(ctx, domain.CampaignEvent{
			CampaignID:      campaignID,
			PersonID:        personID,
			EventType:       domain.CampaignEventType(p.Type),
			ProviderEventID: p.EventID,
			BatchID:         p.Metadata["batch_id"],
			Timestamp:       ts,
		})
		if err != nil {
			logger.Error("appending webhook event failed", "campaign_id", campaignID, "event_id", p.EventID, "error", err.Error())
			continue
		}
		if !inserted {
			// Duplicate delivery; the counter was already bumped.
			continue
		}
		if err := r.repo.IncrementStat(ctx, campaignID, field, 1); err != nil {
			logger.Error("incrementing stat failed", "campaign_id", campaignID, "stat", string(field), "error", err.Error())
			continue
		}
		processed++
	}
	return received, processed
}
