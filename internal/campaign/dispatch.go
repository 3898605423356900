package campaign

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/meridian/voter-gateway/internal/domain"
	"github.com/meridian/voter-gateway/internal/pkg/logger"
	"github.com/meridian/voter-gateway/internal/ses"
	"github.com/meridian/voter-gateway/internal/sparkpost"
)

const defaultBatchSize = 1000

// Sender submits one personalized batch to an email provider and
// reports how many recipients it accepted.
type Sender interface {
	SendBatch(ctx context.Context, campaignID, batchID, subject, html string, recipients []domain.Recipient) (int, error)
}

// Archiver stores the rendered body for audit.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) error
}

// DispatchOutcome summarizes one live send.
type DispatchOutcome struct {
	BatchID string
	Sent    int
	Batches int
	Failed  int
	Status  domain.CampaignStatus
	SentAt  time.Time
}

// Dispatcher partitions recipients and drives the provider. Failed
// batches are not retried; the outcome status reflects how much got out.
type Dispatcher struct {
	sender    Sender
	archiver  Archiver
	repo      Repository
	batchSize int
	now       func() time.Time
}

// NewDispatcher wires a dispatcher. batchSize<=0 selects the default;
// archiver may be nil when no audit bucket is configured.
func NewDispatcher(sender Sender, archiver Archiver, repo Repository, batchSize int) *Dispatcher {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Dispatcher{sender: sender, archiver: archiver, repo: repo, batchSize: batchSize, now: time.Now}
}

// Dispatch sends html to every recipient under a single batch id,
// appending per-recipient email_sent events for accepted batches.
func (d *Dispatcher) Dispatch(ctx context.Context, c *domain.Campaign, recipients []domain.Recipient, subject, html string) (*DispatchOutcome, error) {
	out := &DispatchOutcome{
		BatchID: uuid.NewString(),
		SentAt:  d.now(),
	}

	if d.archiver != nil {
		key := fmt.Sprintf("campaigns/%s/body.html", c.ID)
		if err := d.archiver.Archive(ctx, key, []byte(html)); err != nil {
			logger.Warn("archiving campaign body failed", "campaign_id", c.ID, "error", err.Error())
		}
	}

	succeeded := 0
	for start := 0; start < len(recipients); start += d.batchSize {
		end := start + d.batchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		batch := recipients[start:end]
		out.Batches++

		accepted, err := d.sender.SendBatch(ctx, c.ID, out.BatchID, subject, html, batch)
		if err != nil {
			out.Failed++
			logger.Error("campaign batch failed", "campaign_id", c.ID, "batch", out.Batches, "error", err.Error())
			continue
		}
		succeeded++
		out.Sent += accepted

		if err := d.repo.IncrementStat(ctx, c.ID, StatSent, accepted); err != nil {
			logger.Warn("recording sent count failed", "campaign_id", c.ID, "error", err.Error())
		}
		for _, rcpt := range batch {
			_, err := d.repo.AppendEvent(ctx, domain.CampaignEvent{
				CampaignID:      c.ID,
				PersonID:        rcpt.PersonID,
				EventType:       domain.EventSent,
				ProviderEventID: fmt.Sprintf("sent-%s-%s", out.BatchID, rcpt.PersonID),
				BatchID:         out.BatchID,
				Timestamp:       d.now(),
			})
			if err != nil {
				logger.Warn("recording sent event failed", "campaign_id", c.ID, "person_id", rcpt.PersonID, "error", err.Error())
			}
		}
	}

	switch {
	case out.Failed == 0:
		out.Status = domain.CampaignSent
	case succeeded > 0:
		out.Status = domain.CampaignPartial
	default:
		out.Status = domain.CampaignFailed
	}
	return out, nil
}

// SparkPostSender adapts the transmissions client to the Sender
// interface.
type SparkPostSender struct {
	client    *sparkpost.Client
	fromEmail string
	fromName  string
}

// NewSparkPostSender wires the primary provider backend.
func NewSparkPostSender(client *sparkpost.Client, fromEmail, fromName string) *SparkPostSender {
	return &SparkPostSender{client: client, fromEmail: fromEmail, fromName: fromName}
}

func (s *SparkPostSender) SendBatch(ctx context.Context, campaignID, batchID, subject, html string, recipients []domain.Recipient) (int, error) {
	tx := sparkpost.Transmission{
		CampaignID: campaignID,
		Content: sparkpost.Content{
			From:    sparkpost.Address{Email: s.fromEmail, Name: s.fromName},
			Subject: subject,
			HTML:    html,
		},
	}
	for _, r := range recipients {
		tx.Recipients = append(tx.Recipients, sparkpost.Recipient{
			Address: sparkpost.Address{Email: r.Email, Name: r.FirstName + " " + r.LastName},
			SubstitutionData: map[string]string{
				"first_name": r.FirstName,
				"last_name":  r.LastName,
				"city":       r.City,
			},
			Metadata: map[string]string{
				"campaign_id": campaignID,
				"person_id":   r.PersonID,
				"batch_id":    batchID,
			},
		})
	}

	res, err := s.client.Send(ctx, tx)
	if err != nil {
		return 0, err
	}
	return res.Results.TotalAccepted, nil
}

// SESSender adapts the secondary bulk backend. SES has no per-recipient
// metadata channel, so event correlation is limited to the campaign.
type SESSender struct {
	sender *ses.Sender
}

// NewSESSender wires the secondary provider backend.
func NewSESSender(sender *ses.Sender) *SESSender {
	return &SESSender{sender: sender}
}

func (s *SESSender) SendBatch(ctx context.Context, _, _, subject, html string, recipients []domain.Recipient) (int, error) {
	bulk := make([]ses.BulkRecipient, 0, len(recipients))
	for _, r := range recipients {
		bulk = append(bulk, ses.BulkRecipient{
			Email: r.Email,
			Substitutions: map[string]string{
				"first_name": r.FirstName,
				"last_name":  r.LastName,
				"city":       r.City,
			},
		})
	}
	return s.sender.SendBulk(ctx, subject, html, bulk)
}

// S3Archiver writes rendered bodies to the audit bucket.
type S3Archiver struct {
	client *s3.Client
	bucket string
}

// NewS3Archiver wires the archive bucket.
func NewS3Archiver(client *s3.Client, bucket string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket}
}

func (a *S3Archiver) Archive(ctx context.Context, key string, body []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/html"),
	})
	if err != nil {
		return fmt.Errorf("archiving %s: %w", key, err)
	}
	return nil
}
