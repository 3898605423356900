package campaign

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/meridian/voter-gateway/internal/domain"
)

// DynamoRepository stores campaigns in a single table. The campaign body
// lives at PK=CAMPAIGN#<id>, SK=META so webhooks can resolve it without
// knowing the owner; an owner pointer at PK=USER#<uid>, SK=CAMPAIGN#<id>
// supports per-user listing. Events append under the campaign partition
// keyed by provider event id, which gives idempotency for free via a
// conditional put.
type DynamoRepository struct {
	client    *dynamodb.Client
	tableName string
}

// NewDynamoRepository creates a DynamoDB-backed campaign repository.
func NewDynamoRepository(client *dynamodb.Client, tableName string) *DynamoRepository {
	return &DynamoRepository{client: client, tableName: tableName}
}

type campaignItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	CampaignID  string `dynamodbav:"campaign_id"`
	OwnerUserID string `dynamodbav:"owner_user_id"`
	ListID      string `dynamodbav:"list_id"`
	Subject     string `dynamodbav:"subject"`
	DocumentRef string `dynamodbav:"document_ref"`
	Status      string `dynamodbav:"status"`
	BatchID     string `dynamodbav:"batch_id,omitempty"`
	CreatedAt   string `dynamodbav:"created_at"`
	SentAt      string `dynamodbav:"sent_at,omitempty"`

	TotalRecipients int    `dynamodbav:"stat_total_recipients"`
	Sent            int    `dynamodbav:"stat_sent"`
	Delivered       int    `dynamodbav:"stat_delivered"`
	Opened          int    `dynamodbav:"stat_opened"`
	Clicked         int    `dynamodbav:"stat_clicked"`
	Bounced         int    `dynamodbav:"stat_bounced"`
	Unsubscribed    int    `dynamodbav:"stat_unsubscribed"`
	LastUpdated     string `dynamodbav:"stat_last_updated,omitempty"`
}

type eventItem struct {
	PK              string `dynamodbav:"PK"`
	SK              string `dynamodbav:"SK"`
	CampaignID      string `dynamodbav:"campaign_id"`
	PersonID        string `dynamodbav:"person_id"`
	EventType       string `dynamodbav:"event_type"`
	ProviderEventID string `dynamodbav:"provider_event_id"`
	BatchID         string `dynamodbav:"batch_id,omitempty"`
	Timestamp       string `dynamodbav:"timestamp"`
}

func campaignPK(id string) string     { return "CAMPAIGN#" + id }
func ownerPK(userID string) string    { return "USER#" + userID }
func ownerSK(campaignID string) string { return "CAMPAIGN#" + campaignID }
func eventSK(providerEventID string) string { return "EVENT#" + providerEventID }

func toCampaignItem(c *domain.Campaign) campaignItem {
	item := campaignItem{
		PK:              campaignPK(c.ID),
		SK:              "META",
		CampaignID:      c.ID,
		OwnerUserID:     c.OwnerUserID,
		ListID:          c.ListID,
		Subject:         c.Subject,
		DocumentRef:     c.DocumentRef,
		Status:          string(c.Status),
		BatchID:         c.BatchID,
		CreatedAt:       c.CreatedAt.UTC().Format(time.RFC3339),
		TotalRecipients: c.Stats.TotalRecipients,
		Sent:            c.Stats.Sent,
		Delivered:       c.Stats.Delivered,
		Opened:          c.Stats.Opened,
		Clicked:         c.Stats.Clicked,
		Bounced:         c.Stats.Bounced,
		Unsubscribed:    c.Stats.Unsubscribed,
	}
	if c.SentAt != nil {
		item.SentAt = c.SentAt.UTC().Format(time.RFC3339)
	}
	if !c.Stats.LastUpdated.IsZero() {
		item.LastUpdated = c.Stats.LastUpdated.UTC().Format(time.RFC3339)
	}
	return item
}

func fromCampaignItem(item campaignItem) domain.Campaign {
	c := domain.Campaign{
		ID:          item.CampaignID,
		OwnerUserID: item.OwnerUserID,
		ListID:      item.ListID,
		Subject:     item.Subject,
		DocumentRef: item.DocumentRef,
		Status:      domain.CampaignStatus(item.Status),
		BatchID:     item.BatchID,
		Stats: domain.CampaignStats{
			TotalRecipients: item.TotalRecipients,
			Sent:            item.Sent,
			Delivered:       item.Delivered,
			Opened:          item.Opened,
			Clicked:         item.Clicked,
			Bounced:         item.Bounced,
			Unsubscribed:    item.Unsubscribed,
		},
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, item.CreatedAt)
	if item.SentAt != "" {
		if t, err := time.Parse(time.RFC3339, item.SentAt); err == nil {
			c.SentAt = &t
		}
	}
	if item.LastUpdated != "" {
		c.Stats.LastUpdated, _ = time.Parse(time.RFC3339, item.LastUpdated)
	}
	return c
}

func (r *DynamoRepository) Create(ctx context.Context, c *domain.Campaign) error {
	av, err := attributevalue.MarshalMap(toCampaignItem(c))
	if err != nil {
		return fmt.Errorf("marshaling campaign: %w", err)
	}
	pointer, err := attributevalue.MarshalMap(map[string]string{
		"PK":          ownerPK(c.OwnerUserID),
		"SK":          ownerSK(c.ID),
		"campaign_id": c.ID,
	})
	if err != nil {
		return fmt.Errorf("marshaling campaign pointer: %w", err)
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
			{Put: &types.Put{
				TableName: aws.String(r.tableName),
				Item:      pointer,
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("putting campaign: %w", err)
	}
	return nil
}

func (r *DynamoRepository) GetByID(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: campaignPK(campaignID)},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting campaign: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var item campaignItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling campaign: %w", err)
	}
	c := fromCampaignItem(item)
	return &c, nil
}

func (r *DynamoRepository) Get(ctx context.Context, ownerUserID, campaignID string) (*domain.Campaign, error) {
	c, err := r.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.OwnerUserID != ownerUserID {
		return nil, ErrNotFound
	}
	return c, nil
}

func (r *DynamoRepository) List(ctx context.Context, ownerUserID string) ([]domain.Campaign, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: ownerPK(ownerUserID)},
			":sk": &types.AttributeValueMemberS{Value: "CAMPAIGN#"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("querying campaigns: %w", err)
	}

	result := make([]domain.Campaign, 0, len(out.Items))
	for _, raw := range out.Items {
		var ptr struct {
			CampaignID string `dynamodbav:"campaign_id"`
		}
		if err := attributevalue.UnmarshalMap(raw, &ptr); err != nil {
			return nil, fmt.Errorf("unmarshaling campaign pointer: %w", err)
		}
		c, err := r.GetByID(ctx, ptr.CampaignID)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, nil
}

func (r *DynamoRepository) Update(ctx context.Context, c *domain.Campaign) error {
	av, err := attributevalue.MarshalMap(toCampaignItem(c))
	if err != nil {
		return fmt.Errorf("marshaling campaign: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("updating campaign: %w", err)
	}
	return nil
}

func (r *DynamoRepository) Delete(ctx context.Context, ownerUserID, campaignID string) error {
	// Ownership is checked on the META item before both rows go away.
	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Delete: &types.Delete{
				TableName: aws.String(r.tableName),
				Key: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: campaignPK(campaignID)},
					"SK": &types.AttributeValueMemberS{Value: "META"},
				},
				ConditionExpression: aws.String("owner_user_id = :uid"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":uid": &types.AttributeValueMemberS{Value: ownerUserID},
				},
			}},
			{Delete: &types.Delete{
				TableName: aws.String(r.tableName),
				Key: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: ownerPK(ownerUserID)},
					"SK": &types.AttributeValueMemberS{Value: ownerSK(campaignID)},
				},
			}},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return ErrNotFound
		}
		return fmt.Errorf("deleting campaign: %w", err)
	}
	return nil
}

func (r *DynamoRepository) AppendEvent(ctx context.Context, ev domain.CampaignEvent) (bool, error) {
	av, err := attributevalue.MarshalMap(eventItem{
		PK:              campaignPK(ev.CampaignID),
		SK:              eventSK(ev.ProviderEventID),
		CampaignID:      ev.CampaignID,
		PersonID:        ev.PersonID,
		EventType:       string(ev.EventType),
		ProviderEventID: ev.ProviderEventID,
		BatchID:         ev.BatchID,
		Timestamp:       ev.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return false, fmt.Errorf("marshaling event: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(SK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil // duplicate delivery
		}
		return false, fmt.Errorf("putting event: %w", err)
	}
	return true, nil
}

func (r *DynamoRepository) IncrementStat(ctx context.Context, campaignID string, field StatField, delta int) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: campaignPK(campaignID)},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
		UpdateExpression: aws.String("ADD #f :d SET stat_last_updated = :now"),
		ExpressionAttributeNames: map[string]string{
			"#f": "stat_" + string(field),
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":d":   &types.AttributeValueMemberN{Value: strconv.Itoa(delta)},
			":now": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("incrementing %s: %w", field, err)
	}
	return nil
}

func (r *DynamoRepository) Events(ctx context.Context, campaignID string) ([]domain.CampaignEvent, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: campaignPK(campaignID)},
			":sk": &types.AttributeValueMemberS{Value: "EVENT#"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}

	events := make([]domain.CampaignEvent, 0, len(out.Items))
	for _, raw := range out.Items {
		var item eventItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("unmarshaling event: %w", err)
		}
		ev := domain.CampaignEvent{
			CampaignID:      item.CampaignID,
			PersonID:        item.PersonID,
			EventType:       domain.CampaignEventType(item.EventType),
			ProviderEventID: item.ProviderEventID,
			BatchID:         item.BatchID,
		}
		ev.Timestamp, _ = time.Parse(time.RFC3339, item.Timestamp)
		events = append(events, ev)
	}
	return events, nil
}
