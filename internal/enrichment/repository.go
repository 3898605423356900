package enrichment

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/meridian/voter-gateway/internal/domain"
)

// Repository persists enrichment records. Records are append-only: a fresh
// enrichment writes a new record and older ones stay for audit.
type Repository interface {
	// Save appends a record.
	Save(ctx context.Context, rec *domain.EnrichmentRecord) error

	// Latest returns the newest record for a person, or ErrNoRecord.
	Latest(ctx context.Context, personID string) (*domain.EnrichmentRecord, error)

	// LatestBatch returns the newest record per person for the given ids;
	// persons with no record are absent from the map.
	LatestBatch(ctx context.Context, personIDs []string) (map[string]*domain.EnrichmentRecord, error)
}

// DynamoRepository stores records keyed PK=PERSON#<person_id>,
// SK=ENRICH#<enriched_at> so the latest record is one descending query.
type DynamoRepository struct {
	client    *dynamodb.Client
	tableName string
}

// NewDynamoRepository creates a DynamoDB-backed enrichment repository.
func NewDynamoRepository(client *dynamodb.Client, tableName string) *DynamoRepository {
	return &DynamoRepository{client: client, tableName: tableName}
}

type enrichItem struct {
	PK               string  `dynamodbav:"PK"`
	SK               string  `dynamodbav:"SK"`
	PersonID         string  `dynamodbav:"person_id"`
	ProviderRecordID string  `dynamodbav:"provider_record_id,omitempty"`
	MatchLikelihood  float64 `dynamodbav:"match_likelihood"`
	Payload          []byte  `dynamodbav:"payload"`
	EnrichedAt       string  `dynamodbav:"enriched_at"`
	HasEmail         bool    `dynamodbav:"has_email"`
	HasPhone         bool    `dynamodbav:"has_phone"`
	HasLinkedIn      bool    `dynamodbav:"has_linkedin"`
	HasJob           bool    `dynamodbav:"has_job"`
	HasEducation     bool    `dynamodbav:"has_education"`
	Email            string  `dynamodbav:"email,omitempty"`
	Phone            string  `dynamodbav:"phone,omitempty"`
	LinkedIn         string  `dynamodbav:"linkedin,omitempty"`
	JobTitle         string  `dynamodbav:"job_title,omitempty"`
	JobCompany       string  `dynamodbav:"job_company,omitempty"`
}

func enrichPK(personID string) string { return "PERSON#" + personID }

func (r *DynamoRepository) Save(ctx context.Context, rec *domain.EnrichmentRecord) error {
	item := enrichItem{
		PK:               enrichPK(rec.PersonID),
		SK:               "ENRICH#" + rec.EnrichedAt.UTC().Format(time.RFC3339Nano),
		PersonID:         rec.PersonID,
		ProviderRecordID: rec.ProviderRecordID,
		MatchLikelihood:  rec.MatchLikelihood,
		Payload:          rec.Payload,
		EnrichedAt:       rec.EnrichedAt.UTC().Format(time.RFC3339Nano),
		HasEmail:         rec.HasEmail,
		HasPhone:         rec.HasPhone,
		HasLinkedIn:      rec.HasLinkedIn,
		HasJob:           rec.HasJob,
		HasEducation:     rec.HasEducation,
		Email:            rec.Email,
		Phone:            rec.Phone,
		LinkedIn:         rec.LinkedIn,
		JobTitle:         rec.JobTitle,
		JobCompany:       rec.JobCompany,
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling enrichment record: %w", err)
	}
	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("putting enrichment record: %w", err)
	}
	return nil
}

func (r *DynamoRepository) Latest(ctx context.Context, personID string) (*domain.EnrichmentRecord, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: enrichPK(personID)},
			":sk": &types.AttributeValueMemberS{Value: "ENRICH#"},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("querying enrichment record: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, ErrNoRecord
	}
	var item enrichItem
	if err := attributevalue.UnmarshalMap(out.Items[0], &item); err != nil {
		return nil, fmt.Errorf("unmarshaling enrichment record: %w", err)
	}
	rec := recordFromDynamoItem(item)
	return &rec, nil
}

func (r *DynamoRepository) LatestBatch(ctx context.Context, personIDs []string) (map[string]*domain.EnrichmentRecord, error) {
	out := make(map[string]*domain.EnrichmentRecord, len(personIDs))
	for _, id := range personIDs {
		rec, err := r.Latest(ctx, id)
		if err == ErrNoRecord {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = rec
	}
	return out, nil
}

func recordFromDynamoItem(item enrichItem) domain.EnrichmentRecord {
	rec := domain.EnrichmentRecord{
		PersonID:         item.PersonID,
		ProviderRecordID: item.ProviderRecordID,
		MatchLikelihood:  item.MatchLikelihood,
		Payload:          item.Payload,
		HasEmail:         item.HasEmail,
		HasPhone:         item.HasPhone,
		HasLinkedIn:      item.HasLinkedIn,
		HasJob:           item.HasJob,
		HasEducation:     item.HasEducation,
		Email:            item.Email,
		Phone:            item.Phone,
		LinkedIn:         item.LinkedIn,
		JobTitle:         item.JobTitle,
		JobCompany:       item.JobCompany,
	}
	rec.EnrichedAt, _ = time.Parse(time.RFC3339Nano, item.EnrichedAt)
	return rec
}
