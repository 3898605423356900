package lists

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/meridian/voter-gateway/internal/domain"
)

// DynamoRepository stores lists in a single table keyed
// PK=USER#<user_id>, SK=LIST#<list_id>.
type DynamoRepository struct {
	client    *dynamodb.Client
	tableName string
}

// NewDynamoRepository creates a DynamoDB-backed list repository.
func NewDynamoRepository(client *dynamodb.Client, tableName string) *DynamoRepository {
	return &DynamoRepository{client: client, tableName: tableName}
}

type listItem struct {
	PK             string `dynamodbav:"PK"`
	SK             string `dynamodbav:"SK"`
	ListID         string `dynamodbav:"list_id"`
	OwnerUserID    string `dynamodbav:"owner_user_id"`
	Name           string `dynamodbav:"name"`
	Description    string `dynamodbav:"description,omitempty"`
	SQLText        string `dynamodbav:"sql_text"`
	Prompt         string `dynamodbav:"prompt,omitempty"`
	RowCount       int    `dynamodbav:"row_count"`
	CreatedAt      string `dynamodbav:"created_at"`
	UpdatedAt      string `dynamodbav:"updated_at"`
	IsActive       bool   `dynamodbav:"is_active"`
	AccessCount    int    `dynamodbav:"access_count"`
	LastAccessedAt string `dynamodbav:"last_accessed_at,omitempty"`
}

func listPK(userID string) string { return "USER#" + userID }
func listSK(listID string) string { return "LIST#" + listID }

func toItem(l *domain.SavedQuery) listItem {
	item := listItem{
		PK:          listPK(l.OwnerUserID),
		SK:          listSK(l.ID),
		ListID:      l.ID,
		OwnerUserID: l.OwnerUserID,
		Name:        l.Name,
		Description: l.Description,
		SQLText:     l.SQLText,
		Prompt:      l.Prompt,
		RowCount:    l.RowCount,
		CreatedAt:   l.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   l.UpdatedAt.UTC().Format(time.RFC3339),
		IsActive:    l.IsActive,
		AccessCount: l.AccessCount,
	}
	if l.LastAccessedAt != nil {
		item.LastAccessedAt = l.LastAccessedAt.UTC().Format(time.RFC3339)
	}
	return item
}

func fromItem(item listItem) domain.SavedQuery {
	l := domain.SavedQuery{
		ID:          item.ListID,
		OwnerUserID: item.OwnerUserID,
		Name:        item.Name,
		Description: item.Description,
		SQLText:     item.SQLText,
		Prompt:      item.Prompt,
		RowCount:    item.RowCount,
		IsActive:    item.IsActive,
		AccessCount: item.AccessCount,
	}
	l.CreatedAt, _ = time.Parse(time.RFC3339, item.CreatedAt)
	l.UpdatedAt, _ = time.Parse(time.RFC3339, item.UpdatedAt)
	if item.LastAccessedAt != "" {
		if t, err := time.Parse(time.RFC3339, item.LastAccessedAt); err == nil {
			l.LastAccessedAt = &t
		}
	}
	return l
}

func (r *DynamoRepository) Get(ctx context.Context, userID, listID string) (*domain.SavedQuery, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: listPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: listSK(listID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting list: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var item listItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling list: %w", err)
	}
	l := fromItem(item)
	return &l, nil
}

func (r *DynamoRepository) ListActive(ctx context.Context, userID string) ([]domain.SavedQuery, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		FilterExpression:       aws.String("is_active = :active"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: listPK(userID)},
			":sk":     &types.AttributeValueMemberS{Value: "LIST#"},
			":active": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("querying lists: %w", err)
	}

	result := make([]domain.SavedQuery, 0, len(out.Items))
	for _, raw := range out.Items {
		var item listItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("unmarshaling list: %w", err)
		}
		result = append(result, fromItem(item))
	}
	// Newest first; Dynamo sorts by SK (list id), not creation time.
	for i := 0; i < len(result); i++ {
		for j := i + 1; j < len(result); j++ {
			if result[j].CreatedAt.After(result[i].CreatedAt) {
				result[i], result[j] = result[j], result[i]
			}
		}
	}
	return result, nil
}

func (r *DynamoRepository) Create(ctx context.Context, l *domain.SavedQuery) error {
	av, err := attributevalue.MarshalMap(toItem(l))
	if err != nil {
		return fmt.Errorf("marshaling list: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("putting list: %w", err)
	}
	return nil
}

func (r *DynamoRepository) Update(ctx context.Context, userID, listID string, u UpdateFields) error {
	sets := []string{"updated_at = :updated_at"}
	values := map[string]types.AttributeValue{
		":updated_at": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
	}
	names := map[string]string{}

	if u.Name != nil {
		sets = append(sets, "#name = :name")
		names["#name"] = "name"
		values[":name"] = &types.AttributeValueMemberS{Value: *u.Name}
	}
	if u.Description != nil {
		sets = append(sets, "description = :description")
		values[":description"] = &types.AttributeValueMemberS{Value: *u.Description}
	}
	if u.SQLText != nil {
		sets = append(sets, "sql_text = :sql_text")
		values[":sql_text"] = &types.AttributeValueMemberS{Value: *u.SQLText}
	}
	if u.Prompt != nil {
		sets = append(sets, "prompt = :prompt")
		values[":prompt"] = &types.AttributeValueMemberS{Value: *u.Prompt}
	}
	if u.RowCount != nil {
		sets = append(sets, "row_count = :row_count")
		values[":row_count"] = &types.AttributeValueMemberN{Value: strconv.Itoa(*u.RowCount)}
	}
	if u.IsActive != nil {
		sets = append(sets, "is_active = :is_active")
		values[":is_active"] = &types.AttributeValueMemberBOOL{Value: *u.IsActive}
	}

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: listPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: listSK(listID)},
		},
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(PK)"),
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}

	if _, err := r.client.UpdateItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("updating list: %w", err)
	}
	return nil
}

func (r *DynamoRepository) RecordAccess(ctx context.Context, userID, listID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: listPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: listSK(listID)},
		},
		UpdateExpression: aws.String("SET access_count = if_not_exists(access_count, :zero) + :one, last_accessed_at = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":one":  &types.AttributeValueMemberN{Value: "1"},
			":now":  &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("recording list access: %w", err)
	}
	return nil
}
