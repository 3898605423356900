package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/meridian/voter-gateway/internal/domain"
	"github.com/meridian/voter-gateway/internal/pkg/logger"
)

// seqRetries bounds optimistic sequence allocation retries under
// concurrent appends to the same session.
const seqRetries = 5

// DynamoRepository stores sessions and messages in one table:
// session items under PK=USER#<user_id>, SK=SESSION#<session_id> carrying
// last_seq; message items under PK=SESSION#<session_id>, SK=MSG#<seq,
// zero-padded> so a sequence range is one key-condition query.
type DynamoRepository struct {
	client    *dynamodb.Client
	tableName string
	retention time.Duration // message TTL; zero disables
}

// NewDynamoRepository creates a DynamoDB-backed session repository.
// retention sets the TTL attribute on message items; the table's TTL
// config does the actual expiry.
func NewDynamoRepository(client *dynamodb.Client, tableName string, retention time.Duration) *DynamoRepository {
	return &DynamoRepository{client: client, tableName: tableName, retention: retention}
}

type sessionItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	SessionID string `dynamodbav:"session_id"`
	UserID    string `dynamodbav:"user_id"`
	Name      string `dynamodbav:"name"`
	ModelID   string `dynamodbav:"model_id"`
	CreatedAt string `dynamodbav:"created_at"`
	UpdatedAt string `dynamodbav:"updated_at"`
	IsActive  bool   `dynamodbav:"is_active"`
	LastSeq   int    `dynamodbav:"last_seq"`
}

type messageItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	MessageID string `dynamodbav:"message_id"`
	SessionID string `dynamodbav:"session_id"`
	Role      string `dynamodbav:"role"`
	Text      string `dynamodbav:"text"`
	Timestamp string `dynamodbav:"timestamp"`
	Seq       int    `dynamodbav:"seq"`
	TTL       int64  `dynamodbav:"TTL,omitempty"`
}

func sessionPK(userID string) string    { return "USER#" + userID }
func sessionSK(id string) string        { return "SESSION#" + id }
func messagePK(sessionID string) string { return "SESSION#" + sessionID }
func messageSK(seq int) string          { return fmt.Sprintf("MSG#%012d", seq) }

func (r *DynamoRepository) CreateSession(ctx context.Context, s *domain.Session) error {
	item := sessionItem{
		PK:        sessionPK(s.UserID),
		SK:        sessionSK(s.ID),
		SessionID: s.ID,
		UserID:    s.UserID,
		Name:      s.Name,
		ModelID:   s.ModelID,
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: s.UpdatedAt.UTC().Format(time.RFC3339),
		IsActive:  s.IsActive,
		LastSeq:   0,
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("putting session: %w", err)
	}
	return nil
}

func (r *DynamoRepository) GetSession(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: sessionSK(sessionID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var item sessionItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}
	s := sessionFromItem(item)
	return &s, nil
}

func sessionFromItem(item sessionItem) domain.Session {
	s := domain.Session{
		ID:       item.SessionID,
		UserID:   item.UserID,
		Name:     item.Name,
		ModelID:  item.ModelID,
		IsActive: item.IsActive,
	}
	s.CreatedAt, _ = time.Parse(time.RFC3339, item.CreatedAt)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, item.UpdatedAt)
	return s
}

func (r *DynamoRepository) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: sessionPK(userID)},
			":sk": &types.AttributeValueMemberS{Value: "SESSION#"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	sessions := make([]domain.Session, 0, len(out.Items))
	for _, raw := range out.Items {
		var item sessionItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("unmarshaling session: %w", err)
		}
		sessions = append(sessions, sessionFromItem(item))
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

func (r *DynamoRepository) UpdateSession(ctx context.Context, userID, sessionID string, u SessionUpdate) error {
	expr := "SET updated_at = :updated_at"
	values := map[string]types.AttributeValue{
		":updated_at": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
	}
	names := map[string]string{}
	if u.Name != nil {
		expr += ", #name = :name"
		names["#name"] = "name"
		values[":name"] = &types.AttributeValueMemberS{Value: *u.Name}
	}
	if u.ModelID != nil {
		expr += ", model_id = :model_id"
		values[":model_id"] = &types.AttributeValueMemberS{Value: *u.ModelID}
	}
	if u.IsActive != nil {
		expr += ", is_active = :is_active"
		values[":is_active"] = &types.AttributeValueMemberBOOL{Value: *u.IsActive}
	}

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: sessionSK(sessionID)},
		},
		UpdateExpression:          aws.String(expr),
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
		return fmt.Errorf("updating session: %w", err)
	}
	return nil
}

// AppendMessage allocates seq = last_seq+1 with an optimistic transaction:
// a conditional bump of the session's last_seq and a put of the message
// item commit together or not at all, so sequences stay dense even under
// concurrent appends. Lost races re-read and retry up to seqRetries.
func (r *DynamoRepository) AppendMessage(ctx context.Context, userID string, m *domain.Message) (int, error) {
	for attempt := 0; attempt < seqRetries; attempt++ {
		lastSeq, err := r.lastSeq(ctx, userID, m.SessionID)
		if err != nil {
			return 0, err
		}
		next := lastSeq + 1

		msg := messageItem{
			PK:        messagePK(m.SessionID),
			SK:        messageSK(next),
			MessageID: m.ID,
			SessionID: m.SessionID,
			Role:      string(m.Role),
			Text:      m.Text,
			Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
			Seq:       next,
		}
		if r.retention > 0 {
			msg.TTL = m.Timestamp.Add(r.retention).Unix()
		}
		av, err := attributevalue.MarshalMap(msg)
		if err != nil {
			return 0, fmt.Errorf("marshaling message: %w", err)
		}

		_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				{
					Update: &types.Update{
						TableName: aws.String(r.tableName),
						Key: map[string]types.AttributeValue{
							"PK": &types.AttributeValueMemberS{Value: sessionPK(userID)},
							"SK": &types.AttributeValueMemberS{Value: sessionSK(m.SessionID)},
						},
						UpdateExpression:    aws.String("SET last_seq = :next, updated_at = :now"),
						ConditionExpression: aws.String("last_seq = :expected"),
						ExpressionAttributeValues: map[string]types.AttributeValue{
							":next":     &types.AttributeValueMemberN{Value: strconv.Itoa(next)},
							":expected": &types.AttributeValueMemberN{Value: strconv.Itoa(lastSeq)},
							":now":      &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
						},
					},
				},
				{
					Put: &types.Put{
						TableName: aws.String(r.tableName),
						Item:      av,
					},
				},
			},
		})
		if err == nil {
			return next, nil
		}

		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			logger.Debug("sequence allocation retry",
				"session_id", m.SessionID, "attempt", attempt+1)
			continue
		}
		return 0, fmt.Errorf("appending message: %w", err)
	}
	return 0, ErrSequenceConflict
}

func (r *DynamoRepository) lastSeq(ctx context.Context, userID, sessionID string) (int, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: sessionSK(sessionID)},
		},
		ProjectionExpression: aws.String("last_seq"),
		ConsistentRead:       aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("reading last_seq: %w", err)
	}
	if out.Item == nil {
		return 0, ErrNotFound
	}
	var meta struct {
		LastSeq int `dynamodbav:"last_seq"`
	}
	if err := attributevalue.UnmarshalMap(out.Item, &meta); err != nil {
		return 0, fmt.Errorf("unmarshaling last_seq: %w", err)
	}
	return meta.LastSeq, nil
}

func (r *DynamoRepository) MessagesAfter(ctx context.Context, sessionID string, afterSeq, limit int) ([]domain.Message, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND SK > :sk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: messagePK(sessionID)},
			":sk": &types.AttributeValueMemberS{Value: messageSK(afterSeq)},
		},
		ScanIndexForward: aws.Bool(true),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}
	out, err := r.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}

	msgs := make([]domain.Message, 0, len(out.Items))
	for _, raw := range out.Items {
		var item messageItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("unmarshaling message: %w", err)
		}
		m := domain.Message{
			ID:             item.MessageID,
			SessionID:      item.SessionID,
			Role:           domain.MessageRole(item.Role),
			Text:           item.Text,
			SequenceNumber: item.Seq,
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, item.Timestamp)
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// DeleteExpired is a no-op for DynamoDB: message items carry a TTL
// attribute and the table's TTL config does the expiry.
func (r *DynamoRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}
