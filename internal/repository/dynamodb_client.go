package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"sms-agent/internal/domain"
)

const (
	pkPrefixUser   = "USER#"
	skConversation = "CONV#"

	// Physical backstop behind the logical expiration rule. Expired
	// records are treated as absent on read long before DynamoDB
	// actually reaps them.
	ttlDuration = 30 * 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Store defines the conversation persistence operations consumed by the
// chat service. The store is a passive surface: read, write, and delete by
// user key, no business logic.
type Store interface {
	GetConversation(ctx context.Context, userID string) (domain.ConversationRecord, bool, error)
	PutConversation(ctx context.Context, userID string, rec domain.ConversationRecord) error
	DeleteConversation(ctx context.Context, userID string) error
}

// Client wraps a DynamoDB table holding one conversation document per
// user.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// userPK returns the DynamoDB partition key for a user identity.
func userPK(userID string) string {
	return pkPrefixUser + userID
}

func conversationKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
		"SK": &types.AttributeValueMemberS{Value: skConversation},
	}
}

// ttlValue returns a Unix timestamp 30 days in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// GetConversation fetches the conversation document for a user. The
// second return value is false when no document exists.
func (c *Client) GetConversation(ctx context.Context, userID string) (domain.ConversationRecord, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            conversationKey(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationRecord{}, false, fmt.Errorf("repository: GetConversation get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ConversationRecord{}, false, nil
	}

	rec, err := itemToRecord(out.Item)
	if err != nil {
		return domain.ConversationRecord{}, false, fmt.Errorf("repository: GetConversation unmarshal: %w", err)
	}
	return rec, true, nil
}

// PutConversation writes or replaces the conversation document for a
// user. Last writer wins; concurrent turns for the same user may drop one
// turn's persisted history.
func (c *Client) PutConversation(ctx context.Context, userID string, rec domain.ConversationRecord) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("repository: PutConversation: user id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      recordItem(userID, rec),
	})
	if err != nil {
		return fmt.Errorf("repository: PutConversation: %w", err)
	}
	return nil
}

// DeleteConversation removes the conversation document for a user.
// Deleting an absent document is not an error.
func (c *Client) DeleteConversation(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("repository: DeleteConversation: user id is required")
	}
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       conversationKey(userID),
	})
	if err != nil {
		return fmt.Errorf("repository: DeleteConversation: %w", err)
	}
	return nil
}

func recordItem(userID string, rec domain.ConversationRecord) map[string]types.AttributeValue {
	turns := make([]types.AttributeValue, 0, len(rec.Turns))
	for _, t := range rec.Turns {
		turns = append(turns, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"role": &types.AttributeValueMemberS{Value: t.Role},
			"text": &types.AttributeValueMemberS{Value: t.Text},
			"ts":   &types.AttributeValueMemberS{Value: t.Timestamp.UTC().Format(time.RFC3339Nano)},
		}})
	}
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: userPK(userID)},
		"SK":           &types.AttributeValueMemberS{Value: skConversation},
		"userId":       &types.AttributeValueMemberS{Value: userID},
		"turns":        &types.AttributeValueMemberL{Value: turns},
		"turnCount":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", len(rec.Turns))},
		"lastActivity": &types.AttributeValueMemberS{Value: rec.LastActivity.UTC().Format(time.RFC3339Nano)},
		"ttl":          &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue())},
	}
}

func itemToRecord(item map[string]types.AttributeValue) (domain.ConversationRecord, error) {
	lastActivity, err := timeAttr(item, "lastActivity")
	if err != nil {
		return domain.ConversationRecord{}, err
	}

	list, err := listAttr(item, "turns")
	if err != nil {
		return domain.ConversationRecord{}, err
	}
	turns := make([]domain.Turn, 0, len(list))
	for _, av := range list {
		m, ok := av.(*types.AttributeValueMemberM)
		if !ok {
			return domain.ConversationRecord{}, errors.New("repository: turn element is not a map")
		}
		turn, err := mapToTurn(m.Value)
		if err != nil {
			return domain.ConversationRecord{}, err
		}
		turns = append(turns, turn)
	}

	return domain.ConversationRecord{Turns: turns, LastActivity: lastActivity}, nil
}

func mapToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Turn{}, err
	}
	ts, err := timeAttr(item, "ts")
	if err != nil {
		return domain.Turn{}, err
	}
	return domain.Turn{Role: role, Text: text, Timestamp: ts}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}

func listAttr(item map[string]types.AttributeValue, key string) ([]types.AttributeValue, error) {
	v, ok := item[key]
	if !ok {
		return nil, fmt.Errorf("repository: missing attribute %q", key)
	}
	l, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return nil, fmt.Errorf("repository: attribute %q is not a list", key)
	}
	return l.Value, nil
}
