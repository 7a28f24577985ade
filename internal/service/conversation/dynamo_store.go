package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/summarizer/summary-chat/internal/model/chat"
)

const (
	skMeta = "META#"

	// fixed-width so updatedAt sorts lexically on the user index
	dynamoTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// dynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type dynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore persists conversations as one META# item per conversation,
// with a global secondary index on userId sorted by updatedAt.
type DynamoStore struct {
	api       dynamoAPI
	tableName string
	userIndex string
}

// NewDynamoStore wraps a DynamoDB table.
func NewDynamoStore(api dynamoAPI, tableName, userIndex string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("conversation: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("conversation: table name must not be empty")
	}
	if strings.TrimSpace(userIndex) == "" {
		return nil, errors.New("conversation: user index must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName, userIndex: userIndex}, nil
}

func convPK(id string) string {
	return "CONV#" + id
}

func (s *DynamoStore) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: convPK(id)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

func (s *DynamoStore) Put(ctx context.Context, conv chat.Conversation) error {
	item, err := conversationItem(conv)
	if err != nil {
		return fmt.Errorf("conversation: Put: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("conversation: Put: %w", err)
	}
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, id string) (chat.Conversation, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("conversation: Get: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return chat.Conversation{}, ErrNotFound
	}

	conv, err := itemToConversation(out.Item, true)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("conversation: Get decode: %w", err)
	}
	return conv, nil
}

func (s *DynamoStore) Delete(ctx context.Context, id string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(id),
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrNotFound
		}
		return fmt.Errorf("conversation: Delete: %w", err)
	}
	return nil
}

func (s *DynamoStore) ListByUser(ctx context.Context, userID string) ([]chat.Conversation, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(s.userIndex),
		KeyConditionExpression: aws.String("userId = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: aws.Bool(false),
	}

	out := make([]chat.Conversation, 0)
	for {
		page, err := s.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("conversation: ListByUser query: %w", err)
		}
		for _, item := range page.Items {
			conv, err := itemToConversation(item, false)
			if err != nil {
				return nil, fmt.Errorf("conversation: ListByUser decode: %w", err)
			}
			out = append(out, conv)
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = page.LastEvaluatedKey
	}
	return out, nil
}

func conversationItem(conv chat.Conversation) (map[string]types.AttributeValue, error) {
	messages, err := json.Marshal(nonNilMessages(conv.Messages))
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}

	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(conv.ID)},
		"SK":             &types.AttributeValueMemberS{Value: skMeta},
		"conversationId": &types.AttributeValueMemberS{Value: conv.ID},
		"summaryId":      &types.AttributeValueMemberS{Value: conv.SummaryID},
		"title":          &types.AttributeValueMemberS{Value: conv.Title},
		"createdAt":      &types.AttributeValueMemberS{Value: formatDynamoTime(conv.CreatedAt)},
		"updatedAt":      &types.AttributeValueMemberS{Value: formatDynamoTime(conv.UpdatedAt)},
		"messageCount":   &types.AttributeValueMemberN{Value: strconv.Itoa(conv.MessageCount)},
		"messages":       &types.AttributeValueMemberS{Value: string(messages)},
	}
	// index key attributes must be omitted rather than empty
	if conv.UserID != "" {
		item["userId"] = &types.AttributeValueMemberS{Value: conv.UserID}
	}
	return item, nil
}

func itemToConversation(item map[string]types.AttributeValue, withMessages bool) (chat.Conversation, error) {
	id, err := strAttr(item, "conversationId")
	if err != nil {
		return chat.Conversation{}, err
	}
	summaryID, err := strAttr(item, "summaryId")
	if err != nil {
		return chat.Conversation{}, err
	}
	title, err := strAttr(item, "title")
	if err != nil {
		return chat.Conversation{}, err
	}
	created, err := timeAttr(item, "createdAt")
	if err != nil {
		return chat.Conversation{}, err
	}
	updated, err := timeAttr(item, "updatedAt")
	if err != nil {
		return chat.Conversation{}, err
	}
	count, err := intAttr(item, "messageCount")
	if err != nil {
		return chat.Conversation{}, err
	}
	userID, _ := strAttr(item, "userId") // absent for anonymous conversations

	conv := chat.Conversation{
		ID:           id,
		SummaryID:    summaryID,
		UserID:       userID,
		Title:        title,
		CreatedAt:    created,
		UpdatedAt:    updated,
		IsPersistent: true,
		MessageCount: count,
	}

	if withMessages {
		raw, err := strAttr(item, "messages")
		if err != nil {
			return chat.Conversation{}, err
		}
		if err := json.Unmarshal([]byte(raw), &conv.Messages); err != nil {
			return chat.Conversation{}, fmt.Errorf("decode messages: %w", err)
		}
	}
	return conv, nil
}

func formatDynamoTime(t time.Time) string {
	return t.UTC().Format(dynamoTimeLayout)
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(dynamoTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse attribute %q: %w", key, err)
	}
	return t, nil
}
