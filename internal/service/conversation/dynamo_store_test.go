package conversation

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/summarizer/summary-chat/internal/model/chat"
)

// fakeDynamo is a single-table stand-in that pages Query results two at a time.
type fakeDynamo struct {
	items    map[string]map[string]types.AttributeValue
	queries  []*dynamodb.QueryInput
	lastPut  *dynamodb.PutItemInput
	queryErr error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func pkOf(key map[string]types.AttributeValue) string {
	return key["PK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[pkOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPut = in
	f.items[pkOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	pk := pkOf(in.Key)
	if _, ok := f.items[pk]; !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	delete(f.items, pk)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries = append(f.queries, in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}

	userID := in.ExpressionAttributeValues[":uid"].(*types.AttributeValueMemberS).Value
	var matched []map[string]types.AttributeValue
	for _, item := range f.items {
		if v, ok := item["userId"].(*types.AttributeValueMemberS); ok && v.Value == userID {
			matched = append(matched, item)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a := matched[i]["updatedAt"].(*types.AttributeValueMemberS).Value
		b := matched[j]["updatedAt"].(*types.AttributeValueMemberS).Value
		return a > b
	})

	start := 0
	if in.ExclusiveStartKey != nil {
		for i, item := range matched {
			if pkOf(item) == pkOf(in.ExclusiveStartKey) {
				start = i + 1
			}
		}
	}
	end := start + 2
	out := &dynamodb.QueryOutput{}
	if end < len(matched) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": matched[end-1]["PK"]}
	} else {
		end = len(matched)
	}
	out.Items = matched[start:end]
	return out, nil
}

func mustNewDynamoStore(t *testing.T, db *fakeDynamo) *DynamoStore {
	t.Helper()
	store, err := NewDynamoStore(db, "conversations", "userId-updatedAt-index")
	require.NoError(t, err)
	return store
}

func TestNewDynamoStoreValidates(t *testing.T) {
	_, err := NewDynamoStore(nil, "t", "i")
	require.Error(t, err)
	_, err = NewDynamoStore(newFakeDynamo(), " ", "i")
	require.Error(t, err)
	_, err = NewDynamoStore(newFakeDynamo(), "t", "")
	require.Error(t, err)
}

func TestDynamoStoreRoundTrip(t *testing.T) {
	db := newFakeDynamo()
	store := mustNewDynamoStore(t, db)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 5, time.UTC)

	conv := chat.Conversation{
		ID:           "c-1",
		SummaryID:    "sum-1",
		UserID:       "u-1",
		Title:        "Skills",
		CreatedAt:    created,
		UpdatedAt:    created.Add(time.Minute),
		IsPersistent: true,
		MessageCount: 2,
		Messages:     chat.StripTyping(transcript()),
	}
	require.NoError(t, store.Put(ctx, conv))
	require.Equal(t, "CONV#c-1", pkOf(db.lastPut.Item))
	require.Equal(t, skMeta, db.lastPut.Item["SK"].(*types.AttributeValueMemberS).Value)

	got, err := store.Get(ctx, "c-1")
	require.NoError(t, err)
	require.Equal(t, "sum-1", got.SummaryID)
	require.Equal(t, "u-1", got.UserID)
	require.True(t, got.CreatedAt.Equal(created))
	require.True(t, got.UpdatedAt.Equal(conv.UpdatedAt))
	require.Len(t, got.Messages, 2)
	require.True(t, got.IsPersistent)
}

func TestDynamoStoreOmitsEmptyUserID(t *testing.T) {
	db := newFakeDynamo()
	store := mustNewDynamoStore(t, db)

	require.NoError(t, store.Put(context.Background(), chat.Conversation{ID: "c-1", SummaryID: "s", Title: "t"}))
	_, ok := db.lastPut.Item["userId"]
	require.False(t, ok)

	got, err := store.Get(context.Background(), "c-1")
	require.NoError(t, err)
	require.Empty(t, got.UserID)
}

func TestDynamoStoreNotFound(t *testing.T) {
	store := mustNewDynamoStore(t, newFakeDynamo())
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.Delete(ctx, "missing"), ErrNotFound)
}

func TestDynamoStoreDecodeFailure(t *testing.T) {
	db := newFakeDynamo()
	db.items["CONV#bad"] = map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "CONV#bad"},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
	store := mustNewDynamoStore(t, db)

	_, err := store.Get(context.Background(), "bad")
	require.Error(t, err)
	require.Contains(t, err.Error(), "conversationId")
}

func TestDynamoStoreListByUserFollowsPages(t *testing.T) {
	db := newFakeDynamo()
	store := mustNewDynamoStore(t, db)
	svc := NewService(store)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		svc.now = func() time.Time { return at }
		_, err := svc.Save(ctx, SaveRequest{SummaryID: "sum-1", UserID: "u-1", Title: "t", Messages: transcript()})
		require.NoError(t, err)
	}

	items, err := svc.List(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, items, 5)
	require.Len(t, db.queries, 3)
	require.Equal(t, "userId-updatedAt-index", *db.queries[0].IndexName)
	require.False(t, *db.queries[0].ScanIndexForward)
	require.True(t, items[0].UpdatedAt.After(items[4].UpdatedAt))
	require.Nil(t, items[0].Messages)
}

func TestDynamoStoreListByUserQueryError(t *testing.T) {
	db := newFakeDynamo()
	db.queryErr = errors.New("ResourceNotFoundException")
	store := mustNewDynamoStore(t, db)

	_, err := store.ListByUser(context.Background(), "u-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ListByUser")
}
