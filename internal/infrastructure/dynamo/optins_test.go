package dynamo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-doubleoptin/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDynamo struct{ mock.Mock }

func (m *mockDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*dynamodb.GetItemOutput), args.Error(1)
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	return &dynamodb.PutItemOutput{}, args.Error(0)
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, in)
	return &dynamodb.UpdateItemOutput{}, args.Error(0)
}

func (m *mockDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	args := m.Called(ctx, in)
	return &dynamodb.DeleteItemOutput{}, args.Error(0)
}

func (m *mockDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*dynamodb.QueryOutput), args.Error(1)
}

func (m *mockDynamo) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*dynamodb.ScanOutput), args.Error(1)
}

func (m *mockDynamo) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*dynamodb.BatchWriteItemOutput), args.Error(1)
}

func item(t *testing.T, o domain.OptIn) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(toRow(&o))
	require.NoError(t, err)
	return av
}

func TestOptInRepo_InsertAssignsIDAndHash(t *testing.T) {
	api := &mockDynamo{}
	api.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		return aws.ToString(in.ConditionExpression) == "attribute_not_exists(#id)"
	})).Return(nil)

	repo := NewOptInRepo(api, "optins")
	o := &domain.OptIn{FormID: "1", FormType: "cf7", Email: "a@example.com"}
	require.NoError(t, repo.Save(context.Background(), o))

	assert.Len(t, o.ID, 26)
	assert.Len(t, o.Hash, 64)
	assert.False(t, o.CreateTime.IsZero())
	api.AssertExpectations(t)
}

func TestOptInRepo_InsertFailureLeavesRecordUntouched(t *testing.T) {
	api := &mockDynamo{}
	api.On("PutItem", mock.Anything, mock.Anything).Return(errors.New("throttled"))

	o := &domain.OptIn{FormID: "1", Email: "a@example.com"}
	err := NewOptInRepo(api, "optins").Save(context.Background(), o)

	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Empty(t, o.ID)
	assert.Empty(t, o.Hash)
}

func TestOptInRepo_UpdateRejectedByCondition(t *testing.T) {
	api := &mockDynamo{}
	api.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		n, ok := in.ExpressionAttributeValues[":new"].(*types.AttributeValueMemberN)
		return ok && n.Value == "0"
	})).Return(&types.ConditionalCheckFailedException{})

	o := &domain.OptIn{ID: "01H", Hash: "h", Email: "a@example.com"}
	err := NewOptInRepo(api, "optins").Save(context.Background(), o)

	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestOptInRepo_Confirm(t *testing.T) {
	api := &mockDynamo{}
	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return aws.ToString(in.ConditionExpression) == "attribute_exists(#id) AND #cond = :zero"
	})).Return(nil).Once()
	api.On("UpdateItem", mock.Anything, mock.Anything).Return(&types.ConditionalCheckFailedException{}).Once()

	repo := NewOptInRepo(api, "optins")
	at := time.Now()
	require.NoError(t, repo.Confirm(context.Background(), "01H", "1.2.3.4", at))
	assert.ErrorIs(t, repo.Confirm(context.Background(), "01H", "1.2.3.4", at), domain.ErrAlreadyConfirmed)
}

func TestOptInRepo_FindByHash(t *testing.T) {
	api := &mockDynamo{}
	stored := domain.OptIn{ID: "01H", Hash: "abc", Email: "a@example.com", Confirmed: true,
		CreateTime: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	api.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return aws.ToString(in.IndexName) == "hash-index"
	})).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item(t, stored)}}, nil)

	got, err := NewOptInRepo(api, "optins").FindByHash(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "01H", got.ID)
	assert.True(t, got.Confirmed)
	assert.Equal(t, stored.CreateTime, got.CreateTime)
}

func TestOptInRepo_FindByHash_NotFound(t *testing.T) {
	api := &mockDynamo{}
	api.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{}, nil)

	_, err := NewOptInRepo(api, "optins").FindByHash(context.Background(), "abc")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOptInRepo_ExistsByEmailAndFormID_IgnoresOptedOut(t *testing.T) {
	api := &mockDynamo{}
	optedOut := domain.OptIn{ID: "1", FormID: "7", Email: "a@example.com", OptOutTime: time.Now(), IPOptOut: "1.1.1.1"}
	other := domain.OptIn{ID: "2", FormID: "8", Email: "a@example.com"}
	api.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{item(t, optedOut), item(t, other)},
	}, nil)

	exists, err := NewOptInRepo(api, "optins").ExistsByEmailAndFormID(context.Background(), "a@example.com", "7", false)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOptInRepo_DeleteOlderThan(t *testing.T) {
	api := &mockDynamo{}
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	old := domain.OptIn{ID: "old", Confirmed: true, CreateTime: now.Add(-48 * time.Hour), Files: []string{"old/cv.pdf"}}
	fresh := domain.OptIn{ID: "fresh", Confirmed: true, CreateTime: now}
	pending := domain.OptIn{ID: "pending", CreateTime: now.Add(-48 * time.Hour)}
	api.On("Scan", mock.Anything, mock.Anything).Return(&dynamodb.ScanOutput{
		Items: []map[string]types.AttributeValue{item(t, old), item(t, fresh), item(t, pending)},
	}, nil)
	api.On("BatchWriteItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.BatchWriteItemInput) bool {
		reqs := in.RequestItems["optins"]
		return len(reqs) == 1
	})).Return(&dynamodb.BatchWriteItemOutput{}, nil)

	n, files, err := NewOptInRepo(api, "optins").DeleteOlderThan(context.Background(), now.Add(-24*time.Hour), true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"old/cv.pdf"}, files)
	api.AssertExpectations(t)
}

func TestOptInRepo_FindEligibleForReminder(t *testing.T) {
	api := &mockDynamo{}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	due := domain.OptIn{ID: "due", CreateTime: now.Add(-30 * time.Hour)}
	tooNew := domain.OptIn{ID: "new", CreateTime: now.Add(-time.Hour)}
	tooOld := domain.OptIn{ID: "old", CreateTime: now.Add(-200 * time.Hour)}
	reminded := domain.OptIn{ID: "rem", CreateTime: now.Add(-30 * time.Hour), ReminderSentAt: now}
	api.On("Scan", mock.Anything, mock.Anything).Return(&dynamodb.ScanOutput{
		Items: []map[string]types.AttributeValue{item(t, due), item(t, tooNew), item(t, tooOld), item(t, reminded)},
	}, nil)

	got, err := NewOptInRepo(api, "optins").FindEligibleForReminder(context.Background(), now, 24*time.Hour, 168*time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "due", got[0].ID)
}

func TestOptInRepo_FindByCategoryPages(t *testing.T) {
	api := &mockDynamo{}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var items []map[string]types.AttributeValue
	for i, idv := range []string{"a", "b", "c"} {
		items = append(items, item(t, domain.OptIn{ID: idv, Category: "news", CreateTime: base.Add(time.Duration(i) * time.Hour)}))
	}
	api.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{Items: items}, nil)

	page, err := NewOptInRepo(api, "optins").FindByCategory(context.Background(), "news", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "a", page.Items[0].ID)
}

func TestOptInRepo_BulkUpdateCategory(t *testing.T) {
	api := &mockDynamo{}
	api.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{
			item(t, domain.OptIn{ID: "a", Category: "old"}),
			item(t, domain.OptIn{ID: "b", Category: "old"}),
		},
	}, nil)
	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return aws.ToString(in.UpdateExpression) == "SET #cat = :cat"
	})).Return(nil).Twice()

	n, err := NewOptInRepo(api, "optins").BulkUpdateCategory(context.Background(), "old", "new")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	api.AssertExpectations(t)
}

func TestOptInsTableInput(t *testing.T) {
	in := optInsTableInput("optins")
	names := make([]string, 0, len(in.GlobalSecondaryIndexes))
	for _, g := range in.GlobalSecondaryIndexes {
		names = append(names, aws.ToString(g.IndexName))
	}
	assert.ElementsMatch(t, []string{"hash-index", "email-index", "category-index", "form-index"}, names)
}
