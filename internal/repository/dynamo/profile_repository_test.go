package dynamo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/models"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/repository"
)

// fakeTable honours attribute_not_exists on the partition key.
type fakeTable struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	err   error
	puts  []*dynamodb.PutItemInput
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: map[string]map[string]types.AttributeValue{}}
}

func keyOf(item map[string]types.AttributeValue) string {
	return item[partitionKey].(*types.AttributeValueMemberS).Value
}

func (f *fakeTable) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, in)
	if f.err != nil {
		return nil, f.err
	}
	key := keyOf(in.Item)
	if in.ConditionExpression != nil {
		if _, exists := f.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func sampleProfile(userID string) *models.UserProfile {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return &models.UserProfile{
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		Children: []models.Child{
			{ChildID: "c-1", Name: models.DefaultChildName, SchoolCity: models.DefaultSchoolCity},
		},
	}
}

func TestCreateThenGet(t *testing.T) {
	table := newFakeTable()
	repo := NewProfileRepository(table, "user_profiles", zap.NewNop())
	ctx := context.Background()

	_, err := repo.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, repository.ErrProfileNotFound)

	require.NoError(t, repo.CreateProfile(ctx, sampleProfile("u1")))

	got, err := repo.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, sampleProfile("u1"), got)

	require.Len(t, table.puts, 1)
	assert.Equal(t, "attribute_not_exists(#pk)", aws.ToString(table.puts[0].ConditionExpression))
	assert.Equal(t, "userId", table.puts[0].ExpressionAttributeNames["#pk"])
	assert.Equal(t, "user_profiles", aws.ToString(table.puts[0].TableName))
}

func TestCreateProfile_ConditionFailureMapsToExists(t *testing.T) {
	repo := NewProfileRepository(newFakeTable(), "user_profiles", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, repo.CreateProfile(ctx, sampleProfile("u1")))

	second := sampleProfile("u1")
	second.Children[0].ChildID = "c-2"
	err := repo.CreateProfile(ctx, second)
	assert.ErrorIs(t, err, repository.ErrProfileExists)

	got, err := repo.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", got.Children[0].ChildID, "first write must win")
}

func TestRepository_StoreErrors(t *testing.T) {
	table := newFakeTable()
	table.err = errors.New("ProvisionedThroughputExceededException")
	repo := NewProfileRepository(table, "user_profiles", zap.NewNop())

	_, err := repo.GetProfile(context.Background(), "u1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrProfileNotFound)

	err = repo.CreateProfile(context.Background(), sampleProfile("u1"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrProfileExists)
}
