package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/models"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/repository"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/util"
)

const partitionKey = "userId"

// API is the subset of the DynamoDB client the profile repository uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type ProfileRepository struct {
	client    API
	tableName string
	logger    *zap.Logger
}

func NewProfileRepository(client API, tableName string, logger *zap.Logger) *ProfileRepository {
	return &ProfileRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func (r *ProfileRepository) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			partitionKey: &types.AttributeValueMemberS{Value: userID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		r.logger.Error("Failed to get profile",
			util.String("user_id", userID),
			util.ErrorField(err))
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, repository.ErrProfileNotFound
	}

	var profile models.UserProfile
	if err := attributevalue.UnmarshalMap(out.Item, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &profile, nil
}

// CreateProfile puts the item guarded by attribute_not_exists on the key, so
// a concurrent creator that got there first makes this call fail with
// ErrProfileExists instead of overwriting.
func (r *ProfileRepository) CreateProfile(ctx context.Context, profile *models.UserProfile) error {
	item, err := attributevalue.MarshalMap(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{
			"#pk": partitionKey,
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return repository.ErrProfileExists
		}
		r.logger.Error("Failed to create profile",
			util.String("user_id", profile.UserID),
			util.ErrorField(err))
		return fmt.Errorf("failed to create profile: %w", err)
	}

	r.logger.Info("Profile created", util.String("user_id", profile.UserID))
	return nil
}
