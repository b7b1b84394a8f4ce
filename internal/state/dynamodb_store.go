package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/TheMichaelB/stepsync/internal/events"
	"github.com/TheMichaelB/stepsync/internal/models"
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoDBStore keeps each user's state as one item keyed by user_id.
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
	logger    *events.Logger
	locks     *keyLocks
	timeout   time.Duration
}

// NewDynamoDBStore creates a store using the default AWS credential chain.
func NewDynamoDBStore(ctx context.Context, tableName string, logger *events.Logger) (*DynamoDBStore, error) {
	if tableName == "" {
		return nil, fmt.Errorf("dynamodb table name required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewDynamoDBStoreWithClient(dynamodb.NewFromConfig(cfg), tableName, logger), nil
}

// NewDynamoDBStoreWithClient creates a store over an existing client.
func NewDynamoDBStoreWithClient(client DynamoDBAPI, tableName string, logger *events.Logger) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
		logger:    logger.WithField("component", "dynamodb_store"),
		locks:     newKeyLocks(),
		timeout:   10 * time.Second,
	}
}

// Load retrieves state from DynamoDB.
func (s *DynamoDBStore) Load(userID string) (*models.DailyStepState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get: %w", err)
	}

	if result.Item == nil {
		return nil, ErrStateNotFound
	}

	stateAttr, ok := result.Item["state"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("%w: invalid state attribute type", ErrStateCorrupt)
	}

	var st models.DailyStepState
	if err := json.Unmarshal([]byte(stateAttr.Value), &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}

	s.logger.WithField("user_id", userID).Debug("Loaded state from DynamoDB")
	return &st, nil
}

// Save writes the whole record with a single PutItem.
func (s *DynamoDBStore) Save(userID string, st *models.DailyStepState) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	record := st.Clone()
	record.UserID = userID

	stateJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	item := map[string]types.AttributeValue{
		"user_id":        &types.AttributeValueMemberS{Value: userID},
		"state":          &types.AttributeValueMemberS{Value: string(stateJSON)},
		"last_sync_date": &types.AttributeValueMemberS{Value: record.LastSyncDate},
		"steps_today": &types.AttributeValueMemberN{
			Value: strconv.FormatInt(record.StepsToday, 10),
		},
		"updated_at": &types.AttributeValueMemberN{
			Value: strconv.FormatInt(time.Now().Unix(), 10),
		},
		"schema_version": &types.AttributeValueMemberN{
			Value: strconv.Itoa(CurrentSchemaVersion),
		},
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamodb put: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"steps":   record.StepsToday,
	}).Debug("Saved state to DynamoDB")

	return nil
}

// Reset deletes the user's item.
func (s *DynamoDBStore) Reset(userID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb delete: %w", err)
	}

	s.logger.WithField("user_id", userID).Info("Reset state in DynamoDB")
	return nil
}

// List scans the table for user IDs.
func (s *DynamoDBStore) List() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*s.timeout)
	defer cancel()

	var userIDs []string

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:            aws.String(s.tableName),
		ProjectionExpression: aws.String("user_id"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan: %w", err)
		}

		for _, item := range page.Items {
			if attr, ok := item["user_id"].(*types.AttributeValueMemberS); ok {
				userIDs = append(userIDs, attr.Value)
			}
		}
	}

	return userIDs, nil
}

// Lock serializes trackers for a user within this process only.
func (s *DynamoDBStore) Lock(userID string) (UnlockFunc, error) {
	return s.locks.acquire(userID)
}

// Migrate transfers all states to another store.
func (s *DynamoDBStore) Migrate(target Store) error {
	return migrateAll(s, target, s.logger)
}

// Close releases resources.
func (s *DynamoDBStore) Close() error {
	return nil
}
