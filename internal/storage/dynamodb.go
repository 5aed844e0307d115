package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/amillerrr/video-ingest/pkg/models"
)

const videoSortKey = "METADATA"

// DynamoDBAPI defines the DynamoDB operations used by DynamoVideoStore.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// videoItem is the table layout of a video record.
type videoItem struct {
	PK string `dynamodbav:"pk"`
	SK string `dynamodbav:"sk"`
	models.VideoRecord
}

func videoKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: "VIDEO#" + id},
		"sk": &types.AttributeValueMemberS{Value: videoSortKey},
	}
}

// DynamoVideoStore keeps video records in a single DynamoDB table.
type DynamoVideoStore struct {
	client    DynamoDBAPI
	tableName string
}

// NewDynamoVideoStore creates a new DynamoVideoStore.
func NewDynamoVideoStore(client DynamoDBAPI, tableName string) (*DynamoVideoStore, error) {
	if tableName == "" {
		return nil, errors.New("DynamoDB table name is required")
	}
	return &DynamoVideoStore{client: client, tableName: tableName}, nil
}

// CreateVideo inserts a new record, failing if the id is taken.
func (r *DynamoVideoStore) CreateVideo(ctx context.Context, video *models.VideoRecord) error {
	now := time.Now().UTC()
	if video.CreatedAt.IsZero() {
		video.CreatedAt = now
	}
	video.UpdatedAt = now

	item, err := r.marshal(video)
	if err != nil {
		return err
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: %s", models.ErrVideoExists, video.ID)
		}
		return fmt.Errorf("failed to create video: %w", err)
	}

	return nil
}

// GetVideo retrieves a record by id.
func (r *DynamoVideoStore) GetVideo(ctx context.Context, id string) (*models.VideoRecord, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            videoKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrVideoNotFound
	}

	var item videoItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal video: %w", err)
	}

	return &item.VideoRecord, nil
}

// SetVideoURL sets the playback URL of id with a single UpdateItem and
// returns the stored record. Attributes other than video_url and
// updated_at are left as they are.
func (r *DynamoVideoStore) SetVideoURL(ctx context.Context, id, videoURL string) (*models.VideoRecord, error) {
	updatedAt, err := attributevalue.Marshal(time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal timestamp: %w", err)
	}

	result, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 videoKey(id),
		UpdateExpression:    aws.String("SET video_url = :video_url, updated_at = :updated_at"),
		ConditionExpression: aws.String("attribute_exists(pk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":video_url":  &types.AttributeValueMemberS{Value: videoURL},
			":updated_at": updatedAt,
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, models.ErrVideoNotFound
		}
		return nil, fmt.Errorf("failed to set video url: %w", err)
	}

	var item videoItem
	if err := attributevalue.UnmarshalMap(result.Attributes, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal video: %w", err)
	}
	return &item.VideoRecord, nil
}

// Ping checks that the table is reachable.
func (r *DynamoVideoStore) Ping(ctx context.Context) error {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(r.tableName),
	})
	return err
}

func (r *DynamoVideoStore) marshal(video *models.VideoRecord) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(videoItem{
		PK:          "VIDEO#" + video.ID,
		SK:          videoSortKey,
		VideoRecord: *video,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal video: %w", err)
	}
	return item, nil
}
