// Package notify publishes pipeline events to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/amillerrr/video-ingest/pkg/models"
)

// SQSSendMessageAPI defines the SQS operations needed to publish events.
type SQSSendMessageAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends VideoProcessedEvents to a queue as JSON.
type SQSPublisher struct {
	client   SQSSendMessageAPI
	queueURL string
}

// NewSQSPublisher creates a new SQSPublisher.
func NewSQSPublisher(client SQSSendMessageAPI, queueURL string) *SQSPublisher {
	return &SQSPublisher{client: client, queueURL: queueURL}
}

// VideoProcessed publishes event.
func (p *SQSPublisher) VideoProcessed(ctx context.Context, event models.VideoProcessedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("video.processed"),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send event for video %s: %w", event.VideoID, err)
	}

	return nil
}
