package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/video-ingest/pkg/models"
)

var tracer = otel.Tracer("ingest-storage")

// S3PutObjectAPI defines the S3 operations needed to store objects.
type S3PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3ObjectStore writes processed videos to a bucket and builds their public URLs.
type S3ObjectStore struct {
	client  S3PutObjectAPI
	bucket  string
	baseURL string
}

// NewS3ObjectStore creates a new S3ObjectStore. baseURL is the public
// address objects are served from, such as a CDN distribution.
func NewS3ObjectStore(client S3PutObjectAPI, bucket, baseURL string) *S3ObjectStore {
	return &S3ObjectStore{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// PutFile uploads the file at path under key, replacing any existing object.
func (s *S3ObjectStore) PutFile(ctx context.Context, key, path, contentType string) error {
	ctx, span := tracer.Start(ctx, "s3-put-object")
	defer span.End()

	span.SetAttributes(
		attribute.String("s3.bucket", s.bucket),
		attribute.String("s3.key", key),
	)

	file, err := os.Open(path)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: failed to open %s: %v", models.ErrStorageWriteFailed, path, err)
	}
	defer file.Close()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	}
	if info, err := file.Stat(); err == nil {
		input.ContentLength = aws.Int64(info.Size())
		span.SetAttributes(attribute.Int64("s3.size_bytes", info.Size()))
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: failed to upload %s: %w", models.ErrStorageWriteFailed, key, err)
	}

	return nil
}

// URL returns the externally reachable address for key.
func (s *S3ObjectStore) URL(key string) string {
	return s.baseURL + "/" + key
}

// Bucket returns the target bucket name.
func (s *S3ObjectStore) Bucket() string {
	return s.bucket
}
