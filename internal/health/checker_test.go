package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type mockS3Client struct {
	err    error
	bucket string
}

func (m *mockS3Client) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	m.bucket = aws.ToString(params.Bucket)
	if m.err != nil {
		return nil, m.err
	}
	return &s3.HeadBucketOutput{}, nil
}

type mockSQSClient struct {
	err      error
	queueURL string
}

func (m *mockSQSClient) GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	m.queueURL = aws.ToString(params.QueueUrl)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.GetQueueAttributesOutput{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testConfig(checks map[string]Pinger) *Config {
	return &Config{
		ServiceName:    "test-service",
		Checks:         checks,
		Logger:         testLogger(),
		CacheTTL:       time.Second,
		CheckTimeout:   time.Second,
		DeepCheckLimit: time.Millisecond,
	}
}

func TestChecker_Check_Shallow(t *testing.T) {
	checker := NewChecker(DefaultConfig("test-service", testLogger()))

	status := checker.Check(context.Background(), false)

	if status.Status != StatusHealthy {
		t.Errorf("Status = %s, want healthy", status.Status)
	}
	if status.Service != "test-service" {
		t.Errorf("Service = %s, want test-service", status.Service)
	}
	if len(status.Checks) != 0 {
		t.Errorf("Checks should be empty for shallow check, got %d", len(status.Checks))
	}
}

func TestChecker_Check_Deep_AllHealthy(t *testing.T) {
	s3Client := &mockS3Client{}
	sqsClient := &mockSQSClient{}
	checker := NewChecker(testConfig(map[string]Pinger{
		"s3":       S3Bucket(s3Client, "test-bucket"),
		"sqs":      SQSQueue(sqsClient, "https://sqs.test"),
		"database": PingFunc(func(context.Context) error { return nil }),
	}))

	status := checker.Check(context.Background(), true)

	if status.Status != StatusHealthy {
		t.Errorf("Status = %s, want healthy", status.Status)
	}
	if len(status.Checks) != 3 {
		t.Errorf("Checks should have 3 entries, got %d", len(status.Checks))
	}
	for name, check := range status.Checks {
		if check.Status != StatusHealthy {
			t.Errorf("%s check status = %s, want healthy", name, check.Status)
		}
	}
	if s3Client.bucket != "test-bucket" {
		t.Errorf("HeadBucket bucket = %s, want test-bucket", s3Client.bucket)
	}
	if sqsClient.queueURL != "https://sqs.test" {
		t.Errorf("GetQueueAttributes queue = %s, want https://sqs.test", sqsClient.queueURL)
	}
}

func TestChecker_Check_Deep_Unhealthy(t *testing.T) {
	checker := NewChecker(testConfig(map[string]Pinger{
		"s3":    S3Bucket(&mockS3Client{err: errors.New("s3 error")}, "test-bucket"),
		"redis": PingFunc(func(context.Context) error { return nil }),
	}))

	status := checker.Check(context.Background(), true)

	if status.Status != StatusDegraded {
		t.Errorf("Status = %s, want degraded", status.Status)
	}
	if status.Checks["s3"].Status != StatusUnhealthy {
		t.Errorf("S3 check status = %s, want unhealthy", status.Checks["s3"].Status)
	}
	if status.Checks["s3"].Error != "s3 error" {
		t.Errorf("S3 check error = %s, want 's3 error'", status.Checks["s3"].Error)
	}
	if status.Checks["redis"].Status != StatusHealthy {
		t.Errorf("redis check status = %s, want healthy", status.Checks["redis"].Status)
	}
}

func TestChecker_Check_Timeout(t *testing.T) {
	cfg := testConfig(map[string]Pinger{
		"database": PingFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	})
	cfg.CheckTimeout = 20 * time.Millisecond
	checker := NewChecker(cfg)

	status := checker.Check(context.Background(), true)

	if status.Checks["database"].Status != StatusUnhealthy {
		t.Errorf("database check status = %s, want unhealthy", status.Checks["database"].Status)
	}
}

func TestChecker_Check_Caching(t *testing.T) {
	cfg := testConfig(nil)
	cfg.CacheTTL = time.Hour
	checker := NewChecker(cfg)

	status1 := checker.Check(context.Background(), false)
	status2 := checker.Check(context.Background(), false)

	if status1.Timestamp != status2.Timestamp {
		t.Error("Cached result should have same timestamp")
	}
}

func TestChecker_CanPerformDeepCheck(t *testing.T) {
	checker := NewChecker(&Config{
		ServiceName:    "test-service",
		DeepCheckLimit: 50 * time.Millisecond,
	})

	if !checker.CanPerformDeepCheck() {
		t.Error("CanPerformDeepCheck() = false initially")
	}

	checker.RecordDeepCheck()
	if checker.CanPerformDeepCheck() {
		t.Error("CanPerformDeepCheck() = true immediately after recording")
	}

	time.Sleep(60 * time.Millisecond)
	if !checker.CanPerformDeepCheck() {
		t.Error("CanPerformDeepCheck() = false after limit passed")
	}
}

func TestChecker_Handler(t *testing.T) {
	checker := NewChecker(DefaultConfig("test-service", testLogger()))

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	checker.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Handler returned %d, want %d", rr.Code, http.StatusOK)
	}

	var status Status
	if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if status.Status != StatusHealthy {
		t.Errorf("Status = %s, want healthy", status.Status)
	}
}

func TestChecker_DeepHandler_Unhealthy(t *testing.T) {
	checker := NewChecker(testConfig(map[string]Pinger{
		"sqs": SQSQueue(&mockSQSClient{err: errors.New("queue gone")}, "https://sqs.test"),
	}))

	req := httptest.NewRequest("GET", "/health/deep", nil)
	rr := httptest.NewRecorder()
	checker.DeepHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Handler returned %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestChecker_DeepHandler_RateLimited(t *testing.T) {
	cfg := testConfig(nil)
	cfg.DeepCheckLimit = time.Hour
	checker := NewChecker(cfg)

	checker.RecordDeepCheck()

	req := httptest.NewRequest("GET", "/health/deep", nil)
	rr := httptest.NewRecorder()
	checker.DeepHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("Handler returned %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
	if rr.Header().Get("Retry-After") != "10" {
		t.Errorf("Retry-After = %s, want 10", rr.Header().Get("Retry-After"))
	}

	// The rate-limit note must not leak into the cached status.
	if _, ok := checker.Check(context.Background(), false).Checks["rate_limited"]; ok {
		t.Error("cached status was mutated by the rate-limited response")
	}
}
