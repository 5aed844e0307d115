package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"golang.org/x/sync/errgroup"

	"github.com/amillerrr/video-ingest/internal/api"
	"github.com/amillerrr/video-ingest/internal/auth"
	"github.com/amillerrr/video-ingest/internal/config"
	"github.com/amillerrr/video-ingest/internal/health"
	"github.com/amillerrr/video-ingest/internal/ingest"
	"github.com/amillerrr/video-ingest/internal/lock"
	"github.com/amillerrr/video-ingest/internal/logger"
	"github.com/amillerrr/video-ingest/internal/media"
	"github.com/amillerrr/video-ingest/internal/notify"
	"github.com/amillerrr/video-ingest/internal/observability"
	"github.com/amillerrr/video-ingest/internal/storage"
)

const (
	ServiceName           = "video-ingest-api"
	ShutdownTimeout       = 30 * time.Second
	TracerShutdownTimeout = 5 * time.Second
	AWSConfigTimeout      = 10 * time.Second
)

// videoStore is satisfied by both record store backends.
type videoStore interface {
	api.VideoStore
	ingest.RecordStore
	Ping(ctx context.Context) error
}

func main() {
	envErr := godotenv.Load()

	cfg, err := config.LoadAPI()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Observability.LogLevel)
	slog.SetDefault(log)
	if envErr != nil {
		log.Info("No .env file found, using system environment variables")
	}

	if err := run(cfg, log); err != nil {
		log.Error("API exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("Server shutdown complete")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, ServiceName, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), TracerShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("Failed to shutdown tracer", "error", err)
		}
	}()

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
			o.UsePathStyle = true
		}
	})

	healthConfig := health.DefaultConfig(ServiceName, log)
	healthConfig.Checks["s3"] = health.S3Bucket(s3Client, cfg.AWS.Bucket)

	videos, closeStore, err := openVideoStore(ctx, cfg, awsCfg, log)
	if err != nil {
		return err
	}
	defer closeStore()
	healthConfig.Checks["database"] = videos

	uploadDir := filepath.Join(cfg.AssetsRoot, "uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}

	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		redisLocker := lock.NewRedisLocker(rdb, cfg.Redis.LockTTL, log)
		healthConfig.Checks["redis"] = redisLocker
		locker = redisLocker
		log.Info("Using Redis upload locks", "addr", cfg.Redis.Addr)
	}

	var notifier ingest.Notifier
	if cfg.AWS.SQSQueueURL != "" {
		sqsClient := sqs.NewFromConfig(awsCfg)
		notifier = notify.NewSQSPublisher(sqsClient, cfg.AWS.SQSQueueURL)
		healthConfig.Checks["sqs"] = health.SQSQueue(sqsClient, cfg.AWS.SQSQueueURL)
	}

	for _, tool := range []string{cfg.Media.FFprobePath, cfg.Media.FFmpegPath} {
		if _, err := exec.LookPath(tool); err != nil {
			log.Warn("External tool not found, uploads will fail", "tool", tool, "error", err)
		}
	}

	jwtService, err := auth.NewJWTService([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("failed to create JWT service: %w", err)
	}

	runner := media.NewExecRunner()
	pipeline, err := ingest.NewService(ingest.Config{
		TempDir:        uploadDir,
		ProbeTimeout:   cfg.Media.ProbeTimeout,
		RemuxTimeout:   cfg.Media.RemuxTimeout,
		StorageTimeout: cfg.Media.StorageTimeout,
	}, ingest.Dependencies{
		Auth:     jwtService,
		Records:  videos,
		Prober:   media.NewFFProbe(runner, cfg.Media.FFprobePath),
		Remuxer:  media.NewFFmpeg(runner, cfg.Media.FFmpegPath),
		Objects:  storage.NewS3ObjectStore(s3Client, cfg.AWS.Bucket, cfg.AWS.DistributionURL),
		Locker:   locker,
		Notifier: notifier,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create upload pipeline: %w", err)
	}

	server := api.NewServer(&api.ServerConfig{
		Config:        cfg,
		Logger:        log,
		Uploader:      pipeline,
		Videos:        videos,
		JWTService:    jwtService,
		RateLimiter:   auth.NewRateLimiter(auth.DefaultRateLimiterConfig()),
		HealthChecker: health.NewChecker(healthConfig),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	ctx, cancel := context.WithTimeout(ctx, AWSConfigTimeout)
	defer cancel()

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.HasStaticCredentials() {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)
	return awsCfg, nil
}

func openVideoStore(ctx context.Context, cfg *config.Config, awsCfg aws.Config, log *slog.Logger) (videoStore, func(), error) {
	switch cfg.Database.Driver {
	case config.DriverDynamoDB:
		store, err := storage.NewDynamoVideoStore(dynamodb.NewFromConfig(awsCfg), cfg.Database.DynamoDBTable)
		if err != nil {
			return nil, nil, err
		}
		log.Info("DynamoDB video store initialized", "table", cfg.Database.DynamoDBTable)
		return store, func() {}, nil
	default:
		store, err := storage.NewSQLiteVideoStore(ctx, cfg.Database.Path, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("SQLite video store initialized", "path", cfg.Database.Path)
		return store, func() {
			if err := store.Close(); err != nil {
				log.Error("Failed to close database", "error", err)
			}
		}, nil
	}
}
