package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Platform      string
	Port          string
	AssetsRoot    string
	Database      DatabaseConfig
	Auth          AuthConfig
	AWS           AWSConfig
	Media         MediaConfig
	Redis         RedisConfig
	Observability ObservabilityConfig
	CORS          CORSConfig
}

// DatabaseConfig selects and configures the video record store.
type DatabaseConfig struct {
	Driver        string
	Path          string
	DynamoDBTable string
}

// AuthConfig holds bearer token configuration.
type AuthConfig struct {
	JWTSecret string
}

// AWSConfig holds blob store and queue configuration.
type AWSConfig struct {
	Region          string
	Bucket          string
	DistributionURL string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SQSQueueURL     string
}

// MediaConfig holds external tool paths and pipeline deadlines.
type MediaConfig struct {
	FFmpegPath     string
	FFprobePath    string
	ProbeTimeout   time.Duration
	RemuxTimeout   time.Duration
	StorageTimeout time.Duration
}

// RedisConfig enables cross-replica upload locking when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// ObservabilityConfig holds logging and tracing configuration.
type ObservabilityConfig struct {
	OTLPEndpoint string
	LogLevel     string
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string
}

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverDynamoDB = "dynamodb"
)

// Default values
const (
	DefaultPort           = "8080"
	DefaultRegion         = "us-west-2"
	DefaultOTLPEndpoint   = "localhost:4317"
	DefaultLogLevel       = "info"
	DefaultFFmpegPath     = "ffmpeg"
	DefaultFFprobePath    = "ffprobe"
	DefaultProbeTimeout   = 30 * time.Second
	DefaultRemuxTimeout   = 10 * time.Minute
	DefaultStorageTimeout = 10 * time.Minute
	MinProductionSecret   = 32

	// UploadReadTimeout bounds how long a request body may take to arrive.
	UploadReadTimeout = 10 * time.Minute
	// LockTTLMargin is added to the longest possible upload run to get the
	// default lock TTL.
	LockTTLMargin = 5 * time.Minute
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Platform:   os.Getenv("PLATFORM"),
		Port:       getEnv("PORT", DefaultPort),
		AssetsRoot: os.Getenv("ASSETS_ROOT"),
		Database: DatabaseConfig{
			Driver:        strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
			Path:          os.Getenv("DB_PATH"),
			DynamoDBTable: os.Getenv("DYNAMODB_TABLE"),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", DefaultRegion),
			Bucket:          os.Getenv("S3_BUCKET"),
			DistributionURL: os.Getenv("DISTRIBUTION_URL"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SQSQueueURL:     os.Getenv("SQS_QUEUE_URL"),
		},
		Media: MediaConfig{
			FFmpegPath:     getEnv("FFMPEG_PATH", DefaultFFmpegPath),
			FFprobePath:    getEnv("FFPROBE_PATH", DefaultFFprobePath),
			ProbeTimeout:   getEnvDuration("PROBE_TIMEOUT", DefaultProbeTimeout),
			RemuxTimeout:   getEnvDuration("REMUX_TIMEOUT", DefaultRemuxTimeout),
			StorageTimeout: getEnvDuration("STORAGE_TIMEOUT", DefaultStorageTimeout),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", DefaultOTLPEndpoint),
			LogLevel:     getEnv("LOG_LEVEL", DefaultLogLevel),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{
				"http://localhost:8080",
			}),
		},
	}

	cfg.Redis.LockTTL = getEnvDuration("REDIS_LOCK_TTL", cfg.Media.MaxRunDuration()+LockTTLMargin)

	return cfg, nil
}

// MaxRunDuration is the longest an upload can hold its lock: the body read
// plus every stage deadline.
func (m MediaConfig) MaxRunDuration() time.Duration {
	return UploadReadTimeout + m.ProbeTimeout + m.RemuxTimeout + m.StorageTimeout
}

// LoadAPI loads and validates configuration required for the API service.
func LoadAPI() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Platform == "" {
		errs = append(errs, "PLATFORM is required")
	}
	if c.Port == "" {
		errs = append(errs, "PORT is required")
	}
	if c.AssetsRoot == "" {
		errs = append(errs, "ASSETS_ROOT is required")
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	}
	if c.AWS.Bucket == "" {
		errs = append(errs, "S3_BUCKET is required")
	}
	if c.AWS.Region == "" {
		errs = append(errs, "AWS_REGION is required")
	}
	if c.AWS.DistributionURL == "" {
		errs = append(errs, "DISTRIBUTION_URL is required")
	}
	if (c.AWS.AccessKeyID == "") != (c.AWS.SecretAccessKey == "") {
		errs = append(errs, "AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "DB_PATH is required for the sqlite driver")
		}
	case DriverDynamoDB:
		if c.Database.DynamoDBTable == "" {
			errs = append(errs, "DYNAMODB_TABLE is required for the dynamodb driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER %q is not supported", c.Database.Driver))
	}

	if c.Redis.Addr != "" && c.Redis.LockTTL <= c.Media.MaxRunDuration() {
		errs = append(errs, fmt.Sprintf("REDIS_LOCK_TTL must exceed %s, the longest upload run", c.Media.MaxRunDuration()))
	}

	if c.IsProduction() && len(c.Auth.JWTSecret) < MinProductionSecret {
		errs = append(errs, "JWT_SECRET must be at least 32 characters in production")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	platform := strings.ToLower(c.Platform)
	return platform == "prod" || platform == "production"
}

// HasStaticCredentials reports whether explicit blob store credentials were supplied.
func (c *Config) HasStaticCredentials() bool {
	return c.AWS.AccessKeyID != "" && c.AWS.SecretAccessKey != ""
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil && intVal >= 0 {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
