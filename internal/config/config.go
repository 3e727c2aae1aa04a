package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Store backends
const (
	StoreFile     = "file"
	StoreS3       = "s3"
	StorePostgres = "postgres"
)

// Embedding backends
const (
	EmbeddingOpenAI  = "openai"
	EmbeddingHashing = "hashing"
)

type Config struct {
	Debug bool `envconfig:"DEBUG" default:"false"`

	StoreBackend string `envconfig:"STORE_BACKEND" default:"file"`
	StorePath    string `envconfig:"STORE_PATH" default:"knowledge_base.json"`

	DatabaseURL string `envconfig:"DATABASE_URL"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"resolvekb"`
	S3Key       string `envconfig:"S3_KEY" default:"knowledge_base.json"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	EmbeddingBackend    string `envconfig:"EMBEDDING_BACKEND" default:"openai"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"0"`
	EmbeddingBatchSize  int    `envconfig:"EMBEDDING_BATCH_SIZE" default:"64"`
	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string `envconfig:"OPENAI_BASE_URL"`

	RedisURL string `envconfig:"REDIS_URL"`

	DedupeThreshold     float64 `envconfig:"DEDUPE_THRESHOLD" default:"0.95"`
	ConfidenceThreshold float64 `envconfig:"CONFIDENCE_THRESHOLD" default:"0.60"`
	TopK                int     `envconfig:"TOP_K" default:"5"`
	MinResolutionLength int     `envconfig:"MIN_RESOLUTION_LENGTH" default:"20"`
	MinClusterSize      int     `envconfig:"MIN_CLUSTER_SIZE" default:"2"`
	MinSamples          int     `envconfig:"MIN_SAMPLES" default:"1"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogOutput string `envconfig:"LOG_OUTPUT" default:"stderr"`

	SentryDSN         string `envconfig:"SENTRY_DSN"`
	SentryEnvironment string `envconfig:"SENTRY_ENVIRONMENT"`

	MetricsTextfile string `envconfig:"METRICS_TEXTFILE"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("RESOLVEKB", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks backend selection and threshold ranges
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreFile:
		if c.StorePath == "" {
			return fmt.Errorf("RESOLVEKB_STORE_PATH is required for the file store")
		}
	case StoreS3:
		if c.S3Bucket == "" || c.S3Key == "" {
			return fmt.Errorf("RESOLVEKB_S3_BUCKET and RESOLVEKB_S3_KEY are required for the s3 store")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("RESOLVEKB_DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store backend: %s", c.StoreBackend)
	}

	switch c.EmbeddingBackend {
	case EmbeddingOpenAI, EmbeddingHashing:
	default:
		return fmt.Errorf("unknown embedding backend: %s", c.EmbeddingBackend)
	}

	if c.DedupeThreshold <= 0 || c.DedupeThreshold > 1 {
		return fmt.Errorf("dedupe threshold must be in (0, 1]: %v", c.DedupeThreshold)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0, 1]: %v", c.ConfidenceThreshold)
	}
	if c.TopK < 1 {
		return fmt.Errorf("top k must be positive: %d", c.TopK)
	}
	if c.MinClusterSize < 2 {
		return fmt.Errorf("min cluster size must be at least 2: %d", c.MinClusterSize)
	}
	if c.MinSamples < 1 {
		return fmt.Errorf("min samples must be positive: %d", c.MinSamples)
	}

	return nil
}

func (c *Config) HasS3Credentials() bool {
	return c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != "" || c.OpenAIBaseURL != ""
}

func (c *Config) HasRedis() bool {
	return c.RedisURL != ""
}
