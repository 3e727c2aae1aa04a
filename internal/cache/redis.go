// Package cache holds the Redis-backed embedding cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix  = "resolvekb:embedding:"
	DefaultTTL = 30 * 24 * time.Hour
)

// redisClient is the subset of *redis.Client the cache uses
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// EmbeddingCache stores normalised vectors in Redis keyed by content hash
type EmbeddingCache struct {
	client redisClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewEmbeddingCache connects to the Redis server at url (redis://host:port/db)
func NewEmbeddingCache(ctx context.Context, url string, ttl time.Duration, logger *zap.Logger) (*EmbeddingCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis embedding cache initialized", zap.String("addr", opts.Addr))
	return newEmbeddingCache(client, ttl, logger), nil
}

func newEmbeddingCache(client redisClient, ttl time.Duration, logger *zap.Logger) *EmbeddingCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingCache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached vector for key
func (c *EmbeddingCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	if len(vec) == 0 {
		return nil, false, nil
	}

	c.logger.Debug("embedding cache hit", zap.String("key", key))
	return vec, true, nil
}

// Set stores vec under key
func (c *EmbeddingCache) Set(ctx context.Context, key string, vec []float32) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	if err := c.client.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}
	return nil
}

// Close releases the connection pool
func (c *EmbeddingCache) Close() error {
	return c.client.Close()
}
