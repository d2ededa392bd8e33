// internal/common/database/redis.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"legal-rag-workers/internal/common/config"
)

// RedisClient owns the connection pool behind the stage result cache.
type RedisClient struct {
	Client *redis.Client
}

// NewRedis creates a Redis client. Command timeouts are kept short since a
// slow cache must never hold up the pipeline.
func NewRedis(cfg config.RedisConfig, commandTimeout time.Duration) *RedisClient {
	if commandTimeout <= 0 {
		commandTimeout = 500 * time.Millisecond
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  commandTimeout,
		WriteTimeout: commandTimeout,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   1,
	})
	return &RedisClient{Client: rdb}
}

func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}
