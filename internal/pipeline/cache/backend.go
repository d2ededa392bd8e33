package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Backend is a TTL-keyed byte store.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendNone   = "none"
)

// NewBackend selects a backend by name. rdb is only used for "redis".
func NewBackend(name string, rdb *redis.Client, defaultTTL time.Duration) (Backend, error) {
	switch name {
	case BackendRedis:
		if rdb == nil {
			return nil, errors.New("redis cache backend requires a redis client")
		}
		return NewRedisBackend(rdb), nil
	case BackendMemory:
		return NewMemoryBackend(defaultTTL), nil
	case BackendNone, "":
		return NoopBackend{}, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", name)
}

// RedisBackend stores entries as plain redis strings.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

// MemoryBackend keeps entries in process. Used when no redis is deployed
// and in tests.
type MemoryBackend struct {
	c *gocache.Cache
}

func NewMemoryBackend(defaultTTL time.Duration) *MemoryBackend {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &MemoryBackend{c: gocache.New(defaultTTL, defaultTTL/2)}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := b.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	raw, ok := v.([]byte)
	if !ok {
		return nil, false, fmt.Errorf("memory cache: unexpected value type %T", v)
	}
	return append([]byte(nil), raw...), true, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.c.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.c.Delete(key)
	return nil
}

// NoopBackend never stores anything.
type NoopBackend struct{}

func (NoopBackend) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (NoopBackend) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NoopBackend) Delete(context.Context, string) error                     { return nil }

// Deps carries the clients a backend may need.
type Deps struct {
	Redis *redis.Client
}
