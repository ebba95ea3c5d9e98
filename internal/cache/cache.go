// Package cache serves chain reads through a TTL cache. Concurrent misses
// for one key share a single fetch.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/twamm-labs/twamm/backend/internal/config"
	"golang.org/x/sync/singleflight"
)

// Store keeps encoded values until their ttl passes.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

var errEmptyKey = errors.New("cache key is empty")

type Cache struct {
	store  Store
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

func New(store Store, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, ttl: ttl, logger: logger}
}

// Open builds the cache selected by cfg. The returned func releases the
// backend.
func Open(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (*Cache, func() error, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return New(NewMemoryStore(), cfg.TTL, logger), func() error { return nil }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		return New(NewRedisStore(client, cfg.KeyPrefix), cfg.TTL, logger), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q (expected memory|redis)", cfg.Backend)
	}
}

// TTL is the default lifetime of an entry.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) Invalidate(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn("cache delete failed", "key", key, "err", err)
	}
}

// Get returns the cached value for key, or calls fetch and caches its result
// for ttl (the cache default when ttl is zero). Fetch errors are returned to
// every waiting caller and never cached.
func Get[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if ttl <= 0 {
		ttl = c.ttl
	}

	if raw, ok, err := c.store.Get(ctx, key); err != nil {
		c.logger.Warn("cache read failed", "key", key, "err", err)
	} else if ok {
		var value T
		if err := json.Unmarshal(raw, &value); err == nil {
			return value, nil
		}
		c.logger.Warn("dropping undecodable cache entry", "key", key)
	}

	shared, err, _ := c.group.Do(key, func() (any, error) {
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode cache entry %s: %w", key, err)
		}
		if err := c.store.Set(ctx, key, raw, ttl); err != nil {
			c.logger.Warn("cache write failed", "key", key, "err", err)
		}
		return raw, nil
	})
	if err != nil {
		return zero, err
	}

	var value T
	if err := json.Unmarshal(shared.([]byte), &value); err != nil {
		return zero, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return value, nil
}
