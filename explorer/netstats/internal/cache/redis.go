package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gpunet/gpunet/explorer/netstats/internal/store"
)

const latestKey = "snapshot:latest"

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netstats_cache_hits_total",
		Help: "Total number of cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netstats_cache_misses_total",
		Help: "Total number of cache misses",
	})

	cacheErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netstats_cache_errors_total",
		Help: "Total number of cache errors",
	})
)

// ErrCacheMiss indicates the key is absent or expired
var ErrCacheMiss = errors.New("cache miss")

// Config holds Redis cache configuration
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisCache caches the latest snapshot in Redis
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(ctx context.Context, cfg Config) (*RedisCache, error) {
	if cfg.Address == "" {
		cfg.Address = "localhost:6379"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "netstats:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
	}, nil
}

// PutLatest stores the latest snapshot
func (c *RedisCache) PutLatest(ctx context.Context, snap store.Snapshot) error {
	bz, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cache encode error: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+latestKey, bz, c.ttl).Err(); err != nil {
		cacheErrors.Inc()
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

// GetLatest returns the cached snapshot or ErrCacheMiss
func (c *RedisCache) GetLatest(ctx context.Context) (store.Snapshot, error) {
	bz, err := c.client.Get(ctx, c.prefix+latestKey).Bytes()
	if errors.Is(err, redis.Nil) {
		cacheMisses.Inc()
		return store.Snapshot{}, ErrCacheMiss
	}
	if err != nil {
		cacheErrors.Inc()
		return store.Snapshot{}, fmt.Errorf("cache get error: %w", err)
	}

	var snap store.Snapshot
	if err := json.Unmarshal(bz, &snap); err != nil {
		cacheErrors.Inc()
		return store.Snapshot{}, fmt.Errorf("cache decode error: %w", err)
	}
	cacheHits.Inc()
	return snap, nil
}

// Invalidate drops the cached snapshot
func (c *RedisCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, c.prefix+latestKey).Err(); err != nil {
		cacheErrors.Inc()
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

// Ping checks cache connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
