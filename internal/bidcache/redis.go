package bidcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leadwire/rtb-core/internal/bid"
	"github.com/leadwire/rtb-core/pkg/logger"
)

// keyPrefix namespaces bid-cache entries in a shared Redis instance
const keyPrefix = "bidcache:"

// RedisConfig holds connection pool settings for the Redis backend
type RedisConfig struct {
	// Connection pool size
	PoolSize int
	// Minimum idle connections to maintain
	MinIdleConns int
	// Maximum connection age before recycling
	MaxConnAge time.Duration
	// Timeout for establishing new connections
	DialTimeout time.Duration
	// Timeout for socket reads
	ReadTimeout time.Duration
	// Timeout for socket writes
	WriteTimeout time.Duration
	// Timeout for getting connection from pool
	PoolTimeout time.Duration
}

// DefaultRedisConfig returns production-ready pool settings
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		PoolSize:     100,
		MinIdleConns: 10,
		MaxConnAge:   30 * time.Minute,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	}
}

// Redis is the shared Store backend for multi-instance deployments. A
// double RTB call on a cross-instance race is wasteful, not unsafe, so no
// distributed locking is used.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed store from a URL with default pooling
func NewRedis(redisURL string) (*Redis, error) {
	return NewRedisWithConfig(redisURL, DefaultRedisConfig())
}

// NewRedisWithConfig creates a Redis-backed store with custom pooling
func NewRedisWithConfig(redisURL string, cfg *RedisConfig) (*Redis, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is empty")
	}

	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.ConnMaxLifetime = cfg.MaxConnAge
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolTimeout = cfg.PoolTimeout

	client := redis.NewClient(opts)

	// Test connection; a failure here is logged, not fatal, since every
	// request retries independently
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Log.Warn().Err(err).Str("address", opts.Addr).Msg("Redis connection test failed")
	} else {
		logger.Log.Info().
			Str("address", opts.Addr).
			Int("pool_size", cfg.PoolSize).
			Msg("Redis bid cache connected")
	}

	return &Redis{client: client}, nil
}

// Get implements Store
func (r *Redis) Get(ctx context.Context, leadID string) ([]bid.Bid, bool, error) {
	payload, err := r.client.Get(ctx, keyPrefix+leadID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var bids []bid.Bid
	if err := json.Unmarshal(payload, &bids); err != nil {
		return nil, false, fmt.Errorf("corrupt bid cache entry for lead %s: %w", leadID, err)
	}
	return bids, true, nil
}

// Set implements Store
func (r *Redis) Set(ctx context.Context, leadID string, bids []bid.Bid, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	payload, err := json.Marshal(bids)
	if err != nil {
		return fmt.Errorf("marshal bid set: %w", err)
	}

	if err := r.client.Set(ctx, keyPrefix+leadID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping tests the connection
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the connection pool
func (r *Redis) Close() error {
	return r.client.Close()
}
