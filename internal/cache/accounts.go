// Package cache holds a short-lived read-through cache of account status,
// so repeated snapshot requests inside one conversation avoid refetching
// from the ad platform.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AccountStatus is the cached view of one ad account.
type AccountStatus struct {
	AccountID   string         `json:"account_id"`
	HealthScore float64        `json:"health_score"`
	Facts       map[string]any `json:"facts,omitempty"`
	FetchedAt   time.Time      `json:"fetched_at"`
}

// ErrMiss is returned when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// AccountCache stores account status with a TTL. Last write wins.
type AccountCache interface {
	Get(ctx context.Context, accountID string) (*AccountStatus, error)
	Set(ctx context.Context, status *AccountStatus) error
}

// RedisAccountCache is the Redis-backed implementation.
type RedisAccountCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAccountCache(redisURL string, ttl time.Duration) (*RedisAccountCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisAccountCache{client: client, ttl: ttl}, nil
}

func accountKey(accountID string) string {
	return "account_status:" + accountID
}

func (c *RedisAccountCache) Get(ctx context.Context, accountID string) (*AccountStatus, error) {
	data, err := c.client.Get(ctx, accountKey(accountID)).Result()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account status: %w", err)
	}
	var status AccountStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, fmt.Errorf("failed to parse account status: %w", err)
	}
	return &status, nil
}

func (c *RedisAccountCache) Set(ctx context.Context, status *AccountStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal account status: %w", err)
	}
	if err := c.client.Set(ctx, accountKey(status.AccountID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save account status: %w", err)
	}
	return nil
}

func (c *RedisAccountCache) Close() error {
	return c.client.Close()
}

// MemoryAccountCache is the in-process fallback used when Redis is not
// configured.
type MemoryAccountCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*AccountStatus
}

func NewMemoryAccountCache(ttl time.Duration) *MemoryAccountCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryAccountCache{ttl: ttl, entries: make(map[string]*AccountStatus)}
}

func (c *MemoryAccountCache) Get(ctx context.Context, accountID string) (*AccountStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, ok := c.entries[accountID]
	if !ok || time.Since(status.FetchedAt) > c.ttl {
		delete(c.entries, accountID)
		return nil, ErrMiss
	}
	return status, nil
}

func (c *MemoryAccountCache) Set(ctx context.Context, status *AccountStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[status.AccountID] = status
	return nil
}

// Open picks the Redis cache when a URL is configured and falls back to
// memory otherwise, logging the choice once at startup.
func Open(redisEnabled bool, redisURL string, ttl time.Duration, logger *slog.Logger) AccountCache {
	if logger == nil {
		logger = slog.Default()
	}
	if redisEnabled && redisURL != "" {
		c, err := NewRedisAccountCache(redisURL, ttl)
		if err == nil {
			logger.Info("account cache backed by redis")
			return c
		}
		logger.Warn("redis unavailable, using in-memory account cache", "error", err)
	}
	return NewMemoryAccountCache(ttl)
}
