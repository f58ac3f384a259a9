package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/richxcame/airpool/pkg/async"
	"github.com/richxcame/airpool/pkg/logger"
	redisclient "github.com/richxcame/airpool/pkg/redis"
)

// Manager handles caching operations with JSON serialization
type Manager struct {
	redis *redisclient.Client
}

// NewManager creates a new cache manager
func NewManager(redis *redisclient.Client) *Manager {
	return &Manager{redis: redis}
}

// Get retrieves a cached value and unmarshals it into result
func (m *Manager) Get(ctx context.Context, key string, result interface{}) error {
	data, err := m.redis.GetString(ctx, key)
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(data), result)
}

// Set marshals and caches a value with expiration
func (m *Manager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	return m.redis.SetWithExpiration(ctx, key, string(data), ttl)
}

// GetOrSet retrieves from cache or executes fn and caches the result.
// The cache write happens off the caller's path; a failed write only
// costs the next caller a recompute.
func (m *Manager) GetOrSet(ctx context.Context, key string, ttl time.Duration, result interface{}, fn func() (interface{}, error)) error {
	err := m.Get(ctx, key, result)
	if err == nil {
		return nil
	}

	data, err := fn()
	if err != nil {
		return err
	}

	async.GoWithTimeout(ctx, "cache.set", 5*time.Second, func(cacheCtx context.Context) {
		if err := m.Set(cacheCtx, key, data, ttl); err != nil {
			logger.WarnContext(cacheCtx, "failed to cache value",
				zap.String("key", key),
				zap.Error(err))
		}
	})

	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return json.Unmarshal(jsonData, result)
}

// Delete removes keys from cache
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	return m.redis.Delete(ctx, keys...)
}

// CacheKeys defines the matcher's cache key patterns
type CacheKeys struct{}

var Keys = CacheKeys{}

// Detour returns the cache key for a routed road distance between two
// cell centres
func (k CacheKeys) Detour(fromCell, toCell string) string {
	return fmt.Sprintf("maps:detour:%s:%s", fromCell, toCell)
}

// MatcherStats returns the cache key for the ops stats snapshot
func (k CacheKeys) MatcherStats() string {
	return "matcher:stats"
}

// TTL defines the matcher's cache lifetimes
type CacheTTL struct{}

var TTL = CacheTTL{}

// Stats bounds how stale the ops stats snapshot may get
func (t CacheTTL) Stats() time.Duration { return 30 * time.Second }
