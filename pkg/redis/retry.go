package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/richxcame/airpool/pkg/resilience"
)

// RetryableOperation executes a Redis operation with retry logic for transient failures
func RetryableOperation[T any](ctx context.Context, operation func(context.Context) (T, error), operationName string) (T, error) {
	config := resilience.DefaultRetryConfig()
	config.MaxAttempts = 3
	config.InitialBackoff = 50 * time.Millisecond
	config.MaxBackoff = 1 * time.Second
	config.RetryableChecker = isRedisRetryable

	result, err := resilience.RetryWithName(ctx, config, func(ctx context.Context) (interface{}, error) {
		return operation(ctx)
	}, operationName)

	if err != nil {
		return *new(T), err
	}

	// Comma-ok tolerates operations that only return an error.
	value, _ := result.(T)
	return value, nil
}

// RetryableSet sets a key-value pair with retry logic
func (c *Client) RetryableSet(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	_, err := RetryableOperation(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, c.Set(ctx, key, value, expiration).Err()
	}, "redis.set")
	return err
}

// RetryableGet gets a value by key with retry logic
func (c *Client) RetryableGet(ctx context.Context, key string) (string, error) {
	return RetryableOperation(ctx, func(ctx context.Context) (string, error) {
		return c.Get(ctx, key).Result()
	}, "redis.get")
}

// RetryableZAddLexMember inserts a member at score 0 with retry logic.
// Re-adding the same member at the same score is idempotent.
func (c *Client) RetryableZAddLexMember(ctx context.Context, key, member string) error {
	_, err := RetryableOperation(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, c.ZAddLexMember(ctx, key, member)
	}, "redis.zadd")
	return err
}

// RetryableScanMembers collects members matching pattern with retry logic
func (c *Client) RetryableScanMembers(ctx context.Context, key, pattern string) ([]string, error) {
	return RetryableOperation(ctx, func(ctx context.Context) ([]string, error) {
		return c.ScanMembers(ctx, key, pattern)
	}, "redis.zscan")
}

// RetryableScanKeys collects keys matching pattern with retry logic
func (c *Client) RetryableScanKeys(ctx context.Context, pattern string) ([]string, error) {
	return RetryableOperation(ctx, func(ctx context.Context) ([]string, error) {
		return c.ScanKeys(ctx, pattern)
	}, "redis.scan")
}

// RetryableZRangeByLex runs an ascending lex scan with retry logic.
// Scans are read-only so a retry can never double-apply.
func (c *Client) RetryableZRangeByLex(ctx context.Context, key, min, max string, count int64) ([]string, error) {
	return RetryableOperation(ctx, func(ctx context.Context) ([]string, error) {
		return c.ZRangeByLexLimit(ctx, key, min, max, count)
	}, "redis.zrangebylex")
}

// RetryableZRevRangeByLex runs a descending lex scan with retry logic
func (c *Client) RetryableZRevRangeByLex(ctx context.Context, key, max, min string, count int64) ([]string, error) {
	return RetryableOperation(ctx, func(ctx context.Context) ([]string, error) {
		return c.ZRevRangeByLexLimit(ctx, key, max, min, count)
	}, "redis.zrevrangebylex")
}

// RetryableDelete deletes keys with retry logic
func (c *Client) RetryableDelete(ctx context.Context, keys ...string) error {
	_, err := RetryableOperation(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, c.Delete(ctx, keys...)
	}, "redis.delete")
	return err
}

// RetryableExpire sets an expiration with retry logic
func (c *Client) RetryableExpire(ctx context.Context, key string, expiration time.Duration) error {
	_, err := RetryableOperation(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, c.Expire(ctx, key, expiration)
	}, "redis.expire")
	return err
}

// isRedisRetryable determines if a Redis error should be retried
func isRedisRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Don't retry context errors
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Don't retry Nil (key not found) - this is expected behavior
	if errors.Is(err, redis.Nil) {
		return false
	}

	// Check for connection errors
	errMsg := strings.ToLower(err.Error())
	retryableMessages := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"temporary failure",
		"timeout",
		"server closed",
		"unexpected eof",
		"pool timeout",
		"i/o timeout",
		"connection pool exhausted",
		"loading",     // Redis is loading dataset
		"busy",        // Redis is busy (script execution, etc.)
		"masterdown",  // Master is down
		"readonly",    // Replica is read-only (for write operations on replica)
		"noscript",    // Script not in cache (can retry after loading)
		"cluster",     // Cluster-related transient errors
		"moved",       // Key moved to another node (Redis Cluster)
		"ask",         // Redirection in Redis Cluster
		"tryagain",    // Redis asking to retry
		"clusterdown", // Cluster is down
	}

	for _, msg := range retryableMessages {
		if strings.Contains(errMsg, msg) {
			return true
		}
	}

	// Don't retry on validation errors
	nonRetryableMessages := []string{
		"wrongtype",   // Operation against a key holding the wrong kind of value
		"err syntax",  // Syntax error
		"err invalid", // Invalid argument
		"noauth",      // Authentication required
		"wrongpass",   // Invalid password
		"noperm",      // No permission
		"err unknown", // Unknown command
		"execabort",   // Transaction aborted
	}

	for _, msg := range nonRetryableMessages {
		if strings.Contains(errMsg, msg) {
			return false
		}
	}

	// Retry by default for unknown errors (conservative approach for cache)
	return true
}

// ConservativeRetryConfig returns a conservative retry configuration for Redis
func ConservativeRetryConfig() resilience.RetryConfig {
	config := resilience.ConservativeRetryConfig()
	config.InitialBackoff = 50 * time.Millisecond
	config.MaxBackoff = 1 * time.Second
	config.RetryableChecker = isRedisRetryable
	return config
}
