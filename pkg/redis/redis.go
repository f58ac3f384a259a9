package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/richxcame/airpool/pkg/config"
)

// Client wraps the Redis client
type Client struct {
	*redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg *config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}

	return &Client{Client: client}, nil
}

// SetWithExpiration sets a key-value pair with expiration
func (c *Client) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.Set(ctx, key, value, expiration).Err()
}

// GetString gets a string value by key
func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	return c.Get(ctx, key).Result()
}

// Delete deletes a key
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.Del(ctx, keys...).Err()
}

// Exists checks if a key exists
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	result, err := c.Client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// Close closes the Redis client
func (c *Client) Close() error {
	return c.Client.Close()
}

// MGet fetches multiple keys in one round trip. Missing keys come back
// as nil at their position, which callers use to detect stale entries.
func (c *Client) MGet(ctx context.Context, keys ...string) ([]interface{}, error) {
	return c.Client.MGet(ctx, keys...).Result()
}

// MGetStrings fetches multiple keys, returning "" for missing ones
func (c *Client) MGetStrings(ctx context.Context, keys ...string) ([]string, error) {
	raw, err := c.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}

	values := make([]string, len(raw))
	for i, v := range raw {
		if s, ok := v.(string); ok {
			values[i] = s
		}
	}
	return values, nil
}

// Lex-ordered set helpers. The ride pool keeps every member at score 0 so
// range queries order purely by the member bytes.

// ZAddLexMember inserts a member at score 0
func (c *Client) ZAddLexMember(ctx context.Context, key, member string) error {
	return c.Client.ZAdd(ctx, key, redis.Z{Score: 0, Member: member}).Err()
}

// ZRangeByLexLimit returns up to count members between min and max in
// ascending lex order. min and max use Redis lex-range syntax ("[", "(",
// "-", "+").
func (c *Client) ZRangeByLexLimit(ctx context.Context, key, min, max string, count int64) ([]string, error) {
	return c.Client.ZRangeByLex(ctx, key, &redis.ZRangeBy{
		Min:    min,
		Max:    max,
		Offset: 0,
		Count:  count,
	}).Result()
}

// ZRevRangeByLexLimit returns up to count members between max and min in
// descending lex order.
func (c *Client) ZRevRangeByLexLimit(ctx context.Context, key, max, min string, count int64) ([]string, error) {
	return c.Client.ZRevRangeByLex(ctx, key, &redis.ZRangeBy{
		Min:    min,
		Max:    max,
		Offset: 0,
		Count:  count,
	}).Result()
}

// RemoveMembers removes members in a single call and reports how many
// were actually present
func (c *Client) RemoveMembers(ctx context.Context, key string, members ...interface{}) (int64, error) {
	return c.Client.ZRem(ctx, key, members...).Result()
}

// RemovePairMembers removes two members atomically in one MULTI/EXEC
// round trip and reports, per member, whether it was present. The two
// counts together tell a caller which side of a contended removal it
// lost.
func (c *Client) RemovePairMembers(ctx context.Context, key, first, second string) (int64, int64, error) {
	var firstCmd, secondCmd *redis.IntCmd
	_, err := c.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		firstCmd = pipe.ZRem(ctx, key, first)
		secondCmd = pipe.ZRem(ctx, key, second)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return firstCmd.Val(), secondCmd.Val(), nil
}

// ScanMembers iterates the whole sorted set and collects members
// matching pattern
func (c *Client) ScanMembers(ctx context.Context, key, pattern string) ([]string, error) {
	var members []string
	var cursor uint64

	for {
		page, next, err := c.Client.ZScan(ctx, key, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}

		// ZSCAN pages alternate member and score
		for i := 0; i+1 < len(page); i += 2 {
			members = append(members, page[i])
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return members, nil
}

// ScanKeys iterates the keyspace and collects keys matching pattern
func (c *Client) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		page, next, err := c.Client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, page...)

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// Expire sets an expiration on a key
func (c *Client) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return c.Client.Expire(ctx, key, expiration).Err()
}
