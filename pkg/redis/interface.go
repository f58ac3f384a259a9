package redis

import (
	"context"
	"time"
)

// ClientInterface defines the interface for Redis operations
type ClientInterface interface {
	SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetString(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error

	// Batch operations
	MGet(ctx context.Context, keys ...string) ([]interface{}, error)
	MGetStrings(ctx context.Context, keys ...string) ([]string, error)

	// Lex-ordered set operations
	ZAddLexMember(ctx context.Context, key, member string) error
	ZRangeByLexLimit(ctx context.Context, key, min, max string, count int64) ([]string, error)
	ZRevRangeByLexLimit(ctx context.Context, key, max, min string, count int64) ([]string, error)
	RemoveMembers(ctx context.Context, key string, members ...interface{}) (int64, error)
	ScanMembers(ctx context.Context, key, pattern string) ([]string, error)

	// Expiration
	Expire(ctx context.Context, key string, expiration time.Duration) error
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)
