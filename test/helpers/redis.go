package helpers

import (
	"context"
	"os"
	"testing"

	"github.com/richxcame/airpool/pkg/config"
	redisclient "github.com/richxcame/airpool/pkg/redis"
)

// SetupTestRedis connects to the test Redis instance, flushes the
// selected database, and registers cleanup. Tests get an empty keyspace
// and leave one behind.
func SetupTestRedis(t *testing.T) *redisclient.Client {
	t.Helper()

	cfg := config.RedisConfig{
		Host: envOr("TEST_REDIS_HOST", "localhost"),
		Port: envOr("TEST_REDIS_PORT", "6380"),
		DB:   0,
	}

	client, err := redisclient.NewRedisClient(&cfg)
	if err != nil {
		t.Fatalf("failed to connect to test redis: %v", err)
	}

	if err := client.FlushDB(context.Background()).Err(); err != nil {
		client.Close()
		t.Fatalf("failed to flush test redis: %v", err)
	}

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})

	return client
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
