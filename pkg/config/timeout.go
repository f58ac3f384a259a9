package config

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// DefaultRequestTimeout is the fallback per-request deadline in seconds
	DefaultRequestTimeout = 30

	// maxRequestTimeout caps how far an operator can raise the deadline
	maxRequestTimeout = 300
)

// TimeoutConfig governs per-request deadlines on the HTTP surface.
// RouteOverrides maps "METHOD:/path" to a timeout in seconds for routes
// that legitimately run longer than the default.
type TimeoutConfig struct {
	DefaultRequestTimeout int
	RouteOverrides        map[string]int
}

func loadTimeoutConfig() (TimeoutConfig, error) {
	cfg := TimeoutConfig{
		DefaultRequestTimeout: getEnvAsInt("DEFAULT_REQUEST_TIMEOUT", DefaultRequestTimeout),
		RouteOverrides:        make(map[string]int),
	}

	if cfg.DefaultRequestTimeout > maxRequestTimeout {
		return cfg, fmt.Errorf("DEFAULT_REQUEST_TIMEOUT value %d exceeds maximum of %d seconds", cfg.DefaultRequestTimeout, maxRequestTimeout)
	}

	if overrides := getEnv("TIMEOUT_ROUTE_OVERRIDES", ""); overrides != "" {
		if err := json.Unmarshal([]byte(overrides), &cfg.RouteOverrides); err != nil {
			return cfg, fmt.Errorf("invalid TIMEOUT_ROUTE_OVERRIDES value: %w", err)
		}
	}

	return cfg, nil
}

// TimeoutForRoute returns the deadline for a method and path, falling back
// to the default when no override matches or the override is not positive.
func (c TimeoutConfig) TimeoutForRoute(method, path string) time.Duration {
	if c.RouteOverrides != nil {
		if secs, ok := c.RouteOverrides[method+":"+path]; ok && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}

	secs := c.DefaultRequestTimeout
	if secs <= 0 {
		secs = DefaultRequestTimeout
	}
	return time.Duration(secs) * time.Second
}
