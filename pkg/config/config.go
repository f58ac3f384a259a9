package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	NATS       NATSConfig
	Maps       MapsConfig
	Matcher    MatcherConfig
	Recon      ReconConfig
	Resilience ResilienceConfig
	Timeout    TimeoutConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         string
	Environment  string
	ServiceName  string
	ReadTimeout  int
	WriteTimeout int
	CORSOrigins  string // Comma-separated list of allowed origins
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// NATSConfig holds notification bus configuration
type NATSConfig struct {
	URL string
}

// MapsConfig holds routing API configuration
type MapsConfig struct {
	APIKey         string
	BaseURL        string
	TimeoutSeconds int
	CacheTTLMin    int
}

// MatcherConfig holds the route-pooling engine tuning knobs
type MatcherConfig struct {
	OriginLat          float64
	OriginLng          float64
	HexResolution      int
	RatePerKM          int
	PoolDiscountFactor float64
	MaxPassengers      int
	LuggageCapacity    int
	DetourMaxMeters    int
	NeighbourScanLimit int
	WorkerPoolSize     int
}

// ReconConfig holds reconciliation worker configuration
type ReconConfig struct {
	IntervalSeconds int
}

// ResilienceConfig groups runtime resilience controls
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// CircuitBreakerConfig captures default and per-service breaker tuning
type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	SuccessThreshold int
	TimeoutSeconds   int
	IntervalSeconds  int
	ServiceOverrides map[string]CircuitBreakerSettings
}

// CircuitBreakerSettings overrides defaults for a specific upstream service
type CircuitBreakerSettings struct {
	FailureThreshold int `json:"failure_threshold"`
	SuccessThreshold int `json:"success_threshold"`
	TimeoutSeconds   int `json:"timeout_seconds"`
	IntervalSeconds  int `json:"interval_seconds"`
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ServiceName:  serviceName,
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 10),
			CORSOrigins:  getEnv("CORS_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "airpool"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL: getEnv("NATS_URL", "nats://localhost:4222"),
		},
		Maps: MapsConfig{
			APIKey:         getEnv("ROUTES_API_KEY", ""),
			BaseURL:        getEnv("ROUTES_API_BASE_URL", "https://routes.googleapis.com"),
			TimeoutSeconds: getEnvAsInt("ROUTES_TIMEOUT_SECONDS", 5),
			CacheTTLMin:    getEnvAsInt("ROUTES_CACHE_TTL_MIN", 10),
		},
		Matcher: MatcherConfig{
			OriginLat:          getEnvAsFloat("ORIGIN_LAT", 28.5562),
			OriginLng:          getEnvAsFloat("ORIGIN_LNG", 77.1000),
			HexResolution:      getEnvAsInt("HEX_RESOLUTION", 7),
			RatePerKM:          getEnvAsInt("RATE_PER_KM", 10),
			PoolDiscountFactor: getEnvAsFloat("POOL_DISCOUNT_FACTOR", 0.30),
			MaxPassengers:      getEnvAsInt("MAX_PASSENGERS", 3),
			LuggageCapacity:    getEnvAsInt("LUGGAGE_CAPACITY", 4),
			DetourMaxMeters:    getEnvAsInt("DETOUR_MAX_M", 3000),
			NeighbourScanLimit: getEnvAsInt("NEIGHBOUR_SCAN_LIMIT", 5),
			WorkerPoolSize:     getEnvAsInt("WORKER_POOL_SIZE", 0),
		},
		Recon: ReconConfig{
			IntervalSeconds: getEnvAsInt("RECON_INTERVAL_SECONDS", 60),
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          getEnvAsBool("CB_ENABLED", false),
				FailureThreshold: getEnvAsInt("CB_FAILURE_THRESHOLD", 5),
				SuccessThreshold: getEnvAsInt("CB_SUCCESS_THRESHOLD", 1),
				TimeoutSeconds:   getEnvAsInt("CB_TIMEOUT_SECONDS", 30),
				IntervalSeconds:  getEnvAsInt("CB_INTERVAL_SECONDS", 60),
			},
		},
	}

	timeoutCfg, err := loadTimeoutConfig()
	if err != nil {
		return nil, err
	}
	cfg.Timeout = timeoutCfg

	if breakerOverrides := getEnv("CB_SERVICE_OVERRIDES", ""); breakerOverrides != "" {
		var serviceConfig map[string]CircuitBreakerSettings
		if err := json.Unmarshal([]byte(breakerOverrides), &serviceConfig); err != nil {
			return nil, fmt.Errorf("invalid CB_SERVICE_OVERRIDES value: %w", err)
		}
		cfg.Resilience.CircuitBreaker.ServiceOverrides = serviceConfig
	}

	if cfg.Matcher.WorkerPoolSize <= 0 {
		cfg.Matcher.WorkerPoolSize = defaultWorkerPoolSize()
	}

	if cfg.Matcher.NeighbourScanLimit <= 0 {
		cfg.Matcher.NeighbourScanLimit = 5
	}

	if cfg.Maps.TimeoutSeconds <= 0 {
		cfg.Maps.TimeoutSeconds = 5
	}

	if cfg.Recon.IntervalSeconds <= 0 {
		cfg.Recon.IntervalSeconds = 60
	}

	if cfg.Resilience.CircuitBreaker.TimeoutSeconds <= 0 {
		cfg.Resilience.CircuitBreaker.TimeoutSeconds = 30
	}

	if cfg.Resilience.CircuitBreaker.IntervalSeconds <= 0 {
		cfg.Resilience.CircuitBreaker.IntervalSeconds = 60
	}

	if cfg.Resilience.CircuitBreaker.FailureThreshold <= 0 {
		cfg.Resilience.CircuitBreaker.FailureThreshold = 5
	}

	if cfg.Resilience.CircuitBreaker.SuccessThreshold <= 0 {
		cfg.Resilience.CircuitBreaker.SuccessThreshold = 1
	}

	return cfg, nil
}

// defaultWorkerPoolSize derives the match worker count from available cores,
// clamped to [2, 6] so a small host still gets concurrency and a large host
// does not oversubscribe the pool store.
func defaultWorkerPoolSize() int {
	n := runtime.NumCPU() / 2
	if n < 2 {
		n = 2
	}
	if n > 6 {
		n = 6
	}
	return n
}

// SettingsFor returns effective breaker settings for a specific upstream service name
func (c CircuitBreakerConfig) SettingsFor(service string) CircuitBreakerSettings {
	settings := CircuitBreakerSettings{
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
		TimeoutSeconds:   c.TimeoutSeconds,
		IntervalSeconds:  c.IntervalSeconds,
	}

	if c.ServiceOverrides != nil {
		if override, ok := c.ServiceOverrides[service]; ok {
			if override.FailureThreshold > 0 {
				settings.FailureThreshold = override.FailureThreshold
			}
			if override.SuccessThreshold > 0 {
				settings.SuccessThreshold = override.SuccessThreshold
			}
			if override.TimeoutSeconds > 0 {
				settings.TimeoutSeconds = override.TimeoutSeconds
			}
			if override.IntervalSeconds > 0 {
				settings.IntervalSeconds = override.IntervalSeconds
			}
		}
	}

	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = 1
	}
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.TimeoutSeconds <= 0 {
		settings.TimeoutSeconds = 30
	}
	if settings.IntervalSeconds <= 0 {
		settings.IntervalSeconds = 60
	}

	return settings
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Timeout returns the routing API request timeout
func (c *MapsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheTTL returns how long computed detour distances stay cached
func (c *MapsConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMin) * time.Minute
}

// Interval returns the reconciliation sweep interval
func (c *ReconConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
