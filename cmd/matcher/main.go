package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/richxcame/airpool/internal/dispatch"
	"github.com/richxcame/airpool/internal/intake"
	"github.com/richxcame/airpool/internal/maps"
	"github.com/richxcame/airpool/internal/matching"
	"github.com/richxcame/airpool/internal/notify"
	"github.com/richxcame/airpool/internal/pool"
	"github.com/richxcame/airpool/internal/recon"
	"github.com/richxcame/airpool/internal/route"
	"github.com/richxcame/airpool/internal/trips"
	"github.com/richxcame/airpool/pkg/cache"
	"github.com/richxcame/airpool/pkg/common"
	"github.com/richxcame/airpool/pkg/config"
	"github.com/richxcame/airpool/pkg/database"
	"github.com/richxcame/airpool/pkg/errors"
	"github.com/richxcame/airpool/pkg/eventbus"
	"github.com/richxcame/airpool/pkg/logger"
	"github.com/richxcame/airpool/pkg/middleware"
	redisclient "github.com/richxcame/airpool/pkg/redis"
	"github.com/richxcame/airpool/pkg/resilience"
	"github.com/richxcame/airpool/pkg/tracing"
	"go.uber.org/zap"
)

const (
	serviceName = "matcher-service"
	version     = "1.0.0"
)

// workerDBConns caps each worker's private database pool. A worker runs
// one task at a time, so two connections cover the commit transaction
// plus the detail read behind it.
const workerDBConns = 2

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting matcher service",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
		zap.Int("workers", cfg.Matcher.WorkerPoolSize),
	)

	// Initialize Sentry for error tracking
	sentryConfig := errors.DefaultSentryConfig()
	sentryConfig.ServerName = serviceName
	sentryConfig.Release = version
	if err := errors.InitSentry(sentryConfig); err != nil {
		logger.Warn("Failed to initialize Sentry, continuing without error tracking", zap.Error(err))
	} else {
		defer errors.Flush(2 * time.Second)
		logger.Info("Sentry error tracking initialized successfully")
	}

	// Initialize OpenTelemetry tracer
	tracerEnabled := os.Getenv("OTEL_ENABLED") == "true"
	if tracerEnabled {
		tracerCfg := tracing.Config{
			ServiceName:    os.Getenv("OTEL_SERVICE_NAME"),
			ServiceVersion: os.Getenv("OTEL_SERVICE_VERSION"),
			Environment:    cfg.Server.Environment,
			OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Enabled:        true,
		}

		tp, err := tracing.InitTracer(tracerCfg, logger.Get())
		if err != nil {
			logger.Warn("Failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Failed to shutdown tracer", zap.Error(err))
				}
			}()
			logger.Info("OpenTelemetry tracing initialized successfully")
		}
	}

	// Ops-plane handles. Workers build their own; these serve the health
	// and stats endpoints only.
	opsDB, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer opsDB.Close()
	if err := opsDB.Ping(); err != nil {
		logger.Fatal("Failed to ping database", zap.Error(err))
	}
	logger.Info("Connected to database")

	opsRedis, err := redisclient.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer func() {
		if err := opsRedis.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}()
	logger.Info("Connected to Redis")

	// Intake bus. Workers publish notifications over their own
	// connections; this one only carries the request-reply subjects.
	busCfg := eventbus.DefaultConfig()
	busCfg.URL = cfg.NATS.URL
	busCfg.Name = serviceName
	bus, err := eventbus.New(busCfg)
	if err != nil {
		logger.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer bus.Close()

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	dispatcher := dispatch.NewDispatcher(cfg.Matcher.WorkerPoolSize, workerContextFactory(cfg))
	if err := dispatcher.Start(workerCtx); err != nil {
		logger.Fatal("Failed to start worker pool", zap.Error(err))
	}

	listener := intake.NewListener(dispatcher)
	if err := listener.Start(bus); err != nil {
		logger.Fatal("Failed to subscribe intake subjects", zap.Error(err))
	}
	logger.Info("Intake listener started")

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RecoveryWithSentry())
	router.Use(middleware.SentryMiddleware())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(&cfg.Timeout))
	router.Use(middleware.RequestLogger(serviceName))
	router.Use(middleware.CORS(cfg.Server.CORSOrigins))
	router.Use(middleware.Metrics(serviceName))

	if tracerEnabled {
		router.Use(middleware.TracingMiddleware(serviceName))
	}

	router.Use(middleware.ErrorHandler())

	// Health check endpoints
	router.GET("/healthz", common.HealthCheck(serviceName, version))
	router.GET("/health/live", common.LivenessProbe(serviceName, version))

	// Readiness probe with dependency checks
	healthChecks := make(map[string]func() error)
	healthChecks["database"] = func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return opsDB.PingContext(ctx)
	}
	healthChecks["redis"] = func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return opsRedis.Client.Ping(ctx).Err()
	}
	healthChecks["nats"] = func() error {
		if !bus.Connected() {
			return fmt.Errorf("nats disconnected")
		}
		return nil
	}

	router.GET("/health/ready", common.ReadinessProbe(serviceName, version, healthChecks))

	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": serviceName,
			"version": version,
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	statsHandler := recon.NewHandler(recon.NewStatsStore(opsDB), pool.NewStore(opsRedis, ""), cache.NewManager(opsRedis))
	router.GET("/api/v1/stats", statsHandler.GetStats)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down matcher...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	// Intake stops before the pool drains, so no submission can arrive
	// after its rejection would be the only possible outcome.
	bus.Close()
	dispatcher.Shutdown()

	logger.Info("Matcher stopped")
}

// workerContextFactory builds the per-worker context: every worker gets
// its own Redis client, database pool and bus connection, so a failure
// in one worker's handles never stalls the others.
func workerContextFactory(cfg *config.Config) dispatch.ContextFactory {
	return func(ctx context.Context, workerID int) (*dispatch.WorkerContext, error) {
		wc := &dispatch.WorkerContext{ID: workerID}

		redisClient, err := redisclient.NewRedisClient(&cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("worker %d redis: %w", workerID, err)
		}
		wc.OnClose(redisClient.Close)

		workerDB := cfg.Database
		workerDB.MaxConns = workerDBConns
		workerDB.MinConns = 1
		dbPool, err := database.NewPostgresPool(&workerDB)
		if err != nil {
			wc.Close()
			return nil, fmt.Errorf("worker %d database: %w", workerID, err)
		}
		wc.OnClose(func() error {
			database.Close(dbPool)
			return nil
		})

		busCfg := eventbus.DefaultConfig()
		busCfg.URL = cfg.NATS.URL
		busCfg.Name = fmt.Sprintf("%s-worker-%d", serviceName, workerID)
		bus, err := eventbus.New(busCfg)
		if err != nil {
			wc.Close()
			return nil, fmt.Errorf("worker %d event bus: %w", workerID, err)
		}
		wc.OnClose(func() error {
			bus.Close()
			return nil
		})

		var breaker *resilience.CircuitBreaker
		if cfg.Resilience.CircuitBreaker.Enabled {
			cbCfg := cfg.Resilience.CircuitBreaker.SettingsFor("routes-api")
			breaker = resilience.NewCircuitBreaker(
				resilience.BuildSettings(
					fmt.Sprintf("routes-api-w%d", workerID),
					cbCfg.IntervalSeconds, cbCfg.TimeoutSeconds,
					cbCfg.FailureThreshold, cbCfg.SuccessThreshold,
				),
				nil,
			)
		}

		mapsClient := maps.NewClient(&cfg.Maps, breaker, cache.NewManager(redisClient))
		indexer := route.NewIndexer(mapsClient, cfg.Matcher.OriginLat, cfg.Matcher.OriginLng, cfg.Matcher.HexResolution)
		poolStore := pool.NewStore(redisClient, "")
		tripStore := trips.NewRepository(dbPool)
		notifier := notify.NewNotifier(bus, serviceName)

		wc.Engine = matching.NewService(poolStore, tripStore, indexer, mapsClient, notifier, &cfg.Matcher)
		return wc, nil
	}
}
