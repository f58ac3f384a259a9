package errors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/richxcame/airpool/pkg/common"
	"github.com/richxcame/airpool/pkg/logger"
)

// SentryConfig holds configuration for Sentry integration
type SentryConfig struct {
	DSN              string
	Environment      string
	Release          string
	SampleRate       float64
	TracesSampleRate float64
	Debug            bool
	EnableTracing    bool
	ServerName       string
	AttachStacktrace bool
}

// DefaultSentryConfig returns a default Sentry configuration
func DefaultSentryConfig() *SentryConfig {
	return &SentryConfig{
		DSN:              os.Getenv("SENTRY_DSN"),
		Environment:      getEnvironment(),
		Release:          os.Getenv("SENTRY_RELEASE"),
		SampleRate:       getSampleRate(),
		TracesSampleRate: getTracesSampleRate(),
		Debug:            os.Getenv("SENTRY_DEBUG") == "true",
		EnableTracing:    os.Getenv("SENTRY_ENABLE_TRACING") != "false", // enabled by default
		ServerName:       os.Getenv("SERVICE_NAME"),
		AttachStacktrace: true,
	}
}

// InitSentry initializes the Sentry SDK with the given configuration
func InitSentry(config *SentryConfig) error {
	// Skip initialization if DSN is not set
	if config.DSN == "" {
		return fmt.Errorf("sentry DSN is not configured")
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              config.DSN,
		Environment:      config.Environment,
		Release:          config.Release,
		SampleRate:       config.SampleRate,
		TracesSampleRate: config.TracesSampleRate,
		Debug:            config.Debug,
		EnableTracing:    config.EnableTracing,
		ServerName:       config.ServerName,
		AttachStacktrace: config.AttachStacktrace,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			// Business noise stays out of the issue stream
			if event.Level == sentry.LevelInfo || event.Level == sentry.LevelDebug {
				return nil
			}
			return event
		},
		BeforeBreadcrumb: func(breadcrumb *sentry.Breadcrumb, hint *sentry.BreadcrumbHint) *sentry.Breadcrumb {
			if breadcrumb.Category == "http" && breadcrumb.Data != nil {
				delete(breadcrumb.Data, "Authorization")
				delete(breadcrumb.Data, "Cookie")
				delete(breadcrumb.Data, "X-API-Key")
			}
			return breadcrumb
		},
	})

	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}

	return nil
}

// Flush flushes the Sentry buffer
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// CaptureError captures an error and sends it to Sentry
func CaptureError(err error) *sentry.EventID {
	if err == nil {
		return nil
	}
	return sentry.CaptureException(err)
}

// CaptureErrorWithContext captures an error enriched with the correlation
// and task identifiers carried on the context.
func CaptureErrorWithContext(ctx context.Context, err error, extras map[string]interface{}) *sentry.EventID {
	if err == nil {
		return nil
	}

	hub := sentry.CurrentHub().Clone()

	hub.ConfigureScope(func(scope *sentry.Scope) {
		for key, value := range extras {
			scope.SetExtra(key, value)
		}

		if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
			scope.SetTag("correlation_id", correlationID)
		}
		if taskID := logger.TaskIDFromContext(ctx); taskID != "" {
			scope.SetTag("task_id", taskID)
		}

		var appErr *common.AppError
		if errors.As(err, &appErr) {
			scope.SetTag("error_kind", appErr.Kind)
		}
	})

	return hub.CaptureException(err)
}

// CaptureMessage captures a message and sends it to Sentry
func CaptureMessage(message string, level sentry.Level) *sentry.EventID {
	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
	})
	return hub.CaptureMessage(message)
}

// RecoverWithSentry recovers from panic and sends to Sentry. Intended as a
// deferred call in worker goroutines.
func RecoverWithSentry() {
	if err := recover(); err != nil {
		sentry.CurrentHub().Recover(err)
		sentry.Flush(2 * time.Second)
		panic(err) // re-panic after sending to Sentry
	}
}

// AddBreadcrumb adds a breadcrumb for tracking request flow
func AddBreadcrumb(breadcrumb *sentry.Breadcrumb) {
	sentry.AddBreadcrumb(breadcrumb)
}

// AddBreadcrumbForRequest adds a breadcrumb for an HTTP request
func AddBreadcrumbForRequest(method, url string, statusCode int, duration time.Duration) {
	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "http",
		Category:  "http.request",
		Level:     sentry.LevelInfo,
		Message:   fmt.Sprintf("%s %s", method, url),
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"method":      method,
			"url":         url,
			"status_code": statusCode,
			"duration_ms": duration.Milliseconds(),
		},
	})
}

// AddBreadcrumbForTask adds a breadcrumb for a dispatched matcher task
func AddBreadcrumbForTask(taskType, taskID string, duration time.Duration, err error) {
	level := sentry.LevelInfo
	data := map[string]interface{}{
		"task_type":   taskType,
		"task_id":     taskID,
		"duration_ms": duration.Milliseconds(),
	}
	if err != nil {
		level = sentry.LevelError
		data["error"] = err.Error()
	}

	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "default",
		Category:  "matcher.task",
		Level:     level,
		Message:   fmt.Sprintf("%s %s", taskType, taskID),
		Timestamp: time.Now(),
		Data:      data,
	})
}

// SetTag sets a tag on the current scope
func SetTag(key, value string) {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag(key, value)
	})
}

// IsBusinessError checks if an error is expected business flow that
// shouldn't be reported
func IsBusinessError(err error) bool {
	if err == nil {
		return false
	}

	var appErr *common.AppError
	if errors.As(err, &appErr) {
		switch appErr.Kind {
		case common.KindValidationError, common.KindNotFound:
			return true
		}
	}

	businessErrors := []string{
		"validation failed",
		"invalid input",
		"not found",
		"bad request",
	}

	errMsg := strings.ToLower(err.Error())
	for _, businessErr := range businessErrors {
		if strings.Contains(errMsg, businessErr) {
			return true
		}
	}

	return false
}

// ShouldReportError determines if an error should be reported to Sentry
func ShouldReportError(err error, statusCode int) bool {
	if err == nil {
		return false
	}

	if IsBusinessError(err) {
		return false
	}

	// Client errors are the caller's problem, except rate-limit storms
	if statusCode >= 400 && statusCode < 500 && statusCode != 429 {
		return false
	}

	return true
}

// Helper functions

func getEnvironment() string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = os.Getenv("SENTRY_ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return env
}

func getSampleRate() float64 {
	rate := os.Getenv("SENTRY_SAMPLE_RATE")
	if rate == "" {
		return 1.0 // 100% in development
	}

	var sampleRate float64
	fmt.Sscanf(rate, "%f", &sampleRate)
	return sampleRate
}

func getTracesSampleRate() float64 {
	rate := os.Getenv("SENTRY_TRACES_SAMPLE_RATE")
	if rate == "" {
		env := getEnvironment()
		if env == "production" {
			return 0.1 // 10% in production
		}
		return 1.0 // 100% in dev/staging
	}

	var sampleRate float64
	fmt.Sscanf(rate, "%f", &sampleRate)
	return sampleRate
}
