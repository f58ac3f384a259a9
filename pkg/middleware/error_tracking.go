package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/richxcame/airpool/pkg/errors"
)

// SentryMiddleware returns a middleware that integrates Sentry error tracking.
// It captures panics with stack traces and attaches request context to every
// event raised further down the chain.
func SentryMiddleware() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	})
}

// RecoveryWithSentry returns a middleware that recovers from panics and reports them to Sentry
func RecoveryWithSentry() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentrygin.GetHubFromContext(c)
				if hub == nil {
					hub = sentry.CurrentHub().Clone()
				}

				hub.Scope().SetRequest(c.Request)
				hub.Scope().SetContext("panic", map[string]interface{}{
					"value":      fmt.Sprintf("%v", err),
					"stacktrace": string(debug.Stack()),
				})

				hub.RecoverWithContext(c.Request.Context(), err)
				hub.Flush(2 * time.Second)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "Internal Server Error",
					"message": "An unexpected error occurred",
				})
			}
		}()

		c.Next()
	}
}

// ErrorHandler captures request errors and reports the reportable ones to
// Sentry. It should be placed after other middleware in the chain.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		errors.AddBreadcrumbForRequest(
			c.Request.Method,
			c.Request.URL.Path,
			statusCode,
			duration,
		)

		if len(c.Errors) > 0 {
			for _, err := range c.Errors {
				if errors.ShouldReportError(err.Err, statusCode) {
					captureErrorWithContext(c, err.Err, statusCode, duration)
				}
			}
			return
		}

		// 5xx without an attached error still signals a broken handler
		if statusCode >= 500 {
			captureHTTPError(c, statusCode, duration)
		}
	}
}

func captureErrorWithContext(c *gin.Context, err error, statusCode int, duration time.Duration) {
	hub := sentrygin.GetHubFromContext(c)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}

	hub.Scope().SetRequest(c.Request)
	hub.Scope().SetLevel(getSentryLevel(statusCode))

	hub.Scope().SetTag("http.method", c.Request.Method)
	hub.Scope().SetTag("http.status_code", fmt.Sprintf("%d", statusCode))
	hub.Scope().SetTag("endpoint", c.Request.URL.Path)

	if correlationID := c.GetHeader(CorrelationIDHeader); correlationID != "" {
		hub.Scope().SetTag("correlation_id", correlationID)
	}

	hub.Scope().SetContext("http", map[string]interface{}{
		"method":      c.Request.Method,
		"url":         c.Request.URL.String(),
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
		"remote_addr": c.ClientIP(),
	})

	hub.CaptureException(err)
}

func captureHTTPError(c *gin.Context, statusCode int, duration time.Duration) {
	hub := sentrygin.GetHubFromContext(c)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}

	hub.Scope().SetRequest(c.Request)
	hub.Scope().SetLevel(getSentryLevel(statusCode))

	hub.Scope().SetTag("http.method", c.Request.Method)
	hub.Scope().SetTag("http.status_code", fmt.Sprintf("%d", statusCode))
	hub.Scope().SetTag("endpoint", c.Request.URL.Path)

	message := fmt.Sprintf("HTTP %d: %s %s", statusCode, c.Request.Method, c.Request.URL.Path)
	hub.CaptureMessage(message)
}

// getSentryLevel maps HTTP status codes to Sentry severity levels
func getSentryLevel(statusCode int) sentry.Level {
	switch {
	case statusCode >= 500:
		return sentry.LevelError
	case statusCode == 429:
		return sentry.LevelWarning
	default:
		return sentry.LevelInfo
	}
}
