package middleware

import (
	"context"
	"net/http"

	"github.com/gin-contrib/timeout"
	"github.com/gin-gonic/gin"
	"github.com/richxcame/airpool/pkg/config"
	"github.com/richxcame/airpool/pkg/logger"
	"go.uber.org/zap"
)

// RequestTimeout enforces a per-request deadline from the timeout config.
// Routes without an override use the default; when the deadline passes the
// client gets a 504 with an X-Timeout marker header. The deadline is also
// set on the request context so handlers can stop work early.
func RequestTimeout(cfg *config.TimeoutConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := cfg.TimeoutForRoute(c.Request.Method, c.FullPath())

		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		timeout.New(
			timeout.WithTimeout(d),
			timeout.WithHandler(func(c *gin.Context) {
				c.Next()
			}),
			timeout.WithResponse(func(c *gin.Context) {
				c.Header("X-Timeout", "true")
				c.JSON(http.StatusGatewayTimeout, gin.H{
					"error":   "Request timeout",
					"message": "The request took too long to process",
				})

				logger.WithContext(c.Request.Context()).Warn("Request timeout",
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
					zap.Duration("timeout", d),
				)
			}),
		)(c)
	}
}
