package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/airpool/pkg/logger"
	"go.uber.org/zap"
)

// HandleServiceError handles service errors with consistent patterns.
// Returns true if an error was handled (and response was sent), false otherwise.
//
// Usage:
//
//	stats, err := h.pool.Stats(ctx)
//	if HandleServiceError(c, err, "failed to read pool stats") {
//	    return
//	}
func HandleServiceError(c *gin.Context, err error, fallbackMessage string) bool {
	if err == nil {
		return false
	}

	// Check for AppError first (typed business errors)
	if appErr, ok := err.(*AppError); ok {
		AppErrorResponse(c, appErr)
		return true
	}

	// Log the unexpected error for debugging
	logger.ErrorContext(c.Request.Context(), fallbackMessage,
		zap.Error(err),
	)

	// Return generic internal server error
	ErrorResponse(c, http.StatusInternalServerError, fallbackMessage)
	return true
}
