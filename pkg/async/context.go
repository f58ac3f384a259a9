package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/richxcame/airpool/pkg/logger"
	"go.uber.org/zap"
)

// TaskContext holds context values that should be propagated to async tasks
type TaskContext struct {
	CorrelationID string
	TaskID        string
	StartTime     time.Time
	TaskName      string
}

// CaptureContext captures the current context values for async propagation
func CaptureContext(ctx context.Context, taskName string) TaskContext {
	return TaskContext{
		StartTime:     time.Now(),
		TaskName:      taskName,
		CorrelationID: logger.CorrelationIDFromContext(ctx),
		TaskID:        logger.TaskIDFromContext(ctx),
	}
}

// NewContext creates a new context with the captured values. The parent's
// deadline is deliberately not inherited so a finished request cannot
// cancel work that outlives it.
func (tc TaskContext) NewContext() context.Context {
	ctx := context.Background()

	if tc.CorrelationID != "" {
		ctx = logger.ContextWithCorrelationID(ctx, tc.CorrelationID)
	}
	if tc.TaskID != "" {
		ctx = logger.ContextWithTaskID(ctx, tc.TaskID)
	}

	return ctx
}

// NewContextWithTimeout creates a new context with timeout and captured values
func (tc TaskContext) NewContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := tc.NewContext()
	return context.WithTimeout(ctx, timeout)
}

// Go runs a function in a goroutine with context propagation and panic recovery
//
// Usage:
//
//	async.Go(ctx, "notify-rider", func(ctx context.Context) {
//	    notifier.RideMatched(ctx, userID, trip)
//	})
func Go(ctx context.Context, taskName string, fn func(ctx context.Context)) {
	tc := CaptureContext(ctx, taskName)

	go func() {
		defer recoverWithLogging(tc)

		newCtx := tc.NewContext()
		fn(newCtx)

		logger.DebugContext(newCtx, "async task completed",
			zap.String("task", tc.TaskName),
			zap.Duration("duration", time.Since(tc.StartTime)),
		)
	}()
}

// GoWithTimeout runs a function in a goroutine with context propagation,
// timeout, and panic recovery
//
// Usage:
//
//	async.GoWithTimeout(ctx, "notify-rider", 5*time.Second, func(ctx context.Context) {
//	    notifier.RideMatched(ctx, userID, trip)
//	})
func GoWithTimeout(ctx context.Context, taskName string, timeout time.Duration, fn func(ctx context.Context)) {
	tc := CaptureContext(ctx, taskName)

	go func() {
		defer recoverWithLogging(tc)

		newCtx, cancel := tc.NewContextWithTimeout(timeout)
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			fn(newCtx)
		}()

		select {
		case <-done:
			logger.DebugContext(newCtx, "async task completed",
				zap.String("task", tc.TaskName),
				zap.Duration("duration", time.Since(tc.StartTime)),
			)
		case <-newCtx.Done():
			logger.WarnContext(newCtx, "async task timed out",
				zap.String("task", tc.TaskName),
				zap.Duration("timeout", timeout),
			)
		}
	}()
}

// recoverWithLogging recovers from panics and logs them with context
func recoverWithLogging(tc TaskContext) {
	if r := recover(); r != nil {
		ctx := tc.NewContext()
		logger.ErrorContext(ctx, "async task panicked",
			zap.String("task", tc.TaskName),
			zap.Any("panic", r),
			zap.String("stack", string(debug.Stack())),
		)
	}
}

// WithCorrelationID adds or replaces the correlation ID in a context
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return logger.ContextWithCorrelationID(ctx, correlationID)
}

// GetCorrelationID extracts the correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	return logger.CorrelationIDFromContext(ctx)
}
