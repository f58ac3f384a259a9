package common

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckStatus `json:"checks,omitempty"`
}

// CheckStatus represents the status of a single health check
type CheckStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Duration  string `json:"duration,omitempty"`
	Timestamp string `json:"timestamp"`
}

var (
	startTime = time.Now()
)

// HealthCheck returns a health check handler
func HealthCheck(serviceName, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:    "healthy",
			Service:   serviceName,
			Version:   version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
		})
	}
}

// LivenessProbe reports that the process is up, without touching any
// dependency.
func LivenessProbe(serviceName, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:    "alive",
			Service:   serviceName,
			Version:   version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadinessProbe returns a readiness check with dependency validation.
// It runs the provided checks in parallel and reports 503 if any fail,
// so the matcher is only routed traffic once the pool, the durable store
// and the bus are all reachable.
func ReadinessProbe(serviceName, version string, checks map[string]func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now().UTC()
		checkResults, allHealthy := runChecks(checks, now)

		status := "ready"
		statusCode := http.StatusOK
		if !allHealthy {
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, HealthResponse{
			Status:    status,
			Service:   serviceName,
			Version:   version,
			Timestamp: now.Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
			Checks:    checkResults,
		})
	}
}

func runChecks(checks map[string]func() error, now time.Time) (map[string]CheckStatus, bool) {
	type checkResult struct {
		name     string
		err      error
		duration time.Duration
	}

	resultChan := make(chan checkResult, len(checks))
	var wg sync.WaitGroup

	for name, checkFunc := range checks {
		wg.Add(1)
		go func(n string, cf func() error) {
			defer wg.Done()
			start := time.Now()
			err := cf()
			resultChan <- checkResult{name: n, err: err, duration: time.Since(start)}
		}(name, checkFunc)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	checkResults := make(map[string]CheckStatus, len(checks))
	allHealthy := true
	for result := range resultChan {
		if result.err != nil {
			checkResults[result.name] = CheckStatus{
				Status:    "unhealthy",
				Message:   result.err.Error(),
				Duration:  result.duration.String(),
				Timestamp: now.Format(time.RFC3339),
			}
			allHealthy = false
		} else {
			checkResults[result.name] = CheckStatus{
				Status:    "healthy",
				Duration:  result.duration.String(),
				Timestamp: now.Format(time.RFC3339),
			}
		}
	}

	return checkResults, allHealthy
}
