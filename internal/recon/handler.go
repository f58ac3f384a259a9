package recon

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/richxcame/airpool/pkg/cache"
	"github.com/richxcame/airpool/pkg/common"
	"github.com/richxcame/airpool/pkg/logger"
)

// PoolSizer reports the live pool member count.
type PoolSizer interface {
	Size(ctx context.Context) (int64, error)
}

// Handler serves the matcher stats endpoint on the ops router.
type Handler struct {
	stats *StatsStore
	pool  PoolSizer
	cache *cache.Manager
}

// NewHandler creates a stats handler. cacheManager may be nil; without
// it every request aggregates from the database.
func NewHandler(stats *StatsStore, pool PoolSizer, cacheManager *cache.Manager) *Handler {
	return &Handler{stats: stats, pool: pool, cache: cacheManager}
}

type poolStats struct {
	Members int64 `json:"members"`
}

// GetStats returns the durable-store counters with the live pool size
// attached as metadata. The pool read is best-effort; the counters go
// out without it.
func (h *Handler) GetStats(c *gin.Context) {
	snap, err := h.snapshot(c.Request.Context())
	if err != nil {
		logger.WithContext(c.Request.Context()).Error("stats snapshot failed", zap.Error(err))
		common.ErrorResponse(c, http.StatusServiceUnavailable, "stats unavailable")
		return
	}

	size, err := h.pool.Size(c.Request.Context())
	if err != nil {
		logger.WithContext(c.Request.Context()).Warn("pool size read failed", zap.Error(err))
		common.SuccessResponse(c, snap)
		return
	}

	common.SuccessResponseWithMeta(c, snap, &common.Meta{Stats: poolStats{Members: size}})
}

// snapshot reads the counters, serving them from cache when one is
// wired. Aggregating over trips, requests and cabs on every poll is
// wasted work; the snapshot may run up to the cache TTL stale.
func (h *Handler) snapshot(ctx context.Context) (*Snapshot, error) {
	if h.cache == nil {
		return h.stats.Snapshot(ctx)
	}

	var snap Snapshot
	err := h.cache.GetOrSet(ctx, cache.Keys.MatcherStats(), cache.TTL.Stats(), &snap, func() (interface{}, error) {
		return h.stats.Snapshot(ctx)
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
