// Package recon watches for drift between the ride pool and the
// durable store. Sweeps are read-only: divergence is logged and
// counted for operators, the pool itself is never mutated.
package recon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/richxcame/airpool/internal/pool"
	"github.com/richxcame/airpool/pkg/logger"
	"github.com/richxcame/airpool/pkg/metrics"
	"github.com/richxcame/airpool/pkg/models"
)

// Divergence kinds reported per sweep.
const (
	divergenceMissingRow   = "missing_row"
	divergenceStaleRow     = "stale_row"
	divergenceOrphanMember = "orphan_member"
)

// PoolScanner is the read-only slice of the pool the sweep walks.
type PoolScanner interface {
	Size(ctx context.Context) (int64, error)
	TripEntries(ctx context.Context) ([]*pool.Entry, error)
	AllMembers(ctx context.Context) ([]pool.Membership, error)
	GetMeta(ctx context.Context, entryID string) (*pool.Entry, error)
}

// TripReader reads the durable side of the comparison.
type TripReader interface {
	OpenTrips(ctx context.Context) (map[string]models.TripStatus, error)
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Report summarises one sweep.
type Report struct {
	PoolSize      int64
	TripEntries   int
	MissingRows   []string
	StaleRows     []string
	OrphanMembers []string
}

// Clean reports whether the sweep found no divergence.
func (r *Report) Clean() bool {
	return len(r.MissingRows) == 0 && len(r.StaleRows) == 0 && len(r.OrphanMembers) == 0
}

// Worker runs the periodic reconciliation sweep.
type Worker struct {
	pool     PoolScanner
	trips    TripReader
	interval time.Duration
	done     chan struct{}
}

// NewWorker creates a reconciliation worker sweeping every interval.
func NewWorker(poolStore PoolScanner, trips TripReader, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Worker{
		pool:     poolStore,
		trips:    trips,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start runs sweeps until the context is cancelled or Stop is called.
// The first sweep runs immediately.
func (w *Worker) Start(ctx context.Context) {
	logger.Info("reconciliation worker started", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweepAndLog(ctx)

	for {
		select {
		case <-ticker.C:
			w.sweepAndLog(ctx)
		case <-ctx.Done():
			logger.Info("reconciliation worker stopped")
			return
		case <-w.done:
			logger.Info("reconciliation worker shutdown requested")
			return
		}
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	close(w.done)
}

func (w *Worker) sweepAndLog(ctx context.Context) {
	if _, err := w.Sweep(ctx); err != nil {
		logger.ErrorContext(ctx, "reconciliation sweep failed", zap.Error(err))
	}
}

// Sweep runs one reconciliation pass: refresh the pool-size gauge,
// flag pool trip entries without a live durable row, durable open trips
// the pool no longer carries, and membership records whose metadata is
// gone. A sweep overlapping an in-flight commit can flag a transient
// divergence; the next sweep clears it.
func (w *Worker) Sweep(ctx context.Context) (*Report, error) {
	size, err := w.pool.Size(ctx)
	if err != nil {
		return nil, err
	}
	metrics.SetPoolEntries(int(size))

	entries, err := w.pool.TripEntries(ctx)
	if err != nil {
		return nil, err
	}

	open, err := w.trips.OpenTrips(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{PoolSize: size, TripEntries: len(entries)}

	pooled := make(map[string]bool, len(entries))
	for _, e := range entries {
		pooled[e.ID] = true
		if _, ok := open[e.ID]; ok {
			continue
		}
		report.MissingRows = append(report.MissingRows, e.ID)
		metrics.RecordPoolDivergence(divergenceMissingRow)
		logger.WarnContext(ctx, "pool trip has no live durable row",
			zap.String("trip_id", e.ID),
			zap.String("pool_status", string(e.Status)),
			zap.Int("members", len(e.Members)),
		)
	}

	for id, status := range open {
		if pooled[id] {
			continue
		}
		report.StaleRows = append(report.StaleRows, id)
		metrics.RecordPoolDivergence(divergenceStaleRow)
		logger.WarnContext(ctx, "durable trip row has no pool entry",
			zap.String("trip_id", id),
			zap.String("durable_status", string(status)),
		)
	}

	members, err := w.pool.AllMembers(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		meta, err := w.pool.GetMeta(ctx, m.EntryID)
		if err != nil {
			return nil, err
		}
		if meta != nil {
			continue
		}
		report.OrphanMembers = append(report.OrphanMembers, m.Record())
		metrics.RecordPoolDivergence(divergenceOrphanMember)
		logger.WarnContext(ctx, "pool member has no metadata",
			zap.String("member", m.Record()),
		)
	}

	w.logStats(ctx)

	logger.InfoContext(ctx, "reconciliation sweep complete",
		zap.Int64("pool_size", report.PoolSize),
		zap.Int("trip_entries", report.TripEntries),
		zap.Int("missing_rows", len(report.MissingRows)),
		zap.Int("stale_rows", len(report.StaleRows)),
		zap.Int("orphan_members", len(report.OrphanMembers)),
	)
	return report, nil
}

// logStats reports the durable-side aggregates; failures here never
// fail the sweep.
func (w *Worker) logStats(ctx context.Context) {
	snap, err := w.trips.Snapshot(ctx)
	if err != nil {
		logger.WarnContext(ctx, "stats snapshot failed", zap.Error(err))
		return
	}
	logger.InfoContext(ctx, "matcher stats",
		zap.Any("trips", snap.Trips),
		zap.Int64("open_requests", snap.OpenRequests),
		zap.Int64("cabs_available", snap.CabsAvailable),
		zap.Int64("cabs_booked", snap.CabsBooked),
	)
}
