package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Match Pipeline Metrics
	matchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matcher_match_requests_total",
		Help: "Total number of match requests by outcome (matched, registered, rejected, error)",
	}, []string{"outcome"})

	matchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matcher_matches_total",
		Help: "Total number of successful pairings by candidate kind (superset, subset, detour)",
	}, []string{"kind"})

	matchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matcher_match_duration_seconds",
		Help:    "End-to-end duration of a match attempt including pool and durable commits",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
	}, []string{"outcome"})

	commitConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matcher_pool_commit_conflicts_total",
		Help: "Total number of pool commits lost to a concurrent claim on the same candidate",
	})

	// Detour Metrics
	detourChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matcher_detour_checks_total",
		Help: "Total number of split-point detour evaluations by result (within, exceeded, error)",
	}, []string{"result"})

	routeCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matcher_route_cache_total",
		Help: "Route distance cache lookups by result (hit, miss)",
	}, []string{"result"})

	// Dispatcher Metrics
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matcher_tasks_total",
		Help: "Total number of dispatched tasks by type and status (ok, error, rejected)",
	}, []string{"type", "status"})

	workersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matcher_workers_busy",
		Help: "Number of pool workers currently executing a task",
	})

	// Pool State Metrics
	poolEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matcher_pool_entries",
		Help: "Number of members currently registered in the ride pool",
	})

	poolDivergenceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matcher_pool_divergence_total",
		Help: "Pool/durable-store divergences found by the reconciler, by kind",
	}, []string{"kind"})

	// Notification Metrics
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matcher_notifications_total",
		Help: "Rider notifications published by event type and result (ok, error)",
	}, []string{"event", "result"})
)

// RecordMatchRequest counts a finished match attempt by its outcome.
func RecordMatchRequest(outcome string) {
	matchRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordMatch counts a successful pairing by the kind of candidate that won.
func RecordMatch(kind string) {
	matchesTotal.WithLabelValues(kind).Inc()
}

// ObserveMatchDuration records how long a match attempt took.
func ObserveMatchDuration(outcome string, d time.Duration) {
	matchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordCommitConflict counts a pool commit lost to a concurrent claim.
func RecordCommitConflict() {
	commitConflictsTotal.Inc()
}

// RecordDetourCheck counts a detour evaluation by its result.
func RecordDetourCheck(result string) {
	detourChecksTotal.WithLabelValues(result).Inc()
}

// RecordRouteCache counts a route distance cache lookup.
func RecordRouteCache(hit bool) {
	if hit {
		routeCacheTotal.WithLabelValues("hit").Inc()
	} else {
		routeCacheTotal.WithLabelValues("miss").Inc()
	}
}

// RecordTask counts a dispatched task by type and terminal status.
func RecordTask(taskType, status string) {
	tasksTotal.WithLabelValues(taskType, status).Inc()
}

// WorkerStarted marks a worker as busy.
func WorkerStarted() {
	workersBusy.Inc()
}

// WorkerFinished marks a worker as idle again.
func WorkerFinished() {
	workersBusy.Dec()
}

// SetPoolEntries publishes the current pool membership count.
func SetPoolEntries(n int) {
	poolEntries.Set(float64(n))
}

// RecordPoolDivergence counts a reconciler finding by kind.
func RecordPoolDivergence(kind string) {
	poolDivergenceTotal.WithLabelValues(kind).Inc()
}

// RecordNotification counts a published rider notification.
func RecordNotification(event string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	notificationsTotal.WithLabelValues(event, result).Inc()
}
