package recon

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/richxcame/airpool/pkg/models"
)

// StatsStore reads durable-store aggregates for the reconciler sweep
// and the ops stats endpoint.
type StatsStore struct {
	db *sql.DB
}

// NewStatsStore creates a stats store over an open database handle.
func NewStatsStore(db *sql.DB) *StatsStore {
	return &StatsStore{db: db}
}

// Snapshot is one durable-store stats readout.
type Snapshot struct {
	Trips         map[string]int64 `json:"trips"`
	OpenRequests  int64            `json:"open_requests"`
	CabsAvailable int64            `json:"cabs_available"`
	CabsBooked    int64            `json:"cabs_booked"`
}

// OpenTrips returns every WAITING or ACTIVE trip row keyed by id.
func (s *StatsStore) OpenTrips(ctx context.Context) (map[string]models.TripStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status FROM trips WHERE status IN ('WAITING', 'ACTIVE')`,
	)
	if err != nil {
		return nil, fmt.Errorf("open trips: %w", err)
	}
	defer rows.Close()

	open := make(map[string]models.TripStatus)
	for rows.Next() {
		var (
			id     string
			status models.TripStatus
		)
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan trip row: %w", err)
		}
		open[id] = status
	}
	return open, rows.Err()
}

// Snapshot aggregates trip, ride-request and cab counts.
func (s *StatsStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Trips: make(map[string]int64)}

	trips, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM trips GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("trip counts: %w", err)
	}
	defer trips.Close()

	for trips.Next() {
		var (
			status string
			n      int64
		)
		if err := trips.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan trip count: %w", err)
		}
		snap.Trips[status] = n
	}
	if err := trips.Err(); err != nil {
		return nil, fmt.Errorf("trip counts: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ride_requests WHERE status IN ('WAITING', 'ACTIVE')`,
	).Scan(&snap.OpenRequests)
	if err != nil {
		return nil, fmt.Errorf("open requests: %w", err)
	}

	cabs, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM cabs GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("cab counts: %w", err)
	}
	defer cabs.Close()

	for cabs.Next() {
		var (
			status string
			n      int64
		)
		if err := cabs.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan cab count: %w", err)
		}
		switch status {
		case "AVAILABLE":
			snap.CabsAvailable = n
		case "BOOKED":
			snap.CabsBooked = n
		}
	}
	return snap, cabs.Err()
}
