// Package trips persists matched trips and their ride requests. Every
// multi-row write runs inside one interactive transaction; the pool has
// already committed by the time any of this executes, so failures here
// are reported and reconciled, never rolled back pool-side.
package trips

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/richxcame/airpool/pkg/common"
	"github.com/richxcame/airpool/pkg/logger"
	"github.com/richxcame/airpool/pkg/models"
)

// ErrUserNotFound aborts a durable commit when the caller has no user
// row. The match result then carries a nil trip.
var ErrUserNotFound = errors.New("caller user not found")

// MemberInput carries one rider's registration metadata into the
// durable commit.
type MemberInput struct {
	UserID               string
	DestinationLatitude  float64
	DestinationLongitude float64
	RouteSignature       string
	DistanceKm           float64
	PassengerCount       int
	LuggageUnits         int
	BaseFare             int
}

// CommitInput is everything the engine decided about a pairing: the
// trip id (fresh for a new pair, reused when extending), the full
// member list in join order, and the pooled totals. Extending selects
// the update path for a trip row that should already exist.
type CommitInput struct {
	TripID         string
	CallerID       string
	Extending      bool
	Status         models.TripStatus
	FareEach       int
	RouteSignature string
	PassengerCount int
	LuggageUnits   int
	Members        []MemberInput
}

func (in CommitInput) callerMember() (MemberInput, bool) {
	for _, m := range in.Members {
		if m.UserID == in.CallerID {
			return m, true
		}
	}
	return MemberInput{}, false
}

// RemoveRiderInput carries the recomputed trip shape after one member
// leaves. Counts are absolute values, so a replayed removal writes the
// same row twice rather than shrinking it twice.
type RemoveRiderInput struct {
	TripID         string
	UserID         string
	PassengerCount int
	LuggageUnits   int
	Status         models.TripStatus
}

// Repository handles durable trip database operations
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new trips repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ========================================
// MATCH COMMIT
// ========================================

// CommitMatch persists a pairing in a single transaction: verify the
// caller's user row, pick the smallest sufficient available cab, insert
// or extend the trip, and book the cab when the trip seals. Returns the
// reloaded trip snapshot.
func (r *Repository) CommitMatch(ctx context.Context, input CommitInput) (*models.TripDetail, error) {
	callerID, err := uuid.Parse(input.CallerID)
	if err != nil {
		return nil, common.NewDurableCommitError(fmt.Errorf("caller id %q: %w", input.CallerID, err))
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, common.NewDurableCommitError(fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback(ctx)

	var callerExists bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, callerID).Scan(&callerExists)
	if err != nil {
		return nil, common.NewDurableCommitError(fmt.Errorf("verify caller: %w", err))
	}
	if !callerExists {
		return nil, ErrUserNotFound
	}

	cabID, err := r.pickCab(ctx, tx, input.PassengerCount, input.LuggageUnits)
	if err != nil {
		return nil, common.NewDurableCommitError(err)
	}

	var replayed bool
	if input.Extending {
		replayed, err = r.extendTrip(ctx, tx, input, callerID, cabID)
	} else {
		err = r.insertTrip(ctx, tx, input, cabID, false)
	}
	if err != nil {
		return nil, common.NewDurableCommitError(err)
	}

	if replayed {
		// Nothing was written; the original commit already holds.
		return r.GetTripDetail(ctx, input.TripID)
	}

	if input.Status == models.TripStatusActive && cabID != nil {
		if err := r.bookCab(ctx, tx, *cabID); err != nil {
			return nil, common.NewDurableCommitError(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, common.NewDurableCommitError(fmt.Errorf("commit: %w", err))
	}

	return r.GetTripDetail(ctx, input.TripID)
}

// pickCab locks the smallest available cab that fits the whole group.
// Assignment is optional; a trip may persist without a cab.
func (r *Repository) pickCab(ctx context.Context, tx pgx.Tx, passengers, luggage int) (*uuid.UUID, error) {
	query := `
		SELECT id FROM cabs
		WHERE status = 'AVAILABLE'
			AND passenger_capacity >= $1
			AND luggage_capacity >= $2
		ORDER BY passenger_capacity ASC, luggage_capacity ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	var id uuid.UUID
	err := tx.QueryRow(ctx, query, passengers, luggage).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pick cab: %w", err)
	}
	return &id, nil
}

// insertTrip creates the trip row and a ride request per member. In
// backfill mode (recreating a row the durable store lost) members whose
// user rows are missing are skipped instead of failing the transaction.
func (r *Repository) insertTrip(ctx context.Context, tx pgx.Tx, input CommitInput, cabID *uuid.UUID, backfill bool) error {
	query := `
		INSERT INTO trips (id, status, cab_id, route_signature, fare_each, passenger_count, luggage_units, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`

	_, err := tx.Exec(ctx, query,
		input.TripID, input.Status, cabID, input.RouteSignature,
		input.FareEach, input.PassengerCount, input.LuggageUnits,
	)
	if err != nil {
		return fmt.Errorf("insert trip %s: %w", input.TripID, err)
	}

	for _, m := range input.Members {
		if backfill && m.UserID != input.CallerID {
			userID, err := uuid.Parse(m.UserID)
			if err != nil {
				logger.WarnContext(ctx, "backfill skipping member with bad id",
					zap.String("trip_id", input.TripID), zap.String("user_id", m.UserID))
				continue
			}
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
				return fmt.Errorf("backfill verify member %s: %w", m.UserID, err)
			}
			if !exists {
				logger.WarnContext(ctx, "backfill skipping member without user row",
					zap.String("trip_id", input.TripID), zap.String("user_id", m.UserID))
				continue
			}
		}
		if err := r.insertRideRequest(ctx, tx, input.TripID, input.Status, input.FareEach, m); err != nil {
			return err
		}
	}
	return nil
}

// extendTrip attaches the caller to an existing trip row. Returns true
// without writing when the caller's ride request already exists, which
// marks a replayed task.
func (r *Repository) extendTrip(ctx context.Context, tx pgx.Tx, input CommitInput, callerID uuid.UUID, cabID *uuid.UUID) (bool, error) {
	var tripExists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trips WHERE id = $1)`, input.TripID).Scan(&tripExists); err != nil {
		return false, fmt.Errorf("look up trip %s: %w", input.TripID, err)
	}
	if !tripExists {
		// The pool carries this trip but the durable store lost its
		// commit. Recreate the row and backfill every member.
		logger.WarnContext(ctx, "trip row missing, backfilling",
			zap.String("trip_id", input.TripID))
		return false, r.insertTrip(ctx, tx, input, cabID, true)
	}

	var existingID uuid.UUID
	err := tx.QueryRow(ctx,
		`SELECT id FROM ride_requests WHERE trip_id = $1 AND user_id = $2`,
		input.TripID, callerID,
	).Scan(&existingID)
	if err == nil {
		logger.InfoContext(ctx, "ride request already exists for caller, skipping",
			zap.String("trip_id", input.TripID), zap.String("user_id", input.CallerID))
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("check existing request: %w", err)
	}

	caller, ok := input.callerMember()
	if !ok {
		return false, fmt.Errorf("caller %s missing from member list", input.CallerID)
	}
	if err := r.insertRideRequest(ctx, tx, input.TripID, input.Status, input.FareEach, caller); err != nil {
		return false, err
	}

	updateTrip := `
		UPDATE trips
		SET status = $2, cab_id = $3, fare_each = $4, passenger_count = $5, luggage_units = $6, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, updateTrip,
		input.TripID, input.Status, cabID, input.FareEach,
		input.PassengerCount, input.LuggageUnits,
	); err != nil {
		return false, fmt.Errorf("update trip %s: %w", input.TripID, err)
	}

	// Every member pays the new fare and tracks the new status.
	cascade := `
		UPDATE ride_requests
		SET status = $2, issued_fare = $3, updated_at = NOW()
		WHERE trip_id = $1
	`
	if _, err := tx.Exec(ctx, cascade, input.TripID, input.Status, input.FareEach); err != nil {
		return false, fmt.Errorf("cascade trip %s: %w", input.TripID, err)
	}

	return false, nil
}

func (r *Repository) insertRideRequest(ctx context.Context, tx pgx.Tx, tripID string, status models.TripStatus, fare int, m MemberInput) error {
	userID, err := uuid.Parse(m.UserID)
	if err != nil {
		return fmt.Errorf("member id %q: %w", m.UserID, err)
	}

	query := `
		INSERT INTO ride_requests (
			id, user_id, trip_id, status, destination_latitude, destination_longitude,
			route_signature, distance_km, passenger_count, luggage_units,
			base_fare, issued_fare, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
	`

	_, err = tx.Exec(ctx, query,
		uuid.New(), userID, tripID, status, m.DestinationLatitude, m.DestinationLongitude,
		m.RouteSignature, m.DistanceKm, m.PassengerCount, m.LuggageUnits,
		m.BaseFare, fare,
	)
	if err != nil {
		return fmt.Errorf("insert ride request for %s: %w", m.UserID, err)
	}
	return nil
}

func (r *Repository) bookCab(ctx context.Context, tx pgx.Tx, cabID uuid.UUID) error {
	query := `UPDATE cabs SET status = 'BOOKED', updated_at = NOW() WHERE id = $1 AND status = 'AVAILABLE'`
	if _, err := tx.Exec(ctx, query, cabID); err != nil {
		return fmt.Errorf("book cab %s: %w", cabID, err)
	}
	return nil
}

// ========================================
// SNAPSHOT RELOAD
// ========================================

// GetTripDetail re-reads the full durable snapshot: the trip row, its
// cab and driver when assigned, and every member with their user row in
// join order.
func (r *Repository) GetTripDetail(ctx context.Context, tripID string) (*models.TripDetail, error) {
	trip, err := r.getTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}

	detail := &models.TripDetail{Trip: trip}

	if trip.CabID != nil {
		cab, driver, err := r.getCabWithDriver(ctx, *trip.CabID)
		if err != nil {
			// The snapshot is still useful without the cab block.
			logger.WarnContext(ctx, "trip cab lookup failed",
				zap.String("trip_id", tripID), zap.Error(err))
		} else {
			detail.Cab = cab
			detail.Driver = driver
		}
	}

	members, err := r.getTripMembers(ctx, tripID)
	if err != nil {
		return nil, err
	}
	detail.Members = members

	return detail, nil
}

func (r *Repository) getTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	query := `
		SELECT id, status, cab_id, route_signature, fare_each, passenger_count, luggage_units,
			created_at, updated_at, completed_at, cancelled_at
		FROM trips
		WHERE id = $1
	`

	var trip models.Trip
	err := r.db.QueryRow(ctx, query, tripID).Scan(
		&trip.ID, &trip.Status, &trip.CabID, &trip.RouteSignature, &trip.FareEach,
		&trip.PassengerCount, &trip.LuggageUnits,
		&trip.CreatedAt, &trip.UpdatedAt, &trip.CompletedAt, &trip.CancelledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.NewNotFoundError("trip not found", common.ErrTripNotFound)
	}
	if err != nil {
		return nil, common.NewInternalError("failed to load trip", err)
	}
	return &trip, nil
}

func (r *Repository) getCabWithDriver(ctx context.Context, cabID uuid.UUID) (*models.Cab, *models.Driver, error) {
	query := `
		SELECT c.id, c.driver_id, c.plate_number, c.model, c.color,
			c.passenger_capacity, c.luggage_capacity, c.status, c.created_at, c.updated_at,
			d.id, d.first_name, d.last_name, d.phone_number, d.license_number, d.rating,
			d.created_at, d.updated_at
		FROM cabs c
		JOIN drivers d ON d.id = c.driver_id
		WHERE c.id = $1
	`

	var cab models.Cab
	var driver models.Driver
	err := r.db.QueryRow(ctx, query, cabID).Scan(
		&cab.ID, &cab.DriverID, &cab.PlateNumber, &cab.Model, &cab.Color,
		&cab.PassengerCapacity, &cab.LuggageCapacity, &cab.Status, &cab.CreatedAt, &cab.UpdatedAt,
		&driver.ID, &driver.FirstName, &driver.LastName, &driver.PhoneNumber, &driver.LicenseNumber,
		&driver.Rating, &driver.CreatedAt, &driver.UpdatedAt,
	)
	if err != nil {
		return nil, nil, err
	}
	return &cab, &driver, nil
}

func (r *Repository) getTripMembers(ctx context.Context, tripID string) ([]models.TripMember, error) {
	query := `
		SELECT u.id, u.email, u.phone_number, u.first_name, u.last_name, u.is_active,
			u.created_at, u.updated_at,
			rr.id, rr.user_id, rr.trip_id, rr.status, rr.destination_latitude, rr.destination_longitude,
			rr.route_signature, rr.distance_km, rr.passenger_count, rr.luggage_units,
			rr.base_fare, rr.issued_fare, rr.created_at, rr.updated_at
		FROM ride_requests rr
		JOIN users u ON u.id = rr.user_id
		WHERE rr.trip_id = $1
		ORDER BY rr.created_at ASC
	`

	rows, err := r.db.Query(ctx, query, tripID)
	if err != nil {
		return nil, common.NewInternalError("failed to load trip members", err)
	}
	defer rows.Close()

	var members []models.TripMember
	for rows.Next() {
		var user models.User
		var request models.RideRequest
		err := rows.Scan(
			&user.ID, &user.Email, &user.PhoneNumber, &user.FirstName, &user.LastName, &user.IsActive,
			&user.CreatedAt, &user.UpdatedAt,
			&request.ID, &request.UserID, &request.TripID, &request.Status,
			&request.DestinationLatitude, &request.DestinationLongitude,
			&request.RouteSignature, &request.DistanceKm, &request.PassengerCount, &request.LuggageUnits,
			&request.BaseFare, &request.IssuedFare, &request.CreatedAt, &request.UpdatedAt,
		)
		if err != nil {
			return nil, common.NewInternalError("failed to scan trip member", err)
		}
		members = append(members, models.TripMember{User: &user, RideRequest: &request})
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewInternalError("failed to iterate trip members", err)
	}

	return members, nil
}

// ========================================
// TRIP MUTATIONS
// ========================================

// CancelTrip marks the trip and all its ride requests CANCELLED and
// frees a booked cab. Used when a forming trip collapses to one rider.
func (r *Repository) CancelTrip(ctx context.Context, tripID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return common.NewInternalError("failed to start transaction", err)
	}
	defer tx.Rollback(ctx)

	var cabID *uuid.UUID
	err = tx.QueryRow(ctx, `SELECT cab_id FROM trips WHERE id = $1 FOR UPDATE`, tripID).Scan(&cabID)
	if errors.Is(err, pgx.ErrNoRows) {
		return common.NewNotFoundError("trip not found", common.ErrTripNotFound)
	}
	if err != nil {
		return common.NewInternalError("failed to lock trip", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE trips SET status = 'CANCELLED', cancelled_at = NOW(), updated_at = NOW() WHERE id = $1`,
		tripID,
	); err != nil {
		return common.NewInternalError("failed to cancel trip", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE ride_requests SET status = 'CANCELLED', updated_at = NOW() WHERE trip_id = $1`,
		tripID,
	); err != nil {
		return common.NewInternalError("failed to cancel ride requests", err)
	}

	if cabID != nil {
		if _, err := tx.Exec(ctx,
			`UPDATE cabs SET status = 'AVAILABLE', updated_at = NOW() WHERE id = $1 AND status = 'BOOKED'`,
			*cabID,
		); err != nil {
			return common.NewInternalError("failed to release cab", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return common.NewInternalError("failed to commit cancellation", err)
	}
	return nil
}

// RemoveRider cancels one member's ride request and rewrites the trip
// row with the shrunken totals. Remaining requests track the new trip
// status but keep their fares as issued. A shrink that un-seals a
// previously ACTIVE trip releases and unassigns the booked cab.
func (r *Repository) RemoveRider(ctx context.Context, input RemoveRiderInput) error {
	userID, err := uuid.Parse(input.UserID)
	if err != nil {
		return common.NewBadRequestError("invalid user id", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return common.NewInternalError("failed to start transaction", err)
	}
	defer tx.Rollback(ctx)

	var status models.TripStatus
	var cabID *uuid.UUID
	err = tx.QueryRow(ctx, `SELECT status, cab_id FROM trips WHERE id = $1 FOR UPDATE`, input.TripID).Scan(&status, &cabID)
	if errors.Is(err, pgx.ErrNoRows) {
		return common.NewNotFoundError("trip not found", common.ErrTripNotFound)
	}
	if err != nil {
		return common.NewInternalError("failed to lock trip", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE ride_requests SET status = 'CANCELLED', updated_at = NOW()
		 WHERE trip_id = $1 AND user_id = $2 AND status <> 'CANCELLED'`,
		input.TripID, userID,
	)
	if err != nil {
		return common.NewInternalError("failed to cancel ride request", err)
	}
	if tag.RowsAffected() == 0 {
		logger.InfoContext(ctx, "ride request already cancelled",
			zap.String("trip_id", input.TripID), zap.String("user_id", input.UserID))
	}

	unsealed := status == models.TripStatusActive && input.Status != models.TripStatusActive
	if unsealed && cabID != nil {
		if _, err := tx.Exec(ctx,
			`UPDATE cabs SET status = 'AVAILABLE', updated_at = NOW() WHERE id = $1 AND status = 'BOOKED'`,
			*cabID,
		); err != nil {
			return common.NewInternalError("failed to release cab", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE trips SET status = $2, passenger_count = $3, luggage_units = $4, cab_id = NULL, updated_at = NOW() WHERE id = $1`,
			input.TripID, input.Status, input.PassengerCount, input.LuggageUnits,
		); err != nil {
			return common.NewInternalError("failed to update trip", err)
		}
	} else {
		if _, err := tx.Exec(ctx,
			`UPDATE trips SET status = $2, passenger_count = $3, luggage_units = $4, updated_at = NOW() WHERE id = $1`,
			input.TripID, input.Status, input.PassengerCount, input.LuggageUnits,
		); err != nil {
			return common.NewInternalError("failed to update trip", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE ride_requests SET status = $2, updated_at = NOW()
		 WHERE trip_id = $1 AND status <> 'CANCELLED'`,
		input.TripID, input.Status,
	); err != nil {
		return common.NewInternalError("failed to update remaining requests", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return common.NewInternalError("failed to commit removal", err)
	}
	return nil
}
