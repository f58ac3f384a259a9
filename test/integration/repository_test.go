//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/richxcame/airpool/internal/trips"
	"github.com/richxcame/airpool/pkg/common"
	"github.com/richxcame/airpool/pkg/models"
	"github.com/richxcame/airpool/test/helpers"
)

func seedUser(t *testing.T, ctx context.Context, db *pgxpool.Pool, email string) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := db.QueryRow(ctx,
		`INSERT INTO users (email, phone_number, first_name, last_name)
		 VALUES ($1, '+911234567890', 'Test', 'Rider') RETURNING id`,
		email,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func seedCab(t *testing.T, ctx context.Context, db *pgxpool.Pool, passengerCap, luggageCap int) uuid.UUID {
	t.Helper()
	var driverID uuid.UUID
	err := db.QueryRow(ctx,
		`INSERT INTO drivers (first_name, last_name, phone_number, license_number)
		 VALUES ('Test', 'Driver', '+919876543210', $1) RETURNING id`,
		"DL-"+uuid.NewString(),
	).Scan(&driverID)
	require.NoError(t, err)

	var cabID uuid.UUID
	err = db.QueryRow(ctx,
		`INSERT INTO cabs (driver_id, plate_number, model, color, passenger_capacity, luggage_capacity)
		 VALUES ($1, $2, 'Dzire', 'White', $3, $4) RETURNING id`,
		driverID, "DL01-"+uuid.NewString()[:12], passengerCap, luggageCap,
	).Scan(&cabID)
	require.NoError(t, err)
	return cabID
}

func cabStatus(t *testing.T, ctx context.Context, db *pgxpool.Pool, cabID uuid.UUID) string {
	t.Helper()
	var status string
	err := db.QueryRow(ctx, `SELECT status FROM cabs WHERE id = $1`, cabID).Scan(&status)
	require.NoError(t, err)
	return status
}

func memberInput(userID uuid.UUID, sig string, distanceKm float64, passengers, luggage, baseFare int) trips.MemberInput {
	return trips.MemberInput{
		UserID:               userID.String(),
		DestinationLatitude:  28.4950,
		DestinationLongitude: 77.0890,
		RouteSignature:       sig,
		DistanceKm:           distanceKm,
		PassengerCount:       passengers,
		LuggageUnits:         luggage,
		BaseFare:             baseFare,
	}
}

// requestsByUser indexes a snapshot's members for order-free assertions;
// both founding members of a new pair share one transaction timestamp,
// so their relative join order is not observable.
func requestsByUser(detail *models.TripDetail) map[string]*models.RideRequest {
	out := make(map[string]*models.RideRequest, len(detail.Members))
	for _, m := range detail.Members {
		out[m.User.ID.String()] = m.RideRequest
	}
	return out
}

// RepositorySuite exercises the durable commit paths against a real
// Postgres instance: transaction boundaries, the smallest-cab pick, and
// the replay and backfill branches all depend on server behaviour.
type RepositorySuite struct {
	suite.Suite
	db   *pgxpool.Pool
	repo *trips.Repository
	ctx  context.Context
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupSuite() {
	s.db = helpers.SetupTestDatabase(s.T())
	s.repo = trips.NewRepository(s.db)
	s.ctx = context.Background()
}

func (s *RepositorySuite) SetupTest() {
	helpers.ResetTables(s.T(), s.db, "ride_requests", "trips", "cabs", "drivers", "users")
}

func (s *RepositorySuite) TestCommitMatchNewPair() {
	riderA := seedUser(s.T(), s.ctx, s.db, "a@example.com")
	riderB := seedUser(s.T(), s.ctx, s.db, "b@example.com")
	cabID := seedCab(s.T(), s.ctx, s.db, 4, 6)

	tripID := models.NewTripID()
	detail, err := s.repo.CommitMatch(s.ctx, trips.CommitInput{
		TripID:         tripID,
		CallerID:       riderB.String(),
		Extending:      false,
		Status:         models.TripStatusWaiting,
		FareEach:       36,
		RouteSignature: sigABC,
		PassengerCount: 2,
		LuggageUnits:   2,
		Members: []trips.MemberInput{
			memberInput(riderA, sigAB, 12.0, 1, 1, 120),
			memberInput(riderB, sigABC, 14.0, 1, 1, 140),
		},
	})
	s.Require().NoError(err)
	s.Require().NotNil(detail)

	s.Equal(tripID, detail.ID)
	s.Equal(models.TripStatusWaiting, detail.Status)
	s.Equal(36, detail.FareEach)
	s.Equal(2, detail.PassengerCount)
	s.Equal(2, detail.LuggageUnits)
	s.Equal(sigABC, detail.RouteSignature)

	// A forming trip records the cab pick without booking it.
	s.Require().NotNil(detail.CabID)
	s.Equal(cabID, *detail.CabID)
	s.Equal("AVAILABLE", cabStatus(s.T(), s.ctx, s.db, cabID))
	s.Require().NotNil(detail.Cab)
	s.Require().NotNil(detail.Driver)

	s.Require().Len(detail.Members, 2)
	byUser := requestsByUser(detail)
	s.Require().Contains(byUser, riderA.String())
	s.Require().Contains(byUser, riderB.String())
	s.Equal(120, byUser[riderA.String()].BaseFare)
	s.Equal(140, byUser[riderB.String()].BaseFare)
	for _, rr := range byUser {
		s.Equal(36, rr.IssuedFare)
		s.Equal(models.TripStatusWaiting, rr.Status)
		s.Equal(tripID, rr.TripID)
	}
}

func (s *RepositorySuite) TestCommitMatchCallerWithoutUserRow() {
	riderA := seedUser(s.T(), s.ctx, s.db, "a@example.com")
	ghost := uuid.New()

	_, err := s.repo.CommitMatch(s.ctx, trips.CommitInput{
		TripID:         models.NewTripID(),
		CallerID:       ghost.String(),
		Status:         models.TripStatusWaiting,
		FareEach:       36,
		RouteSignature: sigABC,
		PassengerCount: 2,
		LuggageUnits:   2,
		Members: []trips.MemberInput{
			memberInput(riderA, sigAB, 12.0, 1, 1, 120),
			memberInput(ghost, sigABC, 14.0, 1, 1, 140),
		},
	})
	s.Require().ErrorIs(err, trips.ErrUserNotFound)

	var count int
	s.Require().NoError(s.db.QueryRow(s.ctx, `SELECT COUNT(*) FROM trips`).Scan(&count))
	s.Zero(count)
}

func (s *RepositorySuite) TestCommitMatchPicksSmallestSufficientCab() {
	riderA := seedUser(s.T(), s.ctx, s.db, "a@example.com")
	riderB := seedUser(s.T(), s.ctx, s.db, "b@example.com")
	big := seedCab(s.T(), s.ctx, s.db, 6, 8)
	medium := seedCab(s.T(), s.ctx, s.db, 4, 4)
	small := seedCab(s.T(), s.ctx, s.db, 2, 2)

	detail, err := s.repo.CommitMatch(s.ctx, trips.CommitInput{
		TripID:         models.NewTripID(),
		CallerID:       riderB.String(),
		Status:         models.TripStatusActive,
		FareEach:       36,
		RouteSignature: sigABC,
		PassengerCount: 3,
		LuggageUnits:   3,
		Members: []trips.MemberInput{
			memberInput(riderA, sigAB, 12.0, 2, 2, 120),
			memberInput(riderB, sigABC, 14.0, 1, 1, 140),
		},
	})
	s.Require().NoError(err)

	s.Equal(models.TripStatusActive, detail.Status)
	s.Require().NotNil(detail.CabID)
	s.Equal(medium, *detail.CabID)

	s.Equal("BOOKED", cabStatus(s.T(), s.ctx, s.db, medium))
	s.Equal("AVAILABLE", cabStatus(s.T(), s.ctx, s.db, big))
	s.Equal("AVAILABLE", cabStatus(s.T(), s.ctx, s.db, small))
}

func (s *RepositorySuite) TestCommitMatchSealedWithoutCab() {
	riderA := seedUser(s.T(), s.ctx, s.db, "a@example.com")
	riderB := seedUser(s.T(), s.ctx, s.db, "b@example.com")

	detail, err := s.repo.CommitMatch(s.ctx, trips.CommitInput{
		TripID:         models.NewTripID(),
		CallerID:       riderB.String(),
		Status:         models.TripStatusActive,
		FareEach:       36,
		RouteSignature: sigABC,
		PassengerCount: 3,
		LuggageUnits:   4,
		Members: []trips.MemberInput{
			memberInput(riderA, sigAB, 12.0, 2, 3, 120),
			memberInput(riderB, sigABC, 14.0, 1, 1, 140),
		},
	})
	s.Require().NoError(err)

	// Assignment is optional; the trip persists without a cab.
	s.Equal(models.TripStatusActive, detail.Status)
	s.Nil(detail.CabID)
	s.Nil(detail.Cab)
	s.Len(detail.Members, 2)
}

func (s *RepositorySuite) commitPair(riderA, riderB uuid.UUID, tripID string) *models.TripDetail {
	detail, err := s.repo.CommitMatch(s.ctx, trips.CommitInput{
		TripID:         tripID,
		CallerID:       riderB.String(),
		Extending:      false,
		Status:         models.TripStatusWaiting,
		FareEach:       36,
		RouteSignature: sigABC,
		PassengerCount: 2,
		LuggageUnits:   2,
		Members: []trips.MemberInput{
			memberInput(riderA, sigAB, 12.0, 1, 1, 120),
			memberInput(riderB, sigABC, 14.0, 1, 1, 140),
		},
	})
	s.Require().NoError(err)
	return detail
}

func extendInput(tripID string, riderA, riderB, riderC uuid.UUID) trips.CommitInput {
	return trips.CommitInput{
		TripID:         tripID,
		CallerID:       riderC.String(),
		Extending:      true,
		Status:         models.TripStatusActive,
		FareEach:       11,
		RouteSignature: sigABC,
		PassengerCount: 3,
		LuggageUnits:   3,
		Members: []trips.MemberInput{
			memberInput(riderA, sigAB, 12.0, 1, 1, 120),
			memberInput(riderB, sigABC, 14.0, 1, 1, 140),
			memberInput(riderC, sigAB, 12.0, 1, 1, 120),
		},
	}
}

func (s *RepositorySuite) TestCommitMatchExtendCascadesFare() {
	riderA := seedUser(s.T(), s.ctx, s.db, "a@example.com")
	riderB := seedUser(s.T(), s.ctx, s.db, "b@example.com")
	riderC := seedUser(s.T(), s.ctx, s.db, "c@example.com")
	cabID := seedCab(s.T(), s.ctx, s.db, 4, 6)

	tripID := models.NewTripID()
	s.commitPair(riderA, riderB, tripID)
	s.Equal("AVAILABLE", cabStatus(s.T(), s.ctx, s.db, cabID))

	detail, err := s.repo.CommitMatch(s.ctx, extendInput(tripID, riderA, riderB, riderC))
	s.Require().NoError(err)

	s.Equal(models.TripStatusActive, detail.Status)
	s.Equal(11, detail.FareEach)
	s.Equal(3, detail.PassengerCount)
	s.Equal("BOOKED", cabStatus(s.T(), s.ctx, s.db, cabID))

	// The joiner's request lands in a later transaction, so it sorts
	// last; the founding pair shares a timestamp.
	s.Require().Len(detail.Members, 3)
	s.Equal(riderC, detail.Members[2].User.ID)
	s.ElementsMatch(
		[]uuid.UUID{riderA, riderB},
		[]uuid.UUID{detail.Members[0].User.ID, detail.Members[1].User.ID},
	)

	for _, rr := range requestsByUser(detail) {
		s.Equal(11, rr.IssuedFare)
		s.Equal(models.TripStatusActive, rr.Status)
	}
}

func (s *RepositorySuite) TestCommitMatchExtendReplayWritesNothing() {
	riderA := seedUser(s.T(), s.ctx, s.db, "a@example.com")
	riderB := seedUser(s.T(), s.ctx, s.db, "b@example.com")
	riderC := seedUser(s.T(), s.ctx, s.db, "c@example.com")
	seedCab(s.T(), s.ctx, s.db, 4, 6)
	seedCab(s.T(), s.ctx, s.db, 6, 8)

	tripID := models.NewTripID()
	s.commitPair(riderA, riderB, tripID)

	input := extendInput(tripID, riderA, riderB, riderC)
	first, err := s.repo.CommitMatch(s.ctx, input)
	s.Require().NoError(err)
	s.Require().Len(first.Members, 3)

	replay, err := s.repo.CommitMatch(s.ctx, input)
	s.Require().NoError(err)
	s.Require().Len(replay.Members, 3)
	s.Equal(first.FareEach, replay.FareEach)
	s.Equal(first.Status, replay.Status)

	var requests int
	s.Require().NoError(s.db.QueryRow(s.ctx,
		`SELECT COUNT(*) FROM ride_requests WHERE trip_id = $1`, tripID).Scan(&requests))
	s.Equal(3, requests)

	// The replay must not grab a second cab.
	var booked int
	s.Require().NoError(s.db.QueryRow(s.ctx,
		`SELECT COUNT(*) FROM cabs WHERE status = 'BOOKED'`).Scan(&booked))
	s.Equal(1, booked)
}

func (s *RepositorySuite) TestCommitMatchExtendBackfillsLostTrip() {
	riderA := seedUser(s.T(), s.ctx, s.db, "a@example.com")
	riderC := seedUser(s.T(), s.ctx, s.db, "c@example.com")
	ghost := uuid.New()

	// The pool carries this trip but the durable store has no row for
	// it; the extension must recreate it, skipping members whose user
	// rows are gone.
	tripID := models.NewTripID()
	detail, err := s.repo.CommitMatch(s.ctx, trips.CommitInput{
		TripID:         tripID,
		CallerID:       riderC.String(),
		Extending:      true,
		Status:         models.TripStatusWaiting,
		FareEach:       11,
		RouteSignature: sigABC,
		PassengerCount: 3,
		LuggageUnits:   3,
		Members: []trips.MemberInput{
			memberInput(riderA, sigAB, 12.0, 1, 1, 120),
			memberInput(ghost, sigABC, 14.0, 1, 1, 140),
			memberInput(riderC, sigAB, 12.0, 1, 1, 120),
		},
	})
	s.Require().NoError(err)

	s.Equal(tripID, detail.ID)
	s.Equal(models.TripStatusWaiting, detail.Status)
	s.Equal(3, detail.PassengerCount)

	byUser := requestsByUser(detail)
	s.Require().Len(byUser, 2)
	s.Contains(byUser, riderA.String())
	s.Contains(byUser, riderC.String())
	s.NotContains(byUser, ghost.String())
}

func (s *RepositorySuite) TestCancelTripReleasesCab() {
	riderA := seedUser(s.T(), s.ctx, s.db, "a@example.com")
	riderB := seedUser(s.T(), s.ctx, s.db, "b@example.com")
	cabID := seedCab(s.T(), s.ctx, s.db, 4, 6)

	tripID := models.NewTripID()
	_, err := s.repo.CommitMatch(s.ctx, trips.CommitInput{
		TripID:         tripID,
		CallerID:       riderB.String(),
		Status:         models.TripStatusActive,
		FareEach:       36,
		RouteSignature: sigABC,
		PassengerCount: 3,
		LuggageUnits:   2,
		Members: []trips.MemberInput{
			memberInput(riderA, sigAB, 12.0, 2, 1, 120),
			memberInput(riderB, sigABC, 14.0, 1, 1, 140),
		},
	})
	s.Require().NoError(err)
	s.Require().Equal("BOOKED", cabStatus(s.T(), s.ctx, s.db, cabID))

	s.Require().NoError(s.repo.CancelTrip(s.ctx, tripID))

	detail, err := s.repo.GetTripDetail(s.ctx, tripID)
	s.Require().NoError(err)
	s.Equal(models.TripStatusCancelled, detail.Status)
	s.NotNil(detail.CancelledAt)
	for _, m := range detail.Members {
		s.Equal(models.TripStatusCancelled, m.RideRequest.Status)
	}
	s.Equal("AVAILABLE", cabStatus(s.T(), s.ctx, s.db, cabID))
}

func (s *RepositorySuite) TestCancelTripMissing() {
	err := s.repo.CancelTrip(s.ctx, models.NewTripID())
	var appErr *common.AppError
	s.Require().ErrorAs(err, &appErr)
	s.Equal(common.KindNotFound, appErr.Kind)
}

func (s *RepositorySuite) TestRemoveRiderUnsealsAndReleasesCab() {
	riderA := seedUser(s.T(), s.ctx, s.db, "a@example.com")
	riderB := seedUser(s.T(), s.ctx, s.db, "b@example.com")
	riderC := seedUser(s.T(), s.ctx, s.db, "c@example.com")
	cabID := seedCab(s.T(), s.ctx, s.db, 4, 6)

	tripID := models.NewTripID()
	s.commitPair(riderA, riderB, tripID)
	_, err := s.repo.CommitMatch(s.ctx, extendInput(tripID, riderA, riderB, riderC))
	s.Require().NoError(err)
	s.Require().Equal("BOOKED", cabStatus(s.T(), s.ctx, s.db, cabID))

	removal := trips.RemoveRiderInput{
		TripID:         tripID,
		UserID:         riderC.String(),
		PassengerCount: 2,
		LuggageUnits:   2,
		Status:         models.TripStatusWaiting,
	}
	s.Require().NoError(s.repo.RemoveRider(s.ctx, removal))

	detail, err := s.repo.GetTripDetail(s.ctx, tripID)
	s.Require().NoError(err)
	s.Equal(models.TripStatusWaiting, detail.Status)
	s.Equal(2, detail.PassengerCount)
	s.Equal(2, detail.LuggageUnits)
	s.Nil(detail.CabID)
	s.Equal("AVAILABLE", cabStatus(s.T(), s.ctx, s.db, cabID))

	s.Require().Len(detail.Members, 3)
	byUser := requestsByUser(detail)
	s.Equal(models.TripStatusCancelled, byUser[riderC.String()].Status)
	for _, id := range []uuid.UUID{riderA, riderB} {
		s.Equal(models.TripStatusWaiting, byUser[id.String()].Status)
		// Fares stay as issued at the last join.
		s.Equal(11, byUser[id.String()].IssuedFare)
	}

	// Absolute counts make the removal safe to replay.
	s.Require().NoError(s.repo.RemoveRider(s.ctx, removal))
	detail, err = s.repo.GetTripDetail(s.ctx, tripID)
	s.Require().NoError(err)
	s.Equal(2, detail.PassengerCount)
	s.Equal(models.TripStatusWaiting, detail.Status)
}

func (s *RepositorySuite) TestRemoveRiderTripMissing() {
	err := s.repo.RemoveRider(s.ctx, trips.RemoveRiderInput{
		TripID:         models.NewTripID(),
		UserID:         uuid.NewString(),
		PassengerCount: 1,
		Status:         models.TripStatusWaiting,
	})
	var appErr *common.AppError
	s.Require().ErrorAs(err, &appErr)
	s.Equal(common.KindNotFound, appErr.Kind)
}

func (s *RepositorySuite) TestGetTripDetailMissing() {
	_, err := s.repo.GetTripDetail(s.ctx, models.NewTripID())
	var appErr *common.AppError
	s.Require().ErrorAs(err, &appErr)
	s.Equal(common.KindNotFound, appErr.Kind)
}
