package matching

import (
	"context"

	"go.uber.org/zap"

	"github.com/richxcame/airpool/internal/pool"
	"github.com/richxcame/airpool/internal/trips"
	"github.com/richxcame/airpool/pkg/common"
	"github.com/richxcame/airpool/pkg/logger"
	"github.com/richxcame/airpool/pkg/tracing"
)

// RemoveUser clears a waiting rider out of the pool: every membership
// carrying the rider's id goes, then the metadata key. Both deletes are
// no-ops on absent state, so a replayed removal changes nothing.
func (s *Service) RemoveUser(ctx context.Context, userID string) error {
	if userID == "" {
		return common.NewValidationError("user_id is required")
	}

	return tracing.TraceBusinessLogic(ctx, tracerName, "remove_user",
		tracing.MatchAttributes(userID, "", 0),
		func(ctx context.Context) error {
			members, err := s.pool.MembersForID(ctx, userID)
			if err != nil {
				return err
			}

			var removed int64
			if len(members) > 0 {
				removed, err = s.pool.RemoveMembers(ctx, members...)
				if err != nil {
					return err
				}
			}
			if err := s.pool.DelMeta(ctx, userID); err != nil {
				return err
			}

			logger.InfoContext(ctx, "rider removed from pool",
				zap.String("user_id", userID),
				zap.Int64("members_removed", removed))
			return nil
		})
}

// RemoveUserFromTrip splices one rider out of whichever trip lists
// them. With two or more riders left the trip survives on recomputed
// totals; with one it collapses and is cancelled durably. Remaining
// riders hear RIDER_LEFT either way.
func (s *Service) RemoveUserFromTrip(ctx context.Context, userID string) error {
	if userID == "" {
		return common.NewValidationError("user_id is required")
	}

	return tracing.TraceBusinessLogic(ctx, tracerName, "remove_user_from_trip",
		tracing.MatchAttributes(userID, "", 0),
		func(ctx context.Context) error {
			return s.removeFromTrip(ctx, userID)
		})
}

func (s *Service) removeFromTrip(ctx context.Context, userID string) error {
	// Trip entries are found by metadata key, not by pool membership:
	// sealed trips have no member record but can still lose riders.
	entries, err := s.pool.TripEntries(ctx)
	if err != nil {
		return err
	}

	var trip *pool.Entry
	for _, e := range entries {
		if e.HasMember(userID) {
			trip = e
			break
		}
	}
	if trip == nil {
		logger.InfoContext(ctx, "no trip lists rider, nothing to remove",
			zap.String("user_id", userID))
		return nil
	}

	remaining, _ := pool.SpliceMember(trip.Members, userID)
	if len(remaining) < 2 {
		return s.collapseTrip(ctx, trip, remaining, userID)
	}
	return s.shrinkTrip(ctx, trip, remaining, userID)
}

// collapseTrip dissolves a trip left with fewer than two riders: pool
// records go first, then the durable cancellation. The last rider ends
// up unmatched and hears RIDER_LEFT with no trip attached.
func (s *Service) collapseTrip(ctx context.Context, trip *pool.Entry, remaining []pool.Member, cancelledID string) error {
	// A sealed trip has no member record; removing zero members is fine.
	if _, err := s.pool.RemoveMembers(ctx, trip.MemberRecord()); err != nil {
		return err
	}
	if err := s.pool.DelMeta(ctx, trip.ID); err != nil {
		return err
	}

	if err := s.trips.CancelTrip(ctx, trip.ID); err != nil {
		// Pool state is already clean; the reconciler flags the row.
		logger.ErrorContext(ctx, "durable trip cancellation failed",
			zap.String("trip_id", trip.ID),
			zap.Error(err))
	}

	logger.InfoContext(ctx, "trip collapsed",
		zap.String("trip_id", trip.ID),
		zap.String("cancelled_user_id", cancelledID),
		zap.Int("remaining", len(remaining)))

	for _, m := range remaining {
		s.notifier.RiderLeft(ctx, m.UserID, trip.ID, cancelledID, nil)
	}
	return nil
}

// shrinkTrip writes the trip back with the leaver spliced out. The
// route signature stays as matched, so any forming-trip member record
// keeps pointing at valid metadata; the member record itself is never
// re-added, so a departure that un-seals a trip does not re-open it to
// new riders.
func (s *Service) shrinkTrip(ctx context.Context, trip *pool.Entry, remaining []pool.Member, cancelledID string) error {
	passengers, luggage := pool.MemberTotals(remaining)
	sealed := passengers == s.cfg.MaxPassengers || luggage == s.cfg.LuggageCapacity

	shrunk := pool.NewTripEntry(trip.ID, trip.RouteSignature, remaining, trip.IssuedPrice, sealed)
	if err := s.pool.PutMeta(ctx, shrunk); err != nil {
		return err
	}

	if err := s.trips.RemoveRider(ctx, trips.RemoveRiderInput{
		TripID:         trip.ID,
		UserID:         cancelledID,
		PassengerCount: passengers,
		LuggageUnits:   luggage,
		Status:         shrunk.Status,
	}); err != nil {
		logger.ErrorContext(ctx, "durable rider removal failed",
			zap.String("trip_id", trip.ID),
			zap.String("user_id", cancelledID),
			zap.Error(err))
	}

	updated, err := s.trips.GetTripDetail(ctx, trip.ID)
	if err != nil {
		logger.WarnContext(ctx, "trip snapshot reload failed after removal",
			zap.String("trip_id", trip.ID),
			zap.Error(err))
		updated = nil
	}

	logger.InfoContext(ctx, "trip shrunk",
		zap.String("trip_id", trip.ID),
		zap.String("cancelled_user_id", cancelledID),
		zap.Int("passengers", passengers),
		zap.Int("luggage", luggage),
		zap.String("status", string(shrunk.Status)))

	for _, m := range remaining {
		s.notifier.RiderLeft(ctx, m.UserID, trip.ID, cancelledID, updated)
	}
	return nil
}
