package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richxcame/airpool/internal/pool"
	"github.com/richxcame/airpool/internal/route"
	"github.com/richxcame/airpool/pkg/models"
)

func TestService_RemoveUser(t *testing.T) {
	f := newEngineFixture()
	f.seedRider("u1", sigABC, 1, 1, 14.2)
	f.seedRider("u2", sigAB, 1, 1, 9.7)

	require.NoError(t, f.svc.RemoveUser(context.Background(), "u1"))

	assert.False(t, f.pool.hasRecord(sigABC+pool.Separator+"u1"))
	assert.Nil(t, f.pool.entry("u1"))

	// The other rider is untouched.
	assert.True(t, f.pool.hasRecord(sigAB+pool.Separator+"u2"))
	require.NotNil(t, f.pool.entry("u2"))

	// Replaying the removal is a no-op.
	require.NoError(t, f.svc.RemoveUser(context.Background(), "u1"))
}

func TestService_RemoveUser_AbsentRider(t *testing.T) {
	f := newEngineFixture()

	require.NoError(t, f.svc.RemoveUser(context.Background(), "nobody"))
	assert.Equal(t, 0, f.pool.recordCount())
}

func TestService_RemoveUser_RequiresUserID(t *testing.T) {
	f := newEngineFixture()

	err := f.svc.RemoveUser(context.Background(), "")
	require.Error(t, err)
}

func TestService_RemoveUser_DoesNotTouchSharedSuffix(t *testing.T) {
	f := newEngineFixture()
	// "u1" must not match "xu1": the id comparison is anchored at the
	// separator.
	f.seedRider("u1", sigABC, 1, 1, 14.2)
	f.seedRider("xu1", sigAB, 1, 1, 9.7)

	require.NoError(t, f.svc.RemoveUser(context.Background(), "u1"))

	assert.False(t, f.pool.hasRecord(sigABC+pool.Separator+"u1"))
	assert.True(t, f.pool.hasRecord(sigAB+pool.Separator+"xu1"))
}

func TestService_RemoveUserFromTrip_ShrinksTrip(t *testing.T) {
	f := newEngineFixture()
	tripID := models.NewTripID()
	f.seedTrip(tripID, sigABC, []pool.Member{
		tripMember("u1", sigABC, 1, 2, 142),
		tripMember("u2", sigAB, 1, 1, 97),
		tripMember("u3", sigAB, 1, 1, 97),
	}, 13, true)

	require.NoError(t, f.svc.RemoveUserFromTrip(context.Background(), "u2"))

	// Two riders remain; the trip survives with recomputed totals and
	// un-seals back to WAITING.
	trip := f.pool.entry(tripID)
	require.NotNil(t, trip)
	assert.Equal(t, []string{"u1", "u3"}, trip.MemberIDs())
	assert.Equal(t, 2, trip.PassengerCount)
	assert.Equal(t, 3, trip.LuggageUnits)
	assert.Equal(t, models.TripStatusWaiting, trip.Status)
	assert.Equal(t, route.Signature(sigABC), trip.RouteSignature)

	// Un-sealing never re-opens the trip to new riders.
	assert.Equal(t, 0, f.pool.recordCount())

	require.Len(t, f.trips.removals, 1)
	removal := f.trips.removals[0]
	assert.Equal(t, tripID, removal.TripID)
	assert.Equal(t, "u2", removal.UserID)
	assert.Equal(t, 2, removal.PassengerCount)
	assert.Equal(t, 3, removal.LuggageUnits)
	assert.Equal(t, models.TripStatusWaiting, removal.Status)

	require.Len(t, f.notifier.left, 2)
	assert.Equal(t, "u1", f.notifier.left[0].userID)
	assert.Equal(t, "u3", f.notifier.left[1].userID)
	for _, note := range f.notifier.left {
		assert.Equal(t, tripID, note.tripID)
		assert.Equal(t, "u2", note.cancelledUserID)
		require.NotNil(t, note.updated)
	}
}

func TestService_RemoveUserFromTrip_ShrinkKeepsSealWhenStillAtCap(t *testing.T) {
	f := newEngineFixture()
	tripID := models.NewTripID()
	// Luggage stays at the cap after the leaver goes, so the trip stays
	// sealed.
	f.seedTrip(tripID, sigABC, []pool.Member{
		tripMember("u1", sigABC, 1, 2, 142),
		tripMember("u2", sigAB, 1, 2, 97),
		tripMember("u3", sigAB, 1, 0, 97),
	}, 13, true)

	require.NoError(t, f.svc.RemoveUserFromTrip(context.Background(), "u3"))

	trip := f.pool.entry(tripID)
	require.NotNil(t, trip)
	assert.Equal(t, models.TripStatusActive, trip.Status)
	assert.Equal(t, 4, trip.LuggageUnits)
	assert.Equal(t, 0, f.pool.recordCount())
}

func TestService_RemoveUserFromTrip_CollapsesToLastRider(t *testing.T) {
	f := newEngineFixture()
	tripID := models.NewTripID()
	f.seedTrip(tripID, sigABC, []pool.Member{
		tripMember("u1", sigABC, 1, 1, 142),
		tripMember("u2", sigAB, 1, 1, 97),
	}, 43, false)

	require.NoError(t, f.svc.RemoveUserFromTrip(context.Background(), "u2"))

	// One rider cannot hold a trip: pool records go and the durable row
	// is cancelled.
	assert.Nil(t, f.pool.entry(tripID))
	assert.Equal(t, 0, f.pool.recordCount())
	assert.Equal(t, []string{tripID}, f.trips.cancelled)

	require.Len(t, f.notifier.left, 1)
	note := f.notifier.left[0]
	assert.Equal(t, "u1", note.userID)
	assert.Equal(t, tripID, note.tripID)
	assert.Equal(t, "u2", note.cancelledUserID)
	assert.Nil(t, note.updated)
}

func TestService_RemoveUserFromTrip_CollapseSurvivesCancelFailure(t *testing.T) {
	f := newEngineFixture()
	tripID := models.NewTripID()
	f.seedTrip(tripID, sigABC, []pool.Member{
		tripMember("u1", sigABC, 1, 1, 142),
		tripMember("u2", sigAB, 1, 1, 97),
	}, 43, false)
	f.trips.cancelErr = errors.New("connection refused")

	// Pool cleanup wins even when the durable cancellation fails; the
	// reconciler picks the row up later.
	require.NoError(t, f.svc.RemoveUserFromTrip(context.Background(), "u2"))
	assert.Nil(t, f.pool.entry(tripID))
	require.Len(t, f.notifier.left, 1)
}

func TestService_RemoveUserFromTrip_FindsSealedTrip(t *testing.T) {
	f := newEngineFixture()
	tripID := models.NewTripID()
	// Sealed trips have no pool membership; the lookup has to go
	// through trip metadata.
	f.seedTrip(tripID, sigABC, []pool.Member{
		tripMember("u1", sigABC, 1, 1, 142),
		tripMember("u2", sigAB, 1, 1, 97),
		tripMember("u3", sigAB, 1, 1, 97),
	}, 13, true)
	require.Equal(t, 0, f.pool.recordCount())

	require.NoError(t, f.svc.RemoveUserFromTrip(context.Background(), "u1"))

	trip := f.pool.entry(tripID)
	require.NotNil(t, trip)
	assert.Equal(t, []string{"u2", "u3"}, trip.MemberIDs())
	require.Len(t, f.trips.removals, 1)
}

func TestService_RemoveUserFromTrip_NoTripListsRider(t *testing.T) {
	f := newEngineFixture()
	f.seedRider("u1", sigABC, 1, 1, 14.2)

	// A waiting passenger is not a trip member; the call is a no-op, as
	// is any replay after the rider already left.
	require.NoError(t, f.svc.RemoveUserFromTrip(context.Background(), "u1"))
	require.NoError(t, f.svc.RemoveUserFromTrip(context.Background(), "nobody"))

	assert.True(t, f.pool.hasRecord(sigABC+pool.Separator+"u1"))
	assert.Empty(t, f.trips.removals)
	assert.Empty(t, f.trips.cancelled)
	assert.Empty(t, f.notifier.left)
}

func TestService_RemoveUserFromTrip_SnapshotFailureStillNotifies(t *testing.T) {
	f := newEngineFixture()
	tripID := models.NewTripID()
	f.seedTrip(tripID, sigABC, []pool.Member{
		tripMember("u1", sigABC, 1, 1, 142),
		tripMember("u2", sigAB, 1, 1, 97),
		tripMember("u3", sigAB, 1, 1, 97),
	}, 13, true)
	f.trips.detailErr = errors.New("connection refused")

	require.NoError(t, f.svc.RemoveUserFromTrip(context.Background(), "u2"))

	require.Len(t, f.notifier.left, 2)
	for _, note := range f.notifier.left {
		assert.Nil(t, note.updated)
	}
}
