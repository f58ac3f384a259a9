//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/richxcame/airpool/internal/pool"
	"github.com/richxcame/airpool/internal/route"
	"github.com/richxcame/airpool/pkg/models"
	"github.com/richxcame/airpool/test/helpers"
)

// Fixed-width lowercase hex cells shaped like resolution-7 ids; the
// derived signatures sit in a known lex order.
const (
	cellA = "872a10528ffffff"
	cellB = "872a1052affffff"
	cellC = "872a1052bffffff"
	cellD = "872a1052cffffff"
	cellE = "873da6490ffffff"
)

const (
	sigAA  = cellA + cellA
	sigAB  = cellA + cellB
	sigABC = cellA + cellB + cellC
	sigABD = cellA + cellB + cellD
	sigE   = cellE
)

func passengerEntry(userID, sig string, passengers, luggage, fare int) *pool.Entry {
	return pool.NewPassengerEntry(pool.Member{
		UserID:         userID,
		RouteSignature: route.Signature(sig),
		DistanceKm:     12.5,
		PassengerCount: passengers,
		LuggageUnits:   luggage,
		BaseFare:       fare,
	})
}

// PoolStoreSuite runs the store against a real Redis instance: the lex
// ordering, bound grammar, and claim atomicity all come from the server
// itself here, not from a fake.
type PoolStoreSuite struct {
	suite.Suite
	store *pool.Store
	ctx   context.Context
}

func TestPoolStoreSuite(t *testing.T) {
	suite.Run(t, new(PoolStoreSuite))
}

func (s *PoolStoreSuite) SetupTest() {
	client := helpers.SetupTestRedis(s.T())
	s.store = pool.NewStore(client, "")
	s.ctx = context.Background()
}

func (s *PoolStoreSuite) TestMetaRoundTrip() {
	entry := passengerEntry("rider-1", sigAB, 2, 1, 125)
	s.Require().NoError(s.store.PutMeta(s.ctx, entry))

	got, err := s.store.GetMeta(s.ctx, "rider-1")
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(pool.KindPassenger, got.Kind)
	s.Equal(route.Signature(sigAB), got.RouteSignature)
	s.Equal(models.TripStatusWaiting, got.Status)
	s.Equal(125, got.IssuedPrice)
	s.Require().Len(got.Members, 1)
	s.Equal("rider-1", got.Members[0].UserID)
	s.Equal(12.5, got.Members[0].DistanceKm)

	s.Require().NoError(s.store.DelMeta(s.ctx, "rider-1"))
	got, err = s.store.GetMeta(s.ctx, "rider-1")
	s.Require().NoError(err)
	s.Nil(got)
}

func (s *PoolStoreSuite) TestGetMetaMissingIsNotAnError() {
	got, err := s.store.GetMeta(s.ctx, "nobody")
	s.Require().NoError(err)
	s.Nil(got)
}

// The superset window [sig, sig+0xff] must cover every member whose
// signature extends sig. The separator byte sorts above the hex digits,
// so the trunk's own member sorts after its extensions inside the
// window.
func (s *PoolStoreSuite) TestSupersetWindow() {
	for _, e := range []*pool.Entry{
		passengerEntry("trunk", sigAB, 1, 0, 100),
		passengerEntry("branch-c", sigABC, 1, 0, 120),
		passengerEntry("branch-d", sigABD, 1, 0, 130),
		passengerEntry("faraway", sigE, 1, 0, 80),
	} {
		s.Require().NoError(s.store.AddMember(s.ctx, e))
	}

	got, err := s.store.RangeLex(s.ctx, "["+sigAB, "["+sigAB+"\xff", 10)
	s.Require().NoError(err)

	ids := make([]string, len(got))
	for i, m := range got {
		ids[i] = m.EntryID
	}
	s.Equal([]string{"branch-c", "branch-d", "trunk"}, ids)
}

// Prefix members land on either side of the caller's bare signature
// depending on the byte that follows the shared prefix, which is why
// the engine reads predecessors and successors.
func (s *PoolStoreSuite) TestNeighbourWindows() {
	for _, e := range []*pool.Entry{
		passengerEntry("low", sigAA, 1, 0, 90),
		passengerEntry("caller", sigABC, 1, 0, 120),
		passengerEntry("high", sigABD, 1, 0, 130),
		passengerEntry("trunk", sigAB, 1, 0, 100),
	} {
		s.Require().NoError(s.store.AddMember(s.ctx, e))
	}

	preds, err := s.store.RevRangeLex(s.ctx, "("+sigABC, "-", 5)
	s.Require().NoError(err)
	s.Require().Len(preds, 1)
	s.Equal("low", preds[0].EntryID)

	succs, err := s.store.RangeLex(s.ctx, "("+sigABC, "+", 5)
	s.Require().NoError(err)
	ids := make([]string, len(succs))
	for i, m := range succs {
		ids[i] = m.EntryID
	}
	s.Equal([]string{"caller", "high", "trunk"}, ids)
}

func (s *PoolStoreSuite) TestRangeLexHonoursLimit() {
	for _, e := range []*pool.Entry{
		passengerEntry("branch-c", sigABC, 1, 0, 120),
		passengerEntry("branch-d", sigABD, 1, 0, 130),
		passengerEntry("trunk", sigAB, 1, 0, 100),
	} {
		s.Require().NoError(s.store.AddMember(s.ctx, e))
	}

	got, err := s.store.RangeLex(s.ctx, "["+sigAB, "["+sigAB+"\xff", 2)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal("branch-c", got[0].EntryID)
	s.Equal("branch-d", got[1].EntryID)
}

func (s *PoolStoreSuite) TestClaimPairWon() {
	caller := passengerEntry("caller", sigABC, 1, 0, 120)
	peer := passengerEntry("peer", sigAB, 1, 0, 100)
	s.Require().NoError(s.store.AddMember(s.ctx, caller))
	s.Require().NoError(s.store.AddMember(s.ctx, peer))

	verdict, err := s.store.ClaimPair(s.ctx,
		pool.Membership{Signature: caller.RouteSignature, EntryID: caller.ID},
		pool.Membership{Signature: peer.RouteSignature, EntryID: peer.ID},
	)
	s.Require().NoError(err)
	s.Equal(pool.ClaimWon, verdict)

	size, err := s.store.Size(s.ctx)
	s.Require().NoError(err)
	s.Zero(size)
}

func (s *PoolStoreSuite) TestClaimPairPeerGoneRestoresCaller() {
	caller := passengerEntry("caller", sigABC, 1, 0, 120)
	s.Require().NoError(s.store.AddMember(s.ctx, caller))

	verdict, err := s.store.ClaimPair(s.ctx,
		pool.Membership{Signature: caller.RouteSignature, EntryID: caller.ID},
		pool.Membership{Signature: route.Signature(sigAB), EntryID: "vanished"},
	)
	s.Require().NoError(err)
	s.Equal(pool.ClaimPeerGone, verdict)

	// The caller's record is back where the next scan can see it.
	members, err := s.store.MembersForID(s.ctx, "caller")
	s.Require().NoError(err)
	s.Equal([]string{caller.MemberRecord()}, members)
}

func (s *PoolStoreSuite) TestClaimPairCallerGoneRestoresPeer() {
	peer := passengerEntry("peer", sigAB, 1, 0, 100)
	s.Require().NoError(s.store.AddMember(s.ctx, peer))

	verdict, err := s.store.ClaimPair(s.ctx,
		pool.Membership{Signature: route.Signature(sigABC), EntryID: "claimed-elsewhere"},
		pool.Membership{Signature: peer.RouteSignature, EntryID: peer.ID},
	)
	s.Require().NoError(err)
	s.Equal(pool.ClaimCallerGone, verdict)

	members, err := s.store.MembersForID(s.ctx, "peer")
	s.Require().NoError(err)
	s.Equal([]string{peer.MemberRecord()}, members)
}

func (s *PoolStoreSuite) TestMemberRemovalIsIdempotent() {
	entry := passengerEntry("leaver", sigAB, 1, 0, 100)
	s.Require().NoError(s.store.AddMember(s.ctx, entry))

	members, err := s.store.MembersForID(s.ctx, "leaver")
	s.Require().NoError(err)
	s.Require().Len(members, 1)

	removed, err := s.store.RemoveMembers(s.ctx, members...)
	s.Require().NoError(err)
	s.Equal(int64(1), removed)

	// Replay: nothing left to find, nothing left to remove.
	members, err = s.store.MembersForID(s.ctx, "leaver")
	s.Require().NoError(err)
	s.Empty(members)

	removed, err = s.store.RemoveMembers(s.ctx, entry.MemberRecord())
	s.Require().NoError(err)
	s.Zero(removed)
}

// Trip metadata is reached by keyspace scan, so a sealed trip with no
// membership record is still visible to cleanup and reconciliation.
func (s *PoolStoreSuite) TestTripEntriesSeesSealedTrips() {
	rider := passengerEntry("rider", sigAB, 1, 0, 100)
	s.Require().NoError(s.store.PutMeta(s.ctx, rider))
	s.Require().NoError(s.store.AddMember(s.ctx, rider))

	forming := pool.NewTripEntry(models.NewTripID(), route.Signature(sigABC), []pool.Member{
		{UserID: "m-1", RouteSignature: route.Signature(sigAB), PassengerCount: 1},
		{UserID: "m-2", RouteSignature: route.Signature(sigABC), PassengerCount: 1},
	}, 84, false)
	s.Require().NoError(s.store.PutMeta(s.ctx, forming))
	s.Require().NoError(s.store.AddMember(s.ctx, forming))

	sealed := pool.NewTripEntry(models.NewTripID(), route.Signature(sigABD), []pool.Member{
		{UserID: "m-3", RouteSignature: route.Signature(sigABD), PassengerCount: 2},
		{UserID: "m-4", RouteSignature: route.Signature(sigAB), PassengerCount: 1},
	}, 59, true)
	s.Require().NoError(s.store.PutMeta(s.ctx, sealed))

	entries, err := s.store.TripEntries(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.ElementsMatch(
		[]string{entries[0].ID, entries[1].ID},
		[]string{forming.ID, sealed.ID},
	)
	for _, e := range entries {
		s.Equal(pool.KindTrip, e.Kind)
		s.Len(e.Members, 2)
	}
}

func (s *PoolStoreSuite) TestSizeCountsMembershipOnly() {
	rider := passengerEntry("rider", sigAB, 1, 0, 100)
	s.Require().NoError(s.store.PutMeta(s.ctx, rider))

	size, err := s.store.Size(s.ctx)
	s.Require().NoError(err)
	s.Zero(size)

	s.Require().NoError(s.store.AddMember(s.ctx, rider))
	size, err = s.store.Size(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), size)
}

func (s *PoolStoreSuite) TestAllMembersWalksWholePool() {
	seeded := []*pool.Entry{
		passengerEntry("rider-1", sigAB, 1, 0, 100),
		passengerEntry("rider-2", sigABC, 1, 0, 120),
		passengerEntry("rider-3", sigE, 1, 0, 80),
	}
	for _, e := range seeded {
		s.Require().NoError(s.store.AddMember(s.ctx, e))
	}

	members, err := s.store.AllMembers(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(members, 3)

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.EntryID
	}
	s.ElementsMatch([]string{"rider-1", "rider-2", "rider-3"}, ids)
}
