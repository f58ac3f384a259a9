package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richxcame/airpool/internal/route"
	"github.com/richxcame/airpool/pkg/models"
)

const (
	sigOneCell  route.Signature = "872a10528ffffff"
	sigTwoCells route.Signature = "872a10528ffffff872a1052affffff"
)

func testMember(userID string, sig route.Signature) Member {
	return Member{
		UserID:               userID,
		RouteSignature:       sig,
		DestinationLatitude:  28.4595,
		DestinationLongitude: 77.0266,
		DistanceKm:           14.2,
		PassengerCount:       1,
		LuggageUnits:         2,
		BaseFare:             142,
	}
}

func TestNewPassengerEntry(t *testing.T) {
	m := testMember("u1", sigTwoCells)
	e := NewPassengerEntry(m)

	assert.Equal(t, "u1", e.ID)
	assert.Equal(t, KindPassenger, e.Kind)
	assert.False(t, e.IsTrip())
	assert.Equal(t, sigTwoCells, e.RouteSignature)
	assert.Equal(t, 1, e.PassengerCount)
	assert.Equal(t, 2, e.LuggageUnits)
	assert.Equal(t, models.TripStatusWaiting, e.Status)
	assert.Equal(t, 142, e.IssuedPrice)
	require.Len(t, e.Members, 1)
	assert.Equal(t, m, e.Members[0])
}

func TestNewTripEntry(t *testing.T) {
	a := testMember("u1", sigTwoCells)
	b := testMember("u2", sigOneCell)
	tripID := models.NewTripID()

	forming := NewTripEntry(tripID, sigTwoCells, []Member{a, b}, 43, false)
	assert.Equal(t, tripID, forming.ID)
	assert.Equal(t, KindTrip, forming.Kind)
	assert.True(t, forming.IsTrip())
	assert.Equal(t, sigTwoCells, forming.RouteSignature)
	assert.Equal(t, 2, forming.PassengerCount)
	assert.Equal(t, 4, forming.LuggageUnits)
	assert.Equal(t, models.TripStatusWaiting, forming.Status)
	assert.Equal(t, 43, forming.IssuedPrice)
	assert.Equal(t, []string{"u1", "u2"}, forming.MemberIDs())

	sealed := NewTripEntry(tripID, sigTwoCells, []Member{a, b}, 43, true)
	assert.Equal(t, models.TripStatusActive, sealed.Status)
}

func TestMemberTotals(t *testing.T) {
	passengers, luggage := MemberTotals(nil)
	assert.Zero(t, passengers)
	assert.Zero(t, luggage)

	members := []Member{
		{UserID: "u1", PassengerCount: 2, LuggageUnits: 1},
		{UserID: "u2", PassengerCount: 1, LuggageUnits: 3},
	}
	passengers, luggage = MemberTotals(members)
	assert.Equal(t, 3, passengers)
	assert.Equal(t, 4, luggage)
}

func TestSpliceMember(t *testing.T) {
	members := []Member{
		testMember("u1", sigOneCell),
		testMember("u2", sigTwoCells),
		testMember("u3", sigOneCell),
	}

	out, found := SpliceMember(members, "u2")
	require.True(t, found)
	require.Len(t, out, 2)
	assert.Equal(t, "u1", out[0].UserID)
	assert.Equal(t, "u3", out[1].UserID)
	assert.Len(t, members, 3)
	assert.Equal(t, "u2", members[1].UserID)

	out, found = SpliceMember(members, "nobody")
	assert.False(t, found)
	assert.Len(t, out, 3)
}

func TestEntry_MemberRecord(t *testing.T) {
	e := NewPassengerEntry(testMember("u1", sigOneCell))
	assert.Equal(t, string(sigOneCell)+"::u1", e.MemberRecord())
}

func TestEntry_HasMember(t *testing.T) {
	e := NewTripEntry(models.NewTripID(), sigTwoCells, []Member{
		testMember("u1", sigTwoCells),
		testMember("u2", sigOneCell),
	}, 43, false)

	assert.True(t, e.HasMember("u1"))
	assert.True(t, e.HasMember("u2"))
	assert.False(t, e.HasMember("u3"))
}

func TestJoinAndParseMember(t *testing.T) {
	rec := JoinMember(sigTwoCells, "u1")
	m, ok := ParseMember(rec)
	require.True(t, ok)
	assert.Equal(t, sigTwoCells, m.Signature)
	assert.Equal(t, "u1", m.EntryID)
	assert.False(t, m.IsTrip())
	assert.Equal(t, rec, m.Record())

	tripID := models.NewTripID()
	tm, ok := ParseMember(JoinMember(sigTwoCells, tripID))
	require.True(t, ok)
	assert.Equal(t, tripID, tm.EntryID)
	assert.True(t, tm.IsTrip())
}

func TestParseMember_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		member string
	}{
		{"empty", ""},
		{"no separator", string(sigOneCell)},
		{"missing signature", "::u1"},
		{"missing entry id", string(sigOneCell) + "::"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ParseMember(tt.member)
			assert.False(t, ok)
		})
	}
}
