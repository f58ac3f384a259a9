// Package pool holds the shared ride pool: per-entry metadata plus a
// lex-ordered membership set whose members sort by route signature.
package pool

import (
	"github.com/richxcame/airpool/internal/route"
	"github.com/richxcame/airpool/pkg/models"
)

// EntryKind tags the two pool entry variants. The kind travels with the
// stored metadata and is trusted on decode; the shape of an entry is
// never inferred from which fields happen to be set.
type EntryKind string

const (
	KindPassenger EntryKind = "PASSENGER"
	KindTrip      EntryKind = "TRIP"
)

// Member is one rider inside an entry, carrying the metadata the rider
// registered with. Trip extension, fare recalculation, and durable
// backfill all read these fields after the rider's own entry is gone.
type Member struct {
	UserID               string          `json:"user_id"`
	RouteSignature       route.Signature `json:"route_signature"`
	DestinationLatitude  float64         `json:"destination_latitude"`
	DestinationLongitude float64         `json:"destination_longitude"`
	DistanceKm           float64         `json:"distance_km"`
	PassengerCount       int             `json:"passenger_count"`
	LuggageUnits         int             `json:"luggage_units"`
	BaseFare             int             `json:"base_fare"`
}

// Entry is one pool entry: a waiting passenger or a forming trip. A
// passenger entry lists itself as its only member, so pairing code can
// concatenate member lists without caring which variant the peer was.
type Entry struct {
	ID             string            `json:"id"`
	Kind           EntryKind         `json:"kind"`
	RouteSignature route.Signature   `json:"route_signature"`
	PassengerCount int               `json:"passenger_count"`
	LuggageUnits   int               `json:"luggage_units"`
	Status         models.TripStatus `json:"status"`
	IssuedPrice    int               `json:"issued_price"`
	Members        []Member          `json:"members"`
}

// NewPassengerEntry builds a WAITING passenger entry from the rider's
// registration metadata.
func NewPassengerEntry(m Member) *Entry {
	return &Entry{
		ID:             m.UserID,
		Kind:           KindPassenger,
		RouteSignature: m.RouteSignature,
		PassengerCount: m.PassengerCount,
		LuggageUnits:   m.LuggageUnits,
		Status:         models.TripStatusWaiting,
		IssuedPrice:    m.BaseFare,
		Members:        []Member{m},
	}
}

// NewTripEntry builds a trip entry over the combined member list. Counts
// are summed from the members; a sealed trip is ACTIVE and leaves the
// matchable pool, a forming one stays WAITING.
func NewTripEntry(tripID string, signature route.Signature, members []Member, issuedPrice int, sealed bool) *Entry {
	passengers, luggage := MemberTotals(members)
	status := models.TripStatusWaiting
	if sealed {
		status = models.TripStatusActive
	}
	return &Entry{
		ID:             tripID,
		Kind:           KindTrip,
		RouteSignature: signature,
		PassengerCount: passengers,
		LuggageUnits:   luggage,
		Status:         status,
		IssuedPrice:    issuedPrice,
		Members:        members,
	}
}

// MemberTotals sums passenger and luggage counts across members.
func MemberTotals(members []Member) (passengers, luggage int) {
	for _, m := range members {
		passengers += m.PassengerCount
		luggage += m.LuggageUnits
	}
	return passengers, luggage
}

// SpliceMember returns members with userID removed, reporting whether it
// was present. The input slice is left untouched.
func SpliceMember(members []Member, userID string) ([]Member, bool) {
	out := make([]Member, 0, len(members))
	found := false
	for _, m := range members {
		if m.UserID == userID {
			found = true
			continue
		}
		out = append(out, m)
	}
	return out, found
}

// IsTrip reports whether the entry is a forming trip.
func (e *Entry) IsTrip() bool {
	return e.Kind == KindTrip
}

// MemberRecord returns the entry's membership string for the lex set.
func (e *Entry) MemberRecord() string {
	return JoinMember(e.RouteSignature, e.ID)
}

// MemberIDs returns the user ids of all members in join order.
func (e *Entry) MemberIDs() []string {
	ids := make([]string, len(e.Members))
	for i, m := range e.Members {
		ids[i] = m.UserID
	}
	return ids
}

// HasMember reports whether userID is one of the entry's members.
func (e *Entry) HasMember(userID string) bool {
	for _, m := range e.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}
