package matching

import (
	"github.com/richxcame/airpool/pkg/models"
)

// Kind labels how a match attempt ended.
type Kind string

const (
	// KindNone: no pairing; the caller stays registered in the pool.
	KindNone Kind = "NONE"
	// KindDirect: one route contains the other, no extra driving.
	KindDirect Kind = "DIRECT"
	// KindBestDetour: routes share a trunk and the detour from the
	// split point to the candidate's destination is within bounds.
	KindBestDetour Kind = "BEST_DETOUR"
)

// Request is one rider's registration: who they are, where they are
// going and how much space they need.
type Request struct {
	UserID               string  `json:"user_id"`
	DestinationLatitude  float64 `json:"destination_latitude"`
	DestinationLongitude float64 `json:"destination_longitude"`
	PassengerCount       int     `json:"passenger_count"`
	LuggageUnits         int     `json:"luggage_units"`
}

// Result is the outcome of one match attempt. BaseFare is always the
// caller's solo price. On a pairing, Trip carries the durable snapshot;
// a nil Trip on a paired result means the durable commit failed and the
// reconciler will catch up, the pool-side pairing still holds.
type Result struct {
	Kind         Kind               `json:"kind"`
	UserID       string             `json:"user_id"`
	BaseFare     int                `json:"base_fare"`
	PeerID       string             `json:"peer_id,omitempty"`
	TripID       string             `json:"trip_id,omitempty"`
	FareEach     int                `json:"fare_each,omitempty"`
	DetourMeters int                `json:"detour_meters,omitempty"`
	SplitCell    string             `json:"split_cell,omitempty"`
	Trip         *models.TripDetail `json:"trip,omitempty"`
}

// Matched reports whether the attempt ended in a pairing.
func (r *Result) Matched() bool {
	return r.Kind != KindNone
}
