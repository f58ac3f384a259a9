package eventbus

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Payload type discriminators carried inside notification payloads.
const (
	EventRideMatched = "RIDE_MATCHED"
	EventRiderLeft   = "RIDER_LEFT"
)

// RideMatchedData tells a waiting rider their pool entry was merged into
// a trip. Trip carries the full trip snapshot as stored by the matcher.
type RideMatchedData struct {
	Type string          `json:"type"`
	Trip json.RawMessage `json:"trip"`
}

// RiderLeftData tells the remaining members of a trip that one rider
// cancelled. UpdatedTrip is absent when the trip collapsed entirely.
type RiderLeftData struct {
	Type            string          `json:"type"`
	TripID          string          `json:"trip_id"`
	CancelledUserID uuid.UUID       `json:"cancelled_user_id"`
	UpdatedTrip     json.RawMessage `json:"updated_trip,omitempty"`
}

// MatchRequestData is the intake payload for a pooling attempt.
type MatchRequestData struct {
	UserID               uuid.UUID `json:"user_id" validate:"required"`
	DestinationLatitude  float64   `json:"destination_latitude" validate:"latitude"`
	DestinationLongitude float64   `json:"destination_longitude" validate:"longitude"`
	PassengerCount       int       `json:"passenger_count" validate:"gte=1"`
	LuggageUnits         int       `json:"luggage_units" validate:"gte=0"`
}

// RemoveUserData is the intake payload for a pool-side disconnect sweep.
type RemoveUserData struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
}

// LeaveTripData is the intake payload for a rider leaving a formed trip.
type LeaveTripData struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	TripID string    `json:"trip_id" validate:"required,trip_id"`
}

// TaskResponseData correlates a dispatcher result back to the request.
// Result carries the match outcome for MATCH_RIDE tasks; Error is set
// when the task failed. A removal that succeeds acks with neither.
type TaskResponseData struct {
	TaskID string          `json:"task_id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *TaskErrorData  `json:"error,omitempty"`
}

// TaskErrorData is the wire form of a failed task.
type TaskErrorData struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
