package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TripIDPrefix distinguishes trip ids from rider ids wherever both kinds
// share a keyspace. Rider ids are bare UUIDs and never carry it.
const TripIDPrefix = "TRIP"

// NewTripID returns a fresh trip id: the TRIP prefix followed by a
// random UUID.
func NewTripID() string {
	return TripIDPrefix + uuid.New().String()
}

// IsTripID reports whether id carries the trip prefix.
func IsTripID(id string) bool {
	return strings.HasPrefix(id, TripIDPrefix)
}

// TripStatus represents the lifecycle state of a pooled trip
type TripStatus string

const (
	TripStatusWaiting   TripStatus = "WAITING"
	TripStatusActive    TripStatus = "ACTIVE"
	TripStatusCompleted TripStatus = "COMPLETED"
	TripStatusCancelled TripStatus = "CANCELLED"
)

// Trip represents a pooled trip. CabID holds the most recent cab pick
// and is cleared when a departure un-seals the trip; the cab itself is
// only BOOKED while the trip is ACTIVE.
type Trip struct {
	ID             string     `json:"id" db:"id"`
	Status         TripStatus `json:"status" db:"status"`
	CabID          *uuid.UUID `json:"cab_id,omitempty" db:"cab_id"`
	RouteSignature string     `json:"route_signature" db:"route_signature"`
	FareEach       int        `json:"fare_each" db:"fare_each"`
	PassengerCount int        `json:"passenger_count" db:"passenger_count"`
	LuggageUnits   int        `json:"luggage_units" db:"luggage_units"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

// RideRequest represents one rider's leg of a pooled trip. BaseFare is
// the solo price computed at registration; IssuedFare is the current
// pool price after discounts and is rewritten on every join.
type RideRequest struct {
	ID                   uuid.UUID  `json:"id" db:"id"`
	UserID               uuid.UUID  `json:"user_id" db:"user_id"`
	TripID               string     `json:"trip_id" db:"trip_id"`
	Status               TripStatus `json:"status" db:"status"`
	DestinationLatitude  float64    `json:"destination_latitude" db:"destination_latitude"`
	DestinationLongitude float64    `json:"destination_longitude" db:"destination_longitude"`
	RouteSignature       string     `json:"route_signature" db:"route_signature"`
	DistanceKm           float64    `json:"distance_km" db:"distance_km"`
	PassengerCount       int        `json:"passenger_count" db:"passenger_count"`
	LuggageUnits         int        `json:"luggage_units" db:"luggage_units"`
	BaseFare             int        `json:"base_fare" db:"base_fare"`
	IssuedFare           int        `json:"issued_fare" db:"issued_fare"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// TripMember pairs a rider with their request row, in join order.
type TripMember struct {
	User        *User        `json:"user"`
	RideRequest *RideRequest `json:"ride_request"`
}

// TripDetail is the full durable snapshot of a trip: the row plus its
// cab, driver, and members. This is what RIDE_MATCHED notifications
// carry and what match results return.
type TripDetail struct {
	*Trip
	Cab     *Cab         `json:"cab,omitempty"`
	Driver  *Driver      `json:"driver,omitempty"`
	Members []TripMember `json:"members"`
}
