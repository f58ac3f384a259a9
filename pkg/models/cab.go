package models

import (
	"time"

	"github.com/google/uuid"
)

// CabStatus represents the booking state of a cab
type CabStatus string

const (
	CabStatusAvailable CabStatus = "AVAILABLE"
	CabStatusBooked    CabStatus = "BOOKED"
)

// Driver represents a cab driver
type Driver struct {
	ID            uuid.UUID `json:"id" db:"id"`
	FirstName     string    `json:"first_name" db:"first_name"`
	LastName      string    `json:"last_name" db:"last_name"`
	PhoneNumber   string    `json:"phone_number" db:"phone_number"`
	LicenseNumber string    `json:"license_number" db:"license_number"`
	Rating        float64   `json:"rating" db:"rating"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Cab represents a vehicle in the airport fleet. The capacity columns
// bound what a trip assigned to it may carry; sealing a trip books the
// cab until the trip completes or is cancelled.
type Cab struct {
	ID                uuid.UUID `json:"id" db:"id"`
	DriverID          uuid.UUID `json:"driver_id" db:"driver_id"`
	PlateNumber       string    `json:"plate_number" db:"plate_number"`
	Model             string    `json:"model" db:"model"`
	Color             string    `json:"color" db:"color"`
	PassengerCapacity int       `json:"passenger_capacity" db:"passenger_capacity"`
	LuggageCapacity   int       `json:"luggage_capacity" db:"luggage_capacity"`
	Status            CabStatus `json:"status" db:"status"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}
