package validation

import "fmt"

// ValidatePassengerLoad checks a single request's load against cab capacity.
// A request that cannot fit in an empty cab is rejected before it ever
// enters the pool, so the match loop only sees satisfiable entries.
func ValidatePassengerLoad(passengers, luggage, maxPassengers, luggageCapacity int) error {
	ve := &ValidationError{Errors: make(map[string]string)}

	if passengers < 1 {
		ve.AddError("passenger_count", "must be at least 1")
	} else if passengers > maxPassengers {
		ve.AddError("passenger_count", fmt.Sprintf("exceeds cab capacity of %d", maxPassengers))
	}

	if luggage < 0 {
		ve.AddError("luggage_units", "must not be negative")
	} else if luggage > luggageCapacity {
		ve.AddError("luggage_units", fmt.Sprintf("exceeds cab luggage capacity of %d", luggageCapacity))
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}
