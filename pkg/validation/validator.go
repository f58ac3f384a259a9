package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// Validate is the global validator instance
	Validate *validator.Validate

	// Common regex patterns
	uuidRegex    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	hexCellRegex = regexp.MustCompile(`^[0-9a-f]{15}$`)
)

func init() {
	Validate = validator.New()

	// Register custom validators
	_ = Validate.RegisterValidation("latitude", validateLatitude)
	_ = Validate.RegisterValidation("longitude", validateLongitude)
	_ = Validate.RegisterValidation("trip_id", validateTripID)
	_ = Validate.RegisterValidation("hex_cell", validateHexCell)
}

// ValidationError aggregates field-level validation failures.
type ValidationError struct {
	Errors map[string]string
}

// NewValidationError converts validator field errors into a ValidationError.
func NewValidationError(fieldErrors validator.ValidationErrors) *ValidationError {
	ve := &ValidationError{Errors: make(map[string]string, len(fieldErrors))}
	for _, fe := range fieldErrors {
		ve.Errors[strings.ToLower(fe.Field())] = fmt.Sprintf("failed on the '%s' rule", fe.Tag())
	}
	return ve
}

// AddError records a failure for a named field.
func (e *ValidationError) AddError(field, message string) {
	if e.Errors == nil {
		e.Errors = make(map[string]string)
	}
	e.Errors[field] = message
}

// HasErrors reports whether any failure was recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Error implements the error interface with fields in stable order.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}

	fields := make([]string, 0, len(e.Errors))
	for field := range e.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+e.Errors[field])
	}
	return strings.Join(parts, "; ")
}

// ValidateStruct validates a struct and returns a ValidationError if validation fails
func ValidateStruct(s interface{}) error {
	err := Validate.Struct(s)
	if err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return NewValidationError(validationErrors)
		}
		return err
	}
	return nil
}

// validateLatitude checks if latitude is within valid range (-90 to 90)
func validateLatitude(fl validator.FieldLevel) bool {
	latitude := fl.Field().Float()
	return latitude >= -90.0 && latitude <= 90.0
}

// validateLongitude checks if longitude is within valid range (-180 to 180)
func validateLongitude(fl validator.FieldLevel) bool {
	longitude := fl.Field().Float()
	return longitude >= -180.0 && longitude <= 180.0
}

// validateTripID checks the TRIP prefix and embedded UUID
func validateTripID(fl validator.FieldLevel) bool {
	return ValidateTripID(fl.Field().String())
}

// validateHexCell checks for a 15-character lowercase hex cell token
func validateHexCell(fl validator.FieldLevel) bool {
	return hexCellRegex.MatchString(fl.Field().String())
}

// ValidateCoordinates validates latitude and longitude
func ValidateCoordinates(latitude, longitude float64) error {
	if latitude < -90.0 || latitude > 90.0 {
		return fmt.Errorf("latitude must be between -90 and 90, got: %f", latitude)
	}
	if longitude < -180.0 || longitude > 180.0 {
		return fmt.Errorf("longitude must be between -180 and 180, got: %f", longitude)
	}
	return nil
}

// ValidateUUID validates UUID format
func ValidateUUID(id string) bool {
	return uuidRegex.MatchString(id)
}

// ValidateTripID reports whether id is a trip identifier: the literal
// prefix TRIP followed by a UUID.
func ValidateTripID(id string) bool {
	if !strings.HasPrefix(id, "TRIP") {
		return false
	}
	return ValidateUUID(strings.TrimPrefix(id, "TRIP"))
}

// ValidateHexCell reports whether s is a 15-character hex cell token.
func ValidateHexCell(s string) bool {
	return hexCellRegex.MatchString(s)
}
