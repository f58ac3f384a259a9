package common

import (
	"errors"
	"net/http"
)

// Sentinel errors shared across packages. Capacity and staleness are
// flow-control signals inside the match loop and never reach the wire.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrBadRequest       = errors.New("bad request")
	ErrInternalServer   = errors.New("internal server error")
	ErrValidation       = errors.New("validation error")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrStaleCandidate   = errors.New("stale candidate")
	ErrEntryNotFound    = errors.New("pool entry not found")
	ErrTripNotFound     = errors.New("trip not found")
)

// Error kinds reported to intake callers.
const (
	KindIndexerUnavailable   = "INDEXER_UNAVAILABLE"
	KindPoolUnavailable      = "POOL_UNAVAILABLE"
	KindDurableCommitFailed  = "DURABLE_COMMIT_FAILED"
	KindNotifyFailed         = "NOTIFY_FAILED"
	KindWorkerPoolTerminated = "WORKER_POOL_TERMINATED"
	KindValidationError      = "VALIDATION_ERROR"
	KindNotFound             = "NOT_FOUND"
	KindInternalError        = "INTERNAL_ERROR"
)

// AppError represents an application error with a machine-readable kind.
// Code carries the equivalent HTTP status for the ops surface.
type AppError struct {
	Kind    string `json:"kind"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the wrapped cause to errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(kind string, code int, message string, err error) *AppError {
	return &AppError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func NewIndexerUnavailableError(err error) *AppError {
	return &AppError{
		Kind:    KindIndexerUnavailable,
		Code:    http.StatusServiceUnavailable,
		Message: "route indexer unavailable",
		Err:     err,
	}
}

func NewPoolUnavailableError(err error) *AppError {
	return &AppError{
		Kind:    KindPoolUnavailable,
		Code:    http.StatusServiceUnavailable,
		Message: "ride pool unavailable",
		Err:     err,
	}
}

func NewDurableCommitError(err error) *AppError {
	return &AppError{
		Kind:    KindDurableCommitFailed,
		Code:    http.StatusInternalServerError,
		Message: "durable trip commit failed",
		Err:     err,
	}
}

func NewNotifyError(err error) *AppError {
	return &AppError{
		Kind:    KindNotifyFailed,
		Code:    http.StatusInternalServerError,
		Message: "rider notification failed",
		Err:     err,
	}
}

func NewWorkerPoolTerminatedError() *AppError {
	return &AppError{
		Kind:    KindWorkerPoolTerminated,
		Code:    http.StatusServiceUnavailable,
		Message: "worker pool is shutting down",
		Err:     ErrInternalServer,
	}
}

func NewNotFoundError(message string, err error) *AppError {
	return &AppError{
		Kind:    KindNotFound,
		Code:    http.StatusNotFound,
		Message: message,
		Err:     err,
	}
}

func NewBadRequestError(message string, err error) *AppError {
	return &AppError{
		Kind:    KindValidationError,
		Code:    http.StatusBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Kind:    KindInternalError,
		Code:    http.StatusInternalServerError,
		Message: message,
		Err:     err,
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Kind:    KindValidationError,
		Code:    http.StatusBadRequest,
		Message: message,
		Err:     ErrValidation,
	}
}
