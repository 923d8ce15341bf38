package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so clones compare equal to their template.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound             = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrValidation           = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrPickupPersonRequired = New("PICKUP_PERSON_REQUIRED", http.StatusUnprocessableEntity, "pickup person is required to check out")
	ErrInvalidTransition    = New("INVALID_TRANSITION", http.StatusUnprocessableEntity, "status transition not allowed")
	ErrSkipNotEligible      = New("SKIP_NOT_ELIGIBLE", http.StatusUnprocessableEntity, "student is not eligible to be skipped")
	ErrRecoverableWrite     = New("RECOVERABLE_WRITE_FAILURE", http.StatusServiceUnavailable, "authoritative write failed")
	ErrPersistence          = New("PERSISTENCE_FAILURE", http.StatusServiceUnavailable, "status could not be saved")
	ErrSessionClosed        = New("SESSION_CLOSED", http.StatusServiceUnavailable, "roster session closed")
	ErrInternal             = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrMarkerMissing        = New("MARKER_MISSING", http.StatusNotFound, "marker not found")
)

var validationCodes = map[string]struct{}{
	ErrValidation.Code:           {},
	ErrPickupPersonRequired.Code: {},
	ErrInvalidTransition.Code:    {},
	ErrSkipNotEligible.Code:      {},
}

// IsValidation reports whether err belongs to the validation family. These never touch the store.
func IsValidation(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	_, ok := validationCodes[e.Code]
	return ok
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
