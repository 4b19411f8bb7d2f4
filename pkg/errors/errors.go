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

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Generic errors.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Verification workflow errors. Codes are part of the public API contract.
var (
	ErrIncompleteAssignment  = New("INCOMPLETE_ASSIGNMENT", http.StatusUnprocessableEntity, "verifikator and signer assignments are incomplete")
	ErrBlockedByRejection    = New("BLOCKED_BY_REJECTION", http.StatusConflict, "certificate has an unresolved rejection and must be revised first")
	ErrSequenceViolation     = New("SEQUENCE_VIOLATION", http.StatusConflict, "previous verification level has not been approved")
	ErrDuplicateVerification = New("DUPLICATE_VERIFICATION", http.StatusConflict, "verification already recorded for this level and version")
	ErrInvalidDestination    = New("INVALID_DESTINATION", http.StatusBadRequest, "invalid rejection destination for this level")
	ErrAlreadyProcessed      = New("ALREADY_PROCESSED", http.StatusConflict, "verification record is no longer pending")
	ErrInvalidPassphrase     = New("INVALID_PASSPHRASE", http.StatusUnauthorized, "invalid signing passphrase")
	ErrSigningProvider       = New("SIGNING_PROVIDER_ERROR", http.StatusBadGateway, "signing provider unavailable")
	ErrCertificateLocked     = New("CERTIFICATE_LOCKED", http.StatusConflict, "certificate can only be edited while in draft")
)

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

// HasCode reports whether err carries the same code as target.
func HasCode(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == target.Code
}
