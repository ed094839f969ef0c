// Package common defines shared constants, sentinel errors and small helpers
// used across the account service. Callers should use errors.Is / errors.As
// to match these values.
package common

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// Service-level errors (generic/internal flow control).
	ErrorUnauthorized        = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrValidation            = errors.New("validation error")
	ErrRateLimited           = errors.New("rate limited")

	// Credential errors. The same value is returned for an unknown identifier
	// and for a wrong password.
	ErrInvalidCredentials = errors.New("invalid identifier or password")
	ErrInvalidCode        = errors.New("invalid code")

	// Token errors.
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrTokenExpired     = errors.New("token expired")
	ErrMalformedToken   = errors.New("malformed token")

	// Session lifecycle errors.
	ErrSessionExpiredOrInvalid = errors.New("session expired or invalid")
)

// ValidationError is a request validation failure with a machine-stable code.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError is a shorthand for &ValidationError{Code: code, Message: msg}.
func NewValidationError(code, msg string) error {
	return &ValidationError{Code: code, Message: msg}
}

// ConflictError reports which unique resource collided.
type ConflictError struct {
	Code    string
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// RateLimitError is returned when an operation is inside its rate-limit window.
// RetryAt is the earliest instant at which the operation will be accepted.
type RateLimitError struct {
	RetryAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry at %s", e.RetryAt.UTC().Format(time.RFC3339))
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrConflict || target == ErrRateLimited
}

// Unavailable wraps a store or mail failure as ErrDependencyUnavailable while
// keeping the cause in the chain.
func Unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrDependencyUnavailable, err)
}
