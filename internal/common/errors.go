// Package common holds sentinel errors shared by every layer. Match them
// with errors.Is; wrap with fmt.Errorf("...: %w", err).
package common

import (
	"errors"
	"fmt"
)

var (
	// Storage-level errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Authentication and authorization.
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountInactive    = errors.New("account inactive")
	ErrRateLimited        = errors.New("too many attempts")
	ErrSessionExpired     = errors.New("session expired")
	ErrInvalidToken       = errors.New("invalid token")

	// Input validation.
	ErrValidation      = errors.New("validation error")
	ErrPasswordReused  = errors.New("password was used recently")
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrFileTooLarge    = errors.New("file too large")

	// ErrNotConfigured is returned by optional integrations (Drive, S3)
	// that were not set up.
	ErrNotConfigured = errors.New("not configured")
)

// ValidationError carries a user-facing message about one field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for a *ValidationError.
func Invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}
