// Package common provides shared utilities and types used across the application.
package common

import "errors"

// Sentinel errors shared across packages. Wrap them with %w.
var (
	// Storage errors.
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")

	// Collaborator errors.
	ErrSourceUnavailable    = errors.New("email source unavailable")
	ErrInferenceUnavailable = errors.New("inference service unavailable")

	// Scheduling errors.
	ErrRunInProgress    = errors.New("run in progress")
	ErrInvalidInterval  = errors.New("invalid interval")
	ErrInvalidDateRange = errors.New("invalid date range")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError pairs an underlying cause with a message fit for the terminal.
type UserError struct {
	Err     error
	Message string
}

func (e *UserError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *UserError) Unwrap() error { return e.Err }

// NewUserError wraps err with a message for the user.
func NewUserError(message string, err error) error {
	return &UserError{Message: message, Err: err}
}
