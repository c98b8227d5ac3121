package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers missing vaults and already-consumed triggers.
	ErrNotFound = errors.New("not found")

	// ErrNotReady is returned when a trigger exists but its condition
	// does not hold yet.
	ErrNotReady = errors.New("trigger not ready")

	// ErrNothingToDisburse guards repeated escrow disbursement.
	ErrNothingToDisburse = errors.New("nothing to disburse")

	// ErrUnauthorized covers owner-only operations invoked by others.
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError rejects malformed request parameters before any state
// is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func validationErr(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// VenueError wraps swap venue failures so handlers can map them to an
// upstream failure status.
type VenueError struct {
	Op  string
	Err error
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("venue %s: %v", e.Op, e.Err)
}

func (e *VenueError) Unwrap() error {
	return e.Err
}
