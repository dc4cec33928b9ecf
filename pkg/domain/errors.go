package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced record does not exist.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// StateConflictError reports an operation that is not allowed in the current
// state, such as submitting a migration while another one is open.
type StateConflictError struct {
	Reason string
}

func (e StateConflictError) Error() string {
	return "state conflict: " + e.Reason
}

// InvalidArgumentError reports a malformed request.
type InvalidArgumentError struct {
	Reason string
}

func (e InvalidArgumentError) Error() string {
	return "invalid argument: " + e.Reason
}

// ErrVersionConflict is returned when an optimistic version check fails.
var ErrVersionConflict = StateConflictError{Reason: "version does not match the stored record"}

// ErrSubmissionsDisabled is returned by staging writes while a migration runs.
var ErrSubmissionsDisabled = StateConflictError{Reason: "submissions are disabled"}

// RuleViolationError is returned when a transaction is blocked by rules.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// IsNotFound reports whether err wraps an ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

// IsStateConflict reports whether err wraps a StateConflictError.
func IsStateConflict(err error) bool {
	var sc StateConflictError
	return errors.As(err, &sc)
}
