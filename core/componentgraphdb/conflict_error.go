package componentgraphdb

import (
	"errors"
	"fmt"
)

// WriteConflictError indicates a concurrent update race on a component
// row: the CAS version check on commit found a different version than
// the one read at the start of the upsert. Callers retry the upsert
// with fresh state, bounded by their retry policy.
type WriteConflictError struct {
	ComponentID     string
	ExpectedVersion uint64
}

// Error implements the error interface.
func (e *WriteConflictError) Error() string {
	return fmt.Sprintf("write conflict on component %s: expected version %d",
		e.ComponentID, e.ExpectedVersion)
}

// Is reports true for any other WriteConflictError, enabling
// errors.Is(err, &WriteConflictError{}) style checks.
func (e *WriteConflictError) Is(target error) bool {
	var t *WriteConflictError
	return errors.As(target, &t)
}

// NewWriteConflictError creates a WriteConflictError for a component.
func NewWriteConflictError(componentID string, expectedVersion uint64) *WriteConflictError {
	return &WriteConflictError{
		ComponentID:     componentID,
		ExpectedVersion: expectedVersion,
	}
}

// IsWriteConflict reports whether err is a write conflict.
func IsWriteConflict(err error) bool {
	var t *WriteConflictError
	return errors.As(err, &t)
}
