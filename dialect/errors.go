package dialect

import (
	"errors"
	"fmt"
)

// ConstraintError represents a storage constraint violation, such as a
// duplicate value in a unique index.
type ConstraintError struct {
	Collection string
	Index      string
	Err        error // Underlying driver error, if any.
}

// Error returns the error string.
func (e *ConstraintError) Error() string {
	msg := fmt.Sprintf("dialect: constraint failed on %s", e.Collection)
	if e.Index != "" {
		msg += fmt.Sprintf(" (index %s)", e.Index)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ConstraintError) Unwrap() error {
	return e.Err
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConstraintError
	return errors.As(err, &e)
}
