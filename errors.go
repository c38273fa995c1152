package odm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pytsite/odm/dialect"
	"github.com/pytsite/odm/schema/field"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("odm: entity not found")

	// ErrDeleted is returned when a deleted entity is used.
	ErrDeleted = errors.New("odm: entity is deleted")

	// ErrUnknownModel is returned for model names that are not registered.
	ErrUnknownModel = errors.New("odm: model not registered")

	// ErrUnknownField is returned for field names not declared on a model.
	ErrUnknownField = errors.New("odm: field not defined")

	// ErrHasChildren is returned when deleting an entity that still has children.
	ErrHasChildren = errors.New("odm: entity has children")

	// ErrInvalidReference is returned for values that cannot be turned into a reference.
	ErrInvalidReference = errors.New("odm: invalid reference")
)

// NotFoundError represents an error when an entity is not found.
type NotFoundError struct {
	model string
	id    string
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != "" {
		return fmt.Sprintf("odm: %s not found (id=%s)", e.model, e.id)
	}
	return fmt.Sprintf("odm: %s not found", e.model)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Model returns the model name.
func (e *NotFoundError) Model() string {
	return e.model
}

// ID returns the identifier that was searched for.
func (e *NotFoundError) ID() string {
	return e.id
}

// NewNotFoundError returns a new NotFoundError for the given model and id.
func NewNotFoundError(model, id string) *NotFoundError {
	return &NotFoundError{model: model, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// SchemaError reports a programming error in a model declaration or use:
// unknown or duplicate fields, invalid indexes, duplicate registrations.
type SchemaError struct {
	Model string
	Err   error
}

// Error returns the error string.
func (e *SchemaError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("odm: schema: %v", e.Err)
	}
	return fmt.Sprintf("odm: schema %s: %v", e.Model, e.Err)
}

// Unwrap returns the underlying error.
func (e *SchemaError) Unwrap() error {
	return e.Err
}

func schemaErrorf(model, format string, args ...any) *SchemaError {
	return &SchemaError{Model: model, Err: fmt.Errorf(format, args...)}
}

// IsSchemaError returns true if the error is a SchemaError.
func IsSchemaError(err error) bool {
	if err == nil {
		return false
	}
	var e *SchemaError
	return errors.As(err, &e)
}

// CacheError reports a misuse of the entity cache: a duplicate put or the
// removal of an entity that is not cached.
type CacheError struct {
	Model string
	ID    string
	Op    string
}

// Error returns the error string.
func (e *CacheError) Error() string {
	switch e.Op {
	case "put":
		return fmt.Sprintf("odm: cache: %s:%s is already cached", e.Model, e.ID)
	case "remove":
		if e.ID == "" {
			return fmt.Sprintf("odm: cache: cannot remove a new %s", e.Model)
		}
		return fmt.Sprintf("odm: cache: %s:%s is not cached", e.Model, e.ID)
	}
	return fmt.Sprintf("odm: cache: %s %s:%s", e.Op, e.Model, e.ID)
}

// IsCacheError returns true if the error is a CacheError.
func IsCacheError(err error) bool {
	if err == nil {
		return false
	}
	var e *CacheError
	return errors.As(err, &e)
}

// ValidationError represents a validation error for field values.
type ValidationError = field.ValidationError

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	return field.IsValidationError(err)
}

// IsConstraintError returns true if the error is a storage constraint violation.
func IsConstraintError(err error) bool {
	return dialect.IsConstraintError(err)
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "odm: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("odm: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}

// QueryError wraps a query error with additional context.
type QueryError struct {
	Model string // Model being queried
	Op    string // Operation (e.g., "find", "count")
	Err   error  // Underlying error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("odm: querying %s (%s): %v", e.Model, e.Op, e.Err)
	}
	return fmt.Sprintf("odm: querying %s: %v", e.Model, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// NewQueryError returns a new QueryError.
func NewQueryError(model, op string, err error) *QueryError {
	return &QueryError{Model: model, Op: op, Err: err}
}

// IsQueryError returns true if the error is a QueryError.
func IsQueryError(err error) bool {
	if err == nil {
		return false
	}
	var e *QueryError
	return errors.As(err, &e)
}

// MutationError wraps an error returned by a model hook during a save or
// delete. Storage errors are never wrapped.
type MutationError struct {
	Model string // Model being mutated
	Op    string // Operation (e.g., "create", "update", "delete")
	Err   error  // Underlying error
}

// Error returns the error string.
func (e *MutationError) Error() string {
	return fmt.Sprintf("odm: %s %s: %v", e.Op, e.Model, e.Err)
}

// Unwrap returns the underlying error.
func (e *MutationError) Unwrap() error {
	return e.Err
}

// NewMutationError returns a new MutationError.
func NewMutationError(model, op string, err error) *MutationError {
	return &MutationError{Model: model, Op: op, Err: err}
}

// IsMutationError returns true if the error is a MutationError.
func IsMutationError(err error) bool {
	if err == nil {
		return false
	}
	var e *MutationError
	return errors.As(err, &e)
}

// PrivacyError represents a privacy policy violation.
type PrivacyError struct {
	Model string // Model name
	Op    string // Operation (query or mutation)
	Err   error  // Decision returned by the policy
}

// Error returns the error string.
func (e *PrivacyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("odm: privacy denied %s on %s: %v", e.Op, e.Model, e.Err)
	}
	return fmt.Sprintf("odm: privacy denied %s on %s", e.Op, e.Model)
}

// Unwrap returns the policy decision.
func (e *PrivacyError) Unwrap() error {
	return e.Err
}

// NewPrivacyError returns a new PrivacyError.
func NewPrivacyError(model, op string, err error) *PrivacyError {
	return &PrivacyError{Model: model, Op: op, Err: err}
}

// IsPrivacyError returns true if the error is a PrivacyError.
func IsPrivacyError(err error) bool {
	if err == nil {
		return false
	}
	var e *PrivacyError
	return errors.As(err, &e)
}
