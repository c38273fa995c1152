package field

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/pytsite/odm/dialect"
)

// Type is the type of a field.
type Type uint8

// Field types.
const (
	TypeInvalid Type = iota
	TypeID
	TypeString
	TypeEnum
	TypeInt
	TypeFloat
	TypeBool
	TypeDateTime
	TypeList
	TypeUniqueList
	TypeDict
	TypeRef
	TypeRefList
	TypeUniqueRefList
	TypeVirtual
	endTypes
)

var typeNames = [...]string{
	TypeInvalid:       "invalid",
	TypeID:            "id",
	TypeString:        "string",
	TypeEnum:          "enum",
	TypeInt:           "int",
	TypeFloat:         "float",
	TypeBool:          "bool",
	TypeDateTime:      "datetime",
	TypeList:          "list",
	TypeUniqueList:    "unique_list",
	TypeDict:          "dict",
	TypeRef:           "ref",
	TypeRefList:       "ref_list",
	TypeUniqueRefList: "unique_ref_list",
	TypeVirtual:       "virtual",
}

// String returns the string representation of a type.
func (t Type) String() string {
	if t < endTypes {
		return typeNames[t]
	}
	return typeNames[TypeInvalid]
}

// Valid reports if the given type if known type.
func (t Type) Valid() bool {
	return t > TypeInvalid && t < endTypes
}

// IsReference reports if the type holds reference handles.
func (t Type) IsReference() bool {
	return t == TypeRef || t == TypeRefList || t == TypeUniqueRefList
}

// A Field is one typed, named value holder of an entity. Fields are not
// safe for concurrent use; the owning entity serializes access to them.
type Field interface {
	// Name returns the field name.
	Name() string
	// Type returns the field type.
	Type() Type
	// Err returns the first error recorded while the field was declared.
	Err() error
	// Attach sets the resolver used by reference fields.
	Attach(r Resolver)
	// Get returns the current value. Reference fields dereference their
	// handles here.
	Get(ctx context.Context, opts ...GetOption) (any, error)
	// Set coerces and stores v. The field is marked as modified unless
	// track is false, which is used when loading from storage.
	Set(v any, track bool) error
	// Storable returns the value to persist. It fails with a
	// *ValidationError wrapping ErrEmpty if the field is non-empty but empty.
	Storable() (any, error)
	// Add adds v to the value of numeric and list fields.
	Add(v any) error
	// Inc increments numeric fields.
	Inc() error
	// Dec decrements numeric fields.
	Dec() error
	// Modified reports whether the value changed since the last reset.
	Modified() bool
	// ResetModified clears the modified flag.
	ResetModified()
	// IsEmpty reports whether the value is the empty value of the type.
	IsEmpty() bool
	// Virtual reports whether the field holds no stored value.
	Virtual() bool
	// OnEntityDelete is called when the owning entity is being deleted.
	OnEntityDelete(ctx context.Context) error
}

// Resolver converts between values and reference handles. It is
// implemented by the ODM manager and attached to every field of an entity.
type Resolver interface {
	// Normalize converts an entity, a "model:id" string or a dialect.Ref
	// to a handle and returns the model name of its target.
	Normalize(v any) (dialect.Ref, string, error)
	// Dereference resolves handles to their targets. The result has one
	// slot per handle; a nil slot means the target does not exist anymore.
	Dereference(ctx context.Context, refs []dialect.Ref) ([]Referable, error)
}

// Referable is the target of a reference.
type Referable interface {
	Reference() dialect.Ref
	Model() string
	Get(ctx context.Context, name string, opts ...GetOption) (any, error)
}

// Format selects how a value is rendered by Get.
type Format uint8

// Formats.
const (
	FormatRaw Format = iota
	FormatAgo
	FormatPrettyDate
	FormatPrettyDateTime
	FormatLayout
)

// GetOptions holds the options of a Get call.
type GetOptions struct {
	Format  Format
	Layout  string
	Handles bool
}

// GetOption configures a Get call.
type GetOption func(*GetOptions)

// NewGetOptions applies opts to a zero GetOptions.
func NewGetOptions(opts ...GetOption) GetOptions {
	var o GetOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Raw returns the value as stored. This is the default.
func Raw() GetOption {
	return func(o *GetOptions) { o.Format = FormatRaw }
}

// Ago renders a time as a relative string, e.g. "3 hours ago".
func Ago() GetOption {
	return func(o *GetOptions) { o.Format = FormatAgo }
}

// PrettyDate renders a time as a date, e.g. "2 January 2006".
func PrettyDate() GetOption {
	return func(o *GetOptions) { o.Format = FormatPrettyDate }
}

// PrettyDateTime renders a time as a date and a time, e.g. "2 January 2006, 15:04".
func PrettyDateTime() GetOption {
	return func(o *GetOptions) { o.Format = FormatPrettyDateTime }
}

// Layout renders a time with the given time.Format layout.
func Layout(layout string) GetOption {
	return func(o *GetOptions) {
		o.Format = FormatLayout
		o.Layout = layout
	}
}

// Handles makes reference fields return their handles instead of
// dereferencing them.
func Handles() GetOption {
	return func(o *GetOptions) { o.Handles = true }
}

// Field errors.
var (
	ErrInvalidType     = errors.New("invalid type for field")
	ErrInvalidValue    = errors.New("invalid value")
	ErrEmpty           = errors.New("field cannot be empty")
	ErrMissingKey      = errors.New("missing required key")
	ErrNotImplemented  = errors.New("not implemented")
	ErrModelNotAllowed = errors.New("model not allowed")
	ErrNoResolver      = errors.New("no reference resolver attached")
)

// ValidationError is returned when a value does not satisfy the rules of
// a field.
type ValidationError struct {
	Field string
	Err   error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError returns a boolean indicating whether the error is a validation error.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ValidationError
	return errors.As(err, &e)
}

// nameRe matches valid field names.
var nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// base holds the state shared by all field types.
type base struct {
	name     string
	typ      Type
	nonEmpty bool
	modified bool
	err      error
	resolver Resolver
}

func newBase(name string, t Type) base {
	b := base{name: name, typ: t}
	if !nameRe.MatchString(name) {
		b.fail(fmt.Errorf("field: invalid name %q", name))
	}
	return b
}

func (b *base) Name() string      { return b.name }
func (b *base) Type() Type        { return b.typ }
func (b *base) Err() error        { return b.err }
func (b *base) Attach(r Resolver) { b.resolver = r }
func (b *base) Modified() bool    { return b.modified }
func (b *base) ResetModified()    { b.modified = false }
func (b *base) Virtual() bool     { return false }

func (b *base) Add(any) error { return b.invalid(fmt.Errorf("add: %w", ErrNotImplemented)) }
func (b *base) Inc() error    { return b.invalid(fmt.Errorf("inc: %w", ErrNotImplemented)) }
func (b *base) Dec() error    { return b.invalid(fmt.Errorf("dec: %w", ErrNotImplemented)) }

func (b *base) OnEntityDelete(context.Context) error { return nil }

// fail records the first declaration error.
func (b *base) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// invalid wraps err in a *ValidationError of the field.
func (b *base) invalid(err error) error {
	return &ValidationError{Field: b.name, Err: err}
}

// typeError reports a value of an unsupported type.
func (b *base) typeError(v any) error {
	return b.invalid(fmt.Errorf("%w %s: %T", ErrInvalidType, b.typ, v))
}

// storable returns v, or an ErrEmpty validation error when the field is
// declared non-empty and empty is true.
func (b *base) storable(v any, empty bool) (any, error) {
	if b.nonEmpty && empty {
		return nil, b.invalid(ErrEmpty)
	}
	return v, nil
}

// touch marks the field as modified when track is set.
func (b *base) touch(track bool) {
	if track {
		b.modified = true
	}
}
