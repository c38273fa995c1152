package field

import (
	"context"
	"fmt"
	"slices"
	"unicode/utf8"
)

// IDField holds the document identifier. Once set, the identifier
// cannot be changed.
type IDField struct {
	base
	value string
}

// ID returns a new identifier field.
func ID(name string) *IDField {
	return &IDField{base: newBase(name, TypeID)}
}

// Get implements the Field interface.
func (f *IDField) Get(context.Context, ...GetOption) (any, error) { return f.value, nil }

// Value returns the identifier.
func (f *IDField) Value() string { return f.value }

// Set implements the Field interface.
func (f *IDField) Set(v any, track bool) error {
	s, ok := toString(v)
	if !ok {
		return f.typeError(v)
	}
	if f.value != "" && s != f.value {
		return f.invalid(fmt.Errorf("%w: identifier already set", ErrInvalidValue))
	}
	if s != f.value {
		f.touch(track)
	}
	f.value = s
	return nil
}

// Storable implements the Field interface.
func (f *IDField) Storable() (any, error) { return f.value, nil }

// IsEmpty implements the Field interface.
func (f *IDField) IsEmpty() bool { return f.value == "" }

// StringField holds a string. The value is never nil and is stored in
// Unicode normalization form C.
type StringField struct {
	base
	value  string
	maxLen int
}

// String returns a new string field.
func String(name string) *StringField {
	return &StringField{base: newBase(name, TypeString)}
}

// Default sets the default value of the field.
func (f *StringField) Default(s string) *StringField {
	f.value, _ = toString(s)
	return f
}

// NonEmpty requires the field to hold a non-empty string when saved.
func (f *StringField) NonEmpty() *StringField {
	f.nonEmpty = true
	return f
}

// Required is an alias of NonEmpty.
func (f *StringField) Required() *StringField { return f.NonEmpty() }

// MaxLength limits the number of characters of the value.
// Zero means no limit.
func (f *StringField) MaxLength(n int) *StringField {
	if n < 0 {
		f.fail(fmt.Errorf("field: %s: negative max length %d", f.name, n))
	}
	f.maxLen = n
	return f
}

// Get implements the Field interface.
func (f *StringField) Get(context.Context, ...GetOption) (any, error) { return f.value, nil }

// Set implements the Field interface.
func (f *StringField) Set(v any, track bool) error {
	s, ok := toString(v)
	if !ok {
		return f.typeError(v)
	}
	if f.maxLen > 0 && utf8.RuneCountInString(s) > f.maxLen {
		return f.invalid(fmt.Errorf("%w: longer than %d characters", ErrInvalidValue, f.maxLen))
	}
	f.value = s
	f.touch(track)
	return nil
}

// Storable implements the Field interface.
func (f *StringField) Storable() (any, error) { return f.storable(f.value, f.IsEmpty()) }

// IsEmpty implements the Field interface.
func (f *StringField) IsEmpty() bool { return f.value == "" }

// EnumField holds a string restricted to a set of values. The empty
// string is always accepted and stands for "not set".
type EnumField struct {
	base
	value  string
	values []string
}

// Enum returns a new enum field.
func Enum(name string) *EnumField {
	return &EnumField{base: newBase(name, TypeEnum)}
}

// Values sets the accepted values.
func (f *EnumField) Values(vs ...string) *EnumField {
	f.values = append(f.values, vs...)
	return f
}

// Default sets the default value of the field.
func (f *EnumField) Default(s string) *EnumField {
	if !slices.Contains(f.values, s) {
		f.fail(fmt.Errorf("field: %s: default %q is not one of %v", f.name, s, f.values))
	}
	f.value = s
	return f
}

// NonEmpty requires the field to hold a value when saved.
func (f *EnumField) NonEmpty() *EnumField {
	f.nonEmpty = true
	return f
}

// Err implements the Field interface.
func (f *EnumField) Err() error {
	if f.err == nil && len(f.values) == 0 {
		return fmt.Errorf("field: %s: enum without values", f.name)
	}
	return f.err
}

// Get implements the Field interface.
func (f *EnumField) Get(context.Context, ...GetOption) (any, error) { return f.value, nil }

// Set implements the Field interface.
func (f *EnumField) Set(v any, track bool) error {
	s, ok := toString(v)
	if !ok {
		return f.typeError(v)
	}
	if s != "" && !slices.Contains(f.values, s) {
		return f.invalid(fmt.Errorf("%w: %q is not one of %v", ErrInvalidValue, s, f.values))
	}
	f.value = s
	f.touch(track)
	return nil
}

// Storable implements the Field interface.
func (f *EnumField) Storable() (any, error) { return f.storable(f.value, f.IsEmpty()) }

// IsEmpty implements the Field interface.
func (f *EnumField) IsEmpty() bool { return f.value == "" }

// IntField holds a 64-bit integer.
type IntField struct {
	base
	value    int64
	min, max *int64
}

// Int returns a new integer field.
func Int(name string) *IntField {
	return &IntField{base: newBase(name, TypeInt)}
}

// Default sets the default value of the field.
func (f *IntField) Default(n int64) *IntField {
	f.value = n
	return f
}

// NonEmpty requires the field to be non-zero when saved.
func (f *IntField) NonEmpty() *IntField {
	f.nonEmpty = true
	return f
}

// Min sets the smallest accepted value.
func (f *IntField) Min(n int64) *IntField {
	f.min = &n
	f.checkRange()
	return f
}

// Max sets the largest accepted value.
func (f *IntField) Max(n int64) *IntField {
	f.max = &n
	f.checkRange()
	return f
}

func (f *IntField) checkRange() {
	if f.min != nil && f.max != nil && *f.min > *f.max {
		f.fail(fmt.Errorf("field: %s: min %d greater than max %d", f.name, *f.min, *f.max))
	}
}

func (f *IntField) validate(n int64) error {
	if f.min != nil && n < *f.min {
		return f.invalid(fmt.Errorf("%w: %d is less than %d", ErrInvalidValue, n, *f.min))
	}
	if f.max != nil && n > *f.max {
		return f.invalid(fmt.Errorf("%w: %d is greater than %d", ErrInvalidValue, n, *f.max))
	}
	return nil
}

// Get implements the Field interface.
func (f *IntField) Get(context.Context, ...GetOption) (any, error) { return f.value, nil }

// Set implements the Field interface.
func (f *IntField) Set(v any, track bool) error {
	n, ok := toInt64(v)
	if !ok {
		return f.typeError(v)
	}
	if err := f.validate(n); err != nil {
		return err
	}
	f.value = n
	f.touch(track)
	return nil
}

// Add implements the Field interface.
func (f *IntField) Add(v any) error {
	n, ok := toInt64(v)
	if !ok {
		return f.typeError(v)
	}
	return f.Set(f.value+n, true)
}

// Inc implements the Field interface.
func (f *IntField) Inc() error { return f.Add(1) }

// Dec implements the Field interface.
func (f *IntField) Dec() error { return f.Add(-1) }

// Storable implements the Field interface.
func (f *IntField) Storable() (any, error) { return f.storable(f.value, f.IsEmpty()) }

// IsEmpty implements the Field interface.
func (f *IntField) IsEmpty() bool { return f.value == 0 }

// FloatField holds a 64-bit floating point number.
type FloatField struct {
	base
	value    float64
	min, max *float64
}

// Float returns a new float field.
func Float(name string) *FloatField {
	return &FloatField{base: newBase(name, TypeFloat)}
}

// Default sets the default value of the field.
func (f *FloatField) Default(n float64) *FloatField {
	f.value = n
	return f
}

// NonEmpty requires the field to be non-zero when saved.
func (f *FloatField) NonEmpty() *FloatField {
	f.nonEmpty = true
	return f
}

// Min sets the smallest accepted value.
func (f *FloatField) Min(n float64) *FloatField {
	f.min = &n
	f.checkRange()
	return f
}

// Max sets the largest accepted value.
func (f *FloatField) Max(n float64) *FloatField {
	f.max = &n
	f.checkRange()
	return f
}

func (f *FloatField) checkRange() {
	if f.min != nil && f.max != nil && *f.min > *f.max {
		f.fail(fmt.Errorf("field: %s: min %v greater than max %v", f.name, *f.min, *f.max))
	}
}

func (f *FloatField) validate(n float64) error {
	if f.min != nil && n < *f.min {
		return f.invalid(fmt.Errorf("%w: %v is less than %v", ErrInvalidValue, n, *f.min))
	}
	if f.max != nil && n > *f.max {
		return f.invalid(fmt.Errorf("%w: %v is greater than %v", ErrInvalidValue, n, *f.max))
	}
	return nil
}

// Get implements the Field interface.
func (f *FloatField) Get(context.Context, ...GetOption) (any, error) { return f.value, nil }

// Set implements the Field interface.
func (f *FloatField) Set(v any, track bool) error {
	n, ok := toFloat64(v)
	if !ok {
		return f.typeError(v)
	}
	if err := f.validate(n); err != nil {
		return err
	}
	f.value = n
	f.touch(track)
	return nil
}

// Add implements the Field interface.
func (f *FloatField) Add(v any) error {
	n, ok := toFloat64(v)
	if !ok {
		return f.typeError(v)
	}
	return f.Set(f.value+n, true)
}

// Inc implements the Field interface.
func (f *FloatField) Inc() error { return f.Add(1.0) }

// Dec implements the Field interface.
func (f *FloatField) Dec() error { return f.Add(-1.0) }

// Storable implements the Field interface.
func (f *FloatField) Storable() (any, error) { return f.storable(f.value, f.IsEmpty()) }

// IsEmpty implements the Field interface.
func (f *FloatField) IsEmpty() bool { return f.value == 0 }

// BoolField holds a boolean.
type BoolField struct {
	base
	value bool
}

// Bool returns a new boolean field.
func Bool(name string) *BoolField {
	return &BoolField{base: newBase(name, TypeBool)}
}

// Default sets the default value of the field.
func (f *BoolField) Default(b bool) *BoolField {
	f.value = b
	return f
}

// Get implements the Field interface.
func (f *BoolField) Get(context.Context, ...GetOption) (any, error) { return f.value, nil }

// Set implements the Field interface.
func (f *BoolField) Set(v any, track bool) error {
	b, ok := toBool(v)
	if !ok {
		return f.typeError(v)
	}
	f.value = b
	f.touch(track)
	return nil
}

// Storable implements the Field interface.
func (f *BoolField) Storable() (any, error) { return f.value, nil }

// IsEmpty implements the Field interface.
func (f *BoolField) IsEmpty() bool { return !f.value }

// VirtualField holds no value. It exists so that an entity's get hook
// can compute a derived value for it.
type VirtualField struct {
	base
}

// Virtual returns a new virtual field.
func Virtual(name string) *VirtualField {
	return &VirtualField{base: newBase(name, TypeVirtual)}
}

// Get implements the Field interface.
func (f *VirtualField) Get(context.Context, ...GetOption) (any, error) { return nil, nil }

// Set implements the Field interface. Values are discarded.
func (f *VirtualField) Set(any, bool) error { return nil }

// Storable implements the Field interface.
func (f *VirtualField) Storable() (any, error) { return nil, nil }

// IsEmpty implements the Field interface.
func (f *VirtualField) IsEmpty() bool { return true }

// Virtual implements the Field interface.
func (f *VirtualField) Virtual() bool { return true }

var (
	_ Field = (*IDField)(nil)
	_ Field = (*StringField)(nil)
	_ Field = (*EnumField)(nil)
	_ Field = (*IntField)(nil)
	_ Field = (*FloatField)(nil)
	_ Field = (*BoolField)(nil)
	_ Field = (*VirtualField)(nil)
)
