package field

import (
	"context"
	"fmt"
	"slices"

	"github.com/pytsite/odm/dialect"
)

// ListField holds an ordered list of values. A unique list drops
// duplicates on every mutation, keeping the first occurrence.
type ListField struct {
	base
	value  []any
	unique bool
}

// List returns a new list field.
func List(name string) *ListField {
	return &ListField{base: newBase(name, TypeList), value: []any{}}
}

// UniqueList returns a new list field without duplicates.
func UniqueList(name string) *ListField {
	return &ListField{base: newBase(name, TypeUniqueList), value: []any{}, unique: true}
}

// Default sets the default value of the field.
func (f *ListField) Default(vs ...any) *ListField {
	l, ok := toList(vs)
	if !ok {
		f.fail(fmt.Errorf("field: %s: invalid default", f.name))
	}
	f.value = f.dedupe(l)
	return f
}

// NonEmpty requires the list to hold at least one value when saved.
func (f *ListField) NonEmpty() *ListField {
	f.nonEmpty = true
	return f
}

// Get implements the Field interface. The returned slice is a copy.
func (f *ListField) Get(context.Context, ...GetOption) (any, error) {
	return dialect.CloneValue(f.value), nil
}

// Set implements the Field interface.
func (f *ListField) Set(v any, track bool) error {
	l, ok := toList(v)
	if !ok {
		return f.typeError(v)
	}
	f.value = f.dedupe(l)
	f.touch(track)
	return nil
}

// Add appends v to the list.
func (f *ListField) Add(v any) error {
	l := append(slices.Clone(f.value), dialect.FromWire(dialect.CloneValue(v)))
	f.value = f.dedupe(l)
	f.touch(true)
	return nil
}

func (f *ListField) dedupe(l []any) []any {
	if !f.unique {
		return l
	}
	out := make([]any, 0, len(l))
	for _, v := range l {
		if !slices.ContainsFunc(out, func(e any) bool { return dialect.Equal(e, v) }) {
			out = append(out, v)
		}
	}
	return out
}

// Storable implements the Field interface.
func (f *ListField) Storable() (any, error) {
	return f.storable(dialect.CloneValue(f.value), f.IsEmpty())
}

// IsEmpty implements the Field interface.
func (f *ListField) IsEmpty() bool { return len(f.value) == 0 }

// DictField holds a mapping of string keys to values. Declared keys must
// be present, and declared non-empty keys must hold non-empty values.
type DictField struct {
	base
	value     map[string]any
	keys      []string
	nonEmptyK []string
}

// Dict returns a new dict field.
func Dict(name string) *DictField {
	return &DictField{base: newBase(name, TypeDict), value: map[string]any{}}
}

// Default sets the default value of the field.
func (f *DictField) Default(m map[string]any) *DictField {
	d, _ := toDict(m)
	f.value = d
	return f
}

// NonEmpty requires the dict to hold at least one key when saved.
func (f *DictField) NonEmpty() *DictField {
	f.nonEmpty = true
	return f
}

// Keys declares keys that must be present.
func (f *DictField) Keys(names ...string) *DictField {
	f.keys = append(f.keys, names...)
	return f
}

// NonEmptyKeys declares keys that must be present with a non-empty value.
func (f *DictField) NonEmptyKeys(names ...string) *DictField {
	f.nonEmptyK = append(f.nonEmptyK, names...)
	return f
}

// Get implements the Field interface. The returned map is a copy.
func (f *DictField) Get(context.Context, ...GetOption) (any, error) {
	return dialect.CloneValue(f.value), nil
}

// Set implements the Field interface.
func (f *DictField) Set(v any, track bool) error {
	d, ok := toDict(v)
	if !ok {
		return f.typeError(v)
	}
	for _, k := range f.keys {
		if _, ok := d[k]; !ok {
			return f.invalid(fmt.Errorf("%w %q", ErrMissingKey, k))
		}
	}
	for _, k := range f.nonEmptyK {
		if e, ok := d[k]; !ok || isEmptyValue(e) {
			return f.invalid(fmt.Errorf("%w %q: value cannot be empty", ErrMissingKey, k))
		}
	}
	f.value = d
	f.touch(track)
	return nil
}

// Storable implements the Field interface.
func (f *DictField) Storable() (any, error) {
	return f.storable(dialect.CloneValue(f.value), f.IsEmpty())
}

// IsEmpty implements the Field interface.
func (f *DictField) IsEmpty() bool { return len(f.value) == 0 }

var (
	_ Field = (*ListField)(nil)
	_ Field = (*DictField)(nil)
)
