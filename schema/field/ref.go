package field

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/pytsite/odm/dialect"
)

// AnyModel allows references to entities of every model.
const AnyModel = "*"

// refRules holds the target constraint shared by reference fields.
type refRules struct {
	models []string
}

func (r *refRules) allows(model string) bool {
	return slices.Contains(r.models, AnyModel) || slices.Contains(r.models, model)
}

// normalizeRef converts v to a handle and checks the target model.
func (f *base) normalizeRef(r *refRules, v any) (dialect.Ref, error) {
	if f.resolver == nil {
		// Handles are accepted as is until a resolver is attached.
		if ref, ok := v.(dialect.Ref); ok {
			return ref, nil
		}
		return dialect.Ref{}, f.invalid(ErrNoResolver)
	}
	ref, model, err := f.resolver.Normalize(v)
	if err != nil {
		return dialect.Ref{}, f.invalid(err)
	}
	if !r.allows(model) {
		return dialect.Ref{}, f.invalid(fmt.Errorf("%w: %q, expected one of %v", ErrModelNotAllowed, model, r.models))
	}
	return ref, nil
}

// RefField holds a reference to one entity. Reading the field
// dereferences it; a reference whose target is gone is reset to empty.
type RefField struct {
	base
	refRules
	value dialect.Ref
}

// Ref returns a new reference field to entities of the given models.
// Use AnyModel to allow every model.
func Ref(name string, models ...string) *RefField {
	f := &RefField{base: newBase(name, TypeRef), refRules: refRules{models: models}}
	if len(models) == 0 {
		f.fail(fmt.Errorf("field: %s: reference without target model", name))
	}
	return f
}

// Models adds allowed target models.
func (f *RefField) Models(names ...string) *RefField {
	f.models = append(f.models, names...)
	return f
}

// NonEmpty requires the field to hold a reference when saved.
func (f *RefField) NonEmpty() *RefField {
	f.nonEmpty = true
	return f
}

// Required is an alias of NonEmpty.
func (f *RefField) Required() *RefField { return f.NonEmpty() }

// Value returns the stored handle.
func (f *RefField) Value() dialect.Ref { return f.value }

// Get implements the Field interface. It returns the target as a
// Referable, or nil if the field is empty or the target is gone. With
// the Handles option the stored handle is returned instead.
func (f *RefField) Get(ctx context.Context, opts ...GetOption) (any, error) {
	if NewGetOptions(opts...).Handles {
		return f.value, nil
	}
	if f.value.IsZero() {
		return nil, nil
	}
	if f.resolver == nil {
		return nil, f.invalid(ErrNoResolver)
	}
	targets, err := f.resolver.Dereference(ctx, []dialect.Ref{f.value})
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 || targets[0] == nil {
		// Self-heal the broken reference.
		f.value = dialect.Ref{}
		f.touch(true)
		return nil, nil
	}
	return targets[0], nil
}

// Set implements the Field interface. It accepts entities, "model:id"
// strings and handles; nil resets the field.
func (f *RefField) Set(v any, track bool) error {
	if v == nil || v == "" {
		f.value = dialect.Ref{}
		f.touch(track)
		return nil
	}
	ref, err := f.normalizeRef(&f.refRules, v)
	if err != nil {
		return err
	}
	f.value = ref
	f.touch(track)
	return nil
}

// Storable implements the Field interface.
func (f *RefField) Storable() (any, error) {
	if f.value.IsZero() {
		return f.storable(nil, true)
	}
	return f.value, nil
}

// IsEmpty implements the Field interface.
func (f *RefField) IsEmpty() bool { return f.value.IsZero() }

// RefListField holds an ordered list of references. Reading the field
// dereferences every handle in one batch and leaves out the targets that
// are gone, without changing the stored list.
type RefListField struct {
	base
	refRules
	value    []dialect.Ref
	unique   bool
	sortBy   string
	sortDesc bool
}

// RefList returns a new reference list field to entities of the given models.
func RefList(name string, models ...string) *RefListField {
	f := &RefListField{base: newBase(name, TypeRefList), refRules: refRules{models: models}, value: []dialect.Ref{}}
	if len(models) == 0 {
		f.fail(fmt.Errorf("field: %s: reference without target model", name))
	}
	return f
}

// UniqueRefList returns a new reference list field without duplicates.
func UniqueRefList(name string, models ...string) *RefListField {
	f := RefList(name, models...)
	f.typ = TypeUniqueRefList
	f.unique = true
	return f
}

// Models adds allowed target models.
func (f *RefListField) Models(names ...string) *RefListField {
	f.models = append(f.models, names...)
	return f
}

// NonEmpty requires the list to hold at least one reference when saved.
func (f *RefListField) NonEmpty() *RefListField {
	f.nonEmpty = true
	return f
}

// SortBy orders the dereferenced targets by one of their fields.
func (f *RefListField) SortBy(name string, desc bool) *RefListField {
	if !nameRe.MatchString(name) {
		f.fail(fmt.Errorf("field: %s: invalid sort field %q", f.name, name))
	}
	f.sortBy, f.sortDesc = name, desc
	return f
}

// Value returns a copy of the stored handles.
func (f *RefListField) Value() []dialect.Ref { return slices.Clone(f.value) }

// Get implements the Field interface. It returns the targets as a
// []Referable. With the Handles option the stored handles are returned.
func (f *RefListField) Get(ctx context.Context, opts ...GetOption) (any, error) {
	if NewGetOptions(opts...).Handles {
		return slices.Clone(f.value), nil
	}
	if len(f.value) == 0 {
		return []Referable{}, nil
	}
	if f.resolver == nil {
		return nil, f.invalid(ErrNoResolver)
	}
	targets, err := f.resolver.Dereference(ctx, f.value)
	if err != nil {
		return nil, err
	}
	out := make([]Referable, 0, len(targets))
	for _, t := range targets {
		if t != nil {
			out = append(out, t)
		}
	}
	if f.sortBy != "" {
		if err := f.sort(ctx, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (f *RefListField) sort(ctx context.Context, targets []Referable) error {
	keys := make(map[dialect.Ref]any, len(targets))
	for _, t := range targets {
		v, err := t.Get(ctx, f.sortBy)
		if err != nil {
			return fmt.Errorf("field: %s: sort by %s: %w", f.name, f.sortBy, err)
		}
		keys[t.Reference()] = v
	}
	sort.SliceStable(targets, func(i, j int) bool {
		c := dialect.Compare(keys[targets[i].Reference()], keys[targets[j].Reference()])
		if f.sortDesc {
			return c > 0
		}
		return c < 0
	})
	return nil
}

// Set implements the Field interface. It accepts a slice of values
// accepted by RefField.Set; nil empties the list.
func (f *RefListField) Set(v any, track bool) error {
	vs, err := dialect.ListValue(v)
	if err != nil {
		return f.typeError(v)
	}
	refs := make([]dialect.Ref, 0, len(vs))
	for _, e := range vs {
		ref, err := f.normalizeRef(&f.refRules, e)
		if err != nil {
			return err
		}
		refs = append(refs, ref)
	}
	f.value = f.dedupe(refs)
	f.touch(track)
	return nil
}

// Add appends a reference to the list.
func (f *RefListField) Add(v any) error {
	ref, err := f.normalizeRef(&f.refRules, v)
	if err != nil {
		return err
	}
	f.value = f.dedupe(append(slices.Clone(f.value), ref))
	f.touch(true)
	return nil
}

// Remove removes every occurrence of a reference from the list.
func (f *RefListField) Remove(v any) error {
	ref, err := f.normalizeRef(&f.refRules, v)
	if err != nil {
		return err
	}
	n := len(f.value)
	f.value = slices.DeleteFunc(slices.Clone(f.value), func(r dialect.Ref) bool { return r == ref })
	if len(f.value) != n {
		f.touch(true)
	}
	return nil
}

func (f *RefListField) dedupe(refs []dialect.Ref) []dialect.Ref {
	if !f.unique {
		return refs
	}
	seen := make(map[dialect.Ref]struct{}, len(refs))
	out := refs[:0]
	for _, r := range refs {
		if _, ok := seen[r]; !ok {
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

// Storable implements the Field interface.
func (f *RefListField) Storable() (any, error) {
	return f.storable(slices.Clone(f.value), f.IsEmpty())
}

// IsEmpty implements the Field interface.
func (f *RefListField) IsEmpty() bool { return len(f.value) == 0 }

var (
	_ Field = (*RefField)(nil)
	_ Field = (*RefListField)(nil)
)
