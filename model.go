package odm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pytsite/odm/privacy"
	"github.com/pytsite/odm/schema/field"
	"github.com/pytsite/odm/schema/index"
	"github.com/pytsite/odm/schema/mixin"
)

// Names of the built-in fields every model declares.
const (
	FieldID       = "_id"
	FieldModel    = "_model"
	FieldParent   = "_parent"
	FieldChildren = "_children"
	FieldCreated  = "_created"
	FieldModified = "_modified"
)

// Model is the interface implemented by every registered model. Embed
// BaseModel to get the default hook implementations and implement Setup:
//
//	type Article struct{ odm.BaseModel }
//
//	func (Article) Setup(s *odm.Schema) {
//	    s.Field(
//	        field.String("title").NonEmpty(),
//	        field.Int("views"),
//	    )
//	}
//
// A factory returns a fresh Model for every entity, so models may keep
// per-entity state.
type Model interface {
	// Setup declares the fields and indexes of the model.
	Setup(s *Schema)
	// OnFieldSet is called before a value is stored in a field and returns
	// the value to store.
	OnFieldSet(ctx context.Context, e *Entity, name string, v any) (any, error)
	// OnFieldGet is called with the value read from a field and returns the
	// value to hand out. Virtual fields compute their value here.
	OnFieldGet(ctx context.Context, e *Entity, name string, v any) (any, error)
	// OnFieldAdd is called before a value is added to a field.
	OnFieldAdd(ctx context.Context, e *Entity, name string, v any) (any, error)
	// PreSave is called before the document is built.
	PreSave(ctx context.Context, e *Entity) error
	// AfterSave is called after the document is stored.
	AfterSave(ctx context.Context, e *Entity) error
	// PreDelete is called before the document is removed.
	PreDelete(ctx context.Context, e *Entity) error
	// AfterDelete is called after the document is removed.
	AfterDelete(ctx context.Context, e *Entity) error
	// Policy returns the privacy policy of the model, or nil.
	Policy() privacy.QueryMutationRule
}

// BaseModel provides the default implementation of every Model method
// except Setup.
type BaseModel struct{}

// OnFieldSet returns v unchanged.
func (BaseModel) OnFieldSet(_ context.Context, _ *Entity, _ string, v any) (any, error) {
	return v, nil
}

// OnFieldGet returns v unchanged.
func (BaseModel) OnFieldGet(_ context.Context, _ *Entity, _ string, v any) (any, error) {
	return v, nil
}

// OnFieldAdd returns v unchanged.
func (BaseModel) OnFieldAdd(_ context.Context, _ *Entity, _ string, v any) (any, error) {
	return v, nil
}

// PreSave does nothing.
func (BaseModel) PreSave(context.Context, *Entity) error { return nil }

// AfterSave does nothing.
func (BaseModel) AfterSave(context.Context, *Entity) error { return nil }

// PreDelete does nothing.
func (BaseModel) PreDelete(context.Context, *Entity) error { return nil }

// AfterDelete does nothing.
func (BaseModel) AfterDelete(context.Context, *Entity) error { return nil }

// Policy returns nil.
func (BaseModel) Policy() privacy.QueryMutationRule { return nil }

// Op is a mutation operation.
type Op = privacy.Op

// Mutation operations.
const (
	OpCreate = privacy.OpCreate
	OpUpdate = privacy.OpUpdate
	OpDelete = privacy.OpDelete
)

// Schema holds the declared fields and indexes of one entity. Declaration
// errors are collected and reported by Err.
type Schema struct {
	model   string
	fields  []field.Field
	byName  map[string]field.Field
	indexes []*index.Descriptor
	errs    []error
}

func newSchema(model string) *Schema {
	s := &Schema{model: model, byName: make(map[string]field.Field)}
	s.Field(
		field.ID(FieldID),
		field.String(FieldModel).Default(model),
		field.Ref(FieldParent, model),
		field.UniqueRefList(FieldChildren, model),
		field.DateTime(FieldCreated),
		field.DateTime(FieldModified),
	)
	s.Index(
		index.Fields(FieldParent),
		index.Fields(FieldCreated),
		index.Fields(FieldModified),
	)
	return s
}

// Model returns the model name.
func (s *Schema) Model() string { return s.model }

// Field declares fields, in order.
func (s *Schema) Field(fs ...field.Field) {
	for _, f := range fs {
		switch {
		case f == nil:
			s.errs = append(s.errs, schemaErrorf(s.model, "nil field"))
		case f.Err() != nil:
			s.errs = append(s.errs, &SchemaError{Model: s.model, Err: f.Err()})
		case s.byName[f.Name()] != nil:
			s.errs = append(s.errs, schemaErrorf(s.model, "field %q declared twice", f.Name()))
		default:
			s.fields = append(s.fields, f)
			s.byName[f.Name()] = f
		}
	}
}

// Index declares indexes. Every key must name a declared field; this is
// checked once Setup returns.
func (s *Schema) Index(idx ...index.Index) {
	for _, i := range idx {
		d := i.Descriptor()
		if err := d.Err(); err != nil {
			s.errs = append(s.errs, &SchemaError{Model: s.model, Err: err})
			continue
		}
		s.indexes = append(s.indexes, d)
	}
}

// Mixin applies the fields and indexes of mixins.
func (s *Schema) Mixin(ms ...mixin.Mixin) {
	for _, m := range ms {
		s.Field(m.Fields()...)
		s.Index(m.Indexes()...)
	}
}

// Lookup returns a declared field.
func (s *Schema) Lookup(name string) (field.Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// Fields returns the declared fields in declaration order.
func (s *Schema) Fields() []field.Field {
	return append([]field.Field(nil), s.fields...)
}

// Indexes returns the declared indexes.
func (s *Schema) Indexes() []*index.Descriptor {
	return append([]*index.Descriptor(nil), s.indexes...)
}

// Err returns the declaration errors, or nil.
func (s *Schema) Err() error {
	return errors.Join(s.errs...)
}

// validate checks the indexes against the declared fields.
func (s *Schema) validate() error {
	for _, d := range s.indexes {
		for _, key := range d.Fields {
			name, _, _ := strings.Cut(strings.TrimPrefix(key, "-"), ".")
			f, ok := s.byName[name]
			if !ok {
				s.errs = append(s.errs, schemaErrorf(s.model, "index over undeclared field %q", name))
				continue
			}
			if f.Virtual() {
				s.errs = append(s.errs, schemaErrorf(s.model, "index over virtual field %q", name))
			}
		}
	}
	return s.Err()
}

// fieldOf resolves the field of a dotted path. Only the first segment is
// checked; nested keys of dict and list values are free-form.
func (s *Schema) fieldOf(path string) (field.Field, error) {
	name, _, _ := strings.Cut(path, ".")
	f, ok := s.byName[name]
	if !ok {
		return nil, &SchemaError{Model: s.model, Err: fmt.Errorf("%w: %q", ErrUnknownField, name)}
	}
	return f, nil
}
