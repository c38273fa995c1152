package odm

import (
	"context"
	"fmt"
	"sync"

	"github.com/pytsite/odm/dialect"
	"github.com/pytsite/odm/privacy"
	"github.com/pytsite/odm/schema/field"
)

// Entity is one document-backed instance of a registered model.
//
// Every field access, Save and Delete runs under a per-entity lock. The
// lock is reentrant along a context chain: hooks and event handlers receive
// a context marking the lock as held, and calls made with that context do
// not block. Passing such a context to another goroutine hands over the
// lock as well.
type Entity struct {
	mgr    *Manager
	info   *modelInfo
	impl   Model
	schema *Schema
	sem    chan struct{}

	mu        sync.Mutex // guards the fields below
	id        string
	isNew     bool
	isDeleted bool
}

type heldKey struct{ e *Entity }

// lock acquires the entity lock unless ctx already holds it. The returned
// context marks the lock as held.
func (e *Entity) lock(ctx context.Context) (context.Context, func(), error) {
	if ctx.Value(heldKey{e}) != nil {
		return ctx, func() {}, nil
	}
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	return context.WithValue(ctx, heldKey{e}, true), func() { <-e.sem }, nil
}

// ID returns the identifier of the entity, or "" while it is new.
func (e *Entity) ID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

// Model returns the model name.
func (e *Entity) Model() string { return e.info.name }

// Collection returns the name of the backing collection.
func (e *Entity) Collection() string { return e.info.collection }

// Reference returns the handle of the entity.
func (e *Entity) Reference() dialect.Ref {
	return dialect.Ref{Collection: e.info.collection, ID: e.ID()}
}

// String implements the fmt.Stringer interface.
func (e *Entity) String() string {
	if id := e.ID(); id != "" {
		return e.info.name + ":" + id
	}
	return e.info.name + ":<new>"
}

// IsNew reports whether the entity was never saved.
func (e *Entity) IsNew() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isNew
}

// IsDeleted reports whether the entity was deleted.
func (e *Entity) IsDeleted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isDeleted
}

// IsModified reports whether the entity has unsaved changes. New entities
// are always modified. It returns false if ctx is done before the lock is
// acquired.
func (e *Entity) IsModified(ctx context.Context) bool {
	_, unlock, err := e.lock(ctx)
	if err != nil {
		return false
	}
	defer unlock()
	return e.modified()
}

func (e *Entity) modified() bool {
	if e.IsNew() {
		return true
	}
	for _, f := range e.schema.fields {
		if f.Modified() {
			return true
		}
	}
	return false
}

// HasField reports whether the model declares the field.
func (e *Entity) HasField(name string) bool {
	_, ok := e.schema.Lookup(name)
	return ok
}

// Fields returns the declared field names in declaration order.
func (e *Entity) Fields() []string {
	names := make([]string, len(e.schema.fields))
	for i, f := range e.schema.fields {
		names[i] = f.Name()
	}
	return names
}

// Get returns the value of a field, passed through the OnFieldGet hook.
// Reference fields return the target entities; use field.Handles to get
// the stored handles instead.
func (e *Entity) Get(ctx context.Context, name string, opts ...field.GetOption) (any, error) {
	ctx, unlock, err := e.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	f, err := e.schema.fieldOf(name)
	if err != nil {
		return nil, err
	}
	v, err := f.Get(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return e.impl.OnFieldGet(ctx, e, name, v)
}

// Set stores a value in a field, after passing it through the OnFieldSet
// hook.
func (e *Entity) Set(ctx context.Context, name string, v any) error {
	return e.mutate(ctx, name, func(ctx context.Context, f field.Field) error {
		v, err := e.impl.OnFieldSet(ctx, e, name, v)
		if err != nil {
			return err
		}
		return f.Set(v, true)
	})
}

// Add adds a value to a numeric or list field, after passing it through
// the OnFieldAdd hook.
func (e *Entity) Add(ctx context.Context, name string, v any) error {
	return e.mutate(ctx, name, func(ctx context.Context, f field.Field) error {
		v, err := e.impl.OnFieldAdd(ctx, e, name, v)
		if err != nil {
			return err
		}
		return f.Add(v)
	})
}

// Remove removes a value from a reference list field.
func (e *Entity) Remove(ctx context.Context, name string, v any) error {
	return e.mutate(ctx, name, func(_ context.Context, f field.Field) error {
		rl, ok := f.(interface{ Remove(any) error })
		if !ok {
			return &ValidationError{Field: name, Err: fmt.Errorf("remove: %w", field.ErrNotImplemented)}
		}
		return rl.Remove(v)
	})
}

// Inc increments a numeric field.
func (e *Entity) Inc(ctx context.Context, name string) error {
	return e.mutate(ctx, name, func(_ context.Context, f field.Field) error { return f.Inc() })
}

// Dec decrements a numeric field.
func (e *Entity) Dec(ctx context.Context, name string) error {
	return e.mutate(ctx, name, func(_ context.Context, f field.Field) error { return f.Dec() })
}

func (e *Entity) mutate(ctx context.Context, name string, fn func(context.Context, field.Field) error) error {
	ctx, unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if e.IsDeleted() {
		return ErrDeleted
	}
	f, err := e.schema.fieldOf(name)
	if err != nil {
		return err
	}
	return fn(ctx, f)
}

// Save stores the entity. It does nothing if the entity is not modified.
//
// The privacy policy of the model is evaluated first, then the PreSave hook
// runs and the document is built from every non-virtual field. A field
// failing its checks aborts the save before anything is written. Storage
// errors are returned unchanged.
func (e *Entity) Save(ctx context.Context) error {
	ctx, unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if e.IsDeleted() {
		return ErrDeleted
	}
	if !e.modified() {
		return nil
	}
	first := e.IsNew()
	op := OpUpdate
	if first {
		op = OpCreate
	}
	if err := e.mgr.evalMutation(ctx, e, op); err != nil {
		return err
	}
	if err := e.impl.PreSave(ctx, e); err != nil {
		return NewMutationError(e.info.name, op.String(), err)
	}
	if err := e.schema.byName[FieldModified].Set(e.mgr.now(), true); err != nil {
		return err
	}
	doc, err := e.document()
	if err != nil {
		return err
	}

	e.mgr.events.fire(ctx, PreSave, e)
	if err := e.mgr.ensureIndexes(ctx, e.info); err != nil {
		return err
	}
	var cacheErr error
	if first {
		if cacheErr, err = e.insert(ctx, doc); err != nil {
			return err
		}
	} else if err := e.mgr.drv.Replace(ctx, e.info.collection, e.ID(), doc); err != nil {
		return err
	}
	e.mgr.events.fire(ctx, AfterSave, e)

	hookErr := e.impl.AfterSave(ctx, e)
	if hookErr != nil {
		hookErr = NewMutationError(e.info.name, op.String(), hookErr)
	}
	for _, f := range e.schema.fields {
		f.ResetModified()
	}
	e.mgr.invalidate(ctx, e.info.collection)
	e.mgr.log.DebugContext(ctx, "entity saved", "model", e.info.name, "id", e.ID(), "op", op.String())
	return NewAggregateError(hookErr, cacheErr)
}

// insert stores the document of a new entity and registers the entity in
// the cache. Loads of the model wait on the gate, so no other instance of
// the document can be cached in between. A cache error is reported after a
// successful write.
func (e *Entity) insert(ctx context.Context, doc dialect.Document) (cacheErr, err error) {
	e.info.gate.Lock()
	defer e.info.gate.Unlock()
	id, err := e.mgr.drv.Insert(ctx, e.info.collection, doc)
	if err != nil {
		return nil, err
	}
	if err := e.setID(id); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.isNew = false
	e.mu.Unlock()
	return e.mgr.cache.Put(e), nil
}

// document collects the storable values of every non-virtual field.
func (e *Entity) document() (dialect.Document, error) {
	doc := make(dialect.Document, len(e.schema.fields))
	for _, f := range e.schema.fields {
		if f.Virtual() {
			continue
		}
		if f.Name() == FieldID {
			if id := e.ID(); id != "" {
				doc[FieldID] = id
			}
			continue
		}
		v, err := f.Storable()
		if err != nil {
			return nil, err
		}
		doc[f.Name()] = v
	}
	return doc, nil
}

func (e *Entity) setID(id string) error {
	if err := e.schema.byName[FieldID].Set(id, false); err != nil {
		return err
	}
	e.mu.Lock()
	e.id = id
	e.mu.Unlock()
	return nil
}

// Delete removes the entity from storage and from the entity cache. An
// entity that still has children cannot be deleted unless its model was
// registered with AllowOrphans. Once deleted, the
// entity rejects every mutation with ErrDeleted.
func (e *Entity) Delete(ctx context.Context) error {
	ctx, unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if e.IsDeleted() {
		return ErrDeleted
	}
	if err := e.mgr.evalMutation(ctx, e, OpDelete); err != nil {
		return err
	}
	if !e.info.orphans {
		children, err := e.Children(ctx)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return fmt.Errorf("%w: %s", ErrHasChildren, e)
		}
	}

	e.mgr.events.fire(ctx, PreDelete, e)
	if err := e.impl.PreDelete(ctx, e); err != nil {
		return NewMutationError(e.info.name, OpDelete.String(), err)
	}
	for _, f := range e.schema.fields {
		if err := f.OnEntityDelete(ctx); err != nil {
			return NewMutationError(e.info.name, OpDelete.String(), err)
		}
	}
	var cacheErr error
	if !e.IsNew() {
		if err := e.mgr.drv.Delete(ctx, e.info.collection, e.ID()); err != nil {
			return err
		}
		cacheErr = e.mgr.cache.Remove(e)
	}
	e.mu.Lock()
	e.isDeleted = true
	e.mu.Unlock()
	e.mgr.invalidate(ctx, e.info.collection)
	e.mgr.log.DebugContext(ctx, "entity deleted", "model", e.info.name, "id", e.ID())

	e.mgr.events.fire(ctx, AfterDelete, e)
	var hookErr error
	if err := e.impl.AfterDelete(ctx, e); err != nil {
		hookErr = NewMutationError(e.info.name, OpDelete.String(), err)
	}
	return NewAggregateError(hookErr, cacheErr)
}

// Reindex drops every index of the backing collection except the
// identifier index and creates the declared ones again.
func (e *Entity) Reindex(ctx context.Context) error {
	return e.mgr.reindex(ctx, e.info)
}

// Parent returns the parent entity, or nil.
func (e *Entity) Parent(ctx context.Context) (*Entity, error) {
	v, err := e.Get(ctx, FieldParent)
	if err != nil || v == nil {
		return nil, err
	}
	p, _ := v.(*Entity)
	return p, nil
}

// Children returns the existing child entities.
func (e *Entity) Children(ctx context.Context) ([]*Entity, error) {
	v, err := e.Get(ctx, FieldChildren)
	if err != nil {
		return nil, err
	}
	refs, _ := v.([]field.Referable)
	out := make([]*Entity, 0, len(refs))
	for _, r := range refs {
		if c, ok := r.(*Entity); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// AppendChild makes child a child of e. Both entities must be saved
// afterwards.
func (e *Entity) AppendChild(ctx context.Context, child *Entity) error {
	if child == e {
		return fmt.Errorf("%w: %s cannot be its own child", ErrInvalidReference, e)
	}
	if err := e.Add(ctx, FieldChildren, child); err != nil {
		return err
	}
	return child.Set(ctx, FieldParent, e)
}

// RemoveChild detaches child from e. Both entities must be saved
// afterwards.
func (e *Entity) RemoveChild(ctx context.Context, child *Entity) error {
	if err := e.Remove(ctx, FieldChildren, child); err != nil {
		return err
	}
	return child.Set(ctx, FieldParent, nil)
}

// mutation is the privacy view of a save or delete.
type mutation struct {
	ctx context.Context
	e   *Entity
	op  Op
}

var _ privacy.Mutation = (*mutation)(nil)

func (m *mutation) Model() string { return m.e.info.name }

func (m *mutation) Op() privacy.Op { return m.op }

// Entity returns the entity being mutated.
func (m *mutation) Entity() *Entity { return m.e }

// Field returns the value of a field. Reference fields return handles.
func (m *mutation) Field(name string) (any, bool) {
	f, ok := m.e.schema.Lookup(name)
	if !ok || f.Virtual() {
		return nil, false
	}
	v, err := f.Get(m.ctx, field.Handles())
	if err != nil {
		return nil, false
	}
	return v, true
}
