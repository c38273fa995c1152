package odm

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-openapi/inflect"
	"golang.org/x/sync/singleflight"

	"github.com/pytsite/odm/contrib/dataloader"
	"github.com/pytsite/odm/dialect"
	"github.com/pytsite/odm/privacy"
	"github.com/pytsite/odm/schema/field"
)

// Manager is the entry point of the ODM. It owns the model registry, the
// entity cache and the storage driver. A process should use one Manager
// per storage, so that every stored document has at most one live
// instance.
type Manager struct {
	drv    dialect.Driver
	log    *slog.Logger
	cache  *EntityCache
	qcache Cache
	qttl   time.Duration
	now    func() time.Time
	events *Events
	group  singleflight.Group

	mu     sync.RWMutex
	models map[string]*modelInfo
	colls  map[string]string

	idxMu   sync.Mutex
	indexed map[string]bool
}

// modelInfo is a registered model.
type modelInfo struct {
	name       string
	collection string
	factory    func() Model
	schema     *Schema
	indexes    []dialect.IndexSpec
	policy     privacy.QueryMutationRule
	orphans    bool

	// gate orders inserts of new entities before the caching of loaded
	// documents.
	gate sync.RWMutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithQueryCache enables caching of finder results in c. Finders opt in
// with Finder.Cache; ttl is their default time to live.
func WithQueryCache(c Cache, ttl time.Duration) Option {
	return func(m *Manager) {
		m.qcache = c
		m.qttl = ttl
	}
}

// WithClock sets the function returning the current time, used for the
// creation and modification times of entities.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithEntityCache sets the entity cache, e.g. to share one cache between
// managers of distinct storages.
func WithEntityCache(c *EntityCache) Option {
	return func(m *Manager) {
		m.cache = c
	}
}

// NewManager returns a Manager storing entities with drv.
func NewManager(drv dialect.Driver, opts ...Option) *Manager {
	m := &Manager{
		drv:     drv,
		log:     slog.Default(),
		cache:   NewEntityCache(),
		now:     func() time.Time { return time.Now().UTC() },
		models:  make(map[string]*modelInfo),
		colls:   make(map[string]string),
		indexed: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.events = newEvents(m.log)
	return m
}

// RegisterOption configures a Register call.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	replace bool
	orphans bool
}

// AllowReplace makes Register replace an existing registration instead
// of failing.
func AllowReplace() RegisterOption {
	return func(o *registerOptions) {
		o.replace = true
	}
}

// AllowOrphans lets entities of the model be deleted while they still have
// children. The children keep their _parent handle, which then resolves
// to nothing; an AfterDelete hook can cascade or reparent them instead.
func AllowOrphans() RegisterOption {
	return func(o *registerOptions) {
		o.orphans = true
	}
}

var modelNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Register registers a model. The factory is called once per entity.
// The backing collection is named after the plural of the model name.
// Registering a name twice fails with a *SchemaError unless AllowReplace
// is given.
func (m *Manager) Register(name string, factory func() Model, opts ...RegisterOption) error {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !modelNameRe.MatchString(name) {
		return schemaErrorf(name, "invalid model name %q", name)
	}
	if factory == nil {
		return schemaErrorf(name, "nil factory")
	}
	proto := factory()
	if proto == nil {
		return schemaErrorf(name, "factory returned nil")
	}
	s := newSchema(name)
	proto.Setup(s)
	if err := s.validate(); err != nil {
		return err
	}
	info := &modelInfo{
		name:       name,
		collection: inflect.Pluralize(name),
		factory:    factory,
		schema:     s,
		policy:     proto.Policy(),
		orphans:    o.orphans,
	}
	for _, d := range s.indexes {
		info.indexes = append(info.indexes, d.Spec())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.models[name]; ok && !o.replace {
		return schemaErrorf(name, "model already registered")
	}
	if owner, ok := m.colls[info.collection]; ok && owner != name {
		return schemaErrorf(name, "collection %q is used by model %q", info.collection, owner)
	}
	m.models[name] = info
	m.colls[info.collection] = name

	m.idxMu.Lock()
	delete(m.indexed, info.collection)
	m.idxMu.Unlock()
	m.log.Debug("model registered", "model", name, "collection", info.collection)
	return nil
}

// IsRegistered reports whether a model is registered.
func (m *Manager) IsRegistered(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.models[name]
	return ok
}

// Factory returns the factory of a registered model.
func (m *Manager) Factory(name string) (func() Model, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.models[name]
	if !ok {
		return nil, false
	}
	return info.factory, true
}

// Models returns the names of the registered models, sorted.
func (m *Manager) Models() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.models))
	for name := range m.models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Collection returns the collection name of a registered model.
func (m *Manager) Collection(model string) (string, error) {
	info, err := m.info(model)
	if err != nil {
		return "", err
	}
	return info.collection, nil
}

func (m *Manager) info(model string) (*modelInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.models[model]
	if !ok {
		return nil, &SchemaError{Model: model, Err: ErrUnknownModel}
	}
	return info, nil
}

func (m *Manager) modelOf(collection string) (*modelInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.colls[collection]
	if !ok {
		return nil, false
	}
	return m.models[name], true
}

// Driver returns the storage driver.
func (m *Manager) Driver() dialect.Driver { return m.drv }

// Cache returns the entity cache.
func (m *Manager) Cache() *EntityCache { return m.cache }

// Events returns the event bus.
func (m *Manager) Events() *Events { return m.events }

// Close closes the storage driver.
func (m *Manager) Close() error { return m.drv.Close() }

// build returns a new entity of a model, with its fields declared.
func (m *Manager) build(info *modelInfo) (*Entity, error) {
	impl := info.factory()
	s := newSchema(info.name)
	impl.Setup(s)
	if err := s.validate(); err != nil {
		return nil, err
	}
	for _, f := range s.fields {
		f.Attach(m)
	}
	return &Entity{
		mgr:    m,
		info:   info,
		impl:   impl,
		schema: s,
		sem:    make(chan struct{}, 1),
		isNew:  true,
	}, nil
}

// New returns a new entity of a model. It is stored by its first Save.
func (m *Manager) New(_ context.Context, model string) (*Entity, error) {
	info, err := m.info(model)
	if err != nil {
		return nil, err
	}
	e, err := m.build(info)
	if err != nil {
		return nil, err
	}
	now := m.now()
	for _, name := range []string{FieldCreated, FieldModified} {
		if err := e.schema.byName[name].Set(now, true); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Load returns the stored entity with the given id. It fails with a
// *NotFoundError if there is no such document.
func (m *Manager) Load(ctx context.Context, model, id string) (*Entity, error) {
	if id == "" {
		if _, err := m.info(model); err != nil {
			return nil, err
		}
		return nil, NewNotFoundError(model, id)
	}
	e, err := m.Dispense(ctx, model, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, NewNotFoundError(model, id)
	}
	return e, nil
}

// Dispense returns the entity with the given id, or a new entity if id is
// empty. Unlike Load, it returns (nil, nil) if there is no such document.
// Cached instances are returned as is; concurrent dispenses of one
// uncached document build a single instance.
func (m *Manager) Dispense(ctx context.Context, model, id string) (*Entity, error) {
	if id == "" {
		return m.New(ctx, model)
	}
	info, err := m.info(model)
	if err != nil {
		return nil, err
	}
	return m.loadOne(ctx, info, id, func(ctx context.Context) (dialect.Document, error) {
		return m.drv.FindOne(ctx, info.collection, dialect.EQ(dialect.IDKey, id))
	})
}

// loadOne returns the cached entity or loads its document with fetch.
func (m *Manager) loadOne(ctx context.Context, info *modelInfo, id string, fetch func(context.Context) (dialect.Document, error)) (*Entity, error) {
	if e := m.cache.Get(info.name, id); e != nil {
		return e, nil
	}
	v, err, _ := m.group.Do(info.name+":"+id, func() (any, error) {
		if e := m.cache.Get(info.name, id); e != nil {
			return e, nil
		}
		doc, err := fetch(ctx)
		if err != nil || doc == nil {
			return (*Entity)(nil), err
		}
		return m.materialize(info, doc)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entity), nil
}

// materialize returns the cached instance of a stored document, or builds
// and caches one.
func (m *Manager) materialize(info *modelInfo, doc dialect.Document) (*Entity, error) {
	id := doc.ID()
	if id == "" {
		return nil, fmt.Errorf("odm: %s document without identifier", info.name)
	}
	if e := m.cache.Get(info.name, id); e != nil {
		return e, nil
	}
	e, err := m.build(info)
	if err != nil {
		return nil, err
	}
	for _, f := range e.schema.fields {
		v, ok := doc[f.Name()]
		if !ok || f.Virtual() {
			continue
		}
		if err := f.Set(v, false); err != nil {
			return nil, fmt.Errorf("odm: load %s:%s: %w", info.name, id, err)
		}
	}
	e.id = id
	e.isNew = false
	info.gate.RLock()
	defer info.gate.RUnlock()
	return m.cache.loadOrStore(e), nil
}

// ResolveReference converts an entity, a "model:id" string or a handle to
// a handle. New entities, malformed strings and unknown models or
// collections are rejected.
func (m *Manager) ResolveReference(v any) (dialect.Ref, error) {
	ref, _, err := m.Normalize(v)
	return ref, err
}

// Normalize implements the field.Resolver interface.
func (m *Manager) Normalize(v any) (dialect.Ref, string, error) {
	switch v := v.(type) {
	case *Entity:
		if v == nil || v.IsNew() {
			return dialect.Ref{}, "", fmt.Errorf("%w: entity is not stored", ErrInvalidReference)
		}
		return v.Reference(), v.Model(), nil
	case string:
		model, id, ok := strings.Cut(v, ":")
		if !ok || model == "" || id == "" {
			return dialect.Ref{}, "", fmt.Errorf("%w: %q", ErrInvalidReference, v)
		}
		info, err := m.info(model)
		if err != nil {
			return dialect.Ref{}, "", err
		}
		return dialect.Ref{Collection: info.collection, ID: id}, model, nil
	case dialect.Ref:
		if v.Collection == "" || v.ID == "" {
			return dialect.Ref{}, "", fmt.Errorf("%w: %v", ErrInvalidReference, v)
		}
		info, ok := m.modelOf(v.Collection)
		if !ok {
			return dialect.Ref{}, "", fmt.Errorf("%w: unknown collection %q", ErrInvalidReference, v.Collection)
		}
		return v, info.name, nil
	case field.Referable:
		return v.Reference(), v.Model(), nil
	default:
		return dialect.Ref{}, "", fmt.Errorf("%w: %T", ErrInvalidReference, v)
	}
}

// GetByReference returns the entity a handle points to, or (nil, nil) if
// the document does not exist anymore.
func (m *Manager) GetByReference(ctx context.Context, ref dialect.Ref) (*Entity, error) {
	if info, ok := m.modelOf(ref.Collection); ok {
		return m.loadOne(ctx, info, ref.ID, func(ctx context.Context) (dialect.Document, error) {
			return m.drv.Dereference(ctx, ref)
		})
	}
	doc, err := m.drv.Dereference(ctx, ref)
	if err != nil || doc == nil {
		return nil, err
	}
	info, err := m.docModel(doc, ref.Collection)
	if err != nil {
		return nil, err
	}
	return m.materialize(info, doc)
}

// docModel returns the model of a stored document.
func (m *Manager) docModel(doc dialect.Document, collection string) (*modelInfo, error) {
	if name, ok := doc[FieldModel].(string); ok && name != "" {
		return m.info(name)
	}
	if info, ok := m.modelOf(collection); ok {
		return info, nil
	}
	return nil, &SchemaError{Err: fmt.Errorf("%w: collection %q", ErrUnknownModel, collection)}
}

// Dereference implements the field.Resolver interface. Handles are
// resolved with one query per collection; the result has a nil slot for
// every document that does not exist anymore.
func (m *Manager) Dereference(ctx context.Context, refs []dialect.Ref) ([]field.Referable, error) {
	out := make([]field.Referable, len(refs))
	if len(refs) == 1 {
		e, err := m.GetByReference(ctx, refs[0])
		if err != nil {
			return nil, err
		}
		if e != nil {
			out[0] = e
		}
		return out, nil
	}
	ents, err := dataloader.LoadGrouped(ctx, refs,
		func(r dialect.Ref) string { return r.Collection },
		m.loadCollection,
		(*Entity).Reference,
	)
	if err != nil {
		return nil, err
	}
	for i, e := range ents {
		if e != nil {
			out[i] = e
		}
	}
	return out, nil
}

// loadCollection loads the entities of one collection, from the cache when
// possible.
func (m *Manager) loadCollection(ctx context.Context, collection string, refs []dialect.Ref) ([]*Entity, error) {
	var (
		out     []*Entity
		missing []string
	)
	info, known := m.modelOf(collection)
	for _, r := range refs {
		if known {
			if e := m.cache.Get(info.name, r.ID); e != nil {
				out = append(out, e)
				continue
			}
		}
		missing = append(missing, r.ID)
	}
	if len(missing) == 0 {
		return out, nil
	}
	docs, err := m.drv.Find(ctx, collection, dialect.IDIn(missing...), dialect.FindOptions{})
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		info, err := m.docModel(doc, collection)
		if err != nil {
			return nil, err
		}
		e, err := m.materialize(info, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Find returns a finder over the entities of a model.
func (m *Manager) Find(model string) (*Finder, error) {
	info, err := m.info(model)
	if err != nil {
		return nil, err
	}
	return newFinder(m, info), nil
}

// ensureIndexes creates the declared indexes of a collection once.
func (m *Manager) ensureIndexes(ctx context.Context, info *modelInfo) error {
	m.idxMu.Lock()
	defer m.idxMu.Unlock()
	if m.indexed[info.collection] {
		return nil
	}
	for _, spec := range info.indexes {
		if err := m.drv.CreateIndex(ctx, info.collection, spec); err != nil {
			return err
		}
	}
	m.indexed[info.collection] = true
	m.log.DebugContext(ctx, "indexes ensured", "collection", info.collection, "count", len(info.indexes))
	return nil
}

// reindex drops every index but the identifier one and creates the
// declared indexes again.
func (m *Manager) reindex(ctx context.Context, info *modelInfo) error {
	m.idxMu.Lock()
	defer m.idxMu.Unlock()
	names, err := m.drv.Indexes(ctx, info.collection)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == dialect.IDIndex {
			continue
		}
		if err := m.drv.DropIndex(ctx, info.collection, name); err != nil {
			return err
		}
	}
	for _, spec := range info.indexes {
		if err := m.drv.CreateIndex(ctx, info.collection, spec); err != nil {
			return err
		}
	}
	m.indexed[info.collection] = true
	m.log.InfoContext(ctx, "collection reindexed", "collection", info.collection, "count", len(info.indexes))
	return nil
}

// evalMutation evaluates the privacy policy of the model of e.
func (m *Manager) evalMutation(ctx context.Context, e *Entity, op Op) error {
	if e.info.policy == nil {
		return nil
	}
	mut := &mutation{ctx: ctx, e: e, op: op}
	if err := (privacy.Policies{e.info.policy}).EvalMutation(ctx, mut); err != nil {
		return NewPrivacyError(e.info.name, op.String(), err)
	}
	return nil
}

// invalidate drops the cached finder results of a collection.
func (m *Manager) invalidate(ctx context.Context, collection string) {
	if m.qcache == nil {
		return
	}
	if err := m.qcache.DeletePrefix(ctx, CachePrefix(collection)); err != nil {
		m.log.WarnContext(ctx, "query cache invalidation failed", "collection", collection, "error", err)
	}
}

var _ field.Resolver = (*Manager)(nil)
