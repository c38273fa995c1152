// Package memory provides an in-memory dialect.Driver.
//
// Collections live in process memory and every document crossing the driver
// boundary is deep-copied, so callers never share maps with the store.
// The driver can persist its state to a msgpack snapshot file:
//
//	drv, err := memory.Open(ctx, memory.WithSnapshotFile("/var/lib/app/odm.snap"))
//	if err != nil {
//	    return err
//	}
//	defer drv.Close() // writes the snapshot
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/pytsite/odm/dialect"
)

// Option configures the Driver.
type Option func(*Driver)

// WithIDFunc sets the function generating document identifiers.
// The default generates UUIDv7 strings.
func WithIDFunc(fn func() string) Option {
	return func(d *Driver) {
		d.newID = fn
	}
}

// WithLogger sets the logger used for snapshot operations.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		d.log = l
	}
}

// WithSnapshotFile makes Open restore the driver state from path, when the
// file exists, and Close write it back.
func WithSnapshotFile(path string) Option {
	return func(d *Driver) {
		d.snapshot = path
	}
}

// Driver is an in-memory document store.
type Driver struct {
	mu       sync.RWMutex
	colls    map[string]*collection
	newID    func() string
	log      *slog.Logger
	snapshot string
	closed   bool
}

type collection struct {
	docs    map[string]dialect.Document
	order   []string
	indexes map[string]dialect.IndexSpec
}

func newCollection() *collection {
	return &collection{
		docs:    make(map[string]dialect.Document),
		indexes: make(map[string]dialect.IndexSpec),
	}
}

// New returns an empty driver.
func New(opts ...Option) *Driver {
	d := &Driver{
		colls: make(map[string]*collection),
		newID: newUUID,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open returns a driver, restoring its state from the snapshot file
// configured with WithSnapshotFile when that file exists.
func Open(ctx context.Context, opts ...Option) (*Driver, error) {
	d := New(opts...)
	if d.snapshot == "" {
		return d, nil
	}
	if _, err := os.Stat(d.snapshot); errors.Is(err, os.ErrNotExist) {
		return d, nil
	}
	if err := d.Restore(ctx, d.snapshot); err != nil {
		return nil, err
	}
	return d, nil
}

func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Dialect implements the dialect.Driver interface.
func (*Driver) Dialect() string { return dialect.Memory }

// coll returns the named collection, creating it when create is set.
// Callers must hold d.mu (write lock when create is set).
func (d *Driver) coll(name string, create bool) *collection {
	c, ok := d.colls[name]
	if !ok && create {
		c = newCollection()
		d.colls[name] = c
	}
	return c
}

func output(id string, doc dialect.Document) dialect.Document {
	out := doc.Clone()
	out[dialect.IDKey] = id
	return out
}

// FindOne implements the dialect.Driver interface.
func (d *Driver) FindOne(ctx context.Context, coll string, q dialect.Predicate) (dialect.Document, error) {
	docs, err := d.Find(ctx, coll, q, dialect.FindOptions{Limit: 1})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// Find implements the dialect.Driver interface.
func (d *Driver) Find(ctx context.Context, coll string, q dialect.Predicate, o dialect.FindOptions) ([]dialect.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	match, err := dialect.Compile(q)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	c := d.coll(coll, false)
	if c == nil {
		return nil, nil
	}
	var out []dialect.Document
	for _, id := range c.order {
		doc := output(id, c.docs[id])
		if match(doc) {
			out = append(out, doc)
		}
	}
	if len(o.Sort) > 0 {
		slices.SortStableFunc(out, func(a, b dialect.Document) int {
			for _, s := range o.Sort {
				av, _ := dialect.Lookup(a, s.Field)
				bv, _ := dialect.Lookup(b, s.Field)
				if c := dialect.Compare(av, bv); c != 0 {
					if s.Direction == dialect.Desc {
						return -c
					}
					return c
				}
			}
			return 0
		})
	}
	if o.Skip > 0 {
		if o.Skip >= len(out) {
			return nil, nil
		}
		out = out[o.Skip:]
	}
	if o.Limit > 0 && o.Limit < len(out) {
		out = out[:o.Limit]
	}
	return out, nil
}

// Count implements the dialect.Driver interface.
func (d *Driver) Count(ctx context.Context, coll string, q dialect.Predicate) (int, error) {
	docs, err := d.Find(ctx, coll, q, dialect.FindOptions{})
	return len(docs), err
}

// Insert implements the dialect.Driver interface. A non-empty identifier
// already present in doc is kept.
func (d *Driver) Insert(ctx context.Context, coll string, doc dialect.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.coll(coll, true)
	id := doc.ID()
	if id == "" {
		id = d.newID()
	}
	if _, ok := c.docs[id]; ok {
		return "", &dialect.ConstraintError{Collection: coll, Index: dialect.IDIndex}
	}
	stored := doc.Clone()
	delete(stored, dialect.IDKey)
	if err := c.checkUnique(coll, id, stored); err != nil {
		return "", err
	}
	c.docs[id] = stored
	c.order = append(c.order, id)
	return id, nil
}

// Replace implements the dialect.Driver interface.
func (d *Driver) Replace(ctx context.Context, coll, id string, doc dialect.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.coll(coll, false)
	if c == nil || c.docs[id] == nil {
		return fmt.Errorf("memory: replace %s/%s: document does not exist", coll, id)
	}
	stored := doc.Clone()
	delete(stored, dialect.IDKey)
	if err := c.checkUnique(coll, id, stored); err != nil {
		return err
	}
	c.docs[id] = stored
	return nil
}

// Delete implements the dialect.Driver interface. Deleting a missing
// document is not an error.
func (d *Driver) Delete(ctx context.Context, coll, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if c := d.coll(coll, false); c != nil {
		c.remove(id)
	}
	return nil
}

// DeleteMany implements the dialect.Driver interface.
func (d *Driver) DeleteMany(ctx context.Context, coll string, q dialect.Predicate) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	match, err := dialect.Compile(q)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.coll(coll, false)
	if c == nil {
		return 0, nil
	}
	var ids []string
	for _, id := range c.order {
		if match(output(id, c.docs[id])) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		c.remove(id)
	}
	return len(ids), nil
}

func (c *collection) remove(id string) {
	if _, ok := c.docs[id]; !ok {
		return
	}
	delete(c.docs, id)
	if i := slices.Index(c.order, id); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
}

// checkUnique enforces the unique indexes for doc stored under id.
// Documents missing every indexed field are not constrained.
func (c *collection) checkUnique(coll, id string, doc dialect.Document) error {
	for name, idx := range c.indexes {
		if !idx.Unique {
			continue
		}
		key, ok := indexKey(idx, doc)
		if !ok {
			continue
		}
		for otherID, other := range c.docs {
			if otherID == id {
				continue
			}
			if okey, ok := indexKey(idx, other); ok && dialect.Equal(key, okey) {
				return &dialect.ConstraintError{Collection: coll, Index: name}
			}
		}
	}
	return nil
}

func indexKey(idx dialect.IndexSpec, doc dialect.Document) ([]any, bool) {
	key := make([]any, len(idx.Keys))
	found := false
	for i, k := range idx.Keys {
		v, ok := dialect.Lookup(doc, k.Field)
		key[i] = v
		found = found || ok
	}
	return key, found
}

// CreateIndex implements the dialect.Driver interface.
func (d *Driver) CreateIndex(ctx context.Context, coll string, idx dialect.IndexSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(idx.Keys) == 0 {
		return fmt.Errorf("memory: index on %s has no keys", coll)
	}
	if idx.Name == "" {
		idx.Name = idx.DefaultName()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.coll(coll, true)
	if _, ok := c.indexes[idx.Name]; ok {
		return nil
	}
	if idx.Unique {
		seen := make([][]any, 0, len(c.docs))
		for _, id := range c.order {
			key, ok := indexKey(idx, c.docs[id])
			if !ok {
				continue
			}
			for _, k := range seen {
				if dialect.Equal(k, key) {
					return &dialect.ConstraintError{Collection: coll, Index: idx.Name}
				}
			}
			seen = append(seen, key)
		}
	}
	c.indexes[idx.Name] = idx
	return nil
}

// Indexes implements the dialect.Driver interface.
func (d *Driver) Indexes(ctx context.Context, coll string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := []string{dialect.IDIndex}
	if c := d.coll(coll, false); c != nil {
		for name := range c.indexes {
			names = append(names, name)
		}
	}
	slices.Sort(names[1:])
	return names, nil
}

// DropIndex implements the dialect.Driver interface.
func (d *Driver) DropIndex(ctx context.Context, coll, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == dialect.IDIndex {
		return fmt.Errorf("memory: cannot drop the identifier index of %s", coll)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.coll(coll, false)
	if c == nil {
		return fmt.Errorf("memory: index %s not found on %s", name, coll)
	}
	if _, ok := c.indexes[name]; !ok {
		return fmt.Errorf("memory: index %s not found on %s", name, coll)
	}
	delete(c.indexes, name)
	return nil
}

// IndexSpecs returns the declared specs of a collection's indexes, sorted by name.
func (d *Driver) IndexSpecs(coll string) []dialect.IndexSpec {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c := d.coll(coll, false)
	if c == nil {
		return nil
	}
	specs := make([]dialect.IndexSpec, 0, len(c.indexes))
	for _, idx := range c.indexes {
		specs = append(specs, idx)
	}
	slices.SortFunc(specs, func(a, b dialect.IndexSpec) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return specs
}

// Dereference implements the dialect.Driver interface.
func (d *Driver) Dereference(ctx context.Context, ref dialect.Ref) (dialect.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	c := d.coll(ref.Collection, false)
	if c == nil {
		return nil, nil
	}
	doc, ok := c.docs[ref.ID]
	if !ok {
		return nil, nil
	}
	return output(ref.ID, doc), nil
}

// Close implements the dialect.Driver interface. When a snapshot file is
// configured, the state is written to it.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	if d.snapshot == "" {
		return nil
	}
	return d.Snapshot(context.Background(), d.snapshot)
}

var _ dialect.Driver = (*Driver)(nil)
