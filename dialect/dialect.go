package dialect

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Dialect names.
const (
	Memory   = "memory"
	MySQL    = "mysql"
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// IDKey is the reserved document key holding the document identifier.
const IDKey = "_id"

// Driver is the interface that wraps all operations a storage backend
// must provide to the ODM. Implementations must be safe for concurrent use.
type Driver interface {
	// FindOne returns the first document matching q, or (nil, nil).
	FindOne(ctx context.Context, coll string, q Predicate) (Document, error)
	// Find returns the documents matching q, sorted, skipped and limited per o.
	Find(ctx context.Context, coll string, q Predicate, o FindOptions) ([]Document, error)
	// Count returns the number of documents matching q.
	Count(ctx context.Context, coll string, q Predicate) (int, error)
	// Insert stores a new document and returns its assigned identifier.
	Insert(ctx context.Context, coll string, doc Document) (string, error)
	// Replace overwrites the document with the given identifier.
	Replace(ctx context.Context, coll, id string, doc Document) error
	// Delete removes the document with the given identifier.
	Delete(ctx context.Context, coll, id string) error
	// DeleteMany removes every document matching q and returns how many were removed.
	DeleteMany(ctx context.Context, coll string, q Predicate) (int, error)
	// CreateIndex creates the index if it does not exist yet.
	CreateIndex(ctx context.Context, coll string, idx IndexSpec) error
	// Indexes lists the index names of a collection, including the identifier index.
	Indexes(ctx context.Context, coll string) ([]string, error)
	// DropIndex removes an index by name.
	DropIndex(ctx context.Context, coll, name string) error
	// Dereference returns the document a handle points to, or (nil, nil).
	Dereference(ctx context.Context, ref Ref) (Document, error)
	// Dialect returns the dialect name of the driver.
	Dialect() string
	// Close releases the resources held by the driver.
	Close() error
}

// Document is a stored document. The IDKey entry, when present, holds the
// document identifier as a string.
type Document map[string]any

// ID returns the document identifier.
func (d Document) ID() string {
	id, _ := d[IDKey].(string)
	return id
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return CloneValue(map[string]any(d)).(map[string]any)
}

// CloneValue deep-copies maps and slices of a document value. Other values
// are immutable and returned as is.
func CloneValue(v any) any {
	switch v := v.(type) {
	case Document:
		return Document(CloneValue(map[string]any(v)).(map[string]any))
	case map[string]any:
		m := make(map[string]any, len(v))
		for k, e := range v {
			m[k] = CloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(v))
		for i, e := range v {
			s[i] = CloneValue(e)
		}
		return s
	case []Ref:
		return slices.Clone(v)
	case []string:
		return slices.Clone(v)
	default:
		return v
	}
}

// Ref is a reference handle: the pair (collection, id) pointing at one
// stored document. Handles are comparable with ==.
type Ref struct {
	Collection string
	ID         string
}

// IsZero reports whether r points nowhere.
func (r Ref) IsZero() bool { return r.Collection == "" && r.ID == "" }

// String implements the fmt.Stringer interface.
func (r Ref) String() string { return r.Collection + ":" + r.ID }

// Wire keys used to represent a Ref inside encoded documents.
const (
	refKey   = "$ref"
	refIDKey = "$id"
)

// Wire returns the map form of r used by encoders without native support
// for the Ref type.
func (r Ref) Wire() map[string]any {
	return map[string]any{refKey: r.Collection, refIDKey: r.ID}
}

// RefFromWire converts the map form produced by Ref.Wire back to a Ref.
func RefFromWire(m map[string]any) (Ref, bool) {
	if len(m) != 2 {
		return Ref{}, false
	}
	c, ok1 := m[refKey].(string)
	id, ok2 := m[refIDKey].(string)
	if !ok1 || !ok2 {
		return Ref{}, false
	}
	return Ref{Collection: c, ID: id}, true
}

// ToWire converts every Ref (and []Ref) inside v into its wire form.
// When timeFn is not nil, time values are converted with it.
func ToWire(v any, timeFn func(time.Time) any) any {
	switch v := v.(type) {
	case Ref:
		return v.Wire()
	case []Ref:
		s := make([]any, len(v))
		for i, r := range v {
			s[i] = r.Wire()
		}
		return s
	case time.Time:
		if timeFn != nil {
			return timeFn(v)
		}
		return v
	case Document:
		return ToWire(map[string]any(v), timeFn)
	case map[string]any:
		m := make(map[string]any, len(v))
		for k, e := range v {
			m[k] = ToWire(e, timeFn)
		}
		return m
	case []any:
		s := make([]any, len(v))
		for i, e := range v {
			s[i] = ToWire(e, timeFn)
		}
		return s
	default:
		return v
	}
}

// FromWire is the inverse of ToWire for references. Integers of any width
// are widened to int64 and times are moved to UTC.
func FromWire(v any) any {
	switch v := v.(type) {
	case map[string]any:
		if r, ok := RefFromWire(v); ok {
			return r
		}
		m := make(map[string]any, len(v))
		for k, e := range v {
			m[k] = FromWire(e)
		}
		return m
	case []any:
		s := make([]any, len(v))
		for i, e := range v {
			s[i] = FromWire(e)
		}
		return s
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float32:
		return float64(v)
	case time.Time:
		return v.UTC()
	default:
		return v
	}
}

// Direction is a sort direction.
type Direction int

// Sort directions.
const (
	Asc  Direction = 1
	Desc Direction = -1
)

// String implements the fmt.Stringer interface.
func (d Direction) String() string {
	if d == Desc {
		return "DESC"
	}
	return "ASC"
}

// Order is one sort key.
type Order struct {
	Field     string
	Direction Direction
}

// FindOptions holds the ordering and pagination of a Find call.
// Skip is applied before Limit; a zero Limit means no limit.
type FindOptions struct {
	Sort  []Order
	Skip  int
	Limit int
}

// IndexSpec describes a storage index.
type IndexSpec struct {
	Name   string
	Keys   []Order
	Unique bool
}

// DefaultName returns the conventional index name for the keys,
// e.g. "title_asc_created_desc". The result is a valid SQL identifier.
func (s IndexSpec) DefaultName() string {
	parts := make([]string, 0, len(s.Keys))
	for _, k := range s.Keys {
		name := strings.ReplaceAll(strings.TrimLeft(k.Field, "_"), ".", "_")
		parts = append(parts, fmt.Sprintf("%s_%s", name, strings.ToLower(k.Direction.String())))
	}
	return strings.Join(parts, "_")
}

// Fields returns the indexed field names.
func (s IndexSpec) Fields() []string {
	names := make([]string, len(s.Keys))
	for i, k := range s.Keys {
		names[i] = k.Field
	}
	return names
}

// IDIndex is the name every driver reports for the built-in identifier index.
const IDIndex = "_id_"

// SortedKeys returns the keys of a document in sorted order.
func SortedKeys(d Document) []string {
	return slices.Sorted(maps.Keys(d))
}
