package odm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pytsite/odm/dialect"
	"github.com/pytsite/odm/privacy"
	"github.com/pytsite/odm/schema/field"
)

// SortField is one sort key of a finder.
type SortField struct {
	Field     string
	Direction dialect.Direction
}

// Asc sorts by a field in ascending order.
func Asc(name string) SortField { return SortField{Field: name, Direction: dialect.Asc} }

// Desc sorts by a field in descending order.
func Desc(name string) SortField { return SortField{Field: name, Direction: dialect.Desc} }

// Finder builds and runs queries over the entities of one model. Building
// does no I/O: Where, OrWhere, Sort and Skip validate their arguments and
// record the first error, which Err returns and every execution method
// fails with.
//
// A document matches when it satisfies every Where criterion and, if any
// OrWhere criterion was given, at least one of them. Results are sorted,
// then skipped, then limited, and always resolve through the entity cache.
//
//	f, _ := m.Find("post")
//	posts, err := f.Where("status", "=", "published").
//	    Sort(odm.Desc("publish_time")).
//	    Get(ctx, 10)
type Finder struct {
	mgr  *Manager
	info *modelInfo
	ands []dialect.Predicate
	ors  []dialect.Predicate
	sort []dialect.Order
	skip int
	ttl  time.Duration
	err  error
}

func newFinder(m *Manager, info *modelInfo) *Finder {
	return &Finder{mgr: m, info: info}
}

// Model returns the name of the queried model.
func (f *Finder) Model() string { return f.info.name }

// Err returns the first error recorded while building the finder.
func (f *Finder) Err() error { return f.err }

func (f *Finder) fail(err error) {
	if f.err == nil {
		f.err = err
	}
}

// Where adds a criterion all results must satisfy. The field must be
// declared by the model; op is one of the operators accepted by
// dialect.ParseOp.
func (f *Finder) Where(name, op string, v any) *Finder {
	c, err := f.criterion(name, op, v)
	if err != nil {
		f.fail(err)
		return f
	}
	f.ands = append(f.ands, c)
	return f
}

// OrWhere adds a criterion of which at least one must be satisfied.
func (f *Finder) OrWhere(name, op string, v any) *Finder {
	c, err := f.criterion(name, op, v)
	if err != nil {
		f.fail(err)
		return f
	}
	f.ors = append(f.ors, c)
	return f
}

func (f *Finder) criterion(name, op string, v any) (dialect.Predicate, error) {
	fd, err := f.info.schema.fieldOf(name)
	if err != nil {
		return nil, err
	}
	o, err := dialect.ParseOp(op)
	if err != nil {
		return nil, &SchemaError{Model: f.info.name, Err: err}
	}
	switch {
	case o == dialect.OpRegex:
		if _, ok := v.(string); !ok {
			return nil, schemaErrorf(f.info.name, "%s: pattern must be a string, got %T", name, v)
		}
	case o.Multi():
		vs, err := dialect.ListValue(v)
		if err != nil {
			return nil, &SchemaError{Model: f.info.name, Err: fmt.Errorf("%s: %w", name, err)}
		}
		out := make([]any, len(vs))
		for i, e := range vs {
			if out[i], err = f.value(fd, name, e); err != nil {
				return nil, err
			}
		}
		v = out
	default:
		if v, err = f.value(fd, name, v); err != nil {
			return nil, err
		}
	}
	return dialect.Cmp{Field: name, Op: o, Value: v}, nil
}

// value converts a criterion value to its stored form. Values compared
// with reference fields become handles.
func (f *Finder) value(fd field.Field, name string, v any) (any, error) {
	if !fd.Type().IsReference() || name != fd.Name() || v == nil {
		return dialect.FromWire(v), nil
	}
	ref, err := f.mgr.ResolveReference(v)
	if err != nil {
		return nil, &SchemaError{Model: f.info.name, Err: fmt.Errorf("%s: %w", name, err)}
	}
	return ref, nil
}

// Sort sets the sort keys.
func (f *Finder) Sort(fields ...SortField) *Finder {
	for _, s := range fields {
		if _, err := f.info.schema.fieldOf(s.Field); err != nil {
			f.fail(err)
			return f
		}
		f.sort = append(f.sort, dialect.Order{Field: s.Field, Direction: s.Direction})
	}
	return f
}

// Skip skips the first n results.
func (f *Finder) Skip(n int) *Finder {
	if n < 0 {
		f.fail(schemaErrorf(f.info.name, "negative skip %d", n))
		return f
	}
	f.skip = n
	return f
}

// Cache caches the result identifiers and counts of the finder for ttl,
// or for the default of the manager if ttl is zero. It has no effect
// unless the manager was created with WithQueryCache. Cached results are
// dropped whenever an entity of the model is saved or deleted.
func (f *Finder) Cache(ttl time.Duration) *Finder {
	if ttl <= 0 {
		ttl = f.mgr.qttl
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	f.ttl = ttl
	return f
}

// Predicate returns the criteria of the finder, without the ones added
// by privacy rules.
func (f *Finder) Predicate() dialect.Predicate {
	return f.compose(nil)
}

func (f *Finder) compose(extra []dialect.Predicate) dialect.Predicate {
	parts := make(dialect.And, 0, len(f.ands)+len(extra)+1)
	parts = append(parts, f.ands...)
	parts = append(parts, extra...)
	if len(f.ors) > 0 {
		parts = append(parts, dialect.Or(f.ors))
	}
	return dialect.Simplify(parts)
}

// query is the privacy view of a finder execution.
type query struct {
	model string
	extra []dialect.Predicate
}

var (
	_ privacy.Query  = (*query)(nil)
	_ privacy.Filter = (*query)(nil)
)

func (q *query) Model() string { return q.model }

func (q *query) WhereP(ps ...dialect.Predicate) { q.extra = append(q.extra, ps...) }

// prepare checks the finder, evaluates the privacy policy and returns the
// predicate to run.
func (f *Finder) prepare(ctx context.Context, op string) (dialect.Predicate, error) {
	if f.err != nil {
		return nil, f.err
	}
	q := &query{model: f.info.name}
	if f.info.policy != nil {
		if err := (privacy.Policies{f.info.policy}).EvalQuery(ctx, q); err != nil {
			return nil, NewPrivacyError(f.info.name, op, err)
		}
	}
	if err := f.mgr.ensureIndexes(ctx, f.info); err != nil {
		return nil, NewQueryError(f.info.name, op, err)
	}
	return f.compose(q.extra), nil
}

// cacheKey returns the query cache key of an execution, or "" if the
// predicate cannot be encoded.
func (f *Finder) cacheKey(op string, p dialect.Predicate, limit int) string {
	pred, err := predicateKey(p)
	if err != nil {
		f.mgr.log.Warn("query not cached", "model", f.info.name, "error", err)
		return ""
	}
	orders := make([]string, len(f.sort))
	for i, o := range f.sort {
		orders[i] = o.Field + " " + o.Direction.String()
	}
	return CacheKey{
		Collection: f.info.collection,
		Operation:  op,
		Predicates: pred,
		OrderBy:    strings.Join(orders, ","),
		Limit:      limit,
		Offset:     f.skip,
	}.String()
}

// predicateKey digests the msgpack encoding of p. The encoding keeps the
// types of the compared values, so 1 and "1" or ["a b"] and ["a", "b"]
// yield different keys.
func predicateKey(p dialect.Predicate) (string, error) {
	if p == nil {
		return "", nil
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(predicateTree(p)); err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

func predicateTree(p dialect.Predicate) any {
	group := func(name string, ps []dialect.Predicate) any {
		tree := make([]any, 0, len(ps)+1)
		tree = append(tree, name)
		for _, p := range ps {
			tree = append(tree, predicateTree(p))
		}
		return tree
	}
	switch p := p.(type) {
	case dialect.Cmp:
		return []any{"cmp", p.Field, string(p.Op), p.Value}
	case dialect.And:
		return group("and", p)
	case dialect.Or:
		return group("or", p)
	}
	return nil
}

func (f *Finder) caching() bool {
	return f.ttl > 0 && f.mgr.qcache != nil
}

// cached decodes a cached value into dst and reports whether one was found.
func (f *Finder) cached(ctx context.Context, key string, dst any) bool {
	b, err := f.mgr.qcache.Get(ctx, key)
	if err != nil || b == nil {
		return false
	}
	if err := msgpack.Unmarshal(b, dst); err != nil {
		f.mgr.log.WarnContext(ctx, "discarding malformed cached result", "key", key, "error", err)
		return false
	}
	return true
}

func (f *Finder) store(ctx context.Context, key string, v any) {
	b, err := msgpack.Marshal(v)
	if err == nil {
		err = f.mgr.qcache.Set(ctx, key, b, f.ttl)
	}
	if err != nil {
		f.mgr.log.WarnContext(ctx, "caching query result failed", "key", key, "error", err)
	}
}

// Ids returns the identifiers of at most limit matching documents; a zero
// limit returns all of them.
func (f *Finder) Ids(ctx context.Context, limit int) ([]string, error) {
	p, err := f.prepare(ctx, "find")
	if err != nil {
		return nil, err
	}
	return f.ids(ctx, p, limit)
}

func (f *Finder) ids(ctx context.Context, p dialect.Predicate, limit int) ([]string, error) {
	var key string
	if f.caching() {
		key = f.cacheKey("find", p, limit)
		var ids []string
		if f.cached(ctx, key, &ids) {
			return ids, nil
		}
	}
	docs, err := f.find(ctx, p, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID()
	}
	if key != "" {
		f.store(ctx, key, ids)
	}
	return ids, nil
}

func (f *Finder) find(ctx context.Context, p dialect.Predicate, limit int) ([]dialect.Document, error) {
	if limit < 0 {
		return nil, NewQueryError(f.info.name, "find", errors.New("negative limit"))
	}
	docs, err := f.mgr.drv.Find(ctx, f.info.collection, p, dialect.FindOptions{
		Sort:  f.sort,
		Skip:  f.skip,
		Limit: limit,
	})
	if err != nil {
		return nil, NewQueryError(f.info.name, "find", err)
	}
	return docs, nil
}

// Get returns at most limit matching entities; a zero limit returns all of
// them.
func (f *Finder) Get(ctx context.Context, limit int) ([]*Entity, error) {
	p, err := f.prepare(ctx, "find")
	if err != nil {
		return nil, err
	}
	if f.caching() {
		ids, err := f.ids(ctx, p, limit)
		if err != nil {
			return nil, err
		}
		return f.byIDs(ctx, ids)
	}
	docs, err := f.find(ctx, p, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Entity, 0, len(docs))
	for _, doc := range docs {
		e, err := f.mgr.materialize(f.info, doc)
		if err != nil {
			return nil, NewQueryError(f.info.name, "find", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// byIDs resolves identifiers in order, leaving out vanished documents.
func (f *Finder) byIDs(ctx context.Context, ids []string) ([]*Entity, error) {
	refs := make([]dialect.Ref, len(ids))
	for i, id := range ids {
		refs[i] = dialect.Ref{Collection: f.info.collection, ID: id}
	}
	targets, err := f.mgr.Dereference(ctx, refs)
	if err != nil {
		return nil, NewQueryError(f.info.name, "find", err)
	}
	out := make([]*Entity, 0, len(targets))
	for _, t := range targets {
		if e, ok := t.(*Entity); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// First returns the first matching entity, or nil.
func (f *Finder) First(ctx context.Context) (*Entity, error) {
	ents, err := f.Get(ctx, 1)
	if err != nil || len(ents) == 0 {
		return nil, err
	}
	return ents[0], nil
}

// Count returns the number of matching documents. Skip is ignored.
func (f *Finder) Count(ctx context.Context) (int, error) {
	p, err := f.prepare(ctx, "count")
	if err != nil {
		return 0, err
	}
	var key string
	if f.caching() {
		key = f.cacheKey("count", p, 0)
		var n int
		if f.cached(ctx, key, &n) {
			return n, nil
		}
	}
	n, err := f.mgr.drv.Count(ctx, f.info.collection, p)
	if err != nil {
		return 0, NewQueryError(f.info.name, "count", err)
	}
	if key != "" {
		f.store(ctx, key, n)
	}
	return n, nil
}

// Delete deletes every matching entity through Entity.Delete, so hooks,
// events and policies apply, and returns how many were deleted.
func (f *Finder) Delete(ctx context.Context) (int, error) {
	ents, err := f.Get(ctx, 0)
	if err != nil {
		return 0, err
	}
	for i, e := range ents {
		if err := e.Delete(ctx); err != nil {
			return i, err
		}
	}
	return len(ents), nil
}
