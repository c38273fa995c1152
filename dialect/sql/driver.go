package sql

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/pytsite/odm/dialect"

	// Database drivers registered with database/sql.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// indexSep separates the collection name from the index name in the
// physical index name, as index names are global in some databases.
const indexSep = "__"

// Driver is a dialect.Driver storing documents in SQL tables. Each
// collection is a table (seq, id, doc) created on first use, where doc
// holds the JSON encoded document.
type Driver struct {
	Conn
	db     *sql.DB
	stats  *StatsConn
	log    *slog.Logger
	newID  func() string
	mu     sync.Mutex
	tables map[string]struct{}
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger of the driver.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		d.log = l
	}
}

// WithIDFunc sets the generator of document identifiers.
func WithIDFunc(f func() string) Option {
	return func(d *Driver) {
		d.newID = f
	}
}

// WithStats wraps the connection with query statistics collection.
func WithStats(opts ...StatsOption) Option {
	return func(d *Driver) {
		d.stats = NewStatsConn(d.ExecQuerier, opts...)
		d.ExecQuerier = d.stats
	}
}

// Open opens a database with database/sql and returns a Driver for it.
// The dialect name is also the database/sql driver name.
func Open(dialectName, source string, opts ...Option) (*Driver, error) {
	switch dialectName {
	case dialect.SQLite, dialect.Postgres, dialect.MySQL:
	default:
		return nil, fmt.Errorf("dialect/sql: unsupported dialect %q", dialectName)
	}
	db, err := sql.Open(dialectName, source)
	if err != nil {
		return nil, err
	}
	if dialectName == dialect.SQLite {
		// A single connection keeps ":memory:" databases alive and
		// serializes writers.
		db.SetMaxOpenConns(1)
	}
	return OpenDB(dialectName, db, opts...), nil
}

// OpenDB wraps the given database/sql.DB with a Driver.
func OpenDB(dialectName string, db *sql.DB, opts ...Option) *Driver {
	d := &Driver{
		Conn:   Conn{ExecQuerier: db, dialect: dialectName},
		db:     db,
		log:    slog.Default(),
		newID:  func() string { return uuid.Must(uuid.NewV7()).String() },
		tables: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DB returns the underlying *sql.DB instance.
func (d *Driver) DB() *sql.DB { return d.db }

// QueryStats returns the query statistics, or nil if the driver was
// opened without WithStats.
func (d *Driver) QueryStats() *QueryStats {
	if d.stats == nil {
		return nil
	}
	return d.stats.QueryStats()
}

// Dialect implements the dialect.Driver interface.
func (d *Driver) Dialect() string { return d.dialect }

// Close closes the underlying connection.
func (d *Driver) Close() error { return d.db.Close() }

// table returns the quoted table name of a collection, creating the
// table if needed.
func (d *Driver) table(ctx context.Context, coll string) (string, error) {
	if !isValidIdentifier(coll) {
		return "", fmt.Errorf("dialect/sql: invalid collection name %q", coll)
	}
	tbl := quote(d.dialect, coll)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tables[coll]; ok {
		return tbl, nil
	}
	var ddl string
	switch d.dialect {
	case dialect.Postgres:
		ddl = "CREATE TABLE IF NOT EXISTS %s (seq BIGSERIAL PRIMARY KEY, id TEXT NOT NULL UNIQUE, doc JSONB NOT NULL)"
	case dialect.MySQL:
		ddl = "CREATE TABLE IF NOT EXISTS %s (seq BIGINT AUTO_INCREMENT PRIMARY KEY, id VARCHAR(64) NOT NULL UNIQUE, doc JSON NOT NULL)"
	default:
		ddl = "CREATE TABLE IF NOT EXISTS %s (seq INTEGER PRIMARY KEY AUTOINCREMENT, id TEXT NOT NULL UNIQUE, doc TEXT NOT NULL)"
	}
	if _, err := d.Exec(ctx, fmt.Sprintf(ddl, tbl)); err != nil {
		return "", err
	}
	d.tables[coll] = struct{}{}
	d.log.Debug("collection table ready", "dialect", d.dialect, "collection", coll)
	return tbl, nil
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
	tbl, err := d.table(ctx, coll)
	if err != nil {
		return nil, err
	}
	b := newBuilder(d.dialect)
	where, err := b.Where(q)
	if err != nil {
		return nil, err
	}
	order, err := b.OrderBy(o.Sort)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT id, doc FROM %s WHERE %s%s%s", tbl, where, order, b.Paginate(o.Skip, o.Limit))
	var docs []dialect.Document
	err = d.Query(ctx, query, b.args, func(s ColumnScanner) error {
		doc, err := scanDocument(s)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// Count implements the dialect.Driver interface.
func (d *Driver) Count(ctx context.Context, coll string, q dialect.Predicate) (int, error) {
	tbl, err := d.table(ctx, coll)
	if err != nil {
		return 0, err
	}
	b := newBuilder(d.dialect)
	where, err := b.Where(q)
	if err != nil {
		return 0, err
	}
	var n int
	err = d.Query(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", tbl, where), b.args, func(s ColumnScanner) error {
		return s.Scan(&n)
	})
	return n, err
}

// Insert implements the dialect.Driver interface.
func (d *Driver) Insert(ctx context.Context, coll string, doc dialect.Document) (string, error) {
	tbl, err := d.table(ctx, coll)
	if err != nil {
		return "", err
	}
	id := doc.ID()
	if id == "" {
		id = d.newID()
	}
	body, err := encodeDocument(doc)
	if err != nil {
		return "", err
	}
	query := fmt.Sprintf("INSERT INTO %s (id, doc) VALUES (%s)", tbl, placeholders(d.dialect, 1, 2))
	if _, err := d.Exec(ctx, query, id, body); err != nil {
		return "", constraintError(coll, err)
	}
	return id, nil
}

// Replace implements the dialect.Driver interface.
func (d *Driver) Replace(ctx context.Context, coll, id string, doc dialect.Document) error {
	tbl, err := d.table(ctx, coll)
	if err != nil {
		return err
	}
	body, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE %s SET doc = %s WHERE id = %s", tbl, placeholder(d.dialect, 1), placeholder(d.dialect, 2))
	n, err := d.Exec(ctx, query, body, id)
	if err != nil {
		return constraintError(coll, err)
	}
	// MySQL reports changed rows rather than matched rows.
	if n == 0 && d.dialect != dialect.MySQL {
		return fmt.Errorf("dialect/sql: replace %s/%s: document does not exist", coll, id)
	}
	return nil
}

// Delete implements the dialect.Driver interface.
func (d *Driver) Delete(ctx context.Context, coll, id string) error {
	tbl, err := d.table(ctx, coll)
	if err != nil {
		return err
	}
	_, err = d.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = %s", tbl, placeholder(d.dialect, 1)), id)
	return err
}

// DeleteMany implements the dialect.Driver interface.
func (d *Driver) DeleteMany(ctx context.Context, coll string, q dialect.Predicate) (int, error) {
	tbl, err := d.table(ctx, coll)
	if err != nil {
		return 0, err
	}
	b := newBuilder(d.dialect)
	where, err := b.Where(q)
	if err != nil {
		return 0, err
	}
	n, err := d.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", tbl, where), b.args...)
	return int(n), err
}

// CreateIndex implements the dialect.Driver interface.
func (d *Driver) CreateIndex(ctx context.Context, coll string, idx dialect.IndexSpec) error {
	if len(idx.Keys) == 0 {
		return fmt.Errorf("dialect/sql: index on %s has no keys", coll)
	}
	if idx.Name == "" {
		idx.Name = idx.DefaultName()
	}
	tbl, err := d.table(ctx, coll)
	if err != nil {
		return err
	}
	name := coll + indexSep + idx.Name
	if !isValidIdentifier(name) {
		return fmt.Errorf("dialect/sql: invalid index name %q", name)
	}
	names, err := d.Indexes(ctx, coll)
	if err != nil {
		return err
	}
	if slices.Contains(names, idx.Name) {
		return nil
	}
	b := newBuilder(d.dialect)
	exprs := make([]string, len(idx.Keys))
	for i, k := range idx.Keys {
		if exprs[i], err = b.IndexExpr(k); err != nil {
			return err
		}
	}
	kw := "INDEX"
	if idx.Unique {
		kw = "UNIQUE INDEX"
	}
	ddl := fmt.Sprintf("CREATE %s %s ON %s (%s)", kw, quote(d.dialect, name), tbl, strings.Join(exprs, ", "))
	if _, err := d.Exec(ctx, ddl); err != nil {
		return constraintError(coll, err)
	}
	d.log.Debug("index created", "collection", coll, "index", idx.Name, "unique", idx.Unique)
	return nil
}

// Indexes implements the dialect.Driver interface.
func (d *Driver) Indexes(ctx context.Context, coll string) ([]string, error) {
	if _, err := d.table(ctx, coll); err != nil {
		return nil, err
	}
	var query string
	switch d.dialect {
	case dialect.Postgres:
		query = "SELECT indexname FROM pg_indexes WHERE tablename = $1"
	case dialect.MySQL:
		query = "SELECT DISTINCT INDEX_NAME FROM information_schema.STATISTICS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?"
	default:
		query = "SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ?"
	}
	var names []string
	err := d.Query(ctx, query, []any{coll}, func(s ColumnScanner) error {
		var name string
		if err := s.Scan(&name); err != nil {
			return err
		}
		if short, ok := strings.CutPrefix(name, coll+indexSep); ok {
			names = append(names, short)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return append([]string{dialect.IDIndex}, names...), nil
}

// DropIndex implements the dialect.Driver interface.
func (d *Driver) DropIndex(ctx context.Context, coll, name string) error {
	if name == dialect.IDIndex {
		return fmt.Errorf("dialect/sql: cannot drop the identifier index of %s", coll)
	}
	names, err := d.Indexes(ctx, coll)
	if err != nil {
		return err
	}
	if !slices.Contains(names, name) {
		return fmt.Errorf("dialect/sql: index %s not found on %s", name, coll)
	}
	ddl := "DROP INDEX " + quote(d.dialect, coll+indexSep+name)
	if d.dialect == dialect.MySQL {
		ddl += " ON " + quote(d.dialect, coll)
	}
	_, err = d.Exec(ctx, ddl)
	return err
}

// Dereference implements the dialect.Driver interface.
func (d *Driver) Dereference(ctx context.Context, ref dialect.Ref) (dialect.Document, error) {
	if ref.ID == "" {
		return nil, nil
	}
	return d.FindOne(ctx, ref.Collection, dialect.EQ(dialect.IDKey, ref.ID))
}

// encodeDocument returns the JSON text stored for doc. The identifier
// lives in its own column.
func encodeDocument(doc dialect.Document) (string, error) {
	body := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != dialect.IDKey {
			body[k] = v
		}
	}
	return jsonText(body)
}

// scanDocument scans an (id, doc) row.
func scanDocument(s ColumnScanner) (dialect.Document, error) {
	var (
		id  string
		raw []byte
	)
	if err := s.Scan(&id, &raw); err != nil {
		return nil, fmt.Errorf("dialect/sql: scan document: %w", err)
	}
	return decodeDocument(id, raw)
}

// decodeDocument decodes the JSON text of a stored document.
func decodeDocument(id string, raw []byte) (dialect.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("dialect/sql: decode document %s: %w", id, err)
	}
	doc, _ := dialect.FromWire(numbers(m)).(map[string]any)
	if doc == nil {
		doc = make(map[string]any)
	}
	doc[dialect.IDKey] = id
	return doc, nil
}

// numbers replaces json.Number values with int64 or float64.
func numbers(v any) any {
	switch v := v.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		for k, e := range v {
			v[k] = numbers(e)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = numbers(e)
		}
		return v
	default:
		return v
	}
}

var _ dialect.Driver = (*Driver)(nil)
