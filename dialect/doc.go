// Package dialect provides the storage driver abstraction for the ODM.
//
// This package defines the document-level contract every storage backend
// implements, allowing entities to be persisted in an in-memory store or in
// SQL databases (PostgreSQL, MySQL, SQLite) that keep one JSON document per row.
//
// # Supported Dialects
//
// Each backend is identified by a constant string:
//
//	dialect.Memory   = "memory"
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// # Driver Interface
//
// A Driver operates on collections of documents. Documents are string-keyed
// maps holding primitives (string, int64, float64, bool, time.Time), nested
// maps and slices, and reference handles (Ref):
//
//	type Driver interface {
//	    FindOne(ctx context.Context, coll string, q Predicate) (Document, error)
//	    Find(ctx context.Context, coll string, q Predicate, o FindOptions) ([]Document, error)
//	    Count(ctx context.Context, coll string, q Predicate) (int, error)
//	    Insert(ctx context.Context, coll string, doc Document) (string, error)
//	    Replace(ctx context.Context, coll, id string, doc Document) error
//	    Delete(ctx context.Context, coll, id string) error
//	    DeleteMany(ctx context.Context, coll string, q Predicate) (int, error)
//	    CreateIndex(ctx context.Context, coll string, idx IndexSpec) error
//	    Indexes(ctx context.Context, coll string) ([]string, error)
//	    DropIndex(ctx context.Context, coll, name string) error
//	    Dereference(ctx context.Context, ref Ref) (Document, error)
//	    Dialect() string
//	    Close() error
//	}
//
// # Predicates
//
// Queries are expressed as a small predicate tree that every driver maps onto
// its own query primitive:
//
//	dialect.And{
//	    dialect.EQ("status", "published"),
//	    dialect.Or{dialect.GT("views", 10), dialect.Regex("title", "^go")},
//	}
//
// Match evaluates a predicate against a document in process; the memory
// driver uses it directly and the SQL driver uses it as the reference
// semantics for its compiled statements.
//
// # Usage
//
//	drv := memory.New()
//	mgr := odm.NewManager(drv)
//
//	drv, err := sql.Open(dialect.SQLite, "file:odm.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//
// # Sub-packages
//
//   - dialect/memory: in-memory driver with snapshot persistence
//   - dialect/sql: SQL document driver, statistics and constraint errors
package dialect
