// Package sql implements the document driver for SQL databases
// (PostgreSQL, MySQL and SQLite).
//
// Each collection is stored in its own table, created on first use:
//
//	seq  auto-increment primary key, the storage order
//	id   document identifier, unique
//	doc  JSON encoded document, without the identifier
//
// Predicates are compiled to JSON path expressions of the dialect:
//
//	dialect.EQ("title", "go")      // json_extract(doc, '$.title') = ?      (SQLite)
//	dialect.GT("views", 10)        // (doc #> '{views}') > $1::jsonb       (PostgreSQL)
//	dialect.Regex("title", "^go")  // REGEXP_LIKE(..., ?, 'i')             (MySQL)
//
// Equality on a list field matches when any element is equal, like the
// in-memory driver. Time values are stored as fixed-width UTC strings
// (see TimeLayout) and references as {"$ref": collection, "$id": id}
// objects.
//
// # Statistics
//
// WithStats wraps the connection with query statistics and slow query
// detection:
//
//	drv, err := sql.Open(dialect.Postgres, dsn,
//	    sql.WithStats(
//	        sql.WithSlowThreshold(200*time.Millisecond),
//	        sql.WithSlowQueryLog(logger),
//	    ),
//	)
//	fmt.Println(drv.QueryStats().Stats())
package sql
