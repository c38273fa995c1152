package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/pytsite/odm/dialect"
)

// validIdentifierRe validates SQL identifiers used for tables and indexes.
var validIdentifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// isValidIdentifier checks if the string is a valid SQL identifier.
func isValidIdentifier(s string) bool {
	return s != "" && len(s) <= 63 && validIdentifierRe.MatchString(s)
}

// quote quotes an identifier the way the dialect expects.
func quote(dialectName, s string) string {
	if dialectName == dialect.MySQL {
		return "`" + s + "`"
	}
	return `"` + s + `"`
}

// ExecQuerier wraps the standard Exec and Query methods.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn wraps an ExecQuerier with the dialect it speaks and prefixes
// the errors it returns.
type Conn struct {
	ExecQuerier
	dialect string
}

// Exec executes a statement and returns the number of affected rows.
func (c Conn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("dialect/sql: exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Not every driver reports affected rows.
		return -1, nil
	}
	return n, nil
}

// Query executes a query and calls scan for every returned row.
func (c Conn) Query(ctx context.Context, query string, args []any, scan func(ColumnScanner) error) (rerr error) {
	rows, err := c.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("dialect/sql: query: %w", err)
	}
	defer func() { rerr = errors.Join(rerr, rows.Close()) }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("dialect/sql: query: %w", err)
	}
	return nil
}

// ColumnScanner is the interface that wraps the standard
// sql.Rows methods used for scanning database rows.
type ColumnScanner interface {
	Columns() ([]string, error)
	Scan(dest ...any) error
}

// placeholder returns the n-th (1-based) bind parameter of the dialect.
func placeholder(dialectName string, n int) string {
	if dialectName == dialect.Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// placeholders returns a comma separated list of count bind parameters
// starting at position from.
func placeholders(dialectName string, from, count int) string {
	ps := make([]string, count)
	for i := range ps {
		ps[i] = placeholder(dialectName, from+i)
	}
	return strings.Join(ps, ", ")
}
