package sql

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pytsite/odm/dialect"
)

// TimeLayout is the fixed-width layout time values are stored with, so
// that their text form sorts chronologically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) any { return t.UTC().Format(TimeLayout) }

// idColumn holds the document identifier outside of the JSON document.
const idColumn = "id"

// builder compiles predicates and find options into SQL fragments
// of one dialect, collecting the bind arguments in order.
type builder struct {
	dialect string
	args    []any
}

func newBuilder(dialectName string) *builder {
	return &builder{dialect: dialectName}
}

// bind appends v to the arguments and returns its placeholder.
func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return placeholder(b.dialect, len(b.args))
}

// Where returns the SQL condition of p. A nil predicate yields "1 = 1".
func (b *builder) Where(p dialect.Predicate) (string, error) {
	switch p := dialect.Simplify(p).(type) {
	case nil:
		return "1 = 1", nil
	case dialect.Cmp:
		return b.cmp(p)
	case dialect.And:
		return b.group(" AND ", p)
	case dialect.Or:
		return b.group(" OR ", p)
	default:
		return "", fmt.Errorf("dialect/sql: unsupported predicate %T", p)
	}
}

func (b *builder) group(sep string, ps []dialect.Predicate) (string, error) {
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		s, err := b.Where(p)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (b *builder) cmp(c dialect.Cmp) (string, error) {
	if c.Field == dialect.IDKey {
		return b.idCmp(c)
	}
	segs, err := fieldSegments(c.Field)
	if err != nil {
		return "", err
	}
	switch c.Op {
	case dialect.OpEQ:
		return b.eq(segs, c.Value)
	case dialect.OpNEQ:
		e, err := b.eq(segs, c.Value)
		if err != nil {
			return "", err
		}
		return "NOT COALESCE(" + e + ", FALSE)", nil
	case dialect.OpIn, dialect.OpNotIn:
		vs, err := dialect.ListValue(c.Value)
		if err != nil {
			return "", fmt.Errorf("dialect/sql: %s: %w", c.Field, err)
		}
		e := "FALSE"
		if len(vs) > 0 {
			parts := make([]string, len(vs))
			for i, v := range vs {
				if parts[i], err = b.eq(segs, v); err != nil {
					return "", err
				}
			}
			e = "(" + strings.Join(parts, " OR ") + ")"
		}
		if c.Op == dialect.OpNotIn {
			return "NOT COALESCE(" + e + ", FALSE)", nil
		}
		return e, nil
	case dialect.OpGT, dialect.OpGTE, dialect.OpLT, dialect.OpLTE:
		v, err := b.value(c.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", b.extract(segs), rangeOps[c.Op], v), nil
	case dialect.OpRegex:
		pattern, ok := c.Value.(string)
		if !ok {
			return "", fmt.Errorf("dialect/sql: %s: regex pattern must be a string, got %T", c.Field, c.Value)
		}
		return b.regex(b.extractText(segs), pattern), nil
	default:
		return "", fmt.Errorf("dialect/sql: unsupported operator %q", c.Op)
	}
}

var rangeOps = map[dialect.Op]string{
	dialect.OpGT:  ">",
	dialect.OpGTE: ">=",
	dialect.OpLT:  "<",
	dialect.OpLTE: "<=",
}

// idCmp compiles predicates on the identifier column.
func (b *builder) idCmp(c dialect.Cmp) (string, error) {
	col := idColumn
	switch c.Op {
	case dialect.OpIn, dialect.OpNotIn:
		vs, err := dialect.ListValue(c.Value)
		if err != nil {
			return "", fmt.Errorf("dialect/sql: %s: %w", c.Field, err)
		}
		if len(vs) == 0 {
			if c.Op == dialect.OpIn {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		ps := make([]string, len(vs))
		for i, v := range vs {
			ps[i] = b.bind(fmt.Sprint(v))
		}
		kw := "IN"
		if c.Op == dialect.OpNotIn {
			kw = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", col, kw, strings.Join(ps, ", ")), nil
	case dialect.OpRegex:
		pattern, _ := c.Value.(string)
		return b.regex(col, pattern), nil
	case dialect.OpEQ, dialect.OpNEQ:
		if c.Value == nil {
			if c.Op == dialect.OpEQ {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		op := "="
		if c.Op == dialect.OpNEQ {
			op = "<>"
		}
		return fmt.Sprintf("%s %s %s", col, op, b.bind(fmt.Sprint(c.Value))), nil
	default:
		return fmt.Sprintf("%s %s %s", col, rangeOps[c.Op], b.bind(fmt.Sprint(c.Value))), nil
	}
}

// eq matches a field equal to v, or a list field holding v.
func (b *builder) eq(segs []string, v any) (string, error) {
	p := b.extract(segs)
	if v == nil {
		switch b.dialect {
		case dialect.Postgres:
			return fmt.Sprintf("(%s IS NULL OR %s = 'null'::jsonb)", p, p), nil
		case dialect.MySQL:
			return fmt.Sprintf("(%s IS NULL OR JSON_TYPE(%s) = 'NULL')", p, p), nil
		default:
			return p + " IS NULL", nil
		}
	}
	switch b.dialect {
	case dialect.Postgres:
		text, err := jsonText(v)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s = %s::jsonb OR (jsonb_typeof(%s) = 'array' AND %s @> jsonb_build_array(%s::jsonb)))",
			p, b.bind(text), p, p, b.bind(text)), nil
	case dialect.MySQL:
		text, err := jsonText(v)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("JSON_CONTAINS(doc, CAST(%s AS JSON), '%s')", b.bind(text), jsonPath(segs)), nil
	default:
		first, err := sqliteValue(v)
		if err != nil {
			return "", err
		}
		path := jsonPath(segs)
		return fmt.Sprintf("(%s = %s OR (json_type(doc, '%s') = 'array' AND EXISTS (SELECT 1 FROM json_each(doc, '%s') WHERE json_each.value = %s)))",
			p, b.bind(first), path, path, b.bind(first)), nil
	}
}

// value returns the placeholder expression of a comparison operand.
func (b *builder) value(v any) (string, error) {
	switch b.dialect {
	case dialect.Postgres:
		text, err := jsonText(v)
		if err != nil {
			return "", err
		}
		return b.bind(text) + "::jsonb", nil
	case dialect.MySQL:
		text, err := jsonText(v)
		if err != nil {
			return "", err
		}
		return "CAST(" + b.bind(text) + " AS JSON)", nil
	default:
		sv, err := sqliteValue(v)
		if err != nil {
			return "", err
		}
		return b.bind(sv), nil
	}
}

// regex matches the text expression x against pattern, ignoring case.
func (b *builder) regex(x, pattern string) string {
	switch b.dialect {
	case dialect.Postgres:
		return fmt.Sprintf("%s ~* %s", x, b.bind(pattern))
	case dialect.MySQL:
		return fmt.Sprintf("REGEXP_LIKE(%s, %s, 'i')", x, b.bind(pattern))
	default:
		return fmt.Sprintf("%s REGEXP %s", x, b.bind(pattern))
	}
}

// extract returns the expression reading a field out of the document.
func (b *builder) extract(segs []string) string {
	switch b.dialect {
	case dialect.Postgres:
		return fmt.Sprintf("(doc #> '{%s}')", strings.Join(segs, ","))
	case dialect.MySQL:
		return fmt.Sprintf("JSON_EXTRACT(doc, '%s')", jsonPath(segs))
	default:
		return fmt.Sprintf("json_extract(doc, '%s')", jsonPath(segs))
	}
}

// extractText is like extract, but yields unquoted text.
func (b *builder) extractText(segs []string) string {
	switch b.dialect {
	case dialect.Postgres:
		return fmt.Sprintf("(doc #>> '{%s}')", strings.Join(segs, ","))
	case dialect.MySQL:
		return fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(doc, '%s'))", jsonPath(segs))
	default:
		return b.extract(segs)
	}
}

// OrderBy returns the ORDER BY clause for the sort keys. Storage order
// breaks ties.
func (b *builder) OrderBy(keys []dialect.Order) (string, error) {
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		var x string
		if k.Field == dialect.IDKey {
			x = idColumn
		} else {
			segs, err := fieldSegments(k.Field)
			if err != nil {
				return "", err
			}
			x = b.extract(segs)
		}
		dir := k.Direction.String()
		if b.dialect == dialect.Postgres {
			// Match the ordering of the other dialects: nulls sort lowest.
			if k.Direction == dialect.Desc {
				dir += " NULLS LAST"
			} else {
				dir += " NULLS FIRST"
			}
		}
		parts = append(parts, x+" "+dir)
	}
	parts = append(parts, "seq ASC")
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

// Paginate returns the LIMIT/OFFSET clause.
func (b *builder) Paginate(skip, limit int) string {
	var s string
	switch {
	case limit > 0:
		s = fmt.Sprintf(" LIMIT %d", limit)
	case skip > 0 && b.dialect == dialect.SQLite:
		s = " LIMIT -1"
	case skip > 0 && b.dialect == dialect.MySQL:
		s = " LIMIT 18446744073709551615"
	}
	if skip > 0 {
		s += fmt.Sprintf(" OFFSET %d", skip)
	}
	return s
}

// IndexExpr returns the indexed expression of a key.
func (b *builder) IndexExpr(k dialect.Order) (string, error) {
	segs, err := fieldSegments(k.Field)
	if err != nil {
		return "", err
	}
	switch b.dialect {
	case dialect.Postgres:
		return fmt.Sprintf("(doc #> '{%s}') %s", strings.Join(segs, ","), k.Direction), nil
	case dialect.MySQL:
		// Functional key parts need a scalar type.
		return fmt.Sprintf("(CAST(JSON_UNQUOTE(JSON_EXTRACT(doc, '%s')) AS CHAR(255))) %s", jsonPath(segs), k.Direction), nil
	default:
		return fmt.Sprintf("json_extract(doc, '%s') %s", jsonPath(segs), k.Direction), nil
	}
}

// fieldSegments splits and validates a dotted field path.
func fieldSegments(field string) ([]string, error) {
	segs := strings.Split(field, ".")
	for _, s := range segs {
		if !isValidIdentifier(s) {
			return nil, fmt.Errorf("dialect/sql: invalid field path %q", field)
		}
	}
	return segs, nil
}

func jsonPath(segs []string) string {
	return "$." + strings.Join(segs, ".")
}

// jsonText encodes v the way document values are stored.
func jsonText(v any) (string, error) {
	data, err := json.Marshal(dialect.ToWire(v, formatTime))
	if err != nil {
		return "", fmt.Errorf("dialect/sql: encode value: %w", err)
	}
	return string(data), nil
}

// sqliteValue converts v to the SQL value json_extract yields for it.
func sqliteValue(v any) (any, error) {
	switch v := dialect.FromWire(v).(type) {
	case nil, string, int64, float64:
		return v, nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case time.Time:
		return formatTime(v), nil
	default:
		return jsonText(v)
	}
}
