package sql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pytsite/odm/dialect"
)

func TestBuilderWhere(t *testing.T) {
	t.Parallel()
	sqliteEQ := `(json_extract(doc, '$.tags') = ? OR (json_type(doc, '$.tags') = 'array' AND EXISTS (SELECT 1 FROM json_each(doc, '$.tags') WHERE json_each.value = ?)))`
	tests := []struct {
		name     string
		dialect  string
		pred     dialect.Predicate
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "nil",
			dialect: dialect.SQLite,
			wantSQL: "1 = 1",
		},
		{
			name:     "sqlite eq",
			dialect:  dialect.SQLite,
			pred:     dialect.EQ("tags", "go"),
			wantSQL:  sqliteEQ,
			wantArgs: []any{"go", "go"},
		},
		{
			name:     "sqlite ne bool",
			dialect:  dialect.SQLite,
			pred:     dialect.NEQ("tags", true),
			wantSQL:  "NOT COALESCE(" + sqliteEQ + ", FALSE)",
			wantArgs: []any{int64(1), int64(1)},
		},
		{
			name:     "sqlite range time",
			dialect:  dialect.SQLite,
			pred:     dialect.LT("created", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)),
			wantSQL:  "json_extract(doc, '$.created') < ?",
			wantArgs: []any{"2024-01-02T03:04:05.000000000Z"},
		},
		{
			name:     "sqlite regex",
			dialect:  dialect.SQLite,
			pred:     dialect.Regex("title", "^go"),
			wantSQL:  "json_extract(doc, '$.title') REGEXP ?",
			wantArgs: []any{"^go"},
		},
		{
			name:    "sqlite empty in",
			dialect: dialect.SQLite,
			pred:    dialect.In("n"),
			wantSQL: "FALSE",
		},
		{
			name:     "postgres range",
			dialect:  dialect.Postgres,
			pred:     dialect.GT("n", 3),
			wantSQL:  "(doc #> '{n}') > $1::jsonb",
			wantArgs: []any{"3"},
		},
		{
			name:     "postgres ref",
			dialect:  dialect.Postgres,
			pred:     dialect.EQ("author", dialect.Ref{Collection: "users", ID: "u1"}),
			wantSQL:  "((doc #> '{author}') = $1::jsonb OR (jsonb_typeof((doc #> '{author}')) = 'array' AND (doc #> '{author}') @> jsonb_build_array($2::jsonb)))",
			wantArgs: []any{`{"$id":"u1","$ref":"users"}`, `{"$id":"u1","$ref":"users"}`},
		},
		{
			name:    "postgres eq nil",
			dialect: dialect.Postgres,
			pred:    dialect.EQ("x", nil),
			wantSQL: "((doc #> '{x}') IS NULL OR (doc #> '{x}') = 'null'::jsonb)",
		},
		{
			name:     "postgres dotted path regex",
			dialect:  dialect.Postgres,
			pred:     dialect.Regex("meta.title", "x"),
			wantSQL:  "(doc #>> '{meta,title}') ~* $1",
			wantArgs: []any{"x"},
		},
		{
			name:     "postgres id in",
			dialect:  dialect.Postgres,
			pred:     dialect.IDIn("a", "b"),
			wantSQL:  "id IN ($1, $2)",
			wantArgs: []any{"a", "b"},
		},
		{
			name:     "mysql eq",
			dialect:  dialect.MySQL,
			pred:     dialect.EQ("tags", "go"),
			wantSQL:  "JSON_CONTAINS(doc, CAST(? AS JSON), '$.tags')",
			wantArgs: []any{`"go"`},
		},
		{
			name:     "mysql regex",
			dialect:  dialect.MySQL,
			pred:     dialect.Regex("title", "^a"),
			wantSQL:  "REGEXP_LIKE(JSON_UNQUOTE(JSON_EXTRACT(doc, '$.title')), ?, 'i')",
			wantArgs: []any{"^a"},
		},
		{
			name:    "and or",
			dialect: dialect.SQLite,
			pred: dialect.And{
				dialect.LT("n", 1),
				dialect.Or{dialect.EQ(dialect.IDKey, "x"), dialect.NEQ(dialect.IDKey, "y")},
			},
			wantSQL:  "(json_extract(doc, '$.n') < ? AND (id = ? OR id <> ?))",
			wantArgs: []any{int64(1), "x", "y"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := newBuilder(tt.dialect)
			got, err := b.Where(tt.pred)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, got)
			assert.Equal(t, tt.wantArgs, b.args)
		})
	}
}

func TestBuilderWhereErrors(t *testing.T) {
	t.Parallel()
	b := newBuilder(dialect.SQLite)
	_, err := b.Where(dialect.EQ("title; DROP TABLE x", 1))
	assert.Error(t, err)
	_, err = b.Where(dialect.Cmp{Field: "title", Op: dialect.OpRegex, Value: 1})
	assert.Error(t, err)
	_, err = b.Where(dialect.Cmp{Field: "title", Op: dialect.OpIn, Value: 1})
	assert.Error(t, err)
}

func TestBuilderOrderBy(t *testing.T) {
	t.Parallel()
	keys := []dialect.Order{{Field: "title", Direction: dialect.Desc}, {Field: dialect.IDKey, Direction: dialect.Asc}}

	got, err := newBuilder(dialect.SQLite).OrderBy(keys)
	require.NoError(t, err)
	assert.Equal(t, " ORDER BY json_extract(doc, '$.title') DESC, id ASC, seq ASC", got)

	got, err = newBuilder(dialect.Postgres).OrderBy(keys[:1])
	require.NoError(t, err)
	assert.Equal(t, " ORDER BY (doc #> '{title}') DESC NULLS LAST, seq ASC", got)

	got, err = newBuilder(dialect.MySQL).OrderBy(nil)
	require.NoError(t, err)
	assert.Equal(t, " ORDER BY seq ASC", got)
}

func TestBuilderPaginate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		dialect     string
		skip, limit int
		want        string
	}{
		{dialect.SQLite, 0, 0, ""},
		{dialect.SQLite, 0, 5, " LIMIT 5"},
		{dialect.SQLite, 2, 5, " LIMIT 5 OFFSET 2"},
		{dialect.SQLite, 2, 0, " LIMIT -1 OFFSET 2"},
		{dialect.MySQL, 2, 0, " LIMIT 18446744073709551615 OFFSET 2"},
		{dialect.Postgres, 2, 0, " OFFSET 2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, newBuilder(tt.dialect).Paginate(tt.skip, tt.limit), "%s skip=%d limit=%d", tt.dialect, tt.skip, tt.limit)
	}
}

func TestBuilderIndexExpr(t *testing.T) {
	t.Parallel()
	k := dialect.Order{Field: "title", Direction: dialect.Asc}
	got, err := newBuilder(dialect.SQLite).IndexExpr(k)
	require.NoError(t, err)
	assert.Equal(t, "json_extract(doc, '$.title') ASC", got)
	got, err = newBuilder(dialect.Postgres).IndexExpr(k)
	require.NoError(t, err)
	assert.Equal(t, "(doc #> '{title}') ASC", got)
	got, err = newBuilder(dialect.MySQL).IndexExpr(k)
	require.NoError(t, err)
	assert.Equal(t, "(CAST(JSON_UNQUOTE(JSON_EXTRACT(doc, '$.title')) AS CHAR(255))) ASC", got)
}
