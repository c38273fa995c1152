package dialect_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pytsite/odm/dialect"
)

func TestParseOp(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want dialect.Op
	}{
		{"=", dialect.OpEQ},
		{" EQ ", dialect.OpEQ},
		{"<>", dialect.OpNEQ},
		{"$gt", dialect.OpGT},
		{"gte", dialect.OpGTE},
		{"<", dialect.OpLT},
		{"lte", dialect.OpLTE},
		{"IN", dialect.OpIn},
		{"not in", dialect.OpNotIn},
		{"~*", dialect.OpRegex},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := dialect.ParseOp(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	_, err := dialect.ParseOp("like")
	assert.Error(t, err)
	assert.True(t, dialect.OpNotIn.Multi())
	assert.False(t, dialect.OpEQ.Multi())
}

func TestSimplify(t *testing.T) {
	t.Parallel()
	a, b, c := dialect.EQ("a", 1), dialect.EQ("b", 2), dialect.EQ("c", 3)
	tests := []struct {
		name string
		in   dialect.Predicate
		want dialect.Predicate
	}{
		{"Nil", nil, nil},
		{"EmptyAnd", dialect.And{}, nil},
		{"SingleAnd", dialect.And{a}, a},
		{"NestedAnd", dialect.And{a, dialect.And{b, c}}, dialect.And{a, b, c}},
		{"NestedOr", dialect.Or{a, dialect.Or{b, c}}, dialect.Or{a, b, c}},
		{"UnconstrainedBranch", dialect.Or{a, dialect.And{}}, nil},
		{"Mixed", dialect.And{dialect.Or{a}, dialect.Or{b, c}}, dialect.And{a, dialect.Or{b, c}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dialect.Simplify(tt.in))
		})
	}
}

func TestPredicateString(t *testing.T) {
	t.Parallel()
	p := dialect.And{dialect.EQ("status", "published"), dialect.Or{dialect.GT("views", 10), dialect.Regex("title", "^go")}}
	assert.Equal(t, "(status eq published AND (views gt 10 OR title regex ^go))", p.String())
	assert.Equal(t, dialect.Cmp{Field: dialect.IDKey, Op: dialect.OpIn, Value: []any{"1", "2"}}, dialect.IDIn("1", "2"))
}

func TestMatch(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ref := dialect.Ref{Collection: "tags", ID: "1"}
	doc := dialect.Document{
		"title":  "Hello World",
		"views":  int64(10),
		"score":  2.5,
		"at":     at,
		"tag":    ref,
		"tags":   []dialect.Ref{ref},
		"labels": []any{"go", "odm"},
		"meta":   map[string]any{"lang": "en"},
		"empty":  []any{},
		"nil":    nil,
	}
	tests := []struct {
		name string
		p    dialect.Predicate
		want bool
	}{
		{"EQ", dialect.EQ("title", "Hello World"), true},
		{"EQNumberTypes", dialect.EQ("views", 10), true},
		{"EQFloat", dialect.EQ("score", float32(2.5)), true},
		{"NEQ", dialect.NEQ("views", 10), false},
		{"GT", dialect.GT("views", 9), true},
		{"GTString", dialect.GT("views", "9"), false},
		{"LTE", dialect.LTE("score", 2.5), true},
		{"Time", dialect.LT("at", at.Add(time.Second)), true},
		{"Ref", dialect.EQ("tag", ref), true},
		{"RefList", dialect.EQ("tags", ref), true},
		{"ListElement", dialect.EQ("labels", "odm"), true},
		{"In", dialect.In("labels", "x", "go"), true},
		{"NotIn", dialect.NotIn("views", 1, 2), true},
		{"Regex", dialect.Regex("title", "^hello"), true},
		{"RegexNonString", dialect.Regex("views", "1"), false},
		{"Nested", dialect.EQ("meta.lang", "en"), true},
		{"MissingIsNil", dialect.EQ("missing", nil), true},
		{"NilField", dialect.EQ("nil", nil), true},
		{"MissingRange", dialect.GT("missing", 0), false},
		{"EmptyList", dialect.EQ("empty", []any{}), true},
		{"And", dialect.And{dialect.EQ("views", 10), dialect.EQ("title", "x")}, false},
		{"Or", dialect.Or{dialect.EQ("views", 1), dialect.EQ("title", "Hello World")}, true},
		{"EmptyOr", dialect.Or{}, true},
		{"NilPredicate", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dialect.Match(doc, tt.p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := dialect.Match(doc, dialect.Regex("title", "("))
	assert.Error(t, err)
	_, err = dialect.Match(doc, dialect.Cmp{Field: "views", Op: dialect.OpIn, Value: 1})
	assert.Error(t, err)
	_, err = dialect.Match(doc, dialect.Cmp{Op: dialect.OpEQ})
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ordered := []any{
		nil,
		int64(-1),
		0.5,
		uint8(2),
		"a",
		"b",
		map[string]any{"a": 1},
		[]any{1},
		[]any{1, 2},
		dialect.Ref{Collection: "a", ID: "2"},
		dialect.Ref{Collection: "b", ID: "1"},
		false,
		true,
		at,
		at.Add(time.Hour),
	}
	for i := 1; i < len(ordered); i++ {
		a, b := ordered[i-1], ordered[i]
		assert.Negative(t, dialect.Compare(a, b), "%v < %v", a, b)
		assert.Positive(t, dialect.Compare(b, a), "%v > %v", b, a)
		assert.Zero(t, dialect.Compare(a, a))
	}
	assert.True(t, dialect.Equal(int32(3), 3.0))
	assert.False(t, dialect.Equal("3", 3))
	assert.True(t, dialect.Equal([]any{"x"}, []string{"x"}))
}

func TestWire(t *testing.T) {
	t.Parallel()
	ref := dialect.Ref{Collection: "tags", ID: "1"}
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	doc := dialect.Document{
		"tag":  ref,
		"tags": []dialect.Ref{ref},
		"at":   at,
		"meta": map[string]any{"ref": ref},
	}

	wire := dialect.ToWire(doc, nil).(map[string]any)
	assert.Equal(t, map[string]any{"$ref": "tags", "$id": "1"}, wire["tag"])
	assert.Equal(t, []any{ref.Wire()}, wire["tags"])
	assert.Equal(t, at, wire["at"])

	formatted := dialect.ToWire(doc, func(t time.Time) any { return t.Unix() }).(map[string]any)
	assert.Equal(t, at.Unix(), formatted["at"])

	back := dialect.FromWire(wire).(map[string]any)
	assert.Equal(t, ref, back["tag"])
	assert.Equal(t, []any{ref}, back["tags"])
	assert.Equal(t, map[string]any{"ref": ref}, back["meta"])
	assert.Equal(t, time.UTC, back["at"].(time.Time).Location())
	assert.Equal(t, int64(7), dialect.FromWire(int32(7)))

	_, ok := dialect.RefFromWire(map[string]any{"$ref": "tags", "$id": "1", "x": 1})
	assert.False(t, ok)
	assert.True(t, dialect.Ref{}.IsZero())
	assert.Equal(t, "tags:1", ref.String())
}

func TestDocument(t *testing.T) {
	t.Parallel()
	doc := dialect.Document{dialect.IDKey: "1", "list": []any{map[string]any{"k": "v"}}, "refs": []dialect.Ref{{Collection: "a", ID: "b"}}}
	assert.Equal(t, "1", doc.ID())
	assert.Empty(t, dialect.Document{}.ID())

	clone := doc.Clone()
	clone["list"].([]any)[0].(map[string]any)["k"] = "changed"
	clone["refs"].([]dialect.Ref)[0].ID = "changed"
	assert.Equal(t, "v", doc["list"].([]any)[0].(map[string]any)["k"])
	assert.Equal(t, "b", doc["refs"].([]dialect.Ref)[0].ID)
	assert.Nil(t, dialect.Document(nil).Clone())

	assert.Equal(t, []string{"_id", "list", "refs"}, dialect.SortedKeys(doc))

	v, ok := dialect.Lookup(dialect.Document{"a": map[string]any{"b": 1}}, "a.b")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = dialect.Lookup(dialect.Document{"a": 1}, "a.b")
	assert.False(t, ok)
}

func TestIndexSpec(t *testing.T) {
	t.Parallel()
	spec := dialect.IndexSpec{Keys: []dialect.Order{
		{Field: "_created", Direction: dialect.Asc},
		{Field: "options.theme", Direction: dialect.Desc},
	}}
	assert.Equal(t, "created_asc_options_theme_desc", spec.DefaultName())
	assert.Equal(t, []string{"_created", "options.theme"}, spec.Fields())
	assert.Equal(t, "DESC", dialect.Desc.String())
	assert.Equal(t, "ASC", dialect.Asc.String())
}

func TestConstraintError(t *testing.T) {
	t.Parallel()
	cause := errors.New("UNIQUE constraint failed")
	err := &dialect.ConstraintError{Collection: "users", Index: "login_asc", Err: cause}
	assert.Equal(t, "dialect: constraint failed on users (index login_asc): UNIQUE constraint failed", err.Error())
	assert.Equal(t, "dialect: constraint failed on users", (&dialect.ConstraintError{Collection: "users"}).Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, dialect.IsConstraintError(fmt.Errorf("wrap: %w", err)))
	assert.False(t, dialect.IsConstraintError(cause))
	assert.False(t, dialect.IsConstraintError(nil))
}
