package dialect

import (
	"fmt"
	"strings"
)

// Op is a comparison operator.
type Op string

// Comparison operators.
const (
	OpEQ    Op = "eq"
	OpNEQ   Op = "ne"
	OpGT    Op = "gt"
	OpGTE   Op = "gte"
	OpLT    Op = "lt"
	OpLTE   Op = "lte"
	OpIn    Op = "in"
	OpNotIn Op = "nin"
	OpRegex Op = "regex"
)

// opAliases maps every accepted spelling to its canonical operator.
var opAliases = map[string]Op{
	"=": OpEQ, "==": OpEQ, "eq": OpEQ, "$eq": OpEQ,
	"!=": OpNEQ, "<>": OpNEQ, "ne": OpNEQ, "neq": OpNEQ, "$ne": OpNEQ,
	">": OpGT, "gt": OpGT, "$gt": OpGT,
	">=": OpGTE, "gte": OpGTE, "$gte": OpGTE,
	"<": OpLT, "lt": OpLT, "$lt": OpLT,
	"<=": OpLTE, "lte": OpLTE, "$lte": OpLTE,
	"in": OpIn, "$in": OpIn,
	"nin": OpNotIn, "not in": OpNotIn, "not_in": OpNotIn, "$nin": OpNotIn,
	"regex": OpRegex, "regex_i": OpRegex, "$regex": OpRegex, "~": OpRegex, "~*": OpRegex,
}

// ParseOp returns the canonical operator for s.
func ParseOp(s string) (Op, error) {
	if op, ok := opAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return op, nil
	}
	return "", fmt.Errorf("dialect: unknown comparison operator %q", s)
}

// Multi reports whether the operator takes a list of values.
func (o Op) Multi() bool { return o == OpIn || o == OpNotIn }

// Predicate is a node of a query tree: Cmp, And or Or.
// A nil Predicate matches every document.
type Predicate interface {
	predicate()
	String() string
}

// Cmp compares one document field with a value.
// For OpIn and OpNotIn the value is a []any; for OpRegex it is a pattern
// matched case-insensitively.
type Cmp struct {
	Field string
	Op    Op
	Value any
}

// And matches when every child matches. An empty And matches everything.
type And []Predicate

// Or matches when at least one child matches. An empty Or matches everything.
type Or []Predicate

func (Cmp) predicate() {}
func (And) predicate() {}
func (Or) predicate()  {}

func (c Cmp) String() string { return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value) }

func (a And) String() string { return joinPredicates(" AND ", a) }

func (o Or) String() string { return joinPredicates(" OR ", o) }

func joinPredicates(sep string, ps []Predicate) string {
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		if p != nil {
			parts = append(parts, p.String())
		}
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// EQ returns a predicate that checks if the field equals the given value.
func EQ(field string, v any) Cmp { return Cmp{Field: field, Op: OpEQ, Value: v} }

// NEQ returns a predicate that checks if the field does not equal the given value.
func NEQ(field string, v any) Cmp { return Cmp{Field: field, Op: OpNEQ, Value: v} }

// GT returns a predicate that checks if the field is greater than the given value.
func GT(field string, v any) Cmp { return Cmp{Field: field, Op: OpGT, Value: v} }

// GTE returns a predicate that checks if the field is greater than or equal to the given value.
func GTE(field string, v any) Cmp { return Cmp{Field: field, Op: OpGTE, Value: v} }

// LT returns a predicate that checks if the field is less than the given value.
func LT(field string, v any) Cmp { return Cmp{Field: field, Op: OpLT, Value: v} }

// LTE returns a predicate that checks if the field is less than or equal to the given value.
func LTE(field string, v any) Cmp { return Cmp{Field: field, Op: OpLTE, Value: v} }

// In returns a predicate that checks if the field value is in the given list.
func In(field string, vs ...any) Cmp { return Cmp{Field: field, Op: OpIn, Value: vs} }

// NotIn returns a predicate that checks if the field value is not in the given list.
func NotIn(field string, vs ...any) Cmp { return Cmp{Field: field, Op: OpNotIn, Value: vs} }

// Regex returns a predicate that checks if the field matches the pattern, ignoring case.
func Regex(field, pattern string) Cmp { return Cmp{Field: field, Op: OpRegex, Value: pattern} }

// IDIn returns a predicate that matches the documents with the given identifiers.
func IDIn(ids ...string) Cmp {
	vs := make([]any, len(ids))
	for i, id := range ids {
		vs[i] = id
	}
	return In(IDKey, vs...)
}

// Simplify flattens nested groups of the same kind and drops empty groups.
// It returns nil when nothing constrains the query.
func Simplify(p Predicate) Predicate {
	switch p := p.(type) {
	case nil:
		return nil
	case And:
		var out And
		for _, c := range p {
			switch c := Simplify(c).(type) {
			case nil:
			case And:
				out = append(out, c...)
			default:
				out = append(out, c)
			}
		}
		switch len(out) {
		case 0:
			return nil
		case 1:
			return out[0]
		}
		return out
	case Or:
		var out Or
		for _, c := range p {
			switch c := Simplify(c).(type) {
			case nil:
				// An unconstrained branch makes the whole disjunction true.
				return nil
			case Or:
				out = append(out, c...)
			default:
				out = append(out, c)
			}
		}
		switch len(out) {
		case 0:
			return nil
		case 1:
			return out[0]
		}
		return out
	default:
		return p
	}
}
