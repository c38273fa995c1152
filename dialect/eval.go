package dialect

import (
	"cmp"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"
)

// Matcher reports whether a document satisfies a compiled predicate.
type Matcher func(Document) bool

// Compile compiles a predicate into a Matcher. Patterns of OpRegex
// comparisons are compiled once, case-insensitively.
func Compile(p Predicate) (Matcher, error) {
	switch p := p.(type) {
	case nil:
		return func(Document) bool { return true }, nil
	case Cmp:
		return compileCmp(p)
	case And:
		ms, err := compileAll(p)
		if err != nil {
			return nil, err
		}
		return func(d Document) bool {
			for _, m := range ms {
				if !m(d) {
					return false
				}
			}
			return true
		}, nil
	case Or:
		ms, err := compileAll(p)
		if err != nil {
			return nil, err
		}
		return func(d Document) bool {
			if len(ms) == 0 {
				return true
			}
			for _, m := range ms {
				if m(d) {
					return true
				}
			}
			return false
		}, nil
	default:
		return nil, fmt.Errorf("dialect: unsupported predicate %T", p)
	}
}

// Match reports whether doc satisfies p.
func Match(doc Document, p Predicate) (bool, error) {
	m, err := Compile(p)
	if err != nil {
		return false, err
	}
	return m(doc), nil
}

func compileAll(ps []Predicate) ([]Matcher, error) {
	ms := make([]Matcher, 0, len(ps))
	for _, p := range ps {
		m, err := Compile(p)
		if err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	return ms, nil
}

func compileCmp(c Cmp) (Matcher, error) {
	if c.Field == "" {
		return nil, fmt.Errorf("dialect: comparison without field")
	}
	switch c.Op {
	case OpEQ:
		return func(d Document) bool {
			v, ok := Lookup(d, c.Field)
			return anyElem(v, ok, func(e any) bool { return Equal(e, c.Value) })
		}, nil
	case OpNEQ:
		return func(d Document) bool {
			v, ok := Lookup(d, c.Field)
			return !anyElem(v, ok, func(e any) bool { return Equal(e, c.Value) })
		}, nil
	case OpGT, OpGTE, OpLT, OpLTE:
		return func(d Document) bool {
			v, ok := Lookup(d, c.Field)
			if !ok {
				return false
			}
			return anyElem(v, ok, func(e any) bool { return compareOp(c.Op, e, c.Value) })
		}, nil
	case OpIn, OpNotIn:
		vs, err := ListValue(c.Value)
		if err != nil {
			return nil, fmt.Errorf("dialect: %s on %q: %w", c.Op, c.Field, err)
		}
		in := func(d Document) bool {
			v, ok := Lookup(d, c.Field)
			return anyElem(v, ok, func(e any) bool {
				for _, x := range vs {
					if Equal(e, x) {
						return true
					}
				}
				return false
			})
		}
		if c.Op == OpNotIn {
			return func(d Document) bool { return !in(d) }, nil
		}
		return in, nil
	case OpRegex:
		pattern, ok := c.Value.(string)
		if !ok {
			return nil, fmt.Errorf("dialect: regex on %q: pattern must be a string, got %T", c.Field, c.Value)
		}
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("dialect: regex on %q: %w", c.Field, err)
		}
		return func(d Document) bool {
			v, ok := Lookup(d, c.Field)
			if !ok {
				return false
			}
			return anyElem(v, ok, func(e any) bool {
				s, ok := e.(string)
				return ok && re.MatchString(s)
			})
		}, nil
	default:
		return nil, fmt.Errorf("dialect: unsupported operator %q", c.Op)
	}
}

// anyElem applies f to v, or to each element when v is a list. A missing
// value is tested as nil. An empty list is tested as a whole.
func anyElem(v any, ok bool, f func(any) bool) bool {
	if !ok {
		return f(nil)
	}
	if f(v) {
		return true
	}
	switch s := v.(type) {
	case []any:
		for _, e := range s {
			if f(e) {
				return true
			}
		}
	case []Ref:
		for _, e := range s {
			if f(e) {
				return true
			}
		}
	case []string:
		for _, e := range s {
			if f(e) {
				return true
			}
		}
	}
	return false
}

// ListValue converts a slice of any element type to []any.
func ListValue(v any) ([]any, error) {
	switch v := v.(type) {
	case []any:
		return v, nil
	case nil:
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected a list value, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// Lookup returns the value at a dotted path of a document.
func Lookup(d Document, path string) (any, bool) {
	var cur any = map[string]any(d)
	for part := range strings.SplitSeq(path, ".") {
		var m map[string]any
		switch c := cur.(type) {
		case map[string]any:
			m = c
		case Document:
			m = c
		default:
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func compareOp(op Op, a, b any) bool {
	// Range operators only match values of the same type class.
	if rank(a) != rank(b) || a == nil {
		return false
	}
	c := Compare(a, b)
	switch op {
	case OpGT:
		return c > 0
	case OpGTE:
		return c >= 0
	case OpLT:
		return c < 0
	case OpLTE:
		return c <= 0
	}
	return false
}

// type class ranks, lowest first.
const (
	rankNil = iota
	rankNumber
	rankString
	rankMap
	rankList
	rankRef
	rankBool
	rankTime
	rankOther
)

func rank(v any) int {
	switch v.(type) {
	case nil:
		return rankNil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return rankNumber
	case string:
		return rankString
	case map[string]any, Document:
		return rankMap
	case []any, []Ref, []string:
		return rankList
	case Ref:
		return rankRef
	case bool:
		return rankBool
	case time.Time:
		return rankTime
	default:
		return rankOther
	}
}

// Compare defines a total order over document values. Values of different
// type classes order by class: nil, numbers, strings, maps, lists, refs,
// bools, times.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch ra {
	case rankNil:
		return 0
	case rankNumber:
		return compareNumbers(a, b)
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankRef:
		x, y := a.(Ref), b.(Ref)
		if c := strings.Compare(x.Collection, y.Collection); c != 0 {
			return c
		}
		return strings.Compare(x.ID, y.ID)
	case rankBool:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case rankTime:
		return a.(time.Time).Compare(b.(time.Time))
	case rankList:
		x, _ := ListValue(a)
		y, _ := ListValue(b)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := Compare(x[i], y[i]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(x), len(y))
	case rankMap:
		x, y := asMap(a), asMap(b)
		xk, yk := SortedKeys(x), SortedKeys(y)
		for i := 0; i < len(xk) && i < len(yk); i++ {
			if c := strings.Compare(xk[i], yk[i]); c != 0 {
				return c
			}
			if c := Compare(x[xk[i]], y[yk[i]]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(xk), len(yk))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

func asMap(v any) Document {
	switch v := v.(type) {
	case Document:
		return v
	case map[string]any:
		return v
	}
	return nil
}

// Equal reports whether two document values are equal. Numbers compare by
// value regardless of their Go type.
func Equal(a, b any) bool {
	if rank(a) != rank(b) {
		return false
	}
	return Compare(a, b) == 0
}

func compareNumbers(a, b any) int {
	ai, aInt := toInt64(a)
	bi, bInt := toInt64(b)
	if aInt && bInt {
		return cmp.Compare(ai, bi)
	}
	return cmp.Compare(toFloat64(a), toFloat64(b))
}

func toInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	}
	return 0, false
}

func toFloat64(v any) float64 {
	if i, ok := toInt64(v); ok {
		return float64(i)
	}
	switch v := v.(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	}
	return 0
}
