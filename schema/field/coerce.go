package field

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/pytsite/odm/dialect"
)

// toString converts string-like values. Strings are NFC normalized.
func toString(v any) (string, bool) {
	switch v := v.(type) {
	case nil:
		return "", true
	case string:
		return norm.NFC.String(v), true
	case []byte:
		return norm.NFC.String(string(v)), true
	default:
		return "", false
	}
}

// toInt64 converts integers, integral floats and numeric strings.
func toInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case nil:
		return 0, true
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
		return int64(v), v <= math.MaxInt64
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), v <= math.MaxInt64
	case float32:
		return floatToInt(float64(v))
	case float64:
		return floatToInt(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, true
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	default:
		return 0, false
	}
}

func floatToInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// toFloat64 converts numbers and numeric strings.
func toFloat64(v any) (float64, bool) {
	switch v := v.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		n, ok := toInt64(v)
		return float64(n), ok
	}
}

// toBool converts booleans, numbers and boolean strings.
func toBool(v any) (bool, bool) {
	switch v := v.(type) {
	case nil:
		return false, true
	case bool:
		return v, true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return false, true
		}
		b, err := strconv.ParseBool(s)
		return b, err == nil
	default:
		if f, ok := toFloat64(v); ok {
			return f != 0, true
		}
		return false, false
	}
}

// toTime converts times, RFC 3339 strings and unix seconds. The result is in UTC.
func toTime(v any) (time.Time, bool) {
	switch v := v.(type) {
	case nil:
		return epoch, true
	case time.Time:
		return v.UTC(), true
	case *time.Time:
		if v == nil {
			return epoch, true
		}
		return v.UTC(), true
	case string:
		if strings.TrimSpace(v) == "" {
			return epoch, true
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	default:
		if n, ok := toInt64(v); ok {
			return time.Unix(n, 0).UTC(), true
		}
		if f, ok := toFloat64(v); ok {
			sec, frac := math.Modf(f)
			return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
		}
		return time.Time{}, false
	}
}

// toList converts slices and arrays of any element type. Elements are
// normalized with dialect.FromWire.
func toList(v any) ([]any, bool) {
	vs, err := dialect.ListValue(v)
	if err != nil {
		return nil, false
	}
	out := make([]any, len(vs))
	for i, e := range vs {
		out[i] = dialect.FromWire(dialect.CloneValue(e))
	}
	return out, true
}

// toDict converts maps with string keys.
func toDict(v any) (map[string]any, bool) {
	switch v := v.(type) {
	case nil:
		return map[string]any{}, true
	case dialect.Document:
		return dialect.FromWire(dialect.CloneValue(map[string]any(v))).(map[string]any), true
	case map[string]any:
		if _, isRef := dialect.RefFromWire(v); isRef {
			return nil, false
		}
		return dialect.FromWire(dialect.CloneValue(v)).(map[string]any), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = dialect.FromWire(iter.Value().Interface())
	}
	return out, true
}

// isEmptyValue reports whether v is an empty value of its kind.
func isEmptyValue(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case bool:
		return !v
	case time.Time:
		return v.IsZero() || v.Equal(epoch)
	case dialect.Ref:
		return v.IsZero()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() == 0
	}
	return false
}
