// File: response/json.go
// Author: momentics <momentics@gmail.com>
//
// Direct JSON encoder for handler return values. Known dynamic shapes
// (tables, maps, slices, scalars) are written straight into the output
// buffer; other Go values fall back to go-json.

package response

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/momentics/hioload-app/api"
)

const (
	// MaxDepth is the deepest container nesting the encoder accepts.
	MaxDepth = 64
	// MaxArrayProbe bounds the 1..N key probe used to detect array tables.
	MaxArrayProbe = 1000
)

var (
	ErrMaxDepth        = fmt.Errorf("Maximum recursion depth exceeded (%d levels)", MaxDepth)
	ErrUnsupportedType = errors.New("Unsupported return type")
	ErrUnsupportedKey  = errors.New("Unsupported table key type")
)

// AppendJSON appends the JSON encoding of v to dst.
func AppendJSON(dst []byte, v any) ([]byte, error) {
	return appendValue(dst, v, 0)
}

// MarshalJSON encodes v into a new slice.
func MarshalJSON(v any) ([]byte, error) {
	return AppendJSON(make([]byte, 0, 128), v)
}

func appendValue(b []byte, v any, depth int) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(b, "null"...), nil
	case bool:
		return strconv.AppendBool(b, x), nil
	case string:
		return AppendString(b, x), nil
	case []byte:
		return AppendString(b, string(x)), nil
	case int:
		return strconv.AppendInt(b, int64(x), 10), nil
	case int8:
		return strconv.AppendInt(b, int64(x), 10), nil
	case int16:
		return strconv.AppendInt(b, int64(x), 10), nil
	case int32:
		return strconv.AppendInt(b, int64(x), 10), nil
	case int64:
		return strconv.AppendInt(b, x, 10), nil
	case uint:
		return strconv.AppendUint(b, uint64(x), 10), nil
	case uint8:
		return strconv.AppendUint(b, uint64(x), 10), nil
	case uint16:
		return strconv.AppendUint(b, uint64(x), 10), nil
	case uint32:
		return strconv.AppendUint(b, uint64(x), 10), nil
	case uint64:
		return strconv.AppendUint(b, x, 10), nil
	case float32:
		return appendFloat(b, float64(x), 32, true), nil
	case float64:
		return appendFloat(b, x, 64, true), nil
	case json.Number:
		return append(b, x...), nil
	case *api.Table:
		return appendTable(b, x, depth+1)
	case map[string]any:
		return appendMap(b, x, depth+1)
	case map[string]string:
		if depth+1 > MaxDepth {
			return b, ErrMaxDepth
		}
		keys := sortedKeys(x)
		b = append(b, '{')
		for i, k := range keys {
			if i > 0 {
				b = append(b, ',')
			}
			b = AppendString(b, k)
			b = append(b, ':')
			b = AppendString(b, x[k])
		}
		return append(b, '}'), nil
	case []any:
		if depth+1 > MaxDepth {
			return b, ErrMaxDepth
		}
		b = append(b, '[')
		for i, e := range x {
			if i > 0 {
				b = append(b, ',')
			}
			var err error
			if b, err = appendValue(b, e, depth+1); err != nil {
				return b, err
			}
		}
		return append(b, ']'), nil
	case []string:
		b = append(b, '[')
		for i, s := range x {
			if i > 0 {
				b = append(b, ',')
			}
			b = AppendString(b, s)
		}
		return append(b, ']'), nil
	case api.StatusMessage:
		b = append(b, `{"status":`...)
		b = strconv.AppendInt(b, int64(x.Status), 10)
		b = append(b, `,"message":`...)
		return append(AppendString(b, x.Message), '}'), nil
	case error:
		return AppendString(b, x.Error()), nil
	}
	return appendReflect(b, v)
}

// appendReflect hands arbitrary Go values (structs, typed slices and maps)
// to go-json after rejecting kinds that have no JSON form.
func appendReflect(b []byte, v any) ([]byte, error) {
	if !Encodable(v) {
		return b, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return b, fmt.Errorf("%w: %T: %v", ErrUnsupportedType, v, err)
	}
	return append(b, out...), nil
}

// Encodable reports whether v has a JSON representation at all.
func Encodable(v any) bool {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return true
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return false
	}
	return true
}

// appendTable writes t as an array when key 1 is present, taking the
// contiguous prefix 1..N (at most MaxArrayProbe entries); otherwise as an
// object in table order.
func appendTable(b []byte, t *api.Table, depth int) ([]byte, error) {
	if depth > MaxDepth {
		return b, ErrMaxDepth
	}
	var err error
	if t.Has(1) {
		b = append(b, '[')
		for i := 1; i <= MaxArrayProbe; i++ {
			v := t.Get(i)
			if v == nil {
				break
			}
			if i > 1 {
				b = append(b, ',')
			}
			if b, err = appendValue(b, v, depth); err != nil {
				return b, err
			}
		}
		return append(b, ']'), nil
	}

	b = append(b, '{')
	first := true
	t.Range(func(k, v any) bool {
		if !first {
			b = append(b, ',')
		}
		first = false
		if b, err = appendKey(b, k); err != nil {
			return false
		}
		b = append(b, ':')
		b, err = appendValue(b, v, depth)
		return err == nil
	})
	if err != nil {
		return b, err
	}
	return append(b, '}'), nil
}

func appendKey(b []byte, k any) ([]byte, error) {
	switch x := k.(type) {
	case string:
		return AppendString(b, x), nil
	case int64:
		b = append(b, '"')
		b = strconv.AppendInt(b, x, 10)
		return append(b, '"'), nil
	case float64:
		b = append(b, '"')
		b = appendFloat(b, x, 64, false)
		return append(b, '"'), nil
	}
	return b, fmt.Errorf("%w: %T", ErrUnsupportedKey, k)
}

func appendMap(b []byte, m map[string]any, depth int) ([]byte, error) {
	if depth > MaxDepth {
		return b, ErrMaxDepth
	}
	b = append(b, '{')
	for i, k := range sortedKeys(m) {
		if i > 0 {
			b = append(b, ',')
		}
		b = AppendString(b, k)
		b = append(b, ':')
		var err error
		if b, err = appendValue(b, m[k], depth); err != nil {
			return b, err
		}
	}
	return append(b, '}'), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// appendFloat writes the shortest round-trip form. Non-finite values become
// null when nullNonFinite is set.
func appendFloat(b []byte, f float64, bits int, nullNonFinite bool) []byte {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		if nullNonFinite {
			return append(b, "null"...)
		}
		return strconv.AppendFloat(b, f, 'g', -1, bits)
	}
	format := byte('f')
	if abs := math.Abs(f); abs != 0 {
		if bits == 64 && (abs < 1e-6 || abs >= 1e21) ||
			bits == 32 && (float32(abs) < 1e-6 || float32(abs) >= 1e21) {
			format = 'e'
		}
	}
	b = strconv.AppendFloat(b, f, format, -1, bits)
	if format == 'e' {
		// e-07 -> e-7
		n := len(b)
		if n >= 4 && b[n-4] == 'e' && b[n-3] == '-' && b[n-2] == '0' {
			b[n-2] = b[n-1]
			b = b[:n-1]
		}
	}
	return b
}

const hexDigits = "0123456789abcdef"

// AppendString writes s as a quoted JSON string. Invalid UTF-8 is replaced
// with U+FFFD.
func AppendString(b []byte, s string) []byte {
	b = append(b, '"')
	start := 0
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			if c >= 0x20 && c != '"' && c != '\\' {
				i++
				continue
			}
			b = append(b, s[start:i]...)
			switch c {
			case '"':
				b = append(b, '\\', '"')
			case '\\':
				b = append(b, '\\', '\\')
			case '\n':
				b = append(b, '\\', 'n')
			case '\r':
				b = append(b, '\\', 'r')
			case '\t':
				b = append(b, '\\', 't')
			case '\b':
				b = append(b, '\\', 'b')
			case '\f':
				b = append(b, '\\', 'f')
			default:
				b = append(b, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xF])
			}
			i++
			start = i
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b = append(b, s[start:i]...)
			b = append(b, `�`...)
			i += size
			start = i
			continue
		}
		i += size
	}
	b = append(b, s[start:]...)
	return append(b, '"')
}
