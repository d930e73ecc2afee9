// File: api/table.go
// Author: momentics <momentics@gmail.com>
//
// Ordered key/value table used to exchange structured values with the
// host runtime. Keys are strings, integers or floats; integer keys of any
// Go integer type are normalized to int64 so lookups agree.

package api

import "math"

// Table is an insertion-ordered associative array.
// It is not safe for concurrent use.
type Table struct {
	keys []any
	vals map[any]any
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{vals: make(map[any]any)}
}

// Array builds a table with keys 1..len(vals).
func Array(vals ...any) *Table {
	t := &Table{keys: make([]any, 0, len(vals)), vals: make(map[any]any, len(vals))}
	for i, v := range vals {
		t.Set(i+1, v)
	}
	return t
}

// Object builds a table from alternating key/value pairs.
// A trailing key without a value is ignored.
func Object(kv ...any) *Table {
	t := NewTable()
	for i := 0; i+1 < len(kv); i += 2 {
		t.Set(kv[i], kv[i+1])
	}
	return t
}

// NormalizeKey maps integer types to int64 and integral floats to int64.
func NormalizeKey(k any) any {
	switch v := k.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float32:
		return NormalizeKey(float64(v))
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) && math.Abs(v) < 1<<53 {
			return int64(v)
		}
		return v
	}
	return k
}

// Set stores v under k. Setting nil removes the key.
func (t *Table) Set(k, v any) *Table {
	if t.vals == nil {
		t.vals = make(map[any]any)
	}
	k = NormalizeKey(k)
	if v == nil {
		if _, ok := t.vals[k]; ok {
			delete(t.vals, k)
			for i, key := range t.keys {
				if key == k {
					t.keys = append(t.keys[:i], t.keys[i+1:]...)
					break
				}
			}
		}
		return t
	}
	if _, ok := t.vals[k]; !ok {
		t.keys = append(t.keys, k)
	}
	t.vals[k] = v
	return t
}

// Get returns the value stored under k or nil.
func (t *Table) Get(k any) any {
	if t == nil || t.vals == nil {
		return nil
	}
	return t.vals[NormalizeKey(k)]
}

// Has reports whether k is present.
func (t *Table) Has(k any) bool {
	if t == nil || t.vals == nil {
		return false
	}
	_, ok := t.vals[NormalizeKey(k)]
	return ok
}

// Len returns the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.keys)
}

// Keys returns keys in insertion order. The slice must not be modified.
func (t *Table) Keys() []any {
	if t == nil {
		return nil
	}
	return t.keys
}

// Range calls fn for each entry in insertion order until fn returns false.
func (t *Table) Range(fn func(k, v any) bool) {
	if t == nil {
		return
	}
	for _, k := range t.keys {
		if !fn(k, t.vals[k]) {
			return
		}
	}
}

// String returns the value under k if it is a string.
func (t *Table) String(k any) (string, bool) {
	s, ok := t.Get(k).(string)
	return s, ok
}
