// Package value implements the host side of the values exchanged with
// scripts: the host-domain value model, table key normalization with
// collision detection, sequence canonicalization, and the string length
// ceilings enforced by string-synthesizing operations.
//
// Host-domain values are nil, bool, float64, string, []any (a sequence),
// map[any]any (keys int64, string or bool) and the function handles defined
// by the backend package. Every script number is a float64 on the host side;
// only table keys use int64.
package value

import (
	"math"
	"reflect"
	"sort"
	"strconv"
)

// Mode selects how a script table is presented to the host.
type Mode int

const (
	// Preserve keeps every table as a map with normalized keys.
	Preserve Mode = iota
	// Canonical turns maps keyed exactly 1..n into sequences.
	Canonical
)

// Convert applies mode to a value produced by a script-to-host conversion.
func Convert(v any, mode Mode) any {
	if mode == Canonical {
		return Canonicalize(v)
	}
	return v
}

// Canonicalize rewrites, recursively, every map whose keys are exactly the
// integers 1..n into an n-element []any. Other maps keep their keys but have
// their values canonicalized.
func Canonicalize(v any) any {
	switch t := v.(type) {
	case map[any]any:
		if seq, ok := asSequence(t); ok {
			for i := range seq {
				seq[i] = Canonicalize(seq[i])
			}
			return seq
		}
		out := make(map[any]any, len(t))
		for k, e := range t {
			out[k] = Canonicalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Canonicalize(e)
		}
		return out
	default:
		return v
	}
}

func asSequence(m map[any]any) ([]any, bool) {
	seq := make([]any, len(m))
	for k, e := range m {
		n, ok := k.(int64)
		if !ok || n < 1 || n > int64(len(m)) {
			return nil, false
		}
		seq[n-1] = e
	}
	return seq, true
}

// Keys returns the keys of m in a stable order: integers ascending first,
// then strings, then booleans.
func Keys(m map[any]any) []any {
	keys := make([]any, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
	return keys
}

func keyRank(k any) int {
	switch k.(type) {
	case int64:
		return 0
	case string:
		return 1
	default:
		return 2
	}
}

func keyLess(a, b any) bool {
	ra, rb := keyRank(a), keyRank(b)
	if ra != rb {
		return ra < rb
	}
	switch x := a.(type) {
	case int64:
		return x < b.(int64)
	case string:
		return x < b.(string)
	case bool:
		return !x && b.(bool)
	}
	return false
}

// Equal reports whether a and b are the same host value. Unlike ==, NaN
// equals NaN, and maps and sequences are compared element by element.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return false
		}
		if math.IsNaN(x) && math.IsNaN(y) {
			return true
		}
		return x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[any]any:
		y, ok := b.(map[any]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	default:
		ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
		if ta != tb {
			return false
		}
		if ta == nil {
			return true
		}
		return ta.Comparable() && a == b
	}
}

// FormatNumber renders a number the way the script runtime's tostring does.
func FormatNumber(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	case f == math.Trunc(f) && math.Abs(f) < 1e15:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', 14, 64)
}

// TypeName returns the script type name of a host value.
func TypeName(v any) string {
	switch v.(type) {
	case nil:
		return "nil"
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32:
		return "number"
	case string:
		return "string"
	case []any, map[any]any, map[string]any, map[string]string, []string:
		return "table"
	default:
		if _, ok := v.(interface{ Release() }); ok {
			return "function"
		}
		return "userdata"
	}
}

// ToString renders a scalar the way the script runtime's tostring does.
// Tables and functions render as their type name.
func ToString(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return FormatNumber(x)
	case string:
		return x
	}
	return TypeName(v)
}
