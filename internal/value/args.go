package value

import (
	"math"
)

// Args wraps the arguments of a host-backed function call. Positions are
// 1-based, matching the diagnostics a script author sees.
type Args []any

// Get returns argument i, or nil when absent.
func (a Args) Get(i int) any {
	if i < 1 || i > len(a) {
		return nil
	}
	return a[i-1]
}

func expected(fn string, i int, what string) error {
	return &ArgumentError{Func: fn, Arg: i, Msg: what + " expected"}
}

// String returns argument i as a string. Numbers are coerced.
func (a Args) String(fn string, i int) (string, error) {
	switch v := a.Get(i).(type) {
	case string:
		return v, nil
	case float64:
		return FormatNumber(v), nil
	}
	return "", expected(fn, i, "string")
}

// OptString is String with a default for nil.
func (a Args) OptString(fn string, i int, def string) (string, error) {
	if a.Get(i) == nil {
		return def, nil
	}
	return a.String(fn, i)
}

// Number returns argument i as a number.
func (a Args) Number(fn string, i int) (float64, error) {
	if v, ok := a.Get(i).(float64); ok {
		return v, nil
	}
	return 0, expected(fn, i, "number")
}

// OptNumber is Number with a default for nil.
func (a Args) OptNumber(fn string, i int, def float64) (float64, error) {
	if a.Get(i) == nil {
		return def, nil
	}
	return a.Number(fn, i)
}

// Int returns argument i truncated toward negative infinity.
func (a Args) Int(fn string, i int) (int, error) {
	f, err := a.Number(fn, i)
	if err != nil {
		return 0, err
	}
	return clampInt(f), nil
}

// OptInt is Int with a default for nil.
func (a Args) OptInt(fn string, i int, def int) (int, error) {
	if a.Get(i) == nil {
		return def, nil
	}
	return a.Int(fn, i)
}

// OptBool returns argument i as a boolean, or def for nil.
func (a Args) OptBool(fn string, i int, def bool) (bool, error) {
	switch v := a.Get(i).(type) {
	case nil:
		return def, nil
	case bool:
		return v, nil
	}
	return false, expected(fn, i, "boolean")
}

// Table returns argument i as a host map. Sequences are returned with int64
// keys so callers see one shape.
func (a Args) Table(fn string, i int) (map[any]any, error) {
	switch v := a.Get(i).(type) {
	case map[any]any:
		return v, nil
	case []any:
		m := make(map[any]any, len(v))
		for j, e := range v {
			m[int64(j+1)] = e
		}
		return m, nil
	}
	return nil, expected(fn, i, "table")
}

// OptTable is Table with an empty map for nil.
func (a Args) OptTable(fn string, i int) (map[any]any, error) {
	if a.Get(i) == nil {
		return map[any]any{}, nil
	}
	return a.Table(fn, i)
}

func clampInt(f float64) int {
	f = math.Floor(f)
	switch {
	case math.IsNaN(f):
		return 0
	case f > math.MaxInt32:
		return math.MaxInt32
	case f < math.MinInt32:
		return math.MinInt32
	}
	return int(f)
}
