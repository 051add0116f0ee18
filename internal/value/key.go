package value

import (
	"fmt"
	"math"
	"strconv"
)

const (
	minInt64Float = -9223372036854775808.0
	maxInt64Float = 9223372036854775808.0
)

// NormalizeKey maps a script table key to its host form. Integral numbers
// within the int64 range and strings spelling such an integer canonically
// become int64; other numbers become their script string form; other strings
// and booleans are kept.
func NormalizeKey(k any) (any, error) {
	switch v := k.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v == math.Trunc(v) && v >= minInt64Float && v < maxInt64Float {
			return int64(v), nil
		}
		return FormatNumber(v), nil
	case string:
		if n, ok := parseIntKey(v); ok {
			return n, nil
		}
		return v, nil
	case bool:
		return v, nil
	default:
		return nil, &ArgumentError{Msg: fmt.Sprintf("cannot use a %s as a table key", TypeName(k))}
	}
}

func parseIntKey(s string) (int64, bool) {
	if s == "" || len(s) > 20 {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || strconv.FormatInt(n, 10) != s {
		return 0, false
	}
	return n, true
}

// KeyString renders a normalized key for diagnostics.
func KeyString(k any) string {
	switch v := k.(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// Builder accumulates the entries of one script table into a host map.
// Two script keys that normalize to the same host key are a
// KeyCollisionError.
type Builder struct {
	m map[any]any
}

// NewBuilder returns a Builder sized for n entries.
func NewBuilder(n int) *Builder {
	return &Builder{m: make(map[any]any, n)}
}

// Set adds one entry.
func (b *Builder) Set(k, v any) error {
	hk, err := NormalizeKey(k)
	if err != nil {
		return err
	}
	if _, dup := b.m[hk]; dup {
		return &KeyCollisionError{Key: KeyString(hk)}
	}
	b.m[hk] = v
	return nil
}

// Map returns the accumulated map.
func (b *Builder) Map() map[any]any {
	return b.m
}
