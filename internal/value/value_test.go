package value

import (
	"errors"
	"math"
	"testing"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{1.0, int64(1)},
		{-3.0, int64(-3)},
		{1.5, "1.5"},
		{math.Inf(1), "inf"},
		{"42", int64(42)},
		{"042", "042"},
		{"-0", "-0"},
		{"9223372036854775807", int64(math.MaxInt64)},
		{"9223372036854775808", "9223372036854775808"},
		{"abc", "abc"},
		{true, true},
	}
	for _, tt := range tests {
		got, err := NormalizeKey(tt.in)
		if err != nil {
			t.Errorf("NormalizeKey(%v): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeKey(%v) = %#v, want %#v", tt.in, got, tt.want)
		}
	}

	if _, err := NormalizeKey(math.NaN()); err != nil {
		t.Errorf("NormalizeKey(NaN): %v", err)
	}
	var ae *ArgumentError
	if _, err := NormalizeKey([]any{}); !errors.As(err, &ae) {
		t.Errorf("NormalizeKey(table) err = %v, want ArgumentError", err)
	} else if ae.Error() != "cannot use a table as a table key" {
		t.Errorf("message = %q", ae.Error())
	}
}

func TestBuilderCollision(t *testing.T) {
	pairs := [][2]any{
		{0.0, "0"},
		{1.5, "1.5"},
		{math.Inf(1), "inf"},
	}
	for _, p := range pairs {
		b := NewBuilder(2)
		if err := b.Set(p[0], "a"); err != nil {
			t.Fatalf("Set(%v): %v", p[0], err)
		}
		err := b.Set(p[1], "b")
		var kc *KeyCollisionError
		if !errors.As(err, &kc) {
			t.Errorf("Set(%v) after %v: err = %v, want KeyCollisionError", p[1], p[0], err)
		}
	}

	b := NewBuilder(2)
	b.Set("x", 1.0)
	b.Set(2.0, "two")
	if got := b.Map(); got["x"] != 1.0 || got[int64(2)] != "two" {
		t.Errorf("Map() = %v", got)
	}
}

func TestCollisionMessage(t *testing.T) {
	err := &KeyCollisionError{Key: "0"}
	want := "collision for table key 0 when passing data from script to host"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestCanonicalize(t *testing.T) {
	in := map[any]any{
		int64(1): "a",
		int64(2): map[any]any{int64(1): "x"},
		int64(3): "c",
	}
	got := Canonicalize(in)
	want := []any{"a", []any{"x"}, "c"}
	if !Equal(got, want) {
		t.Errorf("Canonicalize = %v, want %v", got, want)
	}

	sparse := map[any]any{int64(1): "a", int64(3): "c"}
	if _, ok := Canonicalize(sparse).(map[any]any); !ok {
		t.Error("sparse table was turned into a sequence")
	}
	mixed := map[any]any{int64(1): "a", "n": map[any]any{int64(1): true}}
	m, ok := Canonicalize(mixed).(map[any]any)
	if !ok {
		t.Fatal("mixed table was turned into a sequence")
	}
	if !Equal(m["n"], []any{true}) {
		t.Errorf("nested value = %v, want [true]", m["n"])
	}
	if got := Convert(in, Preserve); !Equal(got, in) {
		t.Errorf("Convert(Preserve) changed the value: %v", got)
	}
	if got := Canonicalize(map[any]any{}); !Equal(got, []any{}) {
		t.Errorf("Canonicalize(empty) = %#v, want empty sequence", got)
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		a, b any
		want bool
	}{
		{math.NaN(), math.NaN(), true},
		{1.0, 1.0, true},
		{1.0, "1", false},
		{nil, nil, true},
		{nil, false, false},
		{[]any{1.0, math.NaN()}, []any{1.0, math.NaN()}, true},
		{map[any]any{"a": 1.0}, map[any]any{"a": 1.0}, true},
		{map[any]any{"a": 1.0}, map[any]any{"a": 2.0}, false},
		{[]any{1.0}, map[any]any{int64(1): 1.0}, false},
	}
	for _, tt := range tests {
		if got := Equal(tt.a, tt.b); got != tt.want {
			t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestKeys(t *testing.T) {
	m := map[any]any{"b": 1, int64(10): 1, true: 1, int64(2): 1, "a": 1}
	got := Keys(m)
	want := []any{int64(2), int64(10), "a", "b", true}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Keys = %v, want %v", got, want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{3, "3"},
		{-0.5, "-0.5"},
		{1e15, "1e+15"},
		{math.Inf(-1), "-inf"},
		{math.NaN(), "nan"},
		{0.1, "0.1"},
	}
	for _, tt := range tests {
		if got := FormatNumber(tt.in); got != tt.want {
			t.Errorf("FormatNumber(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLimits(t *testing.T) {
	l := Limits{MaxStringLength: 4}.WithDefaults()
	if l.MaxPatternLength != DefaultMaxPatternLength {
		t.Errorf("MaxPatternLength = %d, want default", l.MaxPatternLength)
	}
	if err := l.CheckString("rep", 1, "abcd"); err != nil {
		t.Errorf("CheckString at limit: %v", err)
	}
	err := l.CheckString("rep", 1, "abcde")
	if err == nil || err.Error() != "bad argument #1 to 'rep' (string is longer than 4 bytes)" {
		t.Errorf("CheckString over limit = %v", err)
	}
	var tl *ResultTooLargeError
	if err := l.CheckResult("gsub", 5); !errors.As(err, &tl) || tl.Func != "gsub" {
		t.Errorf("CheckResult = %v, want ResultTooLargeError", err)
	}
}

func TestArgs(t *testing.T) {
	a := Args{"x", 2.7, nil, true, []any{"p"}}

	if s, err := a.String("f", 2); err != nil || s != "2.7" {
		t.Errorf("String(2) = %q, %v", s, err)
	}
	if n, err := a.Int("f", 2); err != nil || n != 2 {
		t.Errorf("Int(2) = %d, %v", n, err)
	}
	if n, err := a.OptInt("f", 3, 9); err != nil || n != 9 {
		t.Errorf("OptInt(3) = %d, %v", n, err)
	}
	if b, err := a.OptBool("f", 4, false); err != nil || !b {
		t.Errorf("OptBool(4) = %v, %v", b, err)
	}
	m, err := a.Table("f", 5)
	if err != nil || m[int64(1)] != "p" {
		t.Errorf("Table(5) = %v, %v", m, err)
	}
	_, err = a.Number("f", 1)
	if err == nil || err.Error() != "bad argument #1 to 'f' (number expected)" {
		t.Errorf("Number(1) err = %v", err)
	}
	if _, err := a.String("f", 9); err == nil {
		t.Error("String(9) on a missing argument succeeded")
	}
	if n, _ := (Args{1e300}).Int("f", 1); n != math.MaxInt32 {
		t.Errorf("Int(1e300) = %d, want MaxInt32", n)
	}
}
