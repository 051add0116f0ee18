package value

import "fmt"

const (
	// DefaultMaxStringLength mirrors a 2048 KiB maximum content size.
	DefaultMaxStringLength = 2048 * 1024
	// DefaultMaxPatternLength bounds patterns independently of subjects.
	DefaultMaxPatternLength = 10000
)

// Limits are the length ceilings applied by string-synthesizing operations.
type Limits struct {
	MaxStringLength  int
	MaxPatternLength int
}

// DefaultLimits returns the default ceilings.
func DefaultLimits() Limits {
	return Limits{
		MaxStringLength:  DefaultMaxStringLength,
		MaxPatternLength: DefaultMaxPatternLength,
	}
}

// WithDefaults fills zero fields from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.MaxStringLength <= 0 {
		l.MaxStringLength = d.MaxStringLength
	}
	if l.MaxPatternLength <= 0 {
		l.MaxPatternLength = d.MaxPatternLength
	}
	return l
}

// CheckString rejects an input string longer than MaxStringLength.
func (l Limits) CheckString(fn string, arg int, s string) error {
	if len(s) > l.MaxStringLength {
		return &ArgumentError{Func: fn, Arg: arg, Msg: fmt.Sprintf("string is longer than %d bytes", l.MaxStringLength)}
	}
	return nil
}

// CheckPattern rejects a pattern longer than MaxPatternLength.
func (l Limits) CheckPattern(fn string, arg int, p string) error {
	if len(p) > l.MaxPatternLength {
		return &ArgumentError{Func: fn, Arg: arg, Msg: fmt.Sprintf("pattern is longer than %d bytes", l.MaxPatternLength)}
	}
	return nil
}

// CheckResult rejects a synthesized result of n bytes.
func (l Limits) CheckResult(fn string, n int) error {
	if n > l.MaxStringLength {
		return &ResultTooLargeError{Func: fn, Limit: l.MaxStringLength}
	}
	return nil
}
