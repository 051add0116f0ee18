package ustring

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// MaxCodepoint is the largest scalar value Char accepts.
const MaxCodepoint = 0x10ffff

// IsUTF8 reports whether s is valid UTF-8.
func IsUTF8(s string) bool { return utf8.ValidString(s) }

// Len returns the length of s in scalars. ok is false when s is not UTF-8.
func Len(s string) (n int, ok bool) {
	if !utf8.ValidString(s) {
		return 0, false
	}
	return utf8.RuneCountInString(s), true
}

// span resolves the 1-based, possibly negative bounds i and j against n.
// It returns 0-based [from, to) or ok false for an empty range.
func span(i, j, n int) (from, to int, ok bool) {
	if i < 0 {
		i = n + i + 1
	}
	if j < 0 {
		j = n + j + 1
	}
	if j < i {
		return 0, 0, false
	}
	i = max(1, min(i, n+1))
	j = max(1, min(j, n+1))
	return i - 1, min(j, n), true
}

// Sub returns the scalars of s from i to j inclusive. Negative positions
// count from the end.
func Sub(s string, i, j int) string {
	sub := NewSubject(s)
	from, to, ok := span(i, j, sub.Len())
	if !ok || from >= to {
		return ""
	}
	return sub.Slice(from, to)
}

// Codepoint returns the scalar values of s from i to j inclusive.
func Codepoint(s string, i, j int) []int {
	sub := NewSubject(s)
	from, to, ok := span(i, j, sub.Len())
	if !ok || from >= to {
		return nil
	}
	out := make([]int, 0, to-from)
	for _, r := range sub.runes[from:to] {
		out = append(out, int(r))
	}
	return out
}

// CharRangeError reports a scalar value outside 0..MaxCodepoint. Arg is
// 1-based.
type CharRangeError struct {
	Arg int
}

func (e *CharRangeError) Error() string {
	return fmt.Sprintf("bad argument #%d to 'char' (value out of range)", e.Arg)
}

// Char encodes scalar values as UTF-8.
func Char(codes []int) (string, error) {
	var b strings.Builder
	for i, c := range codes {
		if c < 0 || c > MaxCodepoint {
			return "", &CharRangeError{Arg: i + 1}
		}
		b.WriteRune(rune(c))
	}
	return b.String(), nil
}

// ByteOffset returns the 1-based byte offset of the l-th scalar counted from
// the scalar containing byte i. Zero means no such scalar.
func ByteOffset(s string, l, i int) int {
	n := len(s)
	if i < 0 {
		i = n + i + 1
	}
	if i < 1 || i > n {
		return 0
	}
	i--
	j := i
	for i > 0 && s[i]&0xc0 == 0x80 {
		i--
	}
	if l > 0 && j == i {
		l--
	}
	sub := NewSubject(s)
	char := utf8.RuneCountInString(s[:i]) + l
	if char < 0 || char >= sub.Len() {
		return 0
	}
	return sub.ByteOffset(char) + 1
}

// Upper applies full Unicode uppercase mapping.
func Upper(s string) string {
	return cases.Upper(language.Und).String(s)
}

// Lower applies full Unicode lowercase mapping.
func Lower(s string) string {
	return cases.Lower(language.Und).String(s)
}

// Form is a Unicode normalization form.
type Form string

const (
	NFC  Form = "NFC"
	NFD  Form = "NFD"
	NFKC Form = "NFKC"
	NFKD Form = "NFKD"
)

var forms = map[Form]norm.Form{
	NFC:  norm.NFC,
	NFD:  norm.NFD,
	NFKC: norm.NFKC,
	NFKD: norm.NFKD,
}

// Normalize converts s to form. ok is false when s is not UTF-8.
func Normalize(s string, form Form) (out string, ok bool) {
	if !utf8.ValidString(s) {
		return "", false
	}
	f, known := forms[form]
	if !known {
		return "", false
	}
	return f.String(s), true
}
