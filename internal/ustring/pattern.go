// Package ustring implements Unicode-aware string operations for scripts,
// including a compiler from the script language's pattern syntax to
// backtracking regular expressions.
package ustring

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// DefaultMatchTimeout bounds a single regex match, the equivalent of a
// backtrack limit.
const DefaultMatchTimeout = 2 * time.Second

// Anchor selects how a leading '^' is compiled.
type Anchor int

const (
	// AnchorNone compiles a leading '^' as a literal character.
	AnchorNone Anchor = iota
	// AnchorStart anchors a leading '^' to the start of the subject.
	AnchorStart
	// AnchorInit anchors a leading '^' to the position where matching starts.
	AnchorInit
)

func (a Anchor) String() string {
	switch a {
	case AnchorStart:
		return "start"
	case AnchorInit:
		return "init"
	default:
		return "none"
	}
}

// PatternError is a compile error. Offset is the 1-based character position
// the message refers to, or 0 when the message names no position.
type PatternError struct {
	Offset int
	Msg    string
}

func (e *PatternError) Error() string { return e.Msg }

func errAt(offset int, format string, args ...any) *PatternError {
	return &PatternError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// Pattern is a compiled pattern.
type Pattern struct {
	Source string
	Anchor Anchor
	Regex  string

	// Positions[i] reports whether capture i+1 is a position capture "()".
	Positions []bool
	// AnyPosition is set when at least one capture is a position capture.
	AnyPosition bool

	re *regexp2.Regexp
}

// NumCaptures returns the number of captures the pattern defines.
func (p *Pattern) NumCaptures() int { return len(p.Positions) }

// Compile translates pattern into a regular expression. It does not consult
// any cache; see Cache.
func Compile(pattern string, anchor Anchor) (*Pattern, error) {
	pat := []rune(pattern)
	n := len(pat)

	var (
		b         strings.Builder
		positions []bool
		open      []int
		openedAt  = map[int]int{}
		balanced  int
	)

	for i := 0; i < n; i++ {
		ii := i + 1
		q := false

		switch pat[i] {
		case '^':
			q = i > 0
			switch {
			case anchor == AnchorNone || q:
				b.WriteString(quote('^'))
			case anchor == AnchorStart:
				b.WriteString(`\A`)
			default:
				b.WriteString(`\G`)
			}

		case '$':
			q = i < n-1
			if q {
				b.WriteString(quote('$'))
			} else {
				b.WriteString(`\z`)
			}

		case '(':
			if i+1 >= n {
				return nil, errAt(ii, "Unmatched open-paren at pattern character %d", ii)
			}
			idx := len(positions) + 1
			pos := pat[i+1] == ')'
			positions = append(positions, pos)
			fmt.Fprintf(&b, "(?<m%d>", idx)
			open = append(open, idx)
			openedAt[idx] = ii

		case ')':
			if len(open) == 0 {
				return nil, errAt(ii, "Unmatched close-paren at pattern character %d", ii)
			}
			open = open[:len(open)-1]
			b.WriteByte(')')

		case '%':
			i++
			if i >= n {
				return nil, errAt(0, "malformed pattern (ends with '%%')")
			}
			c := pat[i]
			switch {
			case isClass(c):
				b.WriteString(classRegex(c))
				q = true
			case c == 'b':
				if i+2 >= n {
					return nil, errAt(0, "malformed pattern (missing arguments to '%%b')")
				}
				d1, d2 := pat[i+1], pat[i+2]
				i += 2
				if d1 == d2 {
					fmt.Fprintf(&b, "%s[^%s]*%s", quote(d1), quote(d1), quote(d1))
				} else {
					balanced++
					writeBalanced(&b, d1, d2, balanced)
				}
			case c == 'f':
				if i+1 >= n || pat[i+1] != '[' {
					return nil, errAt(ii, "missing '[' after %%f in pattern at pattern character %d", ii)
				}
				i++
				next, set, err := parseSet(pat, i)
				if err != nil {
					return nil, err
				}
				i = next
				if err := writeFrontier(&b, set); err != nil {
					return nil, err
				}
			case c >= '0' && c <= '9':
				idx := int(c - '0')
				if idx == 0 || idx > len(positions) || contains(open, idx) {
					return nil, errAt(ii, "invalid capture index %%%d at pattern character %d", idx, ii)
				}
				fmt.Fprintf(&b, `\k<m%d>`, idx)
			default:
				b.WriteString(quote(c))
				q = true
			}

		case '[':
			next, set, err := parseSet(pat, i)
			if err != nil {
				return nil, err
			}
			i = next
			b.WriteString(set.regex())
			q = true

		case ']':
			return nil, errAt(ii, "Unmatched close-bracket at pattern character %d", ii)

		case '.':
			b.WriteByte('.')
			q = true

		default:
			b.WriteString(quote(pat[i]))
			q = true
		}

		if q && i+1 < n {
			switch pat[i+1] {
			case '*', '+', '?':
				b.WriteRune(pat[i+1])
				i++
			case '-':
				b.WriteString("*?")
				i++
			}
		}
	}

	if len(open) > 0 {
		at := openedAt[open[0]]
		return nil, errAt(at, "Unclosed capture beginning at pattern character %d", at)
	}

	expr := b.String()
	re, err := regexp2.Compile(expr, regexp2.Singleline)
	if err != nil {
		return nil, errAt(0, "malformed pattern (%v)", err)
	}
	re.MatchTimeout = DefaultMatchTimeout

	p := &Pattern{
		Source:    pattern,
		Anchor:    anchor,
		Regex:     expr,
		Positions: positions,
		re:        re,
	}
	for _, pos := range positions {
		if pos {
			p.AnyPosition = true
		}
	}
	return p, nil
}

// writeBalanced emits x, an atomic run of non-delimiters or push and pop
// operations on a balancing group, a check that the group is empty, then y.
func writeBalanced(b *strings.Builder, x, y rune, n int) {
	qx, qy := quote(x), quote(y)
	name := fmt.Sprintf("b%d", n)
	fmt.Fprintf(b, "%s(?>(?:[^%s%s]+|%s(?<%s>)|%s(?<-%s>))*)(?(%s)(?!))%s",
		qx, qx, qy, qx, name, qy, name, name, qy)
}

// writeFrontier emits a boundary between a character outside set and one
// inside it. The subject ends count as the character \0.
func writeFrontier(b *strings.Builder, set *charSet) error {
	r := set.regex()
	nul, err := regexp2.Compile(`\A(?:`+r+`)\z`, regexp2.Singleline)
	if err != nil {
		return errAt(0, "malformed pattern (%v)", err)
	}
	hasNul, err := nul.MatchString("\x00")
	if err != nil {
		return errAt(0, "malformed pattern (%v)", err)
	}
	if hasNul {
		fmt.Fprintf(b, `(?<!\A)(?<!%s)(?=%s|\z)`, r, r)
	} else {
		fmt.Fprintf(b, `(?<!%s)(?=%s)`, r, r)
	}
	return nil
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// quote renders r as a regex literal that is also safe inside a character
// class. ASCII punctuation, spaces and control characters are hex escaped.
func quote(r rune) string {
	if r < 0x80 && !isAlnum(r) {
		return fmt.Sprintf(`\x%02X`, r)
	}
	return string(r)
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
