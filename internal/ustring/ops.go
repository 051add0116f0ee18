package ustring

import (
	"fmt"
	"strings"

	"github.com/seantiz/scribe/internal/value"
)

// resolveInit converts a 1-based, possibly negative init into a 0-based rune
// index clamped to the subject.
func resolveInit(init, n int) int {
	if init < 0 {
		init = n + init + 1
	} else if init > n+1 {
		init = n + 1
	}
	if init < 1 {
		return 0
	}
	return init - 1
}

// Find locates pattern in s starting at init. It returns nil when there is no
// match, or the 1-based start and end followed by any captures.
func (c *Cache) Find(s, pattern string, init int, plain bool) ([]any, error) {
	sub := NewSubject(s)
	start := resolveInit(init, sub.Len())

	if plain {
		if pattern == "" {
			return []any{float64(start + 1), float64(start)}, nil
		}
		idx := strings.Index(s[sub.ByteOffset(start):], pattern)
		if idx < 0 {
			return nil, nil
		}
		first := start + runeCount(s[sub.ByteOffset(start):sub.ByteOffset(start)+idx])
		return []any{float64(first + 1), float64(first + runeCount(pattern))}, nil
	}

	p, err := c.Compile(pattern, AnchorInit)
	if err != nil {
		return nil, err
	}
	m, err := p.MatchAt(sub, start)
	if err != nil || m == nil {
		return nil, err
	}
	out := []any{float64(m.Start + 1), float64(m.End)}
	for _, cp := range m.Captures {
		out = append(out, cp.Value())
	}
	return out, nil
}

// Match is like Find but returns only the captures, or the whole match when
// the pattern has none.
func (c *Cache) Match(s, pattern string, init int) ([]any, error) {
	sub := NewSubject(s)
	start := resolveInit(init, sub.Len())

	p, err := c.Compile(pattern, AnchorInit)
	if err != nil {
		return nil, err
	}
	m, err := p.MatchAt(sub, start)
	if err != nil || m == nil {
		return nil, err
	}
	return m.Values(), nil
}

// Iterator yields successive matches. It returns nil values at the end.
type Iterator struct {
	p   *Pattern
	sub *Subject
	pos int
}

// Gmatch returns an iterator over the matches of pattern in s. A leading '^'
// is literal.
func (c *Cache) Gmatch(s, pattern string) (*Iterator, error) {
	p, err := c.Compile(pattern, AnchorNone)
	if err != nil {
		return nil, err
	}
	return &Iterator{p: p, sub: NewSubject(s)}, nil
}

// Next returns the values of the next match, or nil when exhausted.
func (it *Iterator) Next() ([]any, error) {
	for it.pos <= it.sub.Len() {
		m, err := it.p.MatchAt(it.sub, it.pos)
		if err != nil {
			return nil, err
		}
		if m == nil {
			it.pos = it.sub.Len() + 1
			return nil, nil
		}
		if m.End == m.Start {
			it.pos = m.End + 1
		} else {
			it.pos = m.End
		}
		if m.Phantom() {
			continue
		}
		return m.Values(), nil
	}
	return nil, nil
}

// Replacer computes the replacement text of one match. keep reports that
// the matched text should be kept unchanged.
type Replacer interface {
	Replace(m *Match) (repl string, keep bool, err error)
}

// StringReplacer expands %0 to %9 and %% in a replacement string.
type StringReplacer string

func (r StringReplacer) Replace(m *Match) (string, bool, error) {
	src := string(r)
	if !strings.Contains(src, "%") {
		return src, false, nil
	}
	var b strings.Builder
	for i := 0; i < len(src); i++ {
		ch := src[i]
		if ch != '%' || i+1 >= len(src) {
			b.WriteByte(ch)
			continue
		}
		x := src[i+1]
		switch {
		case x == '%':
			b.WriteByte('%')
		case x == '0':
			b.WriteString(m.Text)
		case x >= '1' && x <= '9':
			idx := int(x - '0')
			switch {
			case idx <= len(m.Captures):
				b.WriteString(captureString(m.Captures[idx-1]))
			case idx == 1:
				b.WriteString(m.Text)
			default:
				return "", false, fmt.Errorf("invalid capture index %%%d in replacement string", idx)
			}
		default:
			b.WriteByte(ch)
			continue
		}
		i++
	}
	return b.String(), false, nil
}

// TableReplacer looks up the first capture, or the whole match, in a table.
type TableReplacer map[any]any

func (r TableReplacer) Replace(m *Match) (string, bool, error) {
	var key any = m.Text
	if len(m.Captures) > 0 {
		key = m.Captures[0].Value()
	}
	hk, err := value.NormalizeKey(key)
	if err != nil {
		return "", false, err
	}
	return replacement(r[hk])
}

// FuncReplacer calls a function with the captures, or the whole match.
type FuncReplacer func(args []any) (any, error)

func (r FuncReplacer) Replace(m *Match) (string, bool, error) {
	v, err := r(m.Values())
	if err != nil {
		return "", false, err
	}
	return replacement(v)
}

func replacement(v any) (string, bool, error) {
	switch t := v.(type) {
	case nil:
		return "", true, nil
	case bool:
		if !t {
			return "", true, nil
		}
	case string:
		return t, false, nil
	case float64:
		return value.FormatNumber(t), false, nil
	}
	return "", false, fmt.Errorf("invalid replacement value (a %s)", value.TypeName(v))
}

func captureString(c Capture) string {
	if c.IsPosition {
		return value.FormatNumber(float64(c.Position))
	}
	return c.Text
}

// Gsub replaces up to max matches of pattern in s; max < 0 means no limit.
// It returns the new string and the number of matches replaced. A result
// longer than limit bytes is rejected when limit > 0.
func (c *Cache) Gsub(s, pattern string, r Replacer, max, limit int) (string, int, error) {
	if max == 0 {
		return s, 0, nil
	}
	p, err := c.Compile(pattern, AnchorStart)
	if err != nil {
		return "", 0, err
	}
	sub := NewSubject(s)

	var (
		b     strings.Builder
		count int
		pos   int
	)
	for pos <= sub.Len() && (max < 0 || count < max) {
		m, err := p.MatchAt(sub, pos)
		if err != nil {
			return "", 0, err
		}
		if m == nil {
			break
		}
		if m.Phantom() {
			b.WriteString(sub.Slice(pos, m.Start+1))
			pos = m.Start + 1
			continue
		}
		b.WriteString(sub.Slice(pos, m.Start))
		repl, keep, err := r.Replace(m)
		if err != nil {
			return "", 0, err
		}
		if keep {
			b.WriteString(m.Text)
		} else {
			b.WriteString(repl)
		}
		count++
		if limit > 0 && b.Len() > limit {
			return "", 0, &value.ResultTooLargeError{Func: "gsub", Limit: limit}
		}
		if m.End > m.Start {
			pos = m.End
			continue
		}
		if m.End >= sub.Len() {
			pos = sub.Len() + 1
			break
		}
		b.WriteString(sub.Slice(m.End, m.End+1))
		pos = m.End + 1
	}
	if pos <= sub.Len() {
		b.WriteString(sub.Slice(pos, sub.Len()))
	}
	if limit > 0 && b.Len() > limit {
		return "", 0, &value.ResultTooLargeError{Func: "gsub", Limit: limit}
	}
	return b.String(), count, nil
}

func runeCount(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}
