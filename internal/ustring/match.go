package ustring

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
)

// Subject is a string prepared for repeated matching. Positions handed to
// and returned from a Pattern are rune indices into the subject.
type Subject struct {
	s     string
	runes []rune
	offs  []int
}

// NewSubject decodes s. Invalid bytes decode to U+FFFD one byte at a time.
func NewSubject(s string) *Subject {
	sub := &Subject{s: s}
	sub.runes = make([]rune, 0, len(s))
	sub.offs = make([]int, 0, len(s)+1)
	for i, r := range s {
		sub.runes = append(sub.runes, r)
		sub.offs = append(sub.offs, i)
	}
	sub.offs = append(sub.offs, len(s))
	return sub
}

// String returns the subject text.
func (s *Subject) String() string { return s.s }

// Len returns the subject length in runes.
func (s *Subject) Len() int { return len(s.runes) }

// ByteOffset converts a rune index to a byte offset.
func (s *Subject) ByteOffset(i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(s.offs) {
		return len(s.s)
	}
	return s.offs[i]
}

// Slice returns the text between rune indices i and j.
func (s *Subject) Slice(i, j int) string {
	return s.s[s.ByteOffset(i):s.ByteOffset(j)]
}

// Capture is one captured value.
type Capture struct {
	Text string
	// Position is the 1-based rune position of a position capture.
	Position   int
	IsPosition bool
}

// Value returns the capture as a host value: a string, or a number for a
// position capture.
func (c Capture) Value() any {
	if c.IsPosition {
		return float64(c.Position)
	}
	return c.Text
}

// Match is one successful match.
type Match struct {
	// Start and End are rune indices, End exclusive.
	Start, End int
	Text       string
	Captures   []Capture

	// FirstRune is the first matched scalar, or -1 for an empty match at
	// the end of the subject.
	FirstRune    rune
	continuation bool
}

// Phantom reports whether the match begins on a UTF-8 continuation byte,
// which would split a scalar.
func (m *Match) Phantom() bool { return m.continuation }

// Values returns the captures as host values, or the whole match when the
// pattern has no captures.
func (m *Match) Values() []any {
	if len(m.Captures) == 0 {
		return []any{m.Text}
	}
	out := make([]any, len(m.Captures))
	for i, c := range m.Captures {
		out[i] = c.Value()
	}
	return out
}

// ErrMatchTimeout is returned when a match runs longer than the pattern's
// match timeout.
var ErrMatchTimeout = errors.New("pattern matching timed out")

// MatchAt returns the leftmost match that starts at rune index start or
// later, or nil when there is none.
func (p *Pattern) MatchAt(sub *Subject, start int) (*Match, error) {
	if start > sub.Len() {
		return nil, nil
	}
	if start < 0 {
		start = 0
	}
	m, err := p.re.FindRunesMatchStartingAt(sub.runes, start)
	if err != nil {
		return nil, fmt.Errorf("%w while matching pattern '%s'", ErrMatchTimeout, p.Source)
	}
	if m == nil {
		return nil, nil
	}
	return p.build(sub, m), nil
}

func (p *Pattern) build(sub *Subject, m *regexp2.Match) *Match {
	res := &Match{
		Start:     m.Index,
		End:       m.Index + m.Length,
		FirstRune: -1,
	}
	res.Text = sub.Slice(res.Start, res.End)
	if res.Start < sub.Len() {
		res.FirstRune = sub.runes[res.Start]
		bo := sub.ByteOffset(res.Start)
		res.continuation = !utf8.RuneStart(sub.s[bo])
	}
	if n := p.NumCaptures(); n > 0 {
		res.Captures = make([]Capture, n)
		for i := 0; i < n; i++ {
			g := m.GroupByName(fmt.Sprintf("m%d", i+1))
			if p.Positions[i] {
				pos := res.Start
				if g != nil && len(g.Captures) > 0 {
					pos = g.Index
				}
				res.Captures[i] = Capture{Position: pos + 1, IsPosition: true}
				continue
			}
			if g != nil && len(g.Captures) > 0 {
				res.Captures[i] = Capture{Text: sub.Slice(g.Index, g.Index+g.Length)}
			}
		}
	}
	return res
}
