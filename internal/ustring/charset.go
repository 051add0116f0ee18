package ustring

import "strings"

// classBodies holds the character class body of each percent class. The
// uppercase complement of a class is always [^body] of the same body.
var classBodies = map[rune]string{
	'a': `\p{L}`,
	'c': `\p{Cc}`,
	'd': `\p{Nd}`,
	'l': `\p{Ll}`,
	'p': `\p{P}`,
	's': `\t-\r\p{Z}`,
	'u': `\p{Lu}`,
	'w': `\p{L}\p{Nd}`,
	'x': `0-9A-Fa-f０-９Ａ-Ｆａ-ｆ`,
	'z': `\x00`,
}

func lower(c rune) (rune, bool) {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A'), true
	}
	return c, false
}

func isClass(c rune) bool {
	l, _ := lower(c)
	_, ok := classBodies[l]
	return ok
}

// classRegex renders a percent class outside brackets.
func classRegex(c rune) string {
	l, complement := lower(c)
	body := classBodies[l]
	if complement {
		return "[^" + body + "]"
	}
	return "[" + body + "]"
}

// charSet is a parsed bracket set: a union of plain members, positive class
// bodies and complemented class bodies, optionally negated as a whole.
type charSet struct {
	negated bool
	members strings.Builder
	comps   []string
}

// parseSet parses the bracket set opening at pat[i]. It returns the index of
// the closing bracket.
func parseSet(pat []rune, i int) (int, *charSet, error) {
	n := len(pat)
	ii := i + 1
	set := &charSet{}
	i++
	if i < n && pat[i] == '^' {
		set.negated = true
		i++
	}
	for j := i; i < n && (j == i || pat[i] != ']'); i++ {
		switch {
		case pat[i] == '%':
			i++
			if i >= n {
				break
			}
			c := pat[i]
			if isClass(c) {
				l, complement := lower(c)
				if complement {
					set.comps = append(set.comps, classBodies[l])
				} else {
					set.members.WriteString(classBodies[l])
				}
			} else {
				set.members.WriteString(quote(c))
			}
		case i+2 < n && pat[i+1] == '-' && pat[i+2] != ']' && pat[i+2] != '%':
			if pat[i] <= pat[i+2] {
				set.members.WriteString(quote(pat[i]) + "-" + quote(pat[i+2]))
			}
			i += 2
		default:
			set.members.WriteString(quote(pat[i]))
		}
	}
	if i >= n {
		return 0, nil, errAt(ii, "Missing close-bracket for character set beginning at pattern character %d", ii)
	}
	return i, set, nil
}

// regex renders the set as a single-character regex.
func (s *charSet) regex() string {
	members := s.members.String()
	if !s.negated {
		var alts []string
		if members != "" {
			alts = append(alts, "["+members+"]")
		}
		for _, c := range s.comps {
			alts = append(alts, "[^"+c+"]")
		}
		switch len(alts) {
		case 0:
			return "(?:(?!))"
		case 1:
			return alts[0]
		}
		return "(?:" + strings.Join(alts, "|") + ")"
	}

	switch len(s.comps) {
	case 0:
		if members == "" {
			return "."
		}
		return "[^" + members + "]"
	case 1:
		if members == "" {
			return "[" + s.comps[0] + "]"
		}
		return "[" + s.comps[0] + "-[" + members + "]]"
	}
	positive := &charSet{comps: s.comps}
	positive.members.WriteString(members)
	return "(?:(?!" + positive.regex() + ").)"
}
