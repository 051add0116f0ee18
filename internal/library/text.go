package library

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/ustring"
	"github.com/seantiz/scribe/internal/value"
)

// JSON flags, exported to scripts as mw.text.JSON_*.
const (
	JSONPreserveKeys = 1
	JSONTryFixing    = 2
	JSONPretty       = 4
)

var textFuncs = []string{"jsonEncode", "jsonDecode", "nowiki", "trim", "encode"}

// Text is mw.text.
type Text struct {
	env Env
}

// Register implements Library.
func (t *Text) Register(env Env) (map[string]backend.HostFunc, error) {
	t.env = env
	return map[string]backend.HostFunc{
		"jsonEncode": t.jsonEncode,
		"jsonDecode": t.jsonDecode,
		"nowiki":     t.nowiki,
		"trim":       t.trim,
		"encode":     t.encode,
	}, nil
}

var errUnencodable = errors.New("mw.text.jsonEncode: Unable to encode value")

func (t *Text) jsonEncode(args []any) ([]any, error) {
	a := value.Args(args)
	flags, err := a.OptInt("mw.text.jsonEncode", 2, 0)
	if err != nil {
		return nil, err
	}
	v := a.Get(1)
	if flags&JSONPreserveKeys == 0 {
		v = value.Canonicalize(v)
	}
	doc, err := toJSON(v)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if flags&JSONPretty != 0 {
		enc.SetIndent("", "    ")
	}
	if err := enc.Encode(doc); err != nil {
		return nil, errUnencodable
	}
	out := strings.TrimSuffix(buf.String(), "\n")
	if err := t.env.Limits().CheckResult("mw.text.jsonEncode", len(out)); err != nil {
		return nil, err
	}
	return []any{out}, nil
}

// toJSON maps a host value onto the shapes encoding/json understands. Maps
// become objects with string keys; sequences become arrays.
func toJSON(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string:
		return x, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, errUnencodable
		}
		return x, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			j, err := toJSON(e)
			if err != nil {
				return nil, err
			}
			out[i] = j
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			if _, ok := k.(bool); ok {
				return nil, fmt.Errorf("mw.text.jsonEncode: Cannot use type boolean as a table key")
			}
			j, err := toJSON(e)
			if err != nil {
				return nil, err
			}
			out[value.KeyString(k)] = j
		}
		return out, nil
	}
	return nil, fmt.Errorf("mw.text.jsonEncode: Cannot encode type %s", value.TypeName(v))
}

func (t *Text) jsonDecode(args []any) ([]any, error) {
	a := value.Args(args)
	s, err := a.String("mw.text.jsonDecode", 1)
	if err != nil {
		return nil, err
	}
	flags, err := a.OptInt("mw.text.jsonDecode", 2, 0)
	if err != nil {
		return nil, err
	}
	if err := t.env.Limits().CheckString("mw.text.jsonDecode", 1, s); err != nil {
		return nil, err
	}
	if flags&JSONTryFixing != 0 {
		s = stripTrailingCommas(s)
	}

	var doc any
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return nil, errors.New("mw.text.jsonDecode: Syntax error")
	}
	return []any{fromJSON(doc, flags&JSONPreserveKeys != 0)}, nil
}

// fromJSON converts a decoded document to host values. Arrays stay
// sequences unless keys are preserved, in which case they keep 0-based keys.
func fromJSON(v any, preserve bool) any {
	switch x := v.(type) {
	case []any:
		if preserve {
			m := make(map[any]any, len(x))
			for i, e := range x {
				m[int64(i)] = fromJSON(e, preserve)
			}
			return m
		}
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = fromJSON(e, preserve)
		}
		return out
	case map[string]any:
		m := make(map[any]any, len(x))
		for k, e := range x {
			hk, _ := value.NormalizeKey(k)
			m[hk] = fromJSON(e, preserve)
		}
		return m
	}
	return v
}

// stripTrailingCommas removes commas directly before a closing bracket,
// outside of strings.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inString:
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
		case c == '"':
			inString = true
		case c == ',':
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == ']' || s[j] == '}') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

var nowikiChars = strings.NewReplacer(
	`"`, "&#34;", "&", "&#38;", "'", "&#39;", "<", "&#60;", "=", "&#61;",
	">", "&#62;", "[", "&#91;", "]", "&#93;", "{", "&#123;", "|", "&#124;",
	"}", "&#125;",
)

var nowikiLineStart = map[byte]string{
	'#': "&#35;", '*': "&#42;", ':': "&#58;", ';': "&#59;", ' ': "&#32;", '\t': "&#9;",
}

var nowikiWords = strings.NewReplacer(
	"__", "_&#95;", "://", "&#58;//",
	"ISBN ", "ISBN&#32;", "RFC ", "RFC&#32;", "PMID ", "PMID&#32;",
)

func (t *Text) nowiki(args []any) ([]any, error) {
	s, err := value.Args(args).String("nowiki", 1)
	if err != nil {
		return nil, err
	}
	s = nowikiChars.Replace(s)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "----") {
			lines[i] = "&#45;" + line[1:]
		} else if esc, ok := nowikiLineStart[line[0]]; ok {
			lines[i] = esc + line[1:]
		}
	}
	s = nowikiWords.Replace(strings.Join(lines, "\n"))
	if err := t.env.Limits().CheckResult("nowiki", len(s)); err != nil {
		return nil, err
	}
	return []any{s}, nil
}

const defaultTrimSet = "\t\r\n\f "

func (t *Text) trim(args []any) ([]any, error) {
	a := value.Args(args)
	s, err := a.String("trim", 1)
	if err != nil {
		return nil, err
	}
	set, err := a.OptString("trim", 2, "")
	if err != nil {
		return nil, err
	}
	if set == "" {
		return []any{strings.Trim(s, defaultTrimSet)}, nil
	}
	out, err := t.env.Patterns().Match(s, "^["+set+"]*(.-)["+set+"]*$", 1)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return []any{s}, nil
	}
	return []any{out[0]}, nil
}

const defaultEncodeSet = "<>&\"'\u00a0"

var namedEntities = map[string]string{
	"<": "&lt;", ">": "&gt;", "&": "&amp;", `"`: "&quot;", "'": "&#039;", "\u00a0": "&nbsp;",
}

func (t *Text) encode(args []any) ([]any, error) {
	a := value.Args(args)
	s, err := a.String("encode", 1)
	if err != nil {
		return nil, err
	}
	set, err := a.OptString("encode", 2, defaultEncodeSet)
	if err != nil {
		return nil, err
	}
	r := ustring.FuncReplacer(func(caps []any) (any, error) {
		c, _ := caps[0].(string)
		if e, ok := namedEntities[c]; ok {
			return e, nil
		}
		cp := ustring.Codepoint(c, 1, 1)
		if len(cp) == 0 {
			return c, nil
		}
		return fmt.Sprintf("&#%d;", cp[0]), nil
	})
	out, _, err := t.env.Patterns().Gsub(s, "["+set+"]", r, -1, t.env.Limits().MaxStringLength)
	if err != nil {
		return nil, err
	}
	return []any{out}, nil
}
