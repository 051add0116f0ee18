package library

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/value"
)

var messageFuncs = []string{"format", "exists"}

// Format is an output form of a message.
type Format string

const (
	FormatPlain   Format = "plain"
	FormatText    Format = "text"
	FormatEscaped Format = "escaped"
	FormatParse   Format = "parse"
	FormatExists  Format = "exists"
)

// Formats lists every Format in declaration order.
var Formats = []Format{FormatPlain, FormatText, FormatEscaped, FormatParse, FormatExists}

type formatOp func(env Env, msg resolvedMessage) (any, error)

type resolvedMessage struct {
	key   string
	text  string
	found bool
}

// missing is the rendering of a message key with no text.
func (m resolvedMessage) missing() string {
	return "⧼" + m.key + "⧽"
}

var formatOps = map[Format]formatOp{
	FormatPlain: func(_ Env, m resolvedMessage) (any, error) {
		if !m.found {
			return m.missing(), nil
		}
		return m.text, nil
	},
	FormatText: func(_ Env, m resolvedMessage) (any, error) {
		if !m.found {
			return m.missing(), nil
		}
		return m.text, nil
	},
	FormatEscaped: func(_ Env, m resolvedMessage) (any, error) {
		if !m.found {
			return html.EscapeString(m.missing()), nil
		}
		return html.EscapeString(m.text), nil
	},
	FormatParse: func(env Env, m resolvedMessage) (any, error) {
		if !m.found {
			return html.EscapeString(m.missing()), nil
		}
		return env.Preprocess(m.text)
	},
	FormatExists: func(_ Env, m resolvedMessage) (any, error) {
		return m.found, nil
	},
}

// ValidateFormats checks that every Format has exactly one operation.
func ValidateFormats() error {
	return validateFormatTable(formatOps)
}

func validateFormatTable(ops map[Format]formatOp) error {
	var result *multierror.Error
	known := make(map[Format]bool, len(Formats))
	for _, f := range Formats {
		known[f] = true
		if op, ok := ops[f]; !ok || op == nil {
			result = multierror.Append(result, fmt.Errorf("message format %q has no operation", f))
		}
	}
	for f := range ops {
		if !known[f] {
			result = multierror.Append(result, fmt.Errorf("message operation %q is not a known format", f))
		}
	}
	return result.ErrorOrNil()
}

// Message is mw.message. The message object itself lives in script; the
// host resolves and formats text.
type Message struct {
	env Env
}

// Register implements Library.
func (m *Message) Register(env Env) (map[string]backend.HostFunc, error) {
	if err := ValidateFormats(); err != nil {
		return nil, err
	}
	m.env = env
	return map[string]backend.HostFunc{
		"format": m.format,
		"exists": m.exists,
	}, nil
}

func (m *Message) resolve(key, lang string) (resolvedMessage, error) {
	msg := resolvedMessage{key: key}
	mf, ok := m.env.Host().(MessageFormatter)
	if !ok {
		return msg, nil
	}
	interp := m.env.Interpreter()
	interp.PauseUsageTimer()
	defer interp.UnpauseUsageTimer()

	text, found, err := mf.Message(m.env.Context(), key, lang)
	if err != nil {
		return msg, fmt.Errorf("message %q: %w", key, err)
	}
	msg.text, msg.found = text, found
	return msg, nil
}

// substitute replaces $1..$n with params. A reference to a missing
// parameter is left as written.
func substitute(text string, params []string) string {
	if len(params) == 0 || !strings.Contains(text, "$") {
		return text
	}
	var b strings.Builder
	for i := 0; i < len(text); i++ {
		if text[i] != '$' {
			b.WriteByte(text[i])
			continue
		}
		j := i + 1
		for j < len(text) && text[j] >= '0' && text[j] <= '9' {
			j++
		}
		n, err := strconv.Atoi(text[i+1 : j])
		if err != nil || n < 1 || n > len(params) {
			b.WriteByte('$')
			continue
		}
		b.WriteString(params[n-1])
		i = j - 1
	}
	return b.String()
}

// format(key, params, format, lang)
func (m *Message) format(args []any) ([]any, error) {
	a := value.Args(args)
	key, err := a.String("format", 1)
	if err != nil {
		return nil, err
	}
	raw, err := a.OptTable("format", 2)
	if err != nil {
		return nil, err
	}
	name, err := a.OptString("format", 3, string(FormatText))
	if err != nil {
		return nil, err
	}
	lang, err := a.OptString("format", 4, "")
	if err != nil {
		return nil, err
	}
	op, ok := formatOps[Format(name)]
	if !ok {
		return nil, &value.ArgumentError{Func: "format", Arg: 3, Msg: fmt.Sprintf("invalid format %q", name)}
	}

	params := make([]string, 0, len(raw))
	for i := int64(1); ; i++ {
		p, ok := raw[i]
		if !ok {
			break
		}
		params = append(params, value.ToString(p))
	}

	msg, err := m.resolve(key, lang)
	if err != nil {
		return nil, err
	}
	msg.text = substitute(msg.text, params)
	out, err := op(m.env, msg)
	if err != nil {
		return nil, err
	}
	if s, ok := out.(string); ok {
		if err := m.env.Limits().CheckResult("format", len(s)); err != nil {
			return nil, err
		}
	}
	return []any{out}, nil
}

func (m *Message) exists(args []any) ([]any, error) {
	a := value.Args(args)
	key, err := a.String("exists", 1)
	if err != nil {
		return nil, err
	}
	lang, err := a.OptString("exists", 2, "")
	if err != nil {
		return nil, err
	}
	msg, err := m.resolve(key, lang)
	if err != nil {
		return nil, err
	}
	return []any{msg.found}, nil
}
