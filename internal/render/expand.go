package render

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/seantiz/scribe/internal/engine"
)

// Expand implements engine.Host. It understands {{{name|default}}}
// arguments, {{Template|args}} transclusion and {{#fn:args}} parser
// functions. Everything else is copied through.
func (h *Host) Expand(ctx context.Context, frame *engine.Context, text string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(text); {
		j := strings.Index(text[i:], "{{")
		if j < 0 {
			b.WriteString(text[i:])
			break
		}
		b.WriteString(text[i : i+j])
		i += j

		width := 2
		if strings.HasPrefix(text[i:], "{{{") {
			width = 3
		}
		end := closing(text, i, width)
		if end < 0 {
			b.WriteByte('{')
			i++
			continue
		}
		inner := text[i+width : end-width]

		var out string
		var err error
		if width == 3 {
			out, err = h.expandArg(ctx, frame, inner)
		} else {
			out, err = h.expandNode(ctx, frame, inner)
		}
		if err != nil {
			return "", err
		}
		b.WriteString(out)
		i = end
	}
	return b.String(), nil
}

// closing returns the index just past the construct opened at text[start]
// by width braces, or -1 when it is not closed.
func closing(text string, start, width int) int {
	stack := []int{width}
	for i := start + width; i < len(text); {
		switch {
		case strings.HasPrefix(text[i:], "{{{"):
			stack = append(stack, 3)
			i += 3
		case strings.HasPrefix(text[i:], "{{"):
			stack = append(stack, 2)
			i += 2
		case strings.HasPrefix(text[i:], "}}"):
			w := stack[len(stack)-1]
			if w == 3 && !strings.HasPrefix(text[i:], "}}}") {
				w = 2
			}
			stack = stack[:len(stack)-1]
			i += w
			if len(stack) == 0 {
				if w != width {
					return -1
				}
				return i
			}
		default:
			i++
		}
	}
	return -1
}

// splitTop splits s at each top-level occurrence of sep, ignoring those
// inside {{...}} and [[...]].
func splitTop(s string, sep byte) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch {
		case strings.HasPrefix(s[i:], "{{"), strings.HasPrefix(s[i:], "[["):
			depth++
			i++
		case depth > 0 && (strings.HasPrefix(s[i:], "}}") || strings.HasPrefix(s[i:], "]]")):
			depth--
			i++
		case depth == 0 && s[i] == sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func (h *Host) expandArg(ctx context.Context, frame *engine.Context, inner string) (string, error) {
	parts := splitTop(inner, '|')
	name, err := h.Expand(ctx, frame, parts[0])
	if err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	if v, ok := frame.Arg(name); ok {
		return v, nil
	}
	if len(parts) > 1 {
		return h.Expand(ctx, frame, parts[1])
	}
	return "{{{" + name + "}}}", nil
}

// bareFunctions are the parser functions written without a leading hash.
var bareFunctions = map[string]bool{
	"lc": true, "uc": true, "lcfirst": true, "ucfirst": true,
}

func splitFunction(head string) (name, first string, ok bool) {
	name, first, found := strings.Cut(head, ":")
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "#") || (found && bareFunctions[strings.ToLower(name)]) {
		return strings.ToLower(name), strings.TrimSpace(first), true
	}
	return "", "", false
}

func (h *Host) expandNode(ctx context.Context, frame *engine.Context, inner string) (string, error) {
	parts := splitTop(inner, '|')
	head, err := h.Expand(ctx, frame, parts[0])
	if err != nil {
		return "", err
	}
	head = strings.TrimSpace(head)

	if name, first, ok := splitFunction(head); ok {
		args := []string{first}
		for _, p := range parts[1:] {
			v, err := h.Expand(ctx, frame, p)
			if err != nil {
				return "", err
			}
			args = append(args, strings.TrimSpace(v))
		}
		out, found, err := h.CallParserFunction(ctx, frame, name, args)
		if err != nil {
			return "", err
		}
		if !found {
			return "{{" + inner + "}}", nil
		}
		return out, nil
	}

	title, ok := engine.TemplateTitle(head)
	if !ok {
		return "{{" + inner + "}}", nil
	}
	args, err := h.templateArgs(ctx, frame, parts[1:])
	if err != nil {
		return "", err
	}
	return h.transclude(ctx, frame, title, args)
}

// templateArgs expands the arguments of a transclusion. Named values are
// trimmed; positional values keep their whitespace.
func (h *Host) templateArgs(ctx context.Context, frame *engine.Context, parts []string) (engine.Args, error) {
	var args engine.Args
	n := 0
	for _, p := range parts {
		if kv := splitTop(p, '='); len(kv) > 1 {
			name, err := h.Expand(ctx, frame, kv[0])
			if err != nil {
				return nil, err
			}
			value, err := h.Expand(ctx, frame, strings.Join(kv[1:], "="))
			if err != nil {
				return nil, err
			}
			args = append(args, engine.Arg{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
			continue
		}
		n++
		value, err := h.Expand(ctx, frame, p)
		if err != nil {
			return nil, err
		}
		args = append(args, engine.Arg{Name: strconv.Itoa(n), Value: value})
	}
	return args, nil
}

func (h *Host) transclude(ctx context.Context, frame *engine.Context, title string, args engine.Args) (string, error) {
	if frame.HasAncestor(title) {
		return inlineError(fmt.Sprintf("Template loop detected: [[%s]]", title)), nil
	}
	src, err := h.FetchTemplate(ctx, title)
	if err != nil {
		return "", err
	}
	if src == nil {
		return "[[:" + title + "]]", nil
	}
	child, err := frame.NewChild(args, src.Title, 1)
	if err != nil {
		return inlineError(err.Error()), nil
	}
	return h.Expand(ctx, child, src.Text)
}

func inlineError(msg string) string {
	return `<span class="error">` + html.EscapeString(msg) + `</span>`
}
