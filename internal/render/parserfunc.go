package render

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/engine"
)

// DefaultTimeFormat is the #time layout when none is given.
const DefaultTimeFormat = "%Y-%m-%dT%H:%M:%SZ"

// CallParserFunction implements engine.Host. args[0] is the text after the
// colon of the call.
func (h *Host) CallParserFunction(ctx context.Context, frame *engine.Context, name string, args []string) (string, bool, error) {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}
	switch strings.ToLower(name) {
	case "#invoke":
		out, err := h.invoke(ctx, frame, args)
		return out, true, err
	case "lc":
		return cases.Lower(h.tag()).String(arg(0)), true, nil
	case "uc":
		return cases.Upper(h.tag()).String(arg(0)), true, nil
	case "lcfirst":
		return changeFirst(arg(0), cases.Lower(h.tag())), true, nil
	case "ucfirst":
		return changeFirst(arg(0), cases.Upper(h.tag())), true, nil
	case "#if":
		if strings.TrimSpace(arg(0)) != "" {
			return arg(1), true, nil
		}
		return arg(2), true, nil
	case "#time":
		frame.SetVolatile()
		return h.formatTime(arg(0), arg(1)), true, nil
	case "#tag":
		return tag(args), true, nil
	}
	return "", false, nil
}

func (h *Host) tag() language.Tag {
	t, err := language.Parse(h.cfg.Language)
	if err != nil {
		return language.Und
	}
	return t
}

func changeFirst(s string, c cases.Caser) string {
	for i := range s {
		if i > 0 {
			return c.String(s[:i]) + s[i:]
		}
	}
	return c.String(s)
}

// formatTime formats at (RFC 3339, a date, or empty for now) with a
// strftime layout.
func (h *Host) formatTime(layout, at string) string {
	if layout == "" {
		layout = DefaultTimeFormat
	}
	t := h.now().UTC()
	if at = strings.TrimSpace(at); at != "" && at != "now" {
		var err error
		if t, err = time.Parse(time.RFC3339, at); err != nil {
			if t, err = time.Parse(time.DateOnly, at); err != nil {
				return `<strong class="error">Error: Invalid time.</strong>`
			}
		}
	}
	return strftime.Format(layout, t)
}

// tag renders {{#tag:name|content|attr=value...}}.
func tag(args []string) string {
	if len(args) == 0 || args[0] == "" {
		return inlineError("#tag: no tag name")
	}
	name := args[0]
	var content string
	attrs := map[string]string{}
	for i, a := range args[1:] {
		if i == 0 {
			content = a
			continue
		}
		if k, v, ok := strings.Cut(a, "="); ok {
			attrs[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"`)
		}
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("<" + name)
	for _, k := range keys {
		fmt.Fprintf(&b, ` %s="%s"`, k, html.EscapeString(attrs[k]))
	}
	b.WriteString(">" + content + "</" + name + ">")
	return b.String()
}

// invoke handles {{#invoke:module|function|args...}}. A failed call renders
// as an error marker so the rest of the page still renders, except that a
// fatal error inside a running script aborts that script.
func (h *Host) invoke(ctx context.Context, frame *engine.Context, args []string) (string, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return h.marker(errors.New("You must specify a module to call.")), nil
	}
	if len(args) < 2 || strings.TrimSpace(args[1]) == "" {
		return h.marker(errors.New("You must specify a function to call.")), nil
	}
	mod := ModuleTitle(args[0])
	fn := strings.TrimSpace(args[1])

	var fargs engine.Args
	n := 0
	for _, a := range args[2:] {
		if k, v, ok := strings.Cut(a, "="); ok {
			fargs = append(fargs, engine.Arg{Name: strings.TrimSpace(k), Value: strings.TrimSpace(v)})
			continue
		}
		n++
		fargs = append(fargs, engine.Arg{Name: strconv.Itoa(n), Value: a})
	}

	e, err := h.Engine()
	if err != nil {
		return "", err
	}
	child, err := frame.NewChild(fargs, mod, 1)
	if err != nil {
		return h.marker(err), nil
	}

	nested := h.active > 0
	h.active++
	out, err := e.Invoke(ctx, mod, fn, child)
	h.active--
	if err != nil {
		if nested && backend.IsFatal(err) {
			return "", err
		}
		return h.marker(err), nil
	}
	return out, nil
}
