package library

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/governor"
	"github.com/seantiz/scribe/internal/value"
)

var titleFuncs = []string{"normalize", "exists", "redirectTarget", "protectionLevels", "getContent"}

// Namespaces are the title prefixes recognized by NormalizeTitle.
var Namespaces = map[string]bool{
	"Module": true, "Template": true, "Category": true, "File": true,
	"User": true, "Help": true, "Project": true, "Talk": true,
}

// NormalizeTitle puts title text in canonical form: underscores become
// spaces, runs of spaces collapse, and the first letter of the namespace and
// of the page name is uppercased. ok is
// false for text that cannot name a page.
func NormalizeTitle(text string) (string, bool) {
	t := strings.Join(strings.Fields(strings.ReplaceAll(text, "_", " ")), " ")
	if t == "" || !utf8.ValidString(t) || strings.ContainsAny(t, "<>[]{}|#") {
		return "", false
	}
	if ns, rest, found := strings.Cut(t, ":"); found && rest != "" && Namespaces[upperFirst(strings.TrimSpace(ns))] {
		t = upperFirst(strings.TrimSpace(ns)) + ":" + upperFirst(strings.TrimSpace(rest))
	} else {
		t = upperFirst(t)
	}
	return t, true
}

func upperFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}

// Title is mw.title. Page metadata is looked up once per title per engine;
// the first lookup of a title other than the current page is charged to the
// expensive-call budget.
type Title struct {
	env   Env
	pages map[string]*PageInfo
}

// NewTitle returns an mw.title instance.
func NewTitle() *Title {
	return &Title{pages: make(map[string]*PageInfo)}
}

// Register implements Library.
func (t *Title) Register(env Env) (map[string]backend.HostFunc, error) {
	t.env = env
	return map[string]backend.HostFunc{
		"normalize":        t.normalize,
		"exists":           t.exists,
		"redirectTarget":   t.redirectTarget,
		"protectionLevels": t.protectionLevels,
		"getContent":       t.getContent,
	}, nil
}

func (t *Title) titleArg(args []any, fn string) (string, bool, error) {
	text, err := value.Args(args).String(fn, 1)
	if err != nil {
		return "", false, err
	}
	title, ok := NormalizeTitle(text)
	return title, ok, nil
}

// lookup returns the metadata of title, nil when the page is missing.
func (t *Title) lookup(title string, op governor.Op) (*PageInfo, error) {
	if info, ok := t.pages[title]; ok {
		return info, nil
	}
	resolver, ok := t.env.Host().(PageResolver)
	if !ok {
		t.pages[title] = nil
		return nil, nil
	}
	if cur, _ := NormalizeTitle(t.env.CurrentTitle()); cur != title {
		if err := t.env.Budget().Charge(op); err != nil {
			return nil, err
		}
	}
	interp := t.env.Interpreter()
	interp.PauseUsageTimer()
	defer interp.UnpauseUsageTimer()

	info, err := resolver.ResolvePage(t.env.Context(), title)
	if err != nil {
		return nil, err
	}
	t.pages[title] = info
	return info, nil
}

func (t *Title) normalize(args []any) ([]any, error) {
	title, ok, err := t.titleArg(args, "normalize")
	if err != nil || !ok {
		return []any{nil}, err
	}
	return []any{title}, nil
}

func (t *Title) exists(args []any) ([]any, error) {
	title, ok, err := t.titleArg(args, "exists")
	if err != nil || !ok {
		return []any{false}, err
	}
	info, err := t.lookup(title, governor.OpTitleExists)
	if err != nil {
		return nil, err
	}
	return []any{info != nil}, nil
}

func (t *Title) redirectTarget(args []any) ([]any, error) {
	title, ok, err := t.titleArg(args, "redirectTarget")
	if err != nil || !ok {
		return []any{nil}, err
	}
	info, err := t.lookup(title, governor.OpTitleRedirect)
	if err != nil {
		return nil, err
	}
	if info == nil || info.Redirect == "" {
		return []any{nil}, nil
	}
	return []any{info.Redirect}, nil
}

func (t *Title) protectionLevels(args []any) ([]any, error) {
	title, ok, err := t.titleArg(args, "protectionLevels")
	if err != nil || !ok {
		return []any{nil}, err
	}
	info, err := t.lookup(title, governor.OpTitleProtection)
	if err != nil {
		return nil, err
	}
	levels := map[any]any{}
	if info != nil {
		for action, groups := range info.Protection {
			levels[action] = groups
		}
	}
	return []any{levels}, nil
}

// getContent fetches page text and records the page as a dependency of the
// output.
func (t *Title) getContent(args []any) ([]any, error) {
	title, ok, err := t.titleArg(args, "getContent")
	if err != nil || !ok {
		return []any{nil}, err
	}
	if err := t.env.Budget().Charge(governor.OpTitleContent); err != nil {
		return nil, err
	}
	if rec, ok := t.env.Host().(DependencyRecorder); ok {
		rec.RecordDependency(title)
	}
	resolver, ok := t.env.Host().(PageResolver)
	if !ok {
		return []any{nil}, nil
	}
	interp := t.env.Interpreter()
	interp.PauseUsageTimer()
	defer interp.UnpauseUsageTimer()

	content, found, err := resolver.PageContent(t.env.Context(), title)
	if err != nil || !found {
		return []any{nil}, err
	}
	return []any{content}, nil
}
