package library

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bluele/gcache"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/value"
)

var languageFuncs = []string{
	"getContLangCode", "isKnownLanguageTag", "isValidCode", "fetchLanguageName", "getFallbacksFor",
	"lc", "uc", "lcfirst", "ucfirst", "caseFold", "formatNum", "isRTL",
}

// maxLanguages bounds how many distinct language codes one engine may use.
const maxLanguages = 200

// CaserCacheSize is the capacity of the process-wide caser cache.
const CaserCacheSize = 20

// caserSet holds the case mappers of one language. Casers keep state
// between calls, so each set is used under its lock.
type caserSet struct {
	mu    sync.Mutex
	upper cases.Caser
	lower cases.Caser
	fold  cases.Caser
}

func (c *caserSet) apply(which *cases.Caser, s string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return which.String(s)
}

// casers is shared by every engine in the process and keyed by the
// canonical language tag, so entries never leak between languages.
var casers = gcache.New(CaserCacheSize).LRU().
	LoaderFunc(func(key interface{}) (interface{}, error) {
		tag := language.Make(key.(string))
		return &caserSet{
			upper: cases.Upper(tag),
			lower: cases.Lower(tag),
			fold:  cases.Fold(),
		}, nil
	}).
	Build()

func casersFor(tag language.Tag) *caserSet {
	v, err := casers.Get(tag.String())
	if err != nil {
		// The loader cannot fail.
		panic(err)
	}
	return v.(*caserSet)
}

// ContentLanguager is implemented by hosts with a content language other
// than English.
type ContentLanguager interface {
	ContentLanguage() string
}

// Language is mw.language. Language codes are the first argument of every
// per-language function.
type Language struct {
	env  Env
	tags map[string]language.Tag
}

// NewLanguage returns an mw.language instance.
func NewLanguage() *Language {
	return &Language{tags: make(map[string]language.Tag)}
}

// Register implements Library.
func (l *Language) Register(env Env) (map[string]backend.HostFunc, error) {
	l.env = env
	return map[string]backend.HostFunc{
		"getContLangCode":    l.getContLangCode,
		"isKnownLanguageTag": l.isKnownLanguageTag,
		"isValidCode":        l.isValidCode,
		"fetchLanguageName":  l.fetchLanguageName,
		"getFallbacksFor":    l.getFallbacksFor,
		"lc":                 l.caseOp("lc", func(c *caserSet, s string) string { return c.apply(&c.lower, s) }),
		"uc":                 l.caseOp("uc", func(c *caserSet, s string) string { return c.apply(&c.upper, s) }),
		"lcfirst":            l.caseOp("lcfirst", func(c *caserSet, s string) string { return first(s, func(r string) string { return c.apply(&c.lower, r) }) }),
		"ucfirst":            l.caseOp("ucfirst", func(c *caserSet, s string) string { return first(s, func(r string) string { return c.apply(&c.upper, r) }) }),
		"caseFold":           l.caseOp("caseFold", func(c *caserSet, s string) string { return c.apply(&c.fold, s) }),
		"formatNum":          l.formatNum,
		"isRTL":              l.isRTL,
	}, nil
}

// first applies f to the first scalar of s.
func first(s string, f func(string) string) string {
	if s == "" {
		return s
	}
	_, n := utf8.DecodeRuneInString(s)
	return f(s[:n]) + s[n:]
}

// tag resolves a language code, caching it for the engine.
func (l *Language) tag(code string) (language.Tag, error) {
	if t, ok := l.tags[code]; ok {
		return t, nil
	}
	if len(l.tags) >= maxLanguages {
		return language.Und, fmt.Errorf("too many language codes requested")
	}
	t, err := language.Parse(code)
	if err != nil || !validCode(code) {
		return language.Und, fmt.Errorf("language code '%s' is invalid", code)
	}
	l.tags[code] = t
	return t, nil
}

func validCode(code string) bool {
	return code != "" && !strings.ContainsAny(code, ":/\\\x00&<>'\"")
}

func (l *Language) getContLangCode([]any) ([]any, error) {
	if cl, ok := l.env.Host().(ContentLanguager); ok {
		if code := cl.ContentLanguage(); code != "" {
			return []any{code}, nil
		}
	}
	return []any{"en"}, nil
}

func (l *Language) isKnownLanguageTag(args []any) ([]any, error) {
	code, err := value.Args(args).String("isKnownLanguageTag", 1)
	if err != nil {
		return nil, err
	}
	if !validCode(code) || strings.ToLower(code) != code {
		return []any{false}, nil
	}
	t, err := language.Parse(code)
	if err != nil {
		return []any{false}, nil
	}
	return []any{display.English.Tags().Name(t) != ""}, nil
}

func (l *Language) isValidCode(args []any) ([]any, error) {
	code, err := value.Args(args).String("isValidCode", 1)
	if err != nil {
		return nil, err
	}
	return []any{validCode(code)}, nil
}

func (l *Language) fetchLanguageName(args []any) ([]any, error) {
	a := value.Args(args)
	code, err := a.String("fetchLanguageName", 1)
	if err != nil {
		return nil, err
	}
	in, err := a.OptString("fetchLanguageName", 2, "")
	if err != nil {
		return nil, err
	}
	t, err := language.Parse(code)
	if err != nil {
		return []any{""}, nil
	}
	if in == "" {
		return []any{display.Self.Name(t)}, nil
	}
	inTag, err := language.Parse(in)
	if err != nil {
		return []any{""}, nil
	}
	return []any{display.Tags(inTag).Name(t)}, nil
}

func (l *Language) getFallbacksFor(args []any) ([]any, error) {
	code, err := value.Args(args).String("getFallbacksFor", 1)
	if err != nil {
		return nil, err
	}
	t, err := language.Parse(code)
	if err != nil {
		return []any{[]any{}}, nil
	}
	var out []any
	seen := map[string]bool{code: true}
	for p := t.Parent(); p != language.Und; p = p.Parent() {
		if s := p.String(); !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if !seen["en"] {
		out = append(out, "en")
	}
	return []any{out}, nil
}

func (l *Language) caseOp(fn string, op func(*caserSet, string) string) backend.HostFunc {
	return func(args []any) ([]any, error) {
		a := value.Args(args)
		code, err := a.String(fn, 1)
		if err != nil {
			return nil, err
		}
		t, err := l.tag(code)
		if err != nil {
			return nil, err
		}
		s, err := a.String(fn, 2)
		if err != nil {
			return nil, err
		}
		out := op(casersFor(t), s)
		if err := l.env.Limits().CheckResult(fn, len(out)); err != nil {
			return nil, err
		}
		return []any{out}, nil
	}
}

func (l *Language) formatNum(args []any) ([]any, error) {
	a := value.Args(args)
	code, err := a.String("formatNum", 1)
	if err != nil {
		return nil, err
	}
	t, err := l.tag(code)
	if err != nil {
		return nil, err
	}
	n, err := a.Number("formatNum", 2)
	if err != nil {
		return nil, err
	}
	opts, err := a.OptTable("formatNum", 3)
	if err != nil {
		return nil, err
	}
	if nc, _ := opts["noCommafy"].(bool); nc {
		return []any{strconv.FormatFloat(n, 'f', -1, 64)}, nil
	}
	p := message.NewPrinter(t)
	return []any{p.Sprint(number.Decimal(n, number.MaxFractionDigits(15)))}, nil
}

// rtlScripts are the scripts written right to left.
var rtlScripts = map[string]bool{
	"Arab": true, "Hebr": true, "Thaa": true, "Syrc": true, "Nkoo": true,
	"Adlm": true, "Rohg": true, "Mand": true, "Samr": true,
}

func (l *Language) isRTL(args []any) ([]any, error) {
	code, err := value.Args(args).String("isRTL", 1)
	if err != nil {
		return nil, err
	}
	t, err := l.tag(code)
	if err != nil {
		return nil, err
	}
	script, _ := t.Script()
	return []any{rtlScripts[script.String()]}, nil
}
