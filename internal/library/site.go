package library

import (
	"fmt"
	"strings"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/governor"
	"github.com/seantiz/scribe/internal/value"
)

var siteFuncs = []string{"siteName", "server", "stats", "pagesInCategory"}

// Site is mw.site. Category counts are fetched once per category per
// engine, and only the first fetch is charged.
type Site struct {
	env        Env
	categories map[string]CategoryCounts
}

// NewSite returns an mw.site instance.
func NewSite() *Site {
	return &Site{categories: make(map[string]CategoryCounts)}
}

// Register implements Library.
func (s *Site) Register(env Env) (map[string]backend.HostFunc, error) {
	s.env = env
	return map[string]backend.HostFunc{
		"siteName":        s.siteName,
		"server":          s.server,
		"stats":           s.stats,
		"pagesInCategory": s.pagesInCategory,
	}, nil
}

func (s *Site) info() (SiteInfo, bool) {
	si, ok := s.env.Host().(SiteInfo)
	return si, ok
}

func (s *Site) siteName([]any) ([]any, error) {
	if si, ok := s.info(); ok {
		return []any{si.SiteName()}, nil
	}
	return []any{""}, nil
}

func (s *Site) server([]any) ([]any, error) {
	if si, ok := s.info(); ok {
		return []any{si.Server()}, nil
	}
	return []any{""}, nil
}

func (s *Site) stats([]any) ([]any, error) {
	var st SiteStats
	if si, ok := s.info(); ok {
		interp := s.env.Interpreter()
		interp.PauseUsageTimer()
		var err error
		st, err = si.Stats(s.env.Context())
		interp.UnpauseUsageTimer()
		if err != nil {
			return nil, fmt.Errorf("site stats: %w", err)
		}
	}
	return []any{map[any]any{
		"pages":    float64(st.Pages),
		"articles": float64(st.Articles),
		"files":    float64(st.Files),
		"edits":    float64(st.Edits),
		"users":    float64(st.Users),
	}}, nil
}

// pagesInCategory(category, which) where which is all, pages, subcats,
// files or "*" for a table of every count.
func (s *Site) pagesInCategory(args []any) ([]any, error) {
	a := value.Args(args)
	cat, err := a.String("pagesInCategory", 1)
	if err != nil {
		return nil, err
	}
	which, err := a.OptString("pagesInCategory", 2, "all")
	if err != nil {
		return nil, err
	}
	which = strings.ToLower(which)
	switch which {
	case "all", "pages", "subcats", "files", "*":
	default:
		return nil, &value.ArgumentError{Func: "pagesInCategory", Arg: 2, Msg: fmt.Sprintf("invalid which value %q", which)}
	}
	name, ok := NormalizeTitle(strings.TrimPrefix(cat, "Category:"))
	if !ok {
		return []any{float64(0)}, nil
	}

	counts, err := s.categoryCounts(name)
	if err != nil {
		return nil, err
	}
	pages := counts.All - counts.Subcats - counts.Files
	switch which {
	case "pages":
		return []any{float64(pages)}, nil
	case "subcats":
		return []any{float64(counts.Subcats)}, nil
	case "files":
		return []any{float64(counts.Files)}, nil
	case "*":
		return []any{map[any]any{
			"all":     float64(counts.All),
			"pages":   float64(pages),
			"subcats": float64(counts.Subcats),
			"files":   float64(counts.Files),
		}}, nil
	}
	return []any{float64(counts.All)}, nil
}

func (s *Site) categoryCounts(name string) (CategoryCounts, error) {
	if c, ok := s.categories[name]; ok {
		return c, nil
	}
	if err := s.env.Budget().Charge(governor.OpSitePagesInCategory); err != nil {
		return CategoryCounts{}, err
	}
	var counts CategoryCounts
	if si, ok := s.info(); ok {
		interp := s.env.Interpreter()
		interp.PauseUsageTimer()
		defer interp.UnpauseUsageTimer()

		var err error
		counts, err = si.CategoryCounts(s.env.Context(), name)
		if err != nil {
			return CategoryCounts{}, fmt.Errorf("category %q: %w", name, err)
		}
	}
	s.categories[name] = counts
	return counts, nil
}
