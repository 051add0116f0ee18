// Package render is the reference host: it serves modules and templates
// from a store, expands a small subset of wikitext and reports script
// failures inline.
package render

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/engine"
	"github.com/seantiz/scribe/internal/library"
	"github.com/seantiz/scribe/internal/model"
	"github.com/seantiz/scribe/internal/store"
)

// Config describes the site a Host renders for.
type Config struct {
	SiteName string
	Server   string
	Language string
	// Timeout bounds one Runner invocation. Zero means DefaultTimeout.
	Timeout time.Duration
	Engine  engine.Config
	// Backends overrides the engine's built-in backend registry.
	Backends *backend.Registry
}

// Host renders pages of one store. A Host serves a single render: it owns
// one Engine and collects that render's warnings and dependencies. It is not
// safe for concurrent use.
type Host struct {
	store store.Store
	cfg   Config
	opts  []engine.Option
	now   func() time.Time

	engine   *engine.Engine
	active   int
	markers  int
	warnings []string
	deps     map[string]bool
}

var (
	_ engine.Host               = (*Host)(nil)
	_ engine.PageResolver       = (*Host)(nil)
	_ engine.SiteInfo           = (*Host)(nil)
	_ engine.MessageFormatter   = (*Host)(nil)
	_ engine.WarningSink        = (*Host)(nil)
	_ engine.DependencyRecorder = (*Host)(nil)
	_ library.ContentLanguager  = (*Host)(nil)
)

// NewHost creates a host on st. opts are passed to the Engine.
func NewHost(st store.Store, cfg Config, opts ...engine.Option) *Host {
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &Host{
		store: st,
		cfg:   cfg,
		opts:  opts,
		now:   time.Now,
		deps:  make(map[string]bool),
	}
}

// Engine returns the host's engine, creating it on first use.
func (h *Host) Engine() (*engine.Engine, error) {
	if h.engine == nil {
		opts := h.opts
		if h.cfg.Backends != nil {
			opts = append([]engine.Option{engine.WithBackends(h.cfg.Backends)}, opts...)
		}
		e, err := engine.New(h.cfg.Engine, h, opts...)
		if err != nil {
			return nil, err
		}
		h.engine = e
	}
	return h.engine, nil
}

// Close destroys the engine.
func (h *Host) Close() error {
	if h.engine == nil {
		return nil
	}
	return h.engine.Destroy()
}

func (h *Host) root(title string) *engine.Context {
	return engine.NewContext(title, nil).WithMaxDepth(h.cfg.Engine.MaxDepth)
}

// ModuleTitle returns the title of the module named name, adding the
// Module namespace when it is missing.
func ModuleTitle(name string) string {
	name = strings.TrimSpace(name)
	if !strings.HasPrefix(name, "Module:") {
		name = "Module:" + name
	}
	if t, ok := library.NormalizeTitle(name); ok {
		return t
	}
	return name
}

// Invoke calls function of module as {{#invoke:}} on page title would.
func (h *Host) Invoke(ctx context.Context, module, function, title string, args engine.Args) (string, error) {
	e, err := h.Engine()
	if err != nil {
		return "", err
	}
	mod := ModuleTitle(module)
	frame, err := h.root(title).NewChild(args, mod, 1)
	if err != nil {
		return "", err
	}
	return e.Invoke(ctx, mod, function, frame)
}

// Render expands text as the content of page title.
func (h *Host) Render(ctx context.Context, title, text string) (string, error) {
	if _, err := h.Engine(); err != nil {
		return "", err
	}
	return h.Expand(ctx, h.root(title), text)
}

// RenderPage renders the stored page title.
func (h *Host) RenderPage(ctx context.Context, title string) (string, error) {
	p, err := h.page(ctx, title)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", fmt.Errorf("render %s: %w", title, store.ErrNotFound)
	}
	return h.Render(ctx, p.Title, p.Text)
}

// Console runs a debug console statement against the host's engine.
func (h *Host) Console(ctx context.Context, req engine.ConsoleRequest) (engine.ConsoleResult, error) {
	e, err := h.Engine()
	if err != nil {
		return engine.ConsoleResult{}, err
	}
	return e.RunConsole(ctx, req)
}

// page looks title up after normalizing it. A missing page is nil, nil.
func (h *Host) page(ctx context.Context, title string) (*model.Page, error) {
	t, ok := library.NormalizeTitle(title)
	if !ok {
		return nil, nil
	}
	p, err := h.store.GetPage(ctx, t)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

var redirectPattern = regexp.MustCompile(`(?i)^\s*#REDIRECT\s*:?\s*\[\[([^\]|#]+)`)

// redirectTarget returns the target of a redirect page, or "".
func redirectTarget(text string) string {
	m := redirectPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if t, ok := library.NormalizeTitle(m[1]); ok {
		return t
	}
	return ""
}

// FetchModule implements engine.Host. Only script pages in the Module
// namespace are modules.
func (h *Host) FetchModule(ctx context.Context, ref string) (*engine.Source, error) {
	p, err := h.page(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("fetch module: %w", err)
	}
	if p == nil || !strings.HasPrefix(p.Title, "Module:") || p.ContentModel != model.ContentModelScribunto {
		return nil, nil
	}
	h.RecordDependency(p.Title)
	return &engine.Source{Title: p.Title, Text: p.Text}, nil
}

// FetchTemplate implements engine.Host. One level of redirect is followed.
func (h *Host) FetchTemplate(ctx context.Context, title string) (*engine.Source, error) {
	p, err := h.page(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("fetch template: %w", err)
	}
	if p == nil {
		return nil, nil
	}
	h.RecordDependency(p.Title)
	if target := redirectTarget(p.Text); target != "" {
		tp, err := h.page(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("fetch template: %w", err)
		}
		if tp != nil {
			h.RecordDependency(tp.Title)
			p = tp
		}
	}
	return &engine.Source{Title: p.Title, Text: p.Text}, nil
}

// ResolvePage implements library.PageResolver.
func (h *Host) ResolvePage(ctx context.Context, title string) (*library.PageInfo, error) {
	p, err := h.page(ctx, title)
	if err != nil || p == nil {
		return nil, err
	}
	return &library.PageInfo{
		Title:    p.Title,
		ID:       p.ID,
		Redirect: redirectTarget(p.Text),
	}, nil
}

// PageContent implements library.PageResolver.
func (h *Host) PageContent(ctx context.Context, title string) (string, bool, error) {
	p, err := h.page(ctx, title)
	if err != nil || p == nil {
		return "", false, err
	}
	h.RecordDependency(p.Title)
	return p.Text, true, nil
}

// Message implements library.MessageFormatter. Messages are pages in the
// MediaWiki namespace, with a /code subpage per language other than the
// content language.
func (h *Host) Message(ctx context.Context, key, lang string) (string, bool, error) {
	base := "MediaWiki:" + key
	if lang != "" && lang != h.cfg.Language {
		p, err := h.page(ctx, base+"/"+lang)
		if err != nil {
			return "", false, err
		}
		if p != nil {
			return p.Text, true, nil
		}
	}
	p, err := h.page(ctx, base)
	if err != nil || p == nil {
		return "", false, err
	}
	return p.Text, true, nil
}

// ContentLanguage implements library.ContentLanguager.
func (h *Host) ContentLanguage() string { return h.cfg.Language }

// SiteName implements library.SiteInfo.
func (h *Host) SiteName() string { return h.cfg.SiteName }

// Server implements library.SiteInfo.
func (h *Host) Server() string { return h.cfg.Server }

// Stats implements library.SiteInfo.
func (h *Host) Stats(ctx context.Context) (library.SiteStats, error) {
	c, err := h.store.CountPages(ctx)
	if err != nil {
		return library.SiteStats{}, err
	}
	return library.SiteStats{Pages: c.Pages, Articles: c.Content}, nil
}

// CategoryCounts implements library.SiteInfo. Membership is a literal
// [[Category:name]] link in the page text.
func (h *Host) CategoryCounts(ctx context.Context, category string) (library.CategoryCounts, error) {
	m, err := h.store.CountPagesContaining(ctx, "[[Category:"+category+"]]")
	if err != nil {
		return library.CategoryCounts{}, err
	}
	return library.CategoryCounts{All: m.All, Subcats: m.Categories, Files: m.Files}, nil
}

// AddWarning implements engine.WarningSink.
func (h *Host) AddWarning(text string) {
	h.warnings = append(h.warnings, text)
}

// Warnings returns the warnings raised so far.
func (h *Host) Warnings() []string { return h.warnings }

// RecordDependency implements library.DependencyRecorder.
func (h *Host) RecordDependency(title string) {
	h.deps[title] = true
}

// Dependencies returns the titles the render has read, sorted.
func (h *Host) Dependencies() []string {
	out := make([]string, 0, len(h.deps))
	for t := range h.deps {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Usage reports the engine's resource usage and backend name. Both are zero
// before the engine starts.
func (h *Host) Usage() (engine.ResourceUsage, string) {
	if h.engine == nil {
		return engine.ResourceUsage{}, ""
	}
	return h.engine.ReportResourceUsage(), h.engine.BackendName()
}
