package engine

import (
	"context"

	"github.com/seantiz/scribe/internal/library"
)

// Source is the text of a module or template together with its canonical
// title.
type Source struct {
	Title string
	Text  string
}

// Host is the application an Engine renders for. Fetch methods return nil,
// nil when the page does not exist.
type Host interface {
	FetchModule(ctx context.Context, ref string) (*Source, error)
	FetchTemplate(ctx context.Context, title string) (*Source, error)
	// Expand expands wikitext in frame.
	Expand(ctx context.Context, frame *Context, text string) (string, error)
	// CallParserFunction calls a parser function. found is false when no
	// function by that name exists.
	CallParserFunction(ctx context.Context, frame *Context, name string, args []string) (text string, found bool, err error)
}

// Substing is implemented by hosts that know whether the current expansion
// is a substitution.
type Substing interface {
	IsSubsting() bool
}

// WarningSink is implemented by hosts that collect warnings raised by
// scripts.
type WarningSink interface {
	AddWarning(text string)
}

// Optional capabilities shared with the libraries.
type (
	PageResolver       = library.PageResolver
	MessageFormatter   = library.MessageFormatter
	SiteInfo           = library.SiteInfo
	DependencyRecorder = library.DependencyRecorder
)
