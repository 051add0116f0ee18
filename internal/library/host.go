package library

import "context"

// PageInfo is what a host knows about one page.
type PageInfo struct {
	Title    string
	ID       int64
	Redirect string
	// Protection maps an action such as "edit" to the groups allowed.
	Protection map[string][]string
}

// PageResolver is implemented by hosts that can look pages up. ResolvePage
// returns nil, nil for a missing page.
type PageResolver interface {
	ResolvePage(ctx context.Context, title string) (*PageInfo, error)
	PageContent(ctx context.Context, title string) (content string, ok bool, err error)
}

// DependencyRecorder is implemented by hosts that track which pages an
// output was derived from.
type DependencyRecorder interface {
	RecordDependency(title string)
}

// MessageFormatter is implemented by hosts with localized messages. Message
// returns the raw text of key, or ok false when it does not exist.
type MessageFormatter interface {
	Message(ctx context.Context, key, lang string) (text string, ok bool, err error)
}

// SiteStats are the site-wide counters exposed to scripts.
type SiteStats struct {
	Pages    int64 `json:"pages"`
	Articles int64 `json:"articles"`
	Files    int64 `json:"files"`
	Edits    int64 `json:"edits"`
	Users    int64 `json:"users"`
}

// CategoryCounts are the member counts of one category.
type CategoryCounts struct {
	All     int64
	Subcats int64
	Files   int64
}

// SiteInfo is implemented by hosts that describe the site.
type SiteInfo interface {
	SiteName() string
	Server() string
	Stats(ctx context.Context) (SiteStats, error)
	CategoryCounts(ctx context.Context, category string) (CategoryCounts, error)
}
