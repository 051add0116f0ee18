package store

import (
	"context"
	"errors"

	"github.com/seantiz/scribe/internal/model"
)

// ErrInvalidTransition is returned when an invocation status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// InvocationStats holds aggregate invocation statistics.
type InvocationStats struct {
	Total          int            `json:"total"`
	CountByStatus  map[string]int `json:"count_by_status"`
	CountByBackend map[string]int `json:"count_by_backend"`
	AvgDurationMS  float64        `json:"avg_duration_ms"`
}

// PageCounts are page totals for site statistics. Content pages are
// wikitext pages outside every namespace.
type PageCounts struct {
	Pages   int64
	Content int64
}

// MatchCounts count the pages matching a query, split by namespace.
type MatchCounts struct {
	All        int64
	Categories int64
	Files      int64
}

// Store defines the persistence operations for pages and invocations.
type Store interface {
	PutPage(ctx context.Context, p *model.Page) error
	GetPage(ctx context.Context, title string) (*model.Page, error)
	CountPages(ctx context.Context) (PageCounts, error)
	CountPagesContaining(ctx context.Context, needle string) (MatchCounts, error)

	CreateInvocation(ctx context.Context, inv *model.Invocation) error
	GetInvocation(ctx context.Context, id string) (*model.Invocation, error)
	ListInvocations(ctx context.Context, limit, offset int) ([]*model.Invocation, int, error)
	UpdateInvocationStatus(ctx context.Context, id, status string) error
	UpdateInvocation(ctx context.Context, inv *model.Invocation) error
	GetInvocationStats(ctx context.Context) (*InvocationStats, error)

	InsertLogLine(ctx context.Context, invocationID string, seq int, line string) error
	GetLogLines(ctx context.Context, invocationID string) ([]model.LogLine, error)
	Close() error
}
