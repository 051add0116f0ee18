package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/governor"
	"github.com/seantiz/scribe/internal/ustring"
	"github.com/seantiz/scribe/internal/value"
)

// libEnv is the view of an Engine handed to its library instances.
type libEnv struct {
	e *Engine
}

func (l libEnv) Context() context.Context { return l.e.context() }
func (l libEnv) Interpreter() backend.Interpreter { return l.e.interp }
func (l libEnv) Host() any { return l.e.host }
func (l libEnv) Budget() *governor.ExpensiveBudget { return l.e.budget }
func (l libEnv) Limits() value.Limits { return l.e.limits }
func (l libEnv) Patterns() *ustring.Cache { return l.e.patterns }
func (l libEnv) Logger() *slog.Logger { return l.e.log }

func (l libEnv) CurrentTitle() string {
	if f := l.e.currentFrame(); f != nil {
		return f.Title
	}
	return ""
}

func (l libEnv) Preprocess(text string) (string, error) {
	f := l.e.currentFrame()
	if f == nil {
		return "", errors.New("preprocess: no current frame")
	}
	return l.e.cachedExpand(keyOf("current", "preprocess", text), f, text)
}
