package engine

import (
	"context"
	"fmt"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/value"
)

// Module is the source of one script module. It compiles on first use and
// keeps the compiled init chunk for the engine's lifetime.
type Module struct {
	engine *Engine
	title  string
	source string

	compiled bool
	chunk    backend.Function
	err      error
}

// Title is the module's canonical title, also used as its chunk name.
func (m *Module) Title() string { return m.title }

// Source returns the module text.
func (m *Module) Source() string { return m.source }

func (m *Module) compile() (backend.Function, error) {
	if m.compiled {
		return m.chunk, m.err
	}
	if err := m.engine.ensure(); err != nil {
		return nil, err
	}
	m.chunk, m.err = m.engine.interp.LoadString(m.source, m.title)
	m.compiled = true
	return m.chunk, m.err
}

// Validate compiles the module and reports a *backend.SyntaxError if it
// does not compile.
func (m *Module) Validate() error {
	_, err := m.compile()
	return err
}

// Invoke runs the module's init chunk, once per engine, and calls the
// exported function name with frame. The result is the first return value
// converted to text.
func (m *Module) Invoke(ctx context.Context, name string, frame *Context) (string, error) {
	chunk, err := m.compile()
	if err != nil {
		return "", err
	}
	e := m.engine
	if frame == nil {
		frame = NewContext(m.title, nil).WithMaxDepth(e.cfg.MaxDepth)
	}

	var out string
	err = e.execute(ctx, frame, func() error {
		rets, err := e.callGlue("invoke", chunk, name)
		if err != nil {
			return err
		}
		status, _ := first(rets).(string)
		typ, _ := at(rets, 1).(string)
		switch status {
		case "ok":
			out = value.ToString(at(rets, 1))
			return nil
		case "notable":
			return &NotTableError{Module: m.title, Type: typ}
		case "nofunc":
			return &NoSuchFunctionError{Module: m.title, Function: name}
		case "notcallable":
			return &NotCallableError{Module: m.title, Function: name, Type: typ}
		}
		return fmt.Errorf("engine: unexpected invoke status %q", status)
	})
	return out, err
}

func (m *Module) release() {
	if m.chunk != nil {
		m.chunk.Release()
		m.chunk = nil
	}
}
