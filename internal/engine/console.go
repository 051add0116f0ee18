package engine

import (
	"context"
	"strings"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/value"
)

// ConsoleRequest is one console evaluation. PriorStatements are replayed
// before CurrentStatement so that locals they define stay visible. A
// statement starting with "=" is an expression to print.
type ConsoleRequest struct {
	PriorStatements  []string `json:"prior_statements"`
	CurrentStatement string   `json:"current_statement"`
	// ModuleSource, when set, is run as a module and bound to p.
	ModuleSource string `json:"module_source,omitempty"`
	Title        string `json:"title"`
}

// ConsoleResult is what a console evaluation printed and returned.
type ConsoleResult struct {
	Printed  string `json:"printed"`
	Returned string `json:"returned"`
}

// consoleChunk wraps the statements in a function of (init, exe) so the
// module can be initialized through the glue before they run.
func consoleChunk(req ConsoleRequest) string {
	var b strings.Builder
	b.WriteString("return function (__init, exe)\n")
	b.WriteString("if not exe then exe = function(...) return true, ... end end\n")
	b.WriteString("local p = select(2, exe(__init))\n")
	b.WriteString("__init, exe = nil, nil\n")
	b.WriteString("local print = mw.log\n")
	for _, q := range req.PriorStatements {
		if expr, ok := strings.CutPrefix(q, "="); ok {
			b.WriteString("print(" + expr + ")")
		} else {
			b.WriteString(q)
		}
		b.WriteString("\n")
	}
	b.WriteString("mw.clearLogBuffer()\n")
	if expr, ok := strings.CutPrefix(req.CurrentStatement, "="); ok {
		b.WriteString("local ret = mw.allToString(" + expr + ")\n")
		b.WriteString("return ret\n")
	} else {
		b.WriteString(req.CurrentStatement + "\n")
	}
	b.WriteString("end\n")
	return b.String()
}

// RunConsole evaluates a console request.
func (e *Engine) RunConsole(ctx context.Context, req ConsoleRequest) (ConsoleResult, error) {
	if err := e.ensure(); err != nil {
		return ConsoleResult{}, err
	}
	title := req.Title
	if title == "" {
		title = "Console"
	}

	var owned []backend.Function
	defer func() {
		for _, fn := range owned {
			fn.Release()
		}
	}()

	var (
		moduleInit backend.Function
		exe        backend.Function
	)
	if req.ModuleSource != "" {
		fn, err := e.interp.LoadString(req.ModuleSource, title)
		if err != nil {
			return ConsoleResult{}, err
		}
		owned = append(owned, fn)
		moduleInit = fn
		exe = e.glue["initModule"]
	}
	chunk, err := e.interp.LoadString(consoleChunk(req), "=console input")
	if err != nil {
		return ConsoleResult{}, err
	}
	owned = append(owned, chunk)

	var res ConsoleResult
	frame := NewContext(title, nil).WithMaxDepth(e.cfg.MaxDepth)
	err = e.execute(ctx, frame, func() error {
		rets, err := e.callGlue("runChunk", chunk)
		if err != nil {
			return err
		}
		body, ok := first(rets).(backend.Function)
		if !ok {
			return &backend.ScriptError{Message: "console: statements did not compile to a function"}
		}
		owned = append(owned, body)
		var args []any
		if moduleInit != nil {
			args = []any{moduleInit, exe}
		}
		out, err := e.interp.CallFunction(body, args...)
		if err != nil {
			return err
		}
		if v := first(out); v != nil {
			res.Returned = value.ToString(v)
		}
		logs, err := e.callGlue("getLogBuffer")
		if err != nil {
			return err
		}
		res.Printed, _ = first(logs).(string)
		return nil
	})
	return res, err
}
