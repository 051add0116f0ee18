package luart

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/seantiz/scribe/internal/backend"
)

var (
	syntaxNearRe = regexp.MustCompile(`(?s)^(.*) line:(\d+)\(column:\d+\) near '(.*?)':\s*(.*?)\s*$`)
	syntaxEOFRe  = regexp.MustCompile(`(?s)^(.*) at EOF:\s*(.*?)\s*$`)
	compileRe    = regexp.MustCompile(`(?s)^compile error near line\((\d+)\) (.*?):\s*(.*?)\s*$`)
	locatedRe    = regexp.MustCompile(`(?s)^(.*?):(\d+): (.*)$`)
)

// repair makes diagnostic text valid UTF-8.
func repair(s string) string {
	return strings.ToValidUTF8(s, "�")
}

func syntaxError(err error, chunkName, source string) error {
	msg := err.Error()
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		if s, ok := apiErr.Object.(lua.LString); ok {
			msg = string(s)
		}
	}
	msg = repair(strings.TrimSpace(msg))

	se := &backend.SyntaxError{ScriptError: backend.ScriptError{Module: chunkName, Message: msg}}
	switch {
	case syntaxNearRe.MatchString(msg):
		m := syntaxNearRe.FindStringSubmatch(msg)
		se.Line, _ = strconv.Atoi(m[2])
		se.Message = fmt.Sprintf("%s near '%s'", m[4], m[3])
	case syntaxEOFRe.MatchString(msg):
		m := syntaxEOFRe.FindStringSubmatch(msg)
		se.Line = strings.Count(source, "\n") + 1
		se.Message = m[2] + " near '<eof>'"
	case compileRe.MatchString(msg):
		m := compileRe.FindStringSubmatch(msg)
		se.Line, _ = strconv.Atoi(m[1])
		se.Message = m[3]
	}
	return se
}

// scriptError converts an error returned by PCall.
func (rt *Runtime) scriptError(err error) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return &backend.ScriptError{Message: repair(err.Error())}
	}
	se := &backend.ScriptError{Trace: repair(apiErr.StackTrace)}
	switch obj := apiErr.Object.(type) {
	case lua.LString:
		msg := repair(string(obj))
		if msg == context.Canceled.Error() && rt.Closed() {
			return backend.ErrClosed
		}
		if m := locatedRe.FindStringSubmatch(msg); m != nil {
			se.Module = m[1]
			se.Line, _ = strconv.Atoi(m[2])
			se.Message = m[3]
		} else {
			se.Message = msg
		}
	case nil:
		se.Message = repair(apiErr.Error())
	default:
		hv, cerr := rt.FromLua(obj)
		if cerr == nil {
			se.Value = hv
		}
		se.Message = fmt.Sprintf("(error object is a %s value)", obj.Type().String())
	}
	return se
}
