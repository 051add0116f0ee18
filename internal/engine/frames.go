package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/governor"
	"github.com/seantiz/scribe/internal/library"
	"github.com/seantiz/scribe/internal/value"
)

// maxFrames bounds the frames one execution may create.
const maxFrames = 100

// interfaceFuncs are the callbacks the glue reaches through mw_interface.
func (e *Engine) interfaceFuncs() map[string]backend.HostFunc {
	return map[string]backend.HostFunc{
		"loadPackage":                     e.loadPackage,
		"loadLibrary":                     e.loadLibrary,
		"frameExists":                     e.frameExists,
		"newChildFrame":                   e.newChildFrame,
		"getExpandedArgument":             e.getExpandedArgument,
		"getAllExpandedArguments":         e.getAllExpandedArguments,
		"expandTemplate":                  e.expandTemplate,
		"callParserFunction":              e.callParserFunction,
		"preprocess":                      e.preprocess,
		"getFrameTitle":                   e.getFrameTitle,
		"setTTL":                          e.setTTL,
		"incrementExpensiveFunctionCount": e.incrementExpensiveFunctionCount,
		"isSubsting":                      e.isSubsting,
		"addWarning":                      e.addWarning,
		"log":                             e.logLine,
	}
}

func (e *Engine) loadPackage(args []any) ([]any, error) {
	name, err := value.Args(args).String("loadPackage", 1)
	if err != nil {
		return nil, err
	}
	m, err := e.FetchModule(e.context(), name)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}
	chunk, err := m.compile()
	if err != nil {
		return nil, err
	}
	return []any{chunk}, nil
}

// loadLibrary registers a deferred library. The glue finishes the install.
func (e *Engine) loadLibrary(args []any) ([]any, error) {
	name, err := value.Args(args).String("loadLibrary", 1)
	if err != nil {
		return nil, err
	}
	if e.installed[name] {
		return []any{true}, nil
	}
	def, err := e.libs.Lookup(name)
	if err != nil {
		return []any{false}, nil
	}
	if err := e.installLibrary(def); err != nil {
		return nil, err
	}
	e.log.Debug("deferred library loaded", "library", name)
	return []any{true}, nil
}

func (e *Engine) currentFrame() *Context {
	if e.exec == nil {
		return nil
	}
	return e.exec.frames["current"]
}

func (e *Engine) frameByID(id string) (*Context, error) {
	if e.exec == nil {
		return nil, errors.New("getFrameById: no frames outside a script call")
	}
	if id == "empty" {
		title := ""
		if cur := e.currentFrame(); cur != nil {
			title = cur.Title
		}
		return NewContext(title, nil).WithMaxDepth(e.cfg.MaxDepth), nil
	}
	if f, ok := e.exec.frames[id]; ok {
		return f, nil
	}
	return nil, errors.New("getFrameById: invalid frame ID")
}

func (e *Engine) frameArg(fn string, args []any) (string, *Context, error) {
	id, err := value.Args(args).String(fn, 1)
	if err != nil {
		return "", nil, err
	}
	f, err := e.frameByID(id)
	return id, f, err
}

// toArgs converts a script table of arguments, sorted positional first.
func toArgs(fn string, t map[any]any) (Args, error) {
	out := make(Args, 0, len(t))
	for k, v := range t {
		var s string
		switch tv := v.(type) {
		case string:
			s = tv
		case float64:
			s = value.FormatNumber(tv)
		default:
			return nil, fmt.Errorf("%s: invalid type %s for arg '%s'", fn, value.TypeName(v), value.KeyString(k))
		}
		out = append(out, Arg{Name: value.KeyString(k), Value: s})
	}
	return out.Sorted(), nil
}

func (e *Engine) frameExists(args []any) ([]any, error) {
	id, err := value.Args(args).String("frameExists", 1)
	if err != nil {
		return nil, err
	}
	if e.exec == nil {
		return []any{false}, nil
	}
	_, ok := e.exec.frames[id]
	return []any{ok || id == "empty"}, nil
}

// newChildFrame(frameId, title|nil, args) returns the id of a new frame.
func (e *Engine) newChildFrame(args []any) ([]any, error) {
	_, parent, err := e.frameArg("newChild", args)
	if err != nil {
		return nil, err
	}
	if len(e.exec.frames) > maxFrames {
		return nil, errors.New("newChild: too many frames")
	}
	a := value.Args(args)
	var title string
	switch t := a.Get(2).(type) {
	case nil, bool:
	case string:
		norm, ok := library.NormalizeTitle(t)
		if !ok {
			return nil, errors.New("newChild: invalid title")
		}
		title = norm
	default:
		return nil, errors.New("newChild: title must be a string")
	}
	tbl, err := a.OptTable("newChild", 3)
	if err != nil {
		return nil, err
	}
	fargs, err := toArgs("newChild", tbl)
	if err != nil {
		return nil, err
	}
	child, err := parent.NewChild(fargs, title, 1)
	if err != nil {
		return nil, attributeDepth("newChild", err)
	}
	id := fmt.Sprintf("frame%d", len(e.exec.frames))
	e.exec.frames[id] = child
	return []any{id}, nil
}

func (e *Engine) getExpandedArgument(args []any) ([]any, error) {
	_, f, err := e.frameArg("getExpandedArgument", args)
	if err != nil {
		return nil, err
	}
	name, err := value.Args(args).String("getExpandedArgument", 2)
	if err != nil {
		return nil, err
	}
	v, ok := f.Arg(name)
	if !ok {
		return nil, nil
	}
	return []any{v}, nil
}

func (e *Engine) getAllExpandedArguments(args []any) ([]any, error) {
	_, f, err := e.frameArg("getAllExpandedArguments", args)
	if err != nil {
		return nil, err
	}
	out := make(map[any]any, len(f.Args))
	for _, arg := range f.Args {
		k, err := value.NormalizeKey(arg.Name)
		if err != nil {
			return nil, err
		}
		out[k] = arg.Value
	}
	return []any{out}, nil
}

// TemplateTitle resolves a template reference. A leading colon names a page
// outside the template namespace.
func TemplateTitle(text string) (string, bool) {
	if rest, ok := strings.CutPrefix(strings.TrimSpace(text), ":"); ok {
		return library.NormalizeTitle(rest)
	}
	norm, ok := library.NormalizeTitle(text)
	if !ok {
		return "", false
	}
	if ns, _, found := strings.Cut(norm, ":"); found && library.Namespaces[ns] {
		return norm, true
	}
	return library.NormalizeTitle("Template:" + text)
}

func argsKey(a Args) string {
	var b strings.Builder
	for _, arg := range a {
		fmt.Fprintf(&b, "%d:%s=%d:%s;", len(arg.Name), arg.Name, len(arg.Value), arg.Value)
	}
	return b.String()
}

// expandTemplate(frameId, title, args) transcludes a template in a child
// frame.
func (e *Engine) expandTemplate(args []any) ([]any, error) {
	id, f, err := e.frameArg("expandTemplate", args)
	if err != nil {
		return nil, err
	}
	a := value.Args(args)
	ref, err := a.String("expandTemplate", 2)
	if err != nil {
		return nil, err
	}
	tbl, err := a.OptTable("expandTemplate", 3)
	if err != nil {
		return nil, err
	}
	fargs, err := toArgs("expandTemplate", tbl)
	if err != nil {
		return nil, err
	}
	title, ok := TemplateTitle(ref)
	if !ok {
		return nil, fmt.Errorf("expandTemplate: invalid title %q", ref)
	}
	if f.Depth() >= f.MaxDepth() {
		return nil, &RecursionLimitError{Op: "expandTemplate", Limit: f.MaxDepth()}
	}

	var src *Source
	err = e.hostCall(func() (err error) {
		src, err = e.host.FetchTemplate(e.context(), title)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("expandTemplate: %w", err)
	}
	if src == nil {
		return nil, fmt.Errorf("expandTemplate: template %q does not exist", ref)
	}
	if src.Title != "" {
		title = src.Title
	}
	if f.HasAncestor(title) {
		return nil, errors.New("expandTemplate: template loop detected")
	}
	child, err := f.NewChild(fargs, title, 1)
	if err != nil {
		return nil, attributeDepth("expandTemplate", err)
	}
	text, err := e.cachedExpand(keyOf(id, "template", title, argsKey(fargs)), child, src.Text)
	if err != nil {
		return nil, err
	}
	return []any{text}, nil
}

// callParserFunction(frameId, name, args). A name of the form "name:arg"
// supplies the first positional argument.
func (e *Engine) callParserFunction(args []any) ([]any, error) {
	_, f, err := e.frameArg("callParserFunction", args)
	if err != nil {
		return nil, err
	}
	a := value.Args(args)
	name, err := a.String("callParserFunction", 2)
	if err != nil {
		return nil, err
	}
	tbl, err := a.OptTable("callParserFunction", 3)
	if err != nil {
		return nil, err
	}
	fargs, err := toArgs("callParserFunction", tbl)
	if err != nil {
		return nil, err
	}

	var positional, named []string
	if fn, arg0, found := strings.Cut(name, ":"); found {
		name = fn
		positional = append(positional, strings.TrimSpace(arg0))
	}
	for _, arg := range fargs {
		if isIndex(arg.Name) {
			positional = append(positional, arg.Value)
		} else {
			named = append(named, arg.Name+"="+arg.Value)
		}
	}
	if len(positional) == 0 {
		return nil, errors.New("callParserFunction: At least one unnamed parameter (the parameter that comes after the colon in wikitext) must be provided")
	}

	var (
		text  string
		found bool
	)
	err = e.hostCall(func() (err error) {
		text, found, err = e.host.CallParserFunction(e.context(), f, name, append(positional, named...))
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("callParserFunction: function %q was not found", name)
	}
	return []any{text}, nil
}

func isIndex(name string) bool {
	k, err := value.NormalizeKey(name)
	if err != nil {
		return false
	}
	_, ok := k.(int64)
	return ok
}

func (e *Engine) preprocess(args []any) ([]any, error) {
	id, f, err := e.frameArg("preprocess", args)
	if err != nil {
		return nil, err
	}
	text, err := value.Args(args).String("preprocess", 2)
	if err != nil {
		return nil, err
	}
	out, err := e.cachedExpand(keyOf(id, "preprocess", text), f, text)
	if err != nil {
		return nil, attributeDepth("preprocess", err)
	}
	return []any{out}, nil
}

// cachedExpand expands text in frame through the host, memoized unless the
// frame turned volatile while expanding.
func (e *Engine) cachedExpand(key cacheKey, frame *Context, text string) (string, error) {
	if out, ok := e.exec.cache.get(key); ok {
		expandCacheTotal.WithLabelValues(cacheHit).Inc()
		return out, nil
	}
	expandCacheTotal.WithLabelValues(cacheMiss).Inc()
	cache := e.exec.cache

	var out string
	err := e.hostCall(func() (err error) {
		out, err = e.host.Expand(e.context(), frame, strings.ReplaceAll(text, "\r\n", "\n"))
		return err
	})
	if err != nil {
		return "", err
	}
	if !frame.Volatile() {
		cache.put(key, out)
	}
	return out, nil
}

func (e *Engine) getFrameTitle(args []any) ([]any, error) {
	_, f, err := e.frameArg("getFrameTitle", args)
	if err != nil {
		return nil, err
	}
	return []any{f.Title}, nil
}

func (e *Engine) setTTL(args []any) ([]any, error) {
	secs, err := value.Args(args).Number("setTTL", 1)
	if err != nil {
		return nil, err
	}
	if secs < 0 {
		return nil, &value.ArgumentError{Func: "setTTL", Arg: 1, Msg: "TTL must not be negative"}
	}
	d := time.Duration(secs * float64(time.Second))
	if cur := e.currentFrame(); cur != nil {
		cur.SetTTL(d)
	}
	e.noteTTL(d)
	return nil, nil
}

func (e *Engine) incrementExpensiveFunctionCount([]any) ([]any, error) {
	return nil, e.budget.Charge(governor.OpScriptIncrement)
}

func (e *Engine) isSubsting([]any) ([]any, error) {
	if s, ok := e.host.(Substing); ok {
		return []any{s.IsSubsting()}, nil
	}
	return []any{false}, nil
}

func (e *Engine) addWarning(args []any) ([]any, error) {
	text, err := value.Args(args).String("addWarning", 1)
	if err != nil {
		return nil, err
	}
	if w, ok := e.host.(WarningSink); ok {
		w.AddWarning(text)
	} else {
		e.log.Warn("script warning", "text", text)
	}
	return nil, nil
}

func (e *Engine) logLine(args []any) ([]any, error) {
	line, err := value.Args(args).String("log", 1)
	if err != nil {
		return nil, err
	}
	if e.logFunc != nil {
		e.logFunc(line)
	}
	return nil, nil
}
