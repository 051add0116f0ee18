package engine_test

import (
	"context"
	"errors"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/engine"
	"github.com/seantiz/scribe/internal/luahost"
)

// fakeHost serves modules and templates from maps. Its expander substitutes
// {{{name}}} arguments, marks the frame volatile on {{#volatile}}, and
// treats a text of the form {{#invoke:Module|fn}} as a nested invocation.
type fakeHost struct {
	modules   map[string]string
	templates map[string]string
	fetches   map[string]int
	expands   int
	engine    *engine.Engine
	warnings  []string
}

func newHost(modules, templates map[string]string) *fakeHost {
	if templates == nil {
		templates = map[string]string{}
	}
	return &fakeHost{modules: modules, templates: templates, fetches: map[string]int{}}
}

func (h *fakeHost) FetchModule(_ context.Context, ref string) (*engine.Source, error) {
	h.fetches[ref]++
	text, ok := h.modules[ref]
	if !ok {
		return nil, nil
	}
	return &engine.Source{Title: ref, Text: text}, nil
}

func (h *fakeHost) FetchTemplate(_ context.Context, title string) (*engine.Source, error) {
	text, ok := h.templates[title]
	if !ok {
		return nil, nil
	}
	return &engine.Source{Title: title, Text: text}, nil
}

var argRef = regexp.MustCompile(`\{\{\{([^}]+)\}\}\}`)

func (h *fakeHost) Expand(ctx context.Context, frame *engine.Context, text string) (string, error) {
	h.expands++
	if rest, ok := strings.CutPrefix(text, "{{#invoke:"); ok {
		mod, fn, _ := strings.Cut(strings.TrimSuffix(rest, "}}"), "|")
		return h.engine.Invoke(ctx, mod, fn, frame)
	}
	if strings.Contains(text, "{{#volatile}}") {
		frame.SetVolatile()
		text = strings.ReplaceAll(text, "{{#volatile}}", "")
	}
	return argRef.ReplaceAllStringFunc(text, func(m string) string {
		v, _ := frame.Arg(m[3 : len(m)-3])
		return v
	}), nil
}

func (h *fakeHost) CallParserFunction(_ context.Context, _ *engine.Context, name string, args []string) (string, bool, error) {
	if name != "echo" {
		return "", false, nil
	}
	return strings.Join(args, "|"), true, nil
}

func (h *fakeHost) AddWarning(text string) { h.warnings = append(h.warnings, text) }

// childEnv makes the test binary act as the luahost child for the
// subprocess backend.
const childEnv = "SCRIBE_TEST_LUAHOST"

func TestMain(m *testing.M) {
	if os.Getenv(childEnv) == "1" {
		os.Exit(luahost.Main())
	}
	os.Setenv(childEnv, "1")
	os.Exit(m.Run())
}

// forEachBackend runs fn once per interpreter backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, be string)) {
	for _, be := range []string{backend.NameSandbox, backend.NameSubprocess} {
		t.Run(be, func(t *testing.T) { fn(t, be) })
	}
}

func newEngine(t *testing.T, be string, cfg engine.Config, h *fakeHost, opts ...engine.Option) *engine.Engine {
	t.Helper()
	cfg.Backend = be
	if be == backend.NameSubprocess && cfg.LuaPath == "" {
		cfg.LuaPath = os.Args[0]
	}
	e, err := engine.New(cfg, h, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.engine = e
	t.Cleanup(func() { e.Destroy() })
	return e
}

func invoke(t *testing.T, e *engine.Engine, module, fn string, frame *engine.Context) string {
	t.Helper()
	out, err := e.Invoke(context.Background(), module, fn, frame)
	if err != nil {
		t.Fatalf("Invoke(%s, %s): %v", module, fn, err)
	}
	return out
}

const greetModule = `
local p = {}
function p.greet(frame)
	return "hi " .. frame.args[1]
end
return p
`

func TestInvokeGreet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be string) {
		h := newHost(map[string]string{"Module:Greet": greetModule}, nil)
		e := newEngine(t, be, engine.Config{}, h)

		got := invoke(t, e, "Module:Greet", "greet", engine.NewContext("Main Page", engine.PositionalArgs("world")))
		if got != "hi world" {
			t.Errorf("greet = %q, want %q", got, "hi world")
		}
	})
}

func TestInvokeErrors(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be string) {
		h := newHost(map[string]string{
			"Module:Greet":  greetModule,
			"Module:Shapes": `return { x = 5 }`,
			"Module:Num":    `return 5`,
			"Module:Broken": `local p = {`,
		}, nil)
		e := newEngine(t, be, engine.Config{}, h)
		ctx := context.Background()

		_, err := e.Invoke(ctx, "Module:Greet", "nope", nil)
		var nsf *engine.NoSuchFunctionError
		if !errors.As(err, &nsf) || nsf.Function != "nope" {
			t.Errorf("missing function err = %v, want NoSuchFunctionError", err)
		}

		_, err = e.Invoke(ctx, "Module:Shapes", "x", nil)
		var nc *engine.NotCallableError
		if !errors.As(err, &nc) || nc.Type != "number" {
			t.Errorf("non-function err = %v, want NotCallableError for a number", err)
		}

		_, err = e.Invoke(ctx, "Module:Num", "x", nil)
		var nt *engine.NotTableError
		if !errors.As(err, &nt) {
			t.Errorf("non-table module err = %v, want NotTableError", err)
		}

		_, err = e.Invoke(ctx, "Module:Nope", "x", nil)
		if !errors.Is(err, engine.ErrNoSuchModule) {
			t.Errorf("missing module err = %v, want ErrNoSuchModule", err)
		}

		_, err = e.Invoke(ctx, "Module:Broken", "x", nil)
		var se *backend.SyntaxError
		if !errors.As(err, &se) {
			t.Errorf("broken module err = %v, want SyntaxError", err)
		}
	})
}

func TestFetchModuleCaches(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be string) {
		h := newHost(map[string]string{"Module:Greet": greetModule}, nil)
		e := newEngine(t, be, engine.Config{}, h)
		ctx := context.Background()

		m1, err := e.FetchModule(ctx, "Module:Greet")
		if err != nil || m1 == nil {
			t.Fatalf("FetchModule = %v, %v", m1, err)
		}
		m2, _ := e.FetchModule(ctx, "module:greet")
		if m1 != m2 {
			t.Errorf("FetchModule returned distinct modules for one title")
		}
		if err := m1.Validate(); err != nil {
			t.Errorf("Validate = %v, want nil", err)
		}

		for i := 0; i < 2; i++ {
			m, err := e.FetchModule(ctx, "Module:Nope")
			if m != nil || err != nil {
				t.Errorf("FetchModule(missing) = %v, %v, want nil, nil", m, err)
			}
		}
		if h.fetches["Module:Nope"] != 1 {
			t.Errorf("host fetches for a missing module = %d, want 1", h.fetches["Module:Nope"])
		}
		if h.fetches["Module:Greet"] != 1 {
			t.Errorf("host fetches for Module:Greet = %d, want 1", h.fetches["Module:Greet"])
		}
	})
}

func TestInitRunsOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be string) {
		h := newHost(map[string]string{"Module:Once": `
mw.log("init")
local p = {}
function p.echo(frame)
	return frame.args[1]
end
return p
`}, nil)
		var lines []string
		e := newEngine(t, be, engine.Config{}, h, engine.WithLogFunc(func(l string) { lines = append(lines, l) }))

		for _, arg := range []string{"a", "b"} {
			got := invoke(t, e, "Module:Once", "echo", engine.NewContext("Page", engine.PositionalArgs(arg)))
			if got != arg {
				t.Errorf("echo = %q, want %q", got, arg)
			}
		}
		if len(lines) != 1 || lines[0] != "init" {
			t.Errorf("log lines = %v, want [init]", lines)
		}
	})
}

func TestReentrantInvokeKeepsModuleState(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be string) {
		h := newHost(map[string]string{"Module:Counter": `
local n = 0
local p = {}
function p.count()
	n = n + 1
	return n
end
function p.outer(frame)
	return p.count() .. "," .. frame:preprocess("{{#invoke:Module:Counter|count}}") .. "," .. p.count()
end
return p
`}, nil)
		e := newEngine(t, be, engine.Config{}, h)

		if got := invoke(t, e, "Module:Counter", "outer", nil); got != "1,2,3" {
			t.Errorf("outer = %q, want %q", got, "1,2,3")
		}
	})
}

func TestRequireAndLoadData(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be string) {
		h := newHost(map[string]string{
			"Module:Util": `return { double = function(x) return x * 2 end }`,
			"Module:Data": `return { list = { 1, 2, 3 }, name = "data" }`,
			"Module:Main": `
local p = {}
function p.req()
	return require("Module:Util").double(21)
end
function p.same()
	return tostring(require("Module:Util") == require("Module:Util"))
end
function p.missing()
	local ok, err = pcall(require, "Module:Nope")
	return tostring(ok) .. " " .. err
end
function p.data()
	local d = mw.loadData("Module:Data")
	local ok = pcall(function() d.name = "x" end)
	local n = 0
	for _, v in ipairs(d.list) do
		n = n + v
	end
	return d.name .. " " .. n .. " " .. tostring(ok) .. " " .. tostring(mw.loadData("Module:Data") == d)
end
return p
`,
		}, nil)
		e := newEngine(t, be, engine.Config{}, h)

		tests := []struct {
			fn   string
			want string
		}{
			{"req", "42"},
			{"same", "true"},
			{"data", "data 6 false true"},
		}
		for _, tt := range tests {
			if got := invoke(t, e, "Module:Main", tt.fn, nil); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.fn, got, tt.want)
			}
		}

		got := invoke(t, e, "Module:Main", "missing", nil)
		if !strings.HasPrefix(got, "false ") || !strings.Contains(got, "module 'Module:Nope' not found") {
			t.Errorf("missing = %q, want a not found error", got)
		}
		if h.fetches["Module:Util"] != 1 {
			t.Errorf("host fetches for Module:Util = %d, want 1", h.fetches["Module:Util"])
		}
	})
}

const framesModule = `
local p = {}
function p.args(frame)
	local out = {}
	for k, v in pairs(frame.args) do
		out[#out + 1] = k .. "=" .. v
	end
	local parent = frame:getParent()
	return table.concat(out, ",") .. "|" .. parent.args.x .. "|" .. frame:getTitle() .. "|" .. parent:getTitle()
end
function p.child(frame)
	local c = frame:newChild{ title = "Other", args = { "z", k = "v" } }
	return c.args[1] .. c.args.k .. c:getTitle() .. c:getParent():getTitle()
end
function p.many(frame)
	local ok, err = pcall(function()
		for i = 1, 200 do
			frame:newChild{}
		end
	end)
	return tostring(ok) .. " " .. err
end
function p.deep(frame)
	local f = frame
	for i = 1, 10 do
		f = f:newChild{}
	end
	return "unreachable"
end
function p.readonly(frame)
	local ok, err = pcall(function() frame.args.x = 1 end)
	return err
end
return p
`

func TestFrames(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be string) {
		h := newHost(map[string]string{"Module:Frames": framesModule}, nil)
		e := newEngine(t, be, engine.Config{MaxDepth: 3}, h)

		parent := engine.NewContext("Page", engine.Args{{Name: "x", Value: "1"}})
		child, err := parent.NewChild(engine.Args{{Name: "1", Value: "a"}, {Name: "2", Value: "b"}, {Name: "name", Value: "n"}}, "Module:Frames", 1)
		if err != nil {
			t.Fatalf("NewChild: %v", err)
		}

		if got, want := invoke(t, e, "Module:Frames", "args", child), "1=a,2=b,name=n|1|Module:Frames|Page"; got != want {
			t.Errorf("args = %q, want %q", got, want)
		}
		if got, want := invoke(t, e, "Module:Frames", "child", child), "zvOtherModule:Frames"; got != want {
			t.Errorf("child = %q, want %q", got, want)
		}
		if got := invoke(t, e, "Module:Frames", "many", child); !strings.Contains(got, "newChild: too many frames") {
			t.Errorf("many = %q, want too many frames", got)
		}
		if got := invoke(t, e, "Module:Frames", "readonly", child); !strings.Contains(got, "read-only") {
			t.Errorf("readonly = %q, want a read-only error", got)
		}

		_, err = e.Invoke(context.Background(), "Module:Frames", "deep", nil)
		var rl *engine.RecursionLimitError
		if !errors.As(err, &rl) || rl.Op != "newChild" || rl.Limit != 3 {
			t.Errorf("deep err = %v, want newChild RecursionLimitError{3}", err)
		}
		if err == nil || !strings.Contains(err.Error(), "newChild: template depth limit of 3 exceeded") {
			t.Errorf("deep err = %v, want newChild depth limit message", err)
		}
	})
}

const templatesModule = `
local p = {}
function p.hello(frame)
	local a = frame:expandTemplate{ title = "Hello", args = { "you" } }
	local b = frame:expandTemplate{ title = "Hello", args = { "you" } }
	return a .. b
end
function p.clock(frame)
	return frame:expandTemplate{ title = "Clock" } .. frame:expandTemplate{ title = "Clock" }
end
function p.missing(frame)
	local ok, err = pcall(frame.expandTemplate, frame, { title = "Nope" })
	return err
end
function p.pre(frame)
	return frame:preprocess("x={{{1}}}")
end
return p
`

func TestExpandTemplate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be string) {
		h := newHost(map[string]string{"Module:T": templatesModule}, map[string]string{
			"Template:Hello": "Hello {{{1}}}!",
			"Template:Clock": "{{#volatile}}tick",
			"Template:Loop":  "again",
		})
		e := newEngine(t, be, engine.Config{}, h)

		h.expands = 0
		if got := invoke(t, e, "Module:T", "hello", nil); got != "Hello you!Hello you!" {
			t.Errorf("hello = %q, want %q", got, "Hello you!Hello you!")
		}
		if h.expands != 1 {
			t.Errorf("expansions for a repeated template = %d, want 1", h.expands)
		}

		h.expands = 0
		if got := invoke(t, e, "Module:T", "clock", nil); got != "ticktick" {
			t.Errorf("clock = %q, want %q", got, "ticktick")
		}
		if h.expands != 2 {
			t.Errorf("expansions for a volatile template = %d, want 2", h.expands)
		}

		if got := invoke(t, e, "Module:T", "missing", nil); !strings.Contains(got, `template "Nope" does not exist`) {
			t.Errorf("missing = %q, want does not exist", got)
		}

		_, err := e.Invoke(context.Background(), "Module:T", "missing", engine.NewContext("Template:Nope", nil))
		if err != nil {
			t.Errorf("missing from a template frame: %v", err)
		}

		if got := invoke(t, e, "Module:T", "pre", engine.NewContext("Page", engine.PositionalArgs("7"))); got != "x=7" {
			t.Errorf("pre = %q, want %q", got, "x=7")
		}
	})
}

func TestExpandTemplateLoop(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be string) {
		h := newHost(map[string]string{"Module:L": `
local p = {}
function p.loop(frame)
	local ok, err = pcall(frame.expandTemplate, frame, { title = "Loop" })
	return err
end
return p
`}, map[string]string{"Template:Loop": "again"})
		e := newEngine(t, be, engine.Config{}, h)

		got := invoke(t, e, "Module:L", "loop", engine.NewContext("Template:Loop", nil))
		if !strings.Contains(got, "template loop detected") {
			t.Errorf("loop = %q, want loop detected", got)
		}
	})
}

func TestExpandTemplateDepth(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be string) {
		h := newHost(map[string]string{"Module:D": `
local p = {}
function p.tpl(frame)
	return frame:expandTemplate{ title = "Deep" }
end
return p
`}, map[string]string{"Template:Deep": "{{#invoke:Module:D|tpl}}"})
		e := newEngine(t, be, engine.Config{MaxDepth: 1}, h)

		_, err := e.Invoke(context.Background(), "Module:D", "tpl", nil)
		if err == nil || !strings.Contains(err.Error(), "expandTemplate: template depth limit of 1 exceeded") {
			t.Errorf("tpl err = %v, want expandTemplate depth limit", err)
		}
	})
}

func TestCallParserFunction(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be string) {
		h := newHost(map[string]string{"Module:PF": `
local p = {}
function p.ok(frame)
	return frame:callParserFunction("echo", { "b", "a", z = "1", y = "2" }) .. ";" ..
		frame:callParserFunction("echo:first", "x") .. ";" ..
		frame:callParserFunction{ name = "echo", args = { "solo" } }
end
function p.unknown(frame)
	local ok, err = pcall(frame.callParserFunction, frame, "nope", { "x" })
	return err
end
function p.unnamed(frame)
	local ok, err = pcall(frame.callParserFunction, frame, "echo", { k = "v" })
	return err
end
return p
`}, nil)
		e := newEngine(t, be, engine.Config{}, h)

		if got, want := invoke(t, e, "Module:PF", "ok", nil), "b|a|y=2|z=1;first|x;solo"; got != want {
			t.Errorf("ok = %q, want %q", got, want)
		}
		if got := invoke(t, e, "Module:PF", "unknown", nil); !strings.Contains(got, `function "nope" was not found`) {
			t.Errorf("unknown = %q, want not found", got)
		}
		if got := invoke(t, e, "Module:PF", "unnamed", nil); !strings.Contains(got, "At least one unnamed parameter") {
			t.Errorf("unnamed = %q, want unnamed parameter error", got)
		}
	})
}

func TestTTLAndExpensiveCalls(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be string) {
		h := newHost(map[string]string{"Module:R": `
local p = {}
function p.ttl()
	mw.setTTL(3600)
	mw.setTTL(60)
	mw.setTTL(600)
	mw.incrementExpensiveFunctionCount()
	return "ok"
end
function p.spend()
	for i = 1, 5 do
		mw.incrementExpensiveFunctionCount()
	end
	return "unreachable"
end
function p.warn()
	mw.addWarning("careful")
	return tostring(mw.isSubsting())
end
return p
`}, nil)
		e := newEngine(t, be, engine.Config{ExpensiveLimit: 3}, h)

		if _, ok := e.TTL(); ok {
			t.Errorf("TTL set before any script ran")
		}
		invoke(t, e, "Module:R", "ttl", nil)
		if d, ok := e.TTL(); !ok || d != time.Minute {
			t.Errorf("TTL() = %v, %v, want 1m0s, true", d, ok)
		}
		u := e.ReportResourceUsage()
		if u.ExpensiveCalls != 1 || u.ExpensiveLimit != 3 {
			t.Errorf("expensive = %d/%d, want 1/3", u.ExpensiveCalls, u.ExpensiveLimit)
		}
		if u.TTLSeconds == nil || *u.TTLSeconds != 60 {
			t.Errorf("TTLSeconds = %v, want 60", u.TTLSeconds)
		}

		_, err := e.Invoke(context.Background(), "Module:R", "spend", nil)
		if err == nil || !strings.Contains(err.Error(), "too many expensive function calls") {
			t.Errorf("spend err = %v, want expensive limit error", err)
		}

		if got := invoke(t, e, "Module:R", "warn", nil); got != "false" {
			t.Errorf("isSubsting = %q, want false", got)
		}
		if len(h.warnings) != 1 || h.warnings[0] != "careful" {
			t.Errorf("warnings = %v, want [careful]", h.warnings)
		}
	})
}

func TestLibrariesFromScript(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be string) {
		h := newHost(map[string]string{"Module:Lib": `
local p = {}
function p.ustring()
	return mw.ustring.upper("é") .. mw.ustring.len("héllo") .. mw.ustring.maxPatternLength
end
function p.text()
	return table.concat(mw.text.split("a,b,,c", ","), "+") .. " " .. mw.text.listToText({ "x", "y", "z" })
end
function p.lang()
	local lang = mw.getContentLanguage()
	return lang:getCode() .. lang:uc("abc") .. lang:formatNum(1234)
end
function p.title()
	local t = mw.title.new("module:foo")
	return t.prefixedText .. " " .. t.nsText .. " " .. t.text .. " " .. tostring(t == mw.title.new("Module:Foo"))
end
function p.message()
	return mw.message.new("nope"):plain()
end
function p.hash()
	return mw.hash.hashValue("md5", "abc") .. " " .. require("mw.hash").hashValue("sha1", "abc")
end
function p.dump()
	return mw.dumpObject({ 1, b = "x" })
end
return p
`}, nil)
		e := newEngine(t, be, engine.Config{MaxPatternLength: 50}, h)

		tests := []struct {
			fn   string
			want string
		}{
			{"ustring", "É550"},
			{"text", "a+b++c x, y and z"},
			{"lang", "enABC1,234"},
			{"title", "Module:Foo Module Foo true"},
			{"message", "⧼nope⧽"},
			{"hash", "900150983cd24fb0d6963f7d28e17f72 a9993e364706816aba3e25717850c26c9cd0d89d"},
			{"dump", "table#1 {\n  1,\n  b = \"x\",\n}"},
		}
		for _, tt := range tests {
			if got := invoke(t, e, "Module:Lib", tt.fn, nil); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.fn, got, tt.want)
			}
		}
	})
}

func TestFunctionReusedAcrossHostCalls(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be string) {
		h := newHost(map[string]string{"Module:Sub": `
local p = {}
function p.upper()
	local f = function(c) return c:upper() end
	local a = mw.ustring.gsub("ab", "%w", f)
	local b = mw.ustring.gsub("cd", "%w", f)
	local c = string.gsub("ef", "%w", f)
	return a .. b .. c
end
function p.iterate()
	local out = {}
	for i = 1, 3 do
		for w in mw.ustring.gmatch("x y", "%a") do
			out[#out + 1] = w
		end
	end
	return table.concat(out)
end
return p
`}, nil)
		e := newEngine(t, be, engine.Config{}, h)

		for i := 0; i < 2; i++ {
			if got := invoke(t, e, "Module:Sub", "upper", nil); got != "ABCDEF" {
				t.Errorf("upper = %q, want %q", got, "ABCDEF")
			}
			if got := invoke(t, e, "Module:Sub", "iterate", nil); got != "xyxyxy" {
				t.Errorf("iterate = %q, want %q", got, "xyxyxy")
			}
		}
	})
}

func TestStringLengthLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be string) {
		h := newHost(map[string]string{"Module:Rep": `
local p = {}
function p.rep(frame)
	local ok, err = pcall(frame.args.lib == "u" and mw.ustring.rep or string.rep, "xy", 1e9)
	return tostring(ok) .. " " .. tostring(err)
end
function p.small()
	return #string.rep("ab", 3) .. mw.ustring.rep("é", 2)
end
return p
`}, nil)
		e := newEngine(t, be, engine.Config{}, h)

		for _, lib := range []string{"s", "u"} {
			frame := engine.NewContext("Page", engine.Args{{Name: "lib", Value: lib}})
			got := invoke(t, e, "Module:Rep", "rep", frame)
			if !strings.HasPrefix(got, "false ") || !strings.Contains(got, "too long") {
				t.Errorf("rep(%s) = %q, want a too long error", lib, got)
			}
		}
		if got := invoke(t, e, "Module:Rep", "small", nil); got != "6éé" {
			t.Errorf("small = %q, want %q", got, "6éé")
		}
	})
}

func TestConsole(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be string) {
		h := newHost(map[string]string{}, nil)
		e := newEngine(t, be, engine.Config{}, h)
		ctx := context.Background()

		tests := []struct {
			name string
			req  engine.ConsoleRequest
			want engine.ConsoleResult
		}{
			{
				name: "expression",
				req:  engine.ConsoleRequest{PriorStatements: []string{"x = 1", "=x"}, CurrentStatement: "=x + 1"},
				want: engine.ConsoleResult{Returned: "2"},
			},
			{
				name: "print",
				req:  engine.ConsoleRequest{CurrentStatement: "print('hi', 2)"},
				want: engine.ConsoleResult{Printed: "hi\t2\n"},
			},
			{
				name: "module",
				req:  engine.ConsoleRequest{ModuleSource: "return { v = 7 }", CurrentStatement: "=p.v", Title: "Module:Scratch"},
				want: engine.ConsoleResult{Returned: "7"},
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := e.RunConsole(ctx, tt.req)
				if err != nil {
					t.Fatalf("RunConsole: %v", err)
				}
				if got != tt.want {
					t.Errorf("RunConsole = %+v, want %+v", got, tt.want)
				}
			})
		}

		_, err := e.RunConsole(ctx, engine.ConsoleRequest{CurrentStatement: "error('boom')"})
		if err == nil || !strings.Contains(err.Error(), "boom") {
			t.Errorf("RunConsole(error) err = %v, want boom", err)
		}
	})
}

func TestValidateAndDestroy(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be string) {
		h := newHost(map[string]string{"Module:Greet": greetModule}, nil)
		e := newEngine(t, be, engine.Config{}, h)

		if err := e.Validate("return {}", "Module:Ok"); err != nil {
			t.Errorf("Validate(valid) = %v, want nil", err)
		}
		var se *backend.SyntaxError
		if err := e.Validate("return {", "Module:Bad"); !errors.As(err, &se) {
			t.Errorf("Validate(invalid) = %v, want SyntaxError", err)
		}

		invoke(t, e, "Module:Greet", "greet", engine.NewContext("P", engine.PositionalArgs("x")))
		u := e.ReportResourceUsage()
		if u.CPULimitSeconds <= 0 {
			t.Errorf("CPULimitSeconds = %v, want > 0", u.CPULimitSeconds)
		}
		if u.MemoryLimitBytes != engine.DefaultMemoryLimit {
			t.Errorf("MemoryLimitBytes = %d, want %d", u.MemoryLimitBytes, engine.DefaultMemoryLimit)
		}

		if err := e.Destroy(); err != nil {
			t.Fatalf("Destroy: %v", err)
		}
		if err := e.Destroy(); err != nil {
			t.Errorf("second Destroy = %v, want nil", err)
		}
		if _, err := e.Invoke(context.Background(), "Module:Greet", "greet", nil); !errors.Is(err, engine.ErrDestroyed) {
			t.Errorf("Invoke after Destroy err = %v, want ErrDestroyed", err)
		}
	})
}

func TestTimeoutPropagatesThroughPcall(t *testing.T) {
	forEachBackend(t, func(t *testing.T, be string) {
		h := newHost(map[string]string{"Module:Spin": `
local p = {}
function p.spin()
	pcall(function()
		while true do end
	end)
	return "swallowed"
end
return p
`}, nil)
		e := newEngine(t, be, engine.Config{CPULimit: 100 * time.Millisecond}, h)

		_, err := e.Invoke(context.Background(), "Module:Spin", "spin", nil)
		var te *backend.TimeoutError
		if !errors.As(err, &te) {
			t.Fatalf("spin err = %v, want TimeoutError", err)
		}
	})
}
