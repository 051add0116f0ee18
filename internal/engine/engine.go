package engine

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/backend/sandbox"
	"github.com/seantiz/scribe/internal/backend/subprocess"
	"github.com/seantiz/scribe/internal/governor"
	"github.com/seantiz/scribe/internal/library"
	"github.com/seantiz/scribe/internal/ustring"
	"github.com/seantiz/scribe/internal/value"
)

//go:embed mw.lua
var glueSource string

const glueChunkName = "@mw.lua"

// DefaultMemoryLimit bounds interpreter heap growth when Config leaves
// MemoryLimit zero.
const DefaultMemoryLimit = 50 << 20

// Config configures an Engine.
type Config struct {
	// Backend names the interpreter backend. Empty means auto.
	Backend string

	CPULimit       time.Duration
	MemoryLimit    uint64
	ProfilerPeriod time.Duration
	LuaPath        string
	LuaArgs        []string
	ErrorFile      string

	MaxStringLength  int
	MaxPatternLength int
	ExpensiveLimit   int
	MaxDepth         int
	ExpandCacheSize  int

	// AllowEnvFuncs leaves setfenv and getfenv reachable from scripts.
	AllowEnvFuncs bool

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MemoryLimit == 0 {
		c.MemoryLimit = DefaultMemoryLimit
	}
	if c.ExpensiveLimit <= 0 {
		c.ExpensiveLimit = governor.DefaultExpensiveLimit
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.ExpandCacheSize <= 0 {
		c.ExpandCacheSize = DefaultExpandCacheSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

func (c Config) backendConfig() backend.Config {
	return backend.Config{
		CPULimit:        c.CPULimit,
		MemoryLimit:     c.MemoryLimit,
		ProfilerPeriod:  c.ProfilerPeriod,
		MaxStringLength: c.MaxStringLength,
		LuaPath:         c.LuaPath,
		LuaArgs:         c.LuaArgs,
		ErrorFile:       c.ErrorFile,
		Logger:          c.Logger,
	}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithBackends sets the backend registry. The default has the sandbox and
// subprocess backends.
func WithBackends(r *backend.Registry) Option {
	return func(e *Engine) { e.backends = r }
}

// WithLibraries sets the library registry. The default is library.Default.
func WithLibraries(r *library.Registry) Option {
	return func(e *Engine) { e.libs = r }
}

// WithPatternCache sets the pattern cache. The default is ustring.Shared.
func WithPatternCache(c *ustring.Cache) Option {
	return func(e *Engine) { e.patterns = c }
}

// WithLogFunc receives every line a script passes to mw.log.
func WithLogFunc(f func(line string)) Option {
	return func(e *Engine) { e.logFunc = f }
}

// DefaultBackends returns a registry with the built-in backends.
func DefaultBackends() *backend.Registry {
	r := backend.NewRegistry()
	r.Register(backend.NameSandbox, sandbox.Backend{})
	r.Register(backend.NameSubprocess, subprocess.Backend{})
	return r
}

// execution is the state scoped to one script call: its frames and its
// expansion cache.
type execution struct {
	frames map[string]*Context
	cache  *expandCache
}

// Engine runs the modules of one top-level render. It owns one interpreter,
// started on first use, and is used by one goroutine at a time.
type Engine struct {
	id       string
	cfg      Config
	host     Host
	log      *slog.Logger
	backends *backend.Registry
	libs     *library.Registry
	patterns *ustring.Cache
	logFunc  func(line string)

	backendName  string
	interp       backend.Interpreter
	glue         map[string]backend.Function
	installed    map[string]bool
	modules      map[string]*Module
	budget       *governor.ExpensiveBudget
	limits       value.Limits
	initialVSize uint64

	exec *execution
	ctx  context.Context

	ttl       time.Duration
	hasTTL    bool
	destroyed bool
}

// New creates an Engine rendering for host.
func New(cfg Config, host Host, opts ...Option) (*Engine, error) {
	if host == nil {
		return nil, errors.New("engine: host is required")
	}
	cfg = cfg.withDefaults()
	e := &Engine{
		id:        ulid.Make().String(),
		cfg:       cfg,
		host:      host,
		installed: make(map[string]bool),
		modules:   make(map[string]*Module),
		budget:    governor.NewExpensiveBudget(cfg.ExpensiveLimit),
		limits: value.Limits{
			MaxStringLength:  cfg.MaxStringLength,
			MaxPatternLength: cfg.MaxPatternLength,
		}.WithDefaults(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.backends == nil {
		e.backends = DefaultBackends()
	}
	if e.libs == nil {
		e.libs = library.Default()
	}
	if e.patterns == nil {
		e.patterns = ustring.Shared
	}
	b, err := e.backends.Resolve(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.backendName = b.Capabilities().Name
	e.log = cfg.Logger.With("engine_id", e.id)
	enginesActive.Inc()
	return e, nil
}

// ID returns the engine's instance id.
func (e *Engine) ID() string { return e.id }

// BackendName is the name of the backend the engine runs on.
func (e *Engine) BackendName() string { return e.backendName }

// Budget returns the expensive-call budget shared by the engine's calls.
func (e *Engine) Budget() *governor.ExpensiveBudget { return e.budget }

// ensure starts the interpreter and installs the glue and eager libraries.
func (e *Engine) ensure() error {
	if e.destroyed {
		return ErrDestroyed
	}
	if e.interp != nil {
		return nil
	}
	interp, err := e.backends.NewInterpreter(e.cfg.Backend, e.cfg.backendConfig())
	if err != nil {
		return err
	}
	e.interp = interp
	if err := e.bootstrap(); err != nil {
		e.releaseGlue()
		interp.Close()
		e.interp = nil
		return fmt.Errorf("engine: start: %w", err)
	}
	e.log.Debug("engine interpreter started", "backend", e.cfg.Backend)
	return nil
}

func (e *Engine) bootstrap() error {
	if sr, ok := e.interp.(backend.StatusReporter); ok {
		if st, err := sr.Status(); err == nil {
			e.initialVSize = st.VSize
		}
	}
	if err := e.interp.RegisterLibrary("mw_interface", e.interfaceFuncs()); err != nil {
		return fmt.Errorf("register interface: %w", err)
	}
	chunk, err := e.interp.LoadString(glueSource, glueChunkName)
	if err != nil {
		return fmt.Errorf("load glue: %w", err)
	}
	rets, err := e.interp.CallFunction(chunk)
	chunk.Release()
	if err != nil {
		return fmt.Errorf("run glue: %w", err)
	}
	entry, ok := first(rets).(map[any]any)
	if !ok {
		return fmt.Errorf("glue returned %s, want table", value.TypeName(first(rets)))
	}
	e.glue = make(map[string]backend.Function, len(entry))
	for k, v := range entry {
		name, ok := k.(string)
		fn, isFn := v.(backend.Function)
		if ok && isFn {
			e.glue[name] = fn
		}
	}

	if _, err := e.callGlue("setupInterface", e.interfaceOptions()); err != nil {
		return err
	}
	for _, def := range e.libs.Eager() {
		if err := e.installLibrary(def); err != nil {
			return err
		}
		if _, err := e.callGlue("installLibrary", def.Name); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) interfaceOptions() map[any]any {
	var deferred []any
	for _, name := range e.libs.Names() {
		if d, _ := e.libs.Lookup(name); d.DeferLoad {
			deferred = append(deferred, name)
		}
	}
	namespaces := make(map[any]any, len(library.Namespaces))
	for ns := range library.Namespaces {
		namespaces[ns] = true
	}
	return map[any]any{
		"deferred":         deferred,
		"namespaces":       namespaces,
		"allowEnvFuncs":    e.cfg.AllowEnvFuncs,
		"maxStringLength":  float64(e.limits.MaxStringLength),
		"maxPatternLength": float64(e.limits.MaxPatternLength),
		"jsonPreserveKeys": float64(library.JSONPreserveKeys),
		"jsonTryFixing":    float64(library.JSONTryFixing),
		"jsonPretty":       float64(library.JSONPretty),
	}
}

// installLibrary creates the engine's instance of def and registers its
// functions.
func (e *Engine) installLibrary(def library.Def) error {
	lib := def.New()
	funcs, err := lib.Register(libEnv{e})
	if err != nil {
		return fmt.Errorf("library %s: %w", def.Name, err)
	}
	if err := def.Check(funcs); err != nil {
		return err
	}
	if err := e.interp.RegisterLibrary(def.Name, funcs); err != nil {
		return fmt.Errorf("library %s: %w", def.Name, err)
	}
	e.installed[def.Name] = true
	return nil
}

func (e *Engine) callGlue(name string, args ...any) ([]any, error) {
	fn, ok := e.glue[name]
	if !ok {
		return nil, fmt.Errorf("engine: glue has no entry %q", name)
	}
	return e.interp.CallFunction(fn, args...)
}

// execute runs fn with a fresh frame table rooted at frame and a fresh
// expansion cache. The previous ones are restored afterwards so that nested
// executions leave the outer one intact.
func (e *Engine) execute(ctx context.Context, frame *Context, fn func() error) error {
	saved, savedCtx := e.exec, e.ctx
	frames := map[string]*Context{"current": frame}
	if frame.Parent != nil {
		frames["parent"] = frame.Parent
	}
	e.exec = &execution{frames: frames, cache: newExpandCache(e.cfg.ExpandCacheSize)}
	e.ctx = ctx
	defer func() {
		e.exec, e.ctx = saved, savedCtx
		if saved == nil && e.interp != nil {
			if cc, ok := e.interp.(backend.ChunkCleaner); ok {
				if err := cc.CleanupChunks(); err != nil {
					e.log.Warn("cleanup chunks failed", "error", err)
				}
			}
		}
	}()
	return fn()
}

func (e *Engine) context() context.Context {
	if e.ctx != nil {
		return e.ctx
	}
	return context.Background()
}

// hostCall runs fn with the usage timer paused when a script is running.
func (e *Engine) hostCall(fn func() error) error {
	if e.exec != nil && e.interp != nil {
		e.interp.PauseUsageTimer()
		defer e.interp.UnpauseUsageTimer()
	}
	return fn()
}

// FetchModule returns the module for ref, or nil, nil when the host has
// none. Hits and misses are both cached for the engine's lifetime.
func (e *Engine) FetchModule(ctx context.Context, ref string) (*Module, error) {
	if e.destroyed {
		return nil, ErrDestroyed
	}
	key := ref
	if t, ok := library.NormalizeTitle(ref); ok {
		key = t
	}
	if m, ok := e.modules[key]; ok {
		return m, nil
	}
	var src *Source
	err := e.hostCall(func() (err error) {
		src, err = e.host.FetchModule(ctx, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch module %s: %w", key, err)
	}
	if src == nil {
		e.modules[key] = nil
		return nil, nil
	}
	title := src.Title
	if title == "" {
		title = key
	}
	if m, ok := e.modules[title]; ok && m != nil {
		e.modules[key] = m
		return m, nil
	}
	m := &Module{engine: e, title: title, source: src.Text}
	e.modules[key] = m
	e.modules[title] = m
	return m, nil
}

// Invoke calls function of the module ref with frame and returns its
// result as text. A nil frame is a root frame titled after the module.
func (e *Engine) Invoke(ctx context.Context, ref, function string, frame *Context) (string, error) {
	start := time.Now()
	topLevel := e.exec == nil

	out, err := e.invoke(ctx, ref, function, frame)

	result := resultOK
	if err != nil {
		result = resultError
	}
	invocationsTotal.WithLabelValues(result).Inc()
	if topLevel {
		invokeDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		e.log.Debug("invocation failed", "module", ref, "function", function, "error", err)
	} else {
		e.log.Debug("invocation finished", "module", ref, "function", function,
			"duration_ms", time.Since(start).Milliseconds())
	}
	return out, err
}

func (e *Engine) invoke(ctx context.Context, ref, function string, frame *Context) (string, error) {
	m, err := e.FetchModule(ctx, ref)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrNoSuchModule, ref)
	}
	return m.Invoke(ctx, function, frame)
}

// Validate compiles source without keeping it. It returns nil or a
// *backend.SyntaxError.
func (e *Engine) Validate(source, chunkName string) error {
	if err := e.ensure(); err != nil {
		return err
	}
	fn, err := e.interp.LoadString(source, chunkName)
	if err != nil {
		return err
	}
	fn.Release()
	return nil
}

func (e *Engine) noteTTL(d time.Duration) {
	if !e.hasTTL || d < e.ttl {
		e.ttl = d
		e.hasTTL = true
	}
}

// TTL returns the smallest TTL a script set during the engine's lifetime.
func (e *Engine) TTL() (time.Duration, bool) { return e.ttl, e.hasTTL }

// ResourceUsage is the resource report of an engine.
type ResourceUsage struct {
	CPUSeconds       float64                 `json:"cpu_seconds"`
	CPULimitSeconds  float64                 `json:"cpu_limit_seconds"`
	PeakMemoryBytes  uint64                  `json:"peak_memory_bytes"`
	MemoryLimitBytes uint64                  `json:"memory_limit_bytes,omitempty"`
	ExpensiveCalls   int                     `json:"expensive_calls"`
	ExpensiveLimit   int                     `json:"expensive_limit"`
	TTLSeconds       *float64                `json:"ttl_seconds,omitempty"`
	ProfileSamples   []backend.ProfileSample `json:"profile,omitempty"`
}

// ReportResourceUsage describes what the engine has consumed so far.
func (e *Engine) ReportResourceUsage() ResourceUsage {
	r := ResourceUsage{
		ExpensiveCalls: e.budget.Count(),
		ExpensiveLimit: e.budget.Limit(),
	}
	if d, ok := e.TTL(); ok {
		s := d.Seconds()
		r.TTLSeconds = &s
	}
	if e.interp == nil {
		return r
	}
	u := e.interp.Usage()
	r.CPUSeconds = u.CPU.Seconds()
	r.CPULimitSeconds = u.CPULimit.Seconds()
	r.PeakMemoryBytes = u.PeakMemory
	r.MemoryLimitBytes = u.MemLimit
	if sr, ok := e.interp.(backend.StatusReporter); ok {
		if st, err := sr.Status(); err == nil {
			r.CPUSeconds = st.CPU.Seconds()
			if st.VSize > e.initialVSize {
				r.PeakMemoryBytes = st.VSize - e.initialVSize
			}
		}
	}
	if p, ok := e.interp.(backend.Profiler); ok {
		r.ProfileSamples = p.ProfileSamples()
	}
	return r
}

func (e *Engine) releaseGlue() {
	for _, fn := range e.glue {
		fn.Release()
	}
	e.glue = nil
}

// Destroy closes the interpreter and drops every reference the engine holds
// into it. It is safe to call more than once.
func (e *Engine) Destroy() error {
	if e.destroyed {
		return nil
	}
	e.destroyed = true
	enginesActive.Dec()

	for _, m := range e.modules {
		if m != nil {
			m.release()
		}
	}
	e.modules = nil
	e.releaseGlue()
	e.installed = nil
	e.exec = nil

	var err error
	if e.interp != nil {
		err = e.interp.Close()
		e.interp = nil
	}
	e.log.Debug("engine destroyed", "expensive_calls", e.budget.Count())
	return err
}

func first(vs []any) any {
	if len(vs) == 0 {
		return nil
	}
	return vs[0]
}

func at(vs []any, i int) any {
	if i >= len(vs) {
		return nil
	}
	return vs[i]
}
