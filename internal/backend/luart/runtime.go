// Package luart is the gopher-lua runtime core shared by the in-process
// sandbox and the child process of the subprocess backend. It owns the Lua
// state, the safe standard library set, governed calls that cannot be caught
// by pcall once a resource limit trips, and the conversion of values and
// errors at the host boundary.
package luart

import (
	"context"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/governor"
	"github.com/seantiz/scribe/internal/value"
)

const (
	callStackSize   = 200
	registrySize    = 1024 * 20
	registryMaxSize = 1024 * 1024
)

// removedGlobals are base library functions scripts must not reach.
var removedGlobals = []string{"dofile", "loadfile", "collectgarbage", "gcinfo", "newproxy", "module", "require"}

// Options configures a Runtime.
type Options struct {
	// Timer and Memory govern calls when set.
	Timer  *governor.UsageTimer
	Memory *governor.MemoryWatcher
	// ProfilerPeriod enables the sampling profiler when positive.
	ProfilerPeriod time.Duration
	// Clock reports CPU time for os.clock; it defaults to the timer.
	Clock func() time.Duration
	// Limits bound synthesized strings. Zero fields take the defaults.
	Limits value.Limits
}

// Runtime wraps one Lua state. It is not safe for concurrent use, except for
// Interrupt, which may be called from any goroutine.
type Runtime struct {
	L    *lua.LState
	Conv Converter

	timer  *governor.UsageTimer
	memory *governor.MemoryWatcher
	prof   *profiler
	clock  func() time.Duration
	limits value.Limits

	depth int

	mu      sync.Mutex
	cancel  context.CancelCauseFunc
	pending error
	closed  bool
}

// New creates a Lua state with the safe library set.
func New(opts Options) *Runtime {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:    true,
		CallStackSize:   callStackSize,
		RegistrySize:    registrySize,
		RegistryMaxSize: registryMaxSize,
	})
	rt := &Runtime{
		L:      L,
		timer:  opts.Timer,
		memory: opts.Memory,
		clock:  opts.Clock,
		limits: opts.Limits.WithDefaults(),
	}
	if opts.ProfilerPeriod > 0 {
		rt.prof = newProfiler(opts.ProfilerPeriod)
	}
	if rt.clock == nil {
		rt.clock = func() time.Duration {
			if rt.timer != nil {
				return rt.timer.Used()
			}
			return 0
		}
	}

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	L.SetTop(0)

	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("pcall", L.NewFunction(rt.pcall))
	L.SetGlobal("xpcall", L.NewFunction(rt.xpcall))
	rt.openOS()

	if t, ok := L.GetGlobal("string").(*lua.LTable); ok {
		t.RawSetString("dump", lua.LNil)
		t.RawSetString("rep", L.NewFunction(rt.strRep))
	}
	return rt
}

// Close releases the Lua state. Close is idempotent.
func (rt *Runtime) Close() {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return
	}
	rt.closed = true
	cancel := rt.cancel
	rt.mu.Unlock()
	if cancel != nil {
		cancel(backend.ErrClosed)
	}
	rt.L.Close()
}

// Closed reports whether Close was called.
func (rt *Runtime) Closed() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.closed
}

// Load compiles source as a chunk named chunkName.
func (rt *Runtime) Load(source, chunkName string) (*lua.LFunction, error) {
	if rt.Closed() {
		return nil, backend.ErrClosed
	}
	fn, err := rt.L.Load(strings.NewReader(source), chunkName)
	if err != nil {
		return nil, syntaxError(err, chunkName, source)
	}
	return fn, nil
}

// EnsureTable returns the table at the dotted global path, creating any
// missing tables along the way.
func (rt *Runtime) EnsureTable(path string) *lua.LTable {
	L := rt.L
	parts := strings.Split(path, ".")
	cur, ok := L.GetGlobal(parts[0]).(*lua.LTable)
	if !ok {
		cur = L.NewTable()
		L.SetGlobal(parts[0], cur)
	}
	for _, p := range parts[1:] {
		next, ok := cur.RawGetString(p).(*lua.LTable)
		if !ok {
			next = L.NewTable()
			cur.RawSetString(p, next)
		}
		cur = next
	}
	return cur
}

// ProfileSamples returns the profiler's samples, or nil when profiling is
// disabled.
func (rt *Runtime) ProfileSamples() []backend.ProfileSample {
	if rt.prof == nil {
		return nil
	}
	return rt.prof.samples()
}
