// Package sandbox implements the in-process backend: a gopher-lua state with
// only safe libraries, governed by a usage timer and a heap watcher.
package sandbox

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/backend/luart"
	"github.com/seantiz/scribe/internal/governor"
	"github.com/seantiz/scribe/internal/value"
)

// DefaultCPULimit is used when the config sets none.
const DefaultCPULimit = 7 * time.Second

// Backend creates sandbox interpreters.
type Backend struct{}

// NewInterpreter implements backend.Backend.
func (Backend) NewInterpreter(cfg backend.Config) (backend.Interpreter, error) {
	return New(cfg), nil
}

// Capabilities implements backend.Backend.
func (Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:        backend.NameSandbox,
		Description: "in-process gopher-lua state with safe libraries",
		Profiling:   true,
	}
}

// Interpreter is an in-process interpreter.
type Interpreter struct {
	id     string
	rt     *luart.Runtime
	timer  *governor.UsageTimer
	memory *governor.MemoryWatcher
	log    *slog.Logger

	nextHandle atomic.Int64
}

var (
	_ backend.Interpreter = (*Interpreter)(nil)
	_ backend.Profiler    = (*Interpreter)(nil)
)

// function is a handle to a Lua function of one interpreter. Handles share
// the Lua value; a released handle stops resolving while its clones live on.
type function struct {
	in       *Interpreter
	fn       *lua.LFunction
	id       int64
	released atomic.Bool
}

func (in *Interpreter) handle(fn *lua.LFunction) *function {
	return &function{in: in, fn: fn, id: in.nextHandle.Add(1)}
}

func (f *function) Clone() backend.Function {
	c := f.in.handle(f.fn)
	if f.released.Load() {
		c.released.Store(true)
	}
	return c
}

func (f *function) Release() { f.released.Store(true) }

// resolve returns the Lua function of a live handle of this interpreter.
func (in *Interpreter) resolve(fn backend.Function) (*lua.LFunction, error) {
	f, ok := fn.(*function)
	if !ok || f.in != in {
		return nil, fmt.Errorf("sandbox: not a function of this interpreter: %T", fn)
	}
	if f.released.Load() {
		return nil, &backend.HandleNotFoundError{ID: f.id}
	}
	return f.fn, nil
}

// New starts an interpreter.
func New(cfg backend.Config) *Interpreter {
	limit := cfg.CPULimit
	if limit <= 0 {
		limit = DefaultCPULimit
	}
	in := &Interpreter{
		id:     ulid.Make().String(),
		timer:  governor.NewUsageTimer(limit, nil),
		memory: governor.NewMemoryWatcher(cfg.MemoryLimit, 0, nil),
		log:    cfg.Log(),
	}
	// The runtime is created first so the callbacks can reach it.
	in.rt = luart.New(luart.Options{
		Timer:          in.timer,
		Memory:         in.memory,
		ProfilerPeriod: cfg.ProfilerPeriod,
		Limits:         value.Limits{MaxStringLength: cfg.MaxStringLength},
	})
	in.timer.SetOnExpire(func() {
		in.rt.Interrupt(&backend.TimeoutError{Limit: limit})
	})
	in.memory.SetOnExceed(func() {
		in.rt.Interrupt(&backend.OutOfMemoryError{Limit: cfg.MemoryLimit})
	})
	in.rt.Conv = luart.Converter{
		ScriptFunc: func(fn *lua.LFunction) (any, error) {
			return in.handle(fn), nil
		},
		HostValue: in.hostValue,
	}
	in.log.Debug("sandbox interpreter started", "interpreter_id", in.id)
	return in
}

// ID returns the interpreter's instance id.
func (in *Interpreter) ID() string { return in.id }

func (in *Interpreter) hostValue(v any) (lua.LValue, bool, error) {
	switch t := v.(type) {
	case *function:
		if t.in != in {
			return nil, false, errors.New("cannot pass a function of another interpreter")
		}
		if t.released.Load() {
			return nil, false, &backend.HandleNotFoundError{ID: t.id}
		}
		return t.fn, true, nil
	case backend.HostFunc:
		return in.wrap(t), true, nil
	case func([]any) ([]any, error):
		return in.wrap(t), true, nil
	}
	return nil, false, nil
}

func (in *Interpreter) wrap(fn backend.HostFunc) *lua.LFunction {
	return in.rt.L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		args := make([]any, n)
		for i := 0; i < n; i++ {
			v, err := in.rt.FromLua(L.Get(i + 1))
			if err != nil {
				in.rt.Raise(err)
				return 0
			}
			args[i] = v
		}
		rets, err := fn(args)
		if err != nil {
			in.rt.Raise(err)
			return 0
		}
		lvs, err := in.rt.ToLuaAll(rets)
		if err != nil {
			in.rt.Raise(err)
			return 0
		}
		for _, lv := range lvs {
			L.Push(lv)
		}
		return len(lvs)
	})
}

// LoadString implements backend.Interpreter.
func (in *Interpreter) LoadString(source, chunkName string) (backend.Function, error) {
	fn, err := in.rt.Load(source, chunkName)
	if err != nil {
		return nil, err
	}
	return in.handle(fn), nil
}

// CallFunction implements backend.Interpreter.
func (in *Interpreter) CallFunction(fn backend.Function, args ...any) ([]any, error) {
	lfn, err := in.resolve(fn)
	if err != nil {
		return nil, err
	}
	lvs, err := in.rt.ToLuaAll(args)
	if err != nil {
		return nil, err
	}
	rets, err := in.rt.Call(lfn, lvs...)
	if err != nil {
		return nil, err
	}
	return in.rt.FromLuaAll(rets)
}

// RegisterLibrary implements backend.Interpreter.
func (in *Interpreter) RegisterLibrary(name string, funcs map[string]backend.HostFunc) error {
	if in.rt.Closed() {
		return backend.ErrClosed
	}
	tbl := in.rt.EnsureTable(name)
	for fname, fn := range funcs {
		tbl.RawSetString(fname, in.wrap(fn))
	}
	return nil
}

// WrapHostFunction implements backend.Interpreter.
func (in *Interpreter) WrapHostFunction(fn backend.HostFunc) (backend.Function, error) {
	if in.rt.Closed() {
		return nil, backend.ErrClosed
	}
	return in.handle(in.wrap(fn)), nil
}

// IsScriptFunction implements backend.Interpreter.
func (in *Interpreter) IsScriptFunction(v any) bool {
	f, ok := v.(*function)
	return ok && f.in == in
}

// PauseUsageTimer implements backend.Interpreter.
func (in *Interpreter) PauseUsageTimer() { in.timer.Pause() }

// UnpauseUsageTimer implements backend.Interpreter.
func (in *Interpreter) UnpauseUsageTimer() { in.timer.Unpause() }

// Usage implements backend.Interpreter.
func (in *Interpreter) Usage() backend.Usage {
	return backend.Usage{
		CPU:        in.timer.Used(),
		CPULimit:   in.timer.Limit(),
		PeakMemory: in.memory.Peak(),
		MemLimit:   in.memory.Limit(),
	}
}

// ProfileSamples implements backend.Profiler.
func (in *Interpreter) ProfileSamples() []backend.ProfileSample {
	return in.rt.ProfileSamples()
}

// Close implements backend.Interpreter.
func (in *Interpreter) Close() error {
	if in.rt.Closed() {
		return nil
	}
	in.timer.Stop()
	in.rt.Close()
	in.log.Debug("sandbox interpreter closed", "interpreter_id", in.id, "cpu_ms", in.timer.Used().Milliseconds())
	return nil
}
