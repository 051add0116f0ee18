package luart

import (
	"context"
	"errors"

	lua "github.com/yuin/gopher-lua"

	"github.com/seantiz/scribe/internal/backend"
)

// runCtx is the context installed on the Lua state during a call. The VM
// consults Done before every instruction, which is where the profiler takes
// its samples.
type runCtx struct {
	context.Context
	rt *Runtime
}

func (c *runCtx) Done() <-chan struct{} {
	if p := c.rt.prof; p != nil && p.due.Load() {
		p.record(c.rt.L)
	}
	return c.Context.Done()
}

// Interrupt aborts the running call with err. The first interrupt wins; it
// is reported by the outermost Call regardless of pcall in between.
func (rt *Runtime) Interrupt(err error) {
	rt.mu.Lock()
	if rt.pending == nil {
		rt.pending = err
	}
	cancel := rt.cancel
	rt.mu.Unlock()
	if cancel != nil {
		cancel(err)
	}
}

// Fatal returns the pending interrupt, if any.
func (rt *Runtime) Fatal() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.pending
}

// Exhausted reports a spent CPU or memory budget.
func (rt *Runtime) Exhausted() error {
	if rt.timer != nil && rt.timer.Expired() {
		return &backend.TimeoutError{Limit: rt.timer.Limit()}
	}
	if rt.memory != nil && rt.memory.Exceeded() {
		return &backend.OutOfMemoryError{Limit: rt.memory.Limit()}
	}
	return nil
}

// Call calls fn with args under governance and returns all results. Nested
// calls from host functions share the outer call's context.
func (rt *Runtime) Call(fn lua.LValue, args ...lua.LValue) ([]lua.LValue, error) {
	if rt.Closed() {
		return nil, backend.ErrClosed
	}
	if err := rt.Exhausted(); err != nil {
		return nil, err
	}

	outer := rt.depth == 0
	if outer {
		ctx, cancel := context.WithCancelCause(context.Background())
		rt.mu.Lock()
		rt.pending = nil
		rt.cancel = cancel
		rt.mu.Unlock()
		rt.L.SetContext(&runCtx{Context: ctx, rt: rt})
		if rt.memory != nil {
			rt.memory.Start()
		}
		if rt.prof != nil {
			rt.prof.start()
		}
	}
	rt.depth++

	var leave func()
	if rt.timer != nil {
		leave = rt.timer.Enter()
	}

	L := rt.L
	base := L.GetTop()
	L.Push(fn)
	for _, a := range args {
		L.Push(a)
	}
	err := L.PCall(len(args), lua.MultRet, nil)
	var rets []lua.LValue
	if err == nil {
		n := L.GetTop() - base
		rets = make([]lua.LValue, n)
		for i := 0; i < n; i++ {
			rets[i] = L.Get(base + 1 + i)
		}
	}
	L.SetTop(base)

	if leave != nil {
		leave()
	}
	rt.depth--
	if outer {
		if rt.prof != nil {
			rt.prof.stop()
		}
		if rt.memory != nil {
			rt.memory.Stop()
		}
		rt.mu.Lock()
		cancel := rt.cancel
		rt.cancel = nil
		rt.mu.Unlock()
		L.RemoveContext()
		cancel(nil)
	}

	if fatal := rt.Fatal(); fatal != nil {
		return nil, fatal
	}
	if err != nil {
		return nil, rt.scriptError(err)
	}
	return rets, nil
}

// Raise raises err as a script error from inside a Go function. A fatal
// error also interrupts the call so that pcall cannot swallow it. Raise does
// not return.
func (rt *Runtime) Raise(err error) {
	if backend.IsFatal(err) {
		rt.Interrupt(err)
		rt.L.RaiseError("%s", err.Error())
		return
	}
	var se *backend.ScriptError
	if errors.As(err, &se) && se.Value != nil {
		if lv, cerr := rt.ToLua(se.Value); cerr == nil {
			rt.L.Error(lv, 0)
			return
		}
	}
	rt.L.RaiseError("%s", err.Error())
}

// pcall is pcall that re-raises pending interrupts.
func (rt *Runtime) pcall(L *lua.LState) int {
	L.CheckAny(1)
	v := L.Get(1)
	if v.Type() != lua.LTFunction && L.GetMetaField(v, "__call").Type() != lua.LTFunction {
		L.Push(lua.LFalse)
		L.Push(lua.LString("attempt to call a " + v.Type().String() + " value"))
		return 2
	}
	nargs := L.GetTop() - 1
	err := L.PCall(nargs, lua.MultRet, nil)
	if fatal := rt.Fatal(); fatal != nil {
		L.RaiseError("%s", fatal.Error())
		return 0
	}
	if err != nil {
		L.Push(lua.LFalse)
		L.Push(errorObject(err))
		return 2
	}
	L.Insert(lua.LTrue, 1)
	return L.GetTop()
}

// xpcall is xpcall that re-raises pending interrupts. The handler is called
// with the error value after the failed call unwinds.
func (rt *Runtime) xpcall(L *lua.LState) int {
	fn := L.CheckAny(1)
	handler := L.CheckFunction(2)
	L.SetTop(2)
	L.Push(fn)
	err := L.PCall(0, lua.MultRet, nil)
	if fatal := rt.Fatal(); fatal != nil {
		L.RaiseError("%s", fatal.Error())
		return 0
	}
	if err == nil {
		L.Insert(lua.LTrue, 3)
		return L.GetTop() - 2
	}

	L.SetTop(2)
	L.Push(handler)
	L.Push(errorObject(err))
	herr := L.PCall(1, 1, nil)
	if fatal := rt.Fatal(); fatal != nil {
		L.RaiseError("%s", fatal.Error())
		return 0
	}
	var hv lua.LValue
	if herr != nil {
		hv = errorObject(herr)
	} else {
		hv = L.Get(-1)
	}
	L.SetTop(2)
	L.Push(lua.LFalse)
	L.Push(hv)
	return 2
}

func errorObject(err error) lua.LValue {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return apiErr.Object
	}
	return lua.LString(err.Error())
}
