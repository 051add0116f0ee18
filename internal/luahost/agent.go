// Package luahost implements the child side of the subprocess backend. An
// Agent owns one Lua state and serves host requests read from a stream,
// calling back into the host whenever a script invokes a host function.
package luahost

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/backend/luart"
	sp "github.com/seantiz/scribe/internal/backend/subprocess"
	"github.com/seantiz/scribe/internal/governor"
	"github.com/seantiz/scribe/internal/value"
)

// errHostLost aborts the running script when the host stops answering.
var errHostLost = errors.New("host connection lost")

// Options configures an Agent.
type Options struct {
	// MemoryLimit bounds heap growth during calls. Zero disables the check.
	MemoryLimit uint64
	// MaxStringLength bounds string.rep results. Zero takes the default.
	MaxStringLength int
	// Log receives diagnostics and script print output. Nil discards them.
	Log *log.Logger
}

// Agent serves one host connection.
type Agent struct {
	rt     *luart.Runtime
	memory *governor.MemoryWatcher
	r      *bufio.Reader
	w      io.Writer
	log    *log.Logger

	funcs map[int64]*lua.LFunction
	ids   map[*lua.LFunction]int64
	next  int64
	// A freed id leaves ids on receipt, so the function gets a fresh id the
	// next time it crosses. Its funcs entry goes before the next read, so
	// the values of the frame that carried the free still resolve.
	frees []int64
	quit  bool
}

// chunkRef is a script function crossing to the host.
type chunkRef int64

// New creates an agent reading requests from r and writing replies to w.
func New(r io.Reader, w io.Writer, opts Options) *Agent {
	logger := opts.Log
	if logger == nil {
		logger = log.New()
		logger.SetOutput(io.Discard)
	}
	a := &Agent{
		memory: governor.NewMemoryWatcher(opts.MemoryLimit, 0, nil),
		r:      bufio.NewReader(r),
		w:      w,
		log:    logger,
		funcs:  make(map[int64]*lua.LFunction),
		ids:    make(map[*lua.LFunction]int64),
	}
	a.rt = luart.New(luart.Options{
		Memory: a.memory,
		Clock:  processCPU,
		Limits: value.Limits{MaxStringLength: opts.MaxStringLength},
	})
	a.memory.SetOnExceed(func() {
		a.rt.Interrupt(&backend.OutOfMemoryError{Limit: opts.MemoryLimit})
	})
	a.rt.Conv = luart.Converter{
		ScriptFunc: func(fn *lua.LFunction) (any, error) {
			return chunkRef(a.register(fn)), nil
		},
	}
	// Standard output carries the protocol.
	a.rt.L.SetGlobal("print", a.rt.L.NewFunction(a.print))
	return a
}

// Interrupt aborts the running call with a timeout. It is safe to call from
// a signal handler goroutine.
func (a *Agent) Interrupt() {
	a.rt.Interrupt(&backend.TimeoutError{})
}

// Close releases the Lua state.
func (a *Agent) Close() {
	a.rt.Close()
}

// Serve handles requests until the host sends quit or closes the stream.
func (a *Agent) Serve() error {
	for !a.quit {
		typ, msg, err := a.read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if typ == sp.MsgQuit {
			return nil
		}
		rtyp, reply := a.dispatch(typ, msg)
		if err := sp.WriteMessage(a.w, rtyp, reply); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) read() (sp.MsgType, *sp.Message, error) {
	for _, id := range a.frees {
		delete(a.funcs, id)
	}
	a.frees = a.frees[:0]

	typ, msg, err := sp.ReadMessage(a.r)
	if err != nil {
		return 0, nil, err
	}
	for _, id := range msg.Free {
		if fn, ok := a.funcs[id]; ok && a.ids[fn] == id {
			delete(a.ids, fn)
		}
	}
	a.frees = append(a.frees, msg.Free...)
	return typ, msg, nil
}

func (a *Agent) dispatch(typ sp.MsgType, msg *sp.Message) (sp.MsgType, *sp.Message) {
	switch typ {
	case sp.MsgLoad:
		fn, err := a.rt.Load(string(msg.Source), msg.ChunkName)
		if err != nil {
			return a.errorReply(err, 0)
		}
		return sp.MsgReturn, &sp.Message{Values: []sp.Value{a.funcValue(fn)}}

	case sp.MsgCall:
		return a.call(msg)

	case sp.MsgRegister:
		tbl := a.rt.EnsureTable(msg.Name)
		for name, id := range msg.Funcs {
			tbl.RawSetString(name, a.hostFunction(id))
		}
		return sp.MsgReturn, &sp.Message{}

	case sp.MsgWrap:
		return sp.MsgReturn, &sp.Message{Values: []sp.Value{a.funcValue(a.hostFunction(msg.Func))}}

	case sp.MsgStatus:
		st, err := ReadStatus()
		if err != nil {
			return a.errorReply(err, 0)
		}
		return sp.MsgReturn, &sp.Message{Status: &st}

	case sp.MsgFree:
		return sp.MsgReturn, &sp.Message{}
	}
	a.log.Warnf("unexpected %s frame from host", typ)
	return sp.MsgError, &sp.Message{Err: &sp.Error{Kind: sp.ErrKindProtocol, Message: "unexpected " + typ.String() + " frame"}}
}

func (a *Agent) call(msg *sp.Message) (sp.MsgType, *sp.Message) {
	fn, ok := a.funcs[msg.Func]
	if !ok {
		return a.errorReply(&backend.HandleNotFoundError{ID: msg.Func}, 0)
	}
	args, err := sp.DecodeAll(msg.Args, a.decodeFunc)
	if err != nil {
		return a.errorReply(err, 0)
	}
	lvs, err := a.rt.ToLuaAll(args)
	if err != nil {
		return a.errorReply(err, 0)
	}

	rets, err := a.rt.Call(fn, lvs...)
	peak := a.memory.Peak()
	if err != nil {
		return a.errorReply(err, peak)
	}
	vals, err := a.rt.FromLuaAll(rets)
	if err != nil {
		return a.errorReply(err, peak)
	}
	wire, err := sp.EncodeAll(vals, a.encodeFunc)
	if err != nil {
		return a.errorReply(err, peak)
	}
	return sp.MsgReturn, &sp.Message{Values: wire, Peak: peak}
}

func (a *Agent) errorReply(err error, peak uint64) (sp.MsgType, *sp.Message) {
	if backend.IsFatal(err) {
		a.log.WithError(err).Warn("call aborted")
	}
	return sp.MsgError, &sp.Message{Err: sp.EncodeError(err, a.encodeFunc), Peak: peak}
}

// register returns the chunk id of fn, assigning one on first sight.
func (a *Agent) register(fn *lua.LFunction) int64 {
	if id, ok := a.ids[fn]; ok {
		return id
	}
	a.next++
	a.funcs[a.next] = fn
	a.ids[fn] = a.next
	return a.next
}

func (a *Agent) funcValue(fn *lua.LFunction) sp.Value {
	return sp.Value{Kind: sp.KindFunction, ID: a.register(fn)}
}

func (a *Agent) encodeFunc(v any) (sp.Value, bool, error) {
	if ref, ok := v.(chunkRef); ok {
		return sp.Value{Kind: sp.KindFunction, ID: int64(ref)}, true, nil
	}
	return sp.Value{}, false, nil
}

// decodeFunc resolves a function reference to a script value.
func (a *Agent) decodeFunc(w sp.Value) (any, error) {
	switch w.Kind {
	case sp.KindFunction:
		fn, ok := a.funcs[w.ID]
		if !ok {
			return nil, &backend.HandleNotFoundError{ID: w.ID}
		}
		return fn, nil
	case sp.KindHostFunc:
		return a.hostFunction(w.ID), nil
	}
	return nil, fmt.Errorf("not a function reference: kind %d", w.Kind)
}

// hostFunction returns a script function that calls host function id.
func (a *Agent) hostFunction(id int64) *lua.LFunction {
	return a.rt.L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		args := make([]any, n)
		for i := 0; i < n; i++ {
			v, err := a.rt.FromLua(L.Get(i + 1))
			if err != nil {
				a.rt.Raise(err)
				return 0
			}
			args[i] = v
		}
		wargs, err := sp.EncodeAll(args, a.encodeFunc)
		if err != nil {
			a.rt.Raise(err)
			return 0
		}
		if err := sp.WriteMessage(a.w, sp.MsgCall, &sp.Message{Func: id, Args: wargs}); err != nil {
			a.lost(err)
			return 0
		}

		reply, err := a.await()
		if err != nil {
			a.rt.Raise(err)
			return 0
		}
		vals, err := sp.DecodeAll(reply.Values, a.decodeFunc)
		if err != nil {
			a.rt.Raise(err)
			return 0
		}
		lvs, err := a.rt.ToLuaAll(vals)
		if err != nil {
			a.rt.Raise(err)
			return 0
		}
		for _, lv := range lvs {
			L.Push(lv)
		}
		return len(lvs)
	})
}

// await reads until the host answers the pending callback, serving nested
// requests in between.
func (a *Agent) await() (*sp.Message, error) {
	for {
		typ, msg, err := a.read()
		if err != nil {
			a.lost(err)
			return nil, errHostLost
		}
		switch typ {
		case sp.MsgReturn:
			return msg, nil
		case sp.MsgError:
			return nil, sp.DecodeError(msg.Err, a.decodeFunc)
		case sp.MsgQuit:
			a.quit = true
			a.lost(errors.New("quit during callback"))
			return nil, errHostLost
		}
		rtyp, reply := a.dispatch(typ, msg)
		if err := sp.WriteMessage(a.w, rtyp, reply); err != nil {
			a.lost(err)
			return nil, errHostLost
		}
	}
}

func (a *Agent) lost(err error) {
	a.log.WithError(err).Error("host connection lost")
	a.rt.Interrupt(errHostLost)
	a.rt.Raise(errHostLost)
}

func (a *Agent) print(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, n)
	for i := 1; i <= n; i++ {
		parts[i-1] = L.ToStringMeta(L.Get(i)).String()
	}
	a.log.Infof("[LUA] %s", strings.Join(parts, "\t"))
	return 0
}
