// Package subprocess implements the out-of-process backend. Each interpreter
// is a scribe-luahost child speaking a framed request/response protocol over
// its stdin and stdout. Either side may serve nested requests while it
// awaits a reply, which is how script code calls host functions.
package subprocess

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/governor"
)

const (
	// DefaultLuaPath is the child binary looked up in PATH when the config
	// names none.
	DefaultLuaPath = "scribe-luahost"
	// DefaultCPULimit is used when the config sets none.
	DefaultCPULimit = 7 * time.Second

	// killGrace is how long an interrupted or broken child may take to
	// answer or exit before it is killed.
	killGrace = 2 * time.Second
	quitWait  = 2 * time.Second
)

// Environment variables read by the child.
const (
	EnvMemoryLimit = "SCRIBE_LUAHOST_MEMORY_LIMIT"
	EnvErrorFile   = "SCRIBE_LUAHOST_ERROR_FILE"
	EnvMaxString   = "SCRIBE_LUAHOST_MAX_STRING"
)

// clockTick is the unit of the CPU times in /proc/<pid>/stat.
const clockTick = 10 * time.Millisecond

// Backend spawns luahost children.
type Backend struct{}

// NewInterpreter implements backend.Backend.
func (Backend) NewInterpreter(cfg backend.Config) (backend.Interpreter, error) {
	return New(cfg)
}

// Capabilities implements backend.Backend.
func (Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:         backend.NameSubprocess,
		Description:  "scribe-luahost child process over a framed CBOR protocol",
		OutOfProcess: true,
		Status:       true,
	}
}

// Interpreter is a handle on one child process. It is not safe for
// concurrent use.
type Interpreter struct {
	id  string
	cfg backend.Config
	log *slog.Logger

	cmd     *exec.Cmd
	w       *os.File
	rfile   *os.File
	r       *bufio.Reader
	exited  chan struct{}
	waitErr error

	timer    *governor.UsageTimer
	arena    *arena
	host     map[int64]backend.HostFunc
	nextHost int64
	// transient host functions were passed as values and live until the
	// next CleanupChunks.
	transient []int64
	peak     uint64

	timedOut  atomic.Bool
	killMu    sync.Mutex
	killTimer *time.Timer

	dead   error
	closed bool
}

var (
	_ backend.Interpreter    = (*Interpreter)(nil)
	_ backend.StatusReporter = (*Interpreter)(nil)
	_ backend.ChunkCleaner   = (*Interpreter)(nil)
)

// New spawns a child. A child that exits right away is reported by the
// first request, not by New.
func New(cfg backend.Config) (*Interpreter, error) {
	path := cfg.LuaPath
	if path == "" {
		path = DefaultLuaPath
	}
	limit := cfg.CPULimit
	if limit <= 0 {
		limit = DefaultCPULimit
	}

	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		inR.Close()
		inW.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	cmd := exec.Command(path, cfg.LuaArgs...)
	cmd.Env = append(os.Environ(),
		EnvMemoryLimit+"="+strconv.FormatUint(cfg.MemoryLimit, 10),
		EnvErrorFile+"="+cfg.ErrorFile,
		EnvMaxString+"="+strconv.Itoa(cfg.MaxStringLength),
	)
	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		inR.Close()
		inW.Close()
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("start %s: %w", path, err)
	}
	// The child holds its own copies.
	inR.Close()
	outW.Close()

	in := &Interpreter{
		id:     ulid.Make().String(),
		cfg:    cfg,
		cmd:    cmd,
		w:      inW,
		rfile:  outR,
		r:      bufio.NewReader(outR),
		exited: make(chan struct{}),
		arena:  newArena(),
		host:   make(map[int64]backend.HostFunc),
	}
	in.log = cfg.Log().With("interpreter_id", in.id)
	in.timer = governor.NewUsageTimer(limit, in.expire)

	go func() {
		in.waitErr = cmd.Wait()
		close(in.exited)
	}()
	activeChildren.Inc()
	in.log.Debug("luahost child started", "pid", cmd.Process.Pid, "path", path)
	return in, nil
}

// ID returns the interpreter's instance id.
func (in *Interpreter) ID() string { return in.id }

// expire runs on the timer's goroutine when the CPU budget is spent.
func (in *Interpreter) expire() {
	in.timedOut.Store(true)
	in.log.Warn("cpu limit reached, interrupting child", "limit_ms", in.timer.Limit().Milliseconds())
	if p := in.cmd.Process; p != nil {
		_ = p.Signal(os.Interrupt)
	}
	in.killMu.Lock()
	in.killTimer = time.AfterFunc(killGrace, in.kill)
	in.killMu.Unlock()
}

func (in *Interpreter) kill() {
	select {
	case <-in.exited:
	default:
		_ = in.cmd.Process.Kill()
	}
}

func (in *Interpreter) stopKillTimer() {
	in.killMu.Lock()
	if in.killTimer != nil {
		in.killTimer.Stop()
		in.killTimer = nil
	}
	in.killMu.Unlock()
}

func (in *Interpreter) usable() error {
	if in.closed {
		return backend.ErrClosed
	}
	return in.dead
}

// fail records the child's death. Every later request returns the same
// error.
func (in *Interpreter) fail(cause error) error {
	if in.dead != nil {
		return in.dead
	}
	kind := exitExited
	select {
	case <-in.exited:
	case <-time.After(killGrace):
		_ = in.cmd.Process.Kill()
		<-in.exited
		kind = exitKilled
	}
	in.stopKillTimer()

	var err error
	if in.timedOut.Load() {
		err = &backend.TimeoutError{Limit: in.timer.Limit()}
		kind = exitKilled
	} else {
		var k string
		k, err = exitError(in.cmd.ProcessState)
		if kind != exitKilled {
			kind = k
		}
	}
	in.dead = err
	childExits.WithLabelValues(kind).Inc()
	activeChildren.Dec()
	in.log.Error("luahost child failed", "cause", cause, "error", err, "wait_error", in.waitErr)
	return err
}

func exitError(ps *os.ProcessState) (string, error) {
	if ps == nil {
		return exitExited, &backend.ProcessExitedError{Code: -1}
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return exitSignaled, &backend.ProcessSignaledError{Signal: ws.Signal()}
	}
	return exitExited, &backend.ProcessExitedError{Code: ps.ExitCode()}
}

// send writes one frame, attaching the queued frees.
func (in *Interpreter) send(typ MsgType, msg *Message) error {
	if msg == nil {
		msg = &Message{}
	}
	msg.Free = in.arena.drain()
	if err := WriteMessage(in.w, typ, msg); err != nil {
		return in.fail(err)
	}
	if n := len(msg.Free); n > 0 {
		freedHandles.Add(float64(n))
	}
	return nil
}

// request sends a request and awaits its reply, serving callbacks in
// between.
func (in *Interpreter) request(typ MsgType, msg *Message) (*Message, error) {
	if err := in.usable(); err != nil {
		return nil, err
	}
	roundTrips.WithLabelValues(typ.String()).Inc()
	if err := in.send(typ, msg); err != nil {
		return nil, err
	}
	return in.await()
}

func (in *Interpreter) await() (*Message, error) {
	for {
		typ, msg, err := ReadMessage(in.r)
		if err != nil {
			return nil, in.fail(err)
		}
		switch typ {
		case MsgReturn, MsgError:
			if msg.Peak > in.peak {
				in.peak = msg.Peak
			}
			if in.timedOut.Load() {
				in.stopKillTimer()
			}
			if typ == MsgError {
				return nil, in.decodeError(msg.Err)
			}
			return msg, nil
		case MsgCall:
			if err := in.serve(msg); err != nil {
				return nil, err
			}
		default:
			return nil, in.fail(fmt.Errorf("unexpected %s frame from child", typ))
		}
	}
}

func (in *Interpreter) decodeError(e *Error) error {
	err := DecodeError(e, in.decodeFunc)
	var (
		to  *backend.TimeoutError
		oom *backend.OutOfMemoryError
	)
	switch {
	case errors.As(err, &to):
		return &backend.TimeoutError{Limit: in.timer.Limit()}
	case errors.As(err, &oom):
		return &backend.OutOfMemoryError{Limit: in.cfg.MemoryLimit}
	}
	return err
}

// serve runs a host function on behalf of the child. Function handles among
// the arguments are borrowed for the duration of the call.
func (in *Interpreter) serve(msg *Message) error {
	fn, ok := in.host[msg.Func]
	if !ok {
		return in.send(MsgError, &Message{Err: EncodeError(&backend.HandleNotFoundError{ID: msg.Func}, nil)})
	}

	var borrowed []*function
	args, err := DecodeAll(msg.Args, func(w Value) (any, error) {
		v, err := in.decodeFunc(w)
		if f, ok := v.(*function); ok {
			borrowed = append(borrowed, f)
		}
		return v, err
	})
	var rets []any
	if err == nil {
		rets, err = func() ([]any, error) {
			in.timer.Pause()
			defer in.timer.Unpause()
			return fn(args)
		}()
	}

	var reply *Message
	typ := MsgReturn
	if err == nil {
		var vals []Value
		if vals, err = EncodeAll(rets, in.encodeFunc); err == nil {
			reply = &Message{Values: vals}
		}
	}
	if err != nil {
		typ = MsgError
		reply = &Message{Err: EncodeError(err, in.encodeFunc)}
	}
	for _, f := range borrowed {
		f.Release()
	}
	if err := in.usable(); err != nil {
		return err
	}
	return in.send(typ, reply)
}

func (in *Interpreter) addHost(fn backend.HostFunc) int64 {
	in.nextHost++
	in.host[in.nextHost] = fn
	return in.nextHost
}

func (in *Interpreter) addTransient(fn backend.HostFunc) int64 {
	id := in.addHost(fn)
	in.transient = append(in.transient, id)
	return id
}

func (in *Interpreter) encodeFunc(v any) (Value, bool, error) {
	switch t := v.(type) {
	case *function:
		if t.in != in {
			return Value{}, false, errors.New("cannot pass a function of another interpreter")
		}
		if t.released.Load() {
			return Value{}, false, &backend.HandleNotFoundError{ID: t.id}
		}
		return Value{Kind: KindFunction, ID: t.id}, true, nil
	case backend.HostFunc:
		return Value{Kind: KindHostFunc, ID: in.addTransient(t)}, true, nil
	case func([]any) ([]any, error):
		return Value{Kind: KindHostFunc, ID: in.addTransient(t)}, true, nil
	}
	return Value{}, false, nil
}

// decodeFunc turns a function reference into a new owned handle.
func (in *Interpreter) decodeFunc(w Value) (any, error) {
	switch w.Kind {
	case KindFunction:
		in.arena.acquire(w.ID)
		return &function{in: in, id: w.ID}, nil
	case KindHostFunc:
		fn, ok := in.host[w.ID]
		if !ok {
			return nil, &backend.HandleNotFoundError{ID: w.ID}
		}
		return fn, nil
	}
	return nil, fmt.Errorf("not a function reference: kind %d", w.Kind)
}

// decodeOwned decodes values handed to the caller. Handles created for a
// failed decode are released.
func (in *Interpreter) decodeOwned(ws []Value) ([]any, error) {
	var made []*function
	vals, err := DecodeAll(ws, func(w Value) (any, error) {
		v, err := in.decodeFunc(w)
		if f, ok := v.(*function); ok {
			made = append(made, f)
		}
		return v, err
	})
	if err != nil {
		for _, f := range made {
			f.Release()
		}
		return nil, err
	}
	return vals, nil
}

func (in *Interpreter) singleFunction(reply *Message) (backend.Function, error) {
	vals, err := in.decodeOwned(reply.Values)
	if err != nil {
		return nil, err
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("child returned %d values, want one function", len(vals))
	}
	f, ok := vals[0].(*function)
	if !ok {
		return nil, fmt.Errorf("child returned a %T, want a function", vals[0])
	}
	return f, nil
}

// LoadString implements backend.Interpreter.
func (in *Interpreter) LoadString(source, chunkName string) (backend.Function, error) {
	reply, err := in.request(MsgLoad, &Message{ChunkName: chunkName, Source: []byte(source)})
	if err != nil {
		return nil, err
	}
	return in.singleFunction(reply)
}

// CallFunction implements backend.Interpreter.
func (in *Interpreter) CallFunction(fn backend.Function, args ...any) ([]any, error) {
	if err := in.usable(); err != nil {
		return nil, err
	}
	f, ok := fn.(*function)
	if !ok || f.in != in {
		return nil, fmt.Errorf("subprocess: not a function of this interpreter: %T", fn)
	}
	if f.released.Load() {
		return nil, &backend.HandleNotFoundError{ID: f.id}
	}
	if in.timer.Expired() {
		return nil, &backend.TimeoutError{Limit: in.timer.Limit()}
	}
	wargs, err := EncodeAll(args, in.encodeFunc)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	leave := in.timer.Enter()
	reply, err := in.request(MsgCall, &Message{Func: f.id, Args: wargs})
	leave()
	callDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return in.decodeOwned(reply.Values)
}

// RegisterLibrary implements backend.Interpreter.
func (in *Interpreter) RegisterLibrary(name string, funcs map[string]backend.HostFunc) error {
	if err := in.usable(); err != nil {
		return err
	}
	ids := make(map[string]int64, len(funcs))
	for fname, fn := range funcs {
		ids[fname] = in.addHost(fn)
	}
	_, err := in.request(MsgRegister, &Message{Name: name, Funcs: ids})
	return err
}

// WrapHostFunction implements backend.Interpreter.
func (in *Interpreter) WrapHostFunction(fn backend.HostFunc) (backend.Function, error) {
	if err := in.usable(); err != nil {
		return nil, err
	}
	reply, err := in.request(MsgWrap, &Message{Func: in.addHost(fn)})
	if err != nil {
		return nil, err
	}
	return in.singleFunction(reply)
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

// Usage implements backend.Interpreter. CPU is the time spent awaiting the
// child outside host callbacks.
func (in *Interpreter) Usage() backend.Usage {
	return backend.Usage{
		CPU:        in.timer.Used(),
		CPULimit:   in.timer.Limit(),
		PeakMemory: in.peak,
		MemLimit:   in.cfg.MemoryLimit,
	}
}

// Status implements backend.StatusReporter.
func (in *Interpreter) Status() (backend.Status, error) {
	reply, err := in.request(MsgStatus, nil)
	if err != nil {
		return backend.Status{}, err
	}
	if reply.Status == nil {
		return backend.Status{}, backend.ErrStatusUnavailable
	}
	return backend.Status{
		CPU:   time.Duration(reply.Status.CPUTicks) * clockTick,
		VSize: reply.Status.VSize,
		PID:   reply.Status.PID,
	}, nil
}

// CleanupChunks implements backend.ChunkCleaner by flushing the free queue.
// Host functions passed as values since the last cleanup are dropped; the
// child calling one afterwards gets a HandleNotFoundError.
func (in *Interpreter) CleanupChunks() error {
	for _, id := range in.transient {
		delete(in.host, id)
	}
	in.transient = in.transient[:0]
	_, err := in.request(MsgFree, nil)
	return err
}

// HostFunctions reports how many host functions the child can call.
func (in *Interpreter) HostFunctions() int { return len(in.host) }

// Close implements backend.Interpreter. It asks the child to quit and kills
// it if it does not.
func (in *Interpreter) Close() error {
	if in.closed {
		return nil
	}
	in.closed = true
	in.timer.Stop()
	in.stopKillTimer()

	if in.dead == nil {
		kind := exitQuit
		_ = WriteMessage(in.w, MsgQuit, nil)
		in.w.Close()
		select {
		case <-in.exited:
		case <-time.After(quitWait):
			_ = in.cmd.Process.Kill()
			<-in.exited
			kind = exitKilled
		}
		childExits.WithLabelValues(kind).Inc()
		activeChildren.Dec()
	} else {
		in.w.Close()
	}
	in.rfile.Close()
	in.log.Debug("luahost child closed", "cpu_ms", in.timer.Used().Milliseconds())
	return nil
}

// function is a refcounted handle on a chunk id in the child.
type function struct {
	in       *Interpreter
	id       int64
	released atomic.Bool
}

// Clone implements backend.Function.
func (f *function) Clone() backend.Function {
	c := &function{in: f.in, id: f.id}
	if f.released.Load() {
		c.released.Store(true)
		return c
	}
	f.in.arena.acquire(f.id)
	return c
}

// Release implements backend.Function. Releasing twice is a no-op.
func (f *function) Release() {
	if f.released.CompareAndSwap(false, true) {
		f.in.arena.release(f.id)
	}
}
