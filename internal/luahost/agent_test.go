package luahost

import (
	"bytes"
	"io"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	sp "github.com/seantiz/scribe/internal/backend/subprocess"
)

// hostConn plays the host side of an agent running over pipes.
type hostConn struct {
	t *testing.T
	w io.Writer
	r io.Reader
}

func startAgent(t *testing.T, opts Options) *hostConn {
	t.Helper()
	hostR, agentW := io.Pipe()
	agentR, hostW := io.Pipe()

	agent := New(agentR, agentW, opts)
	done := make(chan error, 1)
	go func() {
		done <- agent.Serve()
		agentW.Close()
	}()
	t.Cleanup(func() {
		hostW.Close()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
		agent.Close()
	})
	return &hostConn{t: t, w: hostW, r: hostR}
}

func (c *hostConn) send(typ sp.MsgType, msg *sp.Message) {
	c.t.Helper()
	if err := sp.WriteMessage(c.w, typ, msg); err != nil {
		c.t.Fatalf("WriteMessage: %v", err)
	}
}

func (c *hostConn) recv() (sp.MsgType, *sp.Message) {
	c.t.Helper()
	typ, msg, err := sp.ReadMessage(c.r)
	if err != nil {
		c.t.Fatalf("ReadMessage: %v", err)
	}
	return typ, msg
}

func (c *hostConn) load(src string) int64 {
	c.t.Helper()
	c.send(sp.MsgLoad, &sp.Message{ChunkName: "Module:Test", Source: []byte(src)})
	typ, msg := c.recv()
	if typ != sp.MsgReturn || len(msg.Values) != 1 || msg.Values[0].Kind != sp.KindFunction {
		c.t.Fatalf("load reply = %s %+v, want one function", typ, msg)
	}
	return msg.Values[0].ID
}

func num(f float64) sp.Value { return sp.Value{Kind: sp.KindNumber, Num: f} }

func str(s string) sp.Value { return sp.Value{Kind: sp.KindString, Str: []byte(s)} }

func TestLoadAndCall(t *testing.T) {
	c := startAgent(t, Options{})
	id := c.load("local x = ... return x + 1, 'ok'")

	c.send(sp.MsgCall, &sp.Message{Func: id, Args: []sp.Value{num(41)}})
	typ, msg := c.recv()
	if typ != sp.MsgReturn {
		t.Fatalf("reply type = %s, want return (err %+v)", typ, msg.Err)
	}
	if len(msg.Values) != 2 || msg.Values[0].Num != 42 || string(msg.Values[1].Str) != "ok" {
		t.Errorf("values = %+v, want [42 ok]", msg.Values)
	}
}

func TestSameFunctionKeepsID(t *testing.T) {
	c := startAgent(t, Options{})
	id := c.load("local f = function() end return f, f")
	c.send(sp.MsgCall, &sp.Message{Func: id})
	_, msg := c.recv()
	if len(msg.Values) != 2 || msg.Values[0].ID != msg.Values[1].ID {
		t.Errorf("values = %+v, want the same id twice", msg.Values)
	}
	if msg.Values[0].ID == id {
		t.Error("inner function reused the chunk id")
	}
}

func TestSyntaxErrorReply(t *testing.T) {
	c := startAgent(t, Options{})
	c.send(sp.MsgLoad, &sp.Message{ChunkName: "Module:Bad", Source: []byte("x = = 1")})
	typ, msg := c.recv()
	if typ != sp.MsgError || msg.Err.Kind != sp.ErrKindSyntax {
		t.Fatalf("reply = %s %+v, want syntax error", typ, msg.Err)
	}
	if msg.Err.Line != 1 || msg.Err.Module != "Module:Bad" {
		t.Errorf("location = %s:%d, want Module:Bad:1", msg.Err.Module, msg.Err.Line)
	}
}

func TestUnknownFunction(t *testing.T) {
	c := startAgent(t, Options{})
	c.send(sp.MsgCall, &sp.Message{Func: 99})
	typ, msg := c.recv()
	if typ != sp.MsgError || msg.Err.Kind != sp.ErrKindHandle {
		t.Fatalf("reply = %s %+v, want handle error", typ, msg.Err)
	}
	if want := "function id 99 does not exist"; msg.Err.Message != want {
		t.Errorf("message = %q, want %q", msg.Err.Message, want)
	}
}

func TestFreeThenCall(t *testing.T) {
	c := startAgent(t, Options{})
	id := c.load("return 1")

	c.send(sp.MsgFree, &sp.Message{Free: []int64{id}})
	if typ, _ := c.recv(); typ != sp.MsgReturn {
		t.Fatalf("free reply = %s, want return", typ)
	}
	c.send(sp.MsgCall, &sp.Message{Func: id})
	typ, msg := c.recv()
	if typ != sp.MsgError || msg.Err.Kind != sp.ErrKindHandle || msg.Err.ID != id {
		t.Errorf("call after free = %s %+v, want handle error for %d", typ, msg.Err, id)
	}
}

func TestFreedIDNotReused(t *testing.T) {
	c := startAgent(t, Options{})
	c.send(sp.MsgRegister, &sp.Message{Name: "mw.test", Funcs: map[string]int64{"apply": 5}})
	c.recv()
	id := c.load(`
local f = function() return 'called' end
local same = mw.test.apply(f) == f
mw.test.apply(f)
return same`)

	c.send(sp.MsgCall, &sp.Message{Func: id})
	typ, msg := c.recv()
	if typ != sp.MsgCall || len(msg.Args) != 1 || msg.Args[0].Kind != sp.KindFunction {
		t.Fatalf("first callback = %s %+v, want a function argument", typ, msg.Args)
	}
	first := msg.Args[0]
	// The frame that frees the id also hands the function back.
	c.send(sp.MsgReturn, &sp.Message{Values: []sp.Value{first}, Free: []int64{first.ID}})

	typ, msg = c.recv()
	if typ != sp.MsgCall || len(msg.Args) != 1 {
		t.Fatalf("second callback = %s %+v, want one argument", typ, msg.Args)
	}
	second := msg.Args[0]
	if second.ID == first.ID {
		t.Fatalf("second callback reused freed id %d", first.ID)
	}
	c.send(sp.MsgCall, &sp.Message{Func: second.ID})
	typ, inner := c.recv()
	if typ != sp.MsgReturn || string(inner.Values[0].Str) != "called" {
		t.Fatalf("call through new id = %s %+v, want called", typ, inner)
	}
	c.send(sp.MsgReturn, &sp.Message{Free: []int64{second.ID}})

	typ, msg = c.recv()
	if typ != sp.MsgReturn || len(msg.Values) != 1 || !msg.Values[0].Bool {
		t.Errorf("final reply = %s %+v, want true", typ, msg.Values)
	}
	c.send(sp.MsgCall, &sp.Message{Func: first.ID})
	if typ, msg := c.recv(); typ != sp.MsgError || msg.Err.Kind != sp.ErrKindHandle {
		t.Errorf("call through freed id = %s %+v, want handle error", typ, msg.Err)
	}
}

func TestHostCallback(t *testing.T) {
	c := startAgent(t, Options{})
	c.send(sp.MsgRegister, &sp.Message{Name: "mw.test", Funcs: map[string]int64{"twice": 7}})
	if typ, _ := c.recv(); typ != sp.MsgReturn {
		t.Fatalf("register reply = %s, want return", typ)
	}
	id := c.load("return mw.test.twice(21) + 0")

	c.send(sp.MsgCall, &sp.Message{Func: id})
	typ, msg := c.recv()
	if typ != sp.MsgCall || msg.Func != 7 {
		t.Fatalf("got %s for %d, want a callback to 7", typ, msg.Func)
	}
	if len(msg.Args) != 1 || msg.Args[0].Num != 21 {
		t.Fatalf("callback args = %+v, want [21]", msg.Args)
	}
	c.send(sp.MsgReturn, &sp.Message{Values: []sp.Value{num(42)}})

	typ, msg = c.recv()
	if typ != sp.MsgReturn || len(msg.Values) != 1 || msg.Values[0].Num != 42 {
		t.Errorf("final reply = %s %+v, want return 42", typ, msg.Values)
	}
}

func TestHostCallbackErrors(t *testing.T) {
	c := startAgent(t, Options{})
	c.send(sp.MsgRegister, &sp.Message{Name: "mw.test", Funcs: map[string]int64{"fail": 3}})
	c.recv()
	id := c.load("local ok, e = pcall(mw.test.fail) return ok, e")

	// A script error from the host is catchable.
	c.send(sp.MsgCall, &sp.Message{Func: id})
	c.recv()
	c.send(sp.MsgError, &sp.Message{Err: &sp.Error{Kind: sp.ErrKindScript, Message: "nope"}})
	typ, msg := c.recv()
	if typ != sp.MsgReturn || len(msg.Values) != 2 || msg.Values[0].Bool || !strings.Contains(string(msg.Values[1].Str), "nope") {
		t.Fatalf("pcall reply = %s %+v, want false, nope", typ, msg.Values)
	}

	// A timeout is not.
	c.send(sp.MsgCall, &sp.Message{Func: id})
	c.recv()
	c.send(sp.MsgError, &sp.Message{Err: &sp.Error{Kind: sp.ErrKindTimeout}})
	typ, msg = c.recv()
	if typ != sp.MsgError || msg.Err.Kind != sp.ErrKindTimeout {
		t.Errorf("reply = %s %+v, want timeout error", typ, msg.Err)
	}
}

func TestNestedRequestDuringCallback(t *testing.T) {
	c := startAgent(t, Options{})
	c.send(sp.MsgRegister, &sp.Message{Name: "mw.test", Funcs: map[string]int64{"apply": 5}})
	c.recv()
	id := c.load("return mw.test.apply(function(x) return x .. '!' end, 'hi')")

	c.send(sp.MsgCall, &sp.Message{Func: id})
	typ, msg := c.recv()
	if typ != sp.MsgCall || len(msg.Args) != 2 || msg.Args[0].Kind != sp.KindFunction {
		t.Fatalf("callback = %s %+v, want a function argument", typ, msg.Args)
	}

	// Call the script function back while the callback is pending.
	c.send(sp.MsgCall, &sp.Message{Func: msg.Args[0].ID, Args: []sp.Value{msg.Args[1]}})
	typ, inner := c.recv()
	if typ != sp.MsgReturn || string(inner.Values[0].Str) != "hi!" {
		t.Fatalf("nested reply = %s %+v, want hi!", typ, inner.Values)
	}
	c.send(sp.MsgReturn, &sp.Message{Values: inner.Values})

	typ, msg = c.recv()
	if typ != sp.MsgReturn || string(msg.Values[0].Str) != "hi!" {
		t.Errorf("final reply = %s %+v, want hi!", typ, msg.Values)
	}
}

func TestWrap(t *testing.T) {
	c := startAgent(t, Options{})
	c.send(sp.MsgWrap, &sp.Message{Func: 11})
	typ, msg := c.recv()
	if typ != sp.MsgReturn || msg.Values[0].Kind != sp.KindFunction {
		t.Fatalf("wrap reply = %s %+v", typ, msg.Values)
	}
	wrapped := msg.Values[0]

	id := c.load("local f = ... return f('x')")
	c.send(sp.MsgCall, &sp.Message{Func: id, Args: []sp.Value{wrapped}})
	typ, msg = c.recv()
	if typ != sp.MsgCall || msg.Func != 11 {
		t.Fatalf("got %s for %d, want a callback to 11", typ, msg.Func)
	}
	c.send(sp.MsgReturn, &sp.Message{Values: []sp.Value{str("y")}})
	if _, msg := c.recv(); string(msg.Values[0].Str) != "y" {
		t.Errorf("result = %+v, want y", msg.Values)
	}
}

func TestPrintGoesToLog(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New()
	logger.SetOutput(&buf)
	c := startAgent(t, Options{Log: logger})
	id := c.load("print('hello', 1) return true")
	c.send(sp.MsgCall, &sp.Message{Func: id})
	if typ, msg := c.recv(); typ != sp.MsgReturn || !msg.Values[0].Bool {
		t.Fatalf("reply = %s %+v", typ, msg)
	}
	if !strings.Contains(buf.String(), "[LUA] hello") {
		t.Errorf("log = %q, want the printed line", buf.String())
	}
}

func TestParseStat(t *testing.T) {
	line := "1234 (my (odd) cmd) S 1 1234 1234 0 -1 4194560 100 0 0 0 150 50 0 0 20 0 8 0 12345 104857600 2000\n"
	st, err := parseStat(line, 1234)
	if err != nil {
		t.Fatalf("parseStat: %v", err)
	}
	if st.CPUTicks != 200 {
		t.Errorf("CPUTicks = %d, want 200", st.CPUTicks)
	}
	if st.VSize != 104857600 {
		t.Errorf("VSize = %d, want 104857600", st.VSize)
	}
	if st.PID != 1234 {
		t.Errorf("PID = %d, want 1234", st.PID)
	}

	if _, err := parseStat("garbage", 1); err == nil {
		t.Error("parseStat(garbage) succeeded")
	}
}
