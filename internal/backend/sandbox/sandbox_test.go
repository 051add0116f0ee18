package sandbox_test

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/backend/sandbox"
	"github.com/seantiz/scribe/internal/value"
)

func newInterp(t *testing.T, cfg backend.Config) *sandbox.Interpreter {
	t.Helper()
	in := sandbox.New(cfg)
	t.Cleanup(func() { in.Close() })
	return in
}

func run(t *testing.T, in backend.Interpreter, src string, args ...any) ([]any, error) {
	t.Helper()
	fn, err := in.LoadString(src, "Module:Test")
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	return in.CallFunction(fn, args...)
}

func TestCallReturnsAllValues(t *testing.T) {
	in := newInterp(t, backend.Config{})
	got, err := run(t, in, "return 1, 'a', true, nil")
	if err != nil {
		t.Fatalf("CallFunction: %v", err)
	}
	want := []any{1.0, "a", true, nil}
	if !value.Equal(got, want) {
		t.Errorf("results = %v, want %v", got, want)
	}
}

func TestSyntaxError(t *testing.T) {
	in := newInterp(t, backend.Config{})
	_, err := in.LoadString("local x = = 1", "Module:Bad")
	var syn *backend.SyntaxError
	if !errors.As(err, &syn) {
		t.Fatalf("err = %v (%T), want *SyntaxError", err, err)
	}
	if syn.Line != 1 {
		t.Errorf("Line = %d, want 1", syn.Line)
	}
	if syn.Module != "Module:Bad" {
		t.Errorf("Module = %q, want %q", syn.Module, "Module:Bad")
	}
}

func TestRuntimeErrorLocation(t *testing.T) {
	in := newInterp(t, backend.Config{})
	_, err := run(t, in, "local x = 1\nerror('boom')")
	var se *backend.ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v (%T), want *ScriptError", err, err)
	}
	if se.Module != "Module:Test" || se.Line != 2 || se.Message != "boom" {
		t.Errorf("ScriptError = %q:%d: %q, want Module:Test:2: boom", se.Module, se.Line, se.Message)
	}
}

func TestErrorObjectTable(t *testing.T) {
	in := newInterp(t, backend.Config{})
	_, err := run(t, in, "error({code = 7})")
	var se *backend.ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *ScriptError", err)
	}
	m, ok := se.Value.(map[any]any)
	if !ok || m["code"] != 7.0 {
		t.Errorf("Value = %v, want map with code 7", se.Value)
	}
}

func TestRegisterLibraryAndHostCall(t *testing.T) {
	in := newInterp(t, backend.Config{})
	err := in.RegisterLibrary("mw.test", map[string]backend.HostFunc{
		"add": func(args []any) ([]any, error) {
			return []any{args[0].(float64) + args[1].(float64)}, nil
		},
	})
	if err != nil {
		t.Fatalf("RegisterLibrary: %v", err)
	}
	err = in.RegisterLibrary("mw.test", map[string]backend.HostFunc{
		"neg": func(args []any) ([]any, error) { return []any{-args[0].(float64)}, nil },
	})
	if err != nil {
		t.Fatalf("RegisterLibrary merge: %v", err)
	}

	got, err := run(t, in, "return mw.test.add(2, 3), mw.test.neg(4)")
	if err != nil {
		t.Fatalf("CallFunction: %v", err)
	}
	if !value.Equal(got, []any{5.0, -4.0}) {
		t.Errorf("results = %v, want [5 -4]", got)
	}
}

func TestHostErrorCatchable(t *testing.T) {
	in := newInterp(t, backend.Config{})
	in.RegisterLibrary("mw.test", map[string]backend.HostFunc{
		"fail": func([]any) ([]any, error) { return nil, errors.New("nope") },
	})
	got, err := run(t, in, "local ok, e = pcall(mw.test.fail) return ok, e")
	if err != nil {
		t.Fatalf("CallFunction: %v", err)
	}
	if got[0] != false || !strings.Contains(got[1].(string), "nope") {
		t.Errorf("pcall results = %v, want false and nope", got)
	}
}

func TestFatalHostErrorNotSwallowed(t *testing.T) {
	in := newInterp(t, backend.Config{})
	in.RegisterLibrary("mw.test", map[string]backend.HostFunc{
		"fatal": func([]any) ([]any, error) { return nil, &backend.HandleNotFoundError{ID: 3} },
	})
	_, err := run(t, in, "pcall(mw.test.fatal) return 'swallowed'")
	var hnf *backend.HandleNotFoundError
	if !errors.As(err, &hnf) {
		t.Fatalf("err = %v, want HandleNotFoundError", err)
	}

	got, err := run(t, in, "return 'next call works'")
	if err != nil || got[0] != "next call works" {
		t.Errorf("follow-up call = %v, %v", got, err)
	}
}

func TestTimeout(t *testing.T) {
	in := newInterp(t, backend.Config{CPULimit: 50 * time.Millisecond})
	_, err := run(t, in, "local ok = pcall(function() while true do end end) return 'caught'")
	var timeout *backend.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if !backend.IsFatal(err) {
		t.Error("IsFatal(timeout) = false")
	}

	_, err = run(t, in, "return 1")
	if !errors.As(err, &timeout) {
		t.Errorf("call after expiry: err = %v, want TimeoutError", err)
	}
}

func TestXpcallCannotCatchTimeout(t *testing.T) {
	in := newInterp(t, backend.Config{CPULimit: 50 * time.Millisecond})
	_, err := run(t, in, "xpcall(function() while true do end end, function(e) return e end) return 'caught'")
	var timeout *backend.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
}

func TestXpcallHandler(t *testing.T) {
	in := newInterp(t, backend.Config{})
	got, err := run(t, in, "return xpcall(function() error('x', 0) end, function(e) return 'handled ' .. e end)")
	if err != nil {
		t.Fatalf("CallFunction: %v", err)
	}
	if !value.Equal(got, []any{false, "handled x"}) {
		t.Errorf("xpcall = %v, want [false handled x]", got)
	}
	got, err = run(t, in, "return xpcall(function() return 1, 2 end, print)")
	if err != nil {
		t.Fatalf("CallFunction: %v", err)
	}
	if !value.Equal(got, []any{true, 1.0, 2.0}) {
		t.Errorf("xpcall = %v, want [true 1 2]", got)
	}
}

func TestPausedHostWorkNotCounted(t *testing.T) {
	in := newInterp(t, backend.Config{CPULimit: 50 * time.Millisecond})
	in.RegisterLibrary("mw.test", map[string]backend.HostFunc{
		"slow": func([]any) ([]any, error) {
			in.PauseUsageTimer()
			defer in.UnpauseUsageTimer()
			time.Sleep(100 * time.Millisecond)
			return []any{"done"}, nil
		},
	})
	got, err := run(t, in, "return mw.test.slow()")
	if err != nil {
		t.Fatalf("CallFunction: %v", err)
	}
	if got[0] != "done" {
		t.Errorf("result = %v, want done", got[0])
	}
}

func TestOutOfMemory(t *testing.T) {
	in := newInterp(t, backend.Config{CPULimit: 60 * time.Second, MemoryLimit: 16 << 20})
	_, err := run(t, in, `
local t = {}
for i = 1, 1e8 do
  t[i] = string.rep('x', 64) .. i
end
return #t`)
	var oom *backend.OutOfMemoryError
	if !errors.As(err, &oom) {
		t.Fatalf("err = %v, want OutOfMemoryError", err)
	}
	if err.Error() != "not enough memory" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestSpecialNumbersRoundTrip(t *testing.T) {
	in := newInterp(t, backend.Config{})
	args := []any{math.NaN(), math.Inf(1), math.Inf(-1), map[any]any{"n": math.NaN(), int64(1): "one"}}
	got, err := run(t, in, "return ...", args...)
	if err != nil {
		t.Fatalf("CallFunction: %v", err)
	}
	if !value.Equal(got, args) {
		t.Errorf("round trip = %v, want %v", got, args)
	}
}

func TestReentrantCallback(t *testing.T) {
	in := newInterp(t, backend.Config{})
	in.RegisterLibrary("mw.test", map[string]backend.HostFunc{
		"apply": func(args []any) ([]any, error) {
			fn, ok := args[0].(backend.Function)
			if !ok || !in.IsScriptFunction(fn) {
				t.Errorf("argument 1 is %T, want a script function", args[0])
				return nil, errors.New("bad callback")
			}
			return in.CallFunction(fn, args[1])
		},
	})
	got, err := run(t, in, "return mw.test.apply(function(x) return x * 2 end, 21)")
	if err != nil {
		t.Fatalf("CallFunction: %v", err)
	}
	if got[0] != 42.0 {
		t.Errorf("result = %v, want 42", got[0])
	}
}

func TestHandleLifetime(t *testing.T) {
	in := newInterp(t, backend.Config{})
	fn, err := in.LoadString("return 'alive'", "Module:Life")
	if err != nil {
		t.Fatal(err)
	}
	clone := fn.Clone()
	fn.Release()
	fn.Release()

	if got, err := in.CallFunction(clone); err != nil || got[0] != "alive" {
		t.Fatalf("call through clone = %v, %v", got, err)
	}
	var hnf *backend.HandleNotFoundError
	if _, err := in.CallFunction(fn); !errors.As(err, &hnf) {
		t.Errorf("call through released handle: err = %v, want HandleNotFoundError", err)
	}
	if _, err := in.CallFunction(fn.Clone()); !errors.As(err, &hnf) {
		t.Errorf("call through clone of released handle: err = %v, want HandleNotFoundError", err)
	}
	if _, err := run(t, in, "local f = ... return f()", fn); !errors.As(err, &hnf) {
		t.Errorf("passing released handle: err = %v, want HandleNotFoundError", err)
	}

	clone.Release()
	if _, err := in.CallFunction(clone); !errors.As(err, &hnf) {
		t.Errorf("call after releasing every handle: err = %v, want HandleNotFoundError", err)
	}
}

func TestKeyCollision(t *testing.T) {
	in := newInterp(t, backend.Config{})
	for _, src := range []string{
		"return {[0] = 'a', ['0'] = 'b'}",
		"return {[1.5] = 'a', ['1.5'] = 'b'}",
		"return {[1/0] = 'a', ['inf'] = 'b'}",
	} {
		_, err := run(t, in, src)
		var kc *value.KeyCollisionError
		if !errors.As(err, &kc) {
			t.Errorf("%s: err = %v, want KeyCollisionError", src, err)
		}
	}
}

func TestMaxIntegerStringKey(t *testing.T) {
	in := newInterp(t, backend.Config{})
	got, err := run(t, in, "return {['9223372036854775807'] = 'a', ['9223372036854775808'] = 'b'}")
	if err != nil {
		t.Fatalf("CallFunction: %v", err)
	}
	m := got[0].(map[any]any)
	if m[int64(math.MaxInt64)] != "a" {
		t.Errorf("max int key = %v, want a", m[int64(math.MaxInt64)])
	}
	if m["9223372036854775808"] != "b" {
		t.Errorf("overflowing key = %v, want b", m["9223372036854775808"])
	}
}

func TestCircularTable(t *testing.T) {
	in := newInterp(t, backend.Config{})
	_, err := run(t, in, "local t = {} t.self = t return t")
	var ae *value.ArgumentError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want ArgumentError", err)
	}
}

func TestSafeEnvironment(t *testing.T) {
	in := newInterp(t, backend.Config{})
	got, err := run(t, in, "return dofile == nil, loadfile == nil, io == nil, os.execute == nil, os.date('!%Y', 0)")
	if err != nil {
		t.Fatalf("CallFunction: %v", err)
	}
	if !value.Equal(got, []any{true, true, true, true, "1970"}) {
		t.Errorf("environment = %v", got)
	}
}

func TestProfiler(t *testing.T) {
	in := newInterp(t, backend.Config{ProfilerPeriod: time.Millisecond})
	fn, err := in.LoadString("local s = 0 for i = 1, 3e6 do s = s + i end return s", "Module:Prof")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := in.CallFunction(fn); err != nil {
		t.Fatal(err)
	}
	samples := in.ProfileSamples()
	if len(samples) == 0 {
		t.Fatal("no profile samples")
	}
	if !strings.HasPrefix(samples[0].Function, "Module:Prof") {
		t.Errorf("top sample = %q, want Module:Prof", samples[0].Function)
	}
	if in.Usage().CPU <= 0 {
		t.Error("Usage().CPU = 0 after a call")
	}
}

func TestCloseIdempotent(t *testing.T) {
	in := sandbox.New(backend.Config{})
	fn, err := in.LoadString("return 1", "x")
	if err != nil {
		t.Fatal(err)
	}
	if err := in.Close(); err != nil {
		t.Fatal(err)
	}
	if err := in.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := in.CallFunction(fn); !errors.Is(err, backend.ErrClosed) {
		t.Errorf("call after Close: err = %v, want ErrClosed", err)
	}
}
