package subprocess

import (
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/value"
)

// Kind tags a wire value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindString
	KindTable
	// KindFunction refers to a script function by its chunk id.
	KindFunction
	// KindHostFunc refers to a host function by its host id.
	KindHostFunc
)

// Value is a host-domain value on the wire. Strings travel as byte strings
// so that script strings need not be valid UTF-8; numbers keep NaN and the
// infinities.
type Value struct {
	Kind Kind    `cbor:"k"`
	Bool bool    `cbor:"b,omitempty"`
	Num  float64 `cbor:"n,omitempty"`
	Str  []byte  `cbor:"s,omitempty"`
	Keys []Value `cbor:"ks,omitempty"`
	Vals []Value `cbor:"vs,omitempty"`
	ID   int64   `cbor:"id,omitempty"`
}

const maxWireDepth = 200

// EncodeFunc encodes the backend-specific values of one side, such as
// function handles. ok is false for values it does not know.
type EncodeFunc func(v any) (w Value, ok bool, err error)

// DecodeFunc decodes a function reference.
type DecodeFunc func(w Value) (any, error)

// Encode converts a host-domain value.
func Encode(v any, fn EncodeFunc) (Value, error) {
	return encode(v, fn, 0)
}

// EncodeAll converts a list of values.
func EncodeAll(vs []any, fn EncodeFunc) ([]Value, error) {
	out := make([]Value, len(vs))
	for i, v := range vs {
		w, err := Encode(v, fn)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

func encode(v any, fn EncodeFunc, depth int) (Value, error) {
	if depth > maxWireDepth {
		return Value{}, &value.ArgumentError{Msg: "cannot pass circular reference"}
	}
	switch t := v.(type) {
	case nil:
		return Value{Kind: KindNil}, nil
	case bool:
		return Value{Kind: KindBool, Bool: t}, nil
	case float64:
		return Value{Kind: KindNumber, Num: t}, nil
	case float32:
		return Value{Kind: KindNumber, Num: float64(t)}, nil
	case int:
		return Value{Kind: KindNumber, Num: float64(t)}, nil
	case int64:
		return Value{Kind: KindNumber, Num: float64(t)}, nil
	case int32:
		return Value{Kind: KindNumber, Num: float64(t)}, nil
	case string:
		return Value{Kind: KindString, Str: []byte(t)}, nil
	case []byte:
		return Value{Kind: KindString, Str: t}, nil
	case []any:
		w := Value{Kind: KindTable, Keys: make([]Value, len(t)), Vals: make([]Value, len(t))}
		for i, e := range t {
			ev, err := encode(e, fn, depth+1)
			if err != nil {
				return Value{}, err
			}
			w.Keys[i] = Value{Kind: KindNumber, Num: float64(i + 1)}
			w.Vals[i] = ev
		}
		return w, nil
	case []string:
		w := Value{Kind: KindTable, Keys: make([]Value, len(t)), Vals: make([]Value, len(t))}
		for i, e := range t {
			w.Keys[i] = Value{Kind: KindNumber, Num: float64(i + 1)}
			w.Vals[i] = Value{Kind: KindString, Str: []byte(e)}
		}
		return w, nil
	case map[string]string:
		w := Value{Kind: KindTable}
		for k, e := range t {
			w.Keys = append(w.Keys, Value{Kind: KindString, Str: []byte(k)})
			w.Vals = append(w.Vals, Value{Kind: KindString, Str: []byte(e)})
		}
		return w, nil
	case map[string]any:
		w := Value{Kind: KindTable}
		for k, e := range t {
			ev, err := encode(e, fn, depth+1)
			if err != nil {
				return Value{}, err
			}
			w.Keys = append(w.Keys, Value{Kind: KindString, Str: []byte(k)})
			w.Vals = append(w.Vals, ev)
		}
		return w, nil
	case map[any]any:
		w := Value{Kind: KindTable}
		for k, e := range t {
			kv, err := encodeKey(k)
			if err != nil {
				return Value{}, err
			}
			ev, err := encode(e, fn, depth+1)
			if err != nil {
				return Value{}, err
			}
			w.Keys = append(w.Keys, kv)
			w.Vals = append(w.Vals, ev)
		}
		return w, nil
	}
	if fn != nil {
		w, ok, err := fn(v)
		if err != nil {
			return Value{}, err
		}
		if ok {
			return w, nil
		}
	}
	return Value{}, &value.ArgumentError{Msg: fmt.Sprintf("cannot pass a %T to the script", v)}
}

func encodeKey(k any) (Value, error) {
	switch t := k.(type) {
	case int64:
		return Value{Kind: KindNumber, Num: float64(t)}, nil
	case int:
		return Value{Kind: KindNumber, Num: float64(t)}, nil
	case float64:
		return Value{Kind: KindNumber, Num: t}, nil
	case string:
		return Value{Kind: KindString, Str: []byte(t)}, nil
	case bool:
		return Value{Kind: KindBool, Bool: t}, nil
	}
	return Value{}, &value.ArgumentError{Msg: fmt.Sprintf("cannot use a %T as a table key", k)}
}

// Decode converts a wire value to the host domain. Table keys are
// normalized, so colliding keys fail with a KeyCollisionError.
func Decode(w Value, fn DecodeFunc) (any, error) {
	switch w.Kind {
	case KindNil:
		return nil, nil
	case KindBool:
		return w.Bool, nil
	case KindNumber:
		return w.Num, nil
	case KindString:
		return string(w.Str), nil
	case KindTable:
		if len(w.Keys) != len(w.Vals) {
			return nil, fmt.Errorf("malformed table: %d keys, %d values", len(w.Keys), len(w.Vals))
		}
		b := value.NewBuilder(len(w.Keys))
		for i := range w.Keys {
			k, err := Decode(w.Keys[i], nil)
			if err != nil {
				return nil, err
			}
			v, err := Decode(w.Vals[i], fn)
			if err != nil {
				return nil, err
			}
			if err := b.Set(k, v); err != nil {
				return nil, err
			}
		}
		return b.Map(), nil
	case KindFunction, KindHostFunc:
		if fn == nil {
			return nil, &value.ArgumentError{Msg: "cannot use a function as a table key"}
		}
		return fn(w)
	}
	return nil, fmt.Errorf("unknown wire kind %d", w.Kind)
}

// DecodeAll converts a list of wire values.
func DecodeAll(ws []Value, fn DecodeFunc) ([]any, error) {
	out := make([]any, len(ws))
	for i, w := range ws {
		v, err := Decode(w, fn)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Error kinds.
const (
	ErrKindScript      = "script"
	ErrKindSyntax      = "syntax"
	ErrKindTimeout     = "timeout"
	ErrKindMemory      = "memory"
	ErrKindHandle      = "handle"
	ErrKindArgument    = "argument"
	ErrKindCollision   = "collision"
	ErrKindTooLarge    = "too_large"
	ErrKindUnavailable = "unavailable"
	ErrKindProtocol    = "protocol"
)

// Error is an error on the wire.
type Error struct {
	Kind    string `cbor:"kind"`
	Message string `cbor:"msg,omitempty"`
	Module  string `cbor:"module,omitempty"`
	Line    int    `cbor:"line,omitempty"`
	Trace   string `cbor:"trace,omitempty"`
	Func    string `cbor:"func,omitempty"`
	Key     string `cbor:"key,omitempty"`
	ID      int64  `cbor:"id,omitempty"`
	Limit   int64  `cbor:"limit,omitempty"`
	Value   *Value `cbor:"value,omitempty"`
}

// EncodeError converts err for the wire. Error values that cannot be
// encoded are dropped; the message survives.
func EncodeError(err error, fn EncodeFunc) *Error {
	var (
		syn *backend.SyntaxError
		se  *backend.ScriptError
		to  *backend.TimeoutError
		oom *backend.OutOfMemoryError
		hnf *backend.HandleNotFoundError
		ae  *value.ArgumentError
		kc  *value.KeyCollisionError
		tl  *value.ResultTooLargeError
	)
	switch {
	case errors.As(err, &syn):
		return &Error{Kind: ErrKindSyntax, Message: syn.Message, Module: syn.Module, Line: syn.Line}
	case errors.As(err, &to):
		return &Error{Kind: ErrKindTimeout, Message: to.Error(), Limit: int64(to.Limit)}
	case errors.As(err, &oom):
		return &Error{Kind: ErrKindMemory, Message: oom.Error(), Limit: int64(oom.Limit)}
	case errors.As(err, &hnf):
		return &Error{Kind: ErrKindHandle, Message: hnf.Error(), ID: hnf.ID}
	case errors.As(err, &kc):
		return &Error{Kind: ErrKindCollision, Message: kc.Error(), Key: kc.Key}
	case errors.As(err, &ae):
		return &Error{Kind: ErrKindArgument, Message: err.Error()}
	case errors.As(err, &tl):
		return &Error{Kind: ErrKindTooLarge, Message: tl.Error(), Func: tl.Func, Limit: int64(tl.Limit)}
	case errors.Is(err, backend.ErrStatusUnavailable):
		return &Error{Kind: ErrKindUnavailable, Message: err.Error()}
	case errors.As(err, &se):
		we := &Error{Kind: ErrKindScript, Message: se.Message, Module: se.Module, Line: se.Line, Trace: se.Trace}
		if se.Value != nil {
			if v, verr := Encode(se.Value, fn); verr == nil {
				we.Value = &v
			}
		}
		return we
	}
	return &Error{Kind: ErrKindScript, Message: err.Error()}
}

// DecodeError converts a wire error back to its typed form.
func DecodeError(e *Error, fn DecodeFunc) error {
	if e == nil {
		return &backend.ScriptError{Message: "unknown error"}
	}
	switch e.Kind {
	case ErrKindSyntax:
		return &backend.SyntaxError{ScriptError: backend.ScriptError{Message: e.Message, Module: e.Module, Line: e.Line}}
	case ErrKindTimeout:
		return &backend.TimeoutError{Limit: time.Duration(e.Limit)}
	case ErrKindMemory:
		return &backend.OutOfMemoryError{Limit: uint64(e.Limit)}
	case ErrKindHandle:
		return &backend.HandleNotFoundError{ID: e.ID}
	case ErrKindCollision:
		return &value.KeyCollisionError{Key: e.Key}
	case ErrKindArgument:
		return &value.ArgumentError{Msg: e.Message}
	case ErrKindTooLarge:
		return &value.ResultTooLargeError{Func: e.Func, Limit: int(e.Limit)}
	case ErrKindUnavailable:
		return backend.ErrStatusUnavailable
	case ErrKindProtocol:
		return fmt.Errorf("protocol error: %s", e.Message)
	}
	se := &backend.ScriptError{Message: e.Message, Module: e.Module, Line: e.Line, Trace: e.Trace}
	if e.Value != nil {
		if v, err := Decode(*e.Value, fn); err == nil {
			se.Value = v
		}
	}
	return se
}
