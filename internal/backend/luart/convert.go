package luart

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/seantiz/scribe/internal/value"
)

const maxHostDepth = 200

// Converter holds the backend-specific parts of value conversion.
type Converter struct {
	// ScriptFunc turns a script function into a host value.
	ScriptFunc func(fn *lua.LFunction) (any, error)
	// HostValue turns a backend-specific host value, such as a function
	// handle, into a script value. ok is false for values it does not know.
	HostValue func(v any) (lv lua.LValue, ok bool, err error)
}

// FromLua converts a script value to the host domain, preserving table keys.
func (rt *Runtime) FromLua(v lua.LValue) (any, error) {
	return rt.fromLua(v, map[*lua.LTable]bool{})
}

// FromLuaAll converts a list of script values.
func (rt *Runtime) FromLuaAll(vs []lua.LValue) ([]any, error) {
	out := make([]any, len(vs))
	for i, v := range vs {
		hv, err := rt.FromLua(v)
		if err != nil {
			return nil, err
		}
		out[i] = hv
	}
	return out, nil
}

func (rt *Runtime) fromLua(v lua.LValue, seen map[*lua.LTable]bool) (any, error) {
	switch t := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(t), nil
	case lua.LNumber:
		return float64(t), nil
	case lua.LString:
		return string(t), nil
	case *lua.LFunction:
		if rt.Conv.ScriptFunc == nil {
			return nil, &value.ArgumentError{Msg: "cannot pass a function to the host"}
		}
		return rt.Conv.ScriptFunc(t)
	case *lua.LTable:
		if seen[t] {
			return nil, &value.ArgumentError{Msg: "cannot pass circular reference"}
		}
		seen[t] = true
		defer delete(seen, t)

		b := value.NewBuilder(t.Len())
		for k, e := t.Next(lua.LNil); k != lua.LNil; k, e = t.Next(k) {
			hk, err := keyFromLua(k)
			if err != nil {
				return nil, err
			}
			hv, err := rt.fromLua(e, seen)
			if err != nil {
				return nil, err
			}
			if err := b.Set(hk, hv); err != nil {
				return nil, err
			}
		}
		return b.Map(), nil
	default:
		return nil, &value.ArgumentError{Msg: fmt.Sprintf("cannot pass a %s to the host", v.Type().String())}
	}
}

func keyFromLua(k lua.LValue) (any, error) {
	switch t := k.(type) {
	case lua.LNumber:
		return float64(t), nil
	case lua.LString:
		return string(t), nil
	case lua.LBool:
		return bool(t), nil
	}
	return nil, &value.ArgumentError{Msg: fmt.Sprintf("cannot use a %s as a table key", k.Type().String())}
}

// ToLua converts a host value to a script value.
func (rt *Runtime) ToLua(v any) (lua.LValue, error) {
	return rt.toLua(v, 0)
}

// ToLuaAll converts a list of host values.
func (rt *Runtime) ToLuaAll(vs []any) ([]lua.LValue, error) {
	out := make([]lua.LValue, len(vs))
	for i, v := range vs {
		lv, err := rt.ToLua(v)
		if err != nil {
			return nil, err
		}
		out[i] = lv
	}
	return out, nil
}

func (rt *Runtime) toLua(v any, depth int) (lua.LValue, error) {
	if depth > maxHostDepth {
		return nil, &value.ArgumentError{Msg: "cannot pass circular reference"}
	}
	L := rt.L
	switch t := v.(type) {
	case nil:
		return lua.LNil, nil
	case lua.LValue:
		return t, nil
	case bool:
		return lua.LBool(t), nil
	case float64:
		return lua.LNumber(t), nil
	case float32:
		return lua.LNumber(t), nil
	case int:
		return lua.LNumber(t), nil
	case int64:
		return lua.LNumber(t), nil
	case int32:
		return lua.LNumber(t), nil
	case uint64:
		return lua.LNumber(t), nil
	case string:
		return lua.LString(t), nil
	case []byte:
		return lua.LString(t), nil
	case []any:
		tbl := L.CreateTable(len(t), 0)
		for i, e := range t {
			lv, err := rt.toLua(e, depth+1)
			if err != nil {
				return nil, err
			}
			tbl.RawSetInt(i+1, lv)
		}
		return tbl, nil
	case []string:
		tbl := L.CreateTable(len(t), 0)
		for i, e := range t {
			tbl.RawSetInt(i+1, lua.LString(e))
		}
		return tbl, nil
	case map[string]string:
		tbl := L.CreateTable(0, len(t))
		for k, e := range t {
			tbl.RawSetString(k, lua.LString(e))
		}
		return tbl, nil
	case map[string]any:
		tbl := L.CreateTable(0, len(t))
		for k, e := range t {
			lv, err := rt.toLua(e, depth+1)
			if err != nil {
				return nil, err
			}
			tbl.RawSetString(k, lv)
		}
		return tbl, nil
	case map[any]any:
		tbl := L.CreateTable(0, len(t))
		for k, e := range t {
			lk, err := keyToLua(k)
			if err != nil {
				return nil, err
			}
			lv, err := rt.toLua(e, depth+1)
			if err != nil {
				return nil, err
			}
			tbl.RawSet(lk, lv)
		}
		return tbl, nil
	}
	if rt.Conv.HostValue != nil {
		lv, ok, err := rt.Conv.HostValue(v)
		if err != nil {
			return nil, err
		}
		if ok {
			return lv, nil
		}
	}
	return nil, &value.ArgumentError{Msg: fmt.Sprintf("cannot pass a %T to the script", v)}
}

func keyToLua(k any) (lua.LValue, error) {
	switch t := k.(type) {
	case int64:
		return lua.LNumber(t), nil
	case int:
		return lua.LNumber(t), nil
	case float64:
		return lua.LNumber(t), nil
	case string:
		return lua.LString(t), nil
	case bool:
		return lua.LBool(t), nil
	}
	return nil, &value.ArgumentError{Msg: fmt.Sprintf("cannot use a %T as a table key", k)}
}
