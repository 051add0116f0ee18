package luart

import (
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
	lua "github.com/yuin/gopher-lua"
)

// openOS installs the os subset: clock, time, date and difftime.
func (rt *Runtime) openOS() {
	L := rt.L
	os := L.NewTable()
	L.SetFuncs(os, map[string]lua.LGFunction{
		"clock":    rt.osClock,
		"time":     osTime,
		"date":     osDate,
		"difftime": osDifftime,
	})
	L.SetGlobal("os", os)
}

func (rt *Runtime) osClock(L *lua.LState) int {
	L.Push(lua.LNumber(rt.clock().Seconds()))
	return 1
}

func osTime(L *lua.LState) int {
	if L.GetTop() == 0 || L.Get(1) == lua.LNil {
		L.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}
	tbl := L.CheckTable(1)
	field := func(name string, def int, required bool) int {
		v := tbl.RawGetString(name)
		if n, ok := v.(lua.LNumber); ok {
			return int(n)
		}
		if required {
			L.RaiseError("field '%s' missing in date table", name)
		}
		return def
	}
	t := time.Date(
		field("year", 0, true),
		time.Month(field("month", 0, true)),
		field("day", 0, true),
		field("hour", 12, false),
		field("min", 0, false),
		field("sec", 0, false),
		0, time.Local,
	)
	L.Push(lua.LNumber(t.Unix()))
	return 1
}

func osDate(L *lua.LState) int {
	format := L.OptString(1, "%c")
	t := time.Now()
	if L.GetTop() >= 2 {
		t = time.Unix(int64(L.CheckNumber(2)), 0)
	}
	if strings.HasPrefix(format, "!") {
		format = format[1:]
		t = t.UTC()
	}
	if strings.HasPrefix(format, "*t") {
		tbl := L.NewTable()
		tbl.RawSetString("year", lua.LNumber(t.Year()))
		tbl.RawSetString("month", lua.LNumber(t.Month()))
		tbl.RawSetString("day", lua.LNumber(t.Day()))
		tbl.RawSetString("hour", lua.LNumber(t.Hour()))
		tbl.RawSetString("min", lua.LNumber(t.Minute()))
		tbl.RawSetString("sec", lua.LNumber(t.Second()))
		tbl.RawSetString("wday", lua.LNumber(int(t.Weekday())+1))
		tbl.RawSetString("yday", lua.LNumber(t.YearDay()))
		tbl.RawSetString("isdst", lua.LFalse)
		L.Push(tbl)
		return 1
	}
	L.Push(lua.LString(strftime.Format(format, t)))
	return 1
}

func osDifftime(L *lua.LState) int {
	L.Push(lua.LNumber(L.CheckNumber(1) - L.OptNumber(2, 0)))
	return 1
}
