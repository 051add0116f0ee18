package luart

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/seantiz/scribe/internal/value"
)

// strRep replaces string.rep, refusing results over the string ceiling
// before any memory is claimed.
func (rt *Runtime) strRep(L *lua.LState) int {
	s := L.CheckString(1)
	n := L.CheckInt64(2)
	if n <= 0 || s == "" {
		L.Push(lua.LString(""))
		return 1
	}
	if n > int64(rt.limits.MaxStringLength/len(s)) {
		err := &value.ResultTooLargeError{Func: "rep", Limit: rt.limits.MaxStringLength}
		L.RaiseError("%s", err.Error())
	}
	L.Push(lua.LString(strings.Repeat(s, int(n))))
	return 1
}
