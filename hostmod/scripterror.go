package hostmod

import (
	lua "github.com/yuin/gopher-lua"
)

const scriptErrorTypeName = "runeheart.Error"

// ScriptError is the error value scripts construct with Error(message). A
// tick may return one to report a problem without faulting.
type ScriptError struct {
	Message string
}

func (e ScriptError) Error() string { return e.Message }

// Export lets the engine copy a ScriptError out of a VM.
func (e ScriptError) Export() any { return e }

func checkScriptError(L *lua.LState, n int) ScriptError {
	ud := L.CheckUserData(n)
	if e, ok := ud.Value.(ScriptError); ok {
		return e
	}
	L.ArgError(n, "Error expected")
	return ScriptError{}
}

func newScriptError(L *lua.LState) int {
	var msg string
	if v := L.Get(1); v != lua.LNil {
		msg = L.ToStringMeta(v).String()
	}
	ud := L.NewUserData()
	ud.Value = ScriptError{Message: msg}
	L.SetMetatable(ud, L.GetTypeMetatable(scriptErrorTypeName))
	L.Push(ud)
	return 1
}

func installScriptError(L *lua.LState) {
	mt := L.NewTypeMetatable(scriptErrorTypeName)
	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		e := checkScriptError(L, 1)
		if L.CheckString(2) == "message" {
			L.Push(lua.LString(e.Message))
			return 1
		}
		L.Push(lua.LNil)
		return 1
	}))
	L.SetField(mt, "__newindex", L.NewFunction(rejectWrite("Error")))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString("Error: " + checkScriptError(L, 1).Message))
		return 1
	}))
	L.SetField(mt, "__eq", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(checkScriptError(L, 1) == checkScriptError(L, 2)))
		return 1
	}))
	L.SetGlobal("Error", L.NewFunction(newScriptError))
}
