package hostmod

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Direction is one of the six axis-aligned faces of a block.
type Direction uint8

const (
	Down Direction = iota
	Up
	North
	South
	West
	East
)

var directionNames = [...]string{"Down", "Up", "North", "South", "West", "East"}

// Directions returns every direction in declaration order.
func Directions() []Direction {
	return []Direction{Down, Up, North, South, West, East}
}

func (d Direction) String() string {
	if int(d) < len(directionNames) {
		return directionNames[d]
	}
	return "Direction(?)"
}

// Valid reports whether d is one of the six declared values.
func (d Direction) Valid() bool {
	return int(d) < len(directionNames)
}

// Opposite returns the face on the other side of the block.
func (d Direction) Opposite() Direction {
	return d ^ 1
}

// ParseDirection maps a name to a Direction, ignoring case.
func ParseDirection(name string) (Direction, bool) {
	for i, n := range directionNames {
		if strings.EqualFold(n, name) {
			return Direction(i), true
		}
	}
	return 0, false
}

// EntityTarget selects how many entities a query addresses.
type EntityTarget uint8

const (
	Single EntityTarget = iota
	Multi
	All
)

var entityTargetNames = [...]string{"Single", "Multi", "All"}

func (t EntityTarget) String() string {
	if int(t) < len(entityTargetNames) {
		return entityTargetNames[t]
	}
	return "EntityTarget(?)"
}

// limit returns how many of n records the target selects.
func (t EntityTarget) limit(n int) int {
	if t == Single && n > 1 {
		return 1
	}
	return n
}

// ---------------------------------------------------------------------------
// Lua mapping
// ---------------------------------------------------------------------------

const (
	directionTypeName    = "runeheart.Direction"
	entityTargetTypeName = "runeheart.EntityTarget"
)

// directionValue is the userdata payload for a Direction.
type directionValue struct{ d Direction }

func (v *directionValue) Export() any { return v.d }

type entityTargetValue struct{ t EntityTarget }

func (v *entityTargetValue) Export() any { return v.t }

// PushDirection pushes d as a script value.
func PushDirection(L *lua.LState, d Direction) {
	L.Push(newDirection(L, d))
}

func newDirection(L *lua.LState, d Direction) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = &directionValue{d: d}
	L.SetMetatable(ud, L.GetTypeMetatable(directionTypeName))
	return ud
}

func newEntityTarget(L *lua.LState, t EntityTarget) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = &entityTargetValue{t: t}
	L.SetMetatable(ud, L.GetTypeMetatable(entityTargetTypeName))
	return ud
}

// checkDirection returns the Direction at stack index n or raises an
// argument error.
func checkDirection(L *lua.LState, n int) Direction {
	ud := L.CheckUserData(n)
	if v, ok := ud.Value.(*directionValue); ok {
		return v.d
	}
	L.ArgError(n, "Direction expected")
	return 0
}

// optEntityTarget returns the EntityTarget at n, or All when absent.
func optEntityTarget(L *lua.LState, n int) EntityTarget {
	if L.Get(n) == lua.LNil {
		return All
	}
	ud := L.CheckUserData(n)
	if v, ok := ud.Value.(*entityTargetValue); ok {
		return v.t
	}
	L.ArgError(n, "EntityTarget expected")
	return All
}

func installEnums(L *lua.LState) {
	dmt := L.NewTypeMetatable(directionTypeName)
	L.SetField(dmt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString("Direction." + checkDirection(L, 1).String()))
		return 1
	}))
	L.SetField(dmt, "__eq", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(checkDirection(L, 1) == checkDirection(L, 2)))
		return 1
	}))
	L.SetField(dmt, "__index", L.NewFunction(func(L *lua.LState) int {
		d := checkDirection(L, 1)
		switch L.CheckString(2) {
		case "name":
			L.Push(lua.LString(d.String()))
		case "opposite":
			L.Push(newDirection(L, d.Opposite()))
		default:
			L.Push(lua.LNil)
		}
		return 1
	}))

	dirs := L.NewTable()
	for _, d := range Directions() {
		dirs.RawSetString(d.String(), newDirection(L, d))
	}
	dirs.RawSetString("from", L.NewFunction(func(L *lua.LState) int {
		d, ok := ParseDirection(L.CheckString(1))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		PushDirection(L, d)
		return 1
	}))
	L.SetGlobal("Direction", readOnly(L, dirs, "Direction"))

	tmt := L.NewTypeMetatable(entityTargetTypeName)
	L.SetField(tmt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		v, ok := ud.Value.(*entityTargetValue)
		if !ok {
			L.ArgError(1, "EntityTarget expected")
		}
		L.Push(lua.LString("EntityTarget." + v.t.String()))
		return 1
	}))
	L.SetField(tmt, "__eq", L.NewFunction(func(L *lua.LState) int {
		a, _ := L.CheckUserData(1).Value.(*entityTargetValue)
		b, _ := L.CheckUserData(2).Value.(*entityTargetValue)
		L.Push(lua.LBool(a != nil && b != nil && a.t == b.t))
		return 1
	}))

	targets := L.NewTable()
	for i, name := range entityTargetNames {
		targets.RawSetString(name, newEntityTarget(L, EntityTarget(i)))
	}
	L.SetGlobal("EntityTarget", readOnly(L, targets, "EntityTarget"))
}

// readOnly wraps t in a proxy table whose writes raise.
func readOnly(L *lua.LState, t *lua.LTable, name string) *lua.LTable {
	proxy := L.NewTable()
	mt := L.NewTable()
	L.SetField(mt, "__index", t)
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("%s is read-only", name)
		return 0
	}))
	L.SetMetatable(proxy, mt)
	return proxy
}
