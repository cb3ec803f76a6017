package hostmod

import (
	"github.com/chazu/runeheart/snapshot"
	lua "github.com/yuin/gopher-lua"
)

const (
	entityTypeName = "runeheart.Entity"
	itemTypeName   = "runeheart.Item"
)

// entityRecord is the userdata payload of a script-visible Entity. gen is the
// tick generation of the bridge that produced it.
type entityRecord struct {
	snap snapshot.Entity
	gen  uint64
}

func (r *entityRecord) Export() any { return r.snap }

// itemRecord remembers which entity it was read from so the bridge can
// refuse to move an item out of some other entity.
type itemRecord struct {
	snap  snapshot.Item
	owner int64
	gen   uint64
}

func (r *itemRecord) Export() any { return r.snap }

func newEntityValue(L *lua.LState, e snapshot.Entity, gen uint64) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = &entityRecord{snap: e, gen: gen}
	L.SetMetatable(ud, L.GetTypeMetatable(entityTypeName))
	return ud
}

func newItemValue(L *lua.LState, it snapshot.Item, owner int64, gen uint64) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = &itemRecord{snap: it, owner: owner, gen: gen}
	L.SetMetatable(ud, L.GetTypeMetatable(itemTypeName))
	return ud
}

func checkEntity(L *lua.LState, n int) *entityRecord {
	ud := L.CheckUserData(n)
	if r, ok := ud.Value.(*entityRecord); ok {
		return r
	}
	L.ArgError(n, "Entity expected")
	return nil
}

func checkItem(L *lua.LState, n int) *itemRecord {
	ud := L.CheckUserData(n)
	if r, ok := ud.Value.(*itemRecord); ok {
		return r
	}
	L.ArgError(n, "Item expected")
	return nil
}

func stringArray(L *lua.LState, ss []string) *lua.LTable {
	t := L.CreateTable(len(ss), 0)
	for _, s := range ss {
		t.Append(lua.LString(s))
	}
	return t
}

// ---------------------------------------------------------------------------
// Entity
// ---------------------------------------------------------------------------

var entityMethods = map[string]lua.LGFunction{
	"item":  entityItem,
	"count": entityCount,
}

func entityItem(L *lua.LState) int {
	r := checkEntity(L, 1)
	it, ok := r.snap.Find(L.CheckString(2))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(newItemValue(L, it, r.snap.RawAccessIndex, r.gen))
	return 1
}

func entityCount(L *lua.LState) int {
	r := checkEntity(L, 1)
	L.Push(lua.LNumber(r.snap.Count(L.CheckString(2))))
	return 1
}

func entityIndex(methods *lua.LTable) lua.LGFunction {
	return func(L *lua.LState) int {
		r := checkEntity(L, 1)
		key := L.CheckString(2)
		switch key {
		case "name":
			L.Push(lua.LString(r.snap.Name))
		case "dimension":
			L.Push(lua.LString(r.snap.Dimension))
		case "x":
			L.Push(lua.LNumber(r.snap.Pos.X))
		case "y":
			L.Push(lua.LNumber(r.snap.Pos.Y))
		case "z":
			L.Push(lua.LNumber(r.snap.Pos.Z))
		case "pos":
			pos := L.CreateTable(0, 3)
			pos.RawSetString("x", lua.LNumber(r.snap.Pos.X))
			pos.RawSetString("y", lua.LNumber(r.snap.Pos.Y))
			pos.RawSetString("z", lua.LNumber(r.snap.Pos.Z))
			L.Push(pos)
		case "items":
			items := L.CreateTable(len(r.snap.Items), 0)
			for _, it := range r.snap.Items {
				items.Append(newItemValue(L, it, r.snap.RawAccessIndex, r.gen))
			}
			L.Push(items)
		default:
			L.Push(methods.RawGetString(key))
		}
		return 1
	}
}

// ---------------------------------------------------------------------------
// Item
// ---------------------------------------------------------------------------

var itemMethods = map[string]lua.LGFunction{
	"has_tag": itemHasTag,
}

func itemHasTag(L *lua.LState) int {
	r := checkItem(L, 1)
	L.Push(lua.LBool(r.snap.HasTag(L.CheckString(2))))
	return 1
}

func itemIndex(methods *lua.LTable) lua.LGFunction {
	return func(L *lua.LState) int {
		r := checkItem(L, 1)
		key := L.CheckString(2)
		switch key {
		case "name":
			L.Push(lua.LString(r.snap.Name))
		case "count":
			L.Push(lua.LNumber(r.snap.Count))
		case "tags":
			L.Push(stringArray(L, r.snap.Tags))
		default:
			L.Push(methods.RawGetString(key))
		}
		return 1
	}
}

// ---------------------------------------------------------------------------
// Installation
// ---------------------------------------------------------------------------

func rejectWrite(typeName string) lua.LGFunction {
	return func(L *lua.LState) int {
		L.RaiseError("%s is read-only", typeName)
		return 0
	}
}

func installRecords(L *lua.LState) {
	emt := L.NewTypeMetatable(entityTypeName)
	L.SetField(emt, "__index", L.NewFunction(entityIndex(L.SetFuncs(L.NewTable(), entityMethods))))
	L.SetField(emt, "__newindex", L.NewFunction(rejectWrite("Entity")))
	L.SetField(emt, "__eq", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(checkEntity(L, 1).snap.Equal(checkEntity(L, 2).snap)))
		return 1
	}))
	L.SetField(emt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString("Entity(" + checkEntity(L, 1).snap.String() + ")"))
		return 1
	}))
	L.SetField(emt, "__metatable", lua.LFalse)

	imt := L.NewTypeMetatable(itemTypeName)
	L.SetField(imt, "__index", L.NewFunction(itemIndex(L.SetFuncs(L.NewTable(), itemMethods))))
	L.SetField(imt, "__newindex", L.NewFunction(rejectWrite("Item")))
	L.SetField(imt, "__eq", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(checkItem(L, 1).snap.Equal(checkItem(L, 2).snap)))
		return 1
	}))
	L.SetField(imt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString("Item(" + checkItem(L, 1).snap.String() + ")"))
		return 1
	}))
	L.SetField(imt, "__metatable", lua.LFalse)
}
