package hostmod

import (
	"math"

	"github.com/chazu/runeheart/snapshot"
	"github.com/tliron/commonlog"
	lua "github.com/yuin/gopher-lua"
)

var log = commonlog.GetLogger("runeheart.host")

const bridgeTypeName = "runeheart.Bridge"

// Bridge is the call-scoped link between a script and the host for one tick.
// It resolves access indices against the handles of that tick only and is
// unusable once Invalidate has been called.
type Bridge struct {
	target  Target
	handles []Handle
	records []snapshot.Entity
	gen     uint64
	valid   bool
}

// NewBridge returns a bridge for generation gen. records[i].RawAccessIndex is
// expected to index handles; records that do not are still handed to the
// script but never resolve.
func NewBridge(target Target, handles []Handle, records []snapshot.Entity, gen uint64) *Bridge {
	return &Bridge{
		target:  target,
		handles: handles,
		records: records,
		gen:     gen,
		valid:   true,
	}
}

// Generation returns the tick generation the bridge belongs to.
func (b *Bridge) Generation() uint64 { return b.gen }

// Valid reports whether the bridge may still be used.
func (b *Bridge) Valid() bool { return b.valid }

// Invalidate drops every host reference held by the bridge. Later calls from
// a script that kept the bridge raise an error.
func (b *Bridge) Invalidate() {
	b.valid = false
	b.target = nil
	b.handles = nil
	b.records = nil
}

// Args returns the two tick arguments: the bridge itself and a fresh array
// of this tick's entity records.
func (b *Bridge) Args(L *lua.LState) []lua.LValue {
	ud := L.NewUserData()
	ud.Value = b
	L.SetMetatable(ud, L.GetTypeMetatable(bridgeTypeName))
	return []lua.LValue{ud, b.entityArray(L, len(b.records))}
}

func (b *Bridge) entityArray(L *lua.LState, n int) *lua.LTable {
	t := L.CreateTable(n, 0)
	for _, e := range b.records[:n] {
		t.Append(newEntityValue(L, e, b.gen))
	}
	return t
}

// resolve maps a record back to its host handle. It fails for records of
// another tick and for indices outside this tick's handle array.
func (b *Bridge) resolve(r *entityRecord) (Handle, bool) {
	if r.gen != b.gen {
		return nil, false
	}
	idx := r.snap.RawAccessIndex
	if idx < 0 || idx >= int64(len(b.handles)) {
		return nil, false
	}
	return b.handles[idx], true
}

func checkBridge(L *lua.LState, n int) *Bridge {
	ud := L.CheckUserData(n)
	b, ok := ud.Value.(*Bridge)
	if !ok {
		L.ArgError(n, "bridge expected")
		return nil
	}
	if !b.valid {
		L.RaiseError("bridge used after its tick returned")
	}
	return b
}

// optAmount reads the optional amount argument. A number that is not a
// count the host could move (negative, fractional, too large) is reported
// with ok false; a non-number raises.
func optAmount(L *lua.LState, n int) (amount Amount, ok bool) {
	switch v := L.Get(n).(type) {
	case *lua.LNilType:
		return Amount{}, true
	case lua.LNumber:
		f := float64(v)
		if f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
			return Amount{}, false
		}
		return AmountOf(int(f)), true
	default:
		L.ArgError(n, "number expected, got "+v.Type().String())
		return Amount{}, false
	}
}

// ---------------------------------------------------------------------------
// Script-facing methods
// ---------------------------------------------------------------------------

var bridgeMethods = map[string]lua.LGFunction{
	"move_item": bridgeMoveItem,
	"entities":  bridgeEntities,
	"log":       bridgeLog,
}

// bridgeMoveItem implements ctx:move_item(src, dst, item, face [, amount]).
// It returns true when the host performed the move and nil otherwise. The
// host is not called when src or dst does not resolve, when item was not
// read from src in this tick, or when amount is not a valid count. Wrong
// argument types and a closed bridge raise.
func bridgeMoveItem(L *lua.LState) int {
	b := checkBridge(L, 1)
	src := checkEntity(L, 2)
	dst := checkEntity(L, 3)
	item := checkItem(L, 4)
	face := checkDirection(L, 5)
	amount, valid := optAmount(L, 6)
	if !valid {
		log.Debugf("move_item: invalid amount %s", L.Get(6).String())
		L.Push(lua.LNil)
		return 1
	}

	srcHandle, ok := b.resolve(src)
	if !ok {
		log.Debugf("move_item: source %d does not resolve in generation %d", src.snap.RawAccessIndex, b.gen)
		L.Push(lua.LNil)
		return 1
	}
	dstHandle, ok := b.resolve(dst)
	if !ok {
		log.Debugf("move_item: destination %d does not resolve in generation %d", dst.snap.RawAccessIndex, b.gen)
		L.Push(lua.LNil)
		return 1
	}
	if item.gen != b.gen || item.owner != src.snap.RawAccessIndex {
		log.Debugf("move_item: %s was not read from source %d", item.snap.Name, src.snap.RawAccessIndex)
		L.Push(lua.LNil)
		return 1
	}

	if err := b.target.MoveItem(srcHandle, dstHandle, item.snap.SlotIndex, face, amount); err != nil {
		log.Debugf("move_item: host refused: %s", err)
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LTrue)
	return 1
}

func bridgeEntities(L *lua.LState) int {
	b := checkBridge(L, 1)
	target := optEntityTarget(L, 2)
	L.Push(b.entityArray(L, target.limit(len(b.records))))
	return 1
}

func bridgeLog(L *lua.LState) int {
	checkBridge(L, 1)
	log.Info(L.ToStringMeta(L.CheckAny(2)).String())
	return 0
}

func installBridge(L *lua.LState) {
	mt := L.NewTypeMetatable(bridgeTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), bridgeMethods))
	L.SetField(mt, "__newindex", L.NewFunction(rejectWrite("bridge")))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		if b, ok := ud.Value.(*Bridge); ok && b.valid {
			L.Push(lua.LString("Bridge(live)"))
		} else {
			L.Push(lua.LString("Bridge(closed)"))
		}
		return 1
	}))
	L.SetField(mt, "__metatable", lua.LFalse)
}
