package hostmod

import (
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func evalBool(t *testing.T, L *lua.LState, b *Bridge, expr string) bool {
	t.Helper()
	return lua.LVAsBool(runTick(t, L, b, "return "+expr))
}

func TestRecords_ValueSemantics(t *testing.T) {
	L := newTestState(t)
	entities := testEntities()
	copyOfChest := entities[0]
	copyOfChest.RawAccessIndex = 1
	entities = append(entities, copyOfChest)
	b := NewBridge(&recordingTarget{}, []Handle{"a", "b", "c"}, entities, 1)

	cases := []struct {
		expr string
		want bool
	}{
		{"entities[1] == entities[3]", true},
		{"entities[1] ~= entities[2]", true},
		{"entities[1].items[1] == entities[3].items[1]", true},
		{"entities[1] ~= entities[1].items[1]", true},
		{"tostring(entities[1]) == tostring(entities[3])", true},
		{"entities[1].name == 'minecraft:chest'", true},
		{"entities[1].x == 1 and entities[1].y == 2 and entities[1].z == 3", true},
		{"entities[1].pos.z == 3", true},
		{"entities[1]:count('minecraft:cobblestone') == 32", true},
		{"entities[1]:item('minecraft:dirt') == nil", true},
		{"entities[1].items[1]:has_tag('c:stones')", true},
		{"entities[1].items[1].tags[1] == 'c:stones'", true},
		{"entities[1].items[1].slot_index == nil", true},
		{"entities[1].raw_access_index == nil", true},
	}
	for _, tc := range cases {
		if got := evalBool(t, L, b, tc.expr); got != tc.want {
			t.Errorf("%s = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestRecords_ReadOnly(t *testing.T) {
	L := newTestState(t)
	b := NewBridge(&recordingTarget{}, []Handle{"a", "b"}, testEntities(), 1)
	if err := L.DoString("function f(ctx, entities) entities[1].name = 'x' end"); err != nil {
		t.Fatalf("define: %v", err)
	}
	if err := L.CallByParam(lua.P{Fn: L.GetGlobal("f"), NRet: 0, Protect: true}, b.Args(L)...); err == nil {
		t.Error("writing an entity field should raise")
	}
}

func TestRecords_FreshCopies(t *testing.T) {
	L := newTestState(t)
	b := NewBridge(&recordingTarget{}, []Handle{"a", "b"}, testEntities(), 1)
	ok := evalBool(t, L, b, `(function()
		local items = entities[1].items
		items[1] = nil
		return #entities[1].items == 1
	end)()`)
	if !ok {
		t.Error("mutating a returned items array changed the record")
	}
}

func TestDirection_RoundTrip(t *testing.T) {
	L := newTestState(t)
	for _, d := range Directions() {
		PushDirection(L, d)
		ud := L.CheckUserData(-1)
		L.Pop(1)
		v, ok := ud.Value.(*directionValue)
		if !ok || v.d != d {
			t.Errorf("round trip of %s = %+v", d, ud.Value)
		}
		if err := L.DoString(`assert(Direction.from("` + d.String() + `") == Direction.` + d.String() + `)`); err != nil {
			t.Errorf("Direction.from(%s): %v", d, err)
		}
	}
	if err := L.DoString(`assert(Direction.from("sideways") == nil)`); err != nil {
		t.Error(err)
	}
	if err := L.DoString(`assert(Direction.Up.opposite == Direction.Down)`); err != nil {
		t.Error(err)
	}
	if err := L.DoString(`Direction.Up = 1`); err == nil {
		t.Error("Direction should be read-only")
	}
}

func TestParseDirection(t *testing.T) {
	for _, d := range Directions() {
		got, ok := ParseDirection(d.String())
		if !ok || got != d {
			t.Errorf("ParseDirection(%q) = %v, %v", d.String(), got, ok)
		}
	}
	if _, ok := ParseDirection("east"); !ok {
		t.Error("ParseDirection should ignore case")
	}
	if _, ok := ParseDirection("nowhere"); ok {
		t.Error("ParseDirection(nowhere) should fail")
	}
	if East.Opposite() != West || North.Opposite() != South || Down.Opposite() != Up {
		t.Error("Opposite mismatch")
	}
}

func TestScriptError(t *testing.T) {
	L := newTestState(t)
	if err := L.DoString(`
		local e = Error("boom")
		assert(e.message == "boom")
		assert(tostring(e) == "Error: boom")
		assert(e == Error("boom"))
		assert(e ~= Error("other"))
		result = e
	`); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	ud, ok := L.GetGlobal("result").(*lua.LUserData)
	if !ok {
		t.Fatalf("result is %T", L.GetGlobal("result"))
	}
	got, ok := ud.Value.(ScriptError)
	if !ok || got.Message != "boom" {
		t.Errorf("result = %+v, want ScriptError{boom}", ud.Value)
	}
}

func TestPrelude(t *testing.T) {
	L := newTestState(t)
	entities := testEntities()
	entities[1].Items = append(entities[1].Items, entities[0].Items[0])
	b := NewBridge(&recordingTarget{}, []Handle{"a", "b"}, entities, 1)

	if got := runTick(t, L, b, `return total_count(entities, "minecraft:cobblestone")`); got != lua.LNumber(64) {
		t.Errorf("total_count = %v, want 64", got)
	}
	if got := runTick(t, L, b, `return find_entity(entities, "minecraft:barrel").z`); got != lua.LNumber(4) {
		t.Errorf("find_entity(...).z = %v, want 4", got)
	}
	if got := runTick(t, L, b, `return find_entity(entities, "minecraft:hopper")`); got != lua.LNil {
		t.Errorf("find_entity(hopper) = %v, want nil", got)
	}
}
