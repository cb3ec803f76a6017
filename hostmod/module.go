package hostmod

import (
	_ "embed"

	"github.com/chazu/runeheart/capability"
	lua "github.com/yuin/gopher-lua"
)

// ModuleName is the name the host module registers under.
const ModuleName = "host"

//go:embed prelude.lua
var prelude string

// Module returns the host capability module. Each call returns a new value;
// the surface copies what it needs.
func Module() *capability.Module {
	return &capability.Module{
		Name: ModuleName,
		Globals: []capability.Global{
			{Name: "Direction", Doc: "Block faces: Direction.Down, Up, North, South, West, East. Direction.from(name) parses a name."},
			{Name: "EntityTarget", Doc: "Entity selectors for ctx:entities(target): EntityTarget.Single, Multi, All."},
			{Name: "Error", Doc: "Error(message) builds an error value a tick may return."},
			{Name: "find_entity", Doc: "find_entity(entities, name) returns the first entity named name, or nil."},
			{Name: "total_count", Doc: "total_count(entities, item_name) sums the count of item_name across entities."},
		},
		Install: Install,
		Prelude: prelude,
	}
}

// Install registers the module's types and globals into L.
func Install(L *lua.LState) error {
	installEnums(L)
	installRecords(L)
	installScriptError(L)
	installBridge(L)
	return nil
}
