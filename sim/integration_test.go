package sim

import (
	"context"
	"testing"

	"github.com/chazu/runeheart/config"
	"github.com/chazu/runeheart/engine"
)

const sorter = `
function tick(ctx, entities)
	local from = find_entity(entities, "input")
	local to = find_entity(entities, "ores")
	local moved = 0
	for _, item in ipairs(from.items) do
		if item:has_tag("c:ores") and ctx:move_item(from, to, item, Direction.Down) then
			moved = moved + item.count
		end
	end
	return moved
end
`

func TestScriptDrivesWorld(t *testing.T) {
	w := openTestWorld(t,
		chest("input", 5,
			config.ItemDef{Slot: 0, Name: "iron_ore", Count: 12, Tags: []string{"c:ores"}},
			config.ItemDef{Slot: 1, Name: "dirt", Count: 64, Tags: []string{}},
			config.ItemDef{Slot: 2, Name: "gold_ore", Count: 3, Tags: []string{"c:ores"}},
		),
		chest("ores", 5),
	)

	c, err := engine.NewContext()
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.SetActiveScript(engine.Memory("sorter.lua", sorter)); err != nil {
		t.Fatalf("SetActiveScript: %v", err)
	}

	tick := func() engine.Value {
		entities, handles, err := w.Snapshot(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		v, err := c.Tick(engine.TickInput{Target: w, Handles: handles, Entities: entities})
		if err != nil {
			t.Fatalf("Tick: %v", err)
		}
		return v
	}

	if got := tick(); got != int64(15) {
		t.Errorf("first tick moved %v, want 15", got)
	}
	if got := tick(); got != int64(0) {
		t.Errorf("second tick moved %v, want 0", got)
	}

	moves, err := w.Moves(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(moves) != 2 || moves[0].Item != "iron_ore" || moves[1].Item != "gold_ore" {
		t.Errorf("moves = %v", moves)
	}
}
