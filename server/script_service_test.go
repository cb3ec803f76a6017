package server

import (
	"context"
	"errors"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"github.com/google/go-cmp/cmp"
)

const oreSorter = `
function tick(ctx, entities)
	local from = find_entity(entities, "input")
	local to = find_entity(entities, "ores")
	for _, item in ipairs(from.items) do
		if item:has_tag("c:ores") then
			ctx:move_item(from, to, item, Direction.Down)
		end
	end
	return total_count(entities, "iron_ore")
end
`

func TestCheck_Valid(t *testing.T) {
	c := newTestServer(t)
	res, err := c.Check(context.Background(), &CheckRequest{Name: "sorter.lua", Source: oreSorter})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.OK {
		t.Errorf("OK = false, report:\n%s", res.Report)
	}
	if len(res.Diagnostics) != 0 {
		t.Errorf("Diagnostics = %v, want none", res.Diagnostics)
	}
}

func TestCheck_Diagnostics(t *testing.T) {
	c := newTestServer(t)
	src := "local unused = 1\nfunction tick(ctx, entities)\n  return missing\nend\n"
	res, err := c.Check(context.Background(), &CheckRequest{Name: "bad.lua", Source: src})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.OK {
		t.Fatal("OK = true, want false")
	}
	want := []Diagnostic{
		{Severity: "error", Message: "undefined global `missing`", Line: 3},
		{Severity: "warning", Message: "unused local `unused`", Line: 1},
	}
	if diff := cmp.Diff(want, res.Diagnostics); diff != "" {
		t.Errorf("Diagnostics (-want +got):\n%s", diff)
	}
	if !strings.Contains(res.Report, "bad.lua:3") {
		t.Errorf("Report missing position:\n%s", res.Report)
	}
}

func TestCheck_Empty(t *testing.T) {
	c := newTestServer(t)
	res, err := c.Check(context.Background(), &CheckRequest{Name: "e.lua"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.OK || res.Error != "the script is empty" {
		t.Errorf("Check(empty) = %+v", res)
	}
}

func TestScriptLifecycle(t *testing.T) {
	c := newTestServer(t)
	ctx := context.Background()
	id := createContext(t, c)

	set, err := c.SetScript(ctx, &SetScriptRequest{Context: id, Name: "sorter.lua", Source: oreSorter})
	if err != nil {
		t.Fatalf("SetScript: %v", err)
	}
	if !set.OK {
		t.Fatalf("SetScript failed: %s", set.Error)
	}

	tick, err := c.Tick(ctx, &TickRequest{Context: id})
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if tick.Error != "" {
		t.Fatalf("Tick error: %s", tick.Error)
	}
	// The result is computed from the snapshot taken before the move.
	if tick.Result != "12" {
		t.Errorf("Result = %q, want 12", tick.Result)
	}
	want := []MoveRecord{{From: "input", To: "ores", Slot: 0, Face: "Down", Item: "iron_ore", Count: 12}}
	if diff := cmp.Diff(want, tick.Moves); diff != "" {
		t.Errorf("Moves (-want +got):\n%s", diff)
	}

	tick, err = c.Tick(ctx, &TickRequest{Context: id})
	if err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	if len(tick.Moves) != 0 {
		t.Errorf("second tick moves = %v, want none", tick.Moves)
	}

	if _, err := c.DestroyContext(ctx, &DestroyContextRequest{Context: id}); err != nil {
		t.Fatalf("DestroyContext: %v", err)
	}
	_, err = c.Tick(ctx, &TickRequest{Context: id})
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("Tick after destroy err = %v, want NotFound", err)
	}
}

func TestSetScript_FailureKeepsPrevious(t *testing.T) {
	c := newTestServer(t)
	ctx := context.Background()
	id := createContext(t, c)

	if res, err := c.SetScript(ctx, &SetScriptRequest{Context: id, Name: "a.lua", Source: "function tick() return 'a' end"}); err != nil || !res.OK {
		t.Fatalf("SetScript a = %+v, %v", res, err)
	}
	res, err := c.SetScript(ctx, &SetScriptRequest{Context: id, Name: "b.lua", Source: "function tick( return end"})
	if err != nil {
		t.Fatalf("SetScript b: %v", err)
	}
	if res.OK || !strings.HasPrefix(res.Error, "b.lua does not compile:") {
		t.Errorf("SetScript b = %+v", res)
	}

	tick, err := c.Tick(ctx, &TickRequest{Context: id})
	if err != nil {
		t.Fatal(err)
	}
	if tick.Result != `"a"` {
		t.Errorf("Result = %q, want \"a\"", tick.Result)
	}
}

func TestSetScript_Warnings(t *testing.T) {
	c := newTestServer(t)
	id := createContext(t, c)

	res, err := c.SetScript(context.Background(), &SetScriptRequest{
		Context: id,
		Name:    "w.lua",
		Source:  "function tick(ctx, entities)\n  local spare = 1\n  return 0\nend\n",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || len(res.Warnings) != 1 || res.Warnings[0].Line != 2 {
		t.Errorf("SetScript = %+v, want one warning on line 2", res)
	}
}

func TestTick_RuntimeErrorReported(t *testing.T) {
	c := newTestServer(t)
	ctx := context.Background()
	id := createContext(t, c)

	if _, err := c.SetScript(ctx, &SetScriptRequest{Context: id, Name: "boom.lua", Source: "function tick() error('jammed') end"}); err != nil {
		t.Fatal(err)
	}
	tick, err := c.Tick(ctx, &TickRequest{Context: id})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tick.Error, "jammed") {
		t.Errorf("Error = %q, want mention of jammed", tick.Error)
	}
}

func TestUnknownContext(t *testing.T) {
	c := newTestServer(t)
	_, err := c.SetScript(context.Background(), &SetScriptRequest{Context: 77, Name: "x.lua", Source: "function tick() end"})
	var cerr *connect.Error
	if !errors.As(err, &cerr) || cerr.Code() != connect.CodeNotFound {
		t.Errorf("err = %v, want NotFound", err)
	}

	// Destroying an unknown context is not an error.
	if _, err := c.DestroyContext(context.Background(), &DestroyContextRequest{Context: 77}); err != nil {
		t.Errorf("DestroyContext(unknown) = %v", err)
	}
}

func TestCreateContext_InvalidWorld(t *testing.T) {
	c := newTestServer(t)
	w := testWorld()
	w.Entities[0].Items[1].Slot = 0 // duplicate slot

	_, err := c.CreateContext(context.Background(), &CreateContextRequest{World: w})
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("err = %v, want InvalidArgument", err)
	}
}
