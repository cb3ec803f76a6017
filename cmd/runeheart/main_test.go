package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// project writes a runeheart.toml plus the given files into a temp dir.
func project(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	if _, ok := files["runeheart.toml"]; !ok {
		files["runeheart.toml"] = "[log]\nverbosity = -4\n"
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCheck_OK(t *testing.T) {
	dir := project(t, map[string]string{
		"main.lua": "function tick(ctx, entities)\n  local spare = 1\n  return #entities\nend\n",
	})
	code, out, errOut := runCLI("check", "-config", dir, filepath.Join(dir, "main.lua"))
	if code != 0 {
		t.Fatalf("exit = %d, stderr:\n%s", code, errOut)
	}
	if !strings.Contains(out, "unused local `spare`") {
		t.Errorf("output missing warning:\n%s", out)
	}
	if !strings.Contains(out, "ok: main.lua") {
		t.Errorf("output missing ok line:\n%s", out)
	}
}

func TestCheck_Errors(t *testing.T) {
	dir := project(t, map[string]string{
		"bad.lua": "function tick()\n  return nope\nend\n",
	})
	code, out, _ := runCLI("check", "-config", dir, filepath.Join(dir, "bad.lua"))
	if code != 1 {
		t.Errorf("exit = %d, want 1", code)
	}
	if !strings.Contains(out, "error: undefined global `nope`") || !strings.Contains(out, "bad.lua:2") {
		t.Errorf("report:\n%s", out)
	}
}

func TestCheck_Usage(t *testing.T) {
	if code, _, _ := runCLI("check"); code != 2 {
		t.Errorf("exit = %d, want 2", code)
	}
	if code, _, _ := runCLI("frobnicate"); code != 2 {
		t.Errorf("exit = %d, want 2", code)
	}
	if code, _, _ := runCLI(); code != 2 {
		t.Errorf("exit = %d, want 2", code)
	}
}

const runWorld = `
[[entity]]
name = "input"
pos = [0, 64, 0]
slots = 3

[[entity.items]]
slot = 0
name = "iron_ore"
count = 5
tags = ["c:ores"]

[[entity]]
name = "ores"
pos = [1, 64, 0]
slots = 3
`

const runScript = `
function tick(ctx, entities)
  local from = find_entity(entities, "input")
  local item = from:item("iron_ore")
  if item == nil then
    return "idle"
  end
  ctx:move_item(from, find_entity(entities, "ores"), item, Direction.East, 2)
  return item.count
end
`

func TestRun(t *testing.T) {
	dir := project(t, map[string]string{
		"world.toml": runWorld,
		"main.lua":   runScript,
	})
	code, out, errOut := runCLI("run", "-config", dir, "-ticks", "4", "-interval", "0s")
	if code != 0 {
		t.Fatalf("exit = %d, stderr:\n%s", code, errOut)
	}

	for _, want := range []string{
		"tick 1: 5",
		"input[0] -> ores (East): iron_ore x2",
		"tick 2: 3",
		"tick 3: 1",
		"tick 4: \"idle\"",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRun_MissingWorld(t *testing.T) {
	dir := project(t, map[string]string{"main.lua": runScript})
	code, _, errOut := runCLI("run", "-config", dir)
	if code != 1 || !strings.Contains(errOut, "world.toml") {
		t.Errorf("exit = %d, stderr:\n%s", code, errOut)
	}
}

func TestRun_BadScript(t *testing.T) {
	dir := project(t, map[string]string{
		"world.toml": runWorld,
		"main.lua":   "function tick( return end",
	})
	code, _, errOut := runCLI("run", "-config", dir)
	if code != 1 || !strings.Contains(errOut, "main.lua does not compile") {
		t.Errorf("exit = %d, stderr:\n%s", code, errOut)
	}
}
