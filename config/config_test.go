package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/runeheart/capability"
	"github.com/chazu/runeheart/engine"
	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[engine]
entry = "step"
no_script = "error"
libs = ["base", "math"]

[script]
path = "scripts/sorter.lua"
watch = true

[log]
verbosity = 2
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Engine.Entry != "step" {
		t.Errorf("entry = %q, want step", c.Engine.Entry)
	}
	if c.Engine.NoScript != "error" {
		t.Errorf("no_script = %q, want error", c.Engine.NoScript)
	}
	if diff := cmp.Diff([]string{"base", "math"}, c.Engine.Libs); diff != "" {
		t.Errorf("libs (-want +got):\n%s", diff)
	}
	if !c.Script.Watch {
		t.Error("script.watch = false, want true")
	}
	if c.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d, want 2", c.Log.Verbosity)
	}
	if got, want := c.ScriptPath(), filepath.Join(c.Dir, "scripts", "sorter.lua"); got != want {
		t.Errorf("ScriptPath = %q, want %q", got, want)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "")

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := Default()
	want.Dir = c.Dir
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("defaults (-want +got):\n%s", diff)
	}
	if c.Engine.Entry != engine.DefaultEntryPoint {
		t.Errorf("entry = %q", c.Engine.Entry)
	}
	if diff := cmp.Diff(capability.DefaultLibraries, c.Engine.Libs); diff != "" {
		t.Errorf("libs (-want +got):\n%s", diff)
	}
	if c.Log.Verbosity != 1 {
		t.Errorf("verbosity = %d, want 1", c.Log.Verbosity)
	}
}

func TestLoadConfigRejected(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad policy", "[engine]\nno_script = \"panic\"", "no_script"},
		{"bad entry", "[engine]\nentry = \"1tick\"", "entry"},
		{"unknown library", "[engine]\nlibs = [\"io\"]", "libs"},
		{"verbosity range", "[log]\nverbosity = 9", "verbosity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			_, err := Load(dir)
			if err == nil {
				t.Fatal("Load succeeded, want error")
			}
			if !strings.HasPrefix(err.Error(), "config: invalid") || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestLoadConfigParseError(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[engine\n")
	_, err := Load(dir)
	if err == nil || !strings.Contains(err.Error(), "parse error") {
		t.Errorf("err = %v, want parse error", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[script]\npath = \"main.lua\"\n")
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(sub)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c == nil {
		t.Fatal("FindAndLoad returned nil config")
	}
	abs, _ := filepath.Abs(root)
	if c.Dir != abs {
		t.Errorf("Dir = %q, want %q", c.Dir, abs)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	c, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c != nil {
		t.Skipf("found unrelated config in %s", c.Dir)
	}
}

func TestEngineOptions(t *testing.T) {
	c := Default()
	c.Engine.NoScript = "error"
	c.Engine.Entry = "step"

	ctx, err := engine.NewContext(c.Engine.Options()...)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Close()
	if ctx.EntryPoint() != "step" {
		t.Errorf("EntryPoint = %q, want step", ctx.EntryPoint())
	}
	if _, err := ctx.Tick(engine.TickInput{}); err == nil {
		t.Error("Tick with no script succeeded under the error policy")
	}
}
