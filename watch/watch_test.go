package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/runeheart/engine"
)

func writeScript(t *testing.T, path, text string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
}

// waitFor polls cond until it holds or a few seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startWatcher(t *testing.T, path string, c *engine.Context) *Watcher {
	t.Helper()
	w, err := New(path, c.SetActiveScript, WithDebounce(30*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.lua")
	writeScript(t, path, "function tick() return 1 end")

	c, err := engine.NewContext()
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.SetActiveScript(engine.Path(path)); err != nil {
		t.Fatal(err)
	}

	w := startWatcher(t, path, c)
	writeScript(t, path, "function tick() return 2 end")
	waitFor(t, "reload", func() bool { return w.Stats().Reloads >= 1 })

	v, err := c.Tick(engine.TickInput{})
	if err != nil {
		t.Fatal(err)
	}
	if v != int64(2) {
		t.Errorf("Tick = %v after reload, want 2", v)
	}
}

func TestWatcher_FailedReloadKeepsScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.lua")
	writeScript(t, path, "function tick() return 'old' end")

	c, err := engine.NewContext()
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.SetActiveScript(engine.Path(path)); err != nil {
		t.Fatal(err)
	}

	w := startWatcher(t, path, c)
	writeScript(t, path, "function tick( return")
	waitFor(t, "failed reload", func() bool { return w.Stats().Failures >= 1 })

	if w.Stats().LastErr == nil {
		t.Error("LastErr = nil after a failed reload")
	}
	v, err := c.Tick(engine.TickInput{})
	if err != nil {
		t.Fatal(err)
	}
	if v != "old" {
		t.Errorf("Tick = %v, want old", v)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.lua")
	writeScript(t, path, "function tick() end")

	calls := 0
	w, err := New(path, func(engine.Source) error { calls++; return nil }, WithDebounce(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	writeScript(t, filepath.Join(dir, "other.lua"), "x = 1")
	time.Sleep(150 * time.Millisecond)
	w.Stop()

	if calls != 0 || w.Stats().Events != 0 {
		t.Errorf("reloads = %d, events = %d; want none", calls, w.Stats().Events)
	}
}
