package server

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/chazu/runeheart/config"
)

// newTestServer starts a ScriptServer behind httptest and returns a client
// for it. Both are torn down with the test.
func newTestServer(t *testing.T, opts ...ServerOption) *Client {
	t.Helper()
	s, err := New(append([]ServerOption{WithIdleTTL(0, 0)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Stop()
	})
	return NewClient(ts.Client(), ts.URL)
}

// testWorld is an input chest holding ore and dirt next to an empty ore
// chest.
func testWorld() config.World {
	return config.World{Entities: []config.EntityDef{
		{
			Name: "input", Dimension: "overworld", Slots: 5,
			Items: []config.ItemDef{
				{Slot: 0, Name: "iron_ore", Count: 12, Tags: []string{"c:ores"}},
				{Slot: 1, Name: "dirt", Count: 64, Tags: []string{}},
			},
		},
		{Name: "ores", Dimension: "overworld", Slots: 5, Items: []config.ItemDef{}},
	}}
}

func createContext(t *testing.T, c *Client) uint64 {
	t.Helper()
	res, err := c.CreateContext(context.Background(), &CreateContextRequest{World: testWorld()})
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	if res.Context == 0 {
		t.Fatal("CreateContext returned context 0")
	}
	return res.Context
}
