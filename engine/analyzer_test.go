package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/yuin/gopher-lua/parse"
)

// compileDiags compiles text and returns every diagnostic it produced,
// whether or not compilation succeeded.
func compileDiags(t *testing.T, c *Context, text string) []Diagnostic {
	t.Helper()
	u, err := c.Compile(Memory("test.lua", text))
	if err == nil {
		return u.Warnings
	}
	var derr *DiagnosticError
	if !errors.As(err, &derr) {
		t.Fatalf("Compile: %v", err)
	}
	return derr.Diagnostics
}

func messages(ds []Diagnostic) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Severity.String() + ": " + d.Message
	}
	return out
}

func TestAnalyzer(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string // substrings, one per expected diagnostic
	}{
		{
			name: "clean script",
			src: `
function tick(ctx, entities)
  for i, e in ipairs(entities) do
    ctx:log(e.name)
  end
  return helper()
end
function helper() return 1 end`,
		},
		{
			name: "undefined global",
			src:  "function tick() return tock() end",
			want: []string{"error: undefined global `tock`"},
		},
		{
			name: "missing entry point",
			src:  "function tock() end",
			want: []string{"error: entry point `tick` is never defined"},
		},
		{
			name: "assign to host global",
			src:  "Direction = 1\nfunction tick() end",
			want: []string{"error: cannot assign to host-provided global `Direction`"},
		},
		{
			name: "local may shadow host global",
			src:  "function tick()\n  local print = 1\n  return print\nend",
			want: []string{"warning: local `print` shadows a host-provided global"},
		},
		{
			name: "unused local",
			src:  "function tick()\n  local a, _b = 1, 2\nend",
			want: []string{"warning: unused local `a`"},
		},
		{
			name: "unreachable after do return end",
			src:  "function tick()\n  do return 1 end\n  print('never')\nend",
			want: []string{"warning: unreachable code after line 2"},
		},
		{
			name: "unreachable after error",
			src:  "function tick()\n  error('stop')\n  print('never')\nend",
			want: []string{"warning: unreachable code after line 2"},
		},
		{
			name: "unreachable after if with returns on both branches",
			src:  "function tick(ctx, e)\n  if e then return 1 else return 2 end\n  print('never')\nend",
			want: []string{"warning: unreachable code after line 2"},
		},
		{
			name: "label after goto is reachable",
			src:  "function tick()\n  goto done\n  ::done::\nend",
		},
		{
			name: "redefined function",
			src:  "function tick() end\nfunction tick() end",
			want: []string{"warning: function `tick` redefines the one on line 1"},
		},
		{
			name: "recursive local function",
			src:  "local function fact(n) if n <= 1 then return 1 end return n * fact(n - 1) end\nfunction tick() return fact(5) end",
		},
		{
			name: "repeat condition sees body locals",
			src:  "function tick()\n  repeat local done = true until done\nend",
		},
		{
			name: "method definitions bind self",
			src:  "Counter = {}\nfunction Counter:next() return self end\nfunction tick() return Counter:next() end",
		},
		{
			name: "local used only in closure",
			src:  "function tick()\n  local n = 0\n  return function() return n end\nend",
		},
		{
			name: "global assigned later in file",
			src:  "function tick() return limit end\nlimit = 64",
		},
		{
			name: "reassigned local stays local",
			src:  "function tick()\n  local n = 0\n  for i = 1, 3 do n = n + i end\n  return n\nend\nfunction other() return n end",
			want: []string{"error: undefined global `n`"},
		},
		{
			name: "parameter reassignment is not a global",
			src:  "function tick(ctx, limit)\n  limit = limit or 1\n  return limit\nend\nfunction other() return limit end",
			want: []string{"error: undefined global `limit`"},
		},
		{
			name: "global defined through _G",
			src:  "_G.helper = function() return 1 end\n_G[\"limit\"] = 64\nfunction tick() return helper() + limit end",
		},
		{
			name: "entry point defined through _G",
			src:  "_G.tick = function(ctx, entities) return #entities end",
		},
		{
			name: "assign to host global through _G",
			src:  "_G.Direction = nil\nfunction tick() end",
			want: []string{"error: cannot assign to host-provided global `Direction`"},
		},
		{
			name: "surface library reads",
			src:  "function tick() return math.floor(string.len('abc') / 2) end",
		},
	}

	c := newTestContext(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := messages(compileDiags(t, c, tt.src))
			if len(got) != len(tt.want) {
				t.Fatalf("diagnostics = %q, want %d matching %q", got, len(tt.want), tt.want)
			}
			for i, w := range tt.want {
				if !strings.Contains(got[i], w) {
					t.Errorf("diagnostic %d = %q, want it to contain %q", i, got[i], w)
				}
			}
		})
	}
}

func TestAnalyzer_Lines(t *testing.T) {
	c := newTestContext(t)
	ds := compileDiags(t, c, "function tick()\n\n  return nope\nend")
	if len(ds) != 1 {
		t.Fatalf("diagnostics = %v", ds)
	}
	if ds[0].Pos.Line != 3 || ds[0].Pos.Source != "test.lua" {
		t.Errorf("Pos = %+v, want test.lua:3", ds[0].Pos)
	}
}

func TestCompile_SyntaxErrorPosition(t *testing.T) {
	c := newTestContext(t)
	ds := compileDiags(t, c, "function tick()\n  local x = = 1\nend")
	if len(ds) != 1 || ds[0].Severity != SeverityError {
		t.Fatalf("diagnostics = %v", ds)
	}
	if ds[0].Pos.Line != 2 {
		t.Errorf("Line = %d, want 2", ds[0].Pos.Line)
	}
	if !strings.Contains(ds[0].Message, "syntax error") {
		t.Errorf("Message = %q", ds[0].Message)
	}
}

func TestCompile_UnexpectedEOF(t *testing.T) {
	c := newTestContext(t)
	ds := compileDiags(t, c, "function tick()\n  return 1\n")
	if len(ds) != 1 {
		t.Fatalf("diagnostics = %v", ds)
	}
	if ds[0].Pos.Line != 2 {
		t.Errorf("EOF error at line %d, want the last line 2", ds[0].Pos.Line)
	}
}

func TestCompile_CodegenError(t *testing.T) {
	c := newTestContext(t)
	// Parses, but the code generator rejects a goto with no label.
	ds := compileDiags(t, c, "function tick()\n  goto nowhere\nend")
	if len(ds) != 1 || ds[0].Severity != SeverityError {
		t.Fatalf("diagnostics = %v", ds)
	}
}

func TestGlobalsAssigned(t *testing.T) {
	src := `
counter = 0
local cache = {}
function bump(step)
  local n = counter
  step = step or 1
  for i = 1, step do n = n + 1 end
  for k, v in pairs(cache) do k = v end
  cache = nil
  counter = n
  seen = true
end
_G.helper = function(x) x = 1 end
_G["limit"] = 64
local function recurse() recurse = nil end
`
	chunk, err := parse.Parse(strings.NewReader(src), "globals.lua")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"bump", "counter", "helper", "limit", "seen"}
	if diff := cmp.Diff(want, globalsAssigned(chunk)); diff != "" {
		t.Errorf("globalsAssigned mismatch (-want +got):\n%s", diff)
	}
}
