package engine

import (
	"fmt"
	"strings"

	"github.com/chazu/runeheart/capability"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Runtime is derived once from a capability surface. It holds each module's
// prelude pre-compiled and is needed to build every VM that runs a unit
// linked against it.
type Runtime struct {
	surface  *capability.Surface
	entry    string
	preludes []prelude
}

type prelude struct {
	module string
	proto  *lua.FunctionProto
}

// NewRuntime compiles the module preludes of s. entry is the name units
// linked against the runtime must define.
func NewRuntime(s *capability.Surface, entry string) (*Runtime, error) {
	rt := &Runtime{surface: s, entry: entry}
	for _, m := range s.Modules() {
		if m.Prelude == "" {
			continue
		}
		proto, err := compilePrelude(m)
		if err != nil {
			return nil, &ContextError{Op: "compile prelude of module " + m.Name, Err: err}
		}
		rt.preludes = append(rt.preludes, prelude{module: m.Name, proto: proto})
	}
	return rt, nil
}

// compilePrelude parses a module prelude and checks it only defines globals
// its module declares.
func compilePrelude(m *capability.Module) (*lua.FunctionProto, error) {
	name := m.Name + ".prelude"
	chunk, err := parse.Parse(strings.NewReader(m.Prelude), name)
	if err != nil {
		return nil, err
	}
	declared := make(map[string]bool, len(m.Globals))
	for _, g := range m.Globals {
		declared[g.Name] = true
	}
	for _, g := range globalsAssigned(chunk) {
		if !declared[g] {
			return nil, fmt.Errorf("prelude defines undeclared global %q", g)
		}
	}
	return generate(chunk, name)
}

// Surface returns the surface the runtime was derived from.
func (rt *Runtime) Surface() *capability.Surface { return rt.surface }

// Entry returns the entry-point name.
func (rt *Runtime) Entry() string { return rt.entry }

// NewVM builds a VM with the surface's libraries, every module installed and
// every prelude run. The caller owns the returned state.
func (rt *Runtime) NewVM() (L *lua.LState, err error) {
	defer func() {
		if r := recover(); r != nil {
			if L != nil {
				L.Close()
			}
			L = nil
			err = &AllocError{Op: "new VM", Err: fmt.Errorf("%v", r)}
		}
	}()

	L = lua.NewState(lua.Options{SkipOpenLibs: true})
	if err := rt.surface.OpenLibraries(L); err != nil {
		L.Close()
		return nil, &ContextError{Op: "open libraries", Err: err}
	}
	for _, m := range rt.surface.Modules() {
		if m.Install == nil {
			continue
		}
		if err := m.Install(L); err != nil {
			L.Close()
			return nil, &ContextError{Op: "install module " + m.Name, Err: err}
		}
	}
	for _, p := range rt.preludes {
		L.Push(L.NewFunctionFromProto(p.proto))
		if err := L.PCall(0, 0, nil); err != nil {
			L.Close()
			return nil, &ContextError{Op: "run prelude of module " + p.module, Err: err}
		}
	}
	return L, nil
}
