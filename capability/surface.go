// Package capability defines the fixed set of globals a script may reference.
//
// A Surface is assembled once from language libraries and host modules and is
// read-only afterwards. The compiler links scripts against it and every VM is
// populated from it.
package capability

import (
	"fmt"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// Global is one name a module makes visible to scripts.
type Global struct {
	Name   string
	Doc    string
	Module string
}

// Installer registers a module's types and globals into a fresh VM.
type Installer func(L *lua.LState) error

// Module is a unit of host capability. Prelude, when set, is Lua source run
// after Install in every VM; it may only define the globals the module lists.
type Module struct {
	Name    string
	Globals []Global
	Install Installer
	Prelude string
}

// Exporter is implemented by userdata values that have a plain Go
// representation. The engine uses it to copy script results out of a VM.
type Exporter interface {
	Export() any
}

// Surface is an immutable registry of everything a script may call.
type Surface struct {
	libs    []library
	modules []*Module
	globals map[string]Global
}

// NewSurface builds a surface from the named language libraries and the given
// host modules. Names must be unique across libraries and modules.
func NewSurface(libs []string, modules ...*Module) (*Surface, error) {
	s := &Surface{globals: make(map[string]Global)}

	seen := make(map[string]bool)
	for _, name := range libs {
		lib, ok := libraries[name]
		if !ok {
			return nil, fmt.Errorf("capability: unknown library %q", name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		s.libs = append(s.libs, lib)
		for _, g := range lib.globals {
			if err := s.add(Global{Name: g.Name, Doc: g.Doc, Module: name}); err != nil {
				return nil, err
			}
		}
	}

	for _, m := range modules {
		if m == nil || m.Name == "" {
			return nil, fmt.Errorf("capability: module without a name")
		}
		copied := &Module{
			Name:    m.Name,
			Globals: make([]Global, len(m.Globals)),
			Install: m.Install,
			Prelude: m.Prelude,
		}
		for i, g := range m.Globals {
			g.Module = m.Name
			copied.Globals[i] = g
			if err := s.add(g); err != nil {
				return nil, err
			}
		}
		s.modules = append(s.modules, copied)
	}

	return s, nil
}

func (s *Surface) add(g Global) error {
	if prev, ok := s.globals[g.Name]; ok {
		return fmt.Errorf("capability: global %q provided by both %q and %q", g.Name, prev.Module, g.Module)
	}
	s.globals[g.Name] = g
	return nil
}

// Provides reports whether name is a global supplied by the surface.
func (s *Surface) Provides(name string) bool {
	_, ok := s.globals[name]
	return ok
}

// Lookup returns the surface entry for name.
func (s *Surface) Lookup(name string) (Global, bool) {
	g, ok := s.globals[name]
	return g, ok
}

// Globals returns every surface global sorted by name.
func (s *Surface) Globals() []Global {
	out := make([]Global, 0, len(s.globals))
	for _, g := range s.globals {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Modules returns the host modules in installation order.
func (s *Surface) Modules() []*Module {
	out := make([]*Module, len(s.modules))
	copy(out, s.modules)
	return out
}

// Libraries returns the enabled language library names in load order.
func (s *Surface) Libraries() []string {
	out := make([]string, len(s.libs))
	for i, lib := range s.libs {
		out[i] = lib.name
	}
	return out
}

// OpenLibraries loads the enabled language libraries into L and strips the
// base functions scripts are not allowed to reach.
func (s *Surface) OpenLibraries(L *lua.LState) error {
	for _, lib := range s.libs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.luaName)); err != nil {
			return fmt.Errorf("capability: open %s library: %w", lib.name, err)
		}
		for _, name := range lib.strip {
			L.SetGlobal(name, lua.LNil)
		}
	}
	return nil
}
