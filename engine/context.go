// Package engine compiles scripts against a capability surface and runs
// their per-tick entry point against host snapshots.
//
// A Context owns one surface, the runtime derived from it, and at most one
// active script. Replacing the active script either fully succeeds or leaves
// the previous one running; a failed tick never disturbs it. A Context is
// not safe for concurrent use.
package engine

import (
	"fmt"
	"io"

	"github.com/chazu/runeheart/capability"
	"github.com/chazu/runeheart/hostmod"
	"github.com/chazu/runeheart/snapshot"
	"github.com/tliron/commonlog"
	lua "github.com/yuin/gopher-lua"
)

var log = commonlog.GetLogger("runeheart.engine")

// DefaultEntryPoint is the function a script must define to be ticked.
const DefaultEntryPoint = "tick"

// NoScriptPolicy decides what Tick does when no script is active.
type NoScriptPolicy int

const (
	// NoScriptIdle treats a missing script as an idle tick: (nil, nil).
	NoScriptIdle NoScriptPolicy = iota
	// NoScriptError returns *NoActiveScriptError.
	NoScriptError
)

func (p NoScriptPolicy) String() string {
	switch p {
	case NoScriptIdle:
		return "idle"
	case NoScriptError:
		return "error"
	default:
		return fmt.Sprintf("NoScriptPolicy(%d)", int(p))
	}
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Option configures a Context.
type Option func(*options)

type options struct {
	entry    string
	policy   NoScriptPolicy
	libs     []string
	modules  []*capability.Module
	diagOut  io.Writer
	hostless bool
}

// WithEntryPoint sets the name of the per-tick function.
func WithEntryPoint(name string) Option {
	return func(o *options) { o.entry = name }
}

// WithNoScriptPolicy sets what Tick does without an active script.
func WithNoScriptPolicy(p NoScriptPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithLibraries replaces the default set of language libraries.
func WithLibraries(libs ...string) Option {
	return func(o *options) { o.libs = append([]string(nil), libs...) }
}

// WithModule adds a capability module next to the host module.
func WithModule(m *capability.Module) Option {
	return func(o *options) { o.modules = append(o.modules, m) }
}

// WithDiagnosticsOutput writes every failing diagnostic report to w.
func WithDiagnosticsOutput(w io.Writer) Option {
	return func(o *options) { o.diagOut = w }
}

// withoutHostModule leaves the host module out of the surface. Tests use it
// to exercise bare surfaces.
func withoutHostModule() Option {
	return func(o *options) { o.hostless = true }
}

// ---------------------------------------------------------------------------
// Context
// ---------------------------------------------------------------------------

// ActiveScript pairs an installed unit with the VM it runs in.
type ActiveScript struct {
	unit  *Unit
	vm    *lua.LState
	entry *lua.LFunction
}

// Unit returns the installed unit.
func (a *ActiveScript) Unit() *Unit { return a.unit }

// Context is a long-lived execution context.
type Context struct {
	opts    options
	surface *capability.Surface
	runtime *Runtime
	active  *ActiveScript
	gen     uint64
	closed  bool
}

// TickInput is what the host supplies for one tick. Handles[i] is the host
// object behind the entity whose access index is i.
type TickInput struct {
	Target   hostmod.Target
	Handles  []hostmod.Handle
	Entities []snapshot.Entity
}

// NewContext builds the capability surface and shared runtime and proves
// that a VM can be built from them.
func NewContext(opts ...Option) (*Context, error) {
	o := options{
		entry:  DefaultEntryPoint,
		policy: NoScriptIdle,
		libs:   capability.DefaultLibraries,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.entry == "" {
		return nil, &ContextError{Op: "resolve entry point", Err: fmt.Errorf("entry point name is empty")}
	}

	var modules []*capability.Module
	if !o.hostless {
		modules = append(modules, hostmod.Module())
	}
	modules = append(modules, o.modules...)

	surface, err := capability.NewSurface(o.libs, modules...)
	if err != nil {
		return nil, &ContextError{Op: "build surface", Err: err}
	}
	rt, err := NewRuntime(surface, o.entry)
	if err != nil {
		return nil, err
	}

	probe, err := rt.NewVM()
	if err != nil {
		return nil, err
	}
	probe.Close()

	log.Debugf("context ready: libraries %v, %d modules, entry %q", surface.Libraries(), len(modules), o.entry)
	return &Context{opts: o, surface: surface, runtime: rt}, nil
}

// Surface returns the capability surface scripts are linked against.
func (c *Context) Surface() *capability.Surface { return c.surface }

// Runtime returns the shared runtime.
func (c *Context) Runtime() *Runtime { return c.runtime }

// EntryPoint returns the name of the per-tick function.
func (c *Context) EntryPoint() string { return c.opts.entry }

// Generation returns the number of ticks run against an active script.
func (c *Context) Generation() uint64 { return c.gen }

// Compile compiles src against the context's runtime without touching the
// active script.
func (c *Context) Compile(src Source) (*Unit, error) {
	var copts []CompileOption
	if c.opts.diagOut != nil {
		copts = append(copts, EmitTo(c.opts.diagOut))
	}
	return Compile(src, c.runtime, copts...)
}

// SetActiveScript compiles src and installs it. On any error the previous
// active script stays in place.
func (c *Context) SetActiveScript(src Source) error {
	u, err := c.Compile(src)
	if err != nil {
		return err
	}
	return c.Install(u)
}

// Install builds a fresh VM for u, runs its main chunk, resolves the entry
// point and only then replaces the active script.
func (c *Context) Install(u *Unit) error {
	if c.closed {
		return ErrClosed
	}
	if u.runtime != c.runtime {
		return &BuildError{Name: u.Name, Err: errForeignRuntime}
	}

	L, err := c.runtime.NewVM()
	if err != nil {
		return err
	}
	L.Push(L.NewFunctionFromProto(u.Proto))
	if err := L.PCall(0, 0, nil); err != nil {
		L.Close()
		return &VmExecutionError{Script: u.Name, Err: err}
	}
	entry, ok := L.GetGlobal(c.opts.entry).(*lua.LFunction)
	if !ok {
		L.Close()
		return &BuildError{Name: u.Name, Err: fmt.Errorf("%w: %s is %s", errEntryNotFunc, c.opts.entry, L.GetGlobal(c.opts.entry).Type())}
	}

	prev := c.active
	c.active = &ActiveScript{unit: u, vm: L, entry: entry}
	if prev != nil {
		prev.vm.Close()
	}
	for _, w := range u.Warnings {
		log.Warningf("%s", w)
	}
	log.Infof("installed %s (%s)", u.Name, u.Digest()[:12])
	return nil
}

// ActiveUnit returns the installed unit, or nil.
func (c *Context) ActiveUnit() *Unit {
	if c.active == nil {
		return nil
	}
	return c.active.unit
}

// HasActiveScript reports whether a script is installed.
func (c *Context) HasActiveScript() bool { return c.active != nil }

// Tick calls the entry point of the active script with a bridge for this
// tick and the entity records. The bridge is invalidated before Tick
// returns, so nothing the script keeps can reach the host afterwards.
func (c *Context) Tick(in TickInput) (Value, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if c.active == nil {
		if c.opts.policy == NoScriptError {
			return nil, &NoActiveScriptError{}
		}
		return nil, nil
	}

	target := in.Target
	if target == nil {
		target = hostmod.TargetFunc(func(hostmod.Handle, hostmod.Handle, int64, hostmod.Direction, hostmod.Amount) error {
			return errNoTarget
		})
	}

	c.gen++
	bridge := hostmod.NewBridge(target, in.Handles, in.Entities, c.gen)
	defer bridge.Invalidate()

	a := c.active
	L := a.vm
	top := L.GetTop()
	if err := L.CallByParam(lua.P{Fn: a.entry, NRet: 1, Protect: true}, bridge.Args(L)...); err != nil {
		L.SetTop(top)
		return nil, &VmExecutionError{Script: a.unit.Name, Entry: c.opts.entry, Err: err}
	}
	ret := L.Get(-1)
	L.SetTop(top)

	v, err := exportValue(ret)
	if err != nil {
		return nil, &VmExecutionError{Script: a.unit.Name, Entry: c.opts.entry, Err: err}
	}
	log.Debugf("tick %d of %s: %d entities, result %s", c.gen, a.unit.Name, len(in.Entities), FormatValue(v))
	return v, nil
}

// TickEncoded decodes a CBOR entity list and ticks with it.
func (c *Context) TickEncoded(target hostmod.Target, handles []hostmod.Handle, data []byte) (Value, error) {
	entities, err := snapshot.Decode(data)
	if err != nil {
		return nil, err
	}
	return c.Tick(TickInput{Target: target, Handles: handles, Entities: entities})
}

// Close releases the active script's VM. Install and Tick fail with
// ErrClosed afterwards.
func (c *Context) Close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.active != nil {
		c.active.vm.Close()
		c.active = nil
	}
}
