// Package registry is the host-facing arena of execution contexts. Hosts
// refer to a context by an opaque numeric Handle across their ABI boundary;
// the engine itself keeps no global state.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/runeheart/engine"
	"github.com/chazu/runeheart/hostmod"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("runeheart.registry")

// ErrUnknownContext is returned for a handle that was never issued or has
// been destroyed.
var ErrUnknownContext = errors.New("registry: unknown context")

// Handle identifies a context. Zero is never issued.
type Handle uint64

func (h Handle) String() string { return fmt.Sprintf("ctx-%d", uint64(h)) }

// entry is one registered context. mu serializes calls into it.
type entry struct {
	mu       sync.Mutex
	ctx      *engine.Context
	dead     bool // set under mu by Destroy
	created  time.Time
	lastUsed atomic.Int64
}

func (e *entry) touch() { e.lastUsed.Store(time.Now().UnixNano()) }

// Registry maps handles to independently owned contexts.
type Registry struct {
	opts []engine.Option

	mu      sync.RWMutex
	entries map[Handle]*entry
	nextID  atomic.Uint64
}

// New returns an empty registry. opts apply to every context it creates.
func New(opts ...engine.Option) *Registry {
	return &Registry{
		opts:    opts,
		entries: make(map[Handle]*entry),
	}
}

// Create builds a new context and returns its handle. Construction errors
// are returned as is; no handle is issued for them.
func (r *Registry) Create() (Handle, error) {
	ctx, err := engine.NewContext(r.opts...)
	if err != nil {
		return 0, err
	}
	h := Handle(r.nextID.Add(1))

	e := &entry{ctx: ctx, created: time.Now()}
	e.touch()

	r.mu.Lock()
	r.entries[h] = e
	r.mu.Unlock()

	log.Debugf("created %s", h)
	return h, nil
}

// Destroy closes and forgets the context. Unknown handles are ignored.
func (r *Registry) Destroy(h Handle) {
	r.mu.Lock()
	e, ok := r.entries[h]
	delete(r.entries, h)
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	e.dead = true
	e.ctx.Close()
	e.mu.Unlock()
	log.Debugf("destroyed %s", h)
}

func (r *Registry) lookup(h Handle) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContext, h)
	}
	return e, nil
}

// With runs fn with exclusive access to the context behind h.
func (r *Registry) With(h Handle, fn func(*engine.Context) error) error {
	e, err := r.lookup(h)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		// Destroyed between lookup and lock.
		return fmt.Errorf("%w: %s", ErrUnknownContext, h)
	}
	e.touch()
	return fn(e.ctx)
}

// SetActiveScript compiles and installs src in the context behind h.
func (r *Registry) SetActiveScript(h Handle, src engine.Source) error {
	return r.With(h, func(c *engine.Context) error {
		return c.SetActiveScript(src)
	})
}

// Tick runs one tick in the context behind h.
func (r *Registry) Tick(h Handle, in engine.TickInput) (engine.Value, error) {
	var v engine.Value
	err := r.With(h, func(c *engine.Context) error {
		var err error
		v, err = c.Tick(in)
		return err
	})
	return v, err
}

// TickEncoded decodes a CBOR entity list and ticks the context behind h.
func (r *Registry) TickEncoded(h Handle, target hostmod.Target, handles []hostmod.Handle, data []byte) (engine.Value, error) {
	var v engine.Value
	err := r.With(h, func(c *engine.Context) error {
		var err error
		v, err = c.TickEncoded(target, handles, data)
		return err
	})
	return v, err
}

// Lookup reports whether h is live.
func (r *Registry) Lookup(h Handle) bool {
	_, err := r.lookup(h)
	return err == nil
}

// Len returns the number of live contexts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Sweep destroys contexts that have not been used within ttl and returns how
// many were removed.
func (r *Registry) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl).UnixNano()

	r.mu.RLock()
	var stale []Handle
	for h, e := range r.entries {
		if e.lastUsed.Load() < cutoff {
			stale = append(stale, h)
		}
	}
	r.mu.RUnlock()

	for _, h := range stale {
		r.Destroy(h)
	}
	if len(stale) > 0 {
		log.Infof("swept %d idle contexts", len(stale))
	}
	return len(stale)
}

// StartSweeper runs periodic sweeps in the background. It returns a stop
// function.
func (r *Registry) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				r.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}

// Close destroys every context.
func (r *Registry) Close() {
	r.mu.RLock()
	handles := make([]Handle, 0, len(r.entries))
	for h := range r.entries {
		handles = append(handles, h)
	}
	r.mu.RUnlock()
	for _, h := range handles {
		r.Destroy(h)
	}
}

// Render turns any error from the registry or engine into text for host
// display.
func Render(err error) string {
	if err == nil {
		return ""
	}
	var (
		derr *engine.DiagnosticError
		verr *engine.VmExecutionError
		nerr *engine.NoActiveScriptError
	)
	switch {
	case errors.As(err, &derr):
		return fmt.Sprintf("%s does not compile:\n%s", derr.Name, strings.TrimRight(derr.Report, "\n"))
	case errors.As(err, &verr):
		return fmt.Sprintf("%s failed while running: %v", verr.Script, verr.Err)
	case errors.As(err, &nerr):
		return "no script is active"
	case errors.Is(err, engine.ErrEmptyScript):
		return "the script is empty"
	case errors.Is(err, ErrUnknownContext), errors.Is(err, engine.ErrClosed):
		return "the script context no longer exists"
	}
	msg := err.Error()
	for _, prefix := range []string{"engine: ", "registry: ", "snapshot: "} {
		msg = strings.TrimPrefix(msg, prefix)
	}
	return msg
}
