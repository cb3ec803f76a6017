package server

import (
	"fmt"

	"github.com/chazu/runeheart/engine"
	"github.com/chazu/runeheart/registry"
	"github.com/chazu/runeheart/sim"
)

// binding ties a context to the simulated world it ticks against. seen is
// the id of the last journaled move already reported.
type binding struct {
	world *sim.World
	seen  int64
}

// Host is the engine state owned by a Worker. It is only touched on the
// worker goroutine.
type Host struct {
	Registry *registry.Registry
	worlds   map[registry.Handle]*binding

	// checker compiles scripts for Check and the language server.
	checker *engine.Context
}

func newHost(opts []engine.Option) (*Host, error) {
	checker, err := engine.NewContext(opts...)
	if err != nil {
		return nil, err
	}
	return &Host{
		Registry: registry.New(opts...),
		worlds:   make(map[registry.Handle]*binding),
		checker:  checker,
	}, nil
}

func (h *Host) close() {
	for id, b := range h.worlds {
		b.world.Close()
		delete(h.worlds, id)
	}
	h.Registry.Close()
	h.checker.Close()
}

// request is a unit of work to be executed on the worker goroutine.
type request struct {
	fn   func(*Host) (any, error)
	done chan result
}

type result struct {
	value any
	err   error
}

// Worker serializes all engine access through a single goroutine. Script
// contexts are not safe for concurrent use; every handler goes through
// the worker.
type Worker struct {
	host     *Host
	requests chan request
	quit     chan struct{}
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker(opts ...engine.Option) (*Worker, error) {
	host, err := newHost(opts)
	if err != nil {
		return nil, err
	}
	w := &Worker{
		host:     host,
		requests: make(chan request, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			w.host.close()
			return
		}
	}
}

// execute runs fn on the host, recovering from panics.
func (w *Worker) execute(fn func(*Host) (any, error)) (res result) {
	defer func() {
		if r := recover(); r != nil {
			res = result{err: fmt.Errorf("server: worker panic: %v", r)}
		}
	}()
	v, err := fn(w.host)
	return result{value: v, err: err}
}

// Do submits fn for execution on the worker goroutine and blocks until it
// completes.
func (w *Worker) Do(fn func(*Host) (any, error)) (any, error) {
	req := request{
		fn:   fn,
		done: make(chan result, 1),
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, errStopped
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-w.quit:
		return nil, errStopped
	}
}

// Stop shuts down the worker goroutine and releases every context.
func (w *Worker) Stop() {
	close(w.quit)
}
