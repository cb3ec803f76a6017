// Package server exposes execution contexts over the network: a Connect
// ScriptService carrying CBOR messages, and an LSP language server for
// script editing.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/runeheart/engine"
)

var log = commonlog.GetLogger("runeheart.server")

// ScriptServer serves the ScriptService over HTTP.
type ScriptServer struct {
	worker *Worker
	mux    *http.ServeMux
	http   *http.Server

	stopSweeper func()
}

// ServerOption configures a ScriptServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	engineOpts  []engine.Option
	handlerOpts []connect.HandlerOption
	sweepEvery  time.Duration
	idleTTL     time.Duration
}

// WithEngineOptions sets the options every context is created with.
func WithEngineOptions(opts ...engine.Option) ServerOption {
	return func(c *serverConfig) { c.engineOpts = append(c.engineOpts, opts...) }
}

// WithHandlerOptions adds Connect handler options, such as interceptors.
func WithHandlerOptions(opts ...connect.HandlerOption) ServerOption {
	return func(c *serverConfig) { c.handlerOpts = append(c.handlerOpts, opts...) }
}

// WithIdleTTL destroys contexts unused for ttl, checking every interval.
// A zero ttl disables sweeping.
func WithIdleTTL(interval, ttl time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.sweepEvery = interval
		c.idleTTL = ttl
	}
}

// New creates a ScriptServer.
func New(opts ...ServerOption) (*ScriptServer, error) {
	cfg := &serverConfig{
		sweepEvery: 5 * time.Minute,
		idleTTL:    30 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	worker, err := NewWorker(cfg.engineOpts...)
	if err != nil {
		return nil, err
	}

	s := &ScriptServer{
		worker: worker,
		mux:    http.NewServeMux(),
	}
	path, handler := NewScriptServiceHandler(NewScriptService(worker), cfg.handlerOpts...)
	s.mux.Handle(path, handler)

	if cfg.idleTTL > 0 {
		s.stopSweeper = s.startSweeper(cfg.sweepEvery, cfg.idleTTL)
	}
	return s, nil
}

// startSweeper periodically destroys idle contexts on the worker goroutine,
// closing their worlds as well.
func (s *ScriptServer) startSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.worker.Do(func(h *Host) (any, error) {
					h.Registry.Sweep(ttl)
					for id, b := range h.worlds {
						if !h.Registry.Lookup(id) {
							b.world.Close()
							delete(h.worlds, id)
						}
					}
					return nil, nil
				})
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}

// Handler returns the HTTP handler serving every procedure.
func (s *ScriptServer) Handler() http.Handler {
	return s.mux
}

// Worker returns the worker owning the server's contexts.
func (s *ScriptServer) Worker() *Worker {
	return s.worker
}

// ListenAndServe starts the HTTP server on the given address. It returns
// nil after Shutdown.
func (s *ScriptServer) ListenAndServe(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.mux}
	log.Noticef("script server listening on %s", addr)
	log.Infof("  Connect (CBOR): http://%s%s", addr, ScriptServiceCheckProcedure)
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *ScriptServer) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Stop shuts down the worker and every context.
func (s *ScriptServer) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.worker.Stop()
}
