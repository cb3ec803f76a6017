package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"

	"github.com/chazu/runeheart/engine"
	"github.com/chazu/runeheart/registry"
	"github.com/chazu/runeheart/sim"
)

const (
	// ScriptServiceName is the fully-qualified name of the ScriptService.
	ScriptServiceName = "runeheart.v1.ScriptService"

	ScriptServiceCheckProcedure          = "/runeheart.v1.ScriptService/Check"
	ScriptServiceCreateContextProcedure  = "/runeheart.v1.ScriptService/CreateContext"
	ScriptServiceSetScriptProcedure      = "/runeheart.v1.ScriptService/SetScript"
	ScriptServiceTickProcedure           = "/runeheart.v1.ScriptService/Tick"
	ScriptServiceDestroyContextProcedure = "/runeheart.v1.ScriptService/DestroyContext"
)

var errStopped = errors.New("server: worker stopped")

// ScriptService implements the ScriptService Connect handler.
type ScriptService struct {
	worker *Worker
}

// NewScriptService creates a ScriptService.
func NewScriptService(worker *Worker) *ScriptService {
	return &ScriptService{worker: worker}
}

// NewScriptServiceHandler builds an HTTP handler for every ScriptService
// procedure. It returns the path to mount it on.
func NewScriptServiceHandler(svc *ScriptService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(cborCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(ScriptServiceCheckProcedure,
		connect.NewUnaryHandler(ScriptServiceCheckProcedure, svc.Check, opts...))
	mux.Handle(ScriptServiceCreateContextProcedure,
		connect.NewUnaryHandler(ScriptServiceCreateContextProcedure, svc.CreateContext, opts...))
	mux.Handle(ScriptServiceSetScriptProcedure,
		connect.NewUnaryHandler(ScriptServiceSetScriptProcedure, svc.SetScript, opts...))
	mux.Handle(ScriptServiceTickProcedure,
		connect.NewUnaryHandler(ScriptServiceTickProcedure, svc.Tick, opts...))
	mux.Handle(ScriptServiceDestroyContextProcedure,
		connect.NewUnaryHandler(ScriptServiceDestroyContextProcedure, svc.DestroyContext, opts...))
	return "/" + ScriptServiceName + "/", mux
}

// Check compiles source and returns its diagnostics without installing it.
func (s *ScriptService) Check(
	ctx context.Context,
	req *connect.Request[CheckRequest],
) (*connect.Response[CheckResponse], error) {
	name := req.Msg.Name
	if name == "" {
		name = "<check>"
	}
	src := engine.Memory(name, req.Msg.Source)

	res, err := s.worker.Do(func(h *Host) (any, error) {
		return check(h.checker, src, req.Msg.Source), nil
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(res.(*CheckResponse)), nil
}

// check compiles src with c and reports the result.
func check(c *engine.Context, src engine.Source, text string) *CheckResponse {
	u, err := c.Compile(src)
	if err != nil {
		var derr *engine.DiagnosticError
		if errors.As(err, &derr) {
			return &CheckResponse{
				Diagnostics: toDiagnostics(derr.Diagnostics),
				Report:      derr.Report,
			}
		}
		return &CheckResponse{Diagnostics: []Diagnostic{}, Error: registry.Render(err)}
	}

	var ds engine.Diagnostics
	for _, w := range u.Warnings {
		ds.Add(w)
	}
	return &CheckResponse{
		OK:          true,
		Diagnostics: toDiagnostics(u.Warnings),
		Report:      ds.Render(text),
	}
}

// CreateContext creates an execution context bound to a fresh simulated
// world holding the request's entities.
func (s *ScriptService) CreateContext(
	ctx context.Context,
	req *connect.Request[CreateContextRequest],
) (*connect.Response[CreateContextResponse], error) {
	res, err := s.worker.Do(func(h *Host) (any, error) {
		world, err := sim.Open(ctx)
		if err != nil {
			return nil, err
		}
		if err := world.Load(ctx, req.Msg.World); err != nil {
			world.Close()
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		id, err := h.Registry.Create()
		if err != nil {
			world.Close()
			return nil, err
		}
		h.worlds[id] = &binding{world: world}
		return id, nil
	})
	if err != nil {
		return nil, connectError(err)
	}
	log.Infof("created context %s", res.(registry.Handle))
	return connect.NewResponse(&CreateContextResponse{Context: uint64(res.(registry.Handle))}), nil
}

// SetScript compiles and installs a script. Compile failures are reported
// in the response; the previous script stays active.
func (s *ScriptService) SetScript(
	ctx context.Context,
	req *connect.Request[SetScriptRequest],
) (*connect.Response[SetScriptResponse], error) {
	if req.Msg.Name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("script name is required"))
	}
	id := registry.Handle(req.Msg.Context)
	src := engine.Memory(req.Msg.Name, req.Msg.Source)

	res, err := s.worker.Do(func(h *Host) (any, error) {
		resp := &SetScriptResponse{Warnings: []Diagnostic{}}
		err := h.Registry.With(id, func(c *engine.Context) error {
			if err := c.SetActiveScript(src); err != nil {
				resp.Error = registry.Render(err)
				return nil
			}
			resp.OK = true
			resp.Warnings = toDiagnostics(c.ActiveUnit().Warnings)
			return nil
		})
		return resp, err
	})
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(res.(*SetScriptResponse)), nil
}

// Tick snapshots the context's world, runs one tick against it and returns
// the result with the moves the tick applied.
func (s *ScriptService) Tick(
	ctx context.Context,
	req *connect.Request[TickRequest],
) (*connect.Response[TickResponse], error) {
	id := registry.Handle(req.Msg.Context)

	res, err := s.worker.Do(func(h *Host) (any, error) {
		b, ok := h.worlds[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", registry.ErrUnknownContext, id)
		}
		entities, handles, err := b.world.Snapshot(ctx)
		if err != nil {
			return nil, err
		}

		resp := &TickResponse{Moves: []MoveRecord{}}
		v, err := h.Registry.Tick(id, engine.TickInput{Target: b.world, Handles: handles, Entities: entities})
		if errors.Is(err, registry.ErrUnknownContext) {
			return nil, err
		}
		if err != nil {
			resp.Error = registry.Render(err)
		} else {
			resp.Result = engine.FormatValue(v)
		}

		moves, err := b.world.MovesSince(ctx, b.seen)
		if err != nil {
			return nil, err
		}
		if len(moves) > 0 {
			b.seen = moves[len(moves)-1].ID
		}
		resp.Moves = toMoveRecords(moves)
		return resp, nil
	})
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(res.(*TickResponse)), nil
}

// DestroyContext releases a context and its world. Unknown contexts are
// ignored.
func (s *ScriptService) DestroyContext(
	ctx context.Context,
	req *connect.Request[DestroyContextRequest],
) (*connect.Response[DestroyContextResponse], error) {
	id := registry.Handle(req.Msg.Context)
	_, err := s.worker.Do(func(h *Host) (any, error) {
		h.Registry.Destroy(id)
		if b, ok := h.worlds[id]; ok {
			b.world.Close()
			delete(h.worlds, id)
		}
		return nil, nil
	})
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&DestroyContextResponse{}), nil
}

// connectError maps an error onto a Connect status.
func connectError(err error) error {
	var cerr *connect.Error
	switch {
	case errors.As(err, &cerr):
		return cerr
	case errors.Is(err, registry.ErrUnknownContext):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, errStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client calls a ScriptService over HTTP.
type Client struct {
	check   *connect.Client[CheckRequest, CheckResponse]
	create  *connect.Client[CreateContextRequest, CreateContextResponse]
	set     *connect.Client[SetScriptRequest, SetScriptResponse]
	tick    *connect.Client[TickRequest, TickResponse]
	destroy *connect.Client[DestroyContextRequest, DestroyContextResponse]
}

// NewClient creates a client for the service at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	opts = append([]connect.ClientOption{connect.WithCodec(cborCodec{})}, opts...)
	return &Client{
		check:   connect.NewClient[CheckRequest, CheckResponse](httpClient, baseURL+ScriptServiceCheckProcedure, opts...),
		create:  connect.NewClient[CreateContextRequest, CreateContextResponse](httpClient, baseURL+ScriptServiceCreateContextProcedure, opts...),
		set:     connect.NewClient[SetScriptRequest, SetScriptResponse](httpClient, baseURL+ScriptServiceSetScriptProcedure, opts...),
		tick:    connect.NewClient[TickRequest, TickResponse](httpClient, baseURL+ScriptServiceTickProcedure, opts...),
		destroy: connect.NewClient[DestroyContextRequest, DestroyContextResponse](httpClient, baseURL+ScriptServiceDestroyContextProcedure, opts...),
	}
}

func (c *Client) Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error) {
	res, err := c.check.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) CreateContext(ctx context.Context, req *CreateContextRequest) (*CreateContextResponse, error) {
	res, err := c.create.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) SetScript(ctx context.Context, req *SetScriptRequest) (*SetScriptResponse, error) {
	res, err := c.set.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) Tick(ctx context.Context, req *TickRequest) (*TickResponse, error) {
	res, err := c.tick.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) DestroyContext(ctx context.Context, req *DestroyContextRequest) (*DestroyContextResponse, error) {
	res, err := c.destroy.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}
