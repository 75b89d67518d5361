package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dusk-indust/legacylens/internal/orchestrator"
)

// Server exposes a Handler over HTTP: JSON-RPC on POST /rpc, task events
// as Server-Sent Events, health and Prometheus metrics.
type Server struct {
	handler  Handler
	tasks    Tasks
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	extra    map[string]http.Handler
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithGatherer serves metrics from g on /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) { s.gatherer = g }
}

// WithServerLogger sets the request logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithRoute mounts h at pattern, for example the MCP endpoint.
func WithRoute(pattern string, h http.Handler) ServerOption {
	return func(s *Server) { s.extra[pattern] = h }
}

// NewServer creates a Server. tasks provides health counts and the event
// stream.
func NewServer(handler Handler, tasks Tasks, opts ...ServerOption) *Server {
	s := &Server{
		handler: handler,
		tasks:   tasks,
		logger:  slog.Default(),
		extra:   make(map[string]http.Handler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rpc", s.handleJSONRPC)
	mux.HandleFunc("GET /tasks/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	for pattern, h := range s.extra {
		mux.Handle(pattern, h)
	}
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("rpc server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("rpc: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleJSONRPC processes incoming JSON-RPC 2.0 requests and dispatches
// them to the handler.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONRPCError(w, nil, ErrCodeParse, "Parse error: "+err.Error())
		return
	}
	if req.JSONRPC != JSONRPCVersion || req.Method == "" {
		writeJSONRPCError(w, req.ID, ErrCodeInvalidRequest, "Invalid request")
		return
	}

	ctx := r.Context()
	switch req.Method {
	case MethodSubmitTask:
		dispatch(ctx, w, &req, s.handler.SubmitTask)
	case MethodGetTask:
		dispatch(ctx, w, &req, s.handler.GetTask)
	case MethodListTasks:
		dispatch(ctx, w, &req, s.handler.ListTasks)
	case MethodRequestSummary:
		dispatch(ctx, w, &req, s.handler.RequestSummary)
	case MethodAssessImpact:
		dispatch(ctx, w, &req, s.handler.AssessImpact)
	default:
		writeJSONRPCError(w, req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
		return
	}
	s.logger.Debug("rpc request", "method", req.Method)
}

// dispatch unmarshals params into P and calls fn.
func dispatch[P, R any](ctx context.Context, w http.ResponseWriter, req *JSONRPCRequest, fn func(context.Context, P) (R, error)) {
	var params P
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSONRPCError(w, req.ID, ErrCodeInvalidParams, "Invalid params: "+err.Error())
			return
		}
	}
	result, err := fn(ctx, params)
	if err != nil {
		writeJSONRPCError(w, req.ID, errorCode(err), err.Error())
		return
	}
	writeJSONRPCResult(w, req.ID, result)
}

// handleEvents streams the events of one task until it is terminal.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	reporter := s.tasks.Reporter()
	if reporter == nil {
		http.Error(w, "task events are not enabled", http.StatusServiceUnavailable)
		return
	}
	// Subscribe before reading the snapshot so no transition is missed.
	events, cancel := reporter.Subscribe(256)
	defer cancel()

	rec, err := s.tasks.GetTask(id)
	var nf *orchestrator.NotFoundError
	if errors.As(err, &nf) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sw := NewSSEWriter(w)
	sw.Init()
	snapshot := orchestrator.TaskEvent{
		Kind:    orchestrator.EventStatus,
		TaskID:  id,
		Status:  rec.Status,
		Stage:   rec.Stage,
		Attempt: rec.Context.Attempt(),
		At:      time.Now().UTC(),
	}
	if err := sw.WriteEvent(snapshot); err != nil || rec.Status.IsTerminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.TaskID != id {
				continue
			}
			if err := sw.WriteEvent(ev); err != nil {
				return
			}
			if ev.Kind == orchestrator.EventStatus && ev.Status.IsTerminal() {
				return
			}
		}
	}
}

// Health is the body of GET /healthz.
type Health struct {
	Status string             `json:"status"`
	Tasks  orchestrator.Stats `json:"tasks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(Health{Status: "ok", Tasks: s.tasks.Stats()}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeJSONRPCResult writes a successful JSON-RPC response.
func writeJSONRPCResult(w http.ResponseWriter, id any, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		writeJSONRPCError(w, id, ErrCodeInternal, "Failed to marshal result: "+err.Error())
		return
	}
	json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  data,
	})
}

// writeJSONRPCError writes a JSON-RPC error response.
func writeJSONRPCError(w http.ResponseWriter, id any, code int, message string) {
	json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
	})
}
