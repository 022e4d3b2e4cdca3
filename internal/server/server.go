package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/jpalmerr/itemstore/internal/store"
)

const (
	// streamWriteTimeout is the maximum time allowed for a single SSE or
	// WebSocket write. This prevents goroutine leaks when clients are slow or
	// disconnected. Must be <= shutdown timeout to ensure clean shutdown.
	streamWriteTimeout = 5 * time.Second

	// shutdownTimeout bounds graceful shutdown of in-flight requests.
	shutdownTimeout = 5 * time.Second

	// maxBodyBytes caps item request bodies.
	maxBodyBytes = 1 << 20
)

// Backend is the item store driven by the HTTP API.
//
// Operations block for their simulated latency and return the store's
// error unchanged; the server maps errors to status codes.
type Backend interface {
	State() store.State
	Subscribe() <-chan store.State
	Unsubscribe(ch <-chan store.State)

	Load(ctx context.Context) error
	Refresh(ctx context.Context) error
	Add(ctx context.Context, item store.Item) error
	AddNext(ctx context.Context) (store.Item, error)
	Remove(ctx context.Context, id string) error
	Update(ctx context.Context, item store.Item) error
	DismissError()
}

// Server exposes a [Backend] over HTTP.
//
// Server provides the following endpoints:
//   - GET /api/state: Current state snapshot
//   - GET /api/items: Current item list
//   - POST /api/load, POST /api/refresh: Replace the list
//   - POST /api/items: Add an item (empty body generates one)
//   - PUT /api/items/{id}, DELETE /api/items/{id}: Update or remove an item
//   - DELETE /api/error: Dismiss the current error
//   - GET /api/sse: Server-Sent Events stream of state snapshots
//   - GET /api/ws: WebSocket stream of state snapshots
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	backend    Backend
	port       int
	httpServer *http.Server
	logger     *slog.Logger

	mu   sync.Mutex
	addr net.Addr
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - backend: The item store to drive
//   - port: TCP port to listen on (0 picks a free port)
//   - logger: Logger for server events
//
// The server is not started until [Server.Start] is called.
func NewServer(backend Backend, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		backend: backend,
		port:    port,
		logger:  logger,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/items", s.handleItems)
	mux.HandleFunc("POST /api/load", s.handleLoad)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/items", s.handleAdd)
	mux.HandleFunc("PUT /api/items/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /api/items/{id}", s.handleRemove)
	mux.HandleFunc("DELETE /api/error", s.handleDismiss)
	mux.HandleFunc("GET /api/sse", s.handleSSE)
	mux.HandleFunc("GET /api/ws", s.handleWS)

	return mux
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, all request contexts are also cancelled,
		// enabling graceful shutdown of long-running handlers like SSE.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the address the server is listening on, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string       `json:"error"`
	State *store.State `json:"state,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.backend.State())
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.backend.State().Items)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.backend.Load(r.Context()))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.backend.Refresh(r.Context()))
}

// handleAdd adds the item in the body, or a generated one when the body is empty.
func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	item, present, err := decodeItem(w, r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if !present {
		_, err = s.backend.AddNext(r.Context())
	} else {
		err = s.backend.Add(r.Context(), item)
	}
	s.respond(w, r, err)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	item, present, err := decodeItem(w, r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if !present {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "request body is required"})
		return
	}
	if item.ID != "" && item.ID != id {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: fmt.Sprintf("body id %q does not match path id %q", item.ID, id),
		})
		return
	}
	item.ID = id

	s.respond(w, r, s.backend.Update(r.Context(), item))
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.backend.Remove(r.Context(), r.PathValue("id")))
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	s.backend.DismissError()
	s.writeJSON(w, http.StatusOK, s.backend.State())
}

// respond writes the outcome of an operation.
//
// Success and simulated failures both carry the resulting state, so clients
// can render the error message the store recorded.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		s.writeJSON(w, http.StatusOK, s.backend.State())
		return
	}

	state := s.backend.State()
	switch {
	case errors.Is(err, store.ErrSimulatedFailure):
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), State: &state})
	case errors.Is(err, store.ErrInvalidItem):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrDuplicateID):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, context.Canceled):
		// client went away or server is shutting down; nobody reads the body
		s.logger.Debug("request cancelled", "method", r.Method, "path", r.URL.Path)
	case errors.Is(err, context.DeadlineExceeded):
		s.writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: err.Error()})
	default:
		s.logger.Warn("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// decodeItem reads an optional JSON item body. present is false for an
// empty body.
func decodeItem(w http.ResponseWriter, r *http.Request) (item store.Item, present bool, err error) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&item); err != nil {
		if errors.Is(err, io.EOF) {
			return store.Item{}, false, nil
		}
		return store.Item{}, false, fmt.Errorf("invalid item body: %w", err)
	}
	return item, true, nil
}

// handleSSE streams state snapshots via Server-Sent Events.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked Fprintf call would prevent
// the handler from detecting context cancellation or channel closure.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	// check if flushing is supported
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// ResponseController provides deadline-aware write and flush operations.
	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	// writeAndFlush writes SSE data with a deadline to prevent blocking forever.
	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
				// deadline not supported by underlying connection, continue without
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}

		// ResponseController.Flush respects the write deadline
		return rc.Flush()
	}

	// set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// subscribe before reading the initial snapshot so no transition is missed
	ch := s.backend.Subscribe()
	defer s.backend.Unsubscribe(ch)

	initial := s.backend.State()
	if data, err := json.Marshal(initial); err == nil {
		if err := writeAndFlush(data); err != nil {
			return
		}
	}
	last := initial.Version

	for {
		select {
		case state, ok := <-ch:
			if !ok {
				return
			}
			if state.Version <= last {
				continue // already covered by the initial snapshot
			}
			last = state.Version

			data, err := json.Marshal(state)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}

// handleWS streams state snapshots over a WebSocket as JSON text frames.
//
// The stream is one-way; messages from the client are discarded. The
// connection closes on client disconnect or server shutdown.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	// CloseRead discards client frames and cancels readCtx when the peer goes
	// away. It must not share the request context: the library tears the
	// connection down when that context ends, before we can send a close frame.
	readCtx := conn.CloseRead(context.Background())

	ch := s.backend.Subscribe()
	defer s.backend.Unsubscribe(ch)

	write := func(state store.State) error {
		writeCtx, cancel := context.WithTimeout(r.Context(), streamWriteTimeout)
		defer cancel()
		return wsjson.Write(writeCtx, conn, state)
	}

	initial := s.backend.State()
	if err := write(initial); err != nil {
		return
	}
	last := initial.Version

	for {
		select {
		case state, ok := <-ch:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "store closed")
				return
			}
			if state.Version <= last {
				continue
			}
			last = state.Version
			if err := write(state); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}

		case <-r.Context().Done():
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return

		case <-readCtx.Done():
			return
		}
	}
}
