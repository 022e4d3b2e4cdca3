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
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpalmerr/itemstore/internal/store"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockBackend implements Backend on top of a real MemoryStore. Operations
// commit immediately; fail forces the next operation to return an error.
type mockBackend struct {
	*store.MemoryStore

	mu    sync.Mutex
	fail  error
	calls []string
	next  int
}

func newMockBackend(items ...store.Item) *mockBackend {
	m := &mockBackend{MemoryStore: store.NewMemoryStore()}
	if len(items) > 0 {
		_, _ = m.Apply(store.Seeded{Items: items})
	}
	return m
}

func (m *mockBackend) failNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *mockBackend) record(call string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	err := m.fail
	m.fail = nil
	return err
}

func (m *mockBackend) recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// run mimics the store lifecycle: started, then the commit or a failure.
func (m *mockBackend) run(op store.Op, call string, commit store.Action) error {
	_, _ = m.Apply(store.Started{Op: op})
	if err := m.record(call); err != nil {
		if errors.Is(err, store.ErrSimulatedFailure) {
			_, _ = m.Apply(store.Failed{Op: op, Message: "failed to " + string(op)})
		} else {
			_, _ = m.Apply(store.Cancelled{Op: op})
		}
		return err
	}
	_, err := m.Apply(commit)
	return err
}

func (m *mockBackend) State() store.State { return m.Snapshot() }

func (m *mockBackend) Load(ctx context.Context) error {
	return m.run(store.OpLoad, "load", store.Replaced{Op: store.OpLoad, Items: []store.Item{{ID: "item_1", Title: "Item 1"}}})
}

func (m *mockBackend) Refresh(ctx context.Context) error {
	return m.run(store.OpRefresh, "refresh", store.Replaced{Op: store.OpRefresh, Items: []store.Item{{ID: "item_1", Title: "Item 1"}}})
}

func (m *mockBackend) Add(ctx context.Context, item store.Item) error {
	if item.ID == "" {
		return fmt.Errorf("%w: id is required", store.ErrInvalidItem)
	}
	if _, ok := m.Snapshot().Find(item.ID); ok {
		return fmt.Errorf("%w: %q", store.ErrDuplicateID, item.ID)
	}
	return m.run(store.OpAdd, "add:"+item.ID, store.Added{Item: item})
}

func (m *mockBackend) AddNext(ctx context.Context) (store.Item, error) {
	m.mu.Lock()
	m.next++
	item := store.Item{ID: fmt.Sprintf("gen_%d", m.next), Title: "Generated"}
	m.mu.Unlock()
	return item, m.Add(ctx, item)
}

func (m *mockBackend) Remove(ctx context.Context, id string) error {
	return m.run(store.OpRemove, "remove:"+id, store.Removed{ID: id})
}

func (m *mockBackend) Update(ctx context.Context, item store.Item) error {
	return m.run(store.OpUpdate, "update:"+item.ID, store.Updated{Item: item})
}

func (m *mockBackend) DismissError() {
	_, _ = m.Apply(store.DismissError{})
}

// do sends a request through the API handler and returns the recorder.
func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) store.State {
	t.Helper()
	var s store.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s), "body: %s", rec.Body.String())
	return s
}

// --- API tests ---

func TestHandleState(t *testing.T) {
	mb := newMockBackend(store.Item{ID: "a", Title: "A"})
	srv := NewServer(mb, 0, testLogger())

	rec := do(t, srv, http.MethodGet, "/api/state", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	s := decodeState(t, rec)
	require.Len(t, s.Items, 1)
	assert.Equal(t, "A", s.Items[0].Title)
	assert.False(t, s.IsLoading)
	assert.Nil(t, s.Error)
}

func TestHandleState_JSONShape(t *testing.T) {
	mb := newMockBackend()
	srv := NewServer(mb, 0, testLogger())

	rec := do(t, srv, http.MethodGet, "/api/state", "")

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	for _, key := range []string{"items", "is_loading", "is_refreshing", "error", "version"} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, []any{}, raw["items"], "empty list must encode as [] not null")
}

func TestHandleItems(t *testing.T) {
	mb := newMockBackend(store.Item{ID: "a"}, store.Item{ID: "b"})
	srv := NewServer(mb, 0, testLogger())

	rec := do(t, srv, http.MethodGet, "/api/items", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var items []store.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	assert.Len(t, items, 2)
}

func TestHandleLoad(t *testing.T) {
	mb := newMockBackend()
	srv := NewServer(mb, 0, testLogger())

	rec := do(t, srv, http.MethodPost, "/api/load", "")

	require.Equal(t, http.StatusOK, rec.Code)
	s := decodeState(t, rec)
	assert.Len(t, s.Items, 1)
	assert.Equal(t, []string{"load"}, mb.recorded())
}

func TestHandleRefresh_SimulatedFailure(t *testing.T) {
	mb := newMockBackend()
	mb.failNext(store.ErrSimulatedFailure)
	srv := NewServer(mb, 0, testLogger())

	rec := do(t, srv, http.MethodPost, "/api/refresh", "")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, store.ErrSimulatedFailure.Error(), body.Error)
	require.NotNil(t, body.State)
	require.NotNil(t, body.State.Error)
	assert.Equal(t, "failed to refresh", *body.State.Error)
}

func TestHandleAdd_WithBody(t *testing.T) {
	mb := newMockBackend()
	srv := NewServer(mb, 0, testLogger())

	rec := do(t, srv, http.MethodPost, "/api/items", `{"id":"x","title":"X"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	s := decodeState(t, rec)
	it, found := s.Find("x")
	require.True(t, found)
	assert.Equal(t, "X", it.Title)
}

func TestHandleAdd_EmptyBodyGenerates(t *testing.T) {
	mb := newMockBackend()
	srv := NewServer(mb, 0, testLogger())

	rec := do(t, srv, http.MethodPost, "/api/items", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"add:gen_1"}, mb.recorded())
}

func TestHandleAdd_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"id":`, http.StatusBadRequest},
		{"unknown field", `{"id":"x","colour":"red"}`, http.StatusBadRequest},
		{"missing id", `{"title":"no id"}`, http.StatusBadRequest},
		{"duplicate id", `{"id":"a"}`, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mb := newMockBackend(store.Item{ID: "a"})
			srv := NewServer(mb, 0, testLogger())

			rec := do(t, srv, http.MethodPost, "/api/items", tt.body)

			assert.Equal(t, tt.want, rec.Code, "body: %s", rec.Body.String())
			assert.Len(t, mb.Snapshot().Items, 1)
		})
	}
}

func TestHandleUpdate(t *testing.T) {
	mb := newMockBackend(store.Item{ID: "a", Title: "A"})
	srv := NewServer(mb, 0, testLogger())

	rec := do(t, srv, http.MethodPut, "/api/items/a", `{"title":"A2"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	it, _ := decodeState(t, rec).Find("a")
	assert.Equal(t, "A2", it.Title, "path id fills an empty body id")
}

func TestHandleUpdate_Errors(t *testing.T) {
	mb := newMockBackend(store.Item{ID: "a"})
	srv := NewServer(mb, 0, testLogger())

	rec := do(t, srv, http.MethodPut, "/api/items/a", `{"id":"b","title":"B"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPut, "/api/items/a", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, mb.recorded())
}

func TestHandleRemove(t *testing.T) {
	mb := newMockBackend(store.Item{ID: "a"}, store.Item{ID: "b"})
	srv := NewServer(mb, 0, testLogger())

	rec := do(t, srv, http.MethodDelete, "/api/items/a", "")

	require.Equal(t, http.StatusOK, rec.Code)
	s := decodeState(t, rec)
	require.Len(t, s.Items, 1)
	assert.Equal(t, "b", s.Items[0].ID)
}

func TestHandleDismiss(t *testing.T) {
	mb := newMockBackend()
	mb.failNext(store.ErrSimulatedFailure)
	srv := NewServer(mb, 0, testLogger())

	_ = do(t, srv, http.MethodPost, "/api/load", "")
	require.NotNil(t, mb.Snapshot().Error)

	rec := do(t, srv, http.MethodDelete, "/api/error", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decodeState(t, rec).Error)
}

func TestRespond_StoppedBackend(t *testing.T) {
	mb := newMockBackend()
	mb.failNext(errors.New("dispatcher stopped"))
	srv := NewServer(mb, 0, testLogger())

	rec := do(t, srv, http.MethodPost, "/api/load", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRespond_DeadlineExceeded(t *testing.T) {
	mb := newMockBackend()
	mb.failNext(context.DeadlineExceeded)
	srv := NewServer(mb, 0, testLogger())

	rec := do(t, srv, http.MethodPost, "/api/load", "")

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	srv := NewServer(newMockBackend(), 0, testLogger())

	rec := do(t, srv, http.MethodGet, "/api/load", "")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// --- SSE tests ---

func TestHandleSSE_InitialSnapshot(t *testing.T) {
	mb := newMockBackend(store.Item{ID: "API-1", Title: "one"})
	srv := NewServer(mb, 0, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.handleSSE(rec, req)

	events := parseSSEEvents(rec.Body.String())
	require.NotEmpty(t, events)
	_, found := events[0].Find("API-1")
	assert.True(t, found)
}

func TestHandleSSE_StreamsUpdates(t *testing.T) {
	mb := newMockBackend()
	srv := NewServer(mb, 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.handleSSE(rec, req)
		close(done)
	}()

	// give handler time to subscribe
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, mb.Add(context.Background(), store.Item{ID: "NewItem"}))

	// give time for update to be written
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not exit after context cancellation")
	}

	events := parseSSEEvents(rec.Body.String())
	require.Len(t, events, 3, "initial, started, added")
	assert.True(t, events[1].IsLoading)
	_, found := events[2].Find("NewItem")
	assert.True(t, found)

	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Version, events[i-1].Version)
	}
}

func TestHandleSSE_Headers(t *testing.T) {
	srv := NewServer(newMockBackend(), 0, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.handleSSE(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
}

func TestHandleSSE_SSENotSupported(t *testing.T) {
	srv := NewServer(newMockBackend(), 0, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)

	// use a writer that doesn't support flushing
	w := &nonFlushWriter{header: make(http.Header)}

	srv.handleSSE(w, req)

	if w.statusCode != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.statusCode)
	}
}

type nonFlushWriter struct {
	header     http.Header
	statusCode int
}

func (n *nonFlushWriter) Header() http.Header {
	return n.header
}

func (n *nonFlushWriter) Write(b []byte) (int, error) {
	return len(b), nil
}

func (n *nonFlushWriter) WriteHeader(statusCode int) {
	n.statusCode = statusCode
}

func TestHandleSSE_NoGoroutineLeaks(t *testing.T) {
	// allow existing goroutines to settle
	runtime.GC()
	time.Sleep(100 * time.Millisecond)
	before := runtime.NumGoroutine()

	srv := NewServer(newMockBackend(), 0, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
			srv.handleSSE(httptest.NewRecorder(), req)
		}()
	}
	wg.Wait()

	// allow cleanup
	runtime.GC()
	time.Sleep(200 * time.Millisecond)

	after := runtime.NumGoroutine()
	if after > before+2 { // small tolerance for runtime variance
		t.Errorf("potential goroutine leak: before=%d, after=%d", before, after)
	}
}

// TestHandleSSE_ServerShutdownIntegration tests that SSE handlers exit cleanly
// when the server context is cancelled, using a real HTTP connection.
func TestHandleSSE_ServerShutdownIntegration(t *testing.T) {
	srv := NewServer(newMockBackend(), 0, testLogger())

	serverCtx, serverCancel := context.WithCancel(context.Background())

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// derive request context from server context (simulates BaseContext)
		srv.handleSSE(w, r.WithContext(serverCtx))
	})

	ts := httptest.NewServer(handler)
	defer ts.Close()

	connDone := make(chan error, 1)
	go func() {
		resp, err := ts.Client().Get(ts.URL)
		if err != nil {
			connDone <- err
			return
		}
		defer func() { _ = resp.Body.Close() }()

		// read until connection closes
		buf := make([]byte, 1024)
		for {
			if _, err := resp.Body.Read(buf); err != nil {
				connDone <- nil
				return
			}
		}
	}()

	time.Sleep(100 * time.Millisecond)
	serverCancel()

	select {
	case <-connDone:
	case <-time.After(3 * time.Second):
		t.Fatal("SSE connection did not close after server shutdown")
	}
}

func parseSSEEvents(body string) []store.State {
	var states []store.State
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			var s store.State
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &s); err == nil {
				states = append(states, s)
			}
		}
	}
	return states
}

// --- WebSocket tests ---

func readWSState(t *testing.T, conn *websocket.Conn) store.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgType, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, msgType)

	var s store.State
	require.NoError(t, json.Unmarshal(data, &s))
	return s
}

func TestHandleWS_StreamsSnapshots(t *testing.T) {
	mb := newMockBackend(store.Item{ID: "a"})
	srv := NewServer(mb, 0, testLogger())

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "test cleanup") }()

	initial := readWSState(t, conn)
	require.Len(t, initial.Items, 1)

	require.NoError(t, mb.Remove(context.Background(), "a"))

	started := readWSState(t, conn)
	assert.True(t, started.IsLoading)

	removed := readWSState(t, conn)
	assert.Empty(t, removed.Items)
	assert.False(t, removed.IsLoading)
	assert.Greater(t, removed.Version, started.Version)
}

func TestHandleWS_ClosesOnShutdown(t *testing.T) {
	// the close handshake used to race the connection teardown, so run it
	// enough times to catch an abrupt EOF
	for i := 0; i < 20; i++ {
		srv := NewServer(newMockBackend(), 0, testLogger())

		serverCtx, serverCancel := context.WithCancel(context.Background())
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			srv.Handler().ServeHTTP(w, r.WithContext(serverCtx))
		}))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
		conn, _, err := websocket.Dial(ctx, wsURL, nil)
		require.NoError(t, err)

		_ = readWSState(t, conn)
		serverCancel()

		_, _, err = conn.Read(ctx)
		require.Error(t, err)
		assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err), "iteration %d: %v", i, err)

		_ = conn.CloseNow()
		cancel()
		ts.Close()
	}
}

func TestHandleWS_ReturnsWhenClientCloses(t *testing.T) {
	srv := NewServer(newMockBackend(), 0, testLogger())

	handlerDone := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(handlerDone)
		srv.handleWS(w, r)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)

	_ = readWSState(t, conn)
	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	select {
	case <-handlerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after the client closed")
	}
}

// --- Server Start tests ---

func TestStart_AvailablePort_ReturnsNil(t *testing.T) {
	srv := NewServer(newMockBackend(), 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		t.Errorf("Start() on available port returned error: %v", err)
	}
	if srv.Addr() == nil {
		t.Error("Addr() = nil after Start")
	}
}

func TestStart_ServesAPI(t *testing.T) {
	srv := NewServer(newMockBackend(store.Item{ID: "a"}), 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Start(ctx))

	port := srv.Addr().(*net.TCPAddr).Port
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/items", port))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var items []store.Item
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	assert.Len(t, items, 1)
}

func TestStart_PortInUse_ReturnsError(t *testing.T) {
	// occupy a port
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer func() { _ = ln.Close() }()

	port := ln.Addr().(*net.TCPAddr).Port

	srv := NewServer(newMockBackend(), port, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = srv.Start(ctx)
	if err == nil {
		t.Fatal("Start() on occupied port should return error")
	}
	if !strings.Contains(err.Error(), "failed to bind") {
		t.Errorf("expected bind error, got: %v", err)
	}
}

func TestStart_InvalidPort_ReturnsError(t *testing.T) {
	srv := NewServer(newMockBackend(), -1, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err == nil {
		t.Fatal("Start() with invalid port should return error")
	}
}

// --- Benchmark ---

func BenchmarkHandleState(b *testing.B) {
	mb := newMockBackend(store.Item{ID: "a"}, store.Item{ID: "b"})
	srv := NewServer(mb, 0, testLogger())
	h := srv.Handler()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	}
}
