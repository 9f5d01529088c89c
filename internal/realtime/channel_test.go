package realtime

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeHub upgrades incoming connections and hands them to the test.
type fakeHub struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	accepted int
	conns    chan *websocket.Conn
}

func newFakeHub() *fakeHub {
	return &fakeHub{conns: make(chan *websocket.Conn, 8)}
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.accepted++
	h.mu.Unlock()
	h.conns <- conn
	// Keep the connection open; the test drives it.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *fakeHub) acceptedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.accepted
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal event data: %v", err)
	}
	if err := conn.WriteJSON(envelope{Event: event, Data: raw}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func waitConn(t *testing.T, h *fakeHub) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-h.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for hub connection")
		return nil
	}
}

func waitState(t *testing.T, states <-chan ConnState, want ConnState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-states:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func testOptions() Options {
	return Options{
		ReconnectAttempts:  3,
		ReconnectBaseDelay: 5 * time.Millisecond,
		ReconnectMaxDelay:  20 * time.Millisecond,
	}
}

func TestConnect_Idempotent(t *testing.T) {
	hub := newFakeHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c := New(wsURL(srv), testOptions())
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitConn(t, hub)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if got := hub.acceptedCount(); got != 1 {
		t.Fatalf("hub accepted %d connections, want 1", got)
	}
	if c.State() != StateConnected {
		t.Fatalf("state = %s, want connected", c.State())
	}
}

func TestConnect_InitialFailureLeavesDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	c := New(url, testOptions())
	if err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected dial error")
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", c.State())
	}
}

func TestOn_FanOutInRegistrationOrder(t *testing.T) {
	hub := newFakeHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c := New(wsURL(srv), testOptions())
	defer c.Disconnect()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 4)
	record := func(name string) Handler {
		return func(json.RawMessage) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			done <- struct{}{}
		}
	}
	c.On(EventProgress, record("first"))
	unsub := c.On(EventProgress, record("second"))

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := waitConn(t, hub)
	sendEvent(t, conn, EventProgress, map[string]any{"jobId": "job-1", "percentage": 50})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("handler %d not invoked", i+1)
		}
	}
	mu.Lock()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("handler order = %v", order)
	}
	mu.Unlock()

	// After unsubscribing the second handler only the first fires.
	unsub()
	sendEvent(t, conn, EventProgress, map[string]any{"jobId": "job-1", "percentage": 60})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("remaining handler not invoked")
	}
	select {
	case <-done:
		t.Fatalf("unsubscribed handler still fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDisconnect_SafeWhenAlreadyDisconnected(t *testing.T) {
	c := New("ws://127.0.0.1:1/hubs/import-status", testOptions())
	c.Disconnect()
	c.Disconnect()
	if c.State() != StateDisconnected {
		t.Fatalf("state = %s", c.State())
	}
}

func TestStateChanges_ConnectDisconnect(t *testing.T) {
	hub := newFakeHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c := New(wsURL(srv), testOptions())
	states := make(chan ConnState, 16)
	c.OnStateChange(func(s ConnState) { states <- s })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, states, StateConnecting)
	waitState(t, states, StateConnected)
	waitConn(t, hub)

	c.Disconnect()
	waitState(t, states, StateDisconnected)
}

func TestReconnect_RecoversAfterDrop(t *testing.T) {
	hub := newFakeHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c := New(wsURL(srv), testOptions())
	defer c.Disconnect()

	states := make(chan ConnState, 16)
	c.OnStateChange(func(s ConnState) { states <- s })
	received := make(chan json.RawMessage, 1)
	c.On(EventPreviewReady, func(data json.RawMessage) { received <- data })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	first := waitConn(t, hub)
	waitState(t, states, StateConnected)

	// Drop the connection server-side; the channel must recover on its own.
	first.Close()
	waitState(t, states, StateReconnecting)
	second := waitConn(t, hub)
	waitState(t, states, StateConnected)

	// Events flow again over the recovered connection.
	sendEvent(t, second, EventPreviewReady, map[string]any{"jobId": "job-1"})
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatalf("no event after reconnect")
	}
}

func TestReconnect_ExhaustionDropsToDisconnected(t *testing.T) {
	hub := newFakeHub()
	srv := httptest.NewServer(hub)

	c := New(wsURL(srv), testOptions())
	states := make(chan ConnState, 16)
	c.OnStateChange(func(s ConnState) { states <- s })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := waitConn(t, hub)
	waitState(t, states, StateConnected)

	// Kill the server entirely so every retry fails. Closing the server alone
	// does not reach the live websocket — httptest stops tracking connections
	// once they are hijacked — so the accepted conn must be closed explicitly.
	srv.CloseClientConnections()
	srv.Close()
	conn.Close()

	waitState(t, states, StateReconnecting)
	waitState(t, states, StateDisconnected)
	if c.State() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected after retries exhausted", c.State())
	}
}

// A Disconnect that lands while the initial dial is still in flight must win:
// the dialed connection is discarded and the channel stays disconnected.
func TestDisconnect_DuringDialDiscardsConnection(t *testing.T) {
	hub := newFakeHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	var c *Channel
	var once sync.Once
	opts := testOptions()
	opts.Dialer = &websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			once.Do(func() { c.Disconnect() })
			return (&net.Dialer{}).DialContext(ctx, network, addr)
		},
	}
	c = New(wsURL(srv), opts)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Fatalf("state = %s, want disconnected after losing to Disconnect", got)
	}

	// The channel must still be usable afterwards.
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect after discarded dial: %v", err)
	}
	if got := c.State(); got != StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}
	c.Disconnect()
}
