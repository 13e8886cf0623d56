package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Leantan337/avgym-realtime/internal/model"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// testConfig returns a config with liveness quiet and fast reconnects.
func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.DialTimeout = 2 * time.Second
	cfg.WriteTimeout = time.Second
	cfg.PingInterval = time.Hour
	cfg.HeartbeatInterval = time.Hour
	cfg.HeartbeatTimeout = time.Hour
	cfg.MaxReconnectAttempts = 2
	cfg.MinReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond
	cfg.BatchFlushInterval = 40 * time.Millisecond
	return cfg
}

func waitStatus(t *testing.T, c *Conn, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status = %q, want %q", c.Status(), want)
}

// keepOpen reads until the peer goes away, forwarding frames when a
// channel is given.
func keepOpen(frames chan<- []byte) func(*websocket.Conn) {
	return func(ws *websocket.Conn) {
		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if frames != nil {
				frames <- msg
			}
		}
	}
}

// wireFrame covers every outbound frame shape for test decoding.
type wireFrame struct {
	Type      string                       `json:"type"`
	Payload   json.RawMessage              `json:"payload"`
	Data      json.RawMessage              `json:"data"`
	Batches   map[string][]json.RawMessage `json:"batches"`
	Timestamp int64                        `json:"timestamp"`
}

func nextFrame(t *testing.T, frames <-chan []byte) wireFrame {
	t.Helper()
	select {
	case data := <-frames:
		var f wireFrame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("unparseable frame %q: %v", data, err)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return wireFrame{}
	}
}

func expectNoFrame(t *testing.T, frames <-chan []byte, within time.Duration) {
	t.Helper()
	select {
	case data := <-frames:
		t.Fatalf("unexpected frame %q", data)
	case <-time.After(within):
	}
}

func TestConnect(t *testing.T) {
	server := mockWSServer(t, keepOpen(nil))
	defer server.Close()

	c := New(testConfig(wsURL(server)), nil)
	c.Connect()
	waitStatus(t, c, StatusConnected)

	stats := c.Stats()
	if stats.Status != StatusConnected {
		t.Errorf("Stats().Status = %q, want %q", stats.Status, StatusConnected)
	}
	if stats.ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0", stats.ReconnectAttempts)
	}

	c.Close()
	waitStatus(t, c, StatusDisconnected)

	// Closed for good; nothing reconnects.
	c.Connect()
	time.Sleep(50 * time.Millisecond)
	if got := c.Status(); got != StatusDisconnected {
		t.Errorf("status after Connect on closed conn = %q, want %q", got, StatusDisconnected)
	}
}

func TestConnectIdempotent(t *testing.T) {
	var conns atomic.Int32
	server := mockWSServer(t, func(ws *websocket.Conn) {
		conns.Add(1)
		keepOpen(nil)(ws)
	})
	defer server.Close()

	c := New(testConfig(wsURL(server)), nil)
	defer c.Close()

	c.Connect()
	c.Connect()
	waitStatus(t, c, StatusConnected)
	c.Connect()
	time.Sleep(50 * time.Millisecond)

	if got := conns.Load(); got != 1 {
		t.Errorf("server accepted %d connections, want 1", got)
	}
}

func TestTokenOnDialAndAuthenticateFrame(t *testing.T) {
	tokens := make(chan string, 1)
	frames := make(chan []byte, 16)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens <- r.URL.Query().Get("token")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		keepOpen(frames)(ws)
	}))
	defer server.Close()

	c := New(testConfig(wsURL(server)), nil)
	defer c.Close()

	// A fresh token triggers the dial on its own.
	c.SetAuthToken("tok-1")
	waitStatus(t, c, StatusConnected)

	select {
	case got := <-tokens:
		if got != "tok-1" {
			t.Errorf("token query param = %q, want %q", got, "tok-1")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server saw no connection")
	}

	f := nextFrame(t, frames)
	if f.Type != "authenticate" {
		t.Fatalf("first frame type = %q, want authenticate", f.Type)
	}
	var p struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatalf("unmarshal authenticate payload: %v", err)
	}
	if p.Token != "tok-1" {
		t.Errorf("authenticate token = %q, want %q", p.Token, "tok-1")
	}

	if got := c.AuthToken(); got != "tok-1" {
		t.Errorf("AuthToken() = %q, want %q", got, "tok-1")
	}
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	var conns atomic.Int32
	frames := make(chan []byte, 16)
	server := mockWSServer(t, func(ws *websocket.Conn) {
		conns.Add(1)
		keepOpen(frames)(ws)
	})
	defer server.Close()

	cfg := testConfig(wsURL(server))
	// Liveness on, so a stale monitor would be visible as frames.
	cfg.PingInterval = 25 * time.Millisecond
	cfg.HeartbeatInterval = 25 * time.Millisecond

	c := New(cfg, nil)
	defer c.Close()

	c.Connect()
	waitStatus(t, c, StatusConnected)

	c.Disconnect()
	waitStatus(t, c, StatusDisconnected)

	// Drain anything written before the teardown finished.
	for draining := true; draining; {
		select {
		case <-frames:
		case <-time.After(30 * time.Millisecond):
			draining = false
		}
	}

	// No reconnect, no liveness frames from the torn-down monitor.
	expectNoFrame(t, frames, 150*time.Millisecond)
	if got := conns.Load(); got != 1 {
		t.Errorf("server accepted %d connections, want 1", got)
	}
	if got := c.Status(); got != StatusDisconnected {
		t.Errorf("status = %q, want %q", got, StatusDisconnected)
	}

	// Safe to repeat.
	c.Disconnect()
}

func TestReconnectAfterServerDrop(t *testing.T) {
	var conns atomic.Int32
	server := mockWSServer(t, func(ws *websocket.Conn) {
		if conns.Add(1) == 1 {
			return // drop the first connection immediately
		}
		keepOpen(nil)(ws)
	})
	defer server.Close()

	c := New(testConfig(wsURL(server)), nil)
	defer c.Close()

	var mu sync.Mutex
	var seen []string
	c.Subscribe(model.TypeConnectionStatus, func(payload json.RawMessage) {
		var s string
		_ = json.Unmarshal(payload, &s)
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	c.Connect()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conns.Load() >= 2 && c.Status() == StatusConnected {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := conns.Load(); got < 2 {
		t.Fatalf("server accepted %d connections, want >= 2", got)
	}
	waitStatus(t, c, StatusConnected)

	mu.Lock()
	joined := strings.Join(seen, ",")
	mu.Unlock()
	if !strings.Contains(joined, "disconnected") {
		t.Errorf("status history %q missing disconnected", joined)
	}
}

func TestFailedStateAndManualReconnect(t *testing.T) {
	// Reserve an address, then free it so every dial is refused.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	cfg := testConfig("ws://" + addr)
	cfg.DialTimeout = 500 * time.Millisecond

	c := New(cfg, nil)
	defer c.Close()

	c.Connect()
	waitStatus(t, c, StatusFailed)

	if got := c.Stats().ReconnectAttempts; got != cfg.MaxReconnectAttempts {
		t.Errorf("ReconnectAttempts = %d, want %d", got, cfg.MaxReconnectAttempts)
	}

	// Plain Connect is not a way out of failed.
	c.Connect()
	time.Sleep(50 * time.Millisecond)
	if got := c.Status(); got != StatusFailed {
		t.Fatalf("status after Connect = %q, want %q", got, StatusFailed)
	}

	// Server comes up on the reserved address; manual reconnect takes it.
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		keepOpen(nil)(ws)
	}))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("rebind %s: %v", addr, err)
	}
	srv.Listener.Close()
	srv.Listener = ln
	srv.Start()
	defer srv.Close()

	c.ManualReconnect()
	waitStatus(t, c, StatusConnected)

	if got := c.Stats().ReconnectAttempts; got != 0 {
		t.Errorf("ReconnectAttempts after manual reconnect = %d, want 0", got)
	}
}

func TestSendImmediate(t *testing.T) {
	frames := make(chan []byte, 16)
	server := mockWSServer(t, keepOpen(frames))
	defer server.Close()

	c := New(testConfig(wsURL(server)), nil)
	c.Connect()
	waitStatus(t, c, StatusConnected)

	if err := c.Send("announcement", map[string]string{"text": "pool closes at 9"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	f := nextFrame(t, frames)
	if f.Type != "announcement" {
		t.Errorf("frame type = %q, want announcement", f.Type)
	}
	var data map[string]string
	if err := json.Unmarshal(f.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data["text"] != "pool closes at 9" {
		t.Errorf("data.text = %q", data["text"])
	}

	c.Close()
	if err := c.Send("announcement", nil); err != ErrConnClosed {
		t.Errorf("Send after Close = %v, want ErrConnClosed", err)
	}
}

func TestSendNotConnected(t *testing.T) {
	c := New(testConfig("ws://localhost:12345"), nil)
	defer c.Close()

	if err := c.Send("announcement", nil); err != ErrNotConnected {
		t.Errorf("Send = %v, want ErrNotConnected", err)
	}
}

func TestQueuedCommandsFlushAfterAuthenticate(t *testing.T) {
	frames := make(chan []byte, 16)
	server := mockWSServer(t, keepOpen(frames))
	defer server.Close()

	c := New(testConfig(wsURL(server)), nil)
	defer c.Close()

	m1 := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	m2 := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	ci := uuid.MustParse("33333333-3333-3333-3333-333333333333")

	// All queued while disconnected, none rejected.
	if err := c.CheckIn(model.CheckInCommand{MemberID: m1, Location: "front desk"}); err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}
	if err := c.CheckOut(model.CheckOutCommand{CheckInID: ci}); err != nil {
		t.Fatalf("CheckOut failed: %v", err)
	}
	if err := c.CheckIn(model.CheckInCommand{MemberID: m2}); err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}

	if got := c.Stats().PendingCommands; got != 3 {
		t.Fatalf("PendingCommands = %d, want 3", got)
	}

	c.SetAuthToken("tok-1")
	waitStatus(t, c, StatusConnected)

	// Authenticate first, then the queue in enqueue order, exactly once.
	f := nextFrame(t, frames)
	if f.Type != "authenticate" {
		t.Fatalf("frame 1 type = %q, want authenticate", f.Type)
	}

	wantTypes := []string{model.TypeCheckIn, model.TypeCheckOut, model.TypeCheckIn}
	wantIDs := []string{m1.String(), ci.String(), m2.String()}
	idKeys := []string{"memberId", "checkInId", "memberId"}
	for i, wantType := range wantTypes {
		f := nextFrame(t, frames)
		if f.Type != wantType {
			t.Fatalf("frame %d type = %q, want %q", i+2, f.Type, wantType)
		}
		var data map[string]any
		if err := json.Unmarshal(f.Data, &data); err != nil {
			t.Fatalf("frame %d data: %v", i+2, err)
		}
		if got := data[idKeys[i]]; got != wantIDs[i] {
			t.Errorf("frame %d %s = %v, want %v", i+2, idKeys[i], got, wantIDs[i])
		}
	}

	expectNoFrame(t, frames, 100*time.Millisecond)

	if got := c.Stats().PendingCommands; got != 0 {
		t.Errorf("PendingCommands after flush = %d, want 0", got)
	}
}

func TestStatusNotifications(t *testing.T) {
	server := mockWSServer(t, keepOpen(nil))
	defer server.Close()

	c := New(testConfig(wsURL(server)), nil)
	defer c.Close()

	var mu sync.Mutex
	var seen []string
	c.Subscribe(model.TypeConnectionStatus, func(payload json.RawMessage) {
		var s string
		_ = json.Unmarshal(payload, &s)
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	c.Connect()
	waitStatus(t, c, StatusConnected)
	c.Disconnect()
	waitStatus(t, c, StatusDisconnected)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"connecting", "connected", "disconnected"}
	if len(seen) != len(want) {
		t.Fatalf("status sequence = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("status[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}
