package realtime

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// transport owns one live websocket and serializes writes to it. The
// generation number ties asynchronous events (read errors, liveness
// verdicts) to the socket they came from so events from a replaced socket
// are discarded.
type transport struct {
	ws  *websocket.Conn
	gen uint64

	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
}

func newTransport(ws *websocket.Conn, gen uint64, writeTimeout time.Duration) *transport {
	return &transport{
		ws:           ws,
		gen:          gen,
		writeTimeout: writeTimeout,
	}
}

// writeJSON marshals v and writes it as a single text frame.
func (t *transport) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.ws.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.ws.WriteMessage(websocket.TextMessage, data)
}

// close sends a close frame and tears down the socket. Safe to call twice.
func (t *transport) close() {
	t.closeOnce.Do(func() {
		t.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.ws.Close()
	})
}

// buildSocketURL rewrites http(s) schemes to ws(s) and appends the auth
// token as a query parameter when set. The backend accepts the token at the
// URI level, the frame level, or both; the client always uses both.
func buildSocketURL(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported socket scheme %q", u.Scheme)
	}

	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
