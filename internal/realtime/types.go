package realtime

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Leantan337/avgym-realtime/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrConnClosed      = errors.New("connection closed")
	ErrLivenessTimeout = errors.New("liveness timeout (no heartbeat ack)")
)

// Status is the lifecycle state of the connection. The values are what
// connection_status subscribers receive.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusFailed       Status = "failed"
	StatusAuthFailed   Status = "authentication_failed"
)

// Handler receives the payload of a dispatched frame.
type Handler func(payload json.RawMessage)

// Frame types handled internally and never forwarded to subscribers.
const (
	frameAuthenticate = "authenticate"
	framePing         = "ping"
	framePong         = "pong"
	frameHeartbeat    = "heartbeat"
	frameHeartbeatAck = "heartbeat_ack"
	frameAuthSuccess  = "authentication_success"
	frameAuthError    = "authentication_error"
	frameBatch        = "batch"
)

// inboundFrame is the envelope of every server frame.
type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// batchPayload is the payload of an inbound batch frame.
type batchPayload struct {
	Batches map[string][]json.RawMessage `json:"batches"`
}

// authErrorPayload is the payload of an authentication_error frame.
type authErrorPayload struct {
	Message string `json:"message"`
}

// Outbound frames. The key names differ per frame type and are part of the
// wire contract with the dashboard backend.
type authFrame struct {
	Type    string      `json:"type"`
	Payload authPayload `json:"payload"`
}

type authPayload struct {
	Token string `json:"token"`
}

type pingFrame struct {
	Type string `json:"type"`
}

type heartbeatFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

type eventFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type batchFrame struct {
	Type    string           `json:"type"`
	Batches map[string][]any `json:"batches"`
}

// Config configures a Conn.
type Config struct {
	URL string // socket URL; http(s) schemes are rewritten to ws(s)

	DialTimeout  time.Duration // ceiling for connection establishment
	WriteTimeout time.Duration // write deadline for frame sends
	ReadLimit    int64         // max inbound frame size in bytes

	PingInterval        time.Duration // keepalive ping frame interval
	HeartbeatInterval   time.Duration // heartbeat frame + ack check interval
	HeartbeatTimeout    time.Duration // max age of the last ack before a miss is counted
	MaxMissedHeartbeats int           // misses before the link is declared dead

	MaxReconnectAttempts int           // automatic attempts before giving up
	MinReconnectDelay    time.Duration // reconnect delay floor
	MaxReconnectDelay    time.Duration // reconnect delay ceiling

	BatchFlushInterval time.Duration // outbound batch window

	// QueueableTypes are commands held in the pending queue while
	// disconnected. BatchTypes are buffered and sent as batch frames.
	QueueableTypes []string
	BatchTypes     []string
}

// DefaultConfig returns sensible defaults. The URL must be set by the caller.
func DefaultConfig() Config {
	return Config{
		DialTimeout:          10 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReadLimit:            65536,
		PingInterval:         30 * time.Second,
		HeartbeatInterval:    10 * time.Second,
		HeartbeatTimeout:     15 * time.Second,
		MaxMissedHeartbeats:  2,
		MaxReconnectAttempts: 5,
		MinReconnectDelay:    1 * time.Second,
		MaxReconnectDelay:    30 * time.Second,
		BatchFlushInterval:   100 * time.Millisecond,
		QueueableTypes:       []string{model.TypeCheckIn, model.TypeCheckOut},
	}
}

// Stats is a snapshot of connection counters.
type Stats struct {
	Status            Status
	ReconnectAttempts int
	FramesReceived    int64
	FramesDispatched  int64
	ParseErrors       int64
	DroppedFrames     int64
	BatchesSent       int64
	PendingCommands   int
	BatchBuffered     int
	MissedHeartbeats  int
	LastAckAt         time.Time
}
