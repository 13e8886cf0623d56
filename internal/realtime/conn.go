package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Leantan337/avgym-realtime/internal/model"
)

// Conn is the single long-lived connection to the dashboard's realtime
// socket. It owns the transport, drives the lifecycle state machine, runs
// the reconnection policy, and hosts the liveness monitor and the
// dispatch/queue machinery. Construct one per process and inject it where
// needed.
type Conn struct {
	cfg    Config
	logger *slog.Logger

	queueable map[string]bool
	batched   map[string]bool

	mu             sync.Mutex
	status         Status
	token          string
	transport      *transport
	gen            uint64 // generation of the current transport
	attemptSeq     uint64 // invalidates in-flight dial attempts
	dialing        bool
	closed         bool
	attempts       int       // consecutive automatic reconnect attempts
	lastDisconnect time.Time // when the link went down
	reconnectTimer *time.Timer
	livenessCancel context.CancelFunc
	pending        []pendingCommand

	// Liveness record; meaningless while not connected
	lastAck     time.Time
	lastPong    time.Time
	missedBeats int

	// Counters (guarded by mu)
	framesReceived   int64
	framesDispatched int64
	parseErrors      int64
	droppedFrames    int64
	batchesSent      int64

	// Subscription registry
	subMu  sync.RWMutex
	subs   map[string][]subEntry
	subSeq uint64

	// Outbound batch buffer
	batchMu    sync.Mutex
	buffer     []batchEntry
	batchTimer *time.Timer
	batchArmed bool
}

// pendingCommand is a whitelisted command queued while disconnected.
type pendingCommand struct {
	Type string
	Data any
}

// New creates a Conn. Nothing is dialed until Connect is called.
func New(cfg Config, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}

	return &Conn{
		cfg:       cfg,
		logger:    logger,
		status:    StatusDisconnected,
		queueable: typeSet(cfg.QueueableTypes),
		batched:   typeSet(cfg.BatchTypes),
		subs:      make(map[string][]subEntry),
	}
}

func typeSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}

// Connect starts a connection attempt. It is a no-op while a transport is
// open, an attempt is in flight, or the state is terminal: failed is left
// only by ManualReconnect and authentication_failed only by SetAuthToken.
func (c *Conn) Connect() {
	c.mu.Lock()
	if c.closed || c.transport != nil || c.dialing || c.status == StatusFailed || c.status == StatusAuthFailed {
		c.mu.Unlock()
		return
	}
	seq, rawURL, token, changed := c.beginAttemptLocked()
	c.mu.Unlock()

	if changed {
		c.notifyStatus(StatusConnecting)
	}
	go c.dialAttempt(seq, rawURL, token)
}

// ManualReconnect resets the attempt counter, cancels any scheduled retry,
// and connects immediately. This is the only way out of the failed state.
func (c *Conn) ManualReconnect() {
	c.mu.Lock()
	if c.closed || c.status == StatusAuthFailed {
		c.mu.Unlock()
		return
	}
	c.attempts = 0
	c.stopReconnectTimerLocked()
	if c.transport != nil || c.dialing {
		c.mu.Unlock()
		return
	}
	seq, rawURL, token, changed := c.beginAttemptLocked()
	c.mu.Unlock()

	if changed {
		c.notifyStatus(StatusConnecting)
	}
	go c.dialAttempt(seq, rawURL, token)
}

// Disconnect closes the transport and suppresses the reconnect that the
// resulting close event would otherwise trigger. Always safe to call. The
// sticky authentication_failed state is preserved.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	t, changed := c.teardownLocked()
	c.mu.Unlock()

	if t != nil {
		t.close()
	}
	if changed {
		c.logger.Info("disconnected by request")
		c.notifyStatus(StatusDisconnected)
	}
}

// Close shuts the connection down for good. Subsequent calls on the Conn
// are no-ops or fail with ErrConnClosed.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	t, changed := c.teardownLocked()
	c.mu.Unlock()

	c.stopBatchTimer()

	if t != nil {
		t.close()
	}
	if changed {
		c.notifyStatus(StatusDisconnected)
	}
}

// teardownLocked cancels every connection-phase task, detaches the
// transport, and moves to disconnected unless the auth-failure state is
// sticky. Caller holds mu and closes the returned transport.
func (c *Conn) teardownLocked() (t *transport, changed bool) {
	c.attemptSeq++ // abandon any dial in flight
	c.dialing = false
	c.stopReconnectTimerLocked()
	c.stopLivenessLocked()

	t = c.transport
	c.transport = nil

	if c.status != StatusAuthFailed && c.status != StatusDisconnected {
		c.status = StatusDisconnected
		changed = true
	}
	return t, changed
}

// SetAuthToken replaces the auth token. An empty token disconnects; a fresh
// token clears a sticky authentication failure, resets the attempt budget,
// and, when no transport is open, connects immediately. While connected the
// token takes effect on the next (re)connect.
func (c *Conn) SetAuthToken(token string) {
	if token == "" {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		c.Disconnect()
		return
	}

	c.mu.Lock()
	c.token = token
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.attempts = 0
	c.stopReconnectTimerLocked()
	if c.transport != nil || c.dialing {
		c.mu.Unlock()
		return
	}
	seq, rawURL, tok, changed := c.beginAttemptLocked()
	c.mu.Unlock()

	if changed {
		c.notifyStatus(StatusConnecting)
	}
	go c.dialAttempt(seq, rawURL, tok)
}

// AuthToken returns the current auth token, empty when unset.
func (c *Conn) AuthToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Status returns the current lifecycle state.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Stats returns a snapshot of connection counters.
func (c *Conn) Stats() Stats {
	c.batchMu.Lock()
	buffered := len(c.buffer)
	c.batchMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Status:            c.status,
		ReconnectAttempts: c.attempts,
		FramesReceived:    c.framesReceived,
		FramesDispatched:  c.framesDispatched,
		ParseErrors:       c.parseErrors,
		DroppedFrames:     c.droppedFrames,
		BatchesSent:       c.batchesSent,
		PendingCommands:   len(c.pending),
		BatchBuffered:     buffered,
		MissedHeartbeats:  c.missedBeats,
		LastAckAt:         c.lastAck,
	}
}

// Send delivers an application message. Batched-whitelist types are
// buffered and sent as one batch frame per flush window. Other types are
// written immediately while connected; while disconnected, whitelisted
// commands are queued for the next reconnect and everything else fails
// with ErrNotConnected.
func (c *Conn) Send(msgType string, data any) error {
	if c.batched[msgType] {
		c.enqueueBatch(msgType, data)
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	if t := c.transport; t != nil {
		c.mu.Unlock()
		err := t.writeJSON(eventFrame{Type: msgType, Data: data})
		if err != nil {
			c.transportError(t.gen, err)
		}
		return err
	}
	if c.queueable[msgType] {
		c.pending = append(c.pending, pendingCommand{Type: msgType, Data: data})
		queued := len(c.pending)
		c.mu.Unlock()
		c.logger.Debug("command queued until reconnect", "type", msgType, "queued", queued)
		return nil
	}
	c.mu.Unlock()
	return ErrNotConnected
}

// CheckIn sends a check_in command. Queued if currently disconnected.
func (c *Conn) CheckIn(cmd model.CheckInCommand) error {
	return c.Send(model.TypeCheckIn, cmd)
}

// CheckOut sends a check_out command. Queued if currently disconnected.
func (c *Conn) CheckOut(cmd model.CheckOutCommand) error {
	return c.Send(model.TypeCheckOut, cmd)
}

// beginAttemptLocked marks a new attempt as in flight and moves to
// connecting. Caller holds mu, has verified no transport or dial is active,
// and notifies the status change after unlocking.
func (c *Conn) beginAttemptLocked() (seq uint64, rawURL, token string, changed bool) {
	c.dialing = true
	c.attemptSeq++
	changed = c.status != StatusConnecting
	c.status = StatusConnecting
	return c.attemptSeq, c.cfg.URL, c.token, changed
}

// dialAttempt runs one connection attempt. Failures surface as state
// transitions, never as returned errors.
func (c *Conn) dialAttempt(seq uint64, rawURL, token string) {
	connURL, err := buildSocketURL(rawURL, token)
	if err != nil {
		c.dialFailed(seq, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	ws, _, err := dialer.DialContext(ctx, connURL, nil)
	if err != nil {
		c.dialFailed(seq, err)
		return
	}
	c.dialDone(seq, ws)
}

func (c *Conn) dialFailed(seq uint64, err error) {
	c.mu.Lock()
	if c.closed || seq != c.attemptSeq {
		c.mu.Unlock()
		return // attempt was abandoned
	}
	c.dialing = false
	if c.lastDisconnect.IsZero() {
		c.lastDisconnect = time.Now()
	}
	c.status = StatusDisconnected
	c.mu.Unlock()

	c.logger.Warn("connection attempt failed", "error", err)
	c.notifyStatus(StatusDisconnected)
	c.scheduleReconnect()
}

func (c *Conn) dialDone(seq uint64, ws *websocket.Conn) {
	c.mu.Lock()
	if c.closed || seq != c.attemptSeq {
		c.mu.Unlock()
		ws.Close() // attempt was abandoned while dialing
		return
	}
	c.dialing = false
	c.gen++
	ws.SetReadLimit(c.cfg.ReadLimit)
	t := newTransport(ws, c.gen, c.cfg.WriteTimeout)
	c.transport = t
	c.status = StatusConnected
	c.attempts = 0
	c.missedBeats = 0
	c.lastAck = time.Now()
	token := c.token
	pending := c.pending
	c.pending = nil
	c.startLivenessLocked(t)
	c.mu.Unlock()

	c.logger.Info("connected", "url", c.cfg.URL)
	c.notifyStatus(StatusConnected)

	go c.readLoop(t)

	if token != "" {
		if err := t.writeJSON(authFrame{Type: frameAuthenticate, Payload: authPayload{Token: token}}); err != nil {
			c.transportError(t.gen, err)
			return
		}
	}
	c.flushPending(t, pending)
}

// flushPending sends queued commands in enqueue order. The queue was
// already drained, so each command is sent at most once; a write failure
// drops the remainder.
func (c *Conn) flushPending(t *transport, pending []pendingCommand) {
	for i, cmd := range pending {
		if err := t.writeJSON(eventFrame{Type: cmd.Type, Data: cmd.Data}); err != nil {
			c.logger.Error("flush of queued commands failed",
				"sent", i,
				"dropped", len(pending)-i,
				"error", err,
			)
			c.transportError(t.gen, err)
			return
		}
	}
	if len(pending) > 0 {
		c.logger.Info("flushed queued commands", "count", len(pending))
	}
}

// readLoop reads frames until the transport dies.
func (c *Conn) readLoop(t *transport) {
	for {
		_, data, err := t.ws.ReadMessage()
		if err != nil {
			c.transportError(t.gen, err)
			return
		}
		c.handleFrame(t.gen, data)
	}
}

// transportError is the single error path for a dead or dying transport:
// read errors, write errors, and liveness verdicts all land here. Events
// for an already-replaced transport are discarded.
func (c *Conn) transportError(gen uint64, err error) {
	c.mu.Lock()
	if c.transport == nil || c.transport.gen != gen {
		c.mu.Unlock()
		return
	}
	t := c.transport
	c.transport = nil
	c.stopLivenessLocked()
	c.lastDisconnect = time.Now()
	c.status = StatusDisconnected
	c.mu.Unlock()

	t.close()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Info("connection closed by server", "error", err)
	} else {
		c.logger.Warn("connection lost", "error", err)
	}
	c.notifyStatus(StatusDisconnected)
	c.scheduleReconnect()
}

// scheduleReconnect arms the reconnect timer, or moves to failed once the
// attempt budget is spent. The delay scales with how long the link has
// been down, clamped to [MinReconnectDelay, MaxReconnectDelay].
func (c *Conn) scheduleReconnect() {
	c.mu.Lock()
	if c.closed || c.reconnectTimer != nil || c.transport != nil || c.dialing {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.status = StatusFailed
		attempts := c.attempts
		c.mu.Unlock()

		c.logger.Error("reconnect attempts exhausted", "attempts", attempts)
		c.notifyStatus(StatusFailed)
		return
	}
	delay := clampDelay(time.Since(c.lastDisconnect), c.cfg.MinReconnectDelay, c.cfg.MaxReconnectDelay)
	attempt := c.attempts + 1
	c.reconnectTimer = time.AfterFunc(delay, c.reconnectNow)
	c.mu.Unlock()

	c.logger.Info("reconnect scheduled",
		"delay", delay,
		"attempt", attempt,
		"max_attempts", c.cfg.MaxReconnectAttempts,
	)
}

// reconnectNow fires when the reconnect delay elapses.
func (c *Conn) reconnectNow() {
	c.mu.Lock()
	c.reconnectTimer = nil
	if c.closed || c.transport != nil || c.dialing || c.status == StatusAuthFailed {
		c.mu.Unlock()
		return
	}
	c.attempts++
	seq, rawURL, token, changed := c.beginAttemptLocked()
	c.mu.Unlock()

	if changed {
		c.notifyStatus(StatusConnecting)
	}
	go c.dialAttempt(seq, rawURL, token)
}

func (c *Conn) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func clampDelay(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
