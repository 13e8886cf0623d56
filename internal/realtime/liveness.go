package realtime

import (
	"context"
	"time"
)

// The liveness monitor runs two periodic tasks against the open transport:
// a keepalive ping and an application-level heartbeat with ack tracking.
// The heartbeat exists because some failures (a silently stalled proxy, a
// half-open TCP link) never produce a transport close event. Both tasks
// share one per-connection context and are cancelled on every transition
// away from connected.

// startLivenessLocked starts the ping and heartbeat tasks for t. Caller
// holds mu.
func (c *Conn) startLivenessLocked(t *transport) {
	ctx, cancel := context.WithCancel(context.Background())
	c.livenessCancel = cancel
	go c.pingLoop(ctx, t)
	go c.heartbeatLoop(ctx, t)
}

// stopLivenessLocked cancels the liveness tasks. Caller holds mu.
func (c *Conn) stopLivenessLocked() {
	if c.livenessCancel != nil {
		c.livenessCancel()
		c.livenessCancel = nil
	}
}

// pingLoop sends a keepalive ping frame on a fixed interval. A failed send
// means the socket is unusable and is routed through the transport error
// path.
func (c *Conn) pingLoop(ctx context.Context, t *transport) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.writeJSON(pingFrame{Type: framePing}); err != nil {
				c.logger.Warn("keepalive ping failed", "error", err)
				c.transportError(t.gen, err)
				return
			}
		}
	}
}

// heartbeatLoop checks ack age and sends a heartbeat frame every tick.
// When the last ack is older than HeartbeatTimeout the missed counter
// grows; at MaxMissedHeartbeats the link is declared dead and closed
// through the transport error path without waiting for the transport to
// notice. A recent ack resets the counter.
func (c *Conn) heartbeatLoop(ctx context.Context, t *transport) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.transport != t {
				c.mu.Unlock()
				return
			}
			elapsed := time.Since(c.lastAck)
			fatal := false
			if elapsed > c.cfg.HeartbeatTimeout {
				c.missedBeats++
				fatal = c.missedBeats >= c.cfg.MaxMissedHeartbeats
			} else {
				c.missedBeats = 0
			}
			missed := c.missedBeats
			c.mu.Unlock()

			if fatal {
				c.logger.Warn("heartbeat acks missed, closing connection",
					"elapsed", elapsed,
					"missed", missed,
				)
				c.transportError(t.gen, ErrLivenessTimeout)
				return
			}
			if missed > 0 {
				c.logger.Warn("heartbeat ack overdue", "elapsed", elapsed, "missed", missed)
			}
			if err := t.writeJSON(heartbeatFrame{Type: frameHeartbeat, Timestamp: time.Now().UnixMilli()}); err != nil {
				c.transportError(t.gen, err)
				return
			}
		}
	}
}
