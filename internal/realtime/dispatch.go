package realtime

import (
	"encoding/json"
	"time"

	"github.com/Leantan337/avgym-realtime/internal/model"
)

// subEntry is one handler registration. Registrations are ordered and may
// repeat the same handler; each gets its own id so an unsubscribe removes
// exactly the registration it was issued for.
type subEntry struct {
	id uint64
	fn Handler
}

// Subscribe registers a handler for a message type and returns its
// unsubscribe closure. Handlers run synchronously on the read goroutine in
// registration order. Subscribing the same handler twice delivers twice;
// calling the unsubscribe closure more than once is a no-op.
//
// The reserved type model.TypeConnectionStatus delivers every lifecycle
// state change with the status string as payload.
func (c *Conn) Subscribe(msgType string, fn Handler) (unsubscribe func()) {
	c.subMu.Lock()
	c.subSeq++
	id := c.subSeq
	c.subs[msgType] = append(c.subs[msgType], subEntry{id: id, fn: fn})
	c.subMu.Unlock()

	return func() {
		c.removeSub(msgType, id)
	}
}

// removeSub deletes one registration. Removing an already-removed id is a
// no-op, and an emptied handler list is dropped from the registry.
func (c *Conn) removeSub(msgType string, id uint64) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	entries := c.subs[msgType]
	for i, e := range entries {
		if e.id == id {
			// Copy on removal so a dispatch iterating a snapshot of the
			// old slice is unaffected.
			c.subs[msgType] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(c.subs[msgType]) == 0 {
		delete(c.subs, msgType)
	}
}

// deliver invokes every handler currently registered for msgType, in
// registration order, isolating panics per handler.
func (c *Conn) deliver(msgType string, payload json.RawMessage) {
	c.subMu.RLock()
	entries := c.subs[msgType]
	c.subMu.RUnlock()

	for _, e := range entries {
		c.callHandler(msgType, e.fn, payload)
	}
}

func (c *Conn) callHandler(msgType string, fn Handler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("subscriber panicked", "type", msgType, "panic", r)
		}
	}()
	fn(payload)
}

// notifyStatus delivers a state change to connection_status subscribers.
func (c *Conn) notifyStatus(s Status) {
	payload, _ := json.Marshal(string(s))
	c.deliver(model.TypeConnectionStatus, payload)
}

// handleFrame parses and routes one inbound frame. Malformed frames are
// logged and dropped; they never take down the read loop.
func (c *Conn) handleFrame(gen uint64, data []byte) {
	c.mu.Lock()
	c.framesReceived++
	c.mu.Unlock()

	var env inboundFrame
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		c.mu.Lock()
		c.parseErrors++
		c.mu.Unlock()
		c.logger.Warn("unparseable frame dropped", "error", err, "size", len(data))
		return
	}

	switch env.Type {
	case frameAuthSuccess:
		c.logger.Info("authenticated")
	case frameAuthError:
		c.handleAuthError(gen, env.Payload)
	case frameHeartbeatAck:
		c.mu.Lock()
		c.lastAck = time.Now()
		c.missedBeats = 0
		c.mu.Unlock()
	case framePong:
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
	case frameBatch:
		c.handleInboundBatch(env.Payload)
	default:
		if isEmptyPayload(env.Payload) {
			c.mu.Lock()
			c.droppedFrames++
			c.mu.Unlock()
			c.logger.Debug("frame without payload dropped", "type", env.Type)
			return
		}
		c.mu.Lock()
		c.framesDispatched++
		c.mu.Unlock()
		c.deliver(env.Type, env.Payload)
	}
}

// handleInboundBatch unpacks a batch frame and redelivers each payload to
// its type's handlers as if received individually. Order within a type is
// preserved; order across types is not guaranteed.
func (c *Conn) handleInboundBatch(payload json.RawMessage) {
	var b batchPayload
	if err := json.Unmarshal(payload, &b); err != nil {
		c.mu.Lock()
		c.parseErrors++
		c.mu.Unlock()
		c.logger.Warn("unparseable batch frame dropped", "error", err)
		return
	}

	for msgType, items := range b.Batches {
		for _, item := range items {
			if isEmptyPayload(item) {
				c.mu.Lock()
				c.droppedFrames++
				c.mu.Unlock()
				continue
			}
			c.mu.Lock()
			c.framesDispatched++
			c.mu.Unlock()
			c.deliver(msgType, item)
		}
	}
}

// handleAuthError moves to the sticky authentication_failed state and
// closes the transport. There is no automatic retry; only a fresh token
// via SetAuthToken leaves this state.
func (c *Conn) handleAuthError(gen uint64, payload json.RawMessage) {
	var p authErrorPayload
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &p)
	}

	c.mu.Lock()
	if c.transport == nil || c.transport.gen != gen {
		c.mu.Unlock()
		return
	}
	t := c.transport
	c.transport = nil
	c.stopLivenessLocked()
	c.lastDisconnect = time.Now()
	c.status = StatusAuthFailed
	c.mu.Unlock()

	t.close()

	c.logger.Error("authentication rejected", "message", p.Message)
	c.notifyStatus(StatusAuthFailed)
}

// isEmptyPayload reports whether a payload is absent or JSON null.
func isEmptyPayload(p json.RawMessage) bool {
	return len(p) == 0 || string(p) == "null"
}
