package realtime

import "time"

// The outbound batcher bounds send frequency for chatty event types: calls
// to Send for a whitelisted type land in a buffer, and a self-disarming
// timer flushes the buffer as one batch frame per window. The first entry
// into an empty buffer arms the timer; the flush disarms it, and entries
// arriving afterwards arm exactly one more. Worst-case added latency is one
// flush window, and the buffer is drained every window regardless of size.

// batchEntry is one buffered outbound message.
type batchEntry struct {
	Type string
	Data any
	At   time.Time
}

func (c *Conn) enqueueBatch(msgType string, data any) {
	c.batchMu.Lock()
	c.buffer = append(c.buffer, batchEntry{Type: msgType, Data: data, At: time.Now()})
	if !c.batchArmed {
		c.batchArmed = true
		c.batchTimer = time.AfterFunc(c.cfg.BatchFlushInterval, c.flushBatch)
	}
	c.batchMu.Unlock()
}

// flushBatch groups the buffered entries by type, preserving per-type
// order, and sends them as a single batch frame. Buffered entries are
// dropped with a log when the link is down at flush time; batched types
// are loss-tolerant by contract and only commands get the pending queue.
func (c *Conn) flushBatch() {
	c.batchMu.Lock()
	entries := c.buffer
	c.buffer = nil
	c.batchArmed = false
	c.batchMu.Unlock()

	if len(entries) == 0 {
		return
	}

	batches := make(map[string][]any)
	for _, e := range entries {
		batches[e.Type] = append(batches[e.Type], e.Data)
	}

	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()

	if t == nil {
		c.mu.Lock()
		c.droppedFrames += int64(len(entries))
		c.mu.Unlock()
		c.logger.Debug("batched messages dropped, not connected", "count", len(entries))
		return
	}

	if err := t.writeJSON(batchFrame{Type: frameBatch, Batches: batches}); err != nil {
		c.transportError(t.gen, err)
		return
	}

	c.mu.Lock()
	c.batchesSent++
	c.mu.Unlock()
	c.logger.Debug("batch flushed", "messages", len(entries), "types", len(batches))
}

// stopBatchTimer disarms the flush timer and clears the buffer. Used at
// shutdown only; a plain disconnect keeps the batcher running since batched
// sends are accepted in every state.
func (c *Conn) stopBatchTimer() {
	c.batchMu.Lock()
	if c.batchTimer != nil {
		c.batchTimer.Stop()
		c.batchTimer = nil
	}
	c.batchArmed = false
	c.buffer = nil
	c.batchMu.Unlock()
}
