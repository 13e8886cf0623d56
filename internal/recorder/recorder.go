package recorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Leantan337/avgym-realtime/internal/model"
	"github.com/Leantan337/avgym-realtime/internal/realtime"
)

// EventSource is the subscription surface of the realtime connection.
type EventSource interface {
	Subscribe(msgType string, fn realtime.Handler) func()
}

// Recorder consumes check-in events from the buffer and writes them to
// the check_in_events table.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	// Input from the realtime connection
	input *GrowableBuffer[Event]

	// Database
	db *pgxpool.Pool

	// Batching
	batch       []eventRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics Metrics
}

// New creates a new Recorder reading from input.
func New(cfg Config, input *GrowableBuffer[Event], db *pgxpool.Pool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]eventRow, 0, cfg.BatchSize),
	}
}

// Attach subscribes the recorder's buffer to member check-in and
// check-out events. The returned function removes both subscriptions.
func (r *Recorder) Attach(src EventSource) func() {
	push := func(msgType string) realtime.Handler {
		return func(payload json.RawMessage) {
			if !r.input.Send(Event{Type: msgType, Payload: payload, ReceivedAt: time.Now()}) {
				r.logger.Warn("event buffer closed, dropping event", "type", msgType)
			}
		}
	}

	unsubIn := src.Subscribe(model.TypeMemberCheckedIn, push(model.TypeMemberCheckedIn))
	unsubOut := src.Subscribe(model.TypeMemberCheckedOut, push(model.TypeMemberCheckedOut))
	return func() {
		unsubIn()
		unsubOut()
	}
}

// Start begins consuming events and writing to the database.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	// Consumer goroutine
	r.wg.Add(1)
	go r.consumeLoop()

	// Flush ticker goroutine
	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the recorder.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	if r.cancel != nil {
		r.cancel()
	}

	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("recorder stopped")
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
	}

	// Final flush on the shutdown context; the run context is gone.
	r.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.metrics
}

// consumeLoop reads from the input buffer and accumulates batches.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
			// Use TryReceive with context check for responsiveness
			ev, ok := r.input.TryReceive()
			if !ok {
				// Buffer empty, wait a bit before trying again
				select {
				case <-r.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			r.handleEvent(ev)
		}
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush(r.ctx)
		}
	}
}

// handleEvent transforms and adds an event to the batch.
func (r *Recorder) handleEvent(ev Event) {
	row, err := r.transform(ev)
	if err != nil {
		r.logger.Warn("dropping malformed event", "type", ev.Type, "error", err)
		r.batchMu.Lock()
		r.metrics.Dropped++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.batch = append(r.batch, row)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush(r.ctx)
	}
}

// transform converts a raw Event to an eventRow.
func (r *Recorder) transform(ev Event) (eventRow, error) {
	ci, err := model.DecodeCheckInEvent(ev.Payload)
	if err != nil {
		return eventRow{}, err
	}

	return eventRow{
		EventID:      ci.ID.String(),
		EventType:    ev.Type,
		MemberID:     ci.Member.ID.String(),
		MemberName:   ci.Member.FullName,
		CheckInTime:  ci.CheckInTime,
		CheckOutTime: ci.CheckOutTime,
		Status:       ci.Status,
		ReceivedAt:   ev.ReceivedAt,
	}, nil
}

// flush writes the current batch to the database.
func (r *Recorder) flush(ctx context.Context) {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := r.batch
	r.batch = make([]eventRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	conflicts, err := r.batchInsert(ctx, batch)
	if err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.metrics.Errors++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.metrics.Inserts += int64(len(batch) - conflicts)
	r.metrics.Conflicts += int64(conflicts)
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed check-in events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (r *Recorder) batchInsert(ctx context.Context, rows []eventRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO check_in_events (event_id, event_type, member_id, member_name, check_in_time, check_out_time, status, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (event_id, event_type) DO NOTHING
		`, row.EventID, row.EventType, row.MemberID, row.MemberName, row.CheckInTime, row.CheckOutTime, row.Status, row.ReceivedAt)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
