package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Leantan337/avgym-realtime/internal/api"
	"github.com/Leantan337/avgym-realtime/internal/model"
	"github.com/Leantan337/avgym-realtime/internal/realtime"
)

// StatusSource reports the realtime connection state. A nil source means
// the poller has no socket to defer to and polls unconditionally.
type StatusSource interface {
	Status() realtime.Status
}

// StatsHandler receives fetched stats.
type StatsHandler interface {
	HandleStats(stats model.CheckInStats) error
}

// StatsHandlerFunc is a function adapter for StatsHandler.
type StatsHandlerFunc func(model.CheckInStats) error

func (f StatsHandlerFunc) HandleStats(s model.CheckInStats) error {
	return f(s)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval (default: 30s)
	Timeout  time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// Stats is a snapshot of poller counters.
type Stats struct {
	Polls   int64 // Completed fetches.
	Skipped int64 // Cycles skipped because the socket was connected.
	Errors  int64 // Failed fetches.
}

// Poller periodically fetches dashboard stats via REST while the
// realtime socket is down.
type Poller struct {
	cfg     Config
	client  *api.Client
	socket  StatusSource
	handler StatsHandler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	polls   atomic.Int64
	skipped atomic.Int64
	errors  atomic.Int64
}

// New creates a new Poller.
func New(cfg Config, client *api.Client, socket StatusSource, handler StatsHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:     cfg,
		client:  client,
		socket:  socket,
		handler: handler,
		logger:  logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("stats poller started",
		"interval", p.cfg.Interval,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("stats poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of poller counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Polls:   p.polls.Load(),
		Skipped: p.skipped.Load(),
		Errors:  p.errors.Load(),
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.poll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll fetches stats once, unless the socket currently covers them.
func (p *Poller) poll() {
	if p.socket != nil && p.socket.Status() == realtime.StatusConnected {
		p.skipped.Add(1)
		p.logger.Debug("socket connected, skipping stats poll")
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := p.client.GetAdminStats(ctx)
	if err != nil {
		p.errors.Add(1)
		p.logger.Warn("failed to poll stats", "err", err)
		return
	}

	stats := resp.ToCheckInStats()
	p.polls.Add(1)

	if p.handler != nil {
		if err := p.handler.HandleStats(stats); err != nil {
			p.errors.Add(1)
			p.logger.Warn("stats handler failed", "err", err)
			return
		}
	}

	p.logger.Debug("stats poll complete",
		"currently_in", stats.CurrentlyIn,
		"today_total", stats.TodayTotal,
	)
}
