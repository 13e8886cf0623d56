// recorder connects to the dashboard realtime socket, records check-in
// events to Postgres, and serves /health.
// Usage: go run ./cmd/recorder --config configs/recorder.example.yaml
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/Leantan337/avgym-realtime/internal/api"
	"github.com/Leantan337/avgym-realtime/internal/auth"
	"github.com/Leantan337/avgym-realtime/internal/config"
	"github.com/Leantan337/avgym-realtime/internal/database"
	"github.com/Leantan337/avgym-realtime/internal/logging"
	"github.com/Leantan337/avgym-realtime/internal/model"
	"github.com/Leantan337/avgym-realtime/internal/poller"
	"github.com/Leantan337/avgym-realtime/internal/realtime"
	"github.com/Leantan337/avgym-realtime/internal/recorder"
	"github.com/Leantan337/avgym-realtime/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/recorder.example.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.RequireDatabase(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting recorder",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Postgres.Host,
		"port", cfg.Database.Postgres.Port,
		"database", cfg.Database.Postgres.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database.Postgres)
	if err != nil {
		logger.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("database connected")

	conn := realtime.New(socketConfig(cfg.Socket), logger)

	// Recorder: socket events -> buffer -> batched inserts.
	buffer := recorder.NewGrowableBuffer[recorder.Event](cfg.Recorder.BufferSize)
	rec := recorder.New(recorder.Config{
		BatchSize:     cfg.Recorder.BatchSize,
		FlushInterval: cfg.Recorder.FlushInterval,
		BufferSize:    cfg.Recorder.BufferSize,
	}, buffer, pool, logger)

	detach := rec.Attach(conn)
	defer detach()

	if err := rec.Start(ctx); err != nil {
		logger.Error("failed to start recorder", "err", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Session and stats fallback need the REST API; with a static socket
	// token the recorder runs on socket data alone.
	var pol *poller.Poller
	if cfg.API.BaseURL != "" {
		client := api.NewClient(cfg.API.BaseURL,
			api.WithLogger(logger),
			api.WithTimeout(cfg.API.Timeout),
			api.WithRetries(cfg.API.MaxRetries, time.Second),
		)

		refresher := auth.NewRefresher(auth.DefaultRefresherConfig(), client, cfg.API.Username, cfg.API.Password, logger)
		refresher.AddSink(conn.SetAuthToken)
		g.Go(func() error {
			err := refresher.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})

		pollCfg := poller.DefaultConfig()
		if cfg.Poller.Interval > 0 {
			pollCfg.Interval = cfg.Poller.Interval
		}
		pol = poller.New(pollCfg, client, conn, poller.StatsHandlerFunc(func(s model.CheckInStats) error {
			logger.Info("fallback stats",
				"currently_in", s.CurrentlyIn,
				"today_total", s.TodayTotal,
			)
			return nil
		}), logger)
		if err := pol.Start(ctx); err != nil {
			logger.Error("failed to start stats poller", "err", err)
			os.Exit(1)
		}
	} else {
		logger.Info("using static socket token")
		conn.SetAuthToken(cfg.Socket.Token)
	}

	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(pool, conn, rec, pol, logger),
	}

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	logger.Info("recorder running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	// Wait for shutdown or a fatal component error.
	select {
	case <-ctx.Done():
	case <-gctx.Done():
		cancel()
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	healthServer.Shutdown(shutdownCtx)
	conn.Close()
	if pol != nil {
		pol.Stop(shutdownCtx)
	}
	if err := rec.Stop(shutdownCtx); err != nil {
		logger.Warn("recorder did not drain cleanly", "err", err)
	}

	if err := g.Wait(); err != nil {
		logger.Error("component failed", "err", err)
		os.Exit(1)
	}

	logger.Info("recorder stopped")
}

// socketConfig maps the YAML socket section onto the realtime config.
func socketConfig(s config.SocketConfig) realtime.Config {
	rc := realtime.DefaultConfig()
	rc.URL = s.URL
	rc.DialTimeout = s.DialTimeout
	rc.WriteTimeout = s.WriteTimeout
	rc.PingInterval = s.PingInterval
	rc.HeartbeatInterval = s.HeartbeatInterval
	rc.HeartbeatTimeout = s.HeartbeatTimeout
	rc.MaxMissedHeartbeats = s.MaxMissedHeartbeats
	rc.MaxReconnectAttempts = s.MaxReconnectAttempts
	rc.MinReconnectDelay = s.MinReconnectDelay
	rc.MaxReconnectDelay = s.MaxReconnectDelay
	rc.BatchFlushInterval = s.BatchFlushInterval
	if len(s.BatchTypes) > 0 {
		rc.BatchTypes = s.BatchTypes
	}
	return rc
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(pool *pgxpool.Pool, conn *realtime.Conn, rec *recorder.Recorder, pol *poller.Poller, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		// Check database
		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}

		// Check socket
		status := conn.Status()
		health.Components["socket"] = string(status)
		if status != realtime.StatusConnected && health.Status == "healthy" {
			health.Status = "degraded"
		}

		// Recorder totals
		metrics := rec.Stats()
		health.Components["recorder"] = map[string]int64{
			"inserts":   metrics.Inserts,
			"conflicts": metrics.Conflicts,
			"errors":    metrics.Errors,
			"dropped":   metrics.Dropped,
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/stats", func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{
			"socket":   conn.Stats(),
			"recorder": rec.Stats(),
		}
		if pol != nil {
			out["poller"] = pol.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	})

	return mux
}
