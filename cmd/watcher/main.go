// watcher connects to the dashboard realtime socket and streams decoded
// events to the console.
// Usage: go run ./cmd/watcher --config configs/watcher.example.yaml
//
// A session is established from the api credentials in the config. For
// servers without the REST API, set socket.token to a pre-issued JWT
// instead.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Leantan337/avgym-realtime/internal/api"
	"github.com/Leantan337/avgym-realtime/internal/auth"
	"github.com/Leantan337/avgym-realtime/internal/config"
	"github.com/Leantan337/avgym-realtime/internal/logging"
	"github.com/Leantan337/avgym-realtime/internal/model"
	"github.com/Leantan337/avgym-realtime/internal/realtime"
	"github.com/Leantan337/avgym-realtime/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/watcher.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full payload JSON")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}

	logger := logging.New(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting watcher",
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

	conn := realtime.New(socketConfig(cfg.Socket), logger)

	// Console subscriptions.
	conn.Subscribe(model.TypeConnectionStatus, func(payload json.RawMessage) {
		var status string
		_ = json.Unmarshal(payload, &status)
		fmt.Printf("[STATUS] %s\n", status)
	})
	conn.Subscribe(model.TypeMemberCheckedIn, printEvent("CHECK-IN", *verbose))
	conn.Subscribe(model.TypeMemberCheckedOut, printEvent("CHECK-OUT", *verbose))
	conn.Subscribe(model.TypeInitialStats, printStats("INITIAL STATS", *verbose))
	conn.Subscribe(model.TypeStatsUpdate, printStats("STATS", *verbose))
	conn.Subscribe(model.TypeActivityNotification, printActivity(*verbose))

	// A fresh token triggers the first dial, so neither branch needs an
	// explicit Connect.
	if cfg.API.BaseURL != "" {
		client := api.NewClient(cfg.API.BaseURL,
			api.WithLogger(logger),
			api.WithTimeout(cfg.API.Timeout),
			api.WithRetries(cfg.API.MaxRetries, time.Second),
		)
		refresher := auth.NewRefresher(auth.DefaultRefresherConfig(), client, cfg.API.Username, cfg.API.Password, logger)
		refresher.AddSink(conn.SetAuthToken)

		go func() {
			if err := refresher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("session refresher exited", "err", err)
				cancel()
			}
		}()
	} else {
		logger.Info("using static socket token")
		conn.SetAuthToken(cfg.Socket.Token)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := conn.Stats()
				logger.Info("socket stats",
					"status", stats.Status,
					"received", stats.FramesReceived,
					"dispatched", stats.FramesDispatched,
					"parse_errors", stats.ParseErrors,
					"dropped", stats.DroppedFrames,
					"batches_sent", stats.BatchesSent,
					"pending_commands", stats.PendingCommands,
					"missed_heartbeats", stats.MissedHeartbeats,
				)
			}
		}
	}()

	logger.Info("watching - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	conn.Close()
	logger.Info("watcher stopped")
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

func printEvent(label string, verbose bool) realtime.Handler {
	return func(payload json.RawMessage) {
		if verbose {
			data, _ := json.MarshalIndent(payload, "", "  ")
			fmt.Printf("[%s] %s\n", label, data)
			return
		}
		ev, err := model.DecodeCheckInEvent(payload)
		if err != nil {
			fmt.Printf("[%s] undecodable: %v\n", label, err)
			return
		}
		fmt.Printf("[%s] member=%q id=%s time=%s status=%s\n",
			label, ev.Member.FullName, ev.ID, ev.CheckInTime.Format(time.RFC3339), ev.Status)
	}
}

func printStats(label string, verbose bool) realtime.Handler {
	return func(payload json.RawMessage) {
		if verbose {
			data, _ := json.MarshalIndent(payload, "", "  ")
			fmt.Printf("[%s] %s\n", label, data)
			return
		}
		s, err := model.DecodeStats(payload)
		if err != nil {
			fmt.Printf("[%s] undecodable: %v\n", label, err)
			return
		}
		fmt.Printf("[%s] currently_in=%d today_total=%d avg_stay=%dm\n",
			label, s.CurrentlyIn, s.TodayTotal, s.AverageStayMinutes)
	}
}

func printActivity(verbose bool) realtime.Handler {
	return func(payload json.RawMessage) {
		if verbose {
			data, _ := json.MarshalIndent(payload, "", "  ")
			fmt.Printf("[ACTIVITY] %s\n", data)
			return
		}
		n, err := model.DecodeActivity(payload)
		if err != nil {
			fmt.Printf("[ACTIVITY] undecodable: %v\n", err)
			return
		}
		fmt.Printf("[ACTIVITY] %s %s at %s\n",
			n.MemberName, n.Action, n.Timestamp.Format(time.TimeOnly))
	}
}
