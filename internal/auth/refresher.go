package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Leantan337/avgym-realtime/internal/api"
)

// TokenSink receives each new access token. The realtime connection's
// SetAuthToken satisfies this signature.
type TokenSink func(token string)

// RefresherConfig controls refresh scheduling and retry behavior.
type RefresherConfig struct {
	RefreshLead      time.Duration // refresh this long before the access token expires
	MinInterval      time.Duration // floor between refreshes
	FallbackInterval time.Duration // used when the token carries no readable expiry

	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// DefaultRefresherConfig returns the default refresher configuration.
func DefaultRefresherConfig() RefresherConfig {
	return RefresherConfig{
		RefreshLead:          time.Minute,
		MinInterval:          10 * time.Second,
		FallbackInterval:     4 * time.Minute,
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     30 * time.Second,
	}
}

// Refresher obtains a JWT session with the configured credentials and
// rotates the access token before it expires. Every new access token is
// pushed to the registered sinks.
type Refresher struct {
	cfg      RefresherConfig
	client   *api.Client
	username string
	password string
	logger   *slog.Logger
	sinks    []TokenSink

	mu   sync.Mutex
	pair *api.TokenPair
}

// NewRefresher creates a session refresher. Pass nil for logger to use
// the default.
func NewRefresher(cfg RefresherConfig, client *api.Client, username, password string, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		cfg:      cfg,
		client:   client,
		username: username,
		password: password,
		logger:   logger.With("component", "refresher"),
	}
}

// AddSink registers a receiver for new access tokens. Register sinks
// before calling Run.
func (r *Refresher) AddSink(sink TokenSink) {
	r.sinks = append(r.sinks, sink)
}

// Pair returns the current token pair, or nil before the first login.
func (r *Refresher) Pair() *api.TokenPair {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pair
}

// Run logs in and keeps the session fresh until the context is canceled.
// It returns a non-context error only when the credentials are rejected.
func (r *Refresher) Run(ctx context.Context) error {
	if err := r.establish(ctx); err != nil {
		return err
	}

	for {
		wait := r.nextRefreshIn()
		r.logger.Debug("next token refresh scheduled", "in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := r.refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Refresh token rejected; start a fresh session.
			r.logger.Warn("token refresh rejected, logging in again", "error", err)
			if err := r.establish(ctx); err != nil {
				return err
			}
		}
	}
}

func (r *Refresher) establish(ctx context.Context) error {
	pair, err := r.withRetry(ctx, func() (*api.TokenPair, error) {
		return r.client.Login(ctx, r.username, r.password)
	})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	r.logger.Info("session established")
	r.store(pair)
	r.distribute(pair.Access)
	return nil
}

func (r *Refresher) refresh(ctx context.Context) error {
	r.mu.Lock()
	refresh := ""
	if r.pair != nil {
		refresh = r.pair.Refresh
	}
	r.mu.Unlock()

	pair, err := r.withRetry(ctx, func() (*api.TokenPair, error) {
		return r.client.RefreshToken(ctx, refresh)
	})
	if err != nil {
		return err
	}

	r.logger.Debug("access token rotated")
	r.store(pair)
	r.distribute(pair.Access)
	return nil
}

// withRetry runs op with exponential backoff. Auth rejections surface
// immediately; transient failures retry until the context is canceled.
func (r *Refresher) withRetry(ctx context.Context, op func() (*api.TokenPair, error)) (*api.TokenPair, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = r.cfg.RetryInitialInterval
	expBackoff.MaxInterval = r.cfg.RetryMaxInterval
	expBackoff.Reset()

	for {
		pair, err := op()
		if err == nil {
			return pair, nil
		}

		var apiErr *api.APIError
		if errors.As(err, &apiErr) && !apiErr.IsRetryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		delay := expBackoff.NextBackOff()
		if delay == backoff.Stop {
			return nil, err
		}
		r.logger.Warn("session request failed, retrying", "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Refresher) nextRefreshIn() time.Duration {
	r.mu.Lock()
	access := ""
	if r.pair != nil {
		access = r.pair.Access
	}
	r.mu.Unlock()

	expiry, err := TokenExpiry(access)
	if err != nil {
		r.logger.Warn("cannot read token expiry", "error", err)
		return r.cfg.FallbackInterval
	}

	wait := time.Until(expiry) - r.cfg.RefreshLead
	if wait < r.cfg.MinInterval {
		wait = r.cfg.MinInterval
	}
	return wait
}

func (r *Refresher) store(pair *api.TokenPair) {
	r.mu.Lock()
	r.pair = pair
	r.mu.Unlock()
}

func (r *Refresher) distribute(access string) {
	for _, sink := range r.sinks {
		sink(access)
	}
}
