package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
// Database settings are validated only when a host is configured; the
// watcher runs without one.
func (c *Config) Validate() error {
	if c.Socket.URL == "" {
		return errors.New("socket.url is required")
	}

	if c.API.BaseURL != "" {
		if c.API.Username == "" {
			return errors.New("api.username is required when api.base_url is set")
		}
		if c.API.Password == "" {
			return errors.New("api.password is required when api.base_url is set")
		}
	} else if c.Socket.Token == "" {
		return errors.New("either api.base_url or socket.token must be set")
	}

	if c.Socket.MaxMissedHeartbeats < 1 {
		return errors.New("socket.max_missed_heartbeats must be >= 1")
	}
	if c.Socket.MaxReconnectAttempts < 1 {
		return errors.New("socket.max_reconnect_attempts must be >= 1")
	}
	if c.Socket.MinReconnectDelay > c.Socket.MaxReconnectDelay {
		return fmt.Errorf("socket.min_reconnect_delay (%s) cannot exceed max_reconnect_delay (%s)",
			c.Socket.MinReconnectDelay, c.Socket.MaxReconnectDelay)
	}

	if c.Database.Postgres.Host != "" {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	}

	if c.Recorder.BatchSize < 1 {
		return errors.New("recorder.batch_size must be >= 1")
	}
	if c.Recorder.BufferSize < 1 {
		return errors.New("recorder.buffer_size must be >= 1")
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

// RequireDatabase checks that the recorded-events database is configured.
// The recorder binary calls this on top of Validate.
func (c *Config) RequireDatabase() error {
	return c.Database.Postgres.validate("database.postgres")
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
