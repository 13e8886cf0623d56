package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultDialTimeout          = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultHeartbeatInterval    = 10 * time.Second
	DefaultHeartbeatTimeout     = 15 * time.Second
	DefaultMaxMissedHeartbeats  = 2
	DefaultMaxReconnectAttempts = 5
	DefaultMinReconnectDelay    = 1 * time.Second
	DefaultMaxReconnectDelay    = 30 * time.Second
	DefaultBatchFlushInterval   = 100 * time.Millisecond
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultBatchSize            = 200
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 1000
	DefaultPollInterval         = 30 * time.Second
	DefaultHealthPort           = 8080
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

func (c *Config) applyDefaults() {
	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Socket defaults
	if c.Socket.DialTimeout == 0 {
		c.Socket.DialTimeout = DefaultDialTimeout
	}
	if c.Socket.WriteTimeout == 0 {
		c.Socket.WriteTimeout = DefaultWriteTimeout
	}
	if c.Socket.PingInterval == 0 {
		c.Socket.PingInterval = DefaultPingInterval
	}
	if c.Socket.HeartbeatInterval == 0 {
		c.Socket.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Socket.HeartbeatTimeout == 0 {
		c.Socket.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Socket.MaxMissedHeartbeats == 0 {
		c.Socket.MaxMissedHeartbeats = DefaultMaxMissedHeartbeats
	}
	if c.Socket.MaxReconnectAttempts == 0 {
		c.Socket.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Socket.MinReconnectDelay == 0 {
		c.Socket.MinReconnectDelay = DefaultMinReconnectDelay
	}
	if c.Socket.MaxReconnectDelay == 0 {
		c.Socket.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if c.Socket.BatchFlushInterval == 0 {
		c.Socket.BatchFlushInterval = DefaultBatchFlushInterval
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Recorder defaults
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
