package config

import "time"

// Config is the root configuration shared by the watcher and recorder
// binaries.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	API      APIConfig      `yaml:"api"`
	Socket   SocketConfig   `yaml:"socket"`
	Database DatabaseConfig `yaml:"database"`
	Recorder RecorderConfig `yaml:"recorder"`
	Poller   PollerConfig   `yaml:"poller"`
	Health   HealthConfig   `yaml:"health"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this process in logs and health output.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds dashboard REST API settings. Username/password obtain a
// JWT session; a pre-issued token can be set on the socket instead.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// SocketConfig holds realtime socket settings.
type SocketConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"` // static token; ignored when api credentials are set

	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	PingInterval        time.Duration `yaml:"ping_interval"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout    time.Duration `yaml:"heartbeat_timeout"`
	MaxMissedHeartbeats int           `yaml:"max_missed_heartbeats"`

	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	MinReconnectDelay    time.Duration `yaml:"min_reconnect_delay"`
	MaxReconnectDelay    time.Duration `yaml:"max_reconnect_delay"`

	BatchFlushInterval time.Duration `yaml:"batch_flush_interval"`
	BatchTypes         []string      `yaml:"batch_types"`
}

// DatabaseConfig holds the Postgres connection for recorded events.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RecorderConfig holds event recorder batching settings.
type RecorderConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// PollerConfig holds the REST stats fallback poller settings.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text (colored on terminals) or json
}
