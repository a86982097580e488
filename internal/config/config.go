package config

import "time"

// Config is the root configuration for an agent instance.
type Config struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Server    ServerConfig    `yaml:"server"`
	Token     TokenConfig     `yaml:"token"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	State     StateConfig     `yaml:"state"`
	Journal   JournalConfig   `yaml:"journal"`
}

// InstanceConfig identifies this agent.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the upstream connection settings.
type ServerConfig struct {
	URL              string        `yaml:"url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	BufferSize       int           `yaml:"buffer_size"`
}

// TokenConfig holds credential settings.
type TokenConfig struct {
	// Initial is the bootstrap token used when the state directory has
	// no persisted token yet. A persisted token always wins over it.
	Initial string `yaml:"initial"`

	// RefreshInterval is the fixed period between client.token.refresh
	// requests while the connection is open.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// ReconnectConfig holds the retry policy after a disconnect.
type ReconnectConfig struct {
	// Delay is the fixed wait before the single scheduled reconnection
	// attempt. No backoff, no jitter, no attempt cap.
	Delay time.Duration `yaml:"delay"`
}

// StateConfig holds the persistent state directory.
type StateConfig struct {
	Dir string `yaml:"dir"`
}

// JournalConfig holds the optional session journal settings.
type JournalConfig struct {
	Enabled bool     `yaml:"enabled"`
	DB      DBConfig `yaml:"db"`
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
