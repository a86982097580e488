package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingTimeout      = 30 * time.Second
	DefaultBufferSize       = 256
	DefaultRefreshInterval  = 8 * time.Hour
	DefaultReconnectDelay   = 30 * time.Second
	DefaultStateDir         = "/var/lib/outpost"
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 4
	DefaultMinConns         = 1
)

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.HandshakeTimeout == 0 {
		c.Server.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.PingTimeout == 0 {
		c.Server.PingTimeout = DefaultPingTimeout
	}
	if c.Server.BufferSize == 0 {
		c.Server.BufferSize = DefaultBufferSize
	}

	// Token defaults
	if c.Token.RefreshInterval == 0 {
		c.Token.RefreshInterval = DefaultRefreshInterval
	}

	// Reconnect defaults
	if c.Reconnect.Delay == 0 {
		c.Reconnect.Delay = DefaultReconnectDelay
	}

	// State defaults
	if c.State.Dir == "" {
		c.State.Dir = DefaultStateDir
	}

	// Journal defaults (only meaningful when enabled)
	if c.Journal.Enabled {
		applyDBDefaults(&c.Journal.DB)
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
