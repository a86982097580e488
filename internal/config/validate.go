package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.URL == "" {
		return errors.New("server.url is required")
	}
	if !strings.HasPrefix(c.Server.URL, "ws://") && !strings.HasPrefix(c.Server.URL, "wss://") {
		return fmt.Errorf("server.url must be a ws:// or wss:// URL, got %q", c.Server.URL)
	}

	if c.Server.HandshakeTimeout <= 0 {
		return errors.New("server.handshake_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return errors.New("server.write_timeout must be positive")
	}
	if c.Server.BufferSize < 1 {
		return errors.New("server.buffer_size must be >= 1")
	}

	if c.Token.RefreshInterval <= 0 {
		return errors.New("token.refresh_interval must be positive")
	}
	if c.Reconnect.Delay <= 0 {
		return errors.New("reconnect.delay must be positive")
	}
	if c.State.Dir == "" {
		return errors.New("state.dir is required")
	}

	if c.Journal.Enabled {
		if err := c.Journal.DB.validate("journal.db"); err != nil {
			return err
		}
	}

	return nil
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
