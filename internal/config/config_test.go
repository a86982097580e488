package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: agent-01
server:
  url: wss://control.example.com/agent
token:
  initial: bootstrap-token
state:
  dir: /tmp/outpost-test
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "agent-01" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "agent-01")
	}
	if cfg.Server.URL != "wss://control.example.com/agent" {
		t.Errorf("Server.URL = %q, want %q", cfg.Server.URL, "wss://control.example.com/agent")
	}
	if cfg.Token.Initial != "bootstrap-token" {
		t.Errorf("Token.Initial = %q, want %q", cfg.Token.Initial, "bootstrap-token")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_AGENT_TOKEN", "secret123")

	yaml := `
instance:
  id: agent-01
server:
  url: wss://control.example.com/agent
token:
  initial: ${TEST_AGENT_TOKEN}
state:
  dir: /tmp/outpost-test
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Token.Initial != "secret123" {
		t.Errorf("Token.Initial = %q, want %q", cfg.Token.Initial, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: agent-01
server:
  url: wss://control.example.com/agent
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Server.HandshakeTimeout != DefaultHandshakeTimeout {
		t.Errorf("Server.HandshakeTimeout = %v, want default %v", cfg.Server.HandshakeTimeout, DefaultHandshakeTimeout)
	}
	if cfg.Server.BufferSize != DefaultBufferSize {
		t.Errorf("Server.BufferSize = %d, want default %d", cfg.Server.BufferSize, DefaultBufferSize)
	}
	if cfg.Token.RefreshInterval != DefaultRefreshInterval {
		t.Errorf("Token.RefreshInterval = %v, want default %v", cfg.Token.RefreshInterval, DefaultRefreshInterval)
	}
	if cfg.Reconnect.Delay != DefaultReconnectDelay {
		t.Errorf("Reconnect.Delay = %v, want default %v", cfg.Reconnect.Delay, DefaultReconnectDelay)
	}
	if cfg.State.Dir != DefaultStateDir {
		t.Errorf("State.Dir = %q, want default %q", cfg.State.Dir, DefaultStateDir)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		Instance: InstanceConfig{ID: "agent-01"},
		Server: ServerConfig{
			URL:              "wss://control.example.com/agent",
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     5 * time.Second,
			PingTimeout:      30 * time.Second,
			BufferSize:       256,
		},
		Token:     TokenConfig{RefreshInterval: 8 * time.Hour},
		Reconnect: ReconnectConfig{Delay: 30 * time.Second},
		State:     StateConfig{Dir: "/var/lib/outpost"},
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing server url",
			mutate:  func(c *Config) { c.Server.URL = "" },
			wantErr: "server.url is required",
		},
		{
			name:    "non-websocket url",
			mutate:  func(c *Config) { c.Server.URL = "https://control.example.com" },
			wantErr: `server.url must be a ws:// or wss:// URL, got "https://control.example.com"`,
		},
		{
			name:    "missing state dir",
			mutate:  func(c *Config) { c.State.Dir = "" },
			wantErr: "state.dir is required",
		},
		{
			name:    "zero refresh interval",
			mutate:  func(c *Config) { c.Token.RefreshInterval = 0 },
			wantErr: "token.refresh_interval must be positive",
		},
		{
			name:    "zero reconnect delay",
			mutate:  func(c *Config) { c.Reconnect.Delay = 0 },
			wantErr: "reconnect.delay must be positive",
		},
		{
			name: "journal enabled without host",
			mutate: func(c *Config) {
				c.Journal = JournalConfig{Enabled: true, DB: DBConfig{Name: "db", User: "u", Password: "p", MaxConns: 4}}
			},
			wantErr: "journal.db.host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error %q, got nil", tt.wantErr)
			}
			if err.Error() != tt.wantErr {
				t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}
