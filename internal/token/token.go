package token

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/axisop/outpost/internal/config"
	"github.com/axisop/outpost/internal/message"
	"github.com/axisop/outpost/internal/provider"
	"github.com/axisop/outpost/internal/version"
)

// ProviderName is the registry key and namespace segment of this
// provider. The runtime resolves credentials through it, and the server
// addresses it with client.* message types.
const ProviderName = "client"

// State directory file names.
const (
	tokenFile  = "token"
	expiryFile = "token.expiry"
)

// RefreshType is the outbound rotation request message type.
const RefreshType = "client.token.refresh"

// Source is the credential sub-contract the runtime depends on.
// Token is synchronous and in-memory only; it never blocks or performs
// I/O.
type Source interface {
	Token() (string, bool)
}

// Provider is the credential provider instance. All state is owned
// here; there are no package-level token variables.
type Provider struct {
	logger *slog.Logger
	cfg    config.TokenConfig

	mu     sync.Mutex
	dir    string
	value  string
	expiry time.Time // zero when the server issued no expiry

	refreshMu   sync.Mutex
	stopRefresh chan struct{} // nil while the refresh timer is disarmed
}

// New creates the credential provider.
func New(cfg config.TokenConfig, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		logger: logger.With("provider", ProviderName),
		cfg:    cfg,
	}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return ProviderName }

// Version implements provider.Provider.
func (p *Provider) Version() string { return version.Version }

// Setup loads the persisted token if one exists; otherwise it adopts
// and persists the configured bootstrap token. With neither, the token
// stays unset and the runtime fails fast at connect time.
func (p *Provider) Setup(env *provider.Env) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.dir = env.StateDir

	data, err := os.ReadFile(filepath.Join(p.dir, tokenFile))
	if err == nil && len(data) > 0 {
		p.value = string(data)
		p.expiry = p.loadExpiry()
		p.logger.Info("loaded persisted token")
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		p.logger.Warn("token file unreadable, falling back to configured token", "error", err)
	}

	if p.cfg.Initial == "" {
		p.logger.Warn("no persisted token and no configured token")
		return nil
	}

	p.value = p.cfg.Initial
	p.expiry = time.Time{}
	p.persistLocked()
	p.logger.Info("adopted configured bootstrap token")
	return nil
}

// Handlers implements provider.MessageHandler. The server rotates the
// credential with {"type":"client.token.issue","token":...}.
func (p *Provider) Handlers() map[string]provider.HandlerFunc {
	return map[string]provider.HandlerFunc{
		"token.issue": p.handleIssue,
	}
}

// Token returns the current in-memory token. The second return is
// false while no token is set.
func (p *Provider) Token() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.value != ""
}

// Expiry returns the expiry of the current token; zero when the server
// issued none.
func (p *Provider) Expiry() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expiry
}

// handleIssue replaces the in-memory token first, then persists it.
// Persistence failure is logged; the new token remains usable for the
// current connection regardless.
func (p *Provider) handleIssue(msg *message.Message, conn provider.Conn, env *provider.Env) error {
	tok := msg.String("token")
	if tok == "" {
		return errors.New("token.issue without token field")
	}

	var expiry time.Time
	if raw := msg.String("expires_at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			p.logger.Warn("token.issue has unparseable expires_at, ignoring it", "value", raw, "error", err)
		} else {
			expiry = t
		}
	}

	p.mu.Lock()
	p.value = tok
	p.expiry = expiry
	p.persistLocked()
	p.mu.Unlock()

	p.logger.Info("token rotated by server")
	return nil
}

// OnConnect arms the fixed-interval refresh timer.
func (p *Provider) OnConnect(conn provider.Conn, env *provider.Env) error {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	if p.stopRefresh != nil {
		return nil // already armed
	}
	stop := make(chan struct{})
	p.stopRefresh = stop
	go p.refreshLoop(conn, stop)
	return nil
}

// OnDisconnect disarms the refresh timer.
func (p *Provider) OnDisconnect(conn provider.Conn, env *provider.Env) error {
	p.disarm()
	return nil
}

// OnStop disarms the refresh timer.
func (p *Provider) OnStop(reason string, conn provider.Conn, env *provider.Env) error {
	p.disarm()
	return nil
}

func (p *Provider) disarm() {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()
	if p.stopRefresh != nil {
		close(p.stopRefresh)
		p.stopRefresh = nil
	}
}

// refreshLoop requests token rotation at the configured fixed interval.
// A tick racing a disconnect sends on a closed connection, which fails
// without I/O and is logged as a no-op.
func (p *Provider) refreshLoop(conn provider.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.Send(message.New(RefreshType, nil)); err != nil {
				p.logger.Debug("token refresh tick without open connection", "error", err)
				continue
			}
			p.logger.Debug("requested token refresh")
		}
	}
}

// persistLocked writes the token (and expiry, when set) to the state
// directory. Caller holds p.mu.
func (p *Provider) persistLocked() {
	if p.dir == "" {
		return
	}

	if err := os.WriteFile(filepath.Join(p.dir, tokenFile), []byte(p.value), 0o600); err != nil {
		p.logger.Warn("failed to persist token, in-memory token stays authoritative", "error", err)
		return
	}

	expiryPath := filepath.Join(p.dir, expiryFile)
	if p.expiry.IsZero() {
		if err := os.Remove(expiryPath); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("failed to remove stale expiry file", "error", err)
		}
		return
	}
	if err := os.WriteFile(expiryPath, []byte(p.expiry.Format(time.RFC3339)), 0o600); err != nil {
		p.logger.Warn("failed to persist token expiry", "error", err)
	}
}

// loadExpiry reads the optional expiry file. Caller holds p.mu.
func (p *Provider) loadExpiry() time.Time {
	data, err := os.ReadFile(filepath.Join(p.dir, expiryFile))
	if err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, string(data))
	if err != nil {
		p.logger.Warn("unparseable token expiry file, ignoring it", "error", err)
		return time.Time{}
	}
	return t
}
