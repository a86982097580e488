package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/axisop/outpost/internal/config"
	"github.com/axisop/outpost/internal/provider"
	"github.com/axisop/outpost/internal/version"
)

// ProviderName is the registry key of the journal provider.
const ProviderName = "journal"

const setupTimeout = 10 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS session_events (
	id          UUID PRIMARY KEY,
	instance_id TEXT NOT NULL,
	event       TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
)`

// Event is one recorded lifecycle transition.
type Event struct {
	ID         uuid.UUID
	InstanceID string
	Kind       string
	RecordedAt time.Time
}

// Provider persists session lifecycle transitions to Postgres.
type Provider struct {
	cfg    config.JournalConfig
	logger *slog.Logger

	instanceID string
	pool       *pgxpool.Pool
}

// New creates the journal provider.
func New(cfg config.JournalConfig, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		cfg:    cfg,
		logger: logger.With("provider", ProviderName),
	}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return ProviderName }

// Version implements provider.Provider.
func (p *Provider) Version() string { return version.Version }

// Setup connects the pool and ensures the events table. A returned
// error is isolated by the registry; the agent then runs journal-less.
func (p *Provider) Setup(env *provider.Env) error {
	p.instanceID = env.Settings.Instance.ID

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	pool, err := connect(ctx, p.cfg.DB)
	if err != nil {
		return fmt.Errorf("connect journal database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return fmt.Errorf("ensure session_events table: %w", err)
	}

	p.pool = pool
	p.logger.Info("session journal ready",
		"host", p.cfg.DB.Host,
		"database", p.cfg.DB.Name,
	)
	return nil
}

// connect creates a single connection pool.
func connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// OnConnect records the connected transition.
func (p *Provider) OnConnect(conn provider.Conn, env *provider.Env) error {
	p.record("connected")
	return nil
}

// OnDisconnect records the disconnected transition.
func (p *Provider) OnDisconnect(conn provider.Conn, env *provider.Env) error {
	p.record("disconnected")
	return nil
}

// OnStop records the final transition and releases the pool.
func (p *Provider) OnStop(reason string, conn provider.Conn, env *provider.Env) error {
	p.record("stopped." + reason)
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	return nil
}

// record inserts one event row. Insert failures are logged and
// dropped; the journal never blocks the lifecycle fan-out on a
// database problem.
func (p *Provider) record(kind string) {
	if p.pool == nil {
		return
	}

	ev := Event{
		ID:         uuid.New(),
		InstanceID: p.instanceID,
		Kind:       kind,
		RecordedAt: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := p.pool.Exec(ctx,
		`INSERT INTO session_events (id, instance_id, event, recorded_at) VALUES ($1, $2, $3, $4)`,
		ev.ID, ev.InstanceID, ev.Kind, ev.RecordedAt,
	)
	if err != nil {
		p.logger.Warn("failed to record session event",
			"event", kind,
			"error", err,
		)
		return
	}

	p.logger.Debug("session event recorded", "event", kind)
}
