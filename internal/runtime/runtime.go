package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/axisop/outpost/internal/config"
	"github.com/axisop/outpost/internal/message"
	"github.com/axisop/outpost/internal/provider"
	"github.com/axisop/outpost/internal/token"
	"github.com/axisop/outpost/internal/transport"
)

// Errors
var (
	ErrNoServerURL = errors.New("no server url configured")
	ErrNoToken     = errors.New("no connection token available")
	ErrNotOpen     = errors.New("connection is not open")
	ErrStopped     = errors.New("runtime stopped")
)

// StateType is the outbound type of the final status message sent
// during graceful stop.
const StateType = "client.state"

// Runtime owns the active connection and routes messages between it
// and the provider registry.
type Runtime struct {
	cfg    *config.Config
	env    *provider.Env
	reg    *provider.Registry
	logger *slog.Logger
	retry  *Reconnector

	mu       sync.Mutex
	session  *session
	stopping bool

	stopOnce sync.Once
	done     chan struct{}
}

// session wraps one live transport connection. It implements
// provider.Conn and guards the disconnect fan-out so it fires at most
// once per actual disconnect, whether triggered by the transport close
// event or explicitly during stop.
type session struct {
	rt   *Runtime
	conn *transport.Conn

	mu              sync.Mutex
	disconnectFired bool
}

// Send implements provider.Conn.
func (s *session) Send(msg *message.Message) error {
	return s.rt.sendOn(s.conn, msg)
}

// Open implements provider.Conn.
func (s *session) Open() bool {
	return s.conn.State() == transport.Open
}

// markDisconnected flips the guard; only the first caller gets true.
func (s *session) markDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnectFired {
		return false
	}
	s.disconnectFired = true
	return true
}

// New creates a runtime over the given environment. The registry is
// taken from the environment; providers must already be loaded and set
// up before Start.
func New(cfg *config.Config, env *provider.Env, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		cfg:    cfg,
		env:    env,
		reg:    env.Registry,
		logger: logger,
		retry:  NewReconnector(cfg.Reconnect.Delay, logger),
		done:   make(chan struct{}),
	}
}

// Start resolves credentials and dials the first session. It fails
// fast, with no connection attempt, when the server URL or the token
// cannot be resolved. A dial failure is not fatal: it is handed to the
// reconnection controller like any other transport error.
func (r *Runtime) Start(ctx context.Context) error {
	if r.cfg.Server.URL == "" {
		return ErrNoServerURL
	}
	tok, err := r.credentials()
	if err != nil {
		return err
	}

	if err := r.connect(ctx, tok); err != nil {
		if errors.Is(err, ErrStopped) {
			return err
		}
		r.logger.Warn("initial connection failed", "error", err)
		if !r.retry.Schedule(func() { r.reconnect(ctx) }) {
			return err
		}
	}
	return nil
}

// Stop performs graceful shutdown exactly once: it disables
// reconnection (cancelling a pending attempt), best-effort sends the
// final client.state message on an open connection, closes the
// transport, fans out disconnect (deduplicated against the transport's
// own close event) and then stop to all providers, and closes Done.
func (r *Runtime) Stop(reason string) {
	r.stopOnce.Do(func() {
		r.logger.Info("stopping", "reason", reason)

		r.retry.Disable()

		r.mu.Lock()
		r.stopping = true
		s := r.session
		r.mu.Unlock()

		if s != nil {
			if s.Open() {
				stopMsg := message.New(StateType, map[string]any{
					"state": "stopped." + reason,
				})
				if err := r.sendOn(s.conn, stopMsg); err != nil {
					r.logger.Debug("could not send final state message", "error", err)
				}
			}
			s.conn.Close()

			// The transport close event is not guaranteed to fire
			// synchronously after a local close, so fan out here; the
			// session guard keeps it to once per disconnect.
			if s.markDisconnected() {
				r.reg.FanOutDisconnect(s, r.env)
			}
			r.reg.FanOutStop(reason, s, r.env)
		} else {
			r.reg.FanOutStop(reason, nil, r.env)
		}

		close(r.done)
	})
}

// Done closes after Stop has completed its fan-outs.
func (r *Runtime) Done() <-chan struct{} {
	return r.done
}

// Send transmits one message on the current session. It fails with a
// descriptive error, performing no I/O, when the message has no type
// or the connection is not open.
func (r *Runtime) Send(msg *message.Message) error {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()

	if s == nil {
		return ErrNotOpen
	}
	return r.sendOn(s.conn, msg)
}

// Connected reports whether the current session is open.
func (r *Runtime) Connected() bool {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	return s != nil && s.Open()
}

// credentials resolves the connection token through the registry's
// client provider. Token lookups are synchronous and in-memory only.
func (r *Runtime) credentials() (string, error) {
	p, ok := r.reg.Get(token.ProviderName)
	if !ok {
		return "", fmt.Errorf("%w: provider %q not registered", ErrNoToken, token.ProviderName)
	}
	src, ok := p.(token.Source)
	if !ok {
		return "", fmt.Errorf("%w: provider %q exposes no credentials", ErrNoToken, token.ProviderName)
	}
	tok, ok := src.Token()
	if !ok {
		return "", ErrNoToken
	}
	return tok, nil
}

// connect dials one transport session and, on success, fans out
// OnConnect and starts the session loop.
func (r *Runtime) connect(ctx context.Context, tok string) error {
	conn, err := transport.Dial(ctx, transport.Config{
		URL:              r.cfg.Server.URL,
		Token:            tok,
		HandshakeTimeout: r.cfg.Server.HandshakeTimeout,
		WriteTimeout:     r.cfg.Server.WriteTimeout,
		PingTimeout:      r.cfg.Server.PingTimeout,
		BufferSize:       r.cfg.Server.BufferSize,
	}, r.logger)
	if err != nil {
		return fmt.Errorf("dial %s: %w", r.cfg.Server.URL, err)
	}

	s := &session{rt: r, conn: conn}

	r.mu.Lock()
	if r.stopping {
		r.mu.Unlock()
		conn.Close()
		return ErrStopped
	}
	r.session = s
	r.mu.Unlock()

	r.logger.Info("connected", "url", r.cfg.Server.URL)
	r.reg.FanOutConnect(s, r.env)

	go r.sessionLoop(ctx, s)
	return nil
}

// sessionLoop is the single owner of dispatch for one session. Every
// asynchronous event lands here, serialized.
func (r *Runtime) sessionLoop(ctx context.Context, s *session) {
	for {
		select {
		case <-ctx.Done():
			r.Stop("canceled")
			return

		case <-r.done:
			return

		case err := <-s.conn.Errors():
			r.logger.Warn("connection error", "error", err)
			r.handleDisconnect(ctx, s)
			return

		case data, ok := <-s.conn.Messages():
			if !ok {
				r.handleDisconnect(ctx, s)
				return
			}
			r.dispatch(data, s)
		}
	}
}

// handleDisconnect runs the disconnect fan-out (at most once per
// session) and consults the reconnection controller.
func (r *Runtime) handleDisconnect(ctx context.Context, s *session) {
	s.conn.Close()

	if !s.markDisconnected() {
		return
	}

	r.logger.Info("disconnected", "url", r.cfg.Server.URL)
	r.reg.FanOutDisconnect(s, r.env)

	if !r.retry.Schedule(func() { r.reconnect(ctx) }) {
		r.logger.Info("not reconnecting")
	}
}

// reconnect is one scheduled attempt. A failed attempt is handed back
// to the controller, never retried immediately.
func (r *Runtime) reconnect(ctx context.Context) {
	tok, err := r.credentials()
	if err == nil {
		if err = r.connect(ctx, tok); err == nil {
			return
		}
	}

	r.logger.Warn("reconnection attempt failed", "error", err)
	if !r.retry.Schedule(func() { r.reconnect(ctx) }) {
		r.logger.Info("not reconnecting")
	}
}

// sendOn validates and transmits one message on the given connection.
func (r *Runtime) sendOn(conn *transport.Conn, msg *message.Message) error {
	if msg == nil || msg.Type == "" {
		return fmt.Errorf("send: %w", message.ErrMissingType)
	}
	if conn.State() != transport.Open {
		return fmt.Errorf("send %q: %w (state %s)", msg.Type, ErrNotOpen, conn.State())
	}
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("send %q: %w", msg.Type, err)
	}
	return conn.Send(data)
}

// dispatch decodes one inbound frame and routes it to exactly one
// provider handler. Every failure mode drops the frame with a log
// line; nothing escapes to the session loop.
func (r *Runtime) dispatch(data []byte, s *session) {
	msg, err := message.Decode(data)
	if err != nil {
		r.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	h, ok := r.reg.Handler(msg.Provider(), msg.Name())
	if !ok {
		if _, known := r.reg.Get(msg.Provider()); !known {
			r.logger.Warn("dropping message for unknown provider",
				"type", msg.Type,
				"provider", msg.Provider(),
			)
		} else {
			r.logger.Warn("dropping message with no handler",
				"type", msg.Type,
				"name", msg.Name(),
			)
		}
		return
	}

	r.invoke(msg, s, h)
}

// invoke runs one handler, converting errors and panics into log lines.
func (r *Runtime) invoke(msg *message.Message, s *session, h provider.HandlerFunc) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panicked",
				"type", msg.Type,
				"panic", rec,
			)
		}
	}()
	if err := h(msg, s, r.env); err != nil {
		r.logger.Warn("handler failed",
			"type", msg.Type,
			"error", err,
		)
	}
}
