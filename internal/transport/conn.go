package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a single WebSocket session.
type Conn struct {
	cfg    Config
	logger *slog.Logger

	ws *websocket.Conn

	// Output channels
	messages chan []byte
	errors   chan error
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	state      State
	closed     bool // Close() already ran; independent of server-side drops
	lastPingAt time.Time
}

// Dial opens the session. The bearer token, when set, is sent as an
// Authorization header during the handshake. On error no Conn is
// returned and nothing is left running.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Conn{
		cfg:      cfg,
		logger:   logger,
		state:    Connecting,
		messages: make(chan []byte, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.ws = ws
	c.state = Open
	c.lastPingAt = time.Now()
	c.mu.Unlock()

	// Server-initiated ping: respond with pong and mark liveness.
	ws.SetPingHandler(func(data string) error {
		c.mu.Lock()
		c.lastPingAt = time.Now()
		c.mu.Unlock()

		return ws.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	// Pong for our own keepalive pings.
	ws.SetPongHandler(func(data string) error {
		c.mu.Lock()
		c.lastPingAt = time.Now()
		c.mu.Unlock()
		return nil
	})

	go c.readLoop()
	go c.heartbeatLoop()

	c.logger.Debug("websocket connected", "url", cfg.URL)

	return c, nil
}

// Close gracefully closes the session. Repeated calls are safe and
// return ErrAlreadyClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.closed = true
	if c.state != Closed {
		c.state = Closing
	}
	ws := c.ws
	c.mu.Unlock()

	// Signal goroutines to stop
	close(c.done)

	var err error
	if ws != nil {
		ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = ws.Close()
	}

	c.mu.Lock()
	c.state = Closed
	c.mu.Unlock()

	return err
}

// Send writes one text frame. It fails with ErrNotConnected when the
// session is not open, without touching the wire.
func (c *Conn) Send(data []byte) error {
	c.mu.RLock()
	if c.state != Open {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Messages returns the inbound frame channel.
func (c *Conn) Messages() <-chan []byte {
	return c.messages
}

// Errors returns the connection error channel.
func (c *Conn) Errors() <-chan error {
	return c.errors
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// readLoop reads frames from the WebSocket into the messages channel.
func (c *Conn) readLoop() {
	defer func() {
		c.mu.Lock()
		if c.state == Open {
			c.state = Closed
		}
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-c.done:
				return
			default:
				select {
				case c.errors <- err:
				default:
				}
				return
			}
		}

		select {
		case c.messages <- data:
		case <-c.done:
			return
		default:
			c.logger.Warn("message buffer full, dropping frame")
		}
	}
}

// heartbeatLoop sends keepalive pings and flags stale sessions.
func (c *Conn) heartbeatLoop() {
	interval := c.cfg.PingTimeout
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			ws := c.ws
			c.mu.RUnlock()

			if ws != nil {
				deadline := time.Now().Add(c.cfg.WriteTimeout)
				if err := ws.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
					c.logger.Debug("failed to send ping", "error", err)
				}
			}

			c.mu.RLock()
			lastPing := c.lastPingAt
			c.mu.RUnlock()

			if time.Since(lastPing) > 2*interval {
				c.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", interval,
				)
				select {
				case c.errors <- ErrStaleConnection:
				default:
				}
				return
			}
		}
	}
}
