package provider

import (
	"log/slog"

	"github.com/axisop/outpost/internal/config"
	"github.com/axisop/outpost/internal/message"
)

// Conn is the connection view handed to provider code. The runtime's
// live session implements it; Send fails without I/O when the
// connection is not open.
type Conn interface {
	Send(msg *message.Message) error
	Open() bool
}

// HandlerFunc processes one inbound message. A returned error is logged
// by the dispatcher and never propagates to the connection loop.
type HandlerFunc func(msg *message.Message, conn Conn, env *Env) error

// Provider is the mandatory part of the plugin contract.
type Provider interface {
	// Name is the registry key and the first segment of the message
	// type namespace. An empty name falls back to the load reference.
	Name() string

	// Version is a free-form version string.
	Version() string
}

// MessageHandler is implemented by providers that handle inbound
// messages. Keys are message names local to the provider ("ping",
// "token.issue"), not full dotted types.
type MessageHandler interface {
	Handlers() map[string]HandlerFunc
}

// SetupHook runs once after all providers are loaded, before any
// connection attempt.
type SetupHook interface {
	Setup(env *Env) error
}

// ConnectHook runs after the transport session opens.
type ConnectHook interface {
	OnConnect(conn Conn, env *Env) error
}

// DisconnectHook runs once per actual disconnect.
type DisconnectHook interface {
	OnDisconnect(conn Conn, env *Env) error
}

// StopHook runs exactly once during graceful shutdown, after the final
// disconnect fan-out.
type StopHook interface {
	OnStop(reason string, conn Conn, env *Env) error
}

// Env is the core environment threaded through all provider calls.
// It is constructed once after provider loading and shared by
// reference; providers read it, none replace it.
type Env struct {
	Settings *config.Config
	Registry *Registry
	Logger   *slog.Logger
	StateDir string
}
