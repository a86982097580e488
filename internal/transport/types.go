package transport

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// State is the lifecycle state of a Conn.
type State int32

const (
	Connecting State = iota
	Open
	Closing
	Closed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds the settings for one session.
type Config struct {
	URL              string
	Token            string // bearer credential for the handshake
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingTimeout      time.Duration
	BufferSize       int
}
