// Package transport implements the single WebSocket session to the
// control server.
//
// A Conn is dialed once, delivers inbound text frames and connection
// errors over channels, and serializes writes behind a write deadline.
// Exactly one Conn is live at a time; the runtime only dials a new one
// after the previous reached Closed.
package transport
