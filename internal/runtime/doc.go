// Package runtime implements the client runtime: it owns the single
// active connection, drives its lifecycle, dispatches inbound messages
// to provider handlers, and fans out lifecycle events.
//
// All asynchronous events of a session (inbound frames, transport
// errors, the stop signal) funnel into one session loop goroutine, so
// dispatch is serialized. Provider handlers run synchronously from that
// loop; a slow handler stalls subsequent messages by contract.
//
// After a disconnect the Reconnector schedules at most one future
// attempt at a fixed delay. A stop signal disables it, cancels any
// pending attempt, best-effort sends a final client.state message, and
// fans out disconnect (at most once per session) and stop (exactly
// once) to all providers.
package runtime
