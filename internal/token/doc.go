// Package token implements the credential provider, registered under
// the name "client".
//
// The provider owns the rotating connection token: it loads a persisted
// token from the state directory at setup (falling back to the
// configured bootstrap token), hands it to the runtime through the
// Source accessor, replaces it when the server issues a new one
// (client.token.issue), and requests rotation upstream at a fixed
// interval (client.token.refresh) while the connection is open.
//
// Persistence is whole-file replace of a raw token file plus an
// optional expiry file. A persistence failure is logged, never fatal:
// the in-memory token stays authoritative for the current session.
package token
