// Package journal implements the optional session journal provider.
//
// When enabled, it records connection lifecycle transitions
// (connected, disconnected, stopped.<reason>) as rows in a Postgres
// table, one UUID-keyed event per transition. The journal is
// best-effort: a setup failure isolates the provider (the agent runs
// on without it) and an insert failure is logged and dropped.
package journal
