// Package message implements the wire codec and type namespace grammar.
//
// Every frame on the wire is a single JSON object with a mandatory "type"
// field of the form "<provider>.<name>". The provider part ends at the
// first dot; the name part may itself contain further dots
// (e.g. "client.token.issue" targets provider "client", handler
// "token.issue"). Frames that fail decoding or the grammar are dropped by
// the caller, never dispatched.
package message
