// Package hub is the fan-out and targeted-delivery registry for live
// client connections.
//
// # Registration model
//
// Connections register under a conversation id, and optionally under a
// (user, conversation) pair once authenticated. A user may hold
// connections to many conversations at once, but at most one connection
// per (user, conversation) pair; re-authenticating supersedes the old
// mapping and the stale socket is reaped by the liveness sweep.
//
// # Failure semantics
//
// The hub never raises delivery failures to its callers. A connection
// whose send errors (during broadcast, targeted delivery, or the
// periodic probe) is removed from all delivery sets. Callers see at most
// a boolean from SendToUser.
package hub
