// Package store provides persistence for intake-gateway.
//
// # Overview
//
// The store is the single source of truth for users, conversations, and
// messages. The realtime core never assumes a specific storage engine; it
// consumes narrow interfaces declared by each consuming package, and this
// package supplies the SQLite implementation behind them.
//
// # Entities
//
//   - Profile: demographic fields used by the report pipeline
//   - Conversation: one intake exchange, owned by exactly one user
//   - Message: a single user or bot message inside a conversation
//
// # Guarantees
//
// Every operation is transactional as a unit. Message order within a
// conversation follows creation time, so a user message inserted before
// its bot reply always reads back in that order.
//
// ErrNotFound and ErrAccessDenied are sentinel errors; callers match them
// with errors.Is.
package store
