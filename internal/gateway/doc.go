// Package gateway assembles the intake service from its parts: SQLite
// store, connection hub, the five upstream agents, turn processing, the
// report pipeline, and the websocket endpoint. It owns the HTTP server
// lifecycle; Run blocks until the context is canceled and then shuts
// everything down in order (server, in-flight report runs, store).
package gateway
