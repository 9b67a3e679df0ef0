// Package ws serves the realtime conversation endpoint.
//
// Each client opens GET /ws/{conversation_id} and speaks a small JSON
// protocol: ping, auth (JWT, either as a ?token query parameter at
// connect time or in a later auth message), typing, and send_message.
// A send_message drives the turn processor; the reply fan-out and all
// report pipeline notices go through the connection hub.
package ws
