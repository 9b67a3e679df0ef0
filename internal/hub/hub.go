// ABOUTME: In-memory connection hub for per-conversation fan-out and targeted delivery
// ABOUTME: Tracks live connections per conversation and per (user, conversation); self-heals on send failure

package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultProbeInterval is how often the liveness sweep probes tracked
// connections when no interval is configured.
const DefaultProbeInterval = 30 * time.Second

// Conn is the minimal capability the hub requires of a client connection:
// deliver one structured payload, or fail with an error on a broken
// channel. Payloads always carry a "type" discriminator field.
type Conn interface {
	Send(msg map[string]any) error
	Close() error
}

// Hub tracks live subscriber connections per conversation and per user.
// All maps are guarded internally; callers never see or lock them.
// Delivery failures are absorbed: the hub removes the dead connection and
// reports at most a boolean to the caller.
type Hub struct {
	mu            sync.RWMutex
	conversations map[string]map[Conn]struct{} // conversationID -> connection set
	users         map[string]map[string]Conn   // userID -> conversationID -> connection
	logger        *slog.Logger
}

// New creates a hub. Pass nil logger for default.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conversations: make(map[string]map[Conn]struct{}),
		users:         make(map[string]map[string]Conn),
		logger:        logger.With("component", "hub"),
	}
}

// Connect registers a connection under conversationID and, when userID is
// non-empty, under the (user, conversation) pair. A later registration
// for the same pair supersedes the previous mapping without closing the
// stale socket; the liveness sweep reaps it once its probe fails.
func (h *Hub) Connect(conversationID string, conn Conn, userID string) {
	h.mu.Lock()
	if _, ok := h.conversations[conversationID]; !ok {
		h.conversations[conversationID] = make(map[Conn]struct{})
	}
	h.conversations[conversationID][conn] = struct{}{}

	if userID != "" {
		if _, ok := h.users[userID]; !ok {
			h.users[userID] = make(map[string]Conn)
		}
		h.users[userID][conversationID] = conn
	}
	h.mu.Unlock()

	h.logger.Debug("connection registered",
		"conversation_id", conversationID,
		"user_id", userID)
}

// Disconnect removes all registrations for this exact connection.
// Idempotent: disconnecting an unknown connection is a no-op.
func (h *Hub) Disconnect(conversationID string, conn Conn, userID string) {
	h.mu.Lock()
	h.removeLocked(conversationID, conn, userID)
	h.mu.Unlock()

	h.logger.Debug("connection removed",
		"conversation_id", conversationID,
		"user_id", userID)
}

// removeLocked drops a connection from both registries. Must hold mu.
// When userID is unknown the user map is scanned for the same connection.
func (h *Hub) removeLocked(conversationID string, conn Conn, userID string) {
	if set, ok := h.conversations[conversationID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conversations, conversationID)
		}
	}

	if userID != "" {
		if chats, ok := h.users[userID]; ok {
			if chats[conversationID] == conn {
				delete(chats, conversationID)
			}
			if len(chats) == 0 {
				delete(h.users, userID)
			}
		}
		return
	}

	for uid, chats := range h.users {
		if chats[conversationID] == conn {
			delete(chats, conversationID)
			if len(chats) == 0 {
				delete(h.users, uid)
			}
			break
		}
	}
}

// Broadcast delivers msg to every live connection on the conversation
// except exclude. Connections whose send errors are marked dead and
// removed after the fan-out; the live set is never mutated while
// iterating. Broadcasting to a conversation with no connections is a
// no-op.
func (h *Hub) Broadcast(conversationID string, msg map[string]any, exclude Conn) {
	h.mu.RLock()
	set, ok := h.conversations[conversationID]
	if !ok || len(set) == 0 {
		h.mu.RUnlock()
		return
	}
	// Snapshot under read lock; sends happen outside it
	targets := make([]Conn, 0, len(set))
	for conn := range set {
		if conn == exclude {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	var dead []Conn
	for _, conn := range targets {
		if err := conn.Send(msg); err != nil {
			h.logger.Warn("broadcast delivery failed",
				"conversation_id", conversationID,
				"error", err)
			dead = append(dead, conn)
		}
	}

	if len(dead) > 0 {
		h.mu.Lock()
		for _, conn := range dead {
			h.removeLocked(conversationID, conn, "")
		}
		h.mu.Unlock()
	}
}

// SendToUser delivers msg to the one connection mapped for the
// (user, conversation) pair and reports whether delivery succeeded.
// A failed send removes the mapping so the next attempt sees a clean
// registry.
func (h *Hub) SendToUser(userID, conversationID string, msg map[string]any) bool {
	h.mu.RLock()
	conn, ok := h.users[userID][conversationID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	if err := conn.Send(msg); err != nil {
		h.logger.Warn("targeted delivery failed",
			"user_id", userID,
			"conversation_id", conversationID,
			"error", err)
		h.mu.Lock()
		h.removeLocked(conversationID, conn, userID)
		h.mu.Unlock()
		return false
	}
	return true
}

// HasConnections reports whether the conversation has any live
// connections. Callers use this to pick between realtime delivery and
// poll-later paths.
func (h *Hub) HasConnections(conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conversations[conversationID]) > 0
}

// ConnectionCount returns the number of live connections on a conversation.
func (h *Hub) ConnectionCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conversations[conversationID])
}

// UserConversations lists the conversations a user currently holds a
// mapped connection to.
func (h *Hub) UserConversations(userID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.users[userID]))
	for conversationID := range h.users[userID] {
		out = append(out, conversationID)
	}
	return out
}

// Sweep sends a no-op probe to every tracked connection and removes any
// whose probe fails, through the same dead-connection path broadcast
// uses. It operates on a snapshot and tolerates connections disappearing
// mid-sweep.
func (h *Hub) Sweep() {
	type tracked struct {
		conversationID string
		conn           Conn
	}

	h.mu.RLock()
	var all []tracked
	for conversationID, set := range h.conversations {
		for conn := range set {
			all = append(all, tracked{conversationID, conn})
		}
	}
	h.mu.RUnlock()

	probe := map[string]any{"type": "ping"}
	for _, tr := range all {
		if err := tr.conn.Send(probe); err != nil {
			h.logger.Warn("connection dead during probe",
				"conversation_id", tr.conversationID,
				"error", err)
			h.mu.Lock()
			h.removeLocked(tr.conversationID, tr.conn, "")
			h.mu.Unlock()
		}
	}
}

// Run probes connections on the given interval until ctx is cancelled.
// It never panics out: a failing sweep is logged and the loop continues.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.safeSweep()
		}
	}
}

// safeSweep isolates the sweep loop from a panicking Conn implementation.
func (h *Hub) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("liveness sweep panicked", "panic", r)
		}
	}()
	h.Sweep()
}
