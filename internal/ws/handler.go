// ABOUTME: WebSocket endpoint for conversations: auth, turns, typing, report scheduling
// ABOUTME: One reader loop per connection; hub registration keyed by conversation and user

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/intake-gateway/internal/auth"
	"github.com/2389/intake-gateway/internal/hub"
	"github.com/2389/intake-gateway/internal/store"
	"github.com/2389/intake-gateway/internal/turn"
)

// apologyText is the single user-visible message for a turn whose agent
// call failed terminally.
const apologyText = "Maaf, asisten sedang mengalami gangguan. Silakan kirim ulang pesan Anda."

// Processor runs one conversation turn. Satisfied by *turn.Processor.
type Processor interface {
	Process(ctx context.Context, conversationID, userID, content string) (*turn.Result, error)
}

// Scheduler starts a background report run. Satisfied by *report.Pipeline.
type Scheduler interface {
	Schedule(conversationID, userID, historyText string) bool
}

// Handler serves the /ws/{conversation_id} endpoint.
type Handler struct {
	hub       *hub.Hub
	processor Processor
	pipeline  Scheduler
	verifier  auth.TokenVerifier
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// NewHandler wires the websocket endpoint. Pass nil logger for default.
func NewHandler(h *hub.Hub, processor Processor, pipeline Scheduler, verifier auth.TokenVerifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:       h,
		processor: processor,
		pipeline:  pipeline,
		verifier:  verifier,
		// Origin enforcement lives at the reverse proxy; the gateway
		// accepts upgrades from any origin.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   logger.With("component", "ws"),
	}
}

// clientMessage is the envelope every client frame decodes into.
type clientMessage struct {
	Type     string `json:"type"`
	Token    string `json:"token,omitempty"`
	Content  string `json:"content,omitempty"`
	IsTyping bool   `json:"is_typing,omitempty"`
}

// ServeHTTP upgrades the request and runs the connection's reader loop
// until the client goes away. Register as "GET /ws/{conversation_id}".
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversation_id")
	if err := uuid.Validate(conversationID); err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	// Token may arrive as a query parameter now or in an auth message
	// later.
	userID := ""
	if token := r.URL.Query().Get("token"); token != "" {
		id, err := h.verifier.Verify(token)
		if err != nil {
			h.logger.Info("rejected websocket token", "conversation_id", conversationID, "error", err)
		} else {
			userID = id
		}
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn := NewConn(wsConn)

	h.hub.Connect(conversationID, conn, userID)
	defer func() {
		h.hub.Disconnect(conversationID, conn, userID)
		conn.Close()
	}()

	// Turns must survive the client going away mid-processing, so the
	// loop context drops the request's cancellation.
	ctx := context.WithoutCancel(r.Context())

	for {
		data, err := conn.readMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Info("websocket closed", "conversation_id", conversationID, "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(conn, "Invalid JSON format")
			continue
		}

		switch msg.Type {
		case "ping":
			h.send(conn, map[string]any{"type": "pong"})
		case "auth":
			userID = h.handleAuth(conversationID, conn, userID, msg.Token)
		case "typing":
			h.handleTyping(conversationID, conn, userID, msg.IsTyping)
		case "send_message":
			h.handleSendMessage(ctx, conversationID, conn, userID, msg.Content)
		default:
			h.sendError(conn, "Unknown message type: "+msg.Type)
		}
	}
}

// handleAuth validates a late-arriving token and re-registers the
// connection under the authenticated user. Returns the effective user id
// for the rest of the loop.
func (h *Handler) handleAuth(conversationID string, conn *Conn, currentUserID, token string) string {
	id, err := h.verifier.Verify(token)
	if err != nil {
		h.logger.Info("websocket auth failed", "conversation_id", conversationID, "error", err)
		h.send(conn, map[string]any{
			"type":    "auth_error",
			"message": "Authentication failed",
		})
		return currentUserID
	}

	// Re-register so targeted sends reach this socket
	h.hub.Disconnect(conversationID, conn, currentUserID)
	h.hub.Connect(conversationID, conn, id)
	h.send(conn, map[string]any{
		"type":    "auth_success",
		"message": "Authentication successful",
	})
	return id
}

func (h *Handler) handleTyping(conversationID string, conn *Conn, userID string, isTyping bool) {
	if userID == "" {
		return
	}
	h.hub.Broadcast(conversationID, map[string]any{
		"type":      "typing",
		"sender":    "user",
		"user_id":   userID,
		"is_typing": isTyping,
	}, conn)
}

func (h *Handler) handleSendMessage(ctx context.Context, conversationID string, conn *Conn, userID, content string) {
	if userID == "" {
		h.sendError(conn, "Authentication required")
		return
	}
	content = strings.TrimSpace(content)
	if content == "" {
		h.sendError(conn, "Message content is required")
		return
	}

	// The assistant "types" while the turn runs
	h.hub.Broadcast(conversationID, map[string]any{
		"type": "typing", "sender": "bot", "is_typing": true,
	}, conn)

	result, err := h.processor.Process(ctx, conversationID, userID, content)

	h.hub.Broadcast(conversationID, map[string]any{
		"type": "typing", "sender": "bot", "is_typing": false,
	}, conn)

	if err != nil {
		switch {
		case errors.Is(err, turn.ErrNoAgentOutput):
			h.sendError(conn, apologyText)
		case errors.Is(err, store.ErrAccessDenied), errors.Is(err, store.ErrNotFound):
			h.sendError(conn, "Chat not found or access denied")
		default:
			h.logger.Error("turn failed", "conversation_id", conversationID, "error", err)
			h.sendError(conn, "Failed to process message")
		}
		return
	}

	// Confirmation to the sender, user message to everyone else, bot
	// reply to everyone.
	h.send(conn, map[string]any{
		"type":    "message_sent",
		"message": messagePayload(result.UserMessage),
	})
	h.hub.Broadcast(conversationID, map[string]any{
		"type":    "new_message",
		"message": messagePayload(result.UserMessage),
	}, conn)
	h.hub.Broadcast(conversationID, map[string]any{
		"type":    "new_message",
		"message": messagePayload(result.BotMessage),
	}, nil)

	if result.NeedsReport {
		if h.pipeline.Schedule(conversationID, userID, result.HistoryText) {
			h.hub.SendToUser(userID, conversationID, map[string]any{
				"type":    "doctor_report_processing",
				"message": "Your data is being processed by our doctor. You'll be notified when ready.",
			})
		}
	}
}

func (h *Handler) send(conn *Conn, msg map[string]any) {
	if err := conn.Send(msg); err != nil {
		h.logger.Debug("direct send failed", "error", err)
	}
}

func (h *Handler) sendError(conn *Conn, message string) {
	h.send(conn, map[string]any{"type": "error", "message": message})
}

func messagePayload(msg *store.Message) map[string]any {
	return map[string]any{
		"id":         msg.ID,
		"sender":     msg.Sender,
		"content":    msg.Content,
		"created_at": msg.CreatedAt.Format(time.RFC3339),
	}
}
