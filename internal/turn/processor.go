// ABOUTME: Turn processor: consumes one user message and produces one bot reply
// ABOUTME: Runs under the conversation serializer's lock; persists user then bot message

package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/2389/intake-gateway/internal/agent"
	"github.com/2389/intake-gateway/internal/store"
)

// ErrNoAgentOutput is returned when the intake agent fails terminally.
// The caller converts it into a single user-facing apology; it never
// crashes the lock holder.
var ErrNoAgentOutput = errors.New("no usable agent output")

// rephraseSuffix is appended when the model repeats its previous reply
// verbatim, asking the user to check again.
const rephraseSuffix = " (sanes pangulangan, punten diparios deui)"

// parenthesized matches any bracketed span; used to strip translation
// remnants that leak into replies.
var parenthesized = regexp.MustCompile(`\([^)]*\)`)

// Reserved keys of the intake agent's JSON output. Everything else is a
// structured field proposal.
var reservedIntakeKeys = map[string]bool{
	"answer":      true,
	"report_done": true,
	"translation": true,
	"language":    true,
	"fields":      true,
}

// Store defines what the processor needs from persistence.
type Store interface {
	CheckOwnership(ctx context.Context, conversationID, userID string) error
	InsertMessage(ctx context.Context, conversationID, sender, content string) (*store.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	History(ctx context.Context, conversationID string) ([]*store.Message, error)
	GetProfile(ctx context.Context, userID string) (*store.Profile, error)
}

// IntakeAgent is the resilient agent contract the processor drives.
type IntakeAgent interface {
	Run(ctx context.Context, vars map[string]string) (*agent.Result, error)
}

// Result is the immutable outcome of one processed turn. Ownership
// transfers to the caller, which broadcasts and reacts to NeedsReport.
type Result struct {
	UserMessage *store.Message
	BotMessage  *store.Message
	Reply       string
	Fields      map[string]any // structured field proposals; nil means none proposed
	Language    string         // language tag when the agent reports one
	NeedsReport bool
	HistoryText string // rendered transcript, input for the report pipeline
}

// Processor consumes one human message for a conversation and produces
// one reply, always inside the serializer's per-conversation lock.
type Processor struct {
	store      Store
	intake     IntakeAgent
	serializer *Serializer
	logger     *slog.Logger
}

// NewProcessor wires a turn processor. Pass nil logger for default.
func NewProcessor(st Store, intake IntakeAgent, serializer *Serializer, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:      st,
		intake:     intake,
		serializer: serializer,
		logger:     logger.With("component", "turn"),
	}
}

// Process runs one turn: ownership check, persist the user message, drive
// the intake agent over the full history, clean the reply, persist the
// bot message. On terminal agent failure the just-recorded user message
// is rolled back and ErrNoAgentOutput surfaces.
func (p *Processor) Process(ctx context.Context, conversationID, userID, content string) (*Result, error) {
	var result *Result
	err := p.serializer.WithLock(ctx, conversationID, func(ctx context.Context) error {
		var err error
		result, err = p.processLocked(ctx, conversationID, userID, content)
		return err
	})
	return result, err
}

func (p *Processor) processLocked(ctx context.Context, conversationID, userID, content string) (*Result, error) {
	if err := p.store.CheckOwnership(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	// Record the user message first; the bot reply always follows it
	userMsg, err := p.store.InsertMessage(ctx, conversationID, store.SenderUser, content)
	if err != nil {
		return nil, fmt.Errorf("recording user message: %w", err)
	}

	profile, err := p.store.GetProfile(ctx, userID)
	if err != nil {
		p.rollbackMessage(conversationID, userMsg.ID)
		return nil, fmt.Errorf("fetching profile: %w", err)
	}

	history, err := p.store.History(ctx, conversationID)
	if err != nil {
		p.rollbackMessage(conversationID, userMsg.ID)
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	historyText := renderHistory(history, profile.DisplayName)

	res, err := p.intake.Run(ctx, intakeVars(historyText, profile))
	if err != nil || res == nil {
		if err != nil {
			p.logger.Error("intake agent aborted", "conversation_id", conversationID, "error", err)
		}
		p.rollbackMessage(conversationID, userMsg.ID)
		return nil, ErrNoAgentOutput
	}

	reply := stripTranslation(res.String("answer"), res.String("translation"))
	if prev := lastBotReply(history); prev != "" && strings.TrimSpace(reply) == strings.TrimSpace(prev) {
		reply += rephraseSuffix
	}

	botMsg, err := p.store.InsertMessage(ctx, conversationID, store.SenderBot, reply)
	if err != nil {
		p.rollbackMessage(conversationID, userMsg.ID)
		return nil, fmt.Errorf("recording bot message: %w", err)
	}

	needsReport := res.Bool("report_done")
	p.logger.Debug("turn processed",
		"conversation_id", conversationID,
		"user_message_id", userMsg.ID,
		"bot_message_id", botMsg.ID,
		"needs_report", needsReport)

	return &Result{
		UserMessage: userMsg,
		BotMessage:  botMsg,
		Reply:       reply,
		Fields:      proposals(res.Object),
		Language:    res.String("language"),
		NeedsReport: needsReport,
		HistoryText: historyText,
	}, nil
}

// rollbackMessage compensates the already-committed user message of a
// failed turn. Best effort: a failed delete is logged, not surfaced.
func (p *Processor) rollbackMessage(conversationID, messageID string) {
	rbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.DeleteMessage(rbCtx, messageID); err != nil {
		p.logger.Error("turn rollback failed",
			"conversation_id", conversationID,
			"message_id", messageID,
			"error", err)
	}
}

// intakeVars builds the template variables for the intake agent: the
// rendered history plus a compact demographic summary.
func intakeVars(historyText string, profile *store.Profile) map[string]string {
	age := ""
	if a := profile.Age(time.Now()); a >= 0 {
		age = strconv.Itoa(a)
	}
	return map[string]string{
		"content":      historyText,
		"display_name": profile.DisplayName,
		"age":          age,
		"gender":       profile.Gender,
		"province":     profile.Province,
	}
}

// renderHistory flattens messages into the transcript shape the agents
// were tuned on: one "Sender: text" line per message.
func renderHistory(history []*store.Message, displayName string) string {
	var b strings.Builder
	for _, msg := range history {
		prefix := "Assistant"
		if msg.Sender == store.SenderUser {
			prefix = displayName
		}
		b.WriteString(prefix)
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// lastBotReply returns the most recent assistant message content, or "".
func lastBotReply(history []*store.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Sender == store.SenderBot {
			return history[i].Content
		}
	}
	return ""
}

// stripTranslation removes bracketed translation remnants from a reply.
// When the declared translation is present it is removed surgically;
// otherwise every parenthesized span goes.
func stripTranslation(reply, translation string) string {
	if translation != "" && strings.Contains(reply, "("+translation+")") {
		return strings.TrimSpace(strings.ReplaceAll(reply, "("+translation+")", ""))
	}
	return strings.TrimSpace(parenthesized.ReplaceAllString(reply, ""))
}

// proposals extracts structured field proposals from the intake output.
// A top-level "fields" object is the canonical shape; the legacy flat
// shape (everything outside the reserved keys) is accepted for older
// prompts. An explicitly empty list is kept ("explicitly none"); a
// missing key stays absent ("unknown").
func proposals(obj map[string]any) map[string]any {
	if obj == nil {
		return nil
	}
	if fields, ok := obj["fields"].(map[string]any); ok {
		return fields
	}
	var flat map[string]any
	for key, value := range obj {
		if reservedIntakeKeys[key] {
			continue
		}
		if flat == nil {
			flat = make(map[string]any)
		}
		flat[key] = value
	}
	return flat
}
