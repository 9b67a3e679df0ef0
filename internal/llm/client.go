// ABOUTME: Single-attempt chat-completion client for one upstream endpoint
// ABOUTME: Owns timeout and transport concerns only; retry and fallback live in the agent layer

package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// DefaultTimeout bounds a single upstream call when the endpoint does not
// configure its own.
const DefaultTimeout = 180 * time.Second

// Endpoint describes one chat-completion endpoint. Immutable after
// construction; safe for concurrent use.
type Endpoint struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
}

// Message is one entry of a chat prompt.
type Message struct {
	Role    string // "system" or "user"
	Content string
}

// SystemMessage builds a system-role prompt message.
func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage builds a user-role prompt message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// Client invokes one configured endpoint. A Client performs exactly one
// attempt per call and never retries.
type Client struct {
	endpoint Endpoint
	api      openai.Client
	logger   *slog.Logger
}

// NewClient creates a client for the given endpoint. Pass nil logger for default.
func NewClient(endpoint Endpoint, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := endpoint.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	api := openai.NewClient(
		option.WithAPIKey(endpoint.APIKey),
		option.WithBaseURL(endpoint.BaseURL),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(0),
	)
	return &Client{
		endpoint: endpoint,
		api:      api,
		logger:   logger.With("component", "llm", "model", endpoint.Model),
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.endpoint.Model }

func (c *Client) params(messages []Message) openai.ChatCompletionNewParams {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			converted = append(converted, openai.SystemMessage(m.Content))
		default:
			converted = append(converted, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Messages: converted,
		Model:    openai.ChatModel(c.endpoint.Model),
	}
	if c.endpoint.Temperature > 0 {
		params.Temperature = openai.Float(c.endpoint.Temperature)
	}
	if c.endpoint.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.endpoint.MaxTokens)
	}
	return params
}

// Invoke performs a single chat-completion attempt and returns the raw text.
// Failures are classified as *TransportError (network/timeout) or
// *UpstreamError (non-2xx, empty or truncated completion).
func (c *Client) Invoke(ctx context.Context, messages []Message) (string, error) {
	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, c.params(messages))
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", &UpstreamError{Message: "completion has no choices"}
	}
	choice := resp.Choices[0]
	if choice.FinishReason != "" && choice.FinishReason != "stop" {
		return "", &UpstreamError{Message: "finish_reason " + choice.FinishReason}
	}
	c.logger.Debug("completion finished",
		"elapsed", time.Since(start),
		"output_len", len(choice.Message.Content))
	return choice.Message.Content, nil
}

// Stream is a finite, non-restartable sequence of text fragments.
// Consumers must drain it or call Close; Close shuts the underlying
// transport when the stream is abandoned mid-way.
type Stream struct {
	inner *ssestream.Stream[openai.ChatCompletionChunk]
	text  string
}

// Next advances to the next non-empty text fragment. It returns false when
// the stream is exhausted or failed; check Err afterwards.
func (s *Stream) Next() bool {
	for s.inner.Next() {
		chunk := s.inner.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			s.text = delta
			return true
		}
	}
	return false
}

// Text returns the fragment produced by the last successful Next.
func (s *Stream) Text() string { return s.text }

// Err returns the classified terminal error, or nil on clean exhaustion.
func (s *Stream) Err() error {
	if err := s.inner.Err(); err != nil {
		return classify(err)
	}
	return nil
}

// Close releases the underlying transport. Safe after exhaustion.
func (s *Stream) Close() error { return s.inner.Close() }

// InvokeStream starts a streaming chat-completion attempt.
func (c *Client) InvokeStream(ctx context.Context, messages []Message) *Stream {
	return &Stream{inner: c.api.Chat.Completions.NewStreaming(ctx, c.params(messages))}
}

// classify maps SDK errors onto the llm taxonomy.
func classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return &UpstreamError{StatusCode: apierr.StatusCode, Message: apierr.Message}
	}
	return &TransportError{Err: err}
}
