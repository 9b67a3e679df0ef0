// ABOUTME: Resilient agent wrapping the upstream call client with retry and fallback
// ABOUTME: Explicit state machine: attempt primary -> retry -> attempt fallback -> done/failed

package agent

import (
	"context"
	"errors"
	"log/slog"

	"github.com/2389/intake-gateway/internal/config"
	"github.com/2389/intake-gateway/internal/llm"
)

// Output types an agent can declare at construction.
const (
	OutputJSON = "json"
	OutputText = "text"
)

// Caller is the single-attempt upstream contract the agent drives.
// Satisfied by *llm.Client.
type Caller interface {
	Invoke(ctx context.Context, messages []llm.Message) (string, error)
	Model() string
}

// Result is the typed output of one successful agent call. Exactly one of
// the two views is meaningful, matching the declared output type.
type Result struct {
	Text   string         // raw text output (OutputText)
	Object map[string]any // decoded object (OutputJSON)
}

// String returns a value from a JSON result by key, or "" when absent or
// not a string.
func (r *Result) String(key string) string {
	if r == nil || r.Object == nil {
		return ""
	}
	s, _ := r.Object[key].(string)
	return s
}

// Bool returns a boolean value from a JSON result by key.
func (r *Result) Bool(key string) bool {
	if r == nil || r.Object == nil {
		return false
	}
	b, _ := r.Object[key].(bool)
	return b
}

// Agent is a retry/fallback-wrapped upstream call with prompt templating
// and typed output. Immutable after New; safe for concurrent calls. No
// state is shared between calls.
type Agent struct {
	name         string
	systemPrompt string
	humanPrompt  string
	output       string
	maxRetries   int
	primary      Caller
	fallback     Caller // nil when no fallback endpoint is configured
	logger       *slog.Logger
}

// Option customizes agent construction.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	newCaller func(llm.Endpoint) Caller
}

// WithLogger sets the agent's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCallerFactory overrides upstream client construction. Used by tests
// to substitute fake endpoints.
func WithCallerFactory(f func(llm.Endpoint) Caller) Option {
	return func(o *options) { o.newCaller = f }
}

// New builds a resilient agent from its endpoint configuration and prompt
// templates. Returns *ConfigurationError for an unusable configuration.
func New(name string, cfg config.AgentConfig, systemPrompt, humanPrompt string, opts ...Option) (*Agent, error) {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.newCaller == nil {
		o.newCaller = func(ep llm.Endpoint) Caller { return llm.NewClient(ep, o.logger) }
	}

	if cfg.BaseURL == "" {
		return nil, &ConfigurationError{Reason: "agent " + name + ": base_url missing"}
	}
	if cfg.Model == "" {
		return nil, &ConfigurationError{Reason: "agent " + name + ": model missing"}
	}
	if cfg.APIKey == "" {
		return nil, &ConfigurationError{Reason: "agent " + name + ": api_key missing"}
	}

	output := cfg.Output
	if output == "" {
		output = OutputJSON
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	a := &Agent{
		name:         name,
		systemPrompt: systemPrompt,
		humanPrompt:  humanPrompt,
		output:       output,
		maxRetries:   maxRetries,
		logger:       o.logger.With("component", "agent", "agent", name),
	}

	a.primary = o.newCaller(llm.Endpoint{
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
	})
	if fb := cfg.Fallback; fb != nil {
		apiKey := fb.APIKey
		if apiKey == "" {
			apiKey = cfg.APIKey
		}
		a.fallback = o.newCaller(llm.Endpoint{
			BaseURL:     fb.BaseURL,
			Model:       fb.Model,
			APIKey:      apiKey,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	}
	return a, nil
}

// Name returns the agent's configured name.
func (a *Agent) Name() string { return a.name }

// callState is the per-call state machine.
type callState int

const (
	stateAttemptPrimary callState = iota
	stateRetry
	stateAttemptFallback
	stateDone
	stateFailed
)

// Run executes one resilient call: render prompts from vars, attempt the
// primary endpoint up to the retry budget, then the fallback exactly once
// if configured.
//
// Terminal failure returns (nil, nil): callers must treat a nil result as
// "no usable agent output" and supply their own fallback behavior. A
// non-nil error is returned only for non-retriable failures (unusable
// configuration), which abort without consuming budget.
func (a *Agent) Run(ctx context.Context, vars map[string]string) (*Result, error) {
	messages := []llm.Message{
		llm.SystemMessage(Render(a.systemPrompt, vars)),
		llm.UserMessage(Render(a.humanPrompt, vars)),
	}

	var (
		state    = stateAttemptPrimary
		attempts = 0
		result   *Result
	)

	for {
		switch state {
		case stateAttemptPrimary:
			attempts++
			res, err := a.attempt(ctx, a.primary, messages)
			if err == nil {
				result = res
				state = stateDone
				break
			}
			if !retriable(err) {
				a.logger.Error("non-retriable failure", "error", err, "attempt", attempts)
				return nil, err
			}
			a.logger.Warn("attempt failed",
				"attempt", attempts,
				"max_retries", a.maxRetries,
				"error", err)
			state = stateRetry

		case stateRetry:
			if ctx.Err() != nil || attempts >= a.maxRetries {
				state = stateAttemptFallback
			} else {
				state = stateAttemptPrimary
			}

		case stateAttemptFallback:
			if a.fallback == nil || ctx.Err() != nil {
				state = stateFailed
				break
			}
			a.logger.Warn("primary exhausted, trying fallback", "fallback_model", a.fallback.Model())
			res, err := a.attempt(ctx, a.fallback, messages)
			if err != nil {
				a.logger.Error("fallback failed", "error", err)
				state = stateFailed
				break
			}
			result = res
			state = stateDone

		case stateDone:
			return result, nil

		case stateFailed:
			a.logger.Error("agent call failed terminally", "attempts", attempts)
			return nil, nil
		}
	}
}

// attempt performs one upstream call and shapes its output to the
// declared type.
func (a *Agent) attempt(ctx context.Context, caller Caller, messages []llm.Message) (*Result, error) {
	raw, err := caller.Invoke(ctx, messages)
	if err != nil {
		return nil, err
	}

	cleaned := sanitize(raw)
	if a.output == OutputText {
		return &Result{Text: cleaned}, nil
	}

	repaired, err := repairJSON(cleaned)
	if err != nil {
		return nil, err
	}
	obj, err := decodeObject(repaired)
	if err != nil {
		return nil, err
	}
	return &Result{Object: obj}, nil
}

// retriable reports whether an error may consume retry budget.
// Transport, upstream, and parse failures are retriable; anything else
// (configuration problems, programming errors) is fatal.
func retriable(err error) bool {
	var (
		te *llm.TransportError
		ue *llm.UpstreamError
		pe *ParseError
	)
	return errors.As(err, &te) || errors.As(err, &ue) || errors.As(err, &pe)
}
