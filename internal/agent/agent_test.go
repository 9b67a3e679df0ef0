// ABOUTME: Tests for the resilient agent state machine
// ABOUTME: Covers retry budget, fallback, parse repair, configuration failures

package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/intake-gateway/internal/config"
	"github.com/2389/intake-gateway/internal/llm"
)

// fakeCaller scripts upstream responses and records attempt counts.
type fakeCaller struct {
	model    string
	attempts int
	respond  func(attempt int) (string, error)
}

func (f *fakeCaller) Invoke(ctx context.Context, messages []llm.Message) (string, error) {
	f.attempts++
	return f.respond(f.attempts)
}

func (f *fakeCaller) Model() string { return f.model }

func baseConfig(retries int, withFallback bool) config.AgentConfig {
	cfg := config.AgentConfig{
		BaseURL:    "https://primary.example/v1",
		Model:      "primary-model",
		APIKey:     "sk-test",
		MaxRetries: retries,
	}
	if withFallback {
		cfg.Fallback = &config.FallbackConfig{
			BaseURL: "https://fallback.example/v1",
			Model:   "fallback-model",
		}
	}
	return cfg
}

// newTestAgent wires an agent to fakes; the factory assigns the first
// created caller to primary and the second to fallback.
func newTestAgent(t *testing.T, cfg config.AgentConfig, primary, fallback *fakeCaller) *Agent {
	t.Helper()
	created := 0
	a, err := New("test", cfg, "system {persona}", "user says {content}",
		WithCallerFactory(func(ep llm.Endpoint) Caller {
			created++
			if created == 1 {
				primary.model = ep.Model
				return primary
			}
			require.NotNil(t, fallback, "fallback caller created but not scripted")
			fallback.model = ep.Model
			return fallback
		}))
	require.NoError(t, err)
	return a
}

func TestRun_SuccessFirstAttempt(t *testing.T) {
	primary := &fakeCaller{respond: func(int) (string, error) {
		return `{"answer": "Hello, how can I help?", "report_done": false}`, nil
	}}
	a := newTestAgent(t, baseConfig(3, false), primary, nil)

	res, err := a.Run(t.Context(), map[string]string{"content": "hi"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Hello, how can I help?", res.String("answer"))
	assert.False(t, res.Bool("report_done"))
	assert.Equal(t, 1, primary.attempts)
}

func TestRun_PersistentParseErrorStopsAtBudget(t *testing.T) {
	primary := &fakeCaller{respond: func(int) (string, error) {
		return `this is not json at all {{{]`, nil
	}}
	a := newTestAgent(t, baseConfig(3, false), primary, nil)

	res, err := a.Run(t.Context(), nil)
	assert.NoError(t, err)
	assert.Nil(t, res, "terminal failure must be a nil result")
	assert.Equal(t, 3, primary.attempts, "budget N means at most N upstream attempts")
}

func TestRun_TransportErrorsConsumeBudget(t *testing.T) {
	primary := &fakeCaller{respond: func(int) (string, error) {
		return "", &llm.TransportError{Err: errors.New("connection reset")}
	}}
	a := newTestAgent(t, baseConfig(2, false), primary, nil)

	res, err := a.Run(t.Context(), nil)
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 2, primary.attempts)
}

func TestRun_FallbackAttemptedExactlyOnce(t *testing.T) {
	primary := &fakeCaller{respond: func(int) (string, error) {
		return "", &llm.UpstreamError{StatusCode: 503, Message: "overloaded"}
	}}
	fallback := &fakeCaller{respond: func(int) (string, error) {
		return "", &llm.UpstreamError{StatusCode: 503, Message: "also overloaded"}
	}}
	a := newTestAgent(t, baseConfig(2, true), primary, fallback)

	res, err := a.Run(t.Context(), nil)
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 2, primary.attempts, "N primary attempts")
	assert.Equal(t, 1, fallback.attempts, "fallback has no nested retry loop")
}

func TestRun_FallbackRecoversFromMalformedPrimary(t *testing.T) {
	primary := &fakeCaller{respond: func(int) (string, error) {
		return `garbage [}`, nil
	}}
	fallback := &fakeCaller{respond: func(int) (string, error) {
		return `{"answer": "from fallback"}`, nil
	}}
	a := newTestAgent(t, baseConfig(2, true), primary, fallback)

	res, err := a.Run(t.Context(), nil)
	require.NoError(t, err)
	require.NotNil(t, res, "valid fallback output must win over exhausted primary")
	assert.Equal(t, "from fallback", res.String("answer"))
	assert.Equal(t, 2, primary.attempts)
	assert.Equal(t, 1, fallback.attempts)
}

func TestRun_NonRetriableErrorAbortsImmediately(t *testing.T) {
	fatal := errors.New("programming error")
	primary := &fakeCaller{respond: func(int) (string, error) {
		return "", fatal
	}}
	a := newTestAgent(t, baseConfig(3, true), primary, &fakeCaller{})

	res, err := a.Run(t.Context(), nil)
	assert.ErrorIs(t, err, fatal)
	assert.Nil(t, res)
	assert.Equal(t, 1, primary.attempts, "non-retriable failures must not consume budget")
}

func TestRun_CancelledContextSkipsRemainingAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &fakeCaller{respond: func(int) (string, error) {
		cancel()
		return "", &llm.TransportError{Err: context.Canceled}
	}}
	a := newTestAgent(t, baseConfig(5, true), primary, &fakeCaller{})

	res, err := a.Run(ctx, nil)
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 1, primary.attempts)
}

func TestRun_RepairsMinorMalformations(t *testing.T) {
	primary := &fakeCaller{respond: func(int) (string, error) {
		// trailing comma and unquoted key, both repairable
		return "```json\n{answer: \"ok\", \"report_done\": true,}\n```", nil
	}}
	a := newTestAgent(t, baseConfig(1, false), primary, nil)

	res, err := a.Run(t.Context(), nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "ok", res.String("answer"))
	assert.True(t, res.Bool("report_done"))
	assert.Equal(t, 1, primary.attempts)
}

func TestRun_TextOutputStripsReasoning(t *testing.T) {
	cfg := baseConfig(1, false)
	cfg.Output = OutputText
	primary := &fakeCaller{respond: func(int) (string, error) {
		return "<think>internal musing</think>\n  Final report text  ", nil
	}}
	a := newTestAgent(t, cfg, primary, nil)

	res, err := a.Run(t.Context(), nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Final report text", res.Text)
	assert.Nil(t, res.Object)
}

func TestNew_MissingCredentialIsConfigurationError(t *testing.T) {
	cfg := baseConfig(2, false)
	cfg.APIKey = ""

	_, err := New("test", cfg, "sys", "user")
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Reason, "api_key")
}

func TestRender(t *testing.T) {
	out := Render("hello {name}, you are {age} years old", map[string]string{
		"name": "Budi",
		"age":  "35",
	})
	assert.Equal(t, "hello Budi, you are 35 years old", out)

	assert.Equal(t, "{unknown} stays", Render("{unknown} stays", map[string]string{"a": "b"}))
	assert.Equal(t, "no vars", Render("no vars", nil))
}

func TestParseStagesAreDistinguishable(t *testing.T) {
	_, err := repairJSON("") // nothing to repair into JSON
	if err != nil {
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, ParseStageRepair, pe.Stage)
	}

	_, err = decodeObject(`["an", "array", "not", "object"]`)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ParseStageDecode, pe.Stage)
}
