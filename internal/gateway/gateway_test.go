// ABOUTME: Tests for gateway assembly and lifecycle
// ABOUTME: Covers wiring from config, health endpoint, and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/intake-gateway/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	agentCfg := config.AgentConfig{
		BaseURL: "http://127.0.0.1:9/v1",
		Model:   "test-model",
		APIKey:  "test-key",
	}
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "intake.db")},
		Auth:     config.AuthConfig{JWTSecret: "test-secret"},
		Agents: map[string]config.AgentConfig{
			config.AgentIntake:   agentCfg,
			config.AgentParser:   agentCfg,
			config.AgentDoctor:   agentCfg,
			config.AgentReport:   agentCfg,
			config.AgentLanguage: agentCfg,
		},
	}
}

func TestNew_WiresAllComponents(t *testing.T) {
	gw, err := New(testConfig(t), discardLogger())
	require.NoError(t, err)
	require.NotNil(t, gw)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, gw.Shutdown(ctx))
}

func TestNew_MissingAgentCredentialFails(t *testing.T) {
	cfg := testConfig(t)
	ac := cfg.Agents[config.AgentDoctor]
	ac.APIKey = ""
	cfg.Agents[config.AgentDoctor] = ac

	_, err := New(cfg, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doctor")
}

func TestRun_ServesHealthAndStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	gw, err := New(cfg, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- gw.Run(ctx) }()

	// The listener address is allocated inside Run; poll until the
	// server answers.
	var resp *http.Response
	require.Eventually(t, func() bool {
		addr := gw.Addr()
		if addr == "" {
			return false
		}
		r, err := http.Get(fmt.Sprintf("http://%s/health", addr))
		if err != nil {
			return false
		}
		resp = r
		return true
	}, 2*time.Second, 20*time.Millisecond)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
