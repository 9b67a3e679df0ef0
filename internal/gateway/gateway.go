// ABOUTME: Gateway assembly: wires store, hub, agents, turn processing, and the report pipeline
// ABOUTME: Owns the HTTP server lifecycle including graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/2389/intake-gateway/internal/agent"
	"github.com/2389/intake-gateway/internal/auth"
	"github.com/2389/intake-gateway/internal/config"
	"github.com/2389/intake-gateway/internal/facility"
	"github.com/2389/intake-gateway/internal/hub"
	"github.com/2389/intake-gateway/internal/prompts"
	"github.com/2389/intake-gateway/internal/report"
	"github.com/2389/intake-gateway/internal/store"
	"github.com/2389/intake-gateway/internal/turn"
	"github.com/2389/intake-gateway/internal/ws"
)

// Gateway owns every long-lived component of the intake service.
type Gateway struct {
	config     *config.Config
	store      *store.SQLiteStore
	hub        *hub.Hub
	pipeline   *report.Pipeline
	httpServer *http.Server
	logger     *slog.Logger
	addr       atomic.Value // bound listen address, set by Run
}

// Addr returns the bound HTTP listen address once Run has started, or "".
func (g *Gateway) Addr() string {
	addr, _ := g.addr.Load().(string)
	return addr
}

// New creates a Gateway from configuration: opens the store, builds the
// five agents with their prompts, and assembles the turn processor,
// report pipeline, and websocket endpoint.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	agents, err := buildAgents(cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	h := hub.New(logger)
	serializer := turn.NewSerializer()
	processor := turn.NewProcessor(s, agents[config.AgentIntake], serializer, logger)
	finder := facility.New(cfg.Facility, logger)
	pipeline := report.New(s, finder, report.Agents{
		Parser:   agents[config.AgentParser],
		Language: agents[config.AgentLanguage],
		Doctor:   agents[config.AgentDoctor],
		Report:   agents[config.AgentReport],
	}, h, logger)

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	wsHandler := ws.NewHandler(h, processor, pipeline, verifier, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("GET /ws/{conversation_id}", wsHandler)

	gw := &Gateway{
		config:   cfg,
		store:    s,
		hub:      h,
		pipeline: pipeline,
		logger:   logger.With("component", "gateway"),
		httpServer: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	return gw, nil
}

// buildAgents constructs the five configured agents with their prompts.
func buildAgents(cfg *config.Config, logger *slog.Logger) (map[string]*agent.Agent, error) {
	names := []string{
		config.AgentIntake,
		config.AgentParser,
		config.AgentDoctor,
		config.AgentReport,
		config.AgentLanguage,
	}
	agents := make(map[string]*agent.Agent, len(names))
	for _, name := range names {
		systemPrompt, err := prompts.System(name)
		if err != nil {
			return nil, err
		}
		humanPrompt, err := prompts.Human(name)
		if err != nil {
			return nil, err
		}
		a, err := agent.New(name, cfg.Agents[name], systemPrompt, humanPrompt, agent.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("building agent %s: %w", name, err)
		}
		agents[name] = a
	}
	return agents, nil
}

// Run starts the HTTP server and the hub sweep, blocking until the
// context is canceled or the server fails. Returns nil on graceful
// shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	g.addr.Store(ln.Addr().String())

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go g.hub.Run(sweepCtx, g.config.Hub.ProbeInterval)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown stops the server with a fresh context and timeout.
// The original context is already canceled by the time we get here.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server, waits for in-flight report runs, and
// closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	// Report runs are detached from client requests; give them until
	// the shutdown deadline.
	done := make(chan struct{})
	go func() {
		g.pipeline.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.logger.Warn("shutdown deadline reached with report runs in flight",
			"running", g.pipeline.Running())
	}

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}

	g.logger.Info("gateway stopped")
	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
