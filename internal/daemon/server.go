package daemon

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"go.uber.org/zap"

	"github.com/Anko59/AutoHubble/internal/agent"
	"github.com/Anko59/AutoHubble/internal/config"
	"github.com/Anko59/AutoHubble/internal/observability"
	"github.com/Anko59/AutoHubble/internal/rpc/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server hosts the session stream endpoints plus health and metrics.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	runner  session.Runner
	metrics *observability.Metrics
}

// NewServer constructs a daemon instance.
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	metrics := observability.NewMetrics()
	deps, err := agent.BuildDeps(ctx, cfg, logger, metrics)
	if err != nil {
		return nil, err
	}
	runner := &session.SessionRunner{
		Deps:   deps,
		Limits: agent.LimitsFromConfig(cfg),
		Logger: logger,
	}
	return newServer(cfg, logger, runner, metrics), nil
}

func newServer(cfg *config.Config, logger *zap.Logger, runner session.Runner, metrics *observability.Metrics) *Server {
	return &Server{cfg: cfg, logger: logger, runner: runner, metrics: metrics}
}

// Handler returns the daemon's routes. The connect transport also serves the
// NDJSON route and is wrapped in h2c for plaintext HTTP/2.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)
	mux.Handle(session.GeneratePath, session.NewHandler(s.runner, s.metrics))

	if s.ndjsonOnly() {
		return mux
	}
	path, handler := session.NewConnectHandler(s.runner, s.metrics)
	mux.Handle(path, handler)
	return h2c.NewHandler(mux, &http2.Server{})
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting autohubble daemon",
			zap.String("addr", s.cfg.Server.Addr),
			zap.String("transport", s.cfg.Server.Transport),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down autohubble daemon")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) ndjsonOnly() bool {
	return strings.ToLower(strings.TrimSpace(s.cfg.Server.Transport)) == "ndjson"
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Server.MetricsEnabled {
		http.NotFound(w, r)
		return
	}

	promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
