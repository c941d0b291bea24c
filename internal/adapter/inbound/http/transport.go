package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kessel-b2b/aigate/internal/domain/ratelimit"
)

// RateLimits configures per-user limits. A nil Limiter disables limiting.
type RateLimits struct {
	Limiter ratelimit.Limiter
	Chat    ratelimit.Limit
	Tools   ratelimit.Limit
}

// Server is the inbound HTTP adapter.
type Server struct {
	api            *APIHandler
	addr           string
	certFile       string
	keyFile        string
	auth           AuthConfig
	rateLimits     RateLimits
	adminHandler   http.Handler
	mcpHandler     http.Handler
	mcpPath        string
	metrics        *Metrics
	gatherer       prometheus.Gatherer
	healthChecker  *HealthChecker
	requestTimeout time.Duration
	logger         *slog.Logger
	server         *http.Server
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithTLS enables TLS with the provided certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithAuth configures authentication for /v1, /admin and /mcp.
func WithAuth(cfg AuthConfig) Option {
	return func(s *Server) { s.auth = cfg }
}

// WithRateLimits enables per-user rate limiting on chat and tool calls.
func WithRateLimits(rl RateLimits) Option {
	return func(s *Server) { s.rateLimits = rl }
}

// WithAdminHandler mounts the admin API under /admin/api/.
func WithAdminHandler(h http.Handler) Option {
	return func(s *Server) { s.adminHandler = h }
}

// WithMCPHandler mounts an MCP endpoint at path.
func WithMCPHandler(path string, h http.Handler) Option {
	return func(s *Server) {
		s.mcpPath = path
		s.mcpHandler = h
	}
}

// WithMetrics records request metrics and serves /metrics from gatherer.
func WithMetrics(m *Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) { s.healthChecker = hc }
}

// WithRequestTimeout bounds non-streaming requests. Zero disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

// NewServer creates the HTTP server around api.
func NewServer(api *APIHandler, opts ...Option) *Server {
	s := &Server{
		api:     api,
		addr:    "127.0.0.1:8080",
		mcpPath: "/mcp",
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routed handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	authn := AuthMiddleware(s.auth)
	chain := func(h http.Handler, scope ratelimit.Scope, limit ratelimit.Limit) http.Handler {
		if s.rateLimits.Limiter != nil && scope != "" {
			h = RateLimitMiddleware(s.rateLimits.Limiter, scope, limit, s.metrics)(h)
		}
		return authn(h)
	}
	timed := func(h http.HandlerFunc) http.Handler {
		if s.requestTimeout <= 0 {
			return h
		}
		return http.TimeoutHandler(h, s.requestTimeout, `{"error":"request timed out"}`)
	}

	mux := http.NewServeMux()
	// The chat handler streams, so it manages its own deadline.
	mux.Handle("POST /v1/chat", chain(http.HandlerFunc(s.api.handleChat), ratelimit.ScopeChat, s.rateLimits.Chat))
	mux.Handle("POST /v1/route", chain(timed(s.api.handleRoute), "", ratelimit.Limit{}))
	mux.Handle("GET /v1/tools", chain(timed(s.api.handleListTools), "", ratelimit.Limit{}))
	mux.Handle("POST /v1/tools/{name}", chain(timed(s.api.handleCallTool), ratelimit.ScopeTools, s.rateLimits.Tools))

	if s.adminHandler != nil {
		mux.Handle("/admin/api/", authn(s.adminHandler))
	}
	if s.mcpHandler != nil {
		mux.Handle(s.mcpPath, chain(s.mcpHandler, ratelimit.ScopeTools, s.rateLimits.Tools))
	}
	if s.healthChecker != nil {
		mux.Handle("GET /health", s.healthChecker.Handler())
	} else {
		mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Checks: map[string]string{}})
		})
	}
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = RequestIDMiddleware(s.logger)(mux)
	if s.metrics != nil {
		handler = MetricsMiddleware(s.metrics, func(r *http.Request) string {
			_, pattern := mux.Handler(r)
			return pattern
		})(handler)
	}
	return handler
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.certFile != "" && s.keyFile != "" {
		s.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.certFile != "" && s.keyFile != "" {
			s.logger.Info("starting HTTPS server", "addr", s.addr)
			err = s.server.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			s.logger.Info("starting HTTP server", "addr", s.addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the server if it was started.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}
