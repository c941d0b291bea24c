package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/kessel-b2b/aigate/internal/adapter/inbound/admin"
	httpadapter "github.com/kessel-b2b/aigate/internal/adapter/inbound/http"
	mcpadapter "github.com/kessel-b2b/aigate/internal/adapter/inbound/mcp"
	"github.com/kessel-b2b/aigate/internal/adapter/outbound/memory"
	"github.com/kessel-b2b/aigate/internal/adapter/outbound/telemetry"
	"github.com/kessel-b2b/aigate/internal/config"
	"github.com/kessel-b2b/aigate/internal/domain/auth"
	"github.com/kessel-b2b/aigate/internal/domain/ratelimit"
	"github.com/kessel-b2b/aigate/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	Long: `Start the aigate HTTP gateway.

Endpoints:
  POST /v1/chat            chat with routed model and generated tools
  POST /v1/route           routing decision only
  GET  /v1/tools           generated tool definitions
  POST /v1/tools/{name}    execute one tool
  /admin/api/...           access policy and audit administration
  /mcp                     MCP streamable HTTP (when mcp.enabled)
  GET  /health, /metrics

Examples:
  # Start with config file settings
  aigate serve

  # Development mode: debug logs, anonymous admin access without keys
  aigate serve --dev`,
	RunE: runServe,
}

var devMode bool

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, anonymous access without API keys)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(devMode)
	if err != nil {
		return err
	}

	// stop() restores default signal handling so a second Ctrl+C kills hard.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}
	if cfg.DevMode {
		logger.Warn("development mode enabled, do not use in production")
	}

	if err := serve(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("aigate stopped")
	return nil
}

// serve wires all components and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Setup(telemetry.Config{
		Tracing:        cfg.Telemetry.Tracing,
		Metrics:        cfg.Telemetry.Metrics,
		MetricInterval: config.Duration(cfg.Telemetry.MetricInterval, time.Minute),
		Version:        Version,
		Writer:         os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := httpadapter.NewMetrics(reg)

	sink, reader, err := openAuditSink(ctx, cfg, st, os.Stdout, logger)
	if err != nil {
		return fmt.Errorf("failed to create audit store: %w", err)
	}
	defer func() { _ = sink.Close() }()

	auditService := service.NewAuditService(sink, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(config.Duration(cfg.Audit.FlushInterval, time.Second)),
		service.WithSendTimeout(config.Duration(cfg.Audit.SendTimeout, 100*time.Millisecond)),
		service.WithPressureThreshold(cfg.Audit.WarningThreshold),
		service.WithDropHook(metrics.AuditDropped),
	)
	auditService.Start(ctx)
	defer auditService.Stop()

	guards, err := newGuards()
	if err != nil {
		return err
	}
	executor := newExecutor(cfg, st, auditService, guards, logger, service.WithToolMetrics(metrics))
	registry := service.NewToolRegistry(st.policies, logger)

	rt, err := newRouter(cfg)
	if err != nil {
		return err
	}
	client, err := newModelClient(cfg, logger)
	if err != nil {
		return err
	}
	chat := service.NewChatService(rt, registry, executor, client, logger,
		service.WithDryRunDefault(cfg.Executor.DryRunDefault),
		service.WithMaxTokens(cfg.LLM.MaxTokens),
		service.WithRouterMetrics(metrics),
	)

	adminAPI := admin.NewAdminAPIHandler(
		admin.WithPolicyAdminService(service.NewPolicyAdminService(st.policies, guards, logger)),
		admin.WithAuditReader(reader),
		admin.WithAPILogger(logger),
	)

	keys := apiKeys(cfg)
	authCfg := httpadapter.AuthConfig{
		Authenticator:     auth.NewAuthenticator(memory.NewKeyStore(keys...)),
		TrustedUserHeader: cfg.Auth.TrustedUserHeader,
	}
	if cfg.DevMode && len(keys) == 0 {
		authCfg.Anonymous = &auth.Identity{ID: "dev-user", Name: "Development User", Roles: []auth.Role{auth.RoleAdmin}}
		logger.Warn("no API keys configured, unauthenticated requests act as dev-user (admin)")
	}

	var limiter *memory.RateLimiter
	var rateLimits httpadapter.RateLimits
	if cfg.RateLimit.Enabled {
		limiter = memory.NewRateLimiter(config.Duration(cfg.RateLimit.MaxTTL, time.Hour))
		go limiter.Run(ctx, config.Duration(cfg.RateLimit.CleanupInterval, 5*time.Minute))
		rateLimits = httpadapter.RateLimits{
			Limiter: limiter,
			Chat:    ratelimit.Limit{Rate: cfg.RateLimit.UserRate, Burst: cfg.RateLimit.UserRate, Period: time.Minute},
			Tools:   ratelimit.Limit{Rate: cfg.RateLimit.ToolRate, Burst: cfg.RateLimit.ToolRate, Period: time.Minute},
		}
	}

	opts := []httpadapter.Option{
		httpadapter.WithAddr(cfg.Server.HTTPAddr),
		httpadapter.WithLogger(logger),
		httpadapter.WithAuth(authCfg),
		httpadapter.WithRateLimits(rateLimits),
		httpadapter.WithAdminHandler(adminAPI.Routes()),
		httpadapter.WithMetrics(metrics, reg),
		httpadapter.WithHealthChecker(httpadapter.NewHealthChecker(st.policies, limiter, auditService, Version)),
		httpadapter.WithRequestTimeout(config.Duration(cfg.Server.RequestTimeout, time.Minute)),
	}
	if cfg.Server.TLSCertFile != "" {
		opts = append(opts, httpadapter.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile))
	}
	if cfg.MCP.Enabled {
		mcpHandler := mcpadapter.NewHandler(registry, executor, logger,
			mcpadapter.WithVersion(Version),
			mcpadapter.WithDryRunDefault(cfg.Executor.DryRunDefault),
		)
		opts = append(opts, httpadapter.WithMCPHandler(cfg.MCP.Path, mcpHandler.HTTPHandler()))
		logger.Info("mcp enabled", "path", cfg.MCP.Path)
	}

	tools, err := registry.Tools(ctx)
	if err != nil {
		logger.Warn("failed to generate tools at startup", "error", err)
	}
	metrics.ToolsGenerated.Set(float64(len(tools)))

	logger.Info("aigate starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"http_addr", cfg.Server.HTTPAddr,
		"store", cfg.Store.Driver,
		"audit_output", cfg.AuditSink(),
		"tools", len(tools),
		"chat_enabled", chat.ModelConfigured(),
		"rate_limit", cfg.RateLimit.Enabled,
		"api_keys", len(keys),
	)

	server := httpadapter.NewServer(httpadapter.NewAPIHandler(chat, registry, executor, metrics, cfg.Executor.DryRunDefault), opts...)
	return server.Start(ctx)
}

// parseLogLevel maps a config string to a slog level. Unknown values are info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
