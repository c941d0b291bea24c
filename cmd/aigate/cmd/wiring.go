package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	auditsink "github.com/kessel-b2b/aigate/internal/adapter/outbound/audit"
	"github.com/kessel-b2b/aigate/internal/adapter/outbound/cel"
	"github.com/kessel-b2b/aigate/internal/adapter/outbound/jsonschema"
	"github.com/kessel-b2b/aigate/internal/adapter/outbound/llm"
	"github.com/kessel-b2b/aigate/internal/adapter/outbound/memory"
	"github.com/kessel-b2b/aigate/internal/adapter/outbound/sqlstore"
	"github.com/kessel-b2b/aigate/internal/adapter/outbound/state"
	"github.com/kessel-b2b/aigate/internal/config"
	"github.com/kessel-b2b/aigate/internal/domain/audit"
	"github.com/kessel-b2b/aigate/internal/domain/auth"
	"github.com/kessel-b2b/aigate/internal/domain/datasource"
	"github.com/kessel-b2b/aigate/internal/domain/router"
	"github.com/kessel-b2b/aigate/internal/port/outbound"
	"github.com/kessel-b2b/aigate/internal/service"
)

// stores holds the policy and data stores for the configured driver.
type stores struct {
	policies datasource.Store
	data     outbound.DataStore
	db       *sqlstore.DB
}

func (s *stores) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// openStores connects the configured store, creates SQL tables when needed
// and loads the seed file into an empty policy store.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	st := &stores{}
	switch cfg.Store.Driver {
	case "postgres", "sqlite":
		dialect, err := sqlstore.ParseDialect(cfg.Store.Driver)
		if err != nil {
			return nil, err
		}
		db, err := sqlstore.Open(ctx, dialect, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		st.db = db
		st.policies = sqlstore.NewPolicyStore(db, logger)
		st.data = sqlstore.NewDataStore(db)
	case "file":
		ps, err := state.NewPolicyStore(cfg.Store.StatePath, logger)
		if err != nil {
			return nil, err
		}
		st.policies = ps
		st.data = memory.NewDataStore()
	default:
		ps, err := memory.NewPolicyStore()
		if err != nil {
			return nil, err
		}
		st.policies = ps
		st.data = memory.NewDataStore()
	}

	if err := seedPolicies(ctx, st.policies, cfg.Store.SeedFile, logger); err != nil {
		st.Close()
		return nil, err
	}
	logger.Debug("stores opened", "driver", cfg.Store.Driver)
	return st, nil
}

// seedPolicies loads path into store unless the store already has policies.
func seedPolicies(ctx context.Context, store datasource.Store, path string, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	existing, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("list policies: %w", err)
	}
	if len(existing) > 0 {
		logger.Debug("policy store not empty, skipping seed", "policies", len(existing), "seed_file", path)
		return nil
	}
	seed, err := datasource.LoadSeed(path)
	if err != nil {
		return err
	}
	for i := range seed {
		if err := store.Save(ctx, &seed[i]); err != nil {
			return fmt.Errorf("seed policy %s: %w", seed[i].Table, err)
		}
	}
	logger.Info("seeded access policies", "count", len(seed), "seed_file", path)
	return nil
}

// auditReader is what the admin API reads recent records from.
type auditReader interface {
	Recent(n int) []audit.ToolCallRecord
	Query(ctx context.Context, f audit.Filter) ([]audit.ToolCallRecord, error)
}

// openAuditSink builds the configured audit store. The reader always serves
// recent records from memory; durable sinks are written alongside it.
func openAuditSink(ctx context.Context, cfg *config.Config, st *stores, stdout io.Writer, logger *slog.Logger) (audit.AuditStore, auditReader, error) {
	size := cfg.Audit.BufferSize
	switch cfg.AuditSink() {
	case "memory":
		ring := memory.NewAuditStore(nil, size)
		return ring, ring, nil
	case "stdout":
		ring := memory.NewAuditStore(stdout, size)
		return ring, ring, nil
	case "file":
		fs, err := auditsink.NewFileStore(auditsink.FileConfig{
			Dir:           cfg.AuditFileDir(),
			RetentionDays: cfg.AuditFile.RetentionDays,
			MaxFileSizeMB: cfg.AuditFile.MaxFileSizeMB,
			CacheSize:     size,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs, nil
	case "sql":
		if st.db == nil {
			return nil, nil, errors.New("audit output sql requires a sql store")
		}
		ring := memory.NewAuditStore(nil, size)
		return audit.Tee(ring, sqlstore.NewAuditStore(st.db)), ring, nil
	case "clickhouse":
		ch, err := auditsink.NewClickHouseStore(ctx, cfg.Audit.ClickHouseDSN, logger)
		if err != nil {
			return nil, nil, err
		}
		ring := memory.NewAuditStore(nil, size)
		return audit.Tee(ring, ch), ring, nil
	default:
		return nil, nil, fmt.Errorf("unknown audit output %q", cfg.Audit.Output)
	}
}

// apiKeys converts configured keys. Keys without roles get the user role.
func apiKeys(cfg *config.Config) []auth.APIKey {
	keys := make([]auth.APIKey, 0, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		roles := make([]auth.Role, 0, len(k.Roles))
		for _, r := range k.Roles {
			roles = append(roles, auth.Role(strings.ToLower(r)))
		}
		if len(roles) == 0 {
			roles = []auth.Role{auth.RoleUser}
		}
		keys = append(keys, auth.APIKey{Hash: k.KeyHash, UserID: k.UserID, Name: k.Name, Roles: roles})
	}
	return keys
}

// newRouter builds the model router from the configured models and rules.
func newRouter(cfg *config.Config) (*router.Router, error) {
	rules := router.DefaultRuleset()
	if cfg.Router.RulesFile != "" {
		loaded, err := router.LoadRuleset(cfg.Router.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}
	return router.New(rules, router.Models{
		Chat:         cfg.Router.ChatModel,
		Tool:         cfg.Router.ToolModel,
		ToolMaxSteps: cfg.Router.ToolMaxSteps,
	}), nil
}

// newExecutor builds the tool executor with schema validation and guards.
func newExecutor(cfg *config.Config, st *stores, sink audit.AuditStore, guards outbound.GuardEvaluator, logger *slog.Logger, extra ...service.ExecutorOption) *service.ToolExecutor {
	opts := []service.ExecutorOption{
		service.WithSchemaValidator(jsonschema.NewValidator()),
		service.WithGuardEvaluator(guards),
		service.WithDefaultQueryLimit(cfg.Executor.DefaultLimit),
		service.WithCallTimeout(config.Duration(cfg.Executor.CallTimeout, 30*time.Second)),
		service.WithStrictQueryFilters(cfg.Executor.StrictQueryFilters),
	}
	return service.NewToolExecutor(st.policies, st.data, sink, logger, append(opts, extra...)...)
}

// newGuards builds the CEL guard evaluator shared by the executor and the
// admin API.
func newGuards() (*cel.GuardEvaluator, error) {
	g, err := cel.NewGuardEvaluator()
	if err != nil {
		return nil, fmt.Errorf("create guard evaluator: %w", err)
	}
	return g, nil
}

// newModelClient returns nil when no provider key is configured, which
// leaves the chat endpoint answering 503.
func newModelClient(cfg *config.Config, logger *slog.Logger) (outbound.ModelClient, error) {
	client, err := llm.NewOpenRouterClient(llm.Config{
		BaseURL:    cfg.LLM.BaseURL,
		APIKeyEnv:  cfg.LLM.APIKeyEnv,
		Referer:    cfg.LLM.Referer,
		Title:      cfg.LLM.Title,
		Timeout:    config.Duration(cfg.LLM.Timeout, 2*time.Minute),
		MaxRetries: cfg.LLM.MaxRetries,
	})
	if errors.Is(err, llm.ErrMissingAPIKey) {
		logger.Warn("model provider key not set, chat disabled", "env", cfg.LLM.APIKeyEnv)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return llm.NewFallbackClient(client, cfg.Router.FallbackModel, logger), nil
}

// newCLILogger logs warnings and errors to stderr for one-shot commands.
func newCLILogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
