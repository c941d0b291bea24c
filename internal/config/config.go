// Package config provides configuration types for aigate.
//
// Configuration is file-based (YAML) with environment overrides. The data
// access policies themselves live in the configured store, not here; the
// optional store.seed_file only bootstraps an empty store.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Store selects where access policies and governed tables live.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Audit configures where tool call records are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// AuditFile configures the JSONL file sink used by audit output "file".
	AuditFile AuditFileConfig `yaml:"audit_file" mapstructure:"audit_file"`

	// Router configures the model tiers and the keyword ruleset.
	Router RouterConfig `yaml:"router" mapstructure:"router"`

	// Executor configures tool execution.
	Executor ExecutorConfig `yaml:"executor" mapstructure:"executor"`

	// LLM configures the model provider.
	LLM LLMConfig `yaml:"llm" mapstructure:"llm"`

	// Auth configures API keys and trusted proxy headers.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// RateLimit configures per-user limits on chat and tool calls.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// MCP configures the optional MCP endpoint.
	MCP MCPConfig `yaml:"mcp" mapstructure:"mcp"`

	// Telemetry configures OpenTelemetry exporters.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables development features (debug logging, anonymous admin
	// access, in-memory defaults).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel is one of debug, info, warn, error. DevMode forces debug.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// RequestTimeout bounds non-streaming API requests (e.g. "60s").
	RequestTimeout string `yaml:"request_timeout" mapstructure:"request_timeout" validate:"omitempty,duration"`

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file" validate:"required_with=TLSCertFile"`
}

// StoreConfig configures the policy and data store.
type StoreConfig struct {
	// Driver is one of memory, file, postgres, sqlite. Defaults to memory.
	Driver string `yaml:"driver" mapstructure:"driver" validate:"omitempty,oneof=memory file postgres sqlite"`

	// DSN is the database connection string for postgres and sqlite.
	DSN string `yaml:"dsn" mapstructure:"dsn"`

	// StatePath is the JSON state file for the file driver.
	StatePath string `yaml:"state_path" mapstructure:"state_path"`

	// SeedFile is a YAML list of policies loaded when the store is empty.
	SeedFile string `yaml:"seed_file" mapstructure:"seed_file"`
}

// AuditConfig configures audit record delivery.
type AuditConfig struct {
	// Output is memory, stdout, file, file://<absolute-dir>, sql or clickhouse.
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	// ChannelSize is the buffer between the executor and the writer.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records written per batch.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often pending records are written (e.g. "1s").
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,duration"`

	// SendTimeout is how long a full channel blocks before a record is dropped.
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,duration"`

	// WarningThreshold is the channel fill percentage that triggers warnings.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`

	// BufferSize is the number of recent records the admin API can query.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`

	// ClickHouseDSN is required for output clickhouse.
	ClickHouseDSN string `yaml:"clickhouse_dsn" mapstructure:"clickhouse_dsn"`
}

// AuditFileConfig configures the JSONL audit files.
type AuditFileConfig struct {
	// Dir is the directory for daily audit files.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// RetentionDays is how long files are kept. Defaults to 7.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`
	// MaxFileSizeMB triggers rotation within a day. Defaults to 100.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"omitempty,min=1"`
}

// RouterConfig configures model selection.
type RouterConfig struct {
	ChatModel     string `yaml:"chat_model" mapstructure:"chat_model"`
	ToolModel     string `yaml:"tool_model" mapstructure:"tool_model"`
	FallbackModel string `yaml:"fallback_model" mapstructure:"fallback_model"`
	// ToolMaxSteps bounds model calls per request on the tool tier.
	ToolMaxSteps int `yaml:"tool_max_steps" mapstructure:"tool_max_steps" validate:"omitempty,min=1,max=50"`
	// RulesFile adds keywords to the built-in tables.
	RulesFile string `yaml:"rules_file" mapstructure:"rules_file"`
}

// ExecutorConfig configures the tool executor.
type ExecutorConfig struct {
	// DefaultLimit applies to queries without a limit argument. Defaults to 10.
	DefaultLimit int `yaml:"default_limit" mapstructure:"default_limit" validate:"omitempty,min=1"`
	// DryRunDefault makes mutations render instead of execute unless the
	// request says otherwise.
	DryRunDefault bool `yaml:"dry_run_default" mapstructure:"dry_run_default"`
	// CallTimeout bounds one tool call. Defaults to "30s".
	CallTimeout string `yaml:"call_timeout" mapstructure:"call_timeout" validate:"omitempty,duration"`
	// StrictQueryFilters rejects query filters on hidden columns instead of
	// skipping them.
	StrictQueryFilters bool `yaml:"strict_query_filters" mapstructure:"strict_query_filters"`
}

// LLMConfig configures the OpenAI-compatible provider.
type LLMConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	// APIKeyEnv names the environment variable holding the key.
	APIKeyEnv string `yaml:"api_key_env" mapstructure:"api_key_env"`
	// MaxTokens limits completion length. Zero leaves it to the provider.
	MaxTokens  int    `yaml:"max_tokens" mapstructure:"max_tokens" validate:"omitempty,min=1"`
	Referer    string `yaml:"referer" mapstructure:"referer"`
	Title      string `yaml:"title" mapstructure:"title"`
	Timeout    string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries" validate:"omitempty,min=0,max=10"`
}

// AuthConfig configures authentication.
type AuthConfig struct {
	// APIKeys are accepted as "Authorization: Bearer <key>".
	APIKeys []APIKeyConfig `yaml:"api_keys" mapstructure:"api_keys" validate:"omitempty,dive"`

	// TrustedUserHeader names a header set by an authenticating proxy.
	TrustedUserHeader string `yaml:"trusted_user_header" mapstructure:"trusted_user_header"`
}

// APIKeyConfig defines one API key.
type APIKeyConfig struct {
	// KeyHash is an argon2id PHC string (see "aigate hash-key") or
	// "sha256:<hex>".
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required,key_hash"`

	// UserID is recorded in the audit log for calls made with this key.
	UserID string `yaml:"user_id" mapstructure:"user_id" validate:"required"`

	Name string `yaml:"name" mapstructure:"name"`

	// Roles are "admin" and/or "user". Defaults to user.
	Roles []string `yaml:"roles" mapstructure:"roles" validate:"omitempty,dive,oneof=admin user"`
}

// RateLimitConfig configures per-user rate limiting.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// UserRate is the maximum chat requests per minute per user.
	UserRate int `yaml:"user_rate" mapstructure:"user_rate" validate:"omitempty,min=1"`

	// ToolRate is the maximum direct tool calls per minute per user.
	ToolRate int `yaml:"tool_rate" mapstructure:"tool_rate" validate:"omitempty,min=1"`

	// CleanupInterval is how often idle limiter entries are swept.
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`

	// MaxTTL is the idle time after which a limiter entry is removed.
	MaxTTL string `yaml:"max_ttl" mapstructure:"max_ttl" validate:"omitempty,duration"`
}

// MCPConfig configures the MCP endpoint.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path" validate:"omitempty,startswith=/"`
}

// TelemetryConfig configures OpenTelemetry stdout exporters.
type TelemetryConfig struct {
	Tracing bool `yaml:"tracing" mapstructure:"tracing"`
	Metrics bool `yaml:"metrics" mapstructure:"metrics"`
	// MetricInterval is the export period for otel metrics.
	MetricInterval string `yaml:"metric_interval" mapstructure:"metric_interval" validate:"omitempty,duration"`
}

// SetDevDefaults applies permissive defaults for development mode. It runs
// before validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	// Bind to localhost unless told otherwise.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.RequestTimeout == "" {
		c.Server.RequestTimeout = "60s"
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}

	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1000
	}
	if c.AuditFile.RetentionDays == 0 {
		c.AuditFile.RetentionDays = 7
	}
	if c.AuditFile.MaxFileSizeMB == 0 {
		c.AuditFile.MaxFileSizeMB = 100
	}

	if c.Executor.DefaultLimit == 0 {
		c.Executor.DefaultLimit = 10
	}
	if c.Executor.CallTimeout == "" {
		c.Executor.CallTimeout = "30s"
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "OPENROUTER_API_KEY"
	}
	if c.LLM.Timeout == "" {
		c.LLM.Timeout = "120s"
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 2
	}

	// Rate limiting is on unless explicitly disabled in YAML or env.
	if !viper.IsSet("rate_limit.enabled") {
		c.RateLimit.Enabled = true
	}
	if c.RateLimit.UserRate == 0 {
		c.RateLimit.UserRate = 20
	}
	if c.RateLimit.ToolRate == 0 {
		c.RateLimit.ToolRate = 120
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "5m"
	}
	if c.RateLimit.MaxTTL == "" {
		c.RateLimit.MaxTTL = "1h"
	}

	if c.MCP.Path == "" {
		c.MCP.Path = "/mcp"
	}
	if c.Telemetry.MetricInterval == "" {
		c.Telemetry.MetricInterval = "60s"
	}
}

// Duration parses a duration field that passed validation. Empty values
// yield def.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// AuditFileDir returns the directory for the file audit sink, taking a
// file://<dir> output over audit_file.dir.
func (c *Config) AuditFileDir() string {
	if dir, ok := cutFilePrefix(c.Audit.Output); ok {
		return dir
	}
	return c.AuditFile.Dir
}

// AuditSink returns the output kind without a file:// path.
func (c *Config) AuditSink() string {
	if _, ok := cutFilePrefix(c.Audit.Output); ok {
		return "file"
	}
	return c.Audit.Output
}

// String summarizes the effective setup for the startup log.
func (c *Config) String() string {
	return fmt.Sprintf("addr=%s store=%s audit=%s mcp=%t dev=%t",
		c.Server.HTTPAddr, c.Store.Driver, c.AuditSink(), c.MCP.Enabled, c.DevMode)
}
