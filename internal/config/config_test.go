package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Audit.Output != "stdout" || cfg.Audit.BufferSize != 1000 {
		t.Errorf("Audit = %+v", cfg.Audit)
	}
	if cfg.Executor.DefaultLimit != 10 || cfg.Executor.CallTimeout != "30s" || cfg.Executor.DryRunDefault {
		t.Errorf("Executor = %+v", cfg.Executor)
	}
	if cfg.LLM.BaseURL != "https://openrouter.ai/api/v1" || cfg.LLM.APIKeyEnv != "OPENROUTER_API_KEY" {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if !cfg.RateLimit.Enabled {
		t.Error("RateLimit.Enabled should default to true")
	}
	if cfg.MCP.Path != "/mcp" || cfg.MCP.Enabled {
		t.Errorf("MCP = %+v", cfg.MCP)
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server:    ServerConfig{HTTPAddr: ":9090"},
		Audit:     AuditConfig{Output: "file:///var/log/aigate"},
		Executor:  ExecutorConfig{DefaultLimit: 25, CallTimeout: "5s"},
		RateLimit: RateLimitConfig{UserRate: 3},
	}
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want :9090", cfg.Server.HTTPAddr)
	}
	if cfg.Audit.Output != "file:///var/log/aigate" {
		t.Errorf("Audit.Output = %q", cfg.Audit.Output)
	}
	if cfg.Executor.DefaultLimit != 25 || cfg.Executor.CallTimeout != "5s" {
		t.Errorf("Executor = %+v", cfg.Executor)
	}
	if cfg.RateLimit.UserRate != 3 || cfg.RateLimit.ToolRate != 120 {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
}

func TestConfig_SetDevDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{DevMode: true, Server: ServerConfig{LogLevel: "error"}}
	cfg.SetDevDefaults()
	if cfg.Server.LogLevel != "debug" || cfg.Audit.Output != "stdout" || cfg.Store.Driver != "memory" {
		t.Errorf("dev defaults = %+v", cfg)
	}

	prod := Config{Server: ServerConfig{LogLevel: "error"}}
	prod.SetDevDefaults()
	if prod.Server.LogLevel != "error" {
		t.Error("SetDevDefaults changed a non-dev config")
	}
}

func TestConfig_AuditSink(t *testing.T) {
	t.Parallel()

	tests := []struct {
		output, dir, wantSink, wantDir string
	}{
		{"stdout", "", "stdout", ""},
		{"file", "/var/lib/aigate/audit", "file", "/var/lib/aigate/audit"},
		{"file:///srv/audit", "/ignored", "file", "/srv/audit"},
		{"clickhouse", "", "clickhouse", ""},
	}
	for _, tt := range tests {
		cfg := Config{Audit: AuditConfig{Output: tt.output}, AuditFile: AuditFileConfig{Dir: tt.dir}}
		if got := cfg.AuditSink(); got != tt.wantSink {
			t.Errorf("AuditSink(%q) = %q, want %q", tt.output, got, tt.wantSink)
		}
		if got := cfg.AuditFileDir(); got != tt.wantDir {
			t.Errorf("AuditFileDir(%q) = %q, want %q", tt.output, got, tt.wantDir)
		}
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	if got := Duration("", time.Second); got != time.Second {
		t.Errorf("Duration(\"\") = %v", got)
	}
	if got := Duration("250ms", time.Second); got != 250*time.Millisecond {
		t.Errorf("Duration(250ms) = %v", got)
	}
	if got := Duration("soon", time.Second); got != time.Second {
		t.Errorf("Duration(soon) = %v", got)
	}
}

func TestFindConfigFileInPaths(t *testing.T) {
	t.Parallel()

	empty := t.TempDir()
	withYML := t.TempDir()
	if err := os.WriteFile(filepath.Join(withYML, "aigate.yml"), []byte("dev_mode: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// A file named like the binary must not match.
	if err := os.WriteFile(filepath.Join(empty, "aigate"), []byte{}, 0o600); err != nil {
		t.Fatal(err)
	}

	if got := findConfigFileInPaths([]string{empty}); got != "" {
		t.Errorf("found %q in a directory without config", got)
	}
	if got := findConfigFileInPaths([]string{empty, withYML}); got != filepath.Join(withYML, "aigate.yml") {
		t.Errorf("findConfigFileInPaths() = %q", got)
	}
}

// Not parallel: viper and the environment are process-global.
func TestLoadConfig_FileAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "aigate.yaml")
	content := `
server:
  http_addr: "0.0.0.0:9000"
store:
  driver: sqlite
  dsn: "file:aigate.db"
audit:
  output: sql
rate_limit:
  enabled: false
auth:
  api_keys:
    - key_hash: "sha256:0f0f"
      user_id: alice
      roles: [admin]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AIGATE_EXECUTOR_DRY_RUN_DEFAULT", "true")
	t.Setenv("AIGATE_ROUTER_TOOL_MAX_STEPS", "4")

	InitViper(path)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if ConfigFileUsed() != path {
		t.Errorf("ConfigFileUsed() = %q", ConfigFileUsed())
	}
	if cfg.Server.HTTPAddr != "0.0.0.0:9000" || cfg.Store.Driver != "sqlite" || cfg.AuditSink() != "sql" {
		t.Errorf("cfg = %s", cfg)
	}
	if cfg.RateLimit.Enabled {
		t.Error("explicit rate_limit.enabled=false was overridden")
	}
	if !cfg.Executor.DryRunDefault || cfg.Router.ToolMaxSteps != 4 {
		t.Errorf("env overrides not applied: executor=%+v router=%+v", cfg.Executor, cfg.Router)
	}
	if len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0].Roles[0] != "admin" {
		t.Errorf("api keys = %+v", cfg.Auth.APIKeys)
	}
}
