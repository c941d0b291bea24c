package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := &Config{
		Auth: AuthConfig{APIKeys: []APIKeyConfig{
			{KeyHash: "sha256:abc123", UserID: "user-1", Roles: []string{"user"}},
		}},
	}
	cfg.SetDefaults()
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad audit output", func(c *Config) { c.Audit.Output = "syslog" }, "Config.Audit.Output must be memory"},
		{"relative audit dir", func(c *Config) { c.Audit.Output = "file://audit" }, "Config.Audit.Output"},
		{"bad duration", func(c *Config) { c.Executor.CallTimeout = "thirty" }, "Config.Executor.CallTimeout must be a duration"},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "trace" }, "Config.Server.LogLevel must be one of"},
		{"bad store driver", func(c *Config) { c.Store.Driver = "mysql" }, "Config.Store.Driver must be one of"},
		{"plain key hash", func(c *Config) { c.Auth.APIKeys[0].KeyHash = "secret" }, "must be an argon2id hash"},
		{"missing user id", func(c *Config) { c.Auth.APIKeys[0].UserID = "" }, "UserID is required"},
		{"unknown role", func(c *Config) { c.Auth.APIKeys[0].Roles = []string{"root"} }, "must be one of: admin user"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, "dsn is required for driver postgres"},
		{"file store without path", func(c *Config) { c.Store.Driver = "file" }, "state_path is required"},
		{"clickhouse without dsn", func(c *Config) { c.Audit.Output = "clickhouse" }, "clickhouse_dsn is required"},
		{"sql audit on memory store", func(c *Config) { c.Audit.Output = "sql" }, "requires store driver postgres or sqlite"},
		{"file audit without dir", func(c *Config) { c.Audit.Output = "file" }, "audit_file.dir is required"},
		{"tls key without cert", func(c *Config) { c.Server.TLSKeyFile = "/etc/aigate/key.pem" }, "TLSCertFile is required when TLSKeyFile is set"},
		{"mcp path", func(c *Config) { c.MCP.Path = "mcp" }, `must start with "/"`},
		{"duplicate keys", func(c *Config) {
			c.Auth.APIKeys = append(c.Auth.APIKeys, APIKeyConfig{KeyHash: "sha256:abc123", UserID: "user-2"})
		}, "duplicate key_hash"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_AcceptedVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"argon2id key", func(c *Config) {
			c.Auth.APIKeys[0].KeyHash = "$argon2id$v=19$m=48128,t=1,p=1$c2FsdA$aGFzaA"
		}},
		{"absolute file audit", func(c *Config) { c.Audit.Output = "file:///var/lib/aigate/audit" }},
		{"file audit with dir", func(c *Config) { c.Audit.Output = "file"; c.AuditFile.Dir = "audit" }},
		{"sqlite with sql audit", func(c *Config) {
			c.Store.Driver = "sqlite"
			c.Store.DSN = "file::memory:"
			c.Audit.Output = "sql"
		}},
		{"clickhouse", func(c *Config) {
			c.Audit.Output = "clickhouse"
			c.Audit.ClickHouseDSN = "clickhouse://localhost:9000/default"
		}},
		{"no keys", func(c *Config) { c.Auth.APIKeys = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}
