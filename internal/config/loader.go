package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper sets up viper with the config file and AIGATE_ environment
// variables. Without configFile it looks for aigate.yaml/.yml in the
// working directory, ~/.aigate and /etc/aigate. The explicit extension keeps
// viper from matching the aigate binary itself.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig then reports ConfigFileNotFoundError, which callers tolerate.
		viper.SetConfigName("aigate")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("AIGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	return findConfigFileInPaths([]string{".", filepath.Join(home, ".aigate"), "/etc/aigate"})
}

// findConfigFileInPaths returns the first aigate.yaml or aigate.yml found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "aigate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// envKeys are the scalar keys that can be overridden from the environment,
// e.g. AIGATE_SERVER_HTTP_ADDR. Lists (auth.api_keys) need the config file.
var envKeys = []string{
	"server.http_addr",
	"server.log_level",
	"server.request_timeout",
	"server.tls_cert_file",
	"server.tls_key_file",

	"store.driver",
	"store.dsn",
	"store.state_path",
	"store.seed_file",

	"audit.output",
	"audit.channel_size",
	"audit.batch_size",
	"audit.flush_interval",
	"audit.send_timeout",
	"audit.warning_threshold",
	"audit.buffer_size",
	"audit.clickhouse_dsn",
	"audit_file.dir",
	"audit_file.retention_days",
	"audit_file.max_file_size_mb",

	"router.chat_model",
	"router.tool_model",
	"router.fallback_model",
	"router.tool_max_steps",
	"router.rules_file",

	"executor.default_limit",
	"executor.dry_run_default",
	"executor.call_timeout",
	"executor.strict_query_filters",

	"llm.base_url",
	"llm.api_key_env",
	"llm.max_tokens",
	"llm.referer",
	"llm.title",
	"llm.timeout",
	"llm.max_retries",

	"auth.trusted_user_header",

	"rate_limit.enabled",
	"rate_limit.user_rate",
	"rate_limit.tool_rate",
	"rate_limit.cleanup_interval",
	"rate_limit.max_ttl",

	"mcp.enabled",
	"mcp.path",

	"telemetry.tracing",
	"telemetry.metrics",
	"telemetry.metric_interval",

	"dev_mode",
}

// bindNestedEnvKeys makes viper.Unmarshal see nested keys set only in the
// environment.
func bindNestedEnvKeys() {
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads, defaults, applies dev defaults and validates.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration and applies defaults without dev
// defaults or validation, so CLI flags can still change DevMode.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the loaded config file path, or "" in env-only mode.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
