// Package cmd provides the CLI commands for aigate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kessel-b2b/aigate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "aigate",
	Short: "aigate - AI tool-calling gateway",
	Long: `aigate lets a language model read and change application data through
generated tools. Every tool is derived from an access policy, every call is
checked against the current policy, and every call is audited.

Quick start:
  1. Create a policy seed file and a config file: aigate.yaml
  2. Run: aigate serve --dev

Configuration:
  Config is loaded from aigate.yaml in the current directory,
  $HOME/.aigate/, or /etc/aigate/.

  Environment variables override config values with the AIGATE_ prefix.
  Example: AIGATE_SERVER_HTTP_ADDR=:9090

Commands:
  serve       Start the HTTP gateway
  tools       List the tools generated from the current policies
  route       Show which model tier a message would be routed to
  exec        Execute one tool call from the command line
  migrate     Create the SQL tables
  hash-key    Hash an API key for auth.api_keys
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./aigate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// loadConfig loads and validates the configuration. devMode forces dev
// defaults on before validation.
func loadConfig(devMode bool) (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
