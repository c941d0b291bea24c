package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kessel-b2b/aigate/internal/domain/router"
)

var routeCmd = &cobra.Command{
	Use:   "route <message>",
	Short: "Show the routing decision for a user message",
	Long: `Show which model tier a user message is routed to and why.

Runs the configured router rules locally. No model is called.

Example:
  aigate route "zeige alle Themes"
  # {"needsTools":true,"reason":"entity-crud:theme+read",...}`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		rt, err := newRouter(cfg)
		if err != nil {
			return err
		}
		d := rt.Decide([]router.Message{{Role: router.RoleUser, Content: strings.Join(args, " ")}})
		return json.NewEncoder(cmd.OutOrStdout()).Encode(d)
	},
}

func init() {
	rootCmd.AddCommand(routeCmd)
}
