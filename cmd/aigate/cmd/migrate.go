package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kessel-b2b/aigate/internal/adapter/outbound/sqlstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the policy and audit tables in the configured SQL store",
	Long: `Create the policy and audit tables in the configured SQL store.

Only applies to store.driver postgres or sqlite. Tables that already
exist are left untouched. serve runs the same step on startup.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		dialect, err := sqlstore.ParseDialect(cfg.Store.Driver)
		if err != nil {
			return fmt.Errorf("migrate needs a SQL store: %w", err)
		}
		db, err := sqlstore.Open(cmd.Context(), dialect, cfg.Store.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "migrated %s store\n", cfg.Store.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
