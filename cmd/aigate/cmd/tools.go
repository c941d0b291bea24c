package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kessel-b2b/aigate/internal/config"
	"github.com/kessel-b2b/aigate/internal/service"
)

var toolsJSON bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools generated from the enabled access policies",
	Long: `List the tools generated from the enabled access policies.

Uses the configured store and seed file, so the output matches what
GET /v1/tools would return.

Examples:
  aigate tools
  aigate tools --json | jq '.[].name'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		return listTools(cmd.Context(), cfg, cmd.OutOrStdout(), toolsJSON)
	},
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "print full definitions including parameter schemas")
	rootCmd.AddCommand(toolsCmd)
}

func listTools(ctx context.Context, cfg *config.Config, w io.Writer, asJSON bool) error {
	logger := newCLILogger()
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	set, err := service.NewToolRegistry(st.policies, logger).Tools(ctx)
	if err != nil {
		return err
	}
	defs := set.Sorted()

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(defs)
	}
	if len(defs) == 0 {
		fmt.Fprintln(w, "no tools (no enabled access policies)")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tOPERATION\tRESOURCE")
	for _, d := range defs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, d.Operation, d.ResourceID)
	}
	return tw.Flush()
}
