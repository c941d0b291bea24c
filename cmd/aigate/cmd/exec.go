package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kessel-b2b/aigate/internal/config"
	"github.com/kessel-b2b/aigate/internal/domain/toolcall"
)

var (
	execDryRun bool
	execUser   string
)

var execCmd = &cobra.Command{
	Use:   "exec <tool> [json-args]",
	Short: "Execute one generated tool against the configured store",
	Long: `Execute one generated tool against the configured store.

The call goes through the same validation, access checks and audit as a
call from the API. Audit records go to the configured audit output.

Examples:
  aigate exec query_themes '{"filters":{"name":"Dark"}}'
  aigate exec delete_themes '{"filters":{"id":"t1"}}' --dry-run`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		raw := ""
		if len(args) == 2 {
			raw = args[1]
		}
		ok, err := execTool(cmd.Context(), cfg, cmd.OutOrStdout(), args[0], raw, toolcall.Context{
			UserID:    execUser,
			SessionID: "cli-" + uuid.NewString(),
			RequestID: uuid.NewString(),
			DryRun:    execDryRun,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("tool %s failed", args[0])
		}
		return nil
	},
}

func init() {
	execCmd.Flags().BoolVar(&execDryRun, "dry-run", false, "validate and report without writing")
	execCmd.Flags().StringVar(&execUser, "user", "cli", "user id recorded in the audit log")
	rootCmd.AddCommand(execCmd)
}

// execTool runs one tool call and prints its result as JSON. It reports
// whether the call succeeded.
func execTool(ctx context.Context, cfg *config.Config, w io.Writer, name, rawArgs string, tc toolcall.Context) (bool, error) {
	args, err := toolcall.ParseArgs(rawArgs)
	if err != nil {
		return false, err
	}

	logger := newCLILogger()
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return false, err
	}
	defer st.Close()

	sink, _, err := openAuditSink(ctx, cfg, st, os.Stderr, logger)
	if err != nil {
		return false, err
	}
	defer sink.Close()

	guards, err := newGuards()
	if err != nil {
		return false, err
	}
	res := newExecutor(cfg, st, sink, guards, logger).Execute(ctx, name, args, tc)
	if err := sink.Flush(ctx); err != nil {
		logger.Warn("audit flush failed", "error", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return false, err
	}
	return res.Success, nil
}
