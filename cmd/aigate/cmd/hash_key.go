package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kessel-b2b/aigate/internal/domain/auth"
)

var hashKeySHA256 bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Hash an API key for the config file",
	Long: `Hash an API key for use in auth.api_keys[].key_hash.

The default output is an argon2id PHC string. With --sha256 the output is
"sha256:<hex>", which is faster to verify but offers no brute-force
resistance.

Example:
  aigate hash-key "my-secret-api-key"
  # Output: $argon2id$v=19$m=48128,t=1,p=1$...

Security note: the key will appear in shell history. Consider
  aigate hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if hashKeySHA256 {
			fmt.Fprintf(cmd.OutOrStdout(), "sha256:%s\n", auth.Fingerprint(args[0]))
			return nil
		}
		hash, err := auth.HashKey(args[0])
		if err != nil {
			return fmt.Errorf("hash key: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeySHA256, "sha256", false, "print a sha256:<hex> hash instead of argon2id")
	rootCmd.AddCommand(hashKeyCmd)
}
