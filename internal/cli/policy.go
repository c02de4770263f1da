package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/skillgate/internal/policy"
)

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyStatusCmd)
	policyCmd.AddCommand(policyCheckCmd)
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Policy inspection",
}

var policyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the policy that would be enforced",
	Long:  "Loads the policy file (or defaults) and prints allowed roots, blocked extensions,\nprotected files, privileged mode, rate limits and the policy hash.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, hash, err := policy.LoadConfigWithHash(resolvedPolicyPath())
		if err != nil {
			return err
		}
		store := policy.NewStore(cfg, hash, policy.WithStateDir(resolvedStateDir()))
		return printJSON(store.Snapshot().Status())
	},
}

var policyCheckCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Validate a policy file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := resolvedPolicyPath()
		if len(args) == 1 {
			path = args[0]
		}
		_, hash, err := policy.LoadConfigWithHash(path)
		if err != nil {
			return err
		}
		abs, _ := filepath.Abs(path)
		fmt.Printf("OK: %s (%s)\n", abs, hash)
		return nil
	},
}
