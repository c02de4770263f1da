package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	stateDir   string
	policyPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "skillgate",
	Short: "Policy-enforced capability dispatch for assistant skills",
	Long: "Receives structured skill invocations (move a file, launch a program, ...), checks them\n" +
		"against the security policy and rate limits, executes them and keeps a hash-chained\n" +
		"audit trail and an undo ledger.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "State directory (default ~/.skillgate)")
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "", "Path to policy YAML (default <state-dir>/policy.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging on stderr")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
