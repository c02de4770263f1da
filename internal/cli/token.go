package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/skillgate/internal/admin"
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenShowCmd)
	tokenCmd.AddCommand(tokenRotateCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Admin token for privileged-mode toggles",
	Long: "The admin token authenticates requests to enable privileged mode over MCP or gRPC.\n" +
		"It lives in <state-dir>/admin.key with mode 0600 and is created on first use.",
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the admin token, creating it if needed",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := admin.LoadOrCreate(admin.DefaultPath(resolvedStateDir()))
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	},
}

var tokenRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Replace the admin token",
	Long:  "Writes a new admin token. Running servers keep the old token until restarted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := admin.Rotate(admin.DefaultPath(resolvedStateDir()))
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	},
}
