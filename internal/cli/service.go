package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/skillgate/internal/server"
	"github.com/ppiankov/skillgate/internal/systemd"
)

var (
	servicePrint bool
	serviceAddr  string
)

func init() {
	rootCmd.AddCommand(serviceCmd)
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceCheckCmd)
	serviceInstallCmd.Flags().BoolVar(&servicePrint, "print", false, "Print the unit instead of installing it")
	serviceInstallCmd.Flags().StringVar(&serviceAddr, "addr", server.DefaultAddr, "gRPC listen address for the service")
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the systemd user service for the gRPC gateway",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Write ~/.config/systemd/user/skillgate.service",
	Long: "Writes a systemd user unit running \"skillgate serve --transport grpc\" and records\n" +
		"its hash in the state directory. Enable it with: systemctl --user enable --now skillgate",
	RunE: runServiceInstall,
}

var serviceCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the installed unit file has not been modified",
	RunE: func(cmd *cobra.Command, args []string) error {
		unitPath, err := systemd.UserUnitPath()
		if err != nil {
			return err
		}
		if msg := systemd.CheckIntegrity(unitPath, serviceHashPath()); msg != "" {
			return fmt.Errorf("%s", msg)
		}
		fmt.Printf("OK: %s\n", unitPath)
		return nil
	},
}

func serviceHashPath() string {
	return filepath.Join(resolvedStateDir(), systemd.HashFile)
}

func runServiceInstall(cmd *cobra.Command, args []string) error {
	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot locate skillgate binary: %w", err)
	}
	state, err := filepath.Abs(resolvedStateDir())
	if err != nil {
		return err
	}
	unit := systemd.UserUnit(systemd.UnitOptions{
		Binary:   binary,
		StateDir: state,
		Addr:     serviceAddr,
	})

	if servicePrint {
		fmt.Print(unit)
		return nil
	}

	unitPath, err := systemd.UserUnitPath()
	if err != nil {
		return err
	}
	if err := systemd.Install(unitPath, serviceHashPath(), unit); err != nil {
		return err
	}
	fmt.Printf("Installed %s\n", unitPath)
	fmt.Println("Enable with: systemctl --user enable --now skillgate")
	return nil
}
