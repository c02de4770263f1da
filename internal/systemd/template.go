// Package systemd renders and verifies the systemd user unit that keeps
// the skillgate gRPC gateway running for a desktop session.
package systemd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// UnitName is the file name of the generated user unit.
const UnitName = "skillgate.service"

// UnitOptions fill the unit template.
type UnitOptions struct {
	Binary   string
	StateDir string
	Addr     string
}

// UserUnit returns the unit file for "skillgate serve --transport grpc".
func UserUnit(opts UnitOptions) string {
	args := []string{opts.Binary, "serve", "--transport", "grpc"}
	if opts.Addr != "" {
		args = append(args, "--addr", opts.Addr)
	}
	if opts.StateDir != "" {
		args = append(args, "--state-dir", quote(opts.StateDir))
	}

	return fmt.Sprintf(`[Unit]
Description=skillgate capability gateway
After=graphical-session.target

[Service]
Type=simple
ExecStart=%s
Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true

[Install]
WantedBy=default.target
`, strings.Join(args, " "))
}

// UserUnitPath returns ~/.config/systemd/user/skillgate.service, honoring
// XDG_CONFIG_HOME.
func UserUnitPath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "systemd", "user", UnitName), nil
}

func quote(s string) string {
	if strings.ContainsAny(s, " \t\"") {
		return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return s
}
