package systemd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HashFile is the name of the install-time unit hash in the state directory.
const HashFile = "unit-file.sha256"

// Install writes the unit to unitPath and records its SHA-256 in hashPath.
func Install(unitPath, hashPath, content string) error {
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return fmt.Errorf("create unit directory: %w", err)
	}
	if err := os.WriteFile(unitPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}
	return RecordHash(unitPath, hashPath)
}

// RecordHash writes the SHA-256 of the unit file to hashPath.
func RecordHash(unitPath, hashPath string) error {
	data, err := os.ReadFile(unitPath)
	if err != nil {
		return fmt.Errorf("read unit file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(hashPath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(hashPath, []byte(hashOf(data)+"\n"), 0o600)
}

// CheckIntegrity compares the unit file against the recorded hash.
// Returns a warning if the unit was modified since installation, or ""
// if it matches or there is nothing to compare.
func CheckIntegrity(unitPath, hashPath string) string {
	stored, err := os.ReadFile(hashPath)
	if err != nil {
		return ""
	}
	expected := strings.TrimSpace(string(stored))
	if len(expected) != 64 {
		return ""
	}

	data, err := os.ReadFile(unitPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("unit file %s was removed after installation", unitPath)
		}
		return fmt.Sprintf("cannot read unit file %s: %v", unitPath, err)
	}
	actual := hashOf(data)
	if actual == expected {
		return ""
	}
	return fmt.Sprintf("unit file %s has been modified since installation (expected %s, got %s)",
		unitPath, expected[:16], actual[:16])
}

func hashOf(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
