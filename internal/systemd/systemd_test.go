package systemd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestUserUnit(t *testing.T) {
	unit := UserUnit(UnitOptions{
		Binary:   "/usr/local/bin/skillgate",
		StateDir: "/home/u/My State",
		Addr:     "127.0.0.1:7453",
	})
	want := `ExecStart=/usr/local/bin/skillgate serve --transport grpc --addr 127.0.0.1:7453 --state-dir "/home/u/My State"`
	if !strings.Contains(unit, want) {
		t.Errorf("unit missing ExecStart line:\n%s", unit)
	}
	if !strings.Contains(unit, "WantedBy=default.target") {
		t.Error("user unit should install into default.target")
	}
}

func TestUserUnitPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	p, err := UserUnitPath()
	if err != nil {
		t.Fatal(err)
	}
	if p != filepath.Join("/tmp/xdg", "systemd", "user", UnitName) {
		t.Errorf("unexpected path %s", p)
	}
}

func TestIntegrity(t *testing.T) {
	dir := t.TempDir()
	unitPath := filepath.Join(dir, "user", UnitName)
	hashPath := filepath.Join(dir, "state", HashFile)

	if msg := CheckIntegrity(unitPath, hashPath); msg != "" {
		t.Errorf("no recorded hash should be silent, got %q", msg)
	}

	if err := Install(unitPath, hashPath, UserUnit(UnitOptions{Binary: "skillgate"})); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if msg := CheckIntegrity(unitPath, hashPath); msg != "" {
		t.Errorf("fresh install should verify, got %q", msg)
	}

	if err := os.WriteFile(unitPath, []byte("[Service]\nExecStart=/bin/evil\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if msg := CheckIntegrity(unitPath, hashPath); !strings.Contains(msg, "modified") {
		t.Errorf("expected modification warning, got %q", msg)
	}

	if err := os.Remove(unitPath); err != nil {
		t.Fatal(err)
	}
	if msg := CheckIntegrity(unitPath, hashPath); !strings.Contains(msg, "removed") {
		t.Errorf("expected removal warning, got %q", msg)
	}
}
