package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/skillgate/internal/model"
	"github.com/ppiankov/skillgate/internal/registry"
)

func noop(context.Context, registry.Args) (registry.Outcome, error) {
	return registry.Outcome{}, nil
}

var moveFile = registry.Descriptor{
	Name:    "move_file",
	Handler: registry.HandlerFunc(noop),
	Args: []registry.ArgSpec{
		{Name: "src", Type: registry.ArgPath, Required: true},
		{Name: "dest", Type: registry.ArgPath, Required: true},
	},
	Destructive:     true,
	PathSensitive:   true,
	SafeDestructive: true,
	Reversible:      true,
}

var deleteFile = registry.Descriptor{
	Name:          "delete_file",
	Handler:       registry.HandlerFunc(noop),
	Args:          []registry.ArgSpec{{Name: "path", Type: registry.ArgPath, Required: true}},
	Destructive:   true,
	PathSensitive: true,
}

var launchApp = registry.Descriptor{
	Name:    "launch_app",
	Handler: registry.HandlerFunc(noop),
	Args: []registry.ArgSpec{
		{Name: "program", Type: registry.ArgCommand, Required: true},
		{Name: "args", Type: registry.ArgStringList},
	},
}

// sandbox returns a resolved allowed root and a store confined to it.
func sandbox(t *testing.T, mutate func(*Config)) (string, *Store) {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.AllowedRoots = []string{root}
	if mutate != nil {
		mutate(cfg)
	}
	return root, NewStore(cfg, "", WithStateDir(filepath.Join(root, ".skillgate")))
}

func TestAllowInsideRoot(t *testing.T) {
	root, store := sandbox(t, nil)
	src := filepath.Join(root, "a.txt")
	dest := filepath.Join(root, "sub", "a.txt")

	d := Evaluate(store.Snapshot(), moveFile, registry.Args{"src": src, "dest": dest})
	if !d.Allowed {
		t.Fatalf("expected allow, got %s: %s", d.Reason, d.Detail)
	}
	if d.Resolved["src"] != src || d.Resolved["dest"] != dest {
		t.Errorf("unexpected resolved paths: %v", d.Resolved)
	}
}

func TestDenyOutsideRoot(t *testing.T) {
	root, store := sandbox(t, nil)
	outside := t.TempDir()

	d := Evaluate(store.Snapshot(), moveFile, registry.Args{
		"src":  filepath.Join(root, "a.txt"),
		"dest": filepath.Join(outside, "a.txt"),
	})
	if d.Allowed || d.Reason != model.ReasonPathNotWhitelisted {
		t.Fatalf("expected PathNotWhitelisted, got %+v", d)
	}
	if d.Detail == "" {
		t.Error("expected a human-readable detail")
	}
}

func TestContainmentIsComponentWise(t *testing.T) {
	parent, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.AllowedRoots = []string{filepath.Join(parent, "al")}
	store := NewStore(cfg, "")

	d := Evaluate(store.Snapshot(), moveFile, registry.Args{
		"src":  filepath.Join(parent, "alice", "a.txt"),
		"dest": filepath.Join(parent, "al", "a.txt"),
	})
	if d.Reason != model.ReasonPathNotWhitelisted {
		t.Fatalf("expected /al not to contain /alice, got %+v", d)
	}
}

func TestDotDotEscapeDenied(t *testing.T) {
	root, store := sandbox(t, nil)
	d := Evaluate(store.Snapshot(), moveFile, registry.Args{
		"src":  filepath.Join(root, "a.txt"),
		"dest": root + "/../../etc/passwd",
	})
	if d.Reason != model.ReasonPathNotWhitelisted {
		t.Fatalf("expected traversal to be denied, got %+v", d)
	}
}

func TestSymlinkEscapeDenied(t *testing.T) {
	root, store := sandbox(t, nil)
	outside := t.TempDir()
	link := filepath.Join(root, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	d := Evaluate(store.Snapshot(), moveFile, registry.Args{
		"src":  filepath.Join(root, "a.txt"),
		"dest": filepath.Join(link, "a.txt"),
	})
	if d.Reason != model.ReasonPathNotWhitelisted {
		t.Fatalf("expected symlink escape to be denied, got %+v", d)
	}
}

func TestExtensionBlocked(t *testing.T) {
	root, store := sandbox(t, nil)
	d := Evaluate(store.Snapshot(), moveFile, registry.Args{
		"src":  filepath.Join(root, "a.txt"),
		"dest": filepath.Join(root, "b.EXE"),
	})
	if d.Reason != model.ReasonExtensionBlocked {
		t.Fatalf("expected ExtensionBlocked, got %+v", d)
	}
}

func TestPrivilegedLiftsExtensionAndDestructive(t *testing.T) {
	root, store := sandbox(t, nil)
	args := registry.Args{"path": filepath.Join(root, "setup.exe")}

	if d := Evaluate(store.Snapshot(), deleteFile, args); d.Reason != model.ReasonExtensionBlocked {
		t.Fatalf("expected ExtensionBlocked, got %+v", d)
	}
	store.SetPrivilegedMode(true, 0)
	if d := Evaluate(store.Snapshot(), deleteFile, args); !d.Allowed {
		t.Fatalf("expected allow in privileged mode, got %+v", d)
	}
}

func TestDestructiveRequiresPrivilege(t *testing.T) {
	root, store := sandbox(t, nil)
	d := Evaluate(store.Snapshot(), deleteFile, registry.Args{"path": filepath.Join(root, "a.txt")})
	if d.Reason != model.ReasonDestructiveRequiresPrivilege {
		t.Fatalf("expected DestructiveActionRequiresPrivilege, got %+v", d)
	}
}

func TestSafeDestructiveAllowed(t *testing.T) {
	root, store := sandbox(t, nil)
	d := Evaluate(store.Snapshot(), moveFile, registry.Args{
		"src":  filepath.Join(root, "a.txt"),
		"dest": filepath.Join(root, "b.txt"),
	})
	if !d.Allowed {
		t.Fatalf("expected safe-destructive move to be allowed, got %+v", d)
	}
}

func TestRuleOrderRootBeforeExtension(t *testing.T) {
	root, store := sandbox(t, nil)
	d := Evaluate(store.Snapshot(), moveFile, registry.Args{
		"src":  filepath.Join(root, "a.txt"),
		"dest": filepath.Join(t.TempDir(), "b.exe"),
	})
	if d.Reason != model.ReasonPathNotWhitelisted {
		t.Fatalf("expected root check to win, got %+v", d)
	}
}

func TestProtectedFileDeniedEvenPrivileged(t *testing.T) {
	root, store := sandbox(t, nil)
	store.SetPrivilegedMode(true, 0)

	d := Evaluate(store.Snapshot(), deleteFile, registry.Args{"path": filepath.Join(root, "project", ".env")})
	if d.Reason != model.ReasonPathProtected {
		t.Fatalf("expected PathProtected, got %+v", d)
	}
}

func TestStateDirProtected(t *testing.T) {
	root, store := sandbox(t, nil)
	store.SetPrivilegedMode(true, 0)

	d := Evaluate(store.Snapshot(), deleteFile, registry.Args{"path": filepath.Join(root, ".skillgate", "audit.jsonl")})
	if d.Reason != model.ReasonPathProtected {
		t.Fatalf("expected state dir to be protected, got %+v", d)
	}
}

func TestCommandBlocked(t *testing.T) {
	_, store := sandbox(t, nil)

	d := Evaluate(store.Snapshot(), launchApp, registry.Args{"program": "/usr/bin/sudo"})
	if d.Reason != model.ReasonCommandBlocked {
		t.Fatalf("expected CommandBlocked, got %+v", d)
	}

	d = Evaluate(store.Snapshot(), launchApp, registry.Args{"program": "notepad", "args": []string{"rm -rf /"}})
	if d.Reason != model.ReasonCommandBlocked {
		t.Fatalf("expected command-line pattern to block, got %+v", d)
	}

	d = Evaluate(store.Snapshot(), launchApp, registry.Args{"program": "firefox"})
	if !d.Allowed {
		t.Fatalf("expected firefox to be allowed, got %+v", d)
	}

	store.SetPrivilegedMode(true, 0)
	d = Evaluate(store.Snapshot(), launchApp, registry.Args{"program": "sudo"})
	if !d.Allowed {
		t.Fatalf("expected privileged mode to lift program block, got %+v", d)
	}
}

func TestUnsafeProgramBlocked(t *testing.T) {
	_, store := sandbox(t, nil)

	tests := []struct {
		program string
		args    []string
	}{
		{"env", []string{`bash -c "rm -r ~/Documents"`}},
		{"python3", []string{"-c", "import shutil; shutil.rmtree('/tmp/x')"}},
		{"/tmp/bin/firefox", nil},
		{"terminal", nil},
	}
	for _, tt := range tests {
		d := Evaluate(store.Snapshot(), launchApp, registry.Args{"program": tt.program, "args": tt.args})
		if d.Reason != model.ReasonCommandBlocked {
			t.Errorf("%s %v: expected CommandBlocked, got %+v", tt.program, tt.args, d)
		}
	}

	store.SetPrivilegedMode(true, 0)
	d := Evaluate(store.Snapshot(), launchApp, registry.Args{"program": "python3"})
	if !d.Allowed {
		t.Fatalf("expected privileged mode to lift the safe list, got %+v", d)
	}
}

func TestSafeProgramsFromConfig(t *testing.T) {
	_, store := sandbox(t, func(c *Config) { c.SafePrograms = []string{"Gimp.exe"} })

	if d := Evaluate(store.Snapshot(), launchApp, registry.Args{"program": "gimp"}); !d.Allowed {
		t.Fatalf("expected configured program to be allowed, got %+v", d)
	}
	if d := Evaluate(store.Snapshot(), launchApp, registry.Args{"program": "firefox"}); d.Reason != model.ReasonCommandBlocked {
		t.Fatalf("expected programs outside the configured list to be blocked, got %+v", d)
	}
	if got := store.Snapshot().Status().SafePrograms; len(got) != 1 || got[0] != "gimp" {
		t.Errorf("expected status safe_programs [gimp], got %v", got)
	}
}

func TestOutsideRootBeatsProtected(t *testing.T) {
	root, store := sandbox(t, nil)
	outside, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	d := Evaluate(store.Snapshot(), moveFile, registry.Args{
		"src":  filepath.Join(outside, ".env"),
		"dest": filepath.Join(root, "env.txt"),
	})
	if d.Reason != model.ReasonPathNotWhitelisted {
		t.Fatalf("expected PathNotWhitelisted for .env outside roots, got %+v", d)
	}

	d = Evaluate(store.Snapshot(), deleteFile, registry.Args{"path": filepath.Join(outside, "repo", ".git", "objects", "ab")})
	if d.Reason != model.ReasonPathNotWhitelisted {
		t.Fatalf("expected PathNotWhitelisted for .git outside roots, got %+v", d)
	}
}

func TestNonPathSensitiveSkipsRootCheck(t *testing.T) {
	_, store := sandbox(t, nil)
	preview := registry.Descriptor{
		Name:    "stat_path",
		Handler: registry.HandlerFunc(noop),
		Args:    []registry.ArgSpec{{Name: "path", Type: registry.ArgPath, Required: true}},
	}
	d := Evaluate(store.Snapshot(), preview, registry.Args{"path": filepath.Join(t.TempDir(), "x.txt")})
	if !d.Allowed {
		t.Fatalf("expected non-path-sensitive capability to skip root check, got %+v", d)
	}
}

func TestPrivilegedModeExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.AllowedRoots = []string{root}
	store := NewStore(cfg, "", WithStoreClock(clock))

	store.SetPrivilegedMode(true, time.Minute)
	if !store.Snapshot().Privileged {
		t.Fatal("expected privileged mode on")
	}
	now = now.Add(time.Minute)
	if store.Snapshot().Privileged {
		t.Fatal("expected privileged mode to expire")
	}
}

func TestStoreMutationsReturnChanges(t *testing.T) {
	root, store := sandbox(t, nil)
	before := store.Snapshot().Hash

	c := store.UpdateBlockedExtensions([]string{"MSI"})
	if c.Field != "blocked_extensions" || c.Hash == before {
		t.Errorf("unexpected change %+v", c)
	}
	d := Evaluate(store.Snapshot(), moveFile, registry.Args{
		"src":  filepath.Join(root, "a.exe"),
		"dest": filepath.Join(root, "b.msi"),
	})
	if d.Reason != model.ReasonExtensionBlocked || d.Detail == "" {
		t.Fatalf("expected new extension set in effect, got %+v", d)
	}

	other := t.TempDir()
	c, err := store.UpdateAllowedRoots([]string{other})
	if err != nil {
		t.Fatal(err)
	}
	if c.Field != "allowed_roots" {
		t.Errorf("unexpected change %+v", c)
	}
	if _, err := store.UpdateAllowedRoots([]string{" "}); err == nil {
		t.Error("expected blank root to be rejected")
	}
}

func TestSnapshotIsolatedFromLaterChanges(t *testing.T) {
	root, store := sandbox(t, nil)
	snap := store.Snapshot()
	store.SetPrivilegedMode(true, 0)

	d := Evaluate(snap, deleteFile, registry.Args{"path": filepath.Join(root, "a.txt")})
	if d.Reason != model.ReasonDestructiveRequiresPrivilege {
		t.Fatalf("expected old snapshot to stay unprivileged, got %+v", d)
	}
}

func TestReplace(t *testing.T) {
	_, store := sandbox(t, nil)
	store.SetPrivilegedMode(true, time.Hour)

	cfg := DefaultConfig()
	c, err := store.Replace(cfg, "sha256:abc")
	if err != nil {
		t.Fatal(err)
	}
	if c.New != "sha256:abc" || store.Snapshot().Hash != "sha256:abc" {
		t.Errorf("unexpected change %+v", c)
	}
	snap := store.Snapshot()
	if snap.Privileged || !snap.PrivilegedUntil.IsZero() {
		t.Error("expected reload to discard runtime privileged mode")
	}

	if _, err := store.Replace(nil, ""); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestLimitFor(t *testing.T) {
	d := launchApp
	d.MaxCallsPerWindow = 10
	d.Window = time.Minute

	_, store := sandbox(t, nil)
	if l := store.Snapshot().LimitFor(d); l.MaxRequests != 10 {
		t.Errorf("expected descriptor limit, got %+v", l)
	}

	_, store = sandbox(t, func(c *Config) {
		c.RateLimits["launch_app"] = c.RateLimits["launch_app"]
	})
	if l := store.Snapshot().LimitFor(d); l.Enabled() {
		t.Errorf("expected zero override to disable, got %+v", l)
	}
}

func TestStatus(t *testing.T) {
	root, store := sandbox(t, nil)
	st := store.Snapshot().Status()
	if len(st.AllowedRoots) != 1 || st.AllowedRoots[0] != root {
		t.Errorf("unexpected roots %v", st.AllowedRoots)
	}
	if st.PolicyHash == "" {
		t.Error("expected policy hash")
	}
	if st.PrivilegedUntil != nil {
		t.Error("expected no privileged window")
	}
}
