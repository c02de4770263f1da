package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ppiankov/skillgate/internal/audit"
	"github.com/ppiankov/skillgate/internal/model"
	"github.com/ppiankov/skillgate/internal/policy"
	"github.com/ppiankov/skillgate/internal/ratelimit"
	"github.com/ppiankov/skillgate/internal/registry"
	"github.com/ppiankov/skillgate/internal/skills"
	"github.com/ppiankov/skillgate/internal/undo"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type launcher struct {
	calls atomic.Int32
}

func (l *launcher) Launch(context.Context, string, []string) (int, error) {
	l.calls.Add(1)
	return 100, nil
}

type harness struct {
	root     string
	d        *Dispatcher
	audit    *audit.Memory
	clock    *clock
	launcher *launcher
}

func newHarness(t *testing.T, mutate func(*policy.Config)) *harness {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	cfg := policy.DefaultConfig()
	cfg.AllowedRoots = []string{root}
	if mutate != nil {
		mutate(cfg)
	}

	h := &harness{root: root, audit: audit.NewMemory(), clock: newClock(), launcher: &launcher{}}
	reg := registry.New()
	require.NoError(t, skills.RegisterBuiltins(reg, skills.Options{Launcher: h.launcher}))

	d, err := New(Config{
		Registry: reg,
		Policy:   policy.NewStore(cfg, "", policy.WithStateDir(filepath.Join(root, ".skillgate")), policy.WithStoreClock(h.clock.Now)),
		Limiter:  ratelimit.New(ratelimit.WithClock(h.clock.Now)),
		Ledger:   undo.New(undo.NewMemoryStore(), undo.WithClock(h.clock.Now)),
		Recorder: h.audit,
		Clock:    h.clock.Now,
	})
	require.NoError(t, err)
	h.d = d
	return h
}

func (h *harness) path(parts ...string) string {
	return filepath.Join(append([]string{h.root}, parts...)...)
}

func (h *harness) write(t *testing.T, rel, content string) string {
	t.Helper()
	p := h.path(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func (h *harness) submit(name string, args map[string]any) model.Result {
	return h.d.Submit(context.Background(), model.Request{CapabilityName: name, Arguments: args})
}

// counting registers a path-sensitive capability that counts handler calls.
func (h *harness) counting(t *testing.T) *atomic.Int32 {
	t.Helper()
	var calls atomic.Int32
	require.NoError(t, h.d.Registry().Register(registry.Descriptor{
		Name: "touch",
		Handler: registry.HandlerFunc(func(context.Context, registry.Args) (registry.Outcome, error) {
			calls.Add(1)
			return registry.Outcome{Detail: "touched"}, nil
		}),
		Args:          []registry.ArgSpec{{Name: "path", Type: registry.ArgPath, Required: true}},
		PathSensitive: true,
		Idempotent:    true,
	}))
	return &calls
}

func TestNewRequiresRegistryAndPolicy(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{Registry: registry.New()})
	assert.Error(t, err)
}

func TestMoveScenario(t *testing.T) {
	h := newHarness(t, nil)
	src := h.write(t, "a.txt", "payload")
	require.NoError(t, os.Mkdir(h.path("docs"), 0o755))

	res := h.submit("move_file", map[string]any{"src": src, "dst": h.path("docs")})
	require.Equal(t, model.StatusAllowedExecuted, res.Status, res.Detail)
	assert.NotEmpty(t, res.RequestID)
	assert.NotEmpty(t, res.ReversibleActionID)
	assert.FileExists(t, h.path("docs", "a.txt"))

	entries := h.audit.ForRequest(res.RequestID)
	require.Len(t, entries, 1)
	assert.Equal(t, "move_file", entries[0].Capability)
	assert.Equal(t, string(model.StatusAllowedExecuted), entries[0].Status)
	assert.Equal(t, res.ReversibleActionID, entries[0].ActionID)
	assert.Equal(t, audit.TypeInvocation, entries[0].Type)

	recent, err := h.d.Ledger().Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, res.ReversibleActionID, recent[0].ActionID)
}

func TestUndoRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	src := h.write(t, "a.txt", "payload")
	require.NoError(t, os.Mkdir(h.path("docs"), 0o755))

	res := h.submit("mv", map[string]any{"src": src, "dst": h.path("docs")})
	require.True(t, res.OK(), res.Detail)

	undone := h.d.Undo(context.Background(), res.ReversibleActionID, model.ActorUI)
	require.Equal(t, model.StatusAllowedExecuted, undone.Status, undone.Detail)
	assert.Empty(t, undone.ReversibleActionID, "an inverse is never itself reversible")
	got, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
	assert.NoFileExists(t, h.path("docs", "a.txt"))

	entries := h.audit.ForRequest(undone.RequestID)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.TypeUndo, entries[0].Type)
	assert.Equal(t, model.ActorUndo, entries[0].Actor)

	again := h.d.Undo(context.Background(), res.ReversibleActionID, model.ActorUI)
	assert.Equal(t, model.StatusDeniedPolicy, again.Status)
	assert.Equal(t, model.ReasonUndoAlreadyConsumed, again.Reason)
	refused := h.audit.ForRequest(again.RequestID)
	require.Len(t, refused, 1)
	assert.Equal(t, "undo", refused[0].Capability)
}

func TestUndoUnknownIsAudited(t *testing.T) {
	h := newHarness(t, nil)
	res := h.d.Undo(context.Background(), "missing", model.ActorCLI)
	assert.Equal(t, model.ReasonUndoNotFound, res.Reason)
	assert.Len(t, h.audit.ForRequest(res.RequestID), 1)
}

func TestUndoLast(t *testing.T) {
	h := newHarness(t, nil)

	res := h.d.UndoLast(context.Background(), "", model.ActorCLI)
	assert.Equal(t, model.ReasonUndoNotFound, res.Reason)

	first := h.submit("make_dir", map[string]any{"path": h.path("one")})
	second := h.submit("make_dir", map[string]any{"path": h.path("two")})
	require.True(t, first.OK())
	require.True(t, second.OK())

	res = h.d.UndoLast(context.Background(), "make_dir", model.ActorCLI)
	require.True(t, res.OK(), res.Detail)
	assert.DirExists(t, h.path("one"))
	assert.NoDirExists(t, h.path("two"))
}

func TestOutsideRootNeverInvokesHandler(t *testing.T) {
	h := newHarness(t, nil)
	calls := h.counting(t)
	outside := t.TempDir()

	res := h.submit("touch", map[string]any{"path": outside})
	assert.Equal(t, model.StatusDeniedPolicy, res.Status)
	assert.Equal(t, model.ReasonPathNotWhitelisted, res.Reason)
	assert.Zero(t, calls.Load())
	assert.Len(t, h.audit.ForRequest(res.RequestID), 1)
}

func TestTraversalOutOfRootDenied(t *testing.T) {
	h := newHarness(t, nil)
	calls := h.counting(t)

	res := h.submit("touch", map[string]any{"path": h.path("..", "..", "etc")})
	assert.Equal(t, model.ReasonPathNotWhitelisted, res.Reason)
	assert.Zero(t, calls.Load())
}

func TestMoveSymlinkMovesLink(t *testing.T) {
	h := newHarness(t, nil)
	target := h.write(t, "notes.txt", "keep")
	link := h.path("shortcut")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	require.NoError(t, os.Mkdir(h.path("Desktop"), 0o755))

	res := h.submit("move_file", map[string]any{"src": link, "dst": h.path("Desktop")})
	require.True(t, res.OK(), res.Detail)

	moved := h.path("Desktop", "shortcut")
	info, err := os.Lstat(moved)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink, "the link itself moves")
	assert.FileExists(t, target)
	assert.NoFileExists(t, h.path("Desktop", "notes.txt"))
}

func TestStateDirProtected(t *testing.T) {
	h := newHarness(t, nil)
	calls := h.counting(t)

	res := h.submit("touch", map[string]any{"path": h.path(".skillgate", "undo.db")})
	assert.Equal(t, model.ReasonPathProtected, res.Reason)
	assert.Zero(t, calls.Load())
}

func TestBlockedExtension(t *testing.T) {
	h := newHarness(t, nil)
	src := h.write(t, "setup.exe", "MZ")

	res := h.submit("move_file", map[string]any{"src": src, "dst": h.path("bin")})
	assert.Equal(t, model.StatusDeniedPolicy, res.Status)
	assert.Equal(t, model.ReasonExtensionBlocked, res.Reason)
	assert.FileExists(t, src)

	h.d.SetPrivilegedMode(model.ActorUI, true, 0)
	res = h.submit("move_file", map[string]any{"src": src, "dst": h.path("bin")})
	assert.True(t, res.OK(), res.Detail)
}

func TestDestructiveRequiresPrivilege(t *testing.T) {
	h := newHarness(t, nil)
	p := h.write(t, "a.txt", "a")

	res := h.submit("delete_file", map[string]any{"path": p})
	assert.Equal(t, model.ReasonDestructiveRequiresPrivilege, res.Reason)
	assert.FileExists(t, p)

	h.d.SetPrivilegedMode(model.ActorUI, true, time.Minute)
	res = h.submit("delete_file", map[string]any{"path": p})
	require.True(t, res.OK(), res.Detail)
	assert.Empty(t, res.ReversibleActionID)
	assert.NoFileExists(t, p)

	p = h.write(t, "b.txt", "b")
	h.clock.Advance(2 * time.Minute)
	res = h.submit("delete_file", map[string]any{"path": p})
	assert.Equal(t, model.ReasonDestructiveRequiresPrivilege, res.Reason, "privileged mode expired")
}

func TestCommandBlocked(t *testing.T) {
	h := newHarness(t, nil)
	res := h.submit("launch_app", map[string]any{"program": "sudo", "args": []string{"ls"}})
	assert.Equal(t, model.ReasonCommandBlocked, res.Reason)
	assert.Zero(t, h.launcher.calls.Load())
}

func TestLaunchOutsideSafeProgramsBlocked(t *testing.T) {
	h := newHarness(t, nil)

	res := h.submit("launch_app", map[string]any{"program": "env", "args": []string{`bash -c "rm -r ~/Documents"`}})
	assert.Equal(t, model.StatusDeniedPolicy, res.Status)
	assert.Equal(t, model.ReasonCommandBlocked, res.Reason)

	res = h.submit("launch_app", map[string]any{"program": "python3", "args": []string{"-c", "print(1)"}})
	assert.Equal(t, model.ReasonCommandBlocked, res.Reason)
	assert.Zero(t, h.launcher.calls.Load())

	h.d.SetPrivilegedMode(model.ActorUI, true, 0)
	res = h.submit("launch_app", map[string]any{"program": "python3", "args": []string{"-c", "print(1)"}})
	require.True(t, res.OK(), res.Detail)
	assert.EqualValues(t, 1, h.launcher.calls.Load())
}

func TestRateLimitWindow(t *testing.T) {
	h := newHarness(t, nil)

	for i := 0; i < 10; i++ {
		res := h.submit("launch_app", map[string]any{"program": "firefox"})
		require.True(t, res.OK(), "call %d: %s", i, res.Detail)
	}
	res := h.submit("launch_app", map[string]any{"program": "firefox"})
	assert.Equal(t, model.StatusDeniedRateLimit, res.Status)
	assert.Equal(t, model.ReasonRateLimitExceeded, res.Reason)
	assert.EqualValues(t, 10, h.launcher.calls.Load())

	h.clock.Advance(61 * time.Second)
	res = h.submit("launch_app", map[string]any{"program": "firefox"})
	assert.True(t, res.OK(), res.Detail)
}

func TestRateLimitOverrideFromPolicy(t *testing.T) {
	h := newHarness(t, func(c *policy.Config) {
		c.RateLimits = ratelimit.Config{"make_dir": {MaxRequests: 1, Window: time.Minute}}
	})
	assert.True(t, h.submit("make_dir", map[string]any{"path": h.path("a")}).OK())
	assert.Equal(t, model.StatusDeniedRateLimit, h.submit("make_dir", map[string]any{"path": h.path("b")}).Status)
}

func TestUndoExemptFromRateLimit(t *testing.T) {
	h := newHarness(t, func(c *policy.Config) {
		c.RateLimits = ratelimit.Config{"remove_dir": {MaxRequests: 1, Window: time.Hour}}
	})
	a := h.submit("make_dir", map[string]any{"path": h.path("a")})
	b := h.submit("make_dir", map[string]any{"path": h.path("b")})
	require.True(t, a.OK())
	require.True(t, b.OK())

	assert.True(t, h.d.Undo(context.Background(), a.ReversibleActionID, "").OK())
	assert.True(t, h.d.Undo(context.Background(), b.ReversibleActionID, "").OK())
}

func TestPolicyDeniedDoesNotConsumeRateBudget(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 20; i++ {
		h.submit("launch_app", map[string]any{"program": "rm"})
	}
	assert.True(t, h.submit("launch_app", map[string]any{"program": "firefox"}).OK())
}

func TestUnknownCapabilityAudited(t *testing.T) {
	h := newHarness(t, nil)
	res := h.submit("format_disk", nil)
	assert.Equal(t, model.StatusDeniedPolicy, res.Status)
	assert.Equal(t, model.ReasonUnknownCapability, res.Reason)
	entries := h.audit.ForRequest(res.RequestID)
	require.Len(t, entries, 1)
	assert.Equal(t, "format_disk", entries[0].Capability)
}

func TestMissingArgument(t *testing.T) {
	h := newHarness(t, nil)
	res := h.submit("move_file", map[string]any{"src": h.path("a.txt")})
	assert.Equal(t, model.StatusFailedExecution, res.Status)
	assert.Equal(t, model.ReasonMissingArgument, res.Reason)
	assert.Len(t, h.audit.ForRequest(res.RequestID), 1)
}

func TestHandlerFailureIsContained(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.d.Registry().Register(registry.Descriptor{
		Name: "explode",
		Handler: registry.HandlerFunc(func(context.Context, registry.Args) (registry.Outcome, error) {
			panic("boom")
		}),
	}))

	res := h.submit("explode", nil)
	assert.Equal(t, model.StatusFailedExecution, res.Status)
	assert.Equal(t, model.ReasonHandlerExecutionFailure, res.Reason)
	assert.Len(t, h.audit.ForRequest(res.RequestID), 1)

	assert.True(t, h.submit("list_dir", map[string]any{"path": h.root}).OK(), "dispatcher keeps serving")
}

func TestFailedMoveRecordsNoUndo(t *testing.T) {
	h := newHarness(t, nil)
	res := h.submit("move_file", map[string]any{"src": h.path("missing.txt"), "dst": h.path("out")})
	assert.Equal(t, model.StatusFailedExecution, res.Status)
	assert.Empty(t, res.ReversibleActionID)

	recent, err := h.d.Ledger().Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestConcurrentMovesOfSameFile(t *testing.T) {
	h := newHarness(t, nil)
	src := h.write(t, "a.txt", "x")
	require.NoError(t, os.Mkdir(h.path("one"), 0o755))
	require.NoError(t, os.Mkdir(h.path("two"), 0o755))

	var wg sync.WaitGroup
	results := make([]model.Result, 2)
	for i, dst := range []string{h.path("one"), h.path("two")} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = h.submit("move_file", map[string]any{"src": src, "dst": dst})
		}()
	}
	wg.Wait()

	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
		} else {
			assert.Equal(t, model.StatusFailedExecution, r.Status)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 2, h.audit.Len())
}

func TestDuplicateRegistrationKeepsFirst(t *testing.T) {
	h := newHarness(t, nil)
	err := h.d.Registry().Register(skills.MoveFile())
	require.ErrorIs(t, err, model.ErrDuplicateCapability)

	d, err := h.d.Registry().Lookup("move_file")
	require.NoError(t, err)
	assert.True(t, d.Reversible)
}

func TestAuditFailureDoesNotChangeResult(t *testing.T) {
	h := newHarness(t, nil)
	d, err := New(Config{
		Registry: h.d.Registry(),
		Policy:   h.d.Policy(),
		Recorder: failingRecorder{},
	})
	require.NoError(t, err)

	res := d.Submit(context.Background(), model.Request{
		CapabilityName: "list_dir",
		Arguments:      map[string]any{"path": h.root},
	})
	assert.True(t, res.OK(), res.Detail)
}

type failingRecorder struct{}

func (failingRecorder) Record(audit.Entry) error { return os.ErrPermission }

func TestCancelledWhileWaiting(t *testing.T) {
	h := newHarness(t, nil)
	release, err := h.d.acquire(context.Background(), "move_file")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.d.Submit(ctx, model.Request{
		CapabilityName: "move_file",
		Arguments:      map[string]any{"src": h.path("a"), "dst": h.path("b")},
	})
	assert.Equal(t, model.ReasonCancelled, res.Reason)
	assert.Len(t, h.audit.ForRequest(res.RequestID), 1)
}

func TestRequestDefaults(t *testing.T) {
	h := newHarness(t, nil)
	res := h.d.Submit(context.Background(), model.Request{
		CapabilityName: "list_dir",
		Arguments:      map[string]any{"path": h.root},
		RequestID:      "req-1",
		Actor:          model.ActorLLM,
	})
	assert.Equal(t, "req-1", res.RequestID)
	entries := h.audit.ForRequest("req-1")
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActorLLM, entries[0].Actor)
	assert.NotEmpty(t, entries[0].PolicyHash)
}
