package skills

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/skillgate/internal/registry"
)

func invoke(t *testing.T, d registry.Descriptor, args registry.Args) (registry.Outcome, error) {
	t.Helper()
	return d.Handler.Invoke(context.Background(), args)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestMoveFileIntoDirectory(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	dst := filepath.Join(dir, "docs")
	writeFile(t, src, "hello")
	require.NoError(t, os.Mkdir(dst, 0o755))

	out, err := invoke(t, MoveFile(), registry.Args{"src": src, "dst": dst})
	require.NoError(t, err)

	final := filepath.Join(dst, "a.txt")
	assert.FileExists(t, final)
	assert.NoFileExists(t, src)
	require.NotNil(t, out.Inverse)
	assert.Equal(t, "move_file", out.Inverse.Capability)
	assert.Equal(t, final, out.Inverse.Arguments["src"])
	assert.Equal(t, src, out.Inverse.Arguments["dst"])
}

func TestMoveFileCollisionRenames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "in", "report.pdf"), "new")
	writeFile(t, filepath.Join(dir, "out", "report.pdf"), "old")
	writeFile(t, filepath.Join(dir, "out", "report_1.pdf"), "older")

	out, err := invoke(t, MoveFile(), registry.Args{
		"src": filepath.Join(dir, "in", "report.pdf"),
		"dst": filepath.Join(dir, "out"),
	})
	require.NoError(t, err)

	final := filepath.Join(dir, "out", "report_2.pdf")
	assert.Equal(t, final, out.Data["dst"])
	got, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))

	old, err := os.ReadFile(filepath.Join(dir, "out", "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(old), "existing target must not be overwritten")
}

func TestMoveFileExplicitTargetCollision(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "b.txt"), "b")

	out, err := invoke(t, MoveFile(), registry.Args{
		"src": filepath.Join(dir, "a.txt"),
		"dst": filepath.Join(dir, "b.txt"),
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "b_1.txt"), out.Data["dst"])
}

func TestMoveFileCreatesParents(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")

	_, err := invoke(t, MoveFile(), registry.Args{
		"src": filepath.Join(dir, "a.txt"),
		"dst": filepath.Join(dir, "x", "y", "a.txt"),
	})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "x", "y", "a.txt"))
}

func TestMoveFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	_, err := invoke(t, MoveFile(), registry.Args{
		"src": filepath.Join(dir, "nope.txt"),
		"dst": filepath.Join(dir, "out"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source not found")
}

func TestMoveFileInverseRestores(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	writeFile(t, src, "content")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dst"), 0o755))

	out, err := invoke(t, MoveFile(), registry.Args{"src": src, "dst": filepath.Join(dir, "dst")})
	require.NoError(t, err)

	_, err = invoke(t, MoveFile(), registry.Args(out.Inverse.Arguments))
	require.NoError(t, err)

	got, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, "content", string(got))
}

func TestPreviewMoveDoesNotMove(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	writeFile(t, src, "12345")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dst"), 0o755))

	out, err := invoke(t, PreviewMove(), registry.Args{"src": src, "dst": filepath.Join(dir, "dst")})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "dst", "a.txt"), out.Data["dst"])
	assert.Equal(t, int64(5), out.Data["size"])
	assert.Nil(t, out.Inverse)
	assert.FileExists(t, src)
}

func TestListDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "b.txt"), "bb")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	out, err := invoke(t, ListDir(), registry.Args{"path": dir})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Data["total"])
	entries := out.Data["entries"].([]map[string]any)
	require.Len(t, entries, 3)
	assert.Equal(t, "a.txt", entries[0]["name"])
	assert.Equal(t, true, entries[2]["dir"])

	out, err = invoke(t, ListDir(), registry.Args{"path": dir, "limit": 1})
	require.NoError(t, err)
	assert.Len(t, out.Data["entries"], 1)
	assert.Contains(t, out.Detail, "showing 1")
}

func TestMakeDirInverse(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a", "b", "c")

	out, err := invoke(t, MakeDir(), registry.Args{"path": target})
	require.NoError(t, err)
	assert.DirExists(t, target)
	require.NotNil(t, out.Inverse)
	assert.Equal(t, "remove_dir", out.Inverse.Capability)
	assert.Equal(t, filepath.Join(dir, "a"), out.Inverse.Arguments["path"])
	assert.Equal(t, true, out.Inverse.Arguments["recursive"])

	_, err = invoke(t, RemoveDir(), registry.Args(out.Inverse.Arguments))
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(dir, "a"))
}

func TestMakeDirExistingHasNoInverse(t *testing.T) {
	dir := t.TempDir()
	out, err := invoke(t, MakeDir(), registry.Args{"path": dir})
	require.NoError(t, err)
	assert.Nil(t, out.Inverse)
	assert.Contains(t, out.Detail, "already exists")
}

func TestRemoveDirRefusesContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "keep", "sub", "file.txt"), "x")

	_, err := invoke(t, RemoveDir(), registry.Args{"path": filepath.Join(dir, "keep"), "recursive": true})
	require.Error(t, err)
	assert.FileExists(t, filepath.Join(dir, "keep", "sub", "file.txt"))

	_, err = invoke(t, RemoveDir(), registry.Args{"path": filepath.Join(dir, "keep")})
	require.Error(t, err)
	assert.DirExists(t, filepath.Join(dir, "keep"))
}

func TestDeleteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "a")

	_, err := invoke(t, DeleteFile(), registry.Args{"path": dir})
	require.Error(t, err, "directories are not deleted")

	out, err := invoke(t, DeleteFile(), registry.Args{"path": path})
	require.NoError(t, err)
	assert.Nil(t, out.Inverse)
	assert.NoFileExists(t, path)
}

type fakeLauncher struct {
	program string
	args    []string
	err     error
}

func (f *fakeLauncher) Launch(_ context.Context, program string, args []string) (int, error) {
	f.program, f.args = program, args
	return 4242, f.err
}

func TestLaunchApp(t *testing.T) {
	l := &fakeLauncher{}
	d := LaunchApp(l)
	assert.Equal(t, launchMaxCalls, d.MaxCallsPerWindow)

	out, err := invoke(t, d, registry.Args{"program": "firefox", "args": []string{"--new-window"}})
	require.NoError(t, err)
	assert.Equal(t, "firefox", l.program)
	assert.Equal(t, []string{"--new-window"}, l.args)
	assert.Equal(t, 4242, out.Data["pid"])
}

func TestLaunchAppRejectsBadName(t *testing.T) {
	l := &fakeLauncher{}
	for _, name := range []string{"-rf", "a;b", "$(x)", "`id`"} {
		_, err := invoke(t, LaunchApp(l), registry.Args{"program": name})
		assert.Error(t, err, name)
	}
	assert.Empty(t, l.program)
}

func TestLaunchAppLauncherError(t *testing.T) {
	_, err := invoke(t, LaunchApp(&fakeLauncher{err: errors.New("program not found: zzz")}), registry.Args{"program": "zzz"})
	require.Error(t, err)
}

func TestRegisterBuiltins(t *testing.T) {
	reg := registry.New()
	require.NoError(t, RegisterBuiltins(reg, Options{Launcher: &fakeLauncher{}, Disable: []string{"delete_file"}}))

	_, err := reg.Lookup("delete_file")
	assert.Error(t, err)

	for _, alias := range []string{"mv", "LS", "dir", "MD", "open"} {
		_, err := reg.Lookup(alias)
		assert.NoError(t, err, alias)
	}
	assert.Equal(t, len(Builtins(Options{}))-1, reg.Len())
}
