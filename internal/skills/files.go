package skills

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/ppiankov/skillgate/internal/model"
	"github.com/ppiankov/skillgate/internal/registry"
)

// defaultListLimit caps list_dir output.
const defaultListLimit = 200

// maxCollisionSuffix bounds the name_N search when a target exists.
const maxCollisionSuffix = 10000

// ListDir returns the list_dir capability.
func ListDir() registry.Descriptor {
	return registry.Descriptor{
		Name:        "list_dir",
		Description: "List the entries of a directory.",
		Category:    "files",
		Aliases:     []string{"ls", "dir", "list"},
		Handler:     registry.HandlerFunc(listDir),
		Args: []registry.ArgSpec{
			{Name: "path", Type: registry.ArgPath, Required: true, Description: "Directory to list."},
			{Name: "limit", Type: registry.ArgInt, Description: "Maximum entries returned (default 200)."},
		},
		PathSensitive: true,
		Idempotent:    true,
	}
}

func listDir(_ context.Context, args registry.Args) (registry.Outcome, error) {
	dir := args.String("path")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return registry.Outcome{}, err
	}

	limit := args.Int("limit", defaultListLimit)
	if limit <= 0 {
		limit = defaultListLimit
	}

	items := make([]map[string]any, 0, min(len(entries), limit))
	for _, e := range entries {
		if len(items) == limit {
			break
		}
		item := map[string]any{"name": e.Name(), "dir": e.IsDir()}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			item["size"] = info.Size()
		}
		items = append(items, item)
	}

	detail := fmt.Sprintf("%d entries in %s", len(entries), dir)
	if len(entries) > limit {
		detail += fmt.Sprintf(" (showing %d)", limit)
	}
	return registry.Outcome{
		Detail: detail,
		Data:   map[string]any{"path": dir, "total": len(entries), "entries": items},
	}, nil
}

// MakeDir returns the make_dir capability.
func MakeDir() registry.Descriptor {
	return registry.Descriptor{
		Name:        "make_dir",
		Description: "Create a directory and any missing parents.",
		Category:    "files",
		Aliases:     []string{"md", "mkdir"},
		Handler:     registry.HandlerFunc(makeDir),
		Args: []registry.ArgSpec{
			{Name: "path", Type: registry.ArgPath, Required: true, Description: "Directory to create."},
		},
		PathSensitive: true,
		Reversible:    true,
	}
}

func makeDir(_ context.Context, args registry.Args) (registry.Outcome, error) {
	target := args.String("path")
	if info, err := os.Stat(target); err == nil {
		if !info.IsDir() {
			return registry.Outcome{}, fmt.Errorf("%s exists and is not a directory", target)
		}
		return registry.Outcome{Detail: "already exists: " + target}, nil
	}

	top := firstMissing(target)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return registry.Outcome{}, err
	}
	return registry.Outcome{
		Detail: "created " + target,
		Data:   map[string]any{"path": target},
		Inverse: &model.Inverse{
			Capability: "remove_dir",
			Arguments:  map[string]any{"path": top, "recursive": top != target},
		},
	}, nil
}

// firstMissing returns the outermost ancestor of p (or p itself) that
// does not exist yet.
func firstMissing(p string) string {
	top := p
	for {
		parent := filepath.Dir(top)
		if parent == top {
			return top
		}
		if _, err := os.Stat(parent); err == nil {
			return top
		}
		top = parent
	}
}

// RemoveDir returns the remove_dir capability. Only empty directories
// (or, with recursive, trees containing nothing but directories) are
// removed, so no file content is ever lost.
func RemoveDir() registry.Descriptor {
	return registry.Descriptor{
		Name:        "remove_dir",
		Description: "Remove an empty directory.",
		Category:    "files",
		Aliases:     []string{"rmdir", "rd"},
		Handler:     registry.HandlerFunc(removeDir),
		Args: []registry.ArgSpec{
			{Name: "path", Type: registry.ArgPath, Required: true, Description: "Directory to remove."},
			{Name: "recursive", Type: registry.ArgBool, Description: "Also remove empty subdirectories."},
		},
		Destructive:     true,
		SafeDestructive: true,
		PathSensitive:   true,
		Reversible:      true,
	}
}

func removeDir(_ context.Context, args registry.Args) (registry.Outcome, error) {
	target := args.String("path")
	info, err := os.Stat(target)
	if err != nil {
		return registry.Outcome{}, err
	}
	if !info.IsDir() {
		return registry.Outcome{}, fmt.Errorf("%s is not a directory", target)
	}

	if args.Bool("recursive") {
		err = removeEmptyTree(target)
	} else {
		err = os.Remove(target)
	}
	if err != nil {
		return registry.Outcome{}, err
	}
	return registry.Outcome{
		Detail: "removed " + target,
		Inverse: &model.Inverse{
			Capability: "make_dir",
			Arguments:  map[string]any{"path": target},
		},
	}, nil
}

// removeEmptyTree removes root if it contains only directories.
func removeEmptyTree(root string) error {
	var dirs []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return fmt.Errorf("%s is not empty: contains %s", root, p)
		}
		dirs = append(dirs, p)
		return nil
	})
	if err != nil {
		return err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, d := range dirs {
		if err := os.Remove(d); err != nil {
			return err
		}
	}
	return nil
}

// MoveFile returns the move_file capability. Moves are safe-destructive:
// every successful move records its inverse.
func MoveFile() registry.Descriptor {
	return registry.Descriptor{
		Name:        "move_file",
		Description: "Move or rename a file or directory. Existing targets are never overwritten; a symlink is moved as a link.",
		Category:    "files",
		Aliases:     []string{"mv", "move", "rename"},
		Handler:     registry.HandlerFunc(moveFile),
		Args: []registry.ArgSpec{
			{Name: "src", Type: registry.ArgPath, Required: true, NoFollow: true, Description: "File or directory to move."},
			{Name: "dst", Type: registry.ArgPath, Required: true, Description: "Target path or existing directory."},
		},
		Destructive:     true,
		SafeDestructive: true,
		PathSensitive:   true,
		Reversible:      true,
	}
}

func moveFile(_ context.Context, args registry.Args) (registry.Outcome, error) {
	src, dst := args.String("src"), args.String("dst")
	if _, err := os.Lstat(src); err != nil {
		return registry.Outcome{}, fmt.Errorf("source not found: %w", err)
	}

	final, err := moveTarget(src, dst)
	if err != nil {
		return registry.Outcome{}, err
	}
	if final == src {
		return registry.Outcome{}, fmt.Errorf("source and destination are the same: %s", src)
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return registry.Outcome{}, err
	}
	if err := move(src, final); err != nil {
		return registry.Outcome{}, err
	}

	return registry.Outcome{
		Detail: "moved to " + final,
		Data:   map[string]any{"src": src, "dst": final},
		Inverse: &model.Inverse{
			Capability: "move_file",
			Arguments:  map[string]any{"src": final, "dst": src},
		},
	}, nil
}

// PreviewMove returns the preview_move capability.
func PreviewMove() registry.Descriptor {
	return registry.Descriptor{
		Name:        "preview_move",
		Description: "Show where a move would put a file without moving it.",
		Category:    "files",
		Handler:     registry.HandlerFunc(previewMove),
		Args: []registry.ArgSpec{
			{Name: "src", Type: registry.ArgPath, Required: true, NoFollow: true},
			{Name: "dst", Type: registry.ArgPath, Required: true},
		},
		PathSensitive: true,
		Idempotent:    true,
	}
}

func previewMove(_ context.Context, args registry.Args) (registry.Outcome, error) {
	src, dst := args.String("src"), args.String("dst")
	info, err := os.Lstat(src)
	if err != nil {
		return registry.Outcome{}, fmt.Errorf("source not found: %w", err)
	}
	final, err := moveTarget(src, dst)
	if err != nil {
		return registry.Outcome{}, err
	}

	size := info.Size()
	if info.IsDir() {
		size = dirSize(src)
	}
	return registry.Outcome{
		Detail: fmt.Sprintf("would move %s to %s (%.2f MB)", src, final, float64(size)/(1024*1024)),
		Data:   map[string]any{"src": src, "dst": final, "size": size, "dir": info.IsDir()},
	}, nil
}

// DeleteFile returns the delete_file capability. Deletion is not
// reversible and requires privileged mode.
func DeleteFile() registry.Descriptor {
	return registry.Descriptor{
		Name:        "delete_file",
		Description: "Permanently delete a regular file. A symlink is removed, not its target.",
		Category:    "files",
		Aliases:     []string{"del", "delete"},
		Handler:     registry.HandlerFunc(deleteFile),
		Args: []registry.ArgSpec{
			{Name: "path", Type: registry.ArgPath, Required: true, NoFollow: true},
		},
		Destructive:   true,
		PathSensitive: true,
	}
}

func deleteFile(_ context.Context, args registry.Args) (registry.Outcome, error) {
	target := args.String("path")
	info, err := os.Lstat(target)
	if err != nil {
		return registry.Outcome{}, err
	}
	if info.IsDir() {
		return registry.Outcome{}, fmt.Errorf("%s is a directory", target)
	}
	if err := os.Remove(target); err != nil {
		return registry.Outcome{}, err
	}
	return registry.Outcome{Detail: "deleted " + target}, nil
}

// moveTarget resolves where src lands: inside dst when dst is an existing
// directory, otherwise at dst. An occupied target gets the first free
// name_N.ext sibling.
func moveTarget(src, dst string) (string, error) {
	target := dst
	if info, err := os.Stat(dst); err == nil && info.IsDir() {
		target = filepath.Join(dst, filepath.Base(src))
	}
	if target == src {
		return target, nil
	}
	if _, err := os.Lstat(target); errors.Is(err, fs.ErrNotExist) {
		return target, nil
	}

	dir := filepath.Dir(target)
	base := filepath.Base(target)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	for i := 1; i <= maxCollisionSuffix; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", name, i, ext))
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free name for %s after %d attempts", target, maxCollisionSuffix)
}

// move renames src to dst, copying across filesystems when needed.
func move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}
	info, statErr := os.Lstat(src)
	if statErr != nil {
		return statErr
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("cross-device move of %s: only regular files are supported", src)
	}
	if err := copyFile(src, dst, info.Mode().Perm()); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
