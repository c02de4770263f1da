// Package skills holds the built-in capabilities: file operations and
// application launch.
package skills

import (
	"fmt"

	"github.com/ppiankov/skillgate/internal/registry"
)

// Options configures the built-in capabilities.
type Options struct {
	Launcher Launcher
	// Disable lists capability names to leave unregistered.
	Disable []string
}

// Builtins returns every built-in descriptor.
func Builtins(opts Options) []registry.Descriptor {
	return []registry.Descriptor{
		ListDir(),
		MakeDir(),
		RemoveDir(),
		MoveFile(),
		PreviewMove(),
		DeleteFile(),
		LaunchApp(opts.Launcher),
	}
}

// RegisterBuiltins registers the built-ins not named in opts.Disable.
func RegisterBuiltins(reg *registry.Registry, opts Options) error {
	skip := make(map[string]bool, len(opts.Disable))
	for _, name := range opts.Disable {
		skip[name] = true
	}
	for _, d := range Builtins(opts) {
		if skip[d.Name] {
			continue
		}
		if err := reg.Register(d); err != nil {
			return fmt.Errorf("register %s: %w", d.Name, err)
		}
	}
	return nil
}
