package skills

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/ppiankov/skillgate/internal/registry"
)

// Launch limits applied unless the policy overrides them.
const (
	launchMaxCalls = 10
	launchWindow   = time.Minute
)

var appNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_+\-.\s&()/]*$`)

// Launcher starts a program without waiting for it.
type Launcher interface {
	Launch(ctx context.Context, program string, args []string) (pid int, err error)
}

// ExecLauncher starts programs as detached child processes. On macOS
// bare application names go through open -a.
type ExecLauncher struct{}

// Launch implements Launcher.
func (ExecLauncher) Launch(_ context.Context, program string, args []string) (int, error) {
	name, argv := program, args
	if runtime.GOOS == "darwin" && !strings.Contains(program, "/") {
		if _, err := exec.LookPath(program); err != nil {
			name = "open"
			argv = []string{"-a", program}
			if len(args) > 0 {
				argv = append(append(argv, "--args"), args...)
			}
		}
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return 0, fmt.Errorf("program not found: %s", program)
	}
	// Not CommandContext: the launched program must outlive the request.
	cmd := exec.Command(path, argv...)
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

// LaunchApp returns the launch_app capability backed by l.
func LaunchApp(l Launcher) registry.Descriptor {
	if l == nil {
		l = ExecLauncher{}
	}
	return registry.Descriptor{
		Name:        "launch_app",
		Description: "Start an application.",
		Category:    "system",
		Aliases:     []string{"open", "launch", "run"},
		Handler: registry.HandlerFunc(func(ctx context.Context, args registry.Args) (registry.Outcome, error) {
			program := args.String("program")
			if !appNamePattern.MatchString(program) {
				return registry.Outcome{}, fmt.Errorf("invalid application name %q", program)
			}
			argv := args.Strings("args")
			pid, err := l.Launch(ctx, program, argv)
			if err != nil {
				return registry.Outcome{}, err
			}
			return registry.Outcome{
				Detail: fmt.Sprintf("launched %s (pid %d)", program, pid),
				Data:   map[string]any{"program": program, "args": argv, "pid": pid},
			}, nil
		}),
		Args: []registry.ArgSpec{
			{Name: "program", Type: registry.ArgCommand, Required: true, Description: "Application or executable name."},
			{Name: "args", Type: registry.ArgStringList, Description: "Arguments passed to the program."},
		},
		MaxCallsPerWindow: launchMaxCalls,
		Window:            launchWindow,
	}
}
