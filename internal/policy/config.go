package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/skillgate/internal/denylist"
	"github.com/ppiankov/skillgate/internal/ratelimit"
)

// Config holds all configurable policy parameters.
type Config struct {
	// AllowedRoots are the directories path-sensitive capabilities may touch.
	// A leading ~ expands to the user's home directory.
	AllowedRoots []string `yaml:"allowed_roots" validate:"dive,required"`

	// BlockedExtensions are denied unless privileged mode is on.
	BlockedExtensions []string `yaml:"blocked_extensions" validate:"dive,required"`

	PrivilegedMode bool `yaml:"privileged_mode"`

	// ProtectedFiles are doublestar globs that stay denied even in privileged mode.
	ProtectedFiles []string `yaml:"protected_files"`

	BlockedPrograms []string `yaml:"blocked_programs"`
	BlockedCommands []string `yaml:"blocked_commands"`

	// SafePrograms are the only programs launch_app starts while
	// privileged mode is off.
	SafePrograms []string `yaml:"safe_programs"`

	// RateLimits override descriptor limits per capability.
	RateLimits ratelimit.Config `yaml:"rate_limits" validate:"dive"`

	ExemptUndoFromRateLimit bool `yaml:"exempt_undo_from_rate_limit"`
}

var validate = validator.New()

// DefaultSafePrograms are everyday desktop applications. Shells, terminals
// and interpreters are left out: they run arbitrary code from arguments.
var DefaultSafePrograms = []string{
	"chrome", "google chrome", "firefox", "edge", "brave", "safari",
	"code", "vscode", "visual studio code", "notepad", "notepad++", "sublime_text",
	"spotify", "discord", "slack", "calculator", "calendar",
	"explorer", "finder", "vlc", "obsidian", "zoom", "teams",
}

// DefaultConfig returns the built-in policy.
func DefaultConfig() *Config {
	return &Config{
		AllowedRoots:            []string{"~"},
		BlockedExtensions:       []string{".exe", ".bat", ".cmd", ".sh", ".py", ".js", ".vbs", ".ps1", ".dll", ".sys"},
		ProtectedFiles:          append([]string(nil), denylist.DefaultPatterns.Files...),
		BlockedPrograms:         append([]string(nil), denylist.DefaultPatterns.Programs...),
		BlockedCommands:         append([]string(nil), denylist.DefaultPatterns.Commands...),
		SafePrograms:            append([]string(nil), DefaultSafePrograms...),
		RateLimits:              ratelimit.Config{},
		ExemptUndoFromRateLimit: true,
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.AllowedRoots = append([]string(nil), c.AllowedRoots...)
	out.BlockedExtensions = append([]string(nil), c.BlockedExtensions...)
	out.ProtectedFiles = append([]string(nil), c.ProtectedFiles...)
	out.BlockedPrograms = append([]string(nil), c.BlockedPrograms...)
	out.BlockedCommands = append([]string(nil), c.BlockedCommands...)
	out.SafePrograms = append([]string(nil), c.SafePrograms...)
	out.RateLimits = make(ratelimit.Config, len(c.RateLimits))
	for k, v := range c.RateLimits {
		out.RateLimits[k] = v
	}
	return &out
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid policy config: %w", err)
	}
	for name, l := range c.RateLimits {
		if (l.MaxRequests > 0) != (l.Window > 0) {
			return fmt.Errorf("invalid policy config: rate_limits.%s needs both max_requests and window", name)
		}
	}
	return nil
}

// DefaultDir returns the gateway state directory, ~/.skillgate.
// Falls back to a relative .skillgate when no home directory is known.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".skillgate"
	}
	return filepath.Join(home, ".skillgate")
}

// DefaultPath returns the default policy file path.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "policy.yaml")
}

// LoadConfig loads policy configuration from a YAML file.
// Empty path falls back to ~/.skillgate/policy.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads policy configuration and returns its SHA-256 hash.
// The hash is computed over the raw YAML bytes on disk.
// When no file exists (defaults used), the hash is the SHA-256 of empty input.
func LoadConfigWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), hashBytes(nil), nil
		}
		return nil, "", fmt.Errorf("failed to read policy config: %w", err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, "", err
	}
	return cfg, hashBytes(data), nil
}

// ParseConfig applies YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse policy config: %w", err)
	}
	cfg.BlockedExtensions = normalizeExtensions(cfg.BlockedExtensions)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HashConfig returns the hash of cfg's YAML encoding. Used for policies
// changed at runtime, which have no file bytes to hash.
func HashConfig(cfg *Config) string {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return hashBytes(nil)
	}
	return hashBytes(data)
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// normalizeExtensions lowercases and adds the leading dot.
func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	seen := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// DefaultConfigYAML returns a commented YAML string for init-policy.
func DefaultConfigYAML() string {
	return `# skillgate policy configuration
# Generated by: skillgate init-policy
#
# Evaluation order (cannot be changed), first denial wins:
#   0. Unresolvable path -> InvalidArgument
#   1. Path-sensitive capability outside allowed_roots -> PathNotWhitelisted
#      State directory or protected_files match -> PathProtected (always)
#   2. blocked_extensions / blocked_programs / blocked_commands, or a
#      program missing from safe_programs
#      -> ExtensionBlocked / CommandBlocked (lifted by privileged_mode)
#   3. Destructive capability without privileged_mode
#      -> DestructiveActionRequiresPrivilege (unless marked safe-destructive)
#   4. Allow

# Directories path-sensitive skills may touch. ~ is the home directory.
allowed_roots:
  - "~"

# File extensions denied unless privileged mode is on.
blocked_extensions: [.exe, .bat, .cmd, .sh, .py, .js, .vbs, .ps1, .dll, .sys]

# Privileged mode lifts rules 2 and 3. Toggle at runtime with
# "skillgate token" + the policy_privileged tool, not by editing this file.
privileged_mode: false

# Globs that no skill may touch, even in privileged mode.
protected_files:
  - "~/.ssh/**"
  - "~/.aws/credentials"
  - "~/.gnupg/**"
  - "**/.env"
  - "**/.env.local"
  - "**/credentials.json"
  - "**/*.kdbx"
  - "**/.git/**"

# Programs launch_app refuses unless privileged.
blocked_programs: [sudo, su, doas, rm, format, regedit, diskpart, bash, sh, mkfs, fdisk, dd, shutdown, reboot, taskkill]

# The only programs launch_app starts without privileged mode.
safe_programs: [chrome, google chrome, firefox, edge, brave, safari, code, vscode, visual studio code, notepad, notepad++, sublime_text, spotify, discord, slack, calculator, calendar, explorer, finder, vlc, obsidian, zoom, teams]

# Substrings refused anywhere in a launched command line.
blocked_commands:
  - "rm -rf /"
  - "dd if=/dev/zero"
  - "mkfs."
  - "curl|sh"
  - "wget|sh"

# Per-capability sliding-window overrides. Zero values disable the limit.
rate_limits:
  launch_app:
    max_requests: 10
    window: 1m

# Undo runs the inverse action without consuming rate budget.
exempt_undo_from_rate_limit: true
`
}
