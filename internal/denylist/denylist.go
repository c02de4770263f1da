package denylist

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Patterns holds the raw pattern strings organized by category.
type Patterns struct {
	// Files are doublestar globs matched against resolved absolute paths.
	// A leading ~/ expands to the user's home directory.
	Files []string `yaml:"files"`

	// Programs are executable names blocked regardless of directory or
	// extension (e.g. "sudo" blocks /usr/bin/sudo and SUDO.EXE).
	Programs []string `yaml:"programs"`

	// Commands are substrings matched against the full command line.
	Commands []string `yaml:"commands"`
}

// Denylist holds normalized patterns for fast matching.
type Denylist struct {
	filePatterns    []string
	programs        map[string]bool
	commandPatterns []string
	raw             Patterns
}

// New creates a Denylist from raw patterns. Invalid globs are dropped.
func New(p Patterns) *Denylist {
	d := &Denylist{
		programs: make(map[string]bool),
	}
	for _, f := range p.Files {
		d.addFile(f)
	}
	for _, prog := range p.Programs {
		d.addProgram(prog)
	}
	for _, c := range p.Commands {
		d.addCommand(c)
	}
	return d
}

// NewDefault creates a Denylist with the built-in default patterns.
func NewDefault() *Denylist {
	return New(DefaultPatterns)
}

// IsFileBlocked checks if an absolute path matches a protected file pattern.
// Returns (blocked, reason).
func (d *Denylist) IsFileBlocked(path string) (bool, string) {
	target := normalizePath(path)
	for i, pattern := range d.filePatterns {
		if matched, _ := doublestar.Match(pattern, target); matched {
			return true, "protected file pattern: " + d.raw.Files[i]
		}
	}
	return false, ""
}

// IsCommandBlocked checks a program and its arguments against the
// program and command-line patterns. A blocked program named anywhere in
// the arguments blocks too, so wrappers like "env bash" are caught.
// Returns (blocked, reason).
func (d *Denylist) IsCommandBlocked(program string, args []string) (bool, string) {
	name := ProgramName(program)
	if d.programs[name] {
		return true, "blocked program: " + name
	}
	for _, a := range args {
		for _, field := range strings.Fields(a) {
			if n := ProgramName(strings.Trim(field, `"'`)); d.programs[n] {
				return true, "blocked program in arguments: " + n
			}
		}
	}

	line := strings.ToLower(strings.TrimSpace(program + " " + strings.Join(args, " ")))
	for _, pattern := range d.commandPatterns {
		if strings.Contains(line, pattern) {
			return true, "command pattern blocked: " + pattern
		}
	}
	if isPipeToShell(line) {
		return true, "pipe-to-shell execution detected"
	}
	return false, ""
}

// Patterns returns a copy of the raw patterns in effect.
func (d *Denylist) Patterns() Patterns {
	return Patterns{
		Files:    append([]string(nil), d.raw.Files...),
		Programs: append([]string(nil), d.raw.Programs...),
		Commands: append([]string(nil), d.raw.Commands...),
	}
}

func (d *Denylist) addFile(pattern string) {
	normalized := normalizePath(expandHome(pattern))
	if !doublestar.ValidatePattern(normalized) {
		return
	}
	d.raw.Files = append(d.raw.Files, pattern)
	d.filePatterns = append(d.filePatterns, normalized)
}

func (d *Denylist) addProgram(name string) {
	name = ProgramName(name)
	if name == "" || d.programs[name] {
		return
	}
	d.raw.Programs = append(d.raw.Programs, name)
	d.programs[name] = true
}

func (d *Denylist) addCommand(pattern string) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return
	}
	d.raw.Commands = append(d.raw.Commands, pattern)
	d.commandPatterns = append(d.commandPatterns, pattern)
}

// normalizePath lowercases, converts to forward slashes and strips the
// leading root so relative globs like **/.env match absolute paths.
func normalizePath(p string) string {
	p = filepath.ToSlash(p)
	if vol := filepath.VolumeName(p); vol != "" {
		p = p[len(vol):]
	}
	return strings.ToLower(strings.TrimPrefix(p, "/"))
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Without a home directory, match the suffix anywhere.
		return "**/" + p[2:]
	}
	return filepath.Join(home, p[2:])
}

// ProgramName reduces a program path to its lowercase base name without
// a Windows executable suffix.
func ProgramName(program string) string {
	base := strings.ToLower(filepath.Base(strings.TrimSpace(program)))
	if base == "." || base == "/" {
		return ""
	}
	for _, ext := range []string{".exe", ".bat", ".cmd", ".com"} {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// isPipeToShell detects piped-to-shell patterns like "curl ... | sh" or "wget ... | bash".
func isPipeToShell(cmd string) bool {
	if !strings.Contains(cmd, "|") {
		return false
	}
	shells := []string{"sh", "bash", "zsh", "fish"}
	downloaders := []string{"curl", "wget"}

	hasDownloader := false
	for _, d := range downloaders {
		if strings.Contains(cmd, d) {
			hasDownloader = true
			break
		}
	}
	if !hasDownloader {
		return false
	}

	parts := strings.Split(cmd, "|")
	for i := 1; i < len(parts); i++ {
		trimmed := strings.TrimSpace(parts[i])
		for _, s := range shells {
			if trimmed == s || strings.HasPrefix(trimmed, s+" ") {
				return true
			}
		}
	}
	return false
}
