package policy

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/skillgate/internal/denylist"
	"github.com/ppiankov/skillgate/internal/model"
	"github.com/ppiankov/skillgate/internal/ratelimit"
	"github.com/ppiankov/skillgate/internal/registry"
)

// Snapshot is an immutable, compiled view of the policy at one moment.
// Evaluate reads only from a Snapshot, so a decision never sees a
// half-applied change.
type Snapshot struct {
	Roots             []string
	BlockedExtensions []string
	Privileged        bool
	PrivilegedUntil   time.Time
	RateLimits        ratelimit.Config
	ExemptUndo        bool
	StateDir          string
	Hash              string

	extensions map[string]bool
	safe       map[string]bool
	denylist   *denylist.Denylist
}

func compile(cfg *Config, hash, stateDir string, until time.Time) *Snapshot {
	s := &Snapshot{
		BlockedExtensions: normalizeExtensions(cfg.BlockedExtensions),
		Privileged:        cfg.PrivilegedMode,
		PrivilegedUntil:   until,
		RateLimits:        cfg.Clone().RateLimits,
		ExemptUndo:        cfg.ExemptUndoFromRateLimit,
		Hash:              hash,
		extensions:        make(map[string]bool),
		safe:              make(map[string]bool),
		denylist: denylist.New(denylist.Patterns{
			Files:    cfg.ProtectedFiles,
			Programs: cfg.BlockedPrograms,
			Commands: cfg.BlockedCommands,
		}),
	}
	for _, e := range s.BlockedExtensions {
		s.extensions[e] = true
	}
	for _, p := range cfg.SafePrograms {
		if n := denylist.ProgramName(p); n != "" {
			s.safe[n] = true
		}
	}
	for _, r := range cfg.AllowedRoots {
		resolved, err := ResolvePath(r)
		if err != nil {
			continue
		}
		s.Roots = append(s.Roots, resolved)
	}
	if stateDir != "" {
		if resolved, err := ResolvePath(stateDir); err == nil {
			s.StateDir = resolved
		}
	}
	return s
}

// LimitFor returns the effective rate limit for d: the policy override if
// one exists, otherwise the descriptor's own.
func (s *Snapshot) LimitFor(d registry.Descriptor) ratelimit.Limit {
	return s.RateLimits.Resolve(d.Name, d.Limit())
}

// Protected returns the denylist file patterns in effect.
func (s *Snapshot) Protected() []string {
	return s.denylist.Patterns().Files
}

// Evaluate applies the policy rules to one invocation, first denial wins:
//
//  0. unresolvable path -> InvalidArgument
//  1. path-sensitive and outside every allowed root -> PathNotWhitelisted;
//     state dir or protected glob -> PathProtected
//  2. blocked extension, blocked command or program outside the safe list
//     while unprivileged -> ExtensionBlocked / CommandBlocked
//  3. destructive, unprivileged and not safe-destructive -> DestructiveActionRequiresPrivilege
//
// On allow, the decision carries the resolved path for every path argument.
func Evaluate(s *Snapshot, d registry.Descriptor, args registry.Args) model.Decision {
	names := d.PathArgs()
	resolved := make(map[string]string, len(names))
	for _, name := range names {
		raw := args.String(name)
		if raw == "" {
			continue
		}
		resolve := ResolvePath
		if spec, _ := d.Arg(name); spec.NoFollow {
			resolve = ResolveLink
		}
		p, err := resolve(raw)
		if err != nil {
			return model.Deny(model.ReasonInvalidArgument, fmt.Sprintf("%s: cannot resolve %q: %v", name, raw, err))
		}
		resolved[name] = p
	}

	if d.PathSensitive {
		for _, name := range names {
			p, ok := resolved[name]
			if ok && !s.underRoot(p) {
				return model.Deny(model.ReasonPathNotWhitelisted, fmt.Sprintf("%s: %s is outside allowed roots", name, p))
			}
		}
	}

	for _, name := range names {
		p, ok := resolved[name]
		if !ok {
			continue
		}
		if s.StateDir != "" && within(s.StateDir, p) {
			return model.Deny(model.ReasonPathProtected, fmt.Sprintf("%s: %s is inside the gateway state directory", name, p))
		}
		if blocked, why := s.denylist.IsFileBlocked(p); blocked {
			return model.Deny(model.ReasonPathProtected, fmt.Sprintf("%s: %s (%s)", name, p, why))
		}
	}

	if !s.Privileged {
		for _, name := range names {
			p, ok := resolved[name]
			if !ok {
				continue
			}
			if ext := strings.ToLower(filepath.Ext(p)); ext != "" && s.extensions[ext] {
				return model.Deny(model.ReasonExtensionBlocked, fmt.Sprintf("%s: extension %s is blocked", name, ext))
			}
		}
		if reason, blocked := s.commandBlocked(d, args); blocked {
			return model.Deny(model.ReasonCommandBlocked, reason)
		}
	}

	if d.Destructive && !s.Privileged && !d.SafeDestructive {
		return model.Deny(model.ReasonDestructiveRequiresPrivilege, fmt.Sprintf("%s is destructive and privileged mode is off", d.Name))
	}

	return model.Allow(resolved)
}

func (s *Snapshot) underRoot(p string) bool {
	for _, root := range s.Roots {
		if within(root, p) {
			return true
		}
	}
	return false
}

func (s *Snapshot) commandBlocked(d registry.Descriptor, args registry.Args) (string, bool) {
	var extra []string
	for _, a := range d.Args {
		if a.Type == registry.ArgStringList {
			extra = append(extra, args.Strings(a.Name)...)
		}
	}
	for _, name := range d.CommandArgs() {
		program := args.String(name)
		if program == "" {
			continue
		}
		if blocked, why := s.denylist.IsCommandBlocked(program, extra); blocked {
			return fmt.Sprintf("%s: %s", name, why), true
		}
		if strings.ContainsAny(program, `/\`) {
			return fmt.Sprintf("%s: %s must be a bare name from safe_programs", name, program), true
		}
		if n := denylist.ProgramName(program); !s.safe[n] {
			return fmt.Sprintf("%s: %s is not in safe_programs", name, n), true
		}
	}
	return "", false
}

// Status is a printable summary of a Snapshot.
type Status struct {
	AllowedRoots      []string         `json:"allowed_roots"`
	BlockedExtensions []string         `json:"blocked_extensions"`
	ProtectedFiles    []string         `json:"protected_files"`
	PrivilegedMode    bool             `json:"privileged_mode"`
	PrivilegedUntil   *time.Time       `json:"privileged_until,omitempty"`
	SafePrograms      []string         `json:"safe_programs"`
	RateLimits        ratelimit.Config `json:"rate_limits,omitempty"`
	PolicyHash        string           `json:"policy_hash"`
}

// Status summarizes s for transports and the CLI.
func (s *Snapshot) Status() Status {
	st := Status{
		AllowedRoots:      append([]string(nil), s.Roots...),
		BlockedExtensions: append([]string(nil), s.BlockedExtensions...),
		ProtectedFiles:    s.Protected(),
		PrivilegedMode:    s.Privileged,
		RateLimits:        s.RateLimits,
		PolicyHash:        s.Hash,
	}
	for p := range s.safe {
		st.SafePrograms = append(st.SafePrograms, p)
	}
	sort.Strings(st.BlockedExtensions)
	sort.Strings(st.SafePrograms)
	if !s.PrivilegedUntil.IsZero() {
		until := s.PrivilegedUntil
		st.PrivilegedUntil = &until
	}
	return st
}
