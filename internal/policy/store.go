package policy

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Change describes one applied policy mutation. The dispatcher turns
// every Change into a policy_changed audit record.
type Change struct {
	Field string `json:"field"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
	Hash  string `json:"policy_hash"`
}

// Detail renders the change for audit records.
func (c Change) Detail() string {
	return fmt.Sprintf("%s: %v -> %v", c.Field, c.Old, c.New)
}

// Store holds the current policy. Readers take a Snapshot; writers
// replace it atomically.
type Store struct {
	mu       sync.RWMutex
	cfg      *Config
	hash     string
	stateDir string
	until    time.Time
	snap     *Snapshot
	now      func() time.Time
	onExpire func(Change)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStateDir protects dir from every capability.
func WithStateDir(dir string) StoreOption {
	return func(s *Store) { s.stateDir = dir }
}

// WithStoreClock overrides time.Now for privileged-mode expiry.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store. A nil cfg means DefaultConfig; an empty hash
// is computed from cfg.
func NewStore(cfg *Config, hash string, opts ...StoreOption) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Store{cfg: cfg.Clone(), hash: hash, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.hash == "" {
		s.hash = HashConfig(s.cfg)
	}
	s.rebuild()
	return s
}

// OnExpire registers fn to receive the Change produced when a time-boxed
// privileged mode runs out. fn runs outside the store lock.
func (s *Store) OnExpire(fn func(Change)) {
	s.mu.Lock()
	s.onExpire = fn
	s.mu.Unlock()
}

// Snapshot returns the current policy. A time-boxed privileged mode that
// has expired is switched off before returning, and the OnExpire hook is
// told exactly once.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	snap := s.snap
	expired := s.expiredLocked()
	s.mu.RUnlock()
	if !expired {
		return snap
	}

	s.mu.Lock()
	var (
		change Change
		hook   func(Change)
	)
	if s.expiredLocked() {
		until := s.until
		s.cfg.PrivilegedMode = false
		s.until = time.Time{}
		s.hash = HashConfig(s.cfg)
		s.rebuild()
		change = Change{
			Field: "privileged_mode",
			Old:   fmt.Sprintf("true until %s", until.UTC().Format(time.RFC3339)),
			New:   false,
			Hash:  s.hash,
		}
		hook = s.onExpire
	}
	snap = s.snap
	s.mu.Unlock()

	if hook != nil {
		hook(change)
	}
	return snap
}

// Config returns a copy of the current configuration.
func (s *Store) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// StateDir returns the protected state directory, if any.
func (s *Store) StateDir() string {
	return s.stateDir
}

// SetPrivilegedMode toggles privileged mode. A positive ttl switches it
// off again automatically after ttl.
func (s *Store) SetPrivilegedMode(enabled bool, ttl time.Duration) Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg.PrivilegedMode && !s.expiredLocked()
	s.cfg.PrivilegedMode = enabled
	s.until = time.Time{}
	if enabled && ttl > 0 {
		s.until = s.now().Add(ttl)
	}
	s.hash = HashConfig(s.cfg)
	s.rebuild()

	c := Change{Field: "privileged_mode", Old: old, New: enabled, Hash: s.hash}
	if !s.until.IsZero() {
		c.New = fmt.Sprintf("true until %s", s.until.UTC().Format(time.RFC3339))
	}
	return c
}

// UpdateAllowedRoots replaces the allowed roots. Every root must resolve.
func (s *Store) UpdateAllowedRoots(roots []string) (Change, error) {
	clean := make([]string, 0, len(roots))
	for _, r := range roots {
		if _, err := ResolvePath(r); err != nil {
			return Change{}, fmt.Errorf("allowed root %q: %w", r, err)
		}
		clean = append(clean, strings.TrimSpace(r))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg.AllowedRoots
	s.cfg.AllowedRoots = clean
	s.hash = HashConfig(s.cfg)
	s.rebuild()
	return Change{Field: "allowed_roots", Old: old, New: clean, Hash: s.hash}, nil
}

// UpdateBlockedExtensions replaces the blocked extension set.
func (s *Store) UpdateBlockedExtensions(exts []string) Change {
	norm := normalizeExtensions(exts)

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg.BlockedExtensions
	s.cfg.BlockedExtensions = norm
	s.hash = HashConfig(s.cfg)
	s.rebuild()
	return Change{Field: "blocked_extensions", Old: old, New: norm, Hash: s.hash}
}

// Replace swaps in a whole configuration, typically after a file reload.
// Runtime toggles, including a privileged-mode time box, are discarded.
func (s *Store) Replace(cfg *Config, hash string) (Change, error) {
	if cfg == nil {
		return Change{}, fmt.Errorf("nil policy config")
	}
	if err := cfg.Validate(); err != nil {
		return Change{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.hash
	s.cfg = cfg.Clone()
	s.until = time.Time{}
	s.hash = hash
	if s.hash == "" {
		s.hash = HashConfig(s.cfg)
	}
	s.rebuild()
	return Change{Field: "policy", Old: old, New: s.hash, Hash: s.hash}, nil
}

func (s *Store) expiredLocked() bool {
	return s.cfg.PrivilegedMode && !s.until.IsZero() && !s.now().Before(s.until)
}

func (s *Store) rebuild() {
	s.snap = compile(s.cfg, s.hash, s.stateDir, s.until)
}
