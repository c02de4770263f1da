package skillgate

import "go.uber.org/zap"

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	policyPath   string
	allowedRoots []string
	stateDir     string
	actor        string
	disable      []string
	noBuiltins   bool
	logger       *zap.Logger
}

// WithPolicy loads the policy from a YAML file instead of the defaults.
func WithPolicy(path string) Option {
	return func(c *clientConfig) { c.policyPath = path }
}

// WithAllowedRoots replaces the policy's allowed roots.
func WithAllowedRoots(roots ...string) Option {
	return func(c *clientConfig) { c.allowedRoots = roots }
}

// WithStateDir persists the audit log and undo ledger under dir and
// protects dir from every capability. Without it both live in memory.
func WithStateDir(dir string) Option {
	return func(c *clientConfig) { c.stateDir = dir }
}

// WithActor sets the actor recorded for Invoke calls (default "sdk").
func WithActor(actor string) Option {
	return func(c *clientConfig) { c.actor = actor }
}

// WithoutCapabilities skips the named built-in capabilities.
func WithoutCapabilities(names ...string) Option {
	return func(c *clientConfig) { c.disable = append(c.disable, names...) }
}

// WithoutBuiltins starts with an empty registry. Use Register to add capabilities.
func WithoutBuiltins() Option {
	return func(c *clientConfig) { c.noBuiltins = true }
}

// WithLogger sets the zap logger used by the dispatcher and undo ledger.
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}
