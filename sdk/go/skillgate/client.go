package skillgate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/skillgate/internal/audit"
	"github.com/ppiankov/skillgate/internal/dispatch"
	"github.com/ppiankov/skillgate/internal/model"
	"github.com/ppiankov/skillgate/internal/policy"
	"github.com/ppiankov/skillgate/internal/ratelimit"
	"github.com/ppiankov/skillgate/internal/registry"
	"github.com/ppiankov/skillgate/internal/skills"
	"github.com/ppiankov/skillgate/internal/undo"
)

// Client holds the dispatch pipeline for in-process invocations.
// Safe for concurrent use.
type Client struct {
	cfg      clientConfig
	d        *dispatch.Dispatcher
	ledger   *undo.Ledger
	auditLog *audit.Log
	memory   *audit.Memory
}

// New creates a Client with the given options.
func New(opts ...Option) (*Client, error) {
	cfg := clientConfig{actor: "sdk"}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	policyCfg := policy.DefaultConfig()
	hash := ""
	if cfg.policyPath != "" {
		var err error
		policyCfg, hash, err = policy.LoadConfigWithHash(cfg.policyPath)
		if err != nil {
			return nil, fmt.Errorf("skillgate: failed to load policy config: %w", err)
		}
	}
	if len(cfg.allowedRoots) > 0 {
		policyCfg.AllowedRoots = append([]string(nil), cfg.allowedRoots...)
		hash = ""
		if err := policyCfg.Validate(); err != nil {
			return nil, fmt.Errorf("skillgate: %w", err)
		}
	}

	c := &Client{cfg: cfg}
	var storeOpts []policy.StoreOption
	var recorder audit.Recorder
	var undoStore undo.Store

	if cfg.stateDir != "" {
		if err := os.MkdirAll(cfg.stateDir, 0o700); err != nil {
			return nil, fmt.Errorf("skillgate: cannot create state directory: %w", err)
		}
		storeOpts = append(storeOpts, policy.WithStateDir(cfg.stateDir))

		log, err := audit.Open(filepath.Join(cfg.stateDir, "audit.jsonl"))
		if err != nil {
			return nil, fmt.Errorf("skillgate: failed to open audit log: %w", err)
		}
		s, err := undo.OpenSQLite(filepath.Join(cfg.stateDir, "undo.db"))
		if err != nil {
			log.Close()
			return nil, fmt.Errorf("skillgate: failed to open undo store: %w", err)
		}
		c.auditLog = log
		recorder = log
		undoStore = s
	} else {
		c.memory = audit.NewMemory()
		recorder = c.memory
		undoStore = undo.NewMemoryStore()
	}
	c.ledger = undo.New(undoStore, undo.WithLogger(cfg.logger))

	reg := registry.New()
	if !cfg.noBuiltins {
		if err := skills.RegisterBuiltins(reg, skills.Options{Disable: cfg.disable}); err != nil {
			c.Close()
			return nil, fmt.Errorf("skillgate: %w", err)
		}
	}

	d, err := dispatch.New(dispatch.Config{
		Registry: reg,
		Policy:   policy.NewStore(policyCfg, hash, storeOpts...),
		Limiter:  ratelimit.New(),
		Ledger:   c.ledger,
		Recorder: recorder,
		Logger:   cfg.logger,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("skillgate: %w", err)
	}
	c.d = d
	return c, nil
}

// Invoke submits one invocation and waits for its result.
func (c *Client) Invoke(ctx context.Context, capability string, args map[string]any) Result {
	return toResult(c.d.Submit(ctx, model.Request{
		CapabilityName: capability,
		Arguments:      args,
		Actor:          c.cfg.actor,
	}))
}

// Check evaluates policy and rate limits without executing or auditing.
func (c *Client) Check(capability string, args map[string]any) Check {
	return toCheck(c.d.Preview(context.Background(), model.Request{
		CapabilityName: capability,
		Arguments:      args,
	}))
}

// Undo reverses the action recorded under actionID. Each action can be
// undone at most once.
func (c *Client) Undo(ctx context.Context, actionID string) Result {
	return toResult(c.d.Undo(ctx, actionID, c.cfg.actor))
}

// UndoLast reverses the most recent reversible action, optionally
// restricted to one capability.
func (c *Client) UndoLast(ctx context.Context, capability string) Result {
	return toResult(c.d.UndoLast(ctx, capability, c.cfg.actor))
}

// SetPrivileged toggles privileged mode. A positive ttl switches it off
// again after that long.
func (c *Client) SetPrivileged(enabled bool, ttl time.Duration) {
	c.d.SetPrivilegedMode(c.cfg.actor, enabled, ttl)
}

// Capabilities returns the registered capability names.
func (c *Client) Capabilities() []string {
	return c.d.Registry().Names()
}

// AuditTrail returns the in-memory audit entries. It is empty when the
// client persists to a state directory; use the audit log file instead.
func (c *Client) AuditTrail() []AuditEntry {
	if c.memory == nil {
		return nil
	}
	return c.memory.Entries()
}

// Close releases the undo store and audit log.
func (c *Client) Close() error {
	var errs []error
	if c.ledger != nil {
		errs = append(errs, c.ledger.Close())
	}
	if c.auditLog != nil {
		errs = append(errs, c.auditLog.Close())
	}
	return errors.Join(errs...)
}
