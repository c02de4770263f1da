package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ppiankov/skillgate/internal/alert"
	"github.com/ppiankov/skillgate/internal/audit"
	"github.com/ppiankov/skillgate/internal/dispatch"
	"github.com/ppiankov/skillgate/internal/policy"
	"github.com/ppiankov/skillgate/internal/ratelimit"
	"github.com/ppiankov/skillgate/internal/registry"
	"github.com/ppiankov/skillgate/internal/skills"
	"github.com/ppiankov/skillgate/internal/undo"
)

// State file names inside the state directory.
const (
	auditFile  = "audit.jsonl"
	undoFile   = "undo.db"
	alertsFile = "alerts.yaml"
)

// gateway is a fully wired dispatcher plus the resources it owns.
type gateway struct {
	d          *dispatch.Dispatcher
	auditLog   *audit.Log
	ledger     *undo.Ledger
	stream     *audit.Stream
	notifier   *alert.Notifier
	logger     *zap.Logger
	policyPath string
	policyHash string
}

func resolvedStateDir() string {
	if stateDir != "" {
		return stateDir
	}
	return policy.DefaultDir()
}

func resolvedPolicyPath() string {
	if policyPath != "" {
		return policyPath
	}
	return filepath.Join(resolvedStateDir(), "policy.yaml")
}

func auditPath() string {
	return filepath.Join(resolvedStateDir(), auditFile)
}

// newLogger builds a zap logger on stderr. stdout stays free for MCP
// framing and command output.
func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// openGateway loads the policy, opens the audit log and undo store and
// registers the built-in capabilities.
func openGateway() (*gateway, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	dir := resolvedStateDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create state directory: %w", err)
	}

	path := resolvedPolicyPath()
	cfg, hash, err := policy.LoadConfigWithHash(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy config: %w", err)
	}

	auditLog, err := audit.Open(auditPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	store, err := undo.OpenSQLite(filepath.Join(dir, undoFile))
	if err != nil {
		auditLog.Close()
		return nil, fmt.Errorf("failed to open undo store: %w", err)
	}
	ledger := undo.New(store, undo.WithLogger(logger))

	webhooks, err := alert.LoadConfig(filepath.Join(dir, alertsFile))
	if err != nil {
		auditLog.Close()
		ledger.Close()
		return nil, err
	}
	notifier := alert.NewNotifier(webhooks, logger)

	reg := registry.New()
	if err := skills.RegisterBuiltins(reg, skills.Options{}); err != nil {
		auditLog.Close()
		ledger.Close()
		return nil, err
	}

	stream := audit.NewStream()
	d, err := dispatch.New(dispatch.Config{
		Registry: reg,
		Policy:   policy.NewStore(cfg, hash, policy.WithStateDir(dir)),
		Limiter:  ratelimit.New(),
		Ledger:   ledger,
		Recorder: audit.Tee(auditLog, stream, notifier),
		Logger:   logger,
	})
	if err != nil {
		auditLog.Close()
		ledger.Close()
		return nil, err
	}

	logger.Debug("gateway ready",
		zap.String("state_dir", dir),
		zap.String("policy", path),
		zap.String("policy_hash", hash),
		zap.Int("capabilities", reg.Len()),
		zap.Int("webhooks", len(webhooks)))

	return &gateway{
		d:          d,
		auditLog:   auditLog,
		ledger:     ledger,
		stream:     stream,
		notifier:   notifier,
		logger:     logger,
		policyPath: path,
		policyHash: hash,
	}, nil
}

// Close flushes pending alerts and releases the audit log and undo store.
func (g *gateway) Close() error {
	g.notifier.Close()
	err := errors.Join(g.ledger.Close(), g.auditLog.Close())
	_ = g.logger.Sync()
	return err
}
