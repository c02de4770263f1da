package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ppiankov/skillgate/internal/policy"
)

// DefaultDebounce is how long the reloader waits after the last change.
const DefaultDebounce = 500 * time.Millisecond

// reloadActor is the audit actor for file-triggered policy changes.
const reloadActor = "reload"

// PolicyReloader applies a freshly loaded policy. *dispatch.Dispatcher
// implements it.
type PolicyReloader interface {
	ReloadPolicy(actor string, cfg *policy.Config, hash string) (policy.Change, error)
}

// Reloader watches the policy file for changes and triggers hot-reload.
type Reloader struct {
	watcher  *fsnotify.Watcher
	target   PolicyReloader
	path     string
	logger   *zap.Logger
	debounce time.Duration
	lastHash string
}

// NewReloader creates a file watcher for the policy file at path. The
// parent directory is watched so editors that replace the file by rename
// are picked up too.
func NewReloader(target PolicyReloader, path, currentHash string, logger *zap.Logger) (*Reloader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}

	return &Reloader{
		watcher:  watcher,
		target:   target,
		path:     abs,
		logger:   logger,
		debounce: DefaultDebounce,
		lastHash: currentHash,
	}, nil
}

// SetDebounce overrides DefaultDebounce. Call before Run.
func (r *Reloader) SetDebounce(d time.Duration) {
	r.debounce = d
}

// Run watches for file changes and reloads policy. Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case <-fire:
			r.reload()

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(r.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

// reload runs on the Run goroutine only.
func (r *Reloader) reload() {
	if _, err := os.Stat(r.path); err != nil {
		r.logger.Warn("policy file unavailable, keeping current policy", zap.String("path", r.path), zap.Error(err))
		return
	}
	cfg, hash, err := policy.LoadConfigWithHash(r.path)
	if err != nil {
		r.logger.Error("hot-reload failed, keeping current policy", zap.String("path", r.path), zap.Error(err))
		return
	}
	if hash == r.lastHash {
		return
	}
	if _, err := r.target.ReloadPolicy(reloadActor, cfg, hash); err != nil {
		r.logger.Error("hot-reload rejected", zap.String("path", r.path), zap.Error(err))
		return
	}
	r.lastHash = hash
	r.logger.Info("hot-reload: policy reloaded", zap.String("policy_hash", hash))
}
