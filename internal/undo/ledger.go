// Package undo records reversible actions and replays their inverses.
//
// An entry is consumed at most once, and only after its inverse executes
// successfully; a failed inverse leaves the entry available for retry.
package undo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/skillgate/internal/model"
)

// Executor runs an inverse invocation through the normal dispatch path.
type Executor interface {
	SubmitInverse(ctx context.Context, inv model.Inverse, actionID string) model.Result
}

// Ledger tracks reversible actions on top of a Store.
type Ledger struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	inflight map[string]bool
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(led *Ledger) {
		if l != nil {
			led.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(led *Ledger) { led.now = now }
}

// New creates a Ledger. A nil store means an in-memory store.
func New(store Store, opts ...Option) *Ledger {
	if store == nil {
		store = NewMemoryStore()
	}
	l := &Ledger{
		store:    store,
		logger:   zap.NewNop(),
		now:      time.Now,
		inflight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordReversible stores inv as the way to undo an action of capability
// and returns the new action ID.
func (l *Ledger) RecordReversible(ctx context.Context, capability string, inv model.Inverse) (string, error) {
	e := Entry{
		ActionID:   uuid.NewString(),
		Capability: capability,
		Inverse:    inv,
		CreatedAt:  l.now(),
	}
	if err := l.store.Put(ctx, e); err != nil {
		return "", fmt.Errorf("undo: record %s: %w", capability, err)
	}
	l.logger.Debug("reversible action recorded",
		zap.String("action_id", e.ActionID),
		zap.String("capability", capability),
		zap.String("inverse", inv.Capability))
	return e.ActionID, nil
}

// Undo runs the inverse of actionID through exec. Unknown, consumed and
// concurrently running entries are refused with UndoNotFound,
// UndoAlreadyConsumed and UndoInProgress.
func (l *Ledger) Undo(ctx context.Context, actionID string, exec Executor) model.Result {
	if !l.claim(actionID) {
		return refuse(model.ReasonUndoInProgress, fmt.Sprintf("undo of %q is already running", actionID))
	}
	defer l.release(actionID)

	e, err := l.store.Get(ctx, actionID)
	if err != nil {
		return refuseErr(err)
	}
	if e.Consumed {
		return refuse(model.ReasonUndoAlreadyConsumed, fmt.Sprintf("%q was already undone", actionID))
	}

	res := exec.SubmitInverse(ctx, e.Inverse, actionID)
	if !res.OK() {
		l.logger.Info("inverse failed, entry stays available",
			zap.String("action_id", actionID),
			zap.String("status", string(res.Status)),
			zap.String("reason", string(res.Reason)))
		return res
	}

	if err := l.store.MarkConsumed(context.WithoutCancel(ctx), actionID, l.now()); err != nil {
		l.logger.Error("inverse executed but entry not marked consumed",
			zap.String("action_id", actionID), zap.Error(err))
		res.Detail = fmt.Sprintf("%s (warning: %v)", res.Detail, err)
	}
	return res
}

// Last returns the newest unconsumed entry for capability ("" = any).
func (l *Ledger) Last(ctx context.Context, capability string) (Entry, error) {
	return l.store.Last(ctx, capability)
}

// Recent returns up to n entries, newest first.
func (l *Ledger) Recent(ctx context.Context, n int) ([]Entry, error) {
	return l.store.Recent(ctx, n)
}

// Get returns one entry.
func (l *Ledger) Get(ctx context.Context, actionID string) (Entry, error) {
	return l.store.Get(ctx, actionID)
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}

func (l *Ledger) claim(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inflight[id] {
		return false
	}
	l.inflight[id] = true
	return true
}

func (l *Ledger) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inflight, id)
}

func refuse(reason model.Reason, detail string) model.Result {
	return model.Result{Status: model.StatusDeniedPolicy, Reason: reason, Detail: detail}
}

func refuseErr(err error) model.Result {
	reason := model.ReasonOf(err)
	if reason == "" {
		return model.Result{Status: model.StatusFailedExecution, Reason: model.ReasonHandlerExecutionFailure, Detail: err.Error()}
	}
	return refuse(reason, err.Error())
}
