// Package dispatch is the single entry point for skill invocations.
//
// Every request goes through the same pipeline: lookup, argument
// validation, policy evaluation, rate check, execution, undo recording
// and audit. Each request produces exactly one terminal Result and
// exactly one audit entry; Submit never panics.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ppiankov/skillgate/internal/audit"
	"github.com/ppiankov/skillgate/internal/model"
	"github.com/ppiankov/skillgate/internal/policy"
	"github.com/ppiankov/skillgate/internal/ratelimit"
	"github.com/ppiankov/skillgate/internal/registry"
	"github.com/ppiankov/skillgate/internal/undo"
)

// Config wires a Dispatcher. Registry and Policy are required.
type Config struct {
	Registry *registry.Registry
	Policy   *policy.Store
	Limiter  *ratelimit.Limiter
	Ledger   *undo.Ledger
	Recorder audit.Recorder
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Dispatcher orchestrates invocations.
type Dispatcher struct {
	registry *registry.Registry
	policy   *policy.Store
	limiter  *ratelimit.Limiter
	ledger   *undo.Ledger
	recorder audit.Recorder
	logger   *zap.Logger
	now      func() time.Time

	locksMu sync.Mutex
	locks   map[string]*semaphore.Weighted
}

// New creates a Dispatcher. Missing optional parts get in-memory defaults.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, errors.New("dispatch: registry is required")
	}
	if cfg.Policy == nil {
		return nil, errors.New("dispatch: policy store is required")
	}
	d := &Dispatcher{
		registry: cfg.Registry,
		policy:   cfg.Policy,
		limiter:  cfg.Limiter,
		ledger:   cfg.Ledger,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
		now:      cfg.Clock,
		locks:    make(map[string]*semaphore.Weighted),
	}
	if d.limiter == nil {
		d.limiter = ratelimit.New()
	}
	if d.ledger == nil {
		d.ledger = undo.New(nil)
	}
	if d.recorder == nil {
		d.recorder = audit.NewMemory()
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.policy.OnExpire(func(c policy.Change) { d.recordChange(model.ActorExpiry, c) })
	return d, nil
}

// Registry returns the capability registry.
func (d *Dispatcher) Registry() *registry.Registry { return d.registry }

// Policy returns the policy store.
func (d *Dispatcher) Policy() *policy.Store { return d.policy }

// Ledger returns the undo ledger.
func (d *Dispatcher) Ledger() *undo.Ledger { return d.ledger }

// Submit runs one request through the full pipeline and returns its
// terminal result. The result is audited before Submit returns.
func (d *Dispatcher) Submit(ctx context.Context, req model.Request) model.Result {
	return d.run(ctx, d.normalize(req), false)
}

// SubmitInverse runs the inverse of a recorded action. It is audited and
// policy-checked like any request, is exempt from rate limiting when the
// policy says so, and is never itself recorded as reversible.
func (d *Dispatcher) SubmitInverse(ctx context.Context, inv model.Inverse, actionID string) model.Result {
	req := d.normalize(model.Request{
		CapabilityName: inv.Capability,
		Arguments:      inv.Arguments,
		Actor:          model.ActorUndo,
	})
	res := d.run(ctx, req, true)
	res.Detail = fmt.Sprintf("undo %s: %s", actionID, res.Detail)
	return res
}

func (d *Dispatcher) normalize(req model.Request) model.Request {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = d.now()
	}
	if req.Actor == "" {
		req.Actor = model.ActorCLI
	}
	return req
}

func (d *Dispatcher) run(ctx context.Context, req model.Request, inverse bool) (res model.Result) {
	hash := ""
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("dispatch panic", zap.String("request_id", req.RequestID), zap.Any("panic", p))
			res = d.finish(req, failed(model.ReasonHandlerExecutionFailure, fmt.Sprintf("internal error: %v", p)), hash)
		}
	}()

	desc, err := d.registry.Lookup(req.CapabilityName)
	if err != nil {
		return d.finish(req, denied(model.StatusDeniedPolicy, model.ReasonUnknownCapability, err.Error()), d.policy.Snapshot().Hash)
	}
	req.CapabilityName = desc.Name

	args, err := registry.ValidateArgs(desc, req.Arguments)
	if err != nil {
		return d.finish(req, failed(model.ReasonOf(err), err.Error()), d.policy.Snapshot().Hash)
	}

	if desc.Serialized() {
		release, err := d.acquire(ctx, desc.Name)
		if err != nil {
			return d.finish(req, failed(model.ReasonCancelled, fmt.Sprintf("gave up waiting for %s: %v", desc.Name, err)), d.policy.Snapshot().Hash)
		}
		defer release()
	}

	snap := d.policy.Snapshot()
	hash = snap.Hash

	decision := policy.Evaluate(snap, desc, args)
	if !decision.Allowed {
		return d.finish(req, denied(model.StatusDeniedPolicy, decision.Reason, decision.Detail), hash)
	}

	if !(inverse && snap.ExemptUndo) {
		if rc := d.limiter.Check(desc.Name, snap.LimitFor(desc)); rc.Exceeded {
			return d.finish(req, denied(model.StatusDeniedRateLimit, model.ReasonRateLimitExceeded, rc.Reason), hash)
		}
	}

	invokeArgs := args.Clone()
	for name, p := range decision.Resolved {
		invokeArgs[name] = p
	}

	out, err := registry.Invoke(ctx, desc, invokeArgs)
	if err != nil {
		reason := model.ReasonOf(err)
		if reason == "" {
			reason = model.ReasonHandlerExecutionFailure
		}
		return d.finish(req, failed(reason, err.Error()), hash)
	}

	res = model.Result{
		Status: model.StatusAllowedExecuted,
		Detail: out.Detail,
		Data:   out.Data,
	}
	if desc.Reversible && out.Inverse != nil && !inverse {
		id, err := d.ledger.RecordReversible(context.WithoutCancel(ctx), desc.Name, *out.Inverse)
		if err != nil {
			d.logger.Warn("undo entry not recorded", zap.String("capability", desc.Name), zap.Error(err))
			res.Detail = strings.TrimSpace(res.Detail + " (undo unavailable)")
		} else {
			res.ReversibleActionID = id
		}
	}
	return d.finish(req, res, hash)
}

// finish stamps the request ID, writes the single audit entry and logs.
// An audit failure is logged and does not change the result.
func (d *Dispatcher) finish(req model.Request, res model.Result, hash string) model.Result {
	res.RequestID = req.RequestID
	if err := d.recorder.Record(audit.FromResult(req, res, hash, d.now())); err != nil {
		d.logger.Error("audit write failed",
			zap.String("request_id", req.RequestID),
			zap.String("capability", req.CapabilityName),
			zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("request_id", req.RequestID),
		zap.String("capability", req.CapabilityName),
		zap.String("actor", req.Actor),
		zap.String("status", string(res.Status)),
	}
	if res.Reason != "" {
		fields = append(fields, zap.String("reason", string(res.Reason)))
	}
	if res.Status == model.StatusAllowedExecuted {
		d.logger.Debug("invocation executed", fields...)
	} else {
		d.logger.Info("invocation refused", append(fields, zap.String("detail", res.Detail))...)
	}
	return res
}

// acquire takes the per-capability critical section.
func (d *Dispatcher) acquire(ctx context.Context, name string) (func(), error) {
	d.locksMu.Lock()
	sem, ok := d.locks[name]
	if !ok {
		sem = semaphore.NewWeighted(1)
		d.locks[name] = sem
	}
	d.locksMu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

func denied(status model.Status, reason model.Reason, detail string) model.Result {
	return model.Result{Status: status, Reason: reason, Detail: detail}
}

func failed(reason model.Reason, detail string) model.Result {
	return model.Result{Status: model.StatusFailedExecution, Reason: reason, Detail: detail}
}
