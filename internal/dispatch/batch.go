package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/skillgate/internal/model"
	"github.com/ppiankov/skillgate/internal/policy"
	"github.com/ppiankov/skillgate/internal/registry"
)

// SubmitBatch submits requests concurrently, at most parallelism at a
// time (0 means unbounded). Results are returned in request order. One
// request's failure does not stop the others.
func (d *Dispatcher) SubmitBatch(ctx context.Context, reqs []model.Request, parallelism int) []model.Result {
	results := make([]model.Result, len(reqs))

	var g errgroup.Group
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = d.Submit(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Preview is what Submit would decide for a request, without executing
// it, consuming rate budget, or writing an audit entry.
type Preview struct {
	Capability string            `json:"capability"`
	Allowed    bool              `json:"allowed"`
	Status     model.Status      `json:"status"`
	Reason     model.Reason      `json:"reason,omitempty"`
	Detail     string            `json:"detail"`
	Resolved   map[string]string `json:"resolved,omitempty"`
}

// Preview evaluates req against the current policy and rate windows.
func (d *Dispatcher) Preview(_ context.Context, req model.Request) Preview {
	desc, err := d.registry.Lookup(req.CapabilityName)
	if err != nil {
		return Preview{Capability: req.CapabilityName, Status: model.StatusDeniedPolicy, Reason: model.ReasonUnknownCapability, Detail: err.Error()}
	}
	p := Preview{Capability: desc.Name}

	args, err := registry.ValidateArgs(desc, req.Arguments)
	if err != nil {
		p.Status, p.Reason, p.Detail = model.StatusFailedExecution, model.ReasonOf(err), err.Error()
		return p
	}

	snap := d.policy.Snapshot()
	decision := policy.Evaluate(snap, desc, args)
	if !decision.Allowed {
		p.Status, p.Reason, p.Detail = model.StatusDeniedPolicy, decision.Reason, decision.Detail
		return p
	}
	if rc := d.limiter.Peek(desc.Name, snap.LimitFor(desc)); rc.Exceeded {
		p.Status, p.Reason, p.Detail = model.StatusDeniedRateLimit, model.ReasonRateLimitExceeded, rc.Reason
		return p
	}

	p.Allowed = true
	p.Status = model.StatusAllowedExecuted
	p.Detail = "would execute " + desc.Name
	p.Resolved = decision.Resolved
	return p
}
