package dispatch

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/skillgate/internal/audit"
	"github.com/ppiankov/skillgate/internal/model"
	"github.com/ppiankov/skillgate/internal/policy"
)

// SetPrivilegedMode toggles privileged mode. A positive ttl time-boxes it.
// Rate-limit windows are not reset by the toggle.
func (d *Dispatcher) SetPrivilegedMode(actor string, enabled bool, ttl time.Duration) policy.Change {
	c := d.policy.SetPrivilegedMode(enabled, ttl)
	d.recordChange(actor, c)
	return c
}

// UpdateAllowedRoots replaces the allowed roots.
func (d *Dispatcher) UpdateAllowedRoots(actor string, roots []string) (policy.Change, error) {
	c, err := d.policy.UpdateAllowedRoots(roots)
	if err != nil {
		return c, err
	}
	d.recordChange(actor, c)
	return c, nil
}

// UpdateBlockedExtensions replaces the blocked extension set.
func (d *Dispatcher) UpdateBlockedExtensions(actor string, exts []string) policy.Change {
	c := d.policy.UpdateBlockedExtensions(exts)
	d.recordChange(actor, c)
	return c
}

// ReloadPolicy swaps in a whole configuration, e.g. after the policy
// file changed on disk.
func (d *Dispatcher) ReloadPolicy(actor string, cfg *policy.Config, hash string) (policy.Change, error) {
	c, err := d.policy.Replace(cfg, hash)
	if err != nil {
		return c, err
	}
	d.recordChange(actor, c)
	return c, nil
}

func (d *Dispatcher) recordChange(actor string, c policy.Change) {
	if actor == "" {
		actor = model.ActorCLI
	}
	e := audit.Entry{
		Timestamp:  d.now().UTC().Format(audit.TimestampFormat),
		Type:       audit.TypePolicyChanged,
		RequestID:  uuid.NewString(),
		Capability: c.Field,
		Status:     string(model.StatusPolicyChanged),
		Detail:     c.Detail(),
		Actor:      actor,
		PolicyHash: c.Hash,
	}
	if err := d.recorder.Record(e); err != nil {
		d.logger.Error("audit write failed", zap.String("field", c.Field), zap.Error(err))
	}
	d.logger.Info("policy changed",
		zap.String("field", c.Field),
		zap.String("actor", actor),
		zap.String("policy_hash", c.Hash))
}
