package skillgate

import (
	"fmt"

	"github.com/ppiankov/skillgate/internal/audit"
	"github.com/ppiankov/skillgate/internal/dispatch"
	"github.com/ppiankov/skillgate/internal/model"
)

// Status is the terminal outcome of an invocation.
type Status string

const (
	Executed      Status = Status(model.StatusAllowedExecuted)
	DeniedPolicy  Status = Status(model.StatusDeniedPolicy)
	DeniedRate    Status = Status(model.StatusDeniedRateLimit)
	FailedExecute Status = Status(model.StatusFailedExecution)
)

// AuditEntry is one record of the hash-chained audit trail.
type AuditEntry = audit.Entry

// Result is the answer for one invocation.
type Result struct {
	RequestID string         `json:"request_id"`
	Status    Status         `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	Detail    string         `json:"detail"`
	ActionID  string         `json:"action_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// OK returns true if the capability executed.
func (r Result) OK() bool {
	return r.Status == Executed
}

// Reversible returns true if the action can be undone with Undo(r.ActionID).
func (r Result) Reversible() bool {
	return r.ActionID != ""
}

// Err returns nil for executed results, *BlockedError for denials and
// *FailedError for execution failures.
func (r Result) Err() error {
	switch r.Status {
	case Executed:
		return nil
	case DeniedPolicy, DeniedRate:
		return &BlockedError{Status: r.Status, Reason: r.Reason, Detail: r.Detail}
	default:
		return &FailedError{Reason: r.Reason, Detail: r.Detail}
	}
}

// Check is a dry-run evaluation: what Invoke would decide right now.
type Check struct {
	Allowed  bool              `json:"allowed"`
	Status   Status            `json:"status"`
	Reason   string            `json:"reason,omitempty"`
	Detail   string            `json:"detail"`
	Resolved map[string]string `json:"resolved,omitempty"`
}

// BlockedError is returned when policy or rate limits refuse an invocation.
type BlockedError struct {
	Capability string
	Status     Status
	Reason     string
	Detail     string
}

func (e *BlockedError) Error() string {
	if e.Capability != "" {
		return fmt.Sprintf("skillgate blocked %s (%s): %s", e.Capability, e.Reason, e.Detail)
	}
	return fmt.Sprintf("skillgate blocked (%s): %s", e.Reason, e.Detail)
}

// FailedError is returned when a capability was allowed but did not succeed.
type FailedError struct {
	Capability string
	Reason     string
	Detail     string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("skillgate %s failed (%s): %s", e.Capability, e.Reason, e.Detail)
}

func toResult(r model.Result) Result {
	return Result{
		RequestID: r.RequestID,
		Status:    Status(r.Status),
		Reason:    string(r.Reason),
		Detail:    r.Detail,
		ActionID:  r.ReversibleActionID,
		Data:      r.Data,
	}
}

func toCheck(p dispatch.Preview) Check {
	return Check{
		Allowed:  p.Allowed,
		Status:   Status(p.Status),
		Reason:   string(p.Reason),
		Detail:   p.Detail,
		Resolved: p.Resolved,
	}
}
