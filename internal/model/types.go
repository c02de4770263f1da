package model

import "time"

// Status is the terminal outcome of one invocation request.
type Status string

const (
	StatusAllowedExecuted Status = "allowed_executed"
	StatusDeniedPolicy    Status = "denied_policy"
	StatusDeniedRateLimit Status = "denied_ratelimit"
	StatusFailedExecution Status = "failed_execution"

	// StatusPolicyChanged is only used for administrative audit records.
	StatusPolicyChanged Status = "policy_changed"
)

// Denied returns true for statuses produced before any handler ran.
func (s Status) Denied() bool {
	return s == StatusDeniedPolicy || s == StatusDeniedRateLimit
}

// Actor identifies who submitted a request.
const (
	ActorUI   = "ui"
	ActorLLM  = "llm"
	ActorCLI  = "cli"
	ActorUndo = "undo"

	// ActorExpiry marks policy changes the gateway makes on its own, such
	// as privileged mode running out.
	ActorExpiry = "expiry"
)

// Request is one structured skill invocation. Callers build it per call;
// the dispatcher never retains it after returning a Result.
type Request struct {
	CapabilityName string         `json:"capability"`
	Arguments      map[string]any `json:"arguments"`
	RequestID      string         `json:"request_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Actor          string         `json:"actor,omitempty"`
}

// Result is the terminal answer for a Request.
type Result struct {
	RequestID          string         `json:"request_id"`
	Status             Status         `json:"status"`
	Reason             Reason         `json:"reason,omitempty"`
	Detail             string         `json:"detail"`
	ReversibleActionID string         `json:"reversible_action_id,omitempty"`
	Data               map[string]any `json:"data,omitempty"`
}

// OK returns true if the capability executed successfully.
func (r Result) OK() bool {
	return r.Status == StatusAllowedExecuted
}

// Inverse describes the invocation that reverses a previously executed action.
type Inverse struct {
	Capability string         `json:"capability"`
	Arguments  map[string]any `json:"arguments"`
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool
	Reason  Reason
	Detail  string

	// Resolved maps path-like argument names to the resolved paths that
	// were checked. Handlers receive these instead of the raw input.
	Resolved map[string]string
}

// Allow returns an allowing Decision.
func Allow(resolved map[string]string) Decision {
	return Decision{Allowed: true, Resolved: resolved}
}

// Deny returns a denying Decision with a human-readable detail.
func Deny(reason Reason, detail string) Decision {
	return Decision{Reason: reason, Detail: detail}
}
