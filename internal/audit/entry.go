package audit

import (
	"time"

	"github.com/ppiankov/skillgate/internal/model"
)

// Entry types.
const (
	TypeInvocation    = "invocation"
	TypeUndo          = "undo"
	TypePolicyChanged = "policy_changed"
)

// TimestampFormat is the layout used in audit entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Entry is one line in the hash-chained JSONL audit log.
// All fields are scalars (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing.
type Entry struct {
	Timestamp  string `json:"ts"`
	Type       string `json:"type"`
	RequestID  string `json:"request_id"`
	Capability string `json:"capability"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Detail     string `json:"detail"`
	Actor      string `json:"actor,omitempty"`
	ActionID   string `json:"action_id,omitempty"`
	PolicyHash string `json:"policy_hash"`
	PrevHash   string `json:"prev_hash"`
}

// Time parses the entry timestamp. The zero time is returned if it is malformed.
func (e Entry) Time() time.Time {
	t, _ := time.Parse(TimestampFormat, e.Timestamp)
	return t
}

// FromResult builds the record for one terminal invocation result.
func FromResult(req model.Request, res model.Result, policyHash string, at time.Time) Entry {
	typ := TypeInvocation
	if req.Actor == model.ActorUndo {
		typ = TypeUndo
	}
	return Entry{
		Timestamp:  at.UTC().Format(TimestampFormat),
		Type:       typ,
		RequestID:  res.RequestID,
		Capability: req.CapabilityName,
		Status:     string(res.Status),
		Reason:     string(res.Reason),
		Detail:     res.Detail,
		Actor:      req.Actor,
		ActionID:   res.ReversibleActionID,
		PolicyHash: policyHash,
	}
}
