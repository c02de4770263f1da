package alert

import (
	"encoding/json"
	"fmt"

	"github.com/ppiankov/skillgate/internal/audit"
	"github.com/ppiankov/skillgate/internal/redact"
)

// Event is the generic webhook payload.
type Event struct {
	Timestamp  string `json:"timestamp"`
	Type       string `json:"type"`
	RequestID  string `json:"request_id"`
	Capability string `json:"capability"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Detail     string `json:"detail"`
	Actor      string `json:"actor,omitempty"`
	ActionID   string `json:"action_id,omitempty"`
	PolicyHash string `json:"policy_hash"`
}

// EventFromEntry builds the payload for e. The detail is redacted.
func EventFromEntry(e audit.Entry) Event {
	return Event{
		Timestamp:  e.Timestamp,
		Type:       e.Type,
		RequestID:  e.RequestID,
		Capability: e.Capability,
		Status:     e.Status,
		Reason:     e.Reason,
		Detail:     redact.Text(e.Detail),
		Actor:      e.Actor,
		ActionID:   e.ActionID,
		PolicyHash: e.PolicyHash,
	}
}

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	default:
		return json.Marshal(event)
	}
}

func formatSlack(event Event) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Capability:* %s", event.Capability)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Actor:* %s", event.Actor)},
	}
	if event.Reason != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)})
	}
	fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Detail:* %s", event.Detail)})

	payload := map[string]any{
		"text": fmt.Sprintf("skillgate: %s %s", event.Status, event.Capability),
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("skillgate: %s", event.Status),
				},
			},
			map[string]any{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	return json.Marshal(payload)
}
