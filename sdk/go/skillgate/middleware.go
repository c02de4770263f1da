package skillgate

import (
	"encoding/json"
	"net/http"

	"github.com/ppiankov/skillgate/internal/model"
)

type invokeBody struct {
	Capability string         `json:"capability"`
	Arguments  map[string]any `json:"arguments"`
	RequestID  string         `json:"request_id"`
	DryRun     bool           `json:"dry_run"`
}

// Handler returns an http.Handler that accepts POSTed invocations
// ({"capability": ..., "arguments": {...}}) and answers with the Result as
// JSON. Denials get 403 (policy) or 429 (rate limit); failures get 422.
func (c *Client) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}

		var body invokeBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body: " + err.Error()})
			return
		}
		if body.Capability == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "capability is required"})
			return
		}

		if body.DryRun {
			check := c.Check(body.Capability, body.Arguments)
			writeJSON(w, statusCode(check.Status), check)
			return
		}

		res := toResult(c.d.Submit(r.Context(), model.Request{
			CapabilityName: body.Capability,
			Arguments:      body.Arguments,
			RequestID:      body.RequestID,
			Actor:          c.cfg.actor,
		}))
		writeJSON(w, statusCode(res.Status), res)
	})
}

func statusCode(s Status) int {
	switch s {
	case Executed:
		return http.StatusOK
	case DeniedPolicy:
		return http.StatusForbidden
	case DeniedRate:
		return http.StatusTooManyRequests
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
