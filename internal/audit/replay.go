package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/skillgate/internal/model"
)

// ReplayFilter holds filtering criteria for replay. Empty fields match
// everything.
type ReplayFilter struct {
	RequestID  string
	Capability string
	Status     string
	From       time.Time // zero value = no lower bound
	To         time.Time // zero value = no upper bound
}

func (f ReplayFilter) match(e Entry) bool {
	if f.RequestID != "" && e.RequestID != f.RequestID {
		return false
	}
	if f.Capability != "" && !strings.EqualFold(e.Capability, f.Capability) {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		ts, err := time.Parse(TimestampFormat, e.Timestamp)
		if err != nil {
			return false
		}
		if !f.From.IsZero() && ts.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && ts.After(f.To) {
			return false
		}
	}
	return true
}

// ReplaySummary holds status counts and time bounds for replayed entries.
type ReplaySummary struct {
	Total          int    `json:"total"`
	Executed       int    `json:"executed"`
	DeniedPolicy   int    `json:"denied_policy"`
	DeniedRate     int    `json:"denied_ratelimit"`
	Failed         int    `json:"failed"`
	Undos          int    `json:"undos"`
	PolicyChanges  int    `json:"policy_changes"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
}

// ReplayResult holds filtered entries and their summary.
type ReplayResult struct {
	Filter  string        `json:"filter"`
	Entries []Entry       `json:"entries"`
	Summary ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns entries matching the filter.
// Malformed lines are skipped; use Verify to detect them.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{Filter: filter.String()}

	scanner := newScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if !filter.match(entry) {
			continue
		}
		result.Entries = append(result.Entries, entry)
		updateSummary(&result.Summary, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	return result, nil
}

// Tail returns the last n entries of the log, oldest first.
func Tail(path string, n int) ([]Entry, error) {
	result, err := Replay(path, ReplayFilter{})
	if err != nil {
		return nil, err
	}
	if n > 0 && len(result.Entries) > n {
		return result.Entries[len(result.Entries)-n:], nil
	}
	return result.Entries, nil
}

// String describes the filter for display.
func (f ReplayFilter) String() string {
	var parts []string
	if f.RequestID != "" {
		parts = append(parts, "request="+f.RequestID)
	}
	if f.Capability != "" {
		parts = append(parts, "capability="+f.Capability)
	}
	if f.Status != "" {
		parts = append(parts, "status="+f.Status)
	}
	if !f.From.IsZero() {
		parts = append(parts, "from="+f.From.UTC().Format(time.RFC3339))
	}
	if !f.To.IsZero() {
		parts = append(parts, "to="+f.To.UTC().Format(time.RFC3339))
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, " ")
}

func updateSummary(s *ReplaySummary, entry Entry) {
	s.Total++

	switch model.Status(entry.Status) {
	case model.StatusAllowedExecuted:
		s.Executed++
	case model.StatusDeniedPolicy:
		s.DeniedPolicy++
	case model.StatusDeniedRateLimit:
		s.DeniedRate++
	case model.StatusFailedExecution:
		s.Failed++
	}

	switch entry.Type {
	case TypeUndo:
		s.Undos++
	case TypePolicyChanged:
		s.PolicyChanges++
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = entry.Timestamp
	}
	s.LastTimestamp = entry.Timestamp
}
