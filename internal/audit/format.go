package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Filter: %s | No entries found.\n", result.Filter)
	}

	var b strings.Builder

	first := formatDateRange(result.Summary.FirstTimestamp)
	last := formatTimeOnly(result.Summary.LastTimestamp)
	b.WriteString(fmt.Sprintf("Filter: %s | %s–%s UTC\n", result.Filter, first, last))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		b.WriteString(FormatEntry(e))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))

	return b.String()
}

// FormatEntry renders one entry as a timeline row.
func FormatEntry(e Entry) string {
	status := strings.ToUpper(e.Status)
	capability := truncate(e.Capability, 14)
	detail := truncate(e.Detail, 40)

	tag := ""
	switch {
	case e.Type == TypeUndo:
		tag = "  [undo]"
	case e.Type == TypePolicyChanged:
		tag = "  [policy]"
	case e.ActionID != "":
		tag = "  [undo:" + truncate(e.ActionID, 8) + "]"
	}
	if e.Reason != "" {
		detail = truncate(e.Reason+": "+e.Detail, 40)
	}

	return fmt.Sprintf("%-10s %-17s %-15s %-6s %-40s%s\n",
		formatTimeOnly(e.Timestamp), status, capability, e.Actor, detail, tag)
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s ReplaySummary) string {
	parts := []string{}
	if s.Executed > 0 {
		parts = append(parts, fmt.Sprintf("%d executed", s.Executed))
	}
	if s.DeniedPolicy > 0 {
		parts = append(parts, fmt.Sprintf("%d denied", s.DeniedPolicy))
	}
	if s.DeniedRate > 0 {
		parts = append(parts, fmt.Sprintf("%d rate-limited", s.DeniedRate))
	}
	if s.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", s.Failed))
	}
	if s.PolicyChanges > 0 {
		parts = append(parts, fmt.Sprintf("%d policy change", s.PolicyChanges))
	}
	return fmt.Sprintf("Summary: %s | Total: %d, undos: %d\n",
		strings.Join(parts, ", "), s.Total, s.Undos)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
