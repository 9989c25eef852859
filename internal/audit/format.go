package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/toolgate/internal/model"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	title := describeFilter(result.Filter)
	if len(result.Records) == 0 {
		return fmt.Sprintf("%s | No records found.\n", title)
	}

	var b strings.Builder

	first := formatDateRange(result.Summary.FirstTimestamp)
	last := formatTimeOnly(result.Summary.LastTimestamp)
	fmt.Fprintf(&b, "%s | %s–%s UTC\n", title, first, last)
	b.WriteString(separator + "\n")

	for _, r := range result.Records {
		b.WriteString(FormatRecord(r))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))

	return b.String()
}

// FormatRecord renders one record as a timeline line.
func FormatRecord(r Record) string {
	return fmt.Sprintf("%-10s %-6s %-14s %-16s %s\n",
		formatTimeOnly(r.Timestamp),
		strings.ToUpper(r.Decision),
		truncate(r.Identity, 14),
		truncate(r.Tool, 16),
		r.Reason)
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func describeFilter(f ReplayFilter) string {
	var parts []string
	if f.Session != "" {
		parts = append(parts, "Session: "+f.Session)
	}
	if f.Identity != "" {
		parts = append(parts, "Identity: "+f.Identity)
	}
	if f.Tool != "" {
		parts = append(parts, "Tool: "+f.Tool)
	}
	if f.Decision != "" {
		parts = append(parts, "Decision: "+f.Decision)
	}
	if len(parts) == 0 {
		return "All records"
	}
	return strings.Join(parts, " | ")
}

func formatDateRange(ts string) string {
	t, err := time.Parse(model.TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(model.TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s ReplaySummary) string {
	parts := []string{}
	if s.AllowCount > 0 {
		parts = append(parts, fmt.Sprintf("%d allow", s.AllowCount))
	}
	if s.BlockCount > 0 {
		parts = append(parts, fmt.Sprintf("%d block", s.BlockCount))
	}

	stages := make([]string, 0, len(s.ByStage))
	for stage := range s.ByStage {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	var blocked []string
	for _, stage := range stages {
		blocked = append(blocked, fmt.Sprintf("%s %d", stage, s.ByStage[stage]))
	}

	line := fmt.Sprintf("Summary: %s | %d identities", strings.Join(parts, ", "), s.Identities)
	if len(blocked) > 0 {
		line += " | blocked by " + strings.Join(blocked, ", ")
	}
	return line + "\n"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
