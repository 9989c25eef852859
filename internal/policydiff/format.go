package policydiff

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders the diff result as human-readable text.
func FormatText(r *DiffResult) string {
	if !r.HasChanges {
		return fmt.Sprintf("Policy diff: %s → %s\n\nNo changes detected.\n", r.OldPath, r.NewPath)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Policy diff: %s → %s\n", r.OldPath, r.NewPath)

	scalars := filterChanges(r.Changes, false)
	patterns := filterChanges(r.Changes, true)

	if len(scalars) > 0 {
		b.WriteString("\n")
		for _, c := range scalars {
			fmt.Fprintf(&b, "  %-24s %s → %s", c.Field+":", c.Old, c.New)
			if c.Comment != "" {
				fmt.Fprintf(&b, "  (%s)", c.Comment)
			}
			b.WriteString("\n")
		}
	}

	if len(patterns) > 0 {
		b.WriteString("\n  Injection patterns:\n")
		for _, c := range patterns {
			switch c.Comment {
			case "added":
				fmt.Fprintf(&b, "    + %s\n", c.New)
			case "removed":
				fmt.Fprintf(&b, "    - %s\n", c.Old)
			}
		}
	}

	if len(r.RuleChanges) > 0 {
		b.WriteString("\n  Rules:\n")
		for _, rc := range r.RuleChanges {
			switch rc.Type {
			case "added":
				fmt.Fprintf(&b, "    + %s\n", rc.Rule)
			case "removed":
				fmt.Fprintf(&b, "    - %s\n", rc.Rule)
			case "changed":
				fmt.Fprintf(&b, "    ~ %s [%s]\n", rc.Rule, strings.Join(rc.Fields, ", "))
			case "moved":
				fmt.Fprintf(&b, "    ↕ %s\n", rc.Rule)
			}
		}
	}

	return b.String()
}

// FormatJSON renders the diff result as JSON.
func FormatJSON(r *DiffResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal diff result: %w", err)
	}
	return string(data), nil
}

// FormatPatch renders only the RFC 6902 patch.
func FormatPatch(r *DiffResult) (string, error) {
	data, err := json.MarshalIndent(r.Patch, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal patch: %w", err)
	}
	return string(data), nil
}

func filterChanges(changes []Change, patterns bool) []Change {
	var out []Change
	for _, c := range changes {
		if (c.Field == "injection_patterns") == patterns {
			out = append(out, c)
		}
	}
	return out
}
