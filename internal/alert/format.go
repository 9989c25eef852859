package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event Event) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event Event) ([]byte, error) {
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("toolgate: %s %s", event.Decision, event.Tool),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Identity:* %s", event.Identity)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Tool:* %s", event.Tool)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Stage:* %s", event.Stage)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event Event) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"dedup_key":    event.DecisionID,
		"payload": map[string]any{
			"summary":  fmt.Sprintf("toolgate %s: %s called %s", event.Decision, event.Identity, event.Tool),
			"severity": severityFor(event),
			"source":   "toolgate",
			"custom_details": map[string]any{
				"identity":    event.Identity,
				"session":     event.Session,
				"tool":        event.Tool,
				"stage":       event.Stage,
				"reason":      event.Reason,
				"rule_id":     event.RuleID,
				"decision_id": event.DecisionID,
				"policy_hash": event.PolicyHash,
			},
		},
	}
	return json.Marshal(payload)
}

func severityFor(event Event) string {
	if event.Decision != "block" {
		return "info"
	}
	switch event.Stage {
	case "injection":
		return "critical"
	case "policy", "internal":
		return "error"
	default:
		return "warning"
	}
}
