// Package alert posts governance decisions to webhook endpoints.
package alert

import (
	"fmt"
	"strings"

	"github.com/ppiankov/toolgate/internal/audit"
)

// Config defines a webhook alert destination.
type Config struct {
	URL     string            `mapstructure:"url"     yaml:"url"     json:"url"`
	Format  string            `mapstructure:"format"  yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `mapstructure:"events"  yaml:"events"  json:"events"` // decisions or stages, e.g. ["block"], ["injection", "ratelimit"]
	Headers map[string]string `mapstructure:"headers" yaml:"headers" json:"headers"`
}

// Validate checks a destination. An empty Events list means "block".
func (c Config) Validate() error {
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("alert url %q must be http or https", c.URL)
	}
	switch c.Format {
	case "", "generic", "slack", "pagerduty":
	default:
		return fmt.Errorf("alert format %q (must be generic, slack, or pagerduty)", c.Format)
	}
	return nil
}

// Event is the payload sent to webhook endpoints.
type Event struct {
	Timestamp  string `json:"timestamp"`
	DecisionID string `json:"decision_id"`
	Identity   string `json:"identity"`
	Session    string `json:"session,omitempty"`
	Tool       string `json:"tool"`
	Decision   string `json:"decision"`
	Stage      string `json:"stage"`
	Reason     string `json:"reason"`
	RuleID     string `json:"rule_id,omitempty"`
	PolicyHash string `json:"policy_hash,omitempty"`
}

// FromRecord builds an alert event from an audit record.
func FromRecord(r audit.Record) Event {
	return Event{
		Timestamp:  r.Timestamp,
		DecisionID: r.DecisionID,
		Identity:   r.Identity,
		Session:    r.Session,
		Tool:       r.Tool,
		Decision:   r.Decision,
		Stage:      r.Stage,
		Reason:     r.Reason,
		RuleID:     r.RuleID,
		PolicyHash: r.PolicyHash,
	}
}
