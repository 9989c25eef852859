package policy

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/toolgate/internal/ratelimit"
)

// CurrentVersion is the newest policy document version this build understands.
const CurrentVersion = 1

// Precedence orders the scope and rate-limit steps of a check.
type Precedence string

const (
	// ScopeFirst checks scope before rate limiting. Scope-denied calls
	// never consume quota.
	ScopeFirst Precedence = "scope_first"
	// RateLimitFirst counts every screened call against the limit before
	// scope is consulted.
	RateLimitFirst Precedence = "rate_limit_first"
)

// RateLimit is a sliding-window budget for calls matched by a rule or,
// at the policy level, for every call.
type RateLimit struct {
	WindowSeconds int `yaml:"window_seconds" json:"window_seconds" toml:"window_seconds"`
	MaxCalls      int `yaml:"max_calls" json:"max_calls" toml:"max_calls"`
}

// Limit converts the document form to the limiter form.
func (r *RateLimit) Limit() ratelimit.Limit {
	if r == nil {
		return ratelimit.Limit{}
	}
	return ratelimit.Limit{
		Window:   time.Duration(r.WindowSeconds) * time.Second,
		MaxCalls: r.MaxCalls,
	}
}

// Scope lists the tools a rule applies to and what it does with them.
type Scope struct {
	Tools  Patterns `yaml:"tools" json:"tools" toml:"tools"`
	Action string   `yaml:"action" json:"action" toml:"action"`
}

// Rule is one governance clause. Rules are evaluated in order; first match wins.
type Rule struct {
	ID            string     `yaml:"id" json:"id" toml:"id"`
	Description   string     `yaml:"description,omitempty" json:"description,omitempty" toml:"description,omitempty"`
	IdentityMatch Patterns   `yaml:"identity_match" json:"identity_match" toml:"identity_match"`
	Scope         Scope      `yaml:"scope" json:"scope" toml:"scope"`
	RateLimit     *RateLimit `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty" toml:"rate_limit,omitempty"`
}

// Policy is the governance document.
type Policy struct {
	Version            int        `yaml:"version" json:"version" toml:"version"`
	DefaultAction      string     `yaml:"default_action,omitempty" json:"default_action,omitempty" toml:"default_action,omitempty"`
	Precedence         string     `yaml:"precedence,omitempty" json:"precedence,omitempty" toml:"precedence,omitempty"`
	RateLimit          *RateLimit `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty" toml:"rate_limit,omitempty"`
	InjectionPatterns  []string   `yaml:"injection_patterns,omitempty" json:"injection_patterns,omitempty" toml:"injection_patterns,omitempty"`
	UseDefaultPatterns bool       `yaml:"use_default_patterns,omitempty" json:"use_default_patterns,omitempty" toml:"use_default_patterns,omitempty"`
	Rules              []Rule     `yaml:"rules" json:"rules" toml:"rules"`
}

// Patterns is a list of match patterns. Documents may give a single string
// where a list is expected.
type Patterns []string

// UnmarshalYAML accepts a scalar or a sequence.
func (p *Patterns) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*p = Patterns{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*p = list
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list of strings", node.Line)
	}
}

// UnmarshalJSON accepts a string or an array of strings.
func (p *Patterns) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = Patterns{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*p = list
	return nil
}

// UnmarshalTOML accepts a string or an array of strings.
func (p *Patterns) UnmarshalTOML(v any) error {
	switch t := v.(type) {
	case string:
		*p = Patterns{t}
		return nil
	case []any:
		list := make(Patterns, 0, len(t))
		for i, e := range t {
			s, ok := e.(string)
			if !ok {
				return fmt.Errorf("element %d: expected string, got %T", i, e)
			}
			list = append(list, s)
		}
		*p = list
		return nil
	default:
		return fmt.Errorf("expected string or list of strings, got %T", v)
	}
}

// Clone returns a deep copy so a compiled snapshot cannot be changed
// through the document it was built from.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	c := *p
	c.RateLimit = cloneRateLimit(p.RateLimit)
	c.InjectionPatterns = append([]string(nil), p.InjectionPatterns...)
	c.Rules = make([]Rule, len(p.Rules))
	for i, r := range p.Rules {
		r.IdentityMatch = append(Patterns(nil), r.IdentityMatch...)
		r.Scope.Tools = append(Patterns(nil), r.Scope.Tools...)
		r.RateLimit = cloneRateLimit(r.RateLimit)
		c.Rules[i] = r
	}
	return &c
}

func cloneRateLimit(r *RateLimit) *RateLimit {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
