package policy

import (
	"fmt"
	"strings"

	"github.com/ppiankov/toolgate/internal/injection"
	"github.com/ppiankov/toolgate/internal/model"
)

// Validate checks a loaded policy for internal consistency. It returns a
// *ValidationError listing every violation, or nil.
func Validate(p *Policy) error {
	if p == nil {
		return &ValidationError{Violations: []Violation{{Field: "policy", Reason: "missing"}}}
	}

	var vs []Violation
	add := func(field, format string, args ...any) {
		vs = append(vs, Violation{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	switch {
	case p.Version < 1:
		add("version", "must be at least 1")
	case p.Version > CurrentVersion:
		add("version", "unsupported version %d (max %d)", p.Version, CurrentVersion)
	}

	if p.DefaultAction != "" {
		if _, ok := model.ParseAction(p.DefaultAction); !ok {
			add("default_action", "unknown action %q (want allow or block)", p.DefaultAction)
		}
	}
	if len(p.Rules) == 0 && p.DefaultAction == "" {
		add("rules", "policy has no rules and no default_action")
	}

	switch Precedence(p.Precedence) {
	case "", ScopeFirst, RateLimitFirst:
	default:
		add("precedence", "unknown value %q (want %s or %s)", p.Precedence, ScopeFirst, RateLimitFirst)
	}

	validateRateLimit(p.RateLimit, "rate_limit", add)

	for i, pat := range p.InjectionPatterns {
		field := fmt.Sprintf("injection_patterns[%d]", i)
		if strings.TrimSpace(pat) == "" {
			add(field, "empty pattern")
			continue
		}
		if _, err := injection.Compile([]string{pat}); err != nil {
			add(field, "invalid regular expression: %v", err)
		}
	}

	firstSeen := make(map[string]int, len(p.Rules))
	for i, r := range p.Rules {
		prefix := fmt.Sprintf("rules[%d]", i)

		switch {
		case strings.TrimSpace(r.ID) == "":
			add(prefix+".id", "required")
		default:
			if j, dup := firstSeen[r.ID]; dup {
				add(prefix+".id", "duplicate id %q (first used by rules[%d])", r.ID, j)
			} else {
				firstSeen[r.ID] = i
			}
		}

		validatePatterns(r.IdentityMatch, prefix+".identity_match", add)
		validatePatterns(r.Scope.Tools, prefix+".scope.tools", add)

		if _, ok := model.ParseAction(r.Scope.Action); !ok {
			add(prefix+".scope.action", "unknown action %q (want allow or block)", r.Scope.Action)
		}

		validateRateLimit(r.RateLimit, prefix+".rate_limit", add)
	}

	if len(vs) > 0 {
		return &ValidationError{Violations: vs}
	}
	return nil
}

func validatePatterns(ps Patterns, field string, add func(string, string, ...any)) {
	if len(ps) == 0 {
		add(field, "must not be empty")
		return
	}
	for k, p := range ps {
		if strings.TrimSpace(p) == "" {
			add(fmt.Sprintf("%s[%d]", field, k), "empty pattern")
		}
	}
}

func validateRateLimit(r *RateLimit, field string, add func(string, string, ...any)) {
	if r == nil {
		return
	}
	if r.WindowSeconds <= 0 {
		add(field+".window_seconds", "must be positive, got %d", r.WindowSeconds)
	}
	if r.MaxCalls <= 0 {
		add(field+".max_calls", "must be positive, got %d", r.MaxCalls)
	}
}
