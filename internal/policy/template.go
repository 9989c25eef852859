package policy

// DefaultPolicyYAML returns a commented policy for init-policy.
func DefaultPolicyYAML() string {
	return `# toolgate policy
# Generated by: toolgate init-policy
#
# Decision order (highest precedence first):
#   1. Policy fails to load or validate  -> block ("policy error")
#   2. Arguments match an injection pattern -> block
#   3. First matching rule (or default_action) blocks -> block
#   4. Rate limit exceeded -> block
#   5. Otherwise -> allow
# Set precedence: rate_limit_first to swap steps 3 and 4.

version: 1

# Applied when no rule matches. One of: allow, block.
default_action: block

# Global sliding-window limit per (identity, tool). Rules may override it.
rate_limit:
  window_seconds: 60
  max_calls: 30

# Plain strings match as case-insensitive substrings of the serialized
# arguments. Prefix with "re:" for a case-insensitive regular expression.
injection_patterns:
  - "ignore previous instructions"
  - "re:-----BEGIN [A-Z ]*PRIVATE KEY-----"

# Append the built-in prompt-override and credential patterns.
use_default_patterns: true

# Rules are evaluated in order. First match wins.
# identity_match and scope.tools accept: exact names, "*" (anything),
# "prefix*", "*suffix" and "*contains*". Matching is case-insensitive.
rules:
  - id: ops-deploy
    description: "ops may deploy, twice a minute"
    identity_match: ["ops"]
    scope:
      tools: ["deploy"]
      action: allow
    rate_limit:
      window_seconds: 60
      max_calls: 2

  - id: no-shell
    identity_match: "*"
    scope:
      tools: ["shell*", "exec"]
      action: block

  - id: read-only
    identity_match: "*"
    scope:
      tools: ["get_*", "search_*", "weather"]
      action: allow
`
}
