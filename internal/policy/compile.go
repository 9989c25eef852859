package policy

import (
	"encoding/json"
	"fmt"

	"github.com/ppiankov/toolgate/internal/injection"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/ratelimit"
)

// CompiledRule is a validated rule with its action parsed.
type CompiledRule struct {
	ID            string
	IdentityMatch []string
	Tools         []string
	Action        model.Action
	Limit         ratelimit.Limit
	HasLimit      bool
}

// Compiled is a validated, immutable policy snapshot. It is shared
// read-only by concurrent checks; nothing may modify it after Compile.
type Compiled struct {
	Version       int
	Rules         []CompiledRule
	DefaultAction model.Action
	Limit         ratelimit.Limit
	Precedence    Precedence
	Detector      *injection.Detector
	Hash          string

	source *Policy
}

// Compile validates p and builds a snapshot from a private copy of it.
// A policy with rules but no default_action blocks unmatched calls.
func Compile(p *Policy) (*Compiled, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	src := p.Clone()

	c := &Compiled{
		Version:       src.Version,
		DefaultAction: model.Block,
		Limit:         src.RateLimit.Limit(),
		Precedence:    Precedence(src.Precedence),
		source:        src,
	}
	if c.Precedence == "" {
		c.Precedence = ScopeFirst
	}
	if src.DefaultAction != "" {
		c.DefaultAction, _ = model.ParseAction(src.DefaultAction)
	}

	patterns := append([]string(nil), src.InjectionPatterns...)
	if src.UseDefaultPatterns {
		patterns = append(patterns, injection.DefaultPatterns...)
	}
	det, err := injection.Compile(patterns)
	if err != nil {
		return nil, fmt.Errorf("compile injection patterns: %w", err)
	}
	c.Detector = det

	c.Rules = make([]CompiledRule, len(src.Rules))
	for i, r := range src.Rules {
		action, _ := model.ParseAction(r.Scope.Action)
		c.Rules[i] = CompiledRule{
			ID:            r.ID,
			IdentityMatch: r.IdentityMatch,
			Tools:         r.Scope.Tools,
			Action:        action,
			Limit:         r.RateLimit.Limit(),
			HasLimit:      r.RateLimit != nil,
		}
	}

	data, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("hash policy: %w", err)
	}
	c.Hash = HashBytes(data)

	return c, nil
}

// LoadCompiled loads, validates and compiles the policy at path.
// The snapshot hash is the hash of the file bytes.
func LoadCompiled(path string) (*Compiled, error) {
	p, hash, err := LoadWithHash(path)
	if err != nil {
		return nil, err
	}
	c, err := Compile(p)
	if err != nil {
		return nil, err
	}
	c.Hash = hash
	return c, nil
}

// LimitFor returns the rate limit that applies to calls matched by r, or the
// policy-wide limit when r is nil or has no override.
func (c *Compiled) LimitFor(r *CompiledRule) ratelimit.Limit {
	if r != nil && r.HasLimit {
		return r.Limit
	}
	return c.Limit
}

// Source returns a copy of the document the snapshot was compiled from.
func (c *Compiled) Source() *Policy {
	return c.source.Clone()
}
