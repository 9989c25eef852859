package policy

import (
	"fmt"
	"strings"
)

// LoadErrorKind classifies why a policy document could not be loaded.
type LoadErrorKind string

const (
	NotFound    LoadErrorKind = "not_found"
	Malformed   LoadErrorKind = "malformed"
	Unsupported LoadErrorKind = "unsupported"
)

// LoadError reports a policy that could not be read or parsed.
type LoadError struct {
	Kind LoadErrorKind
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("policy %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("policy %s %s: %v", e.Path, e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Violation is one field-level problem found by Validate.
type Violation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (v Violation) String() string {
	return v.Field + ": " + v.Reason
}

// ValidationError lists every violation in a policy.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "policy invalid: " + strings.Join(parts, "; ")
}
