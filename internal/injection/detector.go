package injection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// RegexPrefix marks a pattern as a regular expression.
// Patterns without it are case-insensitive substrings.
const RegexPrefix = "re:"

type pattern struct {
	raw   string
	lower []byte
	re    *regexp.Regexp
}

// Detector holds compiled injection patterns. It is immutable after Compile
// and safe for concurrent use.
type Detector struct {
	patterns []pattern
}

// Result lists every pattern that matched, in configured order.
type Result struct {
	Matched []string
}

// Found reports whether any pattern matched.
func (r Result) Found() bool {
	return len(r.Matched) > 0
}

// Compile builds a Detector. Duplicate and blank patterns are dropped.
// Every invalid regular expression is reported, not just the first.
func Compile(patterns []string) (*Detector, error) {
	d := &Detector{}
	seen := make(map[string]bool, len(patterns))
	var errs []error

	for i, raw := range patterns {
		if strings.TrimSpace(raw) == "" || seen[raw] {
			continue
		}
		seen[raw] = true

		if expr, ok := strings.CutPrefix(raw, RegexPrefix); ok {
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				errs = append(errs, fmt.Errorf("pattern %d %q: %w", i, raw, err))
				continue
			}
			d.patterns = append(d.patterns, pattern{raw: raw, re: re})
			continue
		}

		d.patterns = append(d.patterns, pattern{raw: raw, lower: bytes.ToLower([]byte(raw))})
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return d, nil
}

// Len returns the number of compiled patterns.
func (d *Detector) Len() int {
	if d == nil {
		return 0
	}
	return len(d.patterns)
}

// Scan checks the serialized arguments against every pattern.
//
// When the payload is JSON, decoded string values and keys are scanned too,
// so \uXXXX escapes cannot hide a phrase from substring matching.
func (d *Detector) Scan(payload []byte) Result {
	if d == nil || len(d.patterns) == 0 || len(payload) == 0 {
		return Result{}
	}

	texts := [][]byte{payload}
	if decoded := decodedStrings(payload); len(decoded) > 0 && !bytes.Equal(decoded, payload) {
		texts = append(texts, decoded)
	}

	lowered := make([][]byte, len(texts))
	for i, t := range texts {
		lowered[i] = bytes.ToLower(t)
	}

	var res Result
	for _, p := range d.patterns {
		for i := range texts {
			if p.matches(texts[i], lowered[i]) {
				res.Matched = append(res.Matched, p.raw)
				break
			}
		}
	}
	return res
}

func (p pattern) matches(text, lower []byte) bool {
	if p.re != nil {
		return p.re.Match(text)
	}
	return bytes.Contains(lower, p.lower)
}

// decodedStrings joins every string key and value of a JSON document with
// newlines. Returns nil when the payload is not JSON.
func decodedStrings(payload []byte) []byte {
	if !json.Valid(payload) {
		return nil
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil
	}

	var buf bytes.Buffer
	var walk func(any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			buf.WriteString(t)
			buf.WriteByte('\n')
		case []any:
			for _, e := range t {
				walk(e)
			}
		case map[string]any:
			for k, e := range t {
				buf.WriteString(k)
				buf.WriteByte('\n')
				walk(e)
			}
		}
	}
	walk(v)
	return buf.Bytes()
}
