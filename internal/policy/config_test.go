package policy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/toolgate/internal/model"
)

func writePolicy(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func loadErrKind(t *testing.T, err error) LoadErrorKind {
	t.Helper()
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LoadError, got %T: %v", err, err)
	}
	return le.Kind
}

const opsYAML = `
version: 1
default_action: block
rules:
  - id: ops-deploy
    identity_match: ops
    scope:
      tools: [deploy]
      action: allow
    rate_limit:
      window_seconds: 60
      max_calls: 2
`

func TestLoadYAML(t *testing.T) {
	p, err := Load(writePolicy(t, "policy.yaml", opsYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Version != 1 || p.DefaultAction != "block" {
		t.Errorf("unexpected header: %+v", p)
	}
	if len(p.Rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(p.Rules))
	}
	r := p.Rules[0]
	if r.ID != "ops-deploy" {
		t.Errorf("expected ops-deploy, got %s", r.ID)
	}
	if len(r.IdentityMatch) != 1 || r.IdentityMatch[0] != "ops" {
		t.Errorf("expected scalar identity_match to become [ops], got %v", r.IdentityMatch)
	}
	if r.RateLimit == nil || r.RateLimit.MaxCalls != 2 || r.RateLimit.WindowSeconds != 60 {
		t.Errorf("unexpected rate limit %+v", r.RateLimit)
	}
}

func TestLoadJSON(t *testing.T) {
	content := `{
  "version": 1,
  "default_action": "allow",
  "rules": [
    {"id": "r1", "identity_match": ["a", "b"], "scope": {"tools": "x", "action": "block"}}
  ]
}`
	p, err := Load(writePolicy(t, "policy.json", content))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(p.Rules[0].IdentityMatch) != 2 {
		t.Errorf("expected 2 identities, got %v", p.Rules[0].IdentityMatch)
	}
	if len(p.Rules[0].Scope.Tools) != 1 || p.Rules[0].Scope.Tools[0] != "x" {
		t.Errorf("expected scalar tools to become [x], got %v", p.Rules[0].Scope.Tools)
	}
}

func TestLoadTOML(t *testing.T) {
	content := `
version = 1
default_action = "block"
injection_patterns = ["ignore previous instructions"]

[rate_limit]
window_seconds = 30
max_calls = 5

[[rules]]
id = "ops-deploy"
identity_match = "ops"

[rules.scope]
tools = ["deploy"]
action = "allow"
`
	p, err := Load(writePolicy(t, "policy.toml", content))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.RateLimit == nil || p.RateLimit.MaxCalls != 5 {
		t.Errorf("unexpected rate limit %+v", p.RateLimit)
	}
	if len(p.Rules) != 1 || p.Rules[0].Scope.Action != "allow" {
		t.Fatalf("unexpected rules %+v", p.Rules)
	}
	if p.Rules[0].IdentityMatch[0] != "ops" {
		t.Errorf("expected identity ops, got %v", p.Rules[0].IdentityMatch)
	}
}

func TestLoadNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/policy.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if kind := loadErrKind(t, err); kind != NotFound {
		t.Errorf("expected NotFound, got %s", kind)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Error("expected wrapped os.ErrNotExist")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	if kind := loadErrKind(t, err); kind != NotFound {
		t.Errorf("expected NotFound for empty path, got %s", kind)
	}
}

func TestLoadMalformed(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"garbage yaml", "p.yaml", "{{{not yaml at all"},
		{"empty", "p.yaml", "   \n"},
		{"unknown key", "p.yaml", "version: 1\ndefault_action: block\nthresholds: 3\n"},
		{"wrong type", "p.yaml", "version: one\n"},
		{"bad json", "p.json", `{"version": 1,`},
		{"unknown json key", "p.json", `{"version": 1, "default_action": "block", "extra": true}`},
		{"unknown toml key", "p.toml", "version = 1\ndefault_action = \"block\"\nmystery = 2\n"},
		{"identity map", "p.yaml", "version: 1\nrules:\n  - id: a\n    identity_match: {x: 1}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writePolicy(t, tt.file, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if kind := loadErrKind(t, err); kind != Malformed {
				t.Errorf("expected Malformed, got %s (%v)", kind, err)
			}
		})
	}
}

func TestLoadUnsupportedVersion(t *testing.T) {
	// Future documents may carry keys this build does not know.
	content := "version: 7\nfancy_new_section: {a: 1}\n"
	_, err := Load(writePolicy(t, "p.yaml", content))
	if kind := loadErrKind(t, err); kind != Unsupported {
		t.Errorf("expected Unsupported, got %s (%v)", kind, err)
	}
}

func TestLoadErrorCarriesPath(t *testing.T) {
	path := writePolicy(t, "p.yaml", "{{{")
	_, err := Load(path)
	if !strings.Contains(err.Error(), path) {
		t.Errorf("expected path in error, got %q", err)
	}
}

func TestLoadWithHashStable(t *testing.T) {
	path := writePolicy(t, "p.yaml", opsYAML)
	_, h1, err := LoadWithHash(path)
	if err != nil {
		t.Fatal(err)
	}
	_, h2, _ := LoadWithHash(path)
	if h1 != h2 {
		t.Errorf("expected stable hash, got %s and %s", h1, h2)
	}
	if !strings.HasPrefix(h1, "sha256:") || len(h1) != 7+64 {
		t.Errorf("unexpected hash format %q", h1)
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]Format{
		"a.yaml":   FormatYAML,
		"a.yml":    FormatYAML,
		"a.JSON":   FormatJSON,
		"a.toml":   FormatTOML,
		"noext":    FormatYAML,
		"dir/x.md": FormatYAML,
	}
	for path, want := range tests {
		if got := FormatFromPath(path); got != want {
			t.Errorf("FormatFromPath(%q) = %s, want %s", path, got, want)
		}
	}
}

func TestDefaultPolicyYAMLCompiles(t *testing.T) {
	p, err := Parse([]byte(DefaultPolicyYAML()), FormatYAML)
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}
	c, err := Compile(p)
	if err != nil {
		t.Fatalf("compile template: %v", err)
	}
	if c.DefaultAction != model.Block {
		t.Errorf("expected template default block, got %s", c.DefaultAction)
	}
	if c.Limit.MaxCalls != 30 || c.Limit.Window != time.Minute {
		t.Errorf("unexpected template limit %+v", c.Limit)
	}
}

func TestMarshalRoundTripAllFormats(t *testing.T) {
	p, err := Parse([]byte(DefaultPolicyYAML()), FormatYAML)
	if err != nil {
		t.Fatal(err)
	}
	orig, err := Compile(p)
	if err != nil {
		t.Fatal(err)
	}

	for _, f := range []Format{FormatYAML, FormatJSON, FormatTOML} {
		t.Run(string(f), func(t *testing.T) {
			data, err := Marshal(p, f)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			back, err := Parse(data, f)
			if err != nil {
				t.Fatalf("re-parse: %v\n%s", err, data)
			}
			c, err := Compile(back)
			if err != nil {
				t.Fatalf("re-compile: %v", err)
			}
			if c.Hash != orig.Hash {
				t.Errorf("round trip changed the policy: %s != %s", c.Hash, orig.Hash)
			}
		})
	}
}

func TestRateLimitConversion(t *testing.T) {
	var nilRL *RateLimit
	if nilRL.Limit().Enabled() {
		t.Error("nil rate limit must be disabled")
	}
	l := (&RateLimit{WindowSeconds: 60, MaxCalls: 2}).Limit()
	if l.Window != time.Minute || l.MaxCalls != 2 {
		t.Errorf("unexpected limit %+v", l)
	}
}

func TestCloneIsDeep(t *testing.T) {
	p, _ := Parse([]byte(opsYAML), FormatYAML)
	c := p.Clone()
	c.Rules[0].IdentityMatch[0] = "changed"
	c.Rules[0].RateLimit.MaxCalls = 99
	if p.Rules[0].IdentityMatch[0] != "ops" || p.Rules[0].RateLimit.MaxCalls != 2 {
		t.Error("clone shares memory with original")
	}
}
