package toolgate

import (
	"log/slog"
	"time"
)

// defaultSweepInterval is how often idle rate-limit keys are reclaimed.
const defaultSweepInterval = time.Minute

// Option configures a Guard at creation time.
type Option func(*guardConfig)

type guardConfig struct {
	policyPath  string
	auditPath   string
	identity    string
	session     string
	precedence  string
	logger      *slog.Logger
	allowBroken bool

	sweepInterval time.Duration
}

// WithPolicy sets the path to the policy file (yaml, json or toml).
func WithPolicy(path string) Option {
	return func(c *guardConfig) { c.policyPath = path }
}

// WithAuditLog appends decisions to a hash-chained JSONL file, or to SQLite
// when the path ends in .db.
func WithAuditLog(path string) Option {
	return func(c *guardConfig) { c.auditPath = path }
}

// WithIdentity sets the default caller identity.
func WithIdentity(id string) Option {
	return func(c *guardConfig) { c.identity = id }
}

// WithSession sets the session id. A random one is generated otherwise.
func WithSession(id string) Option {
	return func(c *guardConfig) { c.session = id }
}

// WithPrecedence overrides the policy's precedence ("scope_first" or
// "rate_limit_first").
func WithPrecedence(p string) Option {
	return func(c *guardConfig) { c.precedence = p }
}

// WithLogger sets the operational logger. Decisions are logged through it
// when no audit log is configured.
func WithLogger(l *slog.Logger) Option {
	return func(c *guardConfig) { c.logger = l }
}

// WithBrokenPolicy lets New succeed when the policy cannot be loaded. Every
// call is then blocked with a policy error until the file is fixed and
// Reload is called.
func WithBrokenPolicy() Option {
	return func(c *guardConfig) { c.allowBroken = true }
}

// WithSweepInterval sets how often rate-limit keys with no live timestamps
// are dropped. Zero or negative disables sweeping.
func WithSweepInterval(d time.Duration) Option {
	return func(c *guardConfig) { c.sweepInterval = d }
}

// WrapOption configures a single Wrap call.
type WrapOption func(*wrapConfig)

type wrapConfig struct {
	identity string
	tool     string
}

// WrapWithIdentity overrides the guard-level identity for this wrap.
func WrapWithIdentity(id string) WrapOption {
	return func(w *wrapConfig) { w.identity = id }
}

// WrapWithTool fixes the tool name for this wrap; Call.Tool may then be empty.
func WrapWithTool(name string) WrapOption {
	return func(w *wrapConfig) { w.tool = name }
}
