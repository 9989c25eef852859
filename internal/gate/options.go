package gate

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/policy"
	"github.com/ppiankov/toolgate/internal/ratelimit"
)

// DefaultAuditTimeout bounds the audit write on the check path.
const DefaultAuditTimeout = 2 * time.Second

// Option configures a Gate.
type Option func(*Gate)

// WithSink sets the audit destination. The gate closes it on Close.
func WithSink(s audit.Sink) Option {
	return func(g *Gate) { g.sink = s }
}

// WithLimiter shares a limiter between gates.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(g *Gate) { g.limiter = l }
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.log = l }
}

// WithTracer sets the tracer used for per-check spans.
func WithTracer(t trace.Tracer) Option {
	return func(g *Gate) { g.tracer = t }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithAuditTimeout bounds each audit write.
func WithAuditTimeout(d time.Duration) Option {
	return func(g *Gate) { g.auditTimeout = d }
}

// WithPrecedence overrides the precedence named in policies.
func WithPrecedence(p policy.Precedence) Option {
	return func(g *Gate) { g.precedence = p }
}
