// Package gate composes policy loading, scope resolution, rate limiting,
// injection screening and auditing into one decision per tool call.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/identity"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/policy"
	"github.com/ppiankov/toolgate/internal/ratelimit"
)

const tracerName = "github.com/ppiankov/toolgate/internal/gate"

// snapshot is an immutable load outcome for one policy path. Exactly one of
// compiled and err is set.
type snapshot struct {
	compiled *policy.Compiled
	err      error
	loadedAt time.Time
}

// Gate is the governance check orchestrator. It is safe for concurrent use.
type Gate struct {
	sink         audit.Sink
	limiter      *ratelimit.Limiter
	log          *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time
	auditTimeout time.Duration
	precedence   policy.Precedence

	policies sync.Map // path -> *atomic.Pointer[snapshot]
	loads    singleflight.Group

	auditFailures atomic.Int64
	warn          rate.Sometimes
}

// New builds a Gate. Without options it audits to the default slog logger,
// uses a private limiter and the global tracer provider.
func New(opts ...Option) *Gate {
	g := &Gate{
		auditTimeout: DefaultAuditTimeout,
		warn:         rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, o := range opts {
		o(g)
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	if g.sink == nil {
		g.sink = audit.NewLogger(g.log)
	}
	if g.limiter == nil {
		g.limiter = ratelimit.New()
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer(tracerName)
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Check decides whether the call may proceed. It never fails and never
// panics: any internal fault produces a block.
//
// Precedence, highest first: policy error, injection match, scope block,
// rate limit, allow. Under rate_limit_first the scope and rate limit steps
// swap.
func (g *Gate) Check(ctx context.Context, req model.Request) (res model.CheckResult) {
	ctx, span := g.tracer.Start(ctx, "toolgate.check", trace.WithAttributes(
		attribute.String("toolgate.tool", req.Tool),
		attribute.String("toolgate.identity", req.Identity),
		attribute.String("toolgate.session", req.Session),
	))
	defer span.End()

	decisionID := uuid.NewString()
	ts := g.now()
	digest := audit.Digest(nil)

	defer func() {
		if r := recover(); r != nil {
			g.log.Error("check panicked",
				slog.Any("panic", r),
				slog.String("tool", req.Tool),
				slog.String("stack", string(debug.Stack())))
			res = blocked(model.StageInternal, "internal error", res.PolicyHash)
		}
		res.DecisionID = decisionID
		res.Timestamp = ts
		g.record(ctx, req, &res, digest)
		annotate(span, res)
	}()

	return g.decide(req, ts, &digest)
}

func (g *Gate) decide(req model.Request, now time.Time, digest *string) model.CheckResult {
	payload, serr := model.SerializeArgs(req.Args)
	if serr == nil {
		*digest = audit.Digest(payload)
	}

	snap := g.current(req.PolicyPath)
	if snap.err != nil {
		return blocked(model.StagePolicy, "policy error: "+snap.err.Error(), "")
	}
	c := snap.compiled

	if serr != nil {
		return blocked(model.StageInternal, "internal error: serialize arguments: "+serr.Error(), c.Hash)
	}

	if m := c.Detector.Scan(payload); m.Found() {
		return blocked(model.StageInjection, "injection pattern: "+strings.Join(m.Matched, ", "), c.Hash)
	}

	res := identity.Resolve(c, req.Identity, req.Tool)
	limit := c.LimitFor(res.Rule)

	prec := g.precedence
	if prec == "" {
		prec = c.Precedence
	}

	scope := func() (model.CheckResult, bool) {
		if res.Action == model.Allow {
			return model.CheckResult{}, true
		}
		r := blocked(model.StageScope, res.Reason(), c.Hash)
		r.MatchedRuleID = res.RuleID()
		return r, false
	}
	admit := func() (model.CheckResult, bool) {
		if !limit.Enabled() {
			return model.CheckResult{}, true
		}
		ar := g.limiter.Admit(req.Identity, req.Tool, limit, now)
		if ar.Admitted {
			return model.CheckResult{}, true
		}
		r := blocked(model.StageRateLimit, ar.Reason(), c.Hash)
		r.MatchedRuleID = res.RuleID()
		r.RetryAfter = ar.RetryAfter
		return r, false
	}

	first, second := scope, admit
	if prec == policy.RateLimitFirst {
		first, second = admit, scope
	}
	if r, ok := first(); !ok {
		return r
	}
	if r, ok := second(); !ok {
		return r
	}

	return model.CheckResult{
		Allowed:       true,
		Reason:        res.Reason(),
		MatchedRuleID: res.RuleID(),
		Stage:         model.StageScope,
		PolicyHash:    c.Hash,
	}
}

func blocked(stage model.Stage, reason, policyHash string) model.CheckResult {
	return model.CheckResult{
		Allowed:    false,
		Reason:     reason,
		Stage:      stage,
		PolicyHash: policyHash,
	}
}

// record writes exactly one audit record. The write is detached from the
// caller's cancellation and bounded by the audit timeout. Failures never
// change the decision.
func (g *Gate) record(ctx context.Context, req model.Request, res *model.CheckResult, digest string) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.auditTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("audit sink panicked: %v", r)
			}
		}()
		return g.sink.Record(actx, audit.FromResult(req, *res, digest))
	}()
	if err == nil {
		return
	}

	n := g.auditFailures.Add(1)
	res.AuditWarning = err.Error()
	g.warn.Do(func() {
		g.log.Warn("audit write failed",
			slog.String("error", err.Error()),
			slog.String("decision_id", res.DecisionID),
			slog.Int64("failures", n))
	})
}

func annotate(span trace.Span, res model.CheckResult) {
	span.SetAttributes(
		attribute.String("toolgate.decision", string(res.Decision())),
		attribute.String("toolgate.stage", string(res.Stage)),
		attribute.String("toolgate.rule_id", res.MatchedRuleID),
		attribute.String("toolgate.decision_id", res.DecisionID),
	)
	switch res.Stage {
	case model.StagePolicy, model.StageInternal:
		span.SetStatus(codes.Error, res.Reason)
	default:
		span.SetStatus(codes.Ok, "")
	}
}

// AuditFailures returns the number of audit writes that failed or timed out.
func (g *Gate) AuditFailures() int64 {
	return g.auditFailures.Load()
}

// Limiter exposes the rate limiter, mainly so callers can run its sweeper.
func (g *Gate) Limiter() *ratelimit.Limiter {
	return g.limiter
}

// Close closes the audit sink.
func (g *Gate) Close() error {
	return g.sink.Close()
}
