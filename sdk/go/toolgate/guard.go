package toolgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/gate"
	"github.com/ppiankov/toolgate/internal/identity"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/policy"
)

// Guard decides tool calls in-process. Safe for concurrent use.
type Guard struct {
	cfg    guardConfig
	gate   *gate.Gate
	cancel context.CancelFunc
}

// New creates a Guard. The policy is loaded immediately; a broken policy is
// an error unless WithBrokenPolicy is given.
func New(opts ...Option) (*Guard, error) {
	cfg := guardConfig{sweepInterval: defaultSweepInterval}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.policyPath == "" {
		return nil, errors.New("toolgate: policy path is required")
	}
	if cfg.session == "" {
		cfg.session = identity.NewSessionID()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	gopts := []gate.Option{gate.WithLogger(cfg.logger)}
	if cfg.precedence != "" {
		p := policy.Precedence(cfg.precedence)
		if p != policy.ScopeFirst && p != policy.RateLimitFirst {
			return nil, fmt.Errorf("toolgate: unknown precedence %q", cfg.precedence)
		}
		gopts = append(gopts, gate.WithPrecedence(p))
	}
	if cfg.auditPath != "" {
		kind := "jsonl"
		if strings.EqualFold(filepath.Ext(cfg.auditPath), ".db") {
			kind = "sqlite"
		}
		sink, err := audit.OpenSink(kind, cfg.auditPath, cfg.logger)
		if err != nil {
			return nil, fmt.Errorf("toolgate: failed to open audit log: %w", err)
		}
		gopts = append(gopts, gate.WithSink(sink))
	}

	g := &Guard{cfg: cfg, gate: gate.New(gopts...)}
	if _, err := g.gate.Policy(cfg.policyPath); err != nil && !cfg.allowBroken {
		g.gate.Close()
		return nil, fmt.Errorf("toolgate: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	go g.gate.Limiter().Run(ctx, cfg.sweepInterval)
	return g, nil
}

// Check decides a call without executing anything. The decision is audited
// and counts against rate limits.
func (g *Guard) Check(ctx context.Context, call Call) Result {
	return toResult(g.gate.Check(ctx, g.request(call)))
}

// Reload re-reads the policy file. A failed reload keeps the previous policy.
func (g *Guard) Reload() error {
	return g.gate.Reload(g.cfg.policyPath)
}

// Session returns the session id stamped on audit records.
func (g *Guard) Session() string {
	return g.cfg.session
}

// Close stops the limiter sweep, then flushes and closes the audit log.
func (g *Guard) Close() error {
	g.cancel()
	return g.gate.Close()
}

func (g *Guard) request(call Call) model.Request {
	req := model.Request{
		Tool:       call.Tool,
		Args:       call.Args,
		Identity:   call.Identity,
		Session:    call.Session,
		PolicyPath: g.cfg.policyPath,
	}
	if req.Identity == "" {
		req.Identity = g.cfg.identity
	}
	if req.Session == "" {
		req.Session = g.cfg.session
	}
	return req
}

// ToolFunc is the function signature that Wrap guards.
type ToolFunc func(ctx context.Context, call Call) (any, error)

// Wrap returns a new ToolFunc that runs the governance check before calling
// fn. A blocked call returns a *BlockedError and fn is not called.
func (g *Guard) Wrap(fn ToolFunc, opts ...WrapOption) ToolFunc {
	var wcfg wrapConfig
	for _, o := range opts {
		o(&wcfg)
	}

	return func(ctx context.Context, call Call) (any, error) {
		if wcfg.tool != "" {
			call.Tool = wcfg.tool
		}
		if call.Identity == "" {
			call.Identity = wcfg.identity
		}

		res := g.Check(ctx, call)
		if !res.Allowed() {
			return nil, &BlockedError{Call: call, Result: res}
		}
		return fn(ctx, call)
	}
}
