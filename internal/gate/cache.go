package gate

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/ppiankov/toolgate/internal/policy"
)

func (g *Gate) slot(path string) *atomic.Pointer[snapshot] {
	if v, ok := g.policies.Load(path); ok {
		return v.(*atomic.Pointer[snapshot])
	}
	v, _ := g.policies.LoadOrStore(path, new(atomic.Pointer[snapshot]))
	return v.(*atomic.Pointer[snapshot])
}

// current returns the snapshot for path, loading it on first use.
// Concurrent first uses share one load. A failed load is cached so every
// later check fails closed until Reload succeeds.
func (g *Gate) current(path string) *snapshot {
	p := g.slot(path)
	if s := p.Load(); s != nil {
		return s
	}

	v, _, _ := g.loads.Do(path, func() (any, error) {
		if s := p.Load(); s != nil {
			return s, nil
		}
		s := g.load(path)
		if !p.CompareAndSwap(nil, s) {
			return p.Load(), nil
		}
		if s.err != nil {
			g.log.Error("policy load failed", slog.String("path", path), slog.String("error", s.err.Error()))
		} else {
			g.log.Info("policy loaded", slog.String("path", path), slog.String("hash", s.compiled.Hash))
		}
		return s, nil
	})
	return v.(*snapshot)
}

func (g *Gate) load(path string) *snapshot {
	c, err := policy.LoadCompiled(path)
	if err != nil {
		return &snapshot{err: err, loadedAt: g.now()}
	}
	return &snapshot{compiled: c, loadedAt: g.now()}
}

// Reload re-reads the policy at path and swaps it in atomically. On failure
// a previously good snapshot stays active and the error is returned; a path
// with no good snapshot keeps failing closed with the new error.
func (g *Gate) Reload(path string) error {
	s := g.load(path)
	p := g.slot(path)
	if s.err != nil {
		if old := p.Load(); old == nil || old.err != nil {
			p.Store(s)
		}
		g.log.Warn("policy reload failed", slog.String("path", path), slog.String("error", s.err.Error()))
		return s.err
	}
	old := p.Swap(s)
	if old == nil || old.compiled == nil || old.compiled.Hash != s.compiled.Hash {
		g.log.Info("policy reloaded", slog.String("path", path), slog.String("hash", s.compiled.Hash))
	}
	return nil
}

// Install registers an already compiled policy under key. Requests whose
// PolicyPath equals key use it without touching the filesystem.
func (g *Gate) Install(key string, c *policy.Compiled) error {
	if c == nil {
		return errors.New("install: nil policy")
	}
	g.slot(key).Store(&snapshot{compiled: c, loadedAt: g.now()})
	return nil
}

// Invalidate drops the cached snapshot for path; the next check reloads it.
func (g *Gate) Invalidate(path string) {
	g.policies.Delete(path)
}

// Policy returns the active snapshot for path, loading it if needed.
func (g *Gate) Policy(path string) (*policy.Compiled, error) {
	s := g.current(path)
	return s.compiled, s.err
}
