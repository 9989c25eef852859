// Package scenario runs scripted call sequences through a gate and compares
// the decisions with expectations.
package scenario

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/gate"
	"github.com/ppiankov/toolgate/internal/model"
)

// Epoch is the fake clock's starting time.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Run evaluates every case against the policy at policyPath with a fresh
// gate, an in-memory audit sink and a fake clock. Policy load failures are
// not errors here: the gate blocks and cases can assert on that.
func Run(s *Scenario, policyPath string, opts ...gate.Option) *RunResult {
	clk := &clock{now: Epoch}
	opts = append([]gate.Option{gate.WithSink(audit.NewMemory()), gate.WithClock(clk.Now)}, opts...)
	g := gate.New(opts...)
	defer g.Close()

	result := &RunResult{Name: s.Name, Policy: policyPath}

	for i, c := range s.Cases {
		var advance time.Duration
		if c.Advance != "" {
			d, err := time.ParseDuration(c.Advance)
			if err != nil {
				result.add(CaseResult{
					Index:    i + 1,
					Call:     1,
					Identity: c.Identity,
					Tool:     c.Tool,
					Expected: strings.ToLower(c.Expect),
					Problem:  fmt.Sprintf("invalid advance %q: %v", c.Advance, err),
				})
				continue
			}
			advance = d
		}
		clk.Advance(advance)

		repeat := c.Repeat
		if repeat < 1 {
			repeat = 1
		}
		for n := 1; n <= repeat; n++ {
			var args any
			if c.Args != nil {
				args = c.Args
			}
			res := g.Check(context.Background(), model.Request{
				Tool:       c.Tool,
				Args:       args,
				Identity:   c.Identity,
				Session:    c.Session,
				PolicyPath: policyPath,
			})
			result.add(evaluate(i+1, n, c, res))
		}
	}

	return result
}

func evaluate(index, call int, c Case, res model.CheckResult) CaseResult {
	expected, ok := model.ParseAction(c.Expect)
	cr := CaseResult{
		Index:    index,
		Call:     call,
		Identity: c.Identity,
		Tool:     c.Tool,
		Expected: strings.ToLower(c.Expect),
		Actual:   string(res.Decision()),
		Reason:   res.Reason,
	}
	switch {
	case !ok:
		cr.Problem = fmt.Sprintf("unknown expectation %q", c.Expect)
	case res.Decision() != expected:
		cr.Problem = fmt.Sprintf("expected %s, got %s", expected, res.Decision())
	case c.ReasonContains != "" && !strings.Contains(res.Reason, c.ReasonContains):
		cr.Problem = fmt.Sprintf("reason %q does not contain %q", res.Reason, c.ReasonContains)
	default:
		cr.Passed = true
	}
	return cr
}

func (r *RunResult) add(cr CaseResult) {
	r.Total++
	if cr.Passed {
		r.Passed++
	} else {
		r.Failed++
	}
	r.Cases = append(r.Cases, cr)
}

// Load parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = filepath.Base(path)
	}
	return &s, nil
}

// LoadAndRun loads a scenario file and runs it. policyPath overrides the
// scenario's own policy field; one of them must be set.
func LoadAndRun(path, policyPath string, opts ...gate.Option) (*RunResult, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	if policyPath == "" {
		if s.Policy == "" {
			return nil, fmt.Errorf("scenario %s: no policy given", path)
		}
		policyPath = s.Policy
		if !filepath.IsAbs(policyPath) {
			policyPath = filepath.Join(filepath.Dir(path), policyPath)
		}
	}

	result := Run(s, policyPath, opts...)
	result.File = path
	return result, nil
}
