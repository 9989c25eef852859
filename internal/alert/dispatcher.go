package alert

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ppiankov/toolgate/internal/audit"
)

const (
	// Per-destination alert throttle.
	defaultRate  = rate.Limit(1)
	defaultBurst = 10
)

type destination struct {
	cfg     Config
	limiter *rate.Limiter
}

// Dispatcher fans decisions out to matching webhooks. It implements
// audit.Sink; sends happen in the background and never fail a decision.
type Dispatcher struct {
	dests  []destination
	client *http.Client
	log    *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

var _ audit.Sink = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []Config, log *slog.Logger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		client: &http.Client{Timeout: requestTimeout},
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, c := range configs {
		d.dests = append(d.dests, destination{cfg: c, limiter: rate.NewLimiter(defaultRate, defaultBurst)})
	}
	return d
}

// Dispatch sends the event to every webhook whose Events list matches.
// Does not block the caller. Events after Close are dropped.
func (d *Dispatcher) Dispatch(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.log.Debug("alert dropped after close", slog.String("decision_id", event.DecisionID))
		return
	}
	for _, dst := range d.dests {
		if !matches(dst.cfg.Events, event) {
			continue
		}
		if !dst.limiter.Allow() {
			d.log.Debug("alert throttled", slog.String("url", dst.cfg.URL), slog.String("decision_id", event.DecisionID))
			continue
		}
		d.wg.Add(1)
		go func(cfg Config) {
			defer d.wg.Done()
			if err := Deliver(d.ctx, d.client, cfg, event); err != nil {
				d.log.Warn("alert delivery failed", slog.String("url", cfg.URL), slog.String("error", err.Error()))
			}
		}(dst.cfg)
	}
}

// Record implements audit.Sink.
func (d *Dispatcher) Record(_ context.Context, r audit.Record) error {
	d.Dispatch(FromRecord(r))
	return nil
}

// Close stops accepting events and waits for in-flight sends, giving up
// after grace. Safe to call more than once.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeGrace):
		d.cancel()
		<-done
	}
	d.cancel()
	return nil
}

func matches(events []string, event Event) bool {
	if len(events) == 0 {
		return event.Decision == "block"
	}
	for _, e := range events {
		if e == event.Decision || e == event.Stage {
			return true
		}
	}
	return false
}
