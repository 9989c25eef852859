package ratelimit

import (
	"fmt"
	"math"
	"time"
)

// Result is the outcome of an admission check.
type Result struct {
	Admitted   bool
	Count      int // calls inside the window, including this one when admitted
	Limit      int
	RetryAfter time.Duration
}

// Reason renders a denial for humans. Empty when admitted.
func (r Result) Reason() string {
	if r.Admitted {
		return ""
	}
	return fmt.Sprintf("rate limit exceeded, retry after %ds", RetrySeconds(r.RetryAfter))
}

// RetrySeconds rounds a retry hint up to whole seconds, minimum 1.
func RetrySeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// Admit decides whether a call for (identity, tool) fits within limit at now.
//
// Timestamps at or before now-Window are evicted first. If fewer than
// MaxCalls remain, now is recorded and the call is admitted. Otherwise the
// call is denied and RetryAfter is the time until the oldest timestamp
// leaves the window, which is always positive. Eviction, the count and the
// record happen under one lock, so two concurrent calls cannot both take
// the last slot.
func (l *Limiter) Admit(identity, tool string, limit Limit, now time.Time) Result {
	if !limit.Enabled() {
		return Result{Admitted: true}
	}

	k := key(identity, tool)
	for {
		w := l.entry(k)
		w.mu.Lock()
		if w.dead {
			w.mu.Unlock()
			continue
		}
		res := w.admit(limit, now)
		w.mu.Unlock()
		return res
	}
}

func (w *window) admit(limit Limit, now time.Time) Result {
	w.evict(now.Add(-limit.Window))
	w.span = limit.Window

	if len(w.stamps) >= limit.MaxCalls {
		return Result{
			Count:      len(w.stamps),
			Limit:      limit.MaxCalls,
			RetryAfter: w.stamps[0].Add(limit.Window).Sub(now),
		}
	}

	w.insert(now)
	return Result{
		Admitted: true,
		Count:    len(w.stamps),
		Limit:    limit.MaxCalls,
	}
}
