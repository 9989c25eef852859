package ratelimit

import (
	"context"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"
)

const shardCount = 32

// window holds the call timestamps of one key, oldest first.
// len(stamps) never exceeds the MaxCalls of the limit it was last checked
// against, so a single key cannot grow without bound.
type window struct {
	mu     sync.Mutex
	stamps []time.Time
	span   time.Duration
	dead   bool // removed by Sweep; holders must look the key up again
}

// insert records t keeping stamps ordered. Callers may race between taking
// their timestamp and reaching the key lock, so t is not always the newest.
func (w *window) insert(t time.Time) {
	i := sort.Search(len(w.stamps), func(i int) bool { return w.stamps[i].After(t) })
	w.stamps = append(w.stamps, time.Time{})
	copy(w.stamps[i+1:], w.stamps[i:])
	w.stamps[i] = t
}

// evict drops timestamps at or before cutoff.
func (w *window) evict(cutoff time.Time) {
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(w.stamps, w.stamps[i:])
	w.stamps = w.stamps[:n]
}

type shard struct {
	mu   sync.RWMutex
	keys map[string]*window
}

// Limiter is a sliding-window rate limiter keyed by (identity, tool).
// The shard locks only guard map membership; check-and-record for a key
// runs under that key's own mutex, so unrelated keys never contend.
type Limiter struct {
	shards [shardCount]shard
}

// New creates an empty Limiter.
func New() *Limiter {
	l := &Limiter{}
	for i := range l.shards {
		l.shards[i].keys = make(map[string]*window)
	}
	return l
}

// key folds case the same way scope matching does, so every spelling that
// resolves to a rule shares that rule's quota.
func key(identity, tool string) string {
	return strings.ToLower(identity) + "\x00" + strings.ToLower(tool)
}

func (l *Limiter) shardFor(k string) *shard {
	h := fnv.New32a()
	h.Write([]byte(k))
	return &l.shards[h.Sum32()%shardCount]
}

func (l *Limiter) entry(k string) *window {
	s := l.shardFor(k)

	s.mu.RLock()
	w := s.keys[k]
	s.mu.RUnlock()
	if w != nil {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w = s.keys[k]; w == nil {
		w = &window{}
		s.keys[k] = w
	}
	return w
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.RLock()
		n += len(s.keys)
		s.mu.RUnlock()
	}
	return n
}

// Sweep removes keys with no timestamps left inside their window.
// Returns the number of keys removed.
func (l *Limiter) Sweep(now time.Time) int {
	removed := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for k, w := range s.keys {
			w.mu.Lock()
			w.evict(now.Add(-w.span))
			if len(w.stamps) == 0 {
				w.dead = true
				delete(s.keys, k)
				removed++
			}
			w.mu.Unlock()
		}
		s.mu.Unlock()
	}
	return removed
}

// Run sweeps idle keys every interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Sweep(now)
		}
	}
}
