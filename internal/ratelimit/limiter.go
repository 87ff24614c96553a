// Package ratelimit provides an in-process sliding-log rate limiter.
//
// Each key keeps the timestamps of its admitted requests inside the trailing
// window. Keys whose timestamps have all aged out are pruned on a ticker and
// whenever the key count crosses a high-water mark, so memory stays bounded
// by the number of clients active within one window. After each prune the
// inline trigger moves to twice the surviving key count, so a flood of
// distinct live keys costs amortized constant work per new key.
//
// The limiter is local to one process. It makes no attempt at cross-instance
// consistency.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Defaults match the public chat endpoint.
const (
	DefaultWindow        = 60 * time.Second
	DefaultMax           = 20
	DefaultPruneInterval = 60 * time.Second
	DefaultHighWater     = 10000
)

// Config configures a Limiter. Zero values take the defaults.
type Config struct {
	Window        time.Duration
	Max           int
	PruneInterval time.Duration
	HighWater     int
}

// Result is the outcome of an admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is set only when Allowed is false.
	RetryAfter time.Duration
	// ResetAt is when the oldest timestamp leaves the window.
	ResetAt time.Time
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (r Result) RetryAfterSeconds() int {
	s := int(math.Ceil(r.RetryAfter.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

type bucket struct {
	mu     sync.Mutex
	events []time.Time
	// dead is set under mu when the bucket has been removed from the map;
	// callers holding a stale pointer must look the key up again.
	dead bool
}

// Limiter is a sliding-log limiter keyed by an arbitrary string.
type Limiter struct {
	window        time.Duration
	max           int
	pruneInterval time.Duration
	highWater     int
	now           func() time.Time

	mu      sync.RWMutex
	buckets map[string]*bucket
	// nextPrune is the key count that triggers the next inline prune.
	nextPrune int
}

// New creates a limiter.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultPruneInterval
	}
	if cfg.HighWater <= 0 {
		cfg.HighWater = DefaultHighWater
	}

	l := &Limiter{
		window:        cfg.Window,
		max:           cfg.Max,
		pruneInterval: cfg.PruneInterval,
		highWater:     cfg.HighWater,
		now:           time.Now,
		buckets:       make(map[string]*bucket),
		nextPrune:     cfg.HighWater,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the configured maximum per window.
func (l *Limiter) Limit() int {
	return l.max
}

// Allow records an attempt for key and reports whether it is admitted.
func (l *Limiter) Allow(key string) Result {
	for {
		b := l.bucketFor(key)

		b.mu.Lock()
		if b.dead {
			b.mu.Unlock()
			continue
		}
		res := l.admitLocked(b)
		b.mu.Unlock()
		return res
	}
}

func (l *Limiter) admitLocked(b *bucket) Result {
	now := l.now()
	cutoff := now.Add(-l.window)

	kept := b.events[:0]
	for _, t := range b.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.events = kept

	if len(b.events) >= l.max {
		oldest := b.events[0]
		return Result{
			Allowed:    false,
			Limit:      l.max,
			Remaining:  0,
			RetryAfter: oldest.Add(l.window).Sub(now),
			ResetAt:    oldest.Add(l.window),
		}
	}

	b.events = append(b.events, now)
	return Result{
		Allowed:   true,
		Limit:     l.max,
		Remaining: l.max - len(b.events),
		ResetAt:   b.events[0].Add(l.window),
	}
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[key]; ok {
		return b
	}
	if len(l.buckets) >= l.nextPrune {
		l.pruneLocked()
	}
	b = &bucket{events: make([]time.Time, 0, 4)}
	l.buckets[key] = b
	return b
}

// Prune removes every key whose timestamps have all aged out and returns
// how many were removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked()
}

func (l *Limiter) pruneLocked() int {
	cutoff := l.now().Add(-l.window)
	removed := 0
	for key, b := range l.buckets {
		b.mu.Lock()
		expired := true
		for _, t := range b.events {
			if t.After(cutoff) {
				expired = false
				break
			}
		}
		if expired {
			b.dead = true
			delete(l.buckets, key)
			removed++
		}
		b.mu.Unlock()
	}
	l.nextPrune = max(l.highWater, 2*len(l.buckets))
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// Run prunes on the configured interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Prune()
		}
	}
}
