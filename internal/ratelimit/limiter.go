package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result contains the outcome of a single Allow check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Limit     int
}

// Limiter decides whether one more request under key fits its window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// MemoryLimiter is a fixed-window counter keyed by client, for single-process deployments.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	max     int
	per     time.Duration
	now     func() time.Time
}

type bucket struct {
	ts     time.Time // window start
	tokens int       // remaining tokens
}

func NewMemoryLimiter(max int, per time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		max:     max,
		per:     per,
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.buckets[key]
	if b == nil || now.Sub(b.ts) >= l.per {
		b = &bucket{ts: now, tokens: l.max}
		l.buckets[key] = b
	}

	res := Result{Limit: l.max, ResetAt: b.ts.Add(l.per)}
	if b.tokens <= 0 {
		return res, nil
	}
	b.tokens--
	res.Allowed = true
	res.Remaining = b.tokens
	return res, nil
}

// Prune drops buckets whose window has passed.
func (l *MemoryLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for k, b := range l.buckets {
		if now.Sub(b.ts) >= l.per {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}
