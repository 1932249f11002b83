// Package local holds in-process stand-ins for the Redis-backed primitives,
// used when a single replica runs without Redis.
package local

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/premarket/internal/domain"
)

// idleTTL is how long an unused bucket is kept before it is swept.
const idleTTL = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token-bucket domain.RateLimiter keyed per client. A key
// may burst up to limit requests and refills at limit per window.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
	swept   time.Time
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether one more request for key fits the limit.
func (l *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	every := rate.Every(window / time.Duration(limit))
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(every, limit)}
		l.buckets[key] = b
	} else if b.limiter.Limit() != every || b.limiter.Burst() != limit {
		b.limiter.SetLimitAt(now, every)
		b.limiter.SetBurstAt(now, limit)
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

// sweep drops idle buckets at most once per idleTTL.
func (l *RateLimiter) sweep(now time.Time) {
	if now.Sub(l.swept) < idleTTL {
		return
	}
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > idleTTL {
			delete(l.buckets, k)
		}
	}
	l.swept = now
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
