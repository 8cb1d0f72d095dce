// Package ratelimit provides the advisory per-caller rate limiter used by
// the submit path and the HTTP layer. State is in-process and approximate
// and does not survive a restart.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is the capability the core depends on. Implementations own their
// state and expose an explicit reset so they can be swapped for a
// distributed limiter without touching call sites.
type Limiter interface {
	Allow(key string) bool
	Reset()
	Close()
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// TokenBucket keeps one token bucket per key with TTL-based eviction on a
// background sweep.
type TokenBucket struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	limit rate.Limit
	burst int
	ttl   time.Duration

	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

var _ Limiter = (*TokenBucket)(nil)

// NewTokenBucket builds a limiter allowing perMinute events per key with the
// given burst. Idle keys are evicted after ttl by a low-priority sweep.
func NewTokenBucket(perMinute, burst int, ttl time.Duration) *TokenBucket {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = perMinute
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	tb := &TokenBucket{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		ttl:     ttl,
		ticker:  time.NewTicker(time.Minute),
		done:    make(chan struct{}),
	}
	go tb.sweep()
	return tb
}

// Allow reports whether the caller identified by key may proceed.
func (tb *TokenBucket) Allow(key string) bool {
	if key == "" {
		key = "unknown"
	}
	tb.mu.Lock()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(tb.limit, tb.burst)}
		tb.buckets[key] = b
	}
	b.seen = time.Now()
	tb.mu.Unlock()
	return b.lim.Allow()
}

// Reset drops all per-key state.
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	tb.buckets = make(map[string]*bucket)
	tb.mu.Unlock()
}

// Close stops the background sweep. Safe to call more than once.
func (tb *TokenBucket) Close() {
	tb.once.Do(func() {
		tb.ticker.Stop()
		close(tb.done)
	})
}

func (tb *TokenBucket) sweep() {
	for {
		select {
		case <-tb.done:
			return
		case <-tb.ticker.C:
			now := time.Now()
			tb.mu.Lock()
			for k, b := range tb.buckets {
				if now.Sub(b.seen) > tb.ttl {
					delete(tb.buckets, k)
				}
			}
			tb.mu.Unlock()
		}
	}
}

// Unlimited never refuses. Used in tests and when limiting is disabled.
type Unlimited struct{}

func (Unlimited) Allow(string) bool { return true }
func (Unlimited) Reset()            {}
func (Unlimited) Close()            {}
