package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	defaultMaxKeys = 10000
	defaultIdleTTL = 10 * time.Minute
)

// Limiter keeps one token bucket per key (client IP, upstream host,
// symbol and source). Buckets idle for longer than the idle TTL are
// evicted, and the least recently used bucket goes once MaxKeys is reached.
type Limiter struct {
	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
	rps     rate.Limit
	burst   int
}

type Option func(*options)

type options struct {
	maxKeys int
	idleTTL time.Duration
}

// WithMaxKeys bounds the number of tracked keys.
func WithMaxKeys(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxKeys = n
		}
	}
}

// WithIdleTTL sets how long an unused bucket is kept. It is raised to the
// full-refill time of a bucket so eviction never hands out extra tokens.
func WithIdleTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idleTTL = d
		}
	}
}

// New creates a keyed limiter refilling rps tokens per second up to burst.
// A non-positive rps disables limiting.
func New(rps float64, burst int, opts ...Option) *Limiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}

	o := options{maxKeys: defaultMaxKeys, idleTTL: defaultIdleTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if limit != rate.Inf {
		if refill := time.Duration(float64(burst) / rps * float64(time.Second)); refill > o.idleTTL {
			o.idleTTL = refill
		}
	}

	return &Limiter{
		buckets: expirable.NewLRU[string, *rate.Limiter](o.maxKeys, nil, o.idleTTL),
		rps:     limit,
		burst:   burst,
	}
}

// get returns the bucket for key and refreshes its idle deadline.
func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
	}
	l.buckets.Add(key, lim)
	return lim
}

// Allow reports whether one token can be consumed for key right now.
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// AllowAt is Allow evaluated at t, for callers that carry their own clock.
func (l *Limiter) AllowAt(key string, t time.Time) bool {
	return l.get(key).AllowN(t, 1)
}

// Wait blocks until a token for key is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	return l.get(key).Wait(ctx)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	return l.buckets.Len()
}
