package cache

import (
	"context"
	"errors"
	"time"

	applogger "PegWatch/pkg/logger"
)

// FreshOption configures FreshCache.
type FreshOption func(*FreshCache)

// WithFreshLogger sets the logger used for backend failures.
func WithFreshLogger(l *applogger.Logger) FreshOption {
	return func(c *FreshCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithNamespace stores every key as "<ns>:<key>" and scopes Clear to them.
func WithNamespace(ns string) FreshOption {
	return func(c *FreshCache) {
		c.namespace = ns
	}
}

// FreshCache is a TTL key-value store with a kill switch. When disabled, reads
// miss and writes report failure, so callers never need to special-case it.
// Backend errors are logged and surface as misses or failed writes.
type FreshCache struct {
	backend    Service
	defaultTTL time.Duration
	enabled    bool
	namespace  string
	logger     *applogger.Logger
}

// NewFreshCache wraps a backend. A nil backend gets a private MemoryCache.
func NewFreshCache(backend Service, defaultTTL time.Duration, enabled bool, opts ...FreshOption) *FreshCache {
	if backend == nil {
		backend = NewMemoryCache()
	}
	c := &FreshCache{
		backend:    backend,
		defaultTTL: defaultTTL,
		enabled:    enabled,
		logger:     applogger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *FreshCache) Enabled() bool { return c.enabled }

func (c *FreshCache) DefaultTTL() time.Duration { return c.defaultTTL }

// Get loads key into dest and reports whether it was present.
func (c *FreshCache) Get(ctx context.Context, key string, dest interface{}) bool {
	if !c.enabled {
		return false
	}
	if err := c.backend.Get(ctx, c.scoped(key), dest); err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn("cache get failed", applogger.String("key", key), applogger.Error(err))
		}
		return false
	}
	return true
}

// Set stores value under key. The first ttl argument, when positive, overrides the default.
func (c *FreshCache) Set(ctx context.Context, key string, value interface{}, ttl ...time.Duration) bool {
	if !c.enabled {
		return false
	}
	expiration := c.defaultTTL
	if len(ttl) > 0 && ttl[0] > 0 {
		expiration = ttl[0]
	}
	if err := c.backend.Set(ctx, c.scoped(key), value, expiration); err != nil {
		c.logger.Warn("cache set failed", applogger.String("key", key), applogger.Error(err))
		return false
	}
	return true
}

func (c *FreshCache) Has(ctx context.Context, key string) bool {
	if !c.enabled {
		return false
	}
	ok, err := c.backend.Exists(ctx, c.scoped(key))
	if err != nil {
		c.logger.Warn("cache exists failed", applogger.String("key", key), applogger.Error(err))
		return false
	}
	return ok
}

// Delete removes keys and returns how many were present.
func (c *FreshCache) Delete(ctx context.Context, keys ...string) int {
	if !c.enabled || len(keys) == 0 {
		return 0
	}
	scoped := make([]string, len(keys))
	for i, k := range keys {
		scoped[i] = c.scoped(k)
	}
	n, err := c.backend.Delete(ctx, scoped...)
	if err != nil {
		c.logger.Warn("cache delete failed", applogger.Strings("keys", keys), applogger.Error(err))
	}
	return int(n)
}

// Clear removes every key in the namespace, or every key in the backend
// when no namespace is set.
func (c *FreshCache) Clear(ctx context.Context) {
	if !c.enabled {
		return
	}
	if _, err := c.backend.DeleteByPattern(ctx, BuildPattern(c.namespace)); err != nil {
		c.logger.Warn("cache clear failed", applogger.Error(err))
	}
}

func (c *FreshCache) scoped(key string) string {
	if c.namespace == "" {
		return key
	}
	return c.namespace + ":" + key
}

// GetTyped is a typed convenience over FreshCache.Get.
func GetTyped[T any](ctx context.Context, c *FreshCache, key string) (T, bool) {
	var v T
	ok := c.Get(ctx, key, &v)
	return v, ok
}
