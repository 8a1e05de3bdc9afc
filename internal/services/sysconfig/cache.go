// Package sysconfig is a TTL read-through cache over the key/value
// system-configuration store. Operators change settings rarely; the engine
// reads them on every delivery, so reads are served from memory and go back
// to the store only when the cached value ages out.
package sysconfig

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/lumipay/reconciliation-service/internal/domain"
	"github.com/lumipay/reconciliation-service/internal/domain/ports"
	"github.com/lumipay/reconciliation-service/pkg/timeutil"
)

// Well-known configuration keys
const (
	KeyOrderTimeoutMinutes = "payment.order_timeout"
	KeyAutoMatchEnabled    = "payment.auto_match_enabled"
	KeyCallbackRetryTimes  = "payment.callback_retry_times"
	KeyCallbackTimeout     = "payment.callback_timeout"
	KeyRateLimitEnabled    = "security.rate_limit_enabled"
	KeyMaxRequestsPerMin   = "security.max_requests_per_minute"
)

// DefaultTTL is how long a cached value is trusted
const DefaultTTL = 5 * time.Minute

var (
	// No labels on hits: the hot path should not allocate.
	configCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "config_cache_hits_total",
		Help: "Total number of system-config cache hits",
	})

	configCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "config_cache_misses_total",
		Help: "Total number of system-config cache misses",
	}, []string{"reason"}) // expired, not_cached, error
)

type cacheEntry struct {
	expiresAt time.Time
	value     string
	found     bool
}

// Cache is a read-through TTL cache over a ConfigStore. Absent keys are
// cached too, so a missing optional setting does not hit the store on every
// read.
type Cache struct {
	store   ports.ConfigStore
	clock   timeutil.Clock
	logger  *zap.Logger
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// Option configures a Cache
type Option func(*Cache)

// WithClock overrides the clock used for expiry decisions
func WithClock(clock timeutil.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

// WithTTL overrides the cache TTL
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// NewCache creates a Cache over the given store
func NewCache(store ports.ConfigStore, logger *zap.Logger, opts ...Option) *Cache {
	c := &Cache{
		store:   store,
		clock:   timeutil.SystemClock{},
		logger:  logger,
		ttl:     DefaultTTL,
		entries: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key, reading through to the store when the
// cached value is missing or stale
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	now := c.clock.Now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		if now.Before(entry.expiresAt) {
			configCacheHits.Inc()
			return entry.value, entry.found, nil
		}
		configCacheMisses.WithLabelValues("expired").Inc()
	} else {
		configCacheMisses.WithLabelValues("not_cached").Inc()
	}

	value, found, err := c.store.GetValue(ctx, key)
	if err != nil {
		configCacheMisses.WithLabelValues("error").Inc()
		return "", false, domain.WrapError(domain.ErrorCodeStorageError, "read system config", err)
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, found: found, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	return value, found, nil
}

// GetInt returns the integer value for key, or fallback when the key is
// absent or malformed
func (c *Cache) GetInt(ctx context.Context, key string, fallback int) int {
	value, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		c.logger.Warn("non-integer system config value",
			zap.String("key", key),
			zap.String("value", value),
		)
		return fallback
	}
	return n
}

// GetBool returns the boolean value for key, or fallback when absent or
// malformed
func (c *Cache) GetBool(ctx context.Context, key string, fallback bool) bool {
	value, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

// Set writes through to the store and refreshes the cached value
func (c *Cache) Set(ctx context.Context, key, value string) error {
	if err := c.store.SetValue(ctx, key, value); err != nil {
		return domain.WrapError(domain.ErrorCodeStorageError, "write system config", err)
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, found: true, expiresAt: c.clock.Now().Add(c.ttl)}
	c.mu.Unlock()

	c.logger.Info("system config updated", zap.String("key", key))
	return nil
}

// Invalidate drops one key from the cache
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll drops every cached value
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()

	c.logger.Info("system config cache cleared")
}
