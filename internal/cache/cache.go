// Package cache memoizes costly provider responses behind a get-or-fetch
// contract with per-call TTLs.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/logger"
	"golang.org/x/sync/singleflight"
)

// TTLs are tiered by how quickly the underlying data changes.
type TTLs struct {
	Serp      time.Duration
	Reference time.Duration
	Keywords  time.Duration
}

// DefaultTTLs returns the standard freshness windows.
func DefaultTTLs() TTLs {
	return TTLs{
		Serp:      time.Hour,
		Reference: 7 * 24 * time.Hour,
		Keywords:  24 * time.Hour,
	}
}

// Config holds configuration for the cache.
type Config struct {
	// SingleFlight collapses concurrent misses on the same key into one fetch.
	SingleFlight bool
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Writes      int64 `json:"writes"`
	StoreErrors int64 `json:"store_errors"`
	Takeovers   int64 `json:"takeovers"`

	// Entries is reported for stores that can count their keys.
	Entries *int `json:"entries,omitempty"`
}

// Cache wraps a Store with get-or-fetch semantics. One instance is shared by
// every scan in the process.
type Cache struct {
	store        Store
	singleFlight bool
	group        singleflight.Group
	logger       *logger.Logger

	hits        atomic.Int64
	misses      atomic.Int64
	writes      atomic.Int64
	storeErrors atomic.Int64
	takeovers   atomic.Int64
}

// New creates a Cache on top of store.
func New(store Store, cfg *Config, log *logger.Logger) *Cache {
	if cfg == nil {
		cfg = &Config{}
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Cache{
		store:        store,
		singleFlight: cfg.SingleFlight,
		logger:       log,
	}
}

func (c *Cache) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return c.logger
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	st := Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Writes:      c.writes.Load(),
		StoreErrors: c.storeErrors.Load(),
		Takeovers:   c.takeovers.Load(),
	}
	if l, ok := c.store.(interface{ Len() int }); ok {
		n := l.Len()
		st.Entries = &n
	}
	return st
}

type fetchOptions struct {
	skipCache bool
}

// FetchOption modifies a single GetOrFetch call.
type FetchOption func(*fetchOptions)

// SkipCache bypasses both the read and the write for one call.
func SkipCache(skip bool) FetchOption {
	return func(o *fetchOptions) {
		o.skipCache = skip
	}
}

// Key builds a deterministic key from a namespace and the logical query parts.
// Identical parts always produce identical keys across processes.
func Key(namespace string, parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return namespace + ":" + hex.EncodeToString(h[:16])
}

// GetOrFetch returns the value cached under key when present and unexpired.
// Otherwise it calls fetch, stores the result for ttl and returns it. cached
// reports that this caller did not invoke fetch itself. Fetch errors are
// returned and never cached; store failures are logged and do not fail the call.
func GetOrFetch[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(ctx context.Context) (T, error), opts ...FetchOption) (value T, cached bool, err error) {
	var o fetchOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.skipCache {
		value, err = fetch(ctx)
		return value, false, err
	}

	if v, ok := lookup[T](ctx, c, key); ok {
		c.hits.Add(1)
		return v, true, nil
	}
	c.misses.Add(1)

	if !c.singleFlight {
		value, err = fetch(ctx)
		if err != nil {
			return value, false, err
		}
		c.write(ctx, key, value, ttl)
		return value, false, nil
	}

	for {
		var leader bool
		shared, err, _ := c.group.Do(key, func() (interface{}, error) {
			leader = true
			v, err := fetch(ctx)
			if err != nil {
				return v, err
			}
			c.write(ctx, key, v, ttl)
			return v, nil
		})
		if err == nil {
			return shared.(T), !leader, nil
		}
		// The leader's caller went away; a live follower fetches for itself.
		if !leader && ctx.Err() == nil && errors.Is(err, context.Canceled) {
			c.takeovers.Add(1)
			if v, ok := lookup[T](ctx, c, key); ok {
				c.hits.Add(1)
				return v, true, nil
			}
			continue
		}
		var zero T
		return zero, false, err
	}
}

func lookup[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var zero T
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.storeErrors.Add(1)
		c.log(ctx).WithError(err).WithField("cache_key", key).Warn("Cache read failed, treating as miss")
		return zero, false
	}
	if !ok {
		return zero, false
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		c.log(ctx).WithError(err).WithField("cache_key", key).Warn("Discarding undecodable cache entry")
		_ = c.store.Delete(ctx, key)
		return zero, false
	}
	return v, true
}

func (c *Cache) write(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.log(ctx).WithError(err).WithField("cache_key", key).Warn("Failed to encode cache entry")
		return
	}
	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		c.storeErrors.Add(1)
		c.log(ctx).WithError(err).WithField("cache_key", key).Warn("Cache write failed")
		return
	}
	c.writes.Add(1)
}
