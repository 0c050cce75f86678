// internal/cache/cache.go
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pagescout/pagescout/api/schemas"
	"github.com/pagescout/pagescout/internal/config"
)

// LoadFunc produces the result for a missing key. A non-nil error means the
// result must not be cached; an unsuccessful result with a nil error is cached
// with the failure TTL.
type LoadFunc func(ctx context.Context) (schemas.ScrapeResult, error)

type entry struct {
	result    schemas.ScrapeResult
	expiresAt time.Time // zero means never
}

type flightValue struct {
	result schemas.ScrapeResult
	hit    bool
}

// Cache is the process-wide store of scrape results, shared by all sessions.
// It is bounded (least recently used entries are evicted first), expires
// entries lazily and collapses concurrent loads of the same key.
type Cache struct {
	mu         sync.Mutex
	entries    *lru.Cache[Key, entry]
	flight     singleflight.Group
	ttl        time.Duration
	failureTTL time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// New creates a cache from its configuration.
func New(cfg config.CacheConfig, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache configuration: %w", err)
	}

	c := &Cache{
		ttl:        cfg.TTL,
		failureTTL: cfg.FailureTTL,
		now:        time.Now,
		logger:     logger.Named("cache"),
	}
	entries, err := lru.NewWithEvict[Key, entry](cfg.MaxEntries, func(k Key, _ entry) {
		c.logger.Debug("Evicted cache entry", zap.String("url", k.URL), zap.Int("depth", k.Depth))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU: %w", err)
	}
	c.entries = entries
	return c, nil
}

// Get returns a copy of the live entry for key. Expired entries are removed
// and reported as absent.
func (c *Cache) Get(key Key) (schemas.ScrapeResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(key)
	if !ok {
		return schemas.ScrapeResult{}, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.entries.Remove(key)
		return schemas.ScrapeResult{}, false
	}
	return e.result.Clone(), true
}

// Put stores result under the configured TTL. Unsuccessful results expire
// after the failure TTL when that is shorter.
func (c *Cache) Put(key Key, result schemas.ScrapeResult) {
	ttl := c.ttl
	if !result.Success && c.failureTTL > 0 && (ttl == 0 || c.failureTTL < ttl) {
		ttl = c.failureTTL
	}
	c.PutWithTTL(key, result, ttl)
}

// PutWithTTL stores result with an explicit TTL. Zero means no expiry.
func (c *Cache) PutWithTTL(key Key, result schemas.ScrapeResult, ttl time.Duration) {
	e := entry{result: result.Clone()}
	e.result.FromCache = false
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.entries.Add(key, e)
	c.mu.Unlock()
}

// Invalidate drops key.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	c.entries.Remove(key)
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries.Purge()
	c.mu.Unlock()
}

// Size returns the number of stored entries, including expired ones not yet
// removed.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Do returns the cached result for key, or runs load exactly once for all
// concurrent callers missing the same key. shared reports that the result was
// produced by another caller's load, hit that it came from the cache.
//
// load runs with the context of the caller that started it. Waiters stop
// waiting when their own ctx is done. A load error is returned only to the
// caller whose load produced it; waiters of a failed flight retry with their
// own load.
func (c *Cache) Do(ctx context.Context, key Key, load LoadFunc) (result schemas.ScrapeResult, shared bool, hit bool, err error) {
	for {
		if r, ok := c.Get(key); ok {
			return r, false, true, nil
		}

		var led atomic.Bool
		ch := c.flight.DoChan(key.String(), func() (interface{}, error) {
			led.Store(true)
			// A load for this key may have finished between our Get and DoChan.
			if r, ok := c.Get(key); ok {
				return flightValue{result: r, hit: true}, nil
			}
			r, err := load(ctx)
			if err != nil {
				return nil, err
			}
			c.Put(key, r)
			return flightValue{result: r}, nil
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return schemas.ScrapeResult{}, false, false, ctx.Err()
		case res = <-ch:
		}

		leader := led.Load()
		if res.Err != nil {
			if leader {
				return schemas.ScrapeResult{}, false, false, res.Err
			}
			if ctx.Err() != nil {
				return schemas.ScrapeResult{}, false, false, ctx.Err()
			}
			c.logger.Debug("Shared load failed, retrying with own loader",
				zap.String("url", key.URL), zap.Error(res.Err))
			continue
		}
		v := res.Val.(flightValue)
		return v.result.Clone(), !leader, v.hit, nil
	}
}
