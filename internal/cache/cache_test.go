// internal/cache/cache_test.go
package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/pagescout/pagescout/api/schemas"
	"github.com/pagescout/pagescout/internal/config"
)

// -- Test Setup Helpers --

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func setupCache(t *testing.T, cfg config.CacheConfig) (*Cache, *fakeClock) {
	t.Helper()
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 16
	}
	c, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c.now = clock.Now
	return c, clock
}

func okResult(url string) schemas.ScrapeResult {
	return schemas.ScrapeResult{
		URL:      url,
		Title:    "Example",
		Success:  true,
		Elements: []schemas.ElementRecord{{Selector: "#a", Tag: "a", Kind: schemas.KindLink}},
	}
}

func keyFor(url string) Key {
	return NewKey(url, 0, schemas.ScrapeOptions{})
}

// -- Key Tests --

func TestFingerprint(t *testing.T) {
	t.Run("is stable and fixed length", func(t *testing.T) {
		opts := schemas.ScrapeOptions{IncludeHidden: true, MaxElements: 100}
		assert.Equal(t, Fingerprint(opts), Fingerprint(opts))
		assert.Len(t, Fingerprint(opts), fingerprintLen)
	})

	t.Run("zero limits and explicit defaults are equivalent", func(t *testing.T) {
		explicit := schemas.ScrapeOptions{MaxElements: schemas.DefaultMaxElements, MaxTextLength: schemas.DefaultMaxTextLength}
		assert.Equal(t, Fingerprint(schemas.ScrapeOptions{}), Fingerprint(explicit))
	})

	t.Run("every option changes the fingerprint", func(t *testing.T) {
		base := Fingerprint(schemas.ScrapeOptions{})
		variants := []schemas.ScrapeOptions{
			{IncludeHidden: true},
			{MaxElements: 10},
			{TakeScreenshots: true},
			{MaxTextLength: 10},
			{ExcludeFormData: true},
			{ExcludePositionData: true},
		}
		for _, v := range variants {
			assert.NotEqual(t, base, Fingerprint(v), "%+v", v)
		}
	})
}

func TestKey(t *testing.T) {
	a := NewKey("https://example.com/", 0, schemas.ScrapeOptions{})
	b := NewKey("https://example.com/", 1, schemas.ScrapeOptions{})
	assert.NotEqual(t, a, b, "depth is part of the key")
	assert.NotEqual(t, a.String(), b.String())
	assert.Contains(t, a.String(), "https://example.com/|0|")
}

// -- Cache Tests --

func TestCache_GetPut(t *testing.T) {
	c, _ := setupCache(t, config.CacheConfig{})
	key := keyFor("https://example.com/")

	_, ok := c.Get(key)
	assert.False(t, ok, "empty cache misses")

	c.Put(key, okResult("https://example.com/"))
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "Example", got.Title)
	assert.Equal(t, 1, c.Size())

	// Callers receive copies, mutating one must not leak into the cache.
	got.Elements[0].Selector = "#mutated"
	again, _ := c.Get(key)
	assert.Equal(t, "#a", again.Elements[0].Selector)
}

func TestCache_TTL(t *testing.T) {
	t.Run("zero TTL never expires", func(t *testing.T) {
		c, clock := setupCache(t, config.CacheConfig{})
		key := keyFor("https://example.com/")
		c.Put(key, okResult(key.URL))
		clock.Advance(365 * 24 * time.Hour)
		_, ok := c.Get(key)
		assert.True(t, ok)
	})

	t.Run("expired entries are absent and removed", func(t *testing.T) {
		c, clock := setupCache(t, config.CacheConfig{TTL: time.Minute})
		key := keyFor("https://example.com/")
		c.Put(key, okResult(key.URL))

		clock.Advance(59 * time.Second)
		_, ok := c.Get(key)
		assert.True(t, ok)

		clock.Advance(time.Second)
		_, ok = c.Get(key)
		assert.False(t, ok)
		assert.Equal(t, 0, c.Size())
	})

	t.Run("failures use the shorter failure TTL", func(t *testing.T) {
		c, clock := setupCache(t, config.CacheConfig{FailureTTL: 30 * time.Second})
		key := keyFor("https://down.example.com/")
		c.Put(key, schemas.Failed(key.URL, 0, schemas.ErrorKindPageLoad, schemas.ErrPageLoad))

		_, ok := c.Get(key)
		assert.True(t, ok)
		clock.Advance(30 * time.Second)
		_, ok = c.Get(key)
		assert.False(t, ok)
	})

	t.Run("explicit TTL overrides the default", func(t *testing.T) {
		c, clock := setupCache(t, config.CacheConfig{})
		key := keyFor("https://example.com/")
		c.PutWithTTL(key, okResult(key.URL), time.Second)
		clock.Advance(2 * time.Second)
		_, ok := c.Get(key)
		assert.False(t, ok)
	})
}

func TestCache_InvalidateAndClear(t *testing.T) {
	c, _ := setupCache(t, config.CacheConfig{})
	a, b := keyFor("https://a.example/"), keyFor("https://b.example/")
	c.Put(a, okResult(a.URL))
	c.Put(b, okResult(b.URL))
	require.Equal(t, 2, c.Size())

	c.Invalidate(a)
	_, ok := c.Get(a)
	assert.False(t, ok)
	_, ok = c.Get(b)
	assert.True(t, ok)

	c.Invalidate(keyFor("https://unknown.example/"))
	assert.Equal(t, 1, c.Size())

	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestCache_LRUBound(t *testing.T) {
	c, _ := setupCache(t, config.CacheConfig{MaxEntries: 2})
	a, b, d := keyFor("https://a.example/"), keyFor("https://b.example/"), keyFor("https://d.example/")
	c.Put(a, okResult(a.URL))
	c.Put(b, okResult(b.URL))

	// Touch a so b becomes the least recently used entry.
	_, ok := c.Get(a)
	require.True(t, ok)
	c.Put(d, okResult(d.URL))

	assert.Equal(t, 2, c.Size())
	_, ok = c.Get(b)
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = c.Get(a)
	assert.True(t, ok)
	_, ok = c.Get(d)
	assert.True(t, ok)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(config.CacheConfig{MaxEntries: 0}, nil)
	assert.Error(t, err)
}

// -- Single-flight Tests --

func TestCache_Do(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("concurrent misses run the loader once", func(t *testing.T) {
		c, _ := setupCache(t, config.CacheConfig{})
		key := keyFor("https://example.com/")

		var calls atomic.Int32
		release := make(chan struct{})
		load := func(ctx context.Context) (schemas.ScrapeResult, error) {
			calls.Add(1)
			<-release
			return okResult(key.URL), nil
		}

		const callers = 16
		var wg sync.WaitGroup
		results := make([]schemas.ScrapeResult, callers)
		errs := make([]error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], _, _, errs[i] = c.Do(context.Background(), key, load)
			}(i)
		}
		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.Equal(t, int32(1), calls.Load(), "the loader must run exactly once")
		for i := 0; i < callers; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, "Example", results[i].Title)
		}
		assert.Equal(t, 1, c.Size())
	})

	t.Run("a cached key does not call the loader", func(t *testing.T) {
		c, _ := setupCache(t, config.CacheConfig{})
		key := keyFor("https://example.com/")
		c.Put(key, okResult(key.URL))

		_, _, hit, err := c.Do(context.Background(), key, func(context.Context) (schemas.ScrapeResult, error) {
			t.Fatal("loader must not run on a hit")
			return schemas.ScrapeResult{}, nil
		})
		require.NoError(t, err)
		assert.True(t, hit)
	})

	t.Run("loader errors are returned and not cached", func(t *testing.T) {
		c, _ := setupCache(t, config.CacheConfig{})
		key := keyFor("https://example.com/")
		boom := errors.New("boom")

		_, _, _, err := c.Do(context.Background(), key, func(context.Context) (schemas.ScrapeResult, error) {
			return schemas.ScrapeResult{}, boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, c.Size())
	})

	t.Run("waiters of a failed load retry with their own loader", func(t *testing.T) {
		c, _ := setupCache(t, config.CacheConfig{})
		key := keyFor("https://example.com/")
		boom := errors.New("page gone")

		started := make(chan struct{})
		release := make(chan struct{})
		leaderErr := make(chan error, 1)
		go func() {
			_, _, _, err := c.Do(context.Background(), key, func(context.Context) (schemas.ScrapeResult, error) {
				close(started)
				<-release
				return schemas.ScrapeResult{}, boom
			})
			leaderErr <- err
		}()
		<-started

		var ownCalls atomic.Int32
		waiterDone := make(chan struct{})
		var (
			result schemas.ScrapeResult
			shared bool
			err    error
		)
		go func() {
			defer close(waiterDone)
			result, shared, _, err = c.Do(context.Background(), key, func(context.Context) (schemas.ScrapeResult, error) {
				ownCalls.Add(1)
				return okResult(key.URL), nil
			})
		}()
		time.Sleep(20 * time.Millisecond)
		close(release)
		<-waiterDone

		assert.ErrorIs(t, <-leaderErr, boom, "the failing loader's caller sees its error")
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.False(t, shared, "the retried result is the waiter's own")
		assert.Equal(t, int32(1), ownCalls.Load())
		assert.Equal(t, 1, c.Size())
	})

	t.Run("a waiter honours its own context", func(t *testing.T) {
		c, _ := setupCache(t, config.CacheConfig{})
		key := keyFor("https://slow.example/")

		started := make(chan struct{})
		release := make(chan struct{})
		leaderDone := make(chan struct{})
		go func() {
			defer close(leaderDone)
			_, _, _, _ = c.Do(context.Background(), key, func(context.Context) (schemas.ScrapeResult, error) {
				close(started)
				<-release
				return okResult(key.URL), nil
			})
		}()
		<-started

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, _, _, err := c.Do(ctx, key, func(context.Context) (schemas.ScrapeResult, error) {
			t.Fatal("waiter must not start a second load")
			return schemas.ScrapeResult{}, nil
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		close(release)
		<-leaderDone
		_, ok := c.Get(key)
		assert.True(t, ok, "the leader still populates the cache")
	})
}
