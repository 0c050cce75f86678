// internal/scraper/executor_test.go
package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pagescout/pagescout/api/schemas"
	"github.com/pagescout/pagescout/internal/cache"
	"github.com/pagescout/pagescout/internal/config"
	"github.com/pagescout/pagescout/internal/mocks"
)

// -- Test Setup Helpers --

func setupExecutor(t *testing.T) (*Executor, *cache.Cache) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	c, err := cache.New(config.CacheConfig{MaxEntries: 64, FailureTTL: 30 * time.Second}, logger)
	require.NoError(t, err)
	e, err := New(c, config.EngineConfig{MaxConcurrentScrapes: 2}, logger)
	require.NoError(t, err)
	return e, c
}

func box() schemas.BoundingBox {
	return schemas.BoundingBox{X: 1, Y: 1, Width: 50, Height: 20}
}

func samplePage() []schemas.RawElement {
	return []schemas.RawElement{
		{Selector: "#q", Tag: "input", InputType: "search", BoundingBox: box()},
		{Selector: "#go", Tag: "button", Text: "Go", BoundingBox: box()},
		{Selector: "#about", Tag: "a", Href: "/about", BoundingBox: box()},
		{Selector: "#about-again", Tag: "a", Href: "/about#team", BoundingBox: box()},
		{Selector: "#mail", Tag: "a", Href: "mailto:hi@example.com", BoundingBox: box()},
		{Selector: "#hidden", Tag: "button", Hidden: true, BoundingBox: box()},
	}
}

func expectLoad(page *mocks.MockPage, url string, raws []schemas.RawElement) {
	page.On("Navigate", mock.Anything, url).Return(nil).Once()
	page.On("Title", mock.Anything).Return("Example", nil).Once()
	page.On("QueryElements", mock.Anything).Return(raws, nil).Once()
}

// -- Constructor Tests --

func TestNew(t *testing.T) {
	c, err := cache.New(config.CacheConfig{MaxEntries: 1}, nil)
	require.NoError(t, err)

	_, err = New(nil, config.EngineConfig{MaxConcurrentScrapes: 1}, nil)
	assert.Error(t, err)
	_, err = New(c, config.EngineConfig{MaxConcurrentScrapes: 0}, nil)
	assert.Error(t, err)
	e, err := New(c, config.EngineConfig{MaxConcurrentScrapes: 1}, nil)
	require.NoError(t, err)
	assert.NotNil(t, e.logger)
}

// -- Execute Tests --

func TestExecute_Success(t *testing.T) {
	e, _ := setupExecutor(t)
	page := new(mocks.MockPage)
	expectLoad(page, "https://example.com/", samplePage())

	result := e.Execute(context.Background(), page, "https://Example.com", 0, schemas.ScrapeOptions{})

	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, "https://example.com/", result.URL)
	assert.Equal(t, "Example", result.Title)
	assert.Empty(t, result.ErrorMessage)
	assert.Equal(t, schemas.ErrorKindNone, result.ErrorKind)
	assert.False(t, result.FromCache)
	assert.False(t, result.Timestamp.IsZero())
	assert.GreaterOrEqual(t, result.DurationMs, int64(0))

	require.Len(t, result.Elements, 5, "the hidden button is omitted")
	assert.Equal(t, "#q", result.Elements[0].Selector, "discovery order is kept")
	assert.Equal(t, []string{"https://example.com/about"}, result.DiscoveredURLs)
	assert.Equal(t, []string{"#q"}, result.FormFields)
	assert.Equal(t, 4, result.Summary.Clickable)
	assert.Equal(t, 3, result.Summary.Links)
	page.AssertExpectations(t)
}

func TestExecute_CacheHit(t *testing.T) {
	e, c := setupExecutor(t)
	page := new(mocks.MockPage)
	expectLoad(page, "https://example.com/", samplePage())

	first := e.Execute(context.Background(), page, "https://example.com/", 1, schemas.ScrapeOptions{})
	require.True(t, first.Success)

	// An equivalent spelling hits the same entry.
	second := e.Execute(context.Background(), page, "https://EXAMPLE.com:443/#top", 1, schemas.ScrapeOptions{})
	require.True(t, second.Success)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Elements, second.Elements)
	assert.Equal(t, 1, c.Size())
	page.AssertNumberOfCalls(t, "Navigate", 1)

	t.Run("a different depth or configuration misses", func(t *testing.T) {
		expectLoad(page, "https://example.com/", samplePage())
		expectLoad(page, "https://example.com/", samplePage())

		r := e.Execute(context.Background(), page, "https://example.com/", 2, schemas.ScrapeOptions{})
		assert.False(t, r.FromCache)
		r = e.Execute(context.Background(), page, "https://example.com/", 1, schemas.ScrapeOptions{IncludeHidden: true})
		assert.False(t, r.FromCache)
		assert.Len(t, r.Elements, 6)
		assert.Equal(t, 3, c.Size())
	})
}

// slowPage returns a page that blocks in Navigate until release is closed.
// Navigate is optional so that only the page whose load runs is touched.
func slowPage(url string, release <-chan struct{}, navErr error) *mocks.MockPage {
	page := new(mocks.MockPage)
	page.On("Navigate", mock.Anything, url).
		Run(func(mock.Arguments) { <-release }).
		Return(navErr).Maybe()
	page.On("Title", mock.Anything).Return("Slow", nil).Maybe()
	page.On("QueryElements", mock.Anything).Return(samplePage(), nil).Maybe()
	return page
}

func TestExecute_SingleFlight(t *testing.T) {
	t.Run("concurrent callers share one load", func(t *testing.T) {
		e, _ := setupExecutor(t)
		const url = "https://example.com/slow"
		release := make(chan struct{})

		const callers = 8
		pages := make([]*mocks.MockPage, callers)
		results := make([]schemas.ScrapeResult, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			pages[i] = slowPage(url, release, nil)
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = e.Execute(context.Background(), pages[i], url, 0, schemas.ScrapeOptions{})
			}(i)
		}
		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		navigations := 0
		for _, p := range pages {
			for _, c := range p.Calls {
				if c.Method == "Navigate" {
					navigations++
				}
			}
		}
		assert.Equal(t, 1, navigations, "only the page of the loading caller is navigated")

		ignore := cmpopts.IgnoreFields(schemas.ScrapeResult{}, "FromCache", "DurationMs")
		require.True(t, results[0].Success)
		for i := 1; i < callers; i++ {
			assert.Empty(t, cmp.Diff(results[0], results[i], ignore), "caller %d", i)
		}
	})

	t.Run("a broken page does not fail callers waiting on its load", func(t *testing.T) {
		e, _ := setupExecutor(t)
		const url = "https://example.com/shared"
		release := make(chan struct{})
		started := make(chan struct{})

		broken := new(mocks.MockPage)
		broken.On("Navigate", mock.Anything, url).
			Run(func(mock.Arguments) {
				close(started)
				<-release
			}).
			Return(fmt.Errorf("%w: target closed", schemas.ErrCollaboratorUnavailable)).Once()

		healthy := new(mocks.MockPage)
		expectLoad(healthy, url, samplePage())

		leaderDone := make(chan schemas.ScrapeResult)
		go func() {
			leaderDone <- e.Execute(context.Background(), broken, url, 0, schemas.ScrapeOptions{})
		}()
		<-started

		waiterDone := make(chan schemas.ScrapeResult)
		go func() {
			waiterDone <- e.Execute(context.Background(), healthy, url, 0, schemas.ScrapeOptions{})
		}()
		time.Sleep(20 * time.Millisecond)
		close(release)

		leader := <-leaderDone
		waiter := <-waiterDone

		assert.False(t, leader.Success)
		assert.Equal(t, schemas.ErrorKindUnavailable, leader.ErrorKind)

		assert.True(t, waiter.Success, waiter.ErrorMessage)
		assert.Empty(t, waiter.ErrorKind)
		healthy.AssertNumberOfCalls(t, "Navigate", 1)
		broken.AssertExpectations(t)
	})
}

func TestExecute_CacheHitDuration(t *testing.T) {
	e, _ := setupExecutor(t)
	const url = "https://example.com/timed"
	page := new(mocks.MockPage)
	page.On("Navigate", mock.Anything, url).
		Run(func(mock.Arguments) { time.Sleep(60 * time.Millisecond) }).
		Return(nil).Once()
	page.On("Title", mock.Anything).Return("Timed", nil).Once()
	page.On("QueryElements", mock.Anything).Return(samplePage(), nil).Once()

	miss := e.Execute(context.Background(), page, url, 0, schemas.ScrapeOptions{})
	require.True(t, miss.Success)
	assert.GreaterOrEqual(t, miss.DurationMs, int64(60))

	hit := e.Execute(context.Background(), page, url, 0, schemas.ScrapeOptions{})
	require.True(t, hit.FromCache)
	assert.Less(t, hit.DurationMs, miss.DurationMs, "a hit reports its own elapsed time")
	page.AssertNumberOfCalls(t, "Navigate", 1)
}

func TestExecute_Failures(t *testing.T) {
	t.Run("page load failure is cached with the failure TTL", func(t *testing.T) {
		e, c := setupExecutor(t)
		page := new(mocks.MockPage)
		page.On("Navigate", mock.Anything, "https://down.example.com/").Return(errors.New("net::ERR_NAME_NOT_RESOLVED")).Once()

		r := e.Execute(context.Background(), page, "https://down.example.com/", 0, schemas.ScrapeOptions{})
		assert.False(t, r.Success)
		assert.Equal(t, schemas.ErrorKindPageLoad, r.ErrorKind)
		assert.Contains(t, r.ErrorMessage, "ERR_NAME_NOT_RESOLVED")
		assert.Empty(t, r.Elements)
		assert.Equal(t, 1, c.Size())

		again := e.Execute(context.Background(), page, "https://down.example.com/", 0, schemas.ScrapeOptions{})
		assert.True(t, again.FromCache)
		assert.False(t, again.Success)
		page.AssertNumberOfCalls(t, "Navigate", 1)
	})

	t.Run("element query failure", func(t *testing.T) {
		e, _ := setupExecutor(t)
		page := new(mocks.MockPage)
		page.On("Navigate", mock.Anything, "https://example.com/").Return(nil)
		page.On("Title", mock.Anything).Return("", errors.New("no title"))
		page.On("QueryElements", mock.Anything).Return(nil, errors.New("detached frame"))

		r := e.Execute(context.Background(), page, "https://example.com/", 0, schemas.ScrapeOptions{})
		assert.False(t, r.Success)
		assert.Equal(t, schemas.ErrorKindElementQuery, r.ErrorKind)
		assert.Contains(t, r.ErrorMessage, schemas.ErrElementQuery.Error())
	})

	t.Run("page timeout yields a timeout result", func(t *testing.T) {
		e, _ := setupExecutor(t)
		page := new(mocks.MockPage)
		page.On("Navigate", mock.Anything, "https://slow.example.com/").
			Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
			Return(context.DeadlineExceeded)

		start := time.Now()
		r := e.Execute(context.Background(), page, "https://slow.example.com/", 0, schemas.ScrapeOptions{}, WithPageTimeout(20*time.Millisecond))
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.False(t, r.Success)
		assert.Equal(t, schemas.ErrorKindTimeout, r.ErrorKind)
	})

	t.Run("invalid URL fails without touching the page or the cache", func(t *testing.T) {
		e, c := setupExecutor(t)
		page := new(mocks.MockPage)

		r := e.Execute(context.Background(), page, "not a url", 0, schemas.ScrapeOptions{})
		assert.False(t, r.Success)
		assert.Equal(t, schemas.ErrorKindPageLoad, r.ErrorKind)
		assert.Equal(t, "not a url", r.URL)
		assert.Equal(t, 0, c.Size())
		page.AssertNotCalled(t, "Navigate", mock.Anything, mock.Anything)
	})

	t.Run("unavailable collaborator is reported and not cached", func(t *testing.T) {
		e, c := setupExecutor(t)
		page := new(mocks.MockPage)
		page.On("Navigate", mock.Anything, "https://example.com/").
			Return(fmt.Errorf("browser crashed: %w", schemas.ErrCollaboratorUnavailable))

		r := e.Execute(context.Background(), page, "https://example.com/", 0, schemas.ScrapeOptions{})
		assert.False(t, r.Success)
		assert.Equal(t, schemas.ErrorKindUnavailable, r.ErrorKind)
		assert.Equal(t, 0, c.Size())
	})

	t.Run("canceled context is not cached", func(t *testing.T) {
		e, c := setupExecutor(t)
		page := new(mocks.MockPage)
		page.On("Navigate", mock.Anything, mock.Anything).Return(context.Canceled).Maybe()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		r := e.Execute(ctx, page, "https://example.com/", 0, schemas.ScrapeOptions{})
		assert.False(t, r.Success)
		assert.Equal(t, schemas.ErrorKindCanceled, r.ErrorKind)
		assert.Equal(t, 0, c.Size())
	})
}

func TestExecute_Screenshots(t *testing.T) {
	e, _ := setupExecutor(t)
	page := new(mocks.MockPage)
	expectLoad(page, "https://example.com/", []schemas.RawElement{
		{Selector: "#go", Tag: "button", BoundingBox: box()},
		{Selector: "#home", Tag: "a", Href: "/", BoundingBox: box()},
		{Selector: "#p", Tag: "p", BoundingBox: box()},
	})
	page.On("CaptureScreenshot", mock.Anything, "").Return("/shots/page.png", nil).Once()
	page.On("CaptureScreenshot", mock.Anything, "#go").Return("/shots/go.png", nil).Once()
	page.On("CaptureScreenshot", mock.Anything, "#home").Return("", errors.New("element not visible")).Once()

	r := e.Execute(context.Background(), page, "https://example.com/", 0,
		schemas.ScrapeOptions{TakeScreenshots: true}, WithScreenshotDelay(time.Millisecond))

	require.True(t, r.Success, "screenshot errors are never fatal")
	assert.Equal(t, "/shots/page.png", r.PageScreenshotRef)
	require.Len(t, r.Elements, 3)
	assert.Equal(t, "/shots/go.png", r.Elements[0].ScreenshotRef)
	assert.Empty(t, r.Elements[1].ScreenshotRef)
	assert.Equal(t, 1, r.Summary.Screenshots)
	page.AssertNotCalled(t, "CaptureScreenshot", mock.Anything, "#p")
	page.AssertExpectations(t)
}
