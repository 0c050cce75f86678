// internal/scraper/executor.go
package scraper

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/pagescout/pagescout/api/schemas"
	"github.com/pagescout/pagescout/internal/cache"
	"github.com/pagescout/pagescout/internal/catalog"
	"github.com/pagescout/pagescout/internal/config"
)

// Executor performs single-page scrapes through the shared cache. It is safe
// for concurrent use by many sessions; each call drives only the page it is given.
type Executor struct {
	cache  *cache.Cache
	slots  *semaphore.Weighted
	logger *zap.Logger
}

// CallOption tunes a single Execute call.
type CallOption func(*call)

type call struct {
	pageTimeout     time.Duration
	screenshotDelay time.Duration
}

// WithPageTimeout bounds the scrape of the page. Zero means no timeout.
func WithPageTimeout(d time.Duration) CallOption {
	return func(c *call) { c.pageTimeout = d }
}

// WithScreenshotDelay waits after navigation before screenshots are captured.
func WithScreenshotDelay(d time.Duration) CallOption {
	return func(c *call) { c.screenshotDelay = d }
}

// New creates an executor. cfg.MaxConcurrentScrapes bounds the number of
// cache-miss scrapes in flight across the whole engine.
func New(c *cache.Cache, cfg config.EngineConfig, logger *zap.Logger) (*Executor, error) {
	if c == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if cfg.MaxConcurrentScrapes <= 0 {
		return nil, fmt.Errorf("max concurrent scrapes must be positive, got %d", cfg.MaxConcurrentScrapes)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cache:  c,
		slots:  semaphore.NewWeighted(int64(cfg.MaxConcurrentScrapes)),
		logger: logger.Named("scraper"),
	}, nil
}

// Execute scrapes rawURL on page, serving from the cache when possible.
// It never returns an error: every failure is recorded in the result. Results
// with ErrorKindUnavailable mean the page must not be used again.
func (e *Executor) Execute(ctx context.Context, page schemas.Page, rawURL string, depth int, opts schemas.ScrapeOptions, callOpts ...CallOption) schemas.ScrapeResult {
	start := time.Now()
	c := call{}
	for _, opt := range callOpts {
		opt(&c)
	}
	opts = opts.WithDefaults()

	normalized, err := Normalize(rawURL)
	if err != nil {
		return schemas.Failed(rawURL, depth, schemas.ErrorKindPageLoad, fmt.Errorf("%w: %v", schemas.ErrPageLoad, err))
	}

	key := cache.NewKey(normalized, depth, opts)
	result, shared, hit, err := e.cache.Do(ctx, key, func(loadCtx context.Context) (schemas.ScrapeResult, error) {
		return e.scrape(loadCtx, page, normalized, depth, opts, c)
	})
	if err != nil {
		return failedFromError(normalized, depth, err)
	}
	if hit {
		result.FromCache = true
	}
	// Results this call did not produce itself report its own elapsed time.
	if hit || shared {
		result.DurationMs = time.Since(start).Milliseconds()
	}
	e.logger.Debug("Scrape finished",
		zap.String("url", normalized),
		zap.Int("depth", depth),
		zap.Bool("success", result.Success),
		zap.Bool("fromCache", hit),
		zap.Bool("shared", shared),
		zap.Int64("durationMs", result.DurationMs),
	)
	return result
}

// scrape runs a cache-miss scrape. A non-nil error marks outcomes that must not
// be cached: the caller's context ended, or the page collaborator is gone.
func (e *Executor) scrape(ctx context.Context, page schemas.Page, url string, depth int, opts schemas.ScrapeOptions, c call) (result schemas.ScrapeResult, err error) {
	if err := e.slots.Acquire(ctx, 1); err != nil {
		return schemas.ScrapeResult{}, err
	}
	defer e.slots.Release(1)

	// A panicking page is treated as gone; it must not take the process down
	// from inside the single-flight goroutine.
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Page collaborator panicked during scrape",
				zap.String("url", url),
				zap.Any("panicValue", r),
				zap.String("stack", string(debug.Stack())),
			)
			result, err = schemas.ScrapeResult{}, fmt.Errorf("%w: panic: %v", schemas.ErrCollaboratorUnavailable, r)
		}
	}()

	// Queueing time for a slot is not part of the measured duration.
	start := time.Now()

	pageCtx := ctx
	if c.pageTimeout > 0 {
		var cancel context.CancelFunc
		pageCtx, cancel = context.WithTimeout(ctx, c.pageTimeout)
		defer cancel()
	}

	result, err = e.run(pageCtx, page, url, depth, opts, c)
	result.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		return result, err
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

func (e *Executor) run(ctx context.Context, page schemas.Page, url string, depth int, opts schemas.ScrapeOptions, c call) (schemas.ScrapeResult, error) {
	log := e.logger.With(zap.String("url", url), zap.Int("depth", depth))

	if err := page.Navigate(ctx, url); err != nil {
		if errors.Is(err, schemas.ErrCollaboratorUnavailable) {
			return schemas.ScrapeResult{}, err
		}
		log.Debug("Navigation failed", zap.Error(err))
		return schemas.Failed(url, depth, kindFor(ctx, schemas.ErrorKindPageLoad), wrap(schemas.ErrPageLoad, err)), nil
	}

	title, err := page.Title(ctx)
	if err != nil {
		if errors.Is(err, schemas.ErrCollaboratorUnavailable) {
			return schemas.ScrapeResult{}, err
		}
		log.Debug("Could not read page title", zap.Error(err))
	}

	raws, err := page.QueryElements(ctx)
	if err != nil {
		if errors.Is(err, schemas.ErrCollaboratorUnavailable) {
			return schemas.ScrapeResult{}, err
		}
		log.Debug("Element query failed", zap.Error(err))
		return schemas.Failed(url, depth, kindFor(ctx, schemas.ErrorKindElementQuery), wrap(schemas.ErrElementQuery, err)), nil
	}

	cat := catalog.New(opts)
	cat.AddAll(raws)
	if cat.Skipped() > 0 {
		log.Debug("Elements skipped", zap.Int("accepted", cat.Len()), zap.Int("skipped", cat.Skipped()))
	}

	result := schemas.ScrapeResult{
		URL:            url,
		Title:          title,
		Depth:          depth,
		DiscoveredURLs: discoveredURLs(url, cat),
		FormFields:     cat.FormFields(),
		Success:        true,
	}

	if opts.TakeScreenshots {
		ref, err := e.captureScreenshots(ctx, page, cat, c.screenshotDelay, log)
		if err != nil {
			return schemas.ScrapeResult{}, err
		}
		result.PageScreenshotRef = ref
	}

	if ctx.Err() != nil {
		return schemas.Failed(url, depth, kindFor(ctx, schemas.ErrorKindTimeout), ctx.Err()), nil
	}

	result.Elements = cat.Elements()
	result.Summary = cat.Summary()
	result.Timestamp = time.Now().UTC()
	return result, nil
}

// captureScreenshots takes the full-page capture and one per eligible element.
// Individual failures are logged and leave the reference empty.
func (e *Executor) captureScreenshots(ctx context.Context, page schemas.Page, cat *catalog.Catalog, delay time.Duration, log *zap.Logger) (string, error) {
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", nil
		case <-t.C:
		}
	}

	pageRef, err := page.CaptureScreenshot(ctx, "")
	if err != nil {
		if errors.Is(err, schemas.ErrCollaboratorUnavailable) {
			return "", err
		}
		log.Debug("Page screenshot failed", zap.Error(wrap(schemas.ErrScreenshot, err)))
		pageRef = ""
	}

	for _, el := range cat.ScreenshotCandidates() {
		if ctx.Err() != nil {
			break
		}
		ref, err := page.CaptureScreenshot(ctx, el.Selector)
		if err != nil {
			if errors.Is(err, schemas.ErrCollaboratorUnavailable) {
				return "", err
			}
			log.Debug("Element screenshot failed", zap.String("selector", el.Selector), zap.Error(wrap(schemas.ErrScreenshot, err)))
			continue
		}
		cat.SetScreenshot(el.Selector, ref)
	}
	return pageRef, nil
}

// discoveredURLs resolves link targets against the page URL, keeping document
// order and dropping duplicates and non-http(s) targets.
func discoveredURLs(pageURL string, cat *catalog.Catalog) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, link := range cat.Links() {
		target, err := Resolve(pageURL, link.Href)
		if err != nil {
			continue
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

func failedFromError(url string, depth int, err error) schemas.ScrapeResult {
	switch {
	case errors.Is(err, schemas.ErrCollaboratorUnavailable):
		return schemas.Failed(url, depth, schemas.ErrorKindUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return schemas.Failed(url, depth, schemas.ErrorKindTimeout, err)
	default:
		return schemas.Failed(url, depth, schemas.ErrorKindCanceled, err)
	}
}

// kindFor reports a timeout when the page deadline expired, whatever the
// collaborator said.
func kindFor(ctx context.Context, fallback schemas.ErrorKind) schemas.ErrorKind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return schemas.ErrorKindTimeout
	}
	return fallback
}

func wrap(sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}
