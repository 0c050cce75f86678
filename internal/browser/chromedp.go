// internal/browser/chromedp.go
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/pagescout/pagescout/api/schemas"
	"github.com/pagescout/pagescout/internal/config"
)

// chromedpBrowser drives Chrome over CDP. Each page is a tab context derived
// from the browser context.
type chromedpBrowser struct {
	cfg           config.BrowserConfig
	shots         *screenshotStore
	logger        *zap.Logger
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	closeOnce sync.Once
}

// execAllocatorOptions translates the browser config into allocator options.
func execAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	width, height := viewport(cfg)
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(width, height),
	)

	// DefaultExecAllocatorOptions already carries headless, so it is switched off explicitly.
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.IgnoreCertErrors)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	for _, arg := range cfg.Args {
		name, value, hasValue := splitArg(arg)
		if name == "" {
			continue
		}
		if !hasValue {
			opts = append(opts, chromedp.Flag(name, true))
			continue
		}
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

func launchChromedp(ctx context.Context, cfg config.BrowserConfig, shots *screenshotStore, logger *zap.Logger) (*chromedpBrowser, error) {
	// The browser outlives the launch call, so it hangs off a background context.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execAllocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Debugf),
	)

	startCtx, cancel := combineContext(browserCtx, ctx)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	return &chromedpBrowser{
		cfg:           cfg,
		shots:         shots,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// NewPage opens a new tab.
func (b *chromedpBrowser) NewPage(ctx context.Context) (schemas.Page, error) {
	if err := b.browserCtx.Err(); err != nil {
		return nil, unavailable("browser closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	if err := chromedp.Run(tabCtx, tabSetup(b.cfg)...); err != nil {
		tabCancel()
		if b.browserCtx.Err() != nil {
			return nil, unavailable("browser closed while opening tab")
		}
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	b.logger.Debug("Opened tab")
	return &chromedpPage{
		tabCtx: tabCtx,
		cancel: tabCancel,
		cfg:    b.cfg,
		shots:  b.shots,
		logger: b.logger,
	}, nil
}

// tabSetup emulates the configured viewport and user agent on a fresh tab.
func tabSetup(cfg config.BrowserConfig) []chromedp.Action {
	width, height := viewport(cfg)
	actions := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, false),
	}
	if cfg.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(cfg.UserAgent))
	}
	return actions
}

// Close shuts down Chrome and every tab.
func (b *chromedpBrowser) Close() error {
	b.closeOnce.Do(func() {
		b.browserCancel()
		b.allocCancel()
		b.logger.Info("Browser closed")
	})
	return nil
}

// chromedpPage is a single tab.
type chromedpPage struct {
	tabCtx context.Context
	cancel context.CancelFunc
	cfg    config.BrowserConfig
	shots  *screenshotStore
	logger *zap.Logger
}

// run executes actions on the tab, bounded by ctx as well as the tab lifetime.
func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	if p.tabCtx.Err() != nil {
		return unavailable("tab closed")
	}
	runCtx, cancel := combineContext(p.tabCtx, ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && p.tabCtx.Err() != nil {
		return unavailable("tab closed: %v", err)
	}
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := navigationContext(ctx, p.cfg)
	defer cancel()

	if err := p.run(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("%w: %s: %w", schemas.ErrPageLoad, url, err)
	}
	return settle(ctx, p.cfg.PostLoadWait)
}

func (p *chromedpPage) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

func (p *chromedpPage) QueryElements(ctx context.Context) ([]schemas.RawElement, error) {
	var raw []byte
	if err := p.run(ctx, chromedp.Evaluate(enumerateExpression, &raw)); err != nil {
		return nil, fmt.Errorf("%w: %w", schemas.ErrElementQuery, err)
	}
	return decodeElements(raw)
}

func (p *chromedpPage) CaptureScreenshot(ctx context.Context, selector string) (string, error) {
	var buf []byte
	var action chromedp.Action
	if selector == "" {
		// Quality 100 yields PNG.
		action = chromedp.FullScreenshot(&buf, 100)
	} else {
		action = chromedp.Screenshot(selector, &buf, chromedp.ByQuery, chromedp.NodeVisible)
	}
	if err := p.run(ctx, action); err != nil {
		return "", fmt.Errorf("%w: %w", schemas.ErrScreenshot, err)
	}
	path, err := p.shots.Save(buf)
	if err != nil {
		return "", fmt.Errorf("%w: %v", schemas.ErrScreenshot, err)
	}
	return path, nil
}

// Close closes the tab. It is safe to call more than once.
func (p *chromedpPage) Close() error {
	p.cancel()
	return nil
}
