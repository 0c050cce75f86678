// internal/browser/playwright.go
package browser

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/pagescout/pagescout/api/schemas"
	"github.com/pagescout/pagescout/internal/config"
)

const (
	playwrightInstallTimeout = 5 * time.Minute
	playwrightLaunchTimeout  = 60 * time.Second
	// Used when ctx carries no deadline.
	playwrightDefaultTimeout = 30 * time.Second
)

// playwrightBrowser drives Chromium through the playwright driver. Each page
// gets its own browser context.
type playwrightBrowser struct {
	cfg     config.BrowserConfig
	shots   *screenshotStore
	logger  *zap.Logger
	pw      *playwright.Playwright
	browser playwright.Browser

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func ensurePlaywright(ctx context.Context, logger *zap.Logger) error {
	logger.Info("Verifying Playwright browser installation")
	installCtx, cancel := context.WithTimeout(ctx, playwrightInstallTimeout)
	defer cancel()

	// Install blocks without a context.
	done := make(chan error, 1)
	go func() {
		done <- playwright.Install(&playwright.RunOptions{
			Browsers: []string{"chromium"},
			Verbose:  false,
			Stdout:   io.Discard,
			Stderr:   io.Discard,
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to install playwright browsers: %w", err)
		}
		return nil
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for playwright installation: %w", installCtx.Err())
	}
}

func launchOptions(cfg config.BrowserConfig) playwright.BrowserTypeLaunchOptions {
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args:     append([]string{"--no-sandbox", "--disable-dev-shm-usage"}, cfg.Args...),
		Timeout:  playwright.Float(float64(playwrightLaunchTimeout.Milliseconds())),
	}
	if cfg.ExecPath != "" {
		opts.ExecutablePath = playwright.String(cfg.ExecPath)
	}
	return opts
}

func launchPlaywright(ctx context.Context, cfg config.BrowserConfig, shots *screenshotStore, logger *zap.Logger) (*playwrightBrowser, error) {
	if err := ensurePlaywright(ctx, logger); err != nil {
		return nil, err
	}

	pw, err := playwright.Run(&playwright.RunOptions{Stdout: io.Discard, Stderr: io.Discard})
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright driver: %w", err)
	}

	browser, err := pw.Chromium.Launch(launchOptions(cfg))
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser instance: %w", err)
	}

	return &playwrightBrowser{cfg: cfg, shots: shots, logger: logger, pw: pw, browser: browser}, nil
}

// NewPage opens a page in a fresh browser context.
func (b *playwrightBrowser) NewPage(ctx context.Context) (schemas.Page, error) {
	if b.closed.Load() || !b.browser.IsConnected() {
		return nil, unavailable("browser closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bctx, err := b.browser.NewContext(contextOptions(b.cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return &playwrightPage{bctx: bctx, page: page, owner: b, cfg: b.cfg, shots: b.shots}, nil
}

// Close shuts down the browser and the driver.
func (b *playwrightBrowser) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		if err := b.browser.Close(); err != nil {
			b.logger.Warn("Failed to close browser", zap.Error(err))
			b.closeErr = err
		}
		if err := b.pw.Stop(); err != nil {
			b.logger.Error("Failed to stop playwright driver", zap.Error(err))
			if b.closeErr == nil {
				b.closeErr = fmt.Errorf("failed to stop playwright driver: %w", err)
			}
		}
		b.logger.Info("Browser closed")
	})
	return b.closeErr
}

// playwrightPage is a page with its own browser context.
type playwrightPage struct {
	bctx  playwright.BrowserContext
	page  playwright.Page
	owner *playwrightBrowser
	cfg   config.BrowserConfig
	shots *screenshotStore

	closed atomic.Bool
}

func (p *playwrightPage) gone() bool {
	return p.closed.Load() || p.owner.closed.Load() || p.page.IsClosed()
}

// timeout converts the remaining time of ctx into playwright milliseconds.
func timeout(ctx context.Context) *float64 {
	d := playwrightDefaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		d = time.Until(deadline)
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return playwright.Float(float64(d.Milliseconds()))
}

func (p *playwrightPage) check(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if p.gone() {
		return unavailable("page closed: %v", err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

func (p *playwrightPage) Navigate(ctx context.Context, url string) error {
	if p.gone() {
		return unavailable("page closed")
	}
	navCtx, cancel := navigationContext(ctx, p.cfg)
	defer cancel()

	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   timeout(navCtx),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", schemas.ErrPageLoad, url, p.check(navCtx, err))
	}
	return settle(ctx, p.cfg.PostLoadWait)
}

func (p *playwrightPage) Title(ctx context.Context) (string, error) {
	if p.gone() {
		return "", unavailable("page closed")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	title, err := p.page.Title()
	if err != nil {
		return "", p.check(ctx, err)
	}
	return title, nil
}

func (p *playwrightPage) QueryElements(ctx context.Context) ([]schemas.RawElement, error) {
	if p.gone() {
		return nil, unavailable("page closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, err := p.page.Evaluate(enumerateFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schemas.ErrElementQuery, p.check(ctx, err))
	}
	return decodeValue(value)
}

func (p *playwrightPage) CaptureScreenshot(ctx context.Context, selector string) (string, error) {
	if p.gone() {
		return "", unavailable("page closed")
	}

	var (
		data []byte
		err  error
	)
	if selector == "" {
		data, err = p.page.Screenshot(playwright.PageScreenshotOptions{
			FullPage: playwright.Bool(true),
			Type:     playwright.ScreenshotTypePng,
			Timeout:  timeout(ctx),
		})
	} else {
		data, err = p.page.Locator(selector).First().Screenshot(playwright.LocatorScreenshotOptions{
			Type:    playwright.ScreenshotTypePng,
			Timeout: timeout(ctx),
		})
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", schemas.ErrScreenshot, p.check(ctx, err))
	}

	path, err := p.shots.Save(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", schemas.ErrScreenshot, err)
	}
	return path, nil
}

// Close closes the page and its browser context.
func (p *playwrightPage) Close() error {
	if p.closed.Swap(true) || p.owner.closed.Load() {
		return nil
	}
	return p.bctx.Close()
}

// contextOptions builds the per-page browser context options.
func contextOptions(cfg config.BrowserConfig) playwright.BrowserNewContextOptions {
	width, height := viewport(cfg)
	opts := playwright.BrowserNewContextOptions{
		Viewport:          &playwright.Size{Width: width, Height: height},
		IgnoreHttpsErrors: playwright.Bool(cfg.IgnoreTLSErrors),
	}
	if cfg.UserAgent != "" {
		opts.UserAgent = playwright.String(cfg.UserAgent)
	}
	return opts
}
