// internal/browser/rod.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/pagescout/pagescout/api/schemas"
	"github.com/pagescout/pagescout/internal/config"
)

// rodBrowser drives Chrome through go-rod.
type rodBrowser struct {
	cfg      config.BrowserConfig
	shots    *screenshotStore
	logger   *zap.Logger
	launcher *launcher.Launcher
	browser  *rod.Browser

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// newLauncher translates the browser config into a rod launcher.
func newLauncher(cfg config.BrowserConfig) *launcher.Launcher {
	l := launcher.New().Headless(cfg.Headless).NoSandbox(true).Set("disable-dev-shm-usage")

	bin := cfg.ExecPath
	if bin == "" {
		bin, _ = launcher.LookPath()
	}
	if bin != "" {
		l = l.Bin(bin)
	}
	if cfg.IgnoreTLSErrors {
		l = l.Set("ignore-certificate-errors")
	}

	width, height := viewport(cfg)
	l = l.Set("window-size", fmt.Sprintf("%d,%d", width, height))

	for _, arg := range cfg.Args {
		name, value, hasValue := splitArg(arg)
		if name == "" {
			continue
		}
		if hasValue {
			l = l.Set(flags.Flag(name), value)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}

func launchRod(ctx context.Context, cfg config.BrowserConfig, shots *screenshotStore, logger *zap.Logger) (*rodBrowser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := newLauncher(cfg)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to chrome: %w", err)
	}
	logger.Debug("Connected to chrome", zap.String("control_url", controlURL))

	return &rodBrowser{
		cfg:      cfg,
		shots:    shots,
		logger:   logger,
		launcher: l,
		browser:  b,
	}, nil
}

// NewPage opens a blank page with the configured viewport.
func (b *rodBrowser) NewPage(ctx context.Context) (schemas.Page, error) {
	if b.closed.Load() {
		return nil, unavailable("browser closed")
	}

	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		if b.closed.Load() {
			return nil, unavailable("browser closed while opening page")
		}
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	// Drop the creation context so later calls only see their own.
	page = page.Context(context.Background())

	width, height := viewport(b.cfg)
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	}); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}
	if b.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.cfg.UserAgent}); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("failed to set user agent: %w", err)
		}
	}

	return &rodPage{page: page, owner: b, cfg: b.cfg, shots: b.shots}, nil
}

// Close disconnects and kills the browser process.
func (b *rodBrowser) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.closeErr = b.browser.Close()
		b.launcher.Kill()
		b.logger.Info("Browser closed")
	})
	return b.closeErr
}

// rodPage is a single rod page.
type rodPage struct {
	page   *rod.Page
	owner  *rodBrowser
	cfg    config.BrowserConfig
	shots  *screenshotStore
	closed atomic.Bool
}

func (p *rodPage) gone() bool {
	return p.closed.Load() || p.owner.closed.Load()
}

// check maps errors observed after the page or browser went away.
func (p *rodPage) check(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if p.gone() {
		return unavailable("page closed: %v", err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	if p.gone() {
		return unavailable("page closed")
	}
	navCtx, cancel := navigationContext(ctx, p.cfg)
	defer cancel()

	page := p.page.Context(navCtx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("%w: %s: %w", schemas.ErrPageLoad, url, p.check(navCtx, err))
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("%w: %s: %w", schemas.ErrPageLoad, url, p.check(navCtx, err))
	}
	return settle(ctx, p.cfg.PostLoadWait)
}

func (p *rodPage) Title(ctx context.Context) (string, error) {
	if p.gone() {
		return "", unavailable("page closed")
	}
	res, err := p.page.Context(ctx).Eval(`() => document.title`)
	if err != nil {
		return "", p.check(ctx, err)
	}
	return res.Value.String(), nil
}

func (p *rodPage) QueryElements(ctx context.Context) ([]schemas.RawElement, error) {
	if p.gone() {
		return nil, unavailable("page closed")
	}
	res, err := p.page.Context(ctx).Eval(enumerateFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schemas.ErrElementQuery, p.check(ctx, err))
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schemas.ErrElementQuery, err)
	}
	return decodeElements(raw)
}

func (p *rodPage) CaptureScreenshot(ctx context.Context, selector string) (string, error) {
	if p.gone() {
		return "", unavailable("page closed")
	}
	page := p.page.Context(ctx)

	var (
		data []byte
		err  error
	)
	if selector == "" {
		data, err = page.Screenshot(true, &proto.PageCaptureScreenshot{
			Format: proto.PageCaptureScreenshotFormatPng,
		})
	} else {
		var el *rod.Element
		// Element retries until found, so a missing node is bounded by ctx.
		el, err = page.Element(selector)
		if err == nil {
			data, err = el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
		}
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

// Close closes the page. Further calls report the collaborator as unavailable.
func (p *rodPage) Close() error {
	if p.closed.Swap(true) || p.owner.closed.Load() {
		return nil
	}
	return p.page.Close()
}
