// internal/browser/browser.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pagescout/pagescout/api/schemas"
	"github.com/pagescout/pagescout/internal/config"
)

const (
	defaultViewportWidth  = 1280
	defaultViewportHeight = 800
)

// Browser is a running browser process that hands out pages. Close tears down
// every page it opened.
type Browser interface {
	schemas.PageFactory
	Close() error
}

// Launch starts the browser selected by cfg.Driver.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	shots, err := newScreenshotStore(cfg.ScreenshotDir)
	if err != nil {
		return nil, err
	}

	log := logger.Named("browser").With(zap.String("driver", cfg.Driver))
	log.Info("Launching browser",
		zap.Bool("headless", cfg.Headless),
		zap.String("screenshot_dir", shots.Dir()))

	switch cfg.Driver {
	case config.DriverChromedp, "":
		return launchChromedp(ctx, cfg, shots, log)
	case config.DriverRod:
		return launchRod(ctx, cfg, shots, log)
	case config.DriverPlaywright:
		return launchPlaywright(ctx, cfg, shots, log)
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.Driver)
	}
}

// viewport resolves the configured viewport with defaults.
func viewport(cfg config.BrowserConfig) (width, height int) {
	width, height = cfg.Viewport["width"], cfg.Viewport["height"]
	if width <= 0 {
		width = defaultViewportWidth
	}
	if height <= 0 {
		height = defaultViewportHeight
	}
	return width, height
}

// splitArg turns "--name=value", "name=value" or "--flag" into a flag name
// without dashes and its optional value.
func splitArg(arg string) (name, value string, hasValue bool) {
	trimmed := strings.TrimLeft(arg, "-")
	return strings.Cut(trimmed, "=")
}

// navigationContext applies the per navigation timeout when one is set.
func navigationContext(ctx context.Context, cfg config.BrowserConfig) (context.Context, context.CancelFunc) {
	if cfg.NavigationTimeout > 0 {
		return context.WithTimeout(ctx, cfg.NavigationTimeout)
	}
	return context.WithCancel(ctx)
}

// settle waits for the configured post load delay.
func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// combineContext derives from primary, which carries driver state, and is
// also canceled when secondary is.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

func unavailable(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", schemas.ErrCollaboratorUnavailable, fmt.Sprintf(format, args...))
}
