// cmd/components.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pagescout/pagescout/api/schemas"
	"github.com/pagescout/pagescout/internal/browser"
	"github.com/pagescout/pagescout/internal/cache"
	"github.com/pagescout/pagescout/internal/config"
	"github.com/pagescout/pagescout/internal/registry"
	"github.com/pagescout/pagescout/internal/scraper"
	"github.com/pagescout/pagescout/internal/store"
)

// Replaced in tests to run commands without a real browser.
var launchBrowser = func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browser.Browser, error) {
	return browser.Launch(ctx, cfg, logger)
}

// components holds everything a command wires together. Fields stay nil when
// a command does not need them.
type components struct {
	Cache     *cache.Cache
	Executor  *scraper.Executor
	Browser   browser.Browser
	Persister schemas.Persister
	Registry  *registry.Registry

	pool   *pgxpool.Pool
	logger *zap.Logger
}

// newScrapeComponents wires the cache, the executor and the browser.
func newScrapeComponents(ctx context.Context, cfg config.Interface, logger *zap.Logger) (c *components, err error) {
	c = &components{logger: logger}
	defer func() {
		if err != nil {
			logger.Warn("Initialization failed, shutting down partially created components", zap.Error(err))
			c.Shutdown(context.Background())
			c = nil
		}
	}()

	if c.Cache, err = cache.New(cfg.Cache(), logger); err != nil {
		return c, fmt.Errorf("failed to create scrape cache: %w", err)
	}
	if c.Executor, err = scraper.New(c.Cache, cfg.Engine(), logger); err != nil {
		return c, fmt.Errorf("failed to create scrape executor: %w", err)
	}
	if c.Browser, err = launchBrowser(ctx, cfg.Browser(), logger); err != nil {
		return c, fmt.Errorf("failed to launch browser: %w", err)
	}
	return c, nil
}

// newExploreComponents adds the persister and the session registry.
func newExploreComponents(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*components, error) {
	c, err := newScrapeComponents(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := c.initPersister(ctx, cfg.Database()); err != nil {
		c.Shutdown(context.Background())
		return nil, err
	}

	c.Registry, err = registry.New(c.Browser, c.Executor, cfg.Engine(),
		registry.WithPersister(c.Persister),
		registry.WithLogger(logger),
	)
	if err != nil {
		c.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create session registry: %w", err)
	}
	return c, nil
}

// initPersister connects to PostgreSQL when a URL is configured and falls
// back to the in-memory store otherwise.
func (c *components) initPersister(ctx context.Context, db config.DatabaseConfig) error {
	if db.URL == "" {
		c.logger.Debug("No database configured, keeping results in memory")
		c.Persister = store.NewMemoryStore()
		return nil
	}

	pool, err := store.Connect(ctx, db.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	c.pool = pool

	pg, err := store.New(ctx, pool, c.logger)
	if err != nil {
		return fmt.Errorf("failed to create result store: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		return err
	}
	c.Persister = pg
	return nil
}

// Shutdown stops running sessions, then releases the browser and the
// database pool. It is safe on partially initialized components.
func (c *components) Shutdown(ctx context.Context) {
	if c.Registry != nil {
		if err := c.Registry.Shutdown(ctx); err != nil {
			c.logger.Warn("Session registry did not shut down cleanly", zap.Error(err))
		}
	}
	if c.Browser != nil {
		if err := c.Browser.Close(); err != nil {
			c.logger.Warn("Failed to close browser", zap.Error(err))
		}
	}
	if c.pool != nil {
		c.pool.Close()
	}
}

// shutdownContext bounds Shutdown by the configured timeout. It does not
// derive from the command context, which may already be canceled.
func shutdownContext(cfg config.Interface) (context.Context, context.CancelFunc) {
	timeout := cfg.Engine().ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}
