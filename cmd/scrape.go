// cmd/scrape.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagescout/pagescout/internal/observability"
	"github.com/pagescout/pagescout/internal/scraper"
)

func newScrapeCmd() *cobra.Command {
	var output string

	scrapeCmd := &cobra.Command{
		Use:   "scrape <url>",
		Short: "Scrapes a single page into an element catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFrom(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger().Named("scrape")

			target, err := scraper.Normalize(withScheme(args[0]))
			if err != nil {
				return fmt.Errorf("invalid URL %q: %w", args[0], err)
			}
			opts, err := scrapeOptions(cfg.Scrape())
			if err != nil {
				return err
			}

			c, err := newScrapeComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := shutdownContext(cfg)
				defer cancel()
				c.Shutdown(shutdownCtx)
			}()

			page, err := c.Browser.NewPage(ctx)
			if err != nil {
				return fmt.Errorf("failed to open page: %w", err)
			}
			defer page.Close()

			result := c.Executor.Execute(ctx, page, target, 0, opts,
				scraper.WithPageTimeout(cfg.Exploration().PageTimeout),
				scraper.WithScreenshotDelay(cfg.Exploration().ScreenshotDelay),
			)
			if err := writeJSON(cmd, output, result); err != nil {
				return err
			}

			if !result.Success {
				logger.Warn("Scrape failed",
					zap.String("url", target),
					zap.String("kind", string(result.ErrorKind)),
					zap.String("error", result.ErrorMessage))
				return fmt.Errorf("scrape of %s failed (%s): %s", target, result.ErrorKind, result.ErrorMessage)
			}
			logger.Info("Scrape finished",
				zap.String("url", target),
				zap.Int("elements", len(result.Elements)),
				zap.Int("links", len(result.DiscoveredURLs)))
			return nil
		},
	}

	scrapeCmd.Flags().String("profile", "", "scrape profile: quick, standard, deep or screenshots")
	scrapeCmd.Flags().Bool("screenshots", false, "capture page and element screenshots")
	scrapeCmd.Flags().Duration("timeout", 0, "timeout for the page, overrides exploration.page_timeout")
	scrapeCmd.Flags().StringVarP(&output, "output", "o", "-", "output file for the JSON result, - for stdout")
	return scrapeCmd
}
