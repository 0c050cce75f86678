// cmd/explore.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagescout/pagescout/api/schemas"
	"github.com/pagescout/pagescout/internal/config"
	"github.com/pagescout/pagescout/internal/observability"
	"github.com/pagescout/pagescout/internal/progress"
	"github.com/pagescout/pagescout/internal/scraper"
)

// exploreReport is the JSON document written by the explore command.
type exploreReport struct {
	Session schemas.SessionSnapshot `json:"session"`
	Results []schemas.ScrapeResult  `json:"results"`
}

func newExploreCmd() *cobra.Command {
	var output string
	var quiet bool

	exploreCmd := &cobra.Command{
		Use:   "explore <url>",
		Short: "Explores a site breadth-first and catalogs the elements of every page",
		Long: `Explores a site breadth-first, starting at the given URL. Every visited page is scraped
into an element catalog; links on the page feed the exploration frontier until the depth or
page limit is reached. Results are written as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFrom(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger().Named("explore")

			startURL, err := scraper.Normalize(withScheme(args[0]))
			if err != nil {
				return fmt.Errorf("invalid start URL %q: %w", args[0], err)
			}
			opts, err := scrapeOptions(cfg.Scrape())
			if err != nil {
				return err
			}

			c, err := newExploreComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := shutdownContext(cfg)
				defer cancel()
				c.Shutdown(shutdownCtx)
			}()

			sessionCfg := cfg.Exploration().SessionConfig(startURL, opts)
			if !quiet {
				sessionCfg.Progress = progressPrinter(cmd)
			}

			logger.Info("Starting exploration",
				zap.String("url", startURL),
				zap.Int("max_depth", sessionCfg.MaxDepth),
				zap.Int("max_pages", sessionCfg.MaxPages),
				zap.Bool("follow_external_links", sessionCfg.FollowExternalLinks))

			id, err := c.Registry.StartSession(ctx, sessionCfg)
			if err != nil {
				return fmt.Errorf("failed to start exploration: %w", err)
			}

			snapshot, waitErr := c.Registry.Wait(ctx, id)
			if waitErr != nil {
				if !errors.Is(waitErr, context.Canceled) && !errors.Is(waitErr, context.DeadlineExceeded) {
					return waitErr
				}
				// Interrupted: stop the session and report what was collected so far.
				c.Registry.Stop(id)
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				snapshot, _ = c.Registry.Wait(stopCtx, id)
				cancel()
			}

			report := exploreReport{Session: snapshot, Results: c.Registry.GetResults(id)}
			if err := writeJSON(cmd, output, report); err != nil {
				return err
			}

			logger.Info("Exploration finished",
				zap.Int64("session_id", int64(id)),
				zap.String("status", string(snapshot.Status)),
				zap.Int("pages_explored", snapshot.Stats.PagesExplored),
				zap.Int("pages_failed", snapshot.Stats.PagesFailed),
				zap.Int("elements", snapshot.Stats.ElementsDiscovered),
				zap.Int("cache_hits", snapshot.Stats.CacheHits))

			if waitErr != nil {
				return waitErr
			}
			if snapshot.Status == schemas.StatusFailed {
				return fmt.Errorf("exploration failed: %s", snapshot.FailureReason)
			}
			return nil
		},
	}

	exploreCmd.Flags().IntP("depth", "d", 2, "maximum link depth to follow from the start page")
	exploreCmd.Flags().IntP("pages", "p", 10, "maximum number of pages to visit")
	exploreCmd.Flags().Bool("external", false, "follow links to other hosts")
	exploreCmd.Flags().Bool("subdomains", false, "treat subdomains of the start host as internal")
	exploreCmd.Flags().Bool("screenshots", false, "capture page and element screenshots")
	exploreCmd.Flags().Duration("timeout", 30*time.Second, "timeout for a single page")
	exploreCmd.Flags().String("profile", "", "scrape profile: quick, standard, deep or screenshots")
	exploreCmd.Flags().StringVarP(&output, "output", "o", "-", "output file for the JSON report, - for stdout")
	exploreCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")

	return exploreCmd
}

// scrapeOptions applies the configured profile, if any. A profile replaces
// the individual settings, except that screenshots stay on when requested.
func scrapeOptions(cfg config.ScrapeConfig) (schemas.ScrapeOptions, error) {
	if cfg.Profile == "" {
		return cfg.Options(), nil
	}
	opts, err := scraper.ProfileOptions(cfg.Profile)
	if err != nil {
		return schemas.ScrapeOptions{}, err
	}
	opts.TakeScreenshots = opts.TakeScreenshots || cfg.TakeScreenshots
	return opts, nil
}

// progressPrinter reports progress lines on the command's error stream.
func progressPrinter(cmd *cobra.Command) schemas.ProgressSink {
	w := cmd.ErrOrStderr()
	return progress.Func(func(message string, current, total int) {
		fmt.Fprintf(w, "[%d/%d] %s\n", current, total, message)
	})
}
