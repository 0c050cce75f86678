// cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagescout/pagescout/api/schemas"
	"github.com/pagescout/pagescout/internal/browser"
	"github.com/pagescout/pagescout/internal/config"
	"github.com/pagescout/pagescout/internal/mocks"
	"github.com/pagescout/pagescout/internal/observability"
)

// -- Fake browser --

// fakeBrowser serves pages from a link graph keyed by normalized URL.
type fakeBrowser struct {
	graph map[string][]string

	mu       sync.Mutex
	opened   int
	closed   bool
	launched config.BrowserConfig
}

func (b *fakeBrowser) NewPage(context.Context) (schemas.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened++
	return &fakePage{graph: b.graph}, nil
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type fakePage struct {
	graph   map[string][]string
	current string
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	if _, ok := p.graph[url]; !ok {
		return fmt.Errorf("%w: 404 for %s", schemas.ErrPageLoad, url)
	}
	p.current = url
	return nil
}

func (p *fakePage) Title(context.Context) (string, error) { return "Title of " + p.current, nil }

func (p *fakePage) QueryElements(context.Context) ([]schemas.RawElement, error) {
	raws := []schemas.RawElement{{Selector: "#go", Tag: "button", ID: "go", Text: "Go", BoundingBox: schemas.BoundingBox{Width: 60, Height: 20}}}
	for i, l := range p.graph[p.current] {
		raws = append(raws, schemas.RawElement{
			Selector:    fmt.Sprintf("a:nth-of-type(%d)", i+1),
			Tag:         "a",
			Href:        l,
			Text:        l,
			BoundingBox: schemas.BoundingBox{Y: 30 * (i + 1), Width: 80, Height: 20},
		})
	}
	return raws, nil
}

func (p *fakePage) CaptureScreenshot(context.Context, string) (string, error) {
	return "/tmp/shot.png", nil
}

func (p *fakePage) Close() error { return nil }

var siteGraph = map[string][]string{
	"https://example.test/":        {"https://example.test/docs", "https://example.test/blog", "https://other.test/"},
	"https://example.test/docs":    {"https://example.test/docs/api"},
	"https://example.test/blog":    {"https://example.test/"},
	"https://example.test/docs/api": nil,
	"https://other.test/":          nil,
}

// -- Helpers --

func useFakeBrowser(t *testing.T) *fakeBrowser {
	t.Helper()
	fake := &fakeBrowser{graph: siteGraph}
	original := launchBrowser
	launchBrowser = func(_ context.Context, cfg config.BrowserConfig, _ *zap.Logger) (browser.Browser, error) {
		fake.mu.Lock()
		fake.launched = cfg
		fake.mu.Unlock()
		return fake, nil
	}
	t.Cleanup(func() { launchBrowser = original })
	return fake
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const baseConfig = `
logger:
  level: error
  format: json
exploration:
  navigation_delay: 0s
  screenshot_delay: 0s
  max_depth: 2
  max_pages: 10
`

// execute runs the command tree and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)
	t.Setenv("PAGESCOUT_DATABASE_URL", "")

	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// -- Tests --

func TestVersion(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "pagescout "+Version)

	stdout, _, err = execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", stdout)
}

func TestExplore(t *testing.T) {
	t.Run("writes a report of the whole site", func(t *testing.T) {
		fake := useFakeBrowser(t)
		cfgPath := writeConfig(t, baseConfig)

		stdout, stderr, err := execute(t, "explore", "example.test", "--config", cfgPath)
		require.NoError(t, err)

		var report exploreReport
		require.NoError(t, json.Unmarshal([]byte(stdout), &report))
		assert.Equal(t, schemas.StatusCompleted, report.Session.Status)
		assert.Equal(t, "https://example.test/", report.Session.StartURL)

		urls := make([]string, 0, len(report.Results))
		for _, r := range report.Results {
			assert.True(t, r.Success, r.URL)
			urls = append(urls, r.URL)
		}
		assert.Equal(t, []string{
			"https://example.test/",
			"https://example.test/docs",
			"https://example.test/blog",
			"https://example.test/docs/api",
		}, urls, "breadth-first order, external link skipped")
		assert.Equal(t, 4, report.Session.Stats.PagesExplored)

		assert.Contains(t, stderr, "[1/10]")
		assert.True(t, fake.closed, "the browser is closed on exit")
	})

	t.Run("flags override the config file", func(t *testing.T) {
		useFakeBrowser(t)
		cfgPath := writeConfig(t, baseConfig)

		stdout, _, err := execute(t, "explore", "https://example.test/", "--config", cfgPath, "--depth", "0", "-q")
		require.NoError(t, err)

		var report exploreReport
		require.NoError(t, json.Unmarshal([]byte(stdout), &report))
		require.Len(t, report.Results, 1)
		assert.Equal(t, "https://example.test/", report.Results[0].URL)
	})

	t.Run("follows external links when asked", func(t *testing.T) {
		useFakeBrowser(t)
		cfgPath := writeConfig(t, baseConfig)

		stdout, _, err := execute(t, "explore", "https://example.test/", "--config", cfgPath, "--depth", "1", "--external", "-q")
		require.NoError(t, err)

		var report exploreReport
		require.NoError(t, json.Unmarshal([]byte(stdout), &report))
		var urls []string
		for _, r := range report.Results {
			urls = append(urls, r.URL)
		}
		assert.Contains(t, urls, "https://other.test/")
	})

	t.Run("writes the report to a file", func(t *testing.T) {
		useFakeBrowser(t)
		cfgPath := writeConfig(t, baseConfig)
		out := filepath.Join(t.TempDir(), "reports", "site.json")

		stdout, stderr, err := execute(t, "explore", "https://example.test/", "--config", cfgPath, "--pages", "2", "-q", "-o", out)
		require.NoError(t, err)
		assert.Empty(t, stdout)
		assert.Contains(t, stderr, "Report written to")

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		var report exploreReport
		require.NoError(t, json.Unmarshal(data, &report))
		assert.Len(t, report.Results, 2)
	})

	t.Run("driver flag reaches the browser config", func(t *testing.T) {
		fake := useFakeBrowser(t)
		cfgPath := writeConfig(t, baseConfig)

		_, _, err := execute(t, "explore", "https://example.test/", "--config", cfgPath, "--driver", "rod", "--headful", "--pages", "1", "-q")
		require.NoError(t, err)
		assert.Equal(t, config.DriverRod, fake.launched.Driver)
		assert.False(t, fake.launched.Headless)
	})

	t.Run("rejects an invalid configuration", func(t *testing.T) {
		fake := useFakeBrowser(t)
		cfgPath := writeConfig(t, baseConfig+"engine:\n  max_concurrent_scrapes: 0\n")

		_, _, err := execute(t, "explore", "https://example.test/", "--config", cfgPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load or validate config")
		assert.Zero(t, fake.opened)
	})

	t.Run("rejects an unknown profile", func(t *testing.T) {
		useFakeBrowser(t)
		cfgPath := writeConfig(t, baseConfig)

		_, _, err := execute(t, "explore", "https://example.test/", "--config", cfgPath, "--profile", "exhaustive")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown scrape profile "exhaustive"`)
	})

	t.Run("requires exactly one URL", func(t *testing.T) {
		useFakeBrowser(t)
		_, _, err := execute(t, "explore")
		assert.Error(t, err)
	})
}

func TestScrape(t *testing.T) {
	t.Run("scrapes a single page", func(t *testing.T) {
		fake := useFakeBrowser(t)
		cfgPath := writeConfig(t, baseConfig)

		stdout, _, err := execute(t, "scrape", "https://example.test/docs", "--config", cfgPath)
		require.NoError(t, err)

		var result schemas.ScrapeResult
		require.NoError(t, json.Unmarshal([]byte(stdout), &result))
		assert.True(t, result.Success)
		assert.Equal(t, "Title of https://example.test/docs", result.Title)
		assert.Equal(t, []string{"https://example.test/docs/api"}, result.DiscoveredURLs)
		assert.Equal(t, 1, fake.opened)
	})

	t.Run("reports a failed page", func(t *testing.T) {
		useFakeBrowser(t)
		cfgPath := writeConfig(t, baseConfig)

		stdout, _, err := execute(t, "scrape", "https://example.test/missing", "--config", cfgPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "page_load")

		var result schemas.ScrapeResult
		require.NoError(t, json.Unmarshal([]byte(stdout), &result), "the failed result is still written")
		assert.False(t, result.Success)
	})
}

func TestScrapeOptions(t *testing.T) {
	base := config.ScrapeConfig{MaxElements: 50, MaxTextLength: 80, IncludeHidden: true}

	opts, err := scrapeOptions(base)
	require.NoError(t, err)
	assert.Equal(t, base.Options(), opts)

	base.Profile = "quick"
	base.TakeScreenshots = true
	opts, err = scrapeOptions(base)
	require.NoError(t, err)
	assert.Equal(t, 100, opts.MaxElements)
	assert.False(t, opts.IncludeHidden, "the profile replaces individual settings")
	assert.True(t, opts.TakeScreenshots, "explicit screenshots survive the profile")
}

func TestWithScheme(t *testing.T) {
	tests := map[string]string{
		"example.com":           "https://example.com",
		" example.com/docs ":    "https://example.com/docs",
		"http://example.com":    "http://example.com",
		"https://example.com/a": "https://example.com/a",
		"ftp://example.com":     "ftp://example.com",
	}
	for in, want := range tests {
		assert.Equal(t, want, withScheme(in), in)
	}
}

func TestConfigFrom(t *testing.T) {
	_, err := configFrom(context.Background())
	assert.Error(t, err)

	cfg := config.NewDefaultConfig()
	got, err := configFrom(context.WithValue(context.Background(), configKey, cfg))
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}

func TestShutdownContext(t *testing.T) {
	t.Run("uses the configured timeout", func(t *testing.T) {
		cfg := new(mocks.MockConfig)
		cfg.On("Engine").Return(config.EngineConfig{ShutdownTimeout: 5 * time.Second})

		ctx, cancel := shutdownContext(cfg)
		defer cancel()
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(5*time.Second), deadline, time.Second)
		cfg.AssertExpectations(t)
	})

	t.Run("falls back to thirty seconds", func(t *testing.T) {
		cfg := new(mocks.MockConfig)
		cfg.On("Engine").Return(config.EngineConfig{})

		ctx, cancel := shutdownContext(cfg)
		defer cancel()
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(30*time.Second), deadline, time.Second)
	})
}

func TestComponentsShutdown(t *testing.T) {
	fake := &fakeBrowser{graph: siteGraph}
	c := &components{Browser: fake, logger: zap.NewNop()}
	c.Shutdown(context.Background())
	assert.True(t, fake.closed)

	// Partially initialized components shut down without panicking.
	(&components{logger: zap.NewNop()}).Shutdown(context.Background())
}
