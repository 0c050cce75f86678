// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/pagescout/pagescout/api/schemas"
)

// Interface is the read and override surface of the application configuration.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Engine() EngineConfig
	Browser() BrowserConfig
	Exploration() ExplorationConfig
	Scrape() ScrapeConfig
	Cache() CacheConfig

	// Exploration Setters
	SetExplorationMaxDepth(int)
	SetExplorationMaxPages(int)
	SetExplorationFollowExternalLinks(bool)
	SetExplorationPageTimeout(time.Duration)

	// Scrape Setters
	SetScrapeTakeScreenshots(bool)
	SetScrapeProfile(string)

	// Browser Setters
	SetBrowserDriver(string)
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	EngineCfg      EngineConfig      `mapstructure:"engine" yaml:"engine"`
	BrowserCfg     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	ExplorationCfg ExplorationConfig `mapstructure:"exploration" yaml:"exploration"`
	ScrapeCfg      ScrapeConfig      `mapstructure:"scrape" yaml:"scrape"`
	CacheCfg       CacheConfig       `mapstructure:"cache" yaml:"cache"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig       { return c.DatabaseCfg }
func (c *Config) Engine() EngineConfig           { return c.EngineCfg }
func (c *Config) Browser() BrowserConfig         { return c.BrowserCfg }
func (c *Config) Exploration() ExplorationConfig { return c.ExplorationCfg }
func (c *Config) Scrape() ScrapeConfig           { return c.ScrapeCfg }
func (c *Config) Cache() CacheConfig             { return c.CacheCfg }

// --- Interface Method Implementations (Setters) ---

// Exploration Setters
func (c *Config) SetExplorationMaxDepth(d int)  { c.ExplorationCfg.MaxDepth = d }
func (c *Config) SetExplorationMaxPages(n int)  { c.ExplorationCfg.MaxPages = n }
func (c *Config) SetExplorationFollowExternalLinks(b bool) {
	c.ExplorationCfg.FollowExternalLinks = b
}
func (c *Config) SetExplorationPageTimeout(d time.Duration) { c.ExplorationCfg.PageTimeout = d }

// Scrape Setters
func (c *Config) SetScrapeTakeScreenshots(b bool) { c.ScrapeCfg.TakeScreenshots = b }
func (c *Config) SetScrapeProfile(p string)       { c.ScrapeCfg.Profile = p }

// Browser Setters
func (c *Config) SetBrowserDriver(d string)  { c.BrowserCfg.Driver = d }
func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details.
// An empty URL keeps scrape results in memory only.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EngineConfig bounds the work the engine does concurrently.
type EngineConfig struct {
	// MaxConcurrentScrapes caps cache-miss scrapes across all sessions.
	MaxConcurrentScrapes int `mapstructure:"max_concurrent_scrapes" yaml:"max_concurrent_scrapes"`
	// MaxSessions caps running sessions. Zero means unlimited.
	MaxSessions     int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	ProgressBuffer  int           `mapstructure:"progress_buffer" yaml:"progress_buffer"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Browser drivers.
const (
	DriverChromedp   = "chromedp"
	DriverRod        = "rod"
	DriverPlaywright = "playwright"
)

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Driver            string         `mapstructure:"driver" yaml:"driver"`
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath          string         `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	// UserAgent overrides the browser's default user agent when set.
	UserAgent         string         `mapstructure:"user_agent" yaml:"user_agent"`
	ScreenshotDir     string         `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration  `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// ExplorationConfig configures breadth-first exploration sessions.
type ExplorationConfig struct {
	MaxDepth            int           `mapstructure:"max_depth" yaml:"max_depth"`
	MaxPages            int           `mapstructure:"max_pages" yaml:"max_pages"`
	FollowExternalLinks bool          `mapstructure:"follow_external_links" yaml:"follow_external_links"`
	IncludeSubdomains   bool          `mapstructure:"include_subdomains" yaml:"include_subdomains"`
	PageTimeout         time.Duration `mapstructure:"page_timeout" yaml:"page_timeout"`
	NavigationDelay     time.Duration `mapstructure:"navigation_delay" yaml:"navigation_delay"`
	ScreenshotDelay     time.Duration `mapstructure:"screenshot_delay" yaml:"screenshot_delay"`
}

// SessionConfig builds a session configuration rooted at startURL.
func (e ExplorationConfig) SessionConfig(startURL string, scrape schemas.ScrapeOptions) schemas.SessionConfig {
	return schemas.SessionConfig{
		StartURL:            startURL,
		MaxDepth:            e.MaxDepth,
		MaxPages:            e.MaxPages,
		FollowExternalLinks: e.FollowExternalLinks,
		IncludeSubdomains:   e.IncludeSubdomains,
		PageTimeout:         e.PageTimeout,
		NavigationDelay:     e.NavigationDelay,
		ScreenshotDelay:     e.ScreenshotDelay,
		Scrape:              scrape,
	}
}

// ScrapeConfig holds the per-page scrape settings.
type ScrapeConfig struct {
	// Profile names a preset that replaces the fields below when set.
	Profile             string `mapstructure:"profile" yaml:"profile"`
	TakeScreenshots     bool   `mapstructure:"take_screenshots" yaml:"take_screenshots"`
	IncludeHidden       bool   `mapstructure:"include_hidden" yaml:"include_hidden"`
	MaxElements         int    `mapstructure:"max_elements" yaml:"max_elements"`
	MaxTextLength       int    `mapstructure:"max_text_length" yaml:"max_text_length"`
	ExcludeFormData     bool   `mapstructure:"exclude_form_data" yaml:"exclude_form_data"`
	ExcludePositionData bool   `mapstructure:"exclude_position_data" yaml:"exclude_position_data"`
}

// Options converts the settings into scrape options.
func (s ScrapeConfig) Options() schemas.ScrapeOptions {
	return schemas.ScrapeOptions{
		IncludeHidden:       s.IncludeHidden,
		MaxElements:         s.MaxElements,
		TakeScreenshots:     s.TakeScreenshots,
		MaxTextLength:       s.MaxTextLength,
		ExcludeFormData:     s.ExcludeFormData,
		ExcludePositionData: s.ExcludePositionData,
	}
}

// CacheConfig configures the scrape result cache.
type CacheConfig struct {
	// TTL of successful results. Zero means entries never expire.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
	// FailureTTL of failed results, so that transient errors are retried soon.
	FailureTTL time.Duration `mapstructure:"failure_ttl" yaml:"failure_ttl"`
	MaxEntries int           `mapstructure:"max_entries" yaml:"max_entries"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pagescout")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.max_concurrent_scrapes", 4)
	v.SetDefault("engine.max_sessions", 0)
	v.SetDefault("engine.progress_buffer", 64)
	v.SetDefault("engine.shutdown_timeout", "30s")

	// -- Browser --
	v.SetDefault("browser.driver", DriverChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 800})
	v.SetDefault("browser.screenshot_dir", "~/.pagescout/screenshots")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.post_load_wait", "500ms")

	// -- Exploration --
	v.SetDefault("exploration.max_depth", 2)
	v.SetDefault("exploration.max_pages", 10)
	v.SetDefault("exploration.follow_external_links", false)
	v.SetDefault("exploration.include_subdomains", false)
	v.SetDefault("exploration.page_timeout", "30s")
	v.SetDefault("exploration.navigation_delay", "1s")
	v.SetDefault("exploration.screenshot_delay", "500ms")

	// -- Scrape --
	v.SetDefault("scrape.profile", "")
	v.SetDefault("scrape.take_screenshots", false)
	v.SetDefault("scrape.include_hidden", false)
	v.SetDefault("scrape.max_elements", schemas.DefaultMaxElements)
	v.SetDefault("scrape.max_text_length", schemas.DefaultMaxTextLength)

	// -- Cache --
	v.SetDefault("cache.ttl", "0s")
	v.SetDefault("cache.failure_ttl", "30s")
	v.SetDefault("cache.max_entries", 1024)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The DSN usually carries a password, so it gets a dedicated variable.
	_ = v.BindEnv("database.url", "PAGESCOUT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.MaxConcurrentScrapes <= 0 {
		return fmt.Errorf("engine.max_concurrent_scrapes must be a positive integer")
	}
	if c.EngineCfg.MaxSessions < 0 {
		return fmt.Errorf("engine.max_sessions must not be negative")
	}
	switch c.BrowserCfg.Driver {
	case DriverChromedp, DriverRod, DriverPlaywright:
	default:
		return fmt.Errorf("browser.driver must be one of %q, %q or %q, got %q", DriverChromedp, DriverRod, DriverPlaywright, c.BrowserCfg.Driver)
	}
	if err := c.ExplorationCfg.Validate(); err != nil {
		return fmt.Errorf("exploration configuration invalid: %w", err)
	}
	if err := c.ScrapeCfg.Validate(); err != nil {
		return fmt.Errorf("scrape configuration invalid: %w", err)
	}
	if err := c.CacheCfg.Validate(); err != nil {
		return fmt.Errorf("cache configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the ExplorationConfig settings.
func (e *ExplorationConfig) Validate() error {
	if e.MaxDepth < 0 {
		return fmt.Errorf("max_depth must not be negative")
	}
	if e.MaxPages < 1 {
		return fmt.Errorf("max_pages must be at least 1")
	}
	if e.PageTimeout < 0 || e.NavigationDelay < 0 || e.ScreenshotDelay < 0 {
		return fmt.Errorf("page_timeout, navigation_delay and screenshot_delay must not be negative")
	}
	return nil
}

// Validate checks the ScrapeConfig settings.
func (s *ScrapeConfig) Validate() error {
	if s.MaxElements < 1 {
		return fmt.Errorf("max_elements must be at least 1")
	}
	if s.MaxTextLength < 1 {
		return fmt.Errorf("max_text_length must be at least 1")
	}
	return nil
}

// Validate checks the CacheConfig settings.
func (c *CacheConfig) Validate() error {
	if c.MaxEntries < 1 {
		return fmt.Errorf("max_entries must be at least 1")
	}
	if c.TTL < 0 || c.FailureTTL < 0 {
		return fmt.Errorf("ttl and failure_ttl must not be negative")
	}
	return nil
}
