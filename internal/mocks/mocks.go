// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/pagescout/pagescout/api/schemas"
	"github.com/pagescout/pagescout/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Exploration() config.ExplorationConfig {
	args := m.Called()
	return args.Get(0).(config.ExplorationConfig)
}

func (m *MockConfig) Scrape() config.ScrapeConfig {
	args := m.Called()
	return args.Get(0).(config.ScrapeConfig)
}

func (m *MockConfig) Cache() config.CacheConfig {
	args := m.Called()
	return args.Get(0).(config.CacheConfig)
}

// --- Setters ---

func (m *MockConfig) SetExplorationMaxDepth(d int) { m.Called(d) }
func (m *MockConfig) SetExplorationMaxPages(n int) { m.Called(n) }
func (m *MockConfig) SetExplorationFollowExternalLinks(b bool) {
	m.Called(b)
}
func (m *MockConfig) SetExplorationPageTimeout(d time.Duration) { m.Called(d) }
func (m *MockConfig) SetScrapeTakeScreenshots(b bool)           { m.Called(b) }
func (m *MockConfig) SetScrapeProfile(p string)                 { m.Called(p) }
func (m *MockConfig) SetBrowserDriver(d string)                 { m.Called(d) }
func (m *MockConfig) SetBrowserHeadless(b bool)                 { m.Called(b) }

// -- Page Mocks --

// MockPage mocks a schemas.Page.
type MockPage struct {
	mock.Mock
}

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockPage) Title(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) QueryElements(ctx context.Context) ([]schemas.RawElement, error) {
	args := m.Called(ctx)
	var raws []schemas.RawElement
	if v := args.Get(0); v != nil {
		raws = v.([]schemas.RawElement)
	}
	return raws, args.Error(1)
}

func (m *MockPage) CaptureScreenshot(ctx context.Context, selector string) (string, error) {
	args := m.Called(ctx, selector)
	return args.String(0), args.Error(1)
}

func (m *MockPage) Close() error { return m.Called().Error(0) }

// MockPageFactory mocks a schemas.PageFactory.
type MockPageFactory struct {
	mock.Mock
}

func (m *MockPageFactory) NewPage(ctx context.Context) (schemas.Page, error) {
	args := m.Called(ctx)
	var page schemas.Page
	if v := args.Get(0); v != nil {
		page = v.(schemas.Page)
	}
	return page, args.Error(1)
}

// -- Persister Mock --

// MockPersister mocks a schemas.Persister.
type MockPersister struct {
	mock.Mock
}

func (m *MockPersister) Store(ctx context.Context, sessionID schemas.SessionID, result schemas.ScrapeResult) (string, error) {
	args := m.Called(ctx, sessionID, result)
	return args.String(0), args.Error(1)
}

func (m *MockPersister) Retrieve(ctx context.Context, storageID string) (schemas.ScrapeResult, bool, error) {
	args := m.Called(ctx, storageID)
	return args.Get(0).(schemas.ScrapeResult), args.Bool(1), args.Error(2)
}

func (m *MockPersister) Exists(ctx context.Context, storageID string) (bool, error) {
	args := m.Called(ctx, storageID)
	return args.Bool(0), args.Error(1)
}

func (m *MockPersister) StoreBatch(ctx context.Context, sessionID schemas.SessionID, results []schemas.ScrapeResult) ([]string, error) {
	args := m.Called(ctx, sessionID, results)
	var ids []string
	if v := args.Get(0); v != nil {
		ids = v.([]string)
	}
	return ids, args.Error(1)
}

func (m *MockPersister) RetrieveBatch(ctx context.Context, storageIDs []string) ([]schemas.ScrapeResult, error) {
	args := m.Called(ctx, storageIDs)
	var results []schemas.ScrapeResult
	if v := args.Get(0); v != nil {
		results = v.([]schemas.ScrapeResult)
	}
	return results, args.Error(1)
}

func (m *MockPersister) FindBySession(ctx context.Context, sessionID schemas.SessionID) ([]schemas.ScrapeResult, error) {
	args := m.Called(ctx, sessionID)
	var results []schemas.ScrapeResult
	if v := args.Get(0); v != nil {
		results = v.([]schemas.ScrapeResult)
	}
	return results, args.Error(1)
}

// -- Progress Sink Mock --

// MockProgressSink mocks a schemas.ProgressSink.
type MockProgressSink struct {
	mock.Mock
}

func (m *MockProgressSink) Report(message string, current, total int) {
	m.Called(message, current, total)
}
