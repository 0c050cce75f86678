package schemas

import (
	"context"
	"errors"
)

// -- Errors --

var (
	// ErrPageLoad is returned by a Page when navigation fails.
	ErrPageLoad = errors.New("page load failed")
	// ErrElementQuery is returned by a Page when it cannot enumerate elements.
	ErrElementQuery = errors.New("element query failed")
	// ErrScreenshot marks a failed screenshot capture. It is never fatal.
	ErrScreenshot = errors.New("screenshot capture failed")
	// ErrCollaboratorUnavailable signals that the page collaborator is gone for good.
	// A session that observes it transitions to Failed.
	ErrCollaboratorUnavailable = errors.New("page collaborator unavailable")
	// ErrSessionFault wraps internal invariant violations of a session.
	ErrSessionFault = errors.New("session fault")
	// ErrInvalidSessionID is returned by the few registry calls that report unknown IDs.
	ErrInvalidSessionID = errors.New("invalid session id")
)

// -- Collaborator Interfaces --

// Page is a single browser tab driven by exactly one session worker.
// Implementations need not be safe for concurrent use.
type Page interface {
	// Navigate loads url and waits for it to settle.
	Navigate(ctx context.Context, url string) error
	// Title returns the document title of the current page.
	Title(ctx context.Context) (string, error)
	// QueryElements enumerates candidate elements of the current page in document order.
	QueryElements(ctx context.Context) ([]RawElement, error)
	// CaptureScreenshot captures the element matching selector, or the full page when
	// selector is empty, and returns a reference to the stored artifact.
	CaptureScreenshot(ctx context.Context, selector string) (string, error)
	// Close releases the tab.
	Close() error
}

// PageFactory opens pages. Each exploration session owns the page it receives.
type PageFactory interface {
	NewPage(ctx context.Context) (Page, error)
}

// ProgressSink receives fire-and-forget progress notifications.
// A sink must not rely on being called for correctness of anything.
type ProgressSink interface {
	Report(message string, current, total int)
}

// Persister stores scrape results beyond the lifetime of the process.
//
//go:generate mockery --name Persister --output ../../internal/mocks --outpkg mocks
type Persister interface {
	// Store saves a result and returns its storage ID.
	Store(ctx context.Context, sessionID SessionID, result ScrapeResult) (string, error)
	// Retrieve loads a stored result. The bool is false when the ID is unknown.
	Retrieve(ctx context.Context, storageID string) (ScrapeResult, bool, error)
	// Exists reports whether a storage ID is known.
	Exists(ctx context.Context, storageID string) (bool, error)
	// StoreBatch saves several results of one session, returning IDs in input order.
	StoreBatch(ctx context.Context, sessionID SessionID, results []ScrapeResult) ([]string, error)
	// RetrieveBatch loads the known IDs, skipping unknown ones.
	RetrieveBatch(ctx context.Context, storageIDs []string) ([]ScrapeResult, error)
	// FindBySession returns all results stored for a session in storage order.
	FindBySession(ctx context.Context, sessionID SessionID) ([]ScrapeResult, error)
}
