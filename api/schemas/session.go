package schemas

import (
	"fmt"
	"time"
)

// -- Session Schemas --

// SessionID identifies an exploration session for the lifetime of the process.
type SessionID int64

// SessionStatus is the lifecycle state of an exploration session.
type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"
	StatusRunning   SessionStatus = "running"
	StatusStopped   SessionStatus = "stopped"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// IsTerminal reports whether no further transition can leave this status.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusStopped, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal, forward transition.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusStopped || next == StatusFailed
	case StatusRunning:
		return next.IsTerminal()
	}
	return false
}

// SessionStats are the counters of one session. They never decrease while it runs.
type SessionStats struct {
	PagesExplored      int       `json:"pagesExplored"`
	PagesFailed        int       `json:"pagesFailed"`
	ElementsDiscovered int       `json:"elementsDiscovered"`
	ScreenshotsTaken   int       `json:"screenshotsTaken"`
	CacheHits          int       `json:"cacheHits"`
	StartedAt          time.Time `json:"startedAt,omitempty"`
	FinishedAt         time.Time `json:"finishedAt,omitempty"`
}

// SessionConfig describes one bounded exploration run.
type SessionConfig struct {
	StartURL            string
	Label               string
	MaxDepth            int
	MaxPages            int
	FollowExternalLinks bool
	// IncludeSubdomains treats hosts sharing the start URL's registrable domain as internal.
	IncludeSubdomains bool
	// PageTimeout bounds a single page scrape. Zero means no timeout.
	PageTimeout time.Duration
	// NavigationDelay is the minimum spacing between page loads of one session.
	NavigationDelay time.Duration
	// ScreenshotDelay is waited after navigation before screenshots are captured.
	ScreenshotDelay time.Duration
	Scrape          ScrapeOptions
	Progress        ProgressSink
}

// Validate checks the structural limits of the configuration.
func (c SessionConfig) Validate() error {
	if c.StartURL == "" {
		return fmt.Errorf("start URL is required")
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max depth must be >= 0, got %d", c.MaxDepth)
	}
	if c.MaxPages < 1 {
		return fmt.Errorf("max pages must be >= 1, got %d", c.MaxPages)
	}
	if c.PageTimeout < 0 {
		return fmt.Errorf("page timeout must be >= 0, got %s", c.PageTimeout)
	}
	if c.Scrape.MaxElements < 0 {
		return fmt.Errorf("max elements must be >= 1, got %d", c.Scrape.MaxElements)
	}
	return nil
}

// SessionSnapshot is a consistent, read-only view of a session for pollers.
type SessionSnapshot struct {
	ID             SessionID     `json:"id"`
	Label          string        `json:"label,omitempty"`
	StartURL       string        `json:"startUrl"`
	Status         SessionStatus `json:"status"`
	Stats          SessionStats  `json:"stats"`
	FailureReason  string        `json:"failureReason,omitempty"`
	FrontierLength int           `json:"frontierLength"`
	ResultCount    int           `json:"resultCount"`
}
