// internal/explorer/session.go
package explorer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pagescout/pagescout/api/schemas"
	"github.com/pagescout/pagescout/internal/scraper"
)

// Scraper is the part of the scrape executor a session depends on.
type Scraper interface {
	Execute(ctx context.Context, page schemas.Page, rawURL string, depth int, opts schemas.ScrapeOptions, callOpts ...scraper.CallOption) schemas.ScrapeResult
}

// Session is one bounded, breadth-first exploration run. Its step loop runs on
// a single goroutine; every other method is safe for concurrent use.
type Session struct {
	id        schemas.SessionID
	cfg       schemas.SessionConfig
	startURL  string
	page      schemas.Page
	scraper   Scraper
	scope     *Scope
	limiter   *rate.Limiter
	persister schemas.Persister
	logger    *zap.Logger

	mu            sync.RWMutex
	status        schemas.SessionStatus
	stats         schemas.SessionStats
	results       []schemas.ScrapeResult
	frontier      *frontier
	visited       map[string]struct{}
	failureReason string

	stopRequested atomic.Bool
	cancel        context.CancelFunc
	done          chan struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithPersister hands every result to p after it is recorded.
func WithPersister(p schemas.Persister) Option {
	return func(s *Session) { s.persister = p }
}

// WithLogger sets the session logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Pending session that will drive page. The session owns the
// page and closes it when it reaches a terminal state.
func New(id schemas.SessionID, cfg schemas.SessionConfig, page schemas.Page, sc Scraper, opts ...Option) (*Session, error) {
	if page == nil {
		return nil, fmt.Errorf("page cannot be nil")
	}
	if sc == nil {
		return nil, fmt.Errorf("scraper cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session configuration: %w", err)
	}
	startURL, err := scraper.Normalize(cfg.StartURL)
	if err != nil {
		return nil, fmt.Errorf("invalid start URL: %w", err)
	}
	scope, err := NewScope(startURL, cfg.FollowExternalLinks, cfg.IncludeSubdomains)
	if err != nil {
		return nil, fmt.Errorf("could not determine scope: %w", err)
	}

	s := &Session{
		id:       id,
		cfg:      cfg,
		startURL: startURL,
		page:     page,
		scraper:  sc,
		scope:    scope,
		logger:   zap.NewNop(),
		status:   schemas.StatusPending,
		frontier: newFrontier(),
		visited:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("explorer").With(zap.Int64("sessionID", int64(id)))

	if cfg.NavigationDelay > 0 {
		s.limiter = rate.NewLimiter(rate.Every(cfg.NavigationDelay), 1)
	}
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() schemas.SessionID { return s.id }

// Start moves the session to Running and launches the step loop. The loop
// lives as long as ctx; cancelling ctx stops the session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != schemas.StatusPending {
		status := s.status
		s.mu.Unlock()
		return fmt.Errorf("session %d cannot start from status %s", s.id, status)
	}
	s.status = schemas.StatusRunning
	s.stats.StartedAt = time.Now().UTC()
	s.frontier.Push(item{URL: s.startURL, Depth: 0})
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("Starting exploration session",
		zap.String("startURL", s.startURL),
		zap.Int("maxDepth", s.cfg.MaxDepth),
		zap.Int("maxPages", s.cfg.MaxPages))

	go s.run(runCtx)
	return nil
}

// Stop requests a cooperative stop. A Pending session stops immediately; a
// Running one finishes its in-flight page first. Stop returns false when the
// session had already reached a terminal state.
func (s *Session) Stop() bool {
	if s.finishFrom(schemas.StatusPending, schemas.StatusStopped, "") {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == schemas.StatusRunning {
		s.stopRequested.Store(true)
		return true
	}
	return false
}

// Abort cancels the context of the step loop, interrupting in-flight
// collaborator calls. The session ends Stopped.
func (s *Session) Abort() {
	s.stopRequested.Store(true)
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	s.finishFrom(schemas.StatusPending, schemas.StatusStopped, "")
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session is terminal or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the current lifecycle state.
func (s *Session) Status() schemas.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IsRunning reports whether the session is Pending or Running.
func (s *Session) IsRunning() bool {
	return !s.Status().IsTerminal()
}

// FailureReason explains a Failed session.
func (s *Session) FailureReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failureReason
}

// Results returns copies of the results recorded so far, in exploration order.
func (s *Session) Results() []schemas.ScrapeResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schemas.ScrapeResult, len(s.results))
	for i, r := range s.results {
		out[i] = r.Clone()
	}
	return out
}

// Snapshot returns a consistent view of the session.
func (s *Session) Snapshot() schemas.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return schemas.SessionSnapshot{
		ID:             s.id,
		Label:          s.cfg.Label,
		StartURL:       s.startURL,
		Status:         s.status,
		Stats:          s.stats,
		FailureReason:  s.failureReason,
		FrontierLength: s.frontier.Len(),
		ResultCount:    len(s.results),
	}
}

// -- Step Loop --

func (s *Session) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Exploration session panicked",
				zap.Any("panicValue", r),
				zap.String("stack", string(debug.Stack())),
			)
			s.finish(schemas.StatusFailed, fmt.Sprintf("%v: panic: %v", schemas.ErrSessionFault, r))
		}
	}()

	for {
		if s.stopRequested.Load() || ctx.Err() != nil {
			s.finish(schemas.StatusStopped, "")
			return
		}

		it, ok := s.next()
		if !ok {
			s.finish(schemas.StatusCompleted, "")
			return
		}
		if it.Depth > s.cfg.MaxDepth {
			s.fail(fmt.Errorf("%w: frontier item %s at depth %d exceeds max depth %d", schemas.ErrSessionFault, it.URL, it.Depth, s.cfg.MaxDepth))
			return
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				s.finish(schemas.StatusStopped, "")
				return
			}
		}

		result := s.scraper.Execute(ctx, s.page, it.URL, it.Depth, s.cfg.Scrape,
			scraper.WithPageTimeout(s.cfg.PageTimeout),
			scraper.WithScreenshotDelay(s.cfg.ScreenshotDelay),
		)
		if result.ErrorKind == schemas.ErrorKindUnavailable {
			s.fail(fmt.Errorf("%w: %s", schemas.ErrCollaboratorUnavailable, result.ErrorMessage))
			return
		}

		current, total := s.record(it, result)
		s.persist(ctx, result)
		s.report(fmt.Sprintf("Explored %s (depth %d)", result.URL, it.Depth), current, total)
	}
}

// next dequeues the next unvisited frontier item, or reports that the session
// is complete because the frontier is empty or the page budget is spent.
func (s *Session) next() (item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.stats.PagesExplored < s.cfg.MaxPages {
		it, ok := s.frontier.Pop()
		if !ok {
			return item{}, false
		}
		if _, seen := s.visited[it.URL]; seen {
			continue
		}
		s.visited[it.URL] = struct{}{}
		return it, true
	}
	return item{}, false
}

// record appends the result, enqueues its links and updates the statistics.
func (s *Session) record(it item, result schemas.ScrapeResult) (current, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	enqueued := 0
	if result.Success && it.Depth < s.cfg.MaxDepth {
		for i := range result.Elements {
			el := &result.Elements[i]
			if el.Kind != schemas.KindLink {
				continue
			}
			target, err := scraper.Resolve(result.URL, el.Href)
			if err != nil || !s.scope.Allows(target) {
				continue
			}
			if _, seen := s.visited[target]; seen || s.frontier.Contains(target) {
				continue
			}
			s.frontier.Push(item{URL: target, Depth: it.Depth + 1})
			el.IsVisited = true
			enqueued++
		}
	}

	s.results = append(s.results, result)
	s.stats.PagesExplored++
	if !result.Success {
		s.stats.PagesFailed++
	}
	s.stats.ElementsDiscovered += len(result.Elements)
	s.stats.ScreenshotsTaken += result.Summary.Screenshots
	if result.PageScreenshotRef != "" {
		s.stats.ScreenshotsTaken++
	}
	if result.FromCache {
		s.stats.CacheHits++
	}

	s.logger.Debug("Page recorded",
		zap.String("url", result.URL),
		zap.Int("depth", it.Depth),
		zap.Bool("success", result.Success),
		zap.Int("enqueued", enqueued),
		zap.Int("frontier", s.frontier.Len()))

	current = s.stats.PagesExplored
	total = min(current+s.frontier.Len(), s.cfg.MaxPages)
	return current, total
}

func (s *Session) persist(ctx context.Context, result schemas.ScrapeResult) {
	if s.persister == nil {
		return
	}
	id, err := s.persister.Store(ctx, s.id, result)
	if err != nil {
		s.logger.Warn("Failed to persist scrape result", zap.String("url", result.URL), zap.Error(err))
		return
	}
	s.logger.Debug("Persisted scrape result", zap.String("url", result.URL), zap.String("storageID", id))
}

// report notifies the progress sink. Sink failures never reach the session.
func (s *Session) report(message string, current, total int) {
	if s.cfg.Progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("Progress sink panicked", zap.Any("panicValue", r))
		}
	}()
	s.cfg.Progress.Report(message, current, total)
}

func (s *Session) fail(err error) {
	s.logger.Error("Exploration session failed", zap.Error(err))
	s.finish(schemas.StatusFailed, err.Error())
}

// finish moves the session to a terminal state exactly once, releasing the page.
func (s *Session) finish(status schemas.SessionStatus, reason string) {
	s.finishFrom("", status, reason)
}

// finishFrom is finish guarded by the expected current status. An empty from
// accepts any status that may legally transition.
func (s *Session) finishFrom(from, status schemas.SessionStatus, reason string) bool {
	s.mu.Lock()
	if (from != "" && s.status != from) || !s.status.CanTransition(status) {
		s.mu.Unlock()
		return false
	}
	s.status = status
	s.failureReason = reason
	s.stats.FinishedAt = time.Now().UTC()
	stats := s.stats
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := s.page.Close(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Failed to close page", zap.Error(err))
	}
	s.logger.Info("Exploration session finished",
		zap.String("status", string(status)),
		zap.Int("pagesExplored", stats.PagesExplored),
		zap.Int("pagesFailed", stats.PagesFailed),
		zap.Int("elements", stats.ElementsDiscovered),
		zap.Int("cacheHits", stats.CacheHits))
	close(s.done)
	return true
}
