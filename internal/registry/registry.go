// internal/registry/registry.go
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/pagescout/pagescout/api/schemas"
	"github.com/pagescout/pagescout/internal/config"
	"github.com/pagescout/pagescout/internal/explorer"
	"github.com/pagescout/pagescout/internal/progress"
)

// ErrShutdown is returned by StartSession once Shutdown has begun.
var ErrShutdown = errors.New("registry is shut down")

// ErrTooManySessions is returned when the running-session limit is reached.
var ErrTooManySessions = errors.New("maximum number of running sessions reached")

// Registry owns every exploration session of the process. Session IDs are
// assigned from 1 upwards and never reused.
type Registry struct {
	factory        schemas.PageFactory
	scraper        explorer.Scraper
	persister      schemas.Persister
	logger         *zap.Logger
	maxSessions    int
	progressBuffer int

	mu       sync.RWMutex
	sessions map[schemas.SessionID]*explorer.Session
	lastID   schemas.SessionID
	starting int
	closed   bool

	// watchers release per-session resources once a session ends.
	watchers sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithPersister stores every recorded result through p.
func WithPersister(p schemas.Persister) Option {
	return func(r *Registry) { r.persister = p }
}

// WithLogger sets the logger handed to the registry and its sessions.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a registry that opens pages from factory and scrapes through sc.
func New(factory schemas.PageFactory, sc explorer.Scraper, cfg config.EngineConfig, opts ...Option) (*Registry, error) {
	if factory == nil {
		return nil, errors.New("page factory cannot be nil")
	}
	if sc == nil {
		return nil, errors.New("scraper cannot be nil")
	}
	if cfg.MaxSessions < 0 {
		return nil, fmt.Errorf("max sessions must be >= 0, got %d", cfg.MaxSessions)
	}

	r := &Registry{
		factory:        factory,
		scraper:        sc,
		logger:         zap.NewNop(),
		maxSessions:    cfg.MaxSessions,
		progressBuffer: cfg.ProgressBuffer,
		sessions:       make(map[schemas.SessionID]*explorer.Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.progressBuffer <= 0 {
		r.progressBuffer = 64
	}
	r.logger = r.logger.Named("registry")
	return r, nil
}

// StartSession validates cfg, opens a page and starts a new session on it.
// The session runs until it completes, is stopped, or ctx is cancelled.
func (r *Registry) StartSession(ctx context.Context, cfg schemas.SessionConfig) (schemas.SessionID, error) {
	if err := cfg.Validate(); err != nil {
		return 0, fmt.Errorf("invalid session configuration: %w", err)
	}
	if err := r.reserve(); err != nil {
		return 0, err
	}
	defer r.release()

	page, err := r.factory.NewPage(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to open page: %w", err)
	}

	var sink *progress.Async
	if cfg.Progress != nil {
		sink = progress.NewAsync(cfg.Progress, r.progressBuffer, r.logger)
		cfg.Progress = sink
	}

	r.mu.Lock()
	r.lastID++
	id := r.lastID
	r.mu.Unlock()

	opts := []explorer.Option{explorer.WithLogger(r.logger.Named("session"))}
	if r.persister != nil {
		opts = append(opts, explorer.WithPersister(r.persister))
	}
	session, err := explorer.New(id, cfg, page, r.scraper, opts...)
	if err != nil {
		r.discard(page, sink)
		return 0, err
	}

	// The closed check and the insert share one critical section, so Shutdown
	// either sees the session or StartSession sees the shutdown.
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.discard(page, sink)
		return 0, ErrShutdown
	}
	r.sessions[id] = session
	r.mu.Unlock()

	if err := session.Start(ctx); err != nil {
		r.mu.Lock()
		delete(r.sessions, id)
		closed := r.closed
		r.mu.Unlock()
		if session.Status().IsTerminal() {
			// Stopped before it started; the session already released its page.
			if sink != nil {
				sink.Close()
			}
		} else {
			r.discard(page, sink)
		}
		if closed {
			return 0, ErrShutdown
		}
		return 0, err
	}

	r.watchers.Add(1)
	go r.watch(session, sink)

	r.logger.Info("Session started", zap.Int64("sessionID", int64(id)), zap.String("startURL", cfg.StartURL))
	return id, nil
}

// reserve claims a running-session slot for a start in progress.
func (r *Registry) reserve() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrShutdown
	}
	if r.maxSessions > 0 && r.runningLocked()+r.starting >= r.maxSessions {
		return fmt.Errorf("%w (%d)", ErrTooManySessions, r.maxSessions)
	}
	r.starting++
	return nil
}

func (r *Registry) release() {
	r.mu.Lock()
	r.starting--
	r.mu.Unlock()
}

func (r *Registry) runningLocked() int {
	n := 0
	for _, s := range r.sessions {
		if s.IsRunning() {
			n++
		}
	}
	return n
}

func (r *Registry) discard(page schemas.Page, sink *progress.Async) {
	if err := page.Close(); err != nil {
		r.logger.Warn("Failed to close unused page", zap.Error(err))
	}
	if sink != nil {
		sink.Close()
	}
}

func (r *Registry) watch(session *explorer.Session, sink *progress.Async) {
	defer r.watchers.Done()
	<-session.Done()
	if sink != nil {
		sink.Close()
		if dropped := sink.Dropped(); dropped > 0 {
			r.logger.Debug("Progress updates dropped", zap.Int64("sessionID", int64(session.ID())), zap.Int("dropped", dropped))
		}
	}
}

func (r *Registry) get(id schemas.SessionID) (*explorer.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// GetResults returns the results recorded so far. Unknown IDs yield nil.
func (r *Registry) GetResults(id schemas.SessionID) []schemas.ScrapeResult {
	s, ok := r.get(id)
	if !ok {
		return nil
	}
	return s.Results()
}

// IsRunning reports whether the session exists and is not yet terminal.
func (r *Registry) IsRunning(id schemas.SessionID) bool {
	s, ok := r.get(id)
	return ok && s.IsRunning()
}

// Stop requests a cooperative stop. It returns false for unknown or
// already terminal sessions.
func (r *Registry) Stop(id schemas.SessionID) bool {
	s, ok := r.get(id)
	if !ok {
		return false
	}
	return s.Stop()
}

// ActiveSessions lists the IDs of non-terminal sessions in ascending order.
func (r *Registry) ActiveSessions() []schemas.SessionID {
	r.mu.RLock()
	ids := make([]schemas.SessionID, 0, len(r.sessions))
	for id, s := range r.sessions {
		if s.IsRunning() {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Status returns the lifecycle state of a session.
func (r *Registry) Status(id schemas.SessionID) (schemas.SessionStatus, bool) {
	s, ok := r.get(id)
	if !ok {
		return "", false
	}
	return s.Status(), true
}

// Snapshot returns a consistent view of a session.
func (r *Registry) Snapshot(id schemas.SessionID) (schemas.SessionSnapshot, bool) {
	s, ok := r.get(id)
	if !ok {
		return schemas.SessionSnapshot{}, false
	}
	return s.Snapshot(), true
}

// Wait blocks until the session is terminal or ctx ends, then returns its snapshot.
func (r *Registry) Wait(ctx context.Context, id schemas.SessionID) (schemas.SessionSnapshot, error) {
	s, ok := r.get(id)
	if !ok {
		return schemas.SessionSnapshot{}, fmt.Errorf("%w: %d", schemas.ErrInvalidSessionID, id)
	}
	if err := s.Wait(ctx); err != nil {
		return s.Snapshot(), err
	}
	return s.Snapshot(), nil
}

// Forget drops a terminal session and its results. Running sessions are kept.
func (r *Registry) Forget(id schemas.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.IsRunning() {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Shutdown stops every session and waits for them to end. When ctx expires
// first, the remaining sessions are aborted and ctx's error is returned.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*explorer.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	r.logger.Info("Shutting down session registry", zap.Int("sessions", len(sessions)))
	for _, s := range sessions {
		s.Stop()
	}

	for _, s := range sessions {
		if err := s.Wait(ctx); err != nil {
			r.logger.Warn("Shutdown deadline reached, aborting remaining sessions", zap.Error(err))
			for _, remaining := range sessions {
				remaining.Abort()
			}
			return err
		}
	}
	r.watchers.Wait()
	r.logger.Info("Session registry shut down")
	return nil
}
