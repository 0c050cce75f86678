package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/pagescout/pagescout/api/schemas"
)

// MemoryStore is an in-process Persister. Results live until the process exits.
type MemoryStore struct {
	mu        sync.RWMutex
	results   map[string]schemas.ScrapeResult
	bySession map[schemas.SessionID][]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results:   make(map[string]schemas.ScrapeResult),
		bySession: make(map[schemas.SessionID][]string),
	}
}

func (m *MemoryStore) Store(ctx context.Context, sessionID schemas.SessionID, result schemas.ScrapeResult) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(sessionID, result), nil
}

func (m *MemoryStore) StoreBatch(ctx context.Context, sessionID schemas.SessionID, results []schemas.ScrapeResult) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = m.put(sessionID, r)
	}
	return ids, nil
}

func (m *MemoryStore) put(sessionID schemas.SessionID, result schemas.ScrapeResult) string {
	id := uuid.NewString()
	m.results[id] = result.Clone()
	m.bySession[sessionID] = append(m.bySession[sessionID], id)
	return id
}

func (m *MemoryStore) Retrieve(ctx context.Context, storageID string) (schemas.ScrapeResult, bool, error) {
	if err := ctx.Err(); err != nil {
		return schemas.ScrapeResult{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[storageID]
	if !ok {
		return schemas.ScrapeResult{}, false, nil
	}
	return r.Clone(), true, nil
}

func (m *MemoryStore) Exists(ctx context.Context, storageID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.results[storageID]
	return ok, nil
}

func (m *MemoryStore) RetrieveBatch(ctx context.Context, storageIDs []string) ([]schemas.ScrapeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []schemas.ScrapeResult
	for _, id := range storageIDs {
		if r, ok := m.results[id]; ok {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) FindBySession(ctx context.Context, sessionID schemas.SessionID) ([]schemas.ScrapeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.bySession[sessionID]
	out := make([]schemas.ScrapeResult, len(ids))
	for i, id := range ids {
		out[i] = m.results[id].Clone()
	}
	return out, nil
}
