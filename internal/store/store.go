package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/pagescout/pagescout/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Schema creates the table PostgresStore writes to.
const Schema = `
    CREATE TABLE IF NOT EXISTS scrape_results (
        id          UUID PRIMARY KEY,
        session_id  BIGINT NOT NULL,
        url         TEXT NOT NULL,
        depth       INTEGER NOT NULL,
        success     BOOLEAN NOT NULL,
        payload     JSONB NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS scrape_results_session_idx ON scrape_results (session_id, created_at);
`

var resultColumns = []string{"id", "session_id", "url", "depth", "success", "payload", "created_at"}

// PostgresStore is a Persister backed by PostgreSQL. Each result is stored as a
// JSONB payload keyed by a random UUID.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

// Connect opens a pgx pool for databaseURL.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database URL is empty")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return pool, nil
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("pool cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{
		pool: pool,
		log:  logger.Named("store"),
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// EnsureSchema creates the results table when it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Store persists one result and returns its storage ID.
func (s *PostgresStore) Store(ctx context.Context, sessionID schemas.SessionID, result schemas.ScrapeResult) (string, error) {
	payload, err := encode(result)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()

	sql := `
        INSERT INTO scrape_results (id, session_id, url, depth, success, payload, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7);
    `
	if _, err := s.pool.Exec(ctx, sql, id, int64(sessionID), result.URL, result.Depth, result.Success, payload, s.now()); err != nil {
		return "", fmt.Errorf("failed to insert scrape result: %w", err)
	}
	return id, nil
}

// StoreBatch persists results in a single transaction using COPY. The returned
// IDs are in input order.
func (s *PostgresStore) StoreBatch(ctx context.Context, sessionID schemas.SessionID, results []schemas.ScrapeResult) ([]string, error) {
	if len(results) == 0 {
		return nil, nil
	}

	ids := make([]string, len(results))
	rows := make([][]interface{}, len(results))
	now := s.now()
	for i, r := range results {
		payload, err := encode(r)
		if err != nil {
			return nil, err
		}
		ids[i] = uuid.NewString()
		rows[i] = []interface{}{ids[i], int64(sessionID), r.URL, r.Depth, r.Success, payload, now}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a successful commit reports ErrTxClosed.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"scrape_results"}, resultColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return nil, fmt.Errorf("failed to copy scrape results: %w", err)
	}
	if int(copyCount) != len(results) {
		return nil, fmt.Errorf("mismatch in copied results count: expected %d, got %d", len(results), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return ids, nil
}

// Retrieve loads a stored result. Unknown or malformed IDs report false.
func (s *PostgresStore) Retrieve(ctx context.Context, storageID string) (schemas.ScrapeResult, bool, error) {
	if _, err := uuid.Parse(storageID); err != nil {
		return schemas.ScrapeResult{}, false, nil
	}

	results, err := s.query(ctx, `
        SELECT id, payload
        FROM scrape_results
        WHERE id = $1;
    `, storageID)
	if err != nil {
		return schemas.ScrapeResult{}, false, err
	}
	if len(results) == 0 {
		return schemas.ScrapeResult{}, false, nil
	}
	return results[0].result, true, nil
}

// Exists reports whether storageID is stored.
func (s *PostgresStore) Exists(ctx context.Context, storageID string) (bool, error) {
	if _, err := uuid.Parse(storageID); err != nil {
		return false, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT EXISTS (SELECT 1 FROM scrape_results WHERE id = $1);`, storageID)
	if err != nil {
		return false, fmt.Errorf("failed to query scrape result: %w", err)
	}
	defer rows.Close()

	var exists bool
	if rows.Next() {
		if err := rows.Scan(&exists); err != nil {
			return false, fmt.Errorf("failed to scan existence row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("error during row iteration: %w", err)
	}
	return exists, nil
}

// RetrieveBatch loads the known IDs in input order, skipping unknown ones.
func (s *PostgresStore) RetrieveBatch(ctx context.Context, storageIDs []string) ([]schemas.ScrapeResult, error) {
	valid := make([]string, 0, len(storageIDs))
	for _, id := range storageIDs {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return nil, nil
	}

	rows, err := s.query(ctx, `
        SELECT id, payload
        FROM scrape_results
        WHERE id = ANY($1);
    `, valid)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]schemas.ScrapeResult, len(rows))
	for _, r := range rows {
		byID[r.id] = r.result
	}
	out := make([]schemas.ScrapeResult, 0, len(byID))
	for _, id := range valid {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// FindBySession returns the results of a session in insertion order.
func (s *PostgresStore) FindBySession(ctx context.Context, sessionID schemas.SessionID) ([]schemas.ScrapeResult, error) {
	rows, err := s.query(ctx, `
        SELECT id, payload
        FROM scrape_results
        WHERE session_id = $1
        ORDER BY created_at ASC;
    `, int64(sessionID))
	if err != nil {
		return nil, err
	}

	out := make([]schemas.ScrapeResult, len(rows))
	for i, r := range rows {
		out[i] = r.result
	}
	return out, nil
}

type storedRow struct {
	id     string
	result schemas.ScrapeResult
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...interface{}) ([]storedRow, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scrape results: %w", err)
	}
	defer rows.Close()

	var out []storedRow
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan scrape result row: %w", err)
		}
		var result schemas.ScrapeResult
		if err := json.Unmarshal(payload, &result); err != nil {
			return nil, fmt.Errorf("failed to decode payload of %s: %w", id, err)
		}
		out = append(out, storedRow{id: id, result: result})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func encode(result schemas.ScrapeResult) ([]byte, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scrape result for %s: %w", result.URL, err)
	}
	return payload, nil
}
