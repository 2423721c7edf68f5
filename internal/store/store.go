// Package store journals batch runs to PostgreSQL.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalq/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the journal can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	// MaxRecentRuns caps a RecentRuns page.
	MaxRecentRuns = 500

	sqlCreateRuns = `
        CREATE TABLE IF NOT EXISTS query_runs (
            id           UUID PRIMARY KEY,
            query_type   TEXT NOT NULL,
            item_count   INTEGER NOT NULL,
            record_count INTEGER NOT NULL,
            status       TEXT NOT NULL,
            error_kind   TEXT NOT NULL DEFAULT '',
            message      TEXT NOT NULL DEFAULT '',
            started_at   TIMESTAMPTZ NOT NULL,
            finished_at  TIMESTAMPTZ NOT NULL
        );
    `
	sqlCreateRunsIndex = `CREATE INDEX IF NOT EXISTS query_runs_started_at_idx ON query_runs (started_at DESC);`

	sqlInsertRun = `
        INSERT INTO query_runs (id, query_type, item_count, record_count, status, error_kind, message, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
    `
	sqlRecentRuns = `
        SELECT id, query_type, item_count, record_count, status, error_kind, message, started_at, finished_at
        FROM query_runs
        ORDER BY started_at DESC
        LIMIT $1;
    `
)

// Store is the PostgreSQL run journal.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the journal table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{sqlCreateRuns, sqlCreateRunsIndex} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create journal schema: %w", err)
		}
	}
	return nil
}

// RecordRun appends one run to the journal. An empty ID is filled in.
func (s *Store) RecordRun(ctx context.Context, rec schemas.RunRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := uuid.Validate(rec.ID); err != nil {
		return fmt.Errorf("invalid run id %q: %w", rec.ID, err)
	}

	_, err := s.pool.Exec(ctx, sqlInsertRun,
		rec.ID,
		string(rec.QueryType),
		rec.ItemCount,
		rec.RecordCount,
		string(rec.Status),
		rec.ErrorKind,
		rec.Message,
		rec.StartedAt.UTC(),
		rec.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query run: %w", err)
	}
	s.log.Debug("Recorded query run.", zap.String("run_id", rec.ID), zap.String("status", string(rec.Status)))
	return nil
}

// RecentRuns returns up to limit runs, newest first. limit is clamped to
// [1, MaxRecentRuns].
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]schemas.RunRecord, error) {
	if limit <= 0 {
		limit = 1
	}
	if limit > MaxRecentRuns {
		limit = MaxRecentRuns
	}

	rows, err := s.pool.Query(ctx, sqlRecentRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, scanRun)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.CollectableRow) (schemas.RunRecord, error) {
	var (
		rec       schemas.RunRecord
		queryType string
		status    string
		started   time.Time
		finished  time.Time
	)
	err := row.Scan(&rec.ID, &queryType, &rec.ItemCount, &rec.RecordCount, &status, &rec.ErrorKind, &rec.Message, &started, &finished)
	if err != nil {
		return rec, err
	}
	rec.QueryType = schemas.QueryType(queryType)
	rec.Status = schemas.RunStatus(status)
	rec.StartedAt = started
	rec.FinishedAt = finished
	return rec, nil
}
