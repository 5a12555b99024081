package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-e2e/internal/results"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS e2e_runs (
    run_id       TEXT PRIMARY KEY,
    version      TEXT NOT NULL DEFAULT '',
    base_url     TEXT NOT NULL DEFAULT '',
    started_at   TIMESTAMPTZ NOT NULL,
    finished_at  TIMESTAMPTZ NOT NULL,
    launch_error TEXT NOT NULL DEFAULT '',
    scenarios    INTEGER NOT NULL,
    completed    INTEGER NOT NULL,
    aborted      INTEGER NOT NULL,
    passed       INTEGER NOT NULL,
    failed       INTEGER NOT NULL,
    skipped      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS e2e_scenarios (
    run_id       TEXT NOT NULL REFERENCES e2e_runs(run_id) ON DELETE CASCADE,
    scenario     TEXT NOT NULL,
    session_id   TEXT NOT NULL DEFAULT '',
    state        TEXT NOT NULL,
    abort_reason TEXT NOT NULL DEFAULT '',
    started_at   TIMESTAMPTZ NOT NULL,
    finished_at  TIMESTAMPTZ NOT NULL,
    artifacts    TEXT[] NOT NULL DEFAULT '{}',
    PRIMARY KEY (run_id, scenario)
);
CREATE TABLE IF NOT EXISTS e2e_steps (
    run_id      TEXT NOT NULL,
    scenario    TEXT NOT NULL,
    step_index  INTEGER NOT NULL,
    kind        TEXT NOT NULL,
    label       TEXT NOT NULL,
    checkpoint  BOOLEAN NOT NULL,
    outcome     TEXT NOT NULL,
    reason      TEXT NOT NULL DEFAULT '',
    attempts    INTEGER NOT NULL DEFAULT 0,
    duration_ms BIGINT NOT NULL,
    artifact    TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, scenario, step_index),
    FOREIGN KEY (run_id, scenario) REFERENCES e2e_scenarios(run_id, scenario) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS e2e_runs_started_at_idx ON e2e_runs (started_at DESC);
`

const (
	sqlInsertRun = `
        INSERT INTO e2e_runs (run_id, version, base_url, started_at, finished_at, launch_error,
            scenarios, completed, aborted, passed, failed, skipped)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
    `
	sqlInsertScenario = `
        INSERT INTO e2e_scenarios (run_id, scenario, session_id, state, abort_reason, started_at, finished_at, artifacts)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `
	sqlRecentRuns = `
        SELECT run_id, started_at, finished_at, launch_error, scenarios, completed, aborted, passed, failed, skipped
        FROM e2e_runs
        ORDER BY started_at DESC
        LIMIT $1;
    `
)

var stepColumns = []string{"run_id", "scenario", "step_index", "kind", "label", "checkpoint", "outcome", "reason", "attempts", "duration_ms", "artifact"}

// Store persists run reports in PostgreSQL.
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

// Connect opens a pool for url and wraps it in a Store. The returned func
// closes the pool.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// EnsureSchema creates the history tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveRun writes the report, its scenarios and their steps in one transaction.
func (s *Store) SaveRun(ctx context.Context, report *results.RunReport) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	sum := results.Summarize(report.Scenarios)
	_, err = tx.Exec(ctx, sqlInsertRun,
		report.RunID, report.Version, report.BaseURL,
		report.StartedAt.UTC(), report.FinishedAt.UTC(), report.LaunchError,
		sum.Scenarios, sum.Completed, sum.Aborted, sum.Passed, sum.Failed, sum.Skipped,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", report.RunID, err)
	}

	var steps [][]interface{}
	for _, sc := range report.Scenarios {
		if sc == nil {
			continue
		}
		artifacts := sc.Artifacts
		if artifacts == nil {
			artifacts = []string{}
		}
		_, err = tx.Exec(ctx, sqlInsertScenario,
			report.RunID, sc.Scenario, sc.SessionID, string(sc.State), sc.AbortReason,
			sc.StartedAt.UTC(), sc.FinishedAt.UTC(), artifacts,
		)
		if err != nil {
			return fmt.Errorf("failed to insert scenario %s: %w", sc.Scenario, err)
		}
		for _, st := range sc.Steps {
			steps = append(steps, []interface{}{
				report.RunID, sc.Scenario, st.Index, st.Kind, st.Label, st.Checkpoint,
				string(st.Outcome), st.Reason, st.Attempts, st.Duration.Milliseconds(), st.Artifact,
			})
		}
	}

	if len(steps) > 0 {
		n, copyErr := tx.CopyFrom(ctx, pgx.Identifier{"e2e_steps"}, stepColumns, pgx.CopyFromRows(steps))
		if copyErr != nil {
			err = fmt.Errorf("failed to copy steps: %w", copyErr)
			return err
		}
		if int(n) != len(steps) {
			err = fmt.Errorf("mismatch in copied steps count: expected %d, got %d", len(steps), n)
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run persisted.", zap.String("run_id", report.RunID), zap.Int("scenarios", len(report.Scenarios)), zap.Int("steps", len(steps)))
	return nil
}

// RunRecord is one row of run history.
type RunRecord struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	LaunchError string
	Summary     results.Summary
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, sqlRecentRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		err := rows.Scan(
			&r.RunID, &r.StartedAt, &r.FinishedAt, &r.LaunchError,
			&r.Summary.Scenarios, &r.Summary.Completed, &r.Summary.Aborted,
			&r.Summary.Passed, &r.Summary.Failed, &r.Summary.Skipped,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}
