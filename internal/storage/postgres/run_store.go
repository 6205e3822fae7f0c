package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/dossier-crawler/internal/store"
)

var _ store.RunRepository = (*RunStore)(nil)

const runColumns = `id, status, stage, started_at, updated_at, finished_at,
	candidates, accessible, attempted, successful, failed, reduced, error_message`

// RunStore implements store.RunRepository on Postgres using a dossier_runs
// table and a dossier_run_fetches child table.
type RunStore struct {
	pool Pool
}

// NewRunStore wraps pool.
func NewRunStore(pool Pool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// EnsureSchema creates the run tables when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{`
CREATE TABLE IF NOT EXISTS dossier_runs (
	id UUID PRIMARY KEY,
	status TEXT NOT NULL,
	stage TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	candidates INT NOT NULL DEFAULT 0,
	accessible INT NOT NULL DEFAULT 0,
	attempted INT NOT NULL DEFAULT 0,
	successful INT NOT NULL DEFAULT 0,
	failed INT NOT NULL DEFAULT 0,
	reduced INT NOT NULL DEFAULT 0,
	error_message TEXT
)`, `
CREATE TABLE IF NOT EXISTS dossier_run_fetches (
	run_id UUID NOT NULL REFERENCES dossier_runs (id) ON DELETE CASCADE,
	url TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT '',
	success BOOLEAN NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	fetched_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS dossier_runs_started_at ON dossier_runs (started_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create run schema: %w", err)
		}
	}
	return nil
}

// UpsertRunStart inserts a running row or moves started_at earlier.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO dossier_runs (id, status, started_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO UPDATE
		SET started_at = LEAST(dossier_runs.started_at, EXCLUDED.started_at);
	`
	if _, err := s.pool.Exec(ctx, query, runID, store.RunRunning, startedAt); err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// RecordStage sets the stage and merges non-zero counters.
func (s *RunStore) RecordStage(
	ctx context.Context,
	runID uuid.UUID,
	stage string,
	counters store.Counters,
	at time.Time,
) error {
	query := `
		INSERT INTO dossier_runs (id, status, stage, started_at, updated_at,
			candidates, accessible, attempted, successful, failed, reduced)
		VALUES ($1, $2, $3, $4, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			stage = EXCLUDED.stage,
			updated_at = EXCLUDED.updated_at,
			candidates = COALESCE(NULLIF(EXCLUDED.candidates, 0), dossier_runs.candidates),
			accessible = COALESCE(NULLIF(EXCLUDED.accessible, 0), dossier_runs.accessible),
			attempted = COALESCE(NULLIF(EXCLUDED.attempted, 0), dossier_runs.attempted),
			successful = COALESCE(NULLIF(EXCLUDED.successful, 0), dossier_runs.successful),
			failed = COALESCE(NULLIF(EXCLUDED.failed, 0), dossier_runs.failed),
			reduced = COALESCE(NULLIF(EXCLUDED.reduced, 0), dossier_runs.reduced);
	`
	_, err := s.pool.Exec(ctx, query,
		runID, store.RunRunning, stage, at,
		counters.Candidates, counters.Accessible, counters.Attempted,
		counters.Successful, counters.Failed, counters.Reduced,
	)
	if err != nil {
		return fmt.Errorf("failed to record run stage: %w", err)
	}
	return nil
}

// RecordFetch appends a fetch outcome row.
func (s *RunStore) RecordFetch(ctx context.Context, runID uuid.UUID, outcome store.FetchOutcome) error {
	query := `
		INSERT INTO dossier_run_fetches (run_id, url, provider, success, reason, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	_, err := s.pool.Exec(ctx, query, runID, outcome.URL, outcome.Provider, outcome.Success, outcome.Reason, outcome.At)
	if err != nil {
		return fmt.Errorf("failed to record fetch: %w", err)
	}
	return nil
}

// CompleteRun marks a run as finished with a status and optional error message.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		INSERT INTO dossier_runs (id, status, started_at, updated_at, finished_at, error_message)
		VALUES ($1, $2, $3, $3, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			finished_at = EXCLUDED.finished_at,
			error_message = EXCLUDED.error_message;
	`
	if _, err := s.pool.Exec(ctx, query, runID, status, finishedAt, errMsg); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// GetRun loads a run with its fetch outcomes.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM dossier_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT url, provider, success, reason, fetched_at
		FROM dossier_run_fetches
		WHERE run_id = $1
		ORDER BY fetched_at;
	`, runID)
	if err != nil {
		return store.Run{}, fmt.Errorf("failed to list run fetches: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f store.FetchOutcome
		if err := rows.Scan(&f.URL, &f.Provider, &f.Success, &f.Reason, &f.At); err != nil {
			return store.Run{}, fmt.Errorf("failed to scan fetch row: %w", err)
		}
		run.Fetches = append(run.Fetches, f)
	}
	if err := rows.Err(); err != nil {
		return store.Run{}, fmt.Errorf("failed to iterate fetch rows: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status. Fetch
// outcomes are not loaded.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + runColumns + `
		FROM dossier_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run rows: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&status,
		&run.Stage,
		&run.StartedAt,
		&run.UpdatedAt,
		&run.FinishedAt,
		&run.Counters.Candidates,
		&run.Counters.Accessible,
		&run.Counters.Attempted,
		&run.Counters.Successful,
		&run.Counters.Failed,
		&run.Counters.Reduced,
		&run.ErrorMessage,
	)
	run.Status = store.RunStatus(status)
	return run, err
}
