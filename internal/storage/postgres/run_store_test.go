package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dossier-crawler/internal/store"
)

var runRowColumns = []string{
	"id", "status", "stage", "started_at", "updated_at", "finished_at",
	"candidates", "accessible", "attempted", "successful", "failed", "reduced", "error_message",
}

func newRunStore(t *testing.T) (*RunStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewRunStore(mock)
	require.NoError(t, err)
	return s, mock
}

func TestRunStoreWrites(t *testing.T) {
	t.Parallel()

	s, mock := newRunStore(t)
	ctx := context.Background()
	id := uuid.New()
	at := time.Unix(1700000000, 0).UTC()
	msg := "no accessible urls"

	mock.ExpectExec("INSERT INTO dossier_runs").
		WithArgs(id, store.RunRunning, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO dossier_runs").
		WithArgs(id, store.RunRunning, "VALIDATION_DONE", at, 5, 2, 0, 0, 0, 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO dossier_run_fetches").
		WithArgs(id, "https://a.example", "colly", false, "blocked", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO dossier_runs").
		WithArgs(id, store.RunError, at, &msg).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertRunStart(ctx, id, at))
	require.NoError(t, s.RecordStage(ctx, id, "VALIDATION_DONE", store.Counters{Candidates: 5, Accessible: 2}, at))
	require.NoError(t, s.RecordFetch(ctx, id, store.FetchOutcome{
		URL: "https://a.example", Provider: "colly", Reason: "blocked", At: at,
	}))
	require.NoError(t, s.CompleteRun(ctx, id, at, store.RunError, &msg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreWrapsExecErrors(t *testing.T) {
	t.Parallel()

	s, mock := newRunStore(t)
	id := uuid.New()
	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("INSERT INTO dossier_runs").
		WithArgs(id, store.RunRunning, at).
		WillReturnError(errors.New("connection reset"))

	err := s.UpsertRunStart(context.Background(), id, at)
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreGetRun(t *testing.T) {
	t.Parallel()

	s, mock := newRunStore(t)
	id := uuid.New()
	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("FROM dossier_runs WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(runRowColumns).AddRow(
			id, "running", "FETCH_DONE", at, at.Add(time.Second), nil,
			5, 2, 1, 1, 0, 0, nil,
		))
	mock.ExpectQuery("FROM dossier_run_fetches").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"url", "provider", "success", "reason", "fetched_at"}).
			AddRow("https://a.example", "colly", true, "", at.Add(time.Second)))

	run, err := s.GetRun(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, store.RunRunning, run.Status)
	require.Equal(t, "FETCH_DONE", run.Stage)
	require.Equal(t, 2, run.Counters.Accessible)
	require.Nil(t, run.FinishedAt)
	require.Len(t, run.Fetches, 1)
	require.True(t, run.Fetches[0].Success)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreGetRunNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newRunStore(t)
	id := uuid.New()
	mock.ExpectQuery("FROM dossier_runs WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(runRowColumns))

	_, err := s.GetRun(context.Background(), id)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreListRuns(t *testing.T) {
	t.Parallel()

	s, mock := newRunStore(t)
	at := time.Unix(1700000000, 0).UTC()
	status := store.RunSuccess
	filter := "success"
	id := uuid.New()

	mock.ExpectQuery("FROM dossier_runs").
		WithArgs(&filter, 10, 0).
		WillReturnRows(pgxmock.NewRows(runRowColumns).AddRow(
			id, "success", "RUN_DONE", at, at, nil,
			5, 2, 2, 2, 0, 2, nil,
		))

	runs, err := s.ListRuns(context.Background(), &status, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, id, runs[0].ID)
	require.Equal(t, store.RunSuccess, runs[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
