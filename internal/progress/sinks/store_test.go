package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dossier-crawler/internal/progress"
	"github.com/JakeFAU/dossier-crawler/internal/storage/memory"
	"github.com/JakeFAU/dossier-crawler/internal/store"
)

// TestStoreSinkPersistsEvents drives a full run through the sink into the memory repository.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore(0)
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now().UTC()

	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now.Add(time.Second), Stage: progress.StageCandidatesDone, Count: 7},
		{RunID: runID, TS: now.Add(2 * time.Second), Stage: progress.StageValidationDone, Count: 4},
		{RunID: runID, TS: now.Add(3 * time.Second), Stage: progress.StageFetchDone, URL: "https://a.example", Success: true},
		{RunID: runID, TS: now.Add(4 * time.Second), Stage: progress.StageFetchDone, URL: "https://b.example", Reason: "blocked"},
		{
			RunID: runID, TS: now.Add(5 * time.Second), Stage: progress.StageFetchStageDone,
			Attempted: 2, Successful: 1, Failed: 1,
		},
		{RunID: runID, TS: now.Add(6 * time.Second), Stage: progress.StageRunDone},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	run, err := repo.GetRun(context.Background(), runUUID)
	require.NoError(t, err)
	require.Equal(t, store.RunSuccess, run.Status)
	require.Equal(t, 7, run.Counters.Candidates)
	require.Equal(t, 4, run.Counters.Accessible)
	require.Equal(t, 2, run.Counters.Attempted)
	require.Equal(t, 1, run.Counters.Successful)
	require.Len(t, run.Fetches, 2)
	require.Equal(t, "blocked", run.Fetches[1].Reason)
	require.NotNil(t, run.FinishedAt)
}

func TestStoreSinkRecordsErrorNote(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore(0)
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart},
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunError, Note: "no accessible urls"},
	}))

	run, err := repo.GetRun(context.Background(), runUUID)
	require.NoError(t, err)
	require.Equal(t, store.RunError, run.Status)
	require.NotNil(t, run.ErrorMessage)
	require.Equal(t, "no accessible urls", *run.ErrorMessage)
}

func TestStoreSinkCacheHitMarksCached(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore(0)
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(runUUID), TS: time.Now(), Stage: progress.StageCacheHit},
	}))

	run, err := repo.GetRun(context.Background(), runUUID)
	require.NoError(t, err)
	require.Equal(t, store.RunCached, run.Status)
}

func TestStoreSinkPropagatesRepositoryErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(failingRepo{}, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageRunStart},
	})
	require.ErrorContains(t, err, "upsert run start")
}

func TestStoreSinkNilRepoIsNoop(t *testing.T) {
	t.Parallel()

	require.NoError(t, NewStoreSink(nil, nil).Consume(context.Background(), []progress.Event{{}}))
}

type failingRepo struct{ store.RunRepository }

func (failingRepo) UpsertRunStart(context.Context, uuid.UUID, time.Time) error {
	return errors.New("boom")
}
