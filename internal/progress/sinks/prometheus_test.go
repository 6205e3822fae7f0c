package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dossier-crawler/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageSourceFailed, Provider: "serper"},
		{RunID: runID, TS: now, Stage: progress.StageFetchDone, URL: "https://a.example", Success: true},
		{RunID: runID, TS: now, Stage: progress.StageFetchDone, URL: "https://b.example", Reason: "blocked"},
		{RunID: runID, TS: now, Stage: progress.StagePacingDelay, Dur: time.Second},
		{RunID: runID, TS: now.Add(15 * time.Second), Stage: progress.StageRunDone, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.fetchOutcomes.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.fetchOutcomes.WithLabelValues("blocked")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.sourceFails.WithLabelValues("serper")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.pacingDelay, "dossier_run_pacing_delay_seconds"))
}

func TestPrometheusSinkCacheHitCompletesRun(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageCacheHit},
	}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("cached")))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
