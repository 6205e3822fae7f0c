package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/dossier-crawler/internal/progress"
)

func TestLogSinkWritesStructuredFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	runID := progress.UUIDToBytes(uuid.New())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageFetchDone, URL: "https://a.example", Reason: "blocked"},
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunError, Note: "boom"},
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, "blocked", entries[0].ContextMap()["reason"])
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
	require.Equal(t, "boom", entries[1].ContextMap()["note"])
	require.NoError(t, sink.Close(context.Background()))
}
