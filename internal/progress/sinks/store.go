package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/progress"
	"github.com/JakeFAU/dossier-crawler/internal/store"
)

// StoreSink persists run checkpoints via a store.RunRepository so the API can
// serve run status while an acquisition is in flight.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards each event to the repository in order. It respects ctx
// deadlines and returns the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.consumeEvent(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) consumeEvent(ctx context.Context, evt progress.Event) error {
	runID := evt.RunUUID()
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.UpsertRunStart(ctx, runID, evt.TS); err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
		return nil
	case progress.StageFetchDone:
		outcome := store.FetchOutcome{
			URL:      evt.URL,
			Provider: evt.Provider,
			Success:  evt.Success,
			Reason:   evt.Reason,
			At:       evt.TS,
		}
		if err := s.repo.RecordFetch(ctx, runID, outcome); err != nil {
			return fmt.Errorf("record fetch: %w", err)
		}
		return nil
	case progress.StageRunDone, progress.StageCacheHit, progress.StageRunError:
		return s.complete(ctx, evt)
	case progress.StagePacingDelay, progress.StageSourceFailed:
		s.logger.Debug("progress checkpoint not persisted", zap.String("stage", string(evt.Stage)))
		return nil
	}
	if err := s.repo.RecordStage(ctx, runID, string(evt.Stage), countersFor(evt), evt.TS); err != nil {
		return fmt.Errorf("record stage: %w", err)
	}
	return nil
}

func (s *StoreSink) complete(ctx context.Context, evt progress.Event) error {
	runID := evt.RunUUID()
	if err := s.repo.RecordStage(ctx, runID, string(evt.Stage), countersFor(evt), evt.TS); err != nil {
		return fmt.Errorf("record stage: %w", err)
	}
	status := store.RunSuccess
	var note *string
	switch evt.Stage {
	case progress.StageCacheHit:
		status = store.RunCached
	case progress.StageRunError:
		status = store.RunError
		if evt.Note != "" {
			msg := evt.Note
			note = &msg
		}
	}
	if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

func countersFor(evt progress.Event) store.Counters {
	c := store.Counters{
		Attempted:  evt.Attempted,
		Successful: evt.Successful,
		Failed:     evt.Failed,
	}
	switch evt.Stage {
	case progress.StageCandidatesDone:
		c.Candidates = evt.Count
	case progress.StageValidationDone:
		c.Accessible = evt.Count
	case progress.StageReductionDone:
		c.Reduced = evt.Count
	}
	return c
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
