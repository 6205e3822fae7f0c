package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/dossier-crawler/internal/store"
)

const defaultMaxRuns = 1000

// RunStore keeps recent run snapshots in memory, evicting the oldest finished
// runs once MaxRuns is exceeded.
type RunStore struct {
	mu      sync.RWMutex
	runs    map[uuid.UUID]*store.Run
	maxRuns int
}

// NewRunStore constructs a RunStore retaining at most maxRuns runs (default 1000).
func NewRunStore(maxRuns int) *RunStore {
	if maxRuns <= 0 {
		maxRuns = defaultMaxRuns
	}
	return &RunStore{
		runs:    make(map[uuid.UUID]*store.Run),
		maxRuns: maxRuns,
	}
}

// UpsertRunStart implements store.RunRepository.
func (s *RunStore) UpsertRunStart(_ context.Context, runID uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.ensure(runID, startedAt)
	if startedAt.Before(run.StartedAt) {
		run.StartedAt = startedAt
	}
	s.evict()
	return nil
}

// RecordStage implements store.RunRepository.
func (s *RunStore) RecordStage(
	_ context.Context,
	runID uuid.UUID,
	stage string,
	counters store.Counters,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.ensure(runID, at)
	run.Stage = stage
	run.UpdatedAt = at
	mergeCounters(&run.Counters, counters)
	return nil
}

// RecordFetch implements store.RunRepository.
func (s *RunStore) RecordFetch(_ context.Context, runID uuid.UUID, outcome store.FetchOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.ensure(runID, outcome.At)
	run.Fetches = append(run.Fetches, outcome)
	run.UpdatedAt = outcome.At
	return nil
}

// CompleteRun implements store.RunRepository.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.ensure(runID, finishedAt)
	run.Status = status
	run.FinishedAt = pointerTime(finishedAt)
	run.UpdatedAt = finishedAt
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	return nil
}

// GetRun implements store.RunRepository.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return cloneRun(run), nil
}

// ListRuns implements store.RunRepository.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, cloneRun(run))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if offset >= len(out) {
		return []store.Run{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *RunStore) ensure(runID uuid.UUID, at time.Time) *store.Run {
	run, ok := s.runs[runID]
	if !ok {
		run = &store.Run{
			ID:        runID,
			Status:    store.RunRunning,
			StartedAt: at,
			UpdatedAt: at,
		}
		s.runs[runID] = run
	}
	return run
}

func (s *RunStore) evict() {
	if len(s.runs) <= s.maxRuns {
		return
	}
	var (
		oldestID uuid.UUID
		oldest   time.Time
		found    bool
	)
	for id, run := range s.runs {
		if run.FinishedAt == nil {
			continue
		}
		if !found || run.StartedAt.Before(oldest) {
			oldestID, oldest, found = id, run.StartedAt, true
		}
	}
	if found {
		delete(s.runs, oldestID)
	}
}

func mergeCounters(dst *store.Counters, src store.Counters) {
	if src.Candidates > 0 {
		dst.Candidates = src.Candidates
	}
	if src.Accessible > 0 {
		dst.Accessible = src.Accessible
	}
	if src.Attempted > 0 {
		dst.Attempted = src.Attempted
	}
	if src.Successful > 0 {
		dst.Successful = src.Successful
	}
	if src.Failed > 0 {
		dst.Failed = src.Failed
	}
	if src.Reduced > 0 {
		dst.Reduced = src.Reduced
	}
}

func cloneRun(run *store.Run) store.Run {
	out := *run
	out.Fetches = append([]store.FetchOutcome(nil), run.Fetches...)
	if run.FinishedAt != nil {
		out.FinishedAt = pointerTime(*run.FinishedAt)
	}
	if run.ErrorMessage != nil {
		msg := *run.ErrorMessage
		out.ErrorMessage = &msg
	}
	return out
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
