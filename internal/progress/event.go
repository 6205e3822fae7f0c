package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Checkpoints emitted during an acquisition run.
const (
	StageRunStart        Stage = "RUN_START"
	StageCandidatesDone  Stage = "CANDIDATES_DONE"
	StageValidationDone  Stage = "VALIDATION_DONE"
	StageFetchDone       Stage = "FETCH_DONE"
	StageFetchStageDone  Stage = "FETCH_STAGE_DONE"
	StageReductionDone   Stage = "REDUCTION_DONE"
	StageRunDone         Stage = "RUN_DONE"
	StageRunError        Stage = "RUN_ERROR"
	StageCacheHit        Stage = "CACHE_HIT"
	StageAnalysisDone    Stage = "ANALYSIS_DONE"
	StageSourceFailed    Stage = "SOURCE_FAILED"
	StagePacingDelay     Stage = "PACING_DELAY"
	StageValidationStart Stage = "VALIDATION_START"
)

// Event captures a single checkpoint of run progress.
type Event struct {
	// RunID uniquely identifies an acquisition run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which checkpoint occurred.
	Stage Stage
	// Provider optionally names the source or fetcher involved.
	Provider string
	// URL is the page concerned by fetch events.
	URL string
	// Success marks fetch outcomes.
	Success bool
	// Reason carries the fetch failure class when Success is false.
	Reason string
	// Count is the stage-specific cardinality (candidates, accepted URLs, items).
	Count int
	// Attempted, Successful and Failed mirror the running fetch counters.
	Attempted  int
	Successful int
	Failed     int
	// Dur captures latency for fetches, pacing delays and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageCandidatesDone, StageValidationStart, StageValidationDone,
		StageFetchStageDone, StageReductionDone, StageRunDone, StageRunError,
		StageCacheHit, StageAnalysisDone, StagePacingDelay:
	case StageSourceFailed:
		if e.Provider == "" {
			return errors.New("source failure requires provider")
		}
	case StageFetchDone:
		if e.URL == "" {
			return errors.New("fetch done requires url")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s == StageRunDone || s == StageRunError || s == StageCacheHit
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID converts a run ID string into the Event form.
func ParseRunID(raw string) ([16]byte, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse run id: %w", err)
	}
	return UUIDToBytes(id), nil
}

// Noop discards events. It is the default emitter for components built without a hub.
type Noop struct{}

// Emit implements Emitter.
func (Noop) Emit(Event) {}
