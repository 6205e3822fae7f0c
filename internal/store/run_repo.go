package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RunStatus is the lifecycle state of an acquisition run.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
	RunCached  RunStatus = "cached"
)

// Counters mirrors the acquisition stats reported by checkpoints.
type Counters struct {
	Candidates int `json:"candidates"`
	Accessible int `json:"accessible"`
	Attempted  int `json:"attempted"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Reduced    int `json:"reduced"`
}

// FetchOutcome records one finished fetch within a run.
type FetchOutcome struct {
	URL      string    `json:"url"`
	Provider string    `json:"provider,omitempty"`
	Success  bool      `json:"success"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// Run is the polled snapshot of one acquisition.
type Run struct {
	ID           uuid.UUID      `json:"run_id"`
	Status       RunStatus      `json:"status"`
	Stage        string         `json:"stage"`
	StartedAt    time.Time      `json:"started_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	Counters     Counters       `json:"counters"`
	Fetches      []FetchOutcome `json:"fetches,omitempty"`
	ErrorMessage *string        `json:"error,omitempty"`
}

// RunRepository persists incremental run progress.
type RunRepository interface {
	// UpsertRunStart inserts (or idempotently updates) the started_at timestamp.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// RecordStage updates the current stage and merges non-zero counters.
	RecordStage(ctx context.Context, runID uuid.UUID, stage string, counters Counters, at time.Time) error
	// RecordFetch appends a fetch outcome.
	RecordFetch(ctx context.Context, runID uuid.UUID, outcome FetchOutcome) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status, newest first.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
