package dossier

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoAccessibleURLs means no candidate survived validation.
	ErrNoAccessibleURLs = errors.New("no accessible urls")
	// ErrNoSuccessfulFetches means every fetch failed and no auxiliary content exists.
	ErrNoSuccessfulFetches = errors.New("no successful fetches")
)

// Likely causes listed on pipeline failures.
var pipelineCauses = []string{
	"network connectivity problems",
	"dead or unreachable URLs",
	"anti-bot protection blocking the scraper",
	"scraping provider rate limits or exhausted quota",
}

// PipelineError is the single caller-visible failure of an acquisition run.
type PipelineError struct {
	Stage string
	Stats AcquisitionStats
	Err   error
}

// NewPipelineError builds a PipelineError for the stage.
func NewPipelineError(stage string, stats AcquisitionStats, err error) *PipelineError {
	return &PipelineError{Stage: stage, Stats: stats, Err: err}
}

func (e *PipelineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "acquisition failed at %s: %v", e.Stage, e.Err)
	fmt.Fprintf(&b, " (candidates=%d accessible=%d attempted=%d successful=%d failed=%d)",
		e.Stats.TotalCandidates, e.Stats.AccessibleCount, e.Stats.Attempted, e.Stats.Successful, e.Stats.Failed)
	b.WriteString("; likely causes: ")
	b.WriteString(strings.Join(pipelineCauses, "; "))
	return b.String()
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// ConfigError reports a missing or invalid required setting.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("configuration %s is required", e.Key)
	}
	return fmt.Sprintf("configuration %s: %s", e.Key, e.Reason)
}
