// Package acquisition assembles a dossier bundle for one subject: it gathers
// candidate URLs from every source, validates them, fetches until the success
// target is met and reduces what came back.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/dossier-crawler/internal/clock/system"
	"github.com/JakeFAU/dossier-crawler/internal/dossier"
	"github.com/JakeFAU/dossier-crawler/internal/id/uuid"
	"github.com/JakeFAU/dossier-crawler/internal/metrics"
	"github.com/JakeFAU/dossier-crawler/internal/progress"
	"github.com/JakeFAU/dossier-crawler/internal/scheduler"
)

// Failure stages reported in PipelineError.
const (
	StageValidation = "validation"
	StageFetch      = "fetch"
)

const (
	defaultMaxSuccessfulFetches = 3
	defaultValidationTimeout    = 3 * time.Second
	defaultValidationMaxAccept  = 20
)

// Config holds the run knobs.
type Config struct {
	// MaxSuccessfulFetches is the scheduler success target (default 3).
	MaxSuccessfulFetches int
	// Mode picks parallel or paced sequential fetching.
	Mode scheduler.Mode
	// ValidationTimeout bounds each reachability probe (default 3s).
	ValidationTimeout time.Duration
	// ValidationMaxAccept caps accepted URLs (default 20).
	ValidationMaxAccept int
}

// FetchRunner is satisfied by *scheduler.Scheduler.
type FetchRunner interface {
	Run(
		ctx context.Context,
		urls []dossier.ValidatedURL,
		targetSuccesses int,
		mode scheduler.Mode,
		opts ...scheduler.RunOption,
	) ([]dossier.FetchResult, dossier.AcquisitionStats)
}

// ContentReducer is satisfied by *reducer.Reducer.
type ContentReducer interface {
	ReduceResult(res dossier.FetchResult) dossier.ReducedContent
}

// Deps are the collaborators of an Orchestrator. Clock, IDs and Emitter are optional.
type Deps struct {
	Sources   []dossier.Source
	Validator dossier.URLValidator
	Scheduler FetchRunner
	Reducer   ContentReducer
	Clock     dossier.Clock
	IDs       dossier.IDGenerator
	Emitter   progress.Emitter
}

// Orchestrator runs acquisitions. It is safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	sources   []dossier.Source
	validator dossier.URLValidator
	scheduler FetchRunner
	reducer   ContentReducer
	clock     dossier.Clock
	ids       dossier.IDGenerator
	emitter   progress.Emitter
	logger    *zap.Logger
}

// New validates deps and applies defaults.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Validator == nil:
		return nil, errors.New("acquisition: validator is required")
	case deps.Scheduler == nil:
		return nil, errors.New("acquisition: scheduler is required")
	case deps.Reducer == nil:
		return nil, errors.New("acquisition: reducer is required")
	}
	if cfg.MaxSuccessfulFetches <= 0 {
		cfg.MaxSuccessfulFetches = defaultMaxSuccessfulFetches
	}
	if cfg.ValidationTimeout <= 0 {
		cfg.ValidationTimeout = defaultValidationTimeout
	}
	if cfg.ValidationMaxAccept <= 0 {
		cfg.ValidationMaxAccept = defaultValidationMaxAccept
	}
	if cfg.Mode == (scheduler.Mode{}) {
		cfg.Mode = scheduler.Parallel(5)
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		sources:   append([]dossier.Source(nil), deps.Sources...),
		validator: deps.Validator,
		scheduler: deps.Scheduler,
		reducer:   deps.Reducer,
		clock:     deps.Clock,
		ids:       deps.IDs,
		emitter:   deps.Emitter,
		logger:    logger.Named("acquisition"),
	}, nil
}

// NewRunID mints an identifier callers can hand to Acquire before it starts,
// for example to let a client poll progress.
func (o *Orchestrator) NewRunID() (string, error) {
	return o.ids.NewID()
}

// Acquire builds the bundle for subject. An empty runID is replaced by a new
// one. Errors are *dossier.PipelineError values (no accessible URLs, or no
// content at all), the context error when ctx ends before any content was
// gathered, and ID generation failures.
func (o *Orchestrator) Acquire(ctx context.Context, runID string, subject dossier.Subject) (dossier.Bundle, error) {
	if runID == "" {
		id, err := o.ids.NewID()
		if err != nil {
			return dossier.Bundle{}, fmt.Errorf("new run id: %w", err)
		}
		runID = id
	}
	r := &run{
		o:       o,
		id:      runID,
		subject: subject,
		started: o.clock.Now(),
		logger:  o.logger.With(zap.String("run_id", runID), zap.String("subject", subject.FullName())),
	}
	if evtID, err := progress.ParseRunID(runID); err == nil {
		r.evtID = evtID
	}
	return r.execute(ctx)
}

// run carries the state of one Acquire call.
type run struct {
	o       *Orchestrator
	id      string
	evtID   [16]byte
	subject dossier.Subject
	started time.Time
	logger  *zap.Logger
	stats   dossier.AcquisitionStats
}

type sourceResult struct {
	name       string
	candidates []dossier.CandidateURL
	aux        *dossier.AuxiliaryData
	err        error
}

func (r *run) execute(ctx context.Context) (dossier.Bundle, error) {
	r.emit(progress.Event{Stage: progress.StageRunStart})
	r.logger.Info("acquisition started")

	candidates, byProvider, auxData := r.collect(ctx)
	r.stats.TotalCandidates = len(candidates)
	r.emit(progress.Event{Stage: progress.StageCandidatesDone, Count: len(candidates)})

	working := r.validate(ctx, candidates)
	r.stats.AccessibleCount = len(working)
	r.emit(progress.Event{Stage: progress.StageValidationDone, Count: len(working)})
	if len(working) == 0 {
		if err := ctx.Err(); err != nil {
			return dossier.Bundle{}, r.abort(StageValidation, err)
		}
		return dossier.Bundle{}, r.fail(StageValidation, dossier.ErrNoAccessibleURLs)
	}

	results := r.fetch(ctx, working)

	content := make([]dossier.ReducedContent, 0, len(results)+len(auxData))
	sources := make([]string, 0, len(results))
	for _, res := range results {
		if !res.Success {
			continue
		}
		content = append(content, r.o.reducer.ReduceResult(res))
		sources = append(sources, res.URL)
	}
	r.emit(progress.Event{Stage: progress.StageReductionDone, Count: len(content)})

	var aux map[string]dossier.AuxiliaryData
	for _, data := range auxData {
		if aux == nil {
			aux = make(map[string]dossier.AuxiliaryData, len(auxData))
		}
		aux[data.Provider] = data
		if strings.TrimSpace(data.Content) == "" {
			continue
		}
		count := dossier.CharCount(data.Content)
		content = append(content, dossier.ReducedContent{
			Source:          data.Provider,
			URL:             strings.Join(data.URLs, ", "),
			Text:            data.Content,
			CharCountBefore: count,
			CharCountAfter:  count,
		})
		sources = append(sources, data.URLs...)
	}

	if len(content) == 0 {
		if err := ctx.Err(); err != nil {
			return dossier.Bundle{}, r.abort(StageFetch, err)
		}
		return dossier.Bundle{}, r.fail(StageFetch, dossier.ErrNoSuccessfulFetches)
	}

	accessible := make([]string, 0, len(working))
	for _, v := range working {
		accessible = append(accessible, v.URL)
	}
	bundle := dossier.Bundle{
		RunID:                r.id,
		Subject:              r.subject,
		Content:              content,
		Stats:                r.stats,
		AuxData:              aux,
		Sources:              sources,
		AccessibleURLs:       accessible,
		CandidatesByProvider: byProvider,
		CollectedAt:          r.o.clock.Now(),
	}

	elapsed := r.o.clock.Now().Sub(r.started)
	metrics.ObserveAcquisition("success", elapsed)
	r.emit(progress.Event{
		Stage:      progress.StageRunDone,
		Count:      len(content),
		Attempted:  r.stats.Attempted,
		Successful: r.stats.Successful,
		Failed:     r.stats.Failed,
		Dur:        nonNegative(elapsed),
	})
	r.logger.Info("acquisition finished",
		zap.Int("candidates", r.stats.TotalCandidates),
		zap.Int("accessible", r.stats.AccessibleCount),
		zap.Int("attempted", r.stats.Attempted),
		zap.Int("successful", r.stats.Successful),
		zap.Int("failed", r.stats.Failed),
		zap.Int("content_items", len(content)),
		zap.Duration("elapsed", elapsed),
	)
	return bundle, nil
}

// collect queries every source concurrently. A failing source is logged and
// skipped. Candidates keep source order.
func (r *run) collect(ctx context.Context) ([]dossier.CandidateURL, map[string]int, []dossier.AuxiliaryData) {
	results := make([]sourceResult, len(r.o.sources))
	var g errgroup.Group
	for i, src := range r.o.sources {
		g.Go(func() error {
			res := sourceResult{name: src.Name()}
			if auxSrc, ok := src.(dossier.AuxiliarySource); ok {
				res.candidates, res.aux, res.err = auxSrc.Collect(ctx, r.subject)
			} else {
				res.candidates, res.err = src.CandidateURLs(ctx, r.subject)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait() // sources report failures through sourceResult

	var (
		all        []dossier.CandidateURL
		byProvider = make(map[string]int, len(results))
		aux        []dossier.AuxiliaryData
	)
	for _, res := range results {
		if res.err != nil {
			r.logger.Warn("source failed", zap.String("source", res.name), zap.Error(res.err))
			r.emit(progress.Event{Stage: progress.StageSourceFailed, Provider: res.name, Note: res.err.Error()})
			byProvider[res.name] = 0
			continue
		}
		for _, c := range res.candidates {
			if c.Provider == "" {
				c.Provider = res.name
			}
			all = append(all, c)
		}
		byProvider[res.name] = len(res.candidates)
		if res.aux != nil {
			data := *res.aux
			if data.Provider == "" {
				data.Provider = res.name
			}
			aux = append(aux, data)
		}
		r.logger.Debug("source returned candidates", zap.String("source", res.name), zap.Int("count", len(res.candidates)))
	}
	return all, byProvider, aux
}

// validate probes HTTP candidates and appends synthetic markers unprobed.
func (r *run) validate(ctx context.Context, candidates []dossier.CandidateURL) []dossier.ValidatedURL {
	var probe []dossier.CandidateURL
	var markers []dossier.ValidatedURL
	seenMarkers := make(map[string]struct{})
	for _, c := range candidates {
		if dossier.IsSyntheticMarker(c.URL) {
			if _, dup := seenMarkers[c.URL]; dup {
				continue
			}
			seenMarkers[c.URL] = struct{}{}
			markers = append(markers, dossier.ValidatedURL{CandidateURL: c})
			continue
		}
		probe = append(probe, c)
	}

	r.emit(progress.Event{Stage: progress.StageValidationStart, Count: len(probe)})
	var accepted []dossier.ValidatedURL
	if len(probe) > 0 {
		accepted = r.o.validator.Validate(ctx, probe, r.o.cfg.ValidationTimeout, r.o.cfg.ValidationMaxAccept)
	}
	r.logger.Info("validation done",
		zap.Int("probed", len(probe)),
		zap.Int("accepted", len(accepted)),
		zap.Int("markers", len(markers)),
	)
	return append(accepted, markers...)
}

// fetch schedules the HTTP part of the working set and folds the scheduler
// counters into the run stats.
func (r *run) fetch(ctx context.Context, working []dossier.ValidatedURL) []dossier.FetchResult {
	fetchable := make([]dossier.ValidatedURL, 0, len(working))
	for _, v := range working {
		if dossier.IsHTTPURL(v.URL) {
			fetchable = append(fetchable, v)
		}
	}

	results, stats := r.o.scheduler.Run(ctx, fetchable, r.o.cfg.MaxSuccessfulFetches, r.o.cfg.Mode,
		scheduler.WithObserver(func(res dossier.FetchResult, s dossier.AcquisitionStats) {
			r.emit(progress.Event{
				Stage:      progress.StageFetchDone,
				Provider:   res.Fetcher,
				URL:        res.URL,
				Success:    res.Success,
				Reason:     string(res.FailureReason),
				Attempted:  s.Attempted,
				Successful: s.Successful,
				Failed:     s.Failed,
				Dur:        nonNegative(res.Duration),
			})
		}),
		scheduler.WithPacingObserver(func(delay time.Duration) {
			r.emit(progress.Event{Stage: progress.StagePacingDelay, Dur: nonNegative(delay)})
		}),
	)
	r.stats.Attempted = stats.Attempted
	r.stats.Successful = stats.Successful
	r.stats.Failed = stats.Failed
	r.stats.FailureReasons = stats.FailureReasons

	r.emit(progress.Event{
		Stage:      progress.StageFetchStageDone,
		Count:      len(fetchable),
		Attempted:  stats.Attempted,
		Successful: stats.Successful,
		Failed:     stats.Failed,
	})
	return results
}

func (r *run) fail(stage string, cause error) error {
	err := dossier.NewPipelineError(stage, r.stats, cause)
	elapsed := r.o.clock.Now().Sub(r.started)
	metrics.ObserveAcquisition("error", elapsed)
	r.emit(progress.Event{
		Stage:      progress.StageRunError,
		Attempted:  r.stats.Attempted,
		Successful: r.stats.Successful,
		Failed:     r.stats.Failed,
		Dur:        nonNegative(elapsed),
		Note:       cause.Error(),
	})
	r.logger.Warn("acquisition failed", zap.String("stage", stage), zap.Error(err))
	return err
}

// abort ends a run whose context was cancelled or timed out. The context
// error is returned as is so callers can tell it from a pipeline failure.
func (r *run) abort(stage string, cause error) error {
	elapsed := r.o.clock.Now().Sub(r.started)
	metrics.ObserveAcquisition("cancelled", elapsed)
	r.emit(progress.Event{
		Stage:      progress.StageRunError,
		Attempted:  r.stats.Attempted,
		Successful: r.stats.Successful,
		Failed:     r.stats.Failed,
		Dur:        nonNegative(elapsed),
		Note:       cause.Error(),
	})
	r.logger.Warn("acquisition aborted", zap.String("stage", stage), zap.Error(cause))
	return fmt.Errorf("acquire %s: %w", r.subject.FullName(), cause)
}

func (r *run) emit(evt progress.Event) {
	if r.evtID == [16]byte{} {
		return
	}
	evt.RunID = r.evtID
	evt.TS = r.o.clock.Now()
	r.o.emitter.Emit(evt)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
