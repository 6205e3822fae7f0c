// Package scheduler drives validated URLs through a content fetcher until a
// success target is met, either through a bounded worker pool or one at a time
// on a fixed dispatch timetable.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/dossier-crawler/internal/clock/system"
	"github.com/JakeFAU/dossier-crawler/internal/dossier"
	"github.com/JakeFAU/dossier-crawler/internal/metrics"
)

// Mode selects parallel or sequential dispatch.
type Mode struct {
	// Width is the worker pool size; values <= 1 mean sequential.
	Width int
	// Interval spaces sequential dispatches: dispatch i starts no earlier than
	// run start + i*Interval.
	Interval time.Duration
}

// Parallel returns a pool mode of the given width.
func Parallel(width int) Mode {
	if width < 2 {
		width = 2
	}
	return Mode{Width: width}
}

// Sequential returns a one-at-a-time mode with the given dispatch interval.
func Sequential(interval time.Duration) Mode {
	if interval < 0 {
		interval = 0
	}
	return Mode{Width: 1, Interval: interval}
}

// ModeFromConfig maps the concurrency knob: maxConcurrent <= 1 selects
// sequential mode paced by rateLimit.
func ModeFromConfig(maxConcurrent int, rateLimit time.Duration) Mode {
	if maxConcurrent <= 1 {
		return Sequential(rateLimit)
	}
	return Parallel(maxConcurrent)
}

// IsSequential reports whether the mode dispatches one fetch at a time.
func (m Mode) IsSequential() bool {
	return m.Width <= 1
}

func (m Mode) String() string {
	if m.IsSequential() {
		return "sequential"
	}
	return "parallel"
}

// Pacer supplies time for sequential pacing.
type Pacer interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Observer is told about every completed fetch with the stats after it.
type Observer func(result dossier.FetchResult, stats dossier.AcquisitionStats)

// PacingObserver is told about every sequential-mode sleep.
type PacingObserver func(delay time.Duration)

// RunOption customizes a single Run.
type RunOption func(*runOptions)

type runOptions struct {
	observer Observer
	pacing   PacingObserver
}

// WithObserver registers a completion callback. It is invoked from worker
// goroutines and must be safe for concurrent use.
func WithObserver(fn Observer) RunOption {
	return func(o *runOptions) {
		o.observer = fn
	}
}

// WithPacingObserver registers a callback for sequential pacing delays.
func WithPacingObserver(fn PacingObserver) RunOption {
	return func(o *runOptions) {
		o.pacing = fn
	}
}

// Scheduler runs fetch batches.
type Scheduler struct {
	fetcher dossier.ContentFetcher
	pacer   Pacer
	logger  *zap.Logger
}

// New constructs a Scheduler. A nil pacer uses the system clock.
func New(fetcher dossier.ContentFetcher, pacer Pacer, logger *zap.Logger) *Scheduler {
	if pacer == nil {
		pacer = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		fetcher: fetcher,
		pacer:   pacer,
		logger:  logger.Named("scheduler"),
	}
}

// Run fetches urls until targetSuccesses successes accumulate (a
// non-positive target fetches everything). The returned results hold every
// completion that arrived before the target was met, in arrival order, so at
// most targetSuccesses of them are successes. Stats count every attempt,
// including late arrivals.
func (s *Scheduler) Run(
	ctx context.Context,
	urls []dossier.ValidatedURL,
	targetSuccesses int,
	mode Mode,
	opts ...RunOption,
) ([]dossier.FetchResult, dossier.AcquisitionStats) {
	var options runOptions
	for _, opt := range opts {
		opt(&options)
	}
	if targetSuccesses <= 0 {
		targetSuccesses = len(urls)
	}
	acc := newAccumulator(targetSuccesses, options.observer)
	if len(urls) == 0 || targetSuccesses == 0 {
		return acc.finish()
	}

	if mode.IsSequential() {
		s.runSequential(ctx, urls, mode.Interval, acc, options.pacing)
	} else {
		s.runParallel(ctx, urls, mode.Width, acc)
	}
	results, stats := acc.finish()
	s.logger.Debug("fetch batch finished",
		zap.String("mode", mode.String()),
		zap.Int("urls", len(urls)),
		zap.Int("attempted", stats.Attempted),
		zap.Int("successful", stats.Successful),
		zap.Int("failed", stats.Failed),
	)
	return results, stats
}

func (s *Scheduler) runParallel(ctx context.Context, urls []dossier.ValidatedURL, width int, acc *accumulator) {
	var g errgroup.Group
	g.SetLimit(width)
	for _, u := range urls {
		if acc.targetMet() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// The slot may have opened after the target was reached.
			if acc.targetMet() {
				return nil
			}
			acc.add(s.fetcher.Fetch(ctx, u.CandidateURL))
			return nil
		})
	}
	_ = g.Wait() // workers never return errors
}

func (s *Scheduler) runSequential(
	ctx context.Context,
	urls []dossier.ValidatedURL,
	interval time.Duration,
	acc *accumulator,
	onPacing PacingObserver,
) {
	start := s.pacer.Now()
	for i, u := range urls {
		if acc.targetMet() || ctx.Err() != nil {
			return
		}
		if interval > 0 && i > 0 {
			due := start.Add(time.Duration(i) * interval)
			if wait := due.Sub(s.pacer.Now()); wait > 0 {
				metrics.ObservePacingDelay(wait)
				if onPacing != nil {
					onPacing(wait)
				}
				if err := s.pacer.Sleep(ctx, wait); err != nil {
					s.logger.Debug("sequential pacing interrupted", zap.Error(err))
					return
				}
			}
		}
		acc.add(s.fetcher.Fetch(ctx, u.CandidateURL))
	}
}

type accumulator struct {
	mu       sync.Mutex
	target   int
	results  []dossier.FetchResult
	kept     int
	stats    dossier.AcquisitionStats
	observer Observer
	obsMu    sync.Mutex
}

func newAccumulator(target int, observer Observer) *accumulator {
	return &accumulator{
		target:   target,
		results:  make([]dossier.FetchResult, 0),
		observer: observer,
	}
}

func (a *accumulator) targetMet() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.kept >= a.target
}

func (a *accumulator) add(res dossier.FetchResult) {
	a.mu.Lock()
	a.stats.Attempted++
	if res.Success {
		a.stats.Successful++
	} else {
		a.stats.RecordFailure(res.FailureReason)
	}
	if a.kept < a.target {
		a.results = append(a.results, res)
		if res.Success {
			a.kept++
		}
	}
	snapshot := copyStats(a.stats)
	a.mu.Unlock()

	if a.observer != nil {
		a.obsMu.Lock()
		a.observer(res, snapshot)
		a.obsMu.Unlock()
	}
}

func (a *accumulator) finish() ([]dossier.FetchResult, dossier.AcquisitionStats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]dossier.FetchResult, len(a.results))
	copy(out, a.results)
	return out, copyStats(a.stats)
}

func copyStats(in dossier.AcquisitionStats) dossier.AcquisitionStats {
	out := in
	if in.FailureReasons != nil {
		out.FailureReasons = make(map[dossier.FailureReason]int, len(in.FailureReasons))
		for k, v := range in.FailureReasons {
			out.FailureReasons[k] = v
		}
	}
	return out
}
