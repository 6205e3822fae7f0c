package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/dossier-crawler/internal/progress"
)

// PrometheusSink exports run progress via Prometheus. It owns the collectors
// for runs started/completed/running and per-provider fetch outcomes.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	fetchOutcomes *prometheus.CounterVec
	sourceFails   *prometheus.CounterVec
	pacingDelay   prometheus.Histogram

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dossier_runs_started_total",
			Help: "Total acquisition runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dossier_runs_completed_total",
			Help: "Total runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dossier_runs_running",
			Help: "Current number of running acquisitions.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dossier_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		fetchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dossier_run_fetches_total",
			Help: "Fetch completions observed by runs partitioned by outcome.",
		}, []string{"outcome"}),
		sourceFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dossier_source_failures_total",
			Help: "Candidate source failures partitioned by provider.",
		}, []string{"provider"}),
		pacingDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dossier_run_pacing_delay_seconds",
			Help:    "Sequential pacing delays reported by runs.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.fetchOutcomes,
		s.sourceFails,
		s.pacingDelay,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError, progress.StageCacheHit:
		s.handleRunEvent(evt)
	case progress.StageFetchDone:
		outcome := "success"
		if !evt.Success {
			outcome = evt.Reason
			if outcome == "" {
				outcome = "other"
			}
		}
		s.fetchOutcomes.WithLabelValues(outcome).Inc()
	case progress.StageSourceFailed:
		s.sourceFails.WithLabelValues(evt.Provider).Inc()
	case progress.StagePacingDelay:
		if evt.Dur > 0 {
			s.pacingDelay.Observe(evt.Dur.Seconds())
		}
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	var label string
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
		return
	case progress.StageRunDone:
		label = "success"
	case progress.StageRunError:
		label = "error"
	case progress.StageCacheHit:
		label = "cached"
	}
	s.runsCompleted.WithLabelValues(label).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
