// Package profile serves dossiers read-through: a fresh cache entry is
// returned as is, otherwise the subject is acquired, analyzed, cached,
// archived and announced.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/dossier-crawler/internal/cache"
	"github.com/JakeFAU/dossier-crawler/internal/clock/system"
	"github.com/JakeFAU/dossier-crawler/internal/dossier"
	"github.com/JakeFAU/dossier-crawler/internal/notify"
	"github.com/JakeFAU/dossier-crawler/internal/progress"
)

// ErrInvalidSubject rejects lookups without a first or last name.
var ErrInvalidSubject = errors.New("first name and last name are required")

// ProfileCache is satisfied by *cache.Cache.
type ProfileCache interface {
	Key(subject dossier.Subject) string
	Get(ctx context.Context, subject dossier.Subject, forceRefresh bool) (cache.EntryView, bool)
	Set(ctx context.Context, subject dossier.Subject, rawBundle, result json.RawMessage) bool
}

// Acquirer is satisfied by *acquisition.Orchestrator.
type Acquirer interface {
	NewRunID() (string, error)
	Acquire(ctx context.Context, runID string, subject dossier.Subject) (dossier.Bundle, error)
}

// Archiver is satisfied by *archive.Archiver.
type Archiver interface {
	Store(ctx context.Context, cacheKey, runID string, bundle []byte) (string, error)
}

// Notifier is satisfied by *notify.Notifier.
type Notifier interface {
	Completed(ctx context.Context, notice notify.Notice) (string, error)
}

// DefaultBuildTimeout bounds a shared build when Config.BuildTimeout is unset.
const DefaultBuildTimeout = 5 * time.Minute

// Config holds service options.
type Config struct {
	// SingleFlight coalesces concurrent builds of the same subject.
	SingleFlight bool
	// BuildTimeout bounds a coalesced build, which runs detached from the
	// context of the caller that started it.
	BuildTimeout time.Duration
}

// Deps are the collaborators. Analyzer defaults to SummaryAnalyzer; Archive,
// Notifier, Clock and Emitter are optional.
type Deps struct {
	Cache    ProfileCache
	Acquirer Acquirer
	Analyzer Analyzer
	Archive  Archiver
	Notifier Notifier
	Clock    dossier.Clock
	Emitter  progress.Emitter
}

// Result is what a lookup returns.
type Result struct {
	RunID           string                    `json:"run_id,omitempty"`
	Data            json.RawMessage           `json:"data"`
	Cached          bool                      `json:"cached"`
	CacheAgeSeconds int64                     `json:"cache_age_seconds,omitempty"`
	CacheCreatedAt  *time.Time                `json:"cache_created_at,omitempty"`
	Stats           *dossier.AcquisitionStats `json:"stats,omitempty"`
	ArchiveURI      string                    `json:"archive_uri,omitempty"`
}

// Service implements the read-through lookup.
type Service struct {
	cfg      Config
	cache    ProfileCache
	acquirer Acquirer
	analyzer Analyzer
	archive  Archiver
	notifier Notifier
	clock    dossier.Clock
	emitter  progress.Emitter
	group    singleflight.Group
	logger   *zap.Logger

	mu      sync.Mutex
	leaders map[string]string // cache key -> run ID of the in-flight build
}

// New validates deps and applies defaults.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Service, error) {
	if deps.Cache == nil {
		return nil, errors.New("profile: cache is required")
	}
	if deps.Acquirer == nil {
		return nil, errors.New("profile: acquirer is required")
	}
	if deps.Analyzer == nil {
		deps.Analyzer = SummaryAnalyzer{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = DefaultBuildTimeout
	}
	return &Service{
		cfg:      cfg,
		cache:    deps.Cache,
		acquirer: deps.Acquirer,
		analyzer: deps.Analyzer,
		archive:  deps.Archive,
		notifier: deps.Notifier,
		clock:    deps.Clock,
		emitter:  deps.Emitter,
		logger:   logger.Named("profile"),
		leaders:  make(map[string]string),
	}, nil
}

// NewRunID mints a run ID a caller can poll before Lookup returns.
func (s *Service) NewRunID() (string, error) {
	return s.acquirer.NewRunID()
}

// Lookup returns the subject's dossier. runID may be empty. With
// forceRefresh the cache is bypassed and the entry rebuilt.
func (s *Service) Lookup(ctx context.Context, subject dossier.Subject, forceRefresh bool, runID string) (Result, error) {
	if strings.TrimSpace(subject.FirstName) == "" || strings.TrimSpace(subject.LastName) == "" {
		return Result{}, ErrInvalidSubject
	}
	if runID == "" {
		id, err := s.acquirer.NewRunID()
		if err != nil {
			return Result{}, fmt.Errorf("new run id: %w", err)
		}
		runID = id
	}
	logger := s.logger.With(zap.String("run_id", runID), zap.String("subject", subject.FullName()))

	if entry, ok := s.cache.Get(ctx, subject, forceRefresh); ok {
		created := entry.CreatedAt
		logger.Info("serving cached dossier", zap.Int64("cache_age_seconds", entry.AgeSeconds))
		s.emit(runID, progress.Event{Stage: progress.StageCacheHit, Note: entry.Key})
		return Result{
			RunID:           runID,
			Data:            entry.Result,
			Cached:          true,
			CacheAgeSeconds: entry.AgeSeconds,
			CacheCreatedAt:  &created,
		}, nil
	}

	if !s.cfg.SingleFlight {
		return s.build(ctx, runID, subject, logger)
	}
	return s.sharedBuild(ctx, runID, subject, logger)
}

// sharedBuild runs at most one build per cache key. The build is detached
// from the leader's context and each caller waits on its own, so one caller
// leaving never fails the others. A caller that joins an in-flight build gets
// RUN_START and a terminal event under its own run ID.
func (s *Service) sharedBuild(ctx context.Context, runID string, subject dossier.Subject, logger *zap.Logger) (Result, error) {
	key := s.cache.Key(subject)

	s.mu.Lock()
	leaderRunID, joined := s.leaders[key]
	if !joined {
		s.leaders[key] = runID
	}
	ch := s.group.DoChan(key, func() (any, error) {
		defer s.release(key)
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.BuildTimeout)
		defer cancel()
		return s.build(buildCtx, runID, subject, logger)
	})
	s.mu.Unlock()

	start := s.clock.Now()
	if joined {
		logger.Info("joined in-flight build", zap.String("leader_run_id", leaderRunID))
		s.emit(runID, progress.Event{Stage: progress.StageRunStart, Note: "joined " + leaderRunID})
	}

	select {
	case <-ctx.Done():
		if joined {
			s.emitJoinedError(runID, start, ctx.Err())
		}
		return Result{}, fmt.Errorf("wait for build of %s: %w", subject.FullName(), ctx.Err())
	case out := <-ch:
		if out.Err != nil {
			if joined {
				s.emitJoinedError(runID, start, out.Err)
			}
			return Result{}, out.Err
		}
		res := out.Val.(Result)
		if joined {
			evt := progress.Event{
				Stage: progress.StageRunDone,
				Dur:   nonNegative(s.clock.Now().Sub(start)),
				Note:  "built by " + leaderRunID,
			}
			if res.Stats != nil {
				evt.Attempted = res.Stats.Attempted
				evt.Successful = res.Stats.Successful
				evt.Failed = res.Stats.Failed
			}
			s.emit(runID, evt)
		}
		return res, nil
	}
}

// release ends the lease on key. Forgetting the key under s.mu keeps the
// leader table and the singleflight group in step.
func (s *Service) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leaders, key)
	s.group.Forget(key)
}

func (s *Service) emitJoinedError(runID string, start time.Time, err error) {
	s.emit(runID, progress.Event{
		Stage: progress.StageRunError,
		Dur:   nonNegative(s.clock.Now().Sub(start)),
		Note:  err.Error(),
	})
}

func (s *Service) build(ctx context.Context, runID string, subject dossier.Subject, logger *zap.Logger) (Result, error) {
	bundle, err := s.acquirer.Acquire(ctx, runID, subject)
	if err != nil {
		return Result{}, err
	}

	start := s.clock.Now()
	data, err := s.analyzer.Analyze(ctx, bundle)
	if err != nil {
		return Result{}, fmt.Errorf("analyze bundle: %w", err)
	}
	s.emit(runID, progress.Event{Stage: progress.StageAnalysisDone, Count: len(bundle.Content), Dur: nonNegative(s.clock.Now().Sub(start))})

	raw, err := json.Marshal(bundle)
	if err != nil {
		return Result{}, fmt.Errorf("encode bundle: %w", err)
	}
	key := s.cache.Key(subject)
	if !s.cache.Set(ctx, subject, raw, data) {
		logger.Warn("dossier not cached")
	}

	stats := bundle.Stats
	res := Result{RunID: runID, Data: data, Stats: &stats}
	if s.archive != nil {
		uri, err := s.archive.Store(ctx, key, runID, raw)
		if err != nil {
			logger.Warn("archive failed", zap.Error(err))
		} else {
			res.ArchiveURI = uri
		}
	}
	if s.notifier != nil {
		_, err := s.notifier.Completed(ctx, notify.Notice{
			RunID:      runID,
			CacheKey:   key,
			Sources:    bundle.Sources,
			Successful: bundle.Stats.Successful,
			ArchiveURI: res.ArchiveURI,
			Timestamp:  s.clock.Now(),
		})
		if err != nil {
			logger.Warn("completion notice failed", zap.Error(err))
		}
	}
	logger.Info("dossier built",
		zap.Int("content_items", len(bundle.Content)),
		zap.Int("successful", bundle.Stats.Successful),
	)
	return res, nil
}

func (s *Service) emit(runID string, evt progress.Event) {
	id, err := progress.ParseRunID(runID)
	if err != nil {
		return
	}
	evt.RunID = id
	evt.TS = s.clock.Now()
	s.emitter.Emit(evt)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
