// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/acquisition"
	"github.com/JakeFAU/dossier-crawler/internal/api"
	"github.com/JakeFAU/dossier-crawler/internal/archive"
	"github.com/JakeFAU/dossier-crawler/internal/cache"
	"github.com/JakeFAU/dossier-crawler/internal/clock/system"
	"github.com/JakeFAU/dossier-crawler/internal/config"
	"github.com/JakeFAU/dossier-crawler/internal/dossier"
	"github.com/JakeFAU/dossier-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/dossier-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/dossier-crawler/internal/fetcher/firecrawl"
	headlessfetcher "github.com/JakeFAU/dossier-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/dossier-crawler/internal/hash/sha256"
	"github.com/JakeFAU/dossier-crawler/internal/id/uuid"
	"github.com/JakeFAU/dossier-crawler/internal/logging"
	"github.com/JakeFAU/dossier-crawler/internal/metrics"
	"github.com/JakeFAU/dossier-crawler/internal/notify"
	"github.com/JakeFAU/dossier-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/dossier-crawler/internal/profile"
	"github.com/JakeFAU/dossier-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/dossier-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/dossier-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/dossier-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/dossier-crawler/internal/reducer"
	"github.com/JakeFAU/dossier-crawler/internal/scheduler"
	"github.com/JakeFAU/dossier-crawler/internal/sources/pappers"
	"github.com/JakeFAU/dossier-crawler/internal/sources/serper"
	"github.com/JakeFAU/dossier-crawler/internal/sources/static"
	gcsstorage "github.com/JakeFAU/dossier-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/dossier-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/dossier-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/dossier-crawler/internal/storage/postgres"
	"github.com/JakeFAU/dossier-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/dossier-crawler/internal/store"
	"github.com/JakeFAU/dossier-crawler/internal/validator"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	registerer      prometheus.Registerer
	cache           *cache.Cache
	runs            store.RunRepository
	runPool         *pgxpool.Pool
	progressHub     *progress.Hub
	headless        *headlessfetcher.Fetcher
	blobs           *gcsstorage.BlobStore
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	profiles        *profile.Service
	apiServer       *api.Server
}

// Option customizes Build.
type Option func(*App)

// WithRegisterer registers progress collectors somewhere other than the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) {
		a.registerer = reg
	}
}

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Handler exposes the HTTP API, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Profiles returns the read-through profile service.
func (a *App) Profiles() *profile.Service {
	return a.profiles
}

// Cache returns the profile cache.
func (a *App) Cache() *cache.Cache {
	return a.cache
}

// Runs returns the run repository, or nil when progress storage is disabled.
func (a *App) Runs() store.RunRepository {
	return a.runs
}

// Close gracefully shuts down the application. Queued progress events are
// flushed before the stores they write to are closed.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.runPool != nil {
		a.runPool.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.blobs != nil {
		if err := a.blobs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}

// Build creates the application's dependencies. A nil logger is built from
// cfg.Logging. On error everything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (app *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	metrics.Init()

	app = &App{cfg: cfg, logger: logger, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(app)
	}
	defer func() {
		if err != nil {
			app.closeInfrastructure(ctx)
		}
	}()

	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("cache_driver", cfg.Cache.Driver),
		zap.String("primary_fetcher", cfg.Fetcher.Primary),
		zap.String("fallback_fetcher", cfg.Fetcher.Fallback),
	)

	app.cache, err = OpenCache(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err = setupRunStore(ctx, app); err != nil {
		return nil, err
	}
	emitter, err := setupProgress(app)
	if err != nil {
		return nil, err
	}
	orchestrator, err := setupAcquisition(app, emitter)
	if err != nil {
		return nil, err
	}
	archiver, err := setupArchive(ctx, app)
	if err != nil {
		return nil, err
	}
	notifier, err := setupNotifier(ctx, app)
	if err != nil {
		return nil, err
	}

	app.profiles, err = profile.New(profile.Config{
		SingleFlight: cfg.Cache.SingleFlight,
		BuildTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
	}, profile.Deps{
		Cache:    app.cache,
		Acquirer: orchestrator,
		Archive:  archiver,
		Notifier: notifier,
		Clock:    system.New(),
		Emitter:  emitter,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("profile service init failed: %w", err)
	}

	apiOpts := api.Options{RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second}
	if cfg.Auth.Enabled {
		apiOpts.APIKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(app.profiles, app.cache, app.runs, apiOpts, logger.Named("api"))
	return app, nil
}

// OpenCache builds the profile cache over the configured store. Closing the
// cache closes the store.
func OpenCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*cache.Cache, error) {
	var repo store.ProfileRepository
	switch cfg.Cache.Driver {
	case "postgres":
		pool, err := pgstore.Connect(ctx, pgstore.PoolConfig{DSN: cfg.Cache.DSN, MaxConns: cfg.Cache.MaxConns})
		if err != nil {
			return nil, fmt.Errorf("cache pool init failed: %w", err)
		}
		pgRepo, err := pgstore.NewProfileStore(pool, cfg.Cache.Table)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("cache store init failed: %w", err)
		}
		if err := pgRepo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("cache schema init failed: %w", err)
		}
		repo = pgRepo
	case "sqlite":
		sqliteRepo, err := sqlite.New(cfg.Cache.DSN)
		if err != nil {
			return nil, fmt.Errorf("cache store init failed: %w", err)
		}
		repo = sqliteRepo
	default:
		logger.Warn("using in-memory profile cache; entries are lost on restart")
		repo = memorystorage.NewProfileStore()
	}
	logger.Info("profile cache ready",
		zap.String("driver", cfg.Cache.Driver),
		zap.Duration("ttl", cfg.Cache.TTL()),
	)
	return cache.New(repo, cache.Config{TTL: cfg.Cache.TTL()}, system.New(), sha256.New(), logger), nil
}

func setupRunStore(ctx context.Context, app *App) error {
	switch app.cfg.Progress.Store {
	case "postgres":
		pool, err := pgstore.Connect(ctx, pgstore.PoolConfig{
			DSN:      app.cfg.Progress.PostgresDSN(app.cfg.Cache),
			MaxConns: app.cfg.Cache.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("run store pool init failed: %w", err)
		}
		app.runPool = pool
		runStore, err := pgstore.NewRunStore(pool)
		if err != nil {
			return fmt.Errorf("run store init failed: %w", err)
		}
		if err := runStore.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("run store schema init failed: %w", err)
		}
		app.runs = runStore
		app.logger.Info("postgres run store initialized")
	case "memory":
		app.runs = memorystorage.NewRunStore(app.cfg.Progress.MaxRuns)
		app.logger.Info("in-memory run store initialized", zap.Int("max_runs", app.cfg.Progress.MaxRuns))
	default:
		app.logger.Warn("run store disabled; run polling endpoints will answer 503")
	}
	return nil
}

func setupProgress(app *App) (progress.Emitter, error) {
	var sinkList []progress.Sink
	if app.runs != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(app.runs, app.logger.Named("progress_store")))
		app.logger.Debug("Added progress store sink")
	}
	promSink, err := progresssinks.NewPrometheusSink(app.registerer)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if app.cfg.Progress.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("Added progress log sink")
	}
	hubCfg := progress.Config{
		BufferSize:      app.cfg.Progress.BufferSize,
		MaxBatchEvents:  app.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:    app.cfg.Progress.MaxBatchWait(),
		SinkTimeout:     app.cfg.Progress.SinkTimeout(),
		FlushOnTerminal: true,
		Logger:          app.logger,
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return app.progressHub, nil
}

func setupAcquisition(app *App, emitter progress.Emitter) (*acquisition.Orchestrator, error) {
	cfg := app.cfg
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Validation.PerHostRPS, DefaultBurst: 1})
	probe := validator.New(validator.Config{
		Workers:         cfg.Validation.Workers,
		MaxContentBytes: cfg.Validation.MaxContentBytes,
		UserAgent:       cfg.Validation.UserAgent,
	}, nil, limiter, app.logger)

	primary, err := setupProvider(app, cfg.Fetcher.Primary)
	if err != nil {
		return nil, err
	}
	fallback, err := setupProvider(app, cfg.Fetcher.Fallback)
	if err != nil {
		return nil, err
	}
	fetch, err := fetcher.New(fetcher.Config{
		Timeout:          cfg.Fetcher.Timeout(),
		PrimaryMaxChars:  cfg.Fetcher.PrimaryMaxChars,
		FallbackMaxChars: cfg.Fetcher.FallbackMaxChars,
		MinContentChars:  cfg.Fetcher.MinContentChars,
	}, primary, fallback, app.logger)
	if err != nil {
		return nil, fmt.Errorf("fetcher init failed: %w", err)
	}

	srcs, err := setupSources(app)
	if err != nil {
		return nil, err
	}
	mode := scheduler.ModeFromConfig(cfg.Acquisition.MaxConcurrentFetchJobs, cfg.Acquisition.SequentialInterval())
	app.logger.Info("acquisition configured",
		zap.Stringer("mode", mode),
		zap.Int("max_successful_fetches", cfg.Acquisition.MaxSuccessfulFetches),
		zap.Int("sources", len(srcs)),
	)
	orchestrator, err := acquisition.New(acquisition.Config{
		MaxSuccessfulFetches: cfg.Acquisition.MaxSuccessfulFetches,
		Mode:                 mode,
		ValidationTimeout:    cfg.Validation.Timeout(),
		ValidationMaxAccept:  cfg.Validation.MaxAccept,
	}, acquisition.Deps{
		Sources:   srcs,
		Validator: probe,
		Scheduler: scheduler.New(fetch, system.New(), app.logger),
		Reducer: reducer.New(reducer.Config{
			MaxChars:     cfg.Reducer.MaxChars,
			MinLineChars: cfg.Reducer.MinLineChars,
		}, app.logger),
		Clock:   system.New(),
		IDs:     uuid.New(),
		Emitter: emitter,
	}, app.logger)
	if err != nil {
		return nil, fmt.Errorf("acquisition init failed: %w", err)
	}
	return orchestrator, nil
}

// setupProvider returns a nil Provider for "" and "none".
func setupProvider(app *App, name string) (fetcher.Provider, error) {
	cfg := app.cfg
	switch name {
	case "firecrawl":
		p, err := firecrawl.New(firecrawl.Config{
			APIKey:  cfg.Firecrawl.APIKey,
			BaseURL: cfg.Firecrawl.BaseURL,
			Timeout: cfg.Fetcher.Timeout(),
		}, &http.Client{Timeout: cfg.Fetcher.Timeout() + 5*time.Second})
		if err != nil {
			return nil, fmt.Errorf("firecrawl provider init failed: %w", err)
		}
		app.logger.Info("using firecrawl provider", zap.String("base_url", cfg.Firecrawl.BaseURL))
		return p, nil
	case "colly":
		app.logger.Info("using colly provider", zap.Bool("respect_robots", cfg.Fetcher.RespectRobots))
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Fetcher.UserAgent,
			RespectRobots: cfg.Fetcher.RespectRobots,
			Timeout:       cfg.Fetcher.Timeout(),
		}), nil
	case "headless":
		if app.headless != nil {
			return app.headless, nil
		}
		h, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetcher.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("headless provider init failed: %w", err)
		}
		app.headless = h
		app.logger.Info("using headless provider", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		return h, nil
	default:
		return nil, nil
	}
}

func setupSources(app *App) ([]dossier.Source, error) {
	cfg := app.cfg.Sources
	var srcs []dossier.Source
	if cfg.SerperAPIKey != "" {
		src, err := serper.New(serper.Config{
			APIKey:       cfg.SerperAPIKey,
			BaseURL:      cfg.SerperBaseURL,
			Country:      cfg.SerperCountry,
			WebResults:   cfg.SerperResults,
			NewsResults:  cfg.SerperNewsResults,
			ExtraQueries: cfg.SerperQueries,
		}, nil, app.logger)
		if err != nil {
			return nil, fmt.Errorf("serper source init failed: %w", err)
		}
		srcs = append(srcs, src)
	}
	if cfg.PappersAPIKey != "" {
		src, err := pappers.New(pappers.Config{
			APIKey:       cfg.PappersAPIKey,
			BaseURL:      cfg.PappersBaseURL,
			Details:      cfg.PappersDetails,
			Publications: cfg.PappersPublications,
		}, nil, app.logger)
		if err != nil {
			return nil, fmt.Errorf("pappers source init failed: %w", err)
		}
		srcs = append(srcs, src)
	}
	if len(cfg.StaticURLs) > 0 {
		srcs = append(srcs, static.New("static", cfg.StaticURLs))
	}
	if len(srcs) == 0 {
		app.logger.Warn("no candidate sources configured; every acquisition will fail validation")
	}
	return srcs, nil
}

func setupArchive(ctx context.Context, app *App) (profile.Archiver, error) {
	cfg := app.cfg.Archive
	var blobs archive.BlobStore
	switch cfg.Backend {
	case "gcs":
		gcs, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.blobs = gcs
		blobs = gcs
		app.logger.Info("archiving bundles to GCS", zap.String("bucket", cfg.Bucket))
	case "local":
		local, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		blobs = local
		app.logger.Info("archiving bundles locally", zap.String("path", cfg.BaseDir))
	case "memory":
		blobs = memorystorage.NewBlobStore()
		app.logger.Info("archiving bundles in memory")
	default:
		app.logger.Info("bundle archive disabled")
		return nil, nil
	}
	archiver, err := archive.New(blobs, archive.Config{Prefix: cfg.Prefix}, app.logger)
	if err != nil {
		return nil, fmt.Errorf("archive init failed: %w", err)
	}
	return archiver, nil
}

func setupNotifier(ctx context.Context, app *App) (profile.Notifier, error) {
	cfg := app.cfg.Notify
	var pub notify.Publisher
	switch cfg.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubClient = client
		app.pubsubPublisher = gcppublisher.New(client)
		pub = app.pubsubPublisher
		app.logger.Info("Pub/Sub notifier initialized",
			zap.String("project", cfg.ProjectID),
			zap.String("topic", cfg.Topic),
		)
	case "memory":
		pub = memorypublisher.New()
		app.logger.Info("in-memory notifier initialized")
	default:
		app.logger.Info("completion notices disabled")
		return nil, nil
	}
	notifier, err := notify.New(pub, cfg.Topic, app.logger)
	if err != nil {
		return nil, fmt.Errorf("notifier init failed: %w", err)
	}
	return notifier, nil
}
