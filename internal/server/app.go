// Package server builds the application's dependency graph and runs the HTTP
// service.
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
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/records-resolver/internal/api"
	"github.com/JakeFAU/records-resolver/internal/clock/system"
	"github.com/JakeFAU/records-resolver/internal/config"
	"github.com/JakeFAU/records-resolver/internal/fetcher/httpclient"
	"github.com/JakeFAU/records-resolver/internal/fleet"
	"github.com/JakeFAU/records-resolver/internal/hash/sha256"
	"github.com/JakeFAU/records-resolver/internal/id/uuid"
	"github.com/JakeFAU/records-resolver/internal/logging"
	"github.com/JakeFAU/records-resolver/internal/metrics"
	"github.com/JakeFAU/records-resolver/internal/pipeline"
	"github.com/JakeFAU/records-resolver/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/records-resolver/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/records-resolver/internal/publisher/pubsub"
	"github.com/JakeFAU/records-resolver/internal/records"
	"github.com/JakeFAU/records-resolver/internal/resolve"
	"github.com/JakeFAU/records-resolver/internal/signals"
	"github.com/JakeFAU/records-resolver/internal/source"
	_ "github.com/JakeFAU/records-resolver/internal/source/assessor" // registers assessor_json
	_ "github.com/JakeFAU/records-resolver/internal/source/court"    // registers court_html
	_ "github.com/JakeFAU/records-resolver/internal/source/federal"  // registers registry_json
	_ "github.com/JakeFAU/records-resolver/internal/source/recorder" // registers recorder_json
	_ "github.com/JakeFAU/records-resolver/internal/source/sample"   // registers sample
	gcsstorage "github.com/JakeFAU/records-resolver/internal/storage/gcs"
	localstorage "github.com/JakeFAU/records-resolver/internal/storage/local"
	memorystorage "github.com/JakeFAU/records-resolver/internal/storage/memory"
	pgstore "github.com/JakeFAU/records-resolver/internal/storage/postgres"
	"github.com/JakeFAU/records-resolver/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    records.Store
	engine   *resolve.Engine
	pipeline *pipeline.Pipeline
	fleet    *fleet.Orchestrator
	api      *api.Server

	pubsubClient   *pubsub.Client
	publisher      *gcppublisher.Publisher
	storage        *storage.Client
	tracerShutdown func(context.Context) error
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the store gateway.
func (a *App) Store() records.Store { return a.store }

// Engine returns the resolution engine.
func (a *App) Engine() *resolve.Engine { return a.engine }

// Pipeline returns the resolve-then-score pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Fleet returns the job orchestrator.
func (a *App) Fleet() *fleet.Orchestrator { return a.fleet }

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// Build creates the application's dependencies. logger may be nil, in which
// case one is built from cfg.Logging.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.Close(context.WithoutCancel(ctx))
		}
	}()

	metrics.Init()
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     cfg.Telemetry.Version,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	clock := system.New()
	ids := uuid.New()

	if err = app.setupStore(ctx); err != nil {
		return nil, err
	}
	archive, err := app.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}

	registry, err := app.setupSources(archive, clock)
	if err != nil {
		return nil, err
	}

	app.engine, err = resolve.New(app.store, ids, clock, cfg.Resolution, logger)
	if err != nil {
		return nil, fmt.Errorf("resolution engine init failed: %w", err)
	}
	scorer, err := signals.NewScorer(cfg.Scoring)
	if err != nil {
		return nil, err
	}
	app.pipeline = pipeline.New(
		app.store,
		app.engine,
		signals.Defaults(cfg.Signals),
		scorer,
		publisher,
		cfg.PubSub.Topic,
		clock,
		logger,
	)
	app.fleet = fleet.New(registry, app.store, ids, clock, cfg.Fleet, app.pipeline, logger)

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.api = api.NewServer(app.fleet, app.store, api.Config{APIKey: apiKey}, logger)

	logger.Info("application built",
		zap.String("database", cfg.Database.Driver),
		zap.String("archive", cfg.Storage.Backend),
		zap.Bool("pubsub", cfg.PubSub.Enabled),
		zap.Strings("jurisdictions", registry.IDs()),
	)
	return app, nil
}

func (a *App) setupStore(ctx context.Context) error {
	if a.cfg.Database.Driver != config.DriverPostgres {
		a.logger.Warn("using in-memory store; nothing survives a restart")
		a.store = memorystorage.NewStore()
		return nil
	}
	if a.cfg.Database.Migrate {
		if err := pgstore.Migrate(ctx, a.cfg.Database.Postgres.DSN, false); err != nil {
			return err
		}
		a.logger.Info("schema migrations applied")
	}
	store, err := pgstore.Open(ctx, a.cfg.Database.Postgres, a.logger)
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	a.store = store
	return nil
}

func (a *App) setupArchive(ctx context.Context) (*source.Archiver, error) {
	var blobs records.BlobStore
	switch a.cfg.Storage.Backend {
	case config.ArchiveGCS:
		bs, client, err := gcsstorage.Open(ctx, a.cfg.Storage.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.storage = client
		blobs = bs
		a.logger.Debug("archiving raw payloads to GCS", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
	case config.ArchiveLocal:
		bs, err := localstorage.New(a.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		blobs = bs
		a.logger.Debug("archiving raw payloads locally", zap.String("path", a.cfg.Storage.Local.BaseDir))
	case config.ArchiveMemory:
		blobs = memorystorage.NewBlobStore()
	default:
		return nil, nil
	}
	return source.NewArchiver(blobs, sha256.New(), a.cfg.Storage.Prefix), nil
}

func (a *App) setupPublisher(ctx context.Context) (records.Publisher, error) {
	if !a.cfg.PubSub.Enabled {
		a.logger.Warn("Pub/Sub disabled, score changes are kept in memory")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.publisher = gcppublisher.New(client, a.cfg.PubSub.Topic)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return a.publisher, nil
}

func (a *App) setupSources(archive *source.Archiver, clock records.Clock) (*source.Registry, error) {
	httpCfg := a.cfg.HTTP
	transport := httpclient.NewTransport()
	env := source.Env{
		Client: httpclient.New(httpclient.Config{
			UserAgent:    httpCfg.UserAgent,
			MaxBodyBytes: httpCfg.MaxBodyBytes,
			Transport:    transport,
		}),
		Limiter:   ratelimit.New(httpCfg.Policy, a.logger),
		Transport: transport,
		Retry: &source.ExponentialRetryPolicy{
			MaxAttempts: httpCfg.MaxRetries,
			BaseDelay:   httpCfg.BackoffInitial,
			MaxDelay:    httpCfg.BackoffMax,
		},
		Archive: archive,
		Clock:   clock,
		Logger:  a.logger,
	}
	registry, err := source.Build(a.cfg.Jurisdictions, env)
	if err != nil {
		return nil, fmt.Errorf("source registry init failed: %w", err)
	}
	return registry, nil
}

// Run serves the HTTP API and blocks until ctx is cancelled or SIGINT/SIGTERM
// arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.drain(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// drain stops the fleet from starting jobs and waits for running ones so
// they finish before the store closes.
func (a *App) drain(ctx context.Context) {
	if a.fleet == nil {
		return
	}
	if err := a.fleet.Drain(ctx); err != nil {
		a.logger.Warn("jobs still running at shutdown", zap.Int("active", len(a.fleet.Active())), zap.Error(err))
	}
}

// Close waits for running jobs, then releases every client the app opened.
// It is safe on a partially built App.
func (a *App) Close(ctx context.Context) {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	drainCtx, cancel := context.WithTimeout(ctx, timeout)
	a.drain(drainCtx)
	cancel()

	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync fails on stderr/stdout on some platforms; nothing to act on.
	_ = a.logger.Sync()
}
