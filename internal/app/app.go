// Package app builds and holds the long-lived services of the validator,
// acting as its dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	gcsstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/api"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/config"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/policy/ratelimit"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/prober/clicktochat"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/progress"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/progress/sinks"
	memorypublisher "github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/publisher/memory"
	pubsubpublisher "github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/publisher/pubsub"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/report"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/runner"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/session"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/session/browser"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/storage/gcs"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/storage/local"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/storage/memory"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/storage/postgres"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/verify"
)

// App holds the shared services. It is built once at startup by New and torn
// down by Close.
type App struct {
	Config      config.Config
	Logger      *zap.Logger
	Blobs       verify.BlobStore
	Hub         *progress.Hub
	Broadcaster *progress.Broadcaster
	Session     verify.SessionProvider
	Publisher   verify.Publisher // nil when run notifications are off
	Runner      *runner.Runner
	Server      *api.Server

	browser    *browser.Session
	runCancel  context.CancelFunc
	closers    []func(context.Context) error
	registerer prometheus.Registerer
}

// Option customizes New.
type Option func(*App)

// WithRegisterer registers run metrics against reg instead of the default
// Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// WithBlobStore replaces the configured storage backend.
func WithBlobStore(blobs verify.BlobStore) Option {
	return func(a *App) { a.Blobs = blobs }
}

// New wires every service described by cfg. It fails fast when an enabled
// backend cannot be initialized and releases what it already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(a)
	}
	defer func() {
		if err != nil {
			if closeErr := a.Close(context.WithoutCancel(ctx)); closeErr != nil {
				logger.Warn("cleanup after failed init", zap.Error(closeErr))
			}
		}
	}()
	logger.Info("initializing application services")

	if a.Blobs == nil {
		if a.Blobs, err = a.newBlobStore(ctx); err != nil {
			return nil, err
		}
	}
	recorder, err := a.newRecorder(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.newPublisher(ctx)
	if err != nil {
		return nil, err
	}
	a.Publisher = publisher

	promSink, err := sinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return nil, fmt.Errorf("register run metrics: %w", err)
	}
	a.Broadcaster = progress.NewBroadcaster()
	a.Hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.BatchWait(),
		Logger:         logger.Named("progress"),
	}, a.Broadcaster, sinks.NewLogSink(logger.Named("events")), promSink)
	a.closers = append(a.closers, func(ctx context.Context) error {
		err := a.Hub.Close(ctx)
		if dropped := a.Hub.Dropped(); dropped > 0 {
			logger.Warn("progress events lost during lifetime", zap.Int64("dropped", dropped))
		}
		return err
	})

	if cfg.Session.Enabled {
		a.browser = browser.New(browser.Config{
			URL:           cfg.Session.URL,
			UserDataDir:   cfg.Session.UserDataDir,
			ChromePath:    cfg.Session.ChromePath,
			Headless:      cfg.Session.Headless,
			PollInterval:  cfg.PollInterval(),
			LookupTimeout: cfg.LookupTimeout(),
		}, a.Hub, logger.Named("session"))
		a.Session = a.browser
	} else {
		logger.Info("browser session disabled; every number uses the click-to-chat probe")
		a.Session = session.NewNoop()
	}

	proberCfg := clicktochat.Config{
		BaseURL:        cfg.Prober.BaseURL,
		Timeout:        cfg.ProbeTimeout(),
		UserAgent:      cfg.Prober.UserAgent,
		AcceptLanguage: cfg.Prober.AcceptLanguage,
	}
	if cfg.Prober.MaxRPS > 0 {
		proberCfg.Limiter = ratelimit.New(ratelimit.Config{RPS: cfg.Prober.MaxRPS, Burst: cfg.Prober.Burst})
	}
	prober := clicktochat.New(proberCfg, report.NewDiagnostics(a.Blobs, cfg.Storage.Prefix), logger.Named("prober"))

	writer := report.NewWriter(a.Blobs, recorder, publisher, nil, report.Config{
		Prefix: cfg.Storage.Prefix,
		Topic:  cfg.PubSub.TopicName,
	}, logger.Named("report"))

	runCtx, runCancel := context.WithCancel(context.WithoutCancel(ctx))
	a.runCancel = runCancel
	a.Runner = runner.New(a.Session, prober, writer, a.Hub, nil, runner.Config{
		ItemDelay:       cfg.ItemDelay(),
		DiagnosticLimit: cfg.Runner.DiagnosticLimit,
		BaseContext:     runCtx,
	}, logger.Named("runner"))

	a.Server = api.NewServer(a.Runner, a.Broadcaster, api.Config{
		APIKey:         apiKey(cfg.Auth),
		CORSOrigins:    cfg.Server.CORSOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RequestTimeout: cfg.RequestTimeout(),
	}, logger.Named("api"))

	logger.Info("application services initialized")
	return a, nil
}

// Start launches the browser session when one is configured.
func (a *App) Start(ctx context.Context) error {
	if a.browser == nil {
		return nil
	}
	if err := a.browser.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

// Close aborts the active run, waits for its report, then shuts every
// service down in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	a.Logger.Info("shutting down application services")
	var errs []error
	if a.runCancel != nil {
		a.runCancel()
	}
	if a.Runner != nil {
		if err := a.Runner.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.browser != nil {
		a.browser.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) newBlobStore(ctx context.Context) (verify.BlobStore, error) {
	cfg := a.Config.Storage
	switch cfg.Backend {
	case config.StorageLocal:
		a.Logger.Info("using local storage", zap.String("base_dir", cfg.BaseDir))
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return store, nil
	case config.StorageMemory:
		a.Logger.Warn("using in-memory storage; reports are lost on exit")
		return memory.NewBlobStore(), nil
	case config.StorageGCS:
		a.Logger.Info("using GCS storage", zap.String("bucket", cfg.GCSBucket))
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create GCS client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("init GCS storage: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// newRecorder returns nil when no database is configured.
func (a *App) newRecorder(ctx context.Context) (verify.RunRecorder, error) {
	if a.Config.DB.DSN == "" {
		return nil, nil
	}
	a.Logger.Info("connecting to PostgreSQL for run history")
	store, err := postgres.NewRunStore(ctx, postgres.RunStoreConfig{DSN: a.Config.DB.DSN, Table: a.Config.DB.Table})
	if err != nil {
		return nil, fmt.Errorf("init run store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		store.Close()
		return nil
	})
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("init run store: %w", err)
	}
	return store, nil
}

// newPublisher returns nil when no topic is configured.
func (a *App) newPublisher(ctx context.Context) (verify.Publisher, error) {
	cfg := a.Config.PubSub
	if cfg.TopicName == "" {
		return nil, nil
	}
	if cfg.Backend == config.PublisherMemory {
		a.Logger.Info("recording run notifications in memory", zap.String("topic", cfg.TopicName))
		return memorypublisher.New(), nil
	}
	a.Logger.Info("publishing run notifications", zap.String("project", cfg.ProjectID), zap.String("topic", cfg.TopicName))
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	publisher := pubsubpublisher.New(client)
	a.closers = append(a.closers, func(context.Context) error { return publisher.Close() })
	return publisher, nil
}

func apiKey(auth config.AuthConfig) string {
	if !auth.Enabled {
		return ""
	}
	return auth.APIKey
}
