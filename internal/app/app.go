// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/geohints-scraper/internal/clock/system"
	"github.com/JakeFAU/geohints-scraper/internal/config"
	"github.com/JakeFAU/geohints-scraper/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/geohints-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/geohints-scraper/internal/hash/sha256"
	"github.com/JakeFAU/geohints-scraper/internal/id/uuid"
	"github.com/JakeFAU/geohints-scraper/internal/logging"
	"github.com/JakeFAU/geohints-scraper/internal/metrics"
	"github.com/JakeFAU/geohints-scraper/internal/parser"
	"github.com/JakeFAU/geohints-scraper/internal/parser/geohints"
	"github.com/JakeFAU/geohints-scraper/internal/parser/geomastr"
	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
	"github.com/JakeFAU/geohints-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/geohints-scraper/internal/retry"
	"github.com/JakeFAU/geohints-scraper/internal/storage/gcs"
	"github.com/JakeFAU/geohints-scraper/internal/storage/local"
	"github.com/JakeFAU/geohints-scraper/internal/storage/memory"
	"github.com/JakeFAU/geohints-scraper/internal/storage/r2"
	"github.com/JakeFAU/geohints-scraper/internal/storage/wrangler"
	"github.com/JakeFAU/geohints-scraper/internal/telemetry"
	"github.com/JakeFAU/geohints-scraper/internal/transcode"
	"github.com/JakeFAU/geohints-scraper/internal/uploader"
	"github.com/JakeFAU/geohints-scraper/internal/worker"
)

const serviceName = "geohints-scraper"

// App holds the shared services of one command invocation. Stage workers are
// built on demand so that commands only pay for what they use; the remote
// object store in particular is only constructed when a command needs it.
type App struct {
	cfg        config.Config
	runID      string
	logger     *zap.Logger
	clock      *system.Clock
	recorder   *metrics.Recorder
	tracer     *sdktrace.TracerProvider
	store      *local.Store
	policy     *retry.Policy
	fetcher    *collyfetcher.Fetcher
	parsers    *parser.Registry
	transcoder *transcode.Transcoder

	unlock    func() error
	gcsClient *storage.Client
	remote    pipeline.ObjectStore
}

// Load reads the configuration at path (empty for defaults and environment
// only) and builds the App.
func Load(ctx context.Context, path string) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg)
}

// New builds the App from an already loaded configuration. It fails fast if
// any critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	base, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, err
	}
	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, err
	}
	logger := base.With(zap.String("run_id", runID))

	tp, err := telemetry.InitTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	clk := system.New()
	store, err := local.New(local.Config{
		BaseDir:      cfg.Storage.OutputDir,
		ManifestPath: cfg.Storage.ManifestPath,
	}, clk)
	if err != nil {
		return nil, fmt.Errorf("init content store: %w", err)
	}

	geohintsParser, err := geohints.New(geohints.Config{
		BaseURL: cfg.Sources.GeohintsURL,
		CDNURL:  cfg.Sources.GeohintsCDN,
	})
	if err != nil {
		return nil, fmt.Errorf("init geohints parser: %w", err)
	}
	geomastrParser, err := geomastr.New(geomastr.Config{BaseURL: cfg.Sources.GeomastrURL})
	if err != nil {
		return nil, fmt.Errorf("init geomastr parser: %w", err)
	}

	recorder := metrics.New()
	policy := retry.New(cfg.Scraper.MaxRetries, cfg.Scraper.BackoffBase(), cfg.Scraper.BackoffMax())

	limiter := ratelimit.New(ratelimit.Config{
		Delay:     cfg.Scraper.Delay(),
		HostRPS:   cfg.Scraper.HostRPS,
		HostBurst: cfg.Scraper.HostBurst,
	})
	limiter.OnWait(recorder.ObservePacing)

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Scraper.UserAgent,
		Timeout:     cfg.Scraper.Timeout(),
		MaxBodySize: cfg.Scraper.MaxImageBytes,
	}, limiter, policy, recorder, logger.Named("fetcher"))

	transcoder := transcode.New(transcode.Config{
		OriginalQuality: cfg.Image.OriginalQuality,
		VariantQuality:  cfg.Image.VariantQuality,
		Widths:          cfg.Image.Widths,
	}, transcode.WebPEncoder{Method: cfg.Image.WebPMethod})

	logger.Debug("application services initialized",
		zap.String("output_dir", store.BaseDir()),
		zap.String("manifest", store.ManifestPath()),
		zap.String("backend", cfg.Remote.Backend),
	)

	return &App{
		cfg:        cfg,
		runID:      runID,
		logger:     logger,
		clock:      clk,
		recorder:   recorder,
		tracer:     tp,
		store:      store,
		policy:     policy,
		fetcher:    fetcher,
		parsers:    parser.NewRegistry(geohintsParser, geomastrParser),
		transcoder: transcoder,
	}, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// RunID identifies this invocation in logs.
func (a *App) RunID() string {
	return a.runID
}

// GetLogger returns the run-scoped logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// Recorder returns the metrics recorder.
func (a *App) Recorder() *metrics.Recorder {
	return a.recorder
}

// Store returns the local content store.
func (a *App) Store() *local.Store {
	return a.store
}

// Lock takes the output directory run lock. It is released by Close.
func (a *App) Lock() error {
	if a.unlock != nil {
		return nil
	}
	unlock, err := a.store.Lock()
	if err != nil {
		return err
	}
	a.unlock = unlock
	return nil
}

// Manifest reads the current manifest.
func (a *App) Manifest(ctx context.Context) (pipeline.Manifest, error) {
	return a.store.ReadManifest(ctx)
}

// Scraper builds the per-category scraper.
func (a *App) Scraper(dryRun bool) *worker.Scraper {
	return worker.NewScraper(worker.ScraperDeps{
		Parsers:    a.parsers,
		Fetcher:    a.fetcher,
		Store:      a.store,
		Transcoder: a.transcoder,
		Hasher:     sha256.New(),
		Clock:      a.clock,
		Recorder:   a.recorder,
		Logger:     a.logger.Named("scraper"),
	}, worker.ScraperConfig{
		Concurrency: a.cfg.Scraper.Concurrency,
		DryRun:      dryRun,
	})
}

// Dispatcher builds the all-categories runner.
func (a *App) Dispatcher(dryRun bool) *dispatcher.Dispatcher {
	return dispatcher.New(a.Scraper(dryRun), a.store, a.clock, dryRun, a.recorder, a.logger.Named("dispatcher"))
}

// Processor builds the re-derivation stage.
func (a *App) Processor() *worker.Processor {
	return worker.NewProcessor(a.store, a.transcoder, a.clock, a.logger.Named("processor"))
}

// Publisher builds the upload stage. Dry runs never touch the remote store
// and therefore need no credentials.
func (a *App) Publisher(ctx context.Context, dryRun bool) (*worker.Publisher, error) {
	var remote pipeline.ObjectStore = memory.NewObjectStore()
	if !dryRun {
		var err error
		if remote, err = a.RemoteStore(ctx); err != nil {
			return nil, err
		}
	}
	up := uploader.New(remote, a.policy, uploader.Config{
		Concurrency: a.cfg.Scraper.Concurrency,
		ContentType: a.transcoder.ContentType(),
		DryRun:      dryRun,
	}, a.recorder, a.logger.Named("uploader"))
	return worker.NewPublisher(a.store, up, a.clock, a.logger.Named("publisher")), nil
}

// Auditor builds the bucket audit stage.
func (a *App) Auditor(ctx context.Context) (*worker.Auditor, error) {
	remote, err := a.RemoteStore(ctx)
	if err != nil {
		return nil, err
	}
	return worker.NewAuditor(a.store, remote, a.clock, a.logger.Named("auditor")), nil
}

// RemoteStore returns the configured object store, building it on first use.
func (a *App) RemoteStore(ctx context.Context) (pipeline.ObjectStore, error) {
	if a.remote != nil {
		return a.remote, nil
	}
	if err := a.cfg.RequireRemoteCredentials(); err != nil {
		return nil, err
	}
	remote, err := a.newRemoteStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("init %s object store: %w", a.cfg.Remote.Backend, err)
	}
	a.logger.Info("using remote object store",
		zap.String("backend", a.cfg.Remote.Backend),
		zap.String("bucket", a.cfg.Remote.Bucket),
	)
	a.remote = remote
	return remote, nil
}

func (a *App) newRemoteStore(ctx context.Context) (pipeline.ObjectStore, error) {
	rc := a.cfg.Remote
	switch rc.Backend {
	case config.BackendR2:
		return r2.New(r2.Config{
			AccountID:       rc.AccountID,
			AccessKeyID:     rc.AccessKeyID,
			SecretAccessKey: rc.SecretAccessKey.Value(),
			Bucket:          rc.Bucket,
			Endpoint:        rc.Endpoint,
			CacheControl:    rc.CacheControl,
		})
	case config.BackendWrangler:
		return wrangler.New(wrangler.Config{
			Bucket:       rc.Bucket,
			Command:      rc.WranglerCommand,
			CacheControl: rc.CacheControl,
		}, nil)
	case config.BackendGCS:
		var opts []option.ClientOption
		if rc.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(rc.Endpoint), option.WithoutAuthentication())
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.gcsClient = client
		return gcs.New(client, gcs.Config{Bucket: rc.Bucket, CacheControl: rc.CacheControl}, a.logger.Named("gcs"))
	case config.BackendMemory:
		return memory.NewObjectStore(), nil
	default:
		return nil, fmt.Errorf("unknown remote backend %q", rc.Backend)
	}
}

// Close flushes metrics, shuts down tracing and releases the run lock. It is
// called by a Cobra hook after the command finishes.
func (a *App) Close() {
	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := a.recorder.WriteTextfile(path); err != nil {
			a.logger.Warn("failed to write metrics textfile", zap.String("path", path), zap.Error(err))
		}
	}
	if err := a.tracer.Shutdown(context.Background()); err != nil {
		a.logger.Warn("failed to shut down tracer", zap.Error(err))
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("failed to close gcs client", zap.Error(err))
		}
	}
	if a.unlock != nil {
		if err := a.unlock(); err != nil {
			a.logger.Warn("failed to release run lock", zap.Error(err))
		}
		a.unlock = nil
	}
	// Sync fails on stderr/stdout for some platforms; nothing useful to do.
	_ = a.logger.Sync()
}
