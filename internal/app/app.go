// Package app provides application initialization and wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"

	httpAdapter "github.com/gridflow/silogrid/internal/adapters/http"
	"github.com/gridflow/silogrid/internal/adapters/inventory"
	"github.com/gridflow/silogrid/internal/adapters/metrics"
	"github.com/gridflow/silogrid/internal/adapters/registry"
	"github.com/gridflow/silogrid/internal/adapters/storage"
	"github.com/gridflow/silogrid/internal/adapters/watcher"
	"github.com/gridflow/silogrid/internal/application"
	"github.com/gridflow/silogrid/internal/config"
	"github.com/gridflow/silogrid/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Archive      output.ObjectStore
	Registry     *registry.Silo
	Inventory    output.CacheInventory
	Reader       *application.WindowReader
	Persister    *application.Persister
	Assembler    *application.Assembler
	Materializer *application.Materializer
	HTTPServer   *httpAdapter.Server
	Watcher      *watcher.Watcher
	Metrics      *metrics.Collector
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize metrics
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("silogrid")
	}

	var metricsCollector output.MetricsCollector
	if app.Metrics != nil {
		metricsCollector = app.Metrics
	} else {
		metricsCollector = &output.NoOpMetrics{}
	}

	// Initialize the archive transport
	archive, err := initArchive(ctx, cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("initializing archive transport: %w", err)
	}
	app.Archive = archive

	// Initialize the variable registry
	app.Registry = registry.NewSilo()

	// Initialize the cache inventory
	if cfg.Cache.Inventory {
		inv, err := inventory.Open(cfg.Cache.InventoryPath())
		if err != nil {
			return nil, fmt.Errorf("opening cache inventory: %w", err)
		}
		app.Inventory = inv
	} else {
		app.Inventory = &output.NoOpInventory{}
	}

	// Initialize application services
	app.Reader = application.NewWindowReader(metricsCollector, logger)
	app.Persister = application.NewPersister(archive, app.Reader, app.Inventory, metricsCollector, logger)

	cache := storage.NewLocalStore(cfg.Cache.Dir)
	app.Assembler = application.NewAssembler(app.Registry, archive, cache, app.Reader, app.Persister, cfg.Cache.Dir, logger)
	app.Materializer = application.NewMaterializer(app.Registry, app.Persister, logger)

	// Initialize HTTP server
	app.HTTPServer = httpAdapter.NewServer(
		cfg.Server,
		cfg.Metrics,
		app.Assembler,
		app.Registry,
		app.Inventory,
		app.Metrics,
		logger,
	)

	// Initialize the cache watcher so externally deleted rasters drop
	// out of the inventory
	if cfg.Cache.Watch && cfg.Cache.Inventory {
		w, err := watcher.New(cfg.Cache.Dir, app.Inventory, logger)
		if err != nil {
			logger.Warn("failed to initialize cache watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// Start starts all application components.
func (a *App) Start(ctx context.Context) error {
	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start cache watcher", "error", err)
		}
	}

	return a.HTTPServer.Start()
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := a.Inventory.Close(); err != nil {
		a.Logger.Error("cache inventory close error", "error", err)
	}

	return nil
}

// initArchive initializes the archive transport adapter.
func initArchive(ctx context.Context, cfg config.Archive) (output.ObjectStore, error) {
	switch cfg.Type {
	case "http":
		return storage.NewHTTPStore(storage.HTTPConfig{
			BaseURL: cfg.HTTP.BaseURL,
			Timeout: cfg.HTTP.Timeout,
		}), nil

	case "s3":
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			Anonymous:       cfg.S3.Anonymous,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}
