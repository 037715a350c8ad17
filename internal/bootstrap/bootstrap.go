// Package bootstrap assembles the ingestion stack from configuration. The
// HTTP server and the sync CLI share it so both write through the same
// services.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cti/scanhub/internal/application/ingest"
	"github.com/cti/scanhub/internal/infrastructure/config"
	"github.com/cti/scanhub/internal/infrastructure/logger"
	"github.com/cti/scanhub/internal/infrastructure/persistence"
	"github.com/cti/scanhub/internal/infrastructure/storage"
	"github.com/cti/scanhub/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// MeterName scopes every instrument the service registers
const MeterName = "github.com/cti/scanhub"

// App holds the wired services and the resources that must be released on exit
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Database *persistence.Database
	Storage  storage.ObjectStorage

	Scans  *persistence.GormScanRepository
	Assets *persistence.GormAssetRepository
	Ingest *ingest.Service
	Sync   *ingest.SyncService

	// Meter is nil when metrics are disabled
	Meter   metric.Meter
	Metrics *telemetry.IngestMetrics

	closers []func(context.Context) error
}

// New connects to the database and object store and builds the ingestion
// services. On error everything opened so far is released.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (app *App, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	app = &App{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
			app = nil
		}
	}()

	if err = app.initTelemetry(ctx); err != nil {
		return app, err
	}
	log = app.Logger
	if err = app.initDatabase(); err != nil {
		return app, err
	}

	app.Storage, err = storage.New(ctx, &cfg.Storage, log)
	if err != nil {
		return app, fmt.Errorf("object storage: %w", err)
	}
	if c, ok := app.Storage.(io.Closer); ok {
		app.onClose(func(context.Context) error { return c.Close() })
	}

	validator, err := loadValidator(cfg.Ingest.SchemaPath)
	if err != nil {
		return app, err
	}

	db := app.Database.DB
	scope := persistence.NewGormTransactionScope(db)
	app.Scans = persistence.NewGormScanRepository(db)
	app.Assets = persistence.NewGormAssetRepository(db)
	app.Ingest = ingest.NewService(ingest.ServiceConfig{
		Scope:         scope,
		Scans:         app.Scans,
		IngestionLogs: persistence.NewGormIngestionLogRepository(db),
		Normalizer:    ingest.NewNormalizer(validator),
		Logger:        log.Named("ingest"),
	})
	app.Sync = ingest.NewSyncService(app.Storage, app.Ingest, app.Scans, scope, log.Named("sync"))

	if app.Metrics != nil {
		app.Ingest.SetIngestMetrics(app.Metrics)
		app.Sync.SetIngestMetrics(app.Metrics)
	}
	return app, nil
}

func (a *App) initTelemetry(ctx context.Context) error {
	tc := a.Config.Telemetry
	if !tc.Enabled {
		return nil
	}

	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           true,
		CollectorEndpoint: tc.CollectorEndpoint,
		SamplingRatio:     tc.SamplingRatio,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("tracer provider: %w", err)
	}
	a.onClose(tp.Shutdown)

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           true,
		CollectorEndpoint: tc.CollectorEndpoint,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("meter provider: %w", err)
	}
	a.onClose(mp.Shutdown)

	if tc.LogsEnabled {
		lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
			Enabled:           true,
			CollectorEndpoint: tc.CollectorEndpoint,
			ServiceName:       tc.ServiceName,
			Insecure:          tc.Insecure,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("logger provider: %w", err)
		}
		a.onClose(lp.Shutdown)
		a.Logger = telemetry.BridgeLogger(a.Logger, lp, MeterName)
	}

	a.Meter = mp.Meter(MeterName)
	a.Metrics, err = telemetry.NewIngestMetrics(a.Meter)
	if err != nil {
		return fmt.Errorf("ingest metrics: %w", err)
	}
	return nil
}

func (a *App) initDatabase() error {
	cfg := a.Config
	gormLog := logger.NewGormLogger(a.Logger, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))

	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	a.Database = db
	a.onClose(func(context.Context) error { return db.Close() })

	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
			Enabled:         true,
			LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
			SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("database tracing: %w", err)
		}
	}
	a.Logger.Info("Database connected",
		zap.String("host", cfg.Database.Host),
		zap.String("dbname", cfg.Database.DBName))
	return nil
}

func loadValidator(schemaPath string) (*ingest.Validator, error) {
	if schemaPath == "" {
		return ingest.DefaultValidator()
	}
	v, err := ingest.LoadValidator(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("load metadata schema %s: %w", schemaPath, err)
	}
	return v, nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
