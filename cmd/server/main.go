package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cti/scanhub/internal/application/ingest"
	"github.com/cti/scanhub/internal/bootstrap"
	"github.com/cti/scanhub/internal/infrastructure/auth"
	"github.com/cti/scanhub/internal/infrastructure/config"
	"github.com/cti/scanhub/internal/infrastructure/logger"
	"github.com/cti/scanhub/internal/infrastructure/scheduler"
	"github.com/cti/scanhub/internal/interfaces/http/handler"
	"github.com/cti/scanhub/internal/interfaces/http/middleware"
	"github.com/cti/scanhub/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic("Failed to read .env: " + err.Error())
	}

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting scanhub",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("storage", cfg.Storage.Provider),
	)
	if cfg.Ingest.HMACSecret == config.DevHMACSecret {
		log.Warn("Webhook secret is the development default")
	}

	app, err := bootstrap.New(context.Background(), cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	log = app.Logger
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Close(ctx); err != nil {
			log.Error("Error releasing resources", zap.Error(err))
		}
	}()

	var trigger *scheduler.SyncTrigger
	if cfg.Sync.Interval > 0 {
		trigger, err = scheduler.NewSyncTrigger(scheduler.SyncTriggerConfig{
			Interval: cfg.Sync.Interval,
			Bucket:   app.Storage.DefaultBucket(),
			Prefix:   cfg.Sync.DefaultPrefix,
			Mode:     ingest.SyncMode(cfg.Sync.ScheduledMode),
		}, app.Sync, log)
		if err != nil {
			log.Fatal("Failed to create sync trigger", zap.Error(err))
		}
		trigger.Start(context.Background())
		log.Info("Scheduled sync enabled",
			zap.Duration("interval", cfg.Sync.Interval),
			zap.String("mode", cfg.Sync.ScheduledMode),
		)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := router.NewEngine(router.EngineConfig{
		Logger: log,
		HTTP:   cfg.HTTP,
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		},
		Meter: app.Meter,
		WebhookAuth: middleware.WebhookAuthConfig{
			Verifier:     auth.NewHMACVerifier(cfg.Ingest.HMACSecret, cfg.Ingest.HMACWindow),
			MaxBodyBytes: cfg.Ingest.MaxPayloadBytes,
			Metrics:      app.Metrics,
			Logger:       log.Named("webhook"),
		},
		JWTService: auth.NewJWTService(cfg.JWT),
		Webhook:    handler.NewIngestWebhookHandler(app.Ingest, log),
		Admin: handler.NewAdminScanHandler(handler.AdminScanHandlerConfig{
			Sync:              app.Sync,
			Storage:           app.Storage,
			Scans:             app.Scans,
			Assets:            app.Assets,
			DefaultPrefix:     cfg.Sync.DefaultPrefix,
			PresignExpiration: cfg.Storage.PresignExpiration,
			Logger:            log,
		}),
		Health: handler.NewHealthHandler(app.Database, log),
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if trigger != nil {
		if err := trigger.Stop(ctx); err != nil {
			log.Warn("Sync trigger did not stop cleanly", zap.Error(err))
		}
	}

	log.Info("Server exited gracefully")
}
