package router

import (
	"github.com/cti/scanhub/internal/infrastructure/auth"
	"github.com/cti/scanhub/internal/infrastructure/config"
	"github.com/cti/scanhub/internal/infrastructure/logger"
	"github.com/cti/scanhub/internal/interfaces/http/handler"
	"github.com/cti/scanhub/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Route paths served outside the versioned API
const (
	HealthPath  = "/health"
	WebhookPath = "/ingest/webhook"
)

// EngineConfig holds everything NewEngine wires together
type EngineConfig struct {
	Logger  *zap.Logger
	HTTP    config.HTTPConfig
	Tracing middleware.TracingConfig
	// Meter enables HTTP metrics; nil disables them
	Meter metric.Meter

	WebhookAuth middleware.WebhookAuthConfig
	JWTService  *auth.JWTService

	Webhook *handler.IngestWebhookHandler
	Admin   *handler.AdminScanHandler
	Health  *handler.HealthHandler
}

// NewEngine builds the HTTP engine with the middleware stack and all routes.
//
// The webhook is authenticated by its HMAC signature and enforces its own
// payload limit. Admin routes sit under /api/v1 behind a bearer token.
func NewEngine(cfg EngineConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.WebhookAuth.Logger == nil {
		cfg.WebhookAuth.Logger = log
	}

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// RequestID first so every later layer can tag its output with it
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.TracingWithConfig(cfg.Tracing))
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(middleware.HTTPMetrics(cfg.Meter))
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORSWithConfig(corsConfig(cfg.HTTP)))

	engine.GET(HealthPath, cfg.Health.Check)
	engine.POST(WebhookPath, middleware.WebhookAuth(cfg.WebhookAuth), cfg.Webhook.Receive)

	r := NewRouter(engine, WithAPIVersion("v1"))
	r.Use(
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
		middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
			JWTService: cfg.JWTService,
			Logger:     log,
		}),
		middleware.SpanAttributes(),
	)

	permissions := middleware.PermissionConfig{Logger: log}
	admin := NewDomainGroup("admin", "/admin")
	admin.Group("database", "/database").
		POST("/sync-scans",
			middleware.RequireAnyPermissionWithConfig(permissions, auth.PermissionScansSync),
			cfg.Admin.SyncScans)
	admin.Group("scans", "/scans").
		GET("/:id/assets",
			middleware.RequireAnyPermissionWithConfig(permissions, auth.PermissionScansRead, auth.PermissionScansSync),
			cfg.Admin.ListScanAssets)
	r.Register(admin)
	r.Setup()

	return engine
}

func corsConfig(cfg config.HTTPConfig) middleware.CORSConfig {
	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.CORSAllowOrigins
	if len(cfg.CORSAllowMethods) > 0 {
		cors.AllowMethods = cfg.CORSAllowMethods
	}
	if len(cfg.CORSAllowHeaders) > 0 {
		cors.AllowHeaders = cfg.CORSAllowHeaders
	}
	return cors
}
