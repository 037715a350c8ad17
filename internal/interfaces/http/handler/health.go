package handler

import (
	"net/http"
	"time"

	"github.com/cti/scanhub/internal/infrastructure/persistence"
	"github.com/cti/scanhub/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Health statuses
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
)

// DatabaseChecker checks the database connection and reports its pool
type DatabaseChecker interface {
	Ping() error
	Stats() (persistence.ConnectionStats, error)
}

// HealthHandler reports service liveness
type HealthHandler struct {
	db        DatabaseChecker
	logger    *zap.Logger
	startTime time.Time
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db DatabaseChecker, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		db:        db,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Check handles GET /health. An unreachable database answers 503.
func (h *HealthHandler) Check(c *gin.Context) {
	resp := dto.HealthResponse{
		Status:   HealthStatusOK,
		Database: HealthStatusOK,
		Uptime:   time.Since(h.startTime).Round(time.Second).String(),
	}
	if err := h.db.Ping(); err != nil {
		requestLogger(c, h.logger).Error("Database health check failed", zap.Error(err))
		resp.Status = HealthStatusDegraded
		resp.Database = "unreachable"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	if stats, err := h.db.Stats(); err != nil {
		requestLogger(c, h.logger).Warn("Database pool stats unavailable", zap.Error(err))
	} else {
		resp.Connections = &dto.ConnectionPool{
			MaxOpen:   stats.MaxOpenConnections,
			Open:      stats.OpenConnections,
			InUse:     stats.InUse,
			Idle:      stats.Idle,
			WaitCount: stats.WaitCount,
		}
	}
	c.JSON(http.StatusOK, resp)
}
