package middleware

import (
	"net/http"

	"github.com/cti/scanhub/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PermissionConfig holds configuration for permission middleware
type PermissionConfig struct {
	// Logger for middleware logging
	Logger *zap.Logger
}

// RequireAnyPermissionWithConfig creates middleware that requires any of the
// specified permissions. It must run after the JWT middleware.
func RequireAnyPermissionWithConfig(cfg PermissionConfig, permissions ...string) gin.HandlerFunc {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		claims := GetJWTClaims(c)
		if claims == nil {
			handlePermissionDenied(c, cfg, permissions, "No authentication claims found")
			return
		}
		if !claims.HasAnyPermission(permissions...) {
			handlePermissionDenied(c, cfg, permissions, "Caller lacks required permission")
			return
		}
		c.Next()
	}
}

func handlePermissionDenied(c *gin.Context, cfg PermissionConfig, requiredPerms []string, reason string) {
	var subject string
	var held []string
	if claims := GetJWTClaims(c); claims != nil {
		subject = claims.Subject
		held = claims.Permissions
	}
	cfg.Logger.Warn("Permission denied",
		zap.String("reason", reason),
		zap.String("subject", subject),
		zap.Strings("required_permissions", requiredPerms),
		zap.Strings("held_permissions", held),
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
	)

	c.AbortWithStatusJSON(http.StatusForbidden, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeForbidden,
		"Access denied: insufficient permissions",
		c.GetString(RequestIDContextKey),
	))
}
