package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cti/scanhub/internal/infrastructure/auth"
	"github.com/cti/scanhub/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func permissionRouter(t *testing.T, svc *auth.JWTService, required ...string) *gin.Engine {
	router := gin.New()
	router.Use(JWTAuthMiddleware(svc))
	router.Use(RequireAnyPermissionWithConfig(PermissionConfig{Logger: zaptest.NewLogger(t)}, required...))
	router.POST("/sync", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestRequireAnyPermission(t *testing.T) {
	svc := newTestJWTService()

	tests := []struct {
		name     string
		held     []string
		required []string
		want     int
	}{
		{"exact permission", []string{auth.PermissionScansSync}, []string{auth.PermissionScansSync}, http.StatusOK},
		{"one of several", []string{auth.PermissionScansRead}, []string{auth.PermissionScansSync, auth.PermissionScansRead}, http.StatusOK},
		{"missing permission", []string{auth.PermissionScansRead}, []string{auth.PermissionScansSync}, http.StatusForbidden},
		{"no permissions", nil, []string{auth.PermissionScansSync}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/sync", nil)
			req.Header.Set(AuthHeaderKey, BearerPrefix+newTestToken(t, tt.held))
			w := httptest.NewRecorder()
			permissionRouter(t, svc, tt.required...).ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusForbidden {
				assert.Equal(t, dto.ErrCodeForbidden, decodeError(t, w).Error.Code)
			}
		})
	}
}

func TestRequireAnyPermission_WithoutAuth(t *testing.T) {
	router := gin.New()
	router.Use(RequireAnyPermissionWithConfig(PermissionConfig{}, auth.PermissionScansSync))
	router.POST("/sync", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sync", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
}
