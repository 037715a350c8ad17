package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cti/scanhub/internal/application/ingest"
	"github.com/cti/scanhub/internal/infrastructure/auth"
	"github.com/cti/scanhub/internal/infrastructure/config"
	"github.com/cti/scanhub/internal/infrastructure/persistence"
	"github.com/cti/scanhub/internal/infrastructure/storage"
	"github.com/cti/scanhub/internal/interfaces/http/handler"
	"github.com/cti/scanhub/internal/interfaces/http/middleware"
	"github.com/cti/scanhub/internal/testutil/jwttest"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

const (
	engineWebhookSecret = "router-test-webhook-secret"
	engineJWTSecret     = "router-test-secret-at-least-32-chars"
)

type stubSubmitter struct{ calls int }

func (s *stubSubmitter) Submit(context.Context, ingest.Submission) (*ingest.Result, error) {
	s.calls++
	return &ingest.Result{Created: true, ScanID: uuid.New(), CaptureID: "cap_1", Status: ingest.StatusSuccess, Message: ingest.MessageIngested}, nil
}

type stubSyncer struct{ last ingest.SyncRequest }

func (s *stubSyncer) Sync(_ context.Context, req ingest.SyncRequest) (*ingest.SyncResult, error) {
	s.last = req
	return &ingest.SyncResult{Bucket: req.Bucket, Prefix: req.Prefix, Mode: req.Mode, Errors: []string{}}, nil
}

type okDatabase struct{}

func (okDatabase) Ping() error { return nil }

func (okDatabase) Stats() (persistence.ConnectionStats, error) {
	return persistence.ConnectionStats{MaxOpenConnections: 10, OpenConnections: 1, Idle: 1}, nil
}

type engineFixture struct {
	engine    *gin.Engine
	submitter *stubSubmitter
	syncer    *stubSyncer
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	jwtService := auth.NewJWTService(config.JWTConfig{Secret: engineJWTSecret, Issuer: "scanhub-test"})
	f := &engineFixture{submitter: &stubSubmitter{}, syncer: &stubSyncer{}}
	f.engine = NewEngine(EngineConfig{
		Logger: log,
		HTTP: config.HTTPConfig{
			MaxBodySize:      1 << 20,
			CORSAllowOrigins: []string{"https://console.example.com"},
		},
		Tracing: middleware.TracingConfig{Enabled: false},
		WebhookAuth: middleware.WebhookAuthConfig{
			Verifier: auth.NewHMACVerifier(engineWebhookSecret, auth.DefaultSignatureWindow),
		},
		JWTService: jwtService,
		Webhook:    handler.NewIngestWebhookHandler(f.submitter, log),
		Admin: handler.NewAdminScanHandler(handler.AdminScanHandlerConfig{
			Sync:          f.syncer,
			Storage:       storage.NewMemoryObjectStorage("cti-scans"),
			DefaultPrefix: "raw/",
			Logger:        log,
		}),
		Health: handler.NewHealthHandler(okDatabase{}, log),
	})
	return f
}

func (f *engineFixture) token(t *testing.T, permissions ...string) string {
	t.Helper()
	return jwttest.Sign(t, jwttest.Token{
		Secret:      engineJWTSecret,
		Issuer:      "scanhub-test",
		Subject:     "ops-1",
		Username:    "ops",
		Permissions: permissions,
	})
}

func (f *engineFixture) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestNewEngine_Health(t *testing.T) {
	f := newEngineFixture(t)

	w := f.serve(httptest.NewRequest(http.MethodGet, HealthPath, nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDKey))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestNewEngine_Webhook(t *testing.T) {
	f := newEngineFixture(t)
	body := `{"bucket":"cti-scans","ingest_key":"raw/dev-0001/cap_1/","device_code":"dev-0001","objects":["image.jpg"],"meta_json":{"capture_id":"cap_1"}}`

	t.Run("signed", func(t *testing.T) {
		stamp := strconv.FormatInt(time.Now().Unix(), 10)
		req := httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader(body))
		req.Header.Set(auth.HeaderTimestamp, stamp)
		req.Header.Set(auth.HeaderSignature, auth.NewHMACVerifier(engineWebhookSecret, 0).Sign(stamp, []byte(body)))

		w := f.serve(req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, f.submitter.calls)
	})

	t.Run("bearer token is not enough", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader(body))
		req.Header.Set(middleware.AuthHeaderKey, middleware.BearerPrefix+f.token(t, auth.PermissionScansSync))

		w := f.serve(req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, 1, f.submitter.calls)
	})
}

func TestNewEngine_AdminSyncAuthorization(t *testing.T) {
	const path = "/api/v1/admin/database/sync-scans"

	tests := []struct {
		name        string
		permissions []string
		noToken     bool
		want        int
	}{
		{name: "no token", noToken: true, want: http.StatusUnauthorized},
		{name: "read only", permissions: []string{auth.PermissionScansRead}, want: http.StatusForbidden},
		{name: "sync permission", permissions: []string{auth.PermissionScansSync}, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"mode":"add_only"}`))
			req.Header.Set("Content-Type", "application/json")
			if !tt.noToken {
				req.Header.Set(middleware.AuthHeaderKey, middleware.BearerPrefix+f.token(t, tt.permissions...))
			}

			w := f.serve(req)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "cti-scans", f.syncer.last.Bucket)
				assert.Equal(t, "raw/", f.syncer.last.Prefix)
				assert.Equal(t, ingest.SourceAdminSync, f.syncer.last.Source)
			}
		})
	}
}

func TestNewEngine_ScanAssetsRoute(t *testing.T) {
	f := newEngineFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/scans/not-a-uuid/assets", nil)
	req.Header.Set(middleware.AuthHeaderKey, middleware.BearerPrefix+f.token(t, auth.PermissionScansRead))

	w := f.serve(req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNewEngine_CORSPreflight(t *testing.T) {
	f := newEngineFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/admin/database/sync-scans", nil)
	req.Header.Set("Origin", "https://console.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	w := f.serve(req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://console.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}
