package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cti/scanhub/internal/application/ingest"
	"github.com/cti/scanhub/internal/domain/scanning"
	"github.com/cti/scanhub/internal/infrastructure/persistence"
	"github.com/cti/scanhub/internal/infrastructure/persistence/models"
	"github.com/cti/scanhub/internal/infrastructure/storage"
	"github.com/cti/scanhub/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type mockSyncer struct {
	mock.Mock
}

func (m *mockSyncer) Sync(ctx context.Context, req ingest.SyncRequest) (*ingest.SyncResult, error) {
	args := m.Called(ctx, req)
	if res := args.Get(0); res != nil {
		return res.(*ingest.SyncResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type adminFixture struct {
	db      *gorm.DB
	syncer  *mockSyncer
	storage *storage.MemoryObjectStorage
	scans   *persistence.GormScanRepository
	assets  *persistence.GormAssetRepository
	router  *gin.Engine
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.ScanningModels()...))

	f := &adminFixture{
		db:      db,
		syncer:  new(mockSyncer),
		storage: storage.NewMemoryObjectStorage("cti-scans"),
		scans:   persistence.NewGormScanRepository(db),
		assets:  persistence.NewGormAssetRepository(db),
	}
	h := NewAdminScanHandler(AdminScanHandlerConfig{
		Sync:              f.syncer,
		Storage:           f.storage,
		Scans:             f.scans,
		Assets:            f.assets,
		DefaultPrefix:     "raw/",
		PresignExpiration: 10 * time.Minute,
	})
	f.router = gin.New()
	f.router.POST("/sync-scans", h.SyncScans)
	f.router.GET("/scans/:id/assets", h.ListScanAssets)
	return f
}

func (f *adminFixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestAdminScanHandler_SyncScansDefaults(t *testing.T) {
	f := newAdminFixture(t)
	result := &ingest.SyncResult{Bucket: "cti-scans", Prefix: "raw/", Mode: ingest.SyncModeAddOnly, Added: 2, Errors: []string{}}
	f.syncer.On("Sync", mock.Anything, ingest.SyncRequest{
		Bucket: "cti-scans",
		Prefix: "raw/",
		Mode:   ingest.SyncModeAddOnly,
		Source: ingest.SourceAdminSync,
	}).Return(result, nil)

	w := f.do(http.MethodPost, "/sync-scans", `{"mode":"add_only"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool              `json:"success"`
		Data    ingest.SyncResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Data.Added)
	assert.Equal(t, "raw/", resp.Data.Prefix)
	f.syncer.AssertExpectations(t)
}

func TestAdminScanHandler_SyncScansExplicitTarget(t *testing.T) {
	f := newAdminFixture(t)
	f.syncer.On("Sync", mock.Anything, ingest.SyncRequest{
		Bucket: "other-bucket",
		Prefix: "raw/dev-0002/",
		Mode:   ingest.SyncModeAddRemove,
		Source: ingest.SourceAdminSync,
	}).Return(&ingest.SyncResult{Removed: 1}, nil)

	w := f.do(http.MethodPost, "/sync-scans", `{"mode":"add_remove","prefix":"raw/dev-0002/","bucket":"other-bucket"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	f.syncer.AssertExpectations(t)
}

func TestAdminScanHandler_SyncScansErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		syncErr error
		code    int
		errCode string
		message string
	}{
		{
			name:    "missing mode",
			body:    `{}`,
			code:    http.StatusBadRequest,
			errCode: dto.ErrCodeValidation,
		},
		{
			name:    "unsupported mode",
			body:    `{"mode":"mirror"}`,
			code:    http.StatusBadRequest,
			errCode: dto.ErrCodeInvalidInput,
			message: "Unsupported mode 'mirror'",
		},
		{
			name:    "storage unavailable",
			body:    `{"mode":"add_only"}`,
			syncErr: &scanning.StorageAccessError{Bucket: "cti-scans", Prefix: "raw/", Err: errors.New("NoSuchBucket")},
			code:    http.StatusBadRequest,
			errCode: dto.ErrCodeStorageAccess,
		},
		{
			name:    "storage credentials rejected",
			body:    `{"mode":"add_only"}`,
			syncErr: &scanning.StorageAccessError{Bucket: "cti-scans", Prefix: "raw/", Err: fmt.Errorf("list objects: %w", scanning.ErrStorageCredentials)},
			code:    http.StatusBadRequest,
			errCode: dto.ErrCodeStorageCredentials,
			message: "Object storage credentials missing or rejected for cti-scans",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAdminFixture(t)
			if tt.syncErr != nil {
				f.syncer.On("Sync", mock.Anything, mock.Anything).Return(nil, tt.syncErr)
			}

			w := f.do(http.MethodPost, "/sync-scans", tt.body)

			assert.Equal(t, tt.code, w.Code)
			resp := decodeEnvelope(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.errCode, resp.Error.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, resp.Error.Message)
			}
			if tt.syncErr == nil {
				f.syncer.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
			}
		})
	}
}

func (f *adminFixture) insertScan(t *testing.T, withMask bool) *scanning.Scan {
	t.Helper()
	ctx := context.Background()
	device, err := scanning.NewDevice("dev-0001", time.Now())
	require.NoError(t, err)
	require.NoError(t, persistence.NewGormDeviceRepository(f.db).Save(ctx, device))

	const key = "raw/dev-0001/2025/01/01/cap_1001/"
	image := scanning.NewAsset("cti-scans", key+"image.jpg", strings.Repeat("a", 64))
	require.NoError(t, f.assets.Create(ctx, image))

	scan := scanning.NewScan("cap_1001", key, device.ID, time.Now())
	scan.ImageAssetID = &image.ID
	if withMask {
		mask := scanning.NewAsset("cti-scans", key+"mask.png", strings.Repeat("b", 64))
		require.NoError(t, f.assets.Create(ctx, mask))
		scan.MaskAssetID = &mask.ID
	}
	require.NoError(t, f.scans.Create(ctx, scan))
	return scan
}

func TestAdminScanHandler_ListScanAssets(t *testing.T) {
	f := newAdminFixture(t)
	scan := f.insertScan(t, true)

	w := f.do(http.MethodGet, "/scans/"+scan.ID.String()+"/assets", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool                   `json:"success"`
		Data    dto.ScanAssetsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, scan.ID.String(), resp.Data.ScanID)
	require.Len(t, resp.Data.Assets, 2)

	image, mask := resp.Data.Assets[0], resp.Data.Assets[1]
	assert.Equal(t, AssetRoleImage, image.Role)
	assert.Equal(t, scan.ImageAssetID.String(), image.AssetID)
	assert.Equal(t, scanning.MimeJPEG, image.MimeType)
	assert.True(t, strings.HasPrefix(image.URL, "http://storage.local/cti-scans/raw/dev-0001/"), image.URL)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), image.ExpiresAt, time.Minute)

	assert.Equal(t, AssetRoleMask, mask.Role)
	assert.Equal(t, scanning.MimePNG, mask.MimeType)
}

func TestAdminScanHandler_ListScanAssetsErrors(t *testing.T) {
	f := newAdminFixture(t)

	t.Run("invalid id", func(t *testing.T) {
		w := f.do(http.MethodGet, "/scans/not-a-uuid/assets", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown scan", func(t *testing.T) {
		w := f.do(http.MethodGet, "/scans/"+uuid.NewString()+"/assets", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, dto.ErrCodeNotFound, decodeEnvelope(t, w).Error.Code)
	})
}

type failingPresigner struct{ *storage.MemoryObjectStorage }

func (failingPresigner) PresignGet(context.Context, string, string, time.Duration) (string, error) {
	return "", errors.New("signing key unavailable")
}

func TestAdminScanHandler_ListScanAssetsPresignFailure(t *testing.T) {
	f := newAdminFixture(t)
	scan := f.insertScan(t, false)
	h := NewAdminScanHandler(AdminScanHandlerConfig{
		Storage: failingPresigner{f.storage},
		Scans:   f.scans,
		Assets:  f.assets,
	})
	router := gin.New()
	router.GET("/scans/:id/assets", h.ListScanAssets)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scans/"+scan.ID.String()+"/assets", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrCodeStorageAccess, decodeEnvelope(t, w).Error.Code)
}
