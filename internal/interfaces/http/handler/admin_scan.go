package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cti/scanhub/internal/application/ingest"
	"github.com/cti/scanhub/internal/domain/scanning"
	"github.com/cti/scanhub/internal/domain/shared"
	"github.com/cti/scanhub/internal/interfaces/http/dto"
	"github.com/cti/scanhub/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Asset roles reported by the asset listing
const (
	AssetRoleImage       = "image"
	AssetRoleMask        = "mask"
	AssetRoleBackfatLine = "backfat_line"
)

// defaultPresignExpiration is used when the handler is configured without one
const defaultPresignExpiration = 15 * time.Minute

// ScanSyncer reconciles scans with a bucket
type ScanSyncer interface {
	Sync(ctx context.Context, req ingest.SyncRequest) (*ingest.SyncResult, error)
}

// AssetPresigner issues download URLs for stored objects
type AssetPresigner interface {
	PresignGet(ctx context.Context, bucket, key string, expiresIn time.Duration) (string, error)
	DefaultBucket() string
}

// AdminScanHandlerConfig holds the collaborators of AdminScanHandler
type AdminScanHandlerConfig struct {
	Sync              ScanSyncer
	Storage           AssetPresigner
	Scans             scanning.ScanRepository
	Assets            scanning.AssetRepository
	DefaultPrefix     string
	PresignExpiration time.Duration
	Logger            *zap.Logger
}

// AdminScanHandler serves the operator endpoints for scans
type AdminScanHandler struct {
	BaseHandler
	sync          ScanSyncer
	storage       AssetPresigner
	scans         scanning.ScanRepository
	assets        scanning.AssetRepository
	defaultPrefix string
	expiration    time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// NewAdminScanHandler creates a new AdminScanHandler
func NewAdminScanHandler(cfg AdminScanHandlerConfig) *AdminScanHandler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PresignExpiration <= 0 {
		cfg.PresignExpiration = defaultPresignExpiration
	}
	return &AdminScanHandler{
		sync:          cfg.Sync,
		storage:       cfg.Storage,
		scans:         cfg.Scans,
		assets:        cfg.Assets,
		defaultPrefix: cfg.DefaultPrefix,
		expiration:    cfg.PresignExpiration,
		logger:        cfg.Logger,
		now:           time.Now,
	}
}

// SyncScans handles POST /api/v1/admin/database/sync-scans
func (h *AdminScanHandler) SyncScans(c *gin.Context) {
	var req dto.SyncScansRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeValidation, middleware.ValidationMessage(err))
		return
	}
	mode, err := ingest.ParseSyncMode(req.Mode)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	bucket := req.Bucket
	if bucket == "" {
		bucket = h.storage.DefaultBucket()
	}
	prefix := req.Prefix
	if prefix == "" {
		prefix = h.defaultPrefix
	}

	log := requestLogger(c, h.logger).With(
		zap.String("bucket", bucket),
		zap.String("prefix", prefix),
		zap.String("mode", string(mode)),
		zap.String("subject", middleware.GetJWTSubject(c)),
	)
	log.Info("Scan sync requested")

	result, err := h.sync.Sync(c.Request.Context(), ingest.SyncRequest{
		Bucket: bucket,
		Prefix: prefix,
		Mode:   mode,
		Source: ingest.SourceAdminSync,
	})
	if err != nil {
		log.Warn("Scan sync failed", zap.Error(err))
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// ListScanAssets handles GET /api/v1/admin/scans/:id/assets
func (h *AdminScanHandler) ListScanAssets(c *gin.Context) {
	var uri dto.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BadRequest(c, "Invalid scan ID format")
		return
	}
	id := uuid.MustParse(uri.ID)

	ctx := c.Request.Context()
	scan, err := h.scans.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			h.NotFound(c, "Scan not found")
			return
		}
		h.HandleError(c, err)
		return
	}

	roles := assetRoles(scan)
	assets, err := h.assets.FindByIDs(ctx, scan.OwnedAssetIDs())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	expiresAt := h.now().Add(h.expiration).UTC()
	resp := dto.ScanAssetsResponse{ScanID: scan.ID.String(), Assets: make([]dto.AssetURL, 0, len(assets))}
	for _, role := range []string{AssetRoleImage, AssetRoleMask, AssetRoleBackfatLine} {
		asset := findAsset(assets, roles[role])
		if asset == nil {
			continue
		}
		url, err := h.storage.PresignGet(ctx, asset.Bucket, asset.ObjectKey, h.expiration)
		if err != nil {
			requestLogger(c, h.logger).Warn("Failed to presign asset",
				zap.String("asset_id", asset.ID.String()), zap.Error(err))
			h.HandleError(c, &scanning.StorageAccessError{Bucket: asset.Bucket, Prefix: asset.ObjectKey, Err: err})
			return
		}
		resp.Assets = append(resp.Assets, dto.AssetURL{
			Role:      role,
			AssetID:   asset.ID.String(),
			Bucket:    asset.Bucket,
			ObjectKey: asset.ObjectKey,
			MimeType:  asset.MimeType,
			URL:       url,
			ExpiresAt: expiresAt,
		})
	}
	h.Success(c, resp)
}

func assetRoles(scan *scanning.Scan) map[string]*uuid.UUID {
	return map[string]*uuid.UUID{
		AssetRoleImage:       scan.ImageAssetID,
		AssetRoleMask:        scan.MaskAssetID,
		AssetRoleBackfatLine: scan.BackfatLineAssetID,
	}
}

func findAsset(assets []scanning.Asset, id *uuid.UUID) *scanning.Asset {
	if id == nil {
		return nil
	}
	for i := range assets {
		if assets[i].ID == *id {
			return &assets[i]
		}
	}
	return nil
}
