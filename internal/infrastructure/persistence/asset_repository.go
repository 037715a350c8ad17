package persistence

import (
	"context"

	"github.com/cti/scanhub/internal/domain/scanning"
	"github.com/cti/scanhub/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormAssetRepository implements AssetRepository using GORM
type GormAssetRepository struct {
	db *gorm.DB
}

// NewGormAssetRepository creates a new GormAssetRepository
func NewGormAssetRepository(db *gorm.DB) *GormAssetRepository {
	return &GormAssetRepository{db: db}
}

// FindByLocation finds the asset stored at bucket/objectKey
func (r *GormAssetRepository) FindByLocation(ctx context.Context, bucket, objectKey string) (*scanning.Asset, error) {
	var model models.AssetModel
	if err := r.db.WithContext(ctx).
		Where("bucket = ? AND object_key = ?", bucket, objectKey).
		First(&model).Error; err != nil {
		return nil, notFound(err)
	}
	return model.ToDomain(), nil
}

// FindByIDs returns the assets with the given IDs
func (r *GormAssetRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]scanning.Asset, error) {
	if len(ids) == 0 {
		return []scanning.Asset{}, nil
	}
	var rows []models.AssetModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	assets := make([]scanning.Asset, len(rows))
	for i := range rows {
		assets[i] = *rows[i].ToDomain()
	}
	return assets, nil
}

// Create inserts a new asset
func (r *GormAssetRepository) Create(ctx context.Context, asset *scanning.Asset) error {
	model := models.AssetModelFromDomain(asset)
	return translateWriteError(r.db.WithContext(ctx).Create(model).Error)
}

var _ scanning.AssetRepository = (*GormAssetRepository)(nil)
