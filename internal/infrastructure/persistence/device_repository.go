package persistence

import (
	"context"
	"time"

	"github.com/cti/scanhub/internal/domain/scanning"
	"github.com/cti/scanhub/internal/domain/shared"
	"github.com/cti/scanhub/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormDeviceRepository implements DeviceRepository using GORM
type GormDeviceRepository struct {
	db *gorm.DB
}

// NewGormDeviceRepository creates a new GormDeviceRepository
func NewGormDeviceRepository(db *gorm.DB) *GormDeviceRepository {
	return &GormDeviceRepository{db: db}
}

// FindByCode finds a device by its unique code
func (r *GormDeviceRepository) FindByCode(ctx context.Context, code string) (*scanning.Device, error) {
	var model models.DeviceModel
	if err := r.db.WithContext(ctx).Where("device_code = ?", code).First(&model).Error; err != nil {
		return nil, notFound(err)
	}
	return model.ToDomain(), nil
}

// Save creates or updates a device
func (r *GormDeviceRepository) Save(ctx context.Context, device *scanning.Device) error {
	model := models.DeviceModelFromDomain(device)
	return translateWriteError(r.db.WithContext(ctx).Save(model).Error)
}

// RecordCapture increments captures_count in SQL, so concurrent captures from
// one device each land even when both read the same starting count.
func (r *GormDeviceRepository) RecordCapture(ctx context.Context, device *scanning.Device, at time.Time) error {
	db := r.db.WithContext(ctx)
	res := db.Model(&models.DeviceModel{}).Where("id = ?", device.ID).Updates(map[string]any{
		"captures_count": gorm.Expr("captures_count + 1"),
		"last_seen_at":   at,
		"last_upload_at": at,
		"updated_at":     at,
	})
	if res.Error != nil {
		return translateWriteError(res.Error)
	}
	if res.RowsAffected == 0 {
		return shared.ErrNotFound
	}

	var counts []int
	if err := db.Model(&models.DeviceModel{}).Where("id = ?", device.ID).Pluck("captures_count", &counts).Error; err != nil {
		return err
	}
	if len(counts) == 0 {
		return shared.ErrNotFound
	}
	device.RecordCapture(at)
	device.CapturesCount = counts[0]
	return nil
}

var _ scanning.DeviceRepository = (*GormDeviceRepository)(nil)
