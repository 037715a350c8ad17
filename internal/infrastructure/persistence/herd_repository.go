package persistence

import (
	"context"

	"github.com/cti/scanhub/internal/domain/scanning"
	"github.com/cti/scanhub/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormGroupRepository implements GroupRepository using GORM
type GormGroupRepository struct {
	db *gorm.DB
}

// NewGormGroupRepository creates a new GormGroupRepository
func NewGormGroupRepository(db *gorm.DB) *GormGroupRepository {
	return &GormGroupRepository{db: db}
}

// FindByExternalID finds a group by its external identifier
func (r *GormGroupRepository) FindByExternalID(ctx context.Context, externalID string) (*scanning.Group, error) {
	var model models.GroupModel
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&model).Error; err != nil {
		return nil, notFound(err)
	}
	return model.ToDomain(), nil
}

// FindByName returns the oldest group carrying the name
func (r *GormGroupRepository) FindByName(ctx context.Context, name string) (*scanning.Group, error) {
	var model models.GroupModel
	if err := r.db.WithContext(ctx).
		Where("name = ?", name).
		Order("created_at ASC").
		First(&model).Error; err != nil {
		return nil, notFound(err)
	}
	return model.ToDomain(), nil
}

// Save creates or updates a group
func (r *GormGroupRepository) Save(ctx context.Context, group *scanning.Group) error {
	model := models.GroupModelFromDomain(group)
	return translateWriteError(r.db.WithContext(ctx).Save(model).Error)
}

// GormAnimalRepository implements AnimalRepository using GORM
type GormAnimalRepository struct {
	db *gorm.DB
}

// NewGormAnimalRepository creates a new GormAnimalRepository
func NewGormAnimalRepository(db *gorm.DB) *GormAnimalRepository {
	return &GormAnimalRepository{db: db}
}

// FindByRFID finds an animal by its RFID tag
func (r *GormAnimalRepository) FindByRFID(ctx context.Context, rfid string) (*scanning.Animal, error) {
	var model models.AnimalModel
	if err := r.db.WithContext(ctx).Where("rfid = ?", rfid).First(&model).Error; err != nil {
		return nil, notFound(err)
	}
	return model.ToDomain(), nil
}

// Save creates or updates an animal
func (r *GormAnimalRepository) Save(ctx context.Context, animal *scanning.Animal) error {
	model := models.AnimalModelFromDomain(animal)
	return translateWriteError(r.db.WithContext(ctx).Save(model).Error)
}

var (
	_ scanning.GroupRepository  = (*GormGroupRepository)(nil)
	_ scanning.AnimalRepository = (*GormAnimalRepository)(nil)
)
