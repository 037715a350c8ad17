package persistence

import (
	"context"

	"github.com/cti/scanhub/internal/application/ingest"
	"github.com/cti/scanhub/internal/domain/scanning"
	"gorm.io/gorm"
)

// GormTransactionScope implements ingest.TransactionScope using GORM transactions.
type GormTransactionScope struct {
	db *gorm.DB
}

// NewGormTransactionScope creates a new GormTransactionScope.
func NewGormTransactionScope(db *gorm.DB) *GormTransactionScope {
	return &GormTransactionScope{db: db}
}

// Execute runs fn within a database transaction, committing only if fn succeeds.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos ingest.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTransactionalRepositories{tx: tx})
	})
}

// gormTransactionalRepositories hands out repositories bound to one transaction.
type gormTransactionalRepositories struct {
	tx *gorm.DB
}

func (r *gormTransactionalRepositories) Devices() scanning.DeviceRepository {
	return NewGormDeviceRepository(r.tx)
}

func (r *gormTransactionalRepositories) Groups() scanning.GroupRepository {
	return NewGormGroupRepository(r.tx)
}

func (r *gormTransactionalRepositories) Animals() scanning.AnimalRepository {
	return NewGormAnimalRepository(r.tx)
}

func (r *gormTransactionalRepositories) Assets() scanning.AssetRepository {
	return NewGormAssetRepository(r.tx)
}

func (r *gormTransactionalRepositories) Scans() scanning.ScanRepository {
	return NewGormScanRepository(r.tx)
}

func (r *gormTransactionalRepositories) Events() scanning.ScanEventRepository {
	return NewGormScanEventRepository(r.tx)
}

func (r *gormTransactionalRepositories) IngestionLogs() scanning.IngestionLogRepository {
	return NewGormIngestionLogRepository(r.tx)
}

func (r *gormTransactionalRepositories) Geofences() scanning.GeofenceResolver {
	return NewGeofenceResolver(r.tx)
}

// Ensure GormTransactionScope implements TransactionScope
var _ ingest.TransactionScope = (*GormTransactionScope)(nil)

// Ensure gormTransactionalRepositories implements TransactionalRepositories
var _ ingest.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
