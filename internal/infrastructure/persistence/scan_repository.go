package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/cti/scanhub/internal/domain/scanning"
	"github.com/cti/scanhub/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormScanRepository implements ScanRepository using GORM
type GormScanRepository struct {
	db *gorm.DB
}

// NewGormScanRepository creates a new GormScanRepository
func NewGormScanRepository(db *gorm.DB) *GormScanRepository {
	return &GormScanRepository{db: db}
}

// FindByID finds a scan by its ID
func (r *GormScanRepository) FindByID(ctx context.Context, id uuid.UUID) (*scanning.Scan, error) {
	var model models.ScanModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return model.ToDomain(), nil
}

// FindByIngestKey finds the scan created for an ingest key
func (r *GormScanRepository) FindByIngestKey(ctx context.Context, ingestKey string) (*scanning.Scan, error) {
	var model models.ScanModel
	if err := r.db.WithContext(ctx).Where("ingest_key = ?", ingestKey).First(&model).Error; err != nil {
		return nil, notFound(err)
	}
	return model.ToDomain(), nil
}

// Create inserts a scan
func (r *GormScanRepository) Create(ctx context.Context, scan *scanning.Scan) error {
	model, err := models.ScanModelFromDomain(scan)
	if err != nil {
		return fmt.Errorf("encode scan meta: %w", err)
	}
	return translateWriteError(r.db.WithContext(ctx).Create(model).Error)
}

// FindStale returns scans under prefix whose ingest key is not in observed.
// The set difference runs in memory so observed may exceed bind parameter limits.
func (r *GormScanRepository) FindStale(ctx context.Context, prefix string, observed []string) ([]scanning.Scan, error) {
	var rows []models.ScanModel
	if err := r.db.WithContext(ctx).
		Where(`ingest_key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%").
		Order("ingest_key ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(observed))
	for _, key := range observed {
		seen[key] = struct{}{}
	}

	stale := make([]scanning.Scan, 0)
	for i := range rows {
		// sqlite LIKE ignores case
		if !strings.HasPrefix(rows[i].IngestKey, prefix) {
			continue
		}
		if _, ok := seen[rows[i].IngestKey]; ok {
			continue
		}
		stale = append(stale, *rows[i].ToDomain())
	}
	return stale, nil
}

// DeleteWithOwnedRows removes the scan's events, then its assets, then the scan
func (r *GormScanRepository) DeleteWithOwnedRows(ctx context.Context, scan *scanning.Scan) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("scan_id = ?", scan.ID).Delete(&models.ScanEventModel{}).Error; err != nil {
		return fmt.Errorf("delete scan events: %w", err)
	}
	if ids := scan.OwnedAssetIDs(); len(ids) > 0 {
		if err := db.Where("id IN ?", ids).Delete(&models.AssetModel{}).Error; err != nil {
			return fmt.Errorf("delete scan assets: %w", err)
		}
	}
	if err := db.Where("id = ?", scan.ID).Delete(&models.ScanModel{}).Error; err != nil {
		return fmt.Errorf("delete scan: %w", err)
	}
	return nil
}

// GormScanEventRepository implements ScanEventRepository using GORM
type GormScanEventRepository struct {
	db *gorm.DB
}

// NewGormScanEventRepository creates a new GormScanEventRepository
func NewGormScanEventRepository(db *gorm.DB) *GormScanEventRepository {
	return &GormScanEventRepository{db: db}
}

// Create appends an event
func (r *GormScanEventRepository) Create(ctx context.Context, event *scanning.ScanEvent) error {
	model, err := models.ScanEventModelFromDomain(event)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	return r.db.WithContext(ctx).Create(model).Error
}

// FindByScanID lists a scan's events, oldest first
func (r *GormScanEventRepository) FindByScanID(ctx context.Context, scanID uuid.UUID) ([]scanning.ScanEvent, error) {
	var rows []models.ScanEventModel
	if err := r.db.WithContext(ctx).
		Where("scan_id = ?", scanID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	events := make([]scanning.ScanEvent, len(rows))
	for i := range rows {
		events[i] = *rows[i].ToDomain()
	}
	return events, nil
}

// GormIngestionLogRepository implements IngestionLogRepository using GORM
type GormIngestionLogRepository struct {
	db *gorm.DB
}

// NewGormIngestionLogRepository creates a new GormIngestionLogRepository
func NewGormIngestionLogRepository(db *gorm.DB) *GormIngestionLogRepository {
	return &GormIngestionLogRepository{db: db}
}

// Create appends an attempt record
func (r *GormIngestionLogRepository) Create(ctx context.Context, entry *scanning.IngestionLog) error {
	return r.db.WithContext(ctx).Create(models.IngestionLogModelFromDomain(entry)).Error
}

// FindByIngestKey lists the attempts recorded for an ingest key, oldest first
func (r *GormIngestionLogRepository) FindByIngestKey(ctx context.Context, ingestKey string) ([]scanning.IngestionLog, error) {
	var rows []models.IngestionLogModel
	if err := r.db.WithContext(ctx).
		Where("ingest_key = ?", ingestKey).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	logs := make([]scanning.IngestionLog, len(rows))
	for i := range rows {
		logs[i] = *rows[i].ToDomain()
	}
	return logs, nil
}

var (
	_ scanning.ScanRepository         = (*GormScanRepository)(nil)
	_ scanning.ScanEventRepository    = (*GormScanEventRepository)(nil)
	_ scanning.IngestionLogRepository = (*GormIngestionLogRepository)(nil)
)
