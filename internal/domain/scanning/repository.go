package scanning

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// Lookups that find nothing return shared.ErrNotFound. Inserts that collide with
// a unique constraint return shared.ErrAlreadyExists.

// DeviceRepository defines the interface for device persistence
type DeviceRepository interface {
	// FindByCode finds a device by its unique code
	FindByCode(ctx context.Context, code string) (*Device, error)

	// Save creates or updates a device
	Save(ctx context.Context, device *Device) error

	// RecordCapture atomically counts one more capture for a stored device
	// and refreshes device with the stored counter.
	RecordCapture(ctx context.Context, device *Device, at time.Time) error
}

// GroupRepository defines the interface for herd persistence
type GroupRepository interface {
	FindByExternalID(ctx context.Context, externalID string) (*Group, error)

	// FindByName returns the oldest group with this name
	FindByName(ctx context.Context, name string) (*Group, error)

	Save(ctx context.Context, group *Group) error
}

// AnimalRepository defines the interface for animal persistence
type AnimalRepository interface {
	FindByRFID(ctx context.Context, rfid string) (*Animal, error)
	Save(ctx context.Context, animal *Animal) error
}

// AssetRepository defines the interface for asset persistence
type AssetRepository interface {
	// FindByLocation finds the asset stored at bucket/objectKey
	FindByLocation(ctx context.Context, bucket, objectKey string) (*Asset, error)

	// FindByIDs returns the assets with the given IDs, in no particular order
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]Asset, error)

	// Create inserts a new asset
	Create(ctx context.Context, asset *Asset) error
}

// ScanRepository defines the interface for scan persistence
type ScanRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Scan, error)

	// FindByIngestKey is the idempotency lookup
	FindByIngestKey(ctx context.Context, ingestKey string) (*Scan, error)

	// Create inserts a scan. A concurrent insert of the same ingest key
	// fails with shared.ErrAlreadyExists.
	Create(ctx context.Context, scan *Scan) error

	// FindStale returns scans whose ingest key starts with prefix and is not in observed
	FindStale(ctx context.Context, prefix string, observed []string) ([]Scan, error)

	// DeleteWithOwnedRows removes the scan's events, then its assets, then the scan
	DeleteWithOwnedRows(ctx context.Context, scan *Scan) error
}

// ScanEventRepository appends scan audit events
type ScanEventRepository interface {
	Create(ctx context.Context, event *ScanEvent) error
}

// IngestionLogRepository appends ingestion attempt records
type IngestionLogRepository interface {
	Create(ctx context.Context, entry *IngestionLog) error
}

// GeofenceResolver finds the farm whose territory contains a point.
//
// FarmGeofence rows are consulted first, newest geofence winning on overlap.
// Only when none match is the legacy Farm.Geofence checked, the most recently
// updated farm winning. A nil point or no match yields a nil farm ID.
type GeofenceResolver interface {
	ResolveFarm(ctx context.Context, point *orb.Point) (*uuid.UUID, error)
}
