package ingest

import (
	"context"

	"github.com/cti/scanhub/internal/domain/scanning"
)

// TransactionScope provides transactional access to the ingestion repositories.
// Everything written inside fn commits or rolls back together.
type TransactionScope interface {
	// Execute runs the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories provides access to all repositories within a transaction.
// All repositories returned share the same underlying database transaction.
type TransactionalRepositories interface {
	Devices() scanning.DeviceRepository
	Groups() scanning.GroupRepository
	Animals() scanning.AnimalRepository
	Assets() scanning.AssetRepository
	Scans() scanning.ScanRepository
	Events() scanning.ScanEventRepository
	IngestionLogs() scanning.IngestionLogRepository

	// Geofences resolves farms with the transaction's view of the data
	Geofences() scanning.GeofenceResolver
}
