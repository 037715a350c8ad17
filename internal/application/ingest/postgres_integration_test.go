//go:build integration

package ingest_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cti/scanhub/internal/application/ingest"
	"github.com/cti/scanhub/internal/domain/scanning"
	"github.com/cti/scanhub/internal/domain/shared"
	"github.com/cti/scanhub/internal/infrastructure/persistence"
	"github.com/cti/scanhub/internal/infrastructure/persistence/models"
	"github.com/cti/scanhub/internal/infrastructure/storage"
	"github.com/cti/scanhub/internal/testutil/pgtest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func postgresFixture(t *testing.T) (*fixture, *pgtest.DB) {
	t.Helper()
	pg := pgtest.New(t)
	return &fixture{
		db:    pg.Gorm,
		scope: persistence.NewGormTransactionScope(pg.Gorm),
		scans: persistence.NewGormScanRepository(pg.Gorm),
		logs:  persistence.NewGormIngestionLogRepository(pg.Gorm),
	}, pg
}

func insertFarmGeofence(t *testing.T, db *gorm.DB, farmID uuid.UUID, fence scanning.FarmGeofence) {
	t.Helper()
	fence.BaseEntity = shared.NewBaseEntity()
	fence.FarmID = farmID
	require.NoError(t, db.Create(models.FarmGeofenceModelFromDomain(&fence)).Error)
}

func TestPostgres_ConcurrentSubmitsStoreOneScan(t *testing.T) {
	f, pg := postgresFixture(t)
	svc := f.service(t, nil)

	const workers = 8
	results := make([]*ingest.Result, workers)
	errs := make([]error, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = svc.Submit(context.Background(), sampleSubmission(sampleMeta()))
		}(i)
	}
	close(start)
	wg.Wait()

	created := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		if results[i].Created {
			created++
		} else {
			assert.Equal(t, ingest.StatusDuplicate, results[i].Status)
		}
		assert.Equal(t, results[0].ScanID, results[i].ScanID)
	}
	assert.Equal(t, 1, created)

	assert.EqualValues(t, 1, pg.Count(t, "scans"))
	assert.EqualValues(t, 1, pg.Count(t, "devices"))
	assert.EqualValues(t, 2, pg.Count(t, "assets"))
	assert.EqualValues(t, 1, pg.Count(t, "scan_events"))
	assert.EqualValues(t, 1, pg.Count(t, "groups"))
	assert.EqualValues(t, 1, pg.Count(t, "animals"))
}

func TestPostgres_GeofenceTiers(t *testing.T) {
	f, _ := postgresFixture(t)
	ctx := context.Background()

	legacy := insertFarm(t, f.db, square(151, -34, 152, -33))
	parcelOwner := insertFarm(t, f.db, nil)
	older := scanning.FarmGeofence{Geometry: square(151.4, -33.6, 151.6, -33.4)}
	insertFarmGeofence(t, f.db, legacy.ID, older)
	time.Sleep(5 * time.Millisecond)
	newer := scanning.FarmGeofence{Geometry: square(151.45, -33.55, 151.55, -33.45)}
	insertFarmGeofence(t, f.db, parcelOwner.ID, newer)

	resolver := persistence.NewGeofenceResolver(f.db)

	tests := []struct {
		name string
		lat  float64
		lon  float64
		want *uuid.UUID
	}{
		{"newest parcel wins on overlap", -33.5, 151.5, &parcelOwner.ID},
		{"older parcel", -33.41, 151.41, &legacy.ID},
		{"legacy polygon", -33.9, 151.1, &legacy.ID},
		{"outside every fence", 10, 10, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := scanning.NewPoint(tt.lat, tt.lon)
			got, err := resolver.ResolveFarm(ctx, &p)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestPostgres_SyncMirrorsBucket(t *testing.T) {
	f, pg := postgresFixture(t)
	ctx := context.Background()
	svc := f.service(t, nil)

	stale := sampleSubmission(sampleMeta())
	stale.IngestKey = "raw/dev-0001/2024/12/31/cap_0999/"
	_, err := svc.Submit(ctx, stale)
	require.NoError(t, err)

	bucket := storage.NewMemoryObjectStorage(testBucket)
	body, err := json.Marshal(captureMeta("cap_2002", "dev-0002"))
	require.NoError(t, err)
	bucket.Put(testBucket, "raw/dev-0002/2025/01/01/cap_2002/meta.json", body)
	bucket.Put(testBucket, "raw/dev-0002/2025/01/01/cap_2002/image.jpg", []byte("jpeg"))

	syncer := ingest.NewSyncService(bucket, svc, f.scans, f.scope, nil)
	res, err := syncer.Sync(ctx, ingest.SyncRequest{
		Bucket: testBucket,
		Prefix: "raw/",
		Mode:   ingest.SyncModeAddRemove,
		Source: ingest.SourceCLI,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Removed)
	assert.Empty(t, res.Errors)

	assert.EqualValues(t, 1, pg.Count(t, "scans"))
	assert.EqualValues(t, 1, pg.Count(t, "assets"))
	assert.EqualValues(t, 2, pg.Count(t, "devices"))

	again, err := syncer.Sync(ctx, ingest.SyncRequest{Bucket: testBucket, Prefix: "raw/", Mode: ingest.SyncModeAddOnly})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Added)
	assert.Equal(t, 1, again.Duplicates)
}
