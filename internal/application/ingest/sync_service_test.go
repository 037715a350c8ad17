package ingest_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/cti/scanhub/internal/application/ingest"
	"github.com/cti/scanhub/internal/domain/scanning"
	"github.com/cti/scanhub/internal/domain/shared"
	"github.com/cti/scanhub/internal/infrastructure/persistence/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBucket serves objects from memory and counts metadata reads.
type fakeBucket struct {
	objects map[string][]byte
	gets    []string
	listErr error
	getErr  error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}}
}

func (b *fakeBucket) putCapture(t *testing.T, ingestKey string, meta map[string]any, files ...string) {
	t.Helper()
	body, err := json.Marshal(meta)
	require.NoError(t, err)
	b.objects[ingestKey+ingest.MetaFileName] = body
	for _, f := range files {
		b.objects[ingestKey+f] = []byte("jpeg")
	}
}

func (b *fakeBucket) ListKeys(_ context.Context, _, prefix string) ([]string, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	keys := make([]string, 0)
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *fakeBucket) GetObject(_ context.Context, _, key string) ([]byte, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	b.gets = append(b.gets, key)
	body, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key %s", key)
	}
	return body, nil
}

func captureMeta(captureID, deviceCode string) map[string]any {
	meta := sampleMeta()
	meta["capture_id"] = captureID
	meta["device_code"] = deviceCode
	delete(meta, "mask_sha256")
	meta["files"] = map[string]any{"image_relpath": "image.jpg"}
	return meta
}

func newSyncService(t *testing.T, f *fixture, bucket *fakeBucket) *ingest.SyncService {
	t.Helper()
	return ingest.NewSyncService(bucket, f.service(t, nil), f.scans, f.scope, nil)
}

func TestSyncService_AddOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bucket := newFakeBucket()
	bucket.putCapture(t, "raw/DEV-001/2025/01/01/cap_1001/", captureMeta("cap_1001", "DEV-001"), "image.jpg")
	bucket.putCapture(t, "raw/DEV-001/2025/01/01/cap_1002/", captureMeta("cap_1002", "DEV-001"), "image.jpg")
	bucket.objects["raw/DEV-001/2025/01/01/cap_1002/thumbs/"] = nil

	res, err := newSyncService(t, f, bucket).Sync(ctx, ingest.SyncRequest{
		Bucket: testBucket,
		Prefix: "/raw",
		Mode:   ingest.SyncModeAddOnly,
	})
	require.NoError(t, err)
	assert.Equal(t, &ingest.SyncResult{
		Bucket:           testBucket,
		Prefix:           "raw/",
		Mode:             ingest.SyncModeAddOnly,
		Added:            2,
		Errors:           []string{},
		SyncedIngestKeys: 2,
	}, res)

	scan, err := f.scans.FindByIngestKey(ctx, "raw/DEV-001/2025/01/01/cap_1001/")
	require.NoError(t, err)
	assert.Equal(t, "cap_1001", scan.CaptureID)
	assert.NotNil(t, scan.ImageAssetID)

	logs, err := f.logs.FindByIngestKey(ctx, "raw/DEV-001/2025/01/01/cap_1002/")
	require.NoError(t, err)
	require.Len(t, logs, 1)

	t.Run("second run only counts duplicates without reading metadata", func(t *testing.T) {
		bucket.gets = nil
		res, err := newSyncService(t, f, bucket).Sync(ctx, ingest.SyncRequest{
			Bucket: testBucket,
			Prefix: "raw/",
			Mode:   ingest.SyncModeAddOnly,
		})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Added)
		assert.Equal(t, 2, res.Duplicates)
		assert.Empty(t, bucket.gets)
	})
}

func TestSyncService_CollectsPerObjectErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bucket := newFakeBucket()

	bucket.putCapture(t, "raw/DEV-001/2025/01/01/cap_1001/", captureMeta("cap_1001", "DEV-001"), "image.jpg")
	bucket.objects["raw/DEV-001/2025/01/01/cap_1002/meta.json"] = []byte("{not json")
	bad := captureMeta("cap_1003", "DEV-001")
	bad["clarity"] = 7
	bucket.putCapture(t, "raw/DEV-001/2025/01/01/cap_1003/", bad, "image.jpg")

	res, err := newSyncService(t, f, bucket).Sync(ctx, ingest.SyncRequest{
		Bucket: testBucket,
		Prefix: "raw/",
		Mode:   ingest.SyncModeAddOnly,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 3, res.SyncedIngestKeys)
	require.Len(t, res.Errors, 1)
	assert.True(t, strings.HasPrefix(res.Errors[0], "raw/DEV-001/2025/01/01/cap_1002/meta.json: invalid JSON ("), res.Errors[0])

	// free-text clarity is repaired to "bad", so the third capture ingests
	scan, err := f.scans.FindByIngestKey(ctx, "raw/DEV-001/2025/01/01/cap_1003/")
	require.NoError(t, err)
	assert.Equal(t, scanning.QualityBad, scan.Clarity)
}

func TestSyncService_SchemaErrorsAreReported(t *testing.T) {
	f := newFixture(t)
	bucket := newFakeBucket()
	bad := captureMeta("cap_1004", "DEV-001")
	bad["gps"] = map[string]any{"lat": 91, "lon": 0}
	bucket.putCapture(t, "raw/DEV-001/2025/01/02/cap_1004/", bad, "image.jpg")

	res, err := newSyncService(t, f, bucket).Sync(context.Background(), ingest.SyncRequest{
		Bucket: testBucket,
		Prefix: "raw/",
		Mode:   ingest.SyncModeAddOnly,
	})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.True(t, strings.HasPrefix(res.Errors[0], "raw/DEV-001/2025/01/02/cap_1004/meta.json: schema error - /gps/lat: "), res.Errors[0])
	assert.EqualValues(t, 0, f.count(t, &models.ScanModel{}))
}

func TestSyncService_AddRemoveDropsMissingCaptures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.service(t, nil)

	stale := sampleSubmission(sampleMeta())
	stale.IngestKey = "raw/DEV-OLD/2024/12/31/cap_3003/"
	_, err := svc.Submit(ctx, stale)
	require.NoError(t, err)

	outside := sampleSubmission(sampleMeta())
	outside.IngestKey = "archive/DEV-OLD/2024/12/31/cap_3004/"
	_, err = svc.Submit(ctx, outside)
	require.NoError(t, err)

	bucket := newFakeBucket()
	bucket.putCapture(t, "raw/DEV-NEW/2025/01/01/cap_2002/", captureMeta("cap_2002", "DEV-NEW"), "image.jpg")

	res, err := newSyncService(t, f, bucket).Sync(ctx, ingest.SyncRequest{
		Bucket: testBucket,
		Prefix: "raw/",
		Mode:   ingest.SyncModeAddRemove,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Removed)

	_, err = f.scans.FindByIngestKey(ctx, stale.IngestKey)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.scans.FindByIngestKey(ctx, outside.IngestKey)
	assert.NoError(t, err, "scans outside the prefix are untouched")
	_, err = f.scans.FindByIngestKey(ctx, "raw/DEV-NEW/2025/01/01/cap_2002/")
	assert.NoError(t, err)

	// outside capture has image and mask, the new one only an image
	assert.EqualValues(t, 3, f.count(t, &models.AssetModel{}))
	assert.EqualValues(t, 2, f.count(t, &models.ScanEventModel{}))
	assert.EqualValues(t, 2, f.count(t, &models.DeviceModel{}), "devices are never deleted")
}

func TestSyncService_AddOnlyNeverDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service(t, nil).Submit(ctx, sampleSubmission(sampleMeta()))
	require.NoError(t, err)

	res, err := newSyncService(t, f, newFakeBucket()).Sync(ctx, ingest.SyncRequest{
		Bucket: testBucket,
		Prefix: "raw/",
		Mode:   ingest.SyncModeAddOnly,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Removed)
	assert.EqualValues(t, 1, f.count(t, &models.ScanModel{}))
}

func TestSyncService_StorageFailureAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("listing", func(t *testing.T) {
		bucket := newFakeBucket()
		bucket.listErr = fmt.Errorf("list: %w", scanning.ErrStorageCredentials)

		res, err := newSyncService(t, f, bucket).Sync(ctx, ingest.SyncRequest{Bucket: testBucket, Prefix: "raw/", Mode: ingest.SyncModeAddRemove})
		assert.Nil(t, res)
		var accessErr *scanning.StorageAccessError
		require.ErrorAs(t, err, &accessErr)
		assert.Equal(t, "raw/", accessErr.Prefix)
		assert.ErrorIs(t, err, scanning.ErrStorageCredentials)
	})

	t.Run("reading metadata", func(t *testing.T) {
		bucket := newFakeBucket()
		bucket.putCapture(t, "raw/DEV-001/2025/01/01/cap_1001/", captureMeta("cap_1001", "DEV-001"), "image.jpg")
		bucket.getErr = errors.New("access denied")

		_, err := newSyncService(t, f, bucket).Sync(ctx, ingest.SyncRequest{Bucket: testBucket, Prefix: "raw/", Mode: ingest.SyncModeAddOnly})
		var accessErr *scanning.StorageAccessError
		require.ErrorAs(t, err, &accessErr)
		assert.Equal(t, "raw/DEV-001/2025/01/01/cap_1001/meta.json", accessErr.Prefix)
	})
}

func TestSyncService_RejectsUnknownMode(t *testing.T) {
	f := newFixture(t)
	_, err := newSyncService(t, f, newFakeBucket()).Sync(context.Background(), ingest.SyncRequest{Mode: "mirror"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestNormalizePrefix(t *testing.T) {
	tests := map[string]string{
		"":              "",
		"raw":           "raw/",
		"/raw/dev-0001": "raw/dev-0001/",
		"//raw/":        "raw/",
	}
	for in, want := range tests {
		assert.Equal(t, want, ingest.NormalizePrefix(in), in)
	}
}
