package scanning

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cti/scanhub/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDevice(t *testing.T) {
	now := time.Date(2025, 10, 3, 13, 20, 0, 0, time.UTC)

	t.Run("creates device with first capture counted", func(t *testing.T) {
		d, err := NewDevice("dev-0001", now)
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, d.ID)
		assert.Equal(t, "dev-0001", d.Code)
		assert.Equal(t, "raw/dev-0001/", d.S3PrefixHint)
		assert.Equal(t, 1, d.CapturesCount)
		require.NotNil(t, d.LastUploadAt)
		assert.Equal(t, now, *d.LastUploadAt)
	})

	t.Run("rejects empty code", func(t *testing.T) {
		_, err := NewDevice("  ", now)
		require.Error(t, err)
		assert.True(t, errors.Is(err, shared.ErrInvalidInput))
	})

	t.Run("rejects overlong code", func(t *testing.T) {
		_, err := NewDevice(strings.Repeat("x", 129), now)
		assert.Error(t, err)
	})
}

func TestDevice_RecordCapture(t *testing.T) {
	first := time.Date(2025, 10, 3, 13, 20, 0, 0, time.UTC)
	d, err := NewDevice("dev-0001", first)
	require.NoError(t, err)

	later := first.Add(time.Hour)
	d.RecordCapture(later)

	assert.Equal(t, 2, d.CapturesCount)
	assert.Equal(t, later, *d.LastUploadAt)
	assert.Equal(t, later, *d.LastSeenAt)
}

func TestNewGroup(t *testing.T) {
	farm := uuid.New()

	tests := []struct {
		name       string
		externalID string
		nameHint   string
		wantName   string
		wantExtID  bool
	}{
		{"name hint wins", "G-7", "North pasture", "North pasture", true},
		{"falls back to external id", "G-7", "", "G-7", true},
		{"falls back to default", "", "", DefaultGroupName, false},
		{"name only", "", "Heifers", "Heifers", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGroup(tt.externalID, tt.nameHint, &farm)
			assert.Equal(t, tt.wantName, g.Name)
			assert.Equal(t, tt.wantExtID, g.ExternalID != nil)
			require.NotNil(t, g.FarmID)
			assert.Equal(t, farm, *g.FarmID)
		})
	}
}

func TestGroup_BackfillFarm(t *testing.T) {
	farmA, farmB := uuid.New(), uuid.New()

	g := NewGroup("G-1", "", nil)
	assert.False(t, g.BackfillFarm(nil))
	assert.True(t, g.BackfillFarm(&farmA))
	assert.Equal(t, farmA, *g.FarmID)

	assert.False(t, g.BackfillFarm(&farmB), "existing farm must not be overwritten")
	assert.Equal(t, farmA, *g.FarmID)
}

func TestNewAnimal(t *testing.T) {
	now := time.Unix(1700000000, 42)

	t.Run("uses rfid as tag", func(t *testing.T) {
		a := NewAnimal("982000123456789", nil, nil, now)
		require.NotNil(t, a.RFID)
		assert.Equal(t, "982000123456789", *a.RFID)
		assert.Equal(t, "982000123456789", a.Tag)
	})

	t.Run("synthesises tag without rfid", func(t *testing.T) {
		a := NewAnimal("", nil, nil, now)
		assert.Nil(t, a.RFID)
		assert.Equal(t, fmt.Sprintf("auto-tag-%d", now.UnixNano()), a.Tag)
	})
}

func TestAnimal_TrackContext(t *testing.T) {
	farmA, farmB := uuid.New(), uuid.New()
	group := uuid.New()

	a := NewAnimal("rfid-1", &farmA, nil, time.Now())

	assert.False(t, a.TrackContext(nil, nil), "nil context never clears references")
	assert.Equal(t, farmA, *a.FarmID)

	assert.True(t, a.TrackContext(&farmB, &group))
	assert.Equal(t, farmB, *a.FarmID)
	assert.Equal(t, group, *a.GroupID)

	assert.False(t, a.TrackContext(&farmB, &group), "unchanged context is a no-op")
}

func TestParseQuality(t *testing.T) {
	assert.Equal(t, QualityGood, ParseQuality("good"))
	assert.Equal(t, QualityMedium, ParseQuality(" Medium "))
	assert.Equal(t, QualityBad, ParseQuality(""))
	assert.Equal(t, QualityBad, ParseQuality("excellent"))
}

func TestMimeTypeFor(t *testing.T) {
	assert.Equal(t, MimeJPEG, MimeTypeFor("raw/a/image.jpg"))
	assert.Equal(t, MimeJPEG, MimeTypeFor("IMAGE.JPEG"))
	assert.Equal(t, MimePNG, MimeTypeFor("mask.png"))
	assert.Equal(t, MimeWebP, MimeTypeFor("overlay.webp"))
	assert.Equal(t, MimeOctetStream, MimeTypeFor("meta.json"))
}

func TestScan_OwnedAssetIDs(t *testing.T) {
	s := NewScan("cap_1", "raw/dev/cap_1/", uuid.New(), time.Now())
	assert.Empty(t, s.OwnedAssetIDs())

	img, mask := uuid.New(), uuid.New()
	s.ImageAssetID = &img
	s.MaskAssetID = &mask
	assert.Equal(t, []uuid.UUID{img, mask}, s.OwnedAssetIDs())
}

func TestNewIngestionLog(t *testing.T) {
	ok := NewIngestionLog("cap_1", "k/", 200, 512, 1500*time.Millisecond, "")
	assert.Nil(t, ok.Error)
	assert.Equal(t, int64(1500), ok.Ms)

	failed := NewIngestionLog("unknown", "k/", 400, 10, 0, "Schema validation failed: /capture_id: bad")
	require.NotNil(t, failed.Error)
	assert.Equal(t, 400, failed.HTTPStatus)
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("connection reset")

	var schemaErr error = &SchemaValidationError{Path: "/capture_id", Message: "does not match pattern"}
	assert.Equal(t, "/capture_id: does not match pattern", schemaErr.Error())

	wrapped := fmt.Errorf("sync: %w", &StorageAccessError{Bucket: "b", Prefix: "raw/", Err: ErrStorageCredentials})
	var storageErr *StorageAccessError
	require.True(t, errors.As(wrapped, &storageErr))
	assert.True(t, errors.Is(wrapped, ErrStorageCredentials))
	assert.Equal(t, shared.CodeStorageAuth, storageErr.DomainError().Code)
	assert.Equal(t, "Object storage credentials missing or rejected for b", storageErr.DomainError().Message)

	missing := &StorageAccessError{Bucket: "b", Prefix: "raw/", Err: errors.New("NoSuchBucket")}
	assert.Equal(t, shared.CodeStorageAccess, missing.DomainError().Code)
	assert.Contains(t, missing.DomainError().Message, "NoSuchBucket")

	persistErr := &PersistenceError{Op: "create scan", Err: cause}
	assert.True(t, errors.Is(persistErr, cause))
	assert.Equal(t, shared.CodePersistence, persistErr.DomainError().Code)
	assert.NotContains(t, persistErr.DomainError().Message, "connection reset")
}
