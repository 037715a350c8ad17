//go:build integration

package migration_test

import (
	"testing"

	"github.com/cti/scanhub/internal/infrastructure/migration"
	"github.com/cti/scanhub/internal/testutil/pgtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMigrator_RoundTrip(t *testing.T) {
	pg := pgtest.New(t)
	m, err := migration.NewFromURL(pg.DSN, pg.MigrationsPath, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	status, err := m.Status()
	require.NoError(t, err)
	assert.Equal(t, uint(1), status.Version)
	assert.False(t, status.Dirty)

	require.NoError(t, m.Up(), "up on a current schema is a no-op")

	require.NoError(t, m.Down())
	status, err = m.Status()
	require.NoError(t, err)
	assert.Zero(t, status.Version)

	var tables int64
	require.NoError(t, pg.Gorm.Raw(`SELECT count(*) FROM pg_tables WHERE schemaname = 'public' AND tablename = 'scans'`).Scan(&tables).Error)
	assert.Zero(t, tables)

	require.NoError(t, m.GoTo(1))
	status, err = m.Status()
	require.NoError(t, err)
	assert.Equal(t, uint(1), status.Version)
}

func TestMigrator_UniqueConstraints(t *testing.T) {
	pg := pgtest.New(t)

	var names []string
	require.NoError(t, pg.Gorm.Raw(`
		SELECT conname FROM pg_constraint
		WHERE contype = 'u' AND connamespace = 'public'::regnamespace
		ORDER BY conname`).Scan(&names).Error)

	assert.Equal(t, []string{
		"uq_animals_rfid",
		"uq_assets_bucket_key",
		"uq_devices_device_code",
		"uq_groups_external_id",
		"uq_scans_ingest_key",
	}, names)
}
