package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgefleet/authcore/internal/models"
)

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.ErrorContains(t, err, "unsupported database driver")
}

func TestOpenDefaultsToSQLite(t *testing.T) {
	db, err := Open(Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, sqlDB.Ping())
}

func TestAutoMigrateAndSeed(t *testing.T) {
	db, err := Open(Config{Driver: "sqlite", DSN: "file:migrate_test?mode=memory&cache=shared"})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrateAndSeed(db))

	var count int64
	require.NoError(t, db.Model(&models.PermissionRecord{}).
		Where("permission_type = ? AND target_type = ?", "resource_config", "global").
		Count(&count).Error)
	require.GreaterOrEqual(t, count, int64(3))

	// Seeding twice must not duplicate defaults.
	require.NoError(t, SeedData(db))
	var again int64
	require.NoError(t, db.Model(&models.PermissionRecord{}).Count(&again).Error)
	require.Equal(t, count, again)
}

func TestBuildPostgresDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User:     "authcore",
		Password: "secret",
		Name:     "authcore",
		Host:     "db.internal",
	})
	require.NoError(t, err)
	require.Contains(t, dsn, "host=db.internal")
	require.Contains(t, dsn, "sslmode=disable")

	_, err = buildPostgresDSN(Config{})
	require.Error(t, err)
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{User: "root", Name: "authcore"})
	require.NoError(t, err)
	require.Contains(t, dsn, "root@tcp(127.0.0.1:3306)/authcore")
	require.Contains(t, dsn, "parseTime=True")
}
