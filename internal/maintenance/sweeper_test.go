package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/edgefleet/authcore/internal/database/testutil"
	"github.com/edgefleet/authcore/internal/models"
)

func seedPermission(t *testing.T, db *gorm.DB, expiresAt *time.Time) models.PermissionRecord {
	t.Helper()
	targetID := "user-1"
	record := models.PermissionRecord{
		PermissionType:   "user_permission",
		TargetType:       "user",
		TargetID:         &targetID,
		ResourceType:     "api",
		ResourceName:     "chat-api",
		AccessLevel:      "read_only",
		PermissionSource: "admin_grant",
		IsActive:         true,
		ExpiresAt:        expiresAt,
	}
	require.NoError(t, db.Create(&record).Error)
	return record
}

func seedSharing(t *testing.T, db *gorm.DB, resourceID, status string, expiresAt *time.Time) models.SharingResource {
	t.Helper()
	sharing := models.SharingResource{
		OrganizationID: "org-1",
		ResourceType:   "notebook",
		ResourceID:     resourceID,
		CreatorID:      "creator-1",
		DefaultLevel:   "read_only",
		Status:         status,
		ExpiresAt:      expiresAt,
	}
	require.NoError(t, db.Create(&sharing).Error)
	return sharing
}

func TestRunOnceRetiresExpiredRows(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	expiredPerm := seedPermission(t, db, &past)
	livePerm := seedPermission(t, db, &future)
	expiredShare := seedSharing(t, db, "nb-1", models.SharingStatusActive, &past)
	liveShare := seedSharing(t, db, "nb-2", models.SharingStatusActive, &future)
	pausedShare := seedSharing(t, db, "nb-3", models.SharingStatusPaused, &past)

	sweeper, err := NewSweeper(db)
	require.NoError(t, err)
	require.NoError(t, sweeper.RunOnce(context.Background()))

	var perm models.PermissionRecord
	require.NoError(t, db.First(&perm, "id = ?", expiredPerm.ID).Error)
	require.False(t, perm.IsActive)
	require.NoError(t, db.First(&perm, "id = ?", livePerm.ID).Error)
	require.True(t, perm.IsActive)

	var share models.SharingResource
	require.NoError(t, db.First(&share, "id = ?", expiredShare.ID).Error)
	require.Equal(t, models.SharingStatusExpired, share.Status)
	require.NoError(t, db.First(&share, "id = ?", liveShare.ID).Error)
	require.Equal(t, models.SharingStatusActive, share.Status)

	// Only active sharings expire; a paused one keeps its status.
	require.NoError(t, db.First(&share, "id = ?", pausedShare.ID).Error)
	require.Equal(t, models.SharingStatusPaused, share.Status)
}

func TestRunOnceNeverDeletes(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	past := time.Now().UTC().Add(-time.Hour)
	seedPermission(t, db, &past)
	seedSharing(t, db, "nb-1", models.SharingStatusActive, &past)

	sweeper, err := NewSweeper(db)
	require.NoError(t, err)
	require.NoError(t, sweeper.RunOnce(context.Background()))

	var permCount, shareCount int64
	require.NoError(t, db.Model(&models.PermissionRecord{}).Count(&permCount).Error)
	require.NoError(t, db.Model(&models.SharingResource{}).Count(&shareCount).Error)
	require.EqualValues(t, 1, permCount)
	require.EqualValues(t, 1, shareCount)
}

func TestSweeperUsesInjectedClock(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	soon := time.Now().UTC().Add(30 * time.Minute)
	record := seedPermission(t, db, &soon)

	sweeper, err := NewSweeper(db, WithNow(func() time.Time {
		return time.Now().UTC().Add(time.Hour)
	}))
	require.NoError(t, err)
	require.NoError(t, sweeper.RunOnce(context.Background()))

	var perm models.PermissionRecord
	require.NoError(t, db.First(&perm, "id = ?", record.ID).Error)
	require.False(t, perm.IsActive)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	sweeper, err := NewSweeper(db, WithSchedule("not a schedule"))
	require.NoError(t, err)
	require.Error(t, sweeper.Start())
}
