package permissions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edgefleet/authcore/internal/database/testutil"
	"github.com/edgefleet/authcore/internal/events"
	"github.com/edgefleet/authcore/internal/models"
)

func newTestStore(t *testing.T) (*Store, *events.Recorder) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	recorder := events.NewRecorder()
	store, err := NewStore(db, recorder)
	require.NoError(t, err)
	return store, recorder
}

func TestPutCreatesActiveGrant(t *testing.T) {
	store, recorder := newTestStore(t)

	record, err := store.Put(context.Background(), PutInput{
		PermissionType:   TypeUserPermission,
		TargetType:       TargetUser,
		TargetID:         "user-1",
		ResourceType:     "api",
		ResourceName:     "chat-api",
		AccessLevel:      "read_only",
		PermissionSource: SourceAdminGrant,
		ActorID:          "admin-1",
	})
	require.NoError(t, err)
	require.True(t, record.IsActive)
	require.Equal(t, "read_only", record.AccessLevel)

	published := recorder.BySubject(events.SubjectPermissionGranted)
	require.Len(t, published, 1)
	require.Equal(t, "admin-1", published[0].Payload["actor_id"])
}

func TestPutSupersedesExistingGrant(t *testing.T) {
	store, recorder := newTestStore(t)
	ctx := context.Background()

	base := PutInput{
		PermissionType:   TypeUserPermission,
		TargetType:       TargetUser,
		TargetID:         "user-1",
		ResourceType:     "api",
		ResourceName:     "chat-api",
		PermissionSource: SourceAdminGrant,
	}

	base.AccessLevel = "read_only"
	first, err := store.Put(ctx, base)
	require.NoError(t, err)

	base.AccessLevel = "read_write"
	second, err := store.Put(ctx, base)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	// Exactly one active record may exist for the key; the old row survives
	// as history.
	key := Key{TargetType: TargetUser, TargetID: "user-1", ResourceType: "api", ResourceName: "chat-api"}
	active, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, second.ID, active.ID)
	require.Equal(t, "read_write", active.AccessLevel)

	all, err := store.List(ctx, ListFilter{TargetType: TargetUser, TargetID: "user-1", IncludeInactive: true})
	require.NoError(t, err)
	require.Len(t, all, 2)

	activeCount := 0
	for _, rec := range all {
		if rec.IsActive {
			activeCount++
		}
	}
	require.Equal(t, 1, activeCount)

	granted := recorder.BySubject(events.SubjectPermissionGranted)
	require.Len(t, granted, 2)
	require.Equal(t, "read_only", granted[1].Payload["previous_state"])
	require.Equal(t, "read_write", granted[1].Payload["new_state"])
}

func TestPutValidatesTarget(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, PutInput{
		PermissionType:   TypeResourceConfig,
		TargetType:       TargetGlobal,
		TargetID:         "not-allowed",
		ResourceType:     "api",
		ResourceName:     "chat-api",
		AccessLevel:      "read_only",
		PermissionSource: SourceSystemDefault,
	})
	require.Error(t, err)

	_, err = store.Put(ctx, PutInput{
		PermissionType:   TypeUserPermission,
		TargetType:       TargetUser,
		ResourceType:     "api",
		ResourceName:     "chat-api",
		AccessLevel:      "read_only",
		PermissionSource: SourceAdminGrant,
	})
	require.Error(t, err)
}

func TestGetIgnoresExpiredGrants(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	expired := time.Now().UTC().Add(-time.Hour)
	_, err := store.Put(ctx, PutInput{
		PermissionType:   TypeUserPermission,
		TargetType:       TargetUser,
		TargetID:         "user-1",
		ResourceType:     "api",
		ResourceName:     "chat-api",
		AccessLevel:      "read_write",
		PermissionSource: SourceAdminGrant,
		ExpiresAt:        &expired,
	})
	require.NoError(t, err)

	record, err := store.Get(ctx, Key{TargetType: TargetUser, TargetID: "user-1", ResourceType: "api", ResourceName: "chat-api"})
	require.NoError(t, err)
	require.Nil(t, record)
}

func TestDeactivateIsIdempotent(t *testing.T) {
	store, recorder := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, PutInput{
		PermissionType:   TypeUserPermission,
		TargetType:       TargetUser,
		TargetID:         "user-1",
		ResourceType:     "api",
		ResourceName:     "chat-api",
		AccessLevel:      "read_only",
		PermissionSource: SourceAdminGrant,
	})
	require.NoError(t, err)

	key := Key{TargetType: TargetUser, TargetID: "user-1", ResourceType: "api", ResourceName: "chat-api"}

	revoked, err := store.Deactivate(ctx, key)
	require.NoError(t, err)
	require.True(t, revoked)

	revoked, err = store.Deactivate(ctx, key)
	require.NoError(t, err)
	require.False(t, revoked)

	// Only the first call publishes.
	require.Len(t, recorder.BySubject(events.SubjectPermissionRevoked), 1)
}

func TestDeactivateTargetCascades(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"chat-api", "billing-api"} {
		_, err := store.Put(ctx, PutInput{
			PermissionType:   TypeUserPermission,
			TargetType:       TargetUser,
			TargetID:         "user-1",
			ResourceType:     "api",
			ResourceName:     name,
			AccessLevel:      "read_only",
			PermissionSource: SourceAdminGrant,
		})
		require.NoError(t, err)
	}

	count, err := store.DeactivateTarget(ctx, TargetUser, "user-1")
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	remaining, err := store.List(ctx, ListFilter{TargetType: TargetUser, TargetID: "user-1"})
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestGlobalGrantsUseNullTarget(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	record, err := store.Put(ctx, PutInput{
		PermissionType:           TypeResourceConfig,
		TargetType:               TargetGlobal,
		ResourceType:             "api",
		ResourceName:             "chat-api",
		AccessLevel:              "read_write",
		PermissionSource:         SourceSystemDefault,
		SubscriptionTierRequired: "basic",
	})
	require.NoError(t, err)
	require.Nil(t, record.TargetID)

	found, err := store.Get(ctx, Key{TargetType: TargetGlobal, ResourceType: "api", ResourceName: "chat-api"})
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, record.ID, found.ID)

	var stored models.PermissionRecord
	require.NoError(t, store.db.First(&stored, "id = ?", record.ID).Error)
	require.Nil(t, stored.TargetID)
}
