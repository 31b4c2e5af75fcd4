package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubCleaner struct {
	calls []string
	err   error
}

func (s *stubCleaner) DeactivateTarget(_ context.Context, targetType, targetID string) (int64, error) {
	s.calls = append(s.calls, targetType+":"+targetID)
	return 1, s.err
}

type stubPurger struct {
	purged    []string
	orgPurged []string
	err       error
}

func (s *stubPurger) PurgeMember(_ context.Context, userID string) (int64, error) {
	s.purged = append(s.purged, userID)
	return 1, s.err
}

func (s *stubPurger) PurgeOrgMember(_ context.Context, orgID, userID string) (int64, error) {
	s.orgPurged = append(s.orgPurged, orgID+":"+userID)
	return 1, s.err
}

func TestHandleUserDeletedCascades(t *testing.T) {
	cleaner := &stubCleaner{}
	purger := &stubPurger{}
	consumer, err := NewConsumer(nil, cleaner, purger)
	require.NoError(t, err)

	consumer.HandleUserDeleted(context.Background(), "user-1")

	require.Equal(t, []string{"user:user-1"}, cleaner.calls)
	require.Equal(t, []string{"user-1"}, purger.purged)
}

func TestHandleUserDeletedIgnoresBlankID(t *testing.T) {
	cleaner := &stubCleaner{}
	purger := &stubPurger{}
	consumer, err := NewConsumer(nil, cleaner, purger)
	require.NoError(t, err)

	consumer.HandleUserDeleted(context.Background(), "  ")

	require.Empty(t, cleaner.calls)
	require.Empty(t, purger.purged)
}

func TestHandleUserDeletedContinuesPastCleanerError(t *testing.T) {
	cleaner := &stubCleaner{err: errors.New("db down")}
	purger := &stubPurger{}
	consumer, err := NewConsumer(nil, cleaner, purger)
	require.NoError(t, err)

	// A failed permission cascade must not skip the member purge.
	consumer.HandleUserDeleted(context.Background(), "user-1")
	require.Equal(t, []string{"user-1"}, purger.purged)
}

func TestHandleOrgMemberRemoved(t *testing.T) {
	cleaner := &stubCleaner{}
	purger := &stubPurger{}
	consumer, err := NewConsumer(nil, cleaner, purger)
	require.NoError(t, err)

	consumer.HandleOrgMemberRemoved(context.Background(), "org-1", "user-1")
	require.Equal(t, []string{"org-1:user-1"}, purger.orgPurged)

	consumer.HandleOrgMemberRemoved(context.Background(), "", "user-1")
	require.Len(t, purger.orgPurged, 1)
}

func TestMalformedPayloadsAreDiscarded(t *testing.T) {
	cleaner := &stubCleaner{}
	purger := &stubPurger{}
	consumer, err := NewConsumer(nil, cleaner, purger)
	require.NoError(t, err)

	consumer.handleUserDeleted(context.Background(), []byte("not json"))
	consumer.handleOrgMemberRemoved(context.Background(), []byte("{"))

	require.Empty(t, cleaner.calls)
	require.Empty(t, purger.orgPurged)
}

func TestStartWithoutConnectionIsNoop(t *testing.T) {
	consumer, err := NewConsumer(nil, &stubCleaner{}, &stubPurger{})
	require.NoError(t, err)
	require.NoError(t, consumer.Start())
	consumer.Stop()
}
