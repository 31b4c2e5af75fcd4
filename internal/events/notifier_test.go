package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecorderCapturesAndStamps(t *testing.T) {
	recorder := NewRecorder()
	ctx := context.Background()

	recorder.Publish(ctx, SubjectPermissionGranted, map[string]any{"target_id": "user-1"})
	recorder.Publish(ctx, SubjectCreditConsumed, nil)

	all := recorder.Events()
	require.Len(t, all, 2)
	require.Equal(t, SubjectPermissionGranted, all[0].Subject)
	require.Equal(t, "user-1", all[0].Payload["target_id"])
	require.NotEmpty(t, all[0].Payload["timestamp"])
	require.NotEmpty(t, all[1].Payload["timestamp"])

	require.Len(t, recorder.BySubject(SubjectCreditConsumed), 1)
	require.Empty(t, recorder.BySubject(SubjectSharingCreated))
}

func TestNATSNotifierDropsWithoutConnection(t *testing.T) {
	notifier := NewNATSNotifier(nil)

	// Must not panic or block; a missing broker only costs the event.
	notifier.Publish(context.Background(), SubjectPermissionGranted, map[string]any{"target_id": "user-1"})
}

func TestNoopDiscards(t *testing.T) {
	Noop{}.Publish(context.Background(), SubjectPermissionRevoked, map[string]any{"k": "v"})
}
