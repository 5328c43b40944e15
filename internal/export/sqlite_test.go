package export

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.db")
	snap := sampleSnapshot()
	ctx := context.Background()

	require.NoError(t, WriteSQLite(ctx, path, snap))

	got, err := ReadSQLite(ctx, path, snap.SnapshotID)
	require.NoError(t, err)
	assertSnapshotsEqual(t, snap, got)
	assert.Equal(t, snap.CreatedAt, got.CreatedAt)
}

func TestSQLiteEmptyIDPicksLatest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.db")
	ctx := context.Background()

	first := sampleSnapshot()
	first.CreatedAt = "2026-08-23T10:00:00Z"
	require.NoError(t, WriteSQLite(ctx, path, first))

	second := sampleSnapshot()
	second.CreatedAt = "2026-08-23T11:00:00Z"
	second.SessionID = "session-2"
	require.NoError(t, WriteSQLite(ctx, path, second))

	got, err := ReadSQLite(ctx, path, "")
	require.NoError(t, err)
	assert.Equal(t, second.SnapshotID, got.SnapshotID)
	assert.Equal(t, "session-2", got.SessionID)
}

func TestSQLiteMissingSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.db")
	ctx := context.Background()
	require.NoError(t, WriteSQLite(ctx, path, sampleSnapshot()))

	_, err := ReadSQLite(ctx, path, "no-such-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLiteEventsWithoutPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.db")
	ctx := context.Background()

	snap := sampleSnapshot()
	snap.Events[1].Payload = nil
	snap.Events[2].Payload = nil
	require.NoError(t, WriteSQLite(ctx, path, snap))

	got, err := ReadSQLite(ctx, path, snap.SnapshotID)
	require.NoError(t, err)
	require.Len(t, got.Events, 3)
	assert.Nil(t, got.Events[1].Payload)
	assert.Nil(t, got.Events[2].Payload)
}
