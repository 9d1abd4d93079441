package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]func() Repository {
	t.Helper()
	dir := t.TempDir()
	return map[string]func() Repository{
		DriverSQLite: func() Repository {
			repo, err := Open(DriverSQLite, filepath.Join(dir, "sqlite", "chat.db"))
			require.NoError(t, err)
			return repo
		},
		DriverPebble: func() Repository {
			repo, err := Open(DriverPebble, filepath.Join(dir, "pebble", "chat"))
			require.NoError(t, err)
			return repo
		},
	}
}

func sampleSnapshot() *domain.Snapshot {
	now := time.Unix(1700000000, 0)
	snap := domain.NewSnapshot()
	snap.Sessions["u-admin"] = domain.Session{
		UserID: "u-admin", Name: "Admin", Approved: true, IsAdmin: true,
		Connected: true, ConnID: "conn-1", CreatedAt: now, UpdatedAt: now,
	}
	snap.Sessions["u-alice"] = domain.Session{
		UserID: "u-alice", Name: "Alice", Approved: true,
		Connected: true, ConnID: "conn-2", CreatedAt: now, UpdatedAt: now,
	}
	snap.Sessions["u-mallory"] = domain.Session{
		UserID: "u-mallory", Name: "Mallory", Removed: true, CreatedAt: now, UpdatedAt: now,
	}
	snap.Messages = []domain.Message{
		{ID: "1-1", SenderUserID: "u-alice", SenderName: "Alice", Text: "hi", Timestamp: now.UTC()},
		{ID: "1-2", SenderUserID: "u-admin", SenderName: "Admin", ReplyTo: "1-1", Deleted: true, Timestamp: now.Add(time.Second).UTC()},
		{
			ID: "1-3", SenderUserID: "u-alice", SenderName: "Alice",
			Attachment: &domain.Attachment{URL: "/uploads/a.png", Type: "image/png", Name: "a.png"},
			Timestamp:  now.Add(2 * time.Second).UTC(),
		},
	}
	snap.RemovedUsers = []string{"u-mallory"}
	return snap
}

func TestRepositoryRoundTrip(t *testing.T) {
	for name, open := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open()

			empty, err := repo.Load(ctx)
			require.NoError(t, err)
			assert.True(t, empty.Empty(), "fresh store should load an empty snapshot")

			require.NoError(t, repo.Save(ctx, sampleSnapshot()))
			require.NoError(t, repo.Close())

			// Reopen to prove the data survived a restart.
			repo = open()
			defer func() { _ = repo.Close() }()

			got, err := repo.Load(ctx)
			require.NoError(t, err)

			require.Len(t, got.Sessions, 3)
			admin := got.Sessions["u-admin"]
			assert.True(t, admin.IsAdmin)
			assert.True(t, admin.Approved)
			assert.False(t, admin.Connected, "connection state must reset on load")
			assert.Empty(t, admin.ConnID)
			assert.True(t, got.Sessions["u-mallory"].Removed)
			assert.ElementsMatch(t, []string{"u-mallory"}, got.RemovedUsers)

			require.Len(t, got.Messages, 3)
			assert.Equal(t, []string{"1-1", "1-2", "1-3"}, []string{got.Messages[0].ID, got.Messages[1].ID, got.Messages[2].ID})
			assert.Equal(t, "hi", got.Messages[0].Text)
			assert.True(t, got.Messages[1].Deleted)
			assert.Equal(t, "1-1", got.Messages[1].ReplyTo)
			require.NotNil(t, got.Messages[2].Attachment)
			assert.Equal(t, "image/png", got.Messages[2].Attachment.Type)
			assert.True(t, got.Messages[0].Timestamp.Equal(time.Unix(1700000000, 0)))
		})
	}
}

func TestRepositorySaveReplacesState(t *testing.T) {
	for name, open := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open()
			defer func() { _ = repo.Close() }()

			require.NoError(t, repo.Save(ctx, sampleSnapshot()))

			smaller := domain.NewSnapshot()
			smaller.Sessions["u-bob"] = domain.Session{UserID: "u-bob", Name: "Bob"}
			require.NoError(t, repo.Save(ctx, smaller))

			got, err := repo.Load(ctx)
			require.NoError(t, err)
			assert.Len(t, got.Sessions, 1)
			assert.Contains(t, got.Sessions, "u-bob")
			assert.Empty(t, got.Messages)
			assert.Empty(t, got.RemovedUsers)
		})
	}
}

func TestRepositoryKeepsSubSecondSessionTimes(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	first := base.Add(100*time.Millisecond + 7)
	second := base.Add(400 * time.Millisecond)

	for name, open := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open()
			defer func() { _ = repo.Close() }()

			snap := domain.NewSnapshot()
			snap.Sessions["u-b"] = domain.Session{UserID: "u-b", Name: "B", Approved: true, CreatedAt: first, UpdatedAt: second}
			snap.Sessions["u-a"] = domain.Session{UserID: "u-a", Name: "A", Approved: true, CreatedAt: second, UpdatedAt: second}
			require.NoError(t, repo.Save(ctx, snap))

			got, err := repo.Load(ctx)
			require.NoError(t, err)
			b, a := got.Sessions["u-b"], got.Sessions["u-a"]
			assert.True(t, b.CreatedAt.Equal(first), "created_at = %v", b.CreatedAt)
			assert.True(t, b.UpdatedAt.Equal(second), "updated_at = %v", b.UpdatedAt)
			assert.True(t, b.CreatedAt.Before(a.CreatedAt), "join order lost within the same second")
		})
	}
}

func TestRepositoryClear(t *testing.T) {
	for name, open := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open()
			defer func() { _ = repo.Close() }()

			require.NoError(t, repo.Save(ctx, sampleSnapshot()))
			require.NoError(t, repo.Clear(ctx))
			require.NoError(t, repo.Ping(ctx))

			got, err := repo.Load(ctx)
			require.NoError(t, err)
			assert.True(t, got.Empty())
		})
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("postgres", filepath.Join(t.TempDir(), "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
}

func TestNormalizeListsRemovedSessions(t *testing.T) {
	snap := domain.NewSnapshot()
	snap.Sessions["u1"] = domain.Session{UserID: "u1", Removed: true, Connected: true, ConnID: "c"}
	got := normalize(snap)
	assert.Equal(t, []string{"u1"}, got.RemovedUsers)
	assert.False(t, got.Sessions["u1"].Connected)
}
