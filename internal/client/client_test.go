package client

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/chat"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/clock"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/domain"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/identity"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/store"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func startServer(t *testing.T, repo store.Repository) (string, *chat.Hub, func()) {
	t.Helper()
	cred, err := identity.NewAdminCredential("secret", "")
	require.NoError(t, err)

	hub, err := chat.NewHub(context.Background(), repo, chat.Options{Credential: cred, Logger: discard})
	require.NoError(t, err)

	srv := httptest.NewServer(transport.NewWebSocketHandler(hub, transport.NewRegistry(), transport.Options{IsDev: true, QueueSize: 64}))
	return "ws" + strings.TrimPrefix(srv.URL, "http"), hub, srv.Close
}

func dialClient(t *testing.T, url string, opts Options) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if opts.Logger == nil {
		opts.Logger = discard
	}
	c, err := Dial(ctx, url, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func wait(t *testing.T, c *Client, names ...string) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := c.Wait(ctx, names...)
	require.NoError(t, err, "waiting for %v", names)
	return ev
}

func waitMessage(t *testing.T, c *Client) domain.Message {
	t.Helper()
	var msg domain.Message
	require.NoError(t, wait(t, c, chat.EventNewMessage).Decode(&msg))
	return msg
}

func TestReplyAndUndoAcrossReload(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "chat.db")
	repo, err := store.Open(store.DriverSQLite, dbPath)
	require.NoError(t, err)

	url, hub, stop := startServer(t, repo)

	admin := dialClient(t, url, Options{})
	require.NoError(t, admin.Join(ctx, chat.JoinRequest{Name: "Admin", UserID: "admin-device", Password: "secret"}))
	var login chat.LoginSuccess
	require.NoError(t, wait(t, admin, chat.EventLoginSuccess).Decode(&login))
	assert.True(t, login.IsAdmin)

	clk := clock.Fake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	alice := dialClient(t, url, Options{Clock: clk})
	require.NoError(t, alice.Join(ctx, chat.JoinRequest{Name: "Alice", UserID: "alice-device"}))
	wait(t, alice, chat.EventWaitingApproval)

	require.NoError(t, admin.AdminAction(ctx, chat.ActionApprove, "alice-device"))
	wait(t, alice, chat.EventLoadMessages)

	require.NoError(t, alice.Post(ctx, chat.SendMessageRequest{Text: "hi"}))
	hi := waitMessage(t, alice)
	assert.Equal(t, hi.ID, waitMessage(t, admin).ID)

	require.NoError(t, admin.Post(ctx, chat.SendMessageRequest{Text: "hello", ReplyTo: hi.ID}))
	reply := waitMessage(t, alice)
	require.Equal(t, hi.ID, reply.ReplyTo)
	waitMessage(t, admin)
	assert.Equal(t, "Alice: hi", alice.Replies().Quote(reply.ReplyTo))
	assert.Equal(t, "Alice: hi", admin.Replies().Quote(reply.ReplyTo))

	// Staged and withdrawn: the server never hears about it.
	require.True(t, alice.StageDelete(hi.ID))
	clk.Advance(3 * time.Second)
	require.True(t, alice.CancelDelete(hi.ID))
	clk.Advance(time.Minute)
	assert.False(t, hub.Messages()[0].Deleted)

	require.True(t, alice.StageDelete(hi.ID))
	clk.Advance(DefaultUndoWindow)
	wait(t, alice, chat.EventMessageDeleted)
	wait(t, admin, chat.EventMessageDeleted)
	assert.Equal(t, Unavailable, alice.Replies().Quote(reply.ReplyTo))
	assert.Equal(t, Unavailable, admin.Replies().Quote(reply.ReplyTo))

	_ = admin.Close()
	_ = alice.Close()
	require.Eventually(t, func() bool {
		for _, s := range hub.Sessions() {
			if s.Connected {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
	stop()
	require.NoError(t, repo.Close())

	repo, err = store.Open(store.DriverSQLite, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	url, _, stop = startServer(t, repo)
	t.Cleanup(stop)

	again := dialClient(t, url, Options{})
	require.NoError(t, again.Join(ctx, chat.JoinRequest{Name: "Admin", UserID: "admin-device"}))
	var history []domain.Message
	require.NoError(t, wait(t, again, chat.EventLoadMessages).Decode(&history))

	require.Len(t, history, 2)
	assert.Equal(t, hi.ID, history[0].ID)
	assert.True(t, history[0].Deleted)
	assert.Equal(t, hi.ID, history[1].ReplyTo)
	assert.Equal(t, Unavailable, again.Replies().Quote(history[1].ReplyTo))
}

func TestWaitReturnsServerError(t *testing.T) {
	repo, err := store.Open(store.DriverPebble, filepath.Join(t.TempDir(), "chat"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	url, _, stop := startServer(t, repo)
	t.Cleanup(stop)

	c := dialClient(t, url, Options{})
	require.NoError(t, c.Join(context.Background(), chat.JoinRequest{Name: "  ", UserID: "dev-1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.Wait(ctx, chat.EventWaitingApproval)

	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "name_required", serverErr.Code)
}

func TestWaitAfterConnectionCloses(t *testing.T) {
	repo, err := store.Open(store.DriverPebble, filepath.Join(t.TempDir(), "chat"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	url, _, stop := startServer(t, repo)
	t.Cleanup(stop)

	c := dialClient(t, url, Options{})
	require.NoError(t, c.Users(context.Background()))
	_ = c.ws.CloseNow()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.Wait(ctx, chat.EventPong)
	require.ErrorIs(t, err, ErrClosed)
}
