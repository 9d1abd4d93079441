package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/chat"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/client"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/domain"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/identity"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/store"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	url string
	hub *chat.Hub
	dir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	repo, err := store.Open(store.DriverPebble, filepath.Join(dir, "chat"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	cred, err := identity.NewAdminCredential("secret", "")
	require.NoError(t, err)
	hub, err := chat.NewHub(context.Background(), repo, chat.Options{
		Credential: cred,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(transport.NewWebSocketHandler(hub, transport.NewRegistry(), transport.Options{IsDev: true}))
	t.Cleanup(srv.Close)
	return &testServer{url: "ws" + strings.TrimPrefix(srv.URL, "http"), hub: hub, dir: dir}
}

// as returns the global flags for a device whose identity lives in file.
func (s *testServer) as(device, name string, extra ...string) []string {
	args := []string{
		"--server", s.url,
		"--identity-file", filepath.Join(s.dir, device),
		"--name", name,
		"--timeout", "5s",
	}
	return append(args, extra...)
}

func (s *testServer) admin() []string {
	return s.as("admin", "Admin", "--password", "secret")
}

func executeCLI(t *testing.T, home string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", home)

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	stdout, _, err := executeCLI(t, t.TempDir(), args...)
	return stdout, err
}

func TestSendThenHistoryShowsReply(t *testing.T) {
	srv := newTestServer(t)

	out, err := run(t, append([]string{"send", "hello"}, srv.admin()...)...)
	require.NoError(t, err)
	first := strings.TrimSpace(out)
	require.NotEmpty(t, first)

	_, err = run(t, append([]string{"send", "welcome", "--reply-to", first}, srv.admin()...)...)
	require.NoError(t, err)

	out, err = run(t, append([]string{"history"}, srv.admin()...)...)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "["+first+"] Admin")
	assert.Contains(t, lines[0], ": hello")
	assert.Contains(t, lines[1], "↪ Admin: hello")
}

func TestIdentityFileIsCreatedAndReused(t *testing.T) {
	srv := newTestServer(t)

	out, err := run(t, append([]string{"users"}, srv.admin()...)...)
	require.NoError(t, err)
	assert.Equal(t, "Admin\n", out)

	data, err := os.ReadFile(filepath.Join(srv.dir, "admin"))
	require.NoError(t, err)
	userID := strings.TrimSpace(string(data))
	assert.True(t, identity.IsValidUserID(userID))

	_, err = run(t, append([]string{"users"}, srv.admin()...)...)
	require.NoError(t, err)

	sessions := srv.hub.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, userID, sessions[0].UserID)
	assert.True(t, sessions[0].IsAdmin)
}

func TestPendingParticipantNeedsApproval(t *testing.T) {
	srv := newTestServer(t)

	_, err := run(t, append([]string{"send", "hi"}, srv.as("bob", "Bob")...)...)
	require.ErrorIs(t, err, errPendingApproval)

	data, err := os.ReadFile(filepath.Join(srv.dir, "bob"))
	require.NoError(t, err)
	bobID := strings.TrimSpace(string(data))

	out, err := run(t, append([]string{"admin", "pending"}, srv.admin()...)...)
	require.NoError(t, err)
	assert.Equal(t, bobID+"\tBob\n", out)

	out, err = run(t, append([]string{"admin", "approve", bobID}, srv.admin()...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "approve "+bobID+": ok")

	out, err = run(t, append([]string{"send", "hi"}, srv.as("bob", "Bob")...)...)
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))
}

func TestAdminCommandsRequireAdmin(t *testing.T) {
	srv := newTestServer(t)

	_, err := run(t, append([]string{"admin", "pending"}, srv.as("carol", "Carol")...)...)
	require.ErrorIs(t, err, errPendingApproval)

	_, err = run(t, append([]string{"admin", "end", "maybe"}, srv.admin()...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid argument")
}

func TestAdminClaimWithoutPassword(t *testing.T) {
	srv := newTestServer(t)

	_, err := run(t, append([]string{"users"}, srv.as("admin", "Admin")...)...)
	require.ErrorIs(t, err, errPasswordNeeded)
}

func TestDeleteWithoutUndoWindow(t *testing.T) {
	srv := newTestServer(t)

	out, err := run(t, append([]string{"send", "oops"}, srv.admin()...)...)
	require.NoError(t, err)
	id := strings.TrimSpace(out)

	out, err = run(t, append([]string{"delete", id, "--undo-window", "0"}, srv.admin()...)...)
	require.NoError(t, err)
	assert.Equal(t, "deleted "+id+"\n", out)

	msgs := srv.hub.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Deleted)
}

func TestDeleteAfterUndoWindow(t *testing.T) {
	srv := newTestServer(t)

	out, err := run(t, append([]string{"send", "oops"}, srv.admin()...)...)
	require.NoError(t, err)
	id := strings.TrimSpace(out)

	out, err = run(t, append([]string{"delete", id, "--undo-window", "50ms"}, srv.admin()...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "press Ctrl+C to undo")
	assert.Contains(t, out, "deleted "+id)
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	srv := newTestServer(t)
	t.Setenv("CHATCTL_SERVER", srv.url)
	t.Setenv("CHATCTL_NAME", "Admin")
	t.Setenv("CHATCTL_PASSWORD", "secret")
	t.Setenv("CHATCTL_IDENTITY_FILE", filepath.Join(srv.dir, "env-admin"))

	out, err := run(t, "users")
	require.NoError(t, err)
	assert.Equal(t, "Admin\n", out)
	assert.FileExists(t, filepath.Join(srv.dir, "env-admin"))
}

func TestSetupErrorStopsEveryCommand(t *testing.T) {
	setupErr := errors.New("flags unavailable")
	for _, args := range [][]string{{"users"}, {"send", "hi"}, {"admin", "approve", "u-1"}} {
		root := newRootCmd()
		failWith(root, setupErr)
		root.SetOut(io.Discard)
		root.SetErr(io.Discard)
		root.SetArgs(append(args, "--server", "ws://127.0.0.1:1/ws"))
		require.ErrorIs(t, root.Execute(), setupErr, "args %v", args)
	}
}

func TestLogoutForgetsIdentity(t *testing.T) {
	srv := newTestServer(t)

	_, err := run(t, append([]string{"send", "hi"}, srv.as("dave", "Dave")...)...)
	require.ErrorIs(t, err, errPendingApproval)

	out, err := run(t, append([]string{"logout"}, srv.as("dave", "Dave")...)...)
	require.NoError(t, err)
	assert.Equal(t, "logged out\n", out)
	assert.NoFileExists(t, filepath.Join(srv.dir, "dave"))
	assert.Empty(t, srv.hub.Sessions())
}

func TestFormatMessage(t *testing.T) {
	replies := client.NewReplyCache()
	replies.Put(domain.Message{ID: "1-1", SenderName: "Alice", Text: "hi"})
	now := time.Now()

	tests := []struct {
		name string
		msg  domain.Message
		want []string
	}{
		{
			name: "plain",
			msg:  domain.Message{ID: "1-2", SenderName: "Bob", Text: "yo", Timestamp: now},
			want: []string{"[1-2] Bob (", "): yo"},
		},
		{
			name: "deleted",
			msg:  domain.Message{ID: "1-3", SenderName: "Bob", Deleted: true, Timestamp: now},
			want: []string{"This message was deleted"},
		},
		{
			name: "attachment",
			msg: domain.Message{
				ID: "1-4", SenderName: "Bob", Timestamp: now,
				Attachment: &domain.Attachment{URL: "/uploads/a.png", Name: "a.png", Type: "image/png"},
			},
			want: []string{"<a.png /uploads/a.png>"},
		},
		{
			name: "reply",
			msg:  domain.Message{ID: "1-5", SenderName: "Bob", Text: "sure", ReplyTo: "1-1", Timestamp: now},
			want: []string{"↪ Alice: hi"},
		},
		{
			name: "dangling reply",
			msg:  domain.Message{ID: "1-6", SenderName: "Bob", Text: "what?", ReplyTo: "9-9", Timestamp: now},
			want: []string{"↪ " + client.Unavailable},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatMessage(tt.msg, replies)
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
		})
	}
}
