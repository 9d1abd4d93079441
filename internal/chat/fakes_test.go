package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/clock"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/domain"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/identity"
)

const testPassword = "secret"

var errQueueFull = errors.New("queue full")

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []Event
	full   bool
	closed string
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errQueueFull
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = reason
}

func (c *fakeConn) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Name)
	}
	return out
}

func (c *fakeConn) all(name string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) last(name string) (Event, bool) {
	evs := c.all(name)
	if len(evs) == 0 {
		return Event{}, false
	}
	return evs[len(evs)-1], true
}

func (c *fakeConn) has(name string) bool {
	_, ok := c.last(name)
	return ok
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// memRepo is an in-memory Store that keeps deep copies of what was saved.
type memRepo struct {
	mu      sync.Mutex
	snap    *domain.Snapshot
	saves   int
	clears  int
	saveErr error
	onSave  func(*domain.Snapshot)
}

func (r *memRepo) Load(_ context.Context) (*domain.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap == nil {
		return domain.NewSnapshot(), nil
	}
	return copySnapshot(r.snap), nil
}

func (r *memRepo) Save(_ context.Context, snap *domain.Snapshot) error {
	if r.onSave != nil {
		r.onSave(snap)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saves++
	r.snap = copySnapshot(snap)
	return nil
}

func (r *memRepo) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
	r.snap = nil
	return nil
}

func (r *memRepo) stored() *domain.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap == nil {
		return domain.NewSnapshot()
	}
	return copySnapshot(r.snap)
}

func copySnapshot(in *domain.Snapshot) *domain.Snapshot {
	out := domain.NewSnapshot()
	out.Messages = append(out.Messages, in.Messages...)
	for id, sess := range in.Sessions {
		// Connection state is never persisted.
		sess.Unbind()
		out.Sessions[id] = sess
	}
	out.RemovedUsers = append(out.RemovedUsers, in.RemovedUsers...)
	return out
}

type testEnv struct {
	hub   *Hub
	repo  *memRepo
	clock *clock.FakeClock
	ctx   context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithRepo(t, &memRepo{})
}

func newTestEnvWithRepo(t *testing.T, repo *memRepo, configure ...func(*Options)) *testEnv {
	t.Helper()
	cred, err := identity.NewAdminCredential(testPassword, "")
	if err != nil {
		t.Fatalf("NewAdminCredential() error = %v", err)
	}
	clk := clock.Fake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	opts := Options{
		Credential: cred,
		Clock:      clk,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, fn := range configure {
		fn(&opts)
	}
	hub, err := NewHub(context.Background(), repo, opts)
	if err != nil {
		t.Fatalf("NewHub() error = %v", err)
	}
	return &testEnv{hub: hub, repo: repo, clock: clk, ctx: context.Background()}
}

func (e *testEnv) connect(id string) *fakeConn {
	c := newFakeConn(id)
	e.hub.Attach(c)
	return c
}

func (e *testEnv) join(t *testing.T, c *fakeConn, req JoinRequest) {
	t.Helper()
	if err := e.hub.Join(e.ctx, c, req); err != nil {
		t.Fatalf("Join(%+v) error = %v", req, err)
	}
}

// joinAdmin connects a device that claims the admin role with the right password.
func (e *testEnv) joinAdmin(t *testing.T, connID, userID string) *fakeConn {
	t.Helper()
	c := e.connect(connID)
	e.join(t, c, JoinRequest{Name: "Admin", UserID: userID, Password: testPassword})
	return c
}

// approved connects userID under name and has admin approve it.
func (e *testEnv) approved(t *testing.T, admin *fakeConn, connID, userID, name string) *fakeConn {
	t.Helper()
	c := e.connect(connID)
	e.join(t, c, JoinRequest{Name: name, UserID: userID})
	if err := e.hub.AdminAction(e.ctx, admin, AdminActionRequest{Action: ActionApprove, UserID: userID}); err != nil {
		t.Fatalf("approve %s: %v", userID, err)
	}
	return c
}

func (e *testEnv) adminCount() (total, connected int) {
	for _, sess := range e.hub.Sessions() {
		if sess.IsAdmin {
			total++
			if sess.Connected {
				connected++
			}
		}
	}
	return total, connected
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func errorCodeOf(t *testing.T, c *fakeConn) string {
	t.Helper()
	ev, ok := c.last(EventError)
	if !ok {
		t.Fatalf("connection %s got no error_message; events = %v", c.id, c.names())
	}
	return ev.Data.(ErrorMessage).Code
}
