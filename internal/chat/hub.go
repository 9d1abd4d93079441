// Package chat is the gated group-chat authority: it reconciles connections
// with durable identities, gates membership behind admin approval, arbitrates
// competing admin claims and owns the message log.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/clock"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/domain"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/identity"
)

// Store is the durable backing the hub flushes snapshots to.
type Store interface {
	Load(ctx context.Context) (*domain.Snapshot, error)
	Save(ctx context.Context, snap *domain.Snapshot) error
	Clear(ctx context.Context) error
}

const (
	defaultAdminName       = "Admin"
	defaultConflictTimeout = 5 * time.Second
	defaultShutdownGrace   = time.Second
)

// Options configures a Hub.
type Options struct {
	AdminName       string
	Credential      *identity.AdminCredential
	ConflictTimeout time.Duration
	ShutdownGrace   time.Duration
	Clock           clock.Clock
	Logger          *slog.Logger
	Metrics         *Metrics
	// OnShutdown runs once, ShutdownGrace after the admin ends the session.
	OnShutdown func(choice string)
}

// Hub owns all chat state. A single mutex serializes every operation, so
// check-then-act sequences are atomic.
type Hub struct {
	mu sync.Mutex

	opts     Options
	adminKey string
	store    Store
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *Metrics

	ids     *identityStore
	log     *messageLog
	router  *Router
	arbiter arbiter
	ended   bool
}

// NewHub loads persisted state from store and returns a ready hub.
func NewHub(ctx context.Context, store Store, opts Options) (*Hub, error) {
	if opts.AdminName == "" {
		opts.AdminName = defaultAdminName
	}
	if opts.ConflictTimeout <= 0 {
		opts.ConflictTimeout = defaultConflictTimeout
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = defaultShutdownGrace
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}

	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load chat state: %w", err)
	}

	ids := newIdentityStore(snap)
	h := &Hub{
		opts:     opts,
		adminKey: domain.NameKey(opts.AdminName),
		store:    store,
		clock:    opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		ids:      ids,
		log:      newMessageLog(snap.Messages),
		router:   newRouter(ids, opts.Logger),
	}
	h.logger.Info("Chat state loaded",
		"sessions", len(snap.Sessions),
		"messages", len(snap.Messages),
		"removed", len(snap.RemovedUsers))
	return h, nil
}

// Attach registers a new connection. It receives nothing until it joins.
func (h *Hub) Attach(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.router.add(c)
	h.metrics.Connections.Inc()
}

// Detach forgets a closed connection and must be called exactly once per
// Attach. Only a session still bound to c is
// unbound; a challenger leaving abandons its conflict and an incumbent
// leaving hands the role to the challenger.
func (h *Hub) Detach(ctx context.Context, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.metrics.Connections.Dec()
	h.router.remove(c.ID())

	if h.arbiter.isChallenger(c.ID()) {
		h.resolveConflict(ctx, h.arbiter.pending.seq, OutcomeAbandoned)
	}

	sess := h.ids.byConn(c.ID())
	if sess == nil {
		return
	}
	sess.Unbind()
	sess.UpdatedAt = h.clock.Now()
	h.logger.Info("Participant disconnected", "user_id", sess.UserID, "conn_id", c.ID())

	if sess.IsAdmin && h.arbiter.pending != nil {
		h.resolveConflict(ctx, h.arbiter.pending.seq, OutcomeIncumbentLeft)
		return
	}
	h.broadcastRoster()
}

// ListUsers replies with the active-name list.
func (h *Hub) ListUsers(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.router.ToConn(c, Event{Name: EventUserList, Data: h.ids.activeNames()})
}

// LogoutSelf erases the caller's session so its name becomes reusable.
func (h *Hub) LogoutSelf(ctx context.Context, c Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return ErrSessionEnded
	}

	sess := h.ids.byConn(c.ID())
	if sess == nil {
		return ErrNotJoined
	}
	wasAdmin := sess.IsAdmin
	h.ids.removeEntirely(sess.UserID)
	h.logger.Info("Participant logged out", "user_id", sess.UserID, "name", sess.Name)
	h.router.ToConn(c, Event{Name: EventClearIdentity})

	if wasAdmin && h.arbiter.pending != nil {
		h.resolveConflict(ctx, h.arbiter.pending.seq, OutcomeIncumbentLeft)
		return nil
	}
	h.flush(ctx)
	h.broadcastRoster()
	return nil
}

// EndSession lets the admin close the chat, keeping or discarding history.
func (h *Hub) EndSession(ctx context.Context, c Conn, choice string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return ErrSessionEnded
	}

	caller := h.ids.byConn(c.ID())
	if caller == nil || !caller.IsAdmin {
		h.logger.Warn("Ignoring end_session from non-admin", "conn_id", c.ID())
		return ErrNotAdmin
	}
	if choice != ChoiceSave && choice != ChoiceDelete {
		h.router.ToConn(c, errorEvent(ErrInvalidChoice))
		return ErrInvalidChoice
	}

	if h.arbiter.pending != nil {
		h.resolveConflict(ctx, h.arbiter.pending.seq, OutcomeCancelled)
	}

	switch choice {
	case ChoiceSave:
		h.flush(ctx)
	case ChoiceDelete:
		h.log.reset()
		if err := h.store.Clear(ctx); err != nil {
			h.logger.Error("Failed to clear chat store", "error", err)
		}
	}

	h.router.toAttached(Event{Name: EventSessionEnded, Data: SessionEnded{Choice: choice}})
	h.ids = newIdentityStore(nil)
	h.router.ids = h.ids
	h.ended = true
	h.logger.Info("Chat session ended by admin", "choice", choice)

	if h.opts.OnShutdown != nil {
		h.clock.AfterFunc(h.opts.ShutdownGrace, func() { h.opts.OnShutdown(choice) })
	}
	return nil
}

// Session returns a copy of the session for userID.
func (h *Hub) Session(userID string) (domain.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.ids.get(userID)
	if !ok {
		return domain.Session{}, false
	}
	return *sess, true
}

// Sessions returns copies of every known session.
func (h *Hub) Sessions() []domain.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	all := h.ids.all()
	out := make([]domain.Session, 0, len(all))
	for _, sess := range all {
		out = append(out, *sess)
	}
	return out
}

// Messages returns a copy of the message log.
func (h *Hub) Messages() []domain.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.log.list()
}

// ConflictPending reports whether an admin challenge is being arbitrated.
func (h *Hub) ConflictPending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.arbiter.pending != nil
}

// Ended reports whether the admin has ended the chat.
func (h *Hub) Ended() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ended
}

// flush writes the whole state through to the store. Failures are logged and
// the in-memory state stays authoritative.
func (h *Hub) flush(ctx context.Context) {
	snap := domain.NewSnapshot()
	snap.Messages = h.log.list()
	h.ids.fill(snap)

	if err := h.store.Save(ctx, snap); err != nil {
		h.metrics.Flushes.WithLabelValues("error").Inc()
		if !errors.Is(err, context.Canceled) {
			h.logger.Error("Failed to persist chat state", "error", err)
		}
		return
	}
	h.metrics.Flushes.WithLabelValues("ok").Inc()
}

// bind attaches c to sess, silently detaching whatever either side was bound
// to before.
func (h *Hub) bind(c Conn, sess *domain.Session) {
	if prev := h.ids.byConn(c.ID()); prev != nil && prev != sess {
		prev.Unbind()
	}
	sess.ConnID = c.ID()
	sess.Connected = true
	sess.UpdatedAt = h.clock.Now()
}

func (h *Hub) isAdminName(name string) bool {
	return domain.NameKey(name) == h.adminKey
}

// refreshAdmin sends the approval queue and member roster to the admin.
func (h *Hub) refreshAdmin() {
	h.router.ToAdmin(Event{Name: EventUpdateRequests, Data: rosterOf(h.ids.pending())})
	h.router.ToAdmin(Event{Name: EventUpdateMembers, Data: rosterOf(h.ids.members())})
}

func (h *Hub) broadcastRoster() {
	h.refreshAdmin()
	h.router.ToAll(Event{Name: EventUserList, Data: h.ids.activeNames()})
}

// admit sends the approved view of the chat to c.
func (h *Hub) admit(c Conn, sess *domain.Session) {
	h.router.ToConn(c, Event{Name: EventLoginSuccess, Data: LoginSuccess{
		UserID:   sess.UserID,
		Name:     sess.Name,
		IsAdmin:  sess.IsAdmin,
		Approved: true,
	}})
	h.router.ToConn(c, Event{Name: EventLoadMessages, Data: h.log.list()})
	if sess.IsAdmin {
		h.router.ToConn(c, Event{Name: EventUpdateRequests, Data: rosterOf(h.ids.pending())})
		h.router.ToConn(c, Event{Name: EventUpdateMembers, Data: rosterOf(h.ids.members())})
	}
}

func (h *Hub) reject(c Conn, err error) error {
	h.router.ToConn(c, errorEvent(err))
	return err
}
