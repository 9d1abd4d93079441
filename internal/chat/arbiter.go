package chat

import (
	"context"
	"time"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/clock"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/domain"
)

// Conflict outcomes.
const (
	OutcomeTimeout       = "timeout"
	OutcomeForced        = "forced"
	OutcomeRefused       = "refused"
	OutcomeAbandoned     = "abandoned"
	OutcomeIncumbentLeft = "incumbent_left"
	OutcomeCancelled     = "cancelled"
)

// Forced-logout reasons.
const reasonAdminTakeover = "admin_takeover"

// arbiter holds at most one pending admin challenge.
type arbiter struct {
	seq     uint64
	pending *challenge
}

type challenge struct {
	seq    uint64
	connID string
	userID string
	timer  *clock.Timer
}

func (a *arbiter) isChallenger(connID string) bool {
	return a.pending != nil && a.pending.connID == connID
}

// joinAdmin handles a join that claims the reserved admin name.
func (h *Hub) joinAdmin(ctx context.Context, c Conn, req JoinRequest) error {
	if req.Password == "" {
		h.router.ToConn(c, Event{Name: EventRequirePassword})
		return nil
	}
	if !h.opts.Credential.Verify(req.Password) {
		h.logger.Warn("Rejected admin login with wrong password", "conn_id", c.ID(), "user_id", req.UserID)
		h.metrics.Joins.WithLabelValues("bad_password").Inc()
		h.router.ToConn(c, errorEvent(ErrInvalidPassword))
		h.router.ToConn(c, Event{Name: EventRequirePassword})
		return ErrInvalidPassword
	}

	if p := h.arbiter.pending; p != nil {
		if p.connID == c.ID() && req.Force {
			h.resolveConflict(ctx, p.seq, OutcomeForced)
			return nil
		}
		h.metrics.Joins.WithLabelValues("busy").Inc()
		return h.reject(c, ErrConflictBusy)
	}

	if !h.ids.adminConnected() {
		h.grantAdmin(ctx, c, req.UserID)
		return nil
	}
	if req.Force {
		h.takeover(ctx, c, req.UserID)
		return nil
	}
	h.startConflict(c, req.UserID)
	return nil
}

func (h *Hub) startConflict(c Conn, userID string) {
	h.arbiter.seq++
	seq := h.arbiter.seq
	timeout := h.opts.ConflictTimeout

	h.arbiter.pending = &challenge{
		seq:    seq,
		connID: c.ID(),
		userID: userID,
		timer: h.clock.AfterFunc(timeout, func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.resolveConflict(context.Background(), seq, OutcomeTimeout)
		}),
	}
	h.metrics.Joins.WithLabelValues("conflict").Inc()
	h.logger.Info("Admin conflict started", "challenger", userID, "conn_id", c.ID(), "timeout", timeout)

	h.router.ToAdmin(Event{Name: EventConflictAlert, Data: ConflictAlert{
		TimeoutSeconds: int(timeout / time.Second),
	}})
	h.router.ToConn(c, Event{Name: EventConflictPending})
}

// RespondConflict lets the incumbent admin refuse a pending challenge.
func (h *Hub) RespondConflict(ctx context.Context, c Conn, response string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	caller := h.ids.byConn(c.ID())
	if caller == nil || !caller.IsAdmin {
		h.logger.Warn("Ignoring conflict response from non-admin", "conn_id", c.ID())
		return ErrNotAdmin
	}
	if h.arbiter.pending == nil || response != ConflictRefuse {
		return nil
	}
	h.resolveConflict(ctx, h.arbiter.pending.seq, OutcomeRefused)
	return nil
}

// resolveConflict ends challenge seq exactly once. Later calls for the same
// seq, from the timer or any other path, are no-ops.
func (h *Hub) resolveConflict(ctx context.Context, seq uint64, outcome string) {
	p := h.arbiter.pending
	if p == nil || p.seq != seq {
		return
	}
	h.arbiter.pending = nil
	p.timer.Stop()

	challenger, attached := h.router.conn(p.connID)
	switch outcome {
	case OutcomeRefused:
		h.router.ToConn(challenger, errorEvent(ErrLoginRefused))
	case OutcomeTimeout, OutcomeForced, OutcomeIncumbentLeft:
		switch {
		case !attached:
			outcome = OutcomeAbandoned
		case h.ids.isRemoved(p.userID):
			// Banned while the countdown ran.
			outcome = OutcomeRefused
			h.router.ToConn(challenger, errorEvent(ErrBanned))
		default:
			h.takeover(ctx, challenger, p.userID)
		}
	case OutcomeCancelled:
		h.router.ToConn(challenger, errorEvent(ErrSessionEnded))
	}

	h.metrics.Conflicts.WithLabelValues(outcome).Inc()
	h.logger.Info("Admin conflict resolved", "challenger", p.userID, "outcome", outcome)
	if outcome == OutcomeRefused || outcome == OutcomeAbandoned {
		h.router.ToAdmin(Event{Name: EventConflictResolved, Data: ConflictResolved{Outcome: outcome}})
	}
}

// refuseChallenger ends a pending claim by userID before the admin rejects
// or removes that identity.
func (h *Hub) refuseChallenger(ctx context.Context, userID string) {
	if p := h.arbiter.pending; p != nil && p.userID == userID {
		h.resolveConflict(ctx, p.seq, OutcomeRefused)
	}
}

// takeover evicts the incumbent admin and grants the role to c.
func (h *Hub) takeover(ctx context.Context, c Conn, userID string) {
	if old := h.ids.admin(); old != nil && old.Connected && old.UserID != userID {
		h.evictAdmin(old)
	}
	h.grantAdmin(ctx, c, userID)
}

// evictAdmin unbinds the admin session and closes its connection once the
// forced_logout notice is queued.
func (h *Hub) evictAdmin(old *domain.Session) {
	conn, ok := h.router.conn(old.ConnID)
	old.Unbind()
	if !ok {
		return
	}
	h.router.ToConn(conn, Event{Name: EventForcedLogout, Data: Notice{Reason: reasonAdminTakeover}})
	conn.Close(reasonAdminTakeover)
}

// grantAdmin makes userID, on connection c, the only admin session. The
// previous admin device session is erased. State is persisted before the
// challenger is told it succeeded.
func (h *Hub) grantAdmin(ctx context.Context, c Conn, userID string) {
	now := h.clock.Now()
	if old := h.ids.admin(); old != nil && old.UserID != userID {
		if old.Connected {
			h.evictAdmin(old)
		}
		h.ids.removeEntirely(old.UserID)
	}

	sess, ok := h.ids.get(userID)
	if !ok {
		sess = &domain.Session{UserID: userID, CreatedAt: now}
		h.ids.put(sess)
	}
	sess.Name = h.opts.AdminName
	sess.Approved = true
	sess.IsAdmin = true
	h.bind(c, sess)
	h.flush(ctx)

	h.metrics.Joins.WithLabelValues("admin").Inc()
	h.logger.Info("Admin role granted", "user_id", userID, "conn_id", c.ID())
	h.admit(c, sess)
	h.router.ToAll(Event{Name: EventUserList, Data: h.ids.activeNames()})
}
