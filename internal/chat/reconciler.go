package chat

import (
	"context"
	"errors"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/domain"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/identity"
)

// Join binds c to the identity named in req, creating a pending session for a
// first-time identity. Status is re-derived from the stored session alone.
func (h *Hub) Join(ctx context.Context, c Conn, req JoinRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return h.reject(c, ErrSessionEnded)
	}

	switch {
	case req.UserID == "":
		return h.reject(c, ErrIdentityMissing)
	case !identity.IsValidUserID(req.UserID):
		return h.reject(c, ErrIdentityInvalid)
	}

	if h.ids.isRemoved(req.UserID) {
		h.metrics.Joins.WithLabelValues("banned").Inc()
		h.logger.Info("Banned identity tried to join", "user_id", req.UserID, "conn_id", c.ID())
		h.router.ToConn(c, Event{Name: EventUserRemoved, Data: Notice{Reason: "banned"}})
		h.router.ToConn(c, Event{Name: EventClearIdentity})
		return ErrBanned
	}

	claimsAdmin := h.isAdminName(req.Name)
	if h.arbiter.isChallenger(c.ID()) && !claimsAdmin {
		return h.reject(c, ErrConflictBusy)
	}

	if sess, ok := h.ids.get(req.UserID); ok {
		// A known non-admin device may still claim the role with a password.
		if claimsAdmin && !sess.IsAdmin && req.Password != "" {
			return h.joinAdmin(ctx, c, req)
		}
		h.reconnect(ctx, c, sess, req.Name)
		return nil
	}
	return h.joinNew(ctx, c, req)
}

func (h *Hub) reconnect(ctx context.Context, c Conn, sess *domain.Session, requested string) {
	h.bind(c, sess)

	if name, err := identity.NormalizeName(requested); err == nil && name != sess.Name && !sess.IsAdmin {
		if h.isAdminName(name) || h.ids.findByName(name, sess.UserID) != nil {
			h.logger.Info("Ignoring colliding rename on reconnect", "user_id", sess.UserID, "name", name)
		} else {
			h.logger.Info("Participant renamed", "user_id", sess.UserID, "from", sess.Name, "to", name)
			sess.Name = name
			h.flush(ctx)
		}
	}

	h.metrics.Joins.WithLabelValues("reconnect").Inc()
	h.logger.Info("Participant reconnected",
		"user_id", sess.UserID,
		"conn_id", c.ID(),
		"approved", sess.Approved,
		"is_admin", sess.IsAdmin)

	if sess.Approved || sess.IsAdmin {
		h.admit(c, sess)
	} else {
		h.router.ToConn(c, Event{Name: EventWaitingApproval, Data: WaitingApproval{UserID: sess.UserID, Name: sess.Name}})
	}
	h.broadcastRoster()
}

func (h *Hub) joinNew(ctx context.Context, c Conn, req JoinRequest) error {
	name, err := identity.NormalizeName(req.Name)
	switch {
	case errors.Is(err, identity.ErrNameEmpty):
		return h.reject(c, ErrNameRequired)
	case err != nil:
		return h.reject(c, ErrNameTooLong)
	}

	if h.isAdminName(name) {
		return h.joinAdmin(ctx, c, req)
	}

	if holder := h.ids.findByName(name, ""); holder != nil {
		h.metrics.Joins.WithLabelValues("name_conflict").Inc()
		if holder.Connected {
			return h.reject(c, ErrNameTaken)
		}
		return h.reject(c, ErrNameReserved)
	}

	now := h.clock.Now()
	sess := &domain.Session{UserID: req.UserID, Name: name, CreatedAt: now}
	h.ids.put(sess)
	h.bind(c, sess)
	h.flush(ctx)

	h.metrics.Joins.WithLabelValues("pending").Inc()
	h.logger.Info("New participant awaiting approval", "user_id", sess.UserID, "name", name, "conn_id", c.ID())

	h.router.ToConn(c, Event{Name: EventWaitingApproval, Data: WaitingApproval{UserID: sess.UserID, Name: name}})
	h.refreshAdmin()
	return nil
}
