package chat

import (
	"context"
	"fmt"
)

// AdminAction applies an approve, reject or remove decision. Only the
// connection bound to the admin session may call it; anyone else is ignored.
func (h *Hub) AdminAction(ctx context.Context, c Conn, req AdminActionRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return ErrSessionEnded
	}

	caller := h.ids.byConn(c.ID())
	if caller == nil || !caller.IsAdmin {
		h.logger.Warn("Ignoring admin action from non-admin",
			"conn_id", c.ID(), "action", req.Action, "target", req.UserID)
		return ErrNotAdmin
	}

	target, ok := h.ids.get(req.UserID)
	if !ok {
		return h.reject(c, fmt.Errorf("%s %s: %w", req.Action, req.UserID, ErrUnknownUser))
	}
	if target.IsAdmin {
		return h.reject(c, fmt.Errorf("%s admin: %w", req.Action, ErrInvalidTarget))
	}

	connID := ""
	if target.Connected {
		connID = target.ConnID
	}

	switch req.Action {
	case ActionApprove:
		if !target.Pending() {
			return h.reject(c, fmt.Errorf("approve %s: %w", target.UserID, ErrInvalidTarget))
		}
		target.Approved = true
		target.UpdatedAt = h.clock.Now()
		h.flush(ctx)
		if conn, ok := h.router.conn(connID); ok {
			h.admit(conn, target)
		}

	case ActionReject:
		if !target.Pending() {
			return h.reject(c, fmt.Errorf("reject %s: %w", target.UserID, ErrInvalidTarget))
		}
		h.refuseChallenger(ctx, target.UserID)
		h.ids.removeEntirely(target.UserID)
		h.flush(ctx)
		h.router.ToConnID(connID, Event{Name: EventAccessDenied, Data: Notice{Reason: "rejected"}})
		h.router.ToConnID(connID, Event{Name: EventClearIdentity})

	case ActionRemove:
		if !target.Approved || target.Removed {
			return h.reject(c, fmt.Errorf("remove %s: %w", target.UserID, ErrInvalidTarget))
		}
		h.refuseChallenger(ctx, target.UserID)
		h.ids.markRemoved(target.UserID)
		h.flush(ctx)
		h.router.ToConnID(connID, Event{Name: EventUserRemoved, Data: Notice{Reason: "removed"}})
		h.router.ToConnID(connID, Event{Name: EventClearIdentity})

	default:
		return h.reject(c, ErrUnknownAction)
	}

	h.metrics.AdminActions.WithLabelValues(req.Action).Inc()
	h.logger.Info("Admin action applied", "action", req.Action, "user_id", target.UserID, "name", target.Name)
	h.broadcastRoster()
	return nil
}
