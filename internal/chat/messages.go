package chat

import (
	"context"
	"strings"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/domain"
)

// Post appends a message from the caller's session and fans it out to every
// approved connection. The reply target is not checked; it may dangle.
func (h *Hub) Post(ctx context.Context, c Conn, req SendMessageRequest) (domain.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return domain.Message{}, ErrSessionEnded
	}

	sender := h.ids.byConn(c.ID())
	if sender == nil || !(sender.Approved || sender.IsAdmin) {
		return domain.Message{}, h.reject(c, ErrNotApproved)
	}
	if strings.TrimSpace(req.Text) == "" && req.Attachment == nil {
		return domain.Message{}, h.reject(c, ErrEmptyMessage)
	}

	now := h.clock.Now()
	msg := domain.Message{
		ID:           h.log.nextID(now),
		SenderUserID: sender.UserID,
		SenderName:   sender.Name,
		Text:         req.Text,
		Attachment:   req.Attachment,
		ReplyTo:      req.ReplyTo,
		Timestamp:    now.UTC(),
	}
	h.log.append(msg)
	h.flush(ctx)

	h.metrics.MessagesPosted.Inc()
	h.router.ToApproved(Event{Name: EventNewMessage, Data: msg})
	return msg, nil
}

// SoftDelete tombstones messageID if the caller sent it. Anything else is a
// silent no-op.
func (h *Hub) SoftDelete(ctx context.Context, c Conn, messageID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return false
	}

	requester := h.ids.byConn(c.ID())
	if requester == nil || !h.log.tombstone(messageID, requester.UserID) {
		h.logger.Debug("Ignoring delete", "conn_id", c.ID(), "message_id", messageID)
		return false
	}
	h.flush(ctx)

	h.metrics.MessagesDeleted.Inc()
	h.router.ToApproved(Event{Name: EventMessageDeleted, Data: MessageDeleted{ID: messageID}})
	return true
}
