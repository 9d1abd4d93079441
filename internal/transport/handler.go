// Package transport carries chat events over websockets.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/chat"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/identity"
	"github.com/coder/websocket"
)

const maxFrameBytes = 1 << 20

// Options configures a WebSocketHandler.
type Options struct {
	AllowedOrigins []string
	QueueSize      int
	IsDev          bool
}

// WebSocketHandler upgrades requests and pumps events between the socket and
// the hub.
type WebSocketHandler struct {
	hub      *chat.Hub
	registry *Registry
	opts     Options
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(hub *chat.Hub, registry *Registry, opts Options) *WebSocketHandler {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	return &WebSocketHandler{hub: hub, registry: registry, opts: opts}
}

// inbound is the envelope of a client frame.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := identity.IPFromRequest(r)
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", ip)
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	c := newConn(ws, ip, h.opts.QueueSize)
	slog.Info("WebSocket connected", "conn_id", c.id, "ip", ip)

	h.registry.Register(c)
	defer h.registry.Unregister(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		c.writeLoop(ctx)
	}()

	h.hub.Attach(c)
	h.inputLoop(ctx, c)

	// The peer is gone; state changes triggered by the detach must still run.
	h.hub.Detach(context.WithoutCancel(ctx), c)
	c.Close("connection closed")
	<-writerDone
	_ = ws.CloseNow()
	slog.Info("WebSocket disconnected", "conn_id", c.id, "ip", ip)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigins)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, c *conn) {
	// Operations run to completion even if the socket drops mid-way.
	opCtx := context.WithoutCancel(ctx)

	for {
		_, message, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed", "conn_id", c.id)
			} else {
				slog.Warn("WebSocket read error", "error", err, "conn_id", c.id)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			slog.Debug("Ignoring malformed frame", "error", err, "conn_id", c.id)
			continue
		}

		if err := h.dispatch(opCtx, c, msg); err != nil {
			slog.Debug("Event rejected", "event", msg.Event, "error", err, "conn_id", c.id)
		}
	}
}

func (h *WebSocketHandler) dispatch(ctx context.Context, c *conn, msg inbound) error {
	switch msg.Event {
	case chat.EventJoinRequest:
		var req chat.JoinRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		return h.hub.Join(ctx, c, req)

	case chat.EventConflictResponse:
		var response string
		if err := decode(msg.Data, &response); err != nil {
			return err
		}
		return h.hub.RespondConflict(ctx, c, response)

	case chat.EventAdminAction:
		var req chat.AdminActionRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		return h.hub.AdminAction(ctx, c, req)

	case chat.EventSendMessage:
		var req chat.SendMessageRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		_, err := h.hub.Post(ctx, c, req)
		return err

	case chat.EventDeleteMessage:
		var id string
		if err := decode(msg.Data, &id); err != nil {
			return err
		}
		h.hub.SoftDelete(ctx, c, id)

	case chat.EventLogoutSelf:
		return h.hub.LogoutSelf(ctx, c)

	case chat.EventEndSession:
		var choice string
		if err := decode(msg.Data, &choice); err != nil {
			return err
		}
		return h.hub.EndSession(ctx, c, choice)

	case chat.EventGetUsers:
		h.hub.ListUsers(c)

	case chat.EventPing:
		return c.Send(chat.Event{Name: chat.EventPong})

	default:
		slog.Debug("Unknown event", "event", msg.Event, "conn_id", c.id)
	}
	return nil
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
