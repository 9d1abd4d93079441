package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/chat"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const writeTimeout = 10 * time.Second

var (
	errQueueFull  = errors.New("send queue full")
	errConnClosed = errors.New("connection closed")
)

// conn is one websocket peer. Outbound events go through a bounded FIFO
// drained by a single writer goroutine, so Send never blocks the hub.
type conn struct {
	id   string
	ip   string
	ws   *websocket.Conn
	send chan chat.Event
	done chan struct{}

	closeOnce   sync.Once
	mu          sync.Mutex
	closeReason string
}

func newConn(ws *websocket.Conn, ip string, queueSize int) *conn {
	return &conn{
		id:   uuid.NewString(),
		ip:   ip,
		ws:   ws,
		send: make(chan chat.Event, queueSize),
		done: make(chan struct{}),
	}
}

func (c *conn) ID() string { return c.id }

// Send enqueues ev. It fails instead of blocking when the peer is too slow.
func (c *conn) Send(ev chat.Event) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return errQueueFull
	}
}

// Close asks the writer to shut the socket down. Safe to call more than once
// and from any goroutine.
func (c *conn) Close(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeReason = reason
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *conn) reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

// writeLoop drains the queue until the connection is closed or ctx ends.
func (c *conn) writeLoop(ctx context.Context) {
	for {
		select {
		case ev := <-c.send:
			if err := c.writeJSON(ctx, ev); err != nil {
				if ctx.Err() == nil {
					slog.Debug("WebSocket write error", "error", err, "conn_id", c.id)
				}
				c.Close("write failed")
				return
			}
		case <-c.done:
			c.flushPending(ctx)
			if err := c.ws.Close(websocket.StatusNormalClosure, c.reason()); err != nil {
				slog.Debug("Failed to close websocket", "error", err, "conn_id", c.id)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// flushPending writes whatever is already queued so terminal notices such as
// forced_logout reach the peer before the socket closes.
func (c *conn) flushPending(ctx context.Context) {
	for {
		select {
		case ev := <-c.send:
			if err := c.writeJSON(ctx, ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *conn) writeJSON(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(writeCtx, websocket.MessageText, data)
}
