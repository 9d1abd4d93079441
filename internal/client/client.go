// Package client speaks the chat event protocol over a websocket. It keeps a
// reply cache current from the inbound stream and can stage deletes behind an
// undo window.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/chat"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/clock"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	maxFrameBytes = 1 << 20
	writeTimeout  = 10 * time.Second
)

// ErrClosed is returned by Wait once the event stream has ended.
var ErrClosed = errors.New("client: connection closed")

// Event is one inbound frame. Data stays raw until the caller decodes it.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no data", e.Name)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Name, err)
	}
	return nil
}

// ServerError is an error_message reported by the server.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Options configures Dial.
type Options struct {
	// Origin is sent as the Origin header when set.
	Origin string
	// Buffer is the capacity of the Events channel.
	Buffer     int
	UndoWindow time.Duration
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Client is a connected chat participant. Events must be drained or the read
// loop stalls.
type Client struct {
	ws      *websocket.Conn
	events  chan Event
	replies *ReplyCache
	undo    *Undo
	logger  *slog.Logger
	cancel  context.CancelFunc

	mu      sync.Mutex
	readErr error
}

// Dial connects to the websocket endpoint at url and starts reading events.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	var header http.Header
	if opts.Origin != "" {
		header = http.Header{"Origin": []string{opts.Origin}}
	}
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	ws.SetReadLimit(maxFrameBytes)

	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.UndoWindow <= 0 {
		opts.UndoWindow = DefaultUndoWindow
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ws:      ws,
		events:  make(chan Event, opts.Buffer),
		replies: NewReplyCache(),
		logger:  opts.Logger,
		cancel:  cancel,
	}
	c.undo = NewUndo(opts.Clock, opts.UndoWindow, func(id string) {
		if err := c.Delete(context.Background(), id); err != nil {
			c.logger.Warn("Staged delete failed", "message_id", id, "error", err)
		}
	})

	go c.readLoop(readCtx)
	return c, nil
}

// Events returns the inbound event stream. It is closed when the connection
// ends; Err then reports why.
func (c *Client) Events() <-chan Event { return c.events }

// Replies returns the cache used to render reply references.
func (c *Client) Replies() *ReplyCache { return c.replies }

// Err returns the error that ended the read loop, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.events)
	for {
		var ev Event
		if err := wsjson.Read(ctx, c.ws, &ev); err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		if err := c.replies.Apply(ev); err != nil {
			c.logger.Warn("Failed to apply event to reply cache", "event", ev.Name, "error", err)
		}
		select {
		case c.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// Wait consumes events until one of names arrives. An error_message arriving
// first is returned as a *ServerError.
func (c *Client) Wait(ctx context.Context, names ...string) (Event, error) {
	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case ev, ok := <-c.events:
			if !ok {
				if err := c.Err(); err != nil {
					return Event{}, fmt.Errorf("%w: %v", ErrClosed, err)
				}
				return Event{}, ErrClosed
			}
			for _, name := range names {
				if ev.Name == name {
					return ev, nil
				}
			}
			if ev.Name == chat.EventError {
				var msg chat.ErrorMessage
				if err := ev.Decode(&msg); err != nil {
					return Event{}, err
				}
				return Event{}, &ServerError{Code: msg.Code, Message: msg.Message}
			}
		}
	}
}

// Send writes one event frame.
func (c *Client) Send(ctx context.Context, name string, data any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.ws, chat.Event{Name: name, Data: data}); err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	return nil
}

// Join sends join_request.
func (c *Client) Join(ctx context.Context, req chat.JoinRequest) error {
	return c.Send(ctx, chat.EventJoinRequest, req)
}

// Post sends send_message.
func (c *Client) Post(ctx context.Context, req chat.SendMessageRequest) error {
	return c.Send(ctx, chat.EventSendMessage, req)
}

// Delete asks the server to delete a message immediately.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.Send(ctx, chat.EventDeleteMessage, id)
}

// StageDelete schedules a delete of id after the undo window. It reports
// false if a delete for id is already staged.
func (c *Client) StageDelete(id string) bool { return c.undo.Stage(id) }

// CancelDelete withdraws a staged delete. It reports false if none was
// staged or the window already elapsed.
func (c *Client) CancelDelete(id string) bool { return c.undo.Cancel(id) }

// AdminAction sends admin_action.
func (c *Client) AdminAction(ctx context.Context, action, userID string) error {
	return c.Send(ctx, chat.EventAdminAction, chat.AdminActionRequest{Action: action, UserID: userID})
}

// RefuseConflict answers an admin_conflict_alert with a refusal.
func (c *Client) RefuseConflict(ctx context.Context) error {
	return c.Send(ctx, chat.EventConflictResponse, chat.ConflictRefuse)
}

// Logout sends logout_self.
func (c *Client) Logout(ctx context.Context) error {
	return c.Send(ctx, chat.EventLogoutSelf, nil)
}

// EndSession sends end_session with choice save or delete.
func (c *Client) EndSession(ctx context.Context, choice string) error {
	return c.Send(ctx, chat.EventEndSession, choice)
}

// Users sends get_users.
func (c *Client) Users(ctx context.Context) error {
	return c.Send(ctx, chat.EventGetUsers, nil)
}

// Close drops staged deletes and closes the connection.
func (c *Client) Close() error {
	c.undo.Stop()
	err := c.ws.Close(websocket.StatusNormalClosure, "bye")
	c.cancel()
	if err != nil && !errors.Is(err, io.EOF) && websocket.CloseStatus(err) == -1 {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
