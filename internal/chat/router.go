package chat

import (
	"log/slog"
	"sort"
)

// Conn is the hub's view of one live transport connection.
type Conn interface {
	ID() string
	// Send enqueues ev without blocking. An error means the connection can no
	// longer keep up and must be dropped.
	Send(ev Event) error
	Close(reason string)
}

// Router fans events out to connections. It holds no business logic and is
// only called with the hub lock held, so per-recipient order equals call order.
type Router struct {
	conns  map[string]Conn
	ids    *identityStore
	logger *slog.Logger
}

func newRouter(ids *identityStore, logger *slog.Logger) *Router {
	return &Router{conns: make(map[string]Conn), ids: ids, logger: logger}
}

func (r *Router) add(c Conn) {
	r.conns[c.ID()] = c
}

func (r *Router) remove(connID string) {
	delete(r.conns, connID)
}

func (r *Router) conn(connID string) (Conn, bool) {
	c, ok := r.conns[connID]
	return c, ok
}

// ToConn delivers ev to a single connection.
func (r *Router) ToConn(c Conn, ev Event) {
	if c == nil {
		return
	}
	if err := c.Send(ev); err != nil {
		r.logger.Warn("Dropping slow connection", "conn_id", c.ID(), "event", ev.Name, "error", err)
		r.remove(c.ID())
		c.Close("send queue full")
	}
}

// ToConnID delivers ev to the connection with the given id, if attached.
func (r *Router) ToConnID(connID string, ev Event) {
	if c, ok := r.conns[connID]; ok {
		r.ToConn(c, ev)
	}
}

// ToOne delivers ev to the live connection bound to userID.
func (r *Router) ToOne(userID string, ev Event) {
	sess, ok := r.ids.get(userID)
	if !ok || !sess.Connected {
		return
	}
	r.ToConnID(sess.ConnID, ev)
}

// ToAdmin delivers ev to the admin's live connection.
func (r *Router) ToAdmin(ev Event) {
	if admin := r.ids.admin(); admin != nil && admin.Connected {
		r.ToConnID(admin.ConnID, ev)
	}
}

// ToApproved delivers ev to every connection bound to an approved session.
func (r *Router) ToApproved(ev Event) {
	for _, sess := range r.ids.all() {
		if sess.Connected && (sess.Approved || sess.IsAdmin) {
			r.ToConnID(sess.ConnID, ev)
		}
	}
}

// ToAll delivers ev to every connection bound to a session. Connections that
// never joined, or were evicted, receive nothing.
func (r *Router) ToAll(ev Event) {
	for _, sess := range r.ids.all() {
		if sess.Connected && !sess.Removed {
			r.ToConnID(sess.ConnID, ev)
		}
	}
}

// toAttached delivers ev to every attached connection, joined or not.
func (r *Router) toAttached(ev Event) {
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r.ToConnID(id, ev)
	}
}
