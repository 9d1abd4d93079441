package transport

import (
	"log/slog"
	"sync"
)

// Registry tracks the live websocket connections so they can be closed on
// shutdown.
type Registry struct {
	mu     sync.RWMutex
	active map[string]*conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*conn)}
}

// Register adds a connection.
func (r *Registry) Register(c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[c.id] = c
	slog.Debug("Connection registered", "conn_id", c.id, "ip", c.ip)
}

// Unregister removes c, unless another connection has since taken its slot.
func (r *Registry) Unregister(c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.active[c.id]; ok && current == c {
		delete(r.active, c.id)
		slog.Debug("Connection unregistered", "conn_id", c.id)
	}
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// CloseAll closes every live connection.
func (r *Registry) CloseAll(reason string) {
	r.mu.RLock()
	conns := make([]*conn, 0, len(r.active))
	for _, c := range r.active {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.Close(reason)
	}
	if len(conns) > 0 {
		slog.Info("Closed websocket connections", "count", len(conns), "reason", reason)
	}
}
