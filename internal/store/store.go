// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"fmt"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/domain"
)

// Repository persists the chat snapshot. Every Save rewrites the whole state.
type Repository interface {
	// Load returns the stored snapshot, or an empty one when nothing is stored.
	Load(ctx context.Context) (*domain.Snapshot, error)

	// Save atomically replaces the stored snapshot.
	Save(ctx context.Context, snap *domain.Snapshot) error

	// Clear removes all stored state.
	Clear(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverPebble = "pebble"
)

// Open returns the repository for driver. path is the database file for
// SQLite and the data directory for Pebble.
func Open(driver, path string) (Repository, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLite(path)
	case DriverPebble:
		return NewPebble(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// normalize fixes up a loaded snapshot: live bindings never survive a
// restart, and every removed session is listed in RemovedUsers.
func normalize(snap *domain.Snapshot) *domain.Snapshot {
	if snap.Sessions == nil {
		snap.Sessions = make(map[string]domain.Session)
	}
	removed := make(map[string]bool, len(snap.RemovedUsers))
	for _, id := range snap.RemovedUsers {
		removed[id] = true
	}
	for id, s := range snap.Sessions {
		s.Unbind()
		if s.Removed && !removed[id] {
			snap.RemovedUsers = append(snap.RemovedUsers, id)
			removed[id] = true
		}
		snap.Sessions[id] = s
	}
	return snap
}
