// Package domain contains core domain types for the chat server.
package domain

import (
	"strings"
	"time"
)

// Session is the durable record of one participant identity.
type Session struct {
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Approved  bool      `json:"approved"`
	IsAdmin   bool      `json:"isAdmin"`
	Removed   bool      `json:"removed,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Connected and ConnID describe the live binding. They are never persisted
	// and are reset on load.
	Connected bool   `json:"-"`
	ConnID    string `json:"-"`
}

// Pending reports whether the session is waiting for admin approval.
func (s *Session) Pending() bool {
	return !s.Approved && !s.IsAdmin && !s.Removed
}

// Unbind clears the live connection binding.
func (s *Session) Unbind() {
	s.Connected = false
	s.ConnID = ""
}

// BoundTo reports whether connID is the session's live connection.
func (s *Session) BoundTo(connID string) bool {
	return s.Connected && s.ConnID != "" && s.ConnID == connID
}

// NameKey returns the case-insensitive key used for name uniqueness.
func (s *Session) NameKey() string {
	return NameKey(s.Name)
}

// NameKey folds a display name for uniqueness comparisons.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
