package chat

import (
	"sort"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/domain"
)

// identityStore is the in-memory session table. It is owned by the Hub and
// every method assumes the hub lock is held.
type identityStore struct {
	sessions map[string]*domain.Session
	removed  map[string]struct{}
}

func newIdentityStore(snap *domain.Snapshot) *identityStore {
	s := &identityStore{
		sessions: make(map[string]*domain.Session),
		removed:  make(map[string]struct{}),
	}
	if snap == nil {
		return s
	}
	for id, sess := range snap.Sessions {
		sess := sess
		sess.Unbind()
		s.sessions[id] = &sess
	}
	for _, id := range snap.RemovedUsers {
		s.removed[id] = struct{}{}
	}
	return s
}

func (s *identityStore) get(userID string) (*domain.Session, bool) {
	sess, ok := s.sessions[userID]
	return sess, ok
}

func (s *identityStore) put(sess *domain.Session) {
	s.sessions[sess.UserID] = sess
}

// removeEntirely erases a session so its name can be reused.
func (s *identityStore) removeEntirely(userID string) {
	delete(s.sessions, userID)
}

// markRemoved bans a session. The record is kept so the name stays reserved.
func (s *identityStore) markRemoved(userID string) {
	if sess, ok := s.sessions[userID]; ok {
		sess.Removed = true
		sess.Approved = false
		sess.Unbind()
	}
	s.removed[userID] = struct{}{}
}

func (s *identityStore) isRemoved(userID string) bool {
	_, ok := s.removed[userID]
	return ok
}

// all returns every session ordered by creation time, then user ID.
func (s *identityStore) all() []*domain.Session {
	out := make([]*domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (s *identityStore) admin() *domain.Session {
	for _, sess := range s.sessions {
		if sess.IsAdmin {
			return sess
		}
	}
	return nil
}

// adminConnected is the single source of truth for admin presence.
func (s *identityStore) adminConnected() bool {
	admin := s.admin()
	return admin != nil && admin.Connected
}

func (s *identityStore) byConn(connID string) *domain.Session {
	for _, sess := range s.sessions {
		if sess.BoundTo(connID) {
			return sess
		}
	}
	return nil
}

// findByName returns the session other than excludeUserID holding name,
// compared case-insensitively.
func (s *identityStore) findByName(name, excludeUserID string) *domain.Session {
	key := domain.NameKey(name)
	for _, sess := range s.sessions {
		if sess.UserID != excludeUserID && sess.NameKey() == key {
			return sess
		}
	}
	return nil
}

func (s *identityStore) pending() []*domain.Session {
	var out []*domain.Session
	for _, sess := range s.all() {
		if sess.Pending() {
			out = append(out, sess)
		}
	}
	return out
}

func (s *identityStore) members() []*domain.Session {
	var out []*domain.Session
	for _, sess := range s.all() {
		if (sess.Approved || sess.IsAdmin) && !sess.Removed {
			out = append(out, sess)
		}
	}
	return out
}

// activeNames lists connected, approved participants for name completion.
func (s *identityStore) activeNames() []string {
	names := []string{}
	for _, sess := range s.members() {
		if sess.Connected {
			names = append(names, sess.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (s *identityStore) fill(snap *domain.Snapshot) {
	for id, sess := range s.sessions {
		snap.Sessions[id] = *sess
	}
	for id := range s.removed {
		snap.RemovedUsers = append(snap.RemovedUsers, id)
	}
	sort.Strings(snap.RemovedUsers)
}

func rosterOf(sessions []*domain.Session) []RosterEntry {
	out := make([]RosterEntry, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, RosterEntry{
			UserID:    sess.UserID,
			Name:      sess.Name,
			IsAdmin:   sess.IsAdmin,
			Connected: sess.Connected,
		})
	}
	return out
}
