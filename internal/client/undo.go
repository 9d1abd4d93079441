package client

import (
	"sort"
	"sync"
	"time"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/clock"
)

// DefaultUndoWindow is how long a staged delete can still be cancelled.
const DefaultUndoWindow = 5 * time.Second

type staged struct {
	timer *clock.Timer
}

// Undo delays deletes so the user can take them back. The server only learns
// about a delete once its window elapses.
type Undo struct {
	mu      sync.Mutex
	clock   clock.Clock
	window  time.Duration
	commit  func(id string)
	pending map[string]*staged
}

// NewUndo returns an Undo that calls commit for each delete whose window
// elapses without a Cancel.
func NewUndo(clk clock.Clock, window time.Duration, commit func(id string)) *Undo {
	return &Undo{
		clock:   clk,
		window:  window,
		commit:  commit,
		pending: make(map[string]*staged),
	}
}

// Stage schedules the delete of id.
func (u *Undo) Stage(id string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.pending[id]; ok {
		return false
	}
	s := &staged{}
	u.pending[id] = s
	s.timer = u.clock.AfterFunc(u.window, func() { u.fire(id, s) })
	return true
}

func (u *Undo) fire(id string, s *staged) {
	u.mu.Lock()
	if u.pending[id] != s {
		u.mu.Unlock()
		return
	}
	delete(u.pending, id)
	u.mu.Unlock()

	u.commit(id)
}

// Cancel withdraws a staged delete.
func (u *Undo) Cancel(id string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	s, ok := u.pending[id]
	if !ok {
		return false
	}
	delete(u.pending, id)
	s.timer.Stop()
	return true
}

// Pending lists staged ids in sorted order.
func (u *Undo) Pending() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	ids := make([]string, 0, len(u.pending))
	for id := range u.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop drops every staged delete without committing it.
func (u *Undo) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for id, s := range u.pending {
		s.timer.Stop()
		delete(u.pending, id)
	}
}
