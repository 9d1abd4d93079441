package domain

// Snapshot is the persisted state of the chat: the whole message log, every
// known session keyed by user ID and the set of banned user IDs.
type Snapshot struct {
	Messages     []Message          `json:"messages"`
	Sessions     map[string]Session `json:"sessions"`
	RemovedUsers []string           `json:"removedUsers"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{Sessions: make(map[string]Session)}
}

// Empty reports whether the snapshot holds no state.
func (s *Snapshot) Empty() bool {
	return s == nil || (len(s.Messages) == 0 && len(s.Sessions) == 0 && len(s.RemovedUsers) == 0)
}
