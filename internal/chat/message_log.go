package chat

import (
	"fmt"
	"time"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/domain"
)

// messageLog is the ordered, append-only chat history. Entries are never
// physically removed while the chat is live; deletion leaves a tombstone.
type messageLog struct {
	messages []domain.Message
	index    map[string]int
	seq      uint64
}

func newMessageLog(msgs []domain.Message) *messageLog {
	l := &messageLog{index: make(map[string]int, len(msgs))}
	for _, m := range msgs {
		l.index[m.ID] = len(l.messages)
		l.messages = append(l.messages, m)
	}
	return l
}

// nextID returns a process-unique, time-sortable message ID.
func (l *messageLog) nextID(now time.Time) string {
	l.seq++
	return fmt.Sprintf("%d-%d", now.UnixNano(), l.seq)
}

func (l *messageLog) append(m domain.Message) {
	l.index[m.ID] = len(l.messages)
	l.messages = append(l.messages, m)
}

func (l *messageLog) get(id string) (*domain.Message, bool) {
	i, ok := l.index[id]
	if !ok {
		return nil, false
	}
	return &l.messages[i], true
}

// tombstone soft-deletes id if ownerUserID sent it. It reports whether the
// log changed.
func (l *messageLog) tombstone(id, ownerUserID string) bool {
	m, ok := l.get(id)
	if !ok || m.Deleted || m.SenderUserID != ownerUserID {
		return false
	}
	m.Tombstone()
	return true
}

func (l *messageLog) list() []domain.Message {
	out := make([]domain.Message, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *messageLog) reset() {
	l.messages = nil
	l.index = make(map[string]int)
}
