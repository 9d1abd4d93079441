package client

import (
	"strings"
	"sync"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/chat"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/domain"
)

// Unavailable is rendered for a reply whose target is unknown or deleted.
const Unavailable = "unavailable"

const quoteRunes = 60

// ReplyCache holds the messages this client has seen so reply references can
// be rendered locally. load_messages seeds it; new_message and
// message_deleted keep it current.
type ReplyCache struct {
	mu       sync.RWMutex
	messages map[string]domain.Message
	order    []string
}

// NewReplyCache returns an empty cache.
func NewReplyCache() *ReplyCache {
	return &ReplyCache{messages: make(map[string]domain.Message)}
}

// Load replaces the cache with a full history.
func (r *ReplyCache) Load(msgs []domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = make(map[string]domain.Message, len(msgs))
	r.order = r.order[:0]
	for _, m := range msgs {
		r.putLocked(m)
	}
}

// Put adds or replaces one message.
func (r *ReplyCache) Put(msg domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(msg)
}

func (r *ReplyCache) putLocked(msg domain.Message) {
	if _, ok := r.messages[msg.ID]; !ok {
		r.order = append(r.order, msg.ID)
	}
	r.messages[msg.ID] = msg
}

// MarkDeleted tombstones id. Unknown ids are ignored.
func (r *ReplyCache) MarkDeleted(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[id]
	if !ok {
		return
	}
	msg.Tombstone()
	r.messages[id] = msg
}

// Get returns the cached message.
func (r *ReplyCache) Get(id string) (domain.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msg, ok := r.messages[id]
	return msg, ok
}

// Messages returns the cached history in arrival order.
func (r *ReplyCache) Messages() []domain.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Message, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.messages[id])
	}
	return out
}

// Quote renders the target of a reply as "Sender: text". An empty id yields
// "", an unknown or deleted target yields Unavailable.
func (r *ReplyCache) Quote(id string) string {
	if id == "" {
		return ""
	}
	msg, ok := r.Get(id)
	if !ok || msg.Deleted {
		return Unavailable
	}

	body := strings.TrimSpace(msg.Text)
	if body == "" && msg.Attachment != nil {
		body = "[" + msg.Attachment.Name + "]"
	}
	if runes := []rune(body); len(runes) > quoteRunes {
		body = string(runes[:quoteRunes]) + "…"
	}
	return msg.SenderName + ": " + body
}

// Apply updates the cache from an inbound event. Events that do not touch
// the message log are ignored.
func (r *ReplyCache) Apply(ev Event) error {
	switch ev.Name {
	case chat.EventLoadMessages:
		var msgs []domain.Message
		if err := ev.Decode(&msgs); err != nil {
			return err
		}
		r.Load(msgs)
	case chat.EventNewMessage:
		var msg domain.Message
		if err := ev.Decode(&msg); err != nil {
			return err
		}
		r.Put(msg)
	case chat.EventMessageDeleted:
		var del chat.MessageDeleted
		if err := ev.Decode(&del); err != nil {
			return err
		}
		r.MarkDeleted(del.ID)
	case chat.EventSessionEnded, chat.EventClearIdentity:
		r.Load(nil)
	}
	return nil
}
