package domain

import "time"

// Attachment is the opaque descriptor returned by the upload endpoint.
type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// Message is one posted chat entry. A deleted message is a tombstone: it keeps
// its ID and position but loses its content.
type Message struct {
	ID           string      `json:"id"`
	SenderUserID string      `json:"senderUserId"`
	SenderName   string      `json:"sender"`
	Text         string      `json:"text"`
	Attachment   *Attachment `json:"attachment,omitempty"`
	ReplyTo      string      `json:"replyTo,omitempty"`
	Deleted      bool        `json:"deleted"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Tombstone marks the message deleted and clears its content.
func (m *Message) Tombstone() {
	m.Deleted = true
	m.Text = ""
	m.Attachment = nil
}
