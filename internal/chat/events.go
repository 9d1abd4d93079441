package chat

import "github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/domain"

// Inbound event names.
const (
	EventJoinRequest      = "join_request"
	EventConflictResponse = "admin_conflict_response"
	EventAdminAction      = "admin_action"
	EventSendMessage      = "send_message"
	EventDeleteMessage    = "delete_message"
	EventLogoutSelf       = "logout_self"
	EventEndSession       = "end_session"
	EventGetUsers         = "get_users"
	EventPing             = "ping"
)

// Outbound event names.
const (
	EventLoginSuccess     = "login_success"
	EventWaitingApproval  = "waiting_approval"
	EventAccessDenied     = "access_denied"
	EventRequirePassword  = "require_password"
	EventError            = "error_message"
	EventLoadMessages     = "load_messages"
	EventUpdateRequests   = "update_requests"
	EventUpdateMembers    = "update_members"
	EventUserList         = "user_list"
	EventNewMessage       = "new_message"
	EventMessageDeleted   = "message_deleted"
	EventConflictAlert    = "admin_conflict_alert"
	EventConflictPending  = "admin_conflict_pending"
	EventConflictResolved = "admin_conflict_resolved"
	EventForcedLogout     = "forced_logout"
	EventUserRemoved      = "user_removed"
	EventSessionEnded     = "session_ended"
	EventClearIdentity    = "clear_identity"
	EventPong             = "pong"
)

// Event is one frame on the wire: {"event": name, "data": payload}.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// JoinRequest is the payload of join_request.
type JoinRequest struct {
	Name     string `json:"name,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Password string `json:"password,omitempty"`
	Force    bool   `json:"force,omitempty"`
}

// Admin actions.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionRemove  = "remove"
)

// AdminActionRequest is the payload of admin_action.
type AdminActionRequest struct {
	Action string `json:"action"`
	UserID string `json:"userId"`
}

// SendMessageRequest is the payload of send_message.
type SendMessageRequest struct {
	Text       string             `json:"text"`
	Attachment *domain.Attachment `json:"attachment,omitempty"`
	ReplyTo    string             `json:"replyTo,omitempty"`
}

// Conflict responses and end-session choices.
const (
	ConflictRefuse = "refuse"
	ChoiceSave     = "save"
	ChoiceDelete   = "delete"
)

// LoginSuccess is sent when a connection is admitted to the chat.
type LoginSuccess struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	IsAdmin  bool   `json:"isAdmin"`
	Approved bool   `json:"approved"`
}

// WaitingApproval is sent to a participant queued for approval.
type WaitingApproval struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// Notice carries the reason for a terminal or denial event.
type Notice struct {
	Reason string `json:"reason"`
}

// ErrorMessage reports a failed request to its sender.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RosterEntry describes one session in update_requests and update_members.
type RosterEntry struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	IsAdmin   bool   `json:"isAdmin,omitempty"`
	Connected bool   `json:"connected"`
}

// MessageDeleted identifies a tombstoned message.
type MessageDeleted struct {
	ID string `json:"id"`
}

// ConflictAlert announces an admin challenge and its countdown.
type ConflictAlert struct {
	TimeoutSeconds int `json:"timeoutSeconds"`
}

// ConflictResolved tells the incumbent how a challenge ended.
type ConflictResolved struct {
	Outcome string `json:"outcome"`
}

// SessionEnded is broadcast when the admin ends the chat.
type SessionEnded struct {
	Choice string `json:"choice"`
}
