package chat

import "errors"

// Validation errors.
var (
	ErrIdentityMissing = errors.New("identity missing")
	ErrIdentityInvalid = errors.New("identity is malformed")
	ErrNameRequired    = errors.New("name is required")
	ErrNameTooLong     = errors.New("name is too long")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrInvalidChoice   = errors.New("unknown end-session choice")
	ErrUnknownAction   = errors.New("unknown admin action")
)

// Authorization errors.
var (
	ErrNotJoined       = errors.New("connection has not joined")
	ErrNotApproved     = errors.New("not approved to post")
	ErrNotAdmin        = errors.New("admin privileges required")
	ErrInvalidPassword = errors.New("invalid admin password")
	ErrBanned          = errors.New("identity was removed")
)

// Conflict errors.
var (
	ErrNameTaken     = errors.New("name is already taken")
	ErrNameReserved  = errors.New("name is unavailable (reserved)")
	ErrConflictBusy  = errors.New("another admin login is already being resolved")
	ErrLoginRefused  = errors.New("admin login was refused by the active admin")
	ErrUnknownUser   = errors.New("unknown user")
	ErrInvalidTarget = errors.New("action not allowed on this user")
	ErrSessionEnded  = errors.New("chat session has ended")
)

var errorCodes = map[error]string{
	ErrIdentityMissing: "identity_missing",
	ErrIdentityInvalid: "identity_invalid",
	ErrNameRequired:    "name_required",
	ErrNameTooLong:     "name_too_long",
	ErrEmptyMessage:    "empty_message",
	ErrInvalidChoice:   "invalid_choice",
	ErrUnknownAction:   "unknown_action",
	ErrNotJoined:       "not_joined",
	ErrNotApproved:     "not_approved",
	ErrNotAdmin:        "not_admin",
	ErrInvalidPassword: "invalid_password",
	ErrBanned:          "banned",
	ErrNameTaken:       "name_taken",
	ErrNameReserved:    "name_reserved",
	ErrConflictBusy:    "admin_conflict_busy",
	ErrLoginRefused:    "admin_login_refused",
	ErrUnknownUser:     "unknown_user",
	ErrInvalidTarget:   "invalid_target",
	ErrSessionEnded:    "session_ended",
}

// ErrorCode returns the stable wire code for err.
func ErrorCode(err error) string {
	for target, code := range errorCodes {
		if errors.Is(err, target) {
			return code
		}
	}
	return "internal"
}

func errorEvent(err error) Event {
	return Event{Name: EventError, Data: ErrorMessage{Code: ErrorCode(err), Message: err.Error()}}
}
