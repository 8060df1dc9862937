package audit

import "time"

type Action string

const (
	ActionUserRegistered  Action = "USER_REGISTERED"
	ActionUserCreated     Action = "USER_CREATED"
	ActionUserUpdated     Action = "USER_UPDATED"
	ActionUserDeactivated Action = "USER_DEACTIVATED"
	ActionUserActivated   Action = "USER_ACTIVATED"
	ActionUserDeleted     Action = "USER_DELETED"
	ActionPasswordReset   Action = "PASSWORD_RESET"
	ActionPasswordChanged Action = "PASSWORD_CHANGED"
	ActionLogin           Action = "LOGIN"
	ActionLogout          Action = "LOGOUT"
)

type Entry struct {
	ID        string    `json:"id"`
	UserID    *string   `json:"user_id"`
	Action    Action    `json:"action"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}
