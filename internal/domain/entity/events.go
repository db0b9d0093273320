package entity

import "time"

// EventType tags a domain event.
type EventType string

const (
	EventUserRegistered         EventType = "user.registered"
	EventUserLoggedIn           EventType = "user.logged_in"
	EventLoginFailed            EventType = "user.login_failed"
	EventAccountLocked          EventType = "user.account_locked"
	EventAccountUnlocked        EventType = "user.account_unlocked"
	EventPasswordChanged        EventType = "user.password_changed"
	EventRoleChanged            EventType = "user.role_changed"
	EventAllSessionsInvalidated EventType = "user.sessions_invalidated"
	EventSessionOpened          EventType = "user.session_opened"
	EventSessionEnded           EventType = "user.session_ended"
	EventRefreshTokenIssued     EventType = "user.refresh_token_issued"
	EventRefreshTokenCleared    EventType = "user.refresh_token_cleared"
	EventEmailConfirmed         EventType = "user.email_confirmed"
	EventUserActivated          EventType = "user.activated"
	EventUserDeactivated        EventType = "user.deactivated"
)

// Event is a notification raised by the User aggregate after a mutation.
// Events are collected on the aggregate and drained by the caller, which
// decides how to dispatch them.
type Event struct {
	Type       EventType      `json:"type"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}
