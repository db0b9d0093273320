package application

import (
	"time"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
)

type TokenPair struct {
	AccessToken        string
	AccessTokenExpiry  time.Time
	RefreshToken       string
	RefreshTokenExpiry time.Time
}

type UserInfo struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Name           string     `json:"name"`
	Role           string     `json:"role"`
	SchoolID       string     `json:"school_id,omitempty"`
	Active         bool       `json:"active"`
	EmailConfirmed bool       `json:"email_confirmed"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type LoginResponse struct {
	User            UserInfo `json:"user"`
	SessionID       string   `json:"session_id"`
	PasswordExpired bool     `json:"password_expired"`
}

type SessionInfo struct {
	ID             string               `json:"id"`
	SourceAddress  string               `json:"source_address"`
	UserAgent      string               `json:"user_agent"`
	Device         entity.DeviceSummary `json:"device"`
	StartedAt      time.Time            `json:"started_at"`
	LastActivityAt time.Time            `json:"last_activity_at"`
	EndedAt        *time.Time           `json:"ended_at,omitempty"`
	Active         bool                 `json:"active"`
	Suspicious     bool                 `json:"suspicious"`
	Current        bool                 `json:"current"`
}

// Principal is the authenticated caller behind an access token.
type Principal struct {
	UserID    string
	SessionID string
	Role      entity.Role
	SchoolID  string
}

func toUserInfo(u *entity.User) UserInfo {
	return UserInfo{
		ID:             u.ID(),
		Email:          u.Email().String(),
		FirstName:      u.Name().First,
		LastName:       u.Name().Last,
		Name:           u.Name().Full(),
		Role:           u.Role().String(),
		SchoolID:       u.SchoolID(),
		Active:         u.IsActive(),
		EmailConfirmed: u.EmailConfirmed(),
		LastLoginAt:    u.LastLoginAt(),
		CreatedAt:      u.CreatedAt(),
	}
}

func toSessionInfo(s entity.Session, currentID string, now time.Time) SessionInfo {
	return SessionInfo{
		ID:             s.ID(),
		SourceAddress:  s.SourceAddress(),
		UserAgent:      s.UserAgent(),
		Device:         s.DeviceSummary(),
		StartedAt:      s.StartedAt(),
		LastActivityAt: s.LastActivityAt(),
		EndedAt:        s.EndedAt(),
		Active:         s.IsActive(),
		Suspicious:     s.IsSuspicious(now),
		Current:        s.ID() == currentID,
	}
}
