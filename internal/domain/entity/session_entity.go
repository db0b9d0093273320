package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"
)

// Session defaults.
const (
	DefaultSessionMaxIdle     = 30 * time.Minute
	DefaultSessionMaxDuration = 8 * time.Hour

	suspiciousIdle     = 24 * time.Hour
	suspiciousLifetime = 7 * 24 * time.Hour
)

// automationKeywords flag user agents of scripted clients.
var automationKeywords = []string{
	"bot", "crawler", "spider", "curl", "wget", "python-requests",
	"httpclient", "headless", "selenium", "phantomjs", "scrapy", "postman",
}

// Session is one authenticated device/browser context. It is owned by a User
// and only ever transitions from active to inactive.
type Session struct {
	id             string
	userID         string
	sourceAddress  string
	userAgent      string
	startedAt      time.Time
	lastActivityAt time.Time
	endedAt        *time.Time
	active         bool
}

// SessionState is the persisted shape of a Session.
type SessionState struct {
	ID             string
	UserID         string
	SourceAddress  string
	UserAgent      string
	StartedAt      time.Time
	LastActivityAt time.Time
	EndedAt        *time.Time
	Active         bool
}

// DeviceSummary is the best-effort parse of a user agent string.
type DeviceSummary struct {
	OS             string `json:"os"`
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version"`
	DeviceClass    string `json:"device_class"`
}

func newSession(userID, sourceAddress, userAgent string, now time.Time) *Session {
	return &Session{
		id:             uuid.NewString(),
		userID:         userID,
		sourceAddress:  strings.TrimSpace(sourceAddress),
		userAgent:      strings.TrimSpace(userAgent),
		startedAt:      now,
		lastActivityAt: now,
		active:         true,
	}
}

func restoreSession(st SessionState) *Session {
	s := &Session{
		id:             st.ID,
		userID:         st.UserID,
		sourceAddress:  st.SourceAddress,
		userAgent:      st.UserAgent,
		startedAt:      st.StartedAt,
		lastActivityAt: st.LastActivityAt,
		active:         st.Active,
	}
	if st.EndedAt != nil {
		t := *st.EndedAt
		s.endedAt = &t
	}
	return s
}

// State returns a copy of the session suitable for persistence.
func (s *Session) State() SessionState {
	return SessionState{
		ID:             s.id,
		UserID:         s.userID,
		SourceAddress:  s.sourceAddress,
		UserAgent:      s.userAgent,
		StartedAt:      s.startedAt,
		LastActivityAt: s.lastActivityAt,
		EndedAt:        s.EndedAt(),
		Active:         s.active,
	}
}

func (s *Session) ID() string                { return s.id }
func (s *Session) UserID() string            { return s.userID }
func (s *Session) SourceAddress() string     { return s.sourceAddress }
func (s *Session) UserAgent() string         { return s.userAgent }
func (s *Session) StartedAt() time.Time      { return s.startedAt }
func (s *Session) LastActivityAt() time.Time { return s.lastActivityAt }
func (s *Session) IsActive() bool            { return s.active }

// EndedAt returns a copy of the end instant, nil while active.
func (s *Session) EndedAt() *time.Time {
	if s.endedAt == nil {
		return nil
	}
	t := *s.endedAt
	return &t
}

// Touch records activity at now. lastActivityAt never moves backwards.
func (s *Session) Touch(now time.Time) error {
	if !s.active {
		return ValidationError("AUTH_SESSION_INACTIVE", ErrSessionInactive, "session_id", s.id)
	}
	if now.After(s.lastActivityAt) {
		s.lastActivityAt = now
	}
	return nil
}

// End deactivates the session. Ending an inactive session is a no-op and
// reports false; endedAt is never rewritten.
func (s *Session) End(now time.Time) bool {
	if !s.active {
		return false
	}
	if now.Before(s.lastActivityAt) {
		now = s.lastActivityAt
	}
	s.active = false
	s.endedAt = &now
	return true
}

// IsExpired reports whether there has been no activity for longer than maxIdle.
func (s *Session) IsExpired(maxIdle time.Duration, now time.Time) bool {
	return now.Sub(s.lastActivityAt) > maxIdle
}

// IsLongRunning reports whether the session lasted (or has lasted) longer than maxDuration.
func (s *Session) IsLongRunning(maxDuration time.Duration, now time.Time) bool {
	return s.until(now).Sub(s.startedAt) > maxDuration
}

// StaleReason names the limit the session has passed ("idle" or
// "max_duration"), or returns "" when it is within both. Non-positive limits
// are ignored.
func (s *Session) StaleReason(maxIdle, maxDuration time.Duration, now time.Time) string {
	switch {
	case maxIdle > 0 && s.IsExpired(maxIdle, now):
		return "idle"
	case maxDuration > 0 && s.IsLongRunning(maxDuration, now):
		return "max_duration"
	}
	return ""
}

// IsSuspicious flags sessions that look abandoned or automated: idle over a
// day while still active, alive for over a week, or a scripted user agent.
func (s *Session) IsSuspicious(now time.Time) bool {
	if s.active && now.Sub(s.lastActivityAt) > suspiciousIdle {
		return true
	}
	if s.until(now).Sub(s.startedAt) > suspiciousLifetime {
		return true
	}
	return IsAutomationAgent(s.userAgent)
}

// MatchesDevice recognizes a returning device. Never used for authorization.
func (s *Session) MatchesDevice(sourceAddress, userAgent string) bool {
	return strings.EqualFold(s.sourceAddress, strings.TrimSpace(sourceAddress)) &&
		strings.EqualFold(s.userAgent, strings.TrimSpace(userAgent))
}

// DeviceSummary parses the user agent. Unknown input yields "unknown" fields.
func (s *Session) DeviceSummary() DeviceSummary {
	return ParseDevice(s.userAgent)
}

func (s *Session) until(now time.Time) time.Time {
	if s.endedAt != nil {
		return *s.endedAt
	}
	return now
}

// IsAutomationAgent reports whether ua contains an automation keyword.
func IsAutomationAgent(ua string) bool {
	lower := strings.ToLower(ua)
	for _, kw := range automationKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ParseDevice extracts OS, browser and device class from a user agent string.
func ParseDevice(ua string) DeviceSummary {
	summary := DeviceSummary{OS: "unknown", Browser: "unknown", DeviceClass: "unknown"}
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return summary
	}
	parsed := useragent.New(ua)
	if osName := parsed.OS(); osName != "" {
		summary.OS = osName
	}
	if name, version := parsed.Browser(); name != "" {
		summary.Browser = name
		summary.BrowserVersion = version
	}
	switch {
	case parsed.Bot() || IsAutomationAgent(ua):
		summary.DeviceClass = "bot"
	case strings.Contains(strings.ToLower(ua), "ipad") || strings.Contains(strings.ToLower(ua), "tablet"):
		summary.DeviceClass = "tablet"
	case parsed.Mobile():
		summary.DeviceClass = "mobile"
	case summary.OS != "unknown":
		summary.DeviceClass = "desktop"
	}
	return summary
}
