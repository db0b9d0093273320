package entity

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CredentialVerifier checks a plaintext password against a stored hash.
type CredentialVerifier interface {
	Verify(plaintext, hash string) (bool, error)
}

// User is the aggregate root for authentication. It owns the credential, the
// role, the lockout counters, the refresh token and every Session of the user;
// all of them are mutated only through its methods.
type User struct {
	id               string
	name             PersonName
	email            EmailAddress
	credential       Credential
	role             Role
	schoolID         string
	active           bool
	emailConfirmed   bool
	failedLoginCount int
	lockedUntil      *time.Time
	lastLoginAt      *time.Time
	refreshToken     *RefreshToken
	sessions         []*Session
	version          int64
	createdAt        time.Time
	updatedAt        time.Time

	events []Event
}

// NewUserParams carries validated registration input.
type NewUserParams struct {
	Name           PersonName
	Email          EmailAddress
	CredentialHash string
	Role           Role
	SchoolID       string
}

// NewUser registers a user. The aggregate starts active with an unconfirmed email.
func NewUser(p NewUserParams, now time.Time) (*User, error) {
	if p.Email == "" {
		return nil, ValidationError("AUTH_INVALID_EMAIL", ErrInvalidInput, "field", "email")
	}
	if p.Name.First == "" || p.Name.Last == "" {
		return nil, ValidationError("AUTH_INVALID_NAME", ErrInvalidInput, "field", "name")
	}
	if p.CredentialHash == "" {
		return nil, ValidationError("AUTH_INVALID_CREDENTIAL", ErrInvalidInput, "field", "password")
	}
	if p.Role.Code == "" {
		return nil, ValidationError("AUTH_INVALID_ROLE", ErrInvalidInput, "field", "role")
	}
	u := &User{
		id:         uuid.NewString(),
		name:       p.Name,
		email:      p.Email,
		credential: Credential{Hash: p.CredentialHash, ChangedAt: now},
		role:       p.Role,
		schoolID:   strings.TrimSpace(p.SchoolID),
		active:     true,
		createdAt:  now,
		updatedAt:  now,
	}
	u.raise(EventUserRegistered, "", now, map[string]any{"email": u.email.String(), "role": string(u.role.Code)})
	return u, nil
}

// UserState is the persisted shape of a User.
type UserState struct {
	ID               string
	FirstName        string
	LastName         string
	Email            string
	PasswordHash     string
	PasswordChanged  time.Time
	RoleCode         string
	RoleLevel        int
	SchoolID         string
	Active           bool
	EmailConfirmed   bool
	FailedLoginCount int
	LockedUntil      *time.Time
	LastLoginAt      *time.Time
	RefreshToken     string
	RefreshExpiresAt *time.Time
	Sessions         []SessionState
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RestoreUser rebuilds an aggregate from persisted state. No events are raised.
func RestoreUser(st UserState) *User {
	u := &User{
		id:               st.ID,
		name:             PersonName{First: st.FirstName, Last: st.LastName},
		email:            EmailAddress(st.Email),
		credential:       Credential{Hash: st.PasswordHash, ChangedAt: st.PasswordChanged},
		role:             Role{Code: RoleCode(st.RoleCode), Level: st.RoleLevel},
		schoolID:         st.SchoolID,
		active:           st.Active,
		emailConfirmed:   st.EmailConfirmed,
		failedLoginCount: st.FailedLoginCount,
		lockedUntil:      copyTime(st.LockedUntil),
		lastLoginAt:      copyTime(st.LastLoginAt),
		version:          st.Version,
		createdAt:        st.CreatedAt,
		updatedAt:        st.UpdatedAt,
	}
	if st.RefreshToken != "" && st.RefreshExpiresAt != nil {
		u.refreshToken = &RefreshToken{Value: st.RefreshToken, ExpiresAt: *st.RefreshExpiresAt}
	}
	u.sessions = make([]*Session, 0, len(st.Sessions))
	for _, s := range st.Sessions {
		u.sessions = append(u.sessions, restoreSession(s))
	}
	return u
}

// State snapshots the aggregate for persistence.
func (u *User) State() UserState {
	st := UserState{
		ID:               u.id,
		FirstName:        u.name.First,
		LastName:         u.name.Last,
		Email:            u.email.String(),
		PasswordHash:     u.credential.Hash,
		PasswordChanged:  u.credential.ChangedAt,
		RoleCode:         string(u.role.Code),
		RoleLevel:        u.role.Level,
		SchoolID:         u.schoolID,
		Active:           u.active,
		EmailConfirmed:   u.emailConfirmed,
		FailedLoginCount: u.failedLoginCount,
		LockedUntil:      copyTime(u.lockedUntil),
		LastLoginAt:      copyTime(u.lastLoginAt),
		Version:          u.version,
		CreatedAt:        u.createdAt,
		UpdatedAt:        u.updatedAt,
	}
	if u.refreshToken != nil {
		st.RefreshToken = u.refreshToken.Value
		exp := u.refreshToken.ExpiresAt
		st.RefreshExpiresAt = &exp
	}
	st.Sessions = make([]SessionState, 0, len(u.sessions))
	for _, s := range u.sessions {
		st.Sessions = append(st.Sessions, s.State())
	}
	return st
}

func (u *User) ID() string                 { return u.id }
func (u *User) Name() PersonName           { return u.name }
func (u *User) Email() EmailAddress        { return u.email }
func (u *User) Role() Role                 { return u.role }
func (u *User) SchoolID() string           { return u.schoolID }
func (u *User) IsActive() bool             { return u.active }
func (u *User) EmailConfirmed() bool       { return u.emailConfirmed }
func (u *User) FailedLoginCount() int      { return u.failedLoginCount }
func (u *User) LockedUntil() *time.Time    { return copyTime(u.lockedUntil) }
func (u *User) LastLoginAt() *time.Time    { return copyTime(u.lastLoginAt) }
func (u *User) Version() int64             { return u.version }
func (u *User) CreatedAt() time.Time       { return u.createdAt }
func (u *User) UpdatedAt() time.Time       { return u.updatedAt }

// CredentialChangedAt is when the current password hash was stored.
func (u *User) CredentialChangedAt() time.Time { return u.credential.ChangedAt }

// SetVersion records the concurrency token assigned by the repository.
func (u *User) SetVersion(v int64) { u.version = v }

// PullEvents returns the pending events and clears them.
func (u *User) PullEvents() []Event {
	out := u.events
	u.events = nil
	return out
}

// HasPendingEvents reports whether the aggregate changed since the last PullEvents.
func (u *User) HasPendingEvents() bool { return len(u.events) > 0 }

// VerifyCredential checks plaintext against the stored hash. It never mutates
// the aggregate; timing is whatever the verifier guarantees.
func (u *User) VerifyCredential(v CredentialVerifier, plaintext string) (bool, error) {
	return v.Verify(plaintext, u.credential.Hash)
}

// CredentialExpired reports whether the credential is older than maxAge.
// A non-positive maxAge disables expiry.
func (u *User) CredentialExpired(maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(u.credential.ChangedAt) > maxAge
}

// RecordSuccessfulLogin stamps the login and clears the lockout state.
func (u *User) RecordSuccessfulLogin(now time.Time) {
	u.lastLoginAt = &now
	u.failedLoginCount = 0
	u.lockedUntil = nil
	u.touch(now)
	u.raise(EventUserLoggedIn, "", now, nil)
}

// RecordFailedLogin increments the failure counter and locks the account once
// policy.Threshold is reached. It reports whether a lock was set.
func (u *User) RecordFailedLogin(policy LockoutPolicy, now time.Time) bool {
	u.failedLoginCount++
	u.touch(now)
	u.raise(EventLoginFailed, "", now, map[string]any{"failed_login_count": u.failedLoginCount})
	if policy.Threshold <= 0 || u.failedLoginCount < policy.Threshold {
		return false
	}
	until := now.Add(policy.Duration)
	u.lockedUntil = &until
	u.raise(EventAccountLocked, "", now, map[string]any{"locked_until": until, "failed_login_count": u.failedLoginCount})
	return true
}

// IsLocked reports whether a lock is in force at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.lockedUntil != nil && u.lockedUntil.After(now)
}

// Unlock clears the failure counter and any lock.
func (u *User) Unlock(now time.Time) {
	u.failedLoginCount = 0
	u.lockedUntil = nil
	u.touch(now)
	u.raise(EventAccountUnlocked, "", now, nil)
}

// ChangeCredential stores a new password hash, clears the refresh token and
// ends every active session.
func (u *User) ChangeCredential(newHash string, now time.Time) error {
	if newHash == "" {
		return ValidationError("AUTH_INVALID_CREDENTIAL", ErrInvalidInput, "field", "password")
	}
	u.credential = Credential{Hash: newHash, ChangedAt: now}
	u.ClearRefreshToken(now)
	u.InvalidateAllSessions(now)
	u.touch(now)
	u.raise(EventPasswordChanged, "", now, nil)
	return nil
}

// IssueRefreshToken replaces any prior token. Only one refresh token is ever
// valid per user.
func (u *User) IssueRefreshToken(value string, expiresAt, now time.Time) error {
	if value == "" {
		return ValidationError("AUTH_INVALID_REFRESH_TOKEN", ErrInvalidInput, "field", "refresh_token")
	}
	if !expiresAt.After(now) {
		return ValidationError("AUTH_REFRESH_EXPIRY_NOT_IN_FUTURE", ErrInvalidInput, "expires_at", expiresAt)
	}
	u.refreshToken = &RefreshToken{Value: value, ExpiresAt: expiresAt}
	u.touch(now)
	u.raise(EventRefreshTokenIssued, "", now, map[string]any{"expires_at": expiresAt})
	return nil
}

// RefreshTokenIsValid reports an exact, unexpired match.
func (u *User) RefreshTokenIsValid(candidate string, now time.Time) bool {
	if u.refreshToken == nil || candidate == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(u.refreshToken.Value)) != 1 {
		return false
	}
	return u.refreshToken.ExpiresAt.After(now)
}

// HasRefreshToken reports whether a refresh token is stored.
func (u *User) HasRefreshToken() bool { return u.refreshToken != nil }

// ClearRefreshToken drops the refresh token if one is stored.
func (u *User) ClearRefreshToken(now time.Time) {
	if u.refreshToken == nil {
		return
	}
	u.refreshToken = nil
	u.touch(now)
	u.raise(EventRefreshTokenCleared, "", now, nil)
}

// OpenSession attaches a new active session. Lock state is the caller's
// concern; this method does not check it.
func (u *User) OpenSession(sourceAddress, userAgent string, now time.Time) Session {
	s := newSession(u.id, sourceAddress, userAgent, now)
	u.sessions = append(u.sessions, s)
	u.touch(now)
	u.raise(EventSessionOpened, s.id, now, map[string]any{
		"source_address": s.sourceAddress,
		"user_agent":     s.userAgent,
	})
	return *s
}

// InvalidateAllSessions ends every active session and returns how many ended.
func (u *User) InvalidateAllSessions(now time.Time) int {
	ended := 0
	for _, s := range u.sessions {
		if s.End(now) {
			ended++
		}
	}
	u.touch(now)
	u.raise(EventAllSessionsInvalidated, "", now, map[string]any{"ended": ended})
	return ended
}

// EndSession ends one session and reports whether it was still active.
// Ending an inactive session succeeds silently.
func (u *User) EndSession(sessionID string, now time.Time) (bool, error) {
	s := u.session(sessionID)
	if s == nil {
		return false, NotFoundError("AUTH_SESSION_NOT_FOUND", ErrSessionNotFound, "session_id", sessionID)
	}
	if !s.End(now) {
		return false, nil
	}
	u.touch(now)
	u.raise(EventSessionEnded, s.id, now, map[string]any{"reason": "logout"})
	return true, nil
}

// TouchSession records activity on an active session.
func (u *User) TouchSession(sessionID string, now time.Time) error {
	s := u.session(sessionID)
	if s == nil {
		return NotFoundError("AUTH_SESSION_NOT_FOUND", ErrSessionNotFound, "session_id", sessionID)
	}
	if err := s.Touch(now); err != nil {
		return err
	}
	u.touch(now)
	return nil
}

// ExpireStaleSessions ends active sessions idle past maxIdle or older than
// maxDuration. Non-positive limits are ignored.
func (u *User) ExpireStaleSessions(maxIdle, maxDuration time.Duration, now time.Time) int {
	ended := 0
	for _, s := range u.sessions {
		if u.expireIfStale(s, maxIdle, maxDuration, now) {
			ended++
		}
	}
	if ended > 0 {
		u.touch(now)
	}
	return ended
}

// ExpireSessionIfStale ends sessionID when it is active and past either
// limit. It reports whether the session ended now.
func (u *User) ExpireSessionIfStale(sessionID string, maxIdle, maxDuration time.Duration, now time.Time) bool {
	s := u.session(sessionID)
	if s == nil || !u.expireIfStale(s, maxIdle, maxDuration, now) {
		return false
	}
	u.touch(now)
	return true
}

func (u *User) expireIfStale(s *Session, maxIdle, maxDuration time.Duration, now time.Time) bool {
	if !s.active {
		return false
	}
	reason := s.StaleReason(maxIdle, maxDuration, now)
	if reason == "" || !s.End(now) {
		return false
	}
	u.raise(EventSessionEnded, s.id, now, map[string]any{"reason": reason})
	return true
}

// Session returns a copy of the session with the given id.
func (u *User) Session(sessionID string) (Session, bool) {
	s := u.session(sessionID)
	if s == nil {
		return Session{}, false
	}
	return *s, true
}

// Sessions returns copies of every session, oldest first.
func (u *User) Sessions() []Session {
	out := make([]Session, 0, len(u.sessions))
	for _, s := range u.sessions {
		out = append(out, *s)
	}
	return out
}

// ActiveSessions returns copies of the active sessions.
func (u *User) ActiveSessions() []Session {
	out := make([]Session, 0, len(u.sessions))
	for _, s := range u.sessions {
		if s.active {
			out = append(out, *s)
		}
	}
	return out
}

// CanAccessSchool reports whether the user may act on targetSchoolID.
// The top role may act on any school; every other role only on its own.
func (u *User) CanAccessSchool(targetSchoolID string) bool {
	if u.role.IsTop() {
		return true
	}
	return u.schoolID != "" && u.schoolID == strings.TrimSpace(targetSchoolID)
}

// ChangeRole replaces the role and forces re-authentication. Assigning the
// current role is a no-op and reports false. A user without a school can
// only hold the top role.
func (u *User) ChangeRole(role Role, now time.Time) (bool, error) {
	if role == u.role {
		return false, nil
	}
	if !role.IsTop() && u.schoolID == "" {
		return false, ValidationError("AUTH_SCHOOL_REQUIRED", ErrInvalidInput, "field", "school_id", "role", role.String())
	}
	previous := u.role
	u.role = role
	u.ClearRefreshToken(now)
	u.InvalidateAllSessions(now)
	u.touch(now)
	u.raise(EventRoleChanged, "", now, map[string]any{"from": string(previous.Code), "to": string(role.Code)})
	return true, nil
}

// Deactivate soft-disables the account, clears the refresh token and ends
// every session.
func (u *User) Deactivate(now time.Time) {
	if !u.active {
		return
	}
	u.active = false
	u.ClearRefreshToken(now)
	u.InvalidateAllSessions(now)
	u.touch(now)
	u.raise(EventUserDeactivated, "", now, nil)
}

// Activate re-enables a deactivated account.
func (u *User) Activate(now time.Time) {
	if u.active {
		return
	}
	u.active = true
	u.touch(now)
	u.raise(EventUserActivated, "", now, nil)
}

// ConfirmEmail marks the email address as confirmed.
func (u *User) ConfirmEmail(now time.Time) {
	if u.emailConfirmed {
		return
	}
	u.emailConfirmed = true
	u.touch(now)
	u.raise(EventEmailConfirmed, "", now, nil)
}

func (u *User) session(id string) *Session {
	for _, s := range u.sessions {
		if s.id == id {
			return s
		}
	}
	return nil
}

func (u *User) touch(now time.Time) {
	if now.After(u.updatedAt) {
		u.updatedAt = now
	}
}

func (u *User) raise(t EventType, sessionID string, now time.Time, data map[string]any) {
	u.events = append(u.events, Event{
		Type:       t,
		UserID:     u.id,
		SessionID:  sessionID,
		OccurredAt: now,
		Data:       data,
	})
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
