// Package port declares the collaborators the authentication core depends on.
package port

import (
	"context"
	"time"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
)

// CredentialHasher hashes and verifies passwords. Verify must take roughly the
// same time whether or not the password matches.
type CredentialHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) (bool, error)
}

// BreachListChecker looks a plaintext password up in a list of known breached
// passwords.
type BreachListChecker interface {
	IsCompromised(ctx context.Context, plaintext string) (bool, error)
}

// LoginRateLimiter counts login attempts per source address over a sliding
// window.
type LoginRateLimiter interface {
	TooManyAttempts(ctx context.Context, sourceAddress string, window time.Duration) (bool, error)
	RegisterAttempt(ctx context.Context, sourceAddress string, at time.Time) error
	IsSuspiciousAddress(ctx context.Context, sourceAddress string) (bool, error)
}

type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// AccessClaims is what an access token proves.
type AccessClaims struct {
	UserID    string
	SessionID string
	Role      string
	SchoolID  string
	ExpiresAt time.Time
}

// RefreshClaims identifies the user and session a refresh token was issued for.
type RefreshClaims struct {
	UserID    string
	SessionID string
	ExpiresAt time.Time
}

// TokenIssuer builds and parses signed tokens.
type TokenIssuer interface {
	IssueAccess(userID, sessionID, role, schoolID string, now time.Time) (string, time.Time, error)
	IssueRefresh(userID, sessionID string, now time.Time) (string, time.Time, error)
	ParseAccess(token string) (AccessClaims, error)
	ParseRefresh(token string) (RefreshClaims, error)
}

// TokenPurpose scopes one-time verification tokens.
type TokenPurpose string

const (
	PurposePasswordReset TokenPurpose = "reset"
	PurposeEmailConfirm  TokenPurpose = "confirm"
)

// VerificationTokenStore keeps one-time tokens for reset and confirmation
// links. Consume succeeds at most once per issued token.
type VerificationTokenStore interface {
	Issue(ctx context.Context, purpose TokenPurpose, email string, ttl time.Duration) (string, error)
	Consume(ctx context.Context, purpose TokenPurpose, email, token string) (bool, error)
}

// Notifier enqueues outbound messages for an external delivery worker.
type Notifier interface {
	SendPasswordReset(ctx context.Context, email, name, token string) error
	SendEmailConfirmation(ctx context.Context, email, name, token string) error
}

// EventPublisher receives domain events after the aggregate was saved.
type EventPublisher interface {
	Publish(ctx context.Context, events []entity.Event) error
}
