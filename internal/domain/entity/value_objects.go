package entity

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// EmailAddress is a normalized, syntactically valid email address.
type EmailAddress string

// NewEmailAddress lower-cases and trims raw, then checks its format.
func NewEmailAddress(raw string) (EmailAddress, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if err := validate.Var(normalized, "required,email,max=254"); err != nil {
		return "", ValidationError("AUTH_INVALID_EMAIL", ErrInvalidInput, "field", "email")
	}
	return EmailAddress(normalized), nil
}

func (e EmailAddress) String() string { return string(e) }

// PersonName holds a first and last name, both required.
type PersonName struct {
	First string
	Last  string
}

// NewPersonName trims both parts and rejects empty ones.
func NewPersonName(first, last string) (PersonName, error) {
	n := PersonName{First: strings.TrimSpace(first), Last: strings.TrimSpace(last)}
	if n.First == "" {
		return PersonName{}, ValidationError("AUTH_INVALID_NAME", ErrInvalidInput, "field", "first_name")
	}
	if n.Last == "" {
		return PersonName{}, ValidationError("AUTH_INVALID_NAME", ErrInvalidInput, "field", "last_name")
	}
	return n, nil
}

// Full returns "First Last".
func (n PersonName) Full() string { return n.First + " " + n.Last }

// Credential is a stored password hash and the instant it was last changed.
type Credential struct {
	Hash      string
	ChangedAt time.Time
}

// RefreshToken is the single active refresh token of a user. Value holds
// whatever the workflow chose to store (it stores a digest, not the token).
type RefreshToken struct {
	Value     string
	ExpiresAt time.Time
}

// LockoutPolicy configures progressive lockout.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 30 * time.Minute
)

// DefaultLockoutPolicy locks for 30 minutes after 5 consecutive failures.
var DefaultLockoutPolicy = LockoutPolicy{Threshold: DefaultLockoutThreshold, Duration: DefaultLockoutDuration}
