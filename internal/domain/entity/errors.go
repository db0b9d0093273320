package entity

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Error kinds. The kind travels as the oops domain of an error so adapters can
// map it without knowing every code.
const (
	KindValidation = "validation"
	KindNotFound   = "not_found"
	KindConflict   = "conflict"
	KindPolicy     = "policy"
	KindTransient  = "transient"
)

var (
	// ErrInvalidCredentials hides whether the email, the password or the
	// account state was the reason a login failed.
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrAccountLocked       = errors.New("account is temporarily locked")
	ErrRateLimited         = errors.New("too many login attempts from this address")
	ErrUserNotFound        = errors.New("user not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionInactive     = errors.New("session is not active")
	ErrEmailTaken          = errors.New("email already in use")
	ErrConcurrentUpdate    = errors.New("user was modified concurrently")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrInvalidInput        = errors.New("invalid input")
	ErrWeakPassword        = errors.New("password does not meet the password policy")
	ErrCompromisedPassword = errors.New("password appears in a known breach list")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrForbidden           = errors.New("insufficient privileges")
	ErrUnavailable         = errors.New("dependency unavailable")
)

// ValidationError reports malformed input. Always recoverable by the caller.
func ValidationError(code string, err error, kv ...any) error {
	return oops.In(KindValidation).Code(code).With(kv...).Wrap(err)
}

// NotFoundError reports a missing entity.
func NotFoundError(code string, err error, kv ...any) error {
	return oops.In(KindNotFound).Code(code).With(kv...).Wrap(err)
}

// ConflictError reports a uniqueness or concurrent-write conflict.
func ConflictError(code string, err error, kv ...any) error {
	return oops.In(KindConflict).Code(code).With(kv...).Wrap(err)
}

// PolicyViolation reports a rule refusal: weak password, lockout, rate limit.
func PolicyViolation(code string, err error, kv ...any) error {
	return oops.In(KindPolicy).Code(code).With(kv...).Wrap(err)
}

// TransientError reports an unavailable dependency. Callers retry with backoff.
func TransientError(code string, err error, kv ...any) error {
	return oops.In(KindTransient).Code(code).With(kv...).Wrap(err)
}

// KindOf returns the error kind, or "" for errors built outside this package.
func KindOf(err error) string {
	if o, ok := oops.AsOops(err); ok {
		return o.Domain()
	}
	return ""
}

// CodeOf returns the stable error code, or "" when there is none.
func CodeOf(err error) string {
	if o, ok := oops.AsOops(err); ok {
		if c := o.Code(); c != nil {
			return fmt.Sprint(c)
		}
	}
	return ""
}

// ContextOf returns the key/value context attached to an error.
func ContextOf(err error) map[string]any {
	if o, ok := oops.AsOops(err); ok {
		return o.Context()
	}
	return nil
}
