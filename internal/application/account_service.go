package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/policy"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/port"
	repo "github.com/oksasatya/go-ddd-school-auth/internal/domain/repository"
	"github.com/oksasatya/go-ddd-school-auth/internal/observability/metrics"
)

type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Role      string
	SchoolID  string
}

// selfServiceRoles may be registered without an authenticated actor.
var selfServiceRoles = map[entity.RoleCode]bool{
	entity.RoleParent:  true,
	entity.RoleStudent: true,
}

// Register creates an account. Without an actor only parent and student
// accounts can be created; an actor may create roles below its own inside
// the schools it can access.
func (s *Service) Register(ctx context.Context, actor *Principal, in RegisterInput) (*UserInfo, error) {
	name, err := entity.NewPersonName(in.FirstName, in.LastName)
	if err != nil {
		return nil, err
	}
	email, err := entity.NewEmailAddress(in.Email)
	if err != nil {
		return nil, err
	}
	role, err := entity.RoleFor(in.Role)
	if err != nil {
		return nil, err
	}
	schoolID := strings.TrimSpace(in.SchoolID)
	if !role.IsTop() && schoolID == "" {
		return nil, entity.ValidationError("AUTH_SCHOOL_REQUIRED", entity.ErrInvalidInput, "field", "school_id")
	}
	if actor == nil {
		if !selfServiceRoles[role.Code] {
			return nil, forbidden("role", role.String())
		}
	} else if !canAssign(*actor, role, schoolID) {
		return nil, forbidden("role", role.String())
	}

	if err := s.policy.Enforce(ctx, in.Password); err != nil {
		return nil, err
	}
	taken, err := s.existsByEmail(ctx, email)
	if err != nil {
		return nil, s.storeError(err, "")
	}
	if taken {
		return nil, entity.ConflictError("AUTH_EMAIL_TAKEN", entity.ErrEmailTaken)
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, entity.TransientError("AUTH_HASH_FAILED", errors.Join(entity.ErrUnavailable, err))
	}
	u, err := entity.NewUser(entity.NewUserParams{
		Name:           name,
		Email:          email,
		CredentialHash: hash,
		Role:           role,
		SchoolID:       schoolID,
	}, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, u); err != nil {
		return nil, s.storeError(err, u.ID())
	}
	s.publish(ctx, u.PullEvents())
	s.sendConfirmation(ctx, u)

	info := toUserInfo(u)
	return &info, nil
}

type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
	Confirmation    string
}

// ChangePassword replaces the credential after checking the current one. All
// sessions end and the refresh token is cleared.
func (s *Service) ChangePassword(ctx context.Context, userID string, in ChangePasswordInput) error {
	if in.NewPassword != in.Confirmation {
		return entity.ValidationError("AUTH_PASSWORD_MISMATCH", entity.ErrInvalidInput, "violations", []string{policy.ViolationMismatch})
	}
	if in.NewPassword == in.CurrentPassword {
		return entity.ValidationError("AUTH_PASSWORD_UNCHANGED", entity.ErrInvalidInput, "violations", []string{policy.ViolationUnchanged})
	}
	if err := s.policy.Enforce(ctx, in.NewPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return entity.TransientError("AUTH_HASH_FAILED", errors.Join(entity.ErrUnavailable, err))
	}
	_, err = s.mutate(ctx, s.byID(userID), nil, func(u *entity.User, now time.Time) error {
		ok, vErr := u.VerifyCredential(s.hasher, in.CurrentPassword)
		if vErr != nil || !ok {
			return invalidCredentials()
		}
		ended := len(u.ActiveSessions())
		if cErr := u.ChangeCredential(hash, now); cErr != nil {
			return cErr
		}
		metrics.ObserveSessionsEnded("password_change", ended)
		return nil
	})
	return err
}

// ForgotPassword enqueues a reset link when an active account exists. It
// succeeds either way so that callers cannot probe for accounts.
func (s *Service) ForgotPassword(ctx context.Context, rawEmail string) error {
	email, err := entity.NewEmailAddress(rawEmail)
	if err != nil {
		return err
	}
	u, err := s.findByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			s.logger.WithError(err).Warn("forgot password lookup failed")
		}
		return nil
	}
	if !u.IsActive() || s.verification == nil || s.notifier == nil {
		return nil
	}
	token, err := s.issueVerification(ctx, port.PurposePasswordReset, email.String(), s.cfg.ResetTokenTTL)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", u.ID()).Warn("reset token issue failed")
		return nil
	}
	if err := s.notifier.SendPasswordReset(ctx, email.String(), u.Name().Full(), token); err != nil {
		s.logger.WithError(err).WithField("user_id", u.ID()).Warn("enqueue reset email failed")
	}
	return nil
}

type ResetPasswordInput struct {
	Email        string
	Token        string
	NewPassword  string
	Confirmation string
}

// ResetPassword sets a new credential with a one-time token. It also lifts a
// lockout, since the owner has just proven control of the mailbox.
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	email, err := entity.NewEmailAddress(in.Email)
	if err != nil {
		return err
	}
	if in.NewPassword != in.Confirmation {
		return entity.ValidationError("AUTH_PASSWORD_MISMATCH", entity.ErrInvalidInput, "violations", []string{policy.ViolationMismatch})
	}
	if err := s.policy.Enforce(ctx, in.NewPassword); err != nil {
		return err
	}
	if err := s.consumeToken(ctx, port.PurposePasswordReset, email, in.Token); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return entity.TransientError("AUTH_HASH_FAILED", errors.Join(entity.ErrUnavailable, err))
	}
	_, err = s.mutate(ctx, s.byEmail(email), nil, func(u *entity.User, now time.Time) error {
		if cErr := u.ChangeCredential(hash, now); cErr != nil {
			return cErr
		}
		if u.FailedLoginCount() > 0 || u.LockedUntil() != nil {
			u.Unlock(now)
		}
		return nil
	})
	if errors.Is(err, entity.ErrUserNotFound) {
		return entity.ValidationError("AUTH_INVALID_TOKEN", entity.ErrInvalidToken)
	}
	return err
}

// SendEmailConfirmation enqueues a confirmation link. Already confirmed
// addresses are left alone.
func (s *Service) SendEmailConfirmation(ctx context.Context, userID string) (bool, error) {
	u, err := s.byID(userID)(ctx)
	if err != nil {
		return false, err
	}
	if u.EmailConfirmed() {
		return false, nil
	}
	if s.verification == nil || s.notifier == nil {
		return false, entity.TransientError("AUTH_CONFIRMATION_UNAVAILABLE", entity.ErrUnavailable)
	}
	token, err := s.issueVerification(ctx, port.PurposeEmailConfirm, u.Email().String(), s.cfg.ConfirmTokenTTL)
	if err != nil {
		return false, entity.TransientError("AUTH_TOKEN_STORE_UNAVAILABLE", errors.Join(entity.ErrUnavailable, err))
	}
	if err := s.notifier.SendEmailConfirmation(ctx, u.Email().String(), u.Name().Full(), token); err != nil {
		return false, entity.TransientError("AUTH_NOTIFIER_UNAVAILABLE", errors.Join(entity.ErrUnavailable, err))
	}
	return true, nil
}

// ConfirmEmail marks the address confirmed with a one-time token.
func (s *Service) ConfirmEmail(ctx context.Context, rawEmail, token string) error {
	email, err := entity.NewEmailAddress(rawEmail)
	if err != nil {
		return err
	}
	if err := s.consumeToken(ctx, port.PurposeEmailConfirm, email, token); err != nil {
		return err
	}
	_, err = s.mutate(ctx, s.byEmail(email), nil, func(u *entity.User, now time.Time) error {
		u.ConfirmEmail(now)
		return nil
	})
	if errors.Is(err, entity.ErrUserNotFound) {
		return entity.ValidationError("AUTH_INVALID_TOKEN", entity.ErrInvalidToken)
	}
	return err
}

// CheckEmailAvailable reports whether no account uses the address.
func (s *Service) CheckEmailAvailable(ctx context.Context, rawEmail string) (bool, error) {
	email, err := entity.NewEmailAddress(rawEmail)
	if err != nil {
		return false, err
	}
	taken, err := s.existsByEmail(ctx, email)
	if err != nil {
		return false, s.storeError(err, "")
	}
	return !taken, nil
}

// ValidatePasswordStrength reports score, class, violations and breach status.
func (s *Service) ValidatePasswordStrength(ctx context.Context, plaintext string) policy.Report {
	return s.policy.Evaluate(ctx, plaintext)
}

func (s *Service) GetCurrentUser(ctx context.Context, userID string) (*UserInfo, error) {
	u, err := s.byID(userID)(ctx)
	if err != nil {
		return nil, err
	}
	info := toUserInfo(u)
	return &info, nil
}

// ListSessions returns every session of the user, newest first. currentID
// marks the caller's own session.
func (s *Service) ListSessions(ctx context.Context, userID, currentID string) ([]SessionInfo, error) {
	u, err := s.byID(userID)(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	sessions := u.Sessions()
	out := make([]SessionInfo, 0, len(sessions))
	for i := len(sessions) - 1; i >= 0; i-- {
		out = append(out, toSessionInfo(sessions[i], currentID, now))
	}
	return out, nil
}

// RevokeSession ends one of the user's own sessions.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID string) error {
	ended := false
	_, err := s.mutate(ctx, s.byID(userID), nil, func(u *entity.User, now time.Time) error {
		var eErr error
		ended, eErr = u.EndSession(sessionID, now)
		return eErr
	})
	if err == nil && ended {
		metrics.ObserveSessionsEnded("revoked", 1)
	}
	return err
}

func (s *Service) consumeToken(ctx context.Context, purpose port.TokenPurpose, email entity.EmailAddress, token string) error {
	if s.verification == nil {
		return entity.TransientError("AUTH_TOKEN_STORE_UNAVAILABLE", entity.ErrUnavailable)
	}
	ok, err := s.consumeVerification(ctx, purpose, email.String(), token)
	if err != nil {
		return entity.TransientError("AUTH_TOKEN_STORE_UNAVAILABLE", errors.Join(entity.ErrUnavailable, err))
	}
	if !ok {
		return entity.ValidationError("AUTH_INVALID_TOKEN", entity.ErrInvalidToken)
	}
	return nil
}

func (s *Service) sendConfirmation(ctx context.Context, u *entity.User) {
	if s.verification == nil || s.notifier == nil {
		return
	}
	token, err := s.issueVerification(ctx, port.PurposeEmailConfirm, u.Email().String(), s.cfg.ConfirmTokenTTL)
	if err == nil {
		err = s.notifier.SendEmailConfirmation(ctx, u.Email().String(), u.Name().Full(), token)
	}
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{"user_id": u.ID()}).Warn("enqueue confirmation email failed")
	}
}
