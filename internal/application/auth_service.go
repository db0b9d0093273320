package application

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
	repo "github.com/oksasatya/go-ddd-school-auth/internal/domain/repository"
	"github.com/oksasatya/go-ddd-school-auth/internal/observability/metrics"
)

// LoginOutcome is the terminal state of a login evaluation.
type LoginOutcome string

const (
	OutcomeSuccess           LoginOutcome = "success"
	OutcomeLocked            LoginOutcome = "locked"
	OutcomeRateLimited       LoginOutcome = "rate_limited"
	OutcomeInvalidCredential LoginOutcome = "invalid_credential"
	OutcomeError             LoginOutcome = "error"
)

// OutcomeOf maps a Login error onto its terminal state.
func OutcomeOf(err error) LoginOutcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, entity.ErrAccountLocked):
		return OutcomeLocked
	case errors.Is(err, entity.ErrRateLimited):
		return OutcomeRateLimited
	case errors.Is(err, entity.ErrInvalidCredentials):
		return OutcomeInvalidCredential
	default:
		return OutcomeError
	}
}

// LoginInput is what a client presents to sign in.
type LoginInput struct {
	Email         string
	Password      string
	SourceAddress string
	UserAgent     string
}

func invalidCredentials() error {
	return entity.PolicyViolation("AUTH_INVALID_CREDENTIALS", entity.ErrInvalidCredentials)
}

func accountLocked(until *time.Time) error {
	return entity.PolicyViolation("AUTH_ACCOUNT_LOCKED", entity.ErrAccountLocked, "locked_until", until)
}

// Login evaluates a sign-in attempt. Unknown email, wrong password and an
// inactive account all fail with the same invalid credentials error.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResponse, TokenPair, error) {
	start := time.Now()
	resp, pair, err := s.login(ctx, in)
	metrics.ObserveLogin(string(OutcomeOf(err)), time.Since(start))
	return resp, pair, err
}

func (s *Service) login(ctx context.Context, in LoginInput) (*LoginResponse, TokenPair, error) {
	email, err := entity.NewEmailAddress(in.Email)
	if err != nil {
		s.verifyDummy(in.Password)
		return nil, TokenPair{}, invalidCredentials()
	}

	u, err := s.findByEmail(ctx, email)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, TokenPair{}, s.storeError(err, "")
	}
	if u != nil && u.IsLocked(s.clock.Now()) {
		return nil, TokenPair{}, accountLocked(u.LockedUntil())
	}

	if s.tooManyAttempts(ctx, in.SourceAddress) {
		return nil, TokenPair{}, entity.PolicyViolation("AUTH_RATE_LIMITED", entity.ErrRateLimited, "source_address", in.SourceAddress)
	}
	s.registerAttempt(ctx, in.SourceAddress)

	if u == nil {
		s.verifyDummy(in.Password)
		return nil, TokenPair{}, invalidCredentials()
	}

	var (
		pair      TokenPair
		sessionID string
		expired   bool
	)
	saved, err := s.mutate(ctx, s.byEmail(email), u, func(u *entity.User, now time.Time) error {
		if u.IsLocked(now) {
			return accountLocked(u.LockedUntil())
		}
		ok, vErr := u.VerifyCredential(s.hasher, in.Password)
		if vErr != nil {
			s.logger.WithError(vErr).WithField("user_id", u.ID()).Warn("credential verification error")
			ok = false
		}
		if !ok {
			if u.RecordFailedLogin(s.cfg.Lockout, now) {
				metrics.IncAccountLocks()
				s.logger.WithFields(logrus.Fields{"user_id": u.ID(), "locked_until": u.LockedUntil()}).Warn("account locked after repeated failed logins")
			}
			return persistThenFail(invalidCredentials())
		}
		if !u.IsActive() {
			return invalidCredentials()
		}

		u.RecordSuccessfulLogin(now)
		metrics.ObserveSessionsEnded("stale", u.ExpireStaleSessions(s.cfg.SessionMaxIdle, s.cfg.SessionMaxDuration, now))
		session := u.OpenSession(in.SourceAddress, in.UserAgent, now)
		p, tErr := s.issueTokens(u, session.ID(), now)
		if tErr != nil {
			return tErr
		}
		pair = p
		sessionID = session.ID()
		expired = u.CredentialExpired(s.cfg.PasswordMaxAge, now)
		return nil
	})
	if err != nil {
		return nil, TokenPair{}, err
	}

	if s.suspiciousAddress(ctx, in.SourceAddress) {
		s.logger.WithFields(logrus.Fields{
			"user_id":        saved.ID(),
			"session_id":     sessionID,
			"source_address": in.SourceAddress,
		}).Warn("login from suspicious address")
		s.publish(ctx, []entity.Event{{
			Type:       entity.EventUserLoggedIn,
			UserID:     saved.ID(),
			SessionID:  sessionID,
			OccurredAt: s.clock.Now(),
			Data:       map[string]any{"suspicious_address": true, "source_address": in.SourceAddress},
		}})
	}

	return &LoginResponse{User: toUserInfo(saved), SessionID: sessionID, PasswordExpired: expired}, pair, nil
}

// issueTokens mints an access token and a rotated refresh token for sessionID.
func (s *Service) issueTokens(u *entity.User, sessionID string, now time.Time) (TokenPair, error) {
	access, aexp, err := s.tokens.IssueAccess(u.ID(), sessionID, u.Role().String(), u.SchoolID(), now)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", u.ID()).Error("generate access token failed")
		return TokenPair{}, entity.TransientError("AUTH_TOKEN_ISSUE_FAILED", errors.Join(entity.ErrUnavailable, err))
	}
	refresh, rexp, err := s.tokens.IssueRefresh(u.ID(), sessionID, now)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", u.ID()).Error("generate refresh token failed")
		return TokenPair{}, entity.TransientError("AUTH_TOKEN_ISSUE_FAILED", errors.Join(entity.ErrUnavailable, err))
	}
	if err := u.IssueRefreshToken(digest(refresh), rexp, now); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, AccessTokenExpiry: aexp, RefreshToken: refresh, RefreshTokenExpiry: rexp}, nil
}

func (s *Service) tooManyAttempts(ctx context.Context, addr string) bool {
	if s.limiter == nil || addr == "" {
		return false
	}
	c, cancel := s.withTimeout(ctx)
	defer cancel()
	limited, err := s.limiter.TooManyAttempts(c, addr, s.cfg.RateLimitWindow)
	if err != nil {
		metrics.ObserveDegraded("rate_limiter")
		s.logger.WithError(err).WithField("source_address", addr).Warn("rate limiter unavailable, allowing attempt")
		return false
	}
	return limited
}

func (s *Service) registerAttempt(ctx context.Context, addr string) {
	if s.limiter == nil || addr == "" {
		return
	}
	c, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.limiter.RegisterAttempt(c, addr, s.clock.Now()); err != nil {
		metrics.ObserveDegraded("rate_limiter")
		s.logger.WithError(err).WithField("source_address", addr).Warn("rate limiter register failed")
	}
}

func (s *Service) suspiciousAddress(ctx context.Context, addr string) bool {
	if s.limiter == nil || addr == "" {
		return false
	}
	c, cancel := s.withTimeout(ctx)
	defer cancel()
	suspicious, err := s.limiter.IsSuspiciousAddress(c, addr)
	if err != nil {
		metrics.ObserveDegraded("rate_limiter")
		return false
	}
	return suspicious
}

func invalidRefresh() error {
	return entity.PolicyViolation("AUTH_INVALID_REFRESH_TOKEN", entity.ErrInvalidRefreshToken)
}

// Refresh exchanges a refresh token for a new pair. Any mismatch clears the
// stored token, so a replayed token also revokes the one that replaced it.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, string, error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		metrics.ObserveRefresh("malformed")
		return TokenPair{}, "", invalidRefresh()
	}
	var pair TokenPair
	_, err = s.mutate(ctx, s.byID(claims.UserID), nil, func(u *entity.User, now time.Time) error {
		if !u.IsActive() || !u.RefreshTokenIsValid(digest(refreshToken), now) {
			u.ClearRefreshToken(now)
			return persistThenFail(invalidRefresh())
		}
		if u.ExpireSessionIfStale(claims.SessionID, s.cfg.SessionMaxIdle, s.cfg.SessionMaxDuration, now) {
			metrics.ObserveSessionsEnded("stale", 1)
			u.ClearRefreshToken(now)
			return persistThenFail(invalidRefresh())
		}
		if tErr := u.TouchSession(claims.SessionID, now); tErr != nil {
			u.ClearRefreshToken(now)
			return persistThenFail(invalidRefresh())
		}
		p, tErr := s.issueTokens(u, claims.SessionID, now)
		if tErr != nil {
			return tErr
		}
		pair = p
		return nil
	})
	if err != nil {
		if errors.Is(err, entity.ErrUserNotFound) {
			err = invalidRefresh()
		}
		if errors.Is(err, entity.ErrInvalidRefreshToken) {
			metrics.ObserveRefresh("rejected")
		} else {
			metrics.ObserveRefresh("error")
		}
		return TokenPair{}, "", err
	}
	metrics.ObserveRefresh("rotated")
	return pair, claims.UserID, nil
}

// Logout ends one session. Ending an inactive session is not an error. A
// refresh token issued for that session is rejected from then on.
func (s *Service) Logout(ctx context.Context, userID, sessionID string) error {
	ended := false
	_, err := s.mutate(ctx, s.byID(userID), nil, func(u *entity.User, now time.Time) error {
		var eErr error
		ended, eErr = u.EndSession(sessionID, now)
		return eErr
	})
	if err == nil && ended {
		metrics.ObserveSessionsEnded("logout", 1)
	}
	return err
}

// LogoutWithRefreshToken ends the session a refresh token belongs to and
// clears the token. Unknown or stale tokens are ignored.
func (s *Service) LogoutWithRefreshToken(ctx context.Context, refreshToken string) error {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil
	}
	ended := false
	_, err = s.mutate(ctx, s.byID(claims.UserID), nil, func(u *entity.User, now time.Time) error {
		if u.RefreshTokenIsValid(digest(refreshToken), now) {
			u.ClearRefreshToken(now)
		}
		var eErr error
		ended, eErr = u.EndSession(claims.SessionID, now)
		if eErr != nil && !errors.Is(eErr, entity.ErrSessionNotFound) {
			return eErr
		}
		return nil
	})
	if errors.Is(err, entity.ErrUserNotFound) {
		return nil
	}
	if err == nil && ended {
		metrics.ObserveSessionsEnded("logout", 1)
	}
	return err
}

// LogoutAll ends every session of the user and clears the refresh token.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int, error) {
	ended := 0
	_, err := s.mutate(ctx, s.byID(userID), nil, func(u *entity.User, now time.Time) error {
		ended = u.InvalidateAllSessions(now)
		u.ClearRefreshToken(now)
		return nil
	})
	if err != nil {
		return 0, err
	}
	metrics.ObserveSessionsEnded("logout_all", ended)
	return ended, nil
}

// Authenticate resolves an access token to its principal. The session must
// still be active and within the idle and lifetime limits, so ending sessions
// revokes outstanding access tokens.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := s.tokens.ParseAccess(accessToken)
	if err != nil {
		return Principal{}, entity.PolicyViolation("AUTH_INVALID_TOKEN", entity.ErrInvalidToken)
	}
	u, err := s.findByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Principal{}, entity.PolicyViolation("AUTH_INVALID_TOKEN", entity.ErrInvalidToken)
		}
		return Principal{}, s.storeError(err, claims.UserID)
	}
	sess, ok := u.Session(claims.SessionID)
	if !ok || !sess.IsActive() || !u.IsActive() {
		return Principal{}, entity.PolicyViolation("AUTH_INVALID_TOKEN", entity.ErrInvalidToken)
	}
	if sess.StaleReason(s.cfg.SessionMaxIdle, s.cfg.SessionMaxDuration, s.clock.Now()) != "" {
		return Principal{}, entity.PolicyViolation("AUTH_SESSION_EXPIRED", entity.ErrInvalidToken, "session_id", sess.ID())
	}
	return Principal{UserID: u.ID(), SessionID: sess.ID(), Role: u.Role(), SchoolID: u.SchoolID()}, nil
}
