package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/go-ddd-school-auth/internal/application"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
	"github.com/oksasatya/go-ddd-school-auth/internal/infrastructure/memory"
)

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)
	info := f.register(t, "teacher@school.edu", entity.RoleTeacher, "school-1")

	res, pair, err := f.login("Teacher@School.edu", goodPassword)
	require.NoError(t, err)
	assert.Equal(t, info.ID, res.User.ID)
	assert.NotEmpty(t, res.SessionID)
	assert.False(t, res.PasswordExpired)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), pair.AccessTokenExpiry)

	p := f.principal(t, pair)
	assert.Equal(t, info.ID, p.UserID)
	assert.Equal(t, res.SessionID, p.SessionID)
	assert.Equal(t, entity.RoleTeacher, p.Role.Code)
	assert.Equal(t, "school-1", p.SchoolID)

	assert.Equal(t, application.OutcomeSuccess, application.OutcomeOf(err))
}

func TestLoginUnknownEmailIsGeneric(t *testing.T) {
	f := newFixture(t)
	f.register(t, "parent@school.edu", entity.RoleParent, "school-1")

	_, _, unknownErr := f.login("nobody@school.edu", goodPassword)
	_, _, wrongErr := f.login("parent@school.edu", "Wrong12345")
	_, _, malformedErr := f.login("not-an-email", goodPassword)

	for _, err := range []error{unknownErr, wrongErr, malformedErr} {
		require.Error(t, err)
		assert.True(t, errors.Is(err, entity.ErrInvalidCredentials))
		assert.Equal(t, "AUTH_INVALID_CREDENTIALS", entity.CodeOf(err))
		assert.Equal(t, application.OutcomeInvalidCredential, application.OutcomeOf(err))
	}
}

// The u1 scenario: four failures, a success that resets the counter, five
// failures that lock, then a correct password is still refused until the
// lock expires.
func TestLoginLockoutScenario(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1@school.edu", entity.RoleStudent, "school-1")

	for i := 0; i < 4; i++ {
		_, _, err := f.login("u1@school.edu", "Wrong12345")
		require.ErrorIs(t, err, entity.ErrInvalidCredentials)
	}
	_, _, err := f.login("u1@school.edu", goodPassword)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, _, err = f.login("u1@school.edu", "Wrong12345")
		require.ErrorIs(t, err, entity.ErrInvalidCredentials)
	}

	_, _, err = f.login("u1@school.edu", goodPassword)
	require.Error(t, err)
	assert.True(t, errors.Is(err, entity.ErrAccountLocked))
	assert.Equal(t, application.OutcomeLocked, application.OutcomeOf(err))

	stored, err := f.repo.FindByEmail(context.Background(), entity.EmailAddress("u1@school.edu"))
	require.NoError(t, err)
	assert.Equal(t, 5, stored.FailedLoginCount(), "a locked attempt leaves the counter alone")

	f.clock.Advance(entity.DefaultLockoutDuration + time.Second)
	_, _, err = f.login("u1@school.edu", goodPassword)
	require.NoError(t, err)
}

func TestLoginRateLimitedPerAddress(t *testing.T) {
	f := newFixture(t, withLimits(3, 0))
	f.register(t, "parent@school.edu", entity.RoleParent, "school-1")

	for i := 0; i < 3; i++ {
		_, _, err := f.login("parent@school.edu", "Wrong12345")
		require.ErrorIs(t, err, entity.ErrInvalidCredentials)
	}
	_, _, err := f.login("parent@school.edu", goodPassword)
	require.Error(t, err)
	assert.True(t, errors.Is(err, entity.ErrRateLimited))
	assert.Equal(t, application.OutcomeRateLimited, application.OutcomeOf(err))

	// Another address is unaffected.
	_, _, err = f.svc.Login(context.Background(), application.LoginInput{
		Email: "parent@school.edu", Password: goodPassword, SourceAddress: "198.51.100.7",
	})
	require.NoError(t, err)
}

type failingLimiter struct{}

func (failingLimiter) TooManyAttempts(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}
func (failingLimiter) RegisterAttempt(context.Context, string, time.Time) error {
	return errors.New("redis down")
}
func (failingLimiter) IsSuspiciousAddress(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestLoginDegradesWhenLimiterFails(t *testing.T) {
	f := newFixture(t, withLimiter(failingLimiter{}))
	f.register(t, "parent@school.edu", entity.RoleParent, "school-1")

	_, _, err := f.login("parent@school.edu", goodPassword)
	require.NoError(t, err)
}

func TestLoginInactiveAccountIsGeneric(t *testing.T) {
	f := newFixture(t)
	info := f.register(t, "parent@school.edu", entity.RoleParent, "school-1")
	root := application.Principal{UserID: "root", Role: entity.MustRole(entity.RoleSuperAdmin)}
	_, err := f.svc.SetActive(context.Background(), root, info.ID, false)
	require.NoError(t, err)

	_, _, err = f.login("parent@school.edu", goodPassword)
	require.ErrorIs(t, err, entity.ErrInvalidCredentials)
}

func TestLoginFlagsSuspiciousAddress(t *testing.T) {
	f := newFixture(t, withLimits(50, 2))
	f.register(t, "parent@school.edu", entity.RoleParent, "school-1")

	_, _, err := f.login("parent@school.edu", "Wrong12345")
	require.Error(t, err)
	_, _, err = f.login("parent@school.edu", goodPassword)
	require.NoError(t, err)

	var flagged bool
	for _, e := range f.events.all() {
		if e.Type == entity.EventUserLoggedIn && e.Data["suspicious_address"] == true {
			flagged = true
		}
	}
	assert.True(t, flagged)
}

func TestLoginExpiresStaleSessions(t *testing.T) {
	f := newFixture(t)
	f.register(t, "parent@school.edu", entity.RoleParent, "school-1")

	first, pair, err := f.login("parent@school.edu", goodPassword)
	require.NoError(t, err)
	f.clock.Advance(f.cfg.SessionMaxIdle + time.Minute)
	_, _, err = f.login("parent@school.edu", goodPassword)
	require.NoError(t, err)

	sessions, err := f.svc.ListSessions(context.Background(), first.User.ID, "")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.False(t, sessions[1].Active, "the idle session was ended")
	assert.Equal(t, first.SessionID, sessions[1].ID)

	_, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, entity.ErrInvalidToken)
}

func TestLoginReportsExpiredPassword(t *testing.T) {
	f := newFixture(t)
	f.register(t, "parent@school.edu", entity.RoleParent, "school-1")
	f.clock.Advance(f.cfg.PasswordMaxAge + time.Hour)

	res, _, err := f.login("parent@school.edu", goodPassword)
	require.NoError(t, err)
	assert.True(t, res.PasswordExpired)
}

// The A/B scenario: A is rotated into B; replaying A fails and also revokes B.
func TestRefreshRotationAndReplay(t *testing.T) {
	f := newFixture(t)
	f.register(t, "parent@school.edu", entity.RoleParent, "school-1")
	res, a, err := f.login("parent@school.edu", goodPassword)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	b, uid, err := f.svc.Refresh(context.Background(), a.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, uid)
	assert.NotEqual(t, a.RefreshToken, b.RefreshToken)
	assert.Equal(t, res.SessionID, f.principal(t, b).SessionID, "rotation keeps the session")

	_, _, err = f.svc.Refresh(context.Background(), a.RefreshToken)
	require.Error(t, err)
	assert.True(t, errors.Is(err, entity.ErrInvalidRefreshToken))

	_, _, err = f.svc.Refresh(context.Background(), b.RefreshToken)
	assert.True(t, errors.Is(err, entity.ErrInvalidRefreshToken), "replay revokes the successor")
}

func TestRefreshRejectsGarbageAndEndedSessions(t *testing.T) {
	f := newFixture(t)
	f.register(t, "parent@school.edu", entity.RoleParent, "school-1")
	res, pair, err := f.login("parent@school.edu", goodPassword)
	require.NoError(t, err)

	_, _, err = f.svc.Refresh(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, entity.ErrInvalidRefreshToken)

	require.NoError(t, f.svc.Logout(context.Background(), res.User.ID, res.SessionID))
	_, _, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, entity.ErrInvalidRefreshToken)
}

func TestRefreshEndsIdleSession(t *testing.T) {
	f := newFixture(t)
	f.register(t, "parent@school.edu", entity.RoleParent, "school-1")
	res, pair, err := f.login("parent@school.edu", goodPassword)
	require.NoError(t, err)

	f.clock.Advance(f.cfg.SessionMaxIdle + time.Minute)
	_, _, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, entity.ErrInvalidRefreshToken)

	sessions, err := f.svc.ListSessions(context.Background(), res.User.ID, "")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].Active)

	var reason any
	for _, e := range f.events.all() {
		if e.Type == entity.EventSessionEnded && e.SessionID == res.SessionID {
			reason = e.Data["reason"]
		}
	}
	assert.Equal(t, "idle", reason)

	// The token was cleared, so a second attempt is a plain rejection.
	_, _, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, entity.ErrInvalidRefreshToken)
}

func TestRefreshEndsSessionPastMaxDuration(t *testing.T) {
	f := newFixture(t)
	f.register(t, "parent@school.edu", entity.RoleParent, "school-1")
	_, pair, err := f.login("parent@school.edu", goodPassword)
	require.NoError(t, err)

	// Refreshing every 20 minutes keeps the session from idling out.
	for elapsed := 20 * time.Minute; elapsed <= f.cfg.SessionMaxDuration; elapsed += 20 * time.Minute {
		f.clock.Advance(20 * time.Minute)
		pair, _, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
		require.NoError(t, err, "refresh at %s", elapsed)
	}

	f.clock.Advance(20 * time.Minute)
	_, _, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, entity.ErrInvalidRefreshToken)
}

func TestAuthenticateRejectsStaleSession(t *testing.T) {
	f := newFixture(t, withAccessTTL(24*time.Hour))
	f.register(t, "parent@school.edu", entity.RoleParent, "school-1")
	_, pair, err := f.login("parent@school.edu", goodPassword)
	require.NoError(t, err)

	f.clock.Advance(f.cfg.SessionMaxIdle - time.Minute)
	f.principal(t, pair)

	f.clock.Advance(2 * time.Minute)
	_, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, entity.ErrInvalidToken)
	assert.Equal(t, "AUTH_SESSION_EXPIRED", entity.CodeOf(err))
}

func TestStoreCallsAreBounded(t *testing.T) {
	f := newFixture(t, withRepo(stallingRepo{memory.NewUserRepository()}), withStoreTimeout(50*time.Millisecond))

	start := time.Now()
	_, _, err := f.login("parent@school.edu", goodPassword)
	require.Error(t, err)
	assert.Equal(t, entity.KindTransient, entity.KindOf(err))
	assert.Equal(t, "AUTH_STORE_TIMEOUT", entity.CodeOf(err))
	assert.Less(t, time.Since(start), time.Second)

	start = time.Now()
	_, err = f.svc.Register(context.Background(), nil, application.RegisterInput{
		FirstName: "Pat", LastName: "Parent", Email: "pat@school.edu",
		Password: goodPassword, Role: "PARENT", SchoolID: "school-1",
	})
	require.Error(t, err)
	assert.Equal(t, "AUTH_STORE_TIMEOUT", entity.CodeOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRefreshExpired(t *testing.T) {
	f := newFixture(t)
	f.register(t, "parent@school.edu", entity.RoleParent, "school-1")
	_, pair, err := f.login("parent@school.edu", goodPassword)
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	_, _, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, entity.ErrInvalidRefreshToken)
}

func TestLogoutIsIdempotentAndRevokesAccess(t *testing.T) {
	f := newFixture(t)
	f.register(t, "parent@school.edu", entity.RoleParent, "school-1")
	res, pair, err := f.login("parent@school.edu", goodPassword)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(context.Background(), res.User.ID, res.SessionID))
	require.NoError(t, f.svc.Logout(context.Background(), res.User.ID, res.SessionID))

	_, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, entity.ErrInvalidToken)

	err = f.svc.Logout(context.Background(), res.User.ID, "missing")
	assert.ErrorIs(t, err, entity.ErrSessionNotFound)
}

// sessionsEnded reads the sessions-ended counter for reason from the default registry.
func sessionsEnded(t *testing.T, reason string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "school_auth_sessions_ended_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "reason" && lp.GetValue() == reason {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestEndedSessionsAreCountedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "parent@school.edu", entity.RoleParent, "school-1")
	res, _, err := f.login("parent@school.edu", goodPassword)
	require.NoError(t, err)

	logouts := sessionsEnded(t, "logout")
	require.NoError(t, f.svc.Logout(ctx, res.User.ID, res.SessionID))
	require.NoError(t, f.svc.Logout(ctx, res.User.ID, res.SessionID))
	assert.Equal(t, logouts+1, sessionsEnded(t, "logout"))

	revoked := sessionsEnded(t, "revoked")
	require.NoError(t, f.svc.RevokeSession(ctx, res.User.ID, res.SessionID))
	assert.Equal(t, revoked, sessionsEnded(t, "revoked"), "the session had already ended")
}

func TestLogoutWithRefreshToken(t *testing.T) {
	f := newFixture(t)
	f.register(t, "parent@school.edu", entity.RoleParent, "school-1")
	_, pair, err := f.login("parent@school.edu", goodPassword)
	require.NoError(t, err)

	require.NoError(t, f.svc.LogoutWithRefreshToken(context.Background(), pair.RefreshToken))
	require.NoError(t, f.svc.LogoutWithRefreshToken(context.Background(), pair.RefreshToken))
	require.NoError(t, f.svc.LogoutWithRefreshToken(context.Background(), "garbage"))

	_, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, entity.ErrInvalidToken)
	_, _, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, entity.ErrInvalidRefreshToken)
}

func TestLogoutAll(t *testing.T) {
	f := newFixture(t)
	f.register(t, "parent@school.edu", entity.RoleParent, "school-1")
	res, first, err := f.login("parent@school.edu", goodPassword)
	require.NoError(t, err)
	_, second, err := f.login("parent@school.edu", goodPassword)
	require.NoError(t, err)

	ended, err := f.svc.LogoutAll(context.Background(), res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, ended)

	for _, pair := range []application.TokenPair{first, second} {
		_, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
		assert.ErrorIs(t, err, entity.ErrInvalidToken)
	}
	_, _, err = f.svc.Refresh(context.Background(), second.RefreshToken)
	assert.ErrorIs(t, err, entity.ErrInvalidRefreshToken)

	ended, err = f.svc.LogoutAll(context.Background(), res.User.ID)
	require.NoError(t, err)
	assert.Zero(t, ended)
}

func TestConcurrentUpdateIsRetriedOnce(t *testing.T) {
	inner := memory.NewUserRepository()
	conflicting := &conflictingRepo{UserRepository: inner}
	f := newFixture(t, withRepo(conflicting))
	f.register(t, "parent@school.edu", entity.RoleParent, "school-1")
	res, _, err := f.login("parent@school.edu", goodPassword)
	require.NoError(t, err)

	conflicting.conflicts = 1
	conflicting.saves = 0
	ended, err := f.svc.LogoutAll(context.Background(), res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, ended)
	assert.Equal(t, 2, conflicting.saves)

	conflicting.conflicts = 5
	conflicting.saves = 0
	_, _, err = f.login("parent@school.edu", goodPassword)
	require.Error(t, err)
	assert.Equal(t, entity.KindTransient, entity.KindOf(err))
	assert.Equal(t, "AUTH_CONCURRENT_UPDATE", entity.CodeOf(err))
	assert.Equal(t, 2, conflicting.saves)
}
