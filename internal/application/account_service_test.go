package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/go-ddd-school-auth/internal/application"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/policy"
)

func TestRegisterSelfService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	info, err := f.svc.Register(ctx, nil, application.RegisterInput{
		FirstName: "Ada", LastName: "Parent", Email: "Ada@Example.org",
		Password: goodPassword, Role: "parent", SchoolID: "school-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.org", info.Email)
	assert.Equal(t, "PARENT", info.Role)
	assert.False(t, info.EmailConfirmed)
	assert.True(t, hasEvent(f.events.all(), entity.EventUserRegistered))

	mail, ok := f.notifier.last("confirm")
	require.True(t, ok, "registration sends a confirmation link")
	assert.Equal(t, "ada@example.org", mail.email)

	_, err = f.svc.Register(ctx, nil, application.RegisterInput{
		FirstName: "Eve", LastName: "Admin", Email: "eve@example.org",
		Password: goodPassword, Role: "SCHOOL_ADMIN", SchoolID: "school-1",
	})
	assert.ErrorIs(t, err, entity.ErrForbidden)
}

func TestRegisterRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "taken@example.org", entity.RoleParent, "school-1")

	cases := []struct {
		name string
		in   application.RegisterInput
		kind string
	}{
		{"missing school", application.RegisterInput{FirstName: "A", LastName: "B", Email: "a@example.org", Password: goodPassword, Role: "STUDENT"}, entity.KindValidation},
		{"bad email", application.RegisterInput{FirstName: "A", LastName: "B", Email: "nope", Password: goodPassword, Role: "STUDENT", SchoolID: "s"}, entity.KindValidation},
		{"unknown role", application.RegisterInput{FirstName: "A", LastName: "B", Email: "a@example.org", Password: goodPassword, Role: "JANITOR", SchoolID: "s"}, entity.KindValidation},
		{"weak password", application.RegisterInput{FirstName: "A", LastName: "B", Email: "a@example.org", Password: "short", Role: "STUDENT", SchoolID: "s"}, entity.KindPolicy},
		{"duplicate email", application.RegisterInput{FirstName: "A", LastName: "B", Email: "TAKEN@example.org", Password: goodPassword, Role: "STUDENT", SchoolID: "s"}, entity.KindConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, nil, tc.in)
			require.Error(t, err)
			assert.Equal(t, tc.kind, entity.KindOf(err))
		})
	}
}

func TestRegisterByActorStaysBelowActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := &application.Principal{UserID: "admin-1", Role: entity.MustRole(entity.RoleSchoolAdmin), SchoolID: "school-1"}

	_, err := f.svc.Register(ctx, admin, application.RegisterInput{
		FirstName: "T", LastName: "One", Email: "t1@example.org", Password: goodPassword, Role: "TEACHER", SchoolID: "school-1",
	})
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, admin, application.RegisterInput{
		FirstName: "T", LastName: "Two", Email: "t2@example.org", Password: goodPassword, Role: "TEACHER", SchoolID: "school-2",
	})
	assert.ErrorIs(t, err, entity.ErrForbidden, "other school")

	_, err = f.svc.Register(ctx, admin, application.RegisterInput{
		FirstName: "A", LastName: "Two", Email: "a2@example.org", Password: goodPassword, Role: "SCHOOL_ADMIN", SchoolID: "school-1",
	})
	assert.ErrorIs(t, err, entity.ErrForbidden, "same level")
}

func TestChangePasswordEndsSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "parent@school.edu", entity.RoleParent, "school-1")
	res, pair, err := f.login("parent@school.edu", goodPassword)
	require.NoError(t, err)

	err = f.svc.ChangePassword(ctx, res.User.ID, application.ChangePasswordInput{
		CurrentPassword: "Wrong12345", NewPassword: otherPassword, Confirmation: otherPassword,
	})
	assert.ErrorIs(t, err, entity.ErrInvalidCredentials)

	err = f.svc.ChangePassword(ctx, res.User.ID, application.ChangePasswordInput{
		CurrentPassword: goodPassword, NewPassword: otherPassword, Confirmation: "Different99",
	})
	require.Error(t, err)
	assert.Equal(t, []string{policy.ViolationMismatch}, entity.ContextOf(err)["violations"])

	err = f.svc.ChangePassword(ctx, res.User.ID, application.ChangePasswordInput{
		CurrentPassword: goodPassword, NewPassword: goodPassword, Confirmation: goodPassword,
	})
	require.Error(t, err)
	assert.Equal(t, "AUTH_PASSWORD_UNCHANGED", entity.CodeOf(err))

	err = f.svc.ChangePassword(ctx, res.User.ID, application.ChangePasswordInput{
		CurrentPassword: goodPassword, NewPassword: otherPassword, Confirmation: otherPassword,
	})
	require.NoError(t, err)

	_, err = f.svc.Authenticate(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, entity.ErrInvalidToken)
	_, _, err = f.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, entity.ErrInvalidRefreshToken)

	_, _, err = f.login("parent@school.edu", goodPassword)
	assert.ErrorIs(t, err, entity.ErrInvalidCredentials)
	_, _, err = f.login("parent@school.edu", otherPassword)
	assert.NoError(t, err)
}

func TestForgotAndResetPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "u1@school.edu", entity.RoleStudent, "school-1")
	for i := 0; i < entity.DefaultLockoutThreshold; i++ {
		_, _, _ = f.login("u1@school.edu", "Wrong12345")
	}
	_, _, err := f.login("u1@school.edu", goodPassword)
	require.ErrorIs(t, err, entity.ErrAccountLocked)

	require.NoError(t, f.svc.ForgotPassword(ctx, "nobody@school.edu"), "unknown emails succeed silently")
	_, sent := f.notifier.last("reset")
	assert.False(t, sent)

	require.NoError(t, f.svc.ForgotPassword(ctx, "U1@school.edu"))
	mail, sent := f.notifier.last("reset")
	require.True(t, sent)

	in := application.ResetPasswordInput{Email: "u1@school.edu", Token: mail.token, NewPassword: otherPassword, Confirmation: otherPassword}
	require.NoError(t, f.svc.ResetPassword(ctx, in))

	err = f.svc.ResetPassword(ctx, in)
	require.ErrorIs(t, err, entity.ErrInvalidToken, "tokens are single use")
	assert.Equal(t, entity.KindValidation, entity.KindOf(err))

	_, _, err = f.login("u1@school.edu", otherPassword)
	require.NoError(t, err, "a reset lifts the lockout")
}

func TestResetPasswordRejectsForeignToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@school.edu", entity.RoleParent, "school-1")
	f.register(t, "b@school.edu", entity.RoleParent, "school-1")

	require.NoError(t, f.svc.ForgotPassword(ctx, "a@school.edu"))
	mail, _ := f.notifier.last("reset")

	err := f.svc.ResetPassword(ctx, application.ResetPasswordInput{
		Email: "b@school.edu", Token: mail.token, NewPassword: otherPassword, Confirmation: otherPassword,
	})
	assert.ErrorIs(t, err, entity.ErrInvalidToken)
}

func TestEmailConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	info := f.register(t, "parent@school.edu", entity.RoleParent, "school-1")

	sent, err := f.svc.SendEmailConfirmation(ctx, info.ID)
	require.NoError(t, err)
	assert.True(t, sent)
	mail, _ := f.notifier.last("confirm")

	assert.ErrorIs(t, f.svc.ConfirmEmail(ctx, "parent@school.edu", "bogus"), entity.ErrInvalidToken)
	require.NoError(t, f.svc.ConfirmEmail(ctx, "parent@school.edu", mail.token))

	me, err := f.svc.GetCurrentUser(ctx, info.ID)
	require.NoError(t, err)
	assert.True(t, me.EmailConfirmed)

	sent, err = f.svc.SendEmailConfirmation(ctx, info.ID)
	require.NoError(t, err)
	assert.False(t, sent, "confirmed addresses get no new link")
}

func TestCheckEmailAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "parent@school.edu", entity.RoleParent, "school-1")

	free, err := f.svc.CheckEmailAvailable(ctx, "PARENT@school.edu")
	require.NoError(t, err)
	assert.False(t, free)

	free, err = f.svc.CheckEmailAvailable(ctx, "other@school.edu")
	require.NoError(t, err)
	assert.True(t, free)

	_, err = f.svc.CheckEmailAvailable(ctx, "broken")
	assert.Equal(t, entity.KindValidation, entity.KindOf(err))
}

func TestValidatePasswordStrength(t *testing.T) {
	f := newFixture(t)
	report := f.svc.ValidatePasswordStrength(context.Background(), "password")
	assert.False(t, report.Acceptable)
	assert.Contains(t, report.Violations, policy.ViolationNoUpper)

	report = f.svc.ValidatePasswordStrength(context.Background(), "Tr4ffic-Lantern-Oak")
	assert.True(t, report.Acceptable)
}

func TestListAndRevokeSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "parent@school.edu", entity.RoleParent, "school-1")
	first, _, err := f.login("parent@school.edu", goodPassword)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, pair, err := f.login("parent@school.edu", goodPassword)
	require.NoError(t, err)

	sessions, err := f.svc.ListSessions(ctx, first.User.ID, second.SessionID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.SessionID, sessions[0].ID)
	assert.True(t, sessions[0].Current)
	assert.False(t, sessions[1].Current)

	require.NoError(t, f.svc.RevokeSession(ctx, first.User.ID, first.SessionID))
	assert.ErrorIs(t, f.svc.RevokeSession(ctx, first.User.ID, "nope"), entity.ErrSessionNotFound)

	sessions, err = f.svc.ListSessions(ctx, first.User.ID, "")
	require.NoError(t, err)
	assert.False(t, sessions[1].Active)
	assert.True(t, sessions[0].Active)
	f.principal(t, pair)
}
