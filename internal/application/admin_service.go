package application

import (
	"context"
	"time"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
	"github.com/oksasatya/go-ddd-school-auth/internal/observability/metrics"
)

func forbidden(kv ...any) error {
	return entity.PolicyViolation("AUTH_FORBIDDEN", entity.ErrForbidden, kv...)
}

// canAssign reports whether actor may hand out role inside schoolID.
func canAssign(actor Principal, role entity.Role, schoolID string) bool {
	if actor.Role.IsTop() {
		return true
	}
	if !actor.Role.AtLeast(entity.MustRole(entity.RoleSchoolAdmin)) {
		return false
	}
	return role.Level < actor.Role.Level && actor.SchoolID != "" && actor.SchoolID == schoolID
}

// canManage reports whether actor may administer target. Nobody manages
// themselves through the admin operations.
func canManage(actor Principal, target *entity.User) bool {
	if actor.UserID == target.ID() {
		return false
	}
	if actor.Role.IsTop() {
		return true
	}
	if !actor.Role.AtLeast(entity.MustRole(entity.RoleSchoolAdmin)) {
		return false
	}
	return target.Role().Level < actor.Role.Level && actor.SchoolID != "" && actor.SchoolID == target.SchoolID()
}

// ChangeRole assigns a new role to userID. Every session of the target ends.
func (s *Service) ChangeRole(ctx context.Context, actor Principal, userID, roleCode string) (*UserInfo, error) {
	role, err := entity.RoleFor(roleCode)
	if err != nil {
		return nil, err
	}
	u, err := s.mutate(ctx, s.byID(userID), nil, func(u *entity.User, now time.Time) error {
		if !canManage(actor, u) || !canAssign(actor, role, u.SchoolID()) {
			return forbidden("user_id", userID, "role", role.String())
		}
		ended := len(u.ActiveSessions())
		changed, cErr := u.ChangeRole(role, now)
		if cErr != nil {
			return cErr
		}
		if changed {
			metrics.ObserveSessionsEnded("role_change", ended)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	info := toUserInfo(u)
	return &info, nil
}

// SetActive activates or soft-deactivates userID.
func (s *Service) SetActive(ctx context.Context, actor Principal, userID string, active bool) (*UserInfo, error) {
	u, err := s.mutate(ctx, s.byID(userID), nil, func(u *entity.User, now time.Time) error {
		if !canManage(actor, u) {
			return forbidden("user_id", userID)
		}
		if active {
			u.Activate(now)
			return nil
		}
		metrics.ObserveSessionsEnded("deactivated", len(u.ActiveSessions()))
		u.Deactivate(now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	info := toUserInfo(u)
	return &info, nil
}

// Unlock clears the lockout of userID.
func (s *Service) Unlock(ctx context.Context, actor Principal, userID string) (*UserInfo, error) {
	u, err := s.mutate(ctx, s.byID(userID), nil, func(u *entity.User, now time.Time) error {
		if !canManage(actor, u) {
			return forbidden("user_id", userID)
		}
		u.Unlock(now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	info := toUserInfo(u)
	return &info, nil
}
