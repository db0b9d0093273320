package entity

import (
	"strings"
)

// RoleCode identifies a role on the school platform.
type RoleCode string

const (
	RoleSuperAdmin  RoleCode = "SUPER_ADMIN"
	RoleSchoolAdmin RoleCode = "SCHOOL_ADMIN"
	RoleTeacher     RoleCode = "TEACHER"
	RoleParent      RoleCode = "PARENT"
	RoleStudent     RoleCode = "STUDENT"
)

// TopRoleLevel is the privilege level that is not confined to a school.
const TopRoleLevel = 100

var roleLevels = map[RoleCode]int{
	RoleSuperAdmin:  TopRoleLevel,
	RoleSchoolAdmin: 80,
	RoleTeacher:     50,
	RoleParent:      20,
	RoleStudent:     10,
}

// Role is a code plus a numeric level; levels are comparable for hierarchy.
type Role struct {
	Code  RoleCode
	Level int
}

// RoleFor resolves a role code (case-insensitive) to its Role.
func RoleFor(code string) (Role, error) {
	c := RoleCode(strings.ToUpper(strings.TrimSpace(code)))
	lvl, ok := roleLevels[c]
	if !ok {
		return Role{}, ValidationError("AUTH_INVALID_ROLE", ErrInvalidInput, "role", code)
	}
	return Role{Code: c, Level: lvl}, nil
}

// MustRole is RoleFor for compile-time constants.
func MustRole(code RoleCode) Role {
	r, err := RoleFor(string(code))
	if err != nil {
		panic(err)
	}
	return r
}

// IsTop reports whether the role may act on any school.
func (r Role) IsTop() bool { return r.Level >= TopRoleLevel }

// AtLeast reports whether r is at or above other in the hierarchy.
func (r Role) AtLeast(other Role) bool { return r.Level >= other.Level }

func (r Role) String() string { return string(r.Code) }
