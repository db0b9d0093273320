package repository

import (
	"context"
	"errors"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
)

var (
	ErrNotFound         = errors.New("user not found")
	ErrConcurrentUpdate = errors.New("stale user version")
	ErrDuplicateEmail   = errors.New("duplicate email")
)

// UserRepository persists the User aggregate together with its sessions.
// Save inserts when the aggregate has version 0 and otherwise updates only if
// the stored version still matches, bumping it on success.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*entity.User, error)
	FindByEmail(ctx context.Context, email entity.EmailAddress) (*entity.User, error)
	ExistsByEmail(ctx context.Context, email entity.EmailAddress) (bool, error)
	Save(ctx context.Context, u *entity.User) error
}
