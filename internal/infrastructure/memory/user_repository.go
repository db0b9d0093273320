package memory

import (
	"context"
	"sync"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/repository"
)

// UserRepository keeps snapshots in memory with the same version semantics
// as the Postgres store. Aggregates handed out are always fresh copies.
type UserRepository struct {
	mu      sync.RWMutex
	byID    map[string]entity.UserState
	byEmail map[string]string
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[string]entity.UserState),
		byEmail: make(map[string]string),
	}
}

func (r *UserRepository) FindByID(_ context.Context, id string) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return entity.RestoreUser(st), nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email entity.EmailAddress) (*entity.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[email.String()]
	r.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.FindByID(ctx, id)
}

func (r *UserRepository) ExistsByEmail(_ context.Context, email entity.EmailAddress) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byEmail[email.String()]
	return ok, nil
}

func (r *UserRepository) Save(_ context.Context, u *entity.User) error {
	st := u.State()
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.byID[st.ID]
	switch {
	case st.Version == 0 && exists:
		return repository.ErrConcurrentUpdate
	case st.Version != 0 && !exists:
		return repository.ErrNotFound
	case exists && current.Version != st.Version:
		return repository.ErrConcurrentUpdate
	}
	if owner, taken := r.byEmail[st.Email]; taken && owner != st.ID {
		return repository.ErrDuplicateEmail
	}
	if exists && current.Email != st.Email {
		delete(r.byEmail, current.Email)
	}

	st.Version++
	r.byID[st.ID] = st
	r.byEmail[st.Email] = st.ID
	u.SetVersion(st.Version)
	return nil
}

var _ repository.UserRepository = (*UserRepository)(nil)
