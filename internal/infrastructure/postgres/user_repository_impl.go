package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/repository"
)

// DB is the subset of *pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type UserRepository struct {
	db DB
}

func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

const selectUser = `
	SELECT id, first_name, last_name, email, password_hash, password_changed_at,
	       role_code, role_level, school_id, active, email_confirmed,
	       failed_login_count, locked_until, last_login_at,
	       refresh_token_digest, refresh_token_expires_at,
	       version, created_at, updated_at
	FROM users`

const selectSessions = `
	SELECT id, user_id, source_address, user_agent, started_at, last_activity_at, ended_at, active
	FROM user_sessions
	WHERE user_id = $1
	ORDER BY started_at, id`

func (r *UserRepository) FindByID(ctx context.Context, id string) (*entity.User, error) {
	return r.find(ctx, selectUser+` WHERE id = $1`, id)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email entity.EmailAddress) (*entity.User, error) {
	return r.find(ctx, selectUser+` WHERE email = $1`, email.String())
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email entity.EmailAddress) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email.String()).Scan(&exists)
	return exists, err
}

func (r *UserRepository) find(ctx context.Context, query string, arg any) (*entity.User, error) {
	var (
		st       entity.UserState
		schoolID *string
		refresh  *string
	)
	row := r.db.QueryRow(ctx, query, arg)
	if err := row.Scan(
		&st.ID, &st.FirstName, &st.LastName, &st.Email, &st.PasswordHash, &st.PasswordChanged,
		&st.RoleCode, &st.RoleLevel, &schoolID, &st.Active, &st.EmailConfirmed,
		&st.FailedLoginCount, &st.LockedUntil, &st.LastLoginAt,
		&refresh, &st.RefreshExpiresAt,
		&st.Version, &st.CreatedAt, &st.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if schoolID != nil {
		st.SchoolID = *schoolID
	}
	if refresh != nil {
		st.RefreshToken = *refresh
	}

	sessions, err := r.sessions(ctx, st.ID)
	if err != nil {
		return nil, err
	}
	st.Sessions = sessions
	return entity.RestoreUser(st), nil
}

func (r *UserRepository) sessions(ctx context.Context, userID string) ([]entity.SessionState, error) {
	rows, err := r.db.Query(ctx, selectSessions, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.SessionState
	for rows.Next() {
		var s entity.SessionState
		if err := rows.Scan(&s.ID, &s.UserID, &s.SourceAddress, &s.UserAgent, &s.StartedAt, &s.LastActivityAt, &s.EndedAt, &s.Active); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Save writes the user row and upserts every session in one transaction.
func (r *UserRepository) Save(ctx context.Context, u *entity.User) (err error) {
	st := u.State()
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	next := st.Version + 1
	if st.Version == 0 {
		err = insertUser(ctx, tx, st)
	} else {
		err = updateUser(ctx, tx, st)
	}
	if err != nil {
		return err
	}
	for _, s := range st.Sessions {
		if err = upsertSession(ctx, tx, s); err != nil {
			return err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return err
	}
	u.SetVersion(next)
	return nil
}

func insertUser(ctx context.Context, tx pgx.Tx, st entity.UserState) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO users (id, first_name, last_name, email, password_hash, password_changed_at,
			role_code, role_level, school_id, active, email_confirmed,
			failed_login_count, locked_until, last_login_at,
			refresh_token_digest, refresh_token_expires_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1, $17, $18)
	`, st.ID, st.FirstName, st.LastName, st.Email, st.PasswordHash, st.PasswordChanged,
		st.RoleCode, st.RoleLevel, nullable(st.SchoolID), st.Active, st.EmailConfirmed,
		st.FailedLoginCount, st.LockedUntil, st.LastLoginAt,
		nullable(st.RefreshToken), st.RefreshExpiresAt, st.CreatedAt, st.UpdatedAt)
	if isDuplicateEmail(err) {
		return repository.ErrDuplicateEmail
	}
	return err
}

func updateUser(ctx context.Context, tx pgx.Tx, st entity.UserState) error {
	tag, err := tx.Exec(ctx, `
		UPDATE users
		SET first_name = $3, last_name = $4, email = $5, password_hash = $6, password_changed_at = $7,
			role_code = $8, role_level = $9, school_id = $10, active = $11, email_confirmed = $12,
			failed_login_count = $13, locked_until = $14, last_login_at = $15,
			refresh_token_digest = $16, refresh_token_expires_at = $17,
			updated_at = $18, version = version + 1
		WHERE id = $1 AND version = $2
	`, st.ID, st.Version, st.FirstName, st.LastName, st.Email, st.PasswordHash, st.PasswordChanged,
		st.RoleCode, st.RoleLevel, nullable(st.SchoolID), st.Active, st.EmailConfirmed,
		st.FailedLoginCount, st.LockedUntil, st.LastLoginAt,
		nullable(st.RefreshToken), st.RefreshExpiresAt, st.UpdatedAt)
	if isDuplicateEmail(err) {
		return repository.ErrDuplicateEmail
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConcurrentUpdate
	}
	return nil
}

// upsertSession never reactivates a session: the ended columns only move
// from active to inactive.
func upsertSession(ctx context.Context, tx pgx.Tx, s entity.SessionState) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO user_sessions (id, user_id, source_address, user_agent, started_at, last_activity_at, ended_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET last_activity_at = GREATEST(user_sessions.last_activity_at, EXCLUDED.last_activity_at),
			ended_at = COALESCE(user_sessions.ended_at, EXCLUDED.ended_at),
			active = user_sessions.active AND EXCLUDED.active
	`, s.ID, s.UserID, s.SourceAddress, s.UserAgent, s.StartedAt, s.LastActivityAt, s.EndedAt, s.Active)
	return err
}

// emailConstraint is the unique constraint on users.email (000001_create_users).
const emailConstraint = "users_email_key"

// isDuplicateEmail reports a unique violation of the email constraint only;
// other collisions, such as a primary key, surface as plain errors.
func isDuplicateEmail(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == emailConstraint
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// PurgeEndedSessions deletes sessions that ended before cutoff.
func (r *UserRepository) PurgeEndedSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_sessions WHERE active = false AND ended_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ repository.UserRepository = (*UserRepository)(nil)
