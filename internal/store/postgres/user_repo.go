package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/trailversedev/trailverse/internal/store"
)

const userColumns = `id, email, password_hash, role, is_verified, is_active, password_changed_at, last_login_at, created_at`

// UserRepo implements store.UserStore on PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository over db.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

var _ store.UserStore = (*UserRepo)(nil)

// Create inserts a new user row. A duplicate email maps to
// store.ErrDuplicateEmail.
func (r *UserRepo) Create(ctx context.Context, u *store.User) error {
	const q = `
INSERT INTO users (id, email, password_hash, role, is_verified, is_active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Pool.Exec(ctx, q,
		u.ID, store.NormalizeEmail(u.Email), u.PasswordHash, string(u.Role), u.IsVerified, u.IsActive, u.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// FindByEmail selects a user by normalized email.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*store.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, q, store.NormalizeEmail(email)))
}

// FindByID selects a user by ID.
func (r *UserRepo) FindByID(ctx context.Context, id uuid.UUID) (*store.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, q, id))
}

// UpdateLastLogin stamps a successful login.
func (r *UserRepo) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE users SET last_login_at = $2 WHERE id = $1`
	return r.execOne(ctx, q, id, at)
}

// UpdatePassword replaces the stored hash and records when it changed.
// Tokens issued before changedAt become invalid at the gateway.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uuid.UUID, hash string, changedAt time.Time) error {
	const q = `UPDATE users SET password_hash = $2, password_changed_at = $3 WHERE id = $1`
	return r.execOne(ctx, q, id, hash, changedAt)
}

// Deactivate flips is_active off, keeping the row.
func (r *UserRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE users SET is_active = FALSE WHERE id = $1`
	return r.execOne(ctx, q, id)
}

func (r *UserRepo) execOne(ctx context.Context, q string, args ...any) error {
	tag, err := r.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *UserRepo) scanOne(row pgx.Row) (*store.User, error) {
	var (
		u    store.User
		role string
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &u.IsVerified, &u.IsActive,
		&u.PasswordChangedAt, &u.LastLoginAt, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	u.Role = store.Role(role)
	return &u, nil
}
