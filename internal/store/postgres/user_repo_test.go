package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/trailversedev/trailverse/internal/store"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func sampleUser() *store.User {
	return &store.User{
		ID:           uuid.New(),
		Email:        "hiker@trailverse.dev",
		PasswordHash: "$argon2id$...",
		Role:         store.RoleUser,
		IsVerified:   false,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestUserRepo_Create_OK_and_DuplicateEmail(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	u := sampleUser()

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(u.ID, u.Email, u.PasswordHash, string(u.Role), u.IsVerified, u.IsActive, u.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, u))

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(u.ID, u.Email, u.PasswordHash, string(u.Role), u.IsVerified, u.IsActive, u.CreatedAt).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, u), store.ErrDuplicateEmail)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Create_NormalizesEmail(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	u := sampleUser()
	u.Email = "  Hiker@Trailverse.DEV "

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(u.ID, "hiker@trailverse.dev", u.PasswordHash, string(u.Role), u.IsVerified, u.IsActive, u.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(context.Background(), u))
	require.NoError(t, mock.ExpectationsWereMet())
}

func userRows(u *store.User) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "email", "password_hash", "role", "is_verified", "is_active",
		"password_changed_at", "last_login_at", "created_at",
	}).AddRow(u.ID, u.Email, u.PasswordHash, string(u.Role), u.IsVerified, u.IsActive,
		u.PasswordChangedAt, u.LastLoginAt, u.CreatedAt)
}

func TestUserRepo_FindByEmail(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	u := sampleUser()

	mock.ExpectQuery(`SELECT .+ FROM users WHERE email = \$1`).
		WithArgs(u.Email).
		WillReturnRows(userRows(u))
	got, err := r.FindByEmail(ctx, "Hiker@Trailverse.dev")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, store.RoleUser, got.Role)

	mock.ExpectQuery(`SELECT .+ FROM users WHERE email = \$1`).
		WithArgs("nobody@trailverse.dev").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.FindByEmail(ctx, "nobody@trailverse.dev")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_FindByID(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	u := sampleUser()

	mock.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1`).
		WithArgs(u.ID).
		WillReturnRows(userRows(u))
	got, err := r.FindByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Email, got.Email)

	missing := uuid.New()
	mock.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1`).
		WithArgs(missing).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.FindByID(ctx, missing)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_UpdatePassword(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	id := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE users SET password_hash = \$2, password_changed_at = \$3 WHERE id = \$1`).
		WithArgs(id, "newhash", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.UpdatePassword(ctx, id, "newhash", at))

	mock.ExpectExec(`UPDATE users SET password_hash = \$2, password_changed_at = \$3 WHERE id = \$1`).
		WithArgs(id, "newhash", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.UpdatePassword(ctx, id, "newhash", at), store.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_UpdateLastLogin_and_Deactivate(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	id := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE users SET last_login_at = \$2 WHERE id = \$1`).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.UpdateLastLogin(ctx, id, at))

	mock.ExpectExec(`UPDATE users SET is_active = FALSE WHERE id = \$1`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.Deactivate(ctx, id))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_StoreOutage(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT .+ FROM users WHERE email = \$1`).
		WithArgs("hiker@trailverse.dev").
		WillReturnError(pgx.ErrTxClosed)
	_, err := r.FindByEmail(ctx, "hiker@trailverse.dev")
	require.ErrorIs(t, err, store.ErrUnavailable)
}
