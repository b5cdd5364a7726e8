// Package store defines the credential store boundary: the user identity
// model and the operations the auth core requires from durable storage.
// It does not prescribe a storage engine; the postgres subpackage is the
// production implementation.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicateEmail is returned when a registration collides with an
	// existing account.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrUnavailable wraps storage-engine outages. The HTTP layer maps it
	// to 503, unlike cache failures which degrade locally.
	ErrUnavailable = errors.New("credential store unavailable")
)

// Role is the closed authorization enum. Values are compared against
// allow-sets, not ordered.
type Role string

const (
	RoleUser       Role = "USER"
	RolePremium    Role = "PREMIUM"
	RoleRanger     Role = "RANGER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Valid reports whether r is a member of the closed enum.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RolePremium, RoleRanger, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// User is the persisted identity record.
type User struct {
	ID                uuid.UUID
	Email             string
	PasswordHash      string
	Role              Role
	IsVerified        bool
	IsActive          bool
	PasswordChangedAt *time.Time
	LastLoginAt       *time.Time
	CreatedAt         time.Time
}

// UserStore is the credential store boundary consumed by the auth engine.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string, changedAt time.Time) error
	// Deactivate soft-deletes: the row survives for referential integrity
	// while active sessions wind down.
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// NormalizeEmail lowercases and trims an email so lookups and uniqueness
// are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
