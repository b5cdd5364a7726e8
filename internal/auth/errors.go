package auth

import (
	"errors"
	"fmt"
	"time"
)

// Every failure leaving the engine is one of these sentinels (or a typed
// error that matches one via Is). Raw cache and codec errors never cross
// the package boundary.
var (
	// ErrInvalidCredentials covers both unknown user and wrong password,
	// so responses cannot be used to enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenMissing is returned when no bearer token was presented.
	ErrTokenMissing = errors.New("token missing")
	// ErrTokenExpired is returned for a well-formed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for malformed tokens, bad signatures,
	// and wrong-audience tokens.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenRevoked is returned when a token is blacklisted, carries a
	// stale version, or predates a password change.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrAccountLocked is returned while a brute-force lockout is active.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled is returned for deactivated accounts.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountUnverified is returned when an operation requires a
	// verified email address.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrEmailTaken is returned when registration collides with an
	// existing account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrForbidden is returned when the caller's role is outside the
	// allow-set.
	ErrForbidden = errors.New("insufficient role")
	// ErrRateLimited is returned when a fixed-window budget is exhausted.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrSessionNotFound is returned for lookups of absent sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrCSRFInvalid is returned for missing or mismatched CSRF tokens.
	ErrCSRFInvalid = errors.New("csrf token invalid")
	// ErrPasswordReuse is returned when a password change submits the
	// current password as the new one.
	ErrPasswordReuse = errors.New("new password must differ from current password")
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("invalid request")
	// ErrStoreUnavailable is returned when the credential store cannot be
	// reached. Unlike cache outages this surfaces as a 503.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// LockedError reports an active lockout together with when it lifts.
// It matches ErrAccountLocked under errors.Is.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// RetryAfter is the remaining lockout duration, never negative.
func (e *LockedError) RetryAfter() time.Duration {
	d := time.Until(e.Until)
	if d < 0 {
		return 0
	}
	return d
}

// RateLimitError carries the window state for response headers. It
// matches ErrRateLimited under errors.Is.
type RateLimitError struct {
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }
