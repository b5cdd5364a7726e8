package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/trailversedev/trailverse/internal/auth"
)

// Stable machine-readable error codes. Clients key off these, never off
// the human-readable message.
const (
	CodeTokenMissing       = "TOKEN_MISSING"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeTokenInvalid       = "TOKEN_INVALID"
	CodeTokenRevoked       = "TOKEN_REVOKED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAccountLocked      = "ACCOUNT_LOCKED"
	CodeAccountDisabled    = "ACCOUNT_DISABLED"
	CodeAccountUnverified  = "ACCOUNT_UNVERIFIED"
	CodeForbidden          = "FORBIDDEN"
	CodeCSRFInvalid        = "CSRF_INVALID"
	CodeEmailTaken         = "EMAIL_TAKEN"
	CodePasswordReuse      = "PASSWORD_REUSE"
	CodeValidation         = "VALIDATION_ERROR"
	CodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeUnavailable        = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// respondError classifies an engine error into status, code, and
// message. Locked and rate-limited responses additionally carry
// Retry-After and structured data.
func respondError(w http.ResponseWriter, err error) {
	var locked *auth.LockedError
	if errors.As(err, &locked) {
		w.Header().Set("Retry-After", strconv.Itoa(int(locked.RetryAfter().Seconds())+1))
		writeJSON(w, http.StatusLocked, envelope{
			Success: false,
			Error:   "account temporarily locked",
			Code:    CodeAccountLocked,
			// Nano precision: RFC3339 truncates to whole seconds, which
			// would report sub-second lockout tails as already expired.
			Data: map[string]string{"lockoutExpires": locked.Until.UTC().Format(time.RFC3339Nano)},
		})
		return
	}

	var limited *auth.RateLimitError
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", strconv.Itoa(int(limited.RetryAfter.Seconds())+1))
		writeJSON(w, http.StatusTooManyRequests, envelope{
			Success: false,
			Error:   "too many requests",
			Code:    CodeRateLimited,
		})
		return
	}

	status, code, msg := classify(err)
	writeJSON(w, status, envelope{Success: false, Error: msg, Code: code})
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, auth.ErrTokenMissing):
		return http.StatusUnauthorized, CodeTokenMissing, "authentication required"
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized, CodeTokenExpired, "token expired"
	case errors.Is(err, auth.ErrTokenRevoked):
		return http.StatusUnauthorized, CodeTokenRevoked, "token revoked"
	case errors.Is(err, auth.ErrTokenInvalid):
		return http.StatusUnauthorized, CodeTokenInvalid, "token invalid"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, CodeInvalidCredentials, "invalid credentials"
	case errors.Is(err, auth.ErrAccountLocked):
		return http.StatusLocked, CodeAccountLocked, "account temporarily locked"
	case errors.Is(err, auth.ErrAccountDisabled):
		return http.StatusForbidden, CodeAccountDisabled, "account disabled"
	case errors.Is(err, auth.ErrAccountUnverified):
		return http.StatusForbidden, CodeAccountUnverified, "email not verified"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, CodeForbidden, "insufficient permissions"
	case errors.Is(err, auth.ErrCSRFInvalid):
		return http.StatusForbidden, CodeCSRFInvalid, "csrf token missing or invalid"
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict, CodeEmailTaken, "email already registered"
	case errors.Is(err, auth.ErrPasswordReuse):
		return http.StatusBadRequest, CodePasswordReuse, "new password must differ from current password"
	case errors.Is(err, auth.ErrValidation):
		return http.StatusBadRequest, CodeValidation, err.Error()
	case errors.Is(err, auth.ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited, "too many requests"
	case errors.Is(err, auth.ErrSessionNotFound):
		return http.StatusNotFound, CodeSessionNotFound, "session not found"
	case errors.Is(err, auth.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, CodeUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, CodeInternal, "internal error"
	}
}
