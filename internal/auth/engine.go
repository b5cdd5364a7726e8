// Package auth composes the token codec, session registry, revocation
// manager, rate limiter, and lockout guard into the engine behind the
// HTTP surface. Every failure leaving this package is classified into
// the sentinel taxonomy in errors.go.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trailversedev/trailverse/internal/audit"
	"github.com/trailversedev/trailverse/internal/csrf"
	"github.com/trailversedev/trailverse/internal/lockout"
	"github.com/trailversedev/trailverse/internal/password"
	"github.com/trailversedev/trailverse/internal/ratelimit"
	"github.com/trailversedev/trailverse/internal/revoke"
	"github.com/trailversedev/trailverse/internal/session"
	"github.com/trailversedev/trailverse/internal/store"
	"github.com/trailversedev/trailverse/internal/token"
)

// TokenPair is the access/refresh pair returned by login and refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// LoginResult bundles what handlers need to respond to a successful
// registration, login, or refresh.
type LoginResult struct {
	User      *store.User
	Tokens    TokenPair
	SessionID string
}

// Engine is the auth core. Construct it with New()...Build(); all
// collaborators are injected and the engine is safe for concurrent use.
type Engine struct {
	config   Config
	codec    *token.Codec
	hasher   *password.Hasher
	sessions *session.Store
	revoker  *revoke.Manager
	limiter  *ratelimit.Limiter
	lockouts *lockout.Guard
	users    store.UserStore
	log      *zap.Logger
	auditor  *audit.Dispatcher
}

// Close drains the audit dispatcher. The Redis client and user store are
// owned by the caller.
func (e *Engine) Close() {
	e.auditor.Close()
}

// AuditDropped reports audit events lost to backpressure.
func (e *Engine) AuditDropped() uint64 {
	return e.auditor.Dropped()
}

// AccessTTL reports the configured access token lifetime.
func (e *Engine) AccessTTL() time.Duration { return e.codec.AccessTTL() }

// RefreshTTL reports the configured refresh token lifetime.
func (e *Engine) RefreshTTL() time.Duration { return e.codec.RefreshTTL() }

// cacheCtx bounds a cache round trip so no request blocks on a slow
// cache indefinitely.
func (e *Engine) cacheCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.CacheTimeout)
}

func (e *Engine) emit(ctx context.Context, ev audit.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if ev.IP == "" {
		ev.IP = clientIPFromContext(ctx)
	}
	e.auditor.Emit(ctx, ev)
}

// Authenticate runs the full verification pipeline for a bearer token
// and returns the authenticated identity. The pipeline order is fixed:
// blacklist, signature/expiry/audience, token version, user record,
// password-change cutoff, then session enrichment.
func (e *Engine) Authenticate(ctx context.Context, tokenStr string) (*Identity, error) {
	if tokenStr == "" {
		return nil, ErrTokenMissing
	}

	// Cheap rejection path before any signature work.
	cctx, cancel := e.cacheCtx(ctx)
	blacklisted, err := e.revoker.IsBlacklisted(cctx, tokenStr)
	cancel()
	if err != nil {
		if !e.config.Revocation.FailOpen {
			e.log.Warn("blacklist lookup failed, rejecting token", zap.Error(err))
			return nil, ErrTokenRevoked
		}
		e.log.Warn("blacklist lookup failed, proceeding open", zap.Error(err))
	} else if blacklisted {
		return nil, ErrTokenRevoked
	}

	claims, err := e.codec.ParseAccess(tokenStr)
	if err != nil {
		return nil, classifyTokenErr(err)
	}

	if err := e.checkVersion(ctx, claims); err != nil {
		return nil, err
	}

	user, err := e.loadSubject(ctx, claims)
	if err != nil {
		return nil, err
	}

	if revokedByPasswordChange(claims, user) {
		return nil, ErrTokenRevoked
	}

	id := &Identity{
		UserID:       user.ID,
		Email:        user.Email,
		Role:         user.Role,
		SessionID:    claims.SessionID,
		TokenVersion: claims.TokenVersion,
		Verified:     user.IsVerified,
	}
	live := e.enrichFromSession(ctx, id)
	if e.config.StrictSessions && !live {
		// Strict deployments treat a vanished session as a revoked login.
		return nil, ErrTokenRevoked
	}

	return id, nil
}

// OptionalAuthenticate runs the same pipeline but swallows every
// failure, for endpoints that personalize without requiring login.
func (e *Engine) OptionalAuthenticate(ctx context.Context, tokenStr string) *Identity {
	id, err := e.Authenticate(ctx, tokenStr)
	if err != nil {
		return nil
	}
	return id
}

// RequireRole is a pure post-check against a caller-supplied allow-set.
func (e *Engine) RequireRole(id *Identity, allowed ...store.Role) error {
	if id == nil {
		return ErrTokenMissing
	}
	if !id.InRoles(allowed...) {
		return ErrForbidden
	}
	return nil
}

// RequireVerified gates operations reserved for accounts that have
// completed email verification.
func (e *Engine) RequireVerified(id *Identity) error {
	if id == nil {
		return ErrTokenMissing
	}
	if !id.Verified {
		return ErrAccountUnverified
	}
	return nil
}

// CheckRateLimit enforces the fixed-window budget for the scope. The
// returned Result carries quota metadata for response headers even when
// the request is allowed. The limiter fails open on cache outages.
func (e *Engine) CheckRateLimit(ctx context.Context, scope ratelimit.Scope, id string) (ratelimit.Result, error) {
	cctx, cancel := e.cacheCtx(ctx)
	defer cancel()

	res, err := e.limiter.Allow(cctx, scope, id)
	if err != nil {
		e.log.Warn("rate limiter unavailable, failing open",
			zap.String("scope", string(scope)), zap.Error(err))
		return res, nil
	}
	if !res.Allowed {
		return res, &RateLimitError{
			Limit:      res.Limit,
			Remaining:  res.Remaining,
			Reset:      res.Reset,
			RetryAfter: res.RetryAfter,
		}
	}
	return res, nil
}

// checkVersion rejects tokens whose embedded version is behind the live
// per-user counter.
func (e *Engine) checkVersion(ctx context.Context, claims *token.Claims) error {
	cctx, cancel := e.cacheCtx(ctx)
	defer cancel()

	live, err := e.revoker.Version(cctx, claims.UserID)
	if err != nil {
		if e.config.Revocation.FailOpen {
			e.log.Warn("version lookup failed, proceeding open", zap.Error(err))
			return nil
		}
		e.log.Warn("version lookup failed, rejecting token", zap.Error(err))
		return ErrTokenRevoked
	}
	if claims.TokenVersion < live {
		return ErrTokenRevoked
	}
	return nil
}

// loadSubject resolves the token subject to a live user record.
func (e *Engine) loadSubject(ctx context.Context, claims *token.Claims) (*store.User, error) {
	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	user, err := e.users.FindByID(ctx, uid)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	return user, nil
}

func revokedByPasswordChange(claims *token.Claims, user *store.User) bool {
	if user.PasswordChangedAt == nil || claims.IssuedAt == nil {
		return false
	}
	return claims.IssuedAt.Time.Before(*user.PasswordChangedAt)
}

// enrichFromSession attaches the session's CSRF token, minting one on
// first use, and touches the session. Both steps are opportunistic: a
// cache miss or outage never fails the request under the lax policy.
// It reports whether the session record is still live.
func (e *Engine) enrichFromSession(ctx context.Context, id *Identity) bool {
	if id.SessionID == "" {
		return false
	}

	rec, err := e.sessionRecord(ctx, id.SessionID)
	if err != nil {
		return false
	}

	if rec.CSRFToken == "" {
		tok, err := csrf.Issue()
		if err == nil {
			cctx, cancel := e.cacheCtx(ctx)
			if err := e.sessions.SetCSRF(cctx, id.SessionID, tok); err == nil {
				rec.CSRFToken = tok
			}
			cancel()
		}
	}
	id.CSRFToken = rec.CSRFToken

	cctx, cancel := e.cacheCtx(ctx)
	if err := e.sessions.Touch(cctx, id.SessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		e.log.Debug("session touch failed", zap.String("session_id", id.SessionID), zap.Error(err))
	}
	cancel()
	return true
}

func (e *Engine) sessionRecord(ctx context.Context, sessionID string) (*session.Record, error) {
	cctx, cancel := e.cacheCtx(ctx)
	defer cancel()
	return e.sessions.Get(cctx, sessionID)
}

// VerifyCSRF compares a client-supplied token against the one bound to
// the authenticated session, in constant time.
func (e *Engine) VerifyCSRF(id *Identity, candidate string) error {
	if id == nil || id.CSRFToken == "" || !csrf.Verify(candidate, id.CSRFToken) {
		return ErrCSRFInvalid
	}
	return nil
}

func classifyTokenErr(err error) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}
