package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trailversedev/trailverse/internal/audit"
	"github.com/trailversedev/trailverse/internal/csrf"
	"github.com/trailversedev/trailverse/internal/lockout"
	"github.com/trailversedev/trailverse/internal/password"
	"github.com/trailversedev/trailverse/internal/session"
	"github.com/trailversedev/trailverse/internal/store"
)

// Register creates an account and logs it in, returning a fresh token
// pair. New accounts always start as USER; role elevation is an admin
// operation, never client input.
func (e *Engine) Register(ctx context.Context, email, plaintext string) (*LoginResult, error) {
	email = store.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(plaintext)
	if errors.Is(err, password.ErrPasswordTooShort) {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err != nil {
		return nil, err
	}

	user := &store.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         store.RoleUser,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.users.Create(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, ErrStoreUnavailable
	}

	res, err := e.establishSession(ctx, user)
	if err != nil {
		return nil, err
	}

	e.emit(ctx, audit.Event{
		Action:  audit.ActionRegister,
		UserID:  user.ID.String(),
		Email:   user.Email,
		Success: true,
	})
	return res, nil
}

// Login authenticates credentials and returns a fresh token pair. The
// lockout check runs before any password comparison so a locked account
// costs no hashing work and leaks no timing signal about the password.
func (e *Engine) Login(ctx context.Context, email, plaintext string) (*LoginResult, error) {
	email = store.NormalizeEmail(email)

	cctx, cancel := e.cacheCtx(ctx)
	err := e.lockouts.Check(cctx, email)
	cancel()
	if err != nil {
		var locked *lockout.LockedError
		if errors.As(err, &locked) {
			e.emit(ctx, audit.Event{
				Action: audit.ActionLogin, Email: email,
				Success: false, Error: "account locked",
			})
			return nil, &LockedError{Until: locked.Until}
		}
		// Lockout state unknown: let the attempt through rather than
		// locking everyone out with the cache.
		e.log.Warn("lockout check failed, proceeding open", zap.Error(err))
	}

	user, err := e.users.FindByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		// Burn a failure on the identifier anyway so unknown emails are
		// indistinguishable from wrong passwords.
		return nil, e.failedAttempt(ctx, email)
	}
	if err != nil {
		return nil, ErrStoreUnavailable
	}

	ok, err := e.hasher.Verify(plaintext, user.PasswordHash)
	if err != nil || !ok {
		return nil, e.failedAttempt(ctx, email)
	}

	// Disabled status is disclosed only to a caller holding the correct
	// credential; everyone else sees invalid credentials.
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	cctx, cancel = e.cacheCtx(ctx)
	if err := e.lockouts.Clear(cctx, email); err != nil {
		e.log.Warn("lockout clear failed", zap.String("email", email), zap.Error(err))
	}
	cancel()

	now := time.Now().UTC()
	if err := e.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		e.log.Warn("last login update failed", zap.String("user_id", user.ID.String()), zap.Error(err))
	} else {
		user.LastLoginAt = &now
	}

	res, err := e.establishSession(ctx, user)
	if err != nil {
		return nil, err
	}

	e.emit(ctx, audit.Event{
		Action:    audit.ActionLogin,
		UserID:    user.ID.String(),
		Email:     user.Email,
		SessionID: res.SessionID,
		Success:   true,
	})
	return res, nil
}

// failedAttempt records a lockout failure and collapses the cause into
// ErrInvalidCredentials.
func (e *Engine) failedAttempt(ctx context.Context, email string) error {
	cctx, cancel := e.cacheCtx(ctx)
	nowLocked, err := e.lockouts.RecordFailure(cctx, email)
	cancel()
	if err != nil {
		e.log.Warn("lockout record failed", zap.String("email", email), zap.Error(err))
	}

	e.emit(ctx, audit.Event{
		Action: audit.ActionLogin, Email: email,
		Success: false, Error: "invalid credentials",
	})
	if nowLocked {
		e.emit(ctx, audit.Event{
			Action: audit.ActionLockout, Email: email, Success: true,
		})
	}
	// The attempt that trips the lock still reads as bad credentials;
	// only the next one sees the lockout.
	return ErrInvalidCredentials
}

// Refresh exchanges a valid refresh token for a new pair. The old
// refresh token is blacklisted for its remaining lifetime so each one
// is single-use.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if refreshToken == "" {
		return nil, ErrTokenMissing
	}

	cctx, cancel := e.cacheCtx(ctx)
	blacklisted, err := e.revoker.IsBlacklisted(cctx, refreshToken)
	cancel()
	if err != nil {
		if !e.config.Revocation.FailOpen {
			return nil, ErrTokenRevoked
		}
		e.log.Warn("blacklist lookup failed, proceeding open", zap.Error(err))
	} else if blacklisted {
		return nil, ErrTokenRevoked
	}

	claims, err := e.codec.ParseRefresh(refreshToken)
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

	cctx, cancel = e.cacheCtx(ctx)
	err = e.sessions.Touch(cctx, claims.SessionID)
	cancel()
	switch {
	case errors.Is(err, session.ErrNotFound):
		if e.config.StrictSessions {
			return nil, ErrTokenRevoked
		}
		// An expired record would leave the login without a CSRF
		// binding until re-login, so the refresh rebuilds it.
		if err := e.reviveSession(ctx, user, claims.SessionID); err != nil {
			e.log.Warn("session rebuild failed",
				zap.String("session_id", claims.SessionID), zap.Error(err))
		}
	case err != nil:
		e.log.Debug("session touch failed", zap.Error(err))
	}

	// Rotate: the presented token dies now, not at its natural expiry.
	if claims.ExpiresAt != nil {
		cctx, cancel := e.cacheCtx(ctx)
		if err := e.revoker.Blacklist(cctx, refreshToken, time.Until(claims.ExpiresAt.Time)); err != nil {
			e.log.Warn("refresh token blacklist failed", zap.Error(err))
		}
		cancel()
	}

	pair, err := e.issuePair(user, claims.SessionID, claims.TokenVersion)
	if err != nil {
		return nil, err
	}

	e.emit(ctx, audit.Event{
		Action:    audit.ActionRefresh,
		UserID:    user.ID.String(),
		Email:     user.Email,
		SessionID: claims.SessionID,
		Success:   true,
	})
	return &LoginResult{User: user, Tokens: pair, SessionID: claims.SessionID}, nil
}

// Logout kills a single login: the access token is blacklisted for its
// remaining lifetime, the refresh token likewise when supplied, and the
// session record is destroyed. Other logins of the same user survive.
func (e *Engine) Logout(ctx context.Context, accessToken, refreshToken string) error {
	claims, err := e.codec.ParseAccess(accessToken)
	if err != nil {
		return classifyTokenErr(err)
	}

	e.blacklistRemaining(ctx, accessToken, claims.ExpiresAt)
	if refreshToken != "" {
		if rc, err := e.codec.ParseRefresh(refreshToken); err == nil {
			e.blacklistRemaining(ctx, refreshToken, rc.ExpiresAt)
		}
	}

	cctx, cancel := e.cacheCtx(ctx)
	if err := e.sessions.Destroy(cctx, claims.SessionID); err != nil {
		e.log.Warn("session destroy failed", zap.String("session_id", claims.SessionID), zap.Error(err))
	}
	cancel()

	e.emit(ctx, audit.Event{
		Action:    audit.ActionLogout,
		UserID:    claims.UserID,
		Email:     claims.Email,
		SessionID: claims.SessionID,
		Success:   true,
	})
	return nil
}

// LogoutAll revokes every outstanding token for the user by advancing
// the version counter, then clears the session registry. The counter
// bump alone is sufficient for correctness; session cleanup is hygiene.
func (e *Engine) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	cctx, cancel := e.cacheCtx(ctx)
	_, err := e.revoker.BumpVersion(cctx, userID.String())
	cancel()
	if err != nil {
		return ErrStoreUnavailable
	}

	cctx, cancel = e.cacheCtx(ctx)
	if err := e.sessions.DestroyAllForUser(cctx, userID.String()); err != nil {
		e.log.Warn("session sweep failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
	cancel()

	e.emit(ctx, audit.Event{
		Action:  audit.ActionLogoutAll,
		UserID:  userID.String(),
		Success: true,
	})
	return nil
}

func (e *Engine) blacklistRemaining(ctx context.Context, tokenStr string, exp *jwt.NumericDate) {
	if exp == nil {
		return
	}
	cctx, cancel := e.cacheCtx(ctx)
	defer cancel()
	if err := e.revoker.Blacklist(cctx, tokenStr, time.Until(exp.Time)); err != nil {
		e.log.Warn("token blacklist failed", zap.Error(err))
	}
}

// establishSession creates the session record and issues the pair
// embedding its id and the user's current token version.
func (e *Engine) establishSession(ctx context.Context, user *store.User) (*LoginResult, error) {
	cctx, cancel := e.cacheCtx(ctx)
	version, err := e.revoker.Version(cctx, user.ID.String())
	cancel()
	if err != nil {
		return nil, ErrStoreUnavailable
	}

	sid, err := session.NewID()
	if err != nil {
		return nil, err
	}
	csrfToken, err := csrf.Issue()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &session.Record{
		SessionID:      sid,
		UserID:         user.ID.String(),
		Email:          user.Email,
		Role:           string(user.Role),
		CreatedAt:      now,
		LastAccessedAt: now,
		IP:             clientIPFromContext(ctx),
		UserAgent:      userAgentFromContext(ctx),
		CSRFToken:      csrfToken,
	}
	cctx, cancel = e.cacheCtx(ctx)
	err = e.sessions.Create(cctx, rec)
	cancel()
	if err != nil {
		return nil, ErrStoreUnavailable
	}

	pair, err := e.issuePair(user, sid, version)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: user, Tokens: pair, SessionID: sid}, nil
}

// reviveSession recreates the record for a still-authorized session id
// whose cache entry expired, minting a fresh CSRF token.
func (e *Engine) reviveSession(ctx context.Context, user *store.User, sid string) error {
	csrfToken, err := csrf.Issue()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	rec := &session.Record{
		SessionID:      sid,
		UserID:         user.ID.String(),
		Email:          user.Email,
		Role:           string(user.Role),
		CreatedAt:      now,
		LastAccessedAt: now,
		IP:             clientIPFromContext(ctx),
		UserAgent:      userAgentFromContext(ctx),
		CSRFToken:      csrfToken,
	}
	cctx, cancel := e.cacheCtx(ctx)
	defer cancel()
	return e.sessions.Create(cctx, rec)
}

func (e *Engine) issuePair(user *store.User, sessionID string, version int64) (TokenPair, error) {
	access, err := e.codec.IssueAccess(user.ID.String(), user.Email, string(user.Role), sessionID, version)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := e.codec.IssueRefresh(user.ID.String(), user.Email, string(user.Role), sessionID, version)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func validateEmail(email string) error {
	if email == "" || len(email) > 254 || strings.ContainsAny(email, " \t") {
		return fmt.Errorf("%w: malformed email", ErrValidation)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: malformed email", ErrValidation)
	}
	return nil
}
