package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trailversedev/trailverse/internal/audit"
	"github.com/trailversedev/trailverse/internal/password"
	"github.com/trailversedev/trailverse/internal/session"
	"github.com/trailversedev/trailverse/internal/store"
)

// Sessions lists the user's live session records.
func (e *Engine) Sessions(ctx context.Context, userID uuid.UUID) ([]*session.Record, error) {
	cctx, cancel := e.cacheCtx(ctx)
	defer cancel()

	recs, err := e.sessions.ListForUser(cctx, userID.String())
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	return recs, nil
}

// DestroySession revokes one session by id. Only the owner may destroy
// it; an absent record is ErrSessionNotFound so repeated deletes are
// harmless at the HTTP layer.
func (e *Engine) DestroySession(ctx context.Context, userID uuid.UUID, sessionID string) error {
	rec, err := e.sessionRecord(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return ErrStoreUnavailable
	}
	if rec.UserID != userID.String() {
		return ErrForbidden
	}

	cctx, cancel := e.cacheCtx(ctx)
	defer cancel()
	if err := e.sessions.Destroy(cctx, sessionID); err != nil {
		return ErrStoreUnavailable
	}

	e.emit(ctx, audit.Event{
		Action:    audit.ActionSessionRevoke,
		UserID:    userID.String(),
		SessionID: sessionID,
		Success:   true,
	})
	return nil
}

// ChangePassword verifies the current password, stores the new hash,
// and revokes every outstanding token and session. Tokens issued before
// the change fail the passwordChangedAt cutoff even if the version
// counter read races.
func (e *Engine) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	user, err := e.users.FindByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return ErrStoreUnavailable
	}

	ok, err := e.hasher.Verify(current, user.PasswordHash)
	if err != nil || !ok {
		e.emit(ctx, audit.Event{
			Action: audit.ActionPasswordChange, UserID: userID.String(),
			Success: false, Error: "invalid credentials",
		})
		return ErrInvalidCredentials
	}

	if next == current {
		return ErrPasswordReuse
	}
	hash, err := e.hasher.Hash(next)
	if errors.Is(err, password.ErrPasswordTooShort) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err != nil {
		return err
	}

	changedAt := time.Now().UTC()
	if err := e.users.UpdatePassword(ctx, userID, hash, changedAt); err != nil {
		return ErrStoreUnavailable
	}

	cctx, cancel := e.cacheCtx(ctx)
	_, err = e.revoker.BumpVersion(cctx, userID.String())
	cancel()
	if err != nil {
		// The passwordChangedAt cutoff still revokes older tokens.
		e.log.Warn("version bump failed after password change",
			zap.String("user_id", userID.String()), zap.Error(err))
	}

	cctx, cancel = e.cacheCtx(ctx)
	if err := e.sessions.DestroyAllForUser(cctx, userID.String()); err != nil {
		e.log.Warn("session sweep failed after password change",
			zap.String("user_id", userID.String()), zap.Error(err))
	}
	cancel()

	e.emit(ctx, audit.Event{
		Action:  audit.ActionPasswordChange,
		UserID:  userID.String(),
		Email:   user.Email,
		Success: true,
	})
	return nil
}
