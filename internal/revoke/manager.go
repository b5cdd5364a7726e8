// Package revoke invalidates issued tokens. Bulk revocation uses a per-user
// monotonic version counter: every token embeds the counter value current at
// issuance and verification rejects any token whose value is behind the live
// counter, so revoking everything a user holds is a single INCR. Discrete
// single-token revocation (logout) uses a self-expiring blacklist.
package revoke

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheUnavailable wraps transport-level Redis failures.
var ErrCacheUnavailable = errors.New("revocation cache unavailable")

// Manager tracks token versions and the token blacklist.
type Manager struct {
	redis redis.UniversalClient
}

// NewManager creates a revocation Manager backed by the given Redis client.
func NewManager(client redis.UniversalClient) *Manager {
	return &Manager{redis: client}
}

func versionKey(userID string) string { return "tv:" + userID }

func blacklistKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "bl:" + hex.EncodeToString(sum[:])
}

// BumpVersion atomically advances the user's token version, invalidating
// every previously issued token in O(1) regardless of how many exist.
func (m *Manager) BumpVersion(ctx context.Context, userID string) (int64, error) {
	v, err := m.redis.Incr(ctx, versionKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return v, nil
}

// Version returns the live token version for a user. A user who has never
// been revoked has version zero.
func (m *Manager) Version(ctx context.Context, userID string) (int64, error) {
	v, err := m.redis.Get(ctx, versionKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return v, nil
}

// Blacklist marks a single token as revoked for its remaining lifetime.
// The entry self-expires exactly when the token would have expired anyway,
// which bounds the blacklist size. A non-positive TTL is a no-op: the token
// is already dead.
func (m *Manager) Blacklist(ctx context.Context, tokenStr string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := m.redis.Set(ctx, blacklistKey(tokenStr), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// IsBlacklisted reports whether a token has been individually revoked.
// O(1); called before signature verification as a cheap rejection path.
// The fail-open/fail-closed decision on cache failure belongs to the
// caller, so errors are surfaced rather than swallowed.
func (m *Manager) IsBlacklisted(ctx context.Context, tokenStr string) (bool, error) {
	n, err := m.redis.Exists(ctx, blacklistKey(tokenStr)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return n > 0, nil
}
