// Package lockout tracks consecutive failed authentication attempts per
// identifier (normalized email or IP) and enforces a timed lockout once a
// threshold is reached. The check runs before any password comparison, so
// hashing work is never wasted on a locked identifier and response timing
// gives no signal distinguishing "wrong password" from "locked out".
package lockout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheUnavailable wraps transport-level Redis failures.
var ErrCacheUnavailable = errors.New("lockout cache unavailable")

const (
	fieldAttempts = "attempts"
	fieldLast     = "last"
	fieldLocked   = "locked"
	fieldUntil    = "until"
)

// LockedError reports an active lockout and when it expires.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("locked out until %s", e.Until.Format(time.RFC3339))
}

// RetryAfter returns the remaining wait, never negative.
func (e *LockedError) RetryAfter() time.Duration {
	d := time.Until(e.Until)
	if d < 0 {
		return 0
	}
	return d
}

// Config holds the lockout thresholds.
type Config struct {
	// MaxAttempts is the number of consecutive failures that triggers a
	// lockout. Default 5.
	MaxAttempts int
	// LockDuration is how long a triggered lockout lasts. Default 30m.
	LockDuration time.Duration
	// ResetWindow expires abandoned attempt counters even without a
	// successful login. Default 24h.
	ResetWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.LockDuration <= 0 {
		c.LockDuration = 30 * time.Minute
	}
	if c.ResetWindow <= 0 {
		c.ResetWindow = 24 * time.Hour
	}
	return c
}

// Guard persists per-identifier attempt records in Redis hashes.
type Guard struct {
	redis  redis.UniversalClient
	config Config
}

// NewGuard creates a lockout Guard backed by the given Redis client.
func NewGuard(client redis.UniversalClient, cfg Config) *Guard {
	return &Guard{redis: client, config: cfg.withDefaults()}
}

func key(identifier string) string { return "lo:" + identifier }

// Check rejects immediately when the identifier is locked and the lockout
// has not expired, returning a LockedError carrying the remaining wait.
// It must run before credentials are compared.
func (g *Guard) Check(ctx context.Context, identifier string) error {
	fields, err := g.redis.HGetAll(ctx, key(identifier)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if len(fields) == 0 || fields[fieldLocked] != "1" {
		return nil
	}

	until, err := strconv.ParseInt(fields[fieldUntil], 10, 64)
	if err != nil {
		return nil
	}
	expires := time.UnixMilli(until)
	if time.Now().Before(expires) {
		return &LockedError{Until: expires}
	}
	// Lockout elapsed; the stale record clears on the next success.
	return nil
}

// RecordFailure increments the attempt counter and, at the threshold, marks
// the identifier locked. It reports whether this failure triggered a lock.
func (g *Guard) RecordFailure(ctx context.Context, identifier string) (bool, error) {
	k := key(identifier)
	now := time.Now()

	attempts, err := g.redis.HIncrBy(ctx, k, fieldAttempts, 1).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if err := g.redis.HSet(ctx, k, fieldLast, now.Unix()).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if attempts == 1 {
		// Reset window keeps abandoned counters from lingering forever.
		if err := g.redis.Expire(ctx, k, g.config.ResetWindow).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
	}

	if attempts < int64(g.config.MaxAttempts) {
		return false, nil
	}

	// Millisecond precision so short lock durations never truncate away.
	until := now.Add(g.config.LockDuration)
	if err := g.redis.HSet(ctx, k, fieldLocked, 1, fieldUntil, until.UnixMilli()).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return true, nil
}

// Clear deletes the attempt record after a successful authentication.
func (g *Guard) Clear(ctx context.Context, identifier string) error {
	if err := g.redis.Del(ctx, key(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Attempts returns the current failure count for an identifier. Missing
// records report zero and do not reveal account existence.
func (g *Guard) Attempts(ctx context.Context, identifier string) (int, error) {
	n, err := g.redis.HGet(ctx, key(identifier), fieldAttempts).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return int(n), nil
}
