// Package ratelimit implements fixed-window request limiting on Redis
// counters. The algorithm accepts a bounded burst at window boundaries in
// exchange for O(1) memory and O(1) per-request cost; deployments needing
// smoother limiting should configure a tighter window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheUnavailable wraps transport-level Redis failures. The limiter
// itself never blocks a request on it: callers receive the error alongside
// an allowing Result so the application fails open by construction.
var ErrCacheUnavailable = errors.New("rate limit cache unavailable")

// Scope selects the identity a counter is keyed by.
type Scope string

const (
	// ScopeIP throttles by client IP address.
	ScopeIP Scope = "ip"
	// ScopeUser throttles by authenticated user ID.
	ScopeUser Scope = "user"
	// ScopeKey throttles by API key.
	ScopeKey Scope = "key"
)

// Policy is the budget for one scope.
type Policy struct {
	Max    int
	Window time.Duration
}

// Config maps each scope to its policy. Scopes without a policy are
// unlimited.
type Config struct {
	Policies map[Scope]Policy
}

// Result carries the quota metadata attached to every limited request.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// Limiter enforces fixed-window limits per scope.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
	now    func() time.Time
}

// New creates a Limiter backed by the given Redis client.
func New(client redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{redis: client, config: cfg, now: time.Now}
}

func (l *Limiter) key(scope Scope, id string, window int64) string {
	return "rl:" + string(scope) + ":" + id + ":" + strconv.FormatInt(window, 10)
}

// Allow counts one request against the scope's window and reports whether
// it is within budget. When Redis is unreachable the request is allowed and
// the error returned for logging: availability of the application must not
// depend on the cache being up.
func (l *Limiter) Allow(ctx context.Context, scope Scope, id string) (Result, error) {
	policy, ok := l.config.Policies[scope]
	if !ok || policy.Max <= 0 || policy.Window <= 0 || id == "" {
		// A policy without a positive window cannot define a counter, so
		// the request passes rather than erroring on every call.
		return Result{Allowed: true}, nil
	}

	windowMs := policy.Window.Milliseconds()
	nowMs := l.now().UnixMilli()
	window := nowMs / windowMs
	reset := time.UnixMilli((window + 1) * windowMs)

	count, err := l.redis.Incr(ctx, l.key(scope, id, window)).Result()
	if err != nil {
		return l.failOpen(policy, reset), fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	// First writer to a window owns its expiry.
	if count == 1 {
		ttl := time.Duration((window+1)*windowMs-nowMs) * time.Millisecond
		if err := l.redis.PExpire(ctx, l.key(scope, id, window), ttl).Err(); err != nil {
			return l.failOpen(policy, reset), fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
	}

	res := Result{
		Limit:     policy.Max,
		Remaining: policy.Max - int(count),
		Reset:     reset,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}

	if count > int64(policy.Max) {
		res.RetryAfter = time.Until(reset)
		return res, nil
	}

	res.Allowed = true
	return res, nil
}

func (l *Limiter) failOpen(policy Policy, reset time.Time) Result {
	return Result{
		Allowed:   true,
		Limit:     policy.Max,
		Remaining: policy.Max,
		Reset:     reset,
	}
}
