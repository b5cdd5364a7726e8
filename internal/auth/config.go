package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/trailversedev/trailverse/internal/audit"
	"github.com/trailversedev/trailverse/internal/lockout"
	"github.com/trailversedev/trailverse/internal/password"
	"github.com/trailversedev/trailverse/internal/ratelimit"
	"github.com/trailversedev/trailverse/internal/session"
	"github.com/trailversedev/trailverse/internal/token"
)

// RevocationConfig tunes how revocation checks behave when the cache is
// unreachable.
type RevocationConfig struct {
	// FailOpen treats an unanswerable blacklist or version-counter
	// lookup as "not revoked". Default is fail closed: the token is
	// rejected. This is a deployment trade-off between availability and
	// the chance of honoring a just-revoked token during an outage.
	FailOpen bool
}

// Config aggregates the settings of every auth component. Zero values
// are filled in by Default; construct from it and override.
type Config struct {
	Token      token.Config
	Session    session.Config
	RateLimit  ratelimit.Config
	Lockout    lockout.Config
	Password   password.Config
	Revocation RevocationConfig
	Audit      audit.Config

	// StrictSessions makes a missing session record fatal during token
	// verification. Off by default: the token is self-contained and the
	// session is an audit layer, not a second gate.
	StrictSessions bool

	// CacheTimeout bounds each cache round trip so no request blocks on
	// a slow cache indefinitely.
	CacheTimeout time.Duration
}

// Default returns a runnable configuration minus the signing secrets,
// which have no safe default and must come from the environment.
func Default() Config {
	return Config{
		Token: token.Config{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "trailverse",
			Leeway:     30 * time.Second,
		},
		Session: session.Config{
			TTL:              time.Hour,
			AbsoluteLifetime: 24 * time.Hour,
		},
		RateLimit: ratelimit.Config{
			Policies: map[ratelimit.Scope]ratelimit.Policy{
				ratelimit.ScopeIP:   {Max: 100, Window: 15 * time.Minute},
				ratelimit.ScopeUser: {Max: 300, Window: 15 * time.Minute},
			},
		},
		Lockout: lockout.Config{
			MaxAttempts:  5,
			LockDuration: 30 * time.Minute,
			ResetWindow:  24 * time.Hour,
		},
		Password:     password.DefaultConfig(),
		CacheTimeout: 250 * time.Millisecond,
	}
}

// Validate rejects configurations the engine cannot run with. Token
// secret checks live in token.NewCodec; this covers the rest.
func (c Config) Validate() error {
	if c.CacheTimeout <= 0 {
		return errors.New("auth: CacheTimeout must be positive")
	}
	if c.Session.TTL <= 0 {
		return errors.New("auth: session TTL must be positive")
	}
	if c.Lockout.MaxAttempts < 0 {
		return errors.New("auth: lockout MaxAttempts cannot be negative")
	}
	for scope, policy := range c.RateLimit.Policies {
		if policy.Max > 0 && policy.Window <= 0 {
			return fmt.Errorf("auth: rate limit window for scope %q must be positive", scope)
		}
	}
	return nil
}
