package main

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/trailversedev/trailverse/internal/auth"
	"github.com/trailversedev/trailverse/internal/lockout"
	"github.com/trailversedev/trailverse/internal/ratelimit"
)

// serverConfig is the env-supplied deployment configuration. Every key
// maps to a TRAILVERSE_* environment variable, dots becoming
// underscores (e.g. TRAILVERSE_REDIS_ADDR).
type serverConfig struct {
	ListenAddr    string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	SecureCookies bool
	Auth          auth.Config
}

func loadConfig() (*serverConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("TRAILVERSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen.addr", ":8080")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("cookies.secure", true)

	v.SetDefault("token.access_ttl", "15m")
	v.SetDefault("token.refresh_ttl", "168h")
	v.SetDefault("token.issuer", "trailverse")
	v.SetDefault("session.ttl", "1h")
	v.SetDefault("session.absolute_lifetime", "24h")
	v.SetDefault("session.strict", false)
	v.SetDefault("ratelimit.ip.max", 100)
	v.SetDefault("ratelimit.ip.window", "15m")
	v.SetDefault("ratelimit.user.max", 300)
	v.SetDefault("ratelimit.user.window", "15m")
	v.SetDefault("lockout.max_attempts", 5)
	v.SetDefault("lockout.duration", "30m")
	v.SetDefault("lockout.reset_window", "24h")
	v.SetDefault("revocation.fail_open", false)
	v.SetDefault("cache.timeout", "250ms")
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.buffer", 1024)

	cfg := &serverConfig{
		ListenAddr:    v.GetString("listen.addr"),
		DatabaseURL:   v.GetString("database.url"),
		RedisAddr:     v.GetString("redis.addr"),
		RedisPassword: v.GetString("redis.password"),
		SecureCookies: v.GetBool("cookies.secure"),
		Auth:          auth.Default(),
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("TRAILVERSE_DATABASE_URL is required")
	}

	// The signing secrets have no defaults on purpose.
	cfg.Auth.Token.AccessSecret = []byte(v.GetString("token.access_secret"))
	cfg.Auth.Token.RefreshSecret = []byte(v.GetString("token.refresh_secret"))
	cfg.Auth.Token.AccessTTL = v.GetDuration("token.access_ttl")
	cfg.Auth.Token.RefreshTTL = v.GetDuration("token.refresh_ttl")
	cfg.Auth.Token.Issuer = v.GetString("token.issuer")

	cfg.Auth.Session.TTL = v.GetDuration("session.ttl")
	cfg.Auth.Session.AbsoluteLifetime = v.GetDuration("session.absolute_lifetime")
	cfg.Auth.StrictSessions = v.GetBool("session.strict")

	cfg.Auth.RateLimit = ratelimit.Config{
		Policies: map[ratelimit.Scope]ratelimit.Policy{
			ratelimit.ScopeIP: {
				Max:    v.GetInt("ratelimit.ip.max"),
				Window: v.GetDuration("ratelimit.ip.window"),
			},
			ratelimit.ScopeUser: {
				Max:    v.GetInt("ratelimit.user.max"),
				Window: v.GetDuration("ratelimit.user.window"),
			},
		},
	}
	cfg.Auth.Lockout = lockout.Config{
		MaxAttempts:  v.GetInt("lockout.max_attempts"),
		LockDuration: v.GetDuration("lockout.duration"),
		ResetWindow:  v.GetDuration("lockout.reset_window"),
	}
	cfg.Auth.Revocation.FailOpen = v.GetBool("revocation.fail_open")
	cfg.Auth.CacheTimeout = v.GetDuration("cache.timeout")
	cfg.Auth.Audit.Enabled = v.GetBool("audit.enabled")
	cfg.Auth.Audit.BufferSize = v.GetInt("audit.buffer")
	cfg.Auth.Audit.DropIfFull = true

	if cfg.Auth.CacheTimeout <= 0 {
		cfg.Auth.CacheTimeout = 250 * time.Millisecond
	}
	return cfg, nil
}
