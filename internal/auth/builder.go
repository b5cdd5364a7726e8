package auth

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/trailversedev/trailverse/internal/audit"
	"github.com/trailversedev/trailverse/internal/lockout"
	"github.com/trailversedev/trailverse/internal/password"
	"github.com/trailversedev/trailverse/internal/ratelimit"
	"github.com/trailversedev/trailverse/internal/revoke"
	"github.com/trailversedev/trailverse/internal/session"
	"github.com/trailversedev/trailverse/internal/store"
	"github.com/trailversedev/trailverse/internal/token"
)

// Builder assembles an Engine from its collaborators. Nothing is
// reached through globals so multiple independently configured engines
// can coexist in one process.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	users     store.UserStore
	logger    *zap.Logger
	auditSink audit.Sink
	built     bool
}

// New starts a builder with Default configuration. Signing secrets must
// still be supplied via WithConfig.
func New() *Builder {
	return &Builder{config: Default()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserStore(users store.UserStore) *Builder {
	b.users = users
	return b
}

func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.logger = log
	return b
}

func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration and wires the engine. A builder is
// single-use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("auth: builder already used")
	}
	b.built = true

	if b.redis == nil {
		return nil, errors.New("auth: redis client required")
	}
	if b.users == nil {
		return nil, errors.New("auth: user store required")
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	codec, err := token.NewCodec(b.config.Token)
	if err != nil {
		return nil, err
	}
	hasher, err := password.NewHasher(b.config.Password)
	if err != nil {
		return nil, err
	}

	log := b.logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Engine{
		config:   b.config,
		codec:    codec,
		hasher:   hasher,
		sessions: session.NewStore(b.redis, b.config.Session),
		revoker:  revoke.NewManager(b.redis),
		limiter:  ratelimit.New(b.redis, b.config.RateLimit),
		lockouts: lockout.NewGuard(b.redis, b.config.Lockout),
		users:    b.users,
		log:      log,
		auditor:  audit.NewDispatcher(b.config.Audit, b.auditSink),
	}, nil
}
