// Package token signs and verifies the self-contained access and refresh
// tokens used by the Trailverse auth core. Access and refresh tokens are
// signed with two independent secrets and carry distinct audience claims,
// so one kind can never be verified as the other.
package token

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// AudienceAccess marks a token usable for authenticating requests.
	AudienceAccess = "trailverse:access"
	// AudienceRefresh marks a token usable only to obtain a new pair.
	AudienceRefresh = "trailverse:refresh"

	minSecretLen = 32
	maxLeeway    = 2 * time.Minute
)

var (
	// ErrExpired is returned when a token's signature is valid but its
	// expiry has passed. Callers may silently attempt a refresh.
	ErrExpired = errors.New("token expired")
	// ErrMalformed covers undecodable tokens, bad signatures, wrong
	// algorithms and invalid claims. Always a hard failure.
	ErrMalformed = errors.New("token malformed or signature invalid")
	// ErrAudience is returned when a structurally valid token carries the
	// wrong audience for the requested operation.
	ErrAudience = errors.New("token audience mismatch")
)

// Config holds the codec's signing material and lifetimes.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
}

// Claims is the payload embedded in both token kinds.
type Claims struct {
	UserID       string `json:"uid"`
	Email        string `json:"eml"`
	Role         string `json:"rol"`
	SessionID    string `json:"sid"`
	TokenVersion int64  `json:"tv"`
	jwt.RegisteredClaims
}

// Codec issues and verifies token pairs. It is immutable after construction
// and safe for concurrent use.
type Codec struct {
	config Config
}

// NewCodec validates the signing configuration and returns a ready codec.
// It refuses to start when the two secrets are equal or below the minimum
// length, per the deployment hardening rules.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.AccessSecret) < minSecretLen {
		return nil, fmt.Errorf("access secret must be at least %d bytes", minSecretLen)
	}
	if len(cfg.RefreshSecret) < minSecretLen {
		return nil, fmt.Errorf("refresh secret must be at least %d bytes", minSecretLen)
	}
	if len(cfg.AccessSecret) == len(cfg.RefreshSecret) &&
		subtle.ConstantTimeCompare(cfg.AccessSecret, cfg.RefreshSecret) == 1 {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Codec{config: cfg}, nil
}

// IssueAccess signs a short-lived access token for the given subject.
func (c *Codec) IssueAccess(userID, email, role, sessionID string, version int64) (string, error) {
	return c.issue(userID, email, role, sessionID, version, AudienceAccess, c.config.AccessSecret, c.config.AccessTTL)
}

// IssueRefresh signs a long-lived refresh token for the given subject.
func (c *Codec) IssueRefresh(userID, email, role, sessionID string, version int64) (string, error) {
	return c.issue(userID, email, role, sessionID, version, AudienceRefresh, c.config.RefreshSecret, c.config.RefreshTTL)
}

// ParseAccess verifies an access token and returns its claims.
func (c *Codec) ParseAccess(tokenStr string) (*Claims, error) {
	return c.parse(tokenStr, AudienceAccess, c.config.AccessSecret)
}

// ParseRefresh verifies a refresh token and returns its claims.
func (c *Codec) ParseRefresh(tokenStr string) (*Claims, error) {
	return c.parse(tokenStr, AudienceRefresh, c.config.RefreshSecret)
}

// AccessTTL reports the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.config.AccessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.config.RefreshTTL }

func (c *Codec) issue(userID, email, role, sessionID string, version int64, audience string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:       userID,
		Email:        email,
		Role:         role,
		SessionID:    sessionID,
		TokenVersion: version,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.config.Issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			// jti keeps two tokens minted in the same second distinct,
			// so blacklisting one never blacklists its sibling.
			ID: uuid.NewString(),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (c *Codec) parse(tokenStr, audience string, secret []byte) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuedAt(),
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}
	return claims, nil
}

// classify collapses jwt library errors into the codec's typed error set so
// callers never see library internals. Audience takes precedence over expiry:
// a token of the wrong kind must be a hard failure, not a refresh hint.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %v", ErrAudience, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
