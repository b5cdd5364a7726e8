// Package session implements the Redis-backed session registry. A session
// record is a cache of identity context for auditing and device listing,
// not a second source of truth: when an entry expires the session is gone
// and no reconciliation with durable storage happens.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when the requested session does not exist
	// or has expired.
	ErrNotFound = errors.New("session not found")
	// ErrCacheUnavailable wraps transport-level Redis failures.
	ErrCacheUnavailable = errors.New("session cache unavailable")
)

const sessionIDSize = 16

// Record tracks human-facing metadata about a login.
type Record struct {
	SessionID      string    `json:"sid"`
	UserID         string    `json:"uid"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	IP             string    `json:"ip,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	CSRFToken      string    `json:"csrf,omitempty"`
}

// Config controls session lifetimes.
type Config struct {
	// TTL is the sliding expiration applied on create and touch.
	TTL time.Duration
	// AbsoluteLifetime caps how long a session may live regardless of
	// activity. Zero disables the cap.
	AbsoluteLifetime time.Duration
}

// Store persists session records in Redis under a per-user index so that
// all sessions of a user can be listed and destroyed in one call.
type Store struct {
	redis  redis.UniversalClient
	config Config
}

// NewStore creates a session Store backed by the given Redis client.
func NewStore(client redis.UniversalClient, cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &Store{redis: client, config: cfg}
}

// NewID returns a cryptographically random, unguessable session identifier.
func NewID() (string, error) {
	var raw [sessionIDSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func (s *Store) key(sessionID string) string { return "ts:" + sessionID }

func (s *Store) userKey(userID string) string { return "tu:" + userID }

// Create persists a new record under rec.SessionID and indexes it by user.
func (s *Store) Create(ctx context.Context, rec *Record) error {
	if rec.SessionID == "" || rec.UserID == "" {
		return errors.New("session record requires SessionID and UserID")
	}

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastAccessedAt.IsZero() {
		rec.LastAccessedAt = now
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(rec.SessionID), data, s.config.TTL)
		pipe.SAdd(ctx, s.userKey(rec.UserID), rec.SessionID)
		pipe.Expire(ctx, s.userKey(rec.UserID), s.indexTTL())
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Get retrieves a session without mutating its TTL.
func (s *Store) Get(ctx context.Context, sessionID string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt session record: %w", err)
	}
	return &rec, nil
}

// Touch rewrites LastAccessedAt and resets the sliding TTL, capped by the
// absolute lifetime measured from CreatedAt. A session past its absolute
// lifetime is deleted and reported as not found.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	rec, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	now := time.Now()
	ttl := s.config.TTL
	if s.config.AbsoluteLifetime > 0 {
		remaining := rec.CreatedAt.Add(s.config.AbsoluteLifetime).Sub(now)
		if remaining <= 0 {
			_ = s.Destroy(ctx, sessionID)
			return ErrNotFound
		}
		if remaining < ttl {
			ttl = remaining
		}
	}

	rec.LastAccessedAt = now
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(sessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// SetCSRF binds an anti-forgery token to the session, preserving its TTL.
func (s *Store) SetCSRF(ctx context.Context, sessionID, csrfToken string) error {
	rec, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	rec.CSRFToken = csrfToken
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(sessionID), data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Destroy removes a session. Destroying an absent session is a no-op.
func (s *Store) Destroy(ctx context.Context, sessionID string) error {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		// Corrupt blob: still delete the key itself.
		if delErr := s.redis.Del(ctx, s.key(sessionID)).Err(); delErr != nil {
			return fmt.Errorf("%w: %v", ErrCacheUnavailable, delErr)
		}
		return nil
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(sessionID))
		pipe.SRem(ctx, s.userKey(rec.UserID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// DestroyAllForUser removes all sessions tracked for a user.
//
// Not fully atomic: a session created between the index read and the delete
// survives this call. The window is narrow and the stray session expires
// naturally; bulk revocation correctness comes from the token-version
// counter, not from this cleanup.
func (s *Store) DestroyAllForUser(ctx context.Context, userID string) error {
	sessionIDs, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	keys := make([]string, 0, len(sessionIDs)+1)
	for _, id := range sessionIDs {
		keys = append(keys, s.key(id))
	}
	keys = append(keys, s.userKey(userID))

	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// ListForUser returns all live sessions for a user, pruning index entries
// whose records have already expired.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Record, error) {
	sessionIDs, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	records := make([]*Record, 0, len(sessionIDs))
	var stale []interface{}
	for _, id := range sessionIDs {
		rec, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				stale = append(stale, id)
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, s.userKey(userID), stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
	}
	return records, nil
}

// indexTTL keeps the per-user index alive at least as long as any session
// it can reference.
func (s *Store) indexTTL() time.Duration {
	if s.config.AbsoluteLifetime > s.config.TTL {
		return s.config.AbsoluteLifetime
	}
	return s.config.TTL
}
